// Package iovec provides a positional scatter-gather write primitive used
// by the disk writer: an [IoVecs] is a working window over a list of
// buffers, bounded to at most some byte limit, that is consumed in place as
// partial writes complete, and a [WriteVectoredAt] helper that retries a
// vectored positional write until the whole window has been written.
package iovec

import "fmt"

// IoVecs is a mutable view over a sequence of buffers to be written
// starting at some file offset. Buffers may be taken from it in a bounded
// (at most a given number of bytes) or unbounded (all of them) fashion; a
// buffer that straddles the bound is split so that the unconsumed remainder
// is preserved for a later round via [IoVecs.IntoTail].
type IoVecs struct {
	bufs [][]byte // the bounded working window, consumed by Advance
	tail [][]byte // the portion beyond the bound, if any
}

// Bounded constructs an IoVecs whose working window covers at most limit
// bytes of bufs. If limit falls in the middle of a buffer, that buffer is
// split: its first limit-remaining bytes go into the working window and the
// rest becomes the head of the tail.
func Bounded(bufs [][]byte, limit int) *IoVecs {
	if limit < 0 {
		panic("iovec: negative limit")
	}

	var window [][]byte
	remaining := limit

	for i, b := range bufs {
		if remaining <= 0 {
			return &IoVecs{bufs: window, tail: bufs[i:]}
		}
		if len(b) <= remaining {
			window = append(window, b)
			remaining -= len(b)
			continue
		}

		window = append(window, b[:remaining])
		tail := make([][]byte, 0, len(bufs)-i)
		tail = append(tail, b[remaining:])
		tail = append(tail, bufs[i+1:]...)
		return &IoVecs{bufs: window, tail: tail}
	}

	return &IoVecs{bufs: window}
}

// Unbounded constructs an IoVecs whose working window covers all of bufs,
// leaving no tail.
func Unbounded(bufs [][]byte) *IoVecs {
	return &IoVecs{bufs: bufs}
}

// Buffers returns the current working window. The caller must not retain
// the returned slice across a call to Advance.
func (v *IoVecs) Buffers() [][]byte {
	return v.bufs
}

// Advance consumes n bytes from the front of the working window, dropping
// fully-written buffers and trimming a partially-written one. It panics if
// n exceeds the total length of the working window.
func (v *IoVecs) Advance(n int) {
	if n < 0 {
		panic("iovec: negative advance")
	}

	i := 0
	for n > 0 && i < len(v.bufs) {
		if len(v.bufs[i]) > n {
			v.bufs[i] = v.bufs[i][n:]
			n = 0
			break
		}
		n -= len(v.bufs[i])
		i++
	}
	if n > 0 {
		panic(fmt.Sprintf("iovec: advanced past end of buffers by %d bytes", n))
	}
	v.bufs = v.bufs[i:]
}

// IntoTail returns the buffers beyond the bound passed to [Bounded] (or nil
// for an [Unbounded] set), for use as the buffer list of the next write
// round. It should only be called once the working window has been fully
// consumed.
func (v *IoVecs) IntoTail() [][]byte {
	return v.tail
}
