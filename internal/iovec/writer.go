package iovec

import "os"

// WriteVectoredAt writes every buffer in iovecs to f starting at offset,
// retrying until the whole working window has been written or an error
// occurs. Positional writes are not guaranteed to consume the whole input
// in one syscall, so the loop re-issues the write with whatever remains
// after each partial write.
func WriteVectoredAt(f *os.File, iovecs *IoVecs, offset int64) (int, error) {
	total := 0
	for len(iovecs.Buffers()) > 0 {
		n, err := pwritev(f, iovecs.Buffers(), offset)
		if n > 0 {
			iovecs.Advance(n)
			offset += int64(n)
			total += n
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, os.ErrClosed
		}
	}
	return total, nil
}
