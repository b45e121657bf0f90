//go:build linux

package iovec

import (
	"os"

	"golang.org/x/sys/unix"
)

// pwritev issues a single positional vectored write syscall.
func pwritev(f *os.File, bufs [][]byte, offset int64) (int, error) {
	n, err := unix.Pwritev(int(f.Fd()), bufs, offset)
	if err != nil {
		return n, err
	}
	return n, nil
}
