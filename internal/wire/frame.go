package wire

import (
	"errors"
	"io"
)

// readExact reads exactly n bytes from r. Both the handshake's fixed frame
// and a message's length-prefixed frame fail the same way when the peer
// hangs up mid-frame, so both ReadFrom implementations route through this
// instead of each re-deriving "not enough bytes" from io.ReadFull's EOF
// variants: a clean io.EOF or a truncated io.ErrUnexpectedEOF both collapse
// to shortErr, any other error (a dead socket, a read timeout) passes
// through unchanged.
func readExact(r io.Reader, n int, shortErr error) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, shortErr
		}
		return nil, err
	}
	return buf, nil
}
