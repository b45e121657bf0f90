// Package wire implements the BitTorrent peer wire protocol: the initial
// handshake and the length-prefixed post-handshake message framing.
package wire

import (
	"crypto/sha1"
	"encoding"
	"errors"
	"io"
)

const (
	protocolString = "BitTorrent protocol"
	reservedLen    = 8
)

// handshakeTailLen is the length of everything after pstrlen+pstr: the
// reserved extension bytes, the info hash, and the peer id.
const handshakeTailLen = reservedLen + sha1.Size + sha1.Size

// Handshake is the fixed frame exchanged before any other message:
//
//	<pstrlen:1><pstr:19><reserved:8><info_hash:20><peer_id:20>
type Handshake struct {
	Pstr     string
	Reserved [reservedLen]byte
	InfoHash [sha1.Size]byte
	PeerID   [sha1.Size]byte
}

var (
	ErrProtocolMismatch = errors.New("wire: protocol string mismatch")
	ErrBadPstrlen       = errors.New("wire: invalid protocol string length")
	ErrShortHandshake   = errors.New("wire: short read")
	ErrInfoHashMismatch = errors.New("wire: info hash mismatch")
)

var (
	_ encoding.BinaryMarshaler   = (*Handshake)(nil)
	_ encoding.BinaryUnmarshaler = (*Handshake)(nil)
	_ io.WriterTo                = (*Handshake)(nil)
	_ io.ReaderFrom              = (*Handshake)(nil)
)

// NewHandshake returns a canonical handshake for the given torrent and
// local peer identity, with zeroed reserved bytes.
func NewHandshake(infoHash, peerID [sha1.Size]byte) *Handshake {
	return &Handshake{
		Pstr:     protocolString,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
}

// MarshalBinary encodes the handshake by appending each field to a growing
// buffer instead of computing offsets into a preallocated one.
func (h *Handshake) MarshalBinary() ([]byte, error) {
	if len(h.Pstr) == 0 || len(h.Pstr) > 255 {
		return nil, ErrBadPstrlen
	}

	buf := make([]byte, 0, 1+len(h.Pstr)+handshakeTailLen)
	buf = append(buf, byte(len(h.Pstr)))
	buf = append(buf, h.Pstr...)
	buf = append(buf, h.Reserved[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)

	return buf, nil
}

// UnmarshalBinary parses a handshake from its wire format. It expects b to
// hold exactly one complete frame — ReadFrom only ever calls it that way,
// having already sized its read off the pstrlen byte.
func (h *Handshake) UnmarshalBinary(b []byte) error {
	if len(b) < 1 {
		return ErrShortHandshake
	}
	pstrlen := int(b[0])
	if pstrlen == 0 || pstrlen > 255 {
		return ErrBadPstrlen
	}
	b = b[1:]
	if len(b) != pstrlen+handshakeTailLen {
		return ErrShortHandshake
	}

	h.Pstr, b = string(b[:pstrlen]), b[pstrlen:]
	copy(h.Reserved[:], b[:reservedLen])
	b = b[reservedLen:]
	copy(h.InfoHash[:], b[:sha1.Size])
	b = b[sha1.Size:]
	copy(h.PeerID[:], b[:sha1.Size])

	return nil
}

// WriteTo implements io.WriterTo.
func (h *Handshake) WriteTo(w io.Writer) (int64, error) {
	b, err := h.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// ReadFrom implements io.ReaderFrom. The pstrlen byte determines the
// length of the rest of the frame, so the read happens in two passes: the
// length byte, then the now-known remainder, both going through the same
// readExact helper message.go's ReadFrom also uses, so a peer hanging up
// mid-frame reports the same way in both.
func (h *Handshake) ReadFrom(r io.Reader) (int64, error) {
	hdr, err := readExact(r, 1, ErrShortHandshake)
	if err != nil {
		return 0, err
	}
	pstrlen := int(hdr[0])
	if pstrlen == 0 || pstrlen > 255 {
		return 1, ErrBadPstrlen
	}

	tailLen := pstrlen + handshakeTailLen
	tail, err := readExact(r, tailLen, ErrShortHandshake)
	if err != nil {
		return int64(1 + tailLen), err
	}

	if err := h.UnmarshalBinary(append(hdr, tail...)); err != nil {
		return int64(1 + tailLen), err
	}
	return int64(1 + tailLen), nil
}

// ReadHandshake reads a full handshake from r.
func ReadHandshake(r io.Reader) (Handshake, error) {
	var h Handshake
	_, err := h.ReadFrom(r)
	return h, err
}

// WriteHandshake writes h to w in wire format.
func WriteHandshake(w io.Writer, h Handshake) error {
	_, err := h.WriteTo(w)
	return err
}

// Exchange writes the local handshake to rw, reads the remote one, and
// validates that its protocol string is the literal BitTorrent identifier.
// When verifyInfoHash is set it additionally rejects a mismatched info hash.
func (h Handshake) Exchange(rw io.ReadWriter, verifyInfoHash bool) (peer Handshake, err error) {
	if _, err = (&h).WriteTo(rw); err != nil {
		return Handshake{}, err
	}
	if _, err = (&peer).ReadFrom(rw); err != nil {
		return Handshake{}, err
	}

	if peer.Pstr != protocolString {
		return Handshake{}, ErrProtocolMismatch
	}
	if verifyInfoHash && peer.InfoHash != h.InfoHash {
		return Handshake{}, ErrInfoHashMismatch
	}
	return peer, nil
}
