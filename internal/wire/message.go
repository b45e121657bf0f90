package wire

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageID identifies a post-handshake message kind.
type MessageID uint8

const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
)

func (mid MessageID) String() string {
	switch mid {
	case Choke:
		return "Choke"
	case Unchoke:
		return "Unchoke"
	case Interested:
		return "Interested"
	case NotInterested:
		return "NotInterested"
	case Have:
		return "Have"
	case Bitfield:
		return "Bitfield"
	case Request:
		return "Request"
	case Piece:
		return "Piece"
	case Cancel:
		return "Cancel"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(mid))
	}
}

// MaxMessageLength bounds the accepted length prefix of a single frame.
// Spec requires accepting at least 16KiB+13 bytes; a generous margin is kept
// above the largest legal Piece payload (8 header bytes + one block).
const MaxMessageLength = 16*1024 + 1024

// Message is a single BitTorrent length-prefixed message. A nil *Message
// denotes a keep-alive frame (length prefix 0, no id byte).
type Message struct {
	ID      MessageID
	Payload []byte
}

var (
	ErrShortMessage    = errors.New("wire: short message")
	ErrBadLengthPrefix = errors.New("wire: invalid length prefix")
	ErrBadPayloadSize  = errors.New("wire: invalid payload size for message")
	ErrMessageTooLarge = errors.New("wire: message exceeds maximum length")
)

var (
	_ encoding.BinaryMarshaler   = (*Message)(nil)
	_ encoding.BinaryUnmarshaler = (*Message)(nil)
	_ io.WriterTo                = (*Message)(nil)
	_ io.ReaderFrom              = (*Message)(nil)
)

// IsKeepAlive reports whether m denotes a keep-alive frame.
func IsKeepAlive(m *Message) bool { return m == nil }

func MessageChoke() *Message         { return &Message{ID: Choke} }
func MessageUnchoke() *Message       { return &Message{ID: Unchoke} }
func MessageInterested() *Message    { return &Message{ID: Interested} }
func MessageNotInterested() *Message { return &Message{ID: NotInterested} }

// MessageHave, MessageRequest, MessagePiece and MessageCancel build their
// payloads by appending each big-endian field in turn rather than indexing
// into a preallocated slice.

func MessageHave(index uint32) *Message {
	return &Message{ID: Have, Payload: binary.BigEndian.AppendUint32(nil, index)}
}

func MessageBitfield(bits []byte) *Message {
	cp := make([]byte, len(bits))
	copy(cp, bits)
	return &Message{ID: Bitfield, Payload: cp}
}

func MessageRequest(index, begin, length uint32) *Message {
	payload := binary.BigEndian.AppendUint32(make([]byte, 0, 12), index)
	payload = binary.BigEndian.AppendUint32(payload, begin)
	payload = binary.BigEndian.AppendUint32(payload, length)
	return &Message{ID: Request, Payload: payload}
}

func MessagePiece(index, begin uint32, block []byte) *Message {
	payload := binary.BigEndian.AppendUint32(make([]byte, 0, 8+len(block)), index)
	payload = binary.BigEndian.AppendUint32(payload, begin)
	payload = append(payload, block...)
	return &Message{ID: Piece, Payload: payload}
}

func MessageCancel(index, begin, length uint32) *Message {
	payload := binary.BigEndian.AppendUint32(make([]byte, 0, 12), index)
	payload = binary.BigEndian.AppendUint32(payload, begin)
	payload = binary.BigEndian.AppendUint32(payload, length)
	return &Message{ID: Cancel, Payload: payload}
}

// ParseHave returns the piece index for a Have message. It shares its
// bounds check with ValidatePayloadSize rather than re-deriving the
// expected payload length.
func (m *Message) ParseHave() (index uint32, ok bool) {
	if m == nil || m.ID != Have || m.ValidatePayloadSize() != nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(m.Payload), true
}

// ParseRequest parses a Request (or Cancel) payload into index, begin and length.
func (m *Message) ParseRequest() (index, begin, length uint32, ok bool) {
	if m == nil || (m.ID != Request && m.ID != Cancel) || m.ValidatePayloadSize() != nil {
		return 0, 0, 0, false
	}
	return binary.BigEndian.Uint32(m.Payload[0:4]),
		binary.BigEndian.Uint32(m.Payload[4:8]),
		binary.BigEndian.Uint32(m.Payload[8:12]),
		true
}

// ParsePiece parses a Piece payload into index, begin and the data block.
// The returned slice aliases m.Payload; callers that retain it across the
// next read must copy it.
func (m *Message) ParsePiece() (index, begin uint32, block []byte, ok bool) {
	if m == nil || m.ID != Piece || m.ValidatePayloadSize() != nil {
		return 0, 0, nil, false
	}
	return binary.BigEndian.Uint32(m.Payload[0:4]),
		binary.BigEndian.Uint32(m.Payload[4:8]),
		m.Payload[8:], true
}

// ValidatePayloadSize rejects malformed fixed-size payloads. It is the
// single source of truth for expected payload length, used both standalone
// and by the ParseXxx accessors above.
func (m *Message) ValidatePayloadSize() error {
	if m == nil {
		return nil
	}

	switch m.ID {
	case Have:
		if len(m.Payload) != 4 {
			return ErrBadPayloadSize
		}
	case Request, Cancel:
		if len(m.Payload) != 12 {
			return ErrBadPayloadSize
		}
	case Piece:
		if len(m.Payload) < 8 {
			return ErrBadPayloadSize
		}
	}
	return nil
}

// MarshalBinary builds the wire frame by appending the length prefix, id
// byte, and payload in turn.
func (m *Message) MarshalBinary() ([]byte, error) {
	if m == nil {
		return []byte{0, 0, 0, 0}, nil
	}

	length := uint32(1 + len(m.Payload))
	buf := binary.BigEndian.AppendUint32(make([]byte, 0, 4+length), length)
	buf = append(buf, byte(m.ID))
	buf = append(buf, m.Payload...)

	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Accepts both
// keep-alive (length 0) and normal frames.
func (m *Message) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return ErrShortMessage
	}

	length := binary.BigEndian.Uint32(b[0:4])
	if length == 0 {
		*m = Message{}
		return nil
	}
	if len(b) < 4+int(length) {
		return ErrShortMessage
	}

	m.ID = MessageID(b[4])
	m.Payload = append(m.Payload[:0], b[5:4+int(length)]...)

	return nil
}

// WriteTo implements io.WriterTo, delegating to MarshalBinary rather than
// re-deriving the frame layout with its own header construction.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	b, err := m.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// ErrKeepAlive is returned by (*Message).ReadFrom when the frame read was a
// keep-alive (zero length prefix, no id byte). Message.ReadFrom cannot
// signal "this was a keep-alive" through its receiver alone — a Choke
// message (id 0, no payload) and a keep-alive both decode to a
// zero-valued Message — so the distinction is carried in the error
// instead. Callers that only care about framed messages should use
// ReadMessage, which turns this into a nil *Message.
var ErrKeepAlive = errors.New("wire: keep-alive frame")

// ReadFrom implements io.ReaderFrom. Both reads (the 4-byte length prefix
// and the length-determined frame body) go through readExact, the same
// helper Handshake.ReadFrom uses, so a peer hanging up mid-frame reports
// ErrShortMessage here just as the handshake reports ErrShortHandshake,
// instead of one surfacing a raw io.EOF.
func (m *Message) ReadFrom(r io.Reader) (int64, error) {
	lp, err := readExact(r, 4, ErrShortMessage)
	if err != nil {
		return 0, err
	}

	length := binary.BigEndian.Uint32(lp)
	if length == 0 {
		*m = Message{}
		return 4, ErrKeepAlive
	}
	if length > MaxMessageLength {
		return 4, ErrMessageTooLarge
	}

	buf, err := readExact(r, int(length), ErrShortMessage)
	if err != nil {
		return int64(4 + length), err
	}
	m.ID = MessageID(buf[0])
	m.Payload = append(m.Payload[:0], buf[1:]...)

	return int64(4 + length), nil
}

// ReadMessage reads one frame from r, returning a nil *Message for a
// keep-alive rather than propagating ErrKeepAlive as an error.
func ReadMessage(r io.Reader) (*Message, error) {
	var m Message
	if _, err := m.ReadFrom(r); err != nil {
		if errors.Is(err, ErrKeepAlive) {
			return nil, nil
		}
		return nil, err
	}

	return &m, nil
}

// WriteMessage writes m to w; a nil m writes a keep-alive frame.
func WriteMessage(w io.Writer, m *Message) error {
	_, err := m.WriteTo(w)
	return err
}
