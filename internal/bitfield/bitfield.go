// Package bitfield implements the compact piece-availability bitset carried
// on the wire by a Bitfield message: bits are stored MSB-first within each
// byte, bit i corresponds to piece i, and the field is right-padded to a
// byte boundary. This client only ever downloads from full seeds, so the
// surface is limited to what a one-way leecher needs: build one to send,
// decode one received from a peer, and check it against a piece count.
package bitfield

// Bitfield is a fixed-size bitset with MSB-first bit ordering.
type Bitfield []byte

// New returns a zeroed bitfield able to hold nbits bits.
func New(nbits int) Bitfield {
	if nbits <= 0 {
		return nil
	}

	return make(Bitfield, (nbits+7)/8)
}

// FromBytes returns a new Bitfield that copies b, as received in a peer's
// Bitfield message.
func FromBytes(b []byte) Bitfield {
	return append(Bitfield(nil), b...)
}

// Bytes returns a copy of the underlying bytes, ready to wrap in a
// Bitfield message.
func (bf Bitfield) Bytes() []byte {
	return append([]byte(nil), bf...)
}

// Len returns the number of addressable bits, i.e. 8 times the byte length.
//
// Note this may exceed the logical piece count: the wire format right-pads
// to a byte boundary, and callers that need the exact piece count must
// compare against it separately, as AllWithin does.
func (bf Bitfield) Len() int { return len(bf) * 8 }

// Has reports whether bit at index is set. Returns false if index is out of
// range.
func (bf Bitfield) Has(index int) bool {
	if index < 0 || index >= bf.Len() {
		return false
	}

	byteIndex, off := index/8, 7-(index%8)
	return (bf[byteIndex]>>off)&1 == 1
}

// Set sets bit at index. It returns true if the bit was changed, false if
// out-of-range or already set.
func (bf Bitfield) Set(index int) bool {
	if index < 0 || index >= bf.Len() {
		return false
	}

	byteIndex, off := index/8, 7-(index%8)
	mask := byte(1 << off)
	old := bf[byteIndex]
	bf[byteIndex] = old | mask

	return old&mask == 0
}

// AllWithin reports whether every bit in [0, n) is set. This is the only
// completeness check this client needs: a peer that doesn't have every
// piece in [0, n) isn't a seed, and this scope only downloads from seeds.
func (bf Bitfield) AllWithin(n int) bool {
	if n <= 0 {
		return false
	}
	for i := 0; i < n; i++ {
		if !bf.Has(i) {
			return false
		}
	}
	return true
}
