// Package picker implements a piece picker for a single-seed download: it
// tracks which pieces the one connected peer has, and hands out pieces to
// the caller one at a time. A piece handed out is never reconsidered —
// once picked it is either completed or abandoned by the caller; the
// picker does not track in-flight ownership and will not re-offer a piece
// once it has been picked, even if the download of that piece later fails.
package picker

import "sync"

// Picker tracks picking state for a single torrent download.
type Picker struct {
	mu sync.RWMutex

	pieceCount int
	available  []bool // pieces the peer advertised as having
	picked     []bool // pieces already handed out via PickPiece
	have       []bool // pieces fully received and verified

	remaining int // pieces not yet received (HaveCount is pieceCount - remaining)
}

// New creates a picker for a torrent with the given piece count.
func New(pieceCount int) *Picker {
	return &Picker{
		pieceCount: pieceCount,
		available:  make([]bool, pieceCount),
		picked:     make([]bool, pieceCount),
		have:       make([]bool, pieceCount),
		remaining:  pieceCount,
	}
}

// RegisterAvailability records that the peer has the given piece index,
// making it eligible for picking if not already picked or had.
func (p *Picker) RegisterAvailability(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= p.pieceCount {
		return
	}
	p.available[index] = true
}

// RegisterBitfield records availability for every set bit in bits, up to
// pieceCount bits.
func (p *Picker) RegisterBitfield(bits func(i int) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.pieceCount; i++ {
		if bits(i) {
			p.available[i] = true
		}
	}
}

// PickPiece claims and returns the index of an available, not-yet-picked,
// not-yet-had piece. It returns (0, false) if no such piece exists. Once
// returned, the index is never offered again by this picker instance —
// there is no release-on-failure path; a caller that abandons a picked
// piece must track that itself if it wants to retry within the same
// session (not supported against a single seed, since there is only ever
// one source for a piece).
func (p *Picker) PickPiece() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.pieceCount; i++ {
		if p.available[i] && !p.picked[i] && !p.have[i] {
			p.picked[i] = true
			return i, true
		}
	}
	return 0, false
}

// ReceivedPiece marks index as fully downloaded and hash-verified.
func (p *Picker) ReceivedPiece(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= p.pieceCount {
		return
	}
	if !p.have[index] {
		p.have[index] = true
		p.remaining--
	}
	p.picked[index] = true
}

// HaveCount returns the number of pieces fully received so far.
func (p *Picker) HaveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pieceCount - p.remaining
}

// Done reports whether every piece has been received.
func (p *Picker) Done() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remaining == 0
}

// HavePiece reports whether index has already been received.
func (p *Picker) HavePiece(index int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if index < 0 || index >= p.pieceCount {
		return false
	}
	return p.have[index]
}
