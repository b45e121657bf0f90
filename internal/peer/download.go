package peer

import "github.com/talonbt/talon/internal/storageinfo"

// blockInfo identifies one block of one piece, exactly as carried in a
// Request/Piece wire message.
type blockInfo struct {
	pieceIndex int
	offset     uint32
	len        uint32
}

// pieceDownload tracks the request/receive status of one in-progress
// piece's blocks, indexed by block-in-piece.
type pieceDownload struct {
	pieceIndex int
	pieceLen   uint32

	requested []bool
	received  []bool
	missing   int
}

func newPieceDownload(pieceIndex int, pieceLen uint32) *pieceDownload {
	count := storageinfo.BlockCount(pieceLen)
	return &pieceDownload{
		pieceIndex: pieceIndex,
		pieceLen:   pieceLen,
		requested:  make([]bool, count),
		received:   make([]bool, count),
		missing:    count,
	}
}

// pickBlocks appends up to n not-yet-requested blocks to out, marking them
// requested.
func (d *pieceDownload) pickBlocks(n int, out *[]blockInfo) {
	if n <= 0 {
		return
	}
	for k := 0; k < len(d.requested) && n > 0; k++ {
		if d.requested[k] {
			continue
		}
		d.requested[k] = true
		*out = append(*out, blockInfo{
			pieceIndex: d.pieceIndex,
			offset:     storageinfo.BlockOffset(k),
			len:        storageinfo.BlockLenAt(d.pieceLen, k),
		})
		n--
	}
}

// resetRequested clears the requested flag on every block not yet received,
// making them eligible for pickBlocks again. Called when the peer chokes
// us: any outstanding requests are discarded by the remote side, so this
// download's blocks must be considered unrequested again once we're
// unchoked, rather than stuck waiting for a response that will never come.
func (d *pieceDownload) resetRequested() {
	for k := range d.requested {
		if !d.received[k] {
			d.requested[k] = false
		}
	}
}

// receivedBlock marks the block at the given offset as received.
func (d *pieceDownload) receivedBlock(offset uint32) {
	k := int(offset / storageinfo.BlockLen)
	if k < 0 || k >= len(d.received) {
		return
	}
	if !d.received[k] {
		d.received[k] = true
		d.missing--
	}
}

func (d *pieceDownload) countMissingBlocks() int {
	return d.missing
}
