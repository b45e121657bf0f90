package peer

import (
	"context"
	"errors"
	"fmt"

	"github.com/talonbt/talon/internal/disk"
	"github.com/talonbt/talon/internal/wire"
)

var errBadPiecePayload = errors.New("peer: malformed piece payload")

// readLoop blocks reading frames off the connection and dispatches each to
// handleMessage until the connection closes or a fatal protocol error
// occurs.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		msg, err := wire.ReadMessage(s.conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("peer: read: %w", err)
		}
		if wire.IsKeepAlive(msg) {
			continue
		}

		s.recordReceived(msg)
		if err := s.handleMessage(msg); err != nil {
			return err
		}
	}
}

// handleMessage dispatches one post-handshake message per the connected-state
// table: Choke/Unchoke toggle the request pipeline, Interested/NotInterested
// just update peer-interest bookkeeping, Bitfield here is a protocol
// violation (it may only appear once, immediately after the handshake),
// Have/Request/Cancel are logged and ignored since this session never seeds,
// and Piece drives the block-receive path.
func (s *Session) handleMessage(msg *wire.Message) error {
	switch msg.ID {
	case wire.Choke:
		s.mu.Lock()
		s.status.IsChoked = true
		// Discard our outstanding requests: the peer won't answer them now
		// that it has choked us, and each owning download must consider
		// those blocks unrequested again so a later unchoke resumes the
		// same in-progress pieces instead of stalling.
		s.outgoingRequests = s.outgoingRequests[:0]
		for _, d := range s.downloads {
			d.resetRequested()
		}
		s.mu.Unlock()
		return nil

	case wire.Unchoke:
		s.mu.Lock()
		s.status.IsChoked = false
		s.mu.Unlock()
		return s.makeRequests()

	case wire.Interested:
		s.mu.Lock()
		s.status.IsPeerInterested = true
		s.mu.Unlock()
		return nil

	case wire.NotInterested:
		s.mu.Lock()
		s.status.IsPeerInterested = false
		s.mu.Unlock()
		return nil

	case wire.Bitfield:
		return ErrBitfieldNotAfterHandshake

	case wire.Have, wire.Request, wire.Cancel:
		s.log.Debug("ignoring message from non-seeded session", "id", msg.ID)
		return nil

	case wire.Piece:
		if err := s.handleBlockMsg(msg); err != nil {
			return err
		}
		return s.makeRequests()

	default:
		s.log.Debug("ignoring unknown message", "id", msg.ID)
		return nil
	}
}

// makeRequests tops up the outgoing request pipeline up to
// BestRequestQueueLen: first it fills spare capacity in each piece already
// being downloaded, then it picks new pieces from the picker and repeats,
// until the peer has no more available pieces or the pipeline is full.
// Requests collected this way are sent in one batch at the end.
func (s *Session) makeRequests() error {
	s.mu.Lock()

	if s.status.IsChoked {
		s.mu.Unlock()
		return nil
	}

	qlen := initialRequestQueueLen
	if s.status.BestRequestQueueLen != nil {
		qlen = *s.status.BestRequestQueueLen
	}

	var newRequests []blockInfo
	for {
		capacity := qlen - len(s.outgoingRequests) - len(newRequests)
		if capacity <= 0 {
			break
		}

		for _, d := range s.downloads {
			before := len(newRequests)
			d.pickBlocks(capacity, &newRequests)
			capacity -= len(newRequests) - before
			if capacity <= 0 {
				break
			}
		}
		if capacity <= 0 {
			break
		}

		index, ok := s.picker.PickPiece()
		if !ok {
			break
		}
		pieceLen, err := s.storage.PieceLenAt(index)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("peer: picked invalid piece %d: %w", index, err)
		}

		s.downloads = append(s.downloads, newPieceDownload(index, pieceLen))
	}

	s.outgoingRequests = append(s.outgoingRequests, newRequests...)
	s.mu.Unlock()

	for _, b := range newRequests {
		req := wire.MessageRequest(uint32(b.pieceIndex), b.offset, b.len)
		s.recordSent(req)
		if err := s.writeMessage(req); err != nil {
			return err
		}
	}
	return nil
}

// handleBlockMsg processes one inbound Piece message: unsolicited or
// duplicate blocks (not present in outgoingRequests) are dropped with a
// Debug log, otherwise the block is recorded against its owning
// pieceDownload and forwarded to disk, and a now-complete piece is reported
// to the picker.
func (s *Session) handleBlockMsg(msg *wire.Message) error {
	index, begin, data, ok := msg.ParsePiece()
	if !ok {
		return fmt.Errorf("peer: %w", errBadPiecePayload)
	}
	block := blockInfo{pieceIndex: int(index), offset: begin, len: uint32(len(data))}

	s.mu.Lock()

	pos := -1
	for i, r := range s.outgoingRequests {
		if r == block {
			pos = i
			break
		}
	}
	if pos == -1 {
		s.log.Debug("dropping unsolicited block", "piece", block.pieceIndex, "offset", block.offset)
		s.mu.Unlock()
		return nil
	}
	s.outgoingRequests = append(s.outgoingRequests[:pos], s.outgoingRequests[pos+1:]...)

	var owner *pieceDownload
	ownerIdx := -1
	for i, d := range s.downloads {
		if d.pieceIndex == block.pieceIndex {
			owner = d
			ownerIdx = i
			break
		}
	}
	if owner == nil {
		s.mu.Unlock()
		return fmt.Errorf("peer: received block for piece %d with no owning download", block.pieceIndex)
	}

	owner.receivedBlock(block.offset)
	s.status.DownloadedBytes += uint64(len(data))
	s.status.DownloadedBlockBytes += uint64(len(data))
	s.stats.Downloaded.Add(uint64(len(data)))
	s.stats.BlocksReceived.Add(1)

	complete := owner.countMissingBlocks() == 0
	if complete {
		s.downloads = append(s.downloads[:ownerIdx], s.downloads[ownerIdx+1:]...)
		s.stats.PiecesReceived.Add(1)
	}

	torrentID := s.torrentID
	s.mu.Unlock()

	if complete {
		s.picker.ReceivedPiece(block.pieceIndex)
	}

	cmd := disk.WriteBlockCommand(torrentID, disk.BlockInfo{
		PieceIndex: block.pieceIndex,
		Offset:     block.offset,
		Len:        block.len,
	}, append([]byte(nil), data...))

	select {
	case s.diskCmds <- cmd:
	default:
		s.log.Warn("dropping block, disk command queue full", "piece", block.pieceIndex, "offset", block.offset)
	}

	return nil
}
