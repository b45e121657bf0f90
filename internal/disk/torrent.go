package disk

import (
	"crypto/sha1"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/talonbt/talon/internal/iovec"
	"github.com/talonbt/talon/internal/storageinfo"
)

// file wraps one open on-disk file with a mutex so concurrent piece writes
// that happen to share a file (archive torrents) serialize on it.
type file struct {
	mu     sync.Mutex
	info   storageinfo.FileInfo
	handle *os.File
}

func (f *file) writeVectoredAt(bufs [][]byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := iovec.Unbounded(bufs)
	return iovec.WriteVectoredAt(f.handle, v, offset)
}

// inProgressPiece is a piece's write buffer: the blocks downloaded so far,
// keyed by their offset within the piece.
type inProgressPiece struct {
	index        int
	expectedHash [sha1.Size]byte
	len          uint32
	blocks       map[uint32][]byte
	files        storageinfo.Range
}

func (p *inProgressPiece) enqueueBlock(log *slog.Logger, offset uint32, data []byte) {
	if _, exists := p.blocks[offset]; exists {
		log.Debug("received duplicate block", "piece", p.index, "offset", offset)
		return
	}
	p.blocks[offset] = data
}

func (p *inProgressPiece) isComplete() bool {
	return len(p.blocks) == storageinfo.BlockCount(p.len)
}

// sortedOffsets returns the block offsets in ascending order, the order
// required both for hashing and for writing (hashing must process the
// piece's bytes in stream order; writing must present contiguous buffers).
func (p *inProgressPiece) sortedOffsets() []uint32 {
	offsets := make([]uint32, 0, len(p.blocks))
	for off := range p.blocks {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

func (p *inProgressPiece) matchesHash() bool {
	h := sha1.New()
	for _, off := range p.sortedOffsets() {
		h.Write(p.blocks[off])
	}
	var sum [sha1.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum == p.expectedHash
}

// write saves the piece's blocks to the files it overlaps, starting at
// pieceTorrentOffset in the torrent-wide byte stream. It optimizes for the
// common case of a piece confined to a single file by skipping the
// per-file buffer splitting.
func (p *inProgressPiece) write(pieceTorrentOffset int64, files []*file) (int, []BlockInfo, error) {
	offsets := p.sortedOffsets()
	bufs := make([][]byte, len(offsets))
	blocks := make([]BlockInfo, len(offsets))
	for i, off := range offsets {
		bufs[i] = p.blocks[off]
		blocks[i] = BlockInfo{PieceIndex: p.index, Offset: off, Len: uint32(len(p.blocks[off]))}
	}

	targets := files
	if len(targets) == 0 {
		return 0, nil, fmt.Errorf("disk: piece %d has no overlapping files", p.index)
	}

	total := 0
	if len(targets) == 1 {
		f := targets[0]
		slice := f.info.GetSlice(pieceTorrentOffset, int64(p.len))
		n, err := f.writeVectoredAt(bufs, slice.Offset)
		if err != nil {
			return total, nil, fmt.Errorf("disk: write to %s: %w", f.info.Path, err)
		}
		total += n
		return total, blocks, nil
	}

	writeOffset := pieceTorrentOffset
	remaining := bufs
	left := int64(p.len)
	for _, f := range targets {
		if left <= 0 || len(remaining) == 0 {
			break
		}
		slice := f.info.GetSlice(writeOffset, left)
		v := iovec.Bounded(remaining, int(slice.Len))

		f.mu.Lock()
		n, err := iovec.WriteVectoredAt(f.handle, v, slice.Offset)
		f.mu.Unlock()
		if err != nil {
			return total, nil, fmt.Errorf("disk: write to %s: %w", f.info.Path, err)
		}

		total += n
		writeOffset += int64(n)
		left -= int64(n)
		remaining = v.IntoTail()
	}

	return total, blocks, nil
}

// torrentState tracks one torrent's disk-IO state: its storage layout, open
// file handles, in-progress piece buffers and per-torrent alert channel.
type torrentState struct {
	info        storageinfo.Info
	pieceHashes [][sha1.Size]byte
	files       []*file
	log         *slog.Logger

	mu     sync.Mutex
	pieces map[int]*inProgressPiece

	alerts chan TorrentAlert
}

func newTorrentState(log *slog.Logger, info storageinfo.Info, pieceHashes [][sha1.Size]byte) (*torrentState, error) {
	files, err := openFiles(info)
	if err != nil {
		return nil, err
	}

	return &torrentState{
		info:        info,
		pieceHashes: pieceHashes,
		files:       files,
		log:         log,
		pieces:      make(map[int]*inProgressPiece),
		alerts:      make(chan TorrentAlert, 64),
	}, nil
}

// downloadPath returns the location whose prior existence on disk is
// rejected with ErrDownloadPathExists: the single output file itself for a
// single-file torrent, or the torrent's own subdirectory for an archive.
func downloadPath(info storageinfo.Info) string {
	if info.Structure == storageinfo.SingleFile && len(info.Files) == 1 {
		return filepath.Join(info.DownloadDir, info.Files[0].Path)
	}
	return info.DownloadDir
}

// openFiles verifies the torrent hasn't already been downloaded to this
// location, creates its directory structure (for an archive) and opens
// every file handle in advance. Files are opened O_CREATE|O_RDWR and
// truncated to their final length so positional writes never need to grow
// the file mid-piece.
func openFiles(info storageinfo.Info) ([]*file, error) {
	if _, err := os.Stat(downloadPath(info)); err == nil {
		return nil, ErrDownloadPathExists
	}

	if err := os.MkdirAll(info.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("disk: create download dir: %w", err)
	}

	files := make([]*file, 0, len(info.Files))
	for _, fi := range info.Files {
		// Both structures store fi.Path relative to DownloadDir: a single
		// file's name directly under it, an archive's relative paths under
		// it (for an archive the caller that builds the Info has already
		// made DownloadDir the <download dir>/<torrent name> directory).
		path := filepath.Join(info.DownloadDir, fi.Path)

		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("disk: create subdir for %s: %w", path, err)
			}
		}

		handle, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("disk: open %s: %w", path, err)
		}
		if err := handle.Truncate(fi.Len); err != nil {
			handle.Close()
			return nil, fmt.Errorf("disk: truncate %s: %w", path, err)
		}

		files = append(files, &file{info: fi, handle: handle})
	}

	return files, nil
}

func (ts *torrentState) close() {
	for _, f := range ts.files {
		f.handle.Close()
	}
}

// startNewPiece creates the write-buffer metadata for pieceIndex: its
// expected hash, length, and the range of files it overlaps.
func (ts *torrentState) startNewPiece(pieceIndex int) (*inProgressPiece, error) {
	if pieceIndex < 0 || pieceIndex >= len(ts.pieceHashes) {
		return nil, ErrInvalidPieceIndex
	}

	length, err := ts.info.PieceLenAt(pieceIndex)
	if err != nil {
		return nil, ErrInvalidPieceIndex
	}

	fileRange, err := ts.info.FilesIntersectingPiece(pieceIndex)
	if err != nil {
		return nil, ErrInvalidPieceIndex
	}

	return &inProgressPiece{
		index:        pieceIndex,
		expectedHash: ts.pieceHashes[pieceIndex],
		len:          length,
		blocks:       make(map[uint32][]byte),
		files:        fileRange,
	}, nil
}

// writeBlock enqueues a downloaded block into its piece's write buffer. If
// the enqueue completes the piece, the completed piece is removed from the
// in-progress map and returned so the caller can hash and write it off the
// command-processing goroutine.
func (ts *torrentState) writeBlock(info BlockInfo, data []byte) (*inProgressPiece, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	piece, exists := ts.pieces[info.PieceIndex]
	if !exists {
		p, err := ts.startNewPiece(info.PieceIndex)
		if err != nil {
			return nil, err
		}
		piece = p
		ts.pieces[info.PieceIndex] = piece
	}

	piece.enqueueBlock(ts.log, info.Offset, data)

	if !piece.isComplete() {
		return nil, nil
	}
	delete(ts.pieces, info.PieceIndex)
	return piece, nil
}

// finishPiece hashes and, if valid, writes a completed piece to disk. This
// performs blocking I/O and must be run off the command-processing
// goroutine.
func (ts *torrentState) finishPiece(piece *inProgressPiece) BatchWriteResult {
	if !piece.matchesHash() {
		return BatchWriteResult{IsPieceValid: false}
	}

	pieceOffset := int64(piece.index) * int64(ts.info.PieceLen)
	targets := ts.files[piece.files.Start:piece.files.End]

	_, blocks, err := piece.write(pieceOffset, targets)
	if err != nil {
		return BatchWriteResult{Err: err}
	}

	return BatchWriteResult{IsPieceValid: true, Blocks: blocks}
}

func (ts *torrentState) sendAlert(w BatchWriteResult) {
	select {
	case ts.alerts <- TorrentAlert{Kind: AlertBatchWrite, Write: w}:
	default:
		// Alert channel is backlogged beyond its buffer; drop rather than
		// block the disk task. A torrent that isn't draining its alerts
		// promptly enough to keep up with its own download rate has
		// bigger problems than one missed notification.
	}
}
