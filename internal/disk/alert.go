package disk

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrTorrentAlreadyExists is the allocation failure when NewTorrent is
	// sent twice for the same id.
	ErrTorrentAlreadyExists = errors.New("disk: torrent already allocated")
	// ErrInvalidPieceIndex marks a block whose piece index has no
	// corresponding entry in the torrent's piece hash list.
	ErrInvalidPieceIndex = errors.New("disk: invalid piece index")
	// ErrUnknownTorrent is logged (not alerted, per the disk task's
	// non-fatal handling of a stale or unrecognized torrent id) when a
	// WriteBlock command references a torrent that was never allocated or
	// has since been removed.
	ErrUnknownTorrent = errors.New("disk: unknown torrent id")
	// ErrDownloadPathExists is the allocation failure when a torrent's
	// download directory already exists on disk.
	ErrDownloadPathExists = errors.New("disk: download path already exists")
)

// AllocationResult reports the outcome of a CmdNewTorrent command.
type AllocationResult struct {
	ID     uuid.UUID
	Alerts <-chan TorrentAlert
	Err    error
}

// Alert is a message the disk task emits on its global alert channel.
// Presently the only kind is torrent allocation; per-torrent write outcomes
// are delivered on each torrent's own TorrentAlert channel instead.
type Alert struct {
	Allocation AllocationResult
}

// TorrentAlertKind tags the variant carried by a TorrentAlert.
type TorrentAlertKind int

const (
	AlertBatchWrite TorrentAlertKind = iota
)

// TorrentAlert is delivered on a single torrent's alert channel.
type TorrentAlert struct {
	Kind  TorrentAlertKind
	Write BatchWriteResult
}

// BatchWriteResult reports the outcome of completing one piece's write
// buffer. The same Ok-style result covers both a valid write and a
// hash-mismatch (IsPieceValid=false, Blocks empty): a piece that failed its
// hash check is not a disk error, it is a protocol-level fact to report to
// the torrent. Err is populated only when the underlying write(s) to disk
// actually failed.
type BatchWriteResult struct {
	IsPieceValid bool
	Blocks       []BlockInfo
	Err          error
}
