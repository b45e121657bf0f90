// Package disk implements the single command-processing task that
// assembles downloaded blocks into pieces, verifies each piece's hash, and
// writes valid pieces to the files they belong to. All torrents in a
// process share one Disk instance and one command channel; each torrent
// gets its own alert channel for write outcomes.
package disk

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config tunes the disk task's channel sizing. A literal unbounded channel
// does not exist in Go; a large buffer stands in for it, per the documented
// divergence from the "unbounded, backpressure not enforced" command
// channel.
type Config struct {
	CommandQueueSize int
	AlertQueueSize   int
}

func defaultConfig() Config {
	return Config{CommandQueueSize: 4096, AlertQueueSize: 256}
}

// Disk is the entity responsible for saving downloaded blocks to disk and
// verifying whether downloaded pieces are valid.
type Disk struct {
	log *slog.Logger
	cfg Config

	cmdCh   chan Command
	alertCh chan Alert

	mu       sync.RWMutex
	torrents map[uuid.UUID]*torrentState

	writers errgroup.Group
}

// New creates a Disk and returns it along with the command channel callers
// send Commands on and the alert channel allocation results are delivered
// on. Run must be called for commands to be processed.
func New(log *slog.Logger, cfg *Config) (*Disk, chan<- Command, <-chan Alert) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "disk")

	c := defaultConfig()
	if cfg != nil {
		c = *cfg
	}

	d := &Disk{
		log:      log,
		cfg:      c,
		cmdCh:    make(chan Command, c.CommandQueueSize),
		alertCh:  make(chan Alert, c.AlertQueueSize),
		torrents: make(map[uuid.UUID]*torrentState),
	}

	return d, d.cmdCh, d.alertCh
}

// Run processes commands until Shutdown is received, the context is
// cancelled, or the command channel is closed. It blocks until every
// in-flight piece write started before shutdown has completed.
func (d *Disk) Run(ctx context.Context) error {
	d.log.Info("starting disk IO event loop")

	defer func() {
		d.writers.Wait()
		d.closeAll()
		close(d.alertCh)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case cmd, ok := <-d.cmdCh:
			if !ok {
				return nil
			}
			if d.handleCommand(cmd) {
				return nil
			}
		}
	}
}

// handleCommand processes one command and reports whether the event loop
// should stop.
func (d *Disk) handleCommand(cmd Command) (shutdown bool) {
	switch cmd.Kind {
	case CmdNewTorrent:
		d.handleNewTorrent(cmd)
	case CmdWriteBlock:
		d.handleWriteBlock(cmd)
	case CmdShutdown:
		d.log.Info("shutting down disk event loop")
		return true
	}
	return false
}

func (d *Disk) handleNewTorrent(cmd Command) {
	d.mu.Lock()
	if _, exists := d.torrents[cmd.TorrentID]; exists {
		d.mu.Unlock()
		d.log.Warn("torrent already allocated", "torrent_id", cmd.TorrentID)
		d.alertCh <- Alert{Allocation: AllocationResult{ID: cmd.TorrentID, Err: ErrTorrentAlreadyExists}}
		return
	}
	d.mu.Unlock()

	// NOTE: an allocation error (e.g. a file that could not be opened) is
	// reported on the alert channel and fails only this one torrent's
	// allocation; it never ends the disk task.
	ts, err := newTorrentState(d.log, cmd.Info, cmd.PieceHashes)
	if err != nil {
		d.log.Warn("torrent allocation failure", "torrent_id", cmd.TorrentID, "error", err)
		d.alertCh <- Alert{Allocation: AllocationResult{ID: cmd.TorrentID, Err: err}}
		return
	}

	d.mu.Lock()
	d.torrents[cmd.TorrentID] = ts
	d.mu.Unlock()

	d.log.Info("torrent successfully allocated", "torrent_id", cmd.TorrentID)
	d.alertCh <- Alert{Allocation: AllocationResult{ID: cmd.TorrentID, Alerts: ts.alerts}}
}

// handleWriteBlock queues a block for writing. A torrent id that is
// unknown (never allocated, or removed) is logged and dropped rather than
// treated as fatal: per-torrent disk requests arriving slightly after that
// torrent's removal are an expected race, not a programmer error.
func (d *Disk) handleWriteBlock(cmd Command) {
	d.mu.RLock()
	ts, ok := d.torrents[cmd.TorrentID]
	d.mu.RUnlock()
	if !ok {
		d.log.Warn("write block for unknown torrent", "torrent_id", cmd.TorrentID, "error", ErrUnknownTorrent)
		return
	}

	piece, err := ts.writeBlock(cmd.Block, cmd.Data)
	if err != nil {
		ts.sendAlert(BatchWriteResult{Err: err})
		return
	}
	if piece == nil {
		// Piece not yet complete; nothing more to do this round.
		return
	}

	// Hashing and the subsequent write are blocking and potentially slow;
	// they run off the command loop so other torrents' commands keep
	// flowing. Every error path inside the closure is absorbed into the
	// torrent's own alert channel, so the errgroup never sees a non-nil
	// error and never cancels sibling work.
	d.writers.Go(func() error {
		result := ts.finishPiece(piece)
		ts.sendAlert(result)
		return nil
	})
}

func (d *Disk) closeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ts := range d.torrents {
		ts.close()
		close(ts.alerts)
		delete(d.torrents, id)
	}
}
