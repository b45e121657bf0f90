// Package torrent implements the torrent coordinator (spec.md §4.5): it
// owns a torrent's immutable shared status, computes its storage layout,
// allocates it on disk, spawns the single peer session targeting the
// configured seed, and forwards disk alerts to whoever is watching.
package torrent

import (
	"context"
	"crypto/sha1"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/talonbt/talon/internal/disk"
	"github.com/talonbt/talon/internal/meta"
	"github.com/talonbt/talon/internal/peer"
	"github.com/talonbt/talon/internal/picker"
	"github.com/talonbt/talon/internal/storageinfo"
)

// Status is the torrent's shared, immutable-after-construction state
// (spec.md §3 "Shared Torrent Status"): every peer session reads it by
// reference and never mutates it.
type Status struct {
	ID       uuid.UUID
	InfoHash [sha1.Size]byte
	ClientID [sha1.Size]byte
	Storage  storageinfo.Info
}

// Torrent coordinates a single download: it owns the piece picker, holds a
// reference to the shared disk command channel, and supervises one peer
// session against a single configured seed (this scope never has more than
// one source for a torrent — see spec.md §1 Non-goals).
type Torrent struct {
	status   Status
	metainfo *meta.Metainfo

	picker   *picker.Picker
	diskCmds chan<- disk.Command
	alerts   <-chan disk.TorrentAlert

	session *peer.Session

	log    *slog.Logger
	cancel context.CancelFunc
}

// newTorrent builds a Torrent around already-parsed metainfo and an
// already-allocated disk handle; it does not itself talk to disk or spawn
// the peer session — Run does, so construction can't block or fail on I/O.
func newTorrent(status Status, m *meta.Metainfo, diskCmds chan<- disk.Command, alerts <-chan disk.TorrentAlert, log *slog.Logger) *Torrent {
	return &Torrent{
		status:   status,
		metainfo: m,
		picker:   picker.New(status.Storage.PieceCount),
		diskCmds: diskCmds,
		alerts:   alerts,
		log:      log.With("torrent", m.Info.Name, "torrent_id", status.ID),
	}
}

// Status returns the torrent's shared immutable status.
func (t *Torrent) Status() Status { return t.status }

// Alerts returns the channel disk write/validity outcomes are delivered on
// for this torrent.
func (t *Torrent) Alerts() <-chan disk.TorrentAlert { return t.alerts }

// Picker returns the torrent's piece picker.
func (t *Torrent) Picker() *picker.Picker { return t.picker }

// Run spawns the torrent's single peer session against seedAddr and blocks
// until the session ends or ctx is cancelled.
func (t *Torrent) Run(ctx context.Context, seedAddr net.Addr, cfg *Config) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	defer cancel()

	t.session = peer.New(peer.Opts{
		Addr:        seedAddr,
		InfoHash:    t.status.InfoHash,
		LocalPeerID: t.status.ClientID,
		TorrentID:   t.status.ID,
		Storage:     t.status.Storage,
		Picker:      t.picker,
		DiskCmds:    t.diskCmds,
		DialTimeout: cfg.DialTimeout,
		IOTimeout:   cfg.IOTimeout,
		Log:         t.log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.session.Run(gctx) })

	err := g.Wait()
	if err != nil {
		return fmt.Errorf("torrent: session for %s: %w", t.metainfo.Info.Name, err)
	}
	return nil
}

// Stop ends the torrent's peer session.
func (t *Torrent) Stop() {
	if t.session != nil {
		t.session.Close()
	}
	if t.cancel != nil {
		t.cancel()
	}
}

// Done reports whether every piece of the torrent has been downloaded and
// verified.
func (t *Torrent) Done() bool { return t.picker.Done() }
