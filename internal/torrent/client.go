package torrent

import (
	"context"
	"crypto/sha1"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/talonbt/talon/internal/disk"
	"github.com/talonbt/talon/internal/meta"
)

// Engine is the process-wide entry point: one Disk instance shared by
// every torrent, and a table of running Torrent coordinators keyed by
// info hash.
type Engine struct {
	log      *slog.Logger
	clientID [sha1.Size]byte

	disk       *disk.Disk
	diskCmds   chan<- disk.Command
	diskAlerts <-chan disk.Alert

	mu       sync.RWMutex
	ctx      context.Context
	torrents map[[sha1.Size]byte]*Torrent

	pendingMu sync.Mutex
	pending   map[uuid.UUID]chan disk.AllocationResult
}

// NewEngine creates an Engine. Run must be called for torrents added via
// AddTorrent to actually allocate on disk or connect to their seed.
func NewEngine(clientID [sha1.Size]byte, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}

	d, cmds, alerts := disk.New(log, nil)
	return &Engine{
		log:        log,
		clientID:   clientID,
		disk:       d,
		diskCmds:   cmds,
		diskAlerts: alerts,
		ctx:        context.Background(),
		torrents:   make(map[[sha1.Size]byte]*Torrent),
		pending:    make(map[uuid.UUID]chan disk.AllocationResult),
	}
}

// Run drives the engine's disk task and allocation-alert demultiplexer
// until ctx is cancelled. Torrents added via AddTorrent run as independent
// goroutines scoped to the same ctx.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.disk.Run(gctx) })
	g.Go(func() error { return e.demuxAllocations(gctx) })
	return g.Wait()
}

// demuxAllocations reads the disk's single global allocation-alert channel
// and routes each result to the waiter AddTorrent registered for that
// torrent id, since many torrents share one Disk and one alert channel.
func (e *Engine) demuxAllocations(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case alert, ok := <-e.diskAlerts:
			if !ok {
				return nil
			}
			e.pendingMu.Lock()
			waiter, found := e.pending[alert.Allocation.ID]
			if found {
				delete(e.pending, alert.Allocation.ID)
			}
			e.pendingMu.Unlock()
			if found {
				waiter <- alert.Allocation
			}
		}
	}
}

// AddTorrent parses metainfo, allocates its storage on disk, and once
// allocation succeeds spawns its peer session against seedAddr in a
// background goroutine scoped to the Engine's Run context. It returns once
// allocation has succeeded and the torrent is registered. The returned
// Torrent's Alerts channel carries per-piece write outcomes and Done reports
// whether every piece has been received; the end of the peer session is only
// logged, not signalled to the caller.
func (e *Engine) AddTorrent(ctx context.Context, metainfoBytes []byte, seedAddr net.Addr, cfg *Config) (*Torrent, error) {
	if cfg == nil {
		cfg = WithDefaultConfig()
	}

	m, err := meta.ParseMetainfo(metainfoBytes)
	if err != nil {
		return nil, fmt.Errorf("torrent: parse metainfo: %w", err)
	}

	info, err := buildStorageInfo(m, cfg.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("torrent: storage layout: %w", err)
	}

	id := uuid.New()
	waiter := make(chan disk.AllocationResult, 1)
	e.pendingMu.Lock()
	e.pending[id] = waiter
	e.pendingMu.Unlock()

	select {
	case e.diskCmds <- disk.NewTorrentCommand(id, info, m.Info.Pieces):
	case <-ctx.Done():
		e.pendingMu.Lock()
		delete(e.pending, id)
		e.pendingMu.Unlock()
		return nil, ctx.Err()
	}

	var result disk.AllocationResult
	select {
	case result = <-waiter:
	case <-ctx.Done():
		e.pendingMu.Lock()
		delete(e.pending, id)
		e.pendingMu.Unlock()
		return nil, ctx.Err()
	}
	if result.Err != nil {
		return nil, fmt.Errorf("torrent: allocate %s: %w", m.Info.Name, result.Err)
	}

	status := Status{ID: id, InfoHash: m.InfoHash, ClientID: e.clientID, Storage: info}
	t := newTorrent(status, m, e.diskCmds, result.Alerts, e.log)

	e.mu.Lock()
	runCtx := e.ctx
	e.torrents[m.InfoHash] = t
	e.mu.Unlock()

	e.log.Info("torrent allocated, starting peer session",
		"name", m.Info.Name, "torrent_id", id, "seed", seedAddr)

	go func() {
		if err := t.Run(runCtx, seedAddr, cfg); err != nil {
			e.log.Error("peer session ended", "torrent", m.Info.Name, "error", err)
		}
	}()

	return t, nil
}

// Torrent returns the running Torrent for infoHash, if any.
func (e *Engine) Torrent(infoHash [sha1.Size]byte) (*Torrent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.torrents[infoHash]
	return t, ok
}

// RemoveTorrent stops and forgets the torrent identified by infoHash.
func (e *Engine) RemoveTorrent(infoHash [sha1.Size]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.torrents[infoHash]
	if !ok {
		return
	}
	t.Stop()
	delete(e.torrents, infoHash)
}

// Shutdown requests the disk task stop once all in-flight writes drain.
func (e *Engine) Shutdown() {
	e.diskCmds <- disk.ShutdownCommand()
}
