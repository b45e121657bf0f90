// Package peer implements a single outbound peer session: the BitTorrent
// handshake, availability exchange, and the connected-state message loop
// that drives a pipelined block-request queue against one seed.
package peer

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/talonbt/talon/internal/bitfield"
	"github.com/talonbt/talon/internal/disk"
	"github.com/talonbt/talon/internal/picker"
	"github.com/talonbt/talon/internal/storageinfo"
	"github.com/talonbt/talon/internal/wire"
)

// initialRequestQueueLen is the pipeline depth set the moment a session
// enters the Connected state; this scope has no bandwidth-delay estimation
// so it never changes afterward.
const initialRequestQueueLen = 4

var (
	ErrInvalidPeerInfoHash        = errors.New("peer: info hash mismatch")
	ErrPeerNotSeed                = errors.New("peer: peer is not a seed")
	ErrBitfieldNotAfterHandshake  = errors.New("peer: unexpected bitfield outside availability exchange")
	ErrExpectedBitfieldFirst      = errors.New("peer: peer did not send a bitfield first")
	ErrBitfieldWrongLength        = errors.New("peer: bitfield shorter than piece count")
)

// Opts configures a new Session.
type Opts struct {
	Addr        net.Addr
	InfoHash    [sha1.Size]byte
	LocalPeerID [sha1.Size]byte
	TorrentID   uuid.UUID
	Storage     storageinfo.Info
	Picker      *picker.Picker
	DiskCmds    chan<- disk.Command
	DialTimeout time.Duration
	IOTimeout   time.Duration
	Log         *slog.Logger
}

// Session is one outbound connection to a single seed peer.
type Session struct {
	addr        net.Addr
	infoHash    [sha1.Size]byte
	localPeerID [sha1.Size]byte
	torrentID   uuid.UUID
	storage     storageinfo.Info
	picker      *picker.Picker
	diskCmds    chan<- disk.Command

	dialTimeout time.Duration
	ioTimeout   time.Duration
	log         *slog.Logger

	conn    net.Conn
	writeMu sync.Mutex

	mu               sync.Mutex
	status           Status
	peerInfo         *PeerInfo
	downloads        []*pieceDownload
	outgoingRequests []blockInfo

	stats *Stats

	closeOnce sync.Once
}

// recordSent and recordReceived bump the matching message counters in
// Stats. A nil msg passed to recordSent records a keep-alive.
func (s *Session) recordReceived(msg *wire.Message) {
	s.stats.MessagesReceived.Add(1)
}

func (s *Session) recordSent(msg *wire.Message) {
	s.stats.MessagesSent.Add(1)
	if msg != nil && msg.ID == wire.Request {
		s.stats.RequestsSent.Add(1)
	}
}

// New creates a not-yet-connected session for addr.
func New(opts Opts) *Session {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "peer session", "addr", opts.Addr)

	dialTimeout := opts.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 7 * time.Second
	}
	ioTimeout := opts.IOTimeout
	if ioTimeout == 0 {
		ioTimeout = 30 * time.Second
	}

	return &Session{
		addr:        opts.Addr,
		infoHash:    opts.InfoHash,
		localPeerID: opts.LocalPeerID,
		torrentID:   opts.TorrentID,
		storage:     opts.Storage,
		picker:      opts.Picker,
		diskCmds:    opts.DiskCmds,
		dialTimeout: dialTimeout,
		ioTimeout:   ioTimeout,
		log:         log,
		status:      newStatus(),
		stats:       &Stats{ConnectedAt: time.Now()},
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.State
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.status.State = st
	s.mu.Unlock()
	s.log.Info("session state transition", "state", st)
}

// Run dials the peer, performs the handshake and availability exchange,
// then drives the connected-state message loop until ctx is cancelled, the
// connection fails, or a fatal protocol error occurs.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info("starting peer session")

	s.setState(Connecting)
	conn, err := net.DialTimeout(s.addr.Network(), s.addr.String(), s.dialTimeout)
	if err != nil {
		return fmt.Errorf("peer: dial %s: %w", s.addr, err)
	}
	s.conn = conn
	defer s.Close()

	s.setState(Handshaking)
	if err := s.handshake(); err != nil {
		return err
	}

	s.setState(AvailabilityExchange)
	if err := s.awaitBitfield(); err != nil {
		return err
	}

	s.setState(Connected)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.keepAliveLoop(gctx) })
	g.Go(func() error { return s.rateLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		s.Close()
		return nil
	})

	return g.Wait()
}

// Close closes the underlying connection. Safe to call multiple times and
// from multiple goroutines.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			s.conn.Close()
		}
		s.stats.DisconnectedAt = time.Now()
	})
}

func (s *Session) handshake() error {
	local := wire.NewHandshake(s.infoHash, s.localPeerID)

	s.conn.SetDeadline(time.Now().Add(s.ioTimeout))
	defer s.conn.SetDeadline(time.Time{})

	remote, err := local.Exchange(s.conn, true)
	if err != nil {
		if errors.Is(err, wire.ErrInfoHashMismatch) {
			return ErrInvalidPeerInfoHash
		}
		return fmt.Errorf("peer: handshake: %w", err)
	}

	s.mu.Lock()
	s.peerInfo = &PeerInfo{PeerID: remote.PeerID}
	s.mu.Unlock()

	return nil
}

// awaitBitfield reads exactly one message, which must be a Bitfield
// advertising every piece (this scope requires the peer be a seed).
func (s *Session) awaitBitfield() error {
	s.conn.SetReadDeadline(time.Now().Add(s.ioTimeout))
	defer s.conn.SetReadDeadline(time.Time{})

	msg, err := wire.ReadMessage(s.conn)
	if err != nil {
		return fmt.Errorf("peer: awaiting bitfield: %w", err)
	}
	if msg == nil || msg.ID != wire.Bitfield {
		return ErrExpectedBitfieldFirst
	}

	bits := bitfield.FromBytes(msg.Payload)
	if bits.Len() < s.storage.PieceCount {
		return ErrBitfieldWrongLength
	}
	if !bits.AllWithin(s.storage.PieceCount) {
		return ErrPeerNotSeed
	}

	s.picker.RegisterBitfield(func(i int) bool { return bits.Has(i) })

	s.mu.Lock()
	s.status.IsInterested = true
	qlen := initialRequestQueueLen
	s.status.BestRequestQueueLen = &qlen
	if s.peerInfo != nil {
		s.peerInfo.HasBitfield = true
	}
	s.mu.Unlock()

	interested := wire.MessageInterested()
	s.recordSent(interested)
	return s.writeMessage(interested)
}

func (s *Session) keepAliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.writeMessage(nil); err != nil {
				return err
			}
			s.recordSent(nil)
		}
	}
}

func (s *Session) writeMessage(m *wire.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.ioTimeout))
	defer s.conn.SetWriteDeadline(time.Time{})

	if err := wire.WriteMessage(s.conn, m); err != nil {
		s.stats.Errors.Add(1)
		return err
	}
	return nil
}
