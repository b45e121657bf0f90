// Package config defines the client's configuration surface. Per
// spec.md §6.4, only ClientID and DefaultDownloadDir affect the core
// described in this module. DialTimeout and ReadTimeout are also read, by
// cmd/talon, as the peer session's dial and I/O timeouts; every other field
// is ambient surface for the excluded collaborators (tracker, rate limiter,
// seeding/choking) and is otherwise inert here, carried because a
// production Config would carry it too.
package config

import (
	"crypto/sha1"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// defaultClientID is the fixed 20-byte peer identifier new torrents
// advertise in the handshake. spec.md §6.4 pins this exact literal rather
// than generating one randomly per client instance.
const defaultClientID = "cbt-0000000000000000"

// PieceDownloadStrategy enumerates high-level piece selection policies the
// picker can apply.
//
// The current code builds the picker's state in a strategy-agnostic
// manner; a selection method can switch on this value to implement
// different behaviours. Within spec.md's single-seed scope the picker
// only ever has one source for every piece, so this field has no observed
// effect on internal/picker — it is carried for a future multi-peer
// picker (see DESIGN.md's internal/piece entry under "Final adaptation
// pass").
type PieceDownloadStrategy uint8

const (
	// PieceDownloadStrategyRandom randomly samples among eligible pieces
	// (often used only for the first few pieces to reduce clumping), then
	// hands over to another strategy.
	PieceDownloadStrategyRandom PieceDownloadStrategy = iota

	// PieceDownloadStrategyRarestFirst prioritizes pieces with the lowest
	// availability, improving swarm health and resilience.
	PieceDownloadStrategyRarestFirst

	// PieceDownloadStrategySequential downloads pieces in ascending index
	// order. Simple and good for streaming/locality; not ideal for swarm
	// health.
	PieceDownloadStrategySequential
)

// Config defines behavior and resource limits for a torrent download.
type Config struct {
	// ========== Identity / Paths ==========

	// DefaultDownloadDir is the default directory new torrents are saved
	// under. Changing this only affects new torrents; existing torrents
	// continue downloading to their original location.
	DefaultDownloadDir string

	// ClientID is the 20-byte peer identifier this client advertises in
	// every handshake.
	ClientID [sha1.Size]byte

	// ========== Networking ==========

	// ReadTimeout is the maximum time to wait for data from a peer before
	// considering the connection stalled.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending data to a
	// peer before considering the connection stalled.
	WriteTimeout time.Duration

	// DialTimeout is the maximum time to wait when establishing a new
	// connection to a peer.
	DialTimeout time.Duration

	// MaxPeers is the maximum number of concurrent peer connections
	// allowed.
	MaxPeers int

	// ========== Tracker / Announce ==========

	// NumWant is the maximum number of peers to request from the tracker.
	NumWant uint32

	// AnnounceInterval overrides the tracker's suggested interval. 0 uses
	// the tracker's default.
	AnnounceInterval time.Duration

	// MinAnnounceInterval enforces a minimum time between announces.
	MinAnnounceInterval time.Duration

	// MaxAnnounceBackoff caps exponential backoff for failed announces.
	MaxAnnounceBackoff time.Duration

	// Port is the TCP port this client listens on for incoming peer
	// connections.
	Port uint16

	// ========== Rate Limits ==========

	// MaxUploadRate limits upload speed in bytes/second. 0 = unlimited.
	MaxUploadRate int64

	// MaxDownloadRate limits download speed in bytes/second. 0 = unlimited.
	MaxDownloadRate int64

	// RateLimitRefresh controls fill cadence; keep >=100ms to avoid jitter.
	RateLimitRefresh time.Duration

	// PeerOutboundQueueBacklog is the maximum number of messages a peer
	// can have queued in its outbound buffer.
	PeerOutboundQueueBacklog int

	// ========== Piece Picker / Requests ==========

	// PieceDownloadStrategy chooses how to rank eligible pieces.
	PieceDownloadStrategy PieceDownloadStrategy

	// MaxInflightRequestsPerPeer limits how many requests can be
	// outstanding to a single peer at once.
	MaxInflightRequestsPerPeer int

	// MinInflightRequestsPerPeer is a soft floor so slow/latent peers
	// still make progress (1-4 is typical).
	MinInflightRequestsPerPeer int

	// RequestQueueTime is the target amount of data (in seconds) to keep
	// pipelined per peer.
	RequestQueueTime time.Duration

	// RequestTimeout is the baseline time after which an in-flight block
	// can be considered timed out and re-assigned.
	RequestTimeout time.Duration

	// EndgameDupPerBlock, when endgame is enabled, caps the number of
	// duplicate owners (peers concurrently fetching the same block).
	EndgameDupPerBlock int

	// EndgameThreshold decides when to enter endgame based on remaining
	// blocks.
	EndgameThreshold int

	// MaxRequestsPerPiece caps the number of duplicate requests for the
	// same piece across all peers to prevent over-downloading.
	MaxRequestsPerPiece int

	// ========== Seeding / Choking ==========

	// UploadSlots is the number of regular unchoke slots.
	UploadSlots int

	// RechokeInterval controls how often to reevaluate choke/unchoke
	// decisions.
	RechokeInterval time.Duration

	// OptimisticUnchokeInterval controls how often to rotate the
	// optimistic unchoke.
	OptimisticUnchokeInterval time.Duration

	// ========== Keepalive / Heartbeats ==========

	// PeerHeartbeatInterval is how often to send keep-alive messages to a
	// peer to maintain the connection.
	PeerHeartbeatInterval time.Duration

	// PeerInactivityDuration is the minimum interval after which a peer
	// connection is considered inactive.
	PeerInactivityDuration time.Duration

	// KeepAliveInterval is the interval at which keep-alive messages are
	// sent to the peer.
	KeepAliveInterval time.Duration

	// ========== Miscellaneous ==========

	// MetricsEnabled toggles a Prometheus/OTel metrics endpoint.
	MetricsEnabled bool

	// MetricsBindAddr is the HTTP address for metrics (e.g. ":9090").
	MetricsBindAddr string

	// EnableIPv6 allows connections to IPv6 peers.
	EnableIPv6 bool

	// EnableDHT enables DHT for peer discovery (future; out of core
	// scope per spec.md §1).
	EnableDHT bool

	// EnablePEX enables the peer exchange protocol (future; out of core
	// scope per spec.md §1).
	EnablePEX bool

	// HasIPV6 records whether the host has a usable IPv6 address.
	HasIPV6 bool
}

// Default returns sensible defaults for most use cases.
func Default() Config {
	hasIPv6 := hasIPV6()

	return Config{
		DefaultDownloadDir:         defaultDownloadDir(),
		ClientID:                   clientID(),
		ReadTimeout:                30 * time.Second,
		WriteTimeout:               30 * time.Second,
		DialTimeout:                7 * time.Second,
		MaxPeers:                   50,
		NumWant:                    50,
		AnnounceInterval:           0,
		MinAnnounceInterval:        20 * time.Minute,
		MaxAnnounceBackoff:         45 * time.Minute,
		Port:                       6969,
		MaxUploadRate:              0,
		MaxDownloadRate:            0,
		RateLimitRefresh:           200 * time.Millisecond,
		PeerOutboundQueueBacklog:   256,
		PieceDownloadStrategy:      PieceDownloadStrategyRarestFirst,
		MaxInflightRequestsPerPeer: 32,
		MinInflightRequestsPerPeer: 4,
		RequestQueueTime:           3 * time.Second,
		RequestTimeout:             25 * time.Second,
		EndgameDupPerBlock:         2,
		EndgameThreshold:           30,
		MaxRequestsPerPiece:        128,
		UploadSlots:                4,
		RechokeInterval:            10 * time.Second,
		OptimisticUnchokeInterval:  30 * time.Second,
		PeerHeartbeatInterval:      60 * time.Second,
		KeepAliveInterval:          90 * time.Second,
		PeerInactivityDuration:     2 * time.Minute,
		MetricsEnabled:             false,
		MetricsBindAddr:            ":9090",
		EnableIPv6:                 hasIPv6,
		EnableDHT:                  false,
		EnablePEX:                  false,
		HasIPV6:                    hasIPv6,
	}
}

// clientID returns the fixed 20-byte client identifier spec.md §6.4 pins
// as the default.
func clientID() [sha1.Size]byte {
	var id [sha1.Size]byte
	copy(id[:], defaultClientID)
	return id
}

func hasIPV6() bool {
	ifaces, _ := net.Interfaces()

	for _, ifi := range ifaces {
		if (ifi.Flags & net.FlagUp) == 0 {
			continue
		}
		addrs, _ := ifi.Addrs()
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}

			ip := ipNet.IP
			if ip == nil || ip.To4() != nil {
				continue
			}
			if ip.IsGlobalUnicast() && !ip.IsLinkLocalUnicast() && !ip.IsLoopback() {
				return true
			}
		}
	}

	return false
}

// defaultDownloadDir picks a per-OS default download directory. The
// teacher derives the OS name from wails' runtime.Environment, which only
// exists inside a running wails application; this module has no GUI
// shell, so it uses stdlib runtime.GOOS directly for the same branch.
func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		if cwd, err := os.Getwd(); err == nil {
			return filepath.Join(cwd, "downloads")
		}
		return "./downloads"
	}

	switch runtime.GOOS {
	case "windows", "darwin":
		return filepath.Join(home, "Downloads", "talon")
	default: // linux, bsd, etc.
		return filepath.Join(home, ".local", "share", "talon", "downloads")
	}
}
