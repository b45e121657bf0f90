package peer

import (
	"context"
	"sync/atomic"
	"time"
)

// Stats holds per-connection counters and rate estimates for a session. All
// counters are atomic and monotonically increasing for the lifetime of a
// session; this scope never seeds, so there is no upload side.
type Stats struct {
	Downloaded       atomic.Uint64
	DownloadRate     atomic.Uint64
	MessagesReceived atomic.Uint64
	MessagesSent     atomic.Uint64
	RequestsSent     atomic.Uint64
	BlocksReceived   atomic.Uint64
	PiecesReceived   atomic.Uint64
	Errors           atomic.Uint64

	ConnectedAt    time.Time
	DisconnectedAt time.Time
}

// Snapshot is a point-in-time copy of Stats safe to hand to a caller.
type Snapshot struct {
	Downloaded       uint64
	DownloadRate     uint64
	MessagesReceived uint64
	MessagesSent     uint64
	RequestsSent     uint64
	BlocksReceived   uint64
	PiecesReceived   uint64
	Errors           uint64
	ConnectedAt      time.Time
}

// Stats returns a snapshot of this session's transfer counters.
func (s *Session) Stats() Snapshot {
	return Snapshot{
		Downloaded:       s.stats.Downloaded.Load(),
		DownloadRate:     s.stats.DownloadRate.Load(),
		MessagesReceived: s.stats.MessagesReceived.Load(),
		MessagesSent:     s.stats.MessagesSent.Load(),
		RequestsSent:     s.stats.RequestsSent.Load(),
		BlocksReceived:   s.stats.BlocksReceived.Load(),
		PiecesReceived:   s.stats.PiecesReceived.Load(),
		Errors:           s.stats.Errors.Load(),
		ConnectedAt:      s.stats.ConnectedAt,
	}
}

// rateLoop samples the downloaded-bytes counter once a second and maintains
// an exponentially-smoothed bytes/sec estimate in DownloadRate, using the
// same smoothing constant as the teacher's multi-peer swarm rate loop.
func (s *Session) rateLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	const alpha = 0.2
	var (
		ema    uint64
		inited bool
		last   = s.stats.Downloaded.Load()
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur := s.stats.Downloaded.Load()
			inst := cur - last
			last = cur

			if !inited {
				ema = inst
				inited = true
			} else {
				ema = uint64(alpha*float64(inst) + (1-alpha)*float64(ema))
			}
			s.stats.DownloadRate.Store(ema)
		}
	}
}
