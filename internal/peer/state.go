package peer

// State is one point in a peer session's connection lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Handshaking
	AvailabilityExchange
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Handshaking:
		return "Handshaking"
	case AvailabilityExchange:
		return "AvailabilityExchange"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Status is a peer session's choke/interest/request-pipeline state. Both
// sides of a fresh connection start choked and not interested.
type Status struct {
	State State

	IsChoked         bool
	IsInterested     bool
	IsPeerChoked     bool
	IsPeerInterested bool

	// BestRequestQueueLen is nil until the download pipeline has started
	// (set to 4 upon a valid bitfield exchange, per this scope's fixed
	// pipeline depth).
	BestRequestQueueLen *int

	DownloadedBytes      uint64
	DownloadedBlockBytes uint64
}

func newStatus() Status {
	return Status{
		State:        Disconnected,
		IsChoked:     true,
		IsPeerChoked: true,
	}
}

// PeerInfo is what's known about the remote peer once the handshake
// completes.
type PeerInfo struct {
	PeerID [20]byte
	// HasBitfield is set once the peer's availability exchange bitfield has
	// been received and validated.
	HasBitfield bool
}
