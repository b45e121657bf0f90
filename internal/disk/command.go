package disk

import (
	"crypto/sha1"

	"github.com/google/uuid"
	"github.com/talonbt/talon/internal/storageinfo"
)

// BlockInfo identifies a single block within a torrent, as addressed by the
// wire protocol's Request/Piece messages.
type BlockInfo struct {
	PieceIndex int
	Offset     uint32
	Len        uint32
}

// CommandKind tags the variant carried by a Command.
type CommandKind int

const (
	CmdNewTorrent CommandKind = iota
	CmdWriteBlock
	CmdShutdown
)

// Command is a single disk-task instruction, sent over the channel
// returned by New. Only the fields relevant to Kind are populated.
type Command struct {
	Kind CommandKind

	TorrentID uuid.UUID

	// CmdNewTorrent
	Info        storageinfo.Info
	PieceHashes [][sha1.Size]byte

	// CmdWriteBlock
	Block BlockInfo
	Data  []byte
}

// NewTorrentCommand allocates storage for a new torrent.
func NewTorrentCommand(id uuid.UUID, info storageinfo.Info, pieceHashes [][sha1.Size]byte) Command {
	return Command{Kind: CmdNewTorrent, TorrentID: id, Info: info, PieceHashes: pieceHashes}
}

// WriteBlockCommand queues a downloaded block for assembly and writing.
func WriteBlockCommand(id uuid.UUID, block BlockInfo, data []byte) Command {
	return Command{Kind: CmdWriteBlock, TorrentID: id, Block: block, Data: data}
}

// ShutdownCommand requests the disk task stop after draining in-flight
// writes.
func ShutdownCommand() Command {
	return Command{Kind: CmdShutdown}
}
