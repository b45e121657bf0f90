package peer

import (
	"context"
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/talonbt/talon/internal/bitfield"
	"github.com/talonbt/talon/internal/disk"
	"github.com/talonbt/talon/internal/picker"
	"github.com/talonbt/talon/internal/storageinfo"
	"github.com/talonbt/talon/internal/wire"
)

func seedBitfield(pieceCount int) []byte {
	bf := bitfield.New(pieceCount)
	for i := 0; i < pieceCount; i++ {
		bf.Set(i)
	}
	return bf.Bytes()
}

// acceptOne listens on an ephemeral localhost port and hands the first
// accepted connection to script, run in its own goroutine. It returns the
// listener's address for use as a Session's dial target.
func acceptOne(t *testing.T, script func(conn net.Conn)) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		script(conn)
	}()

	return ln.Addr()
}

func newTestSession(t *testing.T, addr net.Addr, info storageinfo.Info) (*Session, <-chan disk.Command) {
	t.Helper()
	infoHash := sha1.Sum([]byte("info"))
	localID := sha1.Sum([]byte("local-peer-id-2026"))
	diskCmds := make(chan disk.Command, 16)

	s := New(Opts{
		Addr:        addr,
		InfoHash:    infoHash,
		LocalPeerID: localID,
		TorrentID:   uuid.New(),
		Storage:     info,
		Picker:      picker.New(info.PieceCount),
		DiskCmds:    diskCmds,
		DialTimeout: 2 * time.Second,
		IOTimeout:   2 * time.Second,
	})
	return s, diskCmds
}

func singleFileInfo(t *testing.T, dataLen int64, pieceLen uint32) storageinfo.Info {
	t.Helper()
	info, err := storageinfo.New(pieceLen, dataLen, t.TempDir(), []storageinfo.FileInfo{
		{Path: "file.bin", Len: dataLen, TorrentOffset: 0},
	})
	if err != nil {
		t.Fatalf("storageinfo.New: %v", err)
	}
	return info
}

// TestSession_SingleBlockPiece drives a session through handshake,
// availability exchange, and a full single-block piece download against a
// scripted fake seed.
func TestSession_SingleBlockPiece(t *testing.T) {
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(i)
	}
	info := singleFileInfo(t, int64(len(data)), uint32(len(data)))

	infoHashWant := sha1.Sum([]byte("info"))

	addr := acceptOne(t, func(conn net.Conn) {
		defer conn.Close()

		localID := sha1.Sum([]byte("seed-peer-id"))
		hs := wire.NewHandshake(infoHashWant, localID)
		if _, err := hs.Exchange(conn, true); err != nil {
			return
		}

		if err := wire.WriteMessage(conn, wire.MessageBitfield(seedBitfield(1))); err != nil {
			return
		}

		msg, err := wire.ReadMessage(conn)
		if err != nil || msg.ID != wire.Interested {
			return
		}
		if err := wire.WriteMessage(conn, wire.MessageUnchoke()); err != nil {
			return
		}

		msg, err = wire.ReadMessage(conn)
		if err != nil || msg.ID != wire.Request {
			return
		}
		index, begin, length, ok := msg.ParseRequest()
		if !ok {
			return
		}
		wire.WriteMessage(conn, wire.MessagePiece(index, begin, data[begin:begin+length]))
	})

	s, diskCmds := newTestSession(t, addr, info)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case cmd := <-diskCmds:
		if cmd.Kind != disk.CmdWriteBlock {
			t.Fatalf("expected a write-block command, got %v", cmd.Kind)
		}
		if cmd.Block.PieceIndex != 0 || cmd.Block.Offset != 0 || int(cmd.Block.Len) != len(data) {
			t.Fatalf("unexpected block info: %+v", cmd.Block)
		}
		if string(cmd.Data) != string(data) {
			t.Fatalf("unexpected block data")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write-block command")
	}

	if !s.picker.HavePiece(0) {
		t.Fatalf("expected picker to record the piece as received")
	}

	cancel()
	<-errCh
}

// TestSession_MultiBlockPiece_LastBlockShort exercises a piece spanning
// three blocks, the last shorter than BlockLen, verifying all three blocks
// are requested and forwarded to disk before the piece is marked received.
func TestSession_MultiBlockPiece_LastBlockShort(t *testing.T) {
	const overlap = 234
	dataLen := int64(2*storageinfo.BlockLen + overlap)
	data := make([]byte, dataLen)
	for i := range data {
		data[i] = byte(i)
	}
	info := singleFileInfo(t, dataLen, uint32(dataLen))
	infoHashWant := sha1.Sum([]byte("info"))

	addr := acceptOne(t, func(conn net.Conn) {
		defer conn.Close()

		localID := sha1.Sum([]byte("seed-peer-id"))
		hs := wire.NewHandshake(infoHashWant, localID)
		if _, err := hs.Exchange(conn, true); err != nil {
			return
		}
		if err := wire.WriteMessage(conn, wire.MessageBitfield(seedBitfield(1))); err != nil {
			return
		}
		msg, err := wire.ReadMessage(conn)
		if err != nil || msg.ID != wire.Interested {
			return
		}
		if err := wire.WriteMessage(conn, wire.MessageUnchoke()); err != nil {
			return
		}

		for i := 0; i < 3; i++ {
			msg, err := wire.ReadMessage(conn)
			if err != nil || msg.ID != wire.Request {
				return
			}
			index, begin, length, ok := msg.ParseRequest()
			if !ok {
				return
			}
			if err := wire.WriteMessage(conn, wire.MessagePiece(index, begin, data[begin:begin+length])); err != nil {
				return
			}
		}
	})

	s, diskCmds := newTestSession(t, addr, info)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	got := make(map[uint32]int)
	for len(got) < 3 {
		select {
		case cmd := <-diskCmds:
			got[cmd.Block.Offset] = int(cmd.Block.Len)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %d of 3 blocks", len(got))
		}
	}

	if got[0] != storageinfo.BlockLen || got[storageinfo.BlockLen] != storageinfo.BlockLen || got[2*storageinfo.BlockLen] != overlap {
		t.Fatalf("unexpected block lengths: %+v", got)
	}

	cancel()
	<-errCh
}

// TestSession_PeerNotSeed_RejectsPartialBitfield verifies that a bitfield
// missing any of the torrent's pieces is treated as a protocol error, since
// this scope only ever dials seeds.
func TestSession_PeerNotSeed_RejectsPartialBitfield(t *testing.T) {
	info := singleFileInfo(t, 32, 16) // 2 pieces
	infoHashWant := sha1.Sum([]byte("info"))

	addr := acceptOne(t, func(conn net.Conn) {
		defer conn.Close()
		localID := sha1.Sum([]byte("seed-peer-id"))
		hs := wire.NewHandshake(infoHashWant, localID)
		if _, err := hs.Exchange(conn, true); err != nil {
			return
		}
		partial := bitfield.New(2)
		partial.Set(0) // missing piece 1
		wire.WriteMessage(conn, wire.MessageBitfield(partial.Bytes()))
	})

	s, _ := newTestSession(t, addr, info)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.Run(ctx)
	if err != ErrPeerNotSeed {
		t.Fatalf("want ErrPeerNotSeed, got %v", err)
	}
}

// TestSession_UnsolicitedBlock_Dropped verifies a Piece message that wasn't
// requested is silently discarded: no disk command is produced and the
// session keeps running.
func TestSession_UnsolicitedBlock_Dropped(t *testing.T) {
	data := make([]byte, 16)
	info := singleFileInfo(t, int64(len(data)), uint32(len(data)))
	infoHashWant := sha1.Sum([]byte("info"))

	requestSeen := make(chan struct{}, 1)

	addr := acceptOne(t, func(conn net.Conn) {
		defer conn.Close()
		localID := sha1.Sum([]byte("seed-peer-id"))
		hs := wire.NewHandshake(infoHashWant, localID)
		if _, err := hs.Exchange(conn, true); err != nil {
			return
		}
		if err := wire.WriteMessage(conn, wire.MessageBitfield(seedBitfield(1))); err != nil {
			return
		}
		msg, err := wire.ReadMessage(conn)
		if err != nil || msg.ID != wire.Interested {
			return
		}
		if err := wire.WriteMessage(conn, wire.MessageUnchoke()); err != nil {
			return
		}

		msg, err = wire.ReadMessage(conn)
		if err != nil || msg.ID != wire.Request {
			return
		}
		requestSeen <- struct{}{}

		// Send a block for an offset never requested (piece only has one
		// block at offset 0); the real request is left unanswered for the
		// test's purposes.
		wire.WriteMessage(conn, wire.MessagePiece(0, 9999, []byte("bogus")))
	})

	s, diskCmds := newTestSession(t, addr, info)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-requestSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
	}

	select {
	case cmd := <-diskCmds:
		t.Fatalf("unsolicited block should not reach disk, got %+v", cmd)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	<-errCh
}

// TestSession_ChokeClearsOutgoingRequests_UnchokeResumes verifies that a
// Choke mid-flight clears the outgoing request queue, and a subsequent
// Unchoke re-issues requests for the same in-progress piece download rather
// than starting over.
func TestSession_ChokeClearsOutgoingRequests_UnchokeResumes(t *testing.T) {
	const overlap = 234
	dataLen := int64(2*storageinfo.BlockLen + overlap)
	info := singleFileInfo(t, dataLen, uint32(dataLen))
	infoHashWant := sha1.Sum([]byte("info"))

	addr := acceptOne(t, func(conn net.Conn) {
		defer conn.Close()
		localID := sha1.Sum([]byte("seed-peer-id"))
		hs := wire.NewHandshake(infoHashWant, localID)
		if _, err := hs.Exchange(conn, true); err != nil {
			return
		}
		if err := wire.WriteMessage(conn, wire.MessageBitfield(seedBitfield(1))); err != nil {
			return
		}
		msg, err := wire.ReadMessage(conn)
		if err != nil || msg.ID != wire.Interested {
			return
		}
		if err := wire.WriteMessage(conn, wire.MessageUnchoke()); err != nil {
			return
		}

		// Drain the first wave of 3 requests, then choke.
		for i := 0; i < 3; i++ {
			if _, err := wire.ReadMessage(conn); err != nil {
				return
			}
		}
		if err := wire.WriteMessage(conn, wire.MessageChoke()); err != nil {
			return
		}

		time.Sleep(200 * time.Millisecond)

		if err := wire.WriteMessage(conn, wire.MessageUnchoke()); err != nil {
			return
		}
		// The session must re-request the same 3 blocks (none were
		// acknowledged yet).
		for i := 0; i < 3; i++ {
			if _, err := wire.ReadMessage(conn); err != nil {
				return
			}
		}
	})

	s, _ := newTestSession(t, addr, info)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	time.Sleep(500 * time.Millisecond)

	s.mu.Lock()
	choked := s.status.IsChoked
	outstanding := len(s.outgoingRequests)
	s.mu.Unlock()
	if choked {
		t.Fatalf("session should have been unchoked again by now")
	}
	if outstanding == 0 {
		t.Fatalf("expected requests to have been resent after unchoke")
	}

	cancel()
	<-errCh
}
