package disk

import (
	"context"
	"crypto/sha1"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/talonbt/talon/internal/storageinfo"
)

func newSingleFileInfo(t *testing.T, dir string, data []byte, pieceLen uint32) storageinfo.Info {
	t.Helper()
	info, err := storageinfo.New(pieceLen, int64(len(data)), dir, []storageinfo.FileInfo{
		{Path: "file.bin", Len: int64(len(data)), TorrentOffset: 0},
	})
	if err != nil {
		t.Fatalf("storageinfo.New: %v", err)
	}
	return info
}

func pieceHashesOf(data []byte, pieceLen uint32) [][sha1.Size]byte {
	var hashes [][sha1.Size]byte
	for off := 0; off < len(data); off += int(pieceLen) {
		end := off + int(pieceLen)
		if end > len(data) {
			end = len(data)
		}
		hashes = append(hashes, sha1.Sum(data[off:end]))
	}
	return hashes
}

func awaitAllocation(t *testing.T, alerts <-chan Alert) AllocationResult {
	t.Helper()
	select {
	case a := <-alerts:
		return a.Allocation
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for allocation alert")
	}
	return AllocationResult{}
}

func awaitBatchWrite(t *testing.T, alerts <-chan TorrentAlert) BatchWriteResult {
	t.Helper()
	select {
	case a := <-alerts:
		return a.Write
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch write alert")
	}
	return BatchWriteResult{}
}

func TestDisk_WriteWholePiece_ValidHash(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, storageinfo.BlockLen+100)
	for i := range data {
		data[i] = byte(i)
	}
	const pieceLen = uint32(storageinfo.BlockLen + 100)
	info := newSingleFileInfo(t, dir, data, pieceLen)
	hashes := pieceHashesOf(data, pieceLen)

	d, cmds, alerts := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	id := uuid.New()
	cmds <- NewTorrentCommand(id, info, hashes)
	alloc := awaitAllocation(t, alerts)
	if alloc.Err != nil {
		t.Fatalf("allocation error: %v", alloc.Err)
	}

	cmds <- WriteBlockCommand(id, BlockInfo{PieceIndex: 0, Offset: 0, Len: storageinfo.BlockLen}, data[:storageinfo.BlockLen])
	cmds <- WriteBlockCommand(id, BlockInfo{PieceIndex: 0, Offset: storageinfo.BlockLen, Len: 100}, data[storageinfo.BlockLen:])

	res := awaitBatchWrite(t, alloc.Alerts)
	if res.Err != nil {
		t.Fatalf("batch write error: %v", res.Err)
	}
	if !res.IsPieceValid {
		t.Fatalf("expected valid piece")
	}
	if len(res.Blocks) != 2 {
		t.Fatalf("expected 2 blocks reported, got %d", len(res.Blocks))
	}

	cmds <- ShutdownCommand()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestDisk_InvalidHash_ReportedNotValid(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 16)
	const pieceLen = uint32(16)
	info := newSingleFileInfo(t, dir, data, pieceLen)
	// Deliberately wrong hash.
	hashes := [][sha1.Size]byte{sha1.Sum([]byte("not the right data"))}

	d, cmds, alerts := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	id := uuid.New()
	cmds <- NewTorrentCommand(id, info, hashes)
	alloc := awaitAllocation(t, alerts)
	if alloc.Err != nil {
		t.Fatalf("allocation error: %v", alloc.Err)
	}

	cmds <- WriteBlockCommand(id, BlockInfo{PieceIndex: 0, Offset: 0, Len: 16}, data)

	res := awaitBatchWrite(t, alloc.Alerts)
	if res.Err != nil {
		t.Fatalf("unexpected write error for a hash mismatch: %v", res.Err)
	}
	if res.IsPieceValid {
		t.Fatalf("expected invalid piece")
	}

	cmds <- ShutdownCommand()
	<-done
}

func TestDisk_DuplicateNewTorrent_Alerted(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 16)
	info := newSingleFileInfo(t, dir, data, 16)
	hashes := pieceHashesOf(data, 16)

	d, cmds, alerts := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	id := uuid.New()
	cmds <- NewTorrentCommand(id, info, hashes)
	first := awaitAllocation(t, alerts)
	if first.Err != nil {
		t.Fatalf("first allocation error: %v", first.Err)
	}

	cmds <- NewTorrentCommand(id, info, hashes)
	second := awaitAllocation(t, alerts)
	if second.Err != ErrTorrentAlreadyExists {
		t.Fatalf("want ErrTorrentAlreadyExists, got %v", second.Err)
	}

	cmds <- ShutdownCommand()
	<-done
}

func TestDisk_WriteBlockForUnknownTorrent_NonFatal(t *testing.T) {
	d, cmds, _ := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cmds <- WriteBlockCommand(uuid.New(), BlockInfo{PieceIndex: 0, Offset: 0, Len: 4}, []byte("data"))
	cmds <- ShutdownCommand()

	if err := <-done; err != nil {
		t.Fatalf("Run should not fail when a WriteBlock references an unknown torrent: %v", err)
	}
}
