// Package storageinfo is pure computation describing how a torrent's
// logical byte stream maps onto files and fixed-length pieces. It performs
// no I/O.
package storageinfo

import "fmt"

// BlockLen is the fixed block size used for all requests except possibly
// the final block of the final piece, which may be shorter but never
// longer.
const BlockLen = 16 * 1024

// ErrInvalidPieceIndex is returned when a piece index is out of range.
var ErrInvalidPieceIndex = fmt.Errorf("storageinfo: invalid piece index")

// FileInfo describes one file within the torrent's concatenated byte
// stream.
type FileInfo struct {
	// Path is the file's path relative to the download directory: the
	// file's own relative path for an archive, the torrent name for a
	// single-file torrent.
	Path string
	// Len is the file's length in bytes.
	Len int64
	// TorrentOffset is the byte offset of the file's first byte when all
	// files in the torrent are concatenated in metainfo order.
	TorrentOffset int64
}

// end returns the file's exclusive end offset in the torrent-wide stream.
func (f FileInfo) end() int64 { return f.TorrentOffset + f.Len }

// FileSlice is the portion of a file a given torrent-wide byte range maps
// onto.
type FileSlice struct {
	Offset int64 // offset within the file
	Len    int64 // clamped length
}

// GetSlice returns the portion of f that lies at torrentOffset within the
// file, clamped to the file's remaining length.
//
// It panics if torrentOffset is before the file's start or at/after its
// end — per spec this is a programmer error (the caller is expected to have
// already located the right file via FilesIntersectingPiece/Bytes).
func (f FileInfo) GetSlice(torrentOffset int64, length int64) FileSlice {
	if torrentOffset < f.TorrentOffset || torrentOffset >= f.end() {
		panic(fmt.Sprintf(
			"storageinfo: offset %d out of range for file %q [%d, %d)",
			torrentOffset, f.Path, f.TorrentOffset, f.end(),
		))
	}

	offsetInFile := torrentOffset - f.TorrentOffset
	remaining := f.end() - torrentOffset
	if length > remaining {
		length = remaining
	}

	return FileSlice{Offset: offsetInFile, Len: length}
}

// Structure distinguishes a single-file torrent from a multi-file archive.
type Structure int

const (
	SingleFile Structure = iota
	Archive
)

// Range is a left-inclusive, right-exclusive index range [Start, End).
type Range struct {
	Start int
	End   int
}

// Empty reports whether the range contains no indices.
func (r Range) Empty() bool { return r.Start >= r.End }

// Len returns the number of indices the range covers.
func (r Range) Len() int {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start
}

// Info describes the storage layout of an entire torrent.
type Info struct {
	PieceCount   int
	PieceLen     uint32
	LastPieceLen uint32
	DownloadLen  int64
	DownloadDir  string
	Structure    Structure
	Files        []FileInfo // single element when Structure == SingleFile
}

// New derives a storage Info from the torrent's piece length, total size and
// file list. downloadDir is the directory under which each FileInfo.Path is
// created; for an archive the caller passes the torrent's own directory
// (download_dir/torrent_name), so files land at
// download_dir/torrent_name/<relative path>.
func New(pieceLen uint32, downloadLen int64, downloadDir string, files []FileInfo) (Info, error) {
	if pieceLen == 0 {
		return Info{}, fmt.Errorf("storageinfo: piece length must be > 0")
	}
	if downloadLen <= 0 {
		return Info{}, fmt.Errorf("storageinfo: download length must be > 0")
	}
	if len(files) == 0 {
		return Info{}, fmt.Errorf("storageinfo: no files")
	}

	pieceCount := int((uint64(downloadLen) + uint64(pieceLen) - 1) / uint64(pieceLen))
	lastLen := uint32(uint64(downloadLen) % uint64(pieceLen))
	if lastLen == 0 {
		lastLen = pieceLen
	}

	structure := SingleFile
	if len(files) > 1 {
		structure = Archive
	}

	return Info{
		PieceCount:   pieceCount,
		PieceLen:     pieceLen,
		LastPieceLen: lastLen,
		DownloadLen:  downloadLen,
		DownloadDir:  downloadDir,
		Structure:    structure,
		Files:        files,
	}, nil
}

// PieceLenAt returns the length of the piece at index: PieceLen for every
// piece but the last, LastPieceLen for the last.
func (s Info) PieceLenAt(index int) (uint32, error) {
	if index < 0 || index >= s.PieceCount {
		return 0, ErrInvalidPieceIndex
	}
	if index == s.PieceCount-1 {
		return s.LastPieceLen, nil
	}
	return s.PieceLen, nil
}

// PieceByteRange returns the [start, end) byte range of the piece at index
// within the torrent-wide stream.
func (s Info) PieceByteRange(index int) (start, end int64, err error) {
	length, err := s.PieceLenAt(index)
	if err != nil {
		return 0, 0, err
	}
	start = int64(index) * int64(s.PieceLen)
	end = start + int64(length)
	return start, end, nil
}

// FilesIntersectingPiece returns the left-inclusive range of file indices
// whose byte ranges overlap the piece's byte range. For single-file
// torrents this is always {0, 1}.
func (s Info) FilesIntersectingPiece(index int) (Range, error) {
	start, end, err := s.PieceByteRange(index)
	if err != nil {
		return Range{}, err
	}
	return s.FilesIntersectingBytes(start, end), nil
}

// FilesIntersectingBytes finds the left-inclusive range of file indices
// intersecting [start, end):
//
//  1. Find the first file whose [torrent_offset, torrent_offset+len)
//     contains byte_range.start.
//  2. Extend the range to include every subsequent file whose
//     torrent_offset lies strictly within byte_range.
//  3. If no file contains byte_range.start, return the empty range.
func (s Info) FilesIntersectingBytes(start, end int64) Range {
	first := -1
	for i, f := range s.Files {
		if start >= f.TorrentOffset && start < f.end() {
			first = i
			break
		}
	}
	if first == -1 {
		return Range{}
	}

	last := first + 1
	for last < len(s.Files) && s.Files[last].TorrentOffset < end {
		last++
	}

	return Range{Start: first, End: last}
}

// BlockCount returns ceil(pieceLen / BlockLen).
func BlockCount(pieceLen uint32) int {
	return int((pieceLen + BlockLen - 1) / BlockLen)
}

// BlockLenAt returns the length of block k within a piece of the given
// length: BlockLen for every block but the last, the remainder for the
// last.
//
// It panics if k >= BlockCount(pieceLen).
func BlockLenAt(pieceLen uint32, k int) uint32 {
	count := BlockCount(pieceLen)
	if k < 0 || k >= count {
		panic(fmt.Sprintf(
			"storageinfo: block index %d out of range (count=%d)", k, count,
		))
	}
	if k == count-1 {
		rem := pieceLen % BlockLen
		if rem == 0 {
			return BlockLen
		}
		return rem
	}
	return BlockLen
}

// BlockOffset returns the byte offset within the piece of block k.
func BlockOffset(k int) uint32 {
	return uint32(k) * BlockLen
}
