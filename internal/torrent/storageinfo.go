package torrent

import (
	"path/filepath"

	"github.com/talonbt/talon/internal/meta"
	"github.com/talonbt/talon/internal/storageinfo"
)

// buildStorageInfo derives the storageinfo.Info describing where a parsed
// metainfo's bytes land on disk, per spec.md §3/§6.3: a single file is
// created directly under downloadDir named after the torrent; an archive's
// files are created under downloadDir/<torrent name>/<relative path>, each
// FileInfo's TorrentOffset assigned in metainfo file order.
func buildStorageInfo(m *meta.Metainfo, downloadDir string) (storageinfo.Info, error) {
	pieceLen := uint32(m.Info.PieceLength)

	if len(m.Info.Files) == 0 {
		files := []storageinfo.FileInfo{{
			Path:          m.Info.Name,
			Len:           m.Info.Length,
			TorrentOffset: 0,
		}}
		return storageinfo.New(pieceLen, m.Size(), downloadDir, files)
	}

	archiveDir := downloadDir
	files := make([]storageinfo.FileInfo, 0, len(m.Info.Files))
	var offset int64
	for _, f := range m.Info.Files {
		files = append(files, storageinfo.FileInfo{
			Path:          filepath.Join(f.Path...),
			Len:           f.Length,
			TorrentOffset: offset,
		})
		offset += f.Length
	}

	return storageinfo.New(pieceLen, m.Size(), filepath.Join(archiveDir, m.Info.Name), files)
}
