package loft

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// MaxImportSize caps the uncompressed size of an imported database entry.
const MaxImportSize int64 = 1 << 30

// importEntryNames are accepted database entry names, in order of preference.
var importEntryNames = []string{DatabaseFileName, "db.sqlite"}

// Import reads a zip archive, extracts its database entry and saves it as the
// current database of the workspace at path. The entry is matched on its base
// name at any depth; database.sqlite wins over db.sqlite. The bytes go through
// Save, so they are validated before anything is written.
func (s *Service) Import(ctx context.Context, path string, archive io.ReaderAt, size int64) error {
	zr, err := zip.NewReader(archive, size)
	if err != nil {
		return &Error{Kind: KindStructural, Path: path, Reason: ReasonUnreadable, Message: "reading import archive", Err: err}
	}

	entry := findImportEntry(zr.File)
	if entry == nil {
		return &Error{
			Kind:    KindStructural,
			Path:    path,
			Reason:  ReasonUnreadable,
			Message: fmt.Sprintf("import archive has no %s entry", strings.Join(importEntryNames, " or ")),
		}
	}
	if entry.UncompressedSize64 > uint64(MaxImportSize) {
		return &Error{
			Kind:    KindStructural,
			Path:    path,
			Reason:  ReasonUnreadable,
			Message: fmt.Sprintf("import entry %s is too large (%d bytes)", entry.Name, entry.UncompressedSize64),
		}
	}

	data, err := readZipEntry(entry)
	if err != nil {
		return &Error{Kind: KindStructural, Path: path, Reason: ReasonUnreadable, Message: "extracting " + entry.Name, Err: err}
	}

	s.logger.Info("importing database", "path", path, "entry", entry.Name, "size", len(data))
	return s.Save(ctx, path, data)
}

func findImportEntry(files []*zip.File) *zip.File {
	for _, want := range importEntryNames {
		for _, f := range files {
			if f.FileInfo().IsDir() {
				continue
			}
			if path.Base(strings.ReplaceAll(f.Name, "\\", "/")) == want {
				return f
			}
		}
	}
	return nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	// The header size can lie; never read past the cap.
	data, err := io.ReadAll(io.LimitReader(rc, MaxImportSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxImportSize {
		return nil, fmt.Errorf("entry exceeds %d bytes", MaxImportSize)
	}
	return data, nil
}
