package service

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/noah-isme/marches-api/internal/dto"
)

// maxExtractedEntrySize caps one decompressed zip entry.
const maxExtractedEntrySize = 200 << 20

type fileStore interface {
	SaveStream(name string, r io.Reader) (int64, error)
	Delete(name string) error
}

// storePromotionFiles writes uploads under dir. Zip archives are expanded and
// their junk entries dropped. On error every file written so far is removed.
func storePromotionFiles(store fileStore, dir string, uploads []dto.UploadFile) ([]StoredFile, error) {
	var stored []StoredFile
	used := map[string]int{}
	save := func(name string, r io.Reader) error {
		clean := safeFileName(name)
		if n := used[clean]; n > 0 {
			ext := filepath.Ext(clean)
			clean = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(clean, ext), n, ext)
		}
		used[safeFileName(name)]++
		rel := path.Join(dir, clean)
		if _, err := store.SaveStream(rel, r); err != nil {
			return fmt.Errorf("store %s: %w", name, err)
		}
		stored = append(stored, StoredFile{Name: clean, Path: rel})
		return nil
	}

	for _, upload := range uploads {
		if upload.Content == nil {
			continue
		}
		if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
			removeStored(store, stored)
			return nil, err
		}
		var err error
		if strings.EqualFold(filepath.Ext(upload.Filename), ".zip") {
			err = extractZip(upload, save)
		} else {
			err = save(upload.Filename, upload.Content)
		}
		if err != nil {
			removeStored(store, stored)
			return nil, err
		}
	}
	return stored, nil
}

func extractZip(upload dto.UploadFile, save func(string, io.Reader) error) error {
	readerAt, size, err := asReaderAt(upload)
	if err != nil {
		return err
	}
	archive, err := zip.NewReader(readerAt, size)
	if err != nil {
		return fmt.Errorf("open zip %s: %w", upload.Filename, err)
	}
	for _, entry := range archive.File {
		if entry.FileInfo().IsDir() || skipArchiveEntry(entry.Name) {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", entry.Name, err)
		}
		err = save(path.Base(entry.Name), io.LimitReader(rc, maxExtractedEntrySize))
		rc.Close() //nolint:errcheck
		if err != nil {
			return err
		}
	}
	return nil
}

func asReaderAt(upload dto.UploadFile) (io.ReaderAt, int64, error) {
	if ra, ok := upload.Content.(io.ReaderAt); ok && upload.Size > 0 {
		return ra, upload.Size, nil
	}
	raw, err := io.ReadAll(upload.Content)
	if err != nil {
		return nil, 0, fmt.Errorf("read zip %s: %w", upload.Filename, err)
	}
	return bytes.NewReader(raw), int64(len(raw)), nil
}

// skipArchiveEntry drops hidden files, macOS resource forks and Windows thumbnails.
func skipArchiveEntry(name string) bool {
	for _, part := range strings.Split(strings.ReplaceAll(name, "\\", "/"), "/") {
		if part == "__MACOSX" || strings.HasPrefix(part, ".") {
			return true
		}
	}
	return strings.EqualFold(path.Base(name), "Thumbs.db")
}

func safeFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	clean := strings.Trim(b.String(), "._")
	if clean == "" {
		clean = "fichier"
	}
	return clean
}

func removeStored(store fileStore, files []StoredFile) {
	for _, f := range files {
		_ = store.Delete(f.Path)
	}
}
