// Package archive reads uploaded zip archives: integrity checking, selecting the image
// entries worth ingesting, and reading single entries back for deferred tasks.
package archive

import (
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	"wallpaperzzz/internal/models"
	"wallpaperzzz/internal/transcoder"
)

// Open parses the central directory and reads every member through its checksum.
// Any failure is reported as models.ErrBadArchive.
func Open(ra io.ReaderAt, size int64) (*zip.Reader, error) {
	const op = "archive.Open"

	zr, err := NewReader(ra, size)
	if err != nil {
		return nil, err
	}
	if bad, err := Test(zr); err != nil {
		return nil, fmt.Errorf("%s: %w: %w: %v", op, models.ErrBadArchive,
			models.NewValidationError("Bad file found in zip: "+bad), err)
	}
	return zr, nil
}

// NewReader parses the central directory only. Deferred tasks use it to reach a
// single entry of an archive that was already checked on upload.
func NewReader(ra io.ReaderAt, size int64) (*zip.Reader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("archive.NewReader: %w: %w: %v", models.ErrBadArchive,
			models.NewValidationError("Invalid zip file."), err)
	}
	return zr, nil
}

// Test returns the name of the first member whose content cannot be read back intact.
func Test(zr *zip.Reader) (string, error) {
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := drain(f); err != nil {
			return f.Name, err
		}
	}
	return "", nil
}

func drain(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// Scan returns the paths of all root-level and nested entries carrying a source
// image extension. Extensions are compared case-sensitively.
func Scan(zr *zip.Reader) []string {
	exts := transcoder.Extensions(transcoder.SourceFormat)
	var paths []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if matchesExtension(f.Name, exts) {
			paths = append(paths, f.Name)
		}
	}
	sort.Strings(paths)
	return paths
}

func matchesExtension(name string, exts []string) bool {
	ext := path.Ext(name)
	if ext == "" || strings.HasSuffix(name, "/") {
		return false
	}
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// ErrEntryNotFound is returned by ReadEntry for a path absent from the archive.
var ErrEntryNotFound = errors.New("entry not found in archive")

// ReadEntry reads one member fully. limit caps the bytes read; a member larger than
// limit is returned truncated to limit+1 bytes so callers can detect the overflow.
func ReadEntry(zr *zip.Reader, name string, limit int64) ([]byte, error) {
	const op = "archive.ReadEntry"

	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		defer rc.Close()

		var r io.Reader = rc
		if limit > 0 {
			r = io.LimitReader(rc, limit+1)
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s: %s: %w", op, name, ErrEntryNotFound)
}
