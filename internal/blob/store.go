package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// ErrNotExist is returned when no blob is stored under a path.
var ErrNotExist = errors.New("blob does not exist")

// Store keeps file contents addressed by a relative slash-separated path.
type Store interface {
	Put(ctx context.Context, path string, r io.Reader) (int64, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Size(ctx context.Context, path string) (int64, error)
	Delete(ctx context.Context, path string) error
}

// ReaderAtCloser is what zip readers need from a stored archive.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

type readerAtOpener interface {
	OpenReaderAt(ctx context.Context, path string) (ReaderAtCloser, int64, error)
}

type nopReaderAtCloser struct {
	*bytes.Reader
}

func (nopReaderAtCloser) Close() error { return nil }

// OpenReaderAt opens a blob for random access, buffering it in memory when the store
// cannot provide random access itself.
func OpenReaderAt(ctx context.Context, s Store, p string) (ReaderAtCloser, int64, error) {
	if o, ok := s.(readerAtOpener); ok {
		return o.OpenReaderAt(ctx, p)
	}
	rc, err := s.Open(ctx, p)
	if err != nil {
		return nil, 0, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, 0, err
	}
	return nopReaderAtCloser{bytes.NewReader(data)}, int64(len(data)), nil
}

// PathGenerator produces unique blob paths of the form <base>/<prefix>-<hex><hex><ext>.
type PathGenerator struct {
	base   string
	prefix string
}

var (
	WallpaperImagePaths = MustPathGenerator("wallpapers", "wallpaper")
	WallpaperDummyPaths = MustPathGenerator("wallpapers", "dummy")
	WallpaperThumbPaths = MustPathGenerator("wallpapers", "thumbnail")
	ArchivePaths        = MustPathGenerator("zip_files", "zip")
)

func NewPathGenerator(base, prefix string) (*PathGenerator, error) {
	if path.IsAbs(base) || strings.HasPrefix(base, "/") {
		return nil, fmt.Errorf("base path %q must be relative", base)
	}
	if len(prefix) < 2 || len(prefix) > 16 {
		return nil, fmt.Errorf("name prefix %q must be within 2 to 16 characters", prefix)
	}
	for _, r := range prefix {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return nil, fmt.Errorf("name prefix %q can only contain ascii letters", prefix)
		}
	}
	return &PathGenerator{base: path.Clean(base), prefix: prefix}, nil
}

func MustPathGenerator(base, prefix string) *PathGenerator {
	g, err := NewPathGenerator(base, prefix)
	if err != nil {
		panic(err)
	}
	return g
}

// Generate keeps the extension of filename and discards the rest of it.
func (g *PathGenerator) Generate(filename string) string {
	name := fmt.Sprintf("%s-%s%s%s", g.prefix, hexID(), hexID(), path.Ext(filename))
	return path.Join(g.base, name)
}

func hexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// DeleteAll removes every path and returns the first failure; missing blobs are ignored.
func DeleteAll(ctx context.Context, s Store, paths ...string) error {
	var firstErr error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := s.Delete(ctx, p); err != nil && !errors.Is(err, ErrNotExist) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
