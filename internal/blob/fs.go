package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FSStore stores blobs as files under a root directory.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	const op = "blob.NewFSStore"

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) resolve(p string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("blob path %q escapes the store root", p)
	}
	return filepath.Join(s.root, clean), nil
}

// Put writes to a temporary file first so readers never observe a partial blob.
func (s *FSStore) Put(ctx context.Context, p string, r io.Reader) (int64, error) {
	const op = "blob.FSStore.Put"

	full, err := s.resolve(p)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *FSStore) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	f, err := s.open(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *FSStore) OpenReaderAt(ctx context.Context, p string) (ReaderAtCloser, int64, error) {
	f, err := s.open(p)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("blob.FSStore.OpenReaderAt: %w", err)
	}
	return f, info.Size(), nil
}

func (s *FSStore) open(p string) (*os.File, error) {
	const op = "blob.FSStore.Open"

	full, err := s.resolve(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %s: %w", op, p, ErrNotExist)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return f, nil
}

func (s *FSStore) Size(ctx context.Context, p string) (int64, error) {
	const op = "blob.FSStore.Size"

	full, err := s.resolve(p)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%s: %s: %w", op, p, ErrNotExist)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return info.Size(), nil
}

func (s *FSStore) Delete(ctx context.Context, p string) error {
	const op = "blob.FSStore.Delete"

	full, err := s.resolve(p)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %s: %w", op, p, ErrNotExist)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
