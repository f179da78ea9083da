package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"wallpaperzzz/internal/models"
)

// memRepo is an in-memory Repository and SettingsProvider.
type memRepo struct {
	mu           sync.Mutex
	maxSize      int64
	dimensions   []models.Dimension
	wallpapers   map[uuid.UUID]*models.Wallpaper
	batches      map[uuid.UUID]*models.Batch
	batchErrors  []models.BatchError
	beforeAttach func(w *models.Wallpaper)
}

func newMemRepo(dims ...models.Dimension) *memRepo {
	return &memRepo{
		maxSize:    int64(models.DefaultMaxImageFileSizeKB) * 1024,
		dimensions: dims,
		wallpapers: make(map[uuid.UUID]*models.Wallpaper),
		batches:    make(map[uuid.UUID]*models.Batch),
	}
}

func (r *memRepo) MaxImageFileSize(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxSize, nil
}

func (r *memRepo) setMaxSize(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxSize = n
}

func (r *memRepo) FindDimension(ctx context.Context, width, height int) (models.Dimension, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.dimensions {
		if d.Width == width && d.Height == height {
			return d, true, nil
		}
	}
	return models.Dimension{}, false, nil
}

func (r *memRepo) CreateWallpaper(ctx context.Context, w *models.Wallpaper) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w.CreatedAt = time.Now()
	cp := *w
	r.wallpapers[w.ID] = &cp
	return nil
}

func (r *memRepo) GetWallpaper(ctx context.Context, id uuid.UUID) (*models.Wallpaper, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallpapers[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, models.ErrWallpaperNotFound)
	}
	cp := *w
	return &cp, nil
}

func (r *memRepo) AttachDerivatives(ctx context.Context, id uuid.UUID, dummyPath, thumbnailPath string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallpapers[id]
	if !ok {
		return false, nil
	}
	if r.beforeAttach != nil {
		r.beforeAttach(w)
	}
	if w.DummyPath != "" {
		return false, nil
	}
	w.DummyPath, w.ThumbnailPath = dummyPath, thumbnailPath
	return true, nil
}

func (r *memRepo) DeleteWallpaper(ctx context.Context, id uuid.UUID) (*models.Wallpaper, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallpapers[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, models.ErrWallpaperNotFound)
	}
	delete(r.wallpapers, id)
	return w, nil
}

func (r *memRepo) CreateBatch(ctx context.Context, b *models.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b.StartedAt = time.Now()
	cp := *b
	r.batches[b.ID] = &cp
	return nil
}

func (r *memRepo) DeleteBatch(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, models.ErrBatchNotFound)
	}
	delete(r.batches, id)
	kept := r.batchErrors[:0]
	for _, e := range r.batchErrors {
		if e.BatchID != id {
			kept = append(kept, e)
		}
	}
	r.batchErrors = kept
	return b, nil
}

func (r *memRepo) CreateBatchError(ctx context.Context, e *models.BatchError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[e.BatchID]; !ok {
		return fmt.Errorf("%s: %w", e.BatchID, models.ErrBatchNotFound)
	}
	e.ID = int64(len(r.batchErrors) + 1)
	r.batchErrors = append(r.batchErrors, *e)
	return nil
}

func (r *memRepo) ListBatchErrors(ctx context.Context, batchID uuid.UUID) ([]models.BatchError, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BatchError
	for _, e := range r.batchErrors {
		if e.BatchID == batchID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memRepo) allWallpapers() []models.Wallpaper {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Wallpaper, 0, len(r.wallpapers))
	for _, w := range r.wallpapers {
		out = append(out, *w)
	}
	return out
}

func (r *memRepo) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}
