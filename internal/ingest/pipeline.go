// Package ingest turns an uploaded zip archive into a group of per-image task chains and
// reports the batch's progress from live task state.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"wallpaperzzz/internal/archive"
	"wallpaperzzz/internal/blob"
	"wallpaperzzz/internal/metrics"
	"wallpaperzzz/internal/models"
	"wallpaperzzz/internal/taskqueue"
	"wallpaperzzz/internal/transcoder"
)

const (
	TaskSaveWallpaper = "wallpaper:save"
	TaskGenerateDummy = "wallpaper:dummy"
)

// Repository is the relational state the pipeline reads and writes.
type Repository interface {
	FindDimension(ctx context.Context, width, height int) (models.Dimension, bool, error)
	CreateWallpaper(ctx context.Context, w *models.Wallpaper) error
	GetWallpaper(ctx context.Context, id uuid.UUID) (*models.Wallpaper, error)
	AttachDerivatives(ctx context.Context, id uuid.UUID, dummyPath, thumbnailPath string) (bool, error)
	DeleteWallpaper(ctx context.Context, id uuid.UUID) (*models.Wallpaper, error)
	CreateBatch(ctx context.Context, b *models.Batch) error
	DeleteBatch(ctx context.Context, id uuid.UUID) (*models.Batch, error)
	CreateBatchError(ctx context.Context, e *models.BatchError) error
	ListBatchErrors(ctx context.Context, batchID uuid.UUID) ([]models.BatchError, error)
}

// SettingsProvider returns the current image size ceiling in bytes. It is called on
// every validation so a change applies to tasks that are already queued.
type SettingsProvider interface {
	MaxImageFileSize(ctx context.Context) (int64, error)
}

type Queue interface {
	SubmitGroup(ctx context.Context, groupID string, chains []taskqueue.Chain, countdown time.Duration) (*taskqueue.GroupResult, error)
	RestoreGroup(ctx context.Context, groupID string) (*taskqueue.GroupResult, error)
}

type Transcoder interface {
	Inspect(r io.Reader) (transcoder.Info, error)
	Dummy(r io.Reader) ([]byte, error)
	Thumbnail(r io.Reader) ([]byte, error)
}

type Config struct {
	Countdown     time.Duration
	MaxUploadSize int64
}

type Pipeline struct {
	repo     Repository
	settings SettingsProvider
	blobs    blob.Store
	queue    Queue
	tc       Transcoder
	logger   *slog.Logger
	cfg      Config
}

func New(repo Repository, settings SettingsProvider, blobs blob.Store, queue Queue, tc Transcoder, logger *slog.Logger, cfg Config) *Pipeline {
	return &Pipeline{
		repo:     repo,
		settings: settings,
		blobs:    blobs,
		queue:    queue,
		tc:       tc,
		logger:   logger.With("component", "ingest"),
		cfg:      cfg,
	}
}

// Register binds both chain stages to w.
func (p *Pipeline) Register(w *taskqueue.Worker) {
	w.Register(TaskSaveWallpaper, p.SaveWallpaper)
	w.Register(TaskGenerateDummy, p.GenerateDummy)
}

// Upload stores the archive, checks its integrity and submits it. The stored archive
// is removed again when nothing was queued.
func (p *Pipeline) Upload(ctx context.Context, filename string, r io.Reader, size int64) (*models.Batch, error) {
	const op = "ingest.Upload"

	if ext := strings.ToLower(path.Ext(filename)); ext != ".zip" {
		msg := fmt.Sprintf("File extension %q is not allowed. Allowed extensions are: zip.", strings.TrimPrefix(ext, "."))
		return nil, fmt.Errorf("%s: %w: %w", op, models.ErrInvalidUpload, models.NewValidationError(msg))
	}
	if size > p.cfg.MaxUploadSize {
		return nil, fmt.Errorf("%s: %w: %w", op, models.ErrInvalidUpload, models.NewValidationError(sizeMessage(p.cfg.MaxUploadSize)))
	}

	archivePath := blob.ArchivePaths.Generate(path.Base(filename))
	n, err := p.blobs.Put(ctx, archivePath, io.LimitReader(r, p.cfg.MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if n > p.cfg.MaxUploadSize {
		p.discard(ctx, archivePath)
		return nil, fmt.Errorf("%s: %w: %w", op, models.ErrInvalidUpload, models.NewValidationError(sizeMessage(p.cfg.MaxUploadSize)))
	}

	ra, rsize, err := blob.OpenReaderAt(ctx, p.blobs, archivePath)
	if err != nil {
		p.discard(ctx, archivePath)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer ra.Close()

	zr, err := archive.Open(ra, rsize)
	if err != nil {
		p.discard(ctx, archivePath)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	batch, queued, err := p.submit(ctx, archivePath, zr)
	if err != nil {
		if !queued {
			p.discard(ctx, archivePath)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return batch, nil
}

// Submit fans an already stored archive out into one chain per qualifying entry.
func (p *Pipeline) Submit(ctx context.Context, archivePath string) (*models.Batch, error) {
	const op = "ingest.Submit"

	ra, size, err := blob.OpenReaderAt(ctx, p.blobs, archivePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer ra.Close()

	zr, err := archive.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	batch, _, err := p.submit(ctx, archivePath, zr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return batch, nil
}

// submit reports queued=true once any chain reached the broker, after which the
// archive must be kept for the deferred tasks even if recording the batch fails.
func (p *Pipeline) submit(ctx context.Context, archivePath string, zr *zip.Reader) (*models.Batch, bool, error) {
	entries := archive.Scan(zr)
	if len(entries) == 0 {
		return nil, false, fmt.Errorf("%w: %w", models.ErrNoQualifyingEntries, models.NewValidationError("No files to process."))
	}

	batchID := uuid.New()
	chains := make([]taskqueue.Chain, 0, len(entries))
	for _, entry := range entries {
		chain, err := newChain(saveArgs{Archive: archivePath, Entry: entry, BatchID: batchID})
		if err != nil {
			return nil, false, err
		}
		chains = append(chains, chain)
	}

	group, err := p.queue.SubmitGroup(ctx, batchID.String(), chains, p.cfg.Countdown)
	if err != nil {
		partial := errors.Is(err, taskqueue.ErrPartialPublish)
		if partial {
			p.logger.Error("group partially queued, archive kept", "batch_id", batchID, "error", err)
		}
		return nil, partial, err
	}

	batch := &models.Batch{ID: batchID, ArchivePath: archivePath}
	if err := p.repo.CreateBatch(ctx, batch); err != nil {
		p.logger.Error("group queued but batch not recorded", "batch_id", batchID, "error", err)
		return nil, true, err
	}

	metrics.BatchesSubmitted.Inc()
	metrics.BatchEntries.Observe(float64(group.Len()))
	p.logger.Info("batch submitted", "batch_id", batchID, "entries", group.Len(), "archive", archivePath)
	return batch, true, nil
}

func newChain(args saveArgs) (taskqueue.Chain, error) {
	save, err := taskqueue.NewSignature(TaskSaveWallpaper, args)
	if err != nil {
		return nil, err
	}
	return taskqueue.Chain{save, {Task: TaskGenerateDummy}}, nil
}

// Progress counts two units per chain, the tail and its parent, and treats any
// terminal status as finished.
func (p *Pipeline) Progress(ctx context.Context, batchID uuid.UUID) (models.Progress, error) {
	const op = "ingest.Progress"

	group, err := p.queue.RestoreGroup(ctx, batchID.String())
	if err != nil {
		if errors.Is(err, taskqueue.ErrGroupNotFound) {
			return models.Progress{}, fmt.Errorf("%s: %s: %w", op, batchID, models.ErrBatchNotFound)
		}
		return models.Progress{}, fmt.Errorf("%s: %w", op, err)
	}

	progress := models.Progress{TotalTasks: 2 * group.Len()}
	for _, r := range group.Results() {
		if r.Status.Terminal() {
			progress.FinishedTasks++
		}
		if r.ParentStatus.Terminal() {
			progress.FinishedTasks++
		}
	}
	return progress, nil
}

const (
	StatusRunning  = "running"
	StatusTerminal = "terminal"
)

// Report is the polling view of a batch.
type Report struct {
	Status     string   `json:"-"`
	Percentage int      `json:"percentage"`
	Errors     []string `json:"errors"`
}

func (p *Pipeline) Report(ctx context.Context, batchID uuid.UUID) (*Report, error) {
	const op = "ingest.Report"

	progress, err := p.Progress(ctx, batchID)
	if err != nil {
		return nil, err
	}
	batchErrors, err := p.repo.ListBatchErrors(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rep := &Report{Status: StatusRunning, Percentage: progress.Percentage(), Errors: make([]string, 0, len(batchErrors))}
	if progress.Done() {
		rep.Status = StatusTerminal
	}
	for _, e := range batchErrors {
		rep.Errors = append(rep.Errors, e.String())
	}
	return rep, nil
}

// DeleteBatch removes the batch with its error rows and the stored archive.
func (p *Pipeline) DeleteBatch(ctx context.Context, batchID uuid.UUID) error {
	const op = "ingest.DeleteBatch"

	b, err := p.repo.DeleteBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := blob.DeleteAll(ctx, p.blobs, b.ArchivePath); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p.logger.Info("batch deleted", "batch_id", batchID)
	return nil
}

// DeleteWallpaper removes the record and every blob it owns.
func (p *Pipeline) DeleteWallpaper(ctx context.Context, id uuid.UUID) error {
	const op = "ingest.DeleteWallpaper"

	w, err := p.repo.DeleteWallpaper(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := blob.DeleteAll(ctx, p.blobs, w.BlobPaths()...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Pipeline) discard(ctx context.Context, paths ...string) {
	if err := blob.DeleteAll(context.WithoutCancel(ctx), p.blobs, paths...); err != nil {
		p.logger.Warn("failed to delete blob", "paths", paths, "error", err)
	}
}

func sizeMessage(limit int64) string {
	return fmt.Sprintf("Ensure that the file size is less than or equal to %d bytes.", limit)
}
