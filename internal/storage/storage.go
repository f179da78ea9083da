// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"wallpaperzzz/internal/models"
)

const foreignKeyViolation = "23503"

type Storage struct {
	pool *pgxpool.Pool
}

func NewStorage(ctx context.Context, dsn string, logger *slog.Logger) (*Storage, error) {
	const op = "storage.NewStorage"

	if err := runMigrations(dsn, logger); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{pool: pool}, nil
}

func (s *Storage) Close() {
	s.pool.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// FetchSettings returns the site settings row, creating it with defaults on first use.
func (s *Storage) FetchSettings(ctx context.Context) (models.Settings, error) {
	const op = "storage.FetchSettings"

	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings_store (key, maximum_image_file_size) VALUES ($1, $2)
		 ON CONFLICT (key) DO NOTHING`,
		models.SettingsKey, models.DefaultMaxImageFileSizeKB)
	if err != nil {
		return models.Settings{}, fmt.Errorf("%s: %w", op, err)
	}

	var st models.Settings
	err = s.pool.QueryRow(ctx,
		`SELECT key, maximum_image_file_size FROM settings_store WHERE key = $1`,
		models.SettingsKey).Scan(&st.Key, &st.MaximumImageFileSizeKB)
	if err != nil {
		return models.Settings{}, fmt.Errorf("%s: %w", op, err)
	}
	return st, nil
}

// MaxImageFileSize reads the ceiling on every call so changes apply to already queued tasks.
func (s *Storage) MaxImageFileSize(ctx context.Context) (int64, error) {
	st, err := s.FetchSettings(ctx)
	if err != nil {
		return 0, err
	}
	return st.MaxImageFileSizeBytes(), nil
}

func (s *Storage) UpdateSettings(ctx context.Context, maxImageFileSizeKB int) (models.Settings, error) {
	const op = "storage.UpdateSettings"

	if maxImageFileSizeKB < models.MinImageFileSizeKB || maxImageFileSizeKB > models.MaxImageFileSizeKB {
		return models.Settings{}, fmt.Errorf("%s: %w: maximum_image_file_size must be within %d to %d",
			op, models.ErrInvalidSettings, models.MinImageFileSizeKB, models.MaxImageFileSizeKB)
	}

	var st models.Settings
	err := s.pool.QueryRow(ctx,
		`INSERT INTO settings_store (key, maximum_image_file_size) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET maximum_image_file_size = EXCLUDED.maximum_image_file_size
		 RETURNING key, maximum_image_file_size`,
		models.SettingsKey, maxImageFileSizeKB).Scan(&st.Key, &st.MaximumImageFileSizeKB)
	if err != nil {
		return models.Settings{}, fmt.Errorf("%s: %w", op, err)
	}
	return st, nil
}

func (s *Storage) AddDimension(ctx context.Context, width, height int) (models.Dimension, error) {
	const op = "storage.AddDimension"

	if !validDimension(width) || !validDimension(height) {
		return models.Dimension{}, fmt.Errorf("%s: %w: %dx%d, each side must be within %d to %d",
			op, models.ErrInvalidDimension, width, height, models.MinDimension, models.MaxDimension)
	}

	d := models.Dimension{Width: width, Height: height}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO wallpaper_dimensions (width, height) VALUES ($1, $2)
		 ON CONFLICT ON CONSTRAINT unique_width_height DO UPDATE SET width = EXCLUDED.width
		 RETURNING id`,
		width, height).Scan(&d.ID)
	if err != nil {
		return models.Dimension{}, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}

func validDimension(v int) bool {
	return v >= models.MinDimension && v <= models.MaxDimension
}

// FindDimension reports whether width x height is on the allow-list.
func (s *Storage) FindDimension(ctx context.Context, width, height int) (models.Dimension, bool, error) {
	const op = "storage.FindDimension"

	d := models.Dimension{Width: width, Height: height}
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM wallpaper_dimensions WHERE width = $1 AND height = $2`,
		width, height).Scan(&d.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Dimension{}, false, nil
		}
		return models.Dimension{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return d, true, nil
}

func (s *Storage) ListDimensions(ctx context.Context) ([]models.Dimension, error) {
	const op = "storage.ListDimensions"

	rows, err := s.pool.Query(ctx, `SELECT id, width, height FROM wallpaper_dimensions ORDER BY width, height`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.Dimension
	for rows.Next() {
		var d models.Dimension
		if err := rows.Scan(&d.ID, &d.Width, &d.Height); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *Storage) CreateWallpaper(ctx context.Context, w *models.Wallpaper) error {
	const op = "storage.CreateWallpaper"

	err := s.pool.QueryRow(ctx,
		`INSERT INTO wallpapers (id, image, dummy_image, thumbnail, dimension_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING download_count, created_at`,
		w.ID, w.ImagePath, w.DummyPath, w.ThumbnailPath, w.DimensionID).Scan(&w.DownloadCount, &w.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetWallpaper(ctx context.Context, id uuid.UUID) (*models.Wallpaper, error) {
	const op = "storage.GetWallpaper"

	var w models.Wallpaper
	err := s.pool.QueryRow(ctx,
		`SELECT id, image, dummy_image, thumbnail, dimension_id, download_count, created_at
		 FROM wallpapers WHERE id = $1`,
		id).Scan(&w.ID, &w.ImagePath, &w.DummyPath, &w.ThumbnailPath, &w.DimensionID, &w.DownloadCount, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %s: %w", op, id, models.ErrWallpaperNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &w, nil
}

// AttachDerivatives sets the dummy and thumbnail only while the dummy is still empty.
// It reports false when another writer got there first.
func (s *Storage) AttachDerivatives(ctx context.Context, id uuid.UUID, dummyPath, thumbnailPath string) (bool, error) {
	const op = "storage.AttachDerivatives"

	tag, err := s.pool.Exec(ctx,
		`UPDATE wallpapers SET dummy_image = $2, thumbnail = $3
		 WHERE id = $1 AND dummy_image = ''`,
		id, dummyPath, thumbnailPath)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) IncrementDownloads(ctx context.Context, id uuid.UUID) error {
	const op = "storage.IncrementDownloads"

	tag, err := s.pool.Exec(ctx, `UPDATE wallpapers SET download_count = download_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %s: %w", op, id, models.ErrWallpaperNotFound)
	}
	return nil
}

// DeleteWallpaper removes the row and returns it so the caller can delete its blobs.
func (s *Storage) DeleteWallpaper(ctx context.Context, id uuid.UUID) (*models.Wallpaper, error) {
	const op = "storage.DeleteWallpaper"

	var w models.Wallpaper
	err := s.pool.QueryRow(ctx,
		`DELETE FROM wallpapers WHERE id = $1
		 RETURNING id, image, dummy_image, thumbnail, dimension_id, download_count, created_at`,
		id).Scan(&w.ID, &w.ImagePath, &w.DummyPath, &w.ThumbnailPath, &w.DimensionID, &w.DownloadCount, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %s: %w", op, id, models.ErrWallpaperNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &w, nil
}

func (s *Storage) CreateBatch(ctx context.Context, b *models.Batch) error {
	const op = "storage.CreateBatch"

	err := s.pool.QueryRow(ctx,
		`INSERT INTO bulk_upload_processes (id, archive_path) VALUES ($1, $2) RETURNING started_at`,
		b.ID, b.ArchivePath).Scan(&b.StartedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetBatch(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	const op = "storage.GetBatch"

	var b models.Batch
	err := s.pool.QueryRow(ctx,
		`SELECT id, archive_path, started_at FROM bulk_upload_processes WHERE id = $1`,
		id).Scan(&b.ID, &b.ArchivePath, &b.StartedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %s: %w", op, id, models.ErrBatchNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &b, nil
}

// DeleteBatch removes the batch; its error rows go with it through ON DELETE CASCADE.
func (s *Storage) DeleteBatch(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	const op = "storage.DeleteBatch"

	var b models.Batch
	err := s.pool.QueryRow(ctx,
		`DELETE FROM bulk_upload_processes WHERE id = $1 RETURNING id, archive_path, started_at`,
		id).Scan(&b.ID, &b.ArchivePath, &b.StartedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %s: %w", op, id, models.ErrBatchNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &b, nil
}

// CreateBatchError returns models.ErrBatchNotFound when the owning batch row does not exist.
func (s *Storage) CreateBatchError(ctx context.Context, e *models.BatchError) error {
	const op = "storage.CreateBatchError"

	err := s.pool.QueryRow(ctx,
		`INSERT INTO bulk_upload_process_errors (process_id, validation_error, at_file)
		 VALUES ($1, $2, $3) RETURNING id`,
		e.BatchID, e.ValidationError, e.AtFile).Scan(&e.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return fmt.Errorf("%s: %s: %w", op, e.BatchID, models.ErrBatchNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) ListBatchErrors(ctx context.Context, batchID uuid.UUID) ([]models.BatchError, error) {
	const op = "storage.ListBatchErrors"

	rows, err := s.pool.Query(ctx,
		`SELECT id, process_id, validation_error, at_file
		 FROM bulk_upload_process_errors WHERE process_id = $1 ORDER BY id`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.BatchError
	for rows.Next() {
		var e models.BatchError
		if err := rows.Scan(&e.ID, &e.BatchID, &e.ValidationError, &e.AtFile); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
