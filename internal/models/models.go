// internal/models/models.go
package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SettingsKey = "BASE_SETTINGS"

	DefaultMaxImageFileSizeKB = 5 * 1024
	MinImageFileSizeKB        = 1
	MaxImageFileSizeKB        = 10 * 1024

	MinDimension = 64
	MaxDimension = 8192

	MaxValidationErrorLen = 64
	MaxAtFileLen          = 1024
)

// Wallpaper is a persisted image and its derivatives. An empty DummyPath means the
// dummy rendition has not been generated yet.
type Wallpaper struct {
	ID            uuid.UUID `db:"id"`
	ImagePath     string    `db:"image"`
	DummyPath     string    `db:"dummy_image"`
	ThumbnailPath string    `db:"thumbnail"`
	DimensionID   int64     `db:"dimension_id"`
	DownloadCount int       `db:"download_count"`
	CreatedAt     time.Time `db:"created_at"`
}

func (w *Wallpaper) HasDummy() bool {
	return w.DummyPath != ""
}

// BlobPaths lists every stored file the wallpaper owns.
func (w *Wallpaper) BlobPaths() []string {
	var paths []string
	for _, p := range []string{w.ImagePath, w.DummyPath, w.ThumbnailPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

type Dimension struct {
	ID     int64 `db:"id" json:"id"`
	Width  int   `db:"width" json:"width"`
	Height int   `db:"height" json:"height"`
}

// Batch is one bulk ingestion run. ID equals the task group id.
type Batch struct {
	ID          uuid.UUID `db:"id"`
	ArchivePath string    `db:"archive_path"`
	StartedAt   time.Time `db:"started_at"`
}

// BatchError records one archive entry that failed validation.
type BatchError struct {
	ID              int64     `db:"id"`
	BatchID         uuid.UUID `db:"process_id"`
	ValidationError string    `db:"validation_error"`
	AtFile          string    `db:"at_file"`
}

func (e BatchError) String() string {
	return e.AtFile + ": " + e.ValidationError
}

type Settings struct {
	Key                    string `db:"key" json:"key"`
	MaximumImageFileSizeKB int    `db:"maximum_image_file_size" json:"maximum_image_file_size"`
}

// MaxImageFileSizeBytes converts the stored KB ceiling into bytes.
func (s Settings) MaxImageFileSizeBytes() int64 {
	return int64(s.MaximumImageFileSizeKB) * 1024
}

// Progress is computed on demand from live task state and never persisted.
type Progress struct {
	FinishedTasks int `json:"finished_tasks"`
	TotalTasks    int `json:"total_tasks"`
}

func (p Progress) Percentage() int {
	if p.TotalTasks <= 0 {
		return 0
	}
	return p.FinishedTasks * 100 / p.TotalTasks
}

func (p Progress) Done() bool {
	return p.TotalTasks > 0 && p.FinishedTasks >= p.TotalTasks
}
