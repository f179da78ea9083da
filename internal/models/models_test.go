package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress_Percentage(t *testing.T) {
	tests := []struct {
		name     string
		progress Progress
		want     int
	}{
		{"zero total", Progress{FinishedTasks: 0, TotalTasks: 0}, 0},
		{"nothing finished", Progress{FinishedTasks: 0, TotalTasks: 6}, 0},
		{"floors", Progress{FinishedTasks: 1, TotalTasks: 3}, 33},
		{"two of three", Progress{FinishedTasks: 2, TotalTasks: 3}, 66},
		{"complete", Progress{FinishedTasks: 8, TotalTasks: 8}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.progress.Percentage())
		})
	}
}

func TestProgress_Done(t *testing.T) {
	assert.False(t, Progress{}.Done())
	assert.False(t, Progress{FinishedTasks: 3, TotalTasks: 4}.Done())
	assert.True(t, Progress{FinishedTasks: 4, TotalTasks: 4}.Done())
}

func TestValidationError(t *testing.T) {
	var verr ValidationError
	require.NoError(t, verr.Err())

	verr.Add("invalid dimensions")
	verr.Add("too large")
	err := fmt.Errorf("wrapped: %w", verr.Err())

	var got *ValidationError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, []string{"invalid dimensions", "too large"}, got.Messages)
	assert.Equal(t, "invalid dimensions; too large", got.Error())
}

func TestWallpaper_BlobPaths(t *testing.T) {
	w := Wallpaper{ImagePath: "wallpapers/a.jpg"}
	assert.False(t, w.HasDummy())
	assert.Equal(t, []string{"wallpapers/a.jpg"}, w.BlobPaths())

	w.DummyPath = "wallpapers/dummy-a.jpg"
	assert.True(t, w.HasDummy())
	assert.Len(t, w.BlobPaths(), 2)
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_url: postgres://x\nbroker: asynq\ngroup_countdown: 3s\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, BrokerAsynq, cfg.Broker)
	assert.Equal(t, 3*time.Second, cfg.GroupCountdown)
	assert.Equal(t, int64(500<<20), cfg.MaxUploadSize)
	assert.Equal(t, ":8080", cfg.ServerAddr)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte("broker: rabbit\n"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("max_upload_size: -1\n"))
	assert.Error(t, err)
}
