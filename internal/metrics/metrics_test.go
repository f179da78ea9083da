package metrics_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallpaperzzz/internal/logger"
	"wallpaperzzz/internal/metrics"
	"wallpaperzzz/internal/taskqueue"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandler_ExposesTaskOutcomes(t *testing.T) {
	ctx := context.Background()
	client := taskqueue.NewClient(taskqueue.NewMemoryBroker(), taskqueue.NewMemoryBackend())
	worker := taskqueue.NewWorker(client, logger.Discard())

	task := "noop-" + uuid.NewString()[:8]
	worker.Register(task, func(ctx context.Context, req *taskqueue.Request) (any, error) {
		if req.TaskID == "bad" {
			return nil, taskqueue.Reject(errors.New("duplicate"))
		}
		return nil, nil
	})
	require.NoError(t, worker.Execute(ctx, taskqueue.Message{ID: uuid.NewString(), Task: task}))
	require.NoError(t, worker.Execute(ctx, taskqueue.Message{ID: uuid.NewString(), Task: task}))
	require.Error(t, worker.Execute(ctx, taskqueue.Message{ID: "bad", Task: task}))

	body := scrape(t)
	assert.Contains(t, body, fmt.Sprintf(`wallpaper_tasks_total{status="SUCCESS",task=%q} 2`, task))
	assert.Contains(t, body, fmt.Sprintf(`wallpaper_tasks_total{status="REJECTED",task=%q} 1`, task))
	assert.Contains(t, body, fmt.Sprintf(`wallpaper_task_duration_seconds_count{task=%q} 3`, task))
}

func TestHandler_RegistersBatchMetrics(t *testing.T) {
	body := scrape(t)
	for _, name := range []string{
		"wallpaper_batches_submitted_total",
		"wallpaper_batch_entries_bucket",
		"wallpaper_batch_errors_total",
	} {
		assert.Contains(t, body, name)
	}
}
