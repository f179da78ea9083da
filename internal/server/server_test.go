package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallpaperzzz/internal/blob"
	"wallpaperzzz/internal/ingest"
	"wallpaperzzz/internal/logger"
	"wallpaperzzz/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeIngester struct {
	batch     *models.Batch
	uploadErr error
	uploaded  []byte
	reports   map[uuid.UUID]*ingest.Report
	deleted   []uuid.UUID
}

func (f *fakeIngester) Upload(ctx context.Context, filename string, r io.Reader, size int64) (*models.Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.uploaded = data
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return f.batch, nil
}

func (f *fakeIngester) Report(ctx context.Context, batchID uuid.UUID) (*ingest.Report, error) {
	rep, ok := f.reports[batchID]
	if !ok {
		return nil, fmt.Errorf("ingest.Progress: %w", models.ErrBatchNotFound)
	}
	return rep, nil
}

func (f *fakeIngester) DeleteBatch(ctx context.Context, batchID uuid.UUID) error {
	if _, ok := f.reports[batchID]; !ok {
		return models.ErrBatchNotFound
	}
	f.deleted = append(f.deleted, batchID)
	return nil
}

func (f *fakeIngester) DeleteWallpaper(ctx context.Context, id uuid.UUID) error {
	return models.ErrWallpaperNotFound
}

type fakeCatalog struct {
	settings   models.Settings
	dimensions []models.Dimension
	wallpapers map[uuid.UUID]*models.Wallpaper
	downloads  int
}

func (f *fakeCatalog) Ping(ctx context.Context) error { return nil }

func (f *fakeCatalog) FetchSettings(ctx context.Context) (models.Settings, error) {
	return f.settings, nil
}

func (f *fakeCatalog) UpdateSettings(ctx context.Context, kb int) (models.Settings, error) {
	if kb < models.MinImageFileSizeKB || kb > models.MaxImageFileSizeKB {
		return models.Settings{}, models.ErrInvalidSettings
	}
	f.settings.MaximumImageFileSizeKB = kb
	return f.settings, nil
}

func (f *fakeCatalog) ListDimensions(ctx context.Context) ([]models.Dimension, error) {
	return f.dimensions, nil
}

func (f *fakeCatalog) AddDimension(ctx context.Context, width, height int) (models.Dimension, error) {
	d := models.Dimension{ID: int64(len(f.dimensions) + 1), Width: width, Height: height}
	f.dimensions = append(f.dimensions, d)
	return d, nil
}

func (f *fakeCatalog) GetWallpaper(ctx context.Context, id uuid.UUID) (*models.Wallpaper, error) {
	w, ok := f.wallpapers[id]
	if !ok {
		return nil, models.ErrWallpaperNotFound
	}
	return w, nil
}

func (f *fakeCatalog) IncrementDownloads(ctx context.Context, id uuid.UUID) error {
	f.downloads++
	return nil
}

type testEnv struct {
	ingester *fakeIngester
	catalog  *fakeCatalog
	blobs    *blob.MemoryStore
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := models.DefaultConfig()
	catalog := &fakeCatalog{
		settings:   models.Settings{Key: models.SettingsKey, MaximumImageFileSizeKB: models.DefaultMaxImageFileSizeKB},
		wallpapers: make(map[uuid.UUID]*models.Wallpaper),
	}
	env := &testEnv{
		ingester: &fakeIngester{reports: make(map[uuid.UUID]*ingest.Report)},
		catalog:  catalog,
		blobs:    blob.NewMemoryStore(),
	}
	env.handler = NewServer(&cfg, env.ingester, env.catalog, env.blobs, logger.Discard()).Handler()
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/bulk-upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestBulkUpload_RedirectsToProgress(t *testing.T) {
	env := newTestEnv(t)
	env.ingester.batch = &models.Batch{ID: uuid.New()}

	rec := env.do(uploadRequest(t, "zip_file", "w.zip", []byte("PK-archive")))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/bulk-upload/progress?process_uuid="+env.ingester.batch.ID.String(), rec.Header().Get("Location"))
	assert.Equal(t, []byte("PK-archive"), env.ingester.uploaded)
}

func TestBulkUpload_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	env.ingester.uploadErr = fmt.Errorf("ingest.Upload: %w: %w", models.ErrBadArchive, models.NewValidationError("Invalid zip file."))

	rec := env.do(uploadRequest(t, "zip_file", "w.zip", []byte("junk")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"errors":["Invalid zip file."]}`, rec.Body.String())
}

func TestBulkUpload_MissingField(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(uploadRequest(t, "other", "w.zip", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, env.ingester.uploaded)
}

func TestBulkUpload_InternalErrorIsHidden(t *testing.T) {
	env := newTestEnv(t)
	env.ingester.uploadErr = fmt.Errorf("ingest.Upload: %w", io.ErrUnexpectedEOF)

	rec := env.do(uploadRequest(t, "zip_file", "w.zip", []byte("x")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "unexpected EOF")
}

func TestProgress_NotReady(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{
		"/bulk-upload/progress",
		"/bulk-upload/progress?process_uuid=not-a-uuid",
		"/bulk-upload/progress?process_uuid=" + uuid.NewString(),
	} {
		rec := env.do(httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusAccepted, rec.Code, target)
		assert.JSONEq(t, `{"status":"not_ready"}`, rec.Body.String(), target)
	}
}

func TestProgress_Fragment(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()
	env.ingester.reports[id] = &ingest.Report{
		Status:     ingest.StatusTerminal,
		Percentage: 100,
		Errors:     []string{"bad/photo.jpg: invalid dimensions: 100x100"},
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/bulk-upload/progress?process_uuid="+id.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"status": "terminal",
		"fragment": {"percentage": 100, "errors": ["bad/photo.jpg: invalid dimensions: 100x100"]}
	}`, rec.Body.String())
}

func TestDeleteBatch(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()
	env.ingester.reports[id] = &ingest.Report{Status: ingest.StatusRunning}

	rec := env.do(httptest.NewRequest(http.MethodDelete, "/bulk-upload/"+id.String(), nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uuid.UUID{id}, env.ingester.deleted)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/bulk-upload/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/bulk-upload/nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"key":"BASE_SETTINGS","maximum_image_file_size":5120}`, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(`{"maximum_image_file_size": 20000}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(`{"maximum_image_file_size": 2048}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2048, env.catalog.settings.MaximumImageFileSizeKB)
}

func TestDimensions(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/dimensions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodPost, "/dimensions", strings.NewReader(`{"width":1920,"height":1080}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var d models.Dimension
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, models.Dimension{ID: 1, Width: 1920, Height: 1080}, d)
}

func TestWallpaperFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := &models.Wallpaper{ID: uuid.New(), ImagePath: "wallpapers/wallpaper-a.jpg"}
	env.catalog.wallpapers[w.ID] = w
	_, err := env.blobs.Put(ctx, w.ImagePath, strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/wallpapers/"+w.ID.String()+"/image", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg-bytes", rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, env.catalog.downloads)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/wallpapers/"+w.ID.String()+"/dummy", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/wallpapers/"+uuid.NewString()+"/image", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDAndHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
