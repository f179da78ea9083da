package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"wallpaperzzz/internal/blob"
	"wallpaperzzz/internal/ingest"
	"wallpaperzzz/internal/metrics"
	"wallpaperzzz/internal/models"
)

const (
	uploadField    = "zip_file"
	progressPath   = "/bulk-upload/progress"
	statusNotReady = "not_ready"
)

type Ingester interface {
	Upload(ctx context.Context, filename string, r io.Reader, size int64) (*models.Batch, error)
	Report(ctx context.Context, batchID uuid.UUID) (*ingest.Report, error)
	DeleteBatch(ctx context.Context, batchID uuid.UUID) error
	DeleteWallpaper(ctx context.Context, id uuid.UUID) error
}

type Catalog interface {
	Ping(ctx context.Context) error
	FetchSettings(ctx context.Context) (models.Settings, error)
	UpdateSettings(ctx context.Context, maxImageFileSizeKB int) (models.Settings, error)
	ListDimensions(ctx context.Context) ([]models.Dimension, error)
	AddDimension(ctx context.Context, width, height int) (models.Dimension, error)
	GetWallpaper(ctx context.Context, id uuid.UUID) (*models.Wallpaper, error)
	IncrementDownloads(ctx context.Context, id uuid.UUID) error
}

type Server struct {
	cfg     *models.Config
	router  *gin.Engine
	httpSrv *http.Server
	ingest  Ingester
	catalog Catalog
	blobs   blob.Store
	logger  *slog.Logger
}

func NewServer(cfg *models.Config, ingester Ingester, catalog Catalog, blobs blob.Store, logger *slog.Logger) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		cfg:     cfg,
		router:  r,
		ingest:  ingester,
		catalog: catalog,
		blobs:   blobs,
		logger:  logger.With("component", "server"),
	}

	r.POST("/bulk-upload", s.handleBulkUpload)
	r.GET(progressPath, s.handleProgress)
	r.DELETE("/bulk-upload/:id", s.handleDeleteBatch)

	r.GET("/settings", s.handleGetSettings)
	r.PUT("/settings", s.handleUpdateSettings)
	r.GET("/dimensions", s.handleListDimensions)
	r.POST("/dimensions", s.handleAddDimension)

	r.GET("/wallpapers/:id/:kind", s.handleGetWallpaperFile)
	r.DELETE("/wallpapers/:id", s.handleDeleteWallpaper)

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the server stops; a graceful Stop is not an error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.cfg.ServerAddr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleBulkUpload(c *gin.Context) {
	const op = "server.handleBulkUpload"

	// room for the multipart framing around the archive itself
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadSize+1<<20)

	fh, err := c.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"errors": []string{"The uploaded file is too large."}})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"errors": []string{"This field is required."}})
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.fail(c, op, err)
		return
	}
	defer f.Close()

	batch, err := s.ingest.Upload(c.Request.Context(), fh.Filename, f, fh.Size)
	if err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, gin.H{"errors": ve.Messages})
			return
		}
		s.fail(c, op, err)
		return
	}

	c.Redirect(http.StatusSeeOther, progressPath+"?process_uuid="+batch.ID.String())
}

// handleProgress never reports an error for ids it cannot resolve yet: clients start
// polling right after the redirect.
func (s *Server) handleProgress(c *gin.Context) {
	const op = "server.handleProgress"

	id, err := uuid.Parse(c.Query("process_uuid"))
	if err != nil {
		c.JSON(http.StatusAccepted, gin.H{"status": statusNotReady})
		return
	}

	rep, err := s.ingest.Report(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrBatchNotFound) {
			c.JSON(http.StatusAccepted, gin.H{"status": statusNotReady})
			return
		}
		s.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": rep.Status, "fragment": rep})
}

func (s *Server) handleDeleteBatch(c *gin.Context) {
	const op = "server.handleDeleteBatch"

	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.ingest.DeleteBatch(c.Request.Context(), id); err != nil {
		if errors.Is(err, models.ErrBatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "bulk upload process not found"})
			return
		}
		s.fail(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetSettings(c *gin.Context) {
	const op = "server.handleGetSettings"

	st, err := s.catalog.FetchSettings(c.Request.Context())
	if err != nil {
		s.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type settingsRequest struct {
	MaximumImageFileSize int `json:"maximum_image_file_size" binding:"required"`
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	const op = "server.handleUpdateSettings"

	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := s.catalog.UpdateSettings(c.Request.Context(), req.MaximumImageFileSize)
	if err != nil {
		if errors.Is(err, models.ErrInvalidSettings) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleListDimensions(c *gin.Context) {
	const op = "server.handleListDimensions"

	dims, err := s.catalog.ListDimensions(c.Request.Context())
	if err != nil {
		s.fail(c, op, err)
		return
	}
	if dims == nil {
		dims = []models.Dimension{}
	}
	c.JSON(http.StatusOK, dims)
}

type dimensionRequest struct {
	Width  int `json:"width" binding:"required"`
	Height int `json:"height" binding:"required"`
}

func (s *Server) handleAddDimension(c *gin.Context) {
	const op = "server.handleAddDimension"

	var req dimensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := s.catalog.AddDimension(c.Request.Context(), req.Width, req.Height)
	if err != nil {
		if errors.Is(err, models.ErrInvalidDimension) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.fail(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (s *Server) handleGetWallpaperFile(c *gin.Context) {
	const op = "server.handleGetWallpaperFile"

	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	w, err := s.catalog.GetWallpaper(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrWallpaperNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "wallpaper not found"})
			return
		}
		s.fail(c, op, err)
		return
	}

	var blobPath string
	switch c.Param("kind") {
	case "image":
		blobPath = w.ImagePath
	case "dummy":
		blobPath = w.DummyPath
	case "thumbnail":
		blobPath = w.ThumbnailPath
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown rendition"})
		return
	}
	if blobPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "rendition not generated yet"})
		return
	}

	size, err := s.blobs.Size(ctx, blobPath)
	if err != nil {
		s.fail(c, op, err)
		return
	}
	rc, err := s.blobs.Open(ctx, blobPath)
	if err != nil {
		s.fail(c, op, err)
		return
	}
	defer rc.Close()

	if c.Param("kind") == "image" {
		if err := s.catalog.IncrementDownloads(ctx, id); err != nil {
			s.logger.Warn("failed to count download", "wallpaper_id", id, "error", err)
		}
	}

	contentType := mime.TypeByExtension(path.Ext(blobPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, size, contentType, rc, nil)
}

func (s *Server) handleDeleteWallpaper(c *gin.Context) {
	const op = "server.handleDeleteWallpaper"

	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.ingest.DeleteWallpaper(c.Request.Context(), id); err != nil {
		if errors.Is(err, models.ErrWallpaperNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "wallpaper not found"})
			return
		}
		s.fail(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.catalog.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

// fail answers 500 without leaking internals and leaves the cause to the request log.
func (s *Server) fail(c *gin.Context, op string, err error) {
	_ = c.Error(err)
	s.logger.Error("request failed", "op", op, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
