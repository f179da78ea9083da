package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"wallpaperzzz/internal/archive"
	"wallpaperzzz/internal/blob"
	"wallpaperzzz/internal/metrics"
	"wallpaperzzz/internal/models"
	"wallpaperzzz/internal/taskqueue"
	"wallpaperzzz/internal/transcoder"
)

// saveArgs address one archive entry. The batch id travels with the task so stage 1
// never has to look up its invoking group.
type saveArgs struct {
	Archive string    `json:"archive"`
	Entry   string    `json:"entry"`
	BatchID uuid.UUID `json:"batch_id"`
}

// SaveWallpaper is stage 1: validate one archive entry and persist it. A validation
// failure is recorded against the batch and still fails the task.
func (p *Pipeline) SaveWallpaper(ctx context.Context, req *taskqueue.Request) (any, error) {
	const op = "ingest.SaveWallpaper"

	var args saveArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return nil, fmt.Errorf("%s: decode args: %w", op, err)
	}
	if args.BatchID == uuid.Nil {
		if id, err := uuid.Parse(req.GroupID); err == nil {
			args.BatchID = id
		}
	}
	log := p.logger.With("task_id", req.TaskID, "batch_id", args.BatchID, "entry", args.Entry)

	ceiling, err := p.settings.MaxImageFileSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	data, err := p.readEntry(ctx, args.Archive, args.Entry, ceiling)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	dim, err := p.validate(ctx, args.Entry, data, ceiling)
	if err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			p.recordError(ctx, log, args, ve)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	w := &models.Wallpaper{
		ID:          uuid.New(),
		ImagePath:   blob.WallpaperImagePaths.Generate(args.Entry),
		DimensionID: dim.ID,
	}
	if _, err := p.blobs.Put(ctx, w.ImagePath, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := p.repo.CreateWallpaper(ctx, w); err != nil {
		p.discard(ctx, w.ImagePath)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Debug("wallpaper saved", "wallpaper_id", w.ID, "path", w.ImagePath)
	return w.ID.String(), nil
}

// validate runs the size, format and dimension checks in that order.
func (p *Pipeline) validate(ctx context.Context, entry string, data []byte, ceiling int64) (models.Dimension, error) {
	ve := &models.ValidationError{}

	if int64(len(data)) > ceiling {
		// data was cut at the ceiling, the header may be incomplete
		ve.Add(fmt.Sprintf("file too large: exceeds %d bytes", ceiling))
		return models.Dimension{}, ve
	}

	info, err := p.tc.Inspect(bytes.NewReader(data))
	if err != nil {
		ve.Add("not a valid image")
		return models.Dimension{}, ve
	}
	if !transcoder.HasExtension(entry, info.Format) {
		ve.Add(fmt.Sprintf("extension %s does not match %s", path.Ext(entry), info.Format))
	}

	dim, ok, err := p.repo.FindDimension(ctx, info.Width, info.Height)
	if err != nil {
		return models.Dimension{}, err
	}
	if !ok {
		ve.Add(fmt.Sprintf("invalid dimensions: %dx%d", info.Width, info.Height))
	}

	if err := ve.Err(); err != nil {
		return models.Dimension{}, err
	}
	return dim, nil
}

// recordError writes one ledger row per failed entry. A batch that is not recorded
// yet only costs the row; the task outcome is unaffected.
func (p *Pipeline) recordError(ctx context.Context, log *slog.Logger, args saveArgs, ve *models.ValidationError) {
	e := &models.BatchError{
		BatchID:         args.BatchID,
		ValidationError: joinMessages(ve.Messages, models.MaxValidationErrorLen),
		AtFile:          truncate(args.Entry, models.MaxAtFileLen),
	}
	if err := p.repo.CreateBatchError(context.WithoutCancel(ctx), e); err != nil {
		if errors.Is(err, models.ErrBatchNotFound) {
			log.Warn("batch not found, validation error dropped", "validation_error", e.ValidationError)
			return
		}
		log.Error("failed to record validation error", "error", err)
		return
	}
	metrics.BatchErrorsRecorded.Inc()
}

// GenerateDummy is stage 2: derive the dummy and the thumbnail for the wallpaper
// stage 1 saved. A wallpaper that already has a dummy is rejected, not failed.
func (p *Pipeline) GenerateDummy(ctx context.Context, req *taskqueue.Request) (any, error) {
	const op = "ingest.GenerateDummy"

	var raw string
	if err := json.Unmarshal(req.Input, &raw); err != nil {
		return nil, fmt.Errorf("%s: decode input: %w", op, err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	w, err := p.repo.GetWallpaper(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if w.HasDummy() {
		return nil, taskqueue.Reject(models.ErrDerivativeAlreadyExists)
	}

	source, err := p.readBlob(ctx, w.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	dummy, err := p.tc.Dummy(bytes.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	thumb, err := p.tc.Thumbnail(bytes.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	dummyPath := blob.WallpaperDummyPaths.Generate("dummy.jpg")
	thumbPath := blob.WallpaperThumbPaths.Generate("thumbnail.jpg")
	if _, err := p.blobs.Put(ctx, dummyPath, bytes.NewReader(dummy)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := p.blobs.Put(ctx, thumbPath, bytes.NewReader(thumb)); err != nil {
		p.discard(ctx, dummyPath)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	attached, err := p.repo.AttachDerivatives(ctx, id, dummyPath, thumbPath)
	if err != nil {
		p.discard(ctx, dummyPath, thumbPath)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !attached {
		// a duplicate delivery attached its own derivatives first
		p.discard(ctx, dummyPath, thumbPath)
		return nil, taskqueue.Reject(models.ErrDerivativeAlreadyExists)
	}
	return w.ID.String(), nil
}

func (p *Pipeline) readEntry(ctx context.Context, archivePath, entry string, limit int64) ([]byte, error) {
	ra, size, err := blob.OpenReaderAt(ctx, p.blobs, archivePath)
	if err != nil {
		return nil, err
	}
	defer ra.Close()

	zr, err := archive.NewReader(ra, size)
	if err != nil {
		return nil, err
	}
	return archive.ReadEntry(zr, entry, limit)
}

func (p *Pipeline) readBlob(ctx context.Context, blobPath string) ([]byte, error) {
	rc, err := p.blobs.Open(ctx, blobPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// joinMessages joins msgs with "; " in at most limit runes. Short messages are kept
// whole and the rest of the room is split evenly between the longer ones.
func joinMessages(msgs []string, limit int) string {
	const sep = "; "
	if len(msgs) == 0 {
		return ""
	}
	room := limit - len(sep)*(len(msgs)-1)
	if room < len(msgs) {
		return truncate(strings.Join(msgs, sep), limit)
	}

	whole := make([]bool, len(msgs))
	open := len(msgs)
	for changed := true; changed && open > 0; {
		changed = false
		fair := room / open
		for i, m := range msgs {
			if n := utf8.RuneCountInString(m); !whole[i] && n <= fair {
				whole[i] = true
				room -= n
				open--
				changed = true
			}
		}
	}
	out := make([]string, len(msgs))
	for i, m := range msgs {
		if whole[i] {
			out[i] = m
			continue
		}
		out[i] = truncate(m, room/open)
	}
	return strings.Join(out, sep)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
