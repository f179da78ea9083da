// Package transcoder inspects uploaded images and produces the derived renditions.
package transcoder

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"wallpaperzzz/internal/models"
)

const (
	DummyQuality     = 20
	DummyMaxSide     = 640
	ThumbnailWidth   = 320
	ThumbnailHeight  = 180
	ThumbnailQuality = 80
)

type Info struct {
	Format Format
	Width  int
	Height int
}

// Transcoder produces derivatives with imaging.
type Transcoder struct {
	dummyQuality int
	dummyMaxSide int
}

func New() *Transcoder {
	return &Transcoder{dummyQuality: DummyQuality, dummyMaxSide: DummyMaxSide}
}

// Inspect reads only the image header; the format is detected from content, not name.
func (t *Transcoder) Inspect(r io.Reader) (Info, error) {
	const op = "transcoder.Inspect"

	cfg, name, err := image.DecodeConfig(r)
	if err != nil {
		return Info{}, fmt.Errorf("%s: %w: %v", op, models.ErrTranscode, err)
	}
	return Info{Format: formatFromDecoder(name), Width: cfg.Width, Height: cfg.Height}, nil
}

// Dummy re-encodes a JPEG source as a small low quality JPEG used for previews.
func (t *Transcoder) Dummy(r io.Reader) ([]byte, error) {
	const op = "transcoder.Dummy"

	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrTranscode, err)
	}
	if formatFromDecoder(format) != JPEG {
		return nil, fmt.Errorf("%s: %w: the image must be in JPEG format, got %s", op, models.ErrTranscode, format)
	}

	b := img.Bounds()
	if b.Dx() > t.dummyMaxSide || b.Dy() > t.dummyMaxSide {
		img = imaging.Fit(img, t.dummyMaxSide, t.dummyMaxSide, imaging.Box)
	}
	return encode(op, img, t.dummyQuality)
}

// Thumbnail produces a centre-cropped fixed size rendition.
func (t *Transcoder) Thumbnail(r io.Reader) ([]byte, error) {
	const op = "transcoder.Thumbnail"

	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrTranscode, err)
	}
	thumb := imaging.Thumbnail(img, ThumbnailWidth, ThumbnailHeight, imaging.Lanczos)
	return encode(op, thumb, ThumbnailQuality)
}

func encode(op string, img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrTranscode, err)
	}
	return buf.Bytes(), nil
}
