package transcoder

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallpaperzzz/internal/models"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 80, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func TestInspect(t *testing.T) {
	tr := New()

	info, err := tr.Inspect(bytes.NewReader(jpegBytes(t, 128, 96)))
	require.NoError(t, err)
	assert.Equal(t, Info{Format: JPEG, Width: 128, Height: 96}, info)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 10, 20))))
	info, err = tr.Inspect(&buf)
	require.NoError(t, err)
	assert.Equal(t, PNG, info.Format)

	_, err = tr.Inspect(bytes.NewReader([]byte("not an image")))
	assert.ErrorIs(t, err, models.ErrTranscode)
}

func TestDummy(t *testing.T) {
	tr := New()
	src := jpegBytes(t, 1920, 1080)

	out, err := tr.Dummy(bytes.NewReader(src))
	require.NoError(t, err)
	assert.Less(t, len(out), len(src))

	info, err := tr.Inspect(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, JPEG, info.Format)
	assert.Equal(t, DummyMaxSide, info.Width)
	assert.Equal(t, 360, info.Height)
}

func TestDummy_RejectsNonJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 64))))

	_, err := New().Dummy(&buf)
	assert.ErrorIs(t, err, models.ErrTranscode)
}

func TestThumbnail(t *testing.T) {
	out, err := New().Thumbnail(bytes.NewReader(jpegBytes(t, 800, 800)))
	require.NoError(t, err)

	info, err := New().Inspect(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, ThumbnailWidth, info.Width)
	assert.Equal(t, ThumbnailHeight, info.Height)
}

func TestFormats(t *testing.T) {
	f, ok := FormatForExtension(".jpeg")
	assert.True(t, ok)
	assert.Equal(t, JPEG, f)

	_, ok = FormatForExtension(".xyz")
	assert.False(t, ok)

	assert.True(t, HasExtension("a/b/photo.jpg", JPEG))
	assert.False(t, HasExtension("photo.JPG", JPEG))
	assert.False(t, HasExtension("photo.png", JPEG))
	assert.Equal(t, []string{".jfif", ".jpe", ".jpg", ".jpeg"}, Extensions(JPEG))
}
