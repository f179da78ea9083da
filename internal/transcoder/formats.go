package transcoder

import (
	"path"
	"strings"
)

type Format string

const (
	JPEG Format = "JPEG"
	PNG  Format = "PNG"
	GIF  Format = "GIF"
	BMP  Format = "BMP"
	TIFF Format = "TIFF"
	WEBP Format = "WEBP"
)

// SourceFormat is the only format accepted for bulk ingestion.
const SourceFormat = JPEG

var extensions = map[Format][]string{
	JPEG: {".jfif", ".jpe", ".jpg", ".jpeg"},
	PNG:  {".png", ".apng"},
	GIF:  {".gif"},
	BMP:  {".bmp"},
	TIFF: {".tif", ".tiff"},
	WEBP: {".webp"},
}

// decoder names as registered with the image package
var decoderFormats = map[string]Format{
	"jpeg": JPEG,
	"png":  PNG,
	"gif":  GIF,
	"bmp":  BMP,
	"tiff": TIFF,
	"webp": WEBP,
}

// Extensions returns a copy of the file extensions recognised for f.
func Extensions(f Format) []string {
	return append([]string(nil), extensions[f]...)
}

// FormatForExtension resolves a file extension (with leading dot) to its format.
func FormatForExtension(ext string) (Format, bool) {
	for f, exts := range extensions {
		for _, e := range exts {
			if e == ext {
				return f, true
			}
		}
	}
	return "", false
}

// HasExtension reports whether name carries one of the extensions of f.
func HasExtension(name string, f Format) bool {
	ext := path.Ext(name)
	for _, e := range extensions[f] {
		if e == ext {
			return true
		}
	}
	return false
}

func formatFromDecoder(name string) Format {
	if f, ok := decoderFormats[name]; ok {
		return f
	}
	return Format(strings.ToUpper(name))
}
