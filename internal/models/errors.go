package models

import (
	"errors"
	"strings"
)

var (
	ErrNoQualifyingEntries     = errors.New("no files to process")
	ErrBadArchive              = errors.New("invalid zip file")
	ErrBatchNotFound           = errors.New("bulk upload process not found")
	ErrDerivativeAlreadyExists = errors.New("dummy already exists")
	ErrTranscode               = errors.New("transcode failed")
	ErrWallpaperNotFound       = errors.New("wallpaper not found")
	ErrInvalidUpload           = errors.New("invalid upload")
	ErrInvalidSettings         = errors.New("invalid settings")
	ErrInvalidDimension        = errors.New("invalid dimension")
)

// ValidationError carries the user-facing messages for one rejected image.
type ValidationError struct {
	Messages []string
}

func NewValidationError(msgs ...string) *ValidationError {
	return &ValidationError{Messages: msgs}
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, "; ")
}

func (e *ValidationError) Add(msg string) {
	e.Messages = append(e.Messages, msg)
}

// Err returns nil when no message was collected.
func (e *ValidationError) Err() error {
	if len(e.Messages) == 0 {
		return nil
	}
	return e
}
