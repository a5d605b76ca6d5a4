package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a blob reference does not resolve to stored bytes.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidRef is returned for empty or path-escaping blob references.
	ErrInvalidRef = errors.New("invalid blob reference")
)

var extensionsByContentType = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
}

// NewBlobRef returns a fresh, date-partitioned reference for the given content type.
func NewBlobRef(contentType string, now time.Time) string {
	ext := extensionsByContentType[strings.ToLower(contentType)]
	if ext == "" {
		ext = ".bin"
	}
	return path.Join(now.UTC().Format("2006/01"), uuid.NewString()+ext)
}

func validateRef(ref string) error {
	if strings.TrimSpace(ref) == "" || strings.Contains(ref, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return nil
}
