// Package evidence stores documents claimants upload to prove they run a range.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const MaxSize int64 = 10 << 20

var (
	ErrKind        = errors.New("unsupported document kind")
	ErrContentType = errors.New("unsupported content type")
	ErrSize        = errors.New("document size out of range")
)

var kinds = map[string]bool{
	"business_license":      true,
	"insurance_certificate": true,
	"other":                 true,
}

var extensions = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
}

// Storage persists document bytes under key.
type Storage interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
}

// Validate checks an upload before any bytes are stored.
func Validate(kind, contentType string, size int64) error {
	if !kinds[kind] {
		return fmt.Errorf("%w: %q", ErrKind, kind)
	}
	if _, ok := extensions[normalizeContentType(contentType)]; !ok {
		return fmt.Errorf("%w: %q", ErrContentType, contentType)
	}
	if size <= 0 || size > MaxSize {
		return fmt.Errorf("%w: %d bytes", ErrSize, size)
	}
	return nil
}

// ObjectKey places every document under its claim.
func ObjectKey(claimID, documentID, contentType string) string {
	return "claims/" + claimID + "/" + documentID + extensions[normalizeContentType(contentType)]
}

func normalizeContentType(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
