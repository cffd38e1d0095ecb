package port

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound means the requested object key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore moves meeting recordings in and detection results out.
type ObjectStore interface {
	FetchVideo(ctx context.Context, key, destPath string) error
	StoreResult(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}
