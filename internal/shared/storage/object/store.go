package object

import (
	"context"
	"io"
)

// ObjectStore defines the contract for saving and retrieving run artifacts
// (SRS source text and compiled documents) at deterministic keys.
type ObjectStore interface {
	Save(ctx context.Context, storageKey string, contentType string, r io.Reader) (sizeBytes int64, err error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, storageKey string) error
}
