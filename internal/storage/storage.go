package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no object exists at the given path.
var ErrNotFound = errors.New("storage: object not found")

// Store is the object-storage collaborator. Paths are opaque slash-separated
// keys; the session id is used as the leading path segment so a whole
// session's objects share a prefix.
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, paths []string) error
	List(ctx context.Context, prefix string) ([]string, error)
	PublicURL(path string) string
	Check(ctx context.Context) error
}
