package store

import "context"

// Backend persists raw documents, one per (table, id) pair.
//
// Implementations must make each Insert and Replace atomic: a reader sees either
// the previous state or the complete new document, never a partial write.
//
// Every stored document has a version. Replace is a compare-and-swap on it, so
// writers in different processes sharing one backend cannot lose each other's
// updates. Versions are opaque: callers only pass back what Get returned.
type Backend interface {
	// Get returns the document and its current version, or ErrNotFound if it doesn't exist.
	Get(ctx context.Context, table, id string) ([]byte, int64, error)

	// Insert stores a new document, failing with ErrAlreadyExists if the id is taken.
	Insert(ctx context.Context, table, id string, doc []byte) error

	// Replace overwrites an existing document if its version is still expected.
	// It fails with ErrNotFound if the document is absent and with
	// ErrConcurrentModification if it changed since it was read.
	Replace(ctx context.Context, table, id string, doc []byte, expected int64) error

	// Delete removes a document. Deleting a missing id is not an error.
	Delete(ctx context.Context, table, id string) error

	// Keys lists every id in a table, in no particular order.
	Keys(ctx context.Context, table string) ([]string, error)
}
