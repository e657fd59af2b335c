package domain

import "context"

// CorpusStore is a minimal abstraction over durable backends holding the
// serialized knowledge corpus. Save must replace the stored document atomically:
// readers observe either the previous payload or the new one, never a mix.
type CorpusStore interface {
	// Load returns the current payload or an error matching ErrCorpusNotFound.
	Load(ctx context.Context) ([]byte, error)
	// Save atomically replaces the stored payload.
	Save(ctx context.Context, payload []byte) error
	// Driver names the backend.
	Driver() string
	// Close releases backend resources.
	Close() error
}
