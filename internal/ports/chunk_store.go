package ports

import (
	"context"
	"io"
	"time"
)

// ChunkStore stages the received byte ranges of in-flight uploads.
// Every operation is scoped to one session namespace.
type ChunkStore interface {
	// Put stores one chunk; storing the same index again overwrites it.
	Put(ctx context.Context, sessionID string, index, totalChunks int, r io.Reader) error
	HasAll(ctx context.Context, sessionID string, totalChunks int) (bool, error)
	Open(ctx context.Context, sessionID string, index int) (io.ReadCloser, error)
	// Delete is idempotent and never fails on a missing session.
	Delete(ctx context.Context, sessionID string) error
	// Stale lists sessions that have not grown since before the cutoff.
	Stale(ctx context.Context, cutoff time.Time) ([]string, error)
	Sessions(ctx context.Context) (int, error)
}
