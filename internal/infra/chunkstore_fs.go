package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Vovarama1992/livecaptions/internal/apperr"
	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
)

func chunkName(index int) string {
	return fmt.Sprintf("chunk_%06d", index)
}

// FSChunkStore keeps each session's chunks in <root>/<sessionID>/chunk_NNNNNN.
type FSChunkStore struct {
	root string
}

func NewFSChunkStore(root string) (ports.ChunkStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &FSChunkStore{root: root}, nil
}

func (s *FSChunkStore) sessionDir(sessionID string) (string, error) {
	if !models.ValidSessionID(sessionID) {
		return "", apperr.Newf(apperr.KindValidation, "chunk store", "invalid session id %q", sessionID)
	}
	return filepath.Join(s.root, sessionID), nil
}

func (s *FSChunkStore) Put(ctx context.Context, sessionID string, index, totalChunks int, r io.Reader) error {
	if totalChunks <= 0 || index < 0 || index >= totalChunks {
		return apperr.WithIndex(apperr.KindInvalidIndex, "put chunk", index,
			fmt.Errorf("index must be in [0,%d)", totalChunks))
	}
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.New(apperr.KindStorage, "put chunk", err)
	}

	// write aside, then rename over the final name so a retried index never
	// exposes a half-written chunk
	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return apperr.New(apperr.KindStorage, "put chunk", err)
	}
	tmpName := tmp.Name()

	_, copyErr := io.Copy(tmp, readerWithContext(ctx, r))
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return apperr.WithIndex(apperr.KindStorage, "put chunk", index, err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, chunkName(index))); err != nil {
		_ = os.Remove(tmpName)
		return apperr.WithIndex(apperr.KindStorage, "put chunk", index, err)
	}

	now := time.Now()
	_ = os.Chtimes(dir, now, now)
	return nil
}

func (s *FSChunkStore) HasAll(ctx context.Context, sessionID string, totalChunks int) (bool, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return false, err
	}
	if totalChunks <= 0 {
		return false, nil
	}
	for i := 0; i < totalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if _, err := os.Stat(filepath.Join(dir, chunkName(i))); err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, apperr.New(apperr.KindStorage, "has all", err)
		}
	}
	return true, nil
}

func (s *FSChunkStore) Open(ctx context.Context, sessionID string, index int) (io.ReadCloser, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, chunkName(index)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.WithIndex(apperr.KindMissingChunk, "open chunk", index, err)
		}
		return nil, apperr.WithIndex(apperr.KindStorage, "open chunk", index, err)
	}
	return f, nil
}

func (s *FSChunkStore) Delete(ctx context.Context, sessionID string) error {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return apperr.New(apperr.KindStorage, "delete session", err)
	}
	return nil
}

func (s *FSChunkStore) Stale(ctx context.Context, cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, "list sessions", err)
	}
	var stale []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, e.Name())
		}
	}
	return stale, nil
}

func (s *FSChunkStore) Sessions(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, apperr.New(apperr.KindStorage, "list sessions", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			n++
		}
	}
	return n, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
