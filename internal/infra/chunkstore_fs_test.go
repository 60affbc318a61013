package infra

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Vovarama1992/livecaptions/internal/apperr"
	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFSStore(t *testing.T) (*FSChunkStore, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "staging")
	store, err := NewFSChunkStore(root)
	require.NoError(t, err)
	return store.(*FSChunkStore), root
}

func readChunk(t *testing.T, s *FSChunkStore, session string, idx int) string {
	t.Helper()
	rc, err := s.Open(context.Background(), session, idx)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestFSChunkStore_PutHasAllOpen(t *testing.T) {
	s, _ := newFSStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "s1", 1, 3, strings.NewReader("bbb")))
	ok, err := s.HasAll(ctx, "s1", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "s1", 0, 3, strings.NewReader("aaa")))
	require.NoError(t, s.Put(ctx, "s1", 2, 3, strings.NewReader("c")))

	ok, err = s.HasAll(ctx, "s1", 3)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "aaa", readChunk(t, s, "s1", 0))
	assert.Equal(t, "bbb", readChunk(t, s, "s1", 1))
	assert.Equal(t, "c", readChunk(t, s, "s1", 2))
}

func TestFSChunkStore_RedeliveryOverwrites(t *testing.T) {
	s, _ := newFSStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "s1", 0, 2, strings.NewReader("first")))
	require.NoError(t, s.Put(ctx, "s1", 1, 2, strings.NewReader("other")))
	require.NoError(t, s.Put(ctx, "s1", 0, 2, strings.NewReader("retry")))

	assert.Equal(t, "retry", readChunk(t, s, "s1", 0))
	assert.Equal(t, "other", readChunk(t, s, "s1", 1))
}

func TestFSChunkStore_RejectsOutOfRangeIndex(t *testing.T) {
	s, root := newFSStore(t)
	ctx := context.Background()

	for _, idx := range []int{-1, 3, 10} {
		err := s.Put(ctx, "s1", idx, 3, strings.NewReader("x"))
		assert.True(t, apperr.Is(err, apperr.KindInvalidIndex), "index %d: %v", idx, err)
	}

	_, err := os.Stat(filepath.Join(root, "s1"))
	assert.True(t, os.IsNotExist(err))
}

func TestFSChunkStore_RejectsTraversalSessionID(t *testing.T) {
	s, _ := newFSStore(t)
	err := s.Put(context.Background(), "../escape", 0, 1, strings.NewReader("x"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.False(t, models.ValidSessionID(".."))
	assert.True(t, models.ValidSessionID("1700000000000_ab12cd34e"))
}

func TestFSChunkStore_OpenMissing(t *testing.T) {
	s, _ := newFSStore(t)
	_, err := s.Open(context.Background(), "s1", 0)
	assert.True(t, apperr.Is(err, apperr.KindMissingChunk))
}

func TestFSChunkStore_DeleteIsIdempotent(t *testing.T) {
	s, root := newFSStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "s1", 0, 1, strings.NewReader("x")))
	require.NoError(t, s.Delete(ctx, "s1"))
	require.NoError(t, s.Delete(ctx, "s1"))
	require.NoError(t, s.Delete(ctx, "never-existed"))

	_, err := os.Stat(filepath.Join(root, "s1"))
	assert.True(t, os.IsNotExist(err))
}

func TestFSChunkStore_SessionsAreIsolated(t *testing.T) {
	s, _ := newFSStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", 0, 1, strings.NewReader("from-a")))
	require.NoError(t, s.Put(ctx, "b", 0, 1, strings.NewReader("from-b")))
	require.NoError(t, s.Delete(ctx, "a"))

	assert.Equal(t, "from-b", readChunk(t, s, "b", 0))
	n, err := s.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFSChunkStore_ConcurrentPutsDistinctIndices(t *testing.T) {
	s, _ := newFSStore(t)
	ctx := context.Background()
	const total = 32

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(2)
		for rep := 0; rep < 2; rep++ {
			go func(idx int) {
				defer wg.Done()
				assert.NoError(t, s.Put(ctx, "s1", idx, total, strings.NewReader(strings.Repeat("x", idx+1))))
			}(i)
		}
	}
	wg.Wait()

	ok, err := s.HasAll(ctx, "s1", total)
	require.NoError(t, err)
	assert.True(t, ok)
	for i := 0; i < total; i++ {
		assert.Len(t, readChunk(t, s, "s1", i), i+1)
	}
}

func TestFSChunkStore_Stale(t *testing.T) {
	s, root := newFSStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "old", 0, 2, strings.NewReader("x")))
	require.NoError(t, s.Put(ctx, "fresh", 0, 2, strings.NewReader("x")))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "old"), past, past))

	stale, err := s.Stale(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, stale)
}
