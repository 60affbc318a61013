package domain

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/livecaptions/internal/apperr"
	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
	"github.com/google/uuid"
)

type AssemblerOptions struct {
	UploadDir         string
	AllowedExtensions []string
	MaxFileSize       int64
}

// UploadAssembler accepts chunks in any order and merges a session exactly
// once when its last chunk lands.
type UploadAssembler struct {
	store   ports.ChunkStore
	dir     string
	maxSize int64
	allowed map[string]struct{}
	log     *logger.ZapLogger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*uploadState
}

// uploadState serializes all work on one session. refs counts holders so an
// entry is only dropped from the map when nobody is waiting on it.
type uploadState struct {
	mu      sync.Mutex
	refs    int
	total   int
	ext     string
	merged  *models.MergedFile
	touched time.Time
}

func NewUploadAssembler(store ports.ChunkStore, opts AssemblerOptions, log *logger.ZapLogger) (*UploadAssembler, error) {
	if err := os.MkdirAll(opts.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	allowed := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return &UploadAssembler{
		store:    store,
		dir:      opts.UploadDir,
		maxSize:  opts.MaxFileSize,
		allowed:  allowed,
		log:      log,
		now:      time.Now,
		sessions: make(map[string]*uploadState),
	}, nil
}

func (a *UploadAssembler) acquire(sessionID string) *uploadState {
	a.mu.Lock()
	st, ok := a.sessions[sessionID]
	if !ok {
		st = &uploadState{}
		a.sessions[sessionID] = st
	}
	st.refs++
	a.mu.Unlock()

	st.mu.Lock()
	return st
}

func (a *UploadAssembler) release(sessionID string, st *uploadState) {
	st.mu.Unlock()

	a.mu.Lock()
	st.refs--
	if st.refs == 0 && st.total == 0 && st.merged == nil {
		delete(a.sessions, sessionID)
	}
	a.mu.Unlock()
}

// extension returns the lowercased extension of filename if it is allowed.
func (a *UploadAssembler) extension(filename string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if _, ok := a.allowed[ext]; !ok || ext == "" {
		return "", apperr.Newf(apperr.KindUnsupportedFileType, "accept chunk",
			"extension %q is not accepted", ext)
	}
	return ext, nil
}

// AcceptChunk stages one chunk. The result is Complete exactly when this call
// stored the last missing chunk and the merge succeeded, or when the session
// was already merged and this is a redelivery.
func (a *UploadAssembler) AcceptChunk(ctx context.Context, c models.Chunk, body io.Reader) (models.UploadResult, error) {
	res := models.UploadResult{ChunkIndex: c.Index}

	if !models.ValidSessionID(c.SessionID) {
		return res, apperr.Newf(apperr.KindValidation, "accept chunk", "invalid session id %q", c.SessionID)
	}
	if c.TotalChunks <= 0 {
		return res, apperr.Newf(apperr.KindValidation, "accept chunk", "total_chunks must be positive")
	}
	if c.Index < 0 || c.Index >= c.TotalChunks {
		return res, apperr.WithIndex(apperr.KindInvalidIndex, "accept chunk", c.Index,
			fmt.Errorf("index must be in [0,%d)", c.TotalChunks))
	}
	ext, err := a.extension(c.Filename)
	if err != nil {
		return res, err
	}

	st := a.acquire(c.SessionID)
	defer a.release(c.SessionID, st)

	if st.merged != nil {
		res.Complete = true
		res.Duplicate = true
		res.Merged = st.merged
		return res, nil
	}

	if st.total != 0 && st.total != c.TotalChunks {
		return res, apperr.Newf(apperr.KindValidation, "accept chunk",
			"total_chunks changed from %d to %d", st.total, c.TotalChunks)
	}
	if st.ext != "" && st.ext != ext {
		return res, apperr.Newf(apperr.KindValidation, "accept chunk",
			"file extension changed from %q to %q", st.ext, ext)
	}

	if err := a.store.Put(ctx, c.SessionID, c.Index, c.TotalChunks, body); err != nil {
		return res, err
	}
	st.total = c.TotalChunks
	st.ext = ext
	st.touched = a.now()

	done, err := a.store.HasAll(ctx, c.SessionID, c.TotalChunks)
	if err != nil {
		return res, err
	}
	if !done {
		return res, nil
	}

	merged, err := a.merge(ctx, c.SessionID, c.TotalChunks, ext)
	if err != nil {
		a.log.Log(logger.LogEntry{
			Level:   "error",
			Message: "[UPLOAD][MERGE-ERR]",
			Fields:  map[string]any{"session": c.SessionID, "total": c.TotalChunks},
			Error:   err,
		})
		return res, err
	}

	st.merged = merged
	if err := a.store.Delete(ctx, c.SessionID); err != nil {
		a.log.Log(logger.LogEntry{
			Level:   "warn",
			Message: "[UPLOAD] staged chunks not removed",
			Fields:  map[string]any{"session": c.SessionID},
			Error:   err,
		})
	}

	a.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[UPLOAD][MERGED]",
		Fields: map[string]any{
			"session": c.SessionID,
			"chunks":  c.TotalChunks,
			"bytes":   merged.Size,
			"path":    merged.Path,
		},
	})

	res.Complete = true
	res.Merged = merged
	return res, nil
}

// merge concatenates chunks 0..total-1 into a hidden partial file and renames
// it into place. Staged chunks are left untouched on failure.
func (a *UploadAssembler) merge(ctx context.Context, sessionID string, total int, ext string) (*models.MergedFile, error) {
	id := uuid.NewString()[:8]
	final := filepath.Join(a.dir, fmt.Sprintf("video_%s.%s", id, ext))

	part, err := os.CreateTemp(a.dir, ".video_"+id+"-*.part")
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, "merge", err)
	}
	partName := part.Name()

	size, err := a.concat(ctx, part, sessionID, total)
	if err == nil {
		err = part.Sync()
	}
	if cerr := part.Close(); err == nil && cerr != nil {
		err = apperr.New(apperr.KindStorage, "merge", cerr)
	}
	if err != nil {
		_ = os.Remove(partName)
		return nil, err
	}

	if err := os.Rename(partName, final); err != nil {
		_ = os.Remove(partName)
		return nil, apperr.New(apperr.KindStorage, "merge", err)
	}
	return &models.MergedFile{SessionID: sessionID, Path: final, Size: size}, nil
}

func (a *UploadAssembler) concat(ctx context.Context, w io.Writer, sessionID string, total int) (int64, error) {
	var size int64
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return size, apperr.New(apperr.KindStorage, "merge", err)
		}
		rc, err := a.store.Open(ctx, sessionID, i)
		if err != nil {
			return size, err
		}

		var src io.Reader = rc
		if a.maxSize > 0 {
			src = io.LimitReader(rc, a.maxSize-size+1)
		}
		n, err := io.Copy(w, src)
		rc.Close()
		size += n
		if err != nil {
			return size, apperr.WithIndex(apperr.KindStorage, "merge", i, err)
		}
		if a.maxSize > 0 && size > a.maxSize {
			return size, apperr.Newf(apperr.KindFileTooLarge, "merge",
				"merged file exceeds %d bytes", a.maxSize)
		}
	}
	return size, nil
}

// Cleanup drops a session's staged chunks and its in-memory state.
func (a *UploadAssembler) Cleanup(ctx context.Context, sessionID string) error {
	if !models.ValidSessionID(sessionID) {
		return apperr.Newf(apperr.KindValidation, "cleanup", "invalid session id %q", sessionID)
	}
	st := a.acquire(sessionID)
	defer a.release(sessionID, st)

	if err := a.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	st.total = 0
	st.ext = ""
	st.merged = nil
	return nil
}

// Forget removes a merged file that could not be handed on and drops the
// session's merge record, so a redelivered chunk starts the upload over
// instead of reporting a file that no longer exists.
func (a *UploadAssembler) Forget(sessionID string, merged *models.MergedFile) {
	st := a.acquire(sessionID)
	defer a.release(sessionID, st)

	if err := os.Remove(merged.Path); err != nil && !os.IsNotExist(err) {
		a.log.Log(logger.LogEntry{
			Level:   "warn",
			Message: "[UPLOAD] merged file not removed",
			Fields:  map[string]any{"session": sessionID, "path": merged.Path},
			Error:   err,
		})
	}
	if st.merged == merged {
		st.total = 0
		st.ext = ""
		st.merged = nil
	}
}

// Expire removes sessions that have not received a chunk since cutoff and
// forgets merge records older than cutoff. It returns the number of staged
// sessions removed.
func (a *UploadAssembler) Expire(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := a.store.Stale(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	var firstErr error
	for _, id := range stale {
		st := a.acquire(id)
		if !st.touched.IsZero() && st.touched.After(cutoff) {
			a.release(id, st)
			continue
		}
		if err := a.store.Delete(ctx, id); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			st.total = 0
			st.ext = ""
			removed++
		}
		a.release(id, st)
	}

	a.mu.Lock()
	for id, st := range a.sessions {
		if st.refs == 0 && !st.touched.After(cutoff) {
			delete(a.sessions, id)
		}
	}
	a.mu.Unlock()

	return removed, firstErr
}

// Stats counts merged files in the upload dir and sessions still staging.
func (a *UploadAssembler) Stats(ctx context.Context) (models.UploadStats, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return models.UploadStats{}, apperr.New(apperr.KindStorage, "stats", err)
	}
	files := 0
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			files++
		}
	}
	active, err := a.store.Sessions(ctx)
	if err != nil {
		return models.UploadStats{}, err
	}
	return models.UploadStats{UploadedFiles: files, ActiveUploads: active}, nil
}
