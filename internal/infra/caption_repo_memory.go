package infra

import (
	"context"
	"sort"
	"sync"

	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
)

// MemoryCaptionRepo is used when no database is configured.
type MemoryCaptionRepo struct {
	mu       sync.RWMutex
	runs     map[string]models.PipelineRun
	captions map[string]map[int]models.Caption
}

func NewMemoryCaptionRepo() ports.CaptionRepository {
	return &MemoryCaptionRepo{
		runs:     make(map[string]models.PipelineRun),
		captions: make(map[string]map[int]models.Caption),
	}
}

func (r *MemoryCaptionRepo) SaveRun(ctx context.Context, run *models.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.SessionID] = *run
	return nil
}

func (r *MemoryCaptionRepo) InsertCaption(ctx context.Context, sessionID string, c models.Caption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.captions[sessionID]; !ok {
		r.captions[sessionID] = make(map[int]models.Caption)
	}
	r.captions[sessionID][c.Sequence] = c
	return nil
}

func (r *MemoryCaptionRepo) DeleteCaptions(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.captions, sessionID)
	return nil
}

func (r *MemoryCaptionRepo) GetRun(ctx context.Context, sessionID string) (*models.PipelineRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[sessionID]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (r *MemoryCaptionRepo) ListCaptions(ctx context.Context, sessionID string) ([]models.Caption, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Caption, 0, len(r.captions[sessionID]))
	for _, c := range r.captions[sessionID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
