package delivery

import (
	"context"
	"net/http"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/livecaptions/internal/domain"
	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
	"github.com/go-chi/chi/v5"
)

func chiParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

type CaptionHandler struct {
	repo    ports.CaptionRepository
	runs    ports.RunDispatcher
	cleanup func(ctx context.Context, sessionID string) error
	log     *logger.ZapLogger
}

func NewCaptionHandler(
	repo ports.CaptionRepository,
	runs ports.RunDispatcher,
	cleanup func(ctx context.Context, sessionID string) error,
	log *logger.ZapLogger,
) *CaptionHandler {
	return &CaptionHandler{repo: repo, runs: runs, cleanup: cleanup, log: log}
}

type captionHistory struct {
	Run      *models.PipelineRun `json:"run"`
	Captions []models.Caption    `json:"captions"`
}

// GET /api/captions/{sessionID}
func (h *CaptionHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chiParam(r, "sessionID")
	if !models.ValidSessionID(sessionID) {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	run, err := h.repo.GetRun(r.Context(), sessionID)
	if err != nil {
		h.log.Log(logger.LogEntry{Level: "error", Message: "caption run lookup failed", Error: err})
		http.Error(w, "failed get history", http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	caps, err := h.repo.ListCaptions(r.Context(), sessionID)
	if err != nil {
		h.log.Log(logger.LogEntry{Level: "error", Message: "caption list failed", Error: err})
		http.Error(w, "failed get history", http.StatusInternalServerError)
		return
	}

	h.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "caption history fetched",
		Fields:  map[string]any{"session": sessionID, "captions": len(caps)},
	})
	writeJSON(w, http.StatusOK, captionHistory{Run: run, Captions: caps})
}

// DELETE /api/sessions/{sessionID} cancels the run and drops staged chunks.
func (h *CaptionHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chiParam(r, "sessionID")
	cancelled := h.runs.Cancel(sessionID)
	if h.cleanup != nil {
		if err := h.cleanup(r.Context(), sessionID); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
}

// GET /api/languages
func (h *CaptionHandler) Languages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": domain.SupportedLanguages()})
}
