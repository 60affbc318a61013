package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/livecaptions/internal/apperr"
	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
)

const (
	multipartMemory = 8 << 20
	// room for the form fields and part headers around the chunk bytes
	formOverhead = 1 << 20
)

type ChunkAssembler interface {
	AcceptChunk(ctx context.Context, c models.Chunk, body io.Reader) (models.UploadResult, error)
	Cleanup(ctx context.Context, sessionID string) error
	Forget(sessionID string, merged *models.MergedFile)
	Stats(ctx context.Context) (models.UploadStats, error)
}

type UploadHandler struct {
	assembler ChunkAssembler
	runs      ports.RunDispatcher
	notifier  ports.Notifier
	maxChunk  int64
	log       *logger.ZapLogger
}

func NewUploadHandler(
	assembler ChunkAssembler,
	runs ports.RunDispatcher,
	notifier ports.Notifier,
	maxChunkBytes int64,
	log *logger.ZapLogger,
) *UploadHandler {
	return &UploadHandler{
		assembler: assembler,
		runs:      runs,
		notifier:  notifier,
		maxChunk:  maxChunkBytes,
		log:       log,
	}
}

type chunkReceived struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	ChunkIndex int    `json:"chunk_index"`
}

type uploadComplete struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	FilePath    string `json:"file_path"`
	TotalChunks int    `json:"chunks_processed"`
}

func formInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.FormValue(name))
	if raw == "" {
		return 0, apperr.Newf(apperr.KindValidation, "upload", "missing field %s", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Newf(apperr.KindValidation, "upload", "field %s must be an integer", name)
	}
	return v, nil
}

// POST /upload
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxChunk > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxChunk+formOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, apperr.Newf(apperr.KindFileTooLarge, "upload", "chunk exceeds %d bytes", h.maxChunk))
			return
		}
		writeError(w, apperr.New(apperr.KindValidation, "upload", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperr.Newf(apperr.KindValidation, "upload", "missing file part"))
		return
	}
	defer file.Close()

	index, err := formInt(r, "chunk_index")
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := formInt(r, "total_chunks")
	if err != nil {
		writeError(w, err)
		return
	}
	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		writeError(w, apperr.Newf(apperr.KindValidation, "upload", "missing field session_id"))
		return
	}
	filename := strings.TrimSpace(r.FormValue("filename"))
	if filename == "" {
		filename = hdr.Filename
	}

	c := models.Chunk{
		SessionID:   sessionID,
		Index:       index,
		TotalChunks: total,
		Filename:    filename,
		Language:    strings.TrimSpace(r.FormValue("language")),
	}

	res, err := h.assembler.AcceptChunk(r.Context(), c, file)
	if err != nil {
		h.log.Log(logger.LogEntry{
			Level:   "warn",
			Message: "chunk rejected",
			Fields:  map[string]any{"session": sessionID, "chunk": index, "total": total},
			Error:   err,
		})
		writeError(w, err)
		return
	}

	if !res.Complete {
		writeJSON(w, http.StatusOK, chunkReceived{
			Status:     "chunk_received",
			Message:    "Chunk " + strconv.Itoa(index+1) + "/" + strconv.Itoa(total) + " received",
			ChunkIndex: index,
		})
		return
	}

	if !res.Duplicate {
		if err := h.startRun(sessionID, res.Merged, c.Language); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, uploadComplete{
		Status:      "success",
		Message:     "File uploaded successfully, processing started",
		FilePath:    res.Merged.Path,
		TotalChunks: total,
	})
}

// startRun hands the merged file to the pipeline. The pipeline owns the file
// from here; if it cannot be queued the assembler forgets the merge.
func (h *UploadHandler) startRun(sessionID string, merged *models.MergedFile, language string) error {
	err := h.runs.Submit(models.PipelineJob{
		SessionID:      sessionID,
		InputPath:      merged.Path,
		TargetLanguage: language,
	})
	if err == nil {
		h.log.Log(logger.LogEntry{
			Level:   "info",
			Message: "upload complete, run submitted",
			Fields:  map[string]any{"session": sessionID, "bytes": merged.Size, "language": language},
		})
		return nil
	}

	h.log.Log(logger.LogEntry{
		Level:   "error",
		Message: "run not submitted",
		Fields:  map[string]any{"session": sessionID},
		Error:   err,
	})
	h.assembler.Forget(sessionID, merged)
	h.notifier.Send(sessionID, models.EventError, models.ErrorPayload{
		Message: err.Error(),
		Kind:    string(apperr.KindOf(err)),
	})
	return err
}

// DELETE /api/uploads/{sessionID}
func (h *UploadHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	sessionID := chiParam(r, "sessionID")
	if err := h.assembler.Cleanup(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/uploads/stats
func (h *UploadHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.assembler.Stats(r.Context())
	if err != nil {
		h.log.Log(logger.LogEntry{Level: "error", Message: "upload stats failed", Error: err})
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
