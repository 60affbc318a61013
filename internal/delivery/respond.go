package delivery

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Vovarama1992/livecaptions/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Index *int   `json:"chunk_index,omitempty"`
}

// statusFor maps an error to the HTTP status the client sees.
func statusFor(err error) int {
	switch {
	case apperr.IsClient(err):
		return http.StatusBadRequest
	case apperr.Is(err, apperr.KindConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error(), Kind: string(apperr.KindOf(err))}
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Index >= 0 {
		idx := ae.Index
		body.Index = &idx
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError && body.Kind == "" {
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}
