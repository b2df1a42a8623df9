package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/relayhq/emlpipe/internal/pipeline"
	"github.com/relayhq/emlpipe/internal/store"
)

// envelope is the common response shape. Success mirrors the HTTP status so
// simple clients can branch without inspecting the code.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: status < 400, Data: data}); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: msg}) //nolint:errcheck
}

// respondError maps known error values to status codes.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrBatchNotFound):
		writeError(w, http.StatusNotFound, "batch not found")
	case errors.Is(err, pipeline.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrProtectedCategory),
		errors.Is(err, pipeline.ErrNotUploadedToKB),
		errors.Is(err, pipeline.ErrInvalidUpload):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
