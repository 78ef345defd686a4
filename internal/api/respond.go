package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/matrixise/portfolio-tracker/internal/chain"
	"github.com/matrixise/portfolio-tracker/internal/storage"
	"github.com/matrixise/portfolio-tracker/internal/syncer"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	// nginx convention; the client never reads it
	statusClientClosedRequest = 499
)

// envelope wraps every JSON body.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Stale   *bool  `json:"stale,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Status: statusSuccess, Data: data})
}

func writeList[T any](w http.ResponseWriter, items []T) {
	n := len(items)
	writeJSON(w, http.StatusOK, envelope{Status: statusSuccess, Data: items, Count: &n})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, envelope{Status: statusError, Message: msg})
}

// writeErr maps domain errors to status codes. Unexpected errors are
// logged and hidden behind a generic message.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		slog.Debug("Client closed request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID(r))
		writeError(w, statusClientClosedRequest, "request cancelled")
		return
	}

	code := errorStatus(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID(r),
			"error", err)
		msg = "internal error"
	}
	writeError(w, code, msg)
}

func errorStatus(err error) int {
	var valErr *chain.ValidationError
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.As(err, &valErr), errors.As(err, &fieldErrs):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrWalletExists):
		return http.StatusConflict
	case errors.Is(err, syncer.ErrUnsupportedChain):
		return http.StatusUnprocessableEntity
	case errors.Is(err, syncer.ErrRPCFatal):
		return http.StatusBadGateway
	case errors.Is(err, syncer.ErrRPCUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
