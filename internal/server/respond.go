package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps err to a status and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, "path", r.URL.Path, "error", err)
	}

	var userErr *common.UserError
	switch {
	case errors.As(err, &userErr):
		msg = userErr.UserMessage
	case status < http.StatusInternalServerError:
		msg = err.Error()
	}
	s.writeError(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrDuplicateEntry):
		return http.StatusConflict
	case common.IsAuthError(err):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, storage.ErrInvalidSubscription),
		errors.Is(err, storage.ErrInvalidConnection),
		errors.Is(err, storage.ErrEmptyString):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
