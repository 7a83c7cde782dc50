package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/edgemesh/edgemesh/pkg/repository"
)

// Error kinds carried in the wire envelope
const (
	kindBadRequest   = "bad_request"
	kindNotFound     = "not_found"
	kindUnauthorized = "unauthorized"
	kindConflict     = "conflict"
	kindInternal     = "internal"
)

// apiError is the uniform envelope for every non-2xx response, serialized as
// {"error": {"kind": ..., "message": ...}}.
type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e apiError) Error() string { return e.Message }

func (e apiError) httpStatus() int {
	switch e.Kind {
	case kindBadRequest:
		return http.StatusBadRequest
	case kindNotFound:
		return http.StatusNotFound
	case kindUnauthorized:
		return http.StatusUnauthorized
	case kindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(format string, args ...interface{}) apiError {
	return apiError{Kind: kindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...interface{}) apiError {
	return apiError{Kind: kindNotFound, Message: fmt.Sprintf(format, args...)}
}

func unauthorized(message string) apiError {
	return apiError{Kind: kindUnauthorized, Message: message}
}

// toAPIError maps repository sentinels onto wire kinds. Anything unmapped is
// an internal failure and gets logged here, once.
func (s *Server) toAPIError(err error) apiError {
	var ae apiError
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, repository.ErrNotFound):
		return apiError{Kind: kindNotFound, Message: err.Error()}
	case errors.Is(err, repository.ErrConflict):
		return apiError{Kind: kindConflict, Message: err.Error()}
	default:
		s.logger.Error().Err(err).Msg("Request failed")
		return apiError{Kind: kindInternal, Message: err.Error()}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, e apiError) {
	writeJSON(w, e.httpStatus(), map[string]apiError{"error": e})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}
