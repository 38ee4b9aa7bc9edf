package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/terra-clan/treetest-engine/internal/apperr"
	"github.com/terra-clan/treetest-engine/internal/navigation"
)

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeError(w, status, &apiError{Code: code, Message: message})
}

func writeError(w http.ResponseWriter, status int, e *apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(apiResponse{Success: false, Error: e}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondErr maps a domain error onto the error envelope
func respondErr(w http.ResponseWriter, err error) {
	status, e := classifyError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeError(w, status, e)
}

func classifyError(err error) (int, *apiError) {
	switch {
	case navigation.IsConflict(err):
		return http.StatusConflict, &apiError{Code: "conflict", Message: err.Error()}
	case navigation.IsInvalidAction(err):
		return http.StatusBadRequest, &apiError{Code: "invalid_action", Message: err.Error()}
	}

	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindCompile:
		return apperr.HTTPStatus(err), &apiError{Code: "compile_error", Message: err.Error(), Line: apperr.LineOf(err)}
	case apperr.KindValidation:
		return apperr.HTTPStatus(err), &apiError{Code: "validation_error", Message: err.Error()}
	case apperr.KindNotFound:
		return apperr.HTTPStatus(err), &apiError{Code: "not_found", Message: err.Error()}
	case apperr.KindPersistence:
		return http.StatusInternalServerError, &apiError{Code: "persistence_error", Message: apperr.MessageOf(err)}
	}
	return http.StatusInternalServerError, &apiError{Code: "internal_error", Message: "internal server error"}
}

// decodeJSON reads and validates a request body. An empty body is allowed
// when allowEmpty is set and leaves dst untouched.
func (s *Server) decodeJSON(r *http.Request, dst interface{}, allowEmpty bool) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return apperr.Validation("invalid JSON body")
		}
	}
	return s.validator.Validate(dst)
}
