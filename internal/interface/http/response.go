package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/arcs-classroom/motivation-hub/internal/domain/shared"
	"github.com/arcs-classroom/motivation-hub/internal/interface/http/handlers"
	"github.com/arcs-classroom/motivation-hub/pkg/logger"
)

// JSONResponse is the envelope of every JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError carries the stable error kind as Code.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, body JSONResponse) {
	body.RequestID = handlers.RequestIDFrom(r.Context())
	body.Meta = &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.FromContext(r.Context()).Debug("response write failed", logger.Err(err))
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, r, status, JSONResponse{Success: status < 300, Data: data})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeEnvelope(w, r, status, JSONResponse{Error: &APIError{Code: code, Message: message}})
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	for _, m := range statusByKind {
		if errors.Is(err, m.kind) {
			return m.status
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

var statusByKind = []struct {
	kind   error
	status int
}{
	{shared.ErrFormat, http.StatusBadRequest},
	{shared.ErrValidation, http.StatusBadRequest},
	{shared.ErrInsufficientData, http.StatusUnprocessableEntity},
	{shared.ErrInsufficientCohort, http.StatusUnprocessableEntity},
	{shared.ErrAlreadyExists, http.StatusConflict},
	{shared.ErrConflict, http.StatusConflict},
	{shared.ErrNotFound, http.StatusNotFound},
	{shared.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
}

// writeDomainError answers with the error's kind code. Server-side
// failures are logged in full; internal ones get a generic message.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	code, message := shared.KindOf(err), err.Error()

	switch {
	case status == http.StatusGatewayTimeout:
		code = "timeout"
	case status == http.StatusInternalServerError:
		message = "An unexpected error occurred"
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.Err(err),
		)
	}
	writeJSONError(w, r, status, code, message)
}
