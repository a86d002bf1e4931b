package api

import (
	"encoding/json"
	"net/http"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

const contentTypeJSON = "application/json"

// ErrorResponse is the envelope for every error the API returns.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody mirrors core.EngineError on the wire, plus the request ID so
// operators can correlate a failed call with the server logs.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable"`
	RequestID string         `json:"request_id,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an engine error with an explicit status. The request ID
// is echoed from the response header set by the RequestID middleware.
func WriteError(w http.ResponseWriter, status int, engineErr *core.EngineError) {
	WriteJSON(w, status, ErrorResponse{Error: ErrorBody{
		Code:      engineErr.Code,
		Message:   engineErr.Message,
		Details:   engineErr.Details,
		Retryable: engineErr.Retryable,
		RequestID: w.Header().Get(headerRequestID),
	}})
}

// WriteEngineError maps err onto an HTTP status and writes it. Errors that
// are not EngineErrors are reported as internal.
func WriteEngineError(w http.ResponseWriter, err error) {
	engineErr, ok := core.AsEngineError(err)
	if !ok {
		engineErr = core.NewInternalError("unexpected error: " + err.Error())
	}
	WriteError(w, statusForCode(engineErr.Code), engineErr)
}

func statusForCode(code string) int {
	switch code {
	case core.ErrCodeInvalidRequest, core.ErrCodeValidationError:
		return http.StatusBadRequest
	case core.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeConflict, core.ErrCodeLeaseExpired:
		return http.StatusConflict
	case core.ErrCodeCircuitOpen, core.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
