package core

import "errors"

// Error codes returned by the engine.
const (
	ErrCodeInvalidRequest   = "invalid_request"
	ErrCodeValidationError  = "validation_error"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeLeaseExpired     = "lease_expired"
	ErrCodeCircuitOpen      = "circuit_open"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeInternalError    = "internal_error"
)

// ErrCancelRequested is returned from JobRun.Checkpoint when an operator
// has requested cancellation of the running job. Handlers should stop and
// return it unchanged.
var ErrCancelRequested = errors.New("job cancellation requested")

// EngineError is the structured error type used across the engine.
// Retryable tells callers whether the same request may succeed later.
type EngineError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable"`
}

func (e *EngineError) Error() string {
	return "[" + e.Code + "] " + e.Message
}

// AsEngineError unwraps err into an *EngineError if there is one.
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// NewInvalidRequestError reports a structurally malformed request.
func NewInvalidRequestError(message string, details map[string]any) *EngineError {
	return &EngineError{Code: ErrCodeInvalidRequest, Message: message, Details: details}
}

// NewValidationError reports a request that parsed but failed semantic checks.
func NewValidationError(message string, details map[string]any) *EngineError {
	return &EngineError{Code: ErrCodeValidationError, Message: message, Details: details}
}

// NewUnauthorizedError reports a request that failed admin authentication.
func NewUnauthorizedError(message string) *EngineError {
	return &EngineError{Code: ErrCodeUnauthorized, Message: message}
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(resourceType, resourceID string) *EngineError {
	return &EngineError{
		Code:    ErrCodeNotFound,
		Message: resourceType + " '" + resourceID + "' not found.",
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	}
}

// NewConflictError reports a request that violates the job state machine
// or another uniqueness rule.
func NewConflictError(message string, details map[string]any) *EngineError {
	return &EngineError{Code: ErrCodeConflict, Message: message, Details: details}
}

// NewLeaseExpiredError reports a completion attempt on a lease the worker
// no longer holds. The attempt is rejected; the reaper owns the job now.
func NewLeaseExpiredError(jobID, workerID string) *EngineError {
	return &EngineError{
		Code:    ErrCodeLeaseExpired,
		Message: "lease on job '" + jobID + "' is no longer held by this worker",
		Details: map[string]any{
			"job_id":    jobID,
			"worker_id": workerID,
		},
	}
}

// NewCircuitOpenError reports that a safety circuit breaker is gating the
// job's risk scope. The job is deferred, not failed.
func NewCircuitOpenError(scope string, details map[string]any) *EngineError {
	if details == nil {
		details = map[string]any{}
	}
	details["scope"] = scope
	return &EngineError{
		Code:      ErrCodeCircuitOpen,
		Message:   "action temporarily paused for safety",
		Details:   details,
		Retryable: true,
	}
}

// NewStoreUnavailableError reports a transient store failure.
func NewStoreUnavailableError(message string) *EngineError {
	return &EngineError{Code: ErrCodeStoreUnavailable, Message: message, Retryable: true}
}

// NewInternalError reports an unexpected engine failure.
func NewInternalError(message string) *EngineError {
	return &EngineError{Code: ErrCodeInternalError, Message: message, Retryable: true}
}
