package core

import (
	"context"
	"encoding/json"
)

// RiskClass categorizes the blast radius of a job type. High-risk types
// (remediation actions that modify customer infrastructure) execute behind
// the safety circuit breaker.
type RiskClass string

const (
	RiskStandard RiskClass = "standard"
	RiskHigh     RiskClass = "high"
)

// Summary is the structured result a handler returns on success. It is
// persisted with the job and surfaced by the observability API.
type Summary struct {
	Note        string             `json:"note,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	ImpactCents int64              `json:"impact_cents,omitempty"`
	Output      json.RawMessage    `json:"output,omitempty"`
}

// HandlerError reports a handler failure. Retryable failures reschedule
// the job per its retry policy; terminal failures fail it immediately.
// Any other error returned by a handler is treated as retryable.
type HandlerError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *HandlerError) Error() string {
	return "[" + e.Code + "] " + e.Message
}

// NewRetryableHandlerError reports a failure worth retrying, such as an
// upstream timeout.
func NewRetryableHandlerError(code, message string) *HandlerError {
	return &HandlerError{Code: code, Message: message, Retryable: true}
}

// NewTerminalHandlerError reports a failure that retrying cannot fix,
// such as a malformed source document.
func NewTerminalHandlerError(code, message string) *HandlerError {
	return &HandlerError{Code: code, Message: message}
}

// JobRun is the view of a claimed job handed to its handler. Checkpoint
// lets long-running handlers observe operator cancellation and keep their
// lease fresh at natural pause points.
type JobRun struct {
	Job        *Job
	checkpoint func(context.Context) error
}

// NewJobRun binds a claimed job to its dispatcher-provided checkpoint.
func NewJobRun(job *Job, checkpoint func(context.Context) error) *JobRun {
	return &JobRun{Job: job, checkpoint: checkpoint}
}

// Checkpoint returns ErrCancelRequested if an operator has asked for the
// job to stop; otherwise it extends the job's lease. Handlers should call
// it between units of work and return the error unchanged.
func (r *JobRun) Checkpoint(ctx context.Context) error {
	if r.checkpoint == nil {
		return nil
	}
	return r.checkpoint(ctx)
}

// Handler executes jobs of a single type. Implementations decode the
// payload at this boundary and must be safe for concurrent calls.
type Handler interface {
	Execute(ctx context.Context, run *JobRun) (*Summary, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, run *JobRun) (*Summary, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, run *JobRun) (*Summary, error) {
	return f(ctx, run)
}
