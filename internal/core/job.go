package core

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs are retained
// for audit and metrics; the engine never deletes them.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ValidStatus reports whether s names a known job status.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusRetrying, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is a single unit of background work owned by a tenant.
// Rows live in the shared store; a job is mutated only by the worker
// holding its lease and by the reaper after that lease expires.
type Job struct {
	ID              string
	TenantID        string
	Type            string
	DedupKey        string
	Status          Status
	Payload         json.RawMessage
	AttemptCount    int
	MaxAttempts     int
	NextRunAt       time.Time
	LockedBy        string
	LockedAt        time.Time
	LeaseExpiresAt  time.Time
	CancelRequested bool
	LastError       string
	Summary         json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool { return j.Status.Terminal() }

// jobWire is the JSON shape of a Job. Timestamps are millisecond-precision
// UTC strings; empty optional fields are omitted.
type jobWire struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Type            string          `json:"job_type"`
	DedupKey        string          `json:"dedup_key,omitempty"`
	Status          Status          `json:"status"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	AttemptCount    int             `json:"attempt_count"`
	MaxAttempts     int             `json:"max_attempts"`
	NextRunAt       string          `json:"next_run_at,omitempty"`
	LockedBy        string          `json:"locked_by,omitempty"`
	LockedAt        string          `json:"locked_at,omitempty"`
	LeaseExpiresAt  string          `json:"lease_expires_at,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	Summary         json.RawMessage `json:"summary,omitempty"`
	CreatedAt       string          `json:"created_at,omitempty"`
	UpdatedAt       string          `json:"updated_at,omitempty"`
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return FormatTime(t)
}

// MarshalJSON renders the job with formatted timestamps.
func (j *Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(&jobWire{
		ID:              j.ID,
		TenantID:        j.TenantID,
		Type:            j.Type,
		DedupKey:        j.DedupKey,
		Status:          j.Status,
		Payload:         j.Payload,
		AttemptCount:    j.AttemptCount,
		MaxAttempts:     j.MaxAttempts,
		NextRunAt:       formatOptional(j.NextRunAt),
		LockedBy:        j.LockedBy,
		LockedAt:        formatOptional(j.LockedAt),
		LeaseExpiresAt:  formatOptional(j.LeaseExpiresAt),
		CancelRequested: j.CancelRequested,
		LastError:       j.LastError,
		Summary:         j.Summary,
		CreatedAt:       formatOptional(j.CreatedAt),
		UpdatedAt:       formatOptional(j.UpdatedAt),
	})
}

// UnmarshalJSON parses the wire shape back into a Job.
func (j *Job) UnmarshalJSON(data []byte) error {
	var w jobWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parse := func(s string) time.Time {
		if s == "" {
			return time.Time{}
		}
		t, err := ParseTime(s)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	*j = Job{
		ID:              w.ID,
		TenantID:        w.TenantID,
		Type:            w.Type,
		DedupKey:        w.DedupKey,
		Status:          w.Status,
		Payload:         w.Payload,
		AttemptCount:    w.AttemptCount,
		MaxAttempts:     w.MaxAttempts,
		NextRunAt:       parse(w.NextRunAt),
		LockedBy:        w.LockedBy,
		LockedAt:        parse(w.LockedAt),
		LeaseExpiresAt:  parse(w.LeaseExpiresAt),
		CancelRequested: w.CancelRequested,
		LastError:       w.LastError,
		Summary:         w.Summary,
		CreatedAt:       parse(w.CreatedAt),
		UpdatedAt:       parse(w.UpdatedAt),
	}
	return nil
}

// EnqueueRequest is a validated request to schedule a job.
type EnqueueRequest struct {
	TenantID    string
	Type        string
	DedupKey    string
	Payload     json.RawMessage
	ScheduledAt time.Time // zero means eligible immediately
	MaxAttempts int       // zero means the per-type policy default
}

type enqueueWire struct {
	TenantID    string          `json:"tenant_id"`
	Type        string          `json:"job_type"`
	DedupKey    string          `json:"dedup_key"`
	Payload     json.RawMessage `json:"payload"`
	ScheduledAt string          `json:"scheduled_at"`
	MaxAttempts int             `json:"max_attempts"`
}

// ParseEnqueueRequest decodes an enqueue request body. Structural problems
// (malformed JSON, unparseable timestamps) are reported as invalid_request;
// semantic validation happens in ValidateEnqueueRequest.
func ParseEnqueueRequest(data []byte) (*EnqueueRequest, *EngineError) {
	var w enqueueWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, NewInvalidRequestError("request body is not valid JSON", map[string]any{
			"error": err.Error(),
		})
	}
	req := &EnqueueRequest{
		TenantID:    w.TenantID,
		Type:        w.Type,
		DedupKey:    w.DedupKey,
		Payload:     w.Payload,
		MaxAttempts: w.MaxAttempts,
	}
	if w.ScheduledAt != "" {
		t, err := ParseTime(w.ScheduledAt)
		if err != nil {
			return nil, NewInvalidRequestError("scheduled_at is not a valid timestamp", map[string]any{
				"scheduled_at": w.ScheduledAt,
			})
		}
		req.ScheduledAt = t
	}
	return req, nil
}
