package core

// Job event types published on lifecycle transitions.
const (
	EventJobEnqueued  = "job.enqueued"
	EventJobSucceeded = "job.succeeded"
	EventJobRetrying  = "job.retrying"
	EventJobFailed    = "job.failed"
	EventJobCancelled = "job.cancelled"
)

// JobEvent is the payload published when a job changes state.
type JobEvent struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	TenantID  string `json:"tenant_id"`
	JobType   string `json:"job_type"`
	Status    Status `json:"status"`
	Attempt   int    `json:"attempt,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// AlertClass labels an alert for routing. Code-defect alerts page the
// owning team; the rest go to the operations channel.
type AlertClass string

const (
	AlertJobFailed        AlertClass = "job_failed"
	AlertCodeDefect       AlertClass = "code_defect"
	AlertLeaseExpired     AlertClass = "lease_expired"
	AlertBreakerOpened    AlertClass = "breaker_opened"
	AlertBreakerReset     AlertClass = "breaker_reset"
	AlertStoreUnreachable AlertClass = "store_unreachable"
)

// Alert is an operator-facing notification about an engine condition.
type Alert struct {
	Class     AlertClass     `json:"class"`
	Message   string         `json:"message"`
	TenantID  string         `json:"tenant_id,omitempty"`
	JobType   string         `json:"job_type,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	Scope     string         `json:"scope,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// EventPublisher fans lifecycle events and alerts out to observers.
// Publishing is best-effort; the engine never blocks on it.
type EventPublisher interface {
	PublishJobEvent(event *JobEvent) error
	PublishAlert(alert *Alert) error
	Close() error
}
