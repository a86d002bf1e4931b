package core

import (
	"context"
	"time"
)

// OutcomeKind classifies how an execution attempt ended.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeRetry   OutcomeKind = "retry"
	OutcomeFail    OutcomeKind = "fail"
	OutcomeCancel  OutcomeKind = "cancel"
)

// Outcome carries the result of one execution attempt back to the store.
// For OutcomeRetry the dispatcher computes NextRunAt from the job type's
// retry policy; the store downgrades it to a terminal failure when the
// attempt budget is exhausted.
type Outcome struct {
	Kind         OutcomeKind
	Summary      *Summary
	ErrorMessage string
	NextRunAt    time.Time
}

// JobFilter narrows ListJobs. Zero values mean "any".
type JobFilter struct {
	TenantID string
	Status   Status
	JobType  string
	Since    time.Time
	Limit    int
	Offset   int
}

// ReleasedJob describes one job touched by a reaper sweep.
type ReleasedJob struct {
	JobID        string
	TenantID     string
	JobType      string
	Status       Status // queued when requeued, failed when attempts ran out
	AttemptCount int
}

// Tenant is the scanner's view of a tenant row. Tenants are provisioned
// by the surrounding application through the shared store.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"-"`
}

// JobTypeStatus is the operational state of a registered job type.
type JobTypeStatus struct {
	Name      string    `json:"name"`
	Paused    bool      `json:"paused"`
	UpdatedAt time.Time `json:"-"`
}

// WorkerInfo is a dispatcher instance's registration heartbeat.
type WorkerInfo struct {
	ID           string    `json:"id"`
	Hostname     string    `json:"hostname,omitempty"`
	StartedAt    time.Time `json:"-"`
	LastSeenAt   time.Time `json:"-"`
	ClaimedTotal int64     `json:"claimed_total"`
}

// BreakerPhase is a circuit breaker's position.
type BreakerPhase string

const (
	BreakerClosed   BreakerPhase = "closed"
	BreakerOpen     BreakerPhase = "open"
	BreakerHalfOpen BreakerPhase = "half_open"
)

// BreakerState is the shared, versioned record of one breaker scope.
// All mutation goes through Store.UpdateBreaker so concurrent dispatchers
// converge on a single transition.
type BreakerState struct {
	Scope            string
	Phase            BreakerPhase
	FailureCount     int
	WindowStart      time.Time
	TrialSuccesses   int
	TrialInflight    int
	DailyUsedCents   int64
	DailyLimitCents  int64
	DailyWindowStart time.Time
	OpenedAt         time.Time
	LastFailureAt    time.Time
	Version          int64
	UpdatedAt        time.Time
}

// SLOBucket is one row of an SLO rollup.
type SLOBucket struct {
	JobType          string  `json:"job_type,omitempty"`
	Succeeded        int64   `json:"succeeded"`
	Failed           int64   `json:"failed"`
	SuccessRate      float64 `json:"success_rate"`
	BacklogDepth     int64   `json:"backlog_depth"`
	MedianAgeSeconds float64 `json:"median_age_seconds"`
	P95AgeSeconds    float64 `json:"p95_age_seconds"`
}

// SLOSummary aggregates delivery health over a trailing window.
type SLOSummary struct {
	Window   time.Duration
	TenantID string
	Overall  SLOBucket
	ByType   []SLOBucket
}

// Audit actions recorded for privileged operations.
const (
	AuditJobCancel     = "job.cancel"
	AuditJobCancelNoop = "job.cancel_noop"
	AuditJobRetry      = "job.retry"
	AuditBreakerReset  = "breaker.reset"
	AuditTypePause     = "job_type.pause"
	AuditTypeResume    = "job_type.resume"
)

// AuditEvent is one privileged operation: who did what to which target.
type AuditEvent struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	Target     string         `json:"target"`
	TenantID   string         `json:"tenant_id,omitempty"`
	PriorState string         `json:"prior_state,omitempty"`
	NewState   string         `json:"new_state,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"-"`
}

// Store is the engine's sole coordination point. Every instance of every
// component observes and mutates shared state only through it.
type Store interface {
	// Jobs.
	Enqueue(ctx context.Context, req *EnqueueRequest) (job *Job, deduplicated bool, err error)
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, int, error)
	ClaimBatch(ctx context.Context, workerID string, jobTypes []string, limit int, lease time.Duration) ([]*Job, error)
	Complete(ctx context.Context, jobID, workerID string, outcome Outcome) (*Job, error)
	DeferJob(ctx context.Context, jobID, workerID string, until time.Time, note string) error
	CancelJob(ctx context.Context, jobID string) (*Job, error)
	RetryJob(ctx context.Context, jobID string) (*Job, error)
	CancelRequested(ctx context.Context, jobID string) (bool, error)
	ExtendLease(ctx context.Context, jobID, workerID string, lease time.Duration) error
	ReleaseExpiredLeases(ctx context.Context) ([]ReleasedJob, error)
	PromoteDueRetries(ctx context.Context, limit int) (int, error)

	// Tenants and job types.
	TenantPage(ctx context.Context, afterID string, limit int) ([]Tenant, error)
	UpsertTenant(ctx context.Context, tenant Tenant) error
	SetJobTypePaused(ctx context.Context, name string, paused bool) error
	ListJobTypes(ctx context.Context) ([]JobTypeStatus, error)

	// Circuit breakers.
	GetBreaker(ctx context.Context, scope string) (*BreakerState, error)
	UpdateBreaker(ctx context.Context, scope string, mutate func(*BreakerState)) (*BreakerState, error)

	// Observability and audit.
	SLOSummary(ctx context.Context, window time.Duration, tenantID string) (*SLOSummary, error)
	RecordAudit(ctx context.Context, event *AuditEvent) error
	ListAudit(ctx context.Context, limit, offset int) ([]*AuditEvent, error)
	HeartbeatWorker(ctx context.Context, worker WorkerInfo) error
	ListWorkers(ctx context.Context) ([]WorkerInfo, error)

	Ping(ctx context.Context) error
	Close() error
}
