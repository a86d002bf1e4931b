package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

const jobColumns = `id, tenant_id, job_type, dedup_key, status, payload, attempt_count, max_attempts,
	next_run_at, locked_by, locked_at, lease_expires_at, cancel_requested, last_error, summary,
	created_at, updated_at`

func scanJob(row rowScanner) (*core.Job, error) {
	var (
		job       core.Job
		status    string
		lockedBy  *string
		lockedAt  *time.Time
		leaseExp  *time.Time
		lastError *string
	)
	err := row.Scan(
		&job.ID, &job.TenantID, &job.Type, &job.DedupKey, &status, &job.Payload,
		&job.AttemptCount, &job.MaxAttempts, &job.NextRunAt, &lockedBy, &lockedAt,
		&leaseExp, &job.CancelRequested, &lastError, &job.Summary,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = core.Status(status)
	if lockedBy != nil {
		job.LockedBy = *lockedBy
	}
	if lockedAt != nil {
		job.LockedAt = lockedAt.UTC()
	}
	if leaseExp != nil {
		job.LeaseExpiresAt = leaseExp.UTC()
	}
	if lastError != nil {
		job.LastError = *lastError
	}
	job.NextRunAt = job.NextRunAt.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}

// Enqueue inserts a job, or returns the live job already holding the same
// (tenant, type, dedup key). The partial unique index is the arbiter: the
// insert is suppressed when a live duplicate exists, and the follow-up read
// fetches the survivor. If the survivor reaches a terminal state between the
// two statements the insert is retried.
func (s *Store) Enqueue(ctx context.Context, req *core.EnqueueRequest) (*core.Job, bool, error) {
	if verr := core.ValidateEnqueueRequest(req); verr != nil {
		return nil, false, verr
	}

	now := time.Now().UTC()
	id := core.NewUUIDv7()
	dedupKey := req.DedupKey
	if dedupKey == "" {
		dedupKey = core.AdhocDedupKey(id)
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	nextRunAt := req.ScheduledAt.UTC()
	if nextRunAt.Before(now) {
		nextRunAt = now
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = core.DefaultMaxAttempts
	}

	for attempt := 0; attempt < 3; attempt++ {
		row := s.pool.QueryRow(ctx, `
			INSERT INTO jobs (id, tenant_id, job_type, dedup_key, status, payload, max_attempts, next_run_at)
			VALUES ($1, $2, $3, $4, 'queued', $5, $6, $7)
			ON CONFLICT (tenant_id, job_type, dedup_key) WHERE status IN ('queued', 'running', 'retrying') DO NOTHING
			RETURNING `+jobColumns,
			id, req.TenantID, req.Type, dedupKey, payload, maxAttempts, nextRunAt)
		job, err := scanJob(row)
		if err == nil {
			s.notifyJobReady(ctx, job.Type)
			return job, false, nil
		}
		if !isNoRows(err) {
			return nil, false, storeErr("enqueue job", err)
		}

		row = s.pool.QueryRow(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE tenant_id = $1 AND job_type = $2 AND dedup_key = $3
			  AND status IN ('queued', 'running', 'retrying')
			ORDER BY created_at DESC
			LIMIT 1`,
			req.TenantID, req.Type, dedupKey)
		existing, err := scanJob(row)
		if err == nil {
			return existing, true, nil
		}
		if !isNoRows(err) {
			return nil, false, storeErr("load deduplicated job", err)
		}
		// The duplicate finished between insert and read. Try again.
	}
	return nil, false, core.NewInternalError("enqueue did not converge after retries")
}

// GetJob loads a single job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	if !core.IsValidUUID(jobID) {
		return nil, core.NewNotFoundError("Job", jobID)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if isNoRows(err) {
		return nil, core.NewNotFoundError("Job", jobID)
	}
	if err != nil {
		return nil, storeErr("get job", err)
	}
	return job, nil
}

// ListJobs returns a filtered page ordered newest first, plus the total
// matching count for pagination.
func (s *Store) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	addClause := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.TenantID != "" {
		addClause("tenant_id = $%d", filter.TenantID)
	}
	if filter.Status != "" {
		if !core.ValidStatus(string(filter.Status)) {
			return nil, 0, core.NewInvalidRequestError("invalid status filter", map[string]any{"status": string(filter.Status)})
		}
		addClause("status = $%d", string(filter.Status))
	}
	if filter.JobType != "" {
		addClause("job_type = $%d", filter.JobType)
	}
	if !filter.Since.IsZero() {
		addClause("created_at >= $%d", filter.Since.UTC())
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, storeErr("count jobs", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, storeErr("list jobs", err)
	}
	defer rows.Close()

	jobs := []*core.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, storeErr("scan job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr("list jobs", err)
	}
	return jobs, total, nil
}

// ClaimBatch atomically moves up to limit due jobs of the given types to
// running under workerID's lease. SKIP LOCKED keeps concurrent pollers from
// blocking on or double-claiming the same rows. Paused job types are skipped.
func (s *Store) ClaimBatch(ctx context.Context, workerID string, jobTypes []string, limit int, lease time.Duration) ([]*core.Job, error) {
	if workerID == "" {
		return nil, core.NewInvalidRequestError("worker_id is required", nil)
	}
	if len(jobTypes) == 0 {
		return []*core.Job{}, nil
	}
	if limit <= 0 {
		limit = 1
	}
	if lease <= 0 {
		lease = time.Minute
	}
	now := time.Now().UTC()

	rows, err := s.pool.Query(ctx, `
		UPDATE jobs SET
			status = 'running',
			locked_by = $1,
			locked_at = $2,
			lease_expires_at = $3,
			updated_at = $2
		WHERE id IN (
			SELECT id FROM jobs
			WHERE job_type = ANY($4)
			  AND status IN ('queued', 'retrying')
			  AND next_run_at <= $2
			  AND job_type NOT IN (SELECT name FROM job_types WHERE paused)
			ORDER BY next_run_at
			FOR UPDATE SKIP LOCKED
			LIMIT $5
		)
		RETURNING `+jobColumns,
		workerID, now, now.Add(lease), jobTypes, limit)
	if err != nil {
		return nil, storeErr("claim jobs", err)
	}
	defer rows.Close()

	claimed := []*core.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, storeErr("scan claimed job", err)
		}
		claimed = append(claimed, job)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("claim jobs", err)
	}
	return claimed, nil
}

// Complete finishes a running job held by workerID. The locked_by guard means
// a worker whose lease was reaped (and the job possibly re-claimed) cannot
// overwrite the new owner's run; it gets a lease_expired error instead.
func (s *Store) Complete(ctx context.Context, jobID, workerID string, outcome core.Outcome) (*core.Job, error) {
	now := time.Now().UTC()
	var row rowScanner
	switch outcome.Kind {
	case core.OutcomeSuccess:
		var summary []byte
		if outcome.Summary != nil {
			encoded, err := json.Marshal(outcome.Summary)
			if err != nil {
				return nil, core.NewInternalError("encode job summary: " + err.Error())
			}
			summary = encoded
		}
		row = s.pool.QueryRow(ctx, `
			UPDATE jobs SET
				status = 'succeeded',
				summary = $3,
				last_error = NULL,
				locked_by = NULL, locked_at = NULL, lease_expires_at = NULL,
				updated_at = $4
			WHERE id = $1 AND status = 'running' AND locked_by = $2
			RETURNING `+jobColumns,
			jobID, workerID, summary, now)

	case core.OutcomeFail:
		row = s.pool.QueryRow(ctx, `
			UPDATE jobs SET
				status = 'failed',
				attempt_count = attempt_count + 1,
				last_error = $3,
				locked_by = NULL, locked_at = NULL, lease_expires_at = NULL,
				updated_at = $4
			WHERE id = $1 AND status = 'running' AND locked_by = $2
			RETURNING `+jobColumns,
			jobID, workerID, outcome.ErrorMessage, now)

	case core.OutcomeRetry:
		nextRunAt := outcome.NextRunAt
		if nextRunAt.IsZero() {
			nextRunAt = now
		}
		// A pending cancellation wins over another attempt; exhausted
		// attempts become a permanent failure.
		row = s.pool.QueryRow(ctx, `
			UPDATE jobs SET
				attempt_count = attempt_count + 1,
				status = CASE
					WHEN cancel_requested THEN 'cancelled'
					WHEN attempt_count + 1 >= max_attempts THEN 'failed'
					ELSE 'retrying'
				END,
				next_run_at = CASE
					WHEN cancel_requested OR attempt_count + 1 >= max_attempts THEN next_run_at
					ELSE $3
				END,
				last_error = $4,
				locked_by = NULL, locked_at = NULL, lease_expires_at = NULL,
				updated_at = $5
			WHERE id = $1 AND status = 'running' AND locked_by = $2
			RETURNING `+jobColumns,
			jobID, workerID, nextRunAt.UTC(), outcome.ErrorMessage, now)

	case core.OutcomeCancel:
		message := outcome.ErrorMessage
		if message == "" {
			message = "cancelled by request"
		}
		row = s.pool.QueryRow(ctx, `
			UPDATE jobs SET
				status = 'cancelled',
				last_error = $3,
				locked_by = NULL, locked_at = NULL, lease_expires_at = NULL,
				updated_at = $4
			WHERE id = $1 AND status = 'running' AND locked_by = $2
			RETURNING `+jobColumns,
			jobID, workerID, message, now)

	default:
		return nil, core.NewInvalidRequestError("unknown outcome kind", map[string]any{"kind": string(outcome.Kind)})
	}

	job, err := scanJob(row)
	if isNoRows(err) {
		return nil, s.completeConflict(ctx, jobID, workerID)
	}
	if err != nil {
		return nil, storeErr("complete job", err)
	}

	if job.CancelRequested && job.Status.Terminal() && job.Status != core.StatusCancelled {
		slog.Warn("cancellation requested but job completed first",
			"job_id", job.ID, "tenant_id", job.TenantID, "status", string(job.Status))
		s.recordCancelNoop(ctx, job)
	}
	return job, nil
}

// completeConflict distinguishes a vanished job from a lost lease after a
// guarded update matched nothing.
func (s *Store) completeConflict(ctx context.Context, jobID, workerID string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if isNoRows(err) {
		return core.NewNotFoundError("Job", jobID)
	}
	if err != nil {
		return storeErr("complete job", err)
	}
	return core.NewLeaseExpiredError(jobID, workerID)
}

func (s *Store) recordCancelNoop(ctx context.Context, job *core.Job) {
	noop := &core.AuditEvent{
		Actor:      "system",
		Action:     core.AuditJobCancelNoop,
		Target:     job.ID,
		TenantID:   job.TenantID,
		PriorState: string(core.StatusRunning),
		NewState:   string(job.Status),
		Detail:     map[string]any{"job_type": job.Type},
	}
	if err := s.RecordAudit(ctx, noop); err != nil {
		slog.Warn("record cancel no-op audit", "job_id", job.ID, "error", err)
	}
}

// DeferJob pushes a running job back to queued with a future run time
// without charging an attempt. Used when a safety breaker is open.
func (s *Store) DeferJob(ctx context.Context, jobID, workerID string, until time.Time, note string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'queued',
			next_run_at = $3,
			last_error = COALESCE(NULLIF($4, ''), last_error),
			locked_by = NULL, locked_at = NULL, lease_expires_at = NULL,
			updated_at = $5
		WHERE id = $1 AND status = 'running' AND locked_by = $2`,
		jobID, workerID, until.UTC(), note, now)
	if err != nil {
		return storeErr("defer job", err)
	}
	if tag.RowsAffected() == 0 {
		return s.completeConflict(ctx, jobID, workerID)
	}
	return nil
}

// CancelJob cancels a queued or retrying job immediately. Running jobs get
// cancel_requested set for the handler to observe at its next checkpoint.
// Terminal jobs yield a conflict.
func (s *Store) CancelJob(ctx context.Context, jobID string) (*core.Job, error) {
	if !core.IsValidUUID(jobID) {
		return nil, core.NewNotFoundError("Job", jobID)
	}
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			status = CASE WHEN status IN ('queued', 'retrying') THEN 'cancelled' ELSE status END,
			cancel_requested = CASE WHEN status = 'running' THEN TRUE ELSE cancel_requested END,
			last_error = CASE WHEN status IN ('queued', 'retrying') THEN 'cancelled by request' ELSE last_error END,
			updated_at = $2
		WHERE id = $1 AND status NOT IN ('succeeded', 'failed', 'cancelled')
		RETURNING `+jobColumns,
		jobID, now)
	job, err := scanJob(row)
	if isNoRows(err) {
		existing, gerr := s.GetJob(ctx, jobID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, core.NewConflictError(
			"job is already in a terminal state",
			map[string]any{"job_id": jobID, "status": string(existing.Status)})
	}
	if err != nil {
		return nil, storeErr("cancel job", err)
	}
	return job, nil
}

// RetryJob requeues a failed job with a fresh attempt budget. Only failed
// jobs are eligible; anything else is a conflict.
func (s *Store) RetryJob(ctx context.Context, jobID string) (*core.Job, error) {
	if !core.IsValidUUID(jobID) {
		return nil, core.NewNotFoundError("Job", jobID)
	}
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			status = 'queued',
			attempt_count = 0,
			next_run_at = $2,
			last_error = NULL,
			summary = NULL,
			cancel_requested = FALSE,
			updated_at = $2
		WHERE id = $1 AND status = 'failed'
		RETURNING `+jobColumns,
		jobID, now)
	job, err := scanJob(row)
	if isNoRows(err) {
		existing, gerr := s.GetJob(ctx, jobID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, core.NewConflictError(
			"only failed jobs can be retried",
			map[string]any{"job_id": jobID, "status": string(existing.Status)})
	}
	if err != nil {
		return nil, storeErr("retry job", err)
	}
	s.notifyJobReady(ctx, job.Type)
	return job, nil
}

// CancelRequested reports whether cancellation has been requested for jobID.
// Handlers poll this from their checkpoints.
func (s *Store) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var requested bool
	err := s.pool.QueryRow(ctx, `SELECT cancel_requested FROM jobs WHERE id = $1`, jobID).Scan(&requested)
	if isNoRows(err) {
		return false, core.NewNotFoundError("Job", jobID)
	}
	if err != nil {
		return false, storeErr("read cancel flag", err)
	}
	return requested, nil
}
