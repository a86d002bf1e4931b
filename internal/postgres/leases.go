package postgres

import (
	"context"
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

// ExtendLease renews workerID's lease on a running job. Callers that lost
// the lease get a lease_expired error and must abandon the run.
func (s *Store) ExtendLease(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	if lease <= 0 {
		lease = time.Minute
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			lease_expires_at = $3,
			updated_at = $4
		WHERE id = $1 AND status = 'running' AND locked_by = $2`,
		jobID, workerID, now.Add(lease), now)
	if err != nil {
		return storeErr("extend lease", err)
	}
	if tag.RowsAffected() == 0 {
		return s.completeConflict(ctx, jobID, workerID)
	}
	return nil
}

// ReleaseExpiredLeases requeues every running job whose lease has lapsed.
// The interrupted run counts as an attempt, so a job that keeps killing its
// worker fails permanently instead of crash-looping forever. Jobs with a
// pending cancellation are cancelled rather than requeued.
func (s *Store) ReleaseExpiredLeases(ctx context.Context) ([]core.ReleasedJob, error) {
	now := time.Now().UTC()
	rows, err := s.pool.Query(ctx, `
		UPDATE jobs SET
			attempt_count = attempt_count + 1,
			status = CASE
				WHEN cancel_requested THEN 'cancelled'
				WHEN attempt_count + 1 >= max_attempts THEN 'failed'
				ELSE 'queued'
			END,
			locked_by = NULL, locked_at = NULL, lease_expires_at = NULL,
			last_error = 'lease expired: worker did not complete within its lease',
			updated_at = $1
		WHERE status = 'running' AND lease_expires_at IS NOT NULL AND lease_expires_at < $1
		RETURNING id, tenant_id, job_type, status, attempt_count`,
		now)
	if err != nil {
		return nil, storeErr("release expired leases", err)
	}
	defer rows.Close()

	released := []core.ReleasedJob{}
	for rows.Next() {
		var (
			r      core.ReleasedJob
			status string
		)
		if err := rows.Scan(&r.JobID, &r.TenantID, &r.JobType, &status, &r.AttemptCount); err != nil {
			return nil, storeErr("scan released job", err)
		}
		r.Status = core.Status(status)
		released = append(released, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("release expired leases", err)
	}
	return released, nil
}

// PromoteDueRetries flips retrying jobs whose backoff has elapsed back to
// queued so pollers pick them up. SKIP LOCKED keeps concurrent scheduler
// replicas from stepping on each other; the batch size bounds each sweep.
func (s *Store) PromoteDueRetries(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'queued',
			updated_at = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'retrying' AND next_run_at <= $1
			ORDER BY next_run_at
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)`,
		now, batchSize)
	if err != nil {
		return 0, storeErr("promote due retries", err)
	}
	return int(tag.RowsAffected()), nil
}
