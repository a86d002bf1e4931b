package scheduler

import (
	"context"
	"log/slog"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
	"github.com/Valdrix-AI/valdrix-sub003/internal/metrics"
)

// reap releases jobs whose lease expired without a completion. The store
// decides each job's fate in one set-based update: requeued when attempts
// remain, failed permanently when they are exhausted. The worker that lost
// the lease cannot write the job afterwards; its guarded complete is
// rejected, so a slow handler never double-reports a reaped job.
func (s *Scheduler) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	released, err := s.store.ReleaseExpiredLeases(ctx)
	if err != nil {
		slog.Error("lease sweep failed", "error", err)
		return
	}
	if len(released) == 0 {
		return
	}
	metrics.LeasesReaped.Add(float64(len(released)))
	for _, job := range released {
		slog.Warn("expired lease released",
			"job_id", job.JobID,
			"job_type", job.JobType,
			"tenant_id", job.TenantID,
			"status", job.Status,
			"attempt", job.AttemptCount)
		s.publishAlert(&core.Alert{
			Class:    core.AlertLeaseExpired,
			Message:  "worker did not complete job within its lease",
			TenantID: job.TenantID,
			JobType:  job.JobType,
			JobID:    job.JobID,
			Details:  map[string]any{"status": string(job.Status), "attempt": job.AttemptCount},
		})
		if job.Status == core.StatusFailed {
			s.publishAlert(&core.Alert{
				Class:    core.AlertJobFailed,
				Message:  "job failed permanently: lease expired on its final attempt",
				TenantID: job.TenantID,
				JobType:  job.JobType,
				JobID:    job.JobID,
				Details:  map[string]any{"attempts": job.AttemptCount},
			})
		}
	}
}
