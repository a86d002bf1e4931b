package postgres

import (
	"context"
	"sort"
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

// SLOSummary rolls up delivery health: terminal outcomes over the trailing
// window plus the current backlog shape. An empty tenantID aggregates all
// tenants. Windows with no terminal outcomes report a success rate of 1.
func (s *Store) SLOSummary(ctx context.Context, window time.Duration, tenantID string) (*core.SLOSummary, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	now := time.Now().UTC()
	since := now.Add(-window)
	buckets := map[string]*core.SLOBucket{}
	bucketFor := func(jobType string) *core.SLOBucket {
		if b, ok := buckets[jobType]; ok {
			return b
		}
		b := &core.SLOBucket{JobType: jobType}
		buckets[jobType] = b
		return b
	}

	rows, err := s.pool.Query(ctx, `
		SELECT job_type,
			COUNT(*) FILTER (WHERE status = 'succeeded'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM jobs
		WHERE status IN ('succeeded', 'failed')
		  AND updated_at >= $1
		  AND ($2 = '' OR tenant_id = $2)
		GROUP BY job_type`,
		since, tenantID)
	if err != nil {
		return nil, storeErr("summarize outcomes", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			jobType              string
			succeeded, failedCnt int64
		)
		if err := rows.Scan(&jobType, &succeeded, &failedCnt); err != nil {
			return nil, storeErr("scan outcome bucket", err)
		}
		b := bucketFor(jobType)
		b.Succeeded = succeeded
		b.Failed = failedCnt
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("summarize outcomes", err)
	}

	backlogRows, err := s.pool.Query(ctx, `
		SELECT job_type,
			COUNT(*),
			COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY EXTRACT(EPOCH FROM ($1 - created_at))::float8), 0),
			COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY EXTRACT(EPOCH FROM ($1 - created_at))::float8), 0)
		FROM jobs
		WHERE status IN ('queued', 'retrying')
		  AND ($2 = '' OR tenant_id = $2)
		GROUP BY job_type`,
		now, tenantID)
	if err != nil {
		return nil, storeErr("summarize backlog", err)
	}
	defer backlogRows.Close()
	for backlogRows.Next() {
		var (
			jobType     string
			depth       int64
			median, p95 float64
		)
		if err := backlogRows.Scan(&jobType, &depth, &median, &p95); err != nil {
			return nil, storeErr("scan backlog bucket", err)
		}
		b := bucketFor(jobType)
		b.BacklogDepth = depth
		b.MedianAgeSeconds = median
		b.P95AgeSeconds = p95
	}
	if err := backlogRows.Err(); err != nil {
		return nil, storeErr("summarize backlog", err)
	}

	summary := &core.SLOSummary{Window: window, TenantID: tenantID}
	for _, b := range buckets {
		b.SuccessRate = successRate(b.Succeeded, b.Failed)
		summary.Overall.Succeeded += b.Succeeded
		summary.Overall.Failed += b.Failed
		summary.Overall.BacklogDepth += b.BacklogDepth
		summary.ByType = append(summary.ByType, *b)
	}
	sort.Slice(summary.ByType, func(i, j int) bool {
		return summary.ByType[i].JobType < summary.ByType[j].JobType
	})
	summary.Overall.SuccessRate = successRate(summary.Overall.Succeeded, summary.Overall.Failed)

	// Overall age percentiles come from the full backlog, not an average of
	// the per-type percentiles.
	err = s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY EXTRACT(EPOCH FROM ($1 - created_at))::float8), 0),
			COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY EXTRACT(EPOCH FROM ($1 - created_at))::float8), 0)
		FROM jobs
		WHERE status IN ('queued', 'retrying')
		  AND ($2 = '' OR tenant_id = $2)`,
		now, tenantID).Scan(&summary.Overall.MedianAgeSeconds, &summary.Overall.P95AgeSeconds)
	if err != nil {
		return nil, storeErr("summarize backlog age", err)
	}
	return summary, nil
}

func successRate(succeeded, failed int64) float64 {
	total := succeeded + failed
	if total == 0 {
		return 1
	}
	return float64(succeeded) / float64(total)
}
