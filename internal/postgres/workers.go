package postgres

import (
	"context"
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

// HeartbeatWorker upserts a worker's liveness row. info.ClaimedTotal carries
// the number of jobs claimed since the previous heartbeat and is accumulated
// server-side.
func (s *Store) HeartbeatWorker(ctx context.Context, info core.WorkerInfo) error {
	if info.ID == "" {
		return core.NewValidationError("worker id is required", nil)
	}
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workers (id, hostname, started_at, last_seen_at, claimed_total)
		VALUES ($1, $2, $3, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			last_seen_at = EXCLUDED.last_seen_at,
			claimed_total = workers.claimed_total + EXCLUDED.claimed_total`,
		info.ID, info.Hostname, now, info.ClaimedTotal)
	if err != nil {
		return storeErr("heartbeat worker", err)
	}
	return nil
}

// ListWorkers returns known workers, most recently seen first.
func (s *Store) ListWorkers(ctx context.Context) ([]core.WorkerInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, hostname, started_at, last_seen_at, claimed_total
		FROM workers
		ORDER BY last_seen_at DESC
		LIMIT 100`)
	if err != nil {
		return nil, storeErr("list workers", err)
	}
	defer rows.Close()

	workers := []core.WorkerInfo{}
	for rows.Next() {
		var w core.WorkerInfo
		if err := rows.Scan(&w.ID, &w.Hostname, &w.StartedAt, &w.LastSeenAt, &w.ClaimedTotal); err != nil {
			return nil, storeErr("scan worker", err)
		}
		w.StartedAt = w.StartedAt.UTC()
		w.LastSeenAt = w.LastSeenAt.UTC()
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list workers", err)
	}
	return workers, nil
}
