package postgres

import (
	"context"
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

const breakerColumns = `scope_id, phase, failure_count, window_start, trial_successes, trial_inflight,
	daily_used_cents, daily_limit_cents, daily_window_start, opened_at, last_failure_at, version, updated_at`

func scanBreaker(row rowScanner) (*core.BreakerState, error) {
	var (
		st            core.BreakerState
		phase         string
		openedAt      *time.Time
		lastFailureAt *time.Time
	)
	err := row.Scan(
		&st.Scope, &phase, &st.FailureCount, &st.WindowStart, &st.TrialSuccesses,
		&st.TrialInflight, &st.DailyUsedCents, &st.DailyLimitCents, &st.DailyWindowStart,
		&openedAt, &lastFailureAt, &st.Version, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.Phase = core.BreakerPhase(phase)
	st.WindowStart = st.WindowStart.UTC()
	st.DailyWindowStart = st.DailyWindowStart.UTC()
	if openedAt != nil {
		st.OpenedAt = openedAt.UTC()
	}
	if lastFailureAt != nil {
		st.LastFailureAt = lastFailureAt.UTC()
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}

// GetBreaker returns the stored state for a scope. Scopes with no row yet
// read as a closed breaker at version zero; the first UpdateBreaker creates
// the row.
func (s *Store) GetBreaker(ctx context.Context, scope string) (*core.BreakerState, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+breakerColumns+` FROM circuit_breakers WHERE scope_id = $1`, scope)
	st, err := scanBreaker(row)
	if isNoRows(err) {
		return &core.BreakerState{Scope: scope, Phase: core.BreakerClosed}, nil
	}
	if err != nil {
		return nil, storeErr("get breaker", err)
	}
	return st, nil
}

// casMaxAttempts bounds the optimistic-concurrency retry loop. Every
// dispatcher settles its breaker outcomes through this path, so a burst of
// completions contends on the shared class scope; each attempt is a fresh
// read-modify-write round trip.
const casMaxAttempts = 10

// UpdateBreaker applies mutate under optimistic concurrency: read, mutate a
// copy, write back guarded by the version read. On contention the cycle
// reruns against the fresh row, so every dispatcher observes each transition
// exactly once and none are lost.
func (s *Store) UpdateBreaker(ctx context.Context, scope string, mutate func(*core.BreakerState)) (*core.BreakerState, error) {
	now := time.Now().UTC()
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		current, err := s.GetBreaker(ctx, scope)
		if err != nil {
			return nil, err
		}
		next := *current
		mutate(&next)
		next.Scope = scope
		if next.WindowStart.IsZero() {
			next.WindowStart = now
		}
		if next.DailyWindowStart.IsZero() {
			next.DailyWindowStart = now
		}
		next.UpdatedAt = now

		if current.Version == 0 {
			tag, err := s.pool.Exec(ctx, `
				INSERT INTO circuit_breakers (scope_id, phase, failure_count, window_start, trial_successes,
					trial_inflight, daily_used_cents, daily_limit_cents, daily_window_start,
					opened_at, last_failure_at, version, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12)
				ON CONFLICT (scope_id) DO NOTHING`,
				scope, string(next.Phase), next.FailureCount, next.WindowStart, next.TrialSuccesses,
				next.TrialInflight, next.DailyUsedCents, next.DailyLimitCents, next.DailyWindowStart,
				nilIfZero(next.OpenedAt), nilIfZero(next.LastFailureAt), now)
			if err != nil {
				return nil, storeErr("create breaker", err)
			}
			if tag.RowsAffected() == 1 {
				next.Version = 1
				return &next, nil
			}
			continue // another instance created the row first
		}

		tag, err := s.pool.Exec(ctx, `
			UPDATE circuit_breakers SET
				phase = $2,
				failure_count = $3,
				window_start = $4,
				trial_successes = $5,
				trial_inflight = $6,
				daily_used_cents = $7,
				daily_limit_cents = $8,
				daily_window_start = $9,
				opened_at = $10,
				last_failure_at = $11,
				version = version + 1,
				updated_at = $12
			WHERE scope_id = $1 AND version = $13`,
			scope, string(next.Phase), next.FailureCount, next.WindowStart, next.TrialSuccesses,
			next.TrialInflight, next.DailyUsedCents, next.DailyLimitCents, next.DailyWindowStart,
			nilIfZero(next.OpenedAt), nilIfZero(next.LastFailureAt), now, current.Version)
		if err != nil {
			return nil, storeErr("update breaker", err)
		}
		if tag.RowsAffected() == 1 {
			next.Version = current.Version + 1
			return &next, nil
		}
		// Version moved underneath us; reread and reapply.
	}
	return nil, core.NewConflictError("breaker update contention", map[string]any{"scope": scope})
}
