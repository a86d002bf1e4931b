// Package scanner enqueues cohort jobs for every active tenant on each
// job type's scan cadence. One job per tenant per time bucket: the window
// dedup key makes rescans, crashes mid-scan, and concurrent scanner
// instances collapse into no-ops, so no leader election is needed.
package scanner

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
	"github.com/Valdrix-AI/valdrix-sub003/internal/dispatch"
	"github.com/Valdrix-AI/valdrix-sub003/internal/metrics"
)

const (
	DefaultTickInterval = 30 * time.Second
	DefaultPageSize     = 100
)

// Config tunes the scanner.
type Config struct {
	TickInterval time.Duration // how often due cadences are checked
	PageSize     int           // tenants fetched per store page
}

type typeState struct {
	name     string
	bucket   time.Duration
	schedule cron.Schedule
	next     time.Time
}

// Scanner walks tenant cohorts for the job types registered with a scan
// cadence.
type Scanner struct {
	store core.Store
	cfg   Config
	types []*typeState
}

// New validates every registered scan cadence up front; a bad expression
// fails startup instead of silently never scanning.
func New(store core.Store, registry *dispatch.Registry, cfg Config) (*Scanner, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	var types []*typeState
	for _, st := range registry.ScannedTypes() {
		schedule, err := parser.Parse(st.Spec)
		if err != nil {
			return nil, core.NewValidationError("invalid scan cadence", map[string]any{
				"job_type": st.Name,
				"spec":     st.Spec,
				"error":    err.Error(),
			})
		}
		// next stays zero: the first tick is a catch-up scan of the
		// current window, and dedup keys absorb any overlap with a
		// prior instance's run.
		types = append(types, &typeState{
			name:     st.Name,
			bucket:   st.Bucket,
			schedule: schedule,
		})
	}
	return &Scanner{store: store, cfg: cfg, types: types}, nil
}

// Run ticks until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	if len(s.types) == 0 {
		slog.Info("scanner idle, no job types have a scan cadence")
		<-ctx.Done()
		return nil
	}
	names := make([]string, 0, len(s.types))
	for _, ts := range s.types {
		names = append(names, ts.name)
	}
	slog.Info("scanner starting", "job_types", names, "tick", s.cfg.TickInterval)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	s.tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			slog.Info("scanner stopped")
			return nil
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick scans every type whose cadence is due. A scan that fails keeps its
// due time so the next tick retries it; a paused type is skipped without
// advancing, so unpausing resumes with the current window right away.
func (s *Scanner) tick(ctx context.Context, now time.Time) {
	var due []*typeState
	for _, ts := range s.types {
		if !now.Before(ts.next) {
			due = append(due, ts)
		}
	}
	if len(due) == 0 {
		return
	}
	paused, err := s.pausedTypes(ctx)
	if err != nil {
		slog.Error("could not list job types, skipping scan tick", "error", err)
		return
	}
	for _, ts := range due {
		if paused[ts.name] {
			slog.Debug("scan skipped, job type is paused", "job_type", ts.name)
			continue
		}
		if err := s.scanType(ctx, ts, now); err != nil {
			slog.Error("cohort scan failed, will retry next tick", "job_type", ts.name, "error", err)
			continue
		}
		ts.next = ts.schedule.Next(now)
	}
}

// scanType enqueues one job for every active tenant. Each enqueue is its
// own store call; one tenant's failure never blocks the rest of the
// cohort, but any failure marks the scan for retry.
func (s *Scanner) scanType(ctx context.Context, ts *typeState, now time.Time) error {
	start := time.Now()
	var enqueued, collapsed int
	var firstErr error
	afterID := ""
	for {
		page, err := s.store.TenantPage(ctx, afterID, s.cfg.PageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		for _, tenant := range page {
			_, deduplicated, err := s.store.Enqueue(ctx, &core.EnqueueRequest{
				TenantID: tenant.ID,
				Type:     ts.name,
				DedupKey: core.ScanDedupKey(tenant.ID, ts.name, now, ts.bucket),
			})
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				slog.Warn("cohort enqueue failed", "job_type", ts.name, "tenant_id", tenant.ID, "error", err)
				continue
			}
			if deduplicated {
				collapsed++
				metrics.JobsDeduplicated.WithLabelValues(ts.name).Inc()
			} else {
				enqueued++
				metrics.JobsEnqueued.WithLabelValues(ts.name).Inc()
			}
		}
		afterID = page[len(page)-1].ID
		if len(page) < s.cfg.PageSize {
			break
		}
	}
	slog.Info("cohort scan complete",
		"job_type", ts.name,
		"enqueued", enqueued,
		"deduplicated", collapsed,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return firstErr
}

func (s *Scanner) pausedTypes(ctx context.Context) (map[string]bool, error) {
	types, err := s.store.ListJobTypes(ctx)
	if err != nil {
		return nil, err
	}
	paused := map[string]bool{}
	for _, jt := range types {
		if jt.Paused {
			paused[jt.Name] = true
		}
	}
	return paused, nil
}
