// Package scheduler runs the engine's periodic maintenance: releasing
// expired leases back to the queue, promoting due retries, and refreshing
// the SLO gauges. Sweeps are set-based store calls, so running extra
// instances is safe, just redundant.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
	"github.com/Valdrix-AI/valdrix-sub003/internal/metrics"
)

const (
	DefaultReapInterval    = 30 * time.Second
	DefaultPromoteInterval = 5 * time.Second
	DefaultSLOInterval     = time.Minute
	DefaultSLOWindow       = 24 * time.Hour
	DefaultPromoteBatch    = 500

	sweepTimeout = 30 * time.Second
)

// Store is the slice of the job store the scheduler sweeps against.
type Store interface {
	ReleaseExpiredLeases(ctx context.Context) ([]core.ReleasedJob, error)
	PromoteDueRetries(ctx context.Context, limit int) (int, error)
	SLOSummary(ctx context.Context, window time.Duration, tenantID string) (*core.SLOSummary, error)
}

// Config tunes sweep cadences.
type Config struct {
	ReapInterval    time.Duration
	PromoteInterval time.Duration
	SLOInterval     time.Duration
	SLOWindow       time.Duration
	PromoteBatch    int
}

func (c Config) withDefaults() Config {
	if c.ReapInterval <= 0 {
		c.ReapInterval = DefaultReapInterval
	}
	if c.PromoteInterval <= 0 {
		c.PromoteInterval = DefaultPromoteInterval
	}
	if c.SLOInterval <= 0 {
		c.SLOInterval = DefaultSLOInterval
	}
	if c.SLOWindow <= 0 {
		c.SLOWindow = DefaultSLOWindow
	}
	if c.PromoteBatch <= 0 {
		c.PromoteBatch = DefaultPromoteBatch
	}
	return c
}

// Scheduler owns the maintenance loop.
type Scheduler struct {
	store    Store
	events   core.EventPublisher
	cfg      Config
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func New(store Store, events core.EventPublisher, cfg Config) *Scheduler {
	return &Scheduler{
		store:  store,
		events: events,
		cfg:    cfg.withDefaults(),
		stop:   make(chan struct{}),
	}
}

// Start launches the maintenance loop in the background.
func (s *Scheduler) Start() {
	s.done = make(chan struct{})
	slog.Info("scheduler starting",
		"reap_interval", s.cfg.ReapInterval,
		"promote_interval", s.cfg.PromoteInterval,
		"slo_interval", s.cfg.SLOInterval)
	go s.run()
}

// Stop halts the loop and waits for an in-progress sweep to finish.
// Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	if s.done != nil {
		<-s.done
	}
}

func (s *Scheduler) run() {
	defer close(s.done)

	// A restart sweeps immediately so jobs orphaned by a crashed worker
	// are not stuck waiting for the first tick.
	s.reap()
	s.promote()
	s.refreshSLO()

	reap := time.NewTicker(s.cfg.ReapInterval)
	defer reap.Stop()
	promote := time.NewTicker(s.cfg.PromoteInterval)
	defer promote.Stop()
	slo := time.NewTicker(s.cfg.SLOInterval)
	defer slo.Stop()

	for {
		select {
		case <-s.stop:
			slog.Info("scheduler stopped")
			return
		case <-reap.C:
			s.reap()
		case <-promote.C:
			s.promote()
		case <-slo.C:
			s.refreshSLO()
		}
	}
}

func (s *Scheduler) promote() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	n, err := s.store.PromoteDueRetries(ctx, s.cfg.PromoteBatch)
	if err != nil {
		slog.Error("retry promotion failed", "error", err)
		return
	}
	if n > 0 {
		metrics.RetriesPromoted.Add(float64(n))
		slog.Debug("promoted due retries", "count", n)
	}
}

// refreshSLO recomputes the per-type delivery gauges from the store.
// Gauges are reset first so types that drop out of the window do not
// linger with stale values.
func (s *Scheduler) refreshSLO() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	summary, err := s.store.SLOSummary(ctx, s.cfg.SLOWindow, "")
	if err != nil {
		slog.Error("slo refresh failed", "error", err)
		return
	}
	metrics.BacklogDepth.Reset()
	metrics.BacklogP95AgeSeconds.Reset()
	metrics.SuccessRate.Reset()
	for _, bucket := range summary.ByType {
		metrics.BacklogDepth.WithLabelValues(bucket.JobType).Set(float64(bucket.BacklogDepth))
		metrics.BacklogP95AgeSeconds.WithLabelValues(bucket.JobType).Set(bucket.P95AgeSeconds)
		metrics.SuccessRate.WithLabelValues(bucket.JobType).Set(bucket.SuccessRate)
	}
}

func (s *Scheduler) publishAlert(alert *core.Alert) {
	if s.events == nil {
		return
	}
	alert.Timestamp = core.FormatTime(time.Now().UTC())
	if err := s.events.PublishAlert(alert); err != nil {
		slog.Debug("alert publish failed", "class", alert.Class, "error", err)
	}
}
