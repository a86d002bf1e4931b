package breaker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
	"github.com/Valdrix-AI/valdrix-sub003/internal/metrics"
)

// Store is the slice of the job store the breaker needs.
type Store interface {
	GetBreaker(ctx context.Context, scope string) (*core.BreakerState, error)
	UpdateBreaker(ctx context.Context, scope string, mutate func(*core.BreakerState)) (*core.BreakerState, error)
}

// Manager applies breaker policy for high-risk executions. Each execution
// consults two scopes, the shared risk-class breaker and the tenant's own;
// either one open defers the job.
type Manager struct {
	store  Store
	events core.EventPublisher
	cfg    Settings
	now    func() time.Time
}

// New builds a Manager. events may be nil to suppress alerts.
func New(store Store, events core.EventPublisher, cfg Settings) *Manager {
	return &Manager{
		store:  store,
		events: events,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// Admission is the outcome of one CanExecute call. When Allowed, it must be
// settled with exactly one OnSuccess or OnFailure so half-open trial slots
// are returned.
type Admission struct {
	Allowed     bool
	DeniedScope string
	RetryAt     time.Time

	scopes []string
	trials map[string]bool
}

// CanExecute reports whether a high-risk job for the tenant may run now.
// Scopes that are closed with headroom cost one read and no write; open and
// half-open scopes go through the CAS row so concurrent dispatchers agree
// on who holds the trial slots.
func (m *Manager) CanExecute(ctx context.Context, tenantID string, class core.RiskClass) (*Admission, error) {
	adm := &Admission{
		Allowed: true,
		scopes:  []string{ClassScope(class), TenantScope(tenantID, class)},
		trials:  map[string]bool{},
	}
	now := m.now().UTC()
	for _, scope := range adm.scopes {
		current, err := m.store.GetBreaker(ctx, scope)
		if err != nil {
			m.releaseTrials(ctx, adm)
			return nil, err
		}
		setPhaseGauge(current)
		if current.Phase == core.BreakerClosed && !dailyLimitReached(current, m.cfg) {
			continue
		}

		var allowed, trial bool
		updated, err := m.store.UpdateBreaker(ctx, scope, func(st *core.BreakerState) {
			allowed, trial = admit(st, m.cfg, now)
		})
		if err != nil {
			m.releaseTrials(ctx, adm)
			return nil, err
		}
		setPhaseGauge(updated)
		if trial {
			adm.trials[scope] = true
		}
		if !allowed {
			if current.Phase == core.BreakerClosed && updated.Phase == core.BreakerOpen {
				m.alertOpened(updated, "daily impact limit reached")
			}
			m.releaseTrials(ctx, adm)
			return &Admission{
				Allowed:     false,
				DeniedScope: scope,
				RetryAt:     denialRetryAt(updated, m.cfg, now),
			}, nil
		}
	}
	return adm, nil
}

// OnSuccess settles an admission after a clean run.
func (m *Manager) OnSuccess(ctx context.Context, adm *Admission) {
	if adm == nil || !adm.Allowed {
		return
	}
	now := m.now().UTC()
	for _, scope := range adm.scopes {
		if !adm.trials[scope] {
			continue
		}
		updated, err := m.store.UpdateBreaker(ctx, scope, func(st *core.BreakerState) {
			observeSuccess(st, m.cfg, now, true)
		})
		if err != nil {
			slog.Warn("record breaker success", "scope", scope, "error", err)
			continue
		}
		setPhaseGauge(updated)
	}
}

// OnFailure settles an admission after a failed run, counting the failure
// against every consulted scope.
func (m *Manager) OnFailure(ctx context.Context, adm *Admission) {
	if adm == nil || !adm.Allowed {
		return
	}
	now := m.now().UTC()
	for _, scope := range adm.scopes {
		var before, after core.BreakerPhase
		updated, err := m.store.UpdateBreaker(ctx, scope, func(st *core.BreakerState) {
			before = st.Phase
			observeFailure(st, m.cfg, now, adm.trials[scope])
			after = st.Phase
		})
		if err != nil {
			slog.Warn("record breaker failure", "scope", scope, "error", err)
			continue
		}
		setPhaseGauge(updated)
		if before != core.BreakerOpen && after == core.BreakerOpen {
			reason := "failure threshold reached"
			if before == core.BreakerHalfOpen {
				reason = "trial failure during recovery"
			}
			m.alertOpened(updated, reason)
		}
	}
}

// Release settles an admission without counting an outcome, returning any
// trial slots. Used when a run ends in cancellation.
func (m *Manager) Release(ctx context.Context, adm *Admission) {
	if adm == nil || !adm.Allowed {
		return
	}
	m.releaseTrials(ctx, adm)
}

// RecordImpact adds realized impact (in cents) from a successful high-risk
// run and trips the affected scopes once the daily limit is reached.
func (m *Manager) RecordImpact(ctx context.Context, tenantID string, class core.RiskClass, cents int64) error {
	if cents <= 0 {
		return nil
	}
	now := m.now().UTC()
	for _, scope := range []string{ClassScope(class), TenantScope(tenantID, class)} {
		var tripped bool
		updated, err := m.store.UpdateBreaker(ctx, scope, func(st *core.BreakerState) {
			tripped = addImpact(st, m.cfg, now, cents)
		})
		if err != nil {
			return err
		}
		setPhaseGauge(updated)
		if tripped {
			m.alertOpened(updated, "daily impact limit reached")
		}
	}
	return nil
}

// Reset forces a scope closed and clears its counters, including daily
// impact. Callers are responsible for authorization and the audit record;
// the reset itself is alerted with the acting operator.
func (m *Manager) Reset(ctx context.Context, scope, actor string) (prior, current *core.BreakerState, err error) {
	prior, err = m.store.GetBreaker(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	now := m.now().UTC()
	current, err = m.store.UpdateBreaker(ctx, scope, func(st *core.BreakerState) {
		st.Phase = core.BreakerClosed
		st.FailureCount = 0
		st.WindowStart = now
		st.TrialSuccesses = 0
		st.TrialInflight = 0
		st.DailyUsedCents = 0
		st.OpenedAt = time.Time{}
	})
	if err != nil {
		return nil, nil, err
	}
	setPhaseGauge(current)
	if m.events != nil {
		_ = m.events.PublishAlert(&core.Alert{
			Class:   core.AlertBreakerReset,
			Message: "circuit breaker manually reset",
			Scope:   scope,
			Details: map[string]any{
				"actor":       actor,
				"prior_phase": string(prior.Phase),
			},
			Timestamp: core.NowFormatted(),
		})
	}
	return prior, current, nil
}

// Status exposes the stored state for the observability API.
func (m *Manager) Status(ctx context.Context, scope string) (*core.BreakerState, error) {
	return m.store.GetBreaker(ctx, scope)
}

func (m *Manager) releaseTrials(ctx context.Context, adm *Admission) {
	for scope := range adm.trials {
		_, err := m.store.UpdateBreaker(ctx, scope, func(st *core.BreakerState) {
			if st.TrialInflight > 0 {
				st.TrialInflight--
			}
		})
		if err != nil {
			slog.Warn("release breaker trial slot", "scope", scope, "error", err)
		}
	}
	adm.trials = map[string]bool{}
}

// setPhaseGauge mirrors the scope's phase into the exported gauge: 1 while
// the scope restricts execution (open or half open), 0 when closed.
func setPhaseGauge(st *core.BreakerState) {
	v := 0.0
	if st.Phase != core.BreakerClosed {
		v = 1
	}
	metrics.BreakerOpen.WithLabelValues(st.Scope).Set(v)
}

func (m *Manager) alertOpened(st *core.BreakerState, reason string) {
	if m.events == nil {
		return
	}
	_ = m.events.PublishAlert(&core.Alert{
		Class:   core.AlertBreakerOpened,
		Message: "circuit breaker opened: " + reason,
		Scope:   st.Scope,
		Details: map[string]any{
			"failure_count":    st.FailureCount,
			"daily_used_cents": st.DailyUsedCents,
		},
		Timestamp: core.NowFormatted(),
	})
}
