package breaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

type memStore struct {
	mu     sync.Mutex
	states map[string]*core.BreakerState
}

func newMemStore() *memStore {
	return &memStore{states: map[string]*core.BreakerState{}}
}

func (s *memStore) GetBreaker(_ context.Context, scope string) (*core.BreakerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[scope]; ok {
		out := *st
		return &out, nil
	}
	return &core.BreakerState{Scope: scope, Phase: core.BreakerClosed}, nil
}

func (s *memStore) UpdateBreaker(_ context.Context, scope string, mutate func(*core.BreakerState)) (*core.BreakerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[scope]
	if !ok {
		st = &core.BreakerState{Scope: scope, Phase: core.BreakerClosed}
	}
	next := *st
	mutate(&next)
	next.Scope = scope
	next.Version = st.Version + 1
	s.states[scope] = &next
	out := next
	return &out, nil
}

type captureEvents struct {
	mu     sync.Mutex
	alerts []*core.Alert
}

func (c *captureEvents) PublishJobEvent(*core.JobEvent) error { return nil }

func (c *captureEvents) PublishAlert(alert *core.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *captureEvents) Close() error { return nil }

func (c *captureEvents) byClass(class core.AlertClass) []*core.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*core.Alert
	for _, a := range c.alerts {
		if a.Class == class {
			out = append(out, a)
		}
	}
	return out
}

func newTestManager(t *testing.T, cfg Settings) (*Manager, *captureEvents, *time.Time) {
	t.Helper()
	events := &captureEvents{}
	m := New(newMemStore(), events, cfg)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	return m, events, &clock
}

func tripBreaker(t *testing.T, m *Manager, tenant string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < DefaultFailureThreshold; i++ {
		adm, err := m.CanExecute(ctx, tenant, core.RiskHigh)
		if err != nil {
			t.Fatalf("CanExecute error: %v", err)
		}
		if !adm.Allowed {
			t.Fatalf("execution %d denied before the threshold", i+1)
		}
		m.OnFailure(ctx, adm)
	}
}

func TestManagerTripsAndDefers(t *testing.T) {
	m, events, _ := newTestManager(t, DefaultSettings())
	ctx := context.Background()

	tripBreaker(t, m, "acme")

	adm, err := m.CanExecute(ctx, "acme", core.RiskHigh)
	if err != nil {
		t.Fatalf("CanExecute error: %v", err)
	}
	if adm.Allowed {
		t.Fatal("tripped breaker admitted an execution")
	}
	if adm.DeniedScope != "risk:high" {
		t.Errorf("denied scope = %q, want %q", adm.DeniedScope, "risk:high")
	}
	wantRetry := m.now().Add(DefaultCooldown)
	if !adm.RetryAt.Equal(wantRetry) {
		t.Errorf("retry_at = %v, want %v", adm.RetryAt, wantRetry)
	}

	// Both the class scope and the tenant scope tripped.
	opened := events.byClass(core.AlertBreakerOpened)
	if len(opened) != 2 {
		t.Fatalf("breaker_opened alerts = %d, want 2", len(opened))
	}
}

func TestManagerClassScopeGatesEveryTenant(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultSettings())
	ctx := context.Background()

	tripBreaker(t, m, "acme")

	adm, err := m.CanExecute(ctx, "globex", core.RiskHigh)
	if err != nil {
		t.Fatalf("CanExecute error: %v", err)
	}
	if adm.Allowed {
		t.Fatal("class-wide trip did not gate another tenant")
	}
	if adm.DeniedScope != "risk:high" {
		t.Errorf("denied scope = %q, want shared class scope", adm.DeniedScope)
	}

	globex, err := m.Status(ctx, TenantScope("globex", core.RiskHigh))
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if globex.Phase != core.BreakerClosed {
		t.Errorf("innocent tenant scope = %q, want closed", globex.Phase)
	}
}

func TestManagerRecoversThroughHalfOpen(t *testing.T) {
	m, _, clock := newTestManager(t, DefaultSettings())
	ctx := context.Background()

	tripBreaker(t, m, "acme")
	*clock = clock.Add(DefaultCooldown + time.Second)

	for i := 0; i < DefaultCloseAfter; i++ {
		adm, err := m.CanExecute(ctx, "acme", core.RiskHigh)
		if err != nil {
			t.Fatalf("CanExecute error: %v", err)
		}
		if !adm.Allowed {
			t.Fatalf("trial %d denied after cool-down", i+1)
		}
		m.OnSuccess(ctx, adm)
	}

	for _, scope := range []string{ClassScope(core.RiskHigh), TenantScope("acme", core.RiskHigh)} {
		st, err := m.Status(ctx, scope)
		if err != nil {
			t.Fatalf("Status error: %v", err)
		}
		if st.Phase != core.BreakerClosed {
			t.Errorf("scope %s = %q after %d clean trials, want closed", scope, st.Phase, DefaultCloseAfter)
		}
	}

	adm, err := m.CanExecute(ctx, "acme", core.RiskHigh)
	if err != nil {
		t.Fatalf("CanExecute error: %v", err)
	}
	if !adm.Allowed {
		t.Fatal("closed breaker denied execution after recovery")
	}
}

func TestManagerTrialFailureReopens(t *testing.T) {
	m, _, clock := newTestManager(t, DefaultSettings())
	ctx := context.Background()

	tripBreaker(t, m, "acme")
	*clock = clock.Add(DefaultCooldown + time.Second)

	adm, err := m.CanExecute(ctx, "acme", core.RiskHigh)
	if err != nil {
		t.Fatalf("CanExecute error: %v", err)
	}
	if !adm.Allowed {
		t.Fatal("trial denied after cool-down")
	}
	m.OnFailure(ctx, adm)

	st, err := m.Status(ctx, ClassScope(core.RiskHigh))
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if st.Phase != core.BreakerOpen {
		t.Fatalf("phase = %q, want open after trial failure", st.Phase)
	}

	denied, err := m.CanExecute(ctx, "acme", core.RiskHigh)
	if err != nil {
		t.Fatalf("CanExecute error: %v", err)
	}
	if denied.Allowed {
		t.Fatal("reopened breaker admitted an execution")
	}
}

func TestManagerHalfOpenProbeBound(t *testing.T) {
	m, _, clock := newTestManager(t, DefaultSettings())
	ctx := context.Background()

	tripBreaker(t, m, "acme")
	*clock = clock.Add(DefaultCooldown + time.Second)

	first, err := m.CanExecute(ctx, "acme", core.RiskHigh)
	if err != nil {
		t.Fatalf("CanExecute error: %v", err)
	}
	if !first.Allowed {
		t.Fatal("first trial denied after cool-down")
	}

	second, err := m.CanExecute(ctx, "acme", core.RiskHigh)
	if err != nil {
		t.Fatalf("CanExecute error: %v", err)
	}
	if second.Allowed {
		t.Fatal("second execution admitted while the single trial slot was held")
	}
	wantRetry := m.now().Add(probeRetryDelay)
	if !second.RetryAt.Equal(wantRetry) {
		t.Errorf("retry_at = %v, want %v", second.RetryAt, wantRetry)
	}

	// Settling the first trial frees the slot.
	m.OnSuccess(ctx, first)
	third, err := m.CanExecute(ctx, "acme", core.RiskHigh)
	if err != nil {
		t.Fatalf("CanExecute error: %v", err)
	}
	if !third.Allowed {
		t.Fatal("slot not released after the trial settled")
	}
}

func TestManagerDailyImpactLimit(t *testing.T) {
	cfg := DefaultSettings()
	cfg.DailyLimitCents = 1000
	m, events, _ := newTestManager(t, cfg)
	ctx := context.Background()

	if err := m.RecordImpact(ctx, "acme", core.RiskHigh, 600); err != nil {
		t.Fatalf("RecordImpact error: %v", err)
	}
	adm, err := m.CanExecute(ctx, "acme", core.RiskHigh)
	if err != nil {
		t.Fatalf("CanExecute error: %v", err)
	}
	if !adm.Allowed {
		t.Fatal("denied below the daily limit")
	}
	m.OnSuccess(ctx, adm)

	if err := m.RecordImpact(ctx, "acme", core.RiskHigh, 500); err != nil {
		t.Fatalf("RecordImpact error: %v", err)
	}
	denied, err := m.CanExecute(ctx, "acme", core.RiskHigh)
	if err != nil {
		t.Fatalf("CanExecute error: %v", err)
	}
	if denied.Allowed {
		t.Fatal("admitted after the daily impact limit was reached")
	}
	if got := len(events.byClass(core.AlertBreakerOpened)); got != 2 {
		t.Errorf("breaker_opened alerts = %d, want 2 (class + tenant scope)", got)
	}
}

func TestManagerResetClosesAndAlerts(t *testing.T) {
	m, events, _ := newTestManager(t, DefaultSettings())
	ctx := context.Background()

	tripBreaker(t, m, "acme")

	prior, current, err := m.Reset(ctx, ClassScope(core.RiskHigh), "ops@example.com")
	if err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if prior.Phase != core.BreakerOpen {
		t.Errorf("prior phase = %q, want open", prior.Phase)
	}
	if current.Phase != core.BreakerClosed {
		t.Errorf("current phase = %q, want closed", current.Phase)
	}
	if current.FailureCount != 0 || current.DailyUsedCents != 0 {
		t.Errorf("counters survived reset: %+v", current)
	}

	resets := events.byClass(core.AlertBreakerReset)
	if len(resets) != 1 {
		t.Fatalf("breaker_reset alerts = %d, want 1", len(resets))
	}
	if actor, _ := resets[0].Details["actor"].(string); actor != "ops@example.com" {
		t.Errorf("reset alert actor = %q, want %q", actor, "ops@example.com")
	}

	// The tenant scope tripped too; a full recovery resets both.
	if _, _, err := m.Reset(ctx, TenantScope("acme", core.RiskHigh), "ops@example.com"); err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	adm, err := m.CanExecute(ctx, "acme", core.RiskHigh)
	if err != nil {
		t.Fatalf("CanExecute error: %v", err)
	}
	if !adm.Allowed {
		t.Fatal("execution denied after both scopes were reset")
	}
}
