package breaker

import (
	"testing"
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func closedState() *core.BreakerState {
	return &core.BreakerState{Scope: "risk:high", Phase: core.BreakerClosed}
}

func TestAdmitClosedAllowsWithoutTrial(t *testing.T) {
	st := closedState()
	allowed, trial := admit(st, DefaultSettings(), testStart)
	if !allowed {
		t.Error("closed breaker denied execution")
	}
	if trial {
		t.Error("closed breaker handed out a trial slot")
	}
	if st.Phase != core.BreakerClosed {
		t.Errorf("phase = %q, want closed", st.Phase)
	}
}

func TestObserveFailureTripsAtThreshold(t *testing.T) {
	cfg := DefaultSettings()
	st := closedState()

	for i := 0; i < cfg.FailureThreshold-1; i++ {
		observeFailure(st, cfg, testStart.Add(time.Duration(i)*time.Second), false)
		if st.Phase != core.BreakerClosed {
			t.Fatalf("tripped after %d failures, want %d", i+1, cfg.FailureThreshold)
		}
	}

	fifth := testStart.Add(time.Minute)
	observeFailure(st, cfg, fifth, false)
	if st.Phase != core.BreakerOpen {
		t.Fatalf("phase after threshold = %q, want open", st.Phase)
	}
	if !st.OpenedAt.Equal(fifth) {
		t.Errorf("OpenedAt = %v, want %v", st.OpenedAt, fifth)
	}
	if st.FailureCount != cfg.FailureThreshold {
		t.Errorf("failure_count = %d, want %d", st.FailureCount, cfg.FailureThreshold)
	}
}

func TestObserveFailureWindowExpiryResetsCount(t *testing.T) {
	cfg := DefaultSettings()
	st := closedState()

	for i := 0; i < 4; i++ {
		observeFailure(st, cfg, testStart, false)
	}
	if st.FailureCount != 4 {
		t.Fatalf("failure_count = %d, want 4", st.FailureCount)
	}

	// The fifth failure lands outside the window, so it starts a new one
	// instead of tripping.
	late := testStart.Add(cfg.Window + time.Second)
	observeFailure(st, cfg, late, false)
	if st.Phase != core.BreakerClosed {
		t.Fatalf("phase = %q, want closed after window expiry", st.Phase)
	}
	if st.FailureCount != 1 {
		t.Errorf("failure_count = %d, want 1", st.FailureCount)
	}
	if !st.WindowStart.Equal(late) {
		t.Errorf("WindowStart = %v, want %v", st.WindowStart, late)
	}
}

func TestAdmitOpenDeniesUntilCooldown(t *testing.T) {
	cfg := DefaultSettings()
	st := closedState()
	st.Phase = core.BreakerOpen
	st.OpenedAt = testStart

	allowed, _ := admit(st, cfg, testStart.Add(cfg.Cooldown-time.Second))
	if allowed {
		t.Fatal("open breaker admitted before cool-down elapsed")
	}
	if st.Phase != core.BreakerOpen {
		t.Fatalf("phase = %q, want open", st.Phase)
	}

	after := testStart.Add(cfg.Cooldown)
	allowed, trial := admit(st, cfg, after)
	if !allowed || !trial {
		t.Fatalf("post-cooldown admit = (%v, %v), want (true, true)", allowed, trial)
	}
	if st.Phase != core.BreakerHalfOpen {
		t.Errorf("phase = %q, want half_open", st.Phase)
	}
	if st.TrialInflight != 1 {
		t.Errorf("trial_inflight = %d, want 1", st.TrialInflight)
	}
}

func TestAdmitHalfOpenBoundsTrials(t *testing.T) {
	cfg := DefaultSettings()
	cfg.HalfOpenProbes = 2
	st := closedState()
	st.Phase = core.BreakerHalfOpen

	for i := 0; i < 2; i++ {
		allowed, trial := admit(st, cfg, testStart)
		if !allowed || !trial {
			t.Fatalf("trial %d admit = (%v, %v), want (true, true)", i+1, allowed, trial)
		}
	}
	allowed, trial := admit(st, cfg, testStart)
	if allowed || trial {
		t.Fatalf("third admit = (%v, %v), want (false, false) with 2 probes", allowed, trial)
	}
	if st.TrialInflight != 2 {
		t.Errorf("trial_inflight = %d, want 2", st.TrialInflight)
	}
}

func TestObserveSuccessClosesAfterConsecutiveTrials(t *testing.T) {
	cfg := DefaultSettings()
	st := closedState()
	st.Phase = core.BreakerHalfOpen

	for i := 0; i < cfg.CloseAfter; i++ {
		allowed, trial := admit(st, cfg, testStart)
		if !allowed || !trial {
			t.Fatalf("trial %d not admitted", i+1)
		}
		observeSuccess(st, cfg, testStart, trial)
	}
	if st.Phase != core.BreakerClosed {
		t.Fatalf("phase after %d successes = %q, want closed", cfg.CloseAfter, st.Phase)
	}
	if st.FailureCount != 0 || st.TrialSuccesses != 0 || st.TrialInflight != 0 {
		t.Errorf("counters not reset: %+v", st)
	}
}

func TestObserveFailureDuringTrialReopens(t *testing.T) {
	cfg := DefaultSettings()
	st := closedState()
	st.Phase = core.BreakerHalfOpen
	st.TrialSuccesses = 2

	_, trial := admit(st, cfg, testStart)
	failAt := testStart.Add(time.Second)
	observeFailure(st, cfg, failAt, trial)

	if st.Phase != core.BreakerOpen {
		t.Fatalf("phase = %q, want open after trial failure", st.Phase)
	}
	if !st.OpenedAt.Equal(failAt) {
		t.Errorf("OpenedAt = %v, want %v", st.OpenedAt, failAt)
	}
	if st.TrialSuccesses != 0 || st.TrialInflight != 0 {
		t.Errorf("trial counters not reset: successes=%d inflight=%d", st.TrialSuccesses, st.TrialInflight)
	}
}

func TestAddImpactTripsAtDailyLimit(t *testing.T) {
	cfg := DefaultSettings()
	cfg.DailyLimitCents = 1000
	st := closedState()
	st.DailyWindowStart = dayStart(testStart)

	if tripped := addImpact(st, cfg, testStart, 600); tripped {
		t.Fatal("tripped below the daily limit")
	}
	if tripped := addImpact(st, cfg, testStart, 500); !tripped {
		t.Fatal("did not trip at the daily limit")
	}
	if st.Phase != core.BreakerOpen {
		t.Fatalf("phase = %q, want open", st.Phase)
	}
	if st.DailyUsedCents != 1100 {
		t.Errorf("daily_used_cents = %d, want 1100", st.DailyUsedCents)
	}
}

func TestRollDailyWindowResetsOnNewDay(t *testing.T) {
	cfg := DefaultSettings()
	cfg.DailyLimitCents = 1000
	st := closedState()
	st.DailyWindowStart = dayStart(testStart)
	st.DailyUsedCents = 900

	nextDay := testStart.Add(24 * time.Hour)
	if tripped := addImpact(st, cfg, nextDay, 200); tripped {
		t.Fatal("yesterday's impact counted against today's limit")
	}
	if st.DailyUsedCents != 200 {
		t.Errorf("daily_used_cents = %d, want 200", st.DailyUsedCents)
	}
	if !st.DailyWindowStart.Equal(dayStart(nextDay)) {
		t.Errorf("DailyWindowStart = %v, want %v", st.DailyWindowStart, dayStart(nextDay))
	}
}

func TestDenialRetryAt(t *testing.T) {
	cfg := DefaultSettings()

	open := closedState()
	open.Phase = core.BreakerOpen
	open.OpenedAt = testStart
	if got := denialRetryAt(open, cfg, testStart); !got.Equal(testStart.Add(cfg.Cooldown)) {
		t.Errorf("open retry_at = %v, want %v", got, testStart.Add(cfg.Cooldown))
	}

	half := closedState()
	half.Phase = core.BreakerHalfOpen
	if got := denialRetryAt(half, cfg, testStart); !got.Equal(testStart.Add(probeRetryDelay)) {
		t.Errorf("half-open retry_at = %v, want %v", got, testStart.Add(probeRetryDelay))
	}
}

func TestSettingsWithDefaults(t *testing.T) {
	got := Settings{}.withDefaults()
	want := DefaultSettings()
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}

	custom := Settings{FailureThreshold: 2, DailyLimitCents: -5}.withDefaults()
	if custom.FailureThreshold != 2 {
		t.Errorf("FailureThreshold = %d, want 2 preserved", custom.FailureThreshold)
	}
	if custom.DailyLimitCents != 0 {
		t.Errorf("DailyLimitCents = %d, want 0 for negative input", custom.DailyLimitCents)
	}
}

func TestScopeNames(t *testing.T) {
	if got := ClassScope(core.RiskHigh); got != "risk:high" {
		t.Errorf("ClassScope = %q, want %q", got, "risk:high")
	}
	if got := TenantScope("acme", core.RiskHigh); got != "tenant:acme:high" {
		t.Errorf("TenantScope = %q, want %q", got, "tenant:acme:high")
	}
}
