// Package breaker implements the safety circuit breaker that gates
// high-risk job types. Transition rules live in pure functions over
// core.BreakerState; persistence goes through the job store's versioned
// breaker rows, so every dispatcher instance observes the same state and
// no second coordination primitive is needed.
package breaker

import (
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

const (
	DefaultFailureThreshold = 5
	DefaultWindow           = 10 * time.Minute
	DefaultCooldown         = 5 * time.Minute
	DefaultHalfOpenProbes   = 1
	DefaultCloseAfter       = 3

	// probeRetryDelay is how soon a deferred job should retry when the
	// breaker is half open but all trial slots are taken.
	probeRetryDelay = 30 * time.Second
)

// Settings tunes one breaker scope family. The zero value means defaults;
// DailyLimitCents of zero disables the impact limit.
type Settings struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
	HalfOpenProbes   int
	CloseAfter       int
	DailyLimitCents  int64
}

// DefaultSettings returns the standard thresholds: trip after 5 failures in
// 10 minutes, cool down for 5, then require 3 clean trials to close.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: DefaultFailureThreshold,
		Window:           DefaultWindow,
		Cooldown:         DefaultCooldown,
		HalfOpenProbes:   DefaultHalfOpenProbes,
		CloseAfter:       DefaultCloseAfter,
	}
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.Window <= 0 {
		s.Window = DefaultWindow
	}
	if s.Cooldown <= 0 {
		s.Cooldown = DefaultCooldown
	}
	if s.HalfOpenProbes <= 0 {
		s.HalfOpenProbes = DefaultHalfOpenProbes
	}
	if s.CloseAfter <= 0 {
		s.CloseAfter = DefaultCloseAfter
	}
	if s.DailyLimitCents < 0 {
		s.DailyLimitCents = 0
	}
	return s
}

// ClassScope names the breaker shared by every tenant for a risk class.
func ClassScope(class core.RiskClass) string {
	return "risk:" + string(class)
}

// TenantScope names the breaker isolating one tenant within a risk class.
func TenantScope(tenantID string, class core.RiskClass) string {
	return "tenant:" + tenantID + ":" + string(class)
}

func dayStart(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// rollDailyWindow resets the impact counter when the UTC day changes.
func rollDailyWindow(st *core.BreakerState, now time.Time) {
	day := dayStart(now)
	if !st.DailyWindowStart.Equal(day) {
		st.DailyWindowStart = day
		st.DailyUsedCents = 0
	}
}

func dailyLimitReached(st *core.BreakerState, cfg Settings) bool {
	return cfg.DailyLimitCents > 0 && st.DailyUsedCents >= cfg.DailyLimitCents
}

// admit decides whether one execution may proceed, applying the lazy
// open→half_open transition and trial-slot accounting in place. The second
// return reports whether this execution now holds a trial slot that must be
// released through observeSuccess or observeFailure.
func admit(st *core.BreakerState, cfg Settings, now time.Time) (allowed, trial bool) {
	rollDailyWindow(st, now)
	switch st.Phase {
	case core.BreakerOpen:
		if now.Sub(st.OpenedAt) < cfg.Cooldown {
			return false, false
		}
		// Cool-down over: this execution becomes the first trial.
		st.Phase = core.BreakerHalfOpen
		st.TrialSuccesses = 0
		st.TrialInflight = 1
		return true, true
	case core.BreakerHalfOpen:
		if st.TrialInflight >= cfg.HalfOpenProbes {
			return false, false
		}
		st.TrialInflight++
		return true, true
	default:
		if dailyLimitReached(st, cfg) {
			st.Phase = core.BreakerOpen
			st.OpenedAt = now
			return false, false
		}
		return true, false
	}
}

// observeSuccess releases the trial slot and closes the breaker once enough
// consecutive trials have passed. Successes outside a trial are no-ops.
func observeSuccess(st *core.BreakerState, cfg Settings, now time.Time, trial bool) {
	rollDailyWindow(st, now)
	if !trial {
		return
	}
	if st.TrialInflight > 0 {
		st.TrialInflight--
	}
	if st.Phase != core.BreakerHalfOpen {
		return
	}
	st.TrialSuccesses++
	if st.TrialSuccesses >= cfg.CloseAfter {
		st.Phase = core.BreakerClosed
		st.FailureCount = 0
		st.WindowStart = now
		st.TrialSuccesses = 0
		st.TrialInflight = 0
	}
}

// observeFailure counts a failure against the scope. A failure during a
// half-open trial reopens immediately; in the closed phase the rolling
// window trips the breaker at the configured threshold.
func observeFailure(st *core.BreakerState, cfg Settings, now time.Time, trial bool) {
	rollDailyWindow(st, now)
	if trial && st.TrialInflight > 0 {
		st.TrialInflight--
	}
	st.LastFailureAt = now
	switch st.Phase {
	case core.BreakerHalfOpen:
		reopen(st, now)
	case core.BreakerOpen:
		// Already open; stragglers from before the trip change nothing.
	default:
		if st.FailureCount == 0 || now.Sub(st.WindowStart) > cfg.Window {
			st.WindowStart = now
			st.FailureCount = 1
		} else {
			st.FailureCount++
		}
		if st.FailureCount >= cfg.FailureThreshold {
			st.Phase = core.BreakerOpen
			st.OpenedAt = now
		}
	}
}

func reopen(st *core.BreakerState, now time.Time) {
	st.Phase = core.BreakerOpen
	st.OpenedAt = now
	st.TrialSuccesses = 0
	st.TrialInflight = 0
	st.FailureCount = 0
	st.WindowStart = now
}

// addImpact accumulates realized impact and trips a closed breaker when the
// daily limit is reached. It reports whether this call tripped the breaker.
func addImpact(st *core.BreakerState, cfg Settings, now time.Time, cents int64) bool {
	rollDailyWindow(st, now)
	st.DailyUsedCents += cents
	st.DailyLimitCents = cfg.DailyLimitCents
	if st.Phase == core.BreakerClosed && dailyLimitReached(st, cfg) {
		st.Phase = core.BreakerOpen
		st.OpenedAt = now
		return true
	}
	return false
}

// denialRetryAt suggests when a deferred job should try again given the
// state that denied it.
func denialRetryAt(st *core.BreakerState, cfg Settings, now time.Time) time.Time {
	if st.Phase == core.BreakerOpen {
		if at := st.OpenedAt.Add(cfg.Cooldown); at.After(now) {
			return at
		}
	}
	return now.Add(probeRetryDelay)
}
