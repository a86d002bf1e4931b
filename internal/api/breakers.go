package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Valdrix-AI/valdrix-sub003/internal/breaker"
	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

// BreakerHandler exposes circuit breaker state for observability.
type BreakerHandler struct {
	breakers *breaker.Manager
}

func NewBreakerHandler(breakers *breaker.Manager) *BreakerHandler {
	return &BreakerHandler{breakers: breakers}
}

// breakerWire is the JSON shape of a breaker scope. paused_for_safety is
// the operator-facing reading of the phase: true whenever the scope is
// restricting execution.
type breakerWire struct {
	Scope           string            `json:"scope"`
	Phase           core.BreakerPhase `json:"phase"`
	PausedForSafety bool              `json:"paused_for_safety"`
	FailureCount    int               `json:"failure_count"`
	WindowStart     string            `json:"window_start,omitempty"`
	TrialSuccesses  int               `json:"trial_successes"`
	TrialInflight   int               `json:"trial_inflight"`
	DailyUsedCents  int64             `json:"daily_used_cents"`
	DailyLimitCents int64             `json:"daily_limit_cents"`
	OpenedAt        string            `json:"opened_at,omitempty"`
	LastFailureAt   string            `json:"last_failure_at,omitempty"`
	UpdatedAt       string            `json:"updated_at,omitempty"`
}

func breakerToWire(st *core.BreakerState) breakerWire {
	return breakerWire{
		Scope:           st.Scope,
		Phase:           st.Phase,
		PausedForSafety: st.Phase != core.BreakerClosed,
		FailureCount:    st.FailureCount,
		WindowStart:     formatWhen(st.WindowStart),
		TrialSuccesses:  st.TrialSuccesses,
		TrialInflight:   st.TrialInflight,
		DailyUsedCents:  st.DailyUsedCents,
		DailyLimitCents: st.DailyLimitCents,
		OpenedAt:        formatWhen(st.OpenedAt),
		LastFailureAt:   formatWhen(st.LastFailureAt),
		UpdatedAt:       formatWhen(st.UpdatedAt),
	}
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return core.FormatTime(t)
}

func validScope(scope string) bool {
	return strings.HasPrefix(scope, "risk:") || strings.HasPrefix(scope, "tenant:")
}

// Get returns the state of one breaker scope. Unknown scopes read as
// closed; the store only materializes rows on the first transition.
func (h *BreakerHandler) Get(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	if !validScope(scope) {
		WriteError(w, http.StatusBadRequest, core.NewValidationError(
			"scope must be risk:<class> or tenant:<id>:<class>", map[string]any{"scope": scope}))
		return
	}
	st, err := h.breakers.Status(r.Context(), scope)
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"breaker": breakerToWire(st)})
}
