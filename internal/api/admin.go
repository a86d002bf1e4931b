package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Valdrix-AI/valdrix-sub003/internal/breaker"
	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

// AdminHandler serves the privileged surface. Every accepted operation
// writes an audit row naming the acting operator.
type AdminHandler struct {
	store    core.Store
	breakers *breaker.Manager
}

func NewAdminHandler(store core.Store, breakers *breaker.Manager) *AdminHandler {
	return &AdminHandler{store: store, breakers: breakers}
}

// CancelJob cancels a queued or retrying job outright and flags a running
// one for cooperative cancellation. Repeating a cancel on a job already
// flagged is accepted and audited as a no-op.
func (h *AdminHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	prior, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	job, err := h.store.CancelJob(r.Context(), jobID)
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	action := core.AuditJobCancel
	if job.Status == prior.Status && job.CancelRequested == prior.CancelRequested {
		action = core.AuditJobCancelNoop
	}
	h.audit(r.Context(), &core.AuditEvent{
		Actor:      ActorFromContext(r.Context()),
		Action:     action,
		Target:     jobID,
		TenantID:   job.TenantID,
		PriorState: string(prior.Status),
		NewState:   string(job.Status),
		Detail:     map[string]any{"cancel_requested": job.CancelRequested},
	})
	WriteJSON(w, http.StatusOK, map[string]any{"job": job})
}

// RetryJob requeues a terminally failed job with a fresh attempt budget.
func (h *AdminHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	prior, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	job, err := h.store.RetryJob(r.Context(), jobID)
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	h.audit(r.Context(), &core.AuditEvent{
		Actor:      ActorFromContext(r.Context()),
		Action:     core.AuditJobRetry,
		Target:     jobID,
		TenantID:   job.TenantID,
		PriorState: string(prior.Status),
		NewState:   string(job.Status),
	})
	WriteJSON(w, http.StatusOK, map[string]any{"job": job})
}

// PauseJobType stops the dispatcher from claiming jobs of one type.
func (h *AdminHandler) PauseJobType(w http.ResponseWriter, r *http.Request) {
	h.setJobTypePaused(w, r, true)
}

// ResumeJobType reverses a pause.
func (h *AdminHandler) ResumeJobType(w http.ResponseWriter, r *http.Request) {
	h.setJobTypePaused(w, r, false)
}

func (h *AdminHandler) setJobTypePaused(w http.ResponseWriter, r *http.Request, paused bool) {
	name := chi.URLParam(r, "name")
	if err := h.store.SetJobTypePaused(r.Context(), name, paused); err != nil {
		WriteEngineError(w, err)
		return
	}

	action := core.AuditTypeResume
	state := "active"
	if paused {
		action = core.AuditTypePause
		state = "paused"
	}
	h.audit(r.Context(), &core.AuditEvent{
		Actor:    ActorFromContext(r.Context()),
		Action:   action,
		Target:   name,
		NewState: state,
	})
	WriteJSON(w, http.StatusOK, map[string]any{"job_type": map[string]any{
		"name":   name,
		"paused": paused,
	}})
}

type jobTypeWire struct {
	core.JobTypeStatus
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ListJobTypes returns the pause state of every registered job type.
func (h *AdminHandler) ListJobTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.store.ListJobTypes(r.Context())
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	wire := make([]jobTypeWire, 0, len(types))
	for _, jt := range types {
		wire = append(wire, jobTypeWire{JobTypeStatus: jt, UpdatedAt: formatWhen(jt.UpdatedAt)})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"job_types": wire})
}

// ResetBreaker force-closes a breaker scope and zeroes its counters.
func (h *AdminHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	if !validScope(scope) {
		WriteError(w, http.StatusBadRequest, core.NewValidationError(
			"scope must be risk:<class> or tenant:<id>:<class>", map[string]any{"scope": scope}))
		return
	}

	actor := ActorFromContext(r.Context())
	prior, current, err := h.breakers.Reset(r.Context(), scope, actor)
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	h.audit(r.Context(), &core.AuditEvent{
		Actor:      actor,
		Action:     core.AuditBreakerReset,
		Target:     scope,
		PriorState: string(prior.Phase),
		NewState:   string(current.Phase),
		Detail: map[string]any{
			"prior_failure_count":    prior.FailureCount,
			"prior_daily_used_cents": prior.DailyUsedCents,
		},
	})
	WriteJSON(w, http.StatusOK, map[string]any{"breaker": breakerToWire(current)})
}

type workerWire struct {
	core.WorkerInfo
	StartedAt  string `json:"started_at,omitempty"`
	LastSeenAt string `json:"last_seen_at,omitempty"`
}

// ListWorkers returns recently heartbeating dispatcher instances.
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.store.ListWorkers(r.Context())
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	wire := make([]workerWire, 0, len(workers))
	for _, wk := range workers {
		wire = append(wire, workerWire{
			WorkerInfo: wk,
			StartedAt:  formatWhen(wk.StartedAt),
			LastSeenAt: formatWhen(wk.LastSeenAt),
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"workers": wire})
}

type auditWire struct {
	*core.AuditEvent
	CreatedAt string `json:"created_at"`
}

// ListAudit returns the audit trail, newest first.
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, engineErr := intParam(q.Get("limit"), "limit", defaultPageLimit)
	if engineErr != nil {
		WriteError(w, http.StatusBadRequest, engineErr)
		return
	}
	offset, engineErr := intParam(q.Get("offset"), "offset", 0)
	if engineErr != nil {
		WriteError(w, http.StatusBadRequest, engineErr)
		return
	}

	events, err := h.store.ListAudit(r.Context(), limit, offset)
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	wire := make([]auditWire, 0, len(events))
	for _, ev := range events {
		wire = append(wire, auditWire{AuditEvent: ev, CreatedAt: formatWhen(ev.CreatedAt)})
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"audit_events": wire,
		"pagination":   map[string]any{"limit": limit, "offset": offset},
	})
}

func (h *AdminHandler) audit(ctx context.Context, event *core.AuditEvent) {
	if err := h.store.RecordAudit(ctx, event); err != nil {
		slog.Warn("audit record failed",
			"action", event.Action,
			"target", event.Target,
			"error", err,
		)
	}
}
