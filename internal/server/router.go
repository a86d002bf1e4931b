// Package server assembles the HTTP surface: middleware chain, public job
// and observability routes, and the key-guarded admin group.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Valdrix-AI/valdrix-sub003/internal/api"
	"github.com/Valdrix-AI/valdrix-sub003/internal/breaker"
	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

// Options carries router configuration that is not a collaborator.
type Options struct {
	// AdminAPIKey guards the /v1 admin group. Empty means the deployment
	// opted into insecure mode and only the X-Actor header is enforced.
	AdminAPIKey string
}

// NewRouter wires every handler behind the shared middleware chain.
// Public routes serve enqueue and read traffic; admin routes mutate state
// and require authentication plus an audit actor.
func NewRouter(store core.Store, breakers *breaker.Manager, events core.EventPublisher, opts Options) *chi.Mux {
	r := chi.NewRouter()

	r.Use(api.RequestID)
	r.Use(api.RequestLogger)
	r.Use(api.LimitBody)
	r.Use(api.ValidateContentType)

	jobH := api.NewJobHandler(store, events)
	sloH := api.NewSLOHandler(store)
	breakerH := api.NewBreakerHandler(breakers)
	adminH := api.NewAdminHandler(store, breakers)
	systemH := api.NewSystemHandler(store)

	r.Get("/healthz", systemH.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", jobH.Create)
		r.Get("/jobs", jobH.List)
		r.Get("/jobs/{id}", jobH.Get)
		r.Get("/slo", sloH.Get)
		r.Get("/breakers/{scope}", breakerH.Get)

		r.Group(func(r chi.Router) {
			r.Use(api.AdminAuth(opts.AdminAPIKey))

			r.Post("/jobs/{id}/cancel", adminH.CancelJob)
			r.Post("/jobs/{id}/retry", adminH.RetryJob)
			r.Post("/breakers/{scope}/reset", adminH.ResetBreaker)
			r.Post("/job-types/{name}/pause", adminH.PauseJobType)
			r.Post("/job-types/{name}/resume", adminH.ResumeJobType)
			r.Get("/job-types", adminH.ListJobTypes)
			r.Get("/workers", adminH.ListWorkers)
			r.Get("/audit", adminH.ListAudit)
		})
	})

	return r
}
