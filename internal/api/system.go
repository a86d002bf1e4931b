package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

const healthPingTimeout = 2 * time.Second

// SystemHandler serves liveness and readiness.
type SystemHandler struct {
	store core.Store
}

func NewSystemHandler(store core.Store) *SystemHandler {
	return &SystemHandler{store: store}
}

// Health pings the store and reports round-trip latency. A failed ping
// degrades the service: workers cannot claim and the API cannot enqueue.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	start := time.Now()
	err := h.store.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "degraded",
			"version": core.EngineVersion,
			"store": map[string]any{
				"status": "unreachable",
				"error":  err.Error(),
			},
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": core.EngineVersion,
		"store": map[string]any{
			"status":     "ok",
			"latency_ms": latency.Milliseconds(),
		},
	})
}
