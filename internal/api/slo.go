package api

import (
	"net/http"
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

const (
	defaultSLOWindow = 24 * time.Hour
	maxSLOWindow     = 30 * 24 * time.Hour
)

// SLOHandler serves delivery-health summaries.
type SLOHandler struct {
	store core.Store
}

func NewSLOHandler(store core.Store) *SLOHandler {
	return &SLOHandler{store: store}
}

type sloWire struct {
	Window   string           `json:"window"`
	TenantID string           `json:"tenant_id,omitempty"`
	Overall  core.SLOBucket   `json:"overall"`
	ByType   []core.SLOBucket `json:"by_type"`
}

// Get returns the SLO summary for a trailing window, ISO 8601 encoded.
func (h *SLOHandler) Get(w http.ResponseWriter, r *http.Request) {
	window := defaultSLOWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := core.ParseISO8601Duration(raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError(
				"window is not a valid ISO 8601 duration", map[string]any{"window": raw}))
			return
		}
		window = parsed
	}
	if window > maxSLOWindow {
		WriteError(w, http.StatusBadRequest, core.NewValidationError(
			"window exceeds the 30 day maximum", map[string]any{"window": core.FormatISO8601Duration(window)}))
		return
	}

	summary, err := h.store.SLOSummary(r.Context(), window, r.URL.Query().Get("tenant_id"))
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	byType := summary.ByType
	if byType == nil {
		byType = []core.SLOBucket{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"slo": sloWire{
		Window:   core.FormatISO8601Duration(summary.Window),
		TenantID: summary.TenantID,
		Overall:  summary.Overall,
		ByType:   byType,
	}})
}
