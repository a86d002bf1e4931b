package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
	"github.com/Valdrix-AI/valdrix-sub003/internal/metrics"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// JobHandler serves the public job endpoints.
type JobHandler struct {
	store  core.Store
	events core.EventPublisher
}

func NewJobHandler(store core.Store, events core.EventPublisher) *JobHandler {
	return &JobHandler{store: store, events: events}
}

// Create enqueues a job. A dedup hit returns the existing job with 200;
// a fresh insert returns 201 with a Location header.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, http.StatusRequestEntityTooLarge, core.NewInvalidRequestError(
				"request body exceeds the size limit",
				map[string]any{"limit_bytes": maxErr.Limit}))
			return
		}
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError(
			"failed to read request body", nil))
		return
	}

	req, engineErr := core.ParseEnqueueRequest(body)
	if engineErr != nil {
		WriteError(w, http.StatusBadRequest, engineErr)
		return
	}

	job, deduplicated, err := h.store.Enqueue(r.Context(), req)
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	if deduplicated {
		metrics.JobsDeduplicated.WithLabelValues(job.Type).Inc()
		WriteJSON(w, http.StatusOK, map[string]any{"job": job, "deduplicated": true})
		return
	}

	metrics.JobsEnqueued.WithLabelValues(job.Type).Inc()
	if h.events != nil {
		_ = h.events.PublishJobEvent(&core.JobEvent{
			Type:      core.EventJobEnqueued,
			JobID:     job.ID,
			TenantID:  job.TenantID,
			JobType:   job.Type,
			Status:    job.Status,
			Timestamp: core.NowFormatted(),
		})
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	WriteJSON(w, http.StatusCreated, map[string]any{"job": job, "deduplicated": false})
}

// Get returns a single job by ID.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"job": job})
}

// List returns jobs matching the query filters with offset pagination.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := core.JobFilter{
		TenantID: q.Get("tenant_id"),
		JobType:  q.Get("job_type"),
	}
	if s := q.Get("status"); s != "" {
		if !core.ValidStatus(s) {
			WriteError(w, http.StatusBadRequest, core.NewValidationError(
				"unknown status", map[string]any{"status": s}))
			return
		}
		filter.Status = core.Status(s)
	}
	if s := q.Get("since"); s != "" {
		t, err := core.ParseTime(s)
		if err != nil {
			WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError(
				"since is not a valid timestamp", map[string]any{"since": s}))
			return
		}
		filter.Since = t
	}

	var engineErr *core.EngineError
	filter.Limit, engineErr = intParam(q.Get("limit"), "limit", defaultPageLimit)
	if engineErr != nil {
		WriteError(w, http.StatusBadRequest, engineErr)
		return
	}
	if filter.Limit == 0 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}
	filter.Offset, engineErr = intParam(q.Get("offset"), "offset", 0)
	if engineErr != nil {
		WriteError(w, http.StatusBadRequest, engineErr)
		return
	}

	jobs, total, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*core.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs": jobs,
		"pagination": map[string]any{
			"total":  total,
			"limit":  filter.Limit,
			"offset": filter.Offset,
		},
	})
}

func intParam(raw, name string, fallback int) (int, *core.EngineError) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, core.NewInvalidRequestError(
			name+" must be a non-negative integer", map[string]any{name: raw})
	}
	return n, nil
}
