package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

func BenchmarkJobCreate(b *testing.B) {
	router := newTestRouter(&mockStore{})
	body := `{"tenant_id":"t1","job_type":"sync.accounts","payload":{"provider":"plaid"}}`

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
	}
}

func BenchmarkJobGet(b *testing.B) {
	store := &mockStore{
		getJobFunc: func(ctx context.Context, jobID string) (*core.Job, error) {
			return &core.Job{ID: jobID, TenantID: "t1", Type: "sync.accounts", Status: core.StatusQueued}, nil
		},
	}
	router := newTestRouter(store)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs/test-id", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
	}
}

func BenchmarkJobList(b *testing.B) {
	jobs := []*core.Job{
		{ID: "job-1", TenantID: "t1", Type: "sync.accounts", Status: core.StatusQueued},
		{ID: "job-2", TenantID: "t1", Type: "sync.accounts", Status: core.StatusRunning},
		{ID: "job-3", TenantID: "t1", Type: "export.ledger", Status: core.StatusSucceeded},
	}
	store := &mockStore{
		listJobsFunc: func(ctx context.Context, filter core.JobFilter) ([]*core.Job, int, error) {
			return jobs, len(jobs), nil
		},
	}
	router := newTestRouter(store)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs?tenant_id=t1", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
	}
}

func BenchmarkBreakerGet(b *testing.B) {
	router := newTestRouter(&mockStore{})

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/breakers/risk:high", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
	}
}

func BenchmarkHealthCheck(b *testing.B) {
	router := newTestRouter(&mockStore{})

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
	}
}
