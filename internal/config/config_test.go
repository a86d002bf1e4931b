package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("JOBS_DATABASE_URL", "postgres://localhost:5432/jobs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://localhost:5432/jobs" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.AllowInsecureNoAuth {
		t.Error("AllowInsecureNoAuth should default to false")
	}
	if cfg.HTTP.ReadTimeout != 10*time.Second {
		t.Errorf("HTTP.ReadTimeout = %v, want 10s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Dispatch.Workers != 4 {
		t.Errorf("Dispatch.Workers = %d, want 4", cfg.Dispatch.Workers)
	}
	if cfg.Dispatch.Lease != 5*time.Minute {
		t.Errorf("Dispatch.Lease = %v, want 5m", cfg.Dispatch.Lease)
	}
	if cfg.Scan.TickInterval != 30*time.Second {
		t.Errorf("Scan.TickInterval = %v, want 30s", cfg.Scan.TickInterval)
	}
	if cfg.Maintain.SLOWindow != 24*time.Hour {
		t.Errorf("Maintain.SLOWindow = %v, want 24h", cfg.Maintain.SLOWindow)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Breaker.FailureThreshold = %d, want 5", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.DailyLimitCents != 0 {
		t.Errorf("Breaker.DailyLimitCents = %d, want 0", cfg.Breaker.DailyLimitCents)
	}
}

func TestLoad_ReadsOverrides(t *testing.T) {
	t.Setenv("JOBS_DATABASE_URL", "postgres://db:5432/jobs")
	t.Setenv("JOBS_PORT", "9090")
	t.Setenv("JOBS_NATS_URL", "nats://broker:4222")
	t.Setenv("JOBS_ADMIN_API_KEY", "secret")
	t.Setenv("JOBS_DISPATCH_WORKERS", "16")
	t.Setenv("JOBS_DISPATCH_POLL_INTERVAL", "500ms")
	t.Setenv("JOBS_BREAKER_DAILY_LIMIT_CENTS", "250000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.NatsURL != "nats://broker:4222" {
		t.Errorf("NatsURL = %q", cfg.NatsURL)
	}
	if cfg.AdminAPIKey != "secret" {
		t.Errorf("AdminAPIKey = %q", cfg.AdminAPIKey)
	}
	if cfg.Dispatch.Workers != 16 {
		t.Errorf("Dispatch.Workers = %d, want 16", cfg.Dispatch.Workers)
	}
	if cfg.Dispatch.PollInterval != 500*time.Millisecond {
		t.Errorf("Dispatch.PollInterval = %v, want 500ms", cfg.Dispatch.PollInterval)
	}
	if cfg.Breaker.DailyLimitCents != 250000 {
		t.Errorf("Breaker.DailyLimitCents = %d, want 250000", cfg.Breaker.DailyLimitCents)
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("JOBS_DATABASE_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing JOBS_DATABASE_URL")
	}
	if !strings.Contains(err.Error(), "JOBS_DATABASE_URL") {
		t.Errorf("error should name JOBS_DATABASE_URL, got: %v", err)
	}
}
