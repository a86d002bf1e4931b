// Package config loads process settings from the environment. A .env file
// in the working directory is merged in first so local runs do not need
// exported variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full set of process settings. Optional knobs default to the
// same values the components fall back to on their own.
type Config struct {
	Port        int    `env:"JOBS_PORT" envDefault:"8080"`
	DatabaseURL string `env:"JOBS_DATABASE_URL,notEmpty"`

	// NatsURL enables NATS event publishing. Empty keeps events on the
	// process log only.
	NatsURL string `env:"JOBS_NATS_URL"`

	// AdminAPIKey guards the admin HTTP surface. An empty key is refused
	// at startup unless AllowInsecureNoAuth is set.
	AdminAPIKey         string `env:"JOBS_ADMIN_API_KEY"`
	AllowInsecureNoAuth bool   `env:"JOBS_ALLOW_INSECURE_NO_AUTH" envDefault:"false"`

	HTTP     HTTPConfig     `envPrefix:"JOBS_HTTP_"`
	Dispatch DispatchConfig `envPrefix:"JOBS_DISPATCH_"`
	Scan     ScanConfig     `envPrefix:"JOBS_SCAN_"`
	Maintain MaintainConfig `envPrefix:"JOBS_MAINTAIN_"`
	Breaker  BreakerConfig  `envPrefix:"JOBS_BREAKER_"`
}

// HTTPConfig tunes the HTTP server.
type HTTPConfig struct {
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"2m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// DispatchConfig tunes the claim-and-execute worker pool.
type DispatchConfig struct {
	Workers      int           `env:"WORKERS" envDefault:"4"`
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"10"`
	Lease        time.Duration `env:"LEASE" envDefault:"5m"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
}

// ScanConfig tunes the tenant cohort scanner.
type ScanConfig struct {
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"30s"`
	PageSize     int           `env:"PAGE_SIZE" envDefault:"100"`
}

// MaintainConfig tunes the maintenance loop: reaping stuck jobs, promoting
// due retries, and refreshing SLO gauges.
type MaintainConfig struct {
	ReapInterval    time.Duration `env:"REAP_INTERVAL" envDefault:"30s"`
	PromoteInterval time.Duration `env:"PROMOTE_INTERVAL" envDefault:"5s"`
	SLOInterval     time.Duration `env:"SLO_INTERVAL" envDefault:"1m"`
	SLOWindow       time.Duration `env:"SLO_WINDOW" envDefault:"24h"`
	PromoteBatch    int           `env:"PROMOTE_BATCH" envDefault:"500"`
}

// BreakerConfig tunes the safety circuit breakers. DailyLimitCents of zero
// disables the impact limit.
type BreakerConfig struct {
	FailureThreshold int           `env:"FAILURE_THRESHOLD" envDefault:"5"`
	Window           time.Duration `env:"WINDOW" envDefault:"10m"`
	Cooldown         time.Duration `env:"COOLDOWN" envDefault:"5m"`
	HalfOpenProbes   int           `env:"HALF_OPEN_PROBES" envDefault:"1"`
	CloseAfter       int           `env:"CLOSE_AFTER" envDefault:"3"`
	DailyLimitCents  int64         `env:"DAILY_LIMIT_CENTS" envDefault:"0"`
}

// Load reads a .env file if present, then parses the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, nil
}
