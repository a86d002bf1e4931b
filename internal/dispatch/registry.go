// Package dispatch runs claimed jobs through their registered handlers.
// A bounded pool of pollers claims batches from the store, executes each
// job inside a panic boundary with a timeout strictly shorter than its
// lease, and routes the outcome back to the store. High-risk types pass
// through the safety circuit breaker first.
package dispatch

import (
	"sort"
	"sync"
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

// TypeConfig describes how one job type is executed and scheduled.
type TypeConfig struct {
	// Handler executes jobs of this type. Nil registers the type for
	// scheduling and observability only; this node will not claim it.
	Handler core.Handler

	// RetryPolicy overrides the default backoff. The zero value means the
	// engine default.
	RetryPolicy core.RetryPolicy

	// Risk marks the type's blast radius. High-risk types execute behind
	// the safety circuit breaker.
	Risk core.RiskClass

	// ScanSpec is a cron expression driving the cohort scanner for this
	// type. Empty disables scanning; jobs then arrive only via enqueue.
	ScanSpec string

	// ScanBucket is the dedup window for scanner enqueues. Zero means the
	// engine default bucket.
	ScanBucket time.Duration

	// Timeout bounds one execution attempt. Zero derives a timeout from
	// the dispatcher's lease.
	Timeout time.Duration
}

// Registry is the process-wide table of known job types. It is populated
// at startup and read concurrently by the dispatcher and scanner.
type Registry struct {
	mu    sync.RWMutex
	types map[string]TypeConfig
}

func NewRegistry() *Registry {
	return &Registry{types: map[string]TypeConfig{}}
}

// Register adds a job type. Defaults are filled in here so lookups always
// see a complete config. Registering the same type twice is an error.
func (r *Registry) Register(jobType string, cfg TypeConfig) error {
	if !core.ValidJobType(jobType) {
		return core.NewValidationError("invalid job type", map[string]any{"job_type": jobType})
	}
	if cfg.Risk == "" {
		cfg.Risk = core.RiskStandard
	}
	if cfg.RetryPolicy == (core.RetryPolicy{}) {
		cfg.RetryPolicy = core.DefaultRetryPolicy()
	} else if verr := cfg.RetryPolicy.Validate(); verr != nil {
		return verr
	}
	if cfg.ScanBucket <= 0 {
		cfg.ScanBucket = core.DefaultScanBucket
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[jobType]; exists {
		return core.NewConflictError("job type already registered", map[string]any{"job_type": jobType})
	}
	r.types[jobType] = cfg
	return nil
}

// Lookup returns the config for a job type.
func (r *Registry) Lookup(jobType string) (TypeConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.types[jobType]
	return cfg, ok
}

// Policy returns the retry policy for a job type, falling back to the
// engine default for unknown types.
func (r *Registry) Policy(jobType string) core.RetryPolicy {
	if cfg, ok := r.Lookup(jobType); ok {
		return cfg.RetryPolicy
	}
	return core.DefaultRetryPolicy()
}

// ExecutableTypes returns the job types this node can run, sorted.
func (r *Registry) ExecutableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, cfg := range r.types {
		if cfg.Handler != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ScannedType is one job type enrolled in cohort scanning.
type ScannedType struct {
	Name   string
	Spec   string
	Bucket time.Duration
}

// ScannedTypes returns the types with a scan cadence, sorted by name.
func (r *Registry) ScannedTypes() []ScannedType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ScannedType
	for name, cfg := range r.types {
		if cfg.ScanSpec != "" {
			out = append(out, ScannedType{Name: name, Spec: cfg.ScanSpec, Bucket: cfg.ScanBucket})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
