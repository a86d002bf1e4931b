package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Valdrix-AI/valdrix-sub003/internal/breaker"
	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
	"github.com/Valdrix-AI/valdrix-sub003/internal/metrics"
)

const (
	DefaultWorkers      = 4
	DefaultBatchSize    = 10
	DefaultLease        = 5 * time.Minute
	DefaultPollInterval = 2 * time.Second

	heartbeatInterval = 30 * time.Second
	maxClaimBackoff   = 30 * time.Second
	leaseHeadroom     = 30 * time.Second
)

// Config tunes one dispatcher instance.
type Config struct {
	Workers      int           // concurrent pollers
	BatchSize    int           // jobs claimed per poll
	Lease        time.Duration // claim lease; execution must finish inside it
	PollInterval time.Duration // idle delay between polls
	WorkerID     string        // stable identity for leases and heartbeats
	Hostname     string
	Wake         <-chan string // optional store hints that a job type has work
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Lease <= 0 {
		c.Lease = DefaultLease
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Hostname == "" {
		c.Hostname, _ = os.Hostname()
	}
	if c.WorkerID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		c.WorkerID = "worker-" + id.String()
	}
	return c
}

// Dispatcher claims jobs from the store and runs them through registered
// handlers. Every instance is equal; coordination happens entirely through
// the store's claim semantics, so adding instances only adds throughput.
type Dispatcher struct {
	store    core.Store
	registry *Registry
	breakers *breaker.Manager
	events   core.EventPublisher
	cfg      Config
	claimed  atomic.Int64
}

func New(store core.Store, registry *Registry, breakers *breaker.Manager, events core.EventPublisher, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:    store,
		registry: registry,
		breakers: breakers,
		events:   events,
		cfg:      cfg.withDefaults(),
	}
}

// WorkerID returns the identity this dispatcher claims leases under.
func (d *Dispatcher) WorkerID() string { return d.cfg.WorkerID }

// Run starts the poller pool and blocks until ctx is cancelled. Jobs
// in flight at cancellation are abandoned to their leases; the reaper
// requeues them.
func (d *Dispatcher) Run(ctx context.Context) error {
	types := d.registry.ExecutableTypes()
	slog.Info("dispatcher starting",
		"worker_id", d.cfg.WorkerID,
		"workers", d.cfg.Workers,
		"lease", d.cfg.Lease,
		"job_types", types)
	if len(types) == 0 {
		slog.Warn("no handlers registered, dispatcher will idle")
	}
	d.heartbeat(ctx)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.pollLoop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		d.heartbeatLoop(ctx)
		return nil
	})
	err := g.Wait()
	slog.Info("dispatcher stopped", "worker_id", d.cfg.WorkerID)
	return err
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	claimDelay := d.cfg.PollInterval
	outage := false
	for ctx.Err() == nil {
		n, err := d.pollOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		delay := d.cfg.PollInterval
		switch {
		case err != nil:
			claimDelay *= 2
			if claimDelay > maxClaimBackoff {
				claimDelay = maxClaimBackoff
			}
			delay = claimDelay
			if !outage {
				outage = true
				d.publishAlert(&core.Alert{
					Class:   core.AlertStoreUnreachable,
					Message: "job claim failed; polling is backing off",
					Details: map[string]any{"worker_id": d.cfg.WorkerID, "error": err.Error()},
				})
			}
			slog.Error("claim batch failed", "worker_id", d.cfg.WorkerID, "retry_in", delay, "error", err)
		default:
			if outage {
				outage = false
				claimDelay = d.cfg.PollInterval
				slog.Info("job store reachable again", "worker_id", d.cfg.WorkerID)
			}
			if n >= d.cfg.BatchSize {
				// Full batch, likely more work waiting.
				continue
			}
		}
		if !d.waitForWork(ctx, delay) {
			return
		}
	}
}

// waitForWork sleeps until the poll delay elapses or the store hints that
// a type this node executes has new work. Returns false on shutdown.
func (d *Dispatcher) waitForWork(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case jobType := <-d.cfg.Wake:
			if d.executableType(jobType) {
				return true
			}
		}
	}
}

func (d *Dispatcher) executableType(name string) bool {
	cfg, ok := d.registry.Lookup(name)
	return ok && cfg.Handler != nil
}

func (d *Dispatcher) pollOnce(ctx context.Context) (int, error) {
	types := d.registry.ExecutableTypes()
	if len(types) == 0 {
		return 0, nil
	}
	jobs, err := d.store.ClaimBatch(ctx, d.cfg.WorkerID, types, d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		metrics.JobsClaimed.Inc()
		d.claimed.Add(1)
		d.execute(ctx, job)
	}
	return len(jobs), nil
}

// execute runs one claimed job end to end: breaker admission, handler
// invocation inside the panic boundary, then outcome recording.
func (d *Dispatcher) execute(ctx context.Context, job *core.Job) {
	cfg, ok := d.registry.Lookup(job.Type)
	if !ok || cfg.Handler == nil {
		// ClaimBatch only asks for executable types; reaching here means
		// the registry changed under us. Give the job back.
		d.deferJob(ctx, job, time.Now().Add(time.Minute), "no handler registered on this worker")
		return
	}

	var adm *breaker.Admission
	if cfg.Risk == core.RiskHigh {
		var err error
		adm, err = d.breakers.CanExecute(ctx, job.TenantID, cfg.Risk)
		if err != nil {
			slog.Warn("breaker check failed, deferring job",
				"job_id", job.ID, "job_type", job.Type, "error", err)
			d.deferJob(ctx, job, time.Now().Add(time.Minute), "safety check unavailable")
			return
		}
		if !adm.Allowed {
			slog.Info("job deferred by circuit breaker",
				"job_id", job.ID, "job_type", job.Type, "scope", adm.DeniedScope, "retry_at", adm.RetryAt)
			d.deferJob(ctx, job, adm.RetryAt, "action temporarily paused for safety")
			return
		}
	}

	start := time.Now()
	summary, err := d.runHandler(ctx, cfg, job)
	metrics.HandlerDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	if err != nil {
		if ee, ok := core.AsEngineError(err); ok && ee.Code == core.ErrCodeLeaseExpired {
			// A checkpoint discovered the lease is gone. The reaper owns the
			// job now; recording anything would race its decision.
			slog.Warn("lease lost mid-run, dropping result",
				"job_id", job.ID, "job_type", job.Type, "worker_id", d.cfg.WorkerID)
			d.breakers.Release(ctx, adm)
			return
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// Shutting down. Hand the job back without charging an attempt.
			d.releaseForShutdown(job)
			d.breakers.Release(ctx, adm)
			return
		}
	}

	outcome := d.classify(cfg, job, summary, err)
	switch outcome.Kind {
	case core.OutcomeSuccess:
		d.breakers.OnSuccess(ctx, adm)
		if adm != nil && summary != nil && summary.ImpactCents > 0 {
			if ierr := d.breakers.RecordImpact(ctx, job.TenantID, cfg.Risk, summary.ImpactCents); ierr != nil {
				slog.Warn("impact accounting failed", "job_id", job.ID, "error", ierr)
			}
		}
	case core.OutcomeCancel:
		d.breakers.Release(ctx, adm)
	default:
		d.breakers.OnFailure(ctx, adm)
	}
	d.finish(ctx, job, outcome, err)
}

// classify translates a handler result into a store outcome. The store
// still has the last word: a retry outcome becomes a terminal failure when
// attempts are exhausted, and an operator cancel overrides a retry.
func (d *Dispatcher) classify(cfg TypeConfig, job *core.Job, summary *core.Summary, err error) core.Outcome {
	if err == nil {
		return core.Outcome{Kind: core.OutcomeSuccess, Summary: summary}
	}
	if errors.Is(err, core.ErrCancelRequested) {
		return core.Outcome{Kind: core.OutcomeCancel, ErrorMessage: "cancelled by operator request"}
	}

	retryable := true
	message := err.Error()
	var herr *core.HandlerError
	switch {
	case errors.As(err, &herr):
		retryable = herr.Retryable
	case errors.Is(err, context.DeadlineExceeded):
		message = "handler timed out after " + d.handlerTimeout(cfg).String()
	}

	if !retryable {
		return core.Outcome{Kind: core.OutcomeFail, ErrorMessage: message}
	}
	return core.Outcome{
		Kind:         core.OutcomeRetry,
		ErrorMessage: message,
		NextRunAt:    cfg.RetryPolicy.NextRunAt(time.Now().UTC(), job.AttemptCount),
	}
}

// finish records the outcome and publishes the resulting lifecycle event.
func (d *Dispatcher) finish(ctx context.Context, job *core.Job, outcome core.Outcome, runErr error) {
	updated, err := d.store.Complete(ctx, job.ID, d.cfg.WorkerID, outcome)
	if err != nil {
		if ee, ok := core.AsEngineError(err); ok && ee.Code == core.ErrCodeLeaseExpired {
			slog.Warn("lease lost before completion, dropping result",
				"job_id", job.ID, "job_type", job.Type, "worker_id", d.cfg.WorkerID)
			return
		}
		slog.Error("failed to record job outcome",
			"job_id", job.ID, "job_type", job.Type, "outcome", outcome.Kind, "error", err)
		return
	}

	metrics.JobsCompleted.WithLabelValues(job.Type, string(updated.Status)).Inc()
	logger := slog.With("job_id", job.ID, "job_type", job.Type, "tenant_id", job.TenantID, "status", updated.Status)
	switch updated.Status {
	case core.StatusSucceeded:
		logger.Info("job succeeded", "attempt", updated.AttemptCount)
	case core.StatusRetrying:
		logger.Info("job scheduled for retry", "attempt", updated.AttemptCount, "next_run_at", updated.NextRunAt, "error", outcome.ErrorMessage)
	case core.StatusFailed:
		logger.Error("job failed permanently", "attempt", updated.AttemptCount, "error", updated.LastError)
		d.publishAlert(&core.Alert{
			Class:    core.AlertJobFailed,
			Message:  "job failed permanently: " + updated.LastError,
			TenantID: updated.TenantID,
			JobType:  updated.Type,
			JobID:    updated.ID,
			Details:  map[string]any{"attempts": updated.AttemptCount},
		})
	case core.StatusCancelled:
		logger.Info("job cancelled")
	}
	d.publishJobEvent(updated, runErr)
}

// releaseForShutdown puts a job interrupted by shutdown straight back in
// the queue so the next claimer picks it up before the lease expires.
func (d *Dispatcher) releaseForShutdown(job *core.Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(context.Background()), 5*time.Second)
	defer cancel()
	if err := d.store.DeferJob(ctx, job.ID, d.cfg.WorkerID, time.Now().UTC(), "worker shutting down"); err != nil {
		slog.Warn("could not release job during shutdown, lease will expire",
			"job_id", job.ID, "error", err)
		return
	}
	slog.Info("job released for shutdown", "job_id", job.ID, "job_type", job.Type)
}

func (d *Dispatcher) deferJob(ctx context.Context, job *core.Job, until time.Time, note string) {
	if err := d.store.DeferJob(ctx, job.ID, d.cfg.WorkerID, until, note); err != nil {
		slog.Error("failed to defer job", "job_id", job.ID, "job_type", job.Type, "error", err)
		return
	}
	metrics.JobsDeferred.WithLabelValues(job.Type).Inc()
}

// runHandler invokes the handler with a deadline strictly inside the lease
// and a checkpoint bound to this worker's claim.
func (d *Dispatcher) runHandler(ctx context.Context, cfg TypeConfig, job *core.Job) (*core.Summary, error) {
	hctx, cancel := context.WithTimeout(ctx, d.handlerTimeout(cfg))
	defer cancel()
	run := core.NewJobRun(job, d.checkpoint(job.ID))
	return d.invoke(hctx, cfg.Handler, run)
}

func (d *Dispatcher) handlerTimeout(cfg TypeConfig) time.Duration {
	if cfg.Timeout > 0 && cfg.Timeout < d.cfg.Lease {
		return cfg.Timeout
	}
	headroom := d.cfg.Lease - leaseHeadroom
	if headroom <= 0 {
		headroom = d.cfg.Lease / 2
	}
	return headroom
}

// invoke is the panic boundary. A panicking handler is a code defect:
// the worker survives, the job fails terminally (retrying broken code
// cannot help), and a code_defect alert pages the owning team.
func (d *Dispatcher) invoke(ctx context.Context, h core.Handler, run *core.JobRun) (summary *core.Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.WithLabelValues(run.Job.Type).Inc()
			slog.Error("handler panicked",
				"job_id", run.Job.ID,
				"job_type", run.Job.Type,
				"tenant_id", run.Job.TenantID,
				"panic", r,
				"stack", string(debug.Stack()))
			d.publishAlert(&core.Alert{
				Class:    core.AlertCodeDefect,
				Message:  fmt.Sprintf("handler for %q panicked: %v", run.Job.Type, r),
				TenantID: run.Job.TenantID,
				JobType:  run.Job.Type,
				JobID:    run.Job.ID,
				Details:  map[string]any{"attempt": run.Job.AttemptCount},
			})
			summary = nil
			err = core.NewTerminalHandlerError("panic", fmt.Sprintf("handler panicked: %v", r))
		}
	}()
	return h.Execute(ctx, run)
}

// checkpoint builds the cancellation-and-lease probe handed to handlers.
func (d *Dispatcher) checkpoint(jobID string) func(context.Context) error {
	return func(ctx context.Context) error {
		cancelled, err := d.store.CancelRequested(ctx, jobID)
		if err != nil {
			return err
		}
		if cancelled {
			return core.ErrCancelRequested
		}
		return d.store.ExtendLease(ctx, jobID, d.cfg.WorkerID, d.cfg.Lease)
	}
}

func (d *Dispatcher) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.heartbeat(ctx)
		}
	}
}

func (d *Dispatcher) heartbeat(ctx context.Context) {
	delta := d.claimed.Swap(0)
	err := d.store.HeartbeatWorker(ctx, core.WorkerInfo{
		ID:           d.cfg.WorkerID,
		Hostname:     d.cfg.Hostname,
		ClaimedTotal: delta,
	})
	if err != nil {
		// Put the delta back so the next heartbeat reports it.
		d.claimed.Add(delta)
		slog.Warn("worker heartbeat failed", "worker_id", d.cfg.WorkerID, "error", err)
	}
}

func (d *Dispatcher) publishJobEvent(job *core.Job, runErr error) {
	if d.events == nil {
		return
	}
	eventType := ""
	switch job.Status {
	case core.StatusSucceeded:
		eventType = core.EventJobSucceeded
	case core.StatusRetrying:
		eventType = core.EventJobRetrying
	case core.StatusFailed:
		eventType = core.EventJobFailed
	case core.StatusCancelled:
		eventType = core.EventJobCancelled
	default:
		return
	}
	event := &core.JobEvent{
		Type:      eventType,
		JobID:     job.ID,
		TenantID:  job.TenantID,
		JobType:   job.Type,
		Status:    job.Status,
		Attempt:   job.AttemptCount,
		Timestamp: core.FormatTime(time.Now().UTC()),
	}
	if runErr != nil && job.Status != core.StatusSucceeded {
		event.Error = runErr.Error()
	}
	if err := d.events.PublishJobEvent(event); err != nil {
		slog.Debug("job event publish failed", "job_id", job.ID, "error", err)
	}
}

func (d *Dispatcher) publishAlert(alert *core.Alert) {
	if d.events == nil {
		return
	}
	alert.Timestamp = core.FormatTime(time.Now().UTC())
	if err := d.events.PublishAlert(alert); err != nil {
		slog.Debug("alert publish failed", "class", alert.Class, "error", err)
	}
}
