package events

import (
	"log/slog"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

// LogPublisher writes events and alerts to the process log. It is the
// publisher of record when no NATS URL is configured, so single-node
// deployments stay observable without a broker.
type LogPublisher struct{}

var _ core.EventPublisher = (*LogPublisher)(nil)

func NewLogPublisher() *LogPublisher { return &LogPublisher{} }

func (*LogPublisher) PublishJobEvent(event *core.JobEvent) error {
	args := []any{
		"event", event.Type,
		"job_id", event.JobID,
		"tenant_id", event.TenantID,
		"job_type", event.JobType,
		"status", event.Status,
		"attempt", event.Attempt,
	}
	if event.Error != "" {
		args = append(args, "error", event.Error)
	}
	slog.Info("job event", args...)
	return nil
}

func (*LogPublisher) PublishAlert(alert *core.Alert) error {
	args := []any{
		"class", alert.Class,
		"message", alert.Message,
	}
	if alert.TenantID != "" {
		args = append(args, "tenant_id", alert.TenantID)
	}
	if alert.JobType != "" {
		args = append(args, "job_type", alert.JobType)
	}
	if alert.JobID != "" {
		args = append(args, "job_id", alert.JobID)
	}
	if alert.Scope != "" {
		args = append(args, "scope", alert.Scope)
	}
	if alert.Class == core.AlertCodeDefect {
		slog.Error("engine alert", args...)
	} else {
		slog.Warn("engine alert", args...)
	}
	return nil
}

func (*LogPublisher) Close() error { return nil }
