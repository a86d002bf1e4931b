package events

import (
	"testing"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

func TestSubjects(t *testing.T) {
	if got := eventSubject("sync.accounts"); got != "jobs.events.sync.accounts" {
		t.Errorf("eventSubject = %q", got)
	}
	if got := alertSubject(core.AlertCodeDefect); got != "jobs.alerts.code_defect" {
		t.Errorf("alertSubject = %q", got)
	}
}

func TestLogPublisherNeverFails(t *testing.T) {
	p := NewLogPublisher()
	event := &core.JobEvent{
		Type:     core.EventJobRetrying,
		JobID:    "job-1",
		TenantID: "t1",
		JobType:  "sync.accounts",
		Status:   core.StatusRetrying,
		Attempt:  2,
		Error:    "[rate_limited] provider throttled",
	}
	if err := p.PublishJobEvent(event); err != nil {
		t.Errorf("PublishJobEvent() error = %v", err)
	}
	alert := &core.Alert{
		Class:   core.AlertBreakerOpened,
		Message: "circuit breaker opened: failure threshold reached",
		Scope:   "risk:high",
	}
	if err := p.PublishAlert(alert); err != nil {
		t.Errorf("PublishAlert() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
