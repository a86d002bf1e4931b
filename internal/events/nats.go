// Package events fans job lifecycle events and operator alerts out to
// external consumers over NATS, with a log-only fallback for deployments
// that run without a broker. Publishing is best-effort; the engine never
// blocks on a slow or absent consumer.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

const (
	eventSubjectPrefix = "jobs.events."
	alertSubjectPrefix = "jobs.alerts."
)

// Each event is published once, to the subject for its job type, and each
// alert once, to the subject for its class. Consumers subscribe to a single
// type or class, or take everything with jobs.events.> and jobs.alerts.>.
func eventSubject(jobType string) string { return eventSubjectPrefix + jobType }

func alertSubject(class core.AlertClass) string { return alertSubjectPrefix + string(class) }

// NATSPublisher implements core.EventPublisher over NATS core pub/sub.
type NATSPublisher struct {
	nc *nats.Conn
}

var _ core.EventPublisher = (*NATSPublisher)(nil)

// Connect dials NATS and returns a publisher that owns the connection.
func Connect(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return NewNATSPublisher(nc), nil
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

func (p *NATSPublisher) PublishJobEvent(event *core.JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(eventSubject(event.JobType), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (p *NATSPublisher) PublishAlert(alert *core.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := p.nc.Publish(alertSubject(alert.Class), data); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close flushes buffered publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	_ = p.nc.Flush()
	p.nc.Close()
	return nil
}
