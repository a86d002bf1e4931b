package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

// RecordAudit appends a privileged-operation record. The event's ID and
// timestamp are assigned here if unset.
func (s *Store) RecordAudit(ctx context.Context, event *core.AuditEvent) error {
	if event == nil || event.Action == "" {
		return core.NewValidationError("audit event requires an action", nil)
	}
	if event.ID == "" {
		event.ID = core.NewUUIDv7()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	var detail []byte
	if len(event.Detail) > 0 {
		encoded, err := json.Marshal(event.Detail)
		if err != nil {
			return core.NewInternalError("encode audit detail: " + err.Error())
		}
		detail = encoded
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_audit_events (id, actor, action, target, tenant_id, prior_state, new_state, detail, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9)`,
		event.ID, event.Actor, event.Action, event.Target,
		event.TenantID, event.PriorState, event.NewState, detail, event.CreatedAt)
	if err != nil {
		return storeErr("record audit event", err)
	}
	return nil
}

// ListAudit returns recent audit events, newest first.
func (s *Store) ListAudit(ctx context.Context, limit, offset int) ([]*core.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, actor, action, target, tenant_id, prior_state, new_state, detail, created_at
		FROM admin_audit_events
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, storeErr("list audit events", err)
	}
	defer rows.Close()

	events := []*core.AuditEvent{}
	for rows.Next() {
		var (
			ev         core.AuditEvent
			tenantID   *string
			priorState *string
			newState   *string
			detail     []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Actor, &ev.Action, &ev.Target, &tenantID,
			&priorState, &newState, &detail, &ev.CreatedAt); err != nil {
			return nil, storeErr("scan audit event", err)
		}
		if tenantID != nil {
			ev.TenantID = *tenantID
		}
		if priorState != nil {
			ev.PriorState = *priorState
		}
		if newState != nil {
			ev.NewState = *newState
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &ev.Detail); err != nil {
				return nil, core.NewInternalError("decode audit detail: " + err.Error())
			}
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list audit events", err)
	}
	return events, nil
}
