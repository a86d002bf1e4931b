package postgres

import (
	"context"
	"time"

	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
)

// TenantPage returns active tenants with IDs after afterID, ordered by ID.
// Keyset pagination keeps scanner sweeps cheap no matter how many tenants
// exist; pass the last ID of the previous page to continue.
func (s *Store) TenantPage(ctx context.Context, afterID string, limit int) ([]core.Tenant, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, active, created_at FROM tenants
		WHERE active AND id > $1
		ORDER BY id
		LIMIT $2`,
		afterID, limit)
	if err != nil {
		return nil, storeErr("list tenants", err)
	}
	defer rows.Close()

	tenants := []core.Tenant{}
	for rows.Next() {
		var t core.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt); err != nil {
			return nil, storeErr("scan tenant", err)
		}
		t.CreatedAt = t.CreatedAt.UTC()
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list tenants", err)
	}
	return tenants, nil
}

// UpsertTenant creates or updates a tenant record.
func (s *Store) UpsertTenant(ctx context.Context, tenant core.Tenant) error {
	if tenant.ID == "" {
		return core.NewValidationError("tenant id is required", nil)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active`,
		tenant.ID, tenant.Name, tenant.Active)
	if err != nil {
		return storeErr("upsert tenant", err)
	}
	return nil
}

// SetJobTypePaused pauses or resumes claiming for a job type. Paused types
// stay enqueueable; their jobs just sit queued until resumed.
func (s *Store) SetJobTypePaused(ctx context.Context, jobType string, paused bool) error {
	if !core.ValidJobType(jobType) {
		return core.NewValidationError("invalid job type", map[string]any{"job_type": jobType})
	}
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_types (name, paused, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			paused = EXCLUDED.paused,
			updated_at = EXCLUDED.updated_at`,
		jobType, paused, now)
	if err != nil {
		return storeErr("set job type paused", err)
	}
	return nil
}

// ListJobTypes returns the pause state of every known job type.
func (s *Store) ListJobTypes(ctx context.Context) ([]core.JobTypeStatus, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, paused, updated_at FROM job_types ORDER BY name`)
	if err != nil {
		return nil, storeErr("list job types", err)
	}
	defer rows.Close()

	types := []core.JobTypeStatus{}
	for rows.Next() {
		var jt core.JobTypeStatus
		if err := rows.Scan(&jt.Name, &jt.Paused, &jt.UpdatedAt); err != nil {
			return nil, storeErr("scan job type", err)
		}
		jt.UpdatedAt = jt.UpdatedAt.UTC()
		types = append(types, jt)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list job types", err)
	}
	return types, nil
}
