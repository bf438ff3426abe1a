package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/clinicops/internal/billing/model"
)

// ResourceStore covers the tenant-owned rows that count against plan limits.
type ResourceStore struct {
	db DBTX
}

func NewResourceStore(db DBTX) *ResourceStore {
	return &ResourceStore{db: db}
}

func resourceTable(kind model.ResourceKind) (string, error) {
	switch kind {
	case model.ResourcePatient:
		return "patients", nil
	case model.ResourceStaff:
		return "staff_members", nil
	}
	return "", fmt.Errorf("unknown resource kind %q", kind)
}

// CountActive returns the number of active resources of kind owned by the tenant.
func (s *ResourceStore) CountActive(ctx context.Context, tenantID string, kind model.ResourceKind) (int64, error) {
	table, err := resourceTable(kind)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE tenant_id = ? AND active = 1`, tenantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *ResourceStore) CreatePatient(ctx context.Context, tenantID, name string) (*model.Patient, error) {
	p := model.Patient{ID: uuid.NewString(), TenantID: tenantID, Name: name, Active: true, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patients (id, tenant_id, name, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.TenantID, p.Name, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}
	return &p, nil
}

func (s *ResourceStore) CreateStaff(ctx context.Context, tenantID, name, email, role string) (*model.StaffMember, error) {
	m := model.StaffMember{
		ID: uuid.NewString(), TenantID: tenantID, Name: name, Email: email, Role: role,
		Active: true, CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO staff_members (id, tenant_id, name, email, role, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.TenantID, m.Name, m.Email, m.Role, m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert staff member: %w", err)
	}
	return &m, nil
}

// Deactivate marks a resource inactive so it stops counting against limits.
func (s *ResourceStore) Deactivate(ctx context.Context, kind model.ResourceKind, tenantID, id string) error {
	table, err := resourceTable(kind)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET active = 0 WHERE id = ? AND tenant_id = ?`, id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("deactivate %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("deactivate %s %s: %w", table, id, ErrNotFound)
	}
	return nil
}
