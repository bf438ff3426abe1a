package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/clinicops/internal/billing/model"
)

type TenantStore struct {
	db DBTX
}

func NewTenantStore(db DBTX) *TenantStore {
	return &TenantStore{db: db}
}

// WithTx returns a TenantStore bound to tx.
func (s *TenantStore) WithTx(tx *sql.Tx) *TenantStore {
	return &TenantStore{db: tx}
}

func scanTenant(scanner interface{ Scan(...any) error }) (*model.Tenant, error) {
	var t model.Tenant
	var status string
	var customerID, subscriptionID sql.NullString
	var trialEndsAt sql.NullTime
	var lastEventAt sql.NullInt64
	err := scanner.Scan(
		&t.ID, &t.Name, &t.Email, &t.PlanID, &status,
		&customerID, &subscriptionID, &trialEndsAt, &t.CreatedAt, &t.UpdatedAt, &lastEventAt,
	)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		t.RemoteCustomerID = &customerID.String
	}
	if trialEndsAt.Valid {
		t.TrialEndsAt = &trialEndsAt.Time
	}
	if lastEventAt.Valid && lastEventAt.Int64 > 0 {
		at := time.Unix(lastEventAt.Int64, 0).UTC()
		t.LastEventAt = &at
	}
	lc, err := model.LifecycleFor(model.Status(status), subscriptionID.String, t.TrialEndsAt)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", t.ID, err)
	}
	t.Lifecycle = lc
	return &t, nil
}

const tenantCols = `id, name, email, plan_id, status, remote_customer_id, remote_subscription_id, trial_ends_at, created_at, updated_at, last_event_at`

// CreateTrial inserts a new tenant in the trial stage.
func (s *TenantStore) CreateTrial(ctx context.Context, name, email string, planID int64, trialEndsAt time.Time) (*model.Tenant, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, email, plan_id, status, trial_ends_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, email, planID, model.StatusTrial, trialEndsAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert tenant: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *TenantStore) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	return s.getOne(ctx, "get tenant", `WHERE id = ?`, id)
}

func (s *TenantStore) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*model.Tenant, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	return s.getOne(ctx, "get tenant by subscription", `WHERE remote_subscription_id = ?`, subscriptionID)
}

func (s *TenantStore) GetByCustomerID(ctx context.Context, customerID string) (*model.Tenant, error) {
	if customerID == "" {
		return nil, nil
	}
	return s.getOne(ctx, "get tenant by customer", `WHERE remote_customer_id = ?`, customerID)
}

// GetByPreviousSubscriptionID finds the tenant whose subscription link to
// subscriptionID was cleared or replaced.
func (s *TenantStore) GetByPreviousSubscriptionID(ctx context.Context, subscriptionID string) (*model.Tenant, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	return s.getOne(ctx, "get tenant by previous subscription", `WHERE previous_subscription_id = ?`, subscriptionID)
}

// GetUnlinkedByCustomerID finds a tenant by customer id only while it has no
// subscription linked and is not cancelled. Events for a stale subscription
// therefore never resolve through the customer.
func (s *TenantStore) GetUnlinkedByCustomerID(ctx context.Context, customerID string) (*model.Tenant, error) {
	if customerID == "" {
		return nil, nil
	}
	return s.getOne(ctx, "get unlinked tenant by customer",
		`WHERE remote_customer_id = ? AND remote_subscription_id IS NULL AND status <> 'cancelled'`,
		customerID,
	)
}

func (s *TenantStore) getOne(ctx context.Context, op, where string, args ...any) (*model.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantCols+` FROM tenants `+where, args...)
	t, err := scanTenant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// LinkCustomer stores customerID on the tenant unless one is already set and
// returns whichever id the tenant holds afterwards. The link is never replaced.
func (s *TenantStore) LinkCustomer(ctx context.Context, id, customerID string) (string, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET remote_customer_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND remote_customer_id IS NULL`,
		customerID, id,
	)
	if err != nil {
		return "", fmt.Errorf("link customer: %w", err)
	}

	var stored sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT remote_customer_id FROM tenants WHERE id = ?`, id).Scan(&stored)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("link customer: tenant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read customer link: %w", err)
	}
	return stored.String, nil
}

// ApplyLifecycle writes the lifecycle stage, subscription link and plan of a
// single tenant row. A subscription link that is cleared or replaced is kept
// as the previous subscription.
func (s *TenantStore) ApplyLifecycle(ctx context.Context, id string, lc model.Lifecycle, planID int64) error {
	subID := nullString(lc.SubscriptionID())
	result, err := s.db.ExecContext(ctx,
		`UPDATE tenants
		 SET previous_subscription_id = CASE
		         WHEN remote_subscription_id IS NOT NULL AND remote_subscription_id IS NOT ?
		         THEN remote_subscription_id ELSE previous_subscription_id END,
		     status = ?, remote_subscription_id = ?, plan_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		subID, lc.Status(), subID, planID, id,
	)
	if err != nil {
		return fmt.Errorf("apply lifecycle: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply lifecycle rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("apply lifecycle: tenant %s: %w", id, ErrNotFound)
	}
	return nil
}

// AdvanceEventClock moves the tenant's event clock forward to at. The clock
// never moves backwards and a zero time leaves it alone.
func (s *TenantStore) AdvanceEventClock(ctx context.Context, id string, at time.Time) error {
	if at.IsZero() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET last_event_at = MAX(COALESCE(last_event_at, 0), ?) WHERE id = ?`,
		at.Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("advance event clock: %w", err)
	}
	return nil
}
