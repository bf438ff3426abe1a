package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/clinicops/internal/billing/model"
)

// PlanStore reads the plan catalog. Plans are seeded by migrations and never
// written here.
type PlanStore struct {
	db DBTX
}

func NewPlanStore(db DBTX) *PlanStore {
	return &PlanStore{db: db}
}

func (s *PlanStore) WithTx(tx *sql.Tx) *PlanStore {
	return &PlanStore{db: tx}
}

func scanPlan(scanner interface{ Scan(...any) error }) (*model.Plan, error) {
	var p model.Plan
	var maxUsers, maxPatients sql.NullInt64
	var priceID sql.NullString
	err := scanner.Scan(&p.ID, &p.Key, &p.Name, &p.PriceMonthlyCents, &maxUsers, &maxPatients, &priceID)
	if err != nil {
		return nil, err
	}
	p.MaxUsers = limitFromNull(maxUsers)
	p.MaxPatients = limitFromNull(maxPatients)
	if priceID.Valid {
		p.StripePriceID = &priceID.String
	}
	return &p, nil
}

func limitFromNull(n sql.NullInt64) model.Limit {
	if !n.Valid {
		return model.Unlimited
	}
	return model.Limit(n.Int64)
}

const planCols = `id, key, name, price_monthly_cents, max_users, max_patients, stripe_price_id`

func (s *PlanStore) List(ctx context.Context) ([]model.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planCols+` FROM plans ORDER BY price_monthly_cents`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

func (s *PlanStore) GetByKey(ctx context.Context, key string) (*model.Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planCols+` FROM plans WHERE key = ?`, key)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan by key: %w", err)
	}
	return p, nil
}

func (s *PlanStore) GetByID(ctx context.Context, id int64) (*model.Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planCols+` FROM plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

// SetPriceID records the provider price a plan is sold under.
func (s *PlanStore) SetPriceID(ctx context.Context, key, priceID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE plans SET stripe_price_id = ? WHERE key = ?`, nullString(priceID), key,
	)
	if err != nil {
		return fmt.Errorf("set plan price: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set plan price rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set plan price: plan %q: %w", key, ErrNotFound)
	}
	return nil
}
