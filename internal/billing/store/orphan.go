package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/clinicops/internal/billing/model"
)

type OrphanStore struct {
	db DBTX
}

func NewOrphanStore(db DBTX) *OrphanStore {
	return &OrphanStore{db: db}
}

func (s *OrphanStore) WithTx(tx *sql.Tx) *OrphanStore {
	return &OrphanStore{db: tx}
}

// Record stores an event that could not be resolved to a tenant and returns
// how many orphans have now been seen for the same subscription id.
func (s *OrphanStore) Record(ctx context.Context, o model.OrphanedEvent) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orphaned_events (event_id, event_type, subscription_id, customer_id, seen_at)
		 VALUES (?, ?, ?, ?, ?)`,
		o.EventID, o.EventType, o.SubscriptionID, o.CustomerID, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("record orphaned event: %w", err)
	}
	if o.SubscriptionID == "" {
		return 1, nil
	}
	return s.CountBySubscription(ctx, o.SubscriptionID)
}

func (s *OrphanStore) CountBySubscription(ctx context.Context, subscriptionID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orphaned_events WHERE subscription_id = ?`, subscriptionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orphaned events: %w", err)
	}
	return n, nil
}
