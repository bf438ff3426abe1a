package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/clinicops/internal/billing/model"
)

// EventLedger records every provider event that has been accepted.
type EventLedger struct {
	db DBTX
}

func NewEventLedger(db DBTX) *EventLedger {
	return &EventLedger{db: db}
}

func (l *EventLedger) WithTx(tx *sql.Tx) *EventLedger {
	return &EventLedger{db: tx}
}

// Admit inserts the event id and reports whether this call inserted it.
// The unique key makes check and insert one statement, so concurrent
// deliveries of the same id admit exactly once.
func (l *EventLedger) Admit(ctx context.Context, eventID, eventType string) (bool, error) {
	result, err := l.db.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, event_type, received_at) VALUES (?, ?, ?)
		 ON CONFLICT(event_id) DO NOTHING`,
		eventID, eventType, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("admit event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("admit event rows affected: %w", err)
	}
	return n == 1, nil
}

func (l *EventLedger) Get(ctx context.Context, eventID string) (*model.ProcessedEvent, error) {
	var e model.ProcessedEvent
	err := l.db.QueryRowContext(ctx,
		`SELECT event_id, event_type, received_at FROM processed_events WHERE event_id = ?`,
		eventID,
	).Scan(&e.ID, &e.Type, &e.ReceivedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get processed event: %w", err)
	}
	return &e, nil
}

// Count returns how many ledger rows exist for eventID (0 or 1).
func (l *EventLedger) Count(ctx context.Context, eventID string) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_events WHERE event_id = ?`, eventID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count processed events: %w", err)
	}
	return n, nil
}
