package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/clinicops/internal/billing/model"
	"github.com/dukerupert/clinicops/internal/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "billing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createTenant(t *testing.T, db *sql.DB, name string) *model.Tenant {
	t.Helper()
	ctx := context.Background()
	starter, err := NewPlanStore(db).GetByKey(ctx, "starter")
	require.NoError(t, err)
	require.NotNil(t, starter)
	tenant, err := NewTenantStore(db).CreateTrial(ctx, name, name+"@example.com", starter.ID, time.Now().Add(14*24*time.Hour))
	require.NoError(t, err)
	return tenant
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := InTx(ctx, db, func(tx *sql.Tx) error {
		admitted, err := NewEventLedger(db).WithTx(tx).Admit(ctx, "evt_rollback", "invoice.paid")
		require.NoError(t, err)
		require.True(t, admitted)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := NewEventLedger(db).Count(ctx, "evt_rollback")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestInTxCommits(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := InTx(ctx, db, func(tx *sql.Tx) error {
		_, err := NewEventLedger(db).WithTx(tx).Admit(ctx, "evt_commit", "invoice.paid")
		return err
	})
	require.NoError(t, err)

	n, err := NewEventLedger(db).Count(ctx, "evt_commit")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
