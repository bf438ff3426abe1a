package entitlement

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/clinicops/internal/billing/model"
	"github.com/dukerupert/clinicops/internal/billing/store"
	"github.com/dukerupert/clinicops/internal/database"
)

type fixture struct {
	db        *sql.DB
	guard     *Guard
	tenants   *store.TenantStore
	plans     *store.PlanStore
	resources *store.ResourceStore
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "billing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:        db,
		tenants:   store.NewTenantStore(db),
		plans:     store.NewPlanStore(db),
		resources: store.NewResourceStore(db),
	}
	f.guard = NewGuard(f.tenants, f.plans, f.resources, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) tenantOn(t *testing.T, planKey string) *model.Tenant {
	t.Helper()
	ctx := context.Background()
	plan, err := f.plans.GetByKey(ctx, planKey)
	require.NoError(t, err)
	tenant, err := f.tenants.CreateTrial(ctx, "Clinic", "", plan.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return tenant
}

func TestCheckRejectsAtLimit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	// max_patients = 3
	_, err := f.db.Exec(`INSERT INTO plans (key, name, price_monthly_cents, max_users, max_patients) VALUES ('tiny', 'Tiny', 100, 1, 3)`)
	require.NoError(t, err)
	tenant := f.tenantOn(t, "tiny")

	for range 3 {
		require.NoError(t, f.guard.Check(ctx, tenant.ID, model.ResourcePatient))
		_, err := f.resources.CreatePatient(ctx, tenant.ID, "patient")
		require.NoError(t, err)
	}

	err = f.guard.Check(ctx, tenant.ID, model.ResourcePatient)
	require.ErrorIs(t, err, ErrLimitExceeded)
	var limitErr *LimitExceededError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, int64(3), limitErr.Used)
	assert.Equal(t, model.Limit(3), limitErr.Limit)

	n, err := f.resources.CountActive(ctx, tenant.ID, model.ResourcePatient)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCheckAllowsAfterDeactivation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tenant := f.tenantOn(t, "starter")

	var last *model.StaffMember
	for range 3 {
		m, err := f.resources.CreateStaff(ctx, tenant.ID, "staff", "", "professional")
		require.NoError(t, err)
		last = m
	}
	assert.ErrorIs(t, f.guard.Check(ctx, tenant.ID, model.ResourceStaff), ErrLimitExceeded)

	require.NoError(t, f.resources.Deactivate(ctx, model.ResourceStaff, tenant.ID, last.ID))
	assert.NoError(t, f.guard.Check(ctx, tenant.ID, model.ResourceStaff))
}

func TestCheckUnlimited(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tenant := f.tenantOn(t, "enterprise")

	for range 5 {
		_, err := f.resources.CreateStaff(ctx, tenant.ID, "staff", "", "professional")
		require.NoError(t, err)
	}
	assert.NoError(t, f.guard.Check(ctx, tenant.ID, model.ResourceStaff))
}

func TestCheckCancelledTenant(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tenant := f.tenantOn(t, "starter")
	require.NoError(t, f.tenants.ApplyLifecycle(ctx, tenant.ID, model.Cancelled{}, tenant.PlanID))

	assert.ErrorIs(t, f.guard.Check(ctx, tenant.ID, model.ResourcePatient), ErrTenantInactive)
}

func TestCheckMissingTenant(t *testing.T) {
	f := setup(t)

	assert.ErrorIs(t, f.guard.Check(context.Background(), "missing", model.ResourcePatient), ErrTenantNotFound)
}

func TestSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tenant := f.tenantOn(t, "starter")
	_, err := f.resources.CreatePatient(ctx, tenant.ID, "p1")
	require.NoError(t, err)

	snap, err := f.guard.Snapshot(ctx, tenant.ID)
	require.NoError(t, err)

	assert.Equal(t, model.StatusTrial, snap.Status)
	assert.Equal(t, "starter", snap.Plan.Key)
	assert.Equal(t, Usage{Used: 1, Limit: 500}, snap.Usage[model.ResourcePatient])
	assert.Equal(t, Usage{Used: 0, Limit: 3}, snap.Usage[model.ResourceStaff])
}
