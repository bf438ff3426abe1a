package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/clinicops/internal/billing/metrics"
	"github.com/dukerupert/clinicops/internal/billing/model"
	"github.com/dukerupert/clinicops/internal/billing/store"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrTenantInactive rejects writes for cancelled tenants.
	ErrTenantInactive = errors.New("tenant subscription cancelled")
)

// LimitExceededError is returned when a creation would exceed the plan quota.
type LimitExceededError struct {
	Kind  model.ResourceKind
	Used  int64
	Limit model.Limit
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %d of %d used", e.Kind, e.Used, e.Limit)
}

func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}

var ErrLimitExceeded = errors.New("plan limit exceeded")

// Usage is the quota state of one resource kind.
type Usage struct {
	Used  int64       `json:"used"`
	Limit model.Limit `json:"limit"`
}

// Snapshot is derived per request from tenant, plan and live counts.
type Snapshot struct {
	TenantID string                       `json:"tenant_id"`
	Status   model.Status                 `json:"status"`
	Plan     model.Plan                   `json:"plan"`
	Usage    map[model.ResourceKind]Usage `json:"usage"`
}

// Guard is consulted before resource creation. The count and the insert that
// follows are not fenced, so concurrent creations may overshoot a limit by a
// small margin.
type Guard struct {
	tenants   *store.TenantStore
	plans     *store.PlanStore
	resources *store.ResourceStore
	logger    *slog.Logger
}

func NewGuard(tenants *store.TenantStore, plans *store.PlanStore, resources *store.ResourceStore, logger *slog.Logger) *Guard {
	return &Guard{
		tenants:   tenants,
		plans:     plans,
		resources: resources,
		logger:    logger.With("component", "entitlement"),
	}
}

// Check returns nil when one more resource of kind fits the tenant's plan.
func (g *Guard) Check(ctx context.Context, tenantID string, kind model.ResourceKind) error {
	tenant, plan, err := g.load(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant.Status() == model.StatusCancelled {
		return ErrTenantInactive
	}

	limit := plan.LimitFor(kind)
	if limit == model.Unlimited {
		return nil
	}
	used, err := g.resources.CountActive(ctx, tenantID, kind)
	if err != nil {
		return fmt.Errorf("count %s: %w", kind, err)
	}
	if !limit.Allows(used) {
		metrics.EntitlementRejectionsTotal.WithLabelValues(string(kind)).Inc()
		g.logger.Info("plan limit reached", "tenant_id", tenantID, "resource", kind, "used", used, "limit", int64(limit))
		return &LimitExceededError{Kind: kind, Used: used, Limit: limit}
	}
	return nil
}

// Snapshot reports plan, status and usage for every resource kind.
func (g *Guard) Snapshot(ctx context.Context, tenantID string) (*Snapshot, error) {
	tenant, plan, err := g.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		TenantID: tenant.ID,
		Status:   tenant.Status(),
		Plan:     *plan,
		Usage:    make(map[model.ResourceKind]Usage, 2),
	}
	for _, kind := range []model.ResourceKind{model.ResourcePatient, model.ResourceStaff} {
		used, err := g.resources.CountActive(ctx, tenantID, kind)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", kind, err)
		}
		snap.Usage[kind] = Usage{Used: used, Limit: plan.LimitFor(kind)}
	}
	return snap, nil
}

func (g *Guard) load(ctx context.Context, tenantID string) (*model.Tenant, *model.Plan, error) {
	tenant, err := g.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("load tenant: %w", err)
	}
	if tenant == nil {
		return nil, nil, ErrTenantNotFound
	}
	plan, err := g.plans.GetByID(ctx, tenant.PlanID)
	if err != nil {
		return nil, nil, fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		return nil, nil, fmt.Errorf("tenant %s references missing plan %d", tenant.ID, tenant.PlanID)
	}
	return tenant, plan, nil
}
