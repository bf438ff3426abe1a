package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/clinicops/internal/billing/metrics"
	"github.com/dukerupert/clinicops/internal/billing/model"
	"github.com/dukerupert/clinicops/internal/billing/store"
	"github.com/dukerupert/clinicops/internal/billing/stripe"
)

var (
	ErrUnknownPlan          = errors.New("unknown plan")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrTenantNotFound       = errors.New("tenant not found")
	// ErrUpstream wraps payment provider failures and timeouts.
	ErrUpstream = errors.New("payment provider unavailable")
)

// Provider is the subset of the payment provider the broker calls.
type Provider interface {
	CreateCustomer(ctx context.Context, tenantID, name, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, req stripe.CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerID string) (string, error)
}

// Broker opens hosted checkout and portal sessions. It writes only the
// customer link; subscription state arrives later through webhooks.
type Broker struct {
	tenants  *store.TenantStore
	plans    *store.PlanStore
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

func New(tenants *store.TenantStore, plans *store.PlanStore, provider Provider, timeout time.Duration, logger *slog.Logger) *Broker {
	return &Broker{
		tenants:  tenants,
		plans:    plans,
		provider: provider,
		timeout:  timeout,
		logger:   logger.With("component", "broker"),
	}
}

// StartCheckout returns the URL of a subscription checkout for planKey.
func (b *Broker) StartCheckout(ctx context.Context, planKey, tenantID string) (string, error) {
	plan, err := b.plans.GetByKey(ctx, planKey)
	if err != nil {
		return "", fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlan, planKey)
	}
	if plan.StripePriceID == nil || *plan.StripePriceID == "" {
		return "", fmt.Errorf("%w: %q has no price configured", ErrUnknownPlan, planKey)
	}

	tenant, err := b.loadTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}
	customerID, err := b.ensureCustomer(ctx, tenant)
	if err != nil {
		return "", err
	}

	url, err := b.call(ctx, "create_checkout_session", func(ctx context.Context) (string, error) {
		return b.provider.CreateCheckoutSession(ctx, stripe.CheckoutRequest{
			CustomerID: customerID,
			PriceID:    *plan.StripePriceID,
			TenantID:   tenant.ID,
			PlanKey:    plan.Key,
		})
	})
	if err != nil {
		return "", err
	}
	b.logger.Info("checkout session created", "tenant_id", tenant.ID, "plan_key", plan.Key)
	return url, nil
}

// OpenPortal returns the URL of the billing portal for a tenant that already
// has a provider customer.
func (b *Broker) OpenPortal(ctx context.Context, tenantID string) (string, error) {
	tenant, err := b.loadTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}
	customerID := tenant.CustomerID()
	if customerID == "" {
		return "", ErrNoActiveSubscription
	}
	return b.call(ctx, "create_portal_session", func(ctx context.Context) (string, error) {
		return b.provider.CreatePortalSession(ctx, customerID)
	})
}

func (b *Broker) loadTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	tenant, err := b.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if tenant == nil {
		return nil, ErrTenantNotFound
	}
	return tenant, nil
}

// ensureCustomer returns the tenant's customer id, creating the remote
// customer on first use. The tenant is re-read first, creation is keyed by
// tenant id upstream, and the link is set-once locally, so retries after a
// crash reuse the same customer.
func (b *Broker) ensureCustomer(ctx context.Context, tenant *model.Tenant) (string, error) {
	if id := tenant.CustomerID(); id != "" {
		return id, nil
	}
	fresh, err := b.loadTenant(ctx, tenant.ID)
	if err != nil {
		return "", err
	}
	if id := fresh.CustomerID(); id != "" {
		return id, nil
	}

	created, err := b.call(ctx, "create_customer", func(ctx context.Context) (string, error) {
		return b.provider.CreateCustomer(ctx, fresh.ID, fresh.Name, fresh.Email)
	})
	if err != nil {
		return "", err
	}

	stored, err := b.tenants.LinkCustomer(ctx, fresh.ID, created)
	if err != nil {
		return "", fmt.Errorf("persist customer link: %w", err)
	}
	if stored != created {
		b.logger.Warn("customer already linked by concurrent checkout",
			"tenant_id", fresh.ID, "kept", stored, "discarded", created)
	} else {
		b.logger.Info("customer linked", "tenant_id", fresh.ID, "customer_id", stored)
	}
	return stored, nil
}

func (b *Broker) call(ctx context.Context, op string, fn func(context.Context) (string, error)) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	out, err := fn(ctx)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(op, "error").Inc()
		b.logger.Error("payment provider call failed", "operation", op, "error", err)
		return "", fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(op, "ok").Inc()
	return out, nil
}
