package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/clinicops/internal/billing/metrics"
	"github.com/dukerupert/clinicops/internal/billing/model"
	"github.com/dukerupert/clinicops/internal/billing/reconcile"
	"github.com/dukerupert/clinicops/internal/billing/store"
)

// Outcome reports what processing did with an event. Every outcome is an
// acknowledgement; failures are returned as errors instead.
type Outcome int

const (
	Applied Outcome = iota + 1
	Unchanged
	Duplicate
	Orphaned
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Unchanged:
		return "unchanged"
	case Duplicate:
		return "duplicate"
	case Orphaned:
		return "orphaned"
	case Ignored:
		return "ignored"
	}
	return "unknown"
}

// Transition describes a committed change to one tenant.
type Transition struct {
	EventID        string
	Kind           reconcile.Kind
	Tenant         model.Tenant
	From           model.Status
	To             model.Status
	PreviousPlanID int64
	PlanID         int64
}

// Observer is notified after a transition has been committed. Observe must
// not block; slow work belongs on the observer's own goroutine.
type Observer interface {
	Observe(ctx context.Context, tr Transition)
}

type ObserverFunc func(ctx context.Context, tr Transition)

func (f ObserverFunc) Observe(ctx context.Context, tr Transition) { f(ctx, tr) }

type Processor struct {
	db              *sql.DB
	tenants         *store.TenantStore
	plans           *store.PlanStore
	ledger          *store.EventLedger
	orphans         *store.OrphanStore
	alerter         metrics.Alerter
	orphanThreshold int64
	observers       []Observer
	logger          *slog.Logger
}

func NewProcessor(db *sql.DB, alerter metrics.Alerter, orphanThreshold int64, logger *slog.Logger) *Processor {
	if orphanThreshold < 1 {
		orphanThreshold = 1
	}
	return &Processor{
		db:              db,
		tenants:         store.NewTenantStore(db),
		plans:           store.NewPlanStore(db),
		ledger:          store.NewEventLedger(db),
		orphans:         store.NewOrphanStore(db),
		alerter:         alerter,
		orphanThreshold: orphanThreshold,
		logger:          logger.With("component", "lifecycle"),
	}
}

// Subscribe registers an observer. It must be called before Process is used
// concurrently.
func (p *Processor) Subscribe(o Observer) {
	p.observers = append(p.observers, o)
}

// Process admits ev into the ledger and applies it to at most one tenant, all
// in a single transaction. On error nothing is committed, including the
// ledger row, so a redelivery processes the event again.
func (p *Processor) Process(ctx context.Context, ev reconcile.Event) (Outcome, error) {
	start := time.Now()
	log := p.logger.With("event_id", ev.ID, "event_type", ev.Type)

	var (
		outcome     Outcome
		transition  *Transition
		orphanCount int64
		firstSeen   *model.ProcessedEvent
	)
	err := store.InTx(ctx, p.db, func(tx *sql.Tx) error {
		ledger := p.ledger.WithTx(tx)
		admitted, err := ledger.Admit(ctx, ev.ID, ev.Type)
		if err != nil {
			return err
		}
		if !admitted {
			outcome = Duplicate
			firstSeen, err = ledger.Get(ctx, ev.ID)
			return err
		}
		if ev.Kind == reconcile.Unrecognized {
			outcome = Ignored
			return nil
		}

		tenants := p.tenants.WithTx(tx)
		tenant, key, err := resolve(ctx, tenants, ev)
		if err != nil {
			return err
		}
		if tenant == nil {
			outcome = Orphaned
			orphanCount, err = p.orphans.WithTx(tx).Record(ctx, model.OrphanedEvent{
				EventID:        ev.ID,
				EventType:      ev.Type,
				SubscriptionID: ev.SubscriptionID,
				CustomerID:     ev.CustomerID,
			})
			return err
		}
		log = log.With("tenant_id", tenant.ID, "resolved_by", key.String())

		var plan *model.Plan
		if ev.PlanKey != "" {
			plan, err = p.plans.WithTx(tx).GetByKey(ctx, ev.PlanKey)
			if err != nil {
				return err
			}
			if plan == nil {
				log.Warn("unknown plan key in event, keeping current plan", "plan_key", ev.PlanKey)
			}
		}

		d := reconcile.Decide(tenant, ev, plan)
		if !d.Stale {
			if err := tenants.AdvanceEventClock(ctx, tenant.ID, ev.Created); err != nil {
				return err
			}
		}
		if ev.Kind == reconcile.CheckoutCompleted {
			if err := linkCheckoutCustomer(ctx, tenants, tenant, ev.CustomerID, log); err != nil {
				return err
			}
		}
		if d.Unmapped {
			metrics.UnmappedStatusTotal.WithLabelValues(ev.RemoteStatus).Inc()
			log.Warn("unmapped remote subscription status", "remote_status", ev.RemoteStatus)
		}
		if !d.Changed {
			outcome = Unchanged
			if d.Reason != "" {
				log.Debug("event left tenant unchanged", "reason", d.Reason)
			}
			return nil
		}

		if err := tenants.ApplyLifecycle(ctx, tenant.ID, d.Next, d.PlanID); err != nil {
			return err
		}
		after, err := tenants.GetByID(ctx, tenant.ID)
		if err != nil {
			return err
		}
		if after == nil {
			return fmt.Errorf("tenant %s vanished during update", tenant.ID)
		}
		transition = &Transition{
			EventID:        ev.ID,
			Kind:           ev.Kind,
			Tenant:         *after,
			From:           tenant.Status(),
			To:             after.Status(),
			PreviousPlanID: tenant.PlanID,
			PlanID:         after.PlanID,
		}
		outcome = Applied
		return nil
	})

	metrics.WebhookDuration.WithLabelValues(ev.Kind.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(ev.Kind.String(), "error").Inc()
		return 0, fmt.Errorf("process event %s: %w", ev.ID, err)
	}
	metrics.WebhookEventsTotal.WithLabelValues(ev.Kind.String(), outcome.String()).Inc()

	switch outcome {
	case Applied:
		metrics.TransitionsTotal.WithLabelValues(string(transition.From), string(transition.To)).Inc()
		log.Info("tenant transitioned",
			"from", transition.From, "to", transition.To,
			"plan_id", transition.PlanID, "subscription_id", transition.Tenant.Lifecycle.SubscriptionID(),
		)
		for _, o := range p.observers {
			o.Observe(ctx, *transition)
		}
	case Orphaned:
		metrics.OrphanedEventsTotal.WithLabelValues(ev.Kind.String()).Inc()
		log.Warn("orphaned event acknowledged",
			"subscription_id", ev.SubscriptionID, "customer_id", ev.CustomerID, "seen", orphanCount,
		)
		if ev.SubscriptionID != "" && orphanCount >= p.orphanThreshold {
			p.alerter.Alert(ctx, metrics.AlertRepeatedOrphan, "repeated orphaned events for subscription",
				"subscription_id", ev.SubscriptionID, "count", orphanCount,
			)
		}
	case Duplicate:
		if firstSeen != nil {
			log = log.With("first_received_at", firstSeen.ReceivedAt)
		}
		log.Info("duplicate event acknowledged")
	case Ignored:
		log.Info("unhandled event type acknowledged")
	}
	return outcome, nil
}

func resolve(ctx context.Context, tenants *store.TenantStore, ev reconcile.Event) (*model.Tenant, reconcile.Key, error) {
	for _, key := range ev.Lookup() {
		var (
			t   *model.Tenant
			err error
		)
		switch key {
		case reconcile.ByTenantID:
			if ev.TenantID == "" {
				continue
			}
			t, err = tenants.GetByID(ctx, ev.TenantID)
		case reconcile.BySubscription:
			t, err = tenants.GetBySubscriptionID(ctx, ev.SubscriptionID)
		case reconcile.ByCustomer:
			t, err = tenants.GetByCustomerID(ctx, ev.CustomerID)
		case reconcile.ByUnlinkedCustomer:
			t, err = tenants.GetUnlinkedByCustomerID(ctx, ev.CustomerID)
		case reconcile.ByPreviousSubscription:
			t, err = tenants.GetByPreviousSubscriptionID(ctx, ev.SubscriptionID)
		}
		if err != nil {
			return nil, key, err
		}
		if t != nil {
			return t, key, nil
		}
	}
	return nil, 0, nil
}

// linkCheckoutCustomer records the customer a completed checkout was paid by.
// An existing link is never replaced, and a customer already owned by another
// tenant is left where it is.
func linkCheckoutCustomer(ctx context.Context, tenants *store.TenantStore, tenant *model.Tenant, customerID string, log *slog.Logger) error {
	if customerID == "" || tenant.CustomerID() == customerID {
		return nil
	}
	if tenant.CustomerID() != "" {
		log.Warn("checkout customer differs from linked customer",
			"customer_id", customerID, "linked_customer_id", tenant.CustomerID())
		return nil
	}
	owner, err := tenants.GetByCustomerID(ctx, customerID)
	if err != nil {
		return err
	}
	if owner != nil {
		log.Warn("checkout customer already linked to another tenant",
			"customer_id", customerID, "owner_tenant_id", owner.ID)
		return nil
	}
	_, err = tenants.LinkCustomer(ctx, tenant.ID, customerID)
	return err
}
