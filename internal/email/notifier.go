package email

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/clinicops/internal/billing/lifecycle"
	"github.com/dukerupert/clinicops/internal/billing/metrics"
	"github.com/dukerupert/clinicops/internal/billing/model"
	"github.com/dukerupert/clinicops/internal/billing/store"
)

const sendTimeout = 30 * time.Second

// Notifier emails clinic owners about committed billing transitions. Sends
// run on their own goroutines so webhook acknowledgement never waits on
// Postmark.
type Notifier struct {
	client *Client
	plans  *store.PlanStore
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewNotifier(client *Client, plans *store.PlanStore, logger *slog.Logger) *Notifier {
	return &Notifier{
		client: client,
		plans:  plans,
		logger: logger.With("component", "email"),
	}
}

func (n *Notifier) Observe(ctx context.Context, tr lifecycle.Transition) {
	if tr.Tenant.Email == "" || !n.client.Configured() {
		return
	}

	var template string
	switch {
	case tr.To == model.StatusActive && (tr.From != model.StatusActive || tr.PlanID != tr.PreviousPlanID) && tr.From != model.StatusSuspended:
		template = "subscription-confirmed"
	case tr.To == model.StatusSuspended && tr.From != model.StatusSuspended:
		template = "payment-failed"
	default:
		return
	}

	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()

		err := n.send(ctx, template, tr)
		result := "sent"
		if err != nil {
			result = "error"
			n.logger.Error("billing notification failed",
				"template", template, "tenant_id", tr.Tenant.ID, "event_id", tr.EventID, "error", err)
		}
		metrics.NotificationsTotal.WithLabelValues(template, result).Inc()
	}()
}

func (n *Notifier) send(ctx context.Context, template string, tr lifecycle.Transition) error {
	switch template {
	case "subscription-confirmed":
		plan, err := n.plans.GetByID(ctx, tr.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return errors.New("plan not found")
		}
		return n.client.SendSubscriptionConfirmed(ctx, tr.Tenant.Email, tr.Tenant.Name, plan.Name, plan.PriceMonthlyCents)
	case "payment-failed":
		return n.client.SendPaymentFailed(ctx, tr.Tenant.Email, tr.Tenant.Name)
	}
	return nil
}

// Wait blocks until in-flight notifications finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
