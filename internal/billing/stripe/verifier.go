package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/clinicops/internal/billing/reconcile"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

// Verifier authenticates webhook deliveries and reduces them to
// reconcile.Event values.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Verify checks the signature header against the exact payload bytes and the
// embedded timestamp against the tolerance window, then decodes the event.
func (v *Verifier) Verify(payload []byte, header string) (reconcile.Event, error) {
	if v.secret == "" {
		return reconcile.Event{}, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return reconcile.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.ID == "" {
		return reconcile.Event{}, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}

	ev := reconcile.Event{
		ID:   event.ID,
		Type: string(event.Type),
		Kind: reconcile.ParseKind(string(event.Type)),
	}
	if event.Created > 0 {
		ev.Created = time.Unix(event.Created, 0).UTC()
	}
	if ev.Kind == reconcile.Unrecognized {
		return ev, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return reconcile.Event{}, fmt.Errorf("%w: %s has no data object", ErrMalformedEvent, ev.Type)
	}
	if err := decodeObject(&ev, event.Data.Raw); err != nil {
		return reconcile.Event{}, fmt.Errorf("%w: decode %s: %v", ErrMalformedEvent, ev.Type, err)
	}
	return ev, nil
}

func decodeObject(ev *reconcile.Event, raw json.RawMessage) error {
	switch ev.Kind {
	case reconcile.CheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}
		ev.TenantID = sess.Metadata["tenant_id"]
		if ev.TenantID == "" {
			ev.TenantID = sess.ClientReferenceID
		}
		ev.PlanKey = sess.Metadata["plan_key"]
		if sess.Subscription != nil {
			ev.SubscriptionID = sess.Subscription.ID
		}
		if sess.Customer != nil {
			ev.CustomerID = sess.Customer.ID
		}

	case reconcile.SubscriptionCreated, reconcile.SubscriptionUpdated, reconcile.SubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return err
		}
		ev.SubscriptionID = sub.ID
		ev.RemoteStatus = string(sub.Status)
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}

	case reconcile.InvoicePaymentSucceeded, reconcile.InvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return err
		}
		if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
			ev.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
		}
		if ev.SubscriptionID == "" {
			// Payloads on API versions before 2025-03-31 carry the
			// subscription at the top level.
			var legacy struct {
				Subscription string `json:"subscription"`
			}
			if err := json.Unmarshal(raw, &legacy); err == nil {
				ev.SubscriptionID = legacy.Subscription
			}
		}
		if inv.Customer != nil {
			ev.CustomerID = inv.Customer.ID
		}
	}
	return nil
}
