package reconcile

import "github.com/dukerupert/clinicops/internal/billing/model"

// Decision is the outcome of applying one event to one tenant.
type Decision struct {
	Next   model.Lifecycle
	PlanID int64
	// Changed is false when Next and PlanID equal the tenant's current values.
	Changed bool
	// Unmapped is set when the remote status was not recognised.
	Unmapped bool
	// Stale is set when ev is older than the newest event already seen for
	// the tenant.
	Stale bool
	// Reason explains a decision that left the tenant untouched.
	Reason string
}

// Decide computes the tenant's next lifecycle stage for ev. plan is the
// catalog entry named by the event's plan key, or nil. Decide does no I/O.
func Decide(t *model.Tenant, ev Event, plan *model.Plan) Decision {
	current := t.Lifecycle
	if current == nil {
		current = model.Trial{EndsAt: t.TrialEndsAt}
	}
	keep := Decision{Next: current, PlanID: t.PlanID}

	if carriesStatus(ev.Kind) && t.LastEventAt != nil && !ev.Created.IsZero() && ev.Created.Before(*t.LastEventAt) {
		keep.Stale = true
		keep.Reason = "event older than last seen event"
		return keep
	}

	var next model.Lifecycle
	planID := t.PlanID

	switch ev.Kind {
	case CheckoutCompleted:
		if ev.SubscriptionID == "" {
			keep.Reason = "checkout completed without subscription"
			return keep
		}
		next = model.Active{Subscription: ev.SubscriptionID}
		if plan != nil {
			planID = plan.ID
		}

	case SubscriptionCreated, SubscriptionUpdated:
		if current.Status() == model.StatusCancelled {
			keep.Reason = "tenant cancelled"
			return keep
		}
		mapped, ok := MapStatus(ev.RemoteStatus, current.Status())
		if !ok {
			keep.Unmapped = true
			keep.Reason = "unmapped remote status " + ev.RemoteStatus
			return keep
		}
		subID := ev.SubscriptionID
		if subID == "" {
			subID = current.SubscriptionID()
		}
		var err error
		next, err = model.LifecycleFor(mapped, subID, t.TrialEndsAt)
		if err != nil {
			keep.Reason = err.Error()
			return keep
		}

	case SubscriptionDeleted:
		if cur := current.SubscriptionID(); cur != "" && ev.SubscriptionID != "" && cur != ev.SubscriptionID {
			keep.Reason = "subscription already replaced"
			return keep
		}
		next = model.Cancelled{}

	case InvoicePaymentSucceeded, InvoicePaymentFailed:
		if current.Status() == model.StatusCancelled {
			keep.Reason = "tenant cancelled"
			return keep
		}
		subID := current.SubscriptionID()
		if subID == "" {
			subID = ev.SubscriptionID
		}
		if subID == "" {
			keep.Reason = "invoice without subscription"
			return keep
		}
		if ev.Kind == InvoicePaymentSucceeded {
			next = model.Active{Subscription: subID}
		} else {
			next = model.Suspended{Subscription: subID}
		}

	default:
		keep.Reason = "unrecognized event"
		return keep
	}

	return Decision{
		Next:    next,
		PlanID:  planID,
		Changed: !model.SameLifecycle(current, next) || planID != t.PlanID,
	}
}

// carriesStatus reports whether events of kind k assert a subscription status
// that a newer event may already have superseded. Checkout completion and
// deletion always apply.
func carriesStatus(k Kind) bool {
	switch k {
	case SubscriptionCreated, SubscriptionUpdated, InvoicePaymentSucceeded, InvoicePaymentFailed:
		return true
	}
	return false
}
