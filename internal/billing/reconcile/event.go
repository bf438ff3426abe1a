package reconcile

import "time"

// Kind is the closed set of provider events the engine acts on.
type Kind int

const (
	Unrecognized Kind = iota
	CheckoutCompleted
	SubscriptionCreated
	SubscriptionUpdated
	SubscriptionDeleted
	InvoicePaymentSucceeded
	InvoicePaymentFailed
)

var kindByType = map[string]Kind{
	"checkout.session.completed":    CheckoutCompleted,
	"customer.subscription.created": SubscriptionCreated,
	"customer.subscription.updated": SubscriptionUpdated,
	"customer.subscription.deleted": SubscriptionDeleted,
	"invoice.payment_succeeded":     InvoicePaymentSucceeded,
	"invoice.paid":                  InvoicePaymentSucceeded,
	"invoice.payment_failed":        InvoicePaymentFailed,
}

// ParseKind maps a provider event type to a Kind. Types outside the known
// vocabulary map to Unrecognized.
func ParseKind(eventType string) Kind {
	return kindByType[eventType]
}

func (k Kind) String() string {
	switch k {
	case CheckoutCompleted:
		return "checkout_completed"
	case SubscriptionCreated:
		return "subscription_created"
	case SubscriptionUpdated:
		return "subscription_updated"
	case SubscriptionDeleted:
		return "subscription_deleted"
	case InvoicePaymentSucceeded:
		return "invoice_payment_succeeded"
	case InvoicePaymentFailed:
		return "invoice_payment_failed"
	}
	return "unrecognized"
}

// Event is a verified provider event reduced to the fields reconciliation
// needs. Empty strings mean the provider did not send the field.
type Event struct {
	ID      string
	Type    string
	Kind    Kind
	Created time.Time

	// Set on checkout completion from session metadata or client_reference_id.
	TenantID string
	PlanKey  string

	SubscriptionID string
	CustomerID     string
	// RemoteStatus is the subscription status on subscription events.
	RemoteStatus string
}

// Key names one way of resolving an event to a tenant.
type Key int

const (
	ByTenantID Key = iota
	BySubscription
	ByCustomer
	// ByUnlinkedCustomer matches the customer only on tenants with no
	// subscription linked that are not cancelled.
	ByUnlinkedCustomer
	// ByPreviousSubscription matches the subscription a tenant was linked to
	// before the link was cleared or replaced.
	ByPreviousSubscription
)

func (k Key) String() string {
	switch k {
	case ByTenantID:
		return "tenant_id"
	case BySubscription:
		return "subscription_id"
	case ByCustomer:
		return "customer_id"
	case ByUnlinkedCustomer:
		return "unlinked_customer_id"
	case ByPreviousSubscription:
		return "previous_subscription_id"
	}
	return "unknown"
}

// Lookup returns the resolution order for the event, first match wins.
//
// Subscription events never trust tenant metadata and fall back to the
// customer only while the tenant has no subscription of its own, so events
// for a subscription that has been deleted cannot re-attach to the tenant.
// Deletion also matches the tenant's previous subscription, since a
// cancellation through an update clears the link before the deletion arrives.
func (e Event) Lookup() []Key {
	switch e.Kind {
	case CheckoutCompleted:
		return []Key{ByTenantID, ByCustomer}
	case SubscriptionCreated, SubscriptionUpdated:
		return []Key{BySubscription, ByUnlinkedCustomer}
	case SubscriptionDeleted:
		return []Key{BySubscription, ByPreviousSubscription}
	case InvoicePaymentSucceeded, InvoicePaymentFailed:
		return []Key{BySubscription}
	}
	return nil
}
