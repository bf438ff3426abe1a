package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusSuspended, StatusCancelled:
		return true
	}
	return false
}

// Lifecycle is the billing stage of a tenant. The set of implementations is
// closed: Trial, Active, Suspended and Cancelled.
type Lifecycle interface {
	Status() Status
	// SubscriptionID is the linked remote subscription, or "" when none.
	SubscriptionID() string
	isLifecycle()
}

// Trial covers signup trials and remote subscriptions that are still
// trialing or incomplete. The subscription link is optional.
type Trial struct {
	Subscription string
	EndsAt       *time.Time
}

// Active always carries the subscription it is paid through.
type Active struct {
	Subscription string
}

// Suspended always carries the subscription whose payment is failing.
type Suspended struct {
	Subscription string
}

// Cancelled has no subscription link; re-subscribing goes through checkout.
type Cancelled struct{}

func (Trial) Status() Status     { return StatusTrial }
func (Active) Status() Status    { return StatusActive }
func (Suspended) Status() Status { return StatusSuspended }
func (Cancelled) Status() Status { return StatusCancelled }

func (t Trial) SubscriptionID() string     { return t.Subscription }
func (a Active) SubscriptionID() string    { return a.Subscription }
func (s Suspended) SubscriptionID() string { return s.Subscription }
func (Cancelled) SubscriptionID() string   { return "" }

func (Trial) isLifecycle()     {}
func (Active) isLifecycle()    {}
func (Suspended) isLifecycle() {}
func (Cancelled) isLifecycle() {}

// LifecycleFor rebuilds a Lifecycle from its stored columns. It rejects rows
// that claim to be active or suspended without a subscription.
func LifecycleFor(status Status, subscriptionID string, trialEndsAt *time.Time) (Lifecycle, error) {
	switch status {
	case StatusTrial:
		return Trial{Subscription: subscriptionID, EndsAt: trialEndsAt}, nil
	case StatusActive:
		if subscriptionID == "" {
			return nil, fmt.Errorf("active lifecycle without subscription id")
		}
		return Active{Subscription: subscriptionID}, nil
	case StatusSuspended:
		if subscriptionID == "" {
			return nil, fmt.Errorf("suspended lifecycle without subscription id")
		}
		return Suspended{Subscription: subscriptionID}, nil
	case StatusCancelled:
		return Cancelled{}, nil
	}
	return nil, fmt.Errorf("unknown tenant status %q", status)
}

// SameLifecycle reports whether a and b describe the same stage and link.
// Trial end dates are owned by signup and are not compared.
func SameLifecycle(a, b Lifecycle) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Status() == b.Status() && a.SubscriptionID() == b.SubscriptionID()
}

type Tenant struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	PlanID           int64      `json:"plan_id"`
	Lifecycle        Lifecycle  `json:"-"`
	RemoteCustomerID *string    `json:"remote_customer_id"`
	TrialEndsAt      *time.Time `json:"trial_ends_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	// LastEventAt is the creation time of the newest provider event seen for
	// the tenant. Older status events are skipped.
	LastEventAt *time.Time `json:"-"`
}

func (t *Tenant) Status() Status {
	if t.Lifecycle == nil {
		return StatusTrial
	}
	return t.Lifecycle.Status()
}

// CustomerID returns the linked remote customer, or "".
func (t *Tenant) CustomerID() string {
	if t.RemoteCustomerID == nil {
		return ""
	}
	return *t.RemoteCustomerID
}

func (t *Tenant) MarshalJSON() ([]byte, error) {
	type alias Tenant
	var subID *string
	if t.Lifecycle != nil && t.Lifecycle.SubscriptionID() != "" {
		id := t.Lifecycle.SubscriptionID()
		subID = &id
	}
	return json.Marshal(struct {
		*alias
		Status               Status  `json:"status"`
		RemoteSubscriptionID *string `json:"remote_subscription_id"`
	}{
		alias:                (*alias)(t),
		Status:               t.Status(),
		RemoteSubscriptionID: subID,
	})
}

// Limit is a per-plan resource quota. Unlimited is the only non-positive value.
type Limit int64

const Unlimited Limit = -1

// Allows reports whether one more resource fits when count already exist.
func (l Limit) Allows(count int64) bool {
	return l == Unlimited || count < int64(l)
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if l == Unlimited {
		return []byte(`"unlimited"`), nil
	}
	return []byte(strconv.FormatInt(int64(l), 10)), nil
}

func (l *Limit) UnmarshalJSON(b []byte) error {
	if string(b) == `"unlimited"` {
		*l = Unlimited
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid limit %s", b)
	}
	*l = Limit(n)
	return nil
}

type Plan struct {
	ID                int64   `json:"id"`
	Key               string  `json:"key"`
	Name              string  `json:"name"`
	PriceMonthlyCents int64   `json:"price_monthly_cents"`
	MaxUsers          Limit   `json:"max_users"`
	MaxPatients       Limit   `json:"max_patients"`
	StripePriceID     *string `json:"stripe_price_id,omitempty"`
}

// LimitFor returns the plan quota for the given resource kind.
func (p *Plan) LimitFor(kind ResourceKind) Limit {
	switch kind {
	case ResourcePatient:
		return p.MaxPatients
	case ResourceStaff:
		return p.MaxUsers
	}
	return 0
}

type ResourceKind string

const (
	ResourcePatient ResourceKind = "patient"
	ResourceStaff   ResourceKind = "staff"
)

func (k ResourceKind) Valid() bool {
	return k == ResourcePatient || k == ResourceStaff
}

type ProcessedEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ReceivedAt time.Time `json:"received_at"`
}

type OrphanedEvent struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	SubscriptionID string    `json:"subscription_id"`
	CustomerID     string    `json:"customer_id"`
	SeenAt         time.Time `json:"seen_at"`
}

type Patient struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type StaffMember struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
