package stripe

import (
	"context"
	"fmt"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

type Config struct {
	SecretKey string
	// APIURL overrides the provider endpoint, e.g. a local stripe-mock.
	APIURL     string
	HTTPClient *http.Client

	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

// Client is the process-wide handle to the payment provider. It holds its
// own key and backends instead of mutating the package-level stripe.Key.
type Client struct {
	cfg Config
	api *client.API
}

func NewClient(cfg Config) *Client {
	var backends *stripe.Backends
	if cfg.APIURL != "" || cfg.HTTPClient != nil {
		bc := &stripe.BackendConfig{
			HTTPClient:        cfg.HTTPClient,
			MaxNetworkRetries: stripe.Int64(0),
		}
		if cfg.APIURL != "" {
			bc.URL = stripe.String(cfg.APIURL)
		}
		backends = stripe.NewBackendsWithConfig(bc)
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, backends)
	return &Client{cfg: cfg, api: sc}
}

// CustomerIdempotencyKey is sent with customer creation so a retry after a
// lost response returns the customer created by the first attempt.
func CustomerIdempotencyKey(tenantID string) string {
	return "tenant-customer-" + tenantID
}

// CreateCustomer creates a provider customer for the tenant and returns its ID.
func (c *Client) CreateCustomer(ctx context.Context, tenantID, name, email string) (string, error) {
	params := &stripe.CustomerParams{
		Name: stripe.String(name),
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.Context = ctx
	params.AddMetadata("tenant_id", tenantID)
	params.SetIdempotencyKey(CustomerIdempotencyKey(tenantID))

	cust, err := c.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	TenantID   string
	PlanKey    string
}

// CreateCheckoutSession opens a hosted subscription checkout and returns its URL.
// The tenant and plan ride along as metadata on both the session and the
// subscription it creates.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	metadata := map[string]string{
		"tenant_id": req.TenantID,
		"plan_key":  req.PlanKey,
	}
	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(req.CustomerID),
		ClientReferenceID: stripe.String(req.TenantID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(c.cfg.SuccessURL),
		CancelURL:           stripe.String(c.cfg.CancelURL),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreatePortalSession opens the hosted billing portal for a customer.
func (c *Client) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(c.cfg.PortalReturnURL),
	}
	params.Context = ctx

	sess, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}
