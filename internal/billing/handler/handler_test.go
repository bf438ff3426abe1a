package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/clinicops/internal/auth"
	"github.com/dukerupert/clinicops/internal/billing/broker"
	"github.com/dukerupert/clinicops/internal/billing/entitlement"
	"github.com/dukerupert/clinicops/internal/billing/lifecycle"
	"github.com/dukerupert/clinicops/internal/billing/metrics"
	"github.com/dukerupert/clinicops/internal/billing/model"
	"github.com/dukerupert/clinicops/internal/billing/store"
	billingstripe "github.com/dukerupert/clinicops/internal/billing/stripe"
	"github.com/dukerupert/clinicops/internal/database"
)

const testWebhookSecret = "whsec_handler_test"

type fakeProvider struct {
	mu       sync.Mutex
	failWith error
}

func (f *fakeProvider) CreateCustomer(_ context.Context, tenantID, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	return "cus_" + tenantID[:8], nil
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req billingstripe.CheckoutRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	return "https://checkout.test/" + req.TenantID + "/" + req.PlanKey, nil
}

func (f *fakeProvider) CreatePortalSession(_ context.Context, customerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	return "https://portal.test/" + customerID, nil
}

type recordingAlerter struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingAlerter) Alert(_ context.Context, name, _ string, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

type fixture struct {
	db        *sql.DB
	tenants   *store.TenantStore
	plans     *store.PlanStore
	resources *store.ResourceStore
	provider  *fakeProvider
	alerter   *recordingAlerter

	webhook  *WebhookHandler
	checkout *CheckoutHandler
	tenant   *TenantHandler
	resource *ResourceHandler
	plan     *PlanHandler
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "billing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	plans := store.NewPlanStore(db)
	require.NoError(t, plans.SetPriceID(ctx, "starter", "price_starter"))
	require.NoError(t, plans.SetPriceID(ctx, "professional", "price_pro"))

	f := &fixture{
		db:        db,
		tenants:   store.NewTenantStore(db),
		plans:     plans,
		resources: store.NewResourceStore(db),
		provider:  &fakeProvider{},
		alerter:   &recordingAlerter{},
	}

	proc := lifecycle.NewProcessor(db, f.alerter, 2, logger)
	spike := metrics.NewSpikeDetector(metrics.AlertSignatureSpike, 2, time.Minute, f.alerter)
	verifier := billingstripe.NewVerifier(testWebhookSecret, 5*time.Minute)
	b := broker.New(f.tenants, f.plans, f.provider, time.Second, logger)
	guard := entitlement.NewGuard(f.tenants, f.plans, f.resources, logger)

	f.webhook = NewWebhookHandler(verifier, proc, spike, 5*time.Second, logger)
	f.checkout = NewCheckoutHandler(b, logger)
	f.tenant = NewTenantHandler(f.tenants, f.plans, guard, 14, logger)
	f.resource = NewResourceHandler(f.resources, guard, logger)
	f.plan = NewPlanHandler(f.plans, logger)
	return f
}

func (f *fixture) trialTenant(t *testing.T) *model.Tenant {
	t.Helper()
	starter, err := f.plans.GetByKey(context.Background(), "starter")
	require.NoError(t, err)
	tenant, err := f.tenants.CreateTrial(context.Background(), "Harbor Physio", "desk@harbor.test", starter.ID, time.Now().Add(14*24*time.Hour))
	require.NoError(t, err)
	return tenant
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func asTenantAdmin(req *http.Request, tenantID string) *http.Request {
	return req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{
		UserID: "user-1", TenantID: tenantID, Role: auth.RoleAdmin,
	}))
}

func asMaster(req *http.Request) *http.Request {
	return req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{
		UserID: "operator", Role: auth.RoleMaster,
	}))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}
