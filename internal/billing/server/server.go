package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/clinicops/internal/billing/broker"
	"github.com/dukerupert/clinicops/internal/billing/entitlement"
	"github.com/dukerupert/clinicops/internal/billing/handler"
	"github.com/dukerupert/clinicops/internal/billing/lifecycle"
	"github.com/dukerupert/clinicops/internal/billing/metrics"
	"github.com/dukerupert/clinicops/internal/billing/middleware"
	"github.com/dukerupert/clinicops/internal/billing/store"
	billingstripe "github.com/dukerupert/clinicops/internal/billing/stripe"
	"github.com/dukerupert/clinicops/internal/email"
	sharedmw "github.com/dukerupert/clinicops/internal/middleware"
	ws "github.com/dukerupert/clinicops/internal/websocket"
)

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	notifier    *email.Notifier
	webhookH    *handler.WebhookHandler
	checkoutH   *handler.CheckoutHandler
	tenantH     *handler.TenantHandler
	resourceH   *handler.ResourceHandler
	planH       *handler.PlanHandler
	jwtSecret   []byte
	origins     []string
	rateLimiter *sharedmw.RateLimiter
	logger      *slog.Logger
}

type Config struct {
	Stripe           billingstripe.Config
	WebhookSecret    string
	WebhookTolerance time.Duration
	WebhookTimeout   time.Duration
	UpstreamTimeout  time.Duration
	JWTSecret        string
	TrialDays        int
	OrphanThreshold  int64
	SignatureAlert   int
	SignatureWindow  time.Duration
	OriginPatterns   []string
	EmailClient      *email.Client

	// Provider overrides the Stripe client built from Stripe. Used in tests.
	Provider broker.Provider
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	tenantStore := store.NewTenantStore(db)
	planStore := store.NewPlanStore(db)
	resourceStore := store.NewResourceStore(db)

	alerter := metrics.NewLogAlerter(logger)
	hub := ws.NewHub(logger.With("component", "websocket"))

	processor := lifecycle.NewProcessor(db, alerter, cfg.OrphanThreshold, logger)
	processor.Subscribe(hub)

	var notifier *email.Notifier
	if cfg.EmailClient != nil && cfg.EmailClient.Configured() {
		notifier = email.NewNotifier(cfg.EmailClient, planStore, logger.With("component", "email"))
		processor.Subscribe(notifier)
	}

	spike := metrics.NewSpikeDetector(metrics.AlertSignatureSpike, cfg.SignatureAlert, cfg.SignatureWindow, alerter)
	verifier := billingstripe.NewVerifier(cfg.WebhookSecret, cfg.WebhookTolerance)
	webhookH := handler.NewWebhookHandler(verifier, processor, spike, cfg.WebhookTimeout, logger.With("component", "webhook"))

	provider := cfg.Provider
	if provider == nil && cfg.Stripe.SecretKey != "" {
		provider = billingstripe.NewClient(cfg.Stripe)
	}
	var checkoutH *handler.CheckoutHandler
	if provider != nil {
		b := broker.New(tenantStore, planStore, provider, cfg.UpstreamTimeout, logger)
		checkoutH = handler.NewCheckoutHandler(b, logger.With("component", "checkout"))
	}

	guard := entitlement.NewGuard(tenantStore, planStore, resourceStore, logger)

	return &Server{
		db:          db,
		hub:         hub,
		notifier:    notifier,
		webhookH:    webhookH,
		checkoutH:   checkoutH,
		tenantH:     handler.NewTenantHandler(tenantStore, planStore, guard, cfg.TrialDays, logger.With("component", "tenant")),
		resourceH:   handler.NewResourceHandler(resourceStore, guard, logger.With("component", "resource")),
		planH:       handler.NewPlanHandler(planStore, logger.With("component", "plan")),
		jwtSecret:   []byte(cfg.JWTSecret),
		origins:     cfg.OriginPatterns,
		rateLimiter: sharedmw.NewRateLimiter(),
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *sharedmw.RateLimiter {
	return s.rateLimiter
}

// WaitNotifications blocks until in-flight notification emails finish.
func (s *Server) WaitNotifications() {
	if s.notifier != nil {
		s.notifier.Wait()
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Stripe webhook (public, signature checked)
	mux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)

	mux.HandleFunc("GET /api/plans", s.planH.List)
	mux.HandleFunc("POST /api/tenants", s.rateLimitedHandler(s.tenantH.Signup))

	authMw := middleware.RequireAuth(s.jwtSecret)
	tenantMw := func(h http.HandlerFunc) http.Handler {
		return authMw(middleware.RequireTenantAccess("id")(h))
	}

	if s.checkoutH != nil {
		mux.Handle("POST /api/checkout", authMw(http.HandlerFunc(s.checkoutH.CreateCheckoutSession)))
		mux.Handle("POST /api/billing-portal", authMw(http.HandlerFunc(s.checkoutH.BillingPortal)))
	}

	mux.Handle("GET /api/tenants/{id}/billing", tenantMw(s.tenantH.Billing))
	mux.Handle("GET /api/tenants/{id}/billing/stream", tenantMw(ws.HandleWebSocket(s.hub, s.origins, s.logger.With("component", "websocket"))))
	mux.Handle("POST /api/tenants/{id}/patients", tenantMw(s.resourceH.CreatePatient))
	mux.Handle("DELETE /api/tenants/{id}/patients/{resourceID}", tenantMw(s.resourceH.DeactivatePatient))
	mux.Handle("POST /api/tenants/{id}/staff", tenantMw(s.resourceH.CreateStaff))
	mux.Handle("DELETE /api/tenants/{id}/staff/{resourceID}", tenantMw(s.resourceH.DeactivateStaff))

	return sharedmw.RequestLogger(s.logger)(mux)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := sharedmw.RateLimit(s.rateLimiter, sharedmw.RealIP, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
