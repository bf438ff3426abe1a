package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/clinicops/internal/billing/server"
	"github.com/dukerupert/clinicops/internal/billing/store"
	billingstripe "github.com/dukerupert/clinicops/internal/billing/stripe"
	"github.com/dukerupert/clinicops/internal/config"
	"github.com/dukerupert/clinicops/internal/database"
	"github.com/dukerupert/clinicops/internal/email"
	"github.com/dukerupert/clinicops/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Provider price ids live in config; the catalog row is updated on boot.
	plans := store.NewPlanStore(db)
	for key, priceID := range cfg.PriceIDs {
		if err := plans.SetPriceID(context.Background(), key, priceID); err != nil {
			slog.Error("failed to configure plan price", "plan_key", key, "error", err)
			os.Exit(1)
		}
	}

	emailClient := email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL)
	if !emailClient.Configured() {
		slog.Warn("postmark token not set, billing notifications disabled")
	}

	srv := server.New(db, server.Config{
		Stripe: billingstripe.Config{
			SecretKey:       cfg.StripeSecretKey,
			APIURL:          cfg.StripeAPIURL,
			SuccessURL:      cfg.BaseURL + "/billing?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:       cfg.BaseURL + "/billing",
			PortalReturnURL: cfg.BaseURL + "/billing",
		},
		WebhookSecret:    cfg.StripeWebhookSecret,
		WebhookTolerance: cfg.WebhookTolerance,
		WebhookTimeout:   cfg.WebhookTimeout,
		UpstreamTimeout:  cfg.UpstreamTimeout,
		JWTSecret:        cfg.JWTSecret,
		TrialDays:        cfg.TrialDays,
		OrphanThreshold:  cfg.OrphanAlertThreshold,
		SignatureAlert:   cfg.SignatureAlertThreshold,
		SignatureWindow:  cfg.SignatureAlertWindow,
		OriginPatterns:   []string{originHost(cfg.BaseURL)},
		EmailClient:      emailClient,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.WebhookTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("billing service starting", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	srv.WaitNotifications()
}

// originHost returns the host websocket upgrades are accepted from.
func originHost(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "localhost:*"
	}
	return u.Host
}
