package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the billing service.
type Config struct {
	Port      int
	DBPath    string
	BaseURL   string
	LogLevel  string
	LogFormat string
	JWTSecret string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIURL        string // optional backend override, e.g. stripe-mock
	// PriceIDs maps plan keys to provider price ids. Plans without an entry
	// cannot be purchased.
	PriceIDs map[string]string

	WebhookTolerance time.Duration
	UpstreamTimeout  time.Duration
	WebhookTimeout   time.Duration
	TrialDays        int

	OrphanAlertThreshold    int64
	SignatureAlertThreshold int
	SignatureAlertWindow    time.Duration

	PostmarkToken string
	FromEmail     string
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Load reads configuration from environment variables. A .env file is loaded
// if present but not required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := envOrDefaultInt("BILLING_PORT", 8090)
	if err != nil {
		return nil, err
	}
	trialDays, err := envOrDefaultInt("BILLING_TRIAL_DAYS", 14)
	if err != nil {
		return nil, err
	}
	orphanThreshold, err := envOrDefaultInt("BILLING_ORPHAN_ALERT_THRESHOLD", 2)
	if err != nil {
		return nil, err
	}
	sigThreshold, err := envOrDefaultInt("BILLING_SIGNATURE_ALERT_THRESHOLD", 10)
	if err != nil {
		return nil, err
	}
	tolerance, err := envOrDefaultDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	upstreamTimeout, err := envOrDefaultDuration("BILLING_UPSTREAM_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	webhookTimeout, err := envOrDefaultDuration("BILLING_WEBHOOK_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	sigWindow, err := envOrDefaultDuration("BILLING_SIGNATURE_ALERT_WINDOW", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:      port,
		DBPath:    envOrDefault("BILLING_DB_PATH", "billing.db"),
		BaseURL:   envOrDefault("BILLING_BASE_URL", fmt.Sprintf("http://localhost:%d", port)),
		LogLevel:  envOrDefault("BILLING_LOG_LEVEL", "info"),
		LogFormat: envOrDefault("BILLING_LOG_FORMAT", "text"),
		JWTSecret: strings.TrimSpace(os.Getenv("BILLING_JWT_SECRET")),

		StripeSecretKey:     strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripeAPIURL:        strings.TrimSpace(os.Getenv("STRIPE_API_URL")),
		PriceIDs:            make(map[string]string),

		WebhookTolerance: tolerance,
		UpstreamTimeout:  upstreamTimeout,
		WebhookTimeout:   webhookTimeout,
		TrialDays:        trialDays,

		OrphanAlertThreshold:    int64(orphanThreshold),
		SignatureAlertThreshold: sigThreshold,
		SignatureAlertWindow:    sigWindow,

		PostmarkToken: strings.TrimSpace(os.Getenv("BILLING_POSTMARK_TOKEN")),
		FromEmail:     strings.TrimSpace(os.Getenv("BILLING_FROM_EMAIL")),
	}
	for _, key := range []string{"starter", "professional", "enterprise"} {
		if v := strings.TrimSpace(os.Getenv("STRIPE_PRICE_" + strings.ToUpper(key))); v != "" {
			cfg.PriceIDs[key] = v
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate billing config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "BILLING_JWT_SECRET")
	}
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("BILLING_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.TrialDays < 0 {
		return fmt.Errorf("BILLING_TRIAL_DAYS must not be negative, got %d", c.TrialDays)
	}
	if c.OrphanAlertThreshold < 1 {
		return fmt.Errorf("BILLING_ORPHAN_ALERT_THRESHOLD must be at least 1, got %d", c.OrphanAlertThreshold)
	}
	if c.SignatureAlertThreshold < 1 {
		return fmt.Errorf("BILLING_SIGNATURE_ALERT_THRESHOLD must be at least 1, got %d", c.SignatureAlertThreshold)
	}
	for name, d := range map[string]time.Duration{
		"STRIPE_WEBHOOK_TOLERANCE":       c.WebhookTolerance,
		"BILLING_UPSTREAM_TIMEOUT":       c.UpstreamTimeout,
		"BILLING_WEBHOOK_TIMEOUT":        c.WebhookTimeout,
		"BILLING_SIGNATURE_ALERT_WINDOW": c.SignatureAlertWindow,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	parsedBaseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("BILLING_BASE_URL must be a valid URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return fmt.Errorf("BILLING_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return fmt.Errorf("BILLING_BASE_URL must include a host")
	}
	if c.StripeAPIURL != "" {
		if _, err := url.ParseRequestURI(c.StripeAPIURL); err != nil {
			return fmt.Errorf("STRIPE_API_URL must be a valid URL: %w", err)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
