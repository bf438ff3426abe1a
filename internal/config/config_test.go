package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BILLING_JWT_SECRET", "jwt-secret")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, ":8090", cfg.Addr())
	assert.Equal(t, "billing.db", cfg.DBPath)
	assert.Equal(t, "http://localhost:8090", cfg.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.WebhookTolerance)
	assert.Equal(t, 10*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, 15*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 14, cfg.TrialDays)
	assert.Equal(t, int64(2), cfg.OrphanAlertThreshold)
	assert.Equal(t, 10, cfg.SignatureAlertThreshold)
	assert.Equal(t, 5*time.Minute, cfg.SignatureAlertWindow)
	assert.Empty(t, cfg.PriceIDs)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("BILLING_PORT", "9000")
	t.Setenv("BILLING_TRIAL_DAYS", "30")
	t.Setenv("BILLING_UPSTREAM_TIMEOUT", "3s")
	t.Setenv("STRIPE_API_URL", "http://localhost:12111")
	t.Setenv("STRIPE_PRICE_PROFESSIONAL", "price_pro")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 30, cfg.TrialDays)
	assert.Equal(t, 3*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, "http://localhost:12111", cfg.StripeAPIURL)
	assert.Equal(t, map[string]string{"professional": "price_pro"}, cfg.PriceIDs)
}

func TestLoadMissingSecrets(t *testing.T) {
	t.Setenv("BILLING_JWT_SECRET", "")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BILLING_JWT_SECRET")
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string][2]string{
		"bad port":        {"BILLING_PORT", "http"},
		"port range":      {"BILLING_PORT", "70000"},
		"bad duration":    {"BILLING_WEBHOOK_TIMEOUT", "soon"},
		"zero timeout":    {"BILLING_UPSTREAM_TIMEOUT", "0s"},
		"zero threshold":  {"BILLING_ORPHAN_ALERT_THRESHOLD", "0"},
		"base url scheme": {"BILLING_BASE_URL", "ftp://billing.test"},
		"negative trial":  {"BILLING_TRIAL_DAYS", "-1"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
