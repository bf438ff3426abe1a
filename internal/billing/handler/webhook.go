package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/clinicops/internal/billing/lifecycle"
	"github.com/dukerupert/clinicops/internal/billing/metrics"
	billingstripe "github.com/dukerupert/clinicops/internal/billing/stripe"
)

const (
	maxWebhookBody  = 65536
	signatureHeader = "Stripe-Signature"
)

type WebhookHandler struct {
	verifier  *billingstripe.Verifier
	processor *lifecycle.Processor
	spike     *metrics.SpikeDetector
	timeout   time.Duration
	logger    *slog.Logger
}

func NewWebhookHandler(
	v *billingstripe.Verifier,
	p *lifecycle.Processor,
	spike *metrics.SpikeDetector,
	timeout time.Duration,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		verifier:  v,
		processor: p,
		spike:     spike,
		timeout:   timeout,
		logger:    logger,
	}
}

// HandleStripeWebhook verifies the delivery against the exact body bytes and
// hands the event to the processor. Any processing error is returned as 5xx
// so the provider redelivers.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	ev, err := h.verifier.Verify(body, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, billingstripe.ErrInvalidSignature) {
			metrics.SignatureFailuresTotal.Inc()
			if h.spike != nil {
				h.spike.Record(r.Context())
			}
			h.logger.Warn("webhook signature rejected", "error", err, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		h.logger.Warn("malformed webhook event", "error", err)
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	outcome, err := h.processor.Process(ctx, ev)
	if err != nil {
		h.logger.Error("webhook processing failed", "event_id", ev.ID, "event_type", ev.Type, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusServiceUnavailable, "processing timed out")
			return
		}
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": outcome.String()})
}
