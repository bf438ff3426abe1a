package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/clinicops/internal/auth"
	"github.com/dukerupert/clinicops/internal/billing/broker"
)

type CheckoutHandler struct {
	broker *broker.Broker
	logger *slog.Logger
}

func NewCheckoutHandler(b *broker.Broker, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		broker: b,
		logger: logger,
	}
}

type checkoutRequest struct {
	PlanKey  string `json:"plan_key" validate:"required,max=64"`
	TenantID string `json:"tenant_id" validate:"required,uuid"`
}

type portalRequest struct {
	TenantID string `json:"tenant_id" validate:"required,uuid"`
}

type sessionResponse struct {
	SessionURL string `json:"session_url"`
}

// CreateCheckoutSession starts a hosted checkout for the requested plan.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !auth.CanAccessTenant(r.Context(), req.TenantID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	url, err := h.broker.StartCheckout(r.Context(), req.PlanKey, req.TenantID)
	if err != nil {
		h.writeBrokerError(w, r, "checkout", req.TenantID, err)
		return
	}
	h.logger.Info("billing session opened",
		"op", "checkout", "tenant_id", req.TenantID, "plan_key", req.PlanKey, "user_id", auth.UserID(r.Context()))
	writeJSON(w, http.StatusOK, sessionResponse{SessionURL: url})
}

// BillingPortal opens the hosted billing portal for the tenant's customer.
func (h *CheckoutHandler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !auth.CanAccessTenant(r.Context(), req.TenantID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	url, err := h.broker.OpenPortal(r.Context(), req.TenantID)
	if err != nil {
		h.writeBrokerError(w, r, "portal", req.TenantID, err)
		return
	}
	h.logger.Info("billing session opened",
		"op", "portal", "tenant_id", req.TenantID, "user_id", auth.UserID(r.Context()))
	writeJSON(w, http.StatusOK, sessionResponse{SessionURL: url})
}

func (h *CheckoutHandler) writeBrokerError(w http.ResponseWriter, r *http.Request, op, tenantID string, err error) {
	log := h.logger.With("op", op, "tenant_id", tenantID, "user_id", auth.UserID(r.Context()))
	switch {
	case errors.Is(err, broker.ErrUnknownPlan):
		writeError(w, http.StatusBadRequest, "unknown plan")
	case errors.Is(err, broker.ErrNoActiveSubscription):
		writeError(w, http.StatusBadRequest, "no active subscription")
	case errors.Is(err, broker.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, broker.ErrUpstream):
		log.Error("payment provider call failed", "error", err)
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
	default:
		log.Error("billing session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
