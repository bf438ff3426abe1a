package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/clinicops/internal/billing/entitlement"
	"github.com/dukerupert/clinicops/internal/billing/store"
)

// SignupPlanKey is the catalog plan every new trial starts on.
const SignupPlanKey = "starter"

type TenantHandler struct {
	tenants   *store.TenantStore
	plans     *store.PlanStore
	guard     *entitlement.Guard
	trialDays int
	logger    *slog.Logger
}

func NewTenantHandler(ts *store.TenantStore, ps *store.PlanStore, g *entitlement.Guard, trialDays int, logger *slog.Logger) *TenantHandler {
	return &TenantHandler{
		tenants:   ts,
		plans:     ps,
		guard:     g,
		trialDays: trialDays,
		logger:    logger,
	}
}

type signupRequest struct {
	Name  string `json:"name" validate:"required,min=2,max=150"`
	Email string `json:"email" validate:"required,email,max=200"`
}

// Signup creates a clinic on a trial of the starter plan.
func (h *TenantHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	plan, err := h.plans.GetByKey(r.Context(), SignupPlanKey)
	if err != nil || plan == nil {
		h.logger.Error("signup plan lookup", "plan_key", SignupPlanKey, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	trialEndsAt := time.Now().UTC().Add(time.Duration(h.trialDays) * 24 * time.Hour)
	tenant, err := h.tenants.CreateTrial(r.Context(), req.Name, req.Email, plan.ID, trialEndsAt)
	if err != nil {
		h.logger.Error("create tenant", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.logger.Info("tenant signed up", "tenant_id", tenant.ID, "plan_key", plan.Key, "trial_ends_at", trialEndsAt)
	writeJSON(w, http.StatusCreated, tenant)
}

// Billing returns the tenant's plan, status and live usage.
func (h *TenantHandler) Billing(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")
	snap, err := h.guard.Snapshot(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, entitlement.ErrTenantNotFound) {
			writeError(w, http.StatusNotFound, "tenant not found")
			return
		}
		h.logger.Error("billing snapshot", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
