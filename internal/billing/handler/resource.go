package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/clinicops/internal/billing/entitlement"
	"github.com/dukerupert/clinicops/internal/billing/model"
	"github.com/dukerupert/clinicops/internal/billing/store"
)

// ResourceHandler creates and retires plan-limited clinic resources. Every
// create is checked against the tenant's plan first.
type ResourceHandler struct {
	resources *store.ResourceStore
	guard     *entitlement.Guard
	logger    *slog.Logger
}

func NewResourceHandler(rs *store.ResourceStore, g *entitlement.Guard, logger *slog.Logger) *ResourceHandler {
	return &ResourceHandler{
		resources: rs,
		guard:     g,
		logger:    logger,
	}
}

type createPatientRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type createStaffRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email,max=200"`
	Role  string `json:"role" validate:"omitempty,oneof=admin professional reception"`
}

type limitExceededResponse struct {
	Error string             `json:"error"`
	Kind  model.ResourceKind `json:"kind"`
	Used  int64              `json:"used"`
	Limit model.Limit        `json:"limit"`
}

func (h *ResourceHandler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")
	var req createPatientRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.allow(w, r, tenantID, model.ResourcePatient) {
		return
	}

	patient, err := h.resources.CreatePatient(r.Context(), tenantID, req.Name)
	if err != nil {
		h.logger.Error("create patient", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, patient)
}

func (h *ResourceHandler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("id")
	var req createStaffRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = "professional"
	}
	if !h.allow(w, r, tenantID, model.ResourceStaff) {
		return
	}

	member, err := h.resources.CreateStaff(r.Context(), tenantID, req.Name, req.Email, req.Role)
	if err != nil {
		h.logger.Error("create staff member", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (h *ResourceHandler) DeactivatePatient(w http.ResponseWriter, r *http.Request) {
	h.deactivate(w, r, model.ResourcePatient)
}

func (h *ResourceHandler) DeactivateStaff(w http.ResponseWriter, r *http.Request) {
	h.deactivate(w, r, model.ResourceStaff)
}

func (h *ResourceHandler) deactivate(w http.ResponseWriter, r *http.Request, kind model.ResourceKind) {
	tenantID := r.PathValue("id")
	resourceID := r.PathValue("resourceID")
	if err := h.resources.Deactivate(r.Context(), kind, tenantID, resourceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, string(kind)+" not found")
			return
		}
		h.logger.Error("deactivate resource", "tenant_id", tenantID, "resource", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// allow runs the entitlement check and writes the rejection when it fails.
func (h *ResourceHandler) allow(w http.ResponseWriter, r *http.Request, tenantID string, kind model.ResourceKind) bool {
	err := h.guard.Check(r.Context(), tenantID, kind)
	if err == nil {
		return true
	}

	var limitErr *entitlement.LimitExceededError
	switch {
	case errors.As(err, &limitErr):
		writeJSON(w, http.StatusPaymentRequired, limitExceededResponse{
			Error: "plan limit exceeded",
			Kind:  limitErr.Kind,
			Used:  limitErr.Used,
			Limit: limitErr.Limit,
		})
	case errors.Is(err, entitlement.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, entitlement.ErrTenantInactive):
		writeError(w, http.StatusForbidden, "subscription cancelled")
	default:
		h.logger.Error("entitlement check", "tenant_id", tenantID, "resource", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
	return false
}
