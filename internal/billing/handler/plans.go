package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/clinicops/internal/billing/model"
	"github.com/dukerupert/clinicops/internal/billing/store"
)

type PlanHandler struct {
	plans  *store.PlanStore
	logger *slog.Logger
}

func NewPlanHandler(ps *store.PlanStore, logger *slog.Logger) *PlanHandler {
	return &PlanHandler{plans: ps, logger: logger}
}

// List returns the plan catalog, cheapest first. Provider price ids are not
// exposed.
func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.List(r.Context())
	if err != nil {
		h.logger.Error("list plans", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]model.Plan, len(plans))
	for i, p := range plans {
		p.StripePriceID = nil
		out[i] = p
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": out})
}
