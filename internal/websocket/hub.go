package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dukerupert/clinicops/internal/billing/lifecycle"
	"github.com/dukerupert/clinicops/internal/billing/model"
)

const TypeBillingStatusChanged = "billing_status_changed"

// Message is a billing notification pushed to a tenant's dashboards.
type Message struct {
	Type           string       `json:"type"`
	TenantID       string       `json:"tenant_id"`
	EventID        string       `json:"event_id,omitempty"`
	From           model.Status `json:"from"`
	To             model.Status `json:"to"`
	PlanID         int64        `json:"plan_id"`
	SubscriptionID string       `json:"subscription_id,omitempty"`
}

// NewMessage builds the status-change message for a committed transition.
func NewMessage(tr lifecycle.Transition) Message {
	var subID string
	if tr.Tenant.Lifecycle != nil {
		subID = tr.Tenant.Lifecycle.SubscriptionID()
	}
	return Message{
		Type:           TypeBillingStatusChanged,
		TenantID:       tr.Tenant.ID,
		EventID:        tr.EventID,
		From:           tr.From,
		To:             tr.To,
		PlanID:         tr.PlanID,
		SubscriptionID: subID,
	}
}

// Hub tracks connected clients per tenant and fans out messages to them.
type Hub struct {
	mu      sync.RWMutex
	tenants map[string]map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		tenants: make(map[string]map[*Client]struct{}),
		logger:  logger.With("component", "websocket"),
	}
}

// Register adds a client to its tenant's set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.tenants[c.tenantID]
	if !ok {
		set = make(map[*Client]struct{})
		h.tenants[c.tenantID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.tenants[c.tenantID]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.tenants, c.tenantID)
	}
}

// Broadcast sends msg to every client of msg.TenantID.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.tenants[msg.TenantID] {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client buffer full, dropping message", "tenant_id", msg.TenantID)
		}
	}
}

// Observe forwards committed lifecycle transitions to the tenant's clients.
func (h *Hub) Observe(_ context.Context, tr lifecycle.Transition) {
	h.Broadcast(NewMessage(tr))
}

// ClientCount returns the number of connected clients for a tenant.
func (h *Hub) ClientCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants[tenantID])
}
