package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/clinicops/internal/billing/lifecycle"
	"github.com/dukerupert/clinicops/internal/billing/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, tenantID string) *Client {
	return &Client{
		hub:      hub,
		tenantID: tenantID,
		send:     make(chan []byte, sendBufferSize),
	}
}

func transition(tenantID string) lifecycle.Transition {
	return lifecycle.Transition{
		EventID: "evt_1",
		Tenant:  model.Tenant{ID: tenantID, Lifecycle: model.Active{Subscription: "sub_1"}},
		From:    model.StatusTrial,
		To:      model.StatusActive,
		PlanID:  2,
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(testLogger())

	c1 := mockClient(hub, "t1")
	c2 := mockClient(hub, "t1")
	c3 := mockClient(hub, "t2")

	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c3)

	if got := hub.ClientCount("t1"); got != 2 {
		t.Fatalf("expected 2 clients for t1, got %d", got)
	}

	hub.Unregister(c1)
	if got := hub.ClientCount("t1"); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)
	hub.Unregister(c3)
	if got := hub.ClientCount("t1") + hub.ClientCount("t2"); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(testLogger())
	c := mockClient(hub, "t1")
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount("t1"); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestObserveOnlyReachesTenant(t *testing.T) {
	hub := NewHub(testLogger())

	mine := mockClient(hub, "t1")
	other := mockClient(hub, "t2")
	hub.Register(mine)
	hub.Register(other)
	defer hub.Unregister(mine)
	defer hub.Unregister(other)

	hub.Observe(context.Background(), transition("t1"))

	select {
	case data := <-mine.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		want := Message{
			Type: TypeBillingStatusChanged, TenantID: "t1", EventID: "evt_1",
			From: model.StatusTrial, To: model.StatusActive, PlanID: 2, SubscriptionID: "sub_1",
		}
		if got != want {
			t.Errorf("message = %+v, want %+v", got, want)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}

	select {
	case <-other.send:
		t.Error("other tenant must not receive the message")
	default:
	}
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := NewHub(testLogger())

	c := mockClient(hub, "t1")
	hub.Register(c)

	for i := 0; i < sendBufferSize; i++ {
		hub.Broadcast(NewMessage(transition("t1")))
	}

	// This should drop the message, not panic or block
	hub.Broadcast(NewMessage(transition("t1")))

	count := 0
	for {
		select {
		case <-c.send:
			count++
		default:
			goto done
		}
	}
done:
	if count != sendBufferSize {
		t.Errorf("expected %d messages, got %d", sendBufferSize, count)
	}

	hub.Unregister(c)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub, "t1")
			hub.Register(c)
			hub.Observe(context.Background(), transition("t1"))
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}

	wg.Wait()

	if got := hub.ClientCount("t1"); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}

func TestHandleWebSocketStreamsTransitions(t *testing.T) {
	hub := NewHub(testLogger())
	mux := http.NewServeMux()
	mux.Handle("GET /api/tenants/{id}/billing/stream", HandleWebSocket(hub, nil, testLogger()))
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/tenants/t1/billing/stream"
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount("t1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Observe(ctx, transition("t1"))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.To != model.StatusActive || got.TenantID != "t1" {
		t.Errorf("message = %+v", got)
	}
}
