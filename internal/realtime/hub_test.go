package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventPaymentReceived, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventPaymentReceived, EventWithdrawalUpdate},
	}}

	payment := &Event{Type: EventPaymentReceived}
	withdrawal := &Event{Type: EventWithdrawalUpdate}
	notification := &Event{Type: EventNotification}

	if !h.shouldSend(client, payment) {
		t.Error("Should receive payment events")
	}
	if !h.shouldSend(client, withdrawal) {
		t.Error("Should receive withdrawal events")
	}
	if h.shouldSend(client, notification) {
		t.Error("Should NOT receive notification events")
	}
}

func TestShouldSend_UserFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		UserIDs: []string{"musician-1"},
	}}

	matching := &Event{
		Type: EventPaymentReceived,
		Data: map[string]interface{}{"musicianId": "musician-1"},
	}
	other := &Event{
		Type: EventPaymentReceived,
		Data: map[string]interface{}{"musicianId": "musician-2"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should receive events for watched musician")
	}
	if h.shouldSend(client, other) {
		t.Error("Should NOT receive events for other musicians")
	}
}

func TestBroadcast_DeliversToRegisteredClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 4),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client

	h.BroadcastPayment(map[string]interface{}{
		"musicianId": "musician-1",
		"amount":     "8500.00",
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("expected serialized event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestBroadcast_FullChannelDropsEvent(t *testing.T) {
	h := testHub()
	// No Run loop draining the channel: fill it up
	for i := 0; i < cap(h.broadcast)+10; i++ {
		h.Broadcast(&Event{Type: EventPaymentReceived, Timestamp: time.Now()})
	}
	// No deadlock means drop worked
}

func TestStats(t *testing.T) {
	h := testHub()
	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("expected 0 connected clients, got %v", stats["connectedClients"])
	}
}
