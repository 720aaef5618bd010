// Package notify records user-facing notifications for payment activity.
//
// Delivery is fire-and-forget: money movement never fails because a
// notification could not be written.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/amplygigs/payments/internal/idgen"
	"github.com/amplygigs/payments/internal/logging"
	"github.com/amplygigs/payments/internal/metrics"
	"github.com/amplygigs/payments/internal/realtime"
)

// Notification types.
const (
	TypePaymentReceived     = "payment_received"
	TypeEscrowReleased      = "escrow_released"
	TypeWithdrawalUpdate    = "withdrawal_update"
	TypeReconciliationAlert = "reconciliation_alert"
)

// Notification is a stored message for a user.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Store persists notifications
type Store interface {
	Create(ctx context.Context, n *Notification) error
	ByUser(ctx context.Context, userID string, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, id string) error
}

// Broadcaster pushes events to connected realtime clients.
type Broadcaster interface {
	Broadcast(event *realtime.Event)
}

// Sink writes notifications and mirrors them to the realtime hub.
type Sink struct {
	store Store
	hub   Broadcaster
}

// NewSink creates a notification sink. hub may be nil.
func NewSink(store Store, hub Broadcaster) *Sink {
	return &Sink{store: store, hub: hub}
}

// Send records a notification. Failures are logged, counted, and swallowed.
func (s *Sink) Send(ctx context.Context, userID, notifType, title, message string, data map[string]string) {
	n := &Notification{
		ID:        idgen.WithPrefix("ntf"),
		UserID:    userID,
		Type:      notifType,
		Title:     title,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now(),
	}

	if err := s.store.Create(ctx, n); err != nil {
		logging.L(ctx).Warn("notification write failed",
			"user_id", userID, "type", notifType, "error", err)
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.NotificationsTotal.WithLabelValues("ok").Inc()

	if s.hub != nil {
		payload := map[string]interface{}{
			"userId":  userID,
			"type":    notifType,
			"title":   title,
			"message": message,
		}
		for k, v := range data {
			payload[k] = v
		}
		s.hub.Broadcast(&realtime.Event{
			Type:      realtime.EventNotification,
			Timestamp: n.CreatedAt,
			Data:      payload,
		})
	}
}

// encodeData serializes the data map for storage.
func encodeData(data map[string]string) []byte {
	if len(data) == 0 {
		return nil
	}
	b, _ := json.Marshal(data)
	return b
}

func decodeData(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return data
}
