package jobs

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vastramart/api/internal/services"
)

func TestNotificationMessage(t *testing.T) {
	event := services.OrderNotification{
		OrderID:     "ord_1",
		OrderNumber: "VM-2026-000042",
		UserID:      "user-1",
		Email:       "asha@example.com",
		Event:       services.EventPaymentConfirmed,
		OccurredAt:  time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC),
	}

	msg, err := notificationMessage(event, json.Marshal)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}

	want := map[string]string{
		"event":       "payment-confirmed",
		"orderId":     "ord_1",
		"orderNumber": "VM-2026-000042",
		"userId":      "user-1",
	}
	if len(msg.Attributes) != len(want) {
		t.Fatalf("attributes = %v, want %v", msg.Attributes, want)
	}
	for key, value := range want {
		if msg.Attributes[key] != value {
			t.Fatalf("attribute %s = %q, want %q", key, msg.Attributes[key], value)
		}
	}

	var decoded services.OrderNotification
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.OrderID != "ord_1" || decoded.Event != services.EventPaymentConfirmed {
		t.Fatalf("payload = %+v", decoded)
	}
	if decoded.Email != "asha@example.com" {
		t.Fatalf("email must ride in the payload, got %q", decoded.Email)
	}
}

func TestNotificationMessageSkipsBlankAttributes(t *testing.T) {
	msg, err := notificationMessage(services.OrderNotification{
		OrderID: "ord_1",
		Event:   services.EventCancelled,
	}, json.Marshal)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if _, ok := msg.Attributes["orderNumber"]; ok {
		t.Fatalf("blank fields must not become attributes: %v", msg.Attributes)
	}
	if _, ok := msg.Attributes["userId"]; ok {
		t.Fatalf("blank fields must not become attributes: %v", msg.Attributes)
	}
}

func TestNotificationMessageMarshalFailure(t *testing.T) {
	boom := errors.New("encode failed")
	_, err := notificationMessage(services.OrderNotification{OrderID: "ord_1"}, func(any) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("marshal failure must surface, got %v", err)
	}
}

func TestNewPubSubNotificationPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubNotificationPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
