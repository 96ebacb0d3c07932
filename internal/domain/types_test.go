package domain

import (
	"testing"
	"time"
)

func TestParseOrderStatus(t *testing.T) {
	cases := []struct {
		raw     string
		want    OrderStatus
		wantErr bool
	}{
		{"processing", OrderStatusProcessing, false},
		{"Shipped", OrderStatusShipped, false},
		{"  OUT_FOR_DELIVERY  ", OrderStatusOutForDelivery, false},
		{"delivered", OrderStatusDelivered, false},
		{"cancelled", OrderStatusCancelled, false},
		{"refunded", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		got, err := ParseOrderStatus(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseOrderStatus(%q): expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseOrderStatus(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseOrderStatus(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestOrderStatusCanAdvanceTo(t *testing.T) {
	cases := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusProcessing, OrderStatusShipped, true},
		{OrderStatusProcessing, OrderStatusOutForDelivery, true},
		{OrderStatusProcessing, OrderStatusDelivered, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusOutForDelivery, OrderStatusDelivered, true},
		{OrderStatusShipped, OrderStatusShipped, true},
		{OrderStatusDelivered, OrderStatusDelivered, true},
		{OrderStatusShipped, OrderStatusProcessing, false},
		{OrderStatusDelivered, OrderStatusShipped, false},
		{OrderStatusProcessing, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusShipped, false},
		{OrderStatusCancelled, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusDelivered, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanAdvanceTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	if OrderStatusProcessing.IsTerminal() || OrderStatusShipped.IsTerminal() || OrderStatusOutForDelivery.IsTerminal() {
		t.Fatalf("mid-chain statuses must not be terminal")
	}
	if !OrderStatusDelivered.IsTerminal() || !OrderStatusCancelled.IsTerminal() {
		t.Fatalf("delivered and cancelled must be terminal")
	}
}

func TestParsePaymentMethod(t *testing.T) {
	if method, err := ParsePaymentMethod(" COD "); err != nil || method != PaymentMethodCOD {
		t.Fatalf("expected cod, got %s (%v)", method, err)
	}
	if method, err := ParsePaymentMethod("gateway"); err != nil || method != PaymentMethodGateway {
		t.Fatalf("expected gateway, got %s (%v)", method, err)
	}
	if _, err := ParsePaymentMethod("upi"); err == nil {
		t.Fatalf("expected error for unknown method")
	}
}

func TestOrderLineItemSubtotal(t *testing.T) {
	item := OrderLineItem{UnitPrice: 149900, Quantity: 3}
	if got := item.Subtotal(); got != 449700 {
		t.Fatalf("subtotal = %d, want 449700", got)
	}
}

func TestOrderOwner(t *testing.T) {
	order := Order{UserID: "user-1"}
	if !order.Owner("user-1") {
		t.Fatalf("owner must match")
	}
	if order.Owner("user-2") {
		t.Fatalf("stranger must not match")
	}
	if (Order{}).Owner("") {
		t.Fatalf("empty ids must never match")
	}
}

func TestOrderShouldBeVisible(t *testing.T) {
	cod := Order{PaymentMethod: PaymentMethodCOD}
	if !cod.ShouldBeVisible() {
		t.Fatalf("cash orders are always visible")
	}
	unpaid := Order{PaymentMethod: PaymentMethodGateway}
	if unpaid.ShouldBeVisible() {
		t.Fatalf("unpaid gateway orders stay hidden")
	}
	paid := Order{PaymentMethod: PaymentMethodGateway, IsPaid: true}
	if !paid.ShouldBeVisible() {
		t.Fatalf("paid gateway orders become visible")
	}
}

func TestAccessCodeConsumedAndExpired(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	fresh := AccessCode{ExpiresAt: now.Add(10 * time.Minute)}
	if fresh.Consumed() {
		t.Fatalf("fresh code is not consumed")
	}
	if fresh.Expired(now) {
		t.Fatalf("fresh code is not expired")
	}

	used := fresh
	used.ConsumedAt = &now
	if !used.Consumed() {
		t.Fatalf("code with consumption stamp is consumed")
	}

	stale := AccessCode{ExpiresAt: now.Add(-time.Minute)}
	if !stale.Expired(now) {
		t.Fatalf("past expiry must report expired")
	}

	boundary := AccessCode{ExpiresAt: now}
	if boundary.Expired(now) {
		t.Fatalf("expiry instant itself is still valid")
	}
}
