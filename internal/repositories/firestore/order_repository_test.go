package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vastramart/api/internal/domain"
	"github.com/vastramart/api/internal/platform/config"
	pfirestore "github.com/vastramart/api/internal/platform/firestore"
	"github.com/vastramart/api/internal/repositories"
)

func sampleOrder() domain.Order {
	paidAt := time.Date(2026, 8, 15, 12, 30, 0, 0, time.UTC)
	return domain.Order{
		ID:          "ord_abc",
		OrderNumber: "VM-2026-000042",
		UserID:      "user-1",
		Items: []domain.OrderLineItem{
			{ProductRef: "products/kurta-01", Name: "Block Print Kurta", UnitPrice: 149900, Quantity: 2},
		},
		ShippingAddress: domain.Address{
			FullName:   "Asha Nair",
			Line1:      "14 MG Road",
			City:       "Kochi",
			PostalCode: "682001",
			Phone:      "+91 98470 00000",
		},
		Amounts:         domain.OrderAmounts{ItemsTotal: 299800, Tax: 14990, Shipping: 4900, GrandTotal: 319690},
		Currency:        "INR",
		PaymentMethod:   domain.PaymentMethodGateway,
		PaymentIntentID: "pi_123",
		IsPaid:          true,
		PaidAt:          &paidAt,
		Payment: &domain.PaymentConfirmation{
			ExternalID:     "pi_123",
			ExternalStatus: "succeeded",
			ConfirmedAt:    paidAt,
			PayerEmail:     "asha@example.com",
		},
		Status:    domain.OrderStatusProcessing,
		Visible:   true,
		CreatedAt: time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 8, 15, 12, 30, 0, 0, time.UTC),
	}
}

func TestOrderTokenRoundTrip(t *testing.T) {
	createdAt := time.Date(2026, 8, 15, 12, 0, 0, 123456789, time.UTC)
	token := encodeOrderToken(createdAt, "ord_abc")

	ts, docID, err := decodeOrderToken(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ts.Equal(createdAt) {
		t.Fatalf("timestamp = %s, want %s", ts, createdAt)
	}
	if docID != "ord_abc" {
		t.Fatalf("doc id = %q", docID)
	}
}

func TestOrderTokenNormalisesToUTC(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	createdAt := time.Date(2026, 8, 15, 12, 0, 0, 0, ist)

	ts, _, err := decodeOrderToken(encodeOrderToken(createdAt, "ord_abc"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ts.Location() != time.UTC {
		t.Fatalf("token timestamps must be UTC, got %s", ts.Location())
	}
	if !ts.Equal(createdAt) {
		t.Fatalf("timestamp = %s, want the same instant as %s", ts, createdAt)
	}
}

func TestDecodeOrderTokenRejectsGarbage(t *testing.T) {
	for _, token := range []string{
		"not base64 !!!",
		"bm8gc2VwYXJhdG9y",       // "no separator"
		"bm90LWEtdGltZXxvcmRfMQ", // "not-a-time|ord_1"
	} {
		if _, _, err := decodeOrderToken(token); err == nil {
			t.Fatalf("token %q must be rejected", token)
		}
	}
}

func TestOrderListRejectsMalformedPageToken(t *testing.T) {
	repo, err := NewOrderRepository(pfirestore.NewProvider(config.FirestoreConfig{}))
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}

	// The token is validated before any query is issued, so no client
	// connection is needed here.
	_, err = repo.List(context.Background(), repositories.OrderListFilter{
		Pagination: domain.Pagination{PageSize: 10, PageToken: "not a token"},
	})
	if !errors.Is(err, repositories.ErrInvalidPageToken) {
		t.Fatalf("expected invalid page token error, got %v", err)
	}
}

func TestOrderDocumentRoundTrip(t *testing.T) {
	order := sampleOrder()
	doc := orderDocumentFromDomain(order)
	back := orderFromDocument(order.ID, doc)

	if back.ID != order.ID || back.OrderNumber != order.OrderNumber || back.UserID != order.UserID {
		t.Fatalf("identity fields lost: %+v", back)
	}
	if back.Status != order.Status || back.PaymentMethod != order.PaymentMethod {
		t.Fatalf("state fields lost: %+v", back)
	}
	if len(back.Items) != len(order.Items) || back.Items[0].ProductRef != order.Items[0].ProductRef {
		t.Fatalf("items lost: %+v", back.Items)
	}
	if back.Amounts != order.Amounts {
		t.Fatalf("amounts lost: %+v", back.Amounts)
	}
	if back.Payment == nil || back.Payment.ExternalID != order.Payment.ExternalID {
		t.Fatalf("payment confirmation lost: %+v", back.Payment)
	}
	if !back.Visible || !back.IsPaid {
		t.Fatalf("flags lost: %+v", back)
	}
	if back.PaidAt == nil || !back.PaidAt.Equal(*order.PaidAt) {
		t.Fatalf("paid timestamp lost: %+v", back.PaidAt)
	}
}
