package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// orderStatusRanks orders the forward fulfilment chain. Cancelled is terminal
// but sits outside the chain and has no rank.
var orderStatusRanks = map[OrderStatus]int{
	OrderStatusProcessing:     0,
	OrderStatusShipped:        1,
	OrderStatusOutForDelivery: 2,
	OrderStatusDelivered:      3,
}

// ParseOrderStatus normalises raw input into a known status value.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case OrderStatusProcessing, OrderStatusShipped, OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("unknown order status %q", raw)
	}
}

// Rank returns the position of the status in the fulfilment chain. The second
// return is false for statuses outside the chain (cancelled, unknown).
func (s OrderStatus) Rank() (int, bool) {
	rank, ok := orderStatusRanks[s]
	return rank, ok
}

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanAdvanceTo reports whether an order in status s may move to next.
// Forward moves along the chain are allowed, including stage skips and
// re-requests of the current stage. Backward moves and moves involving
// statuses outside the chain are not.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	from, ok := s.Rank()
	if !ok {
		return false
	}
	to, ok := next.Rank()
	if !ok {
		return false
	}
	return to >= from
}

// PaymentMethod distinguishes how an order is settled.
type PaymentMethod string

const (
	PaymentMethodCOD     PaymentMethod = "cod"
	PaymentMethodGateway PaymentMethod = "gateway"
)

// ParsePaymentMethod normalises raw input into a known payment method.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch method {
	case PaymentMethodCOD, PaymentMethodGateway:
		return method, nil
	default:
		return "", fmt.Errorf("unknown payment method %q", raw)
	}
}

// OrderLineItem is an immutable snapshot of a purchased product at the moment
// the order was placed. Prices are minor currency units (paise).
type OrderLineItem struct {
	ProductRef string
	Name       string
	UnitPrice  int64
	Quantity   int
	ImageRef   string
}

// Subtotal returns unit price times quantity for the line.
func (li OrderLineItem) Subtotal() int64 {
	return li.UnitPrice * int64(li.Quantity)
}

// Address is the shipping destination captured with the order.
type Address struct {
	FullName   string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// OrderAmounts carries the priced totals of an order in minor units.
type OrderAmounts struct {
	ItemsTotal int64
	Tax        int64
	Shipping   int64
	GrandTotal int64
}

// PaymentConfirmation records the gateway-side evidence that an order was
// settled, or the synthetic record written when cash is collected on delivery.
type PaymentConfirmation struct {
	ExternalID     string
	ExternalStatus string
	ConfirmedAt    time.Time
	PayerEmail     string
}

// Order is the aggregate root of the fulfilment domain.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string

	Items           []OrderLineItem
	ShippingAddress Address
	Amounts         OrderAmounts
	Currency        string

	PaymentMethod   PaymentMethod
	PaymentIntentID string
	IsPaid          bool
	PaidAt          *time.Time
	Payment         *PaymentConfirmation

	Status      OrderStatus
	IsDelivered bool
	DeliveredAt *time.Time

	IsCancelled  bool
	CancelledAt  *time.Time
	CancelReason string

	// Visible mirrors the listing rule: gateway orders stay hidden until paid.
	Visible bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Owner reports whether the given user owns the order.
func (o Order) Owner(userID string) bool {
	return o.UserID != "" && o.UserID == strings.TrimSpace(userID)
}

// ShouldBeVisible derives the listing visibility rule from payment state.
func (o Order) ShouldBeVisible() bool {
	if o.PaymentMethod == PaymentMethodGateway {
		return o.IsPaid
	}
	return true
}

// AccessCode is a short-lived, single-use elevation record issued by an admin
// for console access.
type AccessCode struct {
	ID         string
	Code       string
	IssuedTo   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// Consumed reports whether the code was already used.
func (c AccessCode) Consumed() bool {
	return c.ConsumedAt != nil && !c.ConsumedAt.IsZero()
}

// Expired reports whether the code can no longer be consumed at the given time.
func (c AccessCode) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Pagination captures cursor-based page inputs for list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery bounds a list query on an ordered field.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// CursorPage wraps one page of list results together with the continuation
// token for the next page, empty when the listing is exhausted.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
