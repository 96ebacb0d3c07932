package services

import (
	"context"
	"time"

	"github.com/vastramart/api/internal/domain"
)

// Actor identifies the authenticated caller of a service operation.
type Actor struct {
	UserID string
	Email  string
	Admin  bool
}

// EventKind names the notification emitted for a lifecycle change.
type EventKind string

const (
	EventOrderPlacedCOD   EventKind = "order-placed-cod"
	EventPaymentConfirmed EventKind = "payment-confirmed"
	EventShipped          EventKind = "shipped"
	EventOutForDelivery   EventKind = "out-for-delivery"
	EventDelivered        EventKind = "delivered"
	EventCancelled        EventKind = "cancelled"
)

// OrderNotification is the message handed to the mailer pipeline after a
// successful lifecycle change.
type OrderNotification struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	UserID      string    `json:"userId"`
	Email       string    `json:"email,omitempty"`
	Event       EventKind `json:"event"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// NotificationDispatcher delivers order notifications out-of-band. Dispatch
// never blocks the calling operation and never returns an error; failures
// are logged by the implementation.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, event OrderNotification)
}

// NotificationPublisher pushes a single notification to the transport. The
// async dispatcher drains its queue through this.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, event OrderNotification) error
}

// NewOrderItem is one purchased line in a create request.
type NewOrderItem struct {
	ProductRef string
	Name       string
	UnitPrice  int64
	Quantity   int
	ImageRef   string
}

// CreateOrderCommand carries everything needed to place an order.
type CreateOrderCommand struct {
	Actor           Actor
	Items           []NewOrderItem
	ShippingAddress domain.Address
	PaymentMethod   domain.PaymentMethod
	Amounts         domain.OrderAmounts
	Currency        string
}

// AdvanceStatusCommand moves an order forward along the fulfilment chain.
type AdvanceStatusCommand struct {
	OrderID string
	Target  domain.OrderStatus
	Actor   Actor
}

// CancelOrderCommand cancels a pre-shipment order.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
	Actor   Actor
}

// MarkPaidCommand reconciles a gateway payment against an order.
type MarkPaidCommand struct {
	OrderID    string
	ExternalID string
	PayerEmail string
	Actor      Actor
}

// OrderListQuery bounds admin order listings.
type OrderListQuery struct {
	Statuses   []domain.OrderStatus
	CreatedAt  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// OrderService owns the order lifecycle: placement, listing, fulfilment
// transitions, cancellation, and payment reconciliation.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	Get(ctx context.Context, orderID string, actor Actor) (domain.Order, error)
	ListMine(ctx context.Context, actor Actor, page domain.Pagination) (domain.CursorPage[domain.Order], error)
	ListAll(ctx context.Context, query OrderListQuery, actor Actor) (domain.CursorPage[domain.Order], error)
	AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (domain.Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	MarkPaid(ctx context.Context, cmd MarkPaidCommand) (domain.Order, error)
}

// GatewayIntent is the provider-side payment intent handed back to clients.
type GatewayIntent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
}

// GatewayIntentRequest sizes a new payment intent.
type GatewayIntentRequest struct {
	OrderID  string
	Amount   int64
	Currency string
	Email    string
}

// GatewayCapture is the provider's server-side view of a payment used to
// verify client-reported confirmations.
type GatewayCapture struct {
	IntentID string
	Captured bool
	Amount   int64
	Currency string
	OrderRef string
	Status   string
	Email    string
}

// PaymentGateway abstracts the payment provider.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req GatewayIntentRequest) (GatewayIntent, error)
	VerifyCapture(ctx context.Context, intentID string) (GatewayCapture, error)
}

// CreateIntentCommand requests a gateway payment intent for an order.
type CreateIntentCommand struct {
	OrderID string
	Actor   Actor
}

// PaymentService creates gateway payment intents.
type PaymentService interface {
	CreateIntent(ctx context.Context, cmd CreateIntentCommand) (GatewayIntent, error)
}

// IssueAccessCodeCommand requests a one-time admin console code.
type IssueAccessCodeCommand struct {
	IssuedTo string
	TTL      time.Duration
	Actor    Actor
}

// AccessCodeService issues and consumes one-time admin console codes.
type AccessCodeService interface {
	Issue(ctx context.Context, cmd IssueAccessCodeCommand) (domain.AccessCode, error)
	Consume(ctx context.Context, code string, actor Actor) (domain.AccessCode, error)
}
