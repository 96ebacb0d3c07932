package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/vastramart/api/internal/domain"
	"github.com/vastramart/api/internal/platform/requestctx"
	"github.com/vastramart/api/internal/repositories"
)

const (
	orderIDPrefix    = "ord_"
	orderCounterName = "orders"

	codConfirmationPrefix = "cod_"
	codConfirmationStatus = "collected_on_delivery"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or the
	// caller may not see it.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderUnauthorized indicates the caller lacks the required role.
	ErrOrderUnauthorized = errors.New("order: unauthorized")
	// ErrOrderInvalidTransition indicates a backward, repeated, or
	// out-of-terminal status move was attempted.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderAlreadyCancelled indicates the order was cancelled earlier.
	ErrOrderAlreadyCancelled = errors.New("order: already cancelled")
	// ErrOrderNotCancellable indicates the order has progressed past the
	// point of cancellation.
	ErrOrderNotCancellable = errors.New("order: not cancellable")
	// ErrPaymentUnconfirmed indicates the reported payment could not be
	// verified against the gateway.
	ErrPaymentUnconfirmed = errors.New("order: payment unconfirmed")
	// ErrOrderConflict indicates a concurrent update won the race.
	ErrOrderConflict = errors.New("order: conflict")
)

// statusEvents maps a freshly entered status to the notification it emits.
var statusEvents = map[domain.OrderStatus]EventKind{
	domain.OrderStatusShipped:        EventShipped,
	domain.OrderStatusOutForDelivery: EventOutForDelivery,
	domain.OrderStatusDelivered:      EventDelivered,
	domain.OrderStatusCancelled:      EventCancelled,
}

// OrderServiceDeps bundles collaborators required to construct the order
// service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Counters      repositories.CounterRepository
	Gateway       PaymentGateway
	Notifications NotificationDispatcher
	Currency      string
	Clock         func() time.Time
	IDGenerator   func() string
}

type orderService struct {
	orders        repositories.OrderRepository
	counters      repositories.CounterRepository
	gateway       PaymentGateway
	notifications NotificationDispatcher
	currency      string
	clock         func() time.Time
	newID         func() string
}

// NewOrderService wires dependencies into a concrete OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}

	return &orderService{
		orders:        deps.Orders,
		counters:      deps.Counters,
		gateway:       deps.Gateway,
		notifications: deps.Notifications,
		currency:      currency,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	userID := strings.TrimSpace(cmd.Actor.UserID)
	if userID == "" {
		return domain.Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}

	items := make([]domain.OrderLineItem, 0, len(cmd.Items))
	var itemsTotal int64
	for i, item := range cmd.Items {
		ref := strings.TrimSpace(item.ProductRef)
		name := strings.TrimSpace(item.Name)
		if ref == "" || name == "" {
			return domain.Order{}, fmt.Errorf("%w: item %d requires product ref and name", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("%w: item %d quantity must be positive", ErrOrderInvalidInput, i)
		}
		if item.UnitPrice < 0 {
			return domain.Order{}, fmt.Errorf("%w: item %d unit price must not be negative", ErrOrderInvalidInput, i)
		}
		line := domain.OrderLineItem{
			ProductRef: ref,
			Name:       name,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			ImageRef:   strings.TrimSpace(item.ImageRef),
		}
		itemsTotal += line.Subtotal()
		items = append(items, line)
	}

	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return domain.Order{}, err
	}
	if err := validateAmounts(cmd.Amounts, itemsTotal); err != nil {
		return domain.Order{}, err
	}

	method := cmd.PaymentMethod
	if _, err := domain.ParsePaymentMethod(string(method)); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}

	now := s.clock()
	order := domain.Order{
		ID:              orderIDPrefix + s.newID(),
		UserID:          userID,
		Items:           items,
		ShippingAddress: cmd.ShippingAddress,
		Amounts:         cmd.Amounts,
		Currency:        currency,
		PaymentMethod:   method,
		Status:          domain.OrderStatusProcessing,
		Visible:         method == domain.PaymentMethodCOD,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	number, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return domain.Order{}, err
	}
	order.OrderNumber = number

	saved, err := s.orders.Insert(ctx, order)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	if saved.PaymentMethod == domain.PaymentMethodCOD {
		s.dispatch(ctx, saved, cmd.Actor.Email, EventOrderPlacedCOD, now)
	}
	return saved, nil
}

func (s *orderService) Get(ctx context.Context, orderID string, actor Actor) (domain.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.authorize(order, actor); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (s *orderService) ListMine(ctx context.Context, actor Actor, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	userID := strings.TrimSpace(actor.UserID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	result, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:      userID,
		OnlyVisible: true,
		Pagination:  page,
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapRepositoryError(err)
	}
	return result, nil
}

func (s *orderService) ListAll(ctx context.Context, query OrderListQuery, actor Actor) (domain.CursorPage[domain.Order], error) {
	if !actor.Admin {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: admin role required", ErrOrderUnauthorized)
	}
	result, err := s.orders.List(ctx, repositories.OrderListFilter{
		Statuses:    query.Statuses,
		CreatedAt:   query.CreatedAt,
		OnlyVisible: true,
		Pagination:  query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapRepositoryError(err)
	}
	return result, nil
}

func (s *orderService) AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (domain.Order, error) {
	if !cmd.Actor.Admin {
		return domain.Order{}, fmt.Errorf("%w: admin role required", ErrOrderUnauthorized)
	}
	target, err := domain.ParseOrderStatus(string(cmd.Target))
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	if target == domain.OrderStatusCancelled {
		return domain.Order{}, fmt.Errorf("%w: cancellation uses the cancel operation", ErrOrderInvalidTransition)
	}

	order, err := s.load(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	// Re-requesting the current stage is an accepted no-op: nothing is
	// written and no duplicate notification goes out.
	if order.Status == target {
		return order, nil
	}

	updated, err := s.applyWithRetry(ctx, order, func(current domain.Order) (repositories.OrderPatch, error) {
		return s.advancePatch(current, target)
	})
	if errors.Is(err, errAlreadyAtTarget) {
		// A concurrent writer landed the target first; the event is theirs.
		return s.load(ctx, cmd.OrderID)
	}
	if err != nil {
		return domain.Order{}, err
	}

	if event, ok := statusEvents[updated.Status]; ok {
		s.dispatch(ctx, updated, "", event, updated.UpdatedAt)
	}
	return updated, nil
}

// errAlreadyAtTarget signals the order reached the requested status between
// reads. Callers treat it as success without writing or notifying again.
var errAlreadyAtTarget = errors.New("order already at target status")

// advancePatch validates the transition from the current state and builds
// the single patch that records it. Reaching delivered on an unpaid cash
// order also writes the synthetic collection record.
func (s *orderService) advancePatch(current domain.Order, target domain.OrderStatus) (repositories.OrderPatch, error) {
	if current.IsCancelled || current.Status == domain.OrderStatusCancelled {
		return repositories.OrderPatch{}, fmt.Errorf("%w: order is cancelled", ErrOrderInvalidTransition)
	}
	if current.Status == target {
		return repositories.OrderPatch{}, errAlreadyAtTarget
	}
	if !current.Status.CanAdvanceTo(target) {
		return repositories.OrderPatch{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, current.Status, target)
	}

	now := s.clock()
	patch := repositories.OrderPatch{
		Status:    &target,
		UpdatedAt: now,
	}

	if target == domain.OrderStatusDelivered {
		delivered := true
		patch.IsDelivered = &delivered
		patch.DeliveredAt = &now

		if current.PaymentMethod == domain.PaymentMethodCOD && !current.IsPaid {
			paid := true
			patch.IsPaid = &paid
			patch.PaidAt = &now
			patch.Payment = &domain.PaymentConfirmation{
				ExternalID:     codConfirmationPrefix + current.ID,
				ExternalStatus: codConfirmationStatus,
				ConfirmedAt:    now,
			}
		}
	}
	return patch, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	order, err := s.load(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.authorize(order, cmd.Actor); err != nil {
		return domain.Order{}, err
	}

	reason := strings.TrimSpace(cmd.Reason)
	updated, err := s.applyWithRetry(ctx, order, func(current domain.Order) (repositories.OrderPatch, error) {
		return s.cancelPatch(current, reason)
	})
	if err != nil {
		return domain.Order{}, err
	}

	// The notification goes to the shopper, so the actor's email is only
	// trustworthy when the owner cancelled. Admin cancellations leave it
	// blank and the mailer resolves the address from the user ID.
	email := ""
	if updated.Owner(cmd.Actor.UserID) {
		email = cmd.Actor.Email
	}
	s.dispatch(ctx, updated, email, EventCancelled, updated.UpdatedAt)
	return updated, nil
}

func (s *orderService) cancelPatch(current domain.Order, reason string) (repositories.OrderPatch, error) {
	if current.IsCancelled || current.Status == domain.OrderStatusCancelled {
		return repositories.OrderPatch{}, fmt.Errorf("%w: order %s", ErrOrderAlreadyCancelled, current.ID)
	}
	if current.Status != domain.OrderStatusProcessing {
		return repositories.OrderPatch{}, fmt.Errorf("%w: order status %s", ErrOrderNotCancellable, current.Status)
	}

	now := s.clock()
	status := domain.OrderStatusCancelled
	cancelled := true
	patch := repositories.OrderPatch{
		Status:      &status,
		IsCancelled: &cancelled,
		CancelledAt: &now,
		UpdatedAt:   now,
	}
	if reason != "" {
		patch.CancelReason = &reason
	}
	return patch, nil
}

func (s *orderService) MarkPaid(ctx context.Context, cmd MarkPaidCommand) (domain.Order, error) {
	externalID := strings.TrimSpace(cmd.ExternalID)
	if externalID == "" {
		return domain.Order{}, fmt.Errorf("%w: payment reference is required", ErrOrderInvalidInput)
	}

	order, err := s.load(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.authorize(order, cmd.Actor); err != nil {
		return domain.Order{}, err
	}

	updated, notified, err := s.markPaidOnce(ctx, order, externalID, cmd.PayerEmail)
	if repositories.IsConflict(err) || errors.Is(err, ErrOrderConflict) {
		// One retry with fresh state covers the common lost race; the
		// idempotent path below resolves double submissions.
		fresh, loadErr := s.load(ctx, cmd.OrderID)
		if loadErr != nil {
			return domain.Order{}, loadErr
		}
		updated, notified, err = s.markPaidOnce(ctx, fresh, externalID, cmd.PayerEmail)
	}
	if err != nil {
		return domain.Order{}, err
	}

	if notified {
		s.dispatch(ctx, updated, cmd.PayerEmail, EventPaymentConfirmed, updated.UpdatedAt)
	}
	return updated, nil
}

// markPaidOnce verifies and applies one payment confirmation attempt. The
// second return reports whether a notification is owed (false on the
// idempotent replay path).
func (s *orderService) markPaidOnce(ctx context.Context, order domain.Order, externalID, payerEmail string) (domain.Order, bool, error) {
	if order.PaymentMethod != domain.PaymentMethodGateway {
		return domain.Order{}, false, fmt.Errorf("%w: cash orders settle on delivery", ErrPaymentUnconfirmed)
	}
	if order.IsCancelled || order.Status == domain.OrderStatusCancelled {
		return domain.Order{}, false, fmt.Errorf("%w: cancelled orders cannot be paid", ErrOrderInvalidTransition)
	}

	if order.IsPaid {
		if order.Payment != nil && order.Payment.ExternalID == externalID {
			return order, false, nil
		}
		return domain.Order{}, false, fmt.Errorf("%w: order already settled with a different payment", ErrPaymentUnconfirmed)
	}

	// The confirmation must reference the intent this order created; a
	// capture belonging to another order never settles this one.
	if order.PaymentIntentID == "" || order.PaymentIntentID != externalID {
		return domain.Order{}, false, fmt.Errorf("%w: payment reference does not match the order intent", ErrPaymentUnconfirmed)
	}

	if s.gateway == nil {
		return domain.Order{}, false, fmt.Errorf("%w: gateway verification unavailable", ErrGatewayUnavailable)
	}
	capture, err := s.gateway.VerifyCapture(ctx, externalID)
	if err != nil {
		return domain.Order{}, false, mapGatewayError(err)
	}
	if !capture.Captured {
		return domain.Order{}, false, fmt.Errorf("%w: gateway reports status %q", ErrPaymentUnconfirmed, capture.Status)
	}
	if capture.OrderRef != "" && capture.OrderRef != order.ID {
		return domain.Order{}, false, fmt.Errorf("%w: capture belongs to another order", ErrPaymentUnconfirmed)
	}
	if capture.Amount != order.Amounts.GrandTotal {
		return domain.Order{}, false, fmt.Errorf("%w: captured amount %d does not match order total %d", ErrPaymentUnconfirmed, capture.Amount, order.Amounts.GrandTotal)
	}

	now := s.clock()
	paid := true
	visible := true
	email := strings.TrimSpace(payerEmail)
	if email == "" {
		email = strings.TrimSpace(capture.Email)
	}
	patch := repositories.OrderPatch{
		IsPaid:  &paid,
		PaidAt:  &now,
		Visible: &visible,
		Payment: &domain.PaymentConfirmation{
			ExternalID:     externalID,
			ExternalStatus: capture.Status,
			ConfirmedAt:    now,
			PayerEmail:     email,
		},
		UpdatedAt: now,
	}

	updated, err := s.orders.UpdateWithPrecondition(ctx, order.ID, order.Status, patch)
	if err != nil {
		return domain.Order{}, false, s.mapRepositoryError(err)
	}
	return updated, true, nil
}

// applyWithRetry runs buildPatch against the current order and applies it
// with a status precondition, re-reading and retrying exactly once when a
// concurrent writer moved the order first.
func (s *orderService) applyWithRetry(ctx context.Context, order domain.Order, buildPatch func(domain.Order) (repositories.OrderPatch, error)) (domain.Order, error) {
	patch, err := buildPatch(order)
	if err != nil {
		return domain.Order{}, err
	}

	updated, err := s.orders.UpdateWithPrecondition(ctx, order.ID, order.Status, patch)
	if err == nil {
		return updated, nil
	}
	if !repositories.IsConflict(err) {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	requestctx.Logger(ctx).Debug("order update lost race, retrying with fresh state",
		zap.String("order_id", order.ID))

	fresh, loadErr := s.load(ctx, order.ID)
	if loadErr != nil {
		return domain.Order{}, loadErr
	}
	patch, err = buildPatch(fresh)
	if err != nil {
		return domain.Order{}, err
	}
	updated, err = s.orders.UpdateWithPrecondition(ctx, fresh.ID, fresh.Status, patch)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return updated, nil
}

func (s *orderService) load(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// authorize admits the owner and admins. Anyone else learns nothing about
// the order's existence.
func (s *orderService) authorize(order domain.Order, actor Actor) error {
	if actor.Admin || order.Owner(actor.UserID) {
		return nil
	}
	return fmt.Errorf("%w: order %s", ErrOrderNotFound, order.ID)
}

func (s *orderService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderCounterName)
	if err != nil {
		return "", s.mapRepositoryError(err)
	}
	return fmt.Sprintf("VM-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) dispatch(ctx context.Context, order domain.Order, email string, event EventKind, at time.Time) {
	if s.notifications == nil {
		return
	}
	if strings.TrimSpace(email) == "" && order.Payment != nil {
		email = order.Payment.PayerEmail
	}
	s.notifications.Dispatch(ctx, OrderNotification{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Email:       strings.TrimSpace(email),
		Event:       event,
		OccurredAt:  at,
	})
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repositories.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func validateShippingAddress(addr domain.Address) error {
	required := []struct {
		name  string
		value string
	}{
		{"full name", addr.FullName},
		{"line1", addr.Line1},
		{"city", addr.City},
		{"postal code", addr.PostalCode},
		{"phone", addr.Phone},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%w: shipping address %s is required", ErrOrderInvalidInput, field.name)
		}
	}
	return nil
}

func validateAmounts(amounts domain.OrderAmounts, itemsTotal int64) error {
	if amounts.ItemsTotal < 0 || amounts.Tax < 0 || amounts.Shipping < 0 || amounts.GrandTotal < 0 {
		return fmt.Errorf("%w: amounts must not be negative", ErrOrderInvalidInput)
	}
	if amounts.ItemsTotal != itemsTotal {
		return fmt.Errorf("%w: items total %d does not match line items %d", ErrOrderInvalidInput, amounts.ItemsTotal, itemsTotal)
	}
	if amounts.GrandTotal != amounts.ItemsTotal+amounts.Tax+amounts.Shipping {
		return fmt.Errorf("%w: grand total must equal items plus tax plus shipping", ErrOrderInvalidInput)
	}
	return nil
}
