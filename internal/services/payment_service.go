package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vastramart/api/internal/domain"
	"github.com/vastramart/api/internal/repositories"
)

// ErrGatewayUnavailable indicates the payment provider could not be reached
// or answered with a transient failure.
var ErrGatewayUnavailable = errors.New("payment: gateway unavailable")

// GatewayError marks provider failures that should surface as 503 rather
// than a verification refusal. The payments adapter returns these for
// transport-level problems.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func mapGatewayError(err error) error {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrPaymentUnconfirmed, err)
}

// PaymentServiceDeps bundles collaborators for the payment service.
type PaymentServiceDeps struct {
	Orders  repositories.OrderRepository
	Gateway PaymentGateway
	Timeout time.Duration
	Clock   func() time.Time
}

type paymentService struct {
	orders  repositories.OrderRepository
	gateway PaymentGateway
	timeout time.Duration
	clock   func() time.Time
}

// NewPaymentService wires dependencies into a concrete PaymentService.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &paymentService{
		orders:  deps.Orders,
		gateway: deps.Gateway,
		timeout: timeout,
		clock:   func() time.Time { return clock().UTC() },
	}, nil
}

// CreateIntent sizes a gateway payment intent to the order total and records
// the intent ID on the order so later confirmations can be matched to it.
func (s *paymentService) CreateIntent(ctx context.Context, cmd CreateIntentCommand) (GatewayIntent, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return GatewayIntent{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return GatewayIntent{}, s.mapRepositoryError(err)
	}
	if !cmd.Actor.Admin && !order.Owner(cmd.Actor.UserID) {
		return GatewayIntent{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}

	if order.PaymentMethod != domain.PaymentMethodGateway {
		return GatewayIntent{}, fmt.Errorf("%w: cash on delivery orders have no payment intent", ErrOrderInvalidInput)
	}
	if order.IsCancelled || order.Status == domain.OrderStatusCancelled {
		return GatewayIntent{}, fmt.Errorf("%w: order is cancelled", ErrOrderInvalidTransition)
	}
	if order.IsPaid {
		return GatewayIntent{}, fmt.Errorf("%w: order is already paid", ErrOrderConflict)
	}
	if order.Status != domain.OrderStatusProcessing {
		return GatewayIntent{}, fmt.Errorf("%w: payment intents require a processing order", ErrOrderInvalidTransition)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	intent, err := s.gateway.CreateIntent(gwCtx, GatewayIntentRequest{
		OrderID:  order.ID,
		Amount:   order.Amounts.GrandTotal,
		Currency: order.Currency,
		Email:    strings.TrimSpace(cmd.Actor.Email),
	})
	if err != nil {
		return GatewayIntent{}, mapGatewayError(err)
	}

	intentID := intent.ID
	now := s.clock()
	if _, err := s.orders.UpdateWithPrecondition(ctx, order.ID, domain.OrderStatusProcessing, repositories.OrderPatch{
		PaymentIntentID: &intentID,
		UpdatedAt:       now,
	}); err != nil {
		return GatewayIntent{}, s.mapRepositoryError(err)
	}
	return intent, nil
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}
	return err
}
