package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/vastramart/api/internal/domain"
)

// ErrInvalidPageToken rejects list requests carrying a continuation token
// that no repository issued.
var ErrInvalidPageToken = errors.New("invalid page token")

// RepositoryError lets services branch on persistence failures without
// knowing the backing store.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err is a missing-record repository error.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a precondition or contention failure.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err is a transient backend outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// OrderPatch is the set of fields a single order mutation may change. Nil
// pointers leave the stored value untouched. UpdatedAt is always written.
type OrderPatch struct {
	Status          *domain.OrderStatus
	PaymentIntentID *string
	IsPaid          *bool
	PaidAt          *time.Time
	Payment         *domain.PaymentConfirmation
	IsDelivered     *bool
	DeliveredAt     *time.Time
	IsCancelled     *bool
	CancelledAt     *time.Time
	CancelReason    *string
	Visible         *bool
	UpdatedAt       time.Time
}

// OrderListFilter bounds order list queries.
type OrderListFilter struct {
	UserID      string
	Statuses    []domain.OrderStatus
	CreatedAt   domain.RangeQuery[time.Time]
	OnlyVisible bool
	Pagination  domain.Pagination
}

// OrderRepository persists orders. UpdateWithPrecondition applies the patch
// only while the stored status equals expectedStatus, failing with a
// conflict error otherwise; this is the serialisation point for all
// lifecycle transitions.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, id string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	UpdateWithPrecondition(ctx context.Context, id string, expectedStatus domain.OrderStatus, patch OrderPatch) (domain.Order, error)
}

// CounterRepository issues monotonically increasing sequence numbers used
// for human-readable order numbers.
type CounterRepository interface {
	Next(ctx context.Context, name string) (int64, error)
}

// AccessCodeRepository persists admin console access codes. Consume
// atomically validates and stamps the code; unknown codes fail not-found,
// consumed or expired ones fail with a conflict.
type AccessCodeRepository interface {
	Insert(ctx context.Context, code domain.AccessCode) (domain.AccessCode, error)
	Consume(ctx context.Context, code string, now time.Time) (domain.AccessCode, error)
}

// Registry bundles every repository implementation handed to the service
// layer.
type Registry struct {
	Orders      OrderRepository
	Counters    CounterRepository
	AccessCodes AccessCodeRepository
}
