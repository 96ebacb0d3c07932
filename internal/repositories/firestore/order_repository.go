package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vastramart/api/internal/domain"
	pfirestore "github.com/vastramart/api/internal/platform/firestore"
	"github.com/vastramart/api/internal/repositories"
)

const ordersCollection = "orders"

type orderItemDocument struct {
	ProductRef string `firestore:"productRef"`
	Name       string `firestore:"name"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Quantity   int    `firestore:"quantity"`
	ImageRef   string `firestore:"imageRef,omitempty"`
}

type orderAddressDocument struct {
	FullName   string `firestore:"fullName"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country,omitempty"`
	Phone      string `firestore:"phone"`
}

type orderAmountsDocument struct {
	ItemsTotal int64 `firestore:"itemsTotal"`
	Tax        int64 `firestore:"tax"`
	Shipping   int64 `firestore:"shipping"`
	GrandTotal int64 `firestore:"grandTotal"`
}

type orderPaymentDocument struct {
	ExternalID     string    `firestore:"externalId"`
	ExternalStatus string    `firestore:"externalStatus"`
	ConfirmedAt    time.Time `firestore:"confirmedAt"`
	PayerEmail     string    `firestore:"payerEmail,omitempty"`
}

type orderDocument struct {
	OrderNumber     string                `firestore:"orderNumber"`
	UserID          string                `firestore:"userId"`
	Items           []orderItemDocument   `firestore:"items"`
	ShippingAddress orderAddressDocument  `firestore:"shippingAddress"`
	Amounts         orderAmountsDocument  `firestore:"amounts"`
	Currency        string                `firestore:"currency"`
	PaymentMethod   string                `firestore:"paymentMethod"`
	PaymentIntentID string                `firestore:"paymentIntentId,omitempty"`
	IsPaid          bool                  `firestore:"isPaid"`
	PaidAt          *time.Time            `firestore:"paidAt,omitempty"`
	Payment         *orderPaymentDocument `firestore:"payment,omitempty"`
	Status          string                `firestore:"status"`
	IsDelivered     bool                  `firestore:"isDelivered"`
	DeliveredAt     *time.Time            `firestore:"deliveredAt,omitempty"`
	IsCancelled     bool                  `firestore:"isCancelled"`
	CancelledAt     *time.Time            `firestore:"cancelledAt,omitempty"`
	CancelReason    string                `firestore:"cancelReason,omitempty"`
	Visible         bool                  `firestore:"visible"`
	CreatedAt       time.Time             `firestore:"createdAt"`
	UpdatedAt       time.Time             `firestore:"updatedAt"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil)
	return &OrderRepository{
		provider: provider,
		orders:   base,
	}, nil
}

// Insert writes a brand new order. An existing document with the same ID is a
// conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if _, err := r.orders.Create(ctx, id, orderDocumentFromDomain(order)); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// FindByID fetches a single order regardless of visibility.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc.ID, doc.Data), nil
}

// List returns orders newest first, filtered and paged per the filter.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var cursorTime time.Time
	var cursorID string
	hasCursor := false
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		var err error
		cursorTime, cursorID, err = decodeOrderToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: %v", repositories.ErrInvalidPageToken, err)
		}
		hasCursor = true
	}

	build := func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if filter.OnlyVisible {
			q = q.Where("visible", "==", true)
		}
		if len(filter.Statuses) > 0 {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, s := range filter.Statuses {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		if from := filter.CreatedAt.From; from != nil {
			q = q.Where("createdAt", ">=", from.UTC())
		}
		if to := filter.CreatedAt.To; to != nil {
			q = q.Where("createdAt", "<", to.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if hasCursor {
			q = q.StartAfter(cursorTime, cursorID)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	}

	docs, err := r.orders.Query(ctx, build)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if fetchLimit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeOrderToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, orderFromDocument(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// UpdateWithPrecondition applies the patch inside a transaction, but only
// while the stored status still equals expectedStatus. A stale status fails
// the transaction with a conflict, which callers treat as a lost race.
func (r *OrderRepository) UpdateWithPrecondition(ctx context.Context, id string, expectedStatus domain.OrderStatus, patch repositories.OrderPatch) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", id, err)
		}
		if doc.Status != string(expectedStatus) {
			return status.Errorf(codes.FailedPrecondition,
				"order %s status is %s, expected %s", id, doc.Status, expectedStatus)
		}

		applyOrderPatch(&doc, patch)
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = orderFromDocument(id, doc)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return updated, nil
}

func applyOrderPatch(doc *orderDocument, patch repositories.OrderPatch) {
	if patch.Status != nil {
		doc.Status = string(*patch.Status)
	}
	if patch.PaymentIntentID != nil {
		doc.PaymentIntentID = *patch.PaymentIntentID
	}
	if patch.IsPaid != nil {
		doc.IsPaid = *patch.IsPaid
	}
	if patch.PaidAt != nil {
		paidAt := patch.PaidAt.UTC()
		doc.PaidAt = &paidAt
	}
	if patch.Payment != nil {
		doc.Payment = &orderPaymentDocument{
			ExternalID:     patch.Payment.ExternalID,
			ExternalStatus: patch.Payment.ExternalStatus,
			ConfirmedAt:    patch.Payment.ConfirmedAt.UTC(),
			PayerEmail:     patch.Payment.PayerEmail,
		}
	}
	if patch.IsDelivered != nil {
		doc.IsDelivered = *patch.IsDelivered
	}
	if patch.DeliveredAt != nil {
		deliveredAt := patch.DeliveredAt.UTC()
		doc.DeliveredAt = &deliveredAt
	}
	if patch.IsCancelled != nil {
		doc.IsCancelled = *patch.IsCancelled
	}
	if patch.CancelledAt != nil {
		cancelledAt := patch.CancelledAt.UTC()
		doc.CancelledAt = &cancelledAt
	}
	if patch.CancelReason != nil {
		doc.CancelReason = *patch.CancelReason
	}
	if patch.Visible != nil {
		doc.Visible = *patch.Visible
	}
	doc.UpdatedAt = patch.UpdatedAt.UTC()
}

func orderDocumentFromDomain(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			ImageRef:   item.ImageRef,
		})
	}

	doc := orderDocument{
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Items:       items,
		ShippingAddress: orderAddressDocument{
			FullName:   order.ShippingAddress.FullName,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
			Phone:      order.ShippingAddress.Phone,
		},
		Amounts: orderAmountsDocument{
			ItemsTotal: order.Amounts.ItemsTotal,
			Tax:        order.Amounts.Tax,
			Shipping:   order.Amounts.Shipping,
			GrandTotal: order.Amounts.GrandTotal,
		},
		Currency:        order.Currency,
		PaymentMethod:   string(order.PaymentMethod),
		PaymentIntentID: order.PaymentIntentID,
		IsPaid:          order.IsPaid,
		Status:          string(order.Status),
		IsDelivered:     order.IsDelivered,
		IsCancelled:     order.IsCancelled,
		CancelReason:    order.CancelReason,
		Visible:         order.Visible,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	if order.PaidAt != nil {
		paidAt := order.PaidAt.UTC()
		doc.PaidAt = &paidAt
	}
	if order.Payment != nil {
		doc.Payment = &orderPaymentDocument{
			ExternalID:     order.Payment.ExternalID,
			ExternalStatus: order.Payment.ExternalStatus,
			ConfirmedAt:    order.Payment.ConfirmedAt.UTC(),
			PayerEmail:     order.Payment.PayerEmail,
		}
	}
	if order.DeliveredAt != nil {
		deliveredAt := order.DeliveredAt.UTC()
		doc.DeliveredAt = &deliveredAt
	}
	if order.CancelledAt != nil {
		cancelledAt := order.CancelledAt.UTC()
		doc.CancelledAt = &cancelledAt
	}
	return doc
}

func orderFromDocument(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderLineItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderLineItem{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			ImageRef:   item.ImageRef,
		})
	}

	order := domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		UserID:      doc.UserID,
		Items:       items,
		ShippingAddress: domain.Address{
			FullName:   doc.ShippingAddress.FullName,
			Line1:      doc.ShippingAddress.Line1,
			Line2:      doc.ShippingAddress.Line2,
			City:       doc.ShippingAddress.City,
			State:      doc.ShippingAddress.State,
			PostalCode: doc.ShippingAddress.PostalCode,
			Country:    doc.ShippingAddress.Country,
			Phone:      doc.ShippingAddress.Phone,
		},
		Amounts: domain.OrderAmounts{
			ItemsTotal: doc.Amounts.ItemsTotal,
			Tax:        doc.Amounts.Tax,
			Shipping:   doc.Amounts.Shipping,
			GrandTotal: doc.Amounts.GrandTotal,
		},
		Currency:        doc.Currency,
		PaymentMethod:   domain.PaymentMethod(doc.PaymentMethod),
		PaymentIntentID: doc.PaymentIntentID,
		IsPaid:          doc.IsPaid,
		PaidAt:          doc.PaidAt,
		Status:          domain.OrderStatus(doc.Status),
		IsDelivered:     doc.IsDelivered,
		DeliveredAt:     doc.DeliveredAt,
		IsCancelled:     doc.IsCancelled,
		CancelledAt:     doc.CancelledAt,
		CancelReason:    doc.CancelReason,
		Visible:         doc.Visible,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
	if doc.Payment != nil {
		order.Payment = &domain.PaymentConfirmation{
			ExternalID:     doc.Payment.ExternalID,
			ExternalStatus: doc.Payment.ExternalStatus,
			ConfirmedAt:    doc.Payment.ConfirmedAt,
			PayerEmail:     doc.Payment.PayerEmail,
		}
	}
	return order
}

func encodeOrderToken(createdAt time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeOrderToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}

// Ensure interface compliance.
var _ repositories.OrderRepository = (*OrderRepository)(nil)
