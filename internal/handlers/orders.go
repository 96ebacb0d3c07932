package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vastramart/api/internal/domain"
	"github.com/vastramart/api/internal/platform/auth"
	"github.com/vastramart/api/internal/platform/httpx"
	"github.com/vastramart/api/internal/services"
)

const (
	defaultOrderPageSize  = 20
	maxOrderPageSize      = 100
	maxOrderBodySize      = 64 * 1024
	maxOrderSmallBodySize = 4 * 1024
)

// OrderHandlers exposes the order lifecycle endpoints for authenticated
// shoppers and store staff.
type OrderHandlers struct {
	orders   services.OrderService
	payments services.PaymentService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{
		orders:   orders,
		payments: payments,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listAllOrders)
	r.Get("/mine", h.listMyOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/payment-intent", h.createPaymentIntent)
	r.Put("/{orderID}/pay", h.markPaid)
	r.Put("/{orderID}/status", h.advanceStatus)
	r.Put("/{orderID}/cancel", h.cancelOrder)
}

type orderItemRequest struct {
	ProductRef string `json:"product_ref"`
	Name       string `json:"name"`
	UnitPrice  int64  `json:"unit_price"`
	Quantity   int    `json:"quantity"`
	ImageRef   string `json:"image_ref"`
}

type addressPayload struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone"`
}

type orderAmountsPayload struct {
	ItemsTotal int64 `json:"items_total"`
	Tax        int64 `json:"tax"`
	Shipping   int64 `json:"shipping"`
	GrandTotal int64 `json:"grand_total"`
}

type createOrderRequest struct {
	Items           []orderItemRequest  `json:"items"`
	ShippingAddress addressPayload      `json:"shipping_address"`
	PaymentMethod   string              `json:"payment_method"`
	Amounts         orderAmountsPayload `json:"amounts"`
	Currency        string              `json:"currency"`
}

type advanceStatusRequest struct {
	Status string `json:"status"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type markPaidRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
	PayerEmail      string `json:"payer_email"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order", "invalid JSON body", http.StatusBadRequest))
		return
	}

	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order", "payment_method must be cod or gateway", http.StatusBadRequest))
		return
	}

	items := make([]services.NewOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.NewOrderItem{
			ProductRef: strings.TrimSpace(item.ProductRef),
			Name:       strings.TrimSpace(item.Name),
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			ImageRef:   strings.TrimSpace(item.ImageRef),
		})
	}

	order, err := h.orders.Create(ctx, services.CreateOrderCommand{
		Actor:           actor,
		Items:           items,
		ShippingAddress: addressFromPayload(req.ShippingAddress),
		PaymentMethod:   method,
		Amounts: domain.OrderAmounts{
			ItemsTotal: req.Amounts.ItemsTotal,
			Tax:        req.Amounts.Tax,
			Shipping:   req.Amounts.Shipping,
			GrandTotal: req.Amounts.GrandTotal,
		},
		Currency: strings.TrimSpace(req.Currency),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListMine(ctx, actor, pager)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeOrderListResponse(w, page)
}

func (h *OrderHandlers) listAllOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	listQuery := services.OrderListQuery{}

	for _, raw := range parseFilterValues(query["status"]) {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_order", "status filter must be a valid order status", http.StatusBadRequest))
			return
		}
		listQuery.Statuses = append(listQuery.Statuses, status)
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_order", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		listQuery.CreatedAt.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_order", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		listQuery.CreatedAt.To = &ts
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order", err.Error(), http.StatusBadRequest))
		return
	}
	listQuery.Pagination = pager

	page, err := h.orders.ListAll(ctx, listQuery, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeOrderListResponse(w, page)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.Get(ctx, orderID, actor)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	intent, err := h.payments.CreateIntent(ctx, services.CreateIntentCommand{
		OrderID: orderID,
		Actor:   actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, paymentIntentResponse{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
	})
}

func (h *OrderHandlers) markPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderSmallBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req markPaidRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order", "invalid JSON body", http.StatusBadRequest))
		return
	}

	order, err := h.orders.MarkPaid(ctx, services.MarkPaidCommand{
		OrderID:    orderID,
		ExternalID: strings.TrimSpace(req.PaymentIntentID),
		PayerEmail: strings.TrimSpace(req.PayerEmail),
		Actor:      actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) advanceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderSmallBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req advanceStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order", "invalid JSON body", http.StatusBadRequest))
		return
	}

	target, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.AdvanceStatus(ctx, services.AdvanceStatusCommand{
		OrderID: orderID,
		Target:  target,
		Actor:   actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireOrderID(ctx, w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderSmallBodySize)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_order", "invalid JSON body", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
		// cancellation reason is optional
	default:
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
		Actor:   actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requireActor(ctx context.Context, w http.ResponseWriter) (services.Actor, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return services.Actor{}, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}
	return actorFromIdentity(identity), true
}

func requireOrderID(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func parsePagination(r *http.Request) (domain.Pagination, error) {
	query := r.URL.Query()
	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			return domain.Pagination{}, errors.New("page_size must be an integer")
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}
	return domain.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}, nil
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	IsPaid        bool   `json:"is_paid"`
	Currency      string `json:"currency"`
	GrandTotal    int64  `json:"grand_total"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type paymentIntentResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type orderPaymentPayload struct {
	ExternalID     string `json:"external_id"`
	ExternalStatus string `json:"external_status"`
	ConfirmedAt    string `json:"confirmed_at"`
	PayerEmail     string `json:"payer_email,omitempty"`
}

type orderItemPayload struct {
	ProductRef string `json:"product_ref"`
	Name       string `json:"name"`
	UnitPrice  int64  `json:"unit_price"`
	Quantity   int    `json:"quantity"`
	Subtotal   int64  `json:"subtotal"`
	ImageRef   string `json:"image_ref,omitempty"`
}

type orderPayload struct {
	ID              string               `json:"id"`
	OrderNumber     string               `json:"order_number"`
	UserID          string               `json:"user_id"`
	Status          string               `json:"status"`
	Items           []orderItemPayload   `json:"items"`
	ShippingAddress addressPayload       `json:"shipping_address"`
	Amounts         orderAmountsPayload  `json:"amounts"`
	Currency        string               `json:"currency"`
	PaymentMethod   string               `json:"payment_method"`
	PaymentIntentID string               `json:"payment_intent_id,omitempty"`
	IsPaid          bool                 `json:"is_paid"`
	PaidAt          string               `json:"paid_at,omitempty"`
	Payment         *orderPaymentPayload `json:"payment,omitempty"`
	IsDelivered     bool                 `json:"is_delivered"`
	DeliveredAt     string               `json:"delivered_at,omitempty"`
	IsCancelled     bool                 `json:"is_cancelled"`
	CancelledAt     string               `json:"cancelled_at,omitempty"`
	CancelReason    string               `json:"cancel_reason,omitempty"`
	CreatedAt       string               `json:"created_at"`
	UpdatedAt       string               `json:"updated_at,omitempty"`
}

func writeOrderListResponse(w http.ResponseWriter, page domain.CursorPage[domain.Order]) {
	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		IsPaid:        order.IsPaid,
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		GrandTotal:    order.Amounts.GrandTotal,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductRef: strings.TrimSpace(item.ProductRef),
			Name:       strings.TrimSpace(item.Name),
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			Subtotal:   item.Subtotal(),
			ImageRef:   strings.TrimSpace(item.ImageRef),
		})
	}

	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		UserID:      strings.TrimSpace(order.UserID),
		Status:      string(order.Status),
		Items:       items,
		ShippingAddress: addressPayload{
			FullName:   order.ShippingAddress.FullName,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
			Phone:      order.ShippingAddress.Phone,
		},
		Amounts: orderAmountsPayload{
			ItemsTotal: order.Amounts.ItemsTotal,
			Tax:        order.Amounts.Tax,
			Shipping:   order.Amounts.Shipping,
			GrandTotal: order.Amounts.GrandTotal,
		},
		Currency:        strings.ToUpper(strings.TrimSpace(order.Currency)),
		PaymentMethod:   string(order.PaymentMethod),
		PaymentIntentID: strings.TrimSpace(order.PaymentIntentID),
		IsPaid:          order.IsPaid,
		PaidAt:          formatTime(pointerTime(order.PaidAt)),
		IsDelivered:     order.IsDelivered,
		DeliveredAt:     formatTime(pointerTime(order.DeliveredAt)),
		IsCancelled:     order.IsCancelled,
		CancelledAt:     formatTime(pointerTime(order.CancelledAt)),
		CancelReason:    strings.TrimSpace(order.CancelReason),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	if order.Payment != nil {
		payload.Payment = &orderPaymentPayload{
			ExternalID:     order.Payment.ExternalID,
			ExternalStatus: order.Payment.ExternalStatus,
			ConfirmedAt:    formatTime(order.Payment.ConfirmedAt),
			PayerEmail:     order.Payment.PayerEmail,
		}
	}
	return payload
}

func addressFromPayload(payload addressPayload) domain.Address {
	return domain.Address{
		FullName:   strings.TrimSpace(payload.FullName),
		Line1:      strings.TrimSpace(payload.Line1),
		Line2:      strings.TrimSpace(payload.Line2),
		City:       strings.TrimSpace(payload.City),
		State:      strings.TrimSpace(payload.State),
		PostalCode: strings.TrimSpace(payload.PostalCode),
		Country:    strings.TrimSpace(payload.Country),
		Phone:      strings.TrimSpace(payload.Phone),
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("unauthorized", "not allowed", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderAlreadyCancelled):
		httpx.WriteError(ctx, w, httpx.NewError("already_cancelled", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotCancellable):
		httpx.WriteError(ctx, w, httpx.NewError("not_cancellable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentUnconfirmed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_unconfirmed", err.Error(), http.StatusPaymentRequired))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
