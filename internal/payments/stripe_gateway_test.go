package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stripe/stripe-go/v78"

	"github.com/vastramart/api/internal/services"
)

type stubIntentAPI struct {
	newFn func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getFn func(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func (s *stubIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if s.newFn != nil {
		return s.newFn(params)
	}
	return nil, errors.New("new not stubbed")
}

func (s *stubIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if s.getFn != nil {
		return s.getFn(id, params)
	}
	return nil, errors.New("get not stubbed")
}

func newTestGateway(t *testing.T, intents stripePaymentIntentAPI) *StripeGateway {
	t.Helper()
	gateway, err := NewStripeGateway(StripeGatewayConfig{Intents: intents})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gateway
}

func TestNewStripeGatewayRequiresKeyOrClient(t *testing.T) {
	if _, err := NewStripeGateway(StripeGatewayConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
	if _, err := NewStripeGateway(StripeGatewayConfig{APIKey: "sk_test_123"}); err != nil {
		t.Fatalf("api key alone must suffice: %v", err)
	}
}

func TestStripeGatewayCreateIntent(t *testing.T) {
	ctx := context.Background()

	var seen *stripe.PaymentIntentParams
	intents := &stubIntentAPI{
		newFn: func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			seen = params
			return &stripe.PaymentIntent{
				ID:           "pi_1",
				ClientSecret: "pi_1_secret",
				Amount:       105000,
				Currency:     stripe.CurrencyINR,
			}, nil
		},
	}
	gateway := newTestGateway(t, intents)

	intent, err := gateway.CreateIntent(ctx, services.GatewayIntentRequest{
		OrderID:  "ord_1",
		Amount:   105000,
		Currency: "INR",
		Email:    "asha@example.com",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	if seen == nil || seen.Amount == nil || *seen.Amount != 105000 {
		t.Fatalf("amount not forwarded: %+v", seen)
	}
	if seen.Currency == nil || *seen.Currency != "inr" {
		t.Fatalf("currency must be lowercased for the API, got %+v", seen.Currency)
	}
	if seen.Metadata[orderRefMetadataKey] != "ord_1" {
		t.Fatalf("order ref metadata missing: %+v", seen.Metadata)
	}
	if seen.ReceiptEmail == nil || *seen.ReceiptEmail != "asha@example.com" {
		t.Fatalf("receipt email not forwarded")
	}
	if intent.ID != "pi_1" || intent.ClientSecret != "pi_1_secret" || intent.Currency != "INR" {
		t.Fatalf("unexpected intent %+v", intent)
	}
}

func TestStripeGatewayCreateIntentRejectsNonPositiveAmount(t *testing.T) {
	gateway := newTestGateway(t, &stubIntentAPI{})
	if _, err := gateway.CreateIntent(context.Background(), services.GatewayIntentRequest{OrderID: "ord_1", Amount: 0, Currency: "INR"}); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestStripeGatewayVerifyCapture(t *testing.T) {
	ctx := context.Background()
	intents := &stubIntentAPI{
		getFn: func(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{
				ID:             id,
				Status:         stripe.PaymentIntentStatusSucceeded,
				Amount:         105000,
				AmountReceived: 105000,
				Currency:       stripe.CurrencyINR,
				Metadata:       map[string]string{orderRefMetadataKey: "ord_1"},
				ReceiptEmail:   "asha@example.com",
			}, nil
		},
	}
	gateway := newTestGateway(t, intents)

	capture, err := gateway.VerifyCapture(ctx, "pi_1")
	if err != nil {
		t.Fatalf("verify capture: %v", err)
	}
	if !capture.Captured {
		t.Fatalf("succeeded intent must report captured")
	}
	if capture.Amount != 105000 || capture.Currency != "INR" {
		t.Fatalf("unexpected capture %+v", capture)
	}
	if capture.OrderRef != "ord_1" {
		t.Fatalf("order ref not read from metadata: %q", capture.OrderRef)
	}
	if capture.Email != "asha@example.com" {
		t.Fatalf("unexpected email %q", capture.Email)
	}
}

func TestStripeGatewayVerifyCaptureUncapturedIntent(t *testing.T) {
	intents := &stubIntentAPI{
		getFn: func(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{
				ID:       id,
				Status:   stripe.PaymentIntentStatusRequiresPaymentMethod,
				Amount:   105000,
				Currency: stripe.CurrencyINR,
			}, nil
		},
	}
	gateway := newTestGateway(t, intents)

	capture, err := gateway.VerifyCapture(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("verify capture: %v", err)
	}
	if capture.Captured {
		t.Fatalf("unsettled intent must not report captured")
	}
	if capture.Status != string(stripe.PaymentIntentStatusRequiresPaymentMethod) {
		t.Fatalf("unexpected status %q", capture.Status)
	}
	if capture.Amount != 105000 {
		t.Fatalf("zero received must fall back to intent amount, got %d", capture.Amount)
	}
}

func TestStripeGatewayVerifyCaptureRequiresID(t *testing.T) {
	gateway := newTestGateway(t, &stubIntentAPI{})
	if _, err := gateway.VerifyCapture(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank intent id")
	}
}

func TestWrapStripeErrorClassification(t *testing.T) {
	var gwErr *services.GatewayError

	serverErr := wrapStripeError("lookup intent", &stripe.Error{HTTPStatusCode: http.StatusBadGateway})
	if !errors.As(serverErr, &gwErr) {
		t.Fatalf("5xx must map to a gateway error, got %v", serverErr)
	}

	apiErr := wrapStripeError("lookup intent", &stripe.Error{Type: stripe.ErrorTypeAPI})
	if !errors.As(apiErr, &gwErr) {
		t.Fatalf("api errors must map to a gateway error, got %v", apiErr)
	}

	refusal := wrapStripeError("lookup intent", &stripe.Error{
		HTTPStatusCode: http.StatusPaymentRequired,
		Type:           stripe.ErrorTypeCard,
	})
	if errors.As(refusal, &gwErr) {
		t.Fatalf("card refusals must pass through, got %v", refusal)
	}

	timeout := wrapStripeError("lookup intent", context.DeadlineExceeded)
	if !errors.As(timeout, &gwErr) {
		t.Fatalf("timeouts must map to a gateway error, got %v", timeout)
	}

	transport := wrapStripeError("lookup intent", errors.New("connection reset"))
	if !errors.As(transport, &gwErr) {
		t.Fatalf("transport faults must map to a gateway error, got %v", transport)
	}
}
