package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/vastramart/api/internal/services"
)

const orderRefMetadataKey = "orderId"

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGatewayConfig configures the Stripe-backed payment gateway.
type StripeGatewayConfig struct {
	APIKey   string
	Backends *stripe.Backends
	// Intents overrides the API client, for tests.
	Intents stripePaymentIntentAPI
}

// StripeGateway implements services.PaymentGateway on Stripe PaymentIntents.
type StripeGateway struct {
	intents stripePaymentIntentAPI
}

// NewStripeGateway builds the gateway from an API key or injected client.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.Intents
	if intents == nil {
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	return &StripeGateway{intents: intents}, nil
}

// CreateIntent opens a payment intent sized to the order total, stamping the
// order ID into the intent metadata so captures can be matched back.
func (g *StripeGateway) CreateIntent(ctx context.Context, req services.GatewayIntentRequest) (services.GatewayIntent, error) {
	if g == nil || g.intents == nil {
		return services.GatewayIntent{}, errors.New("stripe: gateway not initialised")
	}
	if req.Amount <= 0 {
		return services.GatewayIntent{}, errors.New("stripe: intent amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(orderRefMetadataKey, req.OrderID)
	if email := strings.TrimSpace(req.Email); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}

	intent, err := g.intents.New(params)
	if err != nil {
		return services.GatewayIntent{}, wrapStripeError("create intent", err)
	}

	return services.GatewayIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
	}, nil
}

// VerifyCapture looks the intent up server-side and reports whether the
// money actually moved. The caller must never trust client-reported state.
func (g *StripeGateway) VerifyCapture(ctx context.Context, intentID string) (services.GatewayCapture, error) {
	if g == nil || g.intents == nil {
		return services.GatewayCapture{}, errors.New("stripe: gateway not initialised")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return services.GatewayCapture{}, errors.New("stripe: intent id is required")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := g.intents.Get(intentID, params)
	if err != nil {
		return services.GatewayCapture{}, wrapStripeError("lookup intent", err)
	}
	return captureFromIntent(intent), nil
}

func captureFromIntent(intent *stripe.PaymentIntent) services.GatewayCapture {
	if intent == nil {
		return services.GatewayCapture{}
	}

	captured := intent.Status == stripe.PaymentIntentStatusSucceeded
	if charge := intent.LatestCharge; charge != nil && (charge.Paid || charge.Captured) {
		captured = captured || charge.Captured
	}

	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}

	return services.GatewayCapture{
		IntentID: intent.ID,
		Captured: captured,
		Amount:   amount,
		Currency: strings.ToUpper(string(intent.Currency)),
		OrderRef: intent.Metadata[orderRefMetadataKey],
		Status:   string(intent.Status),
		Email:    intent.ReceiptEmail,
	}
}

// wrapStripeError keeps provider refusals distinguishable from outages:
// 5xx and transport failures become GatewayError, everything else passes
// through for the verification layer to reject.
func wrapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.Type == stripe.ErrorTypeAPI {
			return &services.GatewayError{Op: op, Err: err}
		}
		return fmt.Errorf("stripe: %s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &services.GatewayError{Op: op, Err: err}
	}
	// Anything that is not a structured Stripe refusal is a transport fault.
	return &services.GatewayError{Op: op, Err: err}
}

var _ services.PaymentGateway = (*StripeGateway)(nil)
