package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeConfig configures StripeGateway.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	Backends      *stripe.Backends
	Logger        GatewayLogger

	sessions stripeSessionAPI
	intents  stripePaymentIntentAPI
}

// StripeGateway creates Checkout Sessions and looks up Payment Intents.
type StripeGateway struct {
	sessions      stripeSessionAPI
	intents       stripePaymentIntentAPI
	webhookSecret string
	timeout       time.Duration
	logger        GatewayLogger
}

// NewStripeGateway constructs the adapter.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	g := &StripeGateway{
		sessions:      cfg.sessions,
		intents:       cfg.intents,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		timeout:       cfg.Timeout,
		logger:        cfg.Logger,
	}
	if g.sessions == nil || g.intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(apiKey, cfg.Backends)
		g.sessions = sc.CheckoutSessions
		g.intents = sc.PaymentIntents
	}
	if g.timeout <= 0 {
		g.timeout = 15 * time.Second
	}
	if g.logger == nil {
		g.logger = func(context.Context, string, map[string]any) {}
	}
	return g, nil
}

// CreatePreference implements Gateway with a hosted Checkout Session. The order id travels
// as client reference and as payment intent metadata so webhooks can be reconciled.
func (g *StripeGateway) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	if len(req.Items) == 0 {
		return Preference{}, fmt.Errorf("%w: checkout session requires items", ErrGatewayRejected)
	}
	ref := ExternalReference(req.OrderID)
	currency := strings.ToLower(strings.TrimSpace(req.Currency))

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(ref),
		SuccessURL:        stripe.String(req.ReturnURLs.Success),
		CancelURL:         stripe.String(firstNonEmpty(req.ReturnURLs.Failure, req.ReturnURLs.Pending, req.ReturnURLs.Success)),
		Metadata:          map[string]string{"order_id": ref},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_id": ref},
		},
	}
	if req.Payer != nil && req.Payer.Email != "" {
		params.CustomerEmail = stripe.String(req.Payer.Email)
	}
	for _, item := range req.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(max(item.Quantity, 1))),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.UnitPrice),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Title),
				},
			},
		})
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	params.Context = ctx
	params.SetIdempotencyKey("order-" + ref + "-checkout")

	session, err := g.sessions.New(params)
	if err != nil {
		return Preference{}, classifyError("stripe create checkout session", err)
	}
	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"orderId":   req.OrderID,
		"sessionId": session.ID,
	})
	return Preference{ID: session.ID, Provider: ProviderStripe, RedirectURL: session.URL}, nil
}

// FetchPayment implements Gateway for Payment Intent ids.
func (g *StripeGateway) FetchPayment(ctx context.Context, paymentID string) (PaymentDetails, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return PaymentDetails{}, fmt.Errorf("%w: payment intent id is required", ErrGatewayRejected)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	intent, err := g.intents.Get(paymentID, params)
	if err != nil {
		return PaymentDetails{}, classifyError("stripe get payment intent", err)
	}
	return stripePaymentDetails(intent), nil
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}
	details := PaymentDetails{
		Provider:          ProviderStripe,
		PaymentID:         intent.ID,
		ExternalReference: intent.Metadata["order_id"],
		Status:            normaliseStripeStatus(intent),
		Amount:            intent.Amount,
		Currency:          strings.ToUpper(string(intent.Currency)),
		Raw:               rawJSON(intent),
	}
	if intent.PaymentMethod != nil && intent.PaymentMethod.Type != "" {
		details.PaymentMethod = string(intent.PaymentMethod.Type)
	} else if len(intent.PaymentMethodTypes) > 0 {
		details.PaymentMethod = intent.PaymentMethodTypes[0]
	}
	return details
}

func normaliseStripeStatus(intent *stripe.PaymentIntent) string {
	if charge := intent.LatestCharge; charge != nil {
		if charge.Disputed {
			return StatusChargeBack
		}
		if charge.Refunded || (charge.Amount > 0 && charge.AmountRefunded >= charge.Amount) {
			return StatusRefunded
		}
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusApproved
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		return StatusRejected
	case stripe.PaymentIntentStatusProcessing:
		return StatusInProcess
	default:
		return StatusPending
	}
}

// StripeNotification is the part of a Stripe event needed for reconciliation.
type StripeNotification struct {
	EventID         string
	Type            string
	PaymentIntentID string
}

// ErrInvalidStripeSignature is returned when a Stripe event fails signature verification.
var ErrInvalidStripeSignature = errors.New("stripe: invalid webhook signature")

// ParseWebhook verifies the Stripe-Signature header and extracts the payment intent id.
// A gateway without a webhook secret rejects every event.
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (StripeNotification, error) {
	if g == nil || g.webhookSecret == "" {
		return StripeNotification{}, ErrInvalidStripeSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return StripeNotification{}, fmt.Errorf("%w: %v", ErrInvalidStripeSignature, err)
	}
	n := StripeNotification{EventID: event.ID, Type: string(event.Type)}
	if event.Data == nil || event.Data.Object == nil {
		return n, nil
	}
	obj := event.Data.Object
	switch {
	case strings.HasPrefix(n.Type, "payment_intent."):
		n.PaymentIntentID, _ = obj["id"].(string)
	case strings.HasPrefix(n.Type, "charge."):
		n.PaymentIntentID, _ = obj["payment_intent"].(string)
	case strings.HasPrefix(n.Type, "checkout.session."):
		n.PaymentIntentID, _ = obj["payment_intent"].(string)
	}
	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
