package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
)

// GatewayLogger matches the event logger used across services.
type GatewayLogger func(ctx context.Context, event string, fields map[string]any)

type mpPreferenceAPI interface {
	Create(ctx context.Context, request preference.Request) (*preference.Response, error)
}

type mpPaymentAPI interface {
	Get(ctx context.Context, id int) (*payment.Response, error)
}

// MercadoPagoConfig configures MercadoPagoGateway.
type MercadoPagoConfig struct {
	AccessToken string
	Timeout     time.Duration
	Logger      GatewayLogger

	preferences mpPreferenceAPI
	payments    mpPaymentAPI
}

// MercadoPagoGateway creates Checkout Pro preferences and looks up payments.
type MercadoPagoGateway struct {
	preferences mpPreferenceAPI
	payments    mpPaymentAPI
	timeout     time.Duration
	logger      GatewayLogger
}

// NewMercadoPagoGateway constructs the adapter from an access token.
func NewMercadoPagoGateway(cfg MercadoPagoConfig) (*MercadoPagoGateway, error) {
	g := &MercadoPagoGateway{
		preferences: cfg.preferences,
		payments:    cfg.payments,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}
	if g.preferences == nil || g.payments == nil {
		token := strings.TrimSpace(cfg.AccessToken)
		if token == "" {
			return nil, errors.New("mercadopago: access token is required")
		}
		sdkCfg, err := config.New(token)
		if err != nil {
			return nil, fmt.Errorf("mercadopago: sdk config: %w", err)
		}
		g.preferences = preference.NewClient(sdkCfg)
		g.payments = payment.NewClient(sdkCfg)
	}
	if g.timeout <= 0 {
		g.timeout = 15 * time.Second
	}
	if g.logger == nil {
		g.logger = func(context.Context, string, map[string]any) {}
	}
	return g, nil
}

// CreatePreference implements Gateway.
func (g *MercadoPagoGateway) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	if len(req.Items) == 0 {
		return Preference{}, fmt.Errorf("%w: preference requires items", ErrGatewayRejected)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))

	items := make([]preference.ItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, preference.ItemRequest{
			ID:         item.ID,
			Title:      item.Title,
			Quantity:   item.Quantity,
			UnitPrice:  toMajorUnits(item.UnitPrice),
			CurrencyID: currency,
		})
	}

	request := preference.Request{
		Items:             items,
		ExternalReference: ExternalReference(req.OrderID),
		NotificationURL:   strings.TrimSpace(req.NotificationURL),
	}
	if urls := req.ReturnURLs; urls.Success != "" || urls.Pending != "" || urls.Failure != "" {
		request.BackURLs = &preference.BackURLsRequest{
			Success: urls.Success,
			Pending: urls.Pending,
			Failure: urls.Failure,
		}
		if urls.Success != "" {
			request.AutoReturn = "approved"
		}
	}
	if p := req.Payer; p != nil {
		request.Payer = &preference.PayerRequest{Name: p.Name, Email: p.Email}
		if p.Phone != "" {
			request.Payer.Phone = &preference.PhoneRequest{Number: p.Phone}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	resp, err := g.preferences.Create(ctx, request)
	if err != nil {
		return Preference{}, classifyError("mercadopago create preference", err)
	}
	if resp == nil || resp.ID == "" {
		return Preference{}, fmt.Errorf("%w: mercadopago returned an empty preference", ErrGatewayRejected)
	}

	g.logger(ctx, "payments.mercadopago.preference.created", map[string]any{
		"orderId":      req.OrderID,
		"preferenceId": resp.ID,
	})
	return Preference{
		ID:          resp.ID,
		Provider:    ProviderMercadoPago,
		RedirectURL: resp.InitPoint,
		SandboxURL:  resp.SandboxInitPoint,
	}, nil
}

// FetchPayment implements Gateway. Mercado Pago payment ids are numeric.
func (g *MercadoPagoGateway) FetchPayment(ctx context.Context, paymentID string) (PaymentDetails, error) {
	id, err := strconv.Atoi(strings.TrimSpace(paymentID))
	if err != nil || id <= 0 {
		return PaymentDetails{}, fmt.Errorf("%w: invalid mercadopago payment id %q", ErrGatewayRejected, paymentID)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	resp, err := g.payments.Get(ctx, id)
	if err != nil {
		return PaymentDetails{}, classifyError("mercadopago get payment", err)
	}
	if resp == nil {
		return PaymentDetails{}, fmt.Errorf("%w: mercadopago returned an empty payment", ErrGatewayRejected)
	}

	return PaymentDetails{
		Provider:          ProviderMercadoPago,
		PaymentID:         strconv.Itoa(resp.ID),
		ExternalReference: strings.TrimSpace(resp.ExternalReference),
		Status:            strings.ToLower(strings.TrimSpace(resp.Status)),
		Amount:            toMinorUnits(resp.TransactionAmount),
		Currency:          strings.ToUpper(resp.CurrencyID),
		PaymentMethod:     resp.PaymentMethodID,
		Raw:               rawJSON(resp),
	}, nil
}
