package payments

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// MockGateway is an in-process gateway for local development. Payment ids of the form
// "<orderID>:<status>[:<amount>]" resolve without prior registration, which lets a developer
// drive the webhook flow with hand-signed notifications.
type MockGateway struct {
	provider string
	baseURL  string

	mu       sync.Mutex
	payments map[string]PaymentDetails
	created  []PreferenceRequest
}

// NewMockGateway constructs a MockGateway reporting itself as provider.
func NewMockGateway(provider, baseURL string) *MockGateway {
	if provider == "" {
		provider = ProviderMercadoPago
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080/mock-checkout"
	}
	return &MockGateway{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		payments: make(map[string]PaymentDetails),
	}
}

// PutPayment registers a payment returned by FetchPayment.
func (g *MockGateway) PutPayment(details PaymentDetails) {
	g.mu.Lock()
	defer g.mu.Unlock()
	details.Provider = g.provider
	g.payments[details.PaymentID] = details
}

// Preferences returns the preference requests seen so far.
func (g *MockGateway) Preferences() []PreferenceRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]PreferenceRequest(nil), g.created...)
}

// CreatePreference implements Gateway.
func (g *MockGateway) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	if err := ctx.Err(); err != nil {
		return Preference{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if len(req.Items) == 0 {
		return Preference{}, fmt.Errorf("%w: preference requires items", ErrGatewayRejected)
	}
	g.mu.Lock()
	g.created = append(g.created, req)
	g.mu.Unlock()

	id := fmt.Sprintf("mock-pref-%d", req.OrderID)
	return Preference{
		ID:          id,
		Provider:    g.provider,
		RedirectURL: g.baseURL + "/" + id,
		SandboxURL:  g.baseURL + "/" + id,
	}, nil
}

// FetchPayment implements Gateway.
func (g *MockGateway) FetchPayment(ctx context.Context, paymentID string) (PaymentDetails, error) {
	if err := ctx.Err(); err != nil {
		return PaymentDetails{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	g.mu.Lock()
	details, ok := g.payments[paymentID]
	g.mu.Unlock()
	if ok {
		return details, nil
	}

	parts := strings.Split(paymentID, ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return PaymentDetails{}, fmt.Errorf("%w: unknown mock payment %q", ErrGatewayRejected, paymentID)
	}
	details = PaymentDetails{
		Provider:          g.provider,
		PaymentID:         paymentID,
		ExternalReference: parts[0],
		Status:            strings.ToLower(parts[1]),
		PaymentMethod:     "mock",
		Raw:               rawJSON(map[string]string{"id": paymentID, "status": parts[1]}),
	}
	if len(parts) > 2 {
		amount, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return PaymentDetails{}, fmt.Errorf("%w: invalid mock amount %q", ErrGatewayRejected, parts[2])
		}
		details.Amount = amount
	}
	return details, nil
}
