package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Manager routes gateway calls to the registered provider adapters.
type Manager struct {
	gateways        map[string]Gateway
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider sets the provider used when the caller expresses no preference.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = normaliseKey(provider)
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = normaliseKey(v)
		}
	}
}

// NewManager constructs a Manager over the supplied gateways.
func NewManager(gateways map[string]Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	registered := make(map[string]Gateway, len(gateways))
	for k, v := range gateways {
		key := normaliseKey(k)
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{gateways: registered}
	if _, ok := registered[ProviderMercadoPago]; ok {
		m.defaultProvider = ProviderMercadoPago
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Providers lists registered provider keys.
func (m *Manager) Providers() []string {
	keys := make([]string, 0, len(m.gateways))
	for k := range m.gateways {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether provider is registered.
func (m *Manager) Has(provider string) bool {
	_, ok := m.gateways[normaliseKey(provider)]
	return ok
}

// Resolve picks the gateway for a checkout: the preferred provider when registered, then the
// currency route, then the default, then the only registered gateway.
func (m *Manager) Resolve(preferred, currency string) (string, Gateway, error) {
	if m == nil || len(m.gateways) == 0 {
		return "", nil, ErrUnsupportedProvider
	}
	if key := normaliseKey(preferred); key != "" {
		if g, ok := m.gateways[key]; ok {
			return key, g, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
	}
	if key, ok := m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		if g, ok := m.gateways[key]; ok {
			return key, g, nil
		}
	}
	if g, ok := m.gateways[m.defaultProvider]; ok {
		return m.defaultProvider, g, nil
	}
	if len(m.gateways) == 1 {
		for key, g := range m.gateways {
			return key, g, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreatePreference delegates to the resolved gateway and stamps the provider key on the result.
func (m *Manager) CreatePreference(ctx context.Context, preferred string, req PreferenceRequest) (Preference, error) {
	key, gateway, err := m.Resolve(preferred, req.Currency)
	if err != nil {
		return Preference{}, err
	}
	pref, err := gateway.CreatePreference(ctx, req)
	if err != nil {
		return Preference{}, err
	}
	pref.Provider = key
	return pref, nil
}

// FetchPayment looks the payment up with exactly the named provider.
func (m *Manager) FetchPayment(ctx context.Context, provider, paymentID string) (PaymentDetails, error) {
	if m == nil {
		return PaymentDetails{}, ErrUnsupportedProvider
	}
	key := normaliseKey(provider)
	gateway, ok := m.gateways[key]
	if !ok {
		return PaymentDetails{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
	}
	details, err := gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}

func normaliseKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
