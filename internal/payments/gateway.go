package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
)

// Provider keys.
const (
	ProviderMercadoPago = "mercadopago"
	ProviderStripe      = "stripe"
)

// Normalised payment statuses. Provider specific vocabularies are mapped onto these values
// before reconciliation.
const (
	StatusApproved   = "approved"
	StatusPending    = "pending"
	StatusInProcess  = "in_process"
	StatusRejected   = "rejected"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
	StatusChargeBack = "charged_back"
)

var (
	// ErrUnsupportedProvider is returned when no gateway is registered for a key.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrGatewayUnavailable marks transport failures, timeouts and provider 5xx responses. Callers may retry.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrGatewayRejected marks requests the provider refused (4xx) or responses that could not be interpreted.
	ErrGatewayRejected = errors.New("payments: gateway rejected request")
)

// PreferenceItem is a priced line sent to the provider. UnitPrice is in minor units.
type PreferenceItem struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice int64
}

// ReturnURLs are the browser redirect targets after checkout.
type ReturnURLs struct {
	Success string
	Pending string
	Failure string
}

// Payer carries optional buyer details used to pre-fill the provider checkout.
type Payer struct {
	Name  string
	Email string
	Phone string
}

// PreferenceRequest asks a provider for a hosted checkout.
type PreferenceRequest struct {
	OrderID         int64
	Items           []PreferenceItem
	Currency        string
	ReturnURLs      ReturnURLs
	NotificationURL string
	Payer           *Payer
}

// Preference is the provider checkout created for an order.
type Preference struct {
	ID          string
	Provider    string
	RedirectURL string
	SandboxURL  string
}

// PaymentDetails is the provider view of a payment. Amount is in minor units.
type PaymentDetails struct {
	Provider          string
	PaymentID         string
	ExternalReference string
	Status            string
	Amount            int64
	Currency          string
	PaymentMethod     string
	Raw               json.RawMessage
}

// Gateway is implemented by each payment provider adapter.
type Gateway interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error)
	FetchPayment(ctx context.Context, paymentID string) (PaymentDetails, error)
}

// ExternalReference renders the order id the way it is sent to providers.
func ExternalReference(orderID int64) string {
	return fmt.Sprintf("%d", orderID)
}

func rawJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil || len(data) == 0 || string(data) == "null" {
		return json.RawMessage(`{}`)
	}
	return data
}

func toMajorUnits(minor int64) float64 {
	return float64(minor) / 100
}

func toMinorUnits(major float64) int64 {
	if major < 0 {
		return -toMinorUnits(-major)
	}
	return int64(major*100 + 0.5)
}

// classifyError wraps err with ErrGatewayUnavailable or ErrGatewayRejected. Provider SDK error
// values expose the HTTP status either through a StatusCode field or an HTTPStatusCode field.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, ErrGatewayRejected) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, op, err)
	}
	if status, ok := httpStatusOf(err); ok {
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s: status %d: %v", ErrGatewayUnavailable, op, status, err)
		}
		return fmt.Errorf("%w: %s: status %d: %v", ErrGatewayRejected, op, status, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, op, err)
}

func httpStatusOf(err error) (int, bool) {
	for e := err; e != nil; e = errors.Unwrap(e) {
		v := reflect.ValueOf(e)
		for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
			if v.IsNil() {
				break
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			continue
		}
		for _, name := range []string{"StatusCode", "HTTPStatusCode"} {
			f := v.FieldByName(name)
			if f.IsValid() && f.CanInt() && f.Int() > 0 {
				return int(f.Int()), true
			}
		}
	}
	return 0, false
}
