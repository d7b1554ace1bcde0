package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pulsera/api/internal/payments"
	"github.com/pulsera/api/internal/platform/auth"
	"github.com/pulsera/api/internal/platform/httpx"
	"github.com/pulsera/api/internal/services"
)

const maxWebhookBodySize = 1 << 20

// StripeWebhookParser verifies and decodes Stripe events.
type StripeWebhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) (payments.StripeNotification, error)
}

// WebhookHandlers receives payment processor notifications. Once a delivery is authenticated
// the response is always 200 so the processor does not retry deliveries the server chose to
// ignore; reconciliation failures are logged.
type WebhookHandlers struct {
	reconciler services.ReconciliationService
	verifier   *auth.SignatureVerifier
	stripe     StripeWebhookParser
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// WebhookOption customises WebhookHandlers.
type WebhookOption func(*WebhookHandlers)

// WithStripeWebhooks enables the Stripe endpoint.
func WithStripeWebhooks(parser StripeWebhookParser) WebhookOption {
	return func(h *WebhookHandlers) {
		h.stripe = parser
	}
}

// WithWebhookLogger sets the event logger.
func WithWebhookLogger(logger func(ctx context.Context, event string, fields map[string]any)) WebhookOption {
	return func(h *WebhookHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewWebhookHandlers constructs webhook handlers. A nil or unconfigured verifier rejects every
// Mercado Pago delivery.
func NewWebhookHandlers(reconciler services.ReconciliationService, verifier *auth.SignatureVerifier, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		reconciler: reconciler,
		verifier:   verifier,
		logger:     func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	verifier := h.verifier
	if verifier == nil {
		verifier = auth.NewSignatureVerifier("")
	}
	r.With(auth.RequireWebhookSignature(verifier)).Post("/mercadopago", h.mercadoPago)
	r.Post("/stripe", h.stripeEvent)
}

type mercadoPagoNotification struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
}

func (h *WebhookHandlers) mercadoPago(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "unable to read body"))
		return
	}

	query := r.URL.Query()
	var note mercadoPagoNotification
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &note); err != nil {
			h.logger(ctx, "webhook.mercadopago.body.invalid", map[string]any{"error": err.Error()})
		}
	}
	kind := firstNonBlank(query.Get("type"), query.Get("topic"), note.Type, note.Topic)
	if kind == "" && strings.HasPrefix(note.Action, "payment.") {
		kind = "payment"
	}
	paymentID := auth.WebhookDataID(query, body)
	if !strings.EqualFold(kind, "payment") || paymentID == "" {
		h.logger(ctx, "webhook.mercadopago.ignored", map[string]any{"type": kind, "dataId": paymentID})
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ignored": true})
		return
	}

	h.reconcile(ctx, w, payments.ProviderMercadoPago, paymentID)
}

func (h *WebhookHandlers) stripeEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil || h.stripe == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature invalid", http.StatusUnauthorized))
		return
	}
	note, err := h.stripe.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if !errors.Is(err, payments.ErrInvalidStripeSignature) {
			h.logger(ctx, "webhook.stripe.parse.failed", map[string]any{"error": err.Error()})
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature invalid", http.StatusUnauthorized))
		return
	}
	if note.PaymentIntentID == "" {
		h.logger(ctx, "webhook.stripe.ignored", map[string]any{"eventId": note.EventID, "type": note.Type})
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ignored": true})
		return
	}

	h.reconcile(ctx, w, payments.ProviderStripe, note.PaymentIntentID)
}

func (h *WebhookHandlers) reconcile(ctx context.Context, w http.ResponseWriter, provider, paymentID string) {
	if h.reconciler == nil {
		h.logger(ctx, "webhook.reconcile.failed", map[string]any{"provider": provider, "paymentId": paymentID, "error": "reconciler not configured"})
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	result, err := h.reconciler.ReconcilePayment(ctx, provider, paymentID)
	if err != nil {
		h.logger(ctx, "webhook.reconcile.failed", map[string]any{"provider": provider, "paymentId": paymentID, "error": err.Error()})
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if result.Outcome == services.ReconcileIgnored {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ignored": true})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
