package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

type fakeStripeSessions struct {
	params *stripe.CheckoutSessionParams
	resp   *stripe.CheckoutSession
	err    error
}

func (f *fakeStripeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	return f.resp, f.err
}

type fakeStripeIntents struct {
	resp *stripe.PaymentIntent
	err  error
}

func (f *fakeStripeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return f.resp, f.err
}

const testStripeSecret = "whsec_test"

func newTestStripe(t *testing.T, sessions *fakeStripeSessions, intents *fakeStripeIntents) *StripeGateway {
	t.Helper()
	g, err := NewStripeGateway(StripeConfig{WebhookSecret: testStripeSecret, sessions: sessions, intents: intents})
	require.NoError(t, err)
	return g
}

func TestStripeCreatePreference(t *testing.T) {
	sessions := &fakeStripeSessions{resp: &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}}
	g := newTestStripe(t, sessions, &fakeStripeIntents{})

	pref, err := g.CreatePreference(context.Background(), PreferenceRequest{
		OrderID:    5,
		Currency:   "ARS",
		Items:      []PreferenceItem{{Title: "Pulsera", Quantity: 1, UnitPrice: 100000}},
		ReturnURLs: ReturnURLs{Success: "https://shop/ok", Failure: "https://shop/fail"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", pref.ID)
	assert.Equal(t, ProviderStripe, pref.Provider)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test_1", pref.RedirectURL)

	p := sessions.params
	require.NotNil(t, p)
	assert.Equal(t, "5", *p.ClientReferenceID)
	assert.Equal(t, "5", p.PaymentIntentData.Metadata["order_id"])
	assert.Equal(t, "https://shop/fail", *p.CancelURL)
	require.Len(t, p.LineItems, 1)
	assert.Equal(t, "ars", *p.LineItems[0].PriceData.Currency)
	assert.Equal(t, int64(100000), *p.LineItems[0].PriceData.UnitAmount)
}

func TestStripeFetchPaymentStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		intent *stripe.PaymentIntent
		want   string
	}{
		{name: "succeeded", intent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded}, want: StatusApproved},
		{name: "canceled", intent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusCanceled}, want: StatusRejected},
		{name: "requires payment method", intent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusRequiresPaymentMethod}, want: StatusRejected},
		{name: "processing", intent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusProcessing}, want: StatusInProcess},
		{name: "refunded", intent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded, LatestCharge: &stripe.Charge{Amount: 100, AmountRefunded: 100}}, want: StatusRefunded},
		{name: "disputed", intent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusSucceeded, LatestCharge: &stripe.Charge{Disputed: true}}, want: StatusChargeBack},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.intent.ID = "pi_1"
			tc.intent.Metadata = map[string]string{"order_id": "5"}
			g := newTestStripe(t, &fakeStripeSessions{}, &fakeStripeIntents{resp: tc.intent})
			details, err := g.FetchPayment(context.Background(), "pi_1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, details.Status)
			assert.Equal(t, "5", details.ExternalReference)
		})
	}
}

func TestStripeParseWebhook(t *testing.T) {
	g := newTestStripe(t, &fakeStripeSessions{}, &fakeStripeIntents{})
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","object":"payment_intent"}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testStripeSecret,
		Timestamp: time.Now(),
	})
	n, err := g.ParseWebhook(payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, StripeNotification{EventID: "evt_1", Type: "payment_intent.succeeded", PaymentIntentID: "pi_123"}, n)

	_, err = g.ParseWebhook(payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidStripeSignature)

	unconfigured, err := NewStripeGateway(StripeConfig{sessions: &fakeStripeSessions{}, intents: &fakeStripeIntents{}})
	require.NoError(t, err)
	_, err = unconfigured.ParseWebhook(payload, signed.Header)
	assert.ErrorIs(t, err, ErrInvalidStripeSignature)
}
