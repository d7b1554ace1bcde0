package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pulsera/api/internal/payments"
	"github.com/pulsera/api/internal/platform/config"
	"github.com/pulsera/api/internal/platform/mail"
	"github.com/pulsera/api/internal/platform/observability"
	"github.com/pulsera/api/internal/repositories"
	"github.com/pulsera/api/internal/services"
)

const mockCheckoutBaseURL = "https://sandbox.pulsera.local/checkout"

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Checkout       services.CheckoutService
	Orders         services.OrderService
	Reconciliation services.ReconciliationService
	Notifications  services.NotificationDispatcher
}

// Container wires repositories, payment gateways and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Payments     *payments.Manager
	// Stripe is set when a Stripe key is configured; it parses signed webhook deliveries.
	Stripe   *payments.StripeGateway
	Services Services
}

// Option customises container construction.
type Option func(*options)

type options struct {
	logger *zap.Logger
	sender mail.Sender
	events services.OrderEventPublisher
	clock  func() time.Time
}

// WithLogger sets the base logger used for event logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMailSender overrides the mail transport. When absent SendGrid is used if configured,
// otherwise messages are only logged.
func WithMailSender(sender mail.Sender) Option {
	return func(o *options) {
		o.sender = sender
	}
}

// WithEventPublisher enables order event publishing.
func WithEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *options) {
		o.events = publisher
	}
}

// WithClock overrides the clock shared by services.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// NewContainer constructs the runtime dependencies around the provided repository registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logEvent := observability.EventLogger(o.logger)

	manager, stripeGateway, err := buildPayments(cfg.PSP, logEvent)
	if err != nil {
		return nil, err
	}

	sender := o.sender
	if sender == nil {
		sender, err = buildMailSender(cfg.Mail, logEvent)
		if err != nil {
			return nil, err
		}
	}

	svc, err := buildServices(cfg, reg, manager, sender, o, logEvent)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Payments:     manager,
		Stripe:       stripeGateway,
		Services:     svc,
	}, nil
}

// Close releases resources owned by the container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildPayments(cfg config.PSPConfig, logEvent observability.EventLogFunc) (*payments.Manager, *payments.StripeGateway, error) {
	gateways := make(map[string]payments.Gateway)
	var stripeGateway *payments.StripeGateway

	if cfg.Mock {
		gateways[payments.ProviderMercadoPago] = payments.NewMockGateway(payments.ProviderMercadoPago, mockCheckoutBaseURL)
		gateways[payments.ProviderStripe] = payments.NewMockGateway(payments.ProviderStripe, mockCheckoutBaseURL)
	} else {
		if token := strings.TrimSpace(cfg.MercadoPagoAccessToken); token != "" {
			gw, err := payments.NewMercadoPagoGateway(payments.MercadoPagoConfig{
				AccessToken: token,
				Timeout:     cfg.Timeout,
				Logger:      payments.GatewayLogger(logEvent),
			})
			if err != nil {
				return nil, nil, fmt.Errorf("build mercadopago gateway: %w", err)
			}
			gateways[payments.ProviderMercadoPago] = gw
		}
		if key := strings.TrimSpace(cfg.StripeAPIKey); key != "" {
			gw, err := payments.NewStripeGateway(payments.StripeConfig{
				APIKey:        key,
				WebhookSecret: cfg.StripeWebhookSecret,
				Timeout:       cfg.Timeout,
				Logger:        payments.GatewayLogger(logEvent),
			})
			if err != nil {
				return nil, nil, fmt.Errorf("build stripe gateway: %w", err)
			}
			gateways[payments.ProviderStripe] = gw
			stripeGateway = gw
		}
	}
	if len(gateways) == 0 {
		return nil, nil, errors.New("no payment provider configured")
	}

	var managerOpts []payments.ManagerOption
	if _, ok := gateways[cfg.DefaultProvider]; ok {
		managerOpts = append(managerOpts, payments.WithDefaultProvider(cfg.DefaultProvider))
	}
	manager, err := payments.NewManager(gateways, managerOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, stripeGateway, nil
}

func buildMailSender(cfg config.MailConfig, logEvent observability.EventLogFunc) (mail.Sender, error) {
	key := strings.TrimSpace(cfg.SendGridAPIKey)
	if key == "" {
		return mail.NewLogSender(mail.LogFunc(logEvent)), nil
	}
	sender, err := mail.NewSendGridSender(key, mail.Address{Name: cfg.FromName, Email: cfg.From})
	if err != nil {
		return nil, fmt.Errorf("build sendgrid sender: %w", err)
	}
	return sender, nil
}

func buildServices(cfg config.Config, reg repositories.Registry, manager *payments.Manager, sender mail.Sender, o options, logEvent observability.EventLogFunc) (Services, error) {
	var svc Services

	notifications, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Sender:          sender,
		Catalog:         reg.Catalog(),
		AdminRecipients: cfg.Mail.AdminRecipients,
		LookupURL:       cfg.Mail.OrderLookupURL,
		Timeout:         cfg.Mail.Timeout,
		Logger:          logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification dispatcher: %w", err)
	}
	svc.Notifications = notifications

	pricing, err := services.NewPriceValidator(reg.Catalog(), logEvent)
	if err != nil {
		return Services{}, fmt.Errorf("build price validator: %w", err)
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:        reg.Orders(),
		Customers:     reg.Customers(),
		UnitOfWork:    reg,
		Pricing:       pricing,
		Payments:      manager,
		Notifications: notifications,
		Events:        o.events,
		Currency:      cfg.PSP.Currency,
		ReturnURLs: payments.ReturnURLs{
			Success: cfg.PSP.SuccessURL,
			Pending: cfg.PSP.PendingURL,
			Failure: cfg.PSP.FailureURL,
		},
		NotificationURL: cfg.PSP.NotificationURL,
		Clock:           o.clock,
		Logger:          logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Customers:     reg.Customers(),
		Payments:      reg.Payments(),
		Notifications: notifications,
		Events:        o.events,
		Clock:         o.clock,
		Logger:        logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	reconcileSvc, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Orders:        reg.Orders(),
		Payments:      reg.Payments(),
		Customers:     reg.Customers(),
		UnitOfWork:    reg,
		Gateway:       manager,
		Notifications: notifications,
		Events:        o.events,
		Clock:         o.clock,
		Logger:        logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconciliation service: %w", err)
	}
	svc.Reconciliation = reconcileSvc

	return svc, nil
}
