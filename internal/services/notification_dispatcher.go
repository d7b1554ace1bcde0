package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/platform/mail"
	"github.com/pulsera/api/internal/repositories"
)

const defaultNotificationTimeout = 10 * time.Second

// NotificationDispatcherDeps wires the email dispatcher.
type NotificationDispatcherDeps struct {
	Sender          mail.Sender
	Catalog         repositories.CatalogRepository
	AdminRecipients []string
	// LookupURL is the storefront order page; "/{id}?token={token}" is appended.
	LookupURL string
	Timeout   time.Duration
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type notificationDispatcher struct {
	sender    mail.Sender
	catalog   repositories.CatalogRepository
	admins    []mail.Address
	lookupURL string
	timeout   time.Duration
	logger    func(context.Context, string, map[string]any)
}

// NewNotificationDispatcher constructs a NotificationDispatcher.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (NotificationDispatcher, error) {
	if deps.Sender == nil {
		return nil, errors.New("notification dispatcher: sender is required")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultNotificationTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	admins := make([]mail.Address, 0, len(deps.AdminRecipients))
	for _, email := range deps.AdminRecipients {
		if email = strings.TrimSpace(email); email != "" {
			admins = append(admins, mail.Address{Email: email})
		}
	}
	return &notificationDispatcher{
		sender:    deps.Sender,
		catalog:   deps.Catalog,
		admins:    admins,
		lookupURL: strings.TrimRight(strings.TrimSpace(deps.LookupURL), "/"),
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// SendOrderConfirmation emails the customer, when an address is known, and the back office.
func (d *notificationDispatcher) SendOrderConfirmation(ctx context.Context, order domain.Order, customer *domain.Customer) {
	summary := d.summary(ctx, order)
	if customer != nil {
		summary.CustomerName = customer.Name
	}

	if customer != nil && customer.Email != nil && strings.TrimSpace(*customer.Email) != "" {
		msg, err := mail.RenderOrderConfirmation(summary)
		if err != nil {
			d.failed(ctx, "order_confirmation", order.ID, err)
		} else {
			msg.To = []mail.Address{{Name: customer.Name, Email: *customer.Email}}
			d.send(ctx, "order_confirmation", order.ID, msg)
		}
	}

	if len(d.admins) > 0 {
		// Back-office copies never carry the customer's access link.
		summary.LookupURL = ""
		msg, err := mail.RenderAdminCopy(summary)
		if err != nil {
			d.failed(ctx, "order_admin_copy", order.ID, err)
			return
		}
		msg.To = d.admins
		d.send(ctx, "order_admin_copy", order.ID, msg)
	}
}

// SendStatusUpdate emails the customer about a status change.
func (d *notificationDispatcher) SendStatusUpdate(ctx context.Context, order domain.Order, customerEmail string, previous domain.OrderStatus) {
	customerEmail = strings.TrimSpace(customerEmail)
	if customerEmail == "" {
		return
	}
	summary := mail.OrderSummary{
		OrderID:        order.ID,
		Status:         string(order.Status),
		PreviousStatus: string(previous),
		Currency:       order.Currency,
		Total:          order.TotalAmount,
		LookupURL:      d.orderURL(order),
	}
	if order.TrackingNumber != nil {
		summary.TrackingNumber = *order.TrackingNumber
	}
	msg, err := mail.RenderStatusUpdate(summary)
	if err != nil {
		d.failed(ctx, "status_update", order.ID, err)
		return
	}
	msg.To = []mail.Address{{Email: customerEmail}}
	d.send(ctx, "status_update", order.ID, msg)
}

func (d *notificationDispatcher) send(ctx context.Context, kind string, orderID int64, msg mail.Message) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	if err := d.sender.Send(sendCtx, msg); err != nil {
		d.failed(ctx, kind, orderID, err)
		return
	}
	d.logger(ctx, "notification.sent", map[string]any{
		"kind":       kind,
		"orderId":    orderID,
		"recipients": len(msg.To),
	})
}

func (d *notificationDispatcher) failed(ctx context.Context, kind string, orderID int64, err error) {
	d.logger(ctx, "notification.send.failed", map[string]any{
		"kind":    kind,
		"orderId": orderID,
		"error":   err.Error(),
	})
}

func (d *notificationDispatcher) summary(ctx context.Context, order domain.Order) mail.OrderSummary {
	summary := mail.OrderSummary{
		OrderID:   order.ID,
		Status:    string(order.Status),
		Currency:  order.Currency,
		Total:     order.TotalAmount,
		LookupURL: d.orderURL(order),
	}
	names := d.productNames(ctx, order.Items)
	for _, item := range order.Items {
		line := mail.LineSummary{
			Description: names[item.ProductID],
			Quantity:    item.Quantity,
			LineTotal:   item.LineTotal,
		}
		if line.Description == "" {
			line.Description = fmt.Sprintf("Producto %d", item.ProductID)
		}
		var parts []string
		for _, p := range []*string{item.PersonalizationFront, item.PersonalizationBack} {
			if p != nil && *p != "" {
				parts = append(parts, *p)
			}
		}
		line.Personalization = strings.Join(parts, " / ")
		summary.Lines = append(summary.Lines, line)
	}
	return summary
}

func (d *notificationDispatcher) productNames(ctx context.Context, items []domain.OrderItem) map[int64]string {
	names := make(map[int64]string)
	if d.catalog == nil || len(items) == 0 {
		return names
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := d.catalog.ProductsByIDs(ctx, uniqueIDs(ids))
	if err != nil {
		d.logger(ctx, "notification.catalog.lookup.failed", map[string]any{"error": err.Error()})
		return names
	}
	for id, p := range products {
		names[id] = p.Name
	}
	return names
}

func (d *notificationDispatcher) orderURL(order domain.Order) string {
	if d.lookupURL == "" || order.AccessToken == "" {
		return ""
	}
	return fmt.Sprintf("%s/%d?token=%s", d.lookupURL, order.ID, url.QueryEscape(order.AccessToken))
}
