package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/payments"
	"github.com/pulsera/api/internal/platform/textutil"
	"github.com/pulsera/api/internal/repositories"
)

const (
	accessTokenBytes        = 32
	maxPersonalizationRunes = 120
	maxEngravingFontRunes   = 60
	defaultCheckoutCurrency = "ARS"
	checkoutEventActor      = "checkout"
)

// preferenceCreator abstracts payments.Manager for easier testing.
type preferenceCreator interface {
	Has(provider string) bool
	CreatePreference(ctx context.Context, preferred string, req payments.PreferenceRequest) (payments.Preference, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders          repositories.OrderRepository
	Customers       repositories.CustomerRepository
	UnitOfWork      repositories.UnitOfWork
	Pricing         *PriceValidator
	Payments        preferenceCreator
	Notifications   NotificationDispatcher
	Events          OrderEventPublisher
	Currency        string
	ReturnURLs      payments.ReturnURLs
	NotificationURL string
	TokenGenerator  func() (string, error)
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders          repositories.OrderRepository
	customers       repositories.CustomerRepository
	unitOfWork      repositories.UnitOfWork
	pricing         *PriceValidator
	payments        preferenceCreator
	notifications   NotificationDispatcher
	events          OrderEventPublisher
	currency        string
	returnURLs      payments.ReturnURLs
	notificationURL string
	newToken        func() (string, error)
	now             func() time.Time
	logger          func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: price validator is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	tokens := deps.TokenGenerator
	if tokens == nil {
		tokens = newAccessToken
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}

	return &checkoutService{
		orders:          deps.Orders,
		customers:       deps.Customers,
		unitOfWork:      unit,
		pricing:         deps.Pricing,
		payments:        deps.Payments,
		notifications:   deps.Notifications,
		events:          deps.Events,
		currency:        currency,
		returnURLs:      deps.ReturnURLs,
		notificationURL: strings.TrimSpace(deps.NotificationURL),
		newToken:        tokens,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Checkout validates prices, stores the order with its items and photos in one transaction and
// then creates the payment preference. A preference failure leaves a PENDING_PAYMENT order and
// is reported as *CheckoutPaymentError.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	if s == nil || s.orders == nil {
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))
	if provider != "" && !s.payments.Has(provider) {
		return CheckoutResult{}, fmt.Errorf("%w: unsupported payment provider %q", ErrCheckoutInvalidInput, provider)
	}
	items, err := normaliseLineItems(cmd.Items)
	if err != nil {
		return CheckoutResult{}, err
	}
	var customerData *CustomerData
	if cmd.Customer != nil {
		normalised, err := normaliseCustomerData(*cmd.Customer)
		if err != nil {
			return CheckoutResult{}, err
		}
		customerData = &normalised
	}

	priced, err := s.pricing.Validate(ctx, items)
	if err != nil {
		return CheckoutResult{}, err
	}

	customerID, customer := s.resolveCustomer(ctx, cmd.CustomerID, customerData)

	token, err := s.newToken()
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: access token: %v", ErrCheckoutUnavailable, err)
	}

	var order domain.Order
	if err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		created, err := s.orders.CreateOrder(txCtx, repositories.NewOrder{
			CustomerID:  customerID,
			TotalAmount: priced.Total,
			Currency:    s.currency,
			AccessToken: token,
			CreatedAt:   s.now(),
		})
		if err != nil {
			return err
		}
		stored, err := s.orders.CreateOrderItems(txCtx, created.ID, buildOrderItems(priced))
		if err != nil {
			return err
		}
		for i, item := range stored {
			if i >= len(priced.Items) {
				break
			}
			photos := buildItemPhotos(priced.Items[i].Request.Photos)
			if len(photos) == 0 {
				continue
			}
			if err := s.orders.AttachPhotos(txCtx, item.ID, photos); err != nil {
				return err
			}
			stored[i].Photos = photos
		}
		created.Items = stored
		order = created
		return nil
	}); err != nil {
		s.logger(ctx, "checkout.order.create.failed", map[string]any{"error": err.Error()})
		return CheckoutResult{}, mapCheckoutRepositoryError(err)
	}

	s.publish(ctx, domain.OrderEvent{
		Type:        domain.OrderEventCreated,
		OrderID:     order.ID,
		Status:      order.Status,
		Actor:       checkoutEventActor,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
	})

	pref, err := s.payments.CreatePreference(ctx, provider, s.preferenceRequest(order, priced, customerData))
	if err != nil {
		s.logger(ctx, "checkout.preference.failed", map[string]any{
			"orderId":  order.ID,
			"provider": provider,
			"error":    err.Error(),
		})
		return CheckoutResult{}, &CheckoutPaymentError{OrderID: order.ID, Err: err}
	}
	if err := s.orders.SetPreference(ctx, order.ID, pref.Provider, pref.ID, s.now()); err != nil {
		// The preference exists at the provider and webhooks reconcile by external reference.
		s.logger(ctx, "checkout.preference.persist.failed", map[string]any{
			"orderId":      order.ID,
			"preferenceId": pref.ID,
			"error":        err.Error(),
		})
	}
	order.PreferenceID = &pref.ID
	order.PaymentProvider = &pref.Provider

	if s.notifications != nil {
		s.notifications.SendOrderConfirmation(ctx, order, customer)
	}

	s.logger(ctx, "checkout.completed", map[string]any{
		"orderId":      order.ID,
		"provider":     pref.Provider,
		"preferenceId": pref.ID,
		"total":        order.TotalAmount,
		"items":        len(order.Items),
	})

	return CheckoutResult{
		OrderID:          order.ID,
		AccessToken:      token,
		Provider:         pref.Provider,
		PreferenceID:     pref.ID,
		InitPoint:        pref.RedirectURL,
		SandboxInitPoint: pref.SandboxURL,
		TotalAmount:      order.TotalAmount,
		Currency:         order.Currency,
	}, nil
}

// resolveCustomer returns the id to link and, when available, the customer record used for the
// confirmation email. Customer creation failures never block the order.
func (s *checkoutService) resolveCustomer(ctx context.Context, customerID *int64, data *CustomerData) (*int64, *domain.Customer) {
	if customerID != nil && *customerID > 0 {
		id := *customerID
		if s.customers == nil {
			return &id, nil
		}
		existing, err := s.customers.FindByID(ctx, id)
		if err != nil {
			s.logger(ctx, "checkout.customer.lookup.failed", map[string]any{
				"customerId": id,
				"error":      err.Error(),
			})
			if isRepoNotFound(err) {
				return nil, nil
			}
			return &id, nil
		}
		return &id, &existing
	}
	if data == nil || s.customers == nil {
		return nil, nil
	}

	created, err := s.customers.Create(ctx, domain.Customer{
		Name:         data.Name,
		Phone:        data.Phone,
		Email:        data.Email,
		Address:      data.Address,
		Neighborhood: data.Neighborhood,
		Locality:     data.Locality,
		CreatedAt:    s.now(),
	})
	if err != nil {
		s.logger(ctx, "checkout.customer.create.failed", map[string]any{"error": err.Error()})
		fallback := domain.Customer{Name: data.Name, Email: data.Email}
		return nil, &fallback
	}
	return &created.ID, &created
}

func (s *checkoutService) preferenceRequest(order domain.Order, priced PricedItems, customer *CustomerData) payments.PreferenceRequest {
	req := payments.PreferenceRequest{
		OrderID:         order.ID,
		Currency:        order.Currency,
		ReturnURLs:      s.returnURLs,
		NotificationURL: s.notificationURL,
		Items:           make([]payments.PreferenceItem, 0, len(priced.Items)),
	}
	for _, item := range priced.Items {
		title := item.Product.Name
		if item.Variant != nil && item.Variant.Name != "" {
			title += " - " + item.Variant.Name
		}
		req.Items = append(req.Items, payments.PreferenceItem{
			ID:        strconv.FormatInt(item.Product.ID, 10),
			Title:     title,
			Quantity:  item.Request.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	if customer != nil {
		req.Payer = &payments.Payer{Name: customer.Name, Phone: customer.Phone}
		if customer.Email != nil {
			req.Payer.Email = *customer.Email
		}
	}
	return req
}

func (s *checkoutService) publish(ctx context.Context, event domain.OrderEvent) {
	publishOrderEvent(ctx, s.events, s.now, s.logger, event)
}

func buildOrderItems(priced PricedItems) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(priced.Items))
	for _, p := range priced.Items {
		addonIDs := make([]int64, 0, len(p.Addons))
		for _, addon := range p.Addons {
			addonIDs = append(addonIDs, addon.ID)
		}
		items = append(items, domain.OrderItem{
			ProductID:            p.Product.ID,
			ProductVariantID:     p.Request.VariantID,
			Quantity:             p.Request.Quantity,
			UnitPrice:            p.UnitPrice,
			LineTotal:            p.LineTotal,
			PersonalizationFront: p.Request.PersonalizationFront,
			PersonalizationBack:  p.Request.PersonalizationBack,
			EngravingFont:        p.Request.EngravingFont,
			SelectedAddonIDs:     addonIDs,
		})
	}
	return items
}

func buildItemPhotos(refs []PhotoRef) []domain.OrderItemPhoto {
	photos := make([]domain.OrderItemPhoto, 0, len(refs))
	for i, ref := range refs {
		photos = append(photos, domain.OrderItemPhoto{
			StoragePath: ref.StoragePath,
			PublicURL:   ref.PublicURL,
			Position:    i + 1,
		})
	}
	return photos
}

func normaliseLineItems(items []LineItemRequest) ([]LineItemRequest, error) {
	out := make([]LineItemRequest, 0, len(items))
	for i, item := range items {
		var ok bool
		if item.PersonalizationFront, ok = textutil.CleanOptional(item.PersonalizationFront, maxPersonalizationRunes); !ok {
			return nil, fmt.Errorf("%w: item %d front personalization exceeds %d characters", ErrCheckoutInvalidInput, i, maxPersonalizationRunes)
		}
		if item.PersonalizationBack, ok = textutil.CleanOptional(item.PersonalizationBack, maxPersonalizationRunes); !ok {
			return nil, fmt.Errorf("%w: item %d back personalization exceeds %d characters", ErrCheckoutInvalidInput, i, maxPersonalizationRunes)
		}
		if item.EngravingFont, ok = textutil.CleanOptional(item.EngravingFont, maxEngravingFontRunes); !ok {
			return nil, fmt.Errorf("%w: item %d engraving font exceeds %d characters", ErrCheckoutInvalidInput, i, maxEngravingFontRunes)
		}
		photos := make([]PhotoRef, 0, len(item.Photos))
		for _, photo := range item.Photos {
			photo.StoragePath = strings.TrimSpace(photo.StoragePath)
			photo.PublicURL = strings.TrimSpace(photo.PublicURL)
			if photo.StoragePath == "" {
				return nil, fmt.Errorf("%w: item %d photo storage path is required", ErrCheckoutInvalidInput, i)
			}
			photos = append(photos, photo)
		}
		item.Photos = photos
		out = append(out, item)
	}
	return out, nil
}

func normaliseCustomerData(data CustomerData) (CustomerData, error) {
	data.Name = textutil.Clean(data.Name)
	data.Phone = strings.TrimSpace(data.Phone)
	data.Address = textutil.Clean(data.Address)
	data.Locality = textutil.Clean(data.Locality)
	data.Neighborhood, _ = textutil.CleanOptional(data.Neighborhood, 0)
	if data.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*data.Email))
		data.Email = nil
		if email != "" {
			if !strings.Contains(email, "@") {
				return CustomerData{}, fmt.Errorf("%w: customer email is invalid", ErrCheckoutInvalidInput)
			}
			data.Email = &email
		}
	}

	var missing []string
	for _, field := range []struct{ name, value string }{
		{"name", data.Name},
		{"phone", data.Phone},
		{"address", data.Address},
		{"locality", data.Locality},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return CustomerData{}, fmt.Errorf("%w: customer %s required", ErrCheckoutInvalidInput, strings.Join(missing, ", "))
	}
	return data, nil
}

func newAccessToken() (string, error) {
	buf := make([]byte, accessTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
