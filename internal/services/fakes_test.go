package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/payments"
	"github.com/pulsera/api/internal/repositories"
)

type testRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *testRepoError) Error() string       { return e.msg }
func (e *testRepoError) IsNotFound() bool    { return e.notFound }
func (e *testRepoError) IsConflict() bool    { return e.conflict }
func (e *testRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(what string) error {
	return &testRepoError{msg: what + " not found", notFound: true}
}

// memoryStore is an in-memory stand-in for the Postgres registry. RunInTx restores a snapshot
// when fn fails.
type memoryStore struct {
	nextOrderID    int64
	nextItemID     int64
	nextPhotoID    int64
	nextPaymentID  int64
	nextCustomerID int64

	orders    map[int64]domain.Order
	items     map[int64][]domain.OrderItem
	photos    map[int64][]domain.OrderItemPhoto
	customers map[int64]domain.Customer
	payments  map[string]domain.Payment

	products map[int64]domain.Product
	variants map[int64]domain.ProductVariant
	addons   map[int64]domain.Addon

	catalogCalls int

	createItemsErr error
	attachErr      error
	customerErr    error
	// beforeUpdate runs ahead of every conditional status update.
	beforeUpdate func(update repositories.StatusUpdate)
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders:    map[int64]domain.Order{},
		items:     map[int64][]domain.OrderItem{},
		photos:    map[int64][]domain.OrderItemPhoto{},
		customers: map[int64]domain.Customer{},
		payments:  map[string]domain.Payment{},
		products:  map[int64]domain.Product{},
		variants:  map[int64]domain.ProductVariant{},
		addons:    map[int64]domain.Addon{},
	}
}

type memorySnapshot struct {
	ids       [5]int64
	orders    map[int64]domain.Order
	items     map[int64][]domain.OrderItem
	photos    map[int64][]domain.OrderItemPhoto
	customers map[int64]domain.Customer
	payments  map[string]domain.Payment
}

func (m *memoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		ids:       [5]int64{m.nextOrderID, m.nextItemID, m.nextPhotoID, m.nextPaymentID, m.nextCustomerID},
		orders:    maps.Clone(m.orders),
		items:     map[int64][]domain.OrderItem{},
		photos:    map[int64][]domain.OrderItemPhoto{},
		customers: maps.Clone(m.customers),
		payments:  maps.Clone(m.payments),
	}
	for k, v := range m.items {
		snap.items[k] = slices.Clone(v)
	}
	for k, v := range m.photos {
		snap.photos[k] = slices.Clone(v)
	}
	return snap
}

func (m *memoryStore) restore(snap memorySnapshot) {
	m.nextOrderID, m.nextItemID, m.nextPhotoID, m.nextPaymentID, m.nextCustomerID = snap.ids[0], snap.ids[1], snap.ids[2], snap.ids[3], snap.ids[4]
	m.orders = snap.orders
	m.items = snap.items
	m.photos = snap.photos
	m.customers = snap.customers
	m.payments = snap.payments
}

func (m *memoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := m.snapshot()
	if err := fn(ctx); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memoryStore) CreateOrder(_ context.Context, order repositories.NewOrder) (domain.Order, error) {
	m.nextOrderID++
	created := domain.Order{
		ID:          m.nextOrderID,
		Status:      domain.OrderStatusPendingPayment,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		AccessToken: order.AccessToken,
		CustomerID:  order.CustomerID,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.CreatedAt,
	}
	m.orders[created.ID] = created
	return created, nil
}

func (m *memoryStore) CreateOrderItems(_ context.Context, orderID int64, items []domain.OrderItem) ([]domain.OrderItem, error) {
	if m.createItemsErr != nil {
		return nil, m.createItemsErr
	}
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		m.nextItemID++
		item.ID = m.nextItemID
		item.OrderID = orderID
		item.LineTotal = item.UnitPrice * int64(item.Quantity)
		m.items[orderID] = append(m.items[orderID], item)
		out = append(out, item)
	}
	return out, nil
}

func (m *memoryStore) AttachPhotos(_ context.Context, orderItemID int64, photos []domain.OrderItemPhoto) error {
	if m.attachErr != nil {
		return m.attachErr
	}
	if len(m.photos[orderItemID])+len(photos) > domain.MaxPhotosPerItem {
		return &testRepoError{msg: "too many photos", conflict: true}
	}
	for _, photo := range photos {
		m.nextPhotoID++
		photo.ID = m.nextPhotoID
		photo.OrderItemID = orderItemID
		m.photos[orderItemID] = append(m.photos[orderItemID], photo)
	}
	return nil
}

func (m *memoryStore) GetOrder(_ context.Context, orderID int64) (domain.Order, error) {
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("order")
	}
	return order, nil
}

func (m *memoryStore) GetOrderByIDAndToken(_ context.Context, orderID int64, token string) (domain.Order, error) {
	order, ok := m.orders[orderID]
	if !ok || token == "" || order.AccessToken != token {
		return domain.Order{}, notFoundErr("order")
	}
	return order, nil
}

func (m *memoryStore) ListItems(_ context.Context, orderID int64) ([]domain.OrderItem, error) {
	items := slices.Clone(m.items[orderID])
	for i := range items {
		items[i].Photos = slices.Clone(m.photos[items[i].ID])
	}
	return items, nil
}

func (m *memoryStore) ListOrders(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	ids := slices.Collect(maps.Keys(m.orders))
	slices.Sort(ids)
	slices.Reverse(ids)
	var out []domain.Order
	for _, id := range ids {
		order := m.orders[id]
		if filter.AfterID > 0 && id >= filter.AfterID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.Status) {
			continue
		}
		out = append(out, order)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) UpdateStatus(_ context.Context, update repositories.StatusUpdate) (domain.Order, error) {
	if m.beforeUpdate != nil {
		m.beforeUpdate(update)
	}
	order, ok := m.orders[update.OrderID]
	if !ok {
		return domain.Order{}, notFoundErr("order")
	}
	if order.Status != update.From {
		return domain.Order{}, &testRepoError{msg: fmt.Sprintf("status is %s", order.Status), conflict: true}
	}
	order.Status = update.To
	if update.TrackingNumber != nil {
		order.TrackingNumber = update.TrackingNumber
	}
	if update.PaymentMethod != nil {
		order.PaymentMethod = update.PaymentMethod
	}
	order.UpdatedAt = update.At
	m.orders[order.ID] = order
	return order, nil
}

func (m *memoryStore) SetPreference(_ context.Context, orderID int64, provider, preferenceID string, at time.Time) error {
	order, ok := m.orders[orderID]
	if !ok {
		return notFoundErr("order")
	}
	order.PaymentProvider = &provider
	order.PreferenceID = &preferenceID
	order.UpdatedAt = at
	m.orders[orderID] = order
	return nil
}

func (m *memoryStore) ProductsByIDs(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	m.catalogCalls++
	out := map[int64]domain.Product{}
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memoryStore) VariantsByIDs(_ context.Context, ids []int64) (map[int64]domain.ProductVariant, error) {
	m.catalogCalls++
	out := map[int64]domain.ProductVariant{}
	for _, id := range ids {
		if v, ok := m.variants[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (m *memoryStore) ActiveAddonsByIDs(_ context.Context, ids []int64) (map[int64]domain.Addon, error) {
	m.catalogCalls++
	out := map[int64]domain.Addon{}
	for _, id := range ids {
		if a, ok := m.addons[id]; ok && a.Active {
			out[id] = a
		}
	}
	return out, nil
}

func (m *memoryStore) Create(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	if m.customerErr != nil {
		return domain.Customer{}, m.customerErr
	}
	m.nextCustomerID++
	customer.ID = m.nextCustomerID
	m.customers[customer.ID] = customer
	return customer, nil
}

func (m *memoryStore) FindByID(_ context.Context, customerID int64) (domain.Customer, error) {
	c, ok := m.customers[customerID]
	if !ok {
		return domain.Customer{}, notFoundErr("customer")
	}
	return c, nil
}

func (m *memoryStore) Upsert(_ context.Context, p repositories.PaymentUpsert) (domain.Payment, error) {
	key := p.Provider + "|" + p.ProviderPaymentID
	existing, ok := m.payments[key]
	if !ok {
		m.nextPaymentID++
		existing = domain.Payment{ID: m.nextPaymentID, Provider: p.Provider, ProviderPaymentID: p.ProviderPaymentID, CreatedAt: p.At}
	}
	existing.OrderID = p.OrderID
	existing.Status = p.Status
	existing.Amount = p.Amount
	existing.Currency = p.Currency
	existing.RawPayload = p.RawPayload
	existing.UpdatedAt = p.At
	m.payments[key] = existing
	return existing, nil
}

func (m *memoryStore) ListByOrder(_ context.Context, orderID int64) ([]domain.Payment, error) {
	var out []domain.Payment
	for _, p := range m.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Payment) int { return int(a.ID - b.ID) })
	return out, nil
}

func (m *memoryStore) addProduct(id, price int64, active bool) {
	m.products[id] = domain.Product{ID: id, Name: fmt.Sprintf("Pulsera %d", id), Price: price, Active: active}
}

// paymentsFor counts stored payments for an order.
func (m *memoryStore) paymentsFor(orderID int64) int {
	n := 0
	for _, p := range m.payments {
		if p.OrderID == orderID {
			n++
		}
	}
	return n
}

type recordedStatusMail struct {
	order    domain.Order
	email    string
	previous domain.OrderStatus
}

type captureNotifications struct {
	confirmations []domain.Order
	customers     []*domain.Customer
	statusUpdates []recordedStatusMail
}

func (c *captureNotifications) SendOrderConfirmation(_ context.Context, order domain.Order, customer *domain.Customer) {
	c.confirmations = append(c.confirmations, order)
	c.customers = append(c.customers, customer)
}

func (c *captureNotifications) SendStatusUpdate(_ context.Context, order domain.Order, email string, previous domain.OrderStatus) {
	c.statusUpdates = append(c.statusUpdates, recordedStatusMail{order: order, email: email, previous: previous})
}

type captureEvents struct {
	events []domain.OrderEvent
	err    error
}

func (c *captureEvents) PublishOrderEvent(_ context.Context, event domain.OrderEvent) (string, error) {
	c.events = append(c.events, event)
	return event.ID, c.err
}

type captureLogs struct {
	entries []string
	fields  []map[string]any
}

func (c *captureLogs) log(_ context.Context, event string, fields map[string]any) {
	c.entries = append(c.entries, event)
	c.fields = append(c.fields, fields)
}

func (c *captureLogs) has(event string) bool {
	return slices.Contains(c.entries, event)
}

type stubPreferences struct {
	providers []string
	requests  []payments.PreferenceRequest
	err       error
}

func (s *stubPreferences) Has(provider string) bool {
	return slices.Contains(s.providers, provider)
}

func (s *stubPreferences) CreatePreference(_ context.Context, preferred string, req payments.PreferenceRequest) (payments.Preference, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return payments.Preference{}, s.err
	}
	provider := preferred
	if provider == "" {
		provider = payments.ProviderMercadoPago
	}
	id := fmt.Sprintf("pref-%d", req.OrderID)
	return payments.Preference{ID: id, Provider: provider, RedirectURL: "https://pay.example/" + id}, nil
}

func fixedClock() func() time.Time {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func ptr[T any](v T) *T { return &v }
