package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/platform/postgres"
	"github.com/pulsera/api/internal/repositories"
)

const orderColumns = `id, status, total_amount, currency, payment_method, payment_provider, access_token,
	mp_preference_id, customer_id, tracking_number, created_at, updated_at`

const itemColumns = `id, order_id, product_id, product_variant_id, quantity, unit_price, line_total,
	personalization_front, personalization_back, engraving_font, selected_addons, created_at`

// OrderRepository persists orders, order items and item photos.
type OrderRepository struct {
	db *sql.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an OrderRepository over db.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateOrder inserts an order in PENDING_PAYMENT.
func (r *OrderRepository) CreateOrder(ctx context.Context, order repositories.NewOrder) (domain.Order, error) {
	now := order.CreatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if strings.TrimSpace(order.AccessToken) == "" {
		return domain.Order{}, postgres.WrapError("orders.create", errors.New("access token is required"))
	}

	row := postgres.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO orders (status, total_amount, currency, access_token, customer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+orderColumns,
		string(domain.OrderStatusPendingPayment), order.TotalAmount, order.Currency, order.AccessToken,
		nullInt64(order.CustomerID), now,
	)
	created, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, postgres.WrapError("orders.create", err)
	}
	return created, nil
}

// CreateOrderItems inserts the items under orderID. Any OrderID on the input is ignored.
func (r *OrderRepository) CreateOrderItems(ctx context.Context, orderID int64, items []domain.OrderItem) ([]domain.OrderItem, error) {
	if orderID <= 0 {
		return nil, postgres.WrapError("orders.items.create", errors.New("order id is required"))
	}
	conn := postgres.Conn(ctx, r.db)
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		addons := item.SelectedAddonIDs
		if addons == nil {
			addons = []int64{}
		}
		row := conn.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_variant_id, quantity, unit_price, line_total,
				personalization_front, personalization_back, engraving_font, selected_addons)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+itemColumns,
			orderID, item.ProductID, nullInt64(item.ProductVariantID), item.Quantity, item.UnitPrice,
			item.UnitPrice*int64(item.Quantity), nullString(item.PersonalizationFront),
			nullString(item.PersonalizationBack), nullString(item.EngravingFont), pq.Array(addons),
		)
		created, err := scanItem(row)
		if err != nil {
			return nil, postgres.WrapError("orders.items.create", err)
		}
		out = append(out, created)
	}
	return out, nil
}

// AttachPhotos appends photos to an order item.
func (r *OrderRepository) AttachPhotos(ctx context.Context, orderItemID int64, photos []domain.OrderItemPhoto) error {
	if len(photos) == 0 {
		return nil
	}
	if len(photos) > domain.MaxPhotosPerItem {
		return postgres.WrapError("orders.photos.attach", fmt.Errorf("at most %d photos per item", domain.MaxPhotosPerItem))
	}
	conn := postgres.Conn(ctx, r.db)
	for i, photo := range photos {
		position := photo.Position
		if position <= 0 {
			position = i + 1
		}
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO order_item_photos (order_item_id, storage_path, public_url, position)
			VALUES ($1, $2, $3, $4)`,
			orderItemID, photo.StoragePath, photo.PublicURL, position,
		); err != nil {
			return postgres.WrapError("orders.photos.attach", err)
		}
	}
	return nil
}

// GetOrder loads an order header by id.
func (r *OrderRepository) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	row := postgres.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, postgres.WrapError("orders.get", err)
	}
	return order, nil
}

// GetOrderByIDAndToken loads an order only when both id and access token match.
func (r *OrderRepository) GetOrderByIDAndToken(ctx context.Context, orderID int64, accessToken string) (domain.Order, error) {
	if strings.TrimSpace(accessToken) == "" {
		return domain.Order{}, postgres.NotFound("orders.get_by_token")
	}
	row := postgres.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND access_token = $2`, orderID, accessToken)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, postgres.WrapError("orders.get_by_token", err)
	}
	return order, nil
}

// ListItems returns the items of an order together with their photos.
func (r *OrderRepository) ListItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	conn := postgres.Conn(ctx, r.db)
	rows, err := conn.QueryContext(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, postgres.WrapError("orders.items.list", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	index := make(map[int64]int)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, postgres.WrapError("orders.items.list", err)
		}
		index[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.WrapError("orders.items.list", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	photoRows, err := conn.QueryContext(ctx, `
		SELECT p.id, p.order_item_id, p.storage_path, p.public_url, p.position, p.created_at
		FROM order_item_photos p
		JOIN order_items i ON i.id = p.order_item_id
		WHERE i.order_id = $1
		ORDER BY p.order_item_id, p.position`, orderID)
	if err != nil {
		return nil, postgres.WrapError("orders.photos.list", err)
	}
	defer photoRows.Close()
	for photoRows.Next() {
		var photo domain.OrderItemPhoto
		if err := photoRows.Scan(&photo.ID, &photo.OrderItemID, &photo.StoragePath, &photo.PublicURL, &photo.Position, &photo.CreatedAt); err != nil {
			return nil, postgres.WrapError("orders.photos.list", err)
		}
		if i, ok := index[photo.OrderItemID]; ok {
			items[i].Photos = append(items[i].Photos, photo)
		}
	}
	return items, postgres.WrapError("orders.photos.list", photoRows.Err())
}

// ListOrders returns order headers ordered by descending id.
func (r *OrderRepository) ListOrders(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	statuses := make([]string, 0, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses = append(statuses, string(s))
	}

	rows, err := postgres.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = 0 OR id < $1)
			AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY id DESC
		LIMIT $3`,
		filter.AfterID, pq.Array(statuses), limit,
	)
	if err != nil {
		return nil, postgres.WrapError("orders.list", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, postgres.WrapError("orders.list", err)
		}
		orders = append(orders, order)
	}
	return orders, postgres.WrapError("orders.list", rows.Err())
}

// UpdateStatus applies a compare-and-swap status change. When the stored status differs from
// update.From the call fails with a conflict error; a missing order yields not-found.
func (r *OrderRepository) UpdateStatus(ctx context.Context, update repositories.StatusUpdate) (domain.Order, error) {
	at := update.At.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	conn := postgres.Conn(ctx, r.db)
	row := conn.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $1,
			tracking_number = COALESCE($2, tracking_number),
			payment_method = COALESCE($3, payment_method),
			updated_at = $4
		WHERE id = $5 AND status = $6
		RETURNING `+orderColumns,
		string(update.To), nullString(update.TrackingNumber), nullString(update.PaymentMethod), at,
		update.OrderID, string(update.From),
	)
	order, err := scanOrder(row)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, postgres.WrapError("orders.update_status", err)
	}

	var current string
	if err := conn.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, update.OrderID).Scan(&current); err != nil {
		return domain.Order{}, postgres.WrapError("orders.update_status", err)
	}
	return domain.Order{}, postgres.Conflict("orders.update_status",
		fmt.Errorf("status is %s, expected %s", current, update.From))
}

// SetPreference stores the payment preference created for the order.
func (r *OrderRepository) SetPreference(ctx context.Context, orderID int64, provider, preferenceID string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	res, err := postgres.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE orders SET mp_preference_id = $1, payment_provider = $2, updated_at = $3 WHERE id = $4`,
		preferenceID, provider, at.UTC(), orderID,
	)
	if err != nil {
		return postgres.WrapError("orders.set_preference", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return postgres.NotFound("orders.set_preference")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order           domain.Order
		status          string
		paymentMethod   sql.NullString
		paymentProvider sql.NullString
		preferenceID    sql.NullString
		customerID      sql.NullInt64
		tracking        sql.NullString
	)
	if err := row.Scan(&order.ID, &status, &order.TotalAmount, &order.Currency, &paymentMethod, &paymentProvider,
		&order.AccessToken, &preferenceID, &customerID, &tracking, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentMethod = stringPtr(paymentMethod)
	order.PaymentProvider = stringPtr(paymentProvider)
	order.PreferenceID = stringPtr(preferenceID)
	order.CustomerID = int64Ptr(customerID)
	order.TrackingNumber = stringPtr(tracking)
	return order, nil
}

func scanItem(row rowScanner) (domain.OrderItem, error) {
	var (
		item      domain.OrderItem
		variantID sql.NullInt64
		front     sql.NullString
		back      sql.NullString
		font      sql.NullString
		addons    pq.Int64Array
	)
	if err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &variantID, &item.Quantity, &item.UnitPrice,
		&item.LineTotal, &front, &back, &font, &addons, &item.CreatedAt); err != nil {
		return domain.OrderItem{}, err
	}
	item.ProductVariantID = int64Ptr(variantID)
	item.PersonalizationFront = stringPtr(front)
	item.PersonalizationBack = stringPtr(back)
	item.EngravingFont = stringPtr(font)
	item.SelectedAddonIDs = []int64(addons)
	return item, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
