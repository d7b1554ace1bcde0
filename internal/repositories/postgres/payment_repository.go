package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/platform/postgres"
	"github.com/pulsera/api/internal/repositories"
)

const paymentColumns = `id, order_id, provider, provider_payment_id, status, amount, currency, raw_payload, created_at, updated_at`

// PaymentRepository upserts provider payments.
type PaymentRepository struct {
	db *sql.DB
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Upsert inserts the payment or refreshes status, amount and payload when
// (provider, provider_payment_id) already exists. Webhook replays therefore never duplicate rows.
func (r *PaymentRepository) Upsert(ctx context.Context, p repositories.PaymentUpsert) (domain.Payment, error) {
	if strings.TrimSpace(p.Provider) == "" || strings.TrimSpace(p.ProviderPaymentID) == "" {
		return domain.Payment{}, postgres.WrapError("payments.upsert", errors.New("provider and provider payment id are required"))
	}
	at := p.At.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	payload := []byte(p.RawPayload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	row := postgres.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO payments (order_id, provider, provider_payment_id, status, amount, currency, raw_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (provider, provider_payment_id) DO UPDATE
		SET status = EXCLUDED.status,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			raw_payload = EXCLUDED.raw_payload,
			updated_at = EXCLUDED.updated_at
		RETURNING `+paymentColumns,
		p.OrderID, p.Provider, p.ProviderPaymentID, p.Status, p.Amount, p.Currency, payload, at,
	)
	payment, err := scanPayment(row)
	if err != nil {
		return domain.Payment{}, postgres.WrapError("payments.upsert", err)
	}
	return payment, nil
}

// ListByOrder returns the payments recorded for an order, oldest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID int64) ([]domain.Payment, error) {
	rows, err := postgres.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, postgres.WrapError("payments.list", err)
	}
	defer rows.Close()
	var out []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, postgres.WrapError("payments.list", err)
		}
		out = append(out, payment)
	}
	return out, postgres.WrapError("payments.list", rows.Err())
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		p   domain.Payment
		raw []byte
	)
	if err := row.Scan(&p.ID, &p.OrderID, &p.Provider, &p.ProviderPaymentID, &p.Status, &p.Amount, &p.Currency,
		&raw, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Payment{}, err
	}
	if len(raw) > 0 {
		p.RawPayload = append([]byte(nil), raw...)
	}
	return p, nil
}
