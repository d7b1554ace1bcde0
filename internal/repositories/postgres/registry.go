package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pulsera/api/internal/platform/postgres"
	"github.com/pulsera/api/internal/repositories"
)

// Registry wires the Postgres backed repositories around a shared connection pool.
type Registry struct {
	db        *sql.DB
	orders    *OrderRepository
	catalog   *CatalogRepository
	customers *CustomerRepository
	payments  *PaymentRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repository registry. The registry owns db and closes it on Close.
func NewRegistry(db *sql.DB) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres registry: db is required")
	}
	return &Registry{
		db:        db,
		orders:    NewOrderRepository(db),
		catalog:   NewCatalogRepository(db),
		customers: NewCustomerRepository(db),
		payments:  NewPaymentRepository(db),
	}, nil
}

// Close releases the connection pool.
func (r *Registry) Close(context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Ping verifies database connectivity for readiness probes.
func (r *Registry) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return postgres.WrapError("ping", r.db.PingContext(ctx))
}

// RunInTx executes fn in a single database transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return postgres.RunInTx(ctx, r.db, fn)
}

func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Catalog() repositories.CatalogRepository    { return r.catalog }
func (r *Registry) Customers() repositories.CustomerRepository { return r.customers }
func (r *Registry) Payments() repositories.PaymentRepository   { return r.payments }
