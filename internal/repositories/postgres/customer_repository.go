package postgres

import (
	"context"
	"database/sql"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/platform/postgres"
	"github.com/pulsera/api/internal/repositories"
)

// CustomerRepository stores checkout contact details.
type CustomerRepository struct {
	db *sql.DB
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// Create inserts a customer record and returns it with the generated id.
func (r *CustomerRepository) Create(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	row := postgres.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO customers (name, phone, email, address, neighborhood, locality)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, name, phone, email, address, neighborhood, locality, created_at`,
		customer.Name, customer.Phone, nullString(customer.Email), customer.Address,
		nullString(customer.Neighborhood), customer.Locality,
	)
	created, err := scanCustomer(row)
	if err != nil {
		return domain.Customer{}, postgres.WrapError("customers.create", err)
	}
	return created, nil
}

// FindByID loads a customer by id.
func (r *CustomerRepository) FindByID(ctx context.Context, customerID int64) (domain.Customer, error) {
	row := postgres.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, name, phone, email, address, neighborhood, locality, created_at
		FROM customers WHERE id = $1`, customerID)
	customer, err := scanCustomer(row)
	if err != nil {
		return domain.Customer{}, postgres.WrapError("customers.find", err)
	}
	return customer, nil
}

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var (
		c            domain.Customer
		email        sql.NullString
		neighborhood sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &email, &c.Address, &neighborhood, &c.Locality, &c.CreatedAt); err != nil {
		return domain.Customer{}, err
	}
	c.Email = stringPtr(email)
	c.Neighborhood = stringPtr(neighborhood)
	return c, nil
}
