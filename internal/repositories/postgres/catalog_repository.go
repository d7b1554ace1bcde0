package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	domain "github.com/pulsera/api/internal/domain"
	"github.com/pulsera/api/internal/platform/postgres"
	"github.com/pulsera/api/internal/repositories"
)

// CatalogRepository reads products, variants and addons in batches.
type CatalogRepository struct {
	db *sql.DB
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a CatalogRepository over db.
func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ProductsByIDs returns the products with the given ids keyed by id. Missing ids are absent from the map.
func (r *CatalogRepository) ProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := postgres.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, name, price, active FROM products WHERE id = ANY($1)`, pq.Array(uniqueIDs(ids)))
	if err != nil {
		return nil, postgres.WrapError("catalog.products", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Active); err != nil {
			return nil, postgres.WrapError("catalog.products", err)
		}
		out[p.ID] = p
	}
	return out, postgres.WrapError("catalog.products", rows.Err())
}

// VariantsByIDs returns the variants with the given ids keyed by id.
func (r *CatalogRepository) VariantsByIDs(ctx context.Context, ids []int64) (map[int64]domain.ProductVariant, error) {
	out := make(map[int64]domain.ProductVariant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := postgres.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, product_id, name, price_override, active FROM product_variants WHERE id = ANY($1)`,
		pq.Array(uniqueIDs(ids)))
	if err != nil {
		return nil, postgres.WrapError("catalog.variants", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			v        domain.ProductVariant
			override sql.NullInt64
		)
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Name, &override, &v.Active); err != nil {
			return nil, postgres.WrapError("catalog.variants", err)
		}
		v.PriceOverride = int64Ptr(override)
		out[v.ID] = v
	}
	return out, postgres.WrapError("catalog.variants", rows.Err())
}

// ActiveAddonsByIDs returns only active addons among ids.
func (r *CatalogRepository) ActiveAddonsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Addon, error) {
	out := make(map[int64]domain.Addon, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := postgres.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, product_id, name, price, active FROM addons WHERE id = ANY($1) AND active`,
		pq.Array(uniqueIDs(ids)))
	if err != nil {
		return nil, postgres.WrapError("catalog.addons", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a domain.Addon
		if err := rows.Scan(&a.ID, &a.ProductID, &a.Name, &a.Price, &a.Active); err != nil {
			return nil, postgres.WrapError("catalog.addons", err)
		}
		out[a.ID] = a
	}
	return out, postgres.WrapError("catalog.addons", rows.Err())
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
