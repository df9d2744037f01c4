package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/garments-tracker/internal/inventory"
)

type CatalogRepo struct{ q querier }

func (r *CatalogRepo) GetProduct(ctx context.Context, id string) (inventory.Product, error) {
	var p inventory.Product
	err := r.q.QueryRow(ctx, `
		SELECT id, title, description, category, price, available_quantity, images, created_at, updated_at
		FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Title, &p.Description, &p.Category, &p.Price, &p.AvailableQuantity, &p.Images, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, err
}

// AdjustQuantity adds delta in a single statement. There is no floor.
func (r *CatalogRepo) AdjustQuantity(ctx context.Context, id string, delta int) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		UPDATE products SET available_quantity = available_quantity + $2, updated_at = now()
		WHERE id=$1
		RETURNING available_quantity`, id, delta).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, inventory.ErrProductNotFound
	}
	return n, err
}

// UpsertProduct seeds the catalog. Catalog management itself lives elsewhere.
func (r *CatalogRepo) UpsertProduct(ctx context.Context, p inventory.Product) error {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO products(id, title, description, category, price, available_quantity, images)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			price = EXCLUDED.price,
			available_quantity = EXCLUDED.available_quantity,
			images = EXCLUDED.images,
			updated_at = now()`,
		p.ID, p.Title, p.Description, p.Category, p.Price, p.AvailableQuantity, images)
	return err
}
