package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("product not found")

func Create(ctx context.Context, db sqlx.ExtContext, prd Product) error {
	const q = `
	INSERT INTO products
		(product_id, name, description, image_url, created_at, updated_at)
	VALUES
		(:product_id, :name, :description, :image_url, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, prd); err != nil {
		return fmt.Errorf("inserting product: %w", err)
	}

	return nil
}

func Update(ctx context.Context, db sqlx.ExtContext, prd Product) error {
	const q = `
	UPDATE products SET
		name = :name,
		description = :description,
		image_url = :image_url,
		updated_at = :updated_at
	WHERE product_id = :product_id`

	if _, err := sqlx.NamedExecContext(ctx, db, q, prd); err != nil {
		return fmt.Errorf("updating product[%s]: %w", prd.ID, err)
	}

	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Product, error) {
	const q = `SELECT * FROM products WHERE product_id = $1`

	var prd Product
	if err := sqlx.GetContext(ctx, db, &prd, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("selecting product[%s]: %w", id, err)
	}

	return prd, nil
}

func FetchAll(ctx context.Context, db sqlx.ExtContext) ([]Product, error) {
	const q = `SELECT * FROM products ORDER BY created_at`

	prds := []Product{}
	if err := sqlx.SelectContext(ctx, db, &prds, q); err != nil {
		return nil, fmt.Errorf("selecting products: %w", err)
	}

	return prds, nil
}
