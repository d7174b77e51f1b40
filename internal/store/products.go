package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"inventory-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const productColumns = "id, name, quantity, default_price, created_at, updated_at"

// decrementStockQuery is the only statement that lowers a product quantity.
// Zero affected rows means the product lacks stock (or no longer exists).
const decrementStockQuery = `
		UPDATE products
		SET quantity = quantity - $1, updated_at = NOW()
		WHERE id = $2 AND quantity >= $1`

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts retrieves all products
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products, "SELECT "+productColumns+" FROM products ORDER BY id")
	return products, err
}

// GetProductsByIDs retrieves multiple products by IDs. Unknown IDs are
// simply absent from the result.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// CreateProduct inserts a product and fills its ID and timestamps
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	query := `
		INSERT INTO products (name, quantity, default_price)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query, product.Name, product.Quantity, product.DefaultPrice).
		Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
}

// UpdateProduct changes a product's name and default price. Quantity is
// only changed through RestockProduct and guarded decrements.
func (s *Store) UpdateProduct(ctx context.Context, id int64, name string, price decimal.Decimal) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, `
		UPDATE products SET name = $1, default_price = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING `+productColumns, name, price, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// RestockProduct adds delta units to a product
func (s *Store) RestockProduct(ctx context.Context, id int64, delta int) (*models.Product, error) {
	if delta <= 0 {
		return nil, fmt.Errorf("restock delta must be positive, got %d", delta)
	}

	var product models.Product
	err := s.db.GetContext(ctx, &product, `
		UPDATE products SET quantity = quantity + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+productColumns, delta, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if hasCode(err, codeNumericOutOfRange) {
		return nil, fmt.Errorf("%w: restocking product %d by %d exceeds %d", ErrInvalidInput, id, delta, MaxQuantity)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// DeleteProduct removes a product. Products referenced by orders or price
// rules cannot be removed.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if hasCode(err, codeForeignKeyViolation) {
		return fmt.Errorf("product %d is still referenced: %w", id, ErrConflict)
	}
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return nil
}

// PurchaseProducts decrements stock for every line or for none
func (s *Store) PurchaseProducts(ctx context.Context, lines []models.StockLine) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return decrementAll(ctx, tx, lines)
	})
}

// decrementAll applies guarded decrements in product ID order so that
// concurrent multi-product transactions lock rows in the same order.
func decrementAll(ctx context.Context, tx *sqlx.Tx, lines []models.StockLine) error {
	sorted := make([]models.StockLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	for _, line := range sorted {
		if err := checkQuantity(line.ProductID, line.Quantity); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, decrementStockQuery, line.Quantity, line.ProductID)
		if err != nil {
			return fmt.Errorf("failed to decrement product %d: %w", line.ProductID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &InsufficientStockError{ProductID: line.ProductID}
		}
	}
	return nil
}
