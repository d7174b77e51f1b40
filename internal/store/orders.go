package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"inventory-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const (
	orderColumns     = "id, customer_id, status, total, created_at"
	orderItemColumns = "id, order_id, product_id, quantity, unit_price, price_rule_id"
)

// CommitOrder persists an order in one transaction: a guarded stock
// decrement per item, the order header and its items. Any failure rolls
// the whole unit back; a failed decrement yields *InsufficientStockError.
// On success order.ID and every item's ID and OrderID are filled.
func (s *Store) CommitOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	lines := make([]models.StockLine, len(items))
	for i, item := range items {
		lines[i] = models.StockLine{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := decrementAll(ctx, tx, lines); err != nil {
			return err
		}

		err := tx.GetContext(ctx, &order.ID, `
			INSERT INTO orders (customer_id, status, total, created_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			order.CustomerID, order.Status, order.Total, order.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for i := range items {
			items[i].OrderID = order.ID
			err := tx.GetContext(ctx, &items[i].ID, `
				INSERT INTO order_items (order_id, product_id, quantity, unit_price, price_rule_id)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING id`,
				order.ID, items[i].ProductID, items[i].Quantity, items[i].UnitPrice, items[i].PriceRuleID)
			if err != nil {
				return fmt.Errorf("failed to insert order item for product %d: %w", items[i].ProductID, err)
			}
		}
		return nil
	})
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders retrieves all order headers, newest first
func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC, id DESC")
	return orders, err
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.db.SelectContext(ctx, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// UpdateOrderStatus moves an order from status `from` to `to`. It fails
// with ErrNotFound when the order is absent and ErrConflict when its status
// is no longer `from`.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, from, to string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1 WHERE id = $2 AND status = $3",
		to, orderID, from)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	if _, err := s.GetOrderByID(ctx, orderID); err != nil {
		return err
	}
	return fmt.Errorf("order %d status changed concurrently: %w", orderID, ErrConflict)
}

// DeleteOrder removes an order and its items. Stock is not restored.
func (s *Store) DeleteOrder(ctx context.Context, orderID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM order_items WHERE order_id = $1", orderID); err != nil {
			return fmt.Errorf("failed to delete order items: %w", err)
		}

		result, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", orderID)
		if err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
		}
		return nil
	})
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
