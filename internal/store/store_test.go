package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"inventory-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStoreFromDB(sqlx.NewDb(db, "postgres")), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

const decrementSQL = "SET quantity = quantity - $1, updated_at = NOW()"

func testOrder() (*models.Order, []models.OrderItem) {
	order := &models.Order{
		CustomerID: 7,
		Status:     models.OrderStatusPending,
		Total:      decimal.RequireFromString("70"),
		CreatedAt:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	items := []models.OrderItem{
		{ProductID: 2, Quantity: 2, UnitPrice: decimal.RequireFromString("10")},
		{ProductID: 1, Quantity: 5, UnitPrice: decimal.RequireFromString("10")},
	}
	return order, items
}

func TestCommitOrder_Success(t *testing.T) {
	s, mock := newMockStore(t)
	order, items := testOrder()

	mock.ExpectBegin()
	mock.ExpectExec(q(decrementSQL)).WithArgs(5, int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(decrementSQL)).WithArgs(2, int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO orders")).
		WithArgs(int64(7), models.OrderStatusPending, sqlmock.AnyArg(), order.CreatedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(100)))
	mock.ExpectQuery(q("INSERT INTO order_items")).
		WithArgs(int64(100), int64(2), 2, sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(501)))
	mock.ExpectQuery(q("INSERT INTO order_items")).
		WithArgs(int64(100), int64(1), 5, sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(502)))
	mock.ExpectCommit()

	err := s.CommitOrder(context.Background(), order, items)

	require.NoError(t, err)
	assert.Equal(t, int64(100), order.ID)
	assert.Equal(t, int64(501), items[0].ID)
	assert.Equal(t, int64(100), items[1].OrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitOrder_DecrementFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	order, items := testOrder()

	mock.ExpectBegin()
	mock.ExpectExec(q(decrementSQL)).WithArgs(5, int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(decrementSQL)).WithArgs(2, int64(2)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.CommitOrder(context.Background(), order, items)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, int64(2), stockErr.ProductID)
	assert.Zero(t, order.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitOrder_HeaderFailureAfterDecrementRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	order, items := testOrder()

	mock.ExpectBegin()
	mock.ExpectExec(q(decrementSQL)).WithArgs(5, int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(decrementSQL)).WithArgs(2, int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO orders")).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.CommitOrder(context.Background(), order, items)

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInsufficientStock))
	assert.Contains(t, err.Error(), "failed to insert order")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitOrder_ItemFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	order, items := testOrder()
	items = items[:1]

	mock.ExpectBegin()
	mock.ExpectExec(q(decrementSQL)).WithArgs(2, int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("INSERT INTO orders")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(100)))
	mock.ExpectQuery(q("INSERT INTO order_items")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.CommitOrder(context.Background(), order, items)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "product 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseProducts_AllOrNothing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q(decrementSQL)).WithArgs(1, int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(decrementSQL)).WithArgs(4, int64(9)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.PurchaseProducts(context.Background(), []models.StockLine{
		{ProductID: 9, Quantity: 4},
		{ProductID: 3, Quantity: 1},
	})

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseProducts_RejectsNonPositiveQuantity(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.PurchaseProducts(context.Background(), []models.StockLine{
		{ProductID: 9, Quantity: 4},
		{ProductID: 3, Quantity: -2},
	})

	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOrder_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM order_items WHERE order_id = $1")).WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("DELETE FROM orders WHERE id = $1")).WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.DeleteOrder(context.Background(), 5)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOrder_RemovesItemsThenHeader(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM order_items WHERE order_id = $1")).WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q("DELETE FROM orders WHERE id = $1")).WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, s.DeleteOrder(context.Background(), 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrderStatus(t *testing.T) {
	orderRow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "customer_id", "status", "total", "created_at"}).
			AddRow(int64(5), int64(7), models.OrderStatusCancelled, "10", time.Now())
	}

	t.Run("updated", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(q("UPDATE orders SET status = $1 WHERE id = $2 AND status = $3")).
			WithArgs(models.OrderStatusFulfilled, int64(5), models.OrderStatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, s.UpdateOrderStatus(context.Background(), 5, models.OrderStatusPending, models.OrderStatusFulfilled))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent change", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(q("UPDATE orders SET status")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q("FROM orders WHERE id = $1")).WithArgs(int64(5)).WillReturnRows(orderRow())

		err := s.UpdateOrderStatus(context.Background(), 5, models.OrderStatusPending, models.OrderStatusFulfilled)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("missing order", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(q("UPDATE orders SET status")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q("FROM orders WHERE id = $1")).WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		err := s.UpdateOrderStatus(context.Background(), 5, models.OrderStatusPending, models.OrderStatusFulfilled)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetActiveContract_NoneLinked(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q("FROM contracts")).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "date", "expiration", "created_at"}))

	contract, err := s.GetActiveContract(context.Background(), 7)

	assert.NoError(t, err)
	assert.Nil(t, contract)
}

func TestCreateCustomer_DuplicateExternalRef(t *testing.T) {
	s, mock := newMockStore(t)
	ref := "TAX-1"
	mock.ExpectQuery(q("INSERT INTO customers")).WillReturnError(&pq.Error{Code: "23505"})

	err := s.CreateCustomer(context.Background(), &models.Customer{Name: "ACME", ExternalRef: &ref})

	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreatePriceRule_MissingReference(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q("INSERT INTO price_rules")).WillReturnError(&pq.Error{Code: "23503"})

	err := s.CreatePriceRule(context.Background(), &models.PriceRule{ProductID: 99, UnitPrice: decimal.NewFromInt(1)})

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetProductsByIDs_Empty(t *testing.T) {
	s, mock := newMockStore(t)

	products, err := s.GetProductsByIDs(context.Background(), nil)

	assert.NoError(t, err)
	assert.Empty(t, products)
	assert.NoError(t, mock.ExpectationsWereMet())
}
