package store

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"inventory-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemory(t *testing.T, quantities ...int) (*MemoryStore, *models.Customer, []models.Product) {
	t.Helper()
	ctx := context.Background()
	m := NewMemoryStore()

	customer := &models.Customer{Name: "ACME"}
	require.NoError(t, m.CreateCustomer(ctx, customer))

	products := make([]models.Product, 0, len(quantities))
	for _, q := range quantities {
		p := &models.Product{Name: "widget", Quantity: q, DefaultPrice: decimal.NewFromInt(10)}
		require.NoError(t, m.CreateProduct(ctx, p))
		products = append(products, *p)
	}
	return m, customer, products
}

func TestMemoryCommitOrder_NoPartialDecrement(t *testing.T) {
	m, customer, products := seedMemory(t, 10, 1)
	ctx := context.Background()

	order := &models.Order{CustomerID: customer.ID, Status: models.OrderStatusPending, CreatedAt: time.Now()}
	items := []models.OrderItem{
		{ProductID: products[0].ID, Quantity: 5},
		{ProductID: products[1].ID, Quantity: 2},
	}

	err := m.CommitOrder(ctx, order, items)

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, products[1].ID, stockErr.ProductID)

	a, err := m.GetProductByID(ctx, products[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 10, a.Quantity)

	orders, err := m.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestMemoryCommitOrder_UnknownCustomer(t *testing.T) {
	m, _, products := seedMemory(t, 10)
	ctx := context.Background()

	order := &models.Order{CustomerID: 999, Status: models.OrderStatusPending}
	err := m.CommitOrder(ctx, order, []models.OrderItem{{ProductID: products[0].ID, Quantity: 1}})

	assert.ErrorIs(t, err, ErrNotFound)
	p, _ := m.GetProductByID(ctx, products[0].ID)
	assert.Equal(t, 10, p.Quantity)
}

func TestMemoryCommitOrder_ConcurrentNeverOversells(t *testing.T) {
	m, customer, products := seedMemory(t, 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	var succeeded, rejected int32
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order := &models.Order{CustomerID: customer.ID, Status: models.OrderStatusPending}
			err := m.CommitOrder(ctx, order, []models.OrderItem{{ProductID: products[0].ID, Quantity: 1}})
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, ErrInsufficientStock):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded)
	assert.Equal(t, int32(15), rejected)
	p, err := m.GetProductByID(ctx, products[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Quantity)
}

func TestMemoryPurchaseProducts_DuplicateLinesAggregate(t *testing.T) {
	m, _, products := seedMemory(t, 5)
	ctx := context.Background()

	err := m.PurchaseProducts(ctx, []models.StockLine{
		{ProductID: products[0].ID, Quantity: 3},
		{ProductID: products[0].ID, Quantity: 3},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	p, _ := m.GetProductByID(ctx, products[0].ID)
	assert.Equal(t, 5, p.Quantity)
}

func TestMemoryDecrement_RejectsOutOfRangeQuantities(t *testing.T) {
	m, customer, products := seedMemory(t, 5)
	ctx := context.Background()
	id := products[0].ID

	tests := []struct {
		name  string
		lines []models.StockLine
	}{
		{"negative", []models.StockLine{{ProductID: id, Quantity: -2}}},
		{"zero", []models.StockLine{{ProductID: id, Quantity: 0}}},
		{"above max", []models.StockLine{{ProductID: id, Quantity: MaxQuantity + 1}}},
		{"sum wraps", []models.StockLine{{ProductID: id, Quantity: math.MaxInt}, {ProductID: id, Quantity: math.MaxInt}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, m.PurchaseProducts(ctx, tt.lines), ErrInvalidInput)
		})
	}

	order := &models.Order{CustomerID: customer.ID, Status: models.OrderStatusPending, CreatedAt: time.Now()}
	items := []models.OrderItem{{ProductID: id, Quantity: -2, UnitPrice: decimal.NewFromInt(10)}}
	assert.ErrorIs(t, m.CommitOrder(ctx, order, items), ErrInvalidInput)

	p, err := m.GetProductByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Quantity)
	orders, err := m.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestMemoryRestockProduct_Overflow(t *testing.T) {
	m, _, products := seedMemory(t, 5)

	_, err := m.RestockProduct(context.Background(), products[0].ID, MaxQuantity)

	assert.ErrorIs(t, err, ErrInvalidInput)
	p, _ := m.GetProductByID(context.Background(), products[0].ID)
	assert.Equal(t, 5, p.Quantity)
}

func TestMemoryUpdateOrderStatus_CompareAndSet(t *testing.T) {
	m, customer, products := seedMemory(t, 5)
	ctx := context.Background()

	order := &models.Order{CustomerID: customer.ID, Status: models.OrderStatusPending}
	require.NoError(t, m.CommitOrder(ctx, order, []models.OrderItem{{ProductID: products[0].ID, Quantity: 1}}))

	require.NoError(t, m.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusFulfilled))
	err := m.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusCancelled)
	assert.ErrorIs(t, err, ErrConflict)

	err = m.UpdateOrderStatus(ctx, 12345, models.OrderStatusPending, models.OrderStatusCancelled)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDeleteOrder_KeepsStock(t *testing.T) {
	m, customer, products := seedMemory(t, 5)
	ctx := context.Background()

	order := &models.Order{CustomerID: customer.ID, Status: models.OrderStatusPending}
	require.NoError(t, m.CommitOrder(ctx, order, []models.OrderItem{{ProductID: products[0].ID, Quantity: 2}}))

	require.NoError(t, m.DeleteOrder(ctx, order.ID))
	assert.ErrorIs(t, m.DeleteOrder(ctx, order.ID), ErrNotFound)

	items, err := m.GetOrderItemsByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	p, _ := m.GetProductByID(ctx, products[0].ID)
	assert.Equal(t, 3, p.Quantity)
}

func TestMemoryDeleteProduct_Referenced(t *testing.T) {
	m, customer, products := seedMemory(t, 5)
	ctx := context.Background()

	order := &models.Order{CustomerID: customer.ID, Status: models.OrderStatusPending}
	require.NoError(t, m.CommitOrder(ctx, order, []models.OrderItem{{ProductID: products[0].ID, Quantity: 1}}))

	assert.ErrorIs(t, m.DeleteProduct(ctx, products[0].ID), ErrConflict)
	assert.ErrorIs(t, m.DeleteProduct(ctx, 9999), ErrNotFound)
}

func TestMemoryGetActiveContract(t *testing.T) {
	m, customer, products := seedMemory(t, 5)
	ctx := context.Background()

	older := &models.Contract{Date: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)}
	newer := &models.Contract{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	unlinked := &models.Contract{Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	for _, c := range []*models.Contract{older, newer, unlinked} {
		require.NoError(t, m.CreateContract(ctx, c))
	}

	none, err := m.GetActiveContract(ctx, customer.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	for _, c := range []*models.Contract{older, newer} {
		contractID := c.ID
		customerID := customer.ID
		require.NoError(t, m.CreatePriceRule(ctx, &models.PriceRule{
			ProductID:  products[0].ID,
			ContractID: &contractID,
			CustomerID: &customerID,
			UnitPrice:  decimal.NewFromInt(7),
		}))
	}

	active, err := m.GetActiveContract(ctx, customer.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, newer.ID, active.ID)
}

func TestMemoryFindCustomer(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	ref := "NIT-900"

	first := &models.Customer{Name: "Acme"}
	second := &models.Customer{Name: "ACME", ExternalRef: &ref}
	require.NoError(t, m.CreateCustomer(ctx, first))
	require.NoError(t, m.CreateCustomer(ctx, second))

	byName, err := m.FindCustomer(ctx, "acme", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byName.ID)

	byRef, err := m.FindCustomer(ctx, "whatever", ref)
	require.NoError(t, err)
	assert.Equal(t, second.ID, byRef.ID)

	_, err = m.FindCustomer(ctx, "nobody", "")
	assert.ErrorIs(t, err, ErrNotFound)

	dup := &models.Customer{Name: "Other", ExternalRef: &ref}
	assert.ErrorIs(t, m.CreateCustomer(ctx, dup), ErrConflict)
}

func TestMemoryProcessedEvents(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	done, err := m.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, m.MarkEventProcessed(ctx, "evt-1", models.EventTypeOrderCreated))
	require.NoError(t, m.MarkEventProcessed(ctx, "evt-1", models.EventTypeOrderCreated))

	done, err = m.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, done)
}
