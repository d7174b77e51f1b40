package service

import (
	"context"
	"time"

	"inventory-service/internal/invoice"
	"inventory-service/internal/models"
	"inventory-service/internal/store"

	"github.com/shopspring/decimal"
)

// Store is the persistence used by the services. Both store.Store and
// store.MemoryStore implement it.
type Store interface {
	Ping(ctx context.Context) error

	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	UpdateProduct(ctx context.Context, id int64, name string, price decimal.Decimal) (*models.Product, error)
	RestockProduct(ctx context.Context, id int64, delta int) (*models.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	PurchaseProducts(ctx context.Context, lines []models.StockLine) error

	GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error)
	FindCustomer(ctx context.Context, name, externalRef string) (*models.Customer, error)
	ListCustomers(ctx context.Context) ([]models.Customer, error)
	CreateCustomer(ctx context.Context, customer *models.Customer) error

	GetContractByID(ctx context.Context, id int64) (*models.Contract, error)
	ListContracts(ctx context.Context) ([]models.Contract, error)
	CreateContract(ctx context.Context, contract *models.Contract) error
	GetActiveContract(ctx context.Context, customerID int64) (*models.Contract, error)

	GetCustomerPriceRules(ctx context.Context, customerID int64, productIDs []int64) ([]models.PriceRule, error)
	ListPriceRules(ctx context.Context, productID int64) ([]models.PriceRule, error)
	CreatePriceRule(ctx context.Context, rule *models.PriceRule) error

	CommitOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, from, to string) error
	DeleteOrder(ctx context.Context, orderID int64) error
}

var (
	_ Store = (*store.Store)(nil)
	_ Store = (*store.MemoryStore)(nil)
)

// OrderCache holds idempotency keys and rendered invoices. It is optional.
type OrderCache interface {
	// ClaimIdempotencyKey reserves key for the caller. When the key is
	// already held, claimed is false and orderID is the order created under
	// it, or 0 while that request is still running.
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (claimed bool, orderID int64, err error)
	CompleteIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error
	ReleaseIdempotencyKey(ctx context.Context, key string) error

	// GetInvoice returns nil without error on a miss
	GetInvoice(ctx context.Context, orderID int64) (*invoice.Invoice, error)
	SetInvoice(ctx context.Context, inv *invoice.Invoice, ttl time.Duration) error
	DeleteInvoice(ctx context.Context, orderID int64) error
}

// EventPublisher publishes order lifecycle events. It is optional.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishOrderDeleted(ctx context.Context, event *models.OrderDeletedEvent) error
}
