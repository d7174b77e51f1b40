package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Money is rendered as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Product represents a stocked product in the catalog
type Product struct {
	ID           int64           `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	Quantity     int             `db:"quantity" json:"quantity"`
	DefaultPrice decimal.Decimal `db:"default_price" json:"price"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Customer represents a buyer that orders are placed for
type Customer struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	ExternalRef *string   `db:"external_ref" json:"external_ref,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Contract groups negotiated price rules; the most recent one linked to a
// customer is that customer's active contract.
type Contract struct {
	ID         int64      `db:"id" json:"id"`
	Date       time.Time  `db:"date" json:"date"`
	Expiration *time.Time `db:"expiration" json:"expiration,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// PriceRule overrides a product's default price for a customer, a contract,
// or both, once the requested quantity reaches MinQuantity.
type PriceRule struct {
	ID          int64           `db:"id" json:"id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	ContractID  *int64          `db:"contract_id" json:"contract_id,omitempty"`
	CustomerID  *int64          `db:"customer_id" json:"customer_id,omitempty"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	MinQuantity int             `db:"min_quantity" json:"min_quantity"`
}

// Order represents a committed customer order
type Order struct {
	ID         int64           `db:"id" json:"id"`
	CustomerID int64           `db:"customer_id" json:"customer_id"`
	Status     string          `db:"status" json:"status"`
	Total      decimal.Decimal `db:"total" json:"total"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// OrderItem is one line of an order. UnitPrice is the price resolved at
// creation time and never changes afterwards.
type OrderItem struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	PriceRuleID *int64          `db:"price_rule_id" json:"price_rule_id,omitempty"`
}

// LineTotal returns UnitPrice * Quantity
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// StockLine is a product/quantity pair used for purchases and decrements
type StockLine struct {
	ProductID int64 `json:"id"`
	Quantity  int   `json:"quantity"`
}

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusFulfilled = "fulfilled"
	OrderStatusCancelled = "cancelled"
)

// IsValidOrderStatus reports whether status is a known order status
func IsValidOrderStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusFulfilled, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminalOrderStatus reports whether no further status change is allowed
func IsTerminalOrderStatus(status string) bool {
	return status == OrderStatusFulfilled || status == OrderStatusCancelled
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
