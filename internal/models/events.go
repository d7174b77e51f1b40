package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderDeleted       = "ORDER_DELETED"
	EventTypeInventoryLow       = "INVENTORY_LOW"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published once an order has been committed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    int64           `json:"order_id"`
	CustomerID int64           `json:"customer_id"`
	Total      decimal.Decimal `json:"total"`
	Items      []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published when an order's status is updated
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

// OrderDeletedEvent published when an order is removed. Stock is not restored.
type OrderDeletedEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
}

// InventoryLowEvent published by the stock watcher
type InventoryLowEvent struct {
	BaseEvent
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	Threshold int   `json:"threshold"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
