package invoice

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"inventory-service/internal/models"
)

// Precision is the number of decimal places kept for tax and grand total
const Precision = 2

// Invoice is the read-only presentation of a committed order
type Invoice struct {
	OrderID    int64           `json:"order_id"`
	Status     string          `json:"status"`
	Customer   Customer        `json:"customer"`
	Products   []Line          `json:"products"`
	Total      decimal.Decimal `json:"total"`
	Tax        decimal.Decimal `json:"tax"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Customer is the customer block of an invoice
type Customer struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name,omitempty"`
	ExternalRef *string `json:"external_ref,omitempty"`
}

// Line is one invoiced product
type Line struct {
	ProductID   int64           `json:"product_id"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	PriceRuleID *int64          `json:"price_rule_id,omitempty"`
}

// Assemble builds the invoice for order. Tax is computed from the stored
// order total, never from re-resolved prices. Every item must belong to
// order; anything else is a caller bug and panics.
func Assemble(order models.Order, items []models.OrderItem, customer models.Customer, taxRate decimal.Decimal) Invoice {
	if customer.ID != 0 && customer.ID != order.CustomerID {
		panic(fmt.Sprintf("invoice: customer %d does not own order %d", customer.ID, order.ID))
	}

	lines := make([]Line, 0, len(items))
	for _, item := range items {
		if item.OrderID != order.ID {
			panic(fmt.Sprintf("invoice: item %d belongs to order %d, not %d", item.ID, item.OrderID, order.ID))
		}
		lines = append(lines, Line{
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			Price:       item.UnitPrice,
			LineTotal:   item.LineTotal(),
			PriceRuleID: item.PriceRuleID,
		})
	}

	return Invoice{
		OrderID: order.ID,
		Status:  order.Status,
		Customer: Customer{
			ID:          order.CustomerID,
			Name:        customer.Name,
			ExternalRef: customer.ExternalRef,
		},
		Products:   lines,
		Total:      order.Total,
		Tax:        Tax(order.Total, taxRate),
		GrandTotal: GrandTotal(order.Total, taxRate),
		CreatedAt:  order.CreatedAt,
	}
}

// Tax returns total * rate rounded to Precision places
func Tax(total, rate decimal.Decimal) decimal.Decimal {
	return total.Mul(rate).Round(Precision)
}

// GrandTotal returns total * (1 + rate) rounded to Precision places
func GrandTotal(total, rate decimal.Decimal) decimal.Decimal {
	return total.Mul(decimal.NewFromInt(1).Add(rate)).Round(Precision)
}
