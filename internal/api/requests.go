package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"inventory-service/internal/models"

	"github.com/shopspring/decimal"
)

// externalRef accepts either a JSON string or a JSON number. Clients send
// tax identifiers both ways.
type externalRef string

func (r *externalRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = externalRef(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("customer_id must be a string or a number")
	}
	*r = externalRef(n.String())
	return nil
}

type productLine struct {
	ID       int64 `json:"id"`
	Quantity int   `json:"quantity"`
}

func toStockLines(in []productLine) []models.StockLine {
	lines := make([]models.StockLine, len(in))
	for i, p := range in {
		lines[i] = models.StockLine{ProductID: p.ID, Quantity: p.Quantity}
	}
	return lines
}

type createOrderRequest struct {
	// CustomerID is the internal customer id
	CustomerID   int64         `json:"customerId"`
	CustomerName string        `json:"customer_name"`
	ExternalRef  externalRef   `json:"customer_id"`
	Products     []productLine `json:"products"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type purchaseRequest struct {
	Products []productLine `json:"products"`
}

type createProductRequest struct {
	Name     string           `json:"name"`
	Quantity *int             `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
}

type updateProductRequest struct {
	Name  string           `json:"name"`
	Price *decimal.Decimal `json:"price"`
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

type createCustomerRequest struct {
	Name        string      `json:"name"`
	ExternalRef externalRef `json:"customer_id"`
}

type createContractRequest struct {
	Date       string  `json:"date"`
	Expiration *string `json:"expiration"`
}

type createPriceRuleRequest struct {
	ProductID   int64            `json:"product_id"`
	ContractID  *int64           `json:"contract_id"`
	CustomerID  *int64           `json:"customer_id"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	MinQuantity int              `json:"min_quantity"`
}

// parseDate accepts a calendar date or an RFC 3339 timestamp
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}
	return t.UTC(), nil
}
