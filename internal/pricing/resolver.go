// Package pricing resolves the unit price applied to an order line.
//
// Precedence, highest first:
//
//  1. a rule for the product, the customer and the customer's active contract
//  2. a rule for the product and the customer without a contract
//  3. the product's default price
//
// A rule only applies when the requested quantity is at least its
// MinQuantity. When several rules of the same tier apply, the one with the
// largest MinQuantity wins; remaining ties go to the lowest rule ID.
package pricing

import (
	"github.com/shopspring/decimal"

	"inventory-service/internal/models"
)

// Source identifies which tier produced a price
type Source string

const (
	SourceContract Source = "contract"
	SourceCustomer Source = "customer"
	SourceDefault  Source = "default"
)

// Resolution is the outcome of a price lookup
type Resolution struct {
	UnitPrice decimal.Decimal
	RuleID    *int64
	Source    Source
}

// Resolve picks the unit price for quantity units of product ordered by
// customerID. activeContract may be nil. rules may contain rules for other
// products or customers; they are ignored.
func Resolve(product models.Product, quantity int, customerID int64, activeContract *models.Contract, rules []models.PriceRule) Resolution {
	if activeContract != nil {
		contractID := activeContract.ID
		if rule := bestFit(rules, product.ID, customerID, quantity, func(r models.PriceRule) bool {
			return r.ContractID != nil && *r.ContractID == contractID
		}); rule != nil {
			return fromRule(*rule, SourceContract)
		}
	}

	if rule := bestFit(rules, product.ID, customerID, quantity, func(r models.PriceRule) bool {
		return r.ContractID == nil
	}); rule != nil {
		return fromRule(*rule, SourceCustomer)
	}

	return Resolution{UnitPrice: product.DefaultPrice, Source: SourceDefault}
}

// ActiveContract returns the contract with the latest Date, or nil when
// contracts is empty. Equal dates go to the higher ID.
func ActiveContract(contracts []models.Contract) *models.Contract {
	var active *models.Contract
	for i := range contracts {
		c := &contracts[i]
		if active == nil || c.Date.After(active.Date) || (c.Date.Equal(active.Date) && c.ID > active.ID) {
			active = c
		}
	}
	if active == nil {
		return nil
	}
	out := *active
	return &out
}

func bestFit(rules []models.PriceRule, productID, customerID int64, quantity int, tier func(models.PriceRule) bool) *models.PriceRule {
	var best *models.PriceRule
	for i := range rules {
		r := &rules[i]
		if r.ProductID != productID || r.CustomerID == nil || *r.CustomerID != customerID {
			continue
		}
		if r.MinQuantity > quantity || !tier(*r) {
			continue
		}
		if best == nil || r.MinQuantity > best.MinQuantity || (r.MinQuantity == best.MinQuantity && r.ID < best.ID) {
			best = r
		}
	}
	return best
}

func fromRule(rule models.PriceRule, source Source) Resolution {
	id := rule.ID
	return Resolution{UnitPrice: rule.UnitPrice, RuleID: &id, Source: source}
}
