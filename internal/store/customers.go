package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"inventory-service/internal/models"

	"github.com/lib/pq"
)

const (
	customerColumns  = "id, name, external_ref, created_at"
	contractColumns  = "id, date, expiration, created_at"
	priceRuleColumns = "id, product_id, contract_id, customer_id, unit_price, min_quantity"
)

// GetCustomerByID retrieves a customer by ID
func (s *Store) GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.GetContext(ctx, &customer, "SELECT "+customerColumns+" FROM customers WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// FindCustomer looks a customer up by external reference when one is given,
// otherwise by case-insensitive name (oldest match wins).
func (s *Store) FindCustomer(ctx context.Context, name, externalRef string) (*models.Customer, error) {
	var (
		customer models.Customer
		err      error
	)
	if externalRef != "" {
		err = s.db.GetContext(ctx, &customer,
			"SELECT "+customerColumns+" FROM customers WHERE external_ref = $1", externalRef)
	} else {
		err = s.db.GetContext(ctx, &customer,
			"SELECT "+customerColumns+" FROM customers WHERE lower(name) = lower($1) ORDER BY id LIMIT 1", name)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %q: %w", name+externalRef, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// ListCustomers retrieves all customers
func (s *Store) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	customers := []models.Customer{}
	err := s.db.SelectContext(ctx, &customers, "SELECT "+customerColumns+" FROM customers ORDER BY id")
	return customers, err
}

// CreateCustomer inserts a customer
func (s *Store) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO customers (name, external_ref)
		VALUES ($1, $2)
		RETURNING id, created_at`, customer.Name, customer.ExternalRef).
		Scan(&customer.ID, &customer.CreatedAt)
	if hasCode(err, codeUniqueViolation) {
		return fmt.Errorf("external reference already in use: %w", ErrConflict)
	}
	return err
}

// GetContractByID retrieves a contract by ID
func (s *Store) GetContractByID(ctx context.Context, id int64) (*models.Contract, error) {
	var contract models.Contract
	err := s.db.GetContext(ctx, &contract, "SELECT "+contractColumns+" FROM contracts WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contract %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &contract, nil
}

// ListContracts retrieves all contracts, most recent first
func (s *Store) ListContracts(ctx context.Context) ([]models.Contract, error) {
	contracts := []models.Contract{}
	err := s.db.SelectContext(ctx, &contracts, "SELECT "+contractColumns+" FROM contracts ORDER BY date DESC, id DESC")
	return contracts, err
}

// CreateContract inserts a contract
func (s *Store) CreateContract(ctx context.Context, contract *models.Contract) error {
	return s.db.QueryRowxContext(ctx, `
		INSERT INTO contracts (date, expiration)
		VALUES ($1, $2)
		RETURNING id, created_at`, contract.Date, contract.Expiration).
		Scan(&contract.ID, &contract.CreatedAt)
}

// GetActiveContract returns the most recent contract referenced by a price
// rule of the customer, or nil when the customer has none.
func (s *Store) GetActiveContract(ctx context.Context, customerID int64) (*models.Contract, error) {
	var contract models.Contract
	err := s.db.GetContext(ctx, &contract, `
		SELECT `+contractColumns+`
		FROM contracts
		WHERE id IN (
			SELECT contract_id FROM price_rules
			WHERE customer_id = $1 AND contract_id IS NOT NULL
		)
		ORDER BY date DESC, id DESC
		LIMIT 1`, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &contract, nil
}

// GetCustomerPriceRules returns the customer's rules for the given products
func (s *Store) GetCustomerPriceRules(ctx context.Context, customerID int64, productIDs []int64) ([]models.PriceRule, error) {
	rules := []models.PriceRule{}
	if len(productIDs) == 0 {
		return rules, nil
	}
	err := s.db.SelectContext(ctx, &rules, `
		SELECT `+priceRuleColumns+`
		FROM price_rules
		WHERE customer_id = $1 AND product_id = ANY($2)
		ORDER BY id`, customerID, pq.Array(productIDs))
	return rules, err
}

// ListPriceRules retrieves the rules defined for a product
func (s *Store) ListPriceRules(ctx context.Context, productID int64) ([]models.PriceRule, error) {
	rules := []models.PriceRule{}
	err := s.db.SelectContext(ctx, &rules,
		"SELECT "+priceRuleColumns+" FROM price_rules WHERE product_id = $1 ORDER BY id", productID)
	return rules, err
}

// CreatePriceRule inserts a price rule. Unknown product, contract or customer
// references are reported as ErrNotFound.
func (s *Store) CreatePriceRule(ctx context.Context, rule *models.PriceRule) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO price_rules (product_id, contract_id, customer_id, unit_price, min_quantity)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		rule.ProductID, rule.ContractID, rule.CustomerID, rule.UnitPrice, rule.MinQuantity).
		Scan(&rule.ID)
	if hasCode(err, codeForeignKeyViolation) {
		return fmt.Errorf("price rule references a missing row: %w", ErrNotFound)
	}
	return err
}
