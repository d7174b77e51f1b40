package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogService manages products, customers, contracts and price rules
type CatalogService struct {
	store  Store
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store Store) *CatalogService {
	return &CatalogService{
		store:  store,
		logger: util.GetLogger(),
	}
}

func (s *CatalogService) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.store.ListProducts(ctx)
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return s.store.GetProductByID(ctx, id)
}

// CreateProduct adds a product to the catalog
func (s *CatalogService) CreateProduct(ctx context.Context, name string, quantity int, price decimal.Decimal) (*models.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if quantity < 0 || quantity > store.MaxQuantity {
		return nil, fmt.Errorf("%w: quantity must be between 0 and %d", ErrInvalidInput, store.MaxQuantity)
	}
	if price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}

	product := &models.Product{Name: name, Quantity: quantity, DefaultPrice: price}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created", zap.Int64("product_id", product.ID), zap.Int("quantity", quantity))
	return product, nil
}

// UpdateProduct changes the name and default price of a product
func (s *CatalogService) UpdateProduct(ctx context.Context, id int64, name string, price decimal.Decimal) (*models.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	return s.store.UpdateProduct(ctx, id, name, price)
}

// RestockProduct adds delta units to a product's stock
func (s *CatalogService) RestockProduct(ctx context.Context, id int64, delta int) (*models.Product, error) {
	if delta <= 0 || delta > store.MaxQuantity {
		return nil, fmt.Errorf("%w: restock quantity must be between 1 and %d", ErrInvalidInput, store.MaxQuantity)
	}

	product, err := s.store.RestockProduct(ctx, id, delta)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product restocked",
		zap.Int64("product_id", id),
		zap.Int("delta", delta),
		zap.Int("quantity", product.Quantity))
	return product, nil
}

func (s *CatalogService) DeleteProduct(ctx context.Context, id int64) error {
	return s.store.DeleteProduct(ctx, id)
}

// Purchase takes stock out without creating an order. Either every line is
// decremented or none is.
func (s *CatalogService) Purchase(ctx context.Context, lines []models.StockLine) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.Purchase")
	defer span.End()

	if len(lines) == 0 {
		return fmt.Errorf("%w: products must not be empty", ErrInvalidInput)
	}
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}

	ids := make([]int64, len(merged))
	for i, line := range merged {
		ids[i] = line.ProductID
	}
	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load products: %w", err)
	}
	known := make(map[int64]bool, len(products))
	for _, p := range products {
		known[p.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			util.StockPurchasesTotal.WithLabelValues("unknown_product").Inc()
			return fmt.Errorf("%w %d", ErrUnknownProduct, id)
		}
	}

	if err := s.store.PurchaseProducts(ctx, merged); err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			util.StockPurchasesTotal.WithLabelValues("insufficient_stock").Inc()
			return err
		}
		util.StockPurchasesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to purchase products: %w", err)
	}

	util.StockPurchasesTotal.WithLabelValues("ok").Inc()
	return nil
}

func (s *CatalogService) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	return s.store.ListCustomers(ctx)
}

func (s *CatalogService) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	return s.store.GetCustomerByID(ctx, id)
}

// CreateCustomer registers a customer. An external reference, when given,
// must be unique.
func (s *CatalogService) CreateCustomer(ctx context.Context, name, externalRef string) (*models.Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	customer := &models.Customer{Name: name}
	if ref := strings.TrimSpace(externalRef); ref != "" {
		customer.ExternalRef = &ref
	}
	if err := s.store.CreateCustomer(ctx, customer); err != nil {
		return nil, err
	}
	return customer, nil
}

func (s *CatalogService) ListContracts(ctx context.Context) ([]models.Contract, error) {
	return s.store.ListContracts(ctx)
}

func (s *CatalogService) GetContract(ctx context.Context, id int64) (*models.Contract, error) {
	return s.store.GetContractByID(ctx, id)
}

// CreateContract records a contract. Expiration is optional but may not
// precede the contract date.
func (s *CatalogService) CreateContract(ctx context.Context, date time.Time, expiration *time.Time) (*models.Contract, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	if expiration != nil && expiration.Before(date) {
		return nil, fmt.Errorf("%w: expiration precedes contract date", ErrInvalidInput)
	}

	contract := &models.Contract{Date: date, Expiration: expiration}
	if err := s.store.CreateContract(ctx, contract); err != nil {
		return nil, fmt.Errorf("failed to create contract: %w", err)
	}
	return contract, nil
}

// ListPriceRules returns the rules of an existing product
func (s *CatalogService) ListPriceRules(ctx context.Context, productID int64) ([]models.PriceRule, error) {
	if _, err := s.store.GetProductByID(ctx, productID); err != nil {
		return nil, err
	}
	return s.store.ListPriceRules(ctx, productID)
}

// CreatePriceRule adds a negotiated price. A rule needs a customer to ever
// be applied; contract-only rules are rejected.
func (s *CatalogService) CreatePriceRule(ctx context.Context, rule *models.PriceRule) error {
	switch {
	case rule.ProductID <= 0:
		return fmt.Errorf("%w: product id is required", ErrInvalidInput)
	case rule.CustomerID == nil:
		return fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	case rule.UnitPrice.IsNegative():
		return fmt.Errorf("%w: unit price must not be negative", ErrInvalidInput)
	case rule.MinQuantity < 0:
		return fmt.Errorf("%w: min quantity must not be negative", ErrInvalidInput)
	}

	if err := s.store.CreatePriceRule(ctx, rule); err != nil {
		return err
	}

	s.logger.Info("Price rule created",
		zap.Int64("rule_id", rule.ID),
		zap.Int64("product_id", rule.ProductID))
	return nil
}
