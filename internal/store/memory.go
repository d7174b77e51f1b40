package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"inventory-service/internal/models"
	"inventory-service/internal/pricing"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process store with the same semantics as Store.
// A single mutex serialises writers, so every multi-row write is applied
// completely or not at all.
type MemoryStore struct {
	mu sync.RWMutex

	products   map[int64]models.Product
	customers  map[int64]models.Customer
	contracts  map[int64]models.Contract
	priceRules map[int64]models.PriceRule
	orders     map[int64]models.Order
	orderItems map[int64][]models.OrderItem
	processed  map[string]models.ProcessedEvent

	nextID int64
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:   make(map[int64]models.Product),
		customers:  make(map[int64]models.Customer),
		contracts:  make(map[int64]models.Contract),
		priceRules: make(map[int64]models.PriceRule),
		orders:     make(map[int64]models.Order),
		orderItems: make(map[int64][]models.OrderItem),
		processed:  make(map[string]models.ProcessedEvent),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// Ping always succeeds
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (m *MemoryStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	products := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (m *MemoryStore) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	products := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			products = append(products, p)
		}
	}
	return products, nil
}

func (m *MemoryStore) CreateProduct(ctx context.Context, product *models.Product) error {
	if product.Quantity < 0 {
		return fmt.Errorf("quantity must not be negative")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	product.ID = m.id()
	product.CreatedAt = m.now()
	product.UpdatedAt = product.CreatedAt
	m.products[product.ID] = *product
	return nil
}

func (m *MemoryStore) UpdateProduct(ctx context.Context, id int64, name string, price decimal.Decimal) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	p.Name = name
	p.DefaultPrice = price
	p.UpdatedAt = m.now()
	m.products[id] = p
	return &p, nil
}

func (m *MemoryStore) RestockProduct(ctx context.Context, id int64, delta int) (*models.Product, error) {
	if delta <= 0 {
		return nil, fmt.Errorf("restock delta must be positive, got %d", delta)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if delta > MaxQuantity-p.Quantity {
		return nil, fmt.Errorf("%w: restocking product %d by %d exceeds %d", ErrInvalidInput, id, delta, MaxQuantity)
	}
	p.Quantity += delta
	p.UpdatedAt = m.now()
	m.products[id] = p
	return &p, nil
}

func (m *MemoryStore) DeleteProduct(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[id]; !ok {
		return fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	for _, items := range m.orderItems {
		for _, item := range items {
			if item.ProductID == id {
				return fmt.Errorf("product %d is still referenced: %w", id, ErrConflict)
			}
		}
	}
	for _, rule := range m.priceRules {
		if rule.ProductID == id {
			return fmt.Errorf("product %d is still referenced: %w", id, ErrConflict)
		}
	}
	delete(m.products, id)
	return nil
}

func (m *MemoryStore) PurchaseProducts(ctx context.Context, lines []models.StockLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.decrementAll(lines)
}

// decrementAll checks every line against current stock before touching
// any product. Callers hold the write lock.
func (m *MemoryStore) decrementAll(lines []models.StockLine) error {
	needed := make(map[int64]int, len(lines))
	for _, line := range lines {
		if err := checkQuantity(line.ProductID, line.Quantity); err != nil {
			return err
		}
		if err := checkQuantity(line.ProductID, needed[line.ProductID]+line.Quantity); err != nil {
			return err
		}
		needed[line.ProductID] += line.Quantity
	}
	ids := make([]int64, 0, len(needed))
	for id := range needed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		p, ok := m.products[id]
		if !ok || p.Quantity < needed[id] {
			return &InsufficientStockError{ProductID: id}
		}
	}

	now := m.now()
	for _, id := range ids {
		p := m.products[id]
		p.Quantity -= needed[id]
		p.UpdatedAt = now
		m.products[id] = p
	}
	return nil
}

func (m *MemoryStore) GetCustomerByID(ctx context.Context, id int64) (*models.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	return &c, nil
}

func (m *MemoryStore) FindCustomer(ctx context.Context, name, externalRef string) (*models.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *models.Customer
	for _, c := range m.customers {
		c := c
		var match bool
		if externalRef != "" {
			match = c.ExternalRef != nil && *c.ExternalRef == externalRef
		} else {
			match = strings.EqualFold(c.Name, name)
		}
		if match && (found == nil || c.ID < found.ID) {
			found = &c
		}
	}
	if found == nil {
		return nil, fmt.Errorf("customer %q: %w", name+externalRef, ErrNotFound)
	}
	return found, nil
}

func (m *MemoryStore) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	customers := make([]models.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		customers = append(customers, c)
	}
	sort.Slice(customers, func(i, j int) bool { return customers[i].ID < customers[j].ID })
	return customers, nil
}

func (m *MemoryStore) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if customer.ExternalRef != nil {
		for _, c := range m.customers {
			if c.ExternalRef != nil && *c.ExternalRef == *customer.ExternalRef {
				return fmt.Errorf("external reference already in use: %w", ErrConflict)
			}
		}
	}
	customer.ID = m.id()
	customer.CreatedAt = m.now()
	m.customers[customer.ID] = *customer
	return nil
}

func (m *MemoryStore) GetContractByID(ctx context.Context, id int64) (*models.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %d: %w", id, ErrNotFound)
	}
	return &c, nil
}

func (m *MemoryStore) ListContracts(ctx context.Context) ([]models.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contracts := make([]models.Contract, 0, len(m.contracts))
	for _, c := range m.contracts {
		contracts = append(contracts, c)
	}
	sort.Slice(contracts, func(i, j int) bool {
		if contracts[i].Date.Equal(contracts[j].Date) {
			return contracts[i].ID > contracts[j].ID
		}
		return contracts[i].Date.After(contracts[j].Date)
	})
	return contracts, nil
}

func (m *MemoryStore) CreateContract(ctx context.Context, contract *models.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	contract.ID = m.id()
	contract.CreatedAt = m.now()
	m.contracts[contract.ID] = *contract
	return nil
}

func (m *MemoryStore) GetActiveContract(ctx context.Context, customerID int64) (*models.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[int64]bool)
	var linked []models.Contract
	for _, rule := range m.priceRules {
		if rule.CustomerID == nil || *rule.CustomerID != customerID || rule.ContractID == nil {
			continue
		}
		if c, ok := m.contracts[*rule.ContractID]; ok && !seen[c.ID] {
			seen[c.ID] = true
			linked = append(linked, c)
		}
	}
	return pricing.ActiveContract(linked), nil
}

func (m *MemoryStore) GetCustomerPriceRules(ctx context.Context, customerID int64, productIDs []int64) ([]models.PriceRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[int64]bool, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = true
	}
	rules := []models.PriceRule{}
	for _, rule := range m.priceRules {
		if rule.CustomerID != nil && *rule.CustomerID == customerID && wanted[rule.ProductID] {
			rules = append(rules, rule)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

func (m *MemoryStore) ListPriceRules(ctx context.Context, productID int64) ([]models.PriceRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rules := []models.PriceRule{}
	for _, rule := range m.priceRules {
		if rule.ProductID == productID {
			rules = append(rules, rule)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

func (m *MemoryStore) CreatePriceRule(ctx context.Context, rule *models.PriceRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[rule.ProductID]; !ok {
		return fmt.Errorf("price rule references a missing row: %w", ErrNotFound)
	}
	if rule.ContractID != nil {
		if _, ok := m.contracts[*rule.ContractID]; !ok {
			return fmt.Errorf("price rule references a missing row: %w", ErrNotFound)
		}
	}
	if rule.CustomerID != nil {
		if _, ok := m.customers[*rule.CustomerID]; !ok {
			return fmt.Errorf("price rule references a missing row: %w", ErrNotFound)
		}
	}
	rule.ID = m.id()
	m.priceRules[rule.ID] = *rule
	return nil
}

func (m *MemoryStore) CommitOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.customers[order.CustomerID]; !ok {
		return fmt.Errorf("failed to insert order: customer %d: %w", order.CustomerID, ErrNotFound)
	}

	lines := make([]models.StockLine, len(items))
	for i, item := range items {
		lines[i] = models.StockLine{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	if err := m.decrementAll(lines); err != nil {
		return err
	}

	order.ID = m.id()
	stored := make([]models.OrderItem, len(items))
	for i := range items {
		items[i].ID = m.id()
		items[i].OrderID = order.ID
		stored[i] = items[i]
	}
	m.orders[order.ID] = *order
	m.orderItems[order.ID] = stored
	return nil
}

func (m *MemoryStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return &o, nil
}

func (m *MemoryStore) ListOrders(ctx context.Context) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (m *MemoryStore) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]models.OrderItem, len(m.orderItems[orderID]))
	copy(items, m.orderItems[orderID])
	return items, nil
}

func (m *MemoryStore) UpdateOrderStatus(ctx context.Context, orderID int64, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if o.Status != from {
		return fmt.Errorf("order %d status changed concurrently: %w", orderID, ErrConflict)
	}
	o.Status = to
	m.orders[orderID] = o
	return nil
}

func (m *MemoryStore) DeleteOrder(ctx context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[orderID]; !ok {
		return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	delete(m.orderItems, orderID)
	delete(m.orders, orderID)
	return nil
}

func (m *MemoryStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *MemoryStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processed[eventID]; !ok {
		m.processed[eventID] = models.ProcessedEvent{EventID: eventID, EventType: eventType, ProcessedAt: m.now()}
	}
	return nil
}
