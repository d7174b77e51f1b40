package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inventory-service/internal/invoice"
	"inventory-service/internal/models"
	"inventory-service/internal/pricing"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// OrderSettings are the business parameters of the order workflow
type OrderSettings struct {
	TaxRate         decimal.Decimal
	CommitTimeout   time.Duration
	InvoiceCacheTTL time.Duration
	IdempotencyTTL  time.Duration
}

// OrderService handles order business logic
type OrderService struct {
	store    Store
	cache    OrderCache
	events   EventPublisher
	settings OrderSettings
	logger   *zap.Logger
}

// NewOrderService creates a new order service. cache and events may be nil.
func NewOrderService(store Store, cache OrderCache, events EventPublisher, settings OrderSettings) *OrderService {
	if settings.CommitTimeout <= 0 {
		settings.CommitTimeout = 10 * time.Second
	}
	return &OrderService{
		store:    store,
		cache:    cache,
		events:   events,
		settings: settings,
		logger:   util.GetLogger(),
	}
}

// CreateOrderRequest identifies the customer either by internal ID or by
// name, optionally narrowed by an external reference.
type CreateOrderRequest struct {
	CustomerID     int64
	CustomerName   string
	ExternalRef    string
	Products       []models.StockLine
	IdempotencyKey string
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	OrderID int64
	Invoice invoice.Invoice
	// Replayed is set when the response belongs to an earlier request with
	// the same idempotency key.
	Replayed bool
}

// CreateOrder validates the request, checks stock, resolves prices and
// commits the order together with its stock decrements.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	lines, err := validateCreateOrder(req)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_input").Inc()
		return nil, err
	}

	if req.IdempotencyKey == "" || s.cache == nil {
		return s.placeOrder(ctx, req, lines)
	}

	claimed, existingID, err := s.cache.ClaimIdempotencyKey(ctx, req.IdempotencyKey, s.settings.IdempotencyTTL)
	if err != nil {
		s.logger.Warn("Idempotency check unavailable, continuing without it",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err))
		return s.placeOrder(ctx, req, lines)
	}
	if !claimed {
		if existingID == 0 {
			util.OrdersFailedTotal.WithLabelValues("duplicate_request").Inc()
			return nil, ErrDuplicateRequest
		}
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existingID))
		inv, err := s.GetOrder(ctx, existingID)
		if err != nil {
			return nil, fmt.Errorf("order %d created with this idempotency key: %w", existingID, err)
		}
		return &CreateOrderResponse{OrderID: existingID, Invoice: *inv, Replayed: true}, nil
	}

	resp, err := s.placeOrder(ctx, req, lines)

	cleanupCtx := context.WithoutCancel(ctx)
	if err != nil {
		if relErr := s.cache.ReleaseIdempotencyKey(cleanupCtx, req.IdempotencyKey); relErr != nil {
			s.logger.Warn("Failed to release idempotency key",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(relErr))
		}
		return nil, err
	}
	if err := s.cache.CompleteIdempotencyKey(cleanupCtx, req.IdempotencyKey, resp.OrderID, s.settings.IdempotencyTTL); err != nil {
		s.logger.Warn("Failed to record idempotency key",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", resp.OrderID),
			zap.Error(err))
	}
	return resp, nil
}

func (s *OrderService) placeOrder(ctx context.Context, req *CreateOrderRequest, lines []models.StockLine) (*CreateOrderResponse, error) {
	customer, err := s.resolveCustomer(ctx, req)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("unknown_customer").Inc()
		return nil, err
	}

	products, err := s.checkStock(ctx, lines)
	if err != nil {
		return nil, err
	}

	order, items, err := s.priceLines(ctx, customer.ID, lines, products)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("pricing_error").Inc()
		return nil, err
	}

	if err := s.commit(ctx, order, items); err != nil {
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("customer_id", customer.ID),
		zap.String("total", order.Total.String()))

	s.publishOrderCreated(ctx, order, items)

	return &CreateOrderResponse{
		OrderID: order.ID,
		Invoice: invoice.Assemble(*order, items, *customer, s.settings.TaxRate),
	}, nil
}

// validateCreateOrder checks the request shape and merges repeated product
// IDs into one line, keeping the position of the first occurrence.
func validateCreateOrder(req *CreateOrderRequest) ([]models.StockLine, error) {
	if req.CustomerID < 0 {
		return nil, fmt.Errorf("%w: customer id must be positive", ErrInvalidInput)
	}
	if req.CustomerID == 0 && strings.TrimSpace(req.CustomerName) == "" && strings.TrimSpace(req.ExternalRef) == "" {
		return nil, fmt.Errorf("%w: customer reference is required", ErrInvalidInput)
	}
	if len(req.Products) == 0 {
		return nil, fmt.Errorf("%w: products must not be empty", ErrInvalidInput)
	}
	return mergeLines(req.Products)
}

func mergeLines(in []models.StockLine) ([]models.StockLine, error) {
	index := make(map[int64]int, len(in))
	lines := make([]models.StockLine, 0, len(in))
	for _, line := range in {
		if line.ProductID <= 0 {
			return nil, fmt.Errorf("%w: product id must be positive", ErrInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %d must be positive", ErrInvalidInput, line.ProductID)
		}
		if line.Quantity > store.MaxQuantity {
			return nil, fmt.Errorf("%w: quantity for product %d exceeds %d", ErrInvalidInput, line.ProductID, store.MaxQuantity)
		}
		if i, ok := index[line.ProductID]; ok {
			if lines[i].Quantity > store.MaxQuantity-line.Quantity {
				return nil, fmt.Errorf("%w: total quantity for product %d exceeds %d", ErrInvalidInput, line.ProductID, store.MaxQuantity)
			}
			lines[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(lines)
		lines = append(lines, line)
	}
	return lines, nil
}

func (s *OrderService) resolveCustomer(ctx context.Context, req *CreateOrderRequest) (*models.Customer, error) {
	if req.CustomerID > 0 {
		return s.store.GetCustomerByID(ctx, req.CustomerID)
	}
	return s.store.FindCustomer(ctx, strings.TrimSpace(req.CustomerName), strings.TrimSpace(req.ExternalRef))
}

// checkStock is the advisory stock pass. The guarded decrement in the
// commit remains authoritative.
func (s *OrderService) checkStock(ctx context.Context, lines []models.StockLine) (map[int64]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.checkStock")
	defer span.End()

	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}

	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	byID := make(map[int64]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	for _, line := range lines {
		p, ok := byID[line.ProductID]
		if !ok {
			util.OrdersFailedTotal.WithLabelValues("unknown_product").Inc()
			return nil, fmt.Errorf("%w %d", ErrUnknownProduct, line.ProductID)
		}
		if p.Quantity < line.Quantity {
			util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
			return nil, &store.InsufficientStockError{ProductID: line.ProductID}
		}
	}
	return byID, nil
}

func (s *OrderService) priceLines(ctx context.Context, customerID int64, lines []models.StockLine, products map[int64]models.Product) (*models.Order, []models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.priceLines")
	defer span.End()

	contract, err := s.store.GetActiveContract(ctx, customerID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load active contract: %w", err)
	}

	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	rules, err := s.store.GetCustomerPriceRules(ctx, customerID, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load price rules: %w", err)
	}

	total := decimal.Zero
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		res := pricing.Resolve(products[line.ProductID], line.Quantity, customerID, contract, rules)
		util.PriceResolutionsTotal.WithLabelValues(string(res.Source)).Inc()

		item := models.OrderItem{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			UnitPrice:   res.UnitPrice,
			PriceRuleID: res.RuleID,
		}
		total = total.Add(item.LineTotal())
		items = append(items, item)
	}

	order := &models.Order{
		CustomerID: customerID,
		Status:     models.OrderStatusPending,
		Total:      total,
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	return order, items, nil
}

// commit runs the transactional write detached from client cancellation so
// it either completes or rolls back, bounded by CommitTimeout.
func (s *OrderService) commit(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	ctx, span := util.StartSpan(ctx, "OrderService.commit")
	defer span.End()

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.CommitTimeout)
	defer cancel()

	start := time.Now()
	err := s.store.CommitOrder(commitCtx, order, items)
	util.OrderCommitLatency.Observe(time.Since(start).Seconds())

	if err == nil {
		return nil
	}

	var stockErr *store.InsufficientStockError
	if errors.As(err, &stockErr) {
		util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		s.logger.Info("Order rejected at commit",
			zap.Int64("product_id", stockErr.ProductID))
		return err
	}

	util.OrdersFailedTotal.WithLabelValues("commit_failed").Inc()
	span.RecordError(err)
	return fmt.Errorf("failed to commit order: %w", err)
}

// GetOrder returns the invoice of an order. Tax is recomputed from the
// stored total.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*invoice.Invoice, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	if s.cache != nil {
		cached, err := s.cache.GetInvoice(ctx, orderID)
		switch {
		case err != nil:
			s.logger.Warn("Invoice cache read failed", zap.Int64("order_id", orderID), zap.Error(err))
		case cached != nil:
			util.InvoiceCacheTotal.WithLabelValues("hit").Inc()
			return cached, nil
		default:
			util.InvoiceCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	customer := models.Customer{ID: order.CustomerID}
	if c, err := s.store.GetCustomerByID(ctx, order.CustomerID); err == nil {
		customer = *c
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	inv := invoice.Assemble(*order, items, customer, s.settings.TaxRate)
	s.cacheInvoice(ctx, &inv)
	return &inv, nil
}

// cacheInvoice stores inv, then re-reads the order header. A status change
// or delete that committed after inv was loaded may have invalidated the
// entry before it was written; the entry is dropped again in that case.
func (s *OrderService) cacheInvoice(ctx context.Context, inv *invoice.Invoice) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetInvoice(ctx, inv, s.settings.InvoiceCacheTTL); err != nil {
		s.logger.Warn("Invoice cache write failed", zap.Int64("order_id", inv.OrderID), zap.Error(err))
		return
	}

	current, err := s.store.GetOrderByID(ctx, inv.OrderID)
	if err == nil && current.Status == inv.Status {
		return
	}
	util.InvoiceCacheTotal.WithLabelValues("stale").Inc()
	s.invalidateInvoice(ctx, inv.OrderID)
}

// ListOrders returns all order headers, newest first
func (s *OrderService) ListOrders(ctx context.Context) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	return s.store.ListOrders(ctx)
}

// UpdateStatus moves an order to status. Fulfilled and cancelled orders
// cannot change any more; setting the current status again is a no-op.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, status string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return nil, fmt.Errorf("%w: status is required", ErrInvalidInput)
	}
	if !models.IsValidOrderStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == status {
		return order, nil
	}
	if models.IsTerminalOrderStatus(order.Status) {
		return nil, fmt.Errorf("%w: order %d is already %s", ErrConflict, orderID, order.Status)
	}

	if err := s.store.UpdateOrderStatus(ctx, orderID, order.Status, status); err != nil {
		return nil, err
	}
	order.Status = status

	util.OrderStatusChangesTotal.WithLabelValues(status).Inc()
	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("status", status))

	s.invalidateInvoice(ctx, orderID)
	s.publish(ctx, orderID, func(ctx context.Context) error {
		return s.events.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged),
			OrderID:   orderID,
			Status:    status,
		})
	})

	return order, nil
}

// DeleteOrder removes an order and its items. Stock is not restored.
func (s *OrderService) DeleteOrder(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.DeleteOrder")
	defer span.End()

	if err := s.store.DeleteOrder(ctx, orderID); err != nil {
		return err
	}

	util.OrdersDeletedTotal.Inc()
	s.logger.Info("Order deleted", zap.Int64("order_id", orderID))

	s.invalidateInvoice(ctx, orderID)
	s.publish(ctx, orderID, func(ctx context.Context) error {
		return s.events.PublishOrderDeleted(ctx, &models.OrderDeletedEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderDeleted),
			OrderID:   orderID,
		})
	})
	return nil
}

// Ping checks the backing store
func (s *OrderService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *OrderService) invalidateInvoice(ctx context.Context, orderID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteInvoice(context.WithoutCancel(ctx), orderID); err != nil {
		s.logger.Warn("Failed to invalidate cached invoice", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	data := make([]models.OrderItemData, len(items))
	for i, item := range items {
		data[i] = models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}

	s.publish(ctx, order.ID, func(ctx context.Context) error {
		return s.events.PublishOrderCreated(ctx, &models.OrderCreatedEvent{
			BaseEvent:  newBaseEvent(models.EventTypeOrderCreated),
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Total:      order.Total,
			Items:      data,
		})
	})
}

// publish sends an event after the change is committed. Failures are logged
// and never undo the change.
func (s *OrderService) publish(ctx context.Context, orderID int64, send func(context.Context) error) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := send(ctx); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}
