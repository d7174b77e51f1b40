package worker

import (
	"context"
	"fmt"
	"time"

	"inventory-service/internal/broker"
	"inventory-service/internal/models"
	"inventory-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StockStore is what the watcher reads and records
type StockStore interface {
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// AlertPublisher publishes low stock alerts
type AlertPublisher interface {
	PublishInventoryLow(ctx context.Context, event *models.InventoryLowEvent) error
}

// StockWatcher raises INVENTORY_LOW alerts for products whose stock fell to
// the threshold or below after an order was created.
type StockWatcher struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        StockStore
	alerts       AlertPublisher
	threshold    int
	logger       *zap.Logger
}

// NewStockWatcher creates a new stock watcher. consumer may be nil when the
// watcher is driven directly through HandleOrderCreated.
func NewStockWatcher(consumer *broker.Consumer, store StockStore, alerts AlertPublisher, threshold int) *StockWatcher {
	w := &StockWatcher{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		store:        store,
		alerts:       alerts,
		threshold:    threshold,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderCreated(w.HandleOrderCreated)
	return w
}

// Start consumes order events until ctx is done
func (w *StockWatcher) Start(ctx context.Context) error {
	w.logger.Info("Starting stock watcher", zap.Int("threshold", w.threshold))
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StockWatcher) Stop() error {
	w.logger.Info("Stopping stock watcher")
	return w.consumer.Close()
}

// HandleOrderCreated checks the ordered products once per event. The event
// is marked processed only after every alert was published, so a failure
// leads to redelivery rather than a lost alert.
func (w *StockWatcher) HandleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "StockWatcher.HandleOrderCreated")
	defer span.End()

	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event: %w", err)
	}
	if processed {
		w.logger.Debug("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	ids := make([]int64, 0, len(event.Items))
	for _, item := range event.Items {
		ids = append(ids, item.ProductID)
	}

	products, err := w.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load products: %w", err)
	}

	for _, p := range products {
		if p.Quantity > w.threshold {
			continue
		}
		alert := &models.InventoryLowEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeInventoryLow,
				Timestamp: time.Now().UTC(),
			},
			ProductID: p.ID,
			Quantity:  p.Quantity,
			Threshold: w.threshold,
		}
		if err := w.alerts.PublishInventoryLow(ctx, alert); err != nil {
			return fmt.Errorf("failed to publish low stock alert for product %d: %w", p.ID, err)
		}
		util.InventoryLowAlertsTotal.Inc()
		w.logger.Warn("Low stock",
			zap.Int64("product_id", p.ID),
			zap.Int("quantity", p.Quantity),
			zap.Int64("order_id", event.OrderID))
	}

	return w.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
}
