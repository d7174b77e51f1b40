package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inventory-service/config"
	"inventory-service/internal/api"
	"inventory-service/internal/broker"
	"inventory-service/internal/redisclient"
	"inventory-service/internal/service"
	"inventory-service/internal/store"
	"inventory-service/internal/util"
	"inventory-service/internal/worker"
	"inventory-service/migrations"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// backend is a store that can also be closed and feeds the stock watcher
type backend interface {
	service.Store
	worker.StockStore
	Close() error
}

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting inventory service")

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := openStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Store ready", zap.String("driver", cfg.Database.Driver))

	var cache service.OrderCache
	if cfg.Redis.Enabled() {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		cache = redisClient
		logger.Info("Redis connected")
	} else {
		logger.Info("Redis disabled, idempotency keys and invoice cache are off")
	}

	var (
		events  service.EventPublisher
		watcher *worker.StockWatcher
	)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if cfg.Kafka.Enabled() {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		publisher := broker.NewEventPublisher(producer)
		events = publisher
		logger.Info("Kafka producer initialized")

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		watcher = worker.NewStockWatcher(consumer, db, publisher, cfg.Business.LowStockThreshold)
		go func() {
			if err := watcher.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Stock watcher error", zap.Error(err))
			}
		}()
	} else {
		logger.Info("Kafka disabled, order events are not published")
	}

	orderService := service.NewOrderService(db, cache, events, service.OrderSettings{
		TaxRate:         cfg.Business.TaxRate,
		CommitTimeout:   cfg.Business.RequestTimeout,
		InvoiceCacheTTL: cfg.Business.InvoiceCacheTTL,
		IdempotencyTTL:  cfg.Business.IdempotencyTTL,
	})
	catalogService := service.NewCatalogService(db)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, catalogService, cfg.Business.RequestTimeout)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("Error stopping stock watcher", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

func openStore(cfg config.DatabaseConfig) (backend, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres", "":
		if err := migrations.Up(cfg.URL); err != nil {
			return nil, err
		}
		return store.NewStore(cfg.URL)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Driver)
	}
}
