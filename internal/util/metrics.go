package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders committed",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of rejected or failed order creations",
	}, []string{"reason"})

	OrderStatusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_changes_total",
		Help: "Total number of order status transitions",
	}, []string{"status"})

	OrdersDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_deleted_total",
		Help: "Total number of deleted orders",
	})

	OrderCommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_commit_latency_seconds",
		Help:    "Latency of the transactional order commit",
		Buckets: prometheus.DefBuckets,
	})

	PriceResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_resolutions_total",
		Help: "Total number of resolved line prices by source",
	}, []string{"source"})

	StockPurchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_purchases_total",
		Help: "Total number of direct purchase requests by outcome",
	}, []string{"outcome"})

	InventoryLowAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_low_alerts_total",
		Help: "Total number of low stock alerts raised",
	})

	InvoiceCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_cache_requests_total",
		Help: "Invoice cache lookups and writes by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
