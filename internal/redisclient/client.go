package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"inventory-service/internal/invoice"

	"github.com/go-redis/redis/v8"
)

// pendingMarker is stored under an idempotency key while its request runs
const pendingMarker = "pending"

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

func invoiceKey(orderID int64) string {
	return fmt.Sprintf("invoice:%d", orderID)
}

// ClaimIdempotencyKey marks key as in progress with SETNX. When the key is
// already held it reports the order stored under it, or 0 while the
// original request is still running.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, int64, error) {
	ok, err := c.rdb.SetNX(ctx, idempotencyKey(key), pendingMarker, ttl).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if ok {
		return true, 0, nil
	}

	value, err := c.rdb.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// Released between SETNX and GET; the caller may retry.
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if value == pendingMarker {
		return false, 0, nil
	}

	orderID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false, 0, fmt.Errorf("corrupt idempotency key %q: %w", key, err)
	}
	return false, orderID, nil
}

// CompleteIdempotencyKey records the order created under key
func (c *Client) CompleteIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(key), strconv.FormatInt(orderID, 10), ttl).Err()
}

// ReleaseIdempotencyKey frees key so the request can be retried
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyKey(key)).Err()
}

// GetInvoice returns the cached invoice of an order, or nil on a miss
func (c *Client) GetInvoice(ctx context.Context, orderID int64) (*invoice.Invoice, error) {
	data, err := c.rdb.Get(ctx, invoiceKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var inv invoice.Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to decode cached invoice %d: %w", orderID, err)
	}
	return &inv, nil
}

// SetInvoice caches an invoice for ttl
func (c *Client) SetInvoice(ctx context.Context, inv *invoice.Invoice, ttl time.Duration) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to encode invoice: %w", err)
	}
	return c.rdb.Set(ctx, invoiceKey(inv.OrderID), data, ttl).Err()
}

// DeleteInvoice drops a cached invoice
func (c *Client) DeleteInvoice(ctx context.Context, orderID int64) error {
	return c.rdb.Del(ctx, invoiceKey(orderID)).Err()
}
