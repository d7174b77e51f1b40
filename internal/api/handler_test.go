package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"inventory-service/internal/models"
	"inventory-service/internal/service"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
	util.SetLogger(zap.NewNop())
}

func newRouter(st service.Store) *gin.Engine {
	orders := service.NewOrderService(st, nil, nil, service.OrderSettings{
		TaxRate:       decimal.RequireFromString("0.19"),
		CommitTimeout: time.Second,
	})
	h := NewHandler(orders, service.NewCatalogService(st), 5*time.Second)

	router := gin.New()
	h.SetupRoutes(router)
	return router
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func id(v interface{}) int64 {
	return int64(v.(float64))
}

type env struct {
	router     *gin.Engine
	customerID int64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	router := newRouter(store.NewMemoryStore())
	w, body := do(t, router, http.MethodPost, "/api/v1/customers", gin.H{"name": "ACME", "customer_id": 900123})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return &env{router: router, customerID: id(body["id"])}
}

func (e *env) product(t *testing.T, quantity int, price float64) int64 {
	t.Helper()
	w, body := do(t, e.router, http.MethodPost, "/api/v1/products", gin.H{"name": "widget", "quantity": quantity, "price": price})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return id(body["id"])
}

func TestOrderLifecycleScenario(t *testing.T) {
	e := newEnv(t)
	productID := e.product(t, 5, 10.0)

	w, body := do(t, e.router, http.MethodPost, "/api/v1/orders", gin.H{
		"customerId": e.customerID,
		"products":   []gin.H{{"id": productID, "quantity": 5}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	inv := body["invoice"].(map[string]interface{})
	assert.Equal(t, 50.0, inv["total"])
	assert.Equal(t, 9.5, inv["tax"])
	assert.Equal(t, 59.5, inv["grand_total"])
	assert.Equal(t, "pending", inv["status"])

	w, body = do(t, e.router, http.MethodGet, fmt.Sprintf("/api/v1/products/%d", productID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, body["quantity"])

	w, body = do(t, e.router, http.MethodPost, "/api/v1/orders", gin.H{
		"customerId": e.customerID,
		"products":   []gin.H{{"id": productID, "quantity": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], fmt.Sprintf("product %d", productID))
}

func TestOrderTieredPriceScenario(t *testing.T) {
	e := newEnv(t)
	productID := e.product(t, 100, 10.0)

	w, _ := do(t, e.router, http.MethodPost, "/api/v1/price-rules", gin.H{
		"product_id":   productID,
		"customer_id":  e.customerID,
		"unit_price":   8.0,
		"min_quantity": 10,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	price := func(quantity int) float64 {
		w, body := do(t, e.router, http.MethodPost, "/api/v1/orders", gin.H{
			"customerId": e.customerID,
			"products":   []gin.H{{"id": productID, "quantity": quantity}},
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		lines := body["invoice"].(map[string]interface{})["products"].([]interface{})
		return lines[0].(map[string]interface{})["price"].(float64)
	}

	assert.Equal(t, 8.0, price(10))
	assert.Equal(t, 10.0, price(5))
}

func TestCreateOrderByCustomerNameAndNumericExternalRef(t *testing.T) {
	e := newEnv(t)
	productID := e.product(t, 3, 2.5)

	w, body := do(t, e.router, http.MethodPost, "/api/v1/orders", gin.H{
		"customer_name": "ACME",
		"customer_id":   900123,
		"products":      []gin.H{{"id": productID, "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	customer := body["invoice"].(map[string]interface{})["customer"].(map[string]interface{})
	assert.Equal(t, "900123", customer["external_ref"])

	w, _ = do(t, e.router, http.MethodPost, "/api/v1/orders", gin.H{
		"customer_name": "Nobody",
		"products":      []gin.H{{"id": productID, "quantity": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrderBadRequests(t *testing.T) {
	e := newEnv(t)
	productID := e.product(t, 3, 1)

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", `{"products": [`},
		{"missing customer", gin.H{"products": []gin.H{{"id": productID, "quantity": 1}}}},
		{"missing products", gin.H{"customerId": e.customerID}},
		{"zero quantity", gin.H{"customerId": e.customerID, "products": []gin.H{{"id": productID, "quantity": 0}}}},
		{"unknown product", gin.H{"customerId": e.customerID, "products": []gin.H{{"id": 987654, "quantity": 1}}}},
		{"fractional quantity", `{"customerId": 1, "products": [{"id": 1, "quantity": 1.5}]}`},
		{"unknown customer id", gin.H{"customerId": 987654, "products": []gin.H{{"id": productID, "quantity": 1}}}},
		{"merged quantity overflow", gin.H{"customerId": e.customerID, "products": []gin.H{
			{"id": productID, "quantity": math.MaxInt64},
			{"id": productID, "quantity": math.MaxInt64},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(t, e.router, http.MethodPost, "/api/v1/orders", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestOrderStatusAndDelete(t *testing.T) {
	e := newEnv(t)
	productID := e.product(t, 10, 4)

	w, body := do(t, e.router, http.MethodPost, "/api/v1/orders", gin.H{
		"customerId": e.customerID,
		"products":   []gin.H{{"id": productID, "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := id(body["invoice"].(map[string]interface{})["order_id"])
	path := fmt.Sprintf("/api/v1/orders/%d", orderID)

	w, body = do(t, e.router, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 8.0, body["total"])
	assert.Equal(t, 1.52, body["tax"])

	w, _ = do(t, e.router, http.MethodPatch, path+"/status", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(t, e.router, http.MethodPatch, path+"/status", gin.H{"status": "shipped"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(t, e.router, http.MethodPatch, "/api/v1/orders/424242/status", gin.H{"status": "fulfilled"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = do(t, e.router, http.MethodPatch, path+"/status", gin.H{"status": "fulfilled"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "fulfilled", body["order"].(map[string]interface{})["status"])

	w, _ = do(t, e.router, http.MethodPatch, path+"/status", gin.H{"status": "cancelled"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = do(t, e.router, http.MethodGet, "/api/v1/orders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["orders"], 1)

	w, _ = do(t, e.router, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, e.router, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = do(t, e.router, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = do(t, e.router, http.MethodGet, fmt.Sprintf("/api/v1/products/%d", productID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 8.0, body["quantity"], "deleting an order keeps stock decremented")
}

func TestInvalidPathIDs(t *testing.T) {
	e := newEnv(t)

	for _, path := range []string{"/api/v1/orders/abc", "/api/v1/orders/0", "/api/v1/products/-3", "/api/v1/customers/x"} {
		w, _ := do(t, e.router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	e := newEnv(t)
	productID := e.product(t, 4, 1.25)
	path := fmt.Sprintf("/api/v1/products/%d", productID)

	w, _ := do(t, e.router, http.MethodPost, "/api/v1/products", gin.H{"name": "no price", "quantity": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := do(t, e.router, http.MethodPut, path, gin.H{"name": "gadget", "price": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "gadget", body["name"])
	assert.Equal(t, 2.0, body["price"])

	w, body = do(t, e.router, http.MethodPost, path+"/restock", gin.H{"quantity": 6})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10.0, body["quantity"])

	w, _ = do(t, e.router, http.MethodPost, path+"/restock", gin.H{"quantity": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, e.router, http.MethodPost, "/api/v1/purchases", gin.H{"products": []gin.H{{"id": productID, "quantity": 11}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(t, e.router, http.MethodPost, "/api/v1/purchases", gin.H{"products": []gin.H{{"id": productID, "quantity": 10}}})
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = do(t, e.router, http.MethodPost, "/api/v1/contracts", gin.H{"date": "2024-03-01", "expiration": "2025-03-01"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	contractID := id(body["id"])

	w, _ = do(t, e.router, http.MethodPost, "/api/v1/contracts", gin.H{"date": "March"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, e.router, http.MethodPost, "/api/v1/price-rules", gin.H{
		"product_id": productID, "customer_id": e.customerID, "contract_id": contractID, "unit_price": 1,
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w, body = do(t, e.router, http.MethodGet, path+"/price-rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["price_rules"], 1)

	w, _ = do(t, e.router, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "product referenced by a price rule")

	w, body = do(t, e.router, http.MethodGet, "/api/v1/contracts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["contracts"], 1)

	w, _ = do(t, e.router, http.MethodPost, "/api/v1/customers", gin.H{"name": "Dup", "customer_id": "900123"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

type brokenStore struct {
	*store.MemoryStore
}

func (brokenStore) ListOrders(context.Context) ([]models.Order, error) {
	return nil, errors.New("pq: connection refused")
}

func (brokenStore) Ping(context.Context) error {
	return errors.New("pq: connection refused")
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	router := newRouter(brokenStore{store.NewMemoryStore()})

	w, body := do(t, router, http.MethodGet, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, internalErrorMessage, body["error"])
	assert.NotContains(t, w.Body.String(), "pq")

	w, _ = do(t, router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthAndReady(t *testing.T) {
	router := newRouter(store.NewMemoryStore())

	w, body := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	w, body = do(t, router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])

	w, _ = do(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestExternalRefUnmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`"NIT-1"`, "NIT-1", false},
		{`900123`, "900123", false},
		{`null`, "", false},
		{`true`, "", true},
	}
	for _, tt := range tests {
		var r externalRef
		err := json.Unmarshal([]byte(tt.in), &r)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, string(r))
	}
}
