package api

import (
	"net/http"
	"time"

	"inventory-service/internal/models"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) createProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.Quantity == nil || req.Price == nil {
		badRequest(c, "quantity and price are required")
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), req.Name, *req.Quantity, *req.Price)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": product.ID})
}

func (h *Handler) updateProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req updateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.Price == nil {
		badRequest(c, "price is required")
		return
	}

	product, err := h.catalog.UpdateProduct(c.Request.Context(), id, req.Name, *req.Price)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) restockProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req restockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	product, err := h.catalog.RestockProduct(c.Request.Context(), id, req.Quantity)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteProduct(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted"})
}

func (h *Handler) listPriceRules(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	rules, err := h.catalog.ListPriceRules(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"price_rules": rules})
}

// purchase decrements stock directly, without recording an order
func (h *Handler) purchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	if err := h.catalog.Purchase(c.Request.Context(), toStockLines(req.Products)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Purchase completed"})
}

func (h *Handler) listCustomers(c *gin.Context) {
	customers, err := h.catalog.ListCustomers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
}

func (h *Handler) getCustomer(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	customer, err := h.catalog.GetCustomer(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func (h *Handler) createCustomer(c *gin.Context) {
	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	customer, err := h.catalog.CreateCustomer(c.Request.Context(), req.Name, string(req.ExternalRef))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func (h *Handler) listContracts(c *gin.Context) {
	contracts, err := h.catalog.ListContracts(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": contracts})
}

func (h *Handler) getContract(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	contract, err := h.catalog.GetContract(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

func (h *Handler) createContract(c *gin.Context) {
	var req createContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	var expiration *time.Time
	if req.Expiration != nil && *req.Expiration != "" {
		exp, err := parseDate(*req.Expiration)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		expiration = &exp
	}

	contract, err := h.catalog.CreateContract(c.Request.Context(), date, expiration)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, contract)
}

func (h *Handler) createPriceRule(c *gin.Context) {
	var req createPriceRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.UnitPrice == nil {
		badRequest(c, "unit_price is required")
		return
	}

	rule := &models.PriceRule{
		ProductID:   req.ProductID,
		ContractID:  req.ContractID,
		CustomerID:  req.CustomerID,
		UnitPrice:   *req.UnitPrice,
		MinQuantity: req.MinQuantity,
	}
	if err := h.catalog.CreatePriceRule(c.Request.Context(), rule); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}
