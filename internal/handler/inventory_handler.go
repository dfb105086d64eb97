package handler

import (
	"net/http"
	"time"

	"github.com/tradeops/ledger/internal/middleware"
	"github.com/tradeops/ledger/internal/repository"
	"github.com/tradeops/ledger/internal/service"
	"github.com/tradeops/ledger/pkg/pagination"
	"github.com/tradeops/ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type InventoryHandler struct {
	inventoryService service.InventoryService
	auth             *middleware.Auth
	log              *zap.Logger
}

func NewInventoryHandler(inventoryService service.InventoryService, auth *middleware.Auth, log *zap.Logger) *InventoryHandler {
	return &InventoryHandler{inventoryService: inventoryService, auth: auth, log: log}
}

func (h *InventoryHandler) RegisterRoutes(router *gin.RouterGroup) {
	staff := h.auth.RequireRole(middleware.RoleAdmin, middleware.RoleAccountant, middleware.RoleClerk)

	products := router.Group("/api/products")
	products.Use(staff)
	{
		products.GET("", h.GetProducts)
		products.POST("", h.CreateProduct)
		products.GET("/:id", h.GetProduct)
		products.PUT("/:id", h.UpdateProduct)
		products.GET("/:id/lots", h.GetLots)
		products.GET("/:id/on-hand", h.GetOnHand)
	}

	router.POST("/api/receipts", staff, h.ReceiveGoods)
	router.POST("/api/stock-adjustments", h.auth.RequireRole(middleware.RoleAdmin, middleware.RoleAccountant), h.AdjustStock)
}

// GetProducts lists products with their current on-hand quantity
// @Summary      List products
// @Tags         inventory
// @Security     BearerAuth
// @Produce      json
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Items per page (default 20)"
// @Param        search    query     string  false  "SKU or name filter"
// @Param        category  query     string  false  "Exact category"
// @Success      200     {object}  response.Response{data=response.Page}
// @Router       /api/products [get]
func (h *InventoryHandler) GetProducts(c *gin.Context) {
	p := pagination.Parse(c)
	filter := repository.ProductFilter{Search: c.Query("search"), Category: c.Query("category")}
	products, total, err := h.inventoryService.GetProducts(c.Request.Context(), filter, p.Page, p.Limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, p.Result(products, total)))
}

func (h *InventoryHandler) GetProduct(c *gin.Context) {
	product, err := h.inventoryService.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, product))
}

func (h *InventoryHandler) CreateProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	product, err := h.inventoryService.CreateProduct(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, product))
}

func (h *InventoryHandler) UpdateProduct(c *gin.Context) {
	var req service.UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	product, err := h.inventoryService.UpdateProduct(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, product))
}

// GetLots returns the product's lots in FIFO order
func (h *InventoryHandler) GetLots(c *gin.Context) {
	lots, err := h.inventoryService.GetLots(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, lots))
}

// GetOnHand folds the stock ledger up to as_of (end of that day), default now
// @Summary      On-hand quantity
// @Tags         inventory
// @Security     BearerAuth
// @Produce      json
// @Param        id     path      string  true   "Product ID"
// @Param        as_of  query     string  false  "YYYY-MM-DD"
// @Success      200    {object}  response.Response{data=object}
// @Router       /api/products/{id}/on-hand [get]
func (h *InventoryHandler) GetOnHand(c *gin.Context) {
	day, ok := queryDate(c, "as_of")
	if !ok {
		return
	}
	asOf := time.Now().UTC()
	if day != nil {
		asOf = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	qty, err := h.inventoryService.GetOnHand(c.Request.Context(), c.Param("id"), asOf)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{
		"product_id": c.Param("id"),
		"as_of":      asOf.Format(time.RFC3339),
		"on_hand":    qty,
	}))
}

// ReceiveGoods handles the goods-received event: one lot per document line
// @Summary      Receive goods
// @Tags         inventory
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.ReceiveGoodsRequest  true  "Import document"
// @Success      201      {object}  response.Response{data=[]service.LotResponse}
// @Router       /api/receipts [post]
func (h *InventoryHandler) ReceiveGoods(c *gin.Context) {
	var req service.ReceiveGoodsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	lots, err := h.inventoryService.ReceiveGoods(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, lots))
}

func (h *InventoryHandler) AdjustStock(c *gin.Context) {
	var req service.StockAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	entries, err := h.inventoryService.AdjustStock(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, entries))
}
