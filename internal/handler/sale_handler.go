package handler

import (
	"net/http"

	"github.com/tradeops/ledger/internal/middleware"
	"github.com/tradeops/ledger/internal/service"
	"github.com/tradeops/ledger/pkg/pagination"
	"github.com/tradeops/ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SaleHandler struct {
	saleService       service.SaleService
	allocationService service.AllocationService
	auth              *middleware.Auth
	log               *zap.Logger
}

func NewSaleHandler(saleService service.SaleService, allocationService service.AllocationService, auth *middleware.Auth, log *zap.Logger) *SaleHandler {
	return &SaleHandler{saleService: saleService, allocationService: allocationService, auth: auth, log: log}
}

func (h *SaleHandler) RegisterRoutes(router *gin.RouterGroup) {
	sales := router.Group("/api/sales")
	sales.Use(h.auth.RequireRole(middleware.RoleAdmin, middleware.RoleAccountant, middleware.RoleClerk))
	{
		sales.GET("", h.ListSales)
		sales.POST("", h.CreateSale)
		sales.GET("/:id", h.GetSale)
		sales.POST("/:id/void", h.VoidSale)
	}

	router.POST("/api/allocations/:id/acknowledge",
		h.auth.RequireRole(middleware.RoleAdmin, middleware.RoleAccountant), h.AcknowledgeOverride)
}

// CreateSale records a sale and allocates every line against the FIFO lot chain
// @Summary      Create sale
// @Description  All lines are allocated in one transaction. A line with allow_override may be sold ahead of its import document.
// @Tags         sales
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.CreateSaleRequest  true  "Sale"
// @Success      201      {object}  response.Response{data=service.SaleResponse}
// @Failure      422      {object}  response.Response
// @Failure      423      {object}  response.Response
// @Router       /api/sales [post]
func (h *SaleHandler) CreateSale(c *gin.Context) {
	var req service.CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	sale, err := h.saleService.CreateSale(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, sale))
}

func (h *SaleHandler) GetSale(c *gin.Context) {
	sale, err := h.saleService.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, sale))
}

func (h *SaleHandler) ListSales(c *gin.Context) {
	p := pagination.Parse(c)

	from, ok := queryDate(c, "from")
	if !ok {
		return
	}
	to, ok := queryDate(c, "to")
	if !ok {
		return
	}
	if to != nil {
		// Inclusive end date
		end := to.AddDate(0, 0, 1)
		to = &end
	}

	sales, total, err := h.saleService.ListSales(c.Request.Context(), from, to, c.Query("status"), p.Page, p.Limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, p.Result(sales, total)))
}

// VoidSale reverses the sale's allocations; voiding twice returns the voided sale
// @Summary      Void sale
// @Tags         sales
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Sale ID"
// @Success      200  {object}  response.Response{data=service.SaleResponse}
// @Failure      423  {object}  response.Response
// @Router       /api/sales/{id}/void [post]
func (h *SaleHandler) VoidSale(c *gin.Context) {
	sale, err := h.saleService.VoidSale(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, sale))
}

func (h *SaleHandler) AcknowledgeOverride(c *gin.Context) {
	var req service.AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	allocation, err := h.allocationService.Acknowledge(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, allocation))
}
