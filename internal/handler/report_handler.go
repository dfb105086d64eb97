package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tradeops/ledger/internal/middleware"
	"github.com/tradeops/ledger/internal/service"
	"github.com/tradeops/ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ReportHandler struct {
	reportService service.ReportService
	auth          *middleware.Auth
	log           *zap.Logger
}

func NewReportHandler(reportService service.ReportService, auth *middleware.Auth, log *zap.Logger) *ReportHandler {
	return &ReportHandler{reportService: reportService, auth: auth, log: log}
}

func (h *ReportHandler) RegisterRoutes(router *gin.RouterGroup) {
	reports := router.Group("/api/reports")
	reports.Use(h.auth.RequireRole(middleware.RoleAdmin, middleware.RoleAccountant))
	{
		reports.GET("/stock-register/:productId", h.StockRegister)
		reports.GET("/cogs", h.COGS)
		reports.GET("/vat", h.VAT)
	}
}

// StockRegister returns the product's stock card with running balance and its lots
// @Summary      Stock register
// @Tags         reports
// @Security     BearerAuth
// @Produce      json
// @Param        productId  path      string  true   "Product ID"
// @Param        from       query     string  false  "YYYY-MM-DD"
// @Param        to         query     string  false  "YYYY-MM-DD, inclusive"
// @Success      200        {object}  response.Response{data=service.StockRegisterReport}
// @Router       /api/reports/stock-register/{productId} [get]
func (h *ReportHandler) StockRegister(c *gin.Context) {
	from, ok := queryDate(c, "from")
	if !ok {
		return
	}
	to, ok := queryDate(c, "to")
	if !ok {
		return
	}
	if to != nil {
		end := to.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}

	report, err := h.reportService.StockRegister(c.Request.Context(), c.Param("productId"), from, to)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// COGS returns the cost of goods sold for ?year&month
func (h *ReportHandler) COGS(c *gin.Context) {
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid year"))
		return
	}
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid month"))
		return
	}

	report, err := h.reportService.COGS(c.Request.Context(), year, month, c.Query("product_id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// VAT returns the yearly VAT / treasury reconciliation
func (h *ReportHandler) VAT(c *gin.Context) {
	year, err := strconv.Atoi(c.DefaultQuery("year", strconv.Itoa(time.Now().UTC().Year())))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid year"))
		return
	}

	report, err := h.reportService.VAT(c.Request.Context(), year)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}
