package handler

import (
	"net/http"
	"time"

	"github.com/tradeops/ledger/internal/middleware"
	"github.com/tradeops/ledger/internal/service"
	"github.com/tradeops/ledger/pkg/pagination"
	"github.com/tradeops/ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TaxHandler struct {
	taxService service.TaxService
	auth       *middleware.Auth
	log        *zap.Logger
}

func NewTaxHandler(taxService service.TaxService, auth *middleware.Auth, log *zap.Logger) *TaxHandler {
	return &TaxHandler{taxService: taxService, auth: auth, log: log}
}

func (h *TaxHandler) RegisterRoutes(router *gin.RouterGroup) {
	tax := router.Group("/api/tax-rules")
	tax.Use(h.auth.RequireRole(middleware.RoleAdmin, middleware.RoleAccountant, middleware.RoleClerk))
	{
		tax.GET("", h.GetTaxRules)
		tax.GET("/active", h.GetActiveTaxRate)
	}

	manage := router.Group("/api/tax-rules")
	manage.Use(h.auth.RequireRole(middleware.RoleAdmin, middleware.RoleAccountant))
	{
		manage.POST("", h.CreateTaxRule)
		manage.PUT("/:id", h.UpdateTaxRule)
		manage.DELETE("/:id", h.DeleteTaxRule)
	}
}

// GetTaxRules returns tax rules ordered by effective_from DESC
// @Summary      List tax rules
// @Tags         tax
// @Security     BearerAuth
// @Produce      json
// @Param        tax_type  query     string  false  "VAT_INLAND or VAT_INTL"
// @Param        page      query     int     false  "Page number (default 1)"
// @Param        limit     query     int     false  "Items per page (default 20)"
// @Success      200       {object}  response.Response{data=response.Page}
// @Router       /api/tax-rules [get]
func (h *TaxHandler) GetTaxRules(c *gin.Context) {
	p := pagination.Parse(c)
	rules, total, err := h.taxService.GetTaxRules(c.Request.Context(), c.Query("tax_type"), p.Page, p.Limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, p.Result(rules, total)))
}

// GetActiveTaxRate resolves the rate effective on ?date (default today)
func (h *TaxHandler) GetActiveTaxRate(c *gin.Context) {
	date, ok := queryDate(c, "date")
	if !ok {
		return
	}
	on := time.Now().UTC()
	if date != nil {
		on = *date
	}

	taxType := c.DefaultQuery("tax_type", "VAT_INLAND")
	rate, err := h.taxService.GetActiveTaxRate(c.Request.Context(), taxType, on)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, rate))
}

func (h *TaxHandler) CreateTaxRule(c *gin.Context) {
	var req service.TaxRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	rule, err := h.taxService.CreateTaxRule(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, rule))
}

func (h *TaxHandler) UpdateTaxRule(c *gin.Context) {
	var req service.TaxRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	rule, err := h.taxService.UpdateTaxRule(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, rule))
}

func (h *TaxHandler) DeleteTaxRule(c *gin.Context) {
	if err := h.taxService.DeleteTaxRule(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, nil))
}
