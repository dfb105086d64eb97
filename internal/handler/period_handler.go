package handler

import (
	"net/http"

	"github.com/tradeops/ledger/internal/middleware"
	"github.com/tradeops/ledger/internal/service"
	"github.com/tradeops/ledger/pkg/apperror"
	"github.com/tradeops/ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PeriodHandler serves the closing-balance and VAT period ledgers
type PeriodHandler struct {
	balanceService service.ClosingBalanceService
	vatService     service.VATPeriodService
	auth           *middleware.Auth
	log            *zap.Logger
}

func NewPeriodHandler(balanceService service.ClosingBalanceService, vatService service.VATPeriodService, auth *middleware.Auth, log *zap.Logger) *PeriodHandler {
	return &PeriodHandler{balanceService: balanceService, vatService: vatService, auth: auth, log: log}
}

func (h *PeriodHandler) RegisterRoutes(router *gin.RouterGroup) {
	finance := h.auth.RequireRole(middleware.RoleAdmin, middleware.RoleAccountant)

	balances := router.Group("/api/closing-balances")
	balances.Use(finance)
	{
		balances.GET("/:year/:month", h.GetClosingBalance)
		balances.PUT("/:year/:month", h.ApplyClosingBalance)
	}

	vat := router.Group("/api/vat-periods")
	vat.Use(finance)
	{
		vat.GET("/:year/:month", h.GetVATPeriod)
		vat.POST("/:year/:month/compute", h.ComputeVATPeriod)
		vat.POST("/:year/:month/lock", h.LockVATPeriod)
		vat.GET("/:year/:month/treasury-payments", h.ListTreasuryPayments)
	}
	// Unlock is the privileged way back from a locked period
	router.POST("/api/vat-periods/:year/:month/unlock", h.auth.RequireRole(middleware.RoleAdmin), h.UnlockVATPeriod)

	router.POST("/api/treasury-payments", finance, h.RecordTreasuryPayment)
}

// GetClosingBalance returns the period row; a month not yet written is shown carried forward without being created
func (h *PeriodHandler) GetClosingBalance(c *gin.Context) {
	year, month, ok := periodParams(c)
	if !ok {
		return
	}
	balance, err := h.balanceService.Get(c.Request.Context(), year, month)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToClosingBalanceResponse(*balance)))
}

// ApplyClosingBalance sets the period's addition and used amounts
// @Summary      Apply closing balance
// @Tags         periods
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        year     path      int                                    true  "Year"
// @Param        month    path      int                                    true  "Month"
// @Param        request  body      service.ApplyClosingBalanceRequest     true  "Amounts"
// @Success      200      {object}  response.Response{data=service.ClosingBalanceResponse}
// @Failure      409      {object}  response.Response
// @Failure      423      {object}  response.Response
// @Router       /api/closing-balances/{year}/{month} [put]
func (h *PeriodHandler) ApplyClosingBalance(c *gin.Context) {
	year, month, ok := periodParams(c)
	if !ok {
		return
	}
	var req service.ApplyClosingBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	balance, err := h.balanceService.Apply(c.Request.Context(), middleware.UserID(c), year, month, req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToClosingBalanceResponse(*balance)))
}

func (h *PeriodHandler) GetVATPeriod(c *gin.Context) {
	year, month, ok := periodParams(c)
	if !ok {
		return
	}
	period, err := h.vatService.Get(c.Request.Context(), year, month)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToVATPeriodResponse(*period)))
}

// ComputeVATPeriod recomputes an open period, optionally drawing from the closing balance.
// On a locked period it returns the frozen snapshot.
// @Summary      Compute VAT period
// @Tags         periods
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        year     path      int                        true   "Year"
// @Param        month    path      int                        true   "Month"
// @Param        request  body      service.ComputeVATRequest  false  "Draw and recompute options"
// @Success      200      {object}  response.Response{data=service.VATPeriodResponse}
// @Failure      422      {object}  response.Response
// @Failure      423      {object}  response.Response
// @Router       /api/vat-periods/{year}/{month}/compute [post]
func (h *PeriodHandler) ComputeVATPeriod(c *gin.Context) {
	year, month, ok := periodParams(c)
	if !ok {
		return
	}

	var req service.ComputeVATRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	opts := service.ComputeOptions{Recompute: req.Recompute}
	if req.Draw != nil {
		draw, err := decimal.NewFromString(*req.Draw)
		if err != nil {
			writeError(c, h.log, apperror.Validation("invalid draw value"))
			return
		}
		opts.Draw = &draw
	}

	period, err := h.vatService.Compute(c.Request.Context(), middleware.UserID(c), year, month, opts)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToVATPeriodResponse(*period)))
}

// LockVATPeriod freezes the period; locking a locked period returns it unchanged
func (h *PeriodHandler) LockVATPeriod(c *gin.Context) {
	year, month, ok := periodParams(c)
	if !ok {
		return
	}
	period, err := h.vatService.Lock(c.Request.Context(), middleware.UserID(c), year, month)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToVATPeriodResponse(*period)))
}

func (h *PeriodHandler) UnlockVATPeriod(c *gin.Context) {
	year, month, ok := periodParams(c)
	if !ok {
		return
	}
	var req service.UnlockVATRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	period, err := h.vatService.Unlock(c.Request.Context(), middleware.UserID(c), year, month, req.Reason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToVATPeriodResponse(*period)))
}

func (h *PeriodHandler) RecordTreasuryPayment(c *gin.Context) {
	var req service.RecordTreasuryPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	payment, err := h.vatService.RecordTreasuryPayment(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, payment))
}

func (h *PeriodHandler) ListTreasuryPayments(c *gin.Context) {
	year, month, ok := periodParams(c)
	if !ok {
		return
	}
	payments, err := h.vatService.ListTreasuryPayments(c.Request.Context(), year, month)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, payments))
}
