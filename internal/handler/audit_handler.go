package handler

import (
	"net/http"

	"github.com/tradeops/ledger/internal/middleware"
	"github.com/tradeops/ledger/internal/repository"
	"github.com/tradeops/ledger/internal/service"
	"github.com/tradeops/ledger/pkg/pagination"
	"github.com/tradeops/ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuditHandler struct {
	auditService service.AuditService
	auth         *middleware.Auth
	log          *zap.Logger
}

func NewAuditHandler(auditService service.AuditService, auth *middleware.Auth, log *zap.Logger) *AuditHandler {
	return &AuditHandler{auditService: auditService, auth: auth, log: log}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/audit-logs")
	group.Use(h.auth.RequireRole(middleware.RoleAdmin, middleware.RoleAccountant))
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs lists audit entries newest first
// @Summary      Get audit logs
// @Description  Filterable by entity_type, entity_id and action
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        entity_type  query     string  false  "Entity type, e.g. SALE"
// @Param        entity_id    query     string  false  "Entity ID"
// @Param        action       query     string  false  "Action, e.g. LOCK"
// @Param        page         query     int     false  "Page number (default 1)"
// @Param        limit        query     int     false  "Number of items per page (default 20)"
// @Success      200          {object}  response.Response{data=response.Page}
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	p := pagination.Parse(c)
	filter := repository.AuditFilter{
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Action:     c.Query("action"),
	}

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), filter, p.Page, p.Limit)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, p.Result(logs, total)))
}
