package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tradeops/ledger/internal/config"
	"github.com/tradeops/ledger/internal/database"
	"github.com/tradeops/ledger/internal/locker"
	"github.com/tradeops/ledger/internal/metrics"
	"github.com/tradeops/ledger/internal/middleware"
	"github.com/tradeops/ledger/internal/repository"
	"github.com/tradeops/ledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "handler-test-secret"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	log := zap.NewNop()
	m := metrics.New("ledger_handler_test")
	lk := locker.NewKeyedMutex()
	policy := config.LedgerConfig{DefaultVATRate: decimal.RequireFromString("0.15"), VATTaxType: "VAT_INLAND"}

	txManager := repository.NewTransactionManager(db)
	productRepo := repository.NewProductRepository(db)
	lotRepo := repository.NewLotRepository(db)
	allocRepo := repository.NewAllocationRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	balanceRepo := repository.NewClosingBalanceRepository(db)
	vatRepo := repository.NewVATPeriodRepository(db)
	treasuryRepo := repository.NewTreasuryRepository(db)
	taxRuleRepo := repository.NewTaxRuleRepository(db)

	audit := service.NewAuditService(repository.NewAuditRepository(db), log)
	ledger := service.NewStockLedgerService(repository.NewStockLedgerRepository(db))
	inventory := service.NewInventoryService(productRepo, lotRepo, ledger, audit, txManager, lk, m, nil, log)
	allocations := service.NewAllocationService(productRepo, lotRepo, allocRepo, ledger, audit, txManager, lk, m, nil, log)
	balances := service.NewClosingBalanceService(balanceRepo, audit, txManager, lk, m, policy, log)
	vat := service.NewVATPeriodService(vatRepo, saleRepo, allocRepo, taxRuleRepo, treasuryRepo, balances, audit, txManager, lk, m, nil, policy, log)
	sales := service.NewSaleService(saleRepo, taxRuleRepo, allocations, vat, audit, policy, log)
	reports := service.NewReportService(inventory, ledger, allocRepo, vatRepo, balanceRepo, treasuryRepo)
	taxes := service.NewTaxService(taxRuleRepo, audit, policy)

	auth := middleware.NewAuth(testSecret)
	router := gin.New()
	NewInventoryHandler(inventory, auth, log).RegisterRoutes(router.Group(""))
	NewSaleHandler(sales, allocations, auth, log).RegisterRoutes(router.Group(""))
	NewPeriodHandler(balances, vat, auth, log).RegisterRoutes(router.Group(""))
	NewReportHandler(reports, auth, log).RegisterRoutes(router.Group(""))
	NewTaxHandler(taxes, auth, log).RegisterRoutes(router.Group(""))
	NewAuditHandler(audit, auth, log).RegisterRoutes(router.Group(""))
	return router
}

func token(t *testing.T, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  uuid.NewString(),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type envelope struct {
	Status  string            `json:"status"`
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details"`
}

func call(t *testing.T, router *gin.Engine, method, path, role string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, role))
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestAuth(t *testing.T) {
	router := newTestRouter(t)

	code, _ := call(t, router, http.MethodGet, "/api/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, router, http.MethodGet, "/api/products", "guest", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env := call(t, router, http.MethodGet, "/api/products", middleware.RoleClerk, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", env.Status)

	code, _ = call(t, router, http.MethodGet, "/api/audit-logs", middleware.RoleClerk, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestSaleAndPeriodFlow(t *testing.T) {
	router := newTestRouter(t)
	clerk, accountant, admin := middleware.RoleClerk, middleware.RoleAccountant, middleware.RoleAdmin

	code, env := call(t, router, http.MethodPost, "/api/products", clerk, gin.H{"sku": "TEA", "name": "Tea", "price": "20"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var product service.ProductResponse
	require.NoError(t, json.Unmarshal(env.Data, &product))

	code, env = call(t, router, http.MethodPost, "/api/receipts", clerk, gin.H{
		"document_no": "100-1",
		"received_at": "2025-01-05",
		"lines":       []gin.H{{"product_id": product.ID, "quantity": 100, "unit_cost": "10"}},
	})
	require.Equal(t, http.StatusCreated, code, env.Error)

	sale := func(invoice string, qty int) (int, envelope) {
		return call(t, router, http.MethodPost, "/api/sales", clerk, gin.H{
			"invoice_no": invoice,
			"sale_date":  "2025-02-10",
			"lines":      []gin.H{{"product_id": product.ID, "quantity": qty, "unit_price": "20"}},
		})
	}

	code, env = sale("INV-001", 120)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "INSUFFICIENT_STOCK", env.Code)
	assert.Equal(t, "1", env.Details["line_no"])

	code, env = sale("INV-001", 60)
	require.Equal(t, http.StatusCreated, code, env.Error)

	code, env = call(t, router, http.MethodGet, "/api/products/"+product.ID+"/on-hand?as_of=2025-02-10", clerk, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Contains(t, string(env.Data), `"on_hand":40`)

	code, _ = call(t, router, http.MethodPost, "/api/vat-periods/2025/2/lock", clerk, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = call(t, router, http.MethodPost, "/api/vat-periods/2025/2/lock", accountant, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var period service.VATPeriodResponse
	require.NoError(t, json.Unmarshal(env.Data, &period))
	assert.True(t, period.Locked)
	assert.Equal(t, "180.00", period.VATPayable)

	code, env = sale("INV-002", 1)
	assert.Equal(t, http.StatusLocked, code)
	assert.Equal(t, "PERIOD_LOCKED", env.Code)

	code, env = call(t, router, http.MethodPost, "/api/vat-periods/2025/2/compute", accountant, gin.H{"draw": "10"})
	assert.Equal(t, http.StatusLocked, code)

	code, _ = call(t, router, http.MethodPost, "/api/vat-periods/2025/2/unlock", accountant, gin.H{"reason": "late credit note"})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = call(t, router, http.MethodPost, "/api/vat-periods/2025/2/unlock", admin, gin.H{"reason": "late credit note"})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = sale("INV-002", 1)
	assert.Equal(t, http.StatusCreated, code, env.Error)

	code, env = call(t, router, http.MethodGet, "/api/reports/cogs?year=2025&month=2", accountant, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var cogs service.COGSReport
	require.NoError(t, json.Unmarshal(env.Data, &cogs))
	assert.Equal(t, 61, cogs.TotalQuantity)
	assert.Equal(t, "610.00", cogs.TotalCost)
}

func TestClosingBalanceEndpoints(t *testing.T) {
	router := newTestRouter(t)
	accountant := middleware.RoleAccountant

	code, env := call(t, router, http.MethodPut, "/api/closing-balances/2025/1", accountant, gin.H{"addition": "5000", "used": "2000"})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = call(t, router, http.MethodGet, "/api/closing-balances/2025/2", accountant, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var feb service.ClosingBalanceResponse
	require.NoError(t, json.Unmarshal(env.Data, &feb))
	assert.Equal(t, "3000.00", feb.Opening)
	assert.False(t, feb.Stored)

	// Reading a far month creates nothing, so January can still change
	code, _ = call(t, router, http.MethodGet, "/api/closing-balances/2030/12", accountant, nil)
	require.Equal(t, http.StatusOK, code)
	code, env = call(t, router, http.MethodPut, "/api/closing-balances/2025/1", accountant, gin.H{"addition": "5000", "used": "1000"})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = call(t, router, http.MethodPut, "/api/closing-balances/2025/2", accountant, gin.H{"addition": "0", "used": "0"})
	require.Equal(t, http.StatusOK, code, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &feb))
	assert.Equal(t, "4000.00", feb.Opening)
	assert.True(t, feb.Stored)

	code, env = call(t, router, http.MethodPut, "/api/closing-balances/2025/1", accountant, gin.H{"addition": "5000", "used": "2000"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "PERIOD_CHAIN_BROKEN", env.Code)

	code, _ = call(t, router, http.MethodPut, "/api/closing-balances/2025/1", accountant, gin.H{"addition": "5000"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, router, http.MethodGet, "/api/closing-balances/2025/xx", accountant, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTaxRuleEndpoints(t *testing.T) {
	router := newTestRouter(t)

	code, env := call(t, router, http.MethodPost, "/api/tax-rules", middleware.RoleAccountant, gin.H{
		"tax_type": "VAT_INLAND", "rate": "0.10", "effective_from": "2025-01-01",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)

	code, _ = call(t, router, http.MethodPost, "/api/tax-rules", middleware.RoleAccountant, gin.H{
		"tax_type": "SALES", "rate": "0.10", "effective_from": "2025-01-01",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = call(t, router, http.MethodGet, "/api/tax-rules/active?date=2025-03-01", middleware.RoleClerk, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var active service.ActiveTaxRateResponse
	require.NoError(t, json.Unmarshal(env.Data, &active))
	assert.Equal(t, "0.1000", active.Rate)

	code, env = call(t, router, http.MethodGet, "/api/audit-logs?entity_type=tax_rule", middleware.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Contains(t, string(env.Data), `"total":1`)
}
