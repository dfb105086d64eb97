package service

import (
	"context"
	"testing"
	"time"

	"github.com/tradeops/ledger/internal/config"
	"github.com/tradeops/ledger/internal/database"
	"github.com/tradeops/ledger/internal/locker"
	"github.com/tradeops/ledger/internal/metrics"
	"github.com/tradeops/ledger/internal/model"
	"github.com/tradeops/ledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	ctx         context.Context
	db          *gorm.DB
	metrics     *metrics.Metrics
	userID      *uuid.UUID
	audit       AuditService
	ledger      StockLedgerService
	inventory   InventoryService
	allocations AllocationService
	balances    ClosingBalanceService
	vat         VATPeriodService
	sales       SaleService
	reports     ReportService
	taxes       TaxService
}

func testPolicy() config.LedgerConfig {
	return config.LedgerConfig{
		DefaultVATRate: decimal.RequireFromString("0.15"),
		VATTaxType:     "VAT_INLAND",
	}
}

func newFixture(t *testing.T, policy config.LedgerConfig) *fixture {
	t.Helper()

	db, err := database.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	log := zap.NewNop()
	m := metrics.New("ledger_test")
	lk := locker.NewKeyedMutex()
	txManager := repository.NewTransactionManager(db)

	productRepo := repository.NewProductRepository(db)
	lotRepo := repository.NewLotRepository(db)
	allocRepo := repository.NewAllocationRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	balanceRepo := repository.NewClosingBalanceRepository(db)
	vatRepo := repository.NewVATPeriodRepository(db)
	treasuryRepo := repository.NewTreasuryRepository(db)
	taxRuleRepo := repository.NewTaxRuleRepository(db)

	f := &fixture{ctx: context.Background(), db: db, metrics: m}
	uid := uuid.New()
	f.userID = &uid

	f.audit = NewAuditService(repository.NewAuditRepository(db), log)
	f.ledger = NewStockLedgerService(repository.NewStockLedgerRepository(db))
	f.inventory = NewInventoryService(productRepo, lotRepo, f.ledger, f.audit, txManager, lk, m, nil, log)
	f.allocations = NewAllocationService(productRepo, lotRepo, allocRepo, f.ledger, f.audit, txManager, lk, m, nil, log)
	f.balances = NewClosingBalanceService(balanceRepo, f.audit, txManager, lk, m, policy, log)
	f.vat = NewVATPeriodService(vatRepo, saleRepo, allocRepo, taxRuleRepo, treasuryRepo, f.balances,
		f.audit, txManager, lk, m, nil, policy, log)
	f.sales = NewSaleService(saleRepo, taxRuleRepo, f.allocations, f.vat, f.audit, policy, log)
	f.reports = NewReportService(f.inventory, f.ledger, allocRepo, vatRepo, balanceRepo, treasuryRepo)
	f.taxes = NewTaxService(taxRuleRepo, f.audit, policy)
	return f
}

func (f *fixture) product(t *testing.T, sku string) uuid.UUID {
	t.Helper()
	p, err := f.inventory.CreateProduct(f.ctx, f.userID, CreateProductRequest{SKU: sku, Name: "Product " + sku, Price: "25"})
	require.NoError(t, err)
	return uuid.MustParse(p.ID)
}

func (f *fixture) receive(t *testing.T, productID uuid.UUID, doc, date string, qty int, unitCost string) LotResponse {
	t.Helper()
	lots, err := f.inventory.ReceiveGoods(f.ctx, f.userID, ReceiveGoodsRequest{
		DocumentNo: doc,
		ReceivedAt: date,
		Lines:      []ReceiptLineRequest{{ProductID: productID.String(), Quantity: qty, UnitCost: unitCost}},
	})
	require.NoError(t, err)
	require.Len(t, lots, 1)
	return lots[0]
}

func (f *fixture) sell(t *testing.T, invoice, date string, productID uuid.UUID, qty int, price string) SaleResponse {
	t.Helper()
	sale, err := f.sales.CreateSale(f.ctx, f.userID, CreateSaleRequest{
		InvoiceNo: invoice,
		SaleDate:  date,
		Lines:     []SaleLineRequest{{ProductID: productID.String(), Quantity: qty, UnitPrice: price}},
	})
	require.NoError(t, err)
	return sale
}

func (f *fixture) lot(t *testing.T, id string) model.ImportLot {
	t.Helper()
	var lot model.ImportLot
	require.NoError(t, f.db.First(&lot, "id = ?", id).Error)
	return lot
}

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
