package service

import (
	"testing"

	"github.com/tradeops/ledger/internal/model"
	"github.com/tradeops/ledger/internal/repository"
	"github.com/tradeops/ledger/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSale_AllocatesEveryLine(t *testing.T) {
	f := newFixture(t, testPolicy())
	tea := f.product(t, "TEA")
	rice := f.product(t, "RICE")
	f.receive(t, tea, "100-1", "2025-01-05", 100, "10")
	f.receive(t, tea, "100-2", "2025-01-20", 50, "12")
	f.receive(t, rice, "100-3", "2025-01-06", 30, "4")

	sale, err := f.sales.CreateSale(f.ctx, f.userID, CreateSaleRequest{
		InvoiceNo:    "INV-001",
		SaleDate:     "2025-01-25",
		CustomerName: "Acme",
		Lines: []SaleLineRequest{
			{ProductID: tea.String(), Quantity: 120, UnitPrice: "20"},
			{ProductID: rice.String(), Quantity: 10, UnitPrice: "8"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, model.SaleStatusActive, sale.Status)
	assert.Equal(t, "2480.00", sale.NetTotal)
	assert.Equal(t, "372.00", sale.VATTotal)
	assert.Equal(t, "2852.00", sale.GrossTotal)
	require.Len(t, sale.Lines, 2)
	assert.Len(t, sale.Lines[0].Allocations, 2)
	assert.Len(t, sale.Lines[1].Allocations, 1)

	loaded, err := f.sales.GetSale(f.ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-001", loaded.InvoiceNo)
	require.Len(t, loaded.Lines, 2)
	assert.Equal(t, 1, loaded.Lines[0].LineNo)
	assert.Len(t, loaded.Lines[0].Allocations, 2)

	logs, total, err := f.audit.GetAuditLogs(f.ctx, repository.AuditFilter{EntityType: model.EntitySale, EntityID: sale.ID}, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, model.ActionCreateSale, logs[0].Action)
}

func TestCreateSale_FailingLineRollsBackWholeSale(t *testing.T) {
	f := newFixture(t, testPolicy())
	tea := f.product(t, "TEA")
	rice := f.product(t, "RICE")
	teaLot := f.receive(t, tea, "100-1", "2025-01-05", 100, "10")
	f.receive(t, rice, "100-3", "2025-01-06", 5, "4")

	_, err := f.sales.CreateSale(f.ctx, f.userID, CreateSaleRequest{
		InvoiceNo: "INV-001",
		SaleDate:  "2025-01-25",
		Lines: []SaleLineRequest{
			{ProductID: tea.String(), Quantity: 10, UnitPrice: "20"},
			{ProductID: rice.String(), Quantity: 6, UnitPrice: "8"},
		},
	})
	require.Error(t, err)
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindInsufficientStock, appErr.Kind)
	assert.Equal(t, "2", appErr.Details["line_no"])

	assert.Equal(t, 100, f.lot(t, teaLot.ID).ClosingQty)
	var sales int64
	require.NoError(t, f.db.Model(&model.Sale{}).Count(&sales).Error)
	assert.Zero(t, sales)
}

func TestCreateSale_DuplicateInvoice(t *testing.T) {
	f := newFixture(t, testPolicy())
	tea := f.product(t, "TEA")
	f.receive(t, tea, "100-1", "2025-01-05", 100, "10")
	f.sell(t, "INV-001", "2025-01-25", tea, 1, "20")

	_, err := f.sales.CreateSale(f.ctx, f.userID, CreateSaleRequest{
		InvoiceNo: "INV-001",
		SaleDate:  "2025-01-26",
		Lines:     []SaleLineRequest{{ProductID: tea.String(), Quantity: 1, UnitPrice: "20"}},
	})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestVoidSale_RestoresStockOnce(t *testing.T) {
	f := newFixture(t, testPolicy())
	tea := f.product(t, "TEA")
	lot := f.receive(t, tea, "100-1", "2025-01-05", 100, "10")
	sale := f.sell(t, "INV-001", "2025-01-25", tea, 40, "20")
	assert.Equal(t, 60, f.lot(t, lot.ID).ClosingQty)

	voided, err := f.sales.VoidSale(f.ctx, f.userID, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SaleStatusVoided, voided.Status)
	assert.NotNil(t, voided.VoidedAt)
	assert.Equal(t, 100, f.lot(t, lot.ID).ClosingQty)

	again, err := f.sales.VoidSale(f.ctx, f.userID, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SaleStatusVoided, again.Status)
	assert.Equal(t, 100, f.lot(t, lot.ID).ClosingQty)

	var reversals int64
	require.NoError(t, f.db.Model(&model.StockLedgerEntry{}).Where("kind = ?", model.MovementSaleReversal).Count(&reversals).Error)
	assert.EqualValues(t, 1, reversals)

	active, total, err := f.sales.ListSales(f.ctx, nil, nil, model.SaleStatusActive, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, active)
}

func TestVoidSale_RefusedInLockedPeriod(t *testing.T) {
	f := newFixture(t, testPolicy())
	tea := f.product(t, "TEA")
	lot := f.receive(t, tea, "100-1", "2025-01-05", 100, "10")
	sale := f.sell(t, "INV-001", "2025-01-25", tea, 40, "20")

	_, err := f.vat.Lock(f.ctx, f.userID, 2025, 1)
	require.NoError(t, err)

	_, err = f.sales.VoidSale(f.ctx, f.userID, sale.ID)
	assert.ErrorIs(t, err, apperror.ErrPeriodLocked)
	assert.Equal(t, 60, f.lot(t, lot.ID).ClosingQty)
}

func TestSale_ValidationAndLookup(t *testing.T) {
	f := newFixture(t, testPolicy())
	tea := f.product(t, "TEA")

	_, err := f.sales.CreateSale(f.ctx, f.userID, CreateSaleRequest{
		InvoiceNo: "INV-001",
		SaleDate:  "25/01/2025",
		Lines:     []SaleLineRequest{{ProductID: tea.String(), Quantity: 1, UnitPrice: "20"}},
	})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.sales.CreateSale(f.ctx, f.userID, CreateSaleRequest{
		InvoiceNo: "INV-001",
		SaleDate:  "2025-01-25",
		Lines:     []SaleLineRequest{{ProductID: "not-a-uuid", Quantity: 1, UnitPrice: "20"}},
	})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.sales.GetSale(f.ctx, "6a1f8d2e-3b4c-4d5e-8f9a-0b1c2d3e4f5a")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
