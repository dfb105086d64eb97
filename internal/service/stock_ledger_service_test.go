package service

import (
	"testing"

	"github.com/tradeops/ledger/internal/model"
	"github.com/tradeops/ledger/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockLedger_AppendValidates(t *testing.T) {
	f := newFixture(t, testPolicy())
	tea := f.product(t, "TEA")

	tests := []struct {
		name  string
		entry model.StockLedgerEntry
	}{
		{"unknown kind", model.StockLedgerEntry{ProductID: tea, Kind: "GIFT", QtyIn: 1}},
		{"both directions", model.StockLedgerEntry{ProductID: tea, Kind: model.MovementAdjustment, QtyIn: 1, QtyOut: 1}},
		{"no movement", model.StockLedgerEntry{ProductID: tea, Kind: model.MovementAdjustment}},
		{"negative quantity", model.StockLedgerEntry{ProductID: tea, Kind: model.MovementAdjustment, QtyIn: -1}},
		{"negative cost", model.StockLedgerEntry{ProductID: tea, Kind: model.MovementAdjustment, QtyIn: 1, UnitCost: dec("-1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := tt.entry
			assert.ErrorIs(t, f.ledger.Append(f.ctx, &entry), apperror.ErrValidation)
		})
	}
}

func TestStockLedger_OnHandAsOf(t *testing.T) {
	f := newFixture(t, testPolicy())
	tea := f.product(t, "TEA")
	f.receive(t, tea, "100-1", "2025-01-05", 100, "10")
	f.sell(t, "INV-001", "2025-01-25", tea, 30, "20")

	tests := []struct {
		name string
		day  int
		want int
	}{
		{"before receipt", 4, 0},
		{"on receipt day", 5, 100},
		{"before sale", 24, 100},
		{"after sale", 26, 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.ledger.OnHand(f.ctx, tea, date(2025, 1, tt.day))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdjustStock(t *testing.T) {
	f := newFixture(t, testPolicy())
	tea := f.product(t, "TEA")
	lotA := f.receive(t, tea, "100-1", "2025-01-05", 10, "10")
	lotB := f.receive(t, tea, "100-2", "2025-01-08", 5, "12")

	adjust := func(qty int, day string) ([]*model.StockLedgerEntry, error) {
		return f.inventory.AdjustStock(f.ctx, f.userID, StockAdjustmentRequest{
			ProductID: tea.String(), Quantity: qty, Date: day, Note: "count",
		})
	}

	entries, err := adjust(-4, "2025-01-06")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 4, entries[0].QtyOut)
	assert.Equal(t, lotA.ID, entries[0].LotID.String())
	assert.Equal(t, 6, f.lot(t, lotA.ID).ClosingQty)
	assert.Equal(t, 5, f.lot(t, lotB.ID).ClosingQty)

	// Write-off spans lots oldest first
	entries, err = adjust(-8, "2025-01-09")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 6, entries[0].QtyOut)
	assert.Equal(t, 2, entries[1].QtyOut)
	assert.Equal(t, 0, f.lot(t, lotA.ID).ClosingQty)
	assert.Equal(t, 3, f.lot(t, lotB.ID).ClosingQty)

	_, err = adjust(-7, "2025-01-06")
	assert.ErrorIs(t, err, apperror.ErrInsufficientStock)

	_, err = adjust(0, "2025-01-06")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	// A surplus has no lot behind it
	entries, err = adjust(3, "2025-01-10")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].LotID)
	assert.Equal(t, 3, f.lot(t, lotB.ID).ClosingQty)

	report, err := f.reports.StockRegister(f.ctx, tea.String(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, report.Product.OnHand)
	assert.Equal(t, 3, report.LotBalance)
	assert.Equal(t, 3, report.Unreconciled)

	// Lots cover what they can, the rest is written off against the surplus
	entries, err = adjust(-5, "2025-01-11")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 3, entries[0].QtyOut)
	require.NotNil(t, entries[0].LotID)
	assert.Equal(t, 2, entries[1].QtyOut)
	assert.Nil(t, entries[1].LotID)
	assert.Equal(t, 0, f.lot(t, lotB.ID).ClosingQty)

	onHand, err := f.inventory.GetOnHand(f.ctx, tea.String(), date(2025, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, 1, onHand)
}
