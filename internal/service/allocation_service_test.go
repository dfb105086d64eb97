package service

import (
	"sync"
	"testing"

	"github.com/tradeops/ledger/internal/model"
	"github.com/tradeops/ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate_SpansLotsInFIFOOrder(t *testing.T) {
	f := newFixture(t, testPolicy())
	productID := f.product(t, "SKU-1")
	// Received out of FIFO order on purpose
	lotB := f.receive(t, productID, "100-2", "2025-01-20", 50, "12")
	lotA := f.receive(t, productID, "100-1", "2025-01-05", 100, "10")

	res, err := f.allocations.Allocate(f.ctx, f.userID, AllocateRequest{
		SaleLineID: uuid.New(),
		ProductID:  productID,
		Quantity:   120,
		SaleDate:   date(2025, 1, 25),
	})
	require.NoError(t, err)

	require.Len(t, res.Allocations, 2)
	assert.Equal(t, lotA.ID, res.Allocations[0].LotID.String())
	assert.Equal(t, 100, res.Allocations[0].Quantity)
	assert.True(t, dec("10").Equal(res.Allocations[0].UnitCost))
	assert.Equal(t, lotB.ID, res.Allocations[1].LotID.String())
	assert.Equal(t, 20, res.Allocations[1].Quantity)
	assert.True(t, dec("1240").Equal(res.TotalCost), "cost was %s", res.TotalCost)
	assert.Nil(t, res.Override)

	assert.Equal(t, 0, f.lot(t, lotA.ID).ClosingQty)
	assert.Equal(t, 30, f.lot(t, lotB.ID).ClosingQty)

	onHand, err := f.ledger.OnHand(f.ctx, productID, date(2025, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, 30, onHand)
	assert.Equal(t, float64(120), testutil.ToFloat64(f.metrics.UnitsAllocated))
}

func TestAllocate_InsufficientStockWritesNothing(t *testing.T) {
	f := newFixture(t, testPolicy())
	productID := f.product(t, "SKU-1")
	lot := f.receive(t, productID, "100-1", "2025-01-05", 10, "10")
	lineID := uuid.New()

	_, err := f.allocations.Allocate(f.ctx, f.userID, AllocateRequest{
		SaleLineID: lineID,
		ProductID:  productID,
		Quantity:   11,
		SaleDate:   date(2025, 1, 25),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrInsufficientStock)

	assert.Equal(t, 10, f.lot(t, lot.ID).ClosingQty)
	allocations, err := f.allocations.ListBySaleLine(f.ctx, lineID)
	require.NoError(t, err)
	assert.Empty(t, allocations)

	var saleEntries int64
	require.NoError(t, f.db.Model(&model.StockLedgerEntry{}).Where("kind = ?", model.MovementSale).Count(&saleEntries).Error)
	assert.Zero(t, saleEntries)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AllocationFailures.WithLabelValues(string(apperror.KindInsufficientStock))))
}

func TestAllocate_ValidatesInput(t *testing.T) {
	f := newFixture(t, testPolicy())
	productID := f.product(t, "SKU-1")

	_, err := f.allocations.Allocate(f.ctx, f.userID, AllocateRequest{SaleLineID: uuid.New(), ProductID: productID, Quantity: 0})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.allocations.Allocate(f.ctx, f.userID, AllocateRequest{SaleLineID: uuid.New(), ProductID: productID, Quantity: 1})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.allocations.Allocate(f.ctx, f.userID, AllocateRequest{SaleLineID: uuid.New(), ProductID: uuid.New(), Quantity: 1, SaleDate: date(2025, 1, 25)})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestAllocate_OverrideBeforeImportDocument(t *testing.T) {
	f := newFixture(t, testPolicy())
	productID := f.product(t, "SKU-1")
	lot := f.receive(t, productID, "100-1", "2025-01-05", 5, "10")

	res, err := f.allocations.Allocate(f.ctx, f.userID, AllocateRequest{
		SaleLineID:    uuid.New(),
		ProductID:     productID,
		Quantity:      8,
		SaleDate:      date(2025, 1, 25),
		AllowOverride: true,
	})
	require.NoError(t, err)

	require.Len(t, res.Allocations, 2)
	assert.Equal(t, 5, res.Allocations[0].Quantity)
	require.NotNil(t, res.Override)
	assert.Nil(t, res.Override.LotID)
	assert.True(t, res.Override.OverrideBeforeBoe)
	assert.Equal(t, 3, res.Override.Quantity)
	assert.True(t, dec("10").Equal(res.Override.UnitCost))
	assert.Equal(t, 0, f.lot(t, lot.ID).ClosingQty)

	onHand, err := f.ledger.OnHand(f.ctx, productID, date(2025, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, -3, onHand)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.OverrideAllocations))

	acked, err := f.allocations.Acknowledge(f.ctx, f.userID, res.Override.ID.String(), AcknowledgeRequest{Note: "BoE 100-3 pending"})
	require.NoError(t, err)
	require.NotNil(t, acked.ResolvedAt)
	assert.Equal(t, "BoE 100-3 pending", acked.ResolutionNote)

	_, err = f.allocations.Acknowledge(f.ctx, f.userID, res.Allocations[0].ID.String(), AcknowledgeRequest{Note: "x"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestReverse_RestoresLotsAndIsIdempotent(t *testing.T) {
	f := newFixture(t, testPolicy())
	productID := f.product(t, "SKU-1")
	lotA := f.receive(t, productID, "100-1", "2025-01-05", 100, "10")
	lotB := f.receive(t, productID, "100-2", "2025-01-20", 50, "12")
	lineID := uuid.New()

	_, err := f.allocations.Allocate(f.ctx, f.userID, AllocateRequest{
		SaleLineID: lineID, ProductID: productID, Quantity: 120, SaleDate: date(2025, 1, 25),
	})
	require.NoError(t, err)

	rev, err := f.allocations.Reverse(f.ctx, f.userID, lineID)
	require.NoError(t, err)
	assert.Equal(t, 120, rev.Restored)
	assert.Equal(t, 100, f.lot(t, lotA.ID).ClosingQty)
	assert.Equal(t, 50, f.lot(t, lotB.ID).ClosingQty)

	again, err := f.allocations.Reverse(f.ctx, f.userID, lineID)
	require.NoError(t, err)
	assert.Zero(t, again.Restored)
	assert.Equal(t, 100, f.lot(t, lotA.ID).ClosingQty)

	onHand, err := f.ledger.OnHand(f.ctx, productID, date(2100, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 150, onHand)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Reversals))
}

func TestAllocate_ConservesQuantity(t *testing.T) {
	f := newFixture(t, testPolicy())
	productID := f.product(t, "SKU-1")
	f.receive(t, productID, "100-1", "2025-01-05", 40, "10")
	f.receive(t, productID, "100-2", "2025-01-06", 25, "11")
	f.receive(t, productID, "100-3", "2025-01-07", 35, "9.5")

	for _, qty := range []int{7, 33, 18, 12} {
		_, err := f.allocations.Allocate(f.ctx, f.userID, AllocateRequest{
			SaleLineID: uuid.New(), ProductID: productID, Quantity: qty, SaleDate: date(2025, 1, 20),
		})
		require.NoError(t, err)
	}

	var lots []model.ImportLot
	require.NoError(t, f.db.Where("product_id = ?", productID).Find(&lots).Error)
	var opening, closing int
	for _, l := range lots {
		opening += l.OpeningQty
		closing += l.ClosingQty
		assert.GreaterOrEqual(t, l.ClosingQty, 0)
		assert.LessOrEqual(t, l.ClosingQty, l.OpeningQty)
	}

	var allocated int64
	require.NoError(t, f.db.Model(&model.LotAllocation{}).Select("COALESCE(SUM(quantity), 0)").Scan(&allocated).Error)
	assert.Equal(t, 70, int(allocated))
	assert.Equal(t, opening, closing+int(allocated))
}

func TestAllocate_ConcurrentRequestsNeverOverAllocate(t *testing.T) {
	f := newFixture(t, testPolicy())
	productID := f.product(t, "SKU-1")
	lot := f.receive(t, productID, "100-1", "2025-01-05", 150, "10")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, failed := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.allocations.Allocate(f.ctx, f.userID, AllocateRequest{
				SaleLineID: uuid.New(), ProductID: productID, Quantity: 20, SaleDate: date(2025, 1, 20),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if assert.ErrorIs(t, err, apperror.ErrInsufficientStock) {
				failed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, succeeded)
	assert.Equal(t, 3, failed)
	assert.Equal(t, 10, f.lot(t, lot.ID).ClosingQty)
}

func TestAllocate_IgnoresLotsReceivedAfterSaleDate(t *testing.T) {
	f := newFixture(t, testPolicy())
	productID := f.product(t, "SKU-1")
	early := f.receive(t, productID, "100-1", "2025-01-05", 3, "10")
	late := f.receive(t, productID, "100-2", "2025-01-20", 10, "12")

	_, err := f.allocations.Allocate(f.ctx, f.userID, AllocateRequest{
		SaleLineID: uuid.New(),
		ProductID:  productID,
		Quantity:   4,
		SaleDate:   date(2025, 1, 10),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrInsufficientStock)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "10", appErr.Details["received_after_sale_date"])
	assert.Equal(t, 3, f.lot(t, early.ID).ClosingQty)
	assert.Equal(t, 10, f.lot(t, late.ID).ClosingQty)

	res, err := f.allocations.Allocate(f.ctx, f.userID, AllocateRequest{
		SaleLineID:    uuid.New(),
		ProductID:     productID,
		Quantity:      4,
		SaleDate:      date(2025, 1, 10),
		AllowOverride: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, early.ID, res.Allocations[0].LotID.String())
	require.NotNil(t, res.Override)
	assert.Equal(t, 1, res.Override.Quantity)
	assert.Nil(t, res.Override.LotID)
	assert.Equal(t, 0, f.lot(t, early.ID).ClosingQty)
	assert.Equal(t, 10, f.lot(t, late.ID).ClosingQty)

	onHand, err := f.ledger.OnHand(f.ctx, productID, date(2025, 1, 10))
	require.NoError(t, err)
	assert.Equal(t, -1, onHand)

	// Once the receipt date has passed the later lot is an ordinary candidate
	res, err = f.allocations.Allocate(f.ctx, f.userID, AllocateRequest{
		SaleLineID: uuid.New(),
		ProductID:  productID,
		Quantity:   4,
		SaleDate:   date(2025, 1, 20),
	})
	require.NoError(t, err)
	assert.Nil(t, res.Override)
	assert.Equal(t, late.ID, res.Allocations[0].LotID.String())
	assert.Equal(t, 6, f.lot(t, late.ID).ClosingQty)
}

func TestReverse_OrderingViolationRollsBack(t *testing.T) {
	f := newFixture(t, testPolicy())
	productID := f.product(t, "SKU-1")
	lotA := f.receive(t, productID, "100-1", "2025-01-05", 100, "10")
	lotB := f.receive(t, productID, "100-2", "2025-01-20", 50, "12")
	lineID := uuid.New()

	_, err := f.allocations.Allocate(f.ctx, f.userID, AllocateRequest{
		SaleLineID: lineID, ProductID: productID, Quantity: 120, SaleDate: date(2025, 1, 25),
	})
	require.NoError(t, err)

	// Restoring 20 units to lot B would push it past its opening quantity
	require.NoError(t, f.db.Model(&model.ImportLot{}).
		Where("id = ?", uuid.MustParse(lotB.ID)).
		Update("closing_qty", 50).Error)

	var entriesBefore int64
	require.NoError(t, f.db.Model(&model.StockLedgerEntry{}).Count(&entriesBefore).Error)

	_, err = f.allocations.Reverse(f.ctx, f.userID, lineID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrOrderingViolation)

	allocations, err := f.allocations.ListBySaleLine(f.ctx, lineID)
	require.NoError(t, err)
	assert.Len(t, allocations, 2)
	assert.Equal(t, 0, f.lot(t, lotA.ID).ClosingQty)
	assert.Equal(t, 50, f.lot(t, lotB.ID).ClosingQty)

	var entriesAfter int64
	require.NoError(t, f.db.Model(&model.StockLedgerEntry{}).Count(&entriesAfter).Error)
	assert.Equal(t, entriesBefore, entriesAfter)
	assert.Zero(t, testutil.ToFloat64(f.metrics.Reversals))
}

func TestAllocate_OrderingViolationOnCorruptLot(t *testing.T) {
	f := newFixture(t, testPolicy())
	productID := f.product(t, "SKU-1")
	lot := f.receive(t, productID, "100-1", "2025-01-05", 10, "10")

	require.NoError(t, f.db.Model(&model.ImportLot{}).
		Where("id = ?", uuid.MustParse(lot.ID)).
		Update("closing_qty", 30).Error)

	lineID := uuid.New()
	_, err := f.allocations.Allocate(f.ctx, f.userID, AllocateRequest{
		SaleLineID: lineID, ProductID: productID, Quantity: 5, SaleDate: date(2025, 1, 25),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrOrderingViolation)

	assert.Equal(t, 30, f.lot(t, lot.ID).ClosingQty)
	allocations, err := f.allocations.ListBySaleLine(f.ctx, lineID)
	require.NoError(t, err)
	assert.Empty(t, allocations)
}
