package service

import (
	"testing"

	"github.com/tradeops/ledger/internal/model"
	"github.com/tradeops/ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedFebruary sets up a January closing of 3000 and 40000 of February net sales
func seedFebruary(t *testing.T, f *fixture) uuid.UUID {
	t.Helper()
	_, err := f.balances.Apply(f.ctx, f.userID, 2025, 1, ApplyClosingBalanceRequest{Addition: "5000", Used: "2000"})
	require.NoError(t, err)

	productID := f.product(t, "SKU-1")
	f.receive(t, productID, "100-1", "2025-01-05", 120, "200")
	f.sell(t, "INV-001", "2025-02-03", productID, 60, "400")
	f.sell(t, "INV-002", "2025-02-17", productID, 40, "400")
	return productID
}

func TestVATPeriod_ComputeWithDraw(t *testing.T) {
	f := newFixture(t, testPolicy())
	seedFebruary(t, f)

	draw := dec("3000")
	period, err := f.vat.Compute(f.ctx, f.userID, 2025, 2, ComputeOptions{Draw: &draw})
	require.NoError(t, err)

	assert.True(t, dec("40000").Equal(period.NetSales), "net was %s", period.NetSales)
	assert.True(t, dec("46000").Equal(period.GrossSales))
	assert.True(t, dec("0.15").Equal(period.TaxRate))
	assert.True(t, dec("6000").Equal(period.VATPayable))
	assert.True(t, dec("3000").Equal(period.UsedFromClosingBalance))
	assert.True(t, dec("3000").Equal(period.TreasuryNeeded))
	assert.True(t, period.ExceedsClosingBalance)
	assert.False(t, period.Locked)

	feb, err := f.balances.EnsurePeriod(f.ctx, 2025, 2)
	require.NoError(t, err)
	assert.True(t, dec("3000").Equal(feb.Opening))
	assert.True(t, dec("0").Equal(feb.Closing))

	// Recomputing without a draw keeps the amount already used
	again, err := f.vat.Compute(f.ctx, f.userID, 2025, 2, ComputeOptions{Recompute: true})
	require.NoError(t, err)
	assert.True(t, dec("3000").Equal(again.TreasuryNeeded))
}

func TestVATPeriod_DrawBeyondBalanceRefused(t *testing.T) {
	f := newFixture(t, testPolicy())
	seedFebruary(t, f)

	draw := dec("3500")
	_, err := f.vat.Compute(f.ctx, f.userID, 2025, 2, ComputeOptions{Draw: &draw})
	assert.ErrorIs(t, err, apperror.ErrInsufficientBalance)

	negative := dec("-1")
	_, err = f.vat.Compute(f.ctx, f.userID, 2025, 2, ComputeOptions{Draw: &negative})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestVATPeriod_UsesActiveTaxRule(t *testing.T) {
	f := newFixture(t, testPolicy())
	seedFebruary(t, f)

	_, err := f.taxes.CreateTaxRule(f.ctx, f.userID, TaxRuleRequest{
		TaxType:       "VAT_INLAND",
		Rate:          "0.10",
		EffectiveFrom: "2025-01-01",
	})
	require.NoError(t, err)

	period, err := f.vat.Compute(f.ctx, f.userID, 2025, 2, ComputeOptions{})
	require.NoError(t, err)
	assert.True(t, dec("4000").Equal(period.VATPayable))
}

func TestVATPeriod_LockFreezesPeriod(t *testing.T) {
	f := newFixture(t, testPolicy())
	productID := seedFebruary(t, f)

	draw := dec("3000")
	_, err := f.vat.Compute(f.ctx, f.userID, 2025, 2, ComputeOptions{Draw: &draw})
	require.NoError(t, err)

	locked, err := f.vat.Lock(f.ctx, f.userID, 2025, 2)
	require.NoError(t, err)
	assert.True(t, locked.Locked)
	require.NotNil(t, locked.LockedAt)
	assert.Equal(t, *f.userID, *locked.LockedBy)

	// Locking again returns the same snapshot
	again, err := f.vat.Lock(f.ctx, f.userID, 2025, 2)
	require.NoError(t, err)
	assert.Equal(t, locked.LockedAt.Unix(), again.LockedAt.Unix())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PeriodTransitions.WithLabelValues("lock")))

	_, err = f.sales.CreateSale(f.ctx, f.userID, CreateSaleRequest{
		InvoiceNo: "INV-003",
		SaleDate:  "2025-02-20",
		Lines:     []SaleLineRequest{{ProductID: productID.String(), Quantity: 1, UnitPrice: "400"}},
	})
	assert.ErrorIs(t, err, apperror.ErrPeriodLocked)

	_, err = f.vat.Compute(f.ctx, f.userID, 2025, 2, ComputeOptions{Recompute: true})
	assert.ErrorIs(t, err, apperror.ErrPeriodLocked)

	_, err = f.balances.Apply(f.ctx, f.userID, 2025, 2, ApplyClosingBalanceRequest{Addition: "0", Used: "0"})
	assert.ErrorIs(t, err, apperror.ErrPeriodLocked)

	snapshot, err := f.vat.Compute(f.ctx, f.userID, 2025, 2, ComputeOptions{})
	require.NoError(t, err)
	assert.True(t, dec("6000").Equal(snapshot.VATPayable))
	assert.True(t, snapshot.Locked)

	unlocked, err := f.vat.Unlock(f.ctx, f.userID, 2025, 2, "late credit note")
	require.NoError(t, err)
	assert.False(t, unlocked.Locked)
	assert.Nil(t, unlocked.LockedAt)

	f.sell(t, "INV-003", "2025-02-20", productID, 1, "400")
}

func TestVATPeriod_UnlockValidation(t *testing.T) {
	f := newFixture(t, testPolicy())

	_, err := f.vat.Unlock(f.ctx, f.userID, 2025, 2, "")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.vat.Unlock(f.ctx, f.userID, 2025, 2, "reason")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = f.vat.Get(f.ctx, 2025, 2)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestVATPeriod_OpenOverridesAtLock(t *testing.T) {
	seed := func(t *testing.T, f *fixture) {
		productID := f.product(t, "SKU-1")
		_, err := f.sales.CreateSale(f.ctx, f.userID, CreateSaleRequest{
			InvoiceNo: "INV-001",
			SaleDate:  "2025-03-02",
			Lines:     []SaleLineRequest{{ProductID: productID.String(), Quantity: 5, UnitPrice: "100", AllowOverride: true}},
		})
		require.NoError(t, err)
	}

	t.Run("warns and locks by default", func(t *testing.T) {
		f := newFixture(t, testPolicy())
		seed(t, f)

		period, err := f.vat.Lock(f.ctx, f.userID, 2025, 3)
		require.NoError(t, err)
		assert.True(t, period.Locked)
		assert.Equal(t, 1, period.OpenOverrideCount)
	})

	t.Run("blocks when configured", func(t *testing.T) {
		policy := testPolicy()
		policy.BlockLockOnOpenOverrides = true
		f := newFixture(t, policy)
		seed(t, f)

		_, err := f.vat.Lock(f.ctx, f.userID, 2025, 3)
		assert.ErrorIs(t, err, apperror.ErrValidation)

		var allocation model.LotAllocation
		require.NoError(t, f.db.Where("override_before_boe = ?", true).First(&allocation).Error)
		_, err = f.allocations.Acknowledge(f.ctx, f.userID, allocation.ID.String(), AcknowledgeRequest{Note: "BoE filed"})
		require.NoError(t, err)

		period, err := f.vat.Lock(f.ctx, f.userID, 2025, 3)
		require.NoError(t, err)
		assert.Zero(t, period.OpenOverrideCount)
	})
}

func TestVATPeriod_TreasuryPayments(t *testing.T) {
	f := newFixture(t, testPolicy())

	payment, err := f.vat.RecordTreasuryPayment(f.ctx, f.userID, RecordTreasuryPaymentRequest{
		ChallanNo: "CH-1", Year: 2025, Month: 2, Amount: "3000", PaidAt: "2025-03-10",
	})
	require.NoError(t, err)
	assert.True(t, dec("3000").Equal(payment.Amount))

	_, err = f.vat.RecordTreasuryPayment(f.ctx, f.userID, RecordTreasuryPaymentRequest{
		ChallanNo: "CH-1", Year: 2025, Month: 2, Amount: "10", PaidAt: "2025-03-10",
	})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.vat.RecordTreasuryPayment(f.ctx, f.userID, RecordTreasuryPaymentRequest{
		ChallanNo: "CH-2", Year: 2025, Month: 2, Amount: "0", PaidAt: "2025-03-10",
	})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	payments, err := f.vat.ListTreasuryPayments(f.ctx, 2025, 2)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}
