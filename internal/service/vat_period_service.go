package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradeops/ledger/internal/config"
	"github.com/tradeops/ledger/internal/locker"
	"github.com/tradeops/ledger/internal/metrics"
	"github.com/tradeops/ledger/internal/model"
	"github.com/tradeops/ledger/internal/repository"
	ws "github.com/tradeops/ledger/internal/websocket"
	"github.com/tradeops/ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// --- DTOs ---

type ComputeVATRequest struct {
	Draw      *string `json:"draw"`      // Decimal string; amount drawn from the closing balance
	Recompute bool    `json:"recompute"` // Rejected on a locked period
}

type UnlockVATRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type RecordTreasuryPaymentRequest struct {
	ChallanNo string `json:"challan_no" binding:"required"`
	Year      int    `json:"year" binding:"required"`
	Month     int    `json:"month" binding:"required,min=1,max=12"`
	Amount    string `json:"amount" binding:"required"`
	PaidAt    string `json:"paid_at" binding:"required"` // YYYY-MM-DD
	Note      string `json:"note"`
}

type VATPeriodResponse struct {
	Year                   int     `json:"year"`
	Month                  int     `json:"month"`
	Period                 string  `json:"period"`
	GrossSales             string  `json:"gross_sales"`
	NetSales               string  `json:"net_sales"`
	TaxRate                string  `json:"tax_rate"`
	VATPayable             string  `json:"vat_payable"`
	UsedFromClosingBalance string  `json:"used_from_closing_balance"`
	TreasuryNeeded         string  `json:"treasury_needed"`
	ExceedsClosingBalance  bool    `json:"exceeds_closing_balance"`
	OpenOverrideCount      int     `json:"open_override_count"`
	Locked                 bool    `json:"locked"`
	LockedAt               *string `json:"locked_at"`
	ComputedAt             string  `json:"computed_at"`
}

// ComputeOptions control an open-period computation
type ComputeOptions struct {
	Draw      *decimal.Decimal
	Recompute bool
}

// VATPeriodService is the monthly VAT ledger with its open → locked state machine
type VATPeriodService interface {
	Compute(ctx context.Context, userID *uuid.UUID, year, month int, opts ComputeOptions) (*model.VATPeriod, error)
	Lock(ctx context.Context, userID *uuid.UUID, year, month int) (*model.VATPeriod, error)
	Unlock(ctx context.Context, userID *uuid.UUID, year, month int, reason string) (*model.VATPeriod, error)
	Get(ctx context.Context, year, month int) (*model.VATPeriod, error)
	// IsLockedTx reports the lock flag inside the caller's transaction
	IsLockedTx(txCtx context.Context, year, month int) (bool, error)

	RecordTreasuryPayment(ctx context.Context, userID *uuid.UUID, req RecordTreasuryPaymentRequest) (*model.TreasuryPayment, error)
	ListTreasuryPayments(ctx context.Context, year, month int) ([]model.TreasuryPayment, error)
}

type vatPeriodService struct {
	guard
	repo         repository.VATPeriodRepository
	saleRepo     repository.SaleRepository
	allocRepo    repository.AllocationRepository
	taxRuleRepo  repository.TaxRuleRepository
	treasuryRepo repository.TreasuryRepository
	balances     ClosingBalanceService
	audit        AuditService
	hub          *ws.Hub
	policy       config.LedgerConfig
	log          *zap.Logger
	now          func() time.Time
}

func NewVATPeriodService(
	repo repository.VATPeriodRepository,
	saleRepo repository.SaleRepository,
	allocRepo repository.AllocationRepository,
	taxRuleRepo repository.TaxRuleRepository,
	treasuryRepo repository.TreasuryRepository,
	balances ClosingBalanceService,
	audit AuditService,
	txManager repository.TransactionManager,
	lk locker.Locker,
	m *metrics.Metrics,
	hub *ws.Hub,
	policy config.LedgerConfig,
	log *zap.Logger,
) VATPeriodService {
	return &vatPeriodService{
		guard:        guard{locker: lk, txManager: txManager, metrics: m},
		repo:         repo,
		saleRepo:     saleRepo,
		allocRepo:    allocRepo,
		taxRuleRepo:  taxRuleRepo,
		treasuryRepo: treasuryRepo,
		balances:     balances,
		audit:        audit,
		hub:          hub,
		policy:       policy,
		log:          log.Named("vat_period"),
		now:          time.Now,
	}
}

func (s *vatPeriodService) Compute(ctx context.Context, userID *uuid.UUID, year, month int, opts ComputeOptions) (*model.VATPeriod, error) {
	if err := validatePeriod(year, month); err != nil {
		return nil, err
	}
	if opts.Draw != nil && opts.Draw.IsNegative() {
		return nil, apperror.Validation("draw must not be negative")
	}

	var period *model.VATPeriod
	var drawn *balanceChange
	err := s.run(ctx, "period", []string{locker.PeriodKey(year, month)}, func(txCtx context.Context) error {
		existing, err := s.findForUpdate(txCtx, year, month)
		if err != nil {
			return err
		}
		if existing != nil && existing.Locked {
			if opts.Draw != nil || opts.Recompute {
				return apperror.PeriodLocked(existing.Period())
			}
			period = existing
			return nil
		}
		period, drawn, err = s.computeTx(txCtx, existing, year, month, opts.Draw)
		return err
	})
	if err != nil {
		return nil, err
	}

	if drawn != nil {
		s.audit.Record(ctx, AuditEntry{
			UserID:     userID,
			Action:     model.ActionApplyBalance,
			EntityType: model.EntityClosingBalance,
			EntityID:   drawn.after.ID.String(),
			EntityName: drawn.after.Period(),
			Before:     drawn.before,
			After:      drawn.after,
		})
	}
	return period, nil
}

func (s *vatPeriodService) Lock(ctx context.Context, userID *uuid.UUID, year, month int) (*model.VATPeriod, error) {
	if err := validatePeriod(year, month); err != nil {
		return nil, err
	}

	var period *model.VATPeriod
	transitioned := false
	err := s.run(ctx, "period", []string{locker.PeriodKey(year, month)}, func(txCtx context.Context) error {
		existing, err := s.findForUpdate(txCtx, year, month)
		if err != nil {
			return err
		}
		if existing != nil && existing.Locked {
			period = existing
			return nil
		}

		// Freeze figures as of now, keeping whatever draw was made earlier
		period, _, err = s.computeTx(txCtx, existing, year, month, nil)
		if err != nil {
			return err
		}

		from, to := monthRange(year, month)
		open, err := s.allocRepo.CountOpenOverrides(txCtx, from, to)
		if err != nil {
			return fmt.Errorf("failed to count open overrides: %w", err)
		}
		period.OpenOverrideCount = int(open)
		if open > 0 {
			if s.policy.BlockLockOnOpenOverrides {
				return apperror.Newf(apperror.KindValidation,
					"period %s has %d unresolved override allocations; acknowledge them before locking", period.Period(), open).
					WithDetail("period", period.Period()).
					WithDetail("open_override_count", fmt.Sprintf("%d", open))
			}
			s.log.Warn("locking period with unresolved override allocations",
				zap.String("period", period.Period()), zap.Int64("open_overrides", open))
		}

		lockedAt := s.now().UTC()
		period.Locked = true
		period.LockedAt = &lockedAt
		period.LockedBy = userID
		if err := s.repo.Save(txCtx, period); err != nil {
			return fmt.Errorf("failed to lock vat period: %w", err)
		}
		if _, err := s.balances.SetLockedTx(txCtx, year, month, true); err != nil {
			return err
		}
		transitioned = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if transitioned {
		s.metrics.PeriodTransitions.WithLabelValues("lock").Inc()
		s.audit.Record(ctx, AuditEntry{
			UserID:     userID,
			Action:     model.ActionLockPeriod,
			EntityType: model.EntityVATPeriod,
			EntityID:   period.ID.String(),
			EntityName: period.Period(),
			Before:     map[string]bool{"locked": false},
			After:      period,
		})
		s.hub.Publish(ws.EventPeriodLocked, ToVATPeriodResponse(*period))
		s.log.Info("vat period locked", zap.String("period", period.Period()))
	}
	return period, nil
}

func (s *vatPeriodService) Unlock(ctx context.Context, userID *uuid.UUID, year, month int, reason string) (*model.VATPeriod, error) {
	if err := validatePeriod(year, month); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, apperror.Validation("an unlock reason is required")
	}

	var period *model.VATPeriod
	transitioned := false
	err := s.run(ctx, "period", []string{locker.PeriodKey(year, month)}, func(txCtx context.Context) error {
		existing, err := s.findForUpdate(txCtx, year, month)
		if err != nil {
			return err
		}
		if existing == nil {
			return apperror.NotFound("vat period", model.PeriodLabel(year, month))
		}
		period = existing
		if !period.Locked {
			return nil
		}

		period.Locked = false
		period.LockedAt = nil
		period.LockedBy = nil
		if err := s.repo.Save(txCtx, period); err != nil {
			return fmt.Errorf("failed to unlock vat period: %w", err)
		}
		if _, err := s.balances.SetLockedTx(txCtx, year, month, false); err != nil {
			return err
		}
		transitioned = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if transitioned {
		s.metrics.PeriodTransitions.WithLabelValues("unlock").Inc()
		s.audit.Record(ctx, AuditEntry{
			UserID:     userID,
			Action:     model.ActionUnlockPeriod,
			EntityType: model.EntityVATPeriod,
			EntityID:   period.ID.String(),
			EntityName: period.Period(),
			Before:     map[string]bool{"locked": true},
			After:      map[string]interface{}{"locked": false, "reason": reason},
		})
		s.hub.Publish(ws.EventPeriodUnlocked, ToVATPeriodResponse(*period))
		s.log.Warn("vat period unlocked", zap.String("period", period.Period()), zap.String("reason", reason))
	}
	return period, nil
}

func (s *vatPeriodService) Get(ctx context.Context, year, month int) (*model.VATPeriod, error) {
	if err := validatePeriod(year, month); err != nil {
		return nil, err
	}
	period, err := s.repo.FindByPeriod(ctx, year, month)
	if err != nil {
		return nil, notFound(err, "vat period", model.PeriodLabel(year, month))
	}
	return period, nil
}

func (s *vatPeriodService) IsLockedTx(txCtx context.Context, year, month int) (bool, error) {
	period, err := s.repo.FindByPeriod(txCtx, year, month)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to fetch vat period: %w", err)
	}
	return period.Locked, nil
}

// RecordTreasuryPayment stores a challan. It never changes a period's treasury need.
func (s *vatPeriodService) RecordTreasuryPayment(ctx context.Context, userID *uuid.UUID, req RecordTreasuryPaymentRequest) (*model.TreasuryPayment, error) {
	if err := validatePeriod(req.Year, req.Month); err != nil {
		return nil, err
	}
	amount, err := parseMoney("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, apperror.Validation("amount must be greater than zero")
	}
	paidAt, err := parseDate("paid_at", req.PaidAt)
	if err != nil {
		return nil, err
	}

	exists, err := s.treasuryRepo.ExistsChallan(ctx, req.ChallanNo)
	if err != nil {
		return nil, fmt.Errorf("failed to check challan: %w", err)
	}
	if exists {
		return nil, apperror.Validation("challan " + req.ChallanNo + " has already been recorded")
	}

	payment := &model.TreasuryPayment{
		ChallanNo: req.ChallanNo,
		Year:      req.Year,
		Month:     req.Month,
		Amount:    amount,
		PaidAt:    paidAt,
		Note:      req.Note,
	}
	if err := s.treasuryRepo.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to record treasury payment: %w", err)
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:     userID,
		Action:     model.ActionTreasuryPayment,
		EntityType: model.EntityTreasury,
		EntityID:   payment.ID.String(),
		EntityName: payment.ChallanNo,
		After:      payment,
	})
	return payment, nil
}

func (s *vatPeriodService) ListTreasuryPayments(ctx context.Context, year, month int) ([]model.TreasuryPayment, error) {
	if err := validatePeriod(year, month); err != nil {
		return nil, err
	}
	payments, err := s.treasuryRepo.ListByPeriod(ctx, year, month)
	if err != nil {
		return nil, fmt.Errorf("failed to list treasury payments: %w", err)
	}
	return payments, nil
}

// --- Helpers ---

type balanceChange struct {
	before, after *model.ClosingBalance
}

func (s *vatPeriodService) findForUpdate(txCtx context.Context, year, month int) (*model.VATPeriod, error) {
	period, err := s.repo.FindByPeriodForUpdate(txCtx, year, month)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch vat period: %w", err)
	}
	return period, nil
}

// computeTx refreshes an open period from live sales. A non-nil draw is written to the
// closing balance as its used amount; a nil draw keeps the amount already used.
func (s *vatPeriodService) computeTx(txCtx context.Context, period *model.VATPeriod, year, month int, draw *decimal.Decimal) (*model.VATPeriod, *balanceChange, error) {
	from, to := monthRange(year, month)

	totals, err := s.saleRepo.ActiveTotals(txCtx, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to aggregate sales: %w", err)
	}
	rate, err := s.rateFor(txCtx, from)
	if err != nil {
		return nil, nil, err
	}

	balance, err := s.balances.EnsurePeriodTx(txCtx, year, month)
	if err != nil {
		return nil, nil, err
	}

	var change *balanceChange
	if draw != nil {
		after, before, err := s.balances.ApplyTx(txCtx, year, month, balance.Addition, *draw)
		if err != nil {
			return nil, nil, err
		}
		balance = after
		change = &balanceChange{before: before, after: after}
	}

	payable := totals.Net.Mul(rate).Round(4)
	used := balance.Used
	treasury := payable.Sub(used)
	if treasury.IsNegative() {
		treasury = decimal.Zero
	}

	if period == nil {
		period = &model.VATPeriod{Year: year, Month: month}
	}
	period.GrossSales = totals.Gross
	period.NetSales = totals.Net
	period.TaxRate = rate
	period.VATPayable = payable
	period.UsedFromClosingBalance = used
	period.TreasuryNeeded = treasury
	period.ExceedsClosingBalance = payable.GreaterThan(balance.Available())
	period.ComputedAt = s.now().UTC()

	if err := s.repo.Save(txCtx, period); err != nil {
		return nil, nil, fmt.Errorf("failed to save vat period: %w", err)
	}

	if period.ExceedsClosingBalance {
		s.log.Warn("vat payable exceeds available closing balance",
			zap.String("period", period.Period()),
			zap.String("vat_payable", payable.String()),
			zap.String("available", balance.Available().String()))
	}
	return period, change, nil
}

func (s *vatPeriodService) rateFor(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	return activeVATRate(ctx, s.taxRuleRepo, s.policy, date)
}

// activeVATRate returns the rate of the VAT rule in effect at date, or the configured default
func activeVATRate(ctx context.Context, repo repository.TaxRuleRepository, policy config.LedgerConfig, date time.Time) (decimal.Decimal, error) {
	rule, err := repo.FindActive(ctx, policy.VATTaxType, date)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return policy.DefaultVATRate, nil
		}
		return decimal.Zero, fmt.Errorf("failed to resolve vat rate: %w", err)
	}
	return rule.Rate, nil
}

func ToVATPeriodResponse(v model.VATPeriod) VATPeriodResponse {
	resp := VATPeriodResponse{
		Year:                   v.Year,
		Month:                  v.Month,
		Period:                 v.Period(),
		GrossSales:             v.GrossSales.StringFixed(2),
		NetSales:               v.NetSales.StringFixed(2),
		TaxRate:                v.TaxRate.StringFixed(4),
		VATPayable:             v.VATPayable.StringFixed(2),
		UsedFromClosingBalance: v.UsedFromClosingBalance.StringFixed(2),
		TreasuryNeeded:         v.TreasuryNeeded.StringFixed(2),
		ExceedsClosingBalance:  v.ExceedsClosingBalance,
		OpenOverrideCount:      v.OpenOverrideCount,
		Locked:                 v.Locked,
		ComputedAt:             v.ComputedAt.Format(time.RFC3339),
	}
	if v.LockedAt != nil {
		at := v.LockedAt.Format(time.RFC3339)
		resp.LockedAt = &at
	}
	return resp
}
