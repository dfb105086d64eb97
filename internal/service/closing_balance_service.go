package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tradeops/ledger/internal/config"
	"github.com/tradeops/ledger/internal/locker"
	"github.com/tradeops/ledger/internal/metrics"
	"github.com/tradeops/ledger/internal/model"
	"github.com/tradeops/ledger/internal/repository"
	"github.com/tradeops/ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ApplyClosingBalanceRequest struct {
	Addition string `json:"addition" binding:"required"` // Decimal string
	Used     string `json:"used" binding:"required"`
}

type ClosingBalanceResponse struct {
	Year     int    `json:"year"`
	Month    int    `json:"month"`
	Period   string `json:"period"`
	Opening  string `json:"opening"`
	Addition string `json:"addition"`
	Used     string `json:"used"`
	Closing  string `json:"closing"`
	Locked   bool   `json:"locked"`
	// Stored is false for a month nobody has written yet; the figures are carried forward only
	Stored   bool   `json:"stored"`
}

// ClosingBalanceService keeps the monthly carried-forward balance chain.
// Opening of a month always equals closing of the month before it.
type ClosingBalanceService interface {
	// Get is read-only: a missing month is projected from the latest earlier closing, not created
	Get(ctx context.Context, year, month int) (*model.ClosingBalance, error)
	EnsurePeriod(ctx context.Context, year, month int) (*model.ClosingBalance, error)
	Apply(ctx context.Context, userID *uuid.UUID, year, month int, req ApplyClosingBalanceRequest) (*model.ClosingBalance, error)
	ListYear(ctx context.Context, year int) ([]model.ClosingBalance, error)

	// EnsurePeriodTx returns the row-locked period, creating it and any gap months
	EnsurePeriodTx(txCtx context.Context, year, month int) (*model.ClosingBalance, error)
	// ApplyTx sets addition and used and returns the updated row with its prior state
	ApplyTx(txCtx context.Context, year, month int, addition, used decimal.Decimal) (after, before *model.ClosingBalance, err error)
	SetLockedTx(txCtx context.Context, year, month int, locked bool) (*model.ClosingBalance, error)
}

type closingBalanceService struct {
	guard
	repo   repository.ClosingBalanceRepository
	audit  AuditService
	policy config.LedgerConfig
	log    *zap.Logger
}

func NewClosingBalanceService(
	repo repository.ClosingBalanceRepository,
	audit AuditService,
	txManager repository.TransactionManager,
	lk locker.Locker,
	m *metrics.Metrics,
	policy config.LedgerConfig,
	log *zap.Logger,
) ClosingBalanceService {
	return &closingBalanceService{
		guard:  guard{locker: lk, txManager: txManager, metrics: m},
		repo:   repo,
		audit:  audit,
		policy: policy,
		log:    log.Named("closing_balance"),
	}
}

func (s *closingBalanceService) Get(ctx context.Context, year, month int) (*model.ClosingBalance, error) {
	if err := validatePeriod(year, month); err != nil {
		return nil, err
	}
	balance, err := s.repo.FindByPeriod(ctx, year, month)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to fetch closing balance: %w", err)
	}

	opening := decimal.Zero
	prev, err := s.repo.FindLatestBefore(ctx, year, month)
	switch {
	case err == nil:
		opening = prev.Closing
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("failed to fetch previous closing balance: %w", err)
	}
	return &model.ClosingBalance{
		Year:     year,
		Month:    month,
		Opening:  opening,
		Addition: decimal.Zero,
		Used:     decimal.Zero,
		Closing:  opening,
	}, nil
}

func (s *closingBalanceService) EnsurePeriod(ctx context.Context, year, month int) (*model.ClosingBalance, error) {
	if err := validatePeriod(year, month); err != nil {
		return nil, err
	}
	var balance *model.ClosingBalance
	err := s.run(ctx, "period", []string{locker.PeriodKey(year, month)}, func(txCtx context.Context) error {
		var err error
		balance, err = s.EnsurePeriodTx(txCtx, year, month)
		return err
	})
	return balance, err
}

func (s *closingBalanceService) EnsurePeriodTx(txCtx context.Context, year, month int) (*model.ClosingBalance, error) {
	balance, err := s.repo.FindByPeriodForUpdate(txCtx, year, month)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to fetch closing balance: %w", err)
	}

	opening := decimal.Zero
	y, m := year, month
	prev, err := s.repo.FindLatestBefore(txCtx, year, month)
	switch {
	case err == nil:
		opening = prev.Closing
		y, m = nextMonth(prev.Year, prev.Month)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("failed to fetch previous closing balance: %w", err)
	}

	// Fill every month up to the target so the chain has no holes.
	// Gap months are not covered by our period key, so another writer may insert one first.
	for {
		row := &model.ClosingBalance{
			Year:     y,
			Month:    m,
			Opening:  opening,
			Addition: decimal.Zero,
			Used:     decimal.Zero,
			Closing:  opening,
		}
		created, err := s.repo.CreateIfAbsent(txCtx, row)
		if err != nil {
			return nil, fmt.Errorf("failed to create closing balance %s: %w", row.Period(), err)
		}
		if !created {
			if row, err = s.repo.FindByPeriodForUpdate(txCtx, y, m); err != nil {
				return nil, fmt.Errorf("failed to fetch closing balance %s: %w", model.PeriodLabel(y, m), err)
			}
			opening = row.Closing
		}
		if y == year && m == month {
			s.log.Debug("closing balance period opened", zap.String("period", row.Period()), zap.String("opening", opening.String()))
			return row, nil
		}
		y, m = nextMonth(y, m)
	}
}

func (s *closingBalanceService) Apply(ctx context.Context, userID *uuid.UUID, year, month int, req ApplyClosingBalanceRequest) (*model.ClosingBalance, error) {
	if err := validatePeriod(year, month); err != nil {
		return nil, err
	}
	addition, err := parseMoney("addition", req.Addition)
	if err != nil {
		return nil, err
	}
	used, err := parseMoney("used", req.Used)
	if err != nil {
		return nil, err
	}

	var after, before *model.ClosingBalance
	err = s.run(ctx, "period", []string{locker.PeriodKey(year, month)}, func(txCtx context.Context) error {
		var err error
		after, before, err = s.ApplyTx(txCtx, year, month, addition, used)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:     userID,
		Action:     model.ActionApplyBalance,
		EntityType: model.EntityClosingBalance,
		EntityID:   after.ID.String(),
		EntityName: after.Period(),
		Before:     before,
		After:      after,
	})
	return after, nil
}

func (s *closingBalanceService) ApplyTx(txCtx context.Context, year, month int, addition, used decimal.Decimal) (*model.ClosingBalance, *model.ClosingBalance, error) {
	if addition.IsNegative() || used.IsNegative() {
		return nil, nil, apperror.Validation("addition and used must not be negative")
	}

	balance, err := s.EnsurePeriodTx(txCtx, year, month)
	if err != nil {
		return nil, nil, err
	}
	before := *balance

	if balance.Locked {
		return nil, nil, apperror.PeriodLocked(balance.Period())
	}

	available := balance.Opening.Add(addition)
	if used.GreaterThan(available) && !s.policy.AllowClosingOverdraft {
		return nil, nil, apperror.Newf(apperror.KindInsufficientBalance,
			"used %s exceeds available balance %s for %s", used.StringFixed(2), available.StringFixed(2), balance.Period()).
			WithDetail("period", balance.Period()).
			WithDetail("available", available.String())
	}

	closing := available.Sub(used)
	if !closing.Equal(balance.Closing) {
		later, err := s.repo.ListAfter(txCtx, year, month)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check later periods: %w", err)
		}
		if len(later) > 0 {
			labels := make([]string, 0, len(later))
			for _, l := range later {
				labels = append(labels, l.Period())
			}
			return nil, nil, apperror.Newf(apperror.KindPeriodChainBroken,
				"changing the closing of %s would invalidate later periods; recompute %s after reverting them",
				balance.Period(), strings.Join(labels, ", ")).
				WithDetail("period", balance.Period()).
				WithDetail("later_periods", strings.Join(labels, ","))
		}
	}

	balance.Addition = addition
	balance.Used = used
	balance.Closing = closing
	if err := s.repo.Save(txCtx, balance); err != nil {
		return nil, nil, fmt.Errorf("failed to save closing balance: %w", err)
	}

	if closing.IsNegative() {
		s.log.Warn("closing balance overdrawn", zap.String("period", balance.Period()), zap.String("closing", closing.String()))
	}
	return balance, &before, nil
}

func (s *closingBalanceService) SetLockedTx(txCtx context.Context, year, month int, locked bool) (*model.ClosingBalance, error) {
	balance, err := s.EnsurePeriodTx(txCtx, year, month)
	if err != nil {
		return nil, err
	}
	if balance.Locked == locked {
		return balance, nil
	}
	balance.Locked = locked
	if err := s.repo.Save(txCtx, balance); err != nil {
		return nil, fmt.Errorf("failed to update closing balance lock: %w", err)
	}
	return balance, nil
}

func (s *closingBalanceService) ListYear(ctx context.Context, year int) ([]model.ClosingBalance, error) {
	balances, err := s.repo.ListByYear(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list closing balances: %w", err)
	}
	return balances, nil
}

func nextMonth(year, month int) (int, int) {
	if month == 12 {
		return year + 1, 1
	}
	return year, month + 1
}

func ToClosingBalanceResponse(b model.ClosingBalance) ClosingBalanceResponse {
	return ClosingBalanceResponse{
		Year:     b.Year,
		Month:    b.Month,
		Period:   b.Period(),
		Opening:  b.Opening.StringFixed(2),
		Addition: b.Addition.StringFixed(2),
		Used:     b.Used.StringFixed(2),
		Closing:  b.Closing.StringFixed(2),
		Locked:   b.Locked,
		Stored:   b.ID != uuid.Nil,
	}
}
