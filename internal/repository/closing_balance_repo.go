package repository

import (
	"context"

	"github.com/tradeops/ledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Periods are compared as year*100+month so ordering works on any driver.
const periodKeyExpr = "(year * 100 + month)"

type ClosingBalanceRepository interface {
	Create(ctx context.Context, balance *model.ClosingBalance) error
	// CreateIfAbsent inserts the row unless its period already exists; created reports which happened
	CreateIfAbsent(ctx context.Context, balance *model.ClosingBalance) (created bool, err error)
	Save(ctx context.Context, balance *model.ClosingBalance) error
	FindByPeriod(ctx context.Context, year, month int) (*model.ClosingBalance, error)
	FindByPeriodForUpdate(ctx context.Context, year, month int) (*model.ClosingBalance, error)
	// FindLatestBefore returns the most recent row strictly before the period, row-locked
	FindLatestBefore(ctx context.Context, year, month int) (*model.ClosingBalance, error)
	ListAfter(ctx context.Context, year, month int) ([]model.ClosingBalance, error)
	ListByYear(ctx context.Context, year int) ([]model.ClosingBalance, error)
}

type closingBalanceRepository struct {
	db *gorm.DB
}

func NewClosingBalanceRepository(db *gorm.DB) ClosingBalanceRepository {
	return &closingBalanceRepository{db: db}
}

func (r *closingBalanceRepository) Create(ctx context.Context, balance *model.ClosingBalance) error {
	return GetDB(ctx, r.db).Create(balance).Error
}

func (r *closingBalanceRepository) CreateIfAbsent(ctx context.Context, balance *model.ClosingBalance) (bool, error) {
	result := GetDB(ctx, r.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "year"}, {Name: "month"}}, DoNothing: true}).
		Create(balance)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *closingBalanceRepository) Save(ctx context.Context, balance *model.ClosingBalance) error {
	return GetDB(ctx, r.db).Save(balance).Error
}

func (r *closingBalanceRepository) FindByPeriod(ctx context.Context, year, month int) (*model.ClosingBalance, error) {
	var balance model.ClosingBalance
	if err := GetDB(ctx, r.db).Where("year = ? AND month = ?", year, month).First(&balance).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *closingBalanceRepository) FindByPeriodForUpdate(ctx context.Context, year, month int) (*model.ClosingBalance, error) {
	var balance model.ClosingBalance
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("year = ? AND month = ?", year, month).
		First(&balance).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *closingBalanceRepository) FindLatestBefore(ctx context.Context, year, month int) (*model.ClosingBalance, error) {
	var balance model.ClosingBalance
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(periodKeyExpr+" < ?", year*100+month).
		Order("year desc, month desc").
		First(&balance).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *closingBalanceRepository) ListAfter(ctx context.Context, year, month int) ([]model.ClosingBalance, error) {
	var balances []model.ClosingBalance
	if err := GetDB(ctx, r.db).
		Where(periodKeyExpr+" > ?", year*100+month).
		Order("year, month").
		Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}

func (r *closingBalanceRepository) ListByYear(ctx context.Context, year int) ([]model.ClosingBalance, error) {
	var balances []model.ClosingBalance
	if err := GetDB(ctx, r.db).Where("year = ?", year).Order("month").Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}
