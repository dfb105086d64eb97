package repository

import (
	"context"

	"github.com/tradeops/ledger/internal/model"

	"gorm.io/gorm"
)

type TreasuryRepository interface {
	Create(ctx context.Context, payment *model.TreasuryPayment) error
	ExistsChallan(ctx context.Context, challanNo string) (bool, error)
	ListByPeriod(ctx context.Context, year, month int) ([]model.TreasuryPayment, error)
	ListByYear(ctx context.Context, year int) ([]model.TreasuryPayment, error)
}

type treasuryRepository struct {
	db *gorm.DB
}

func NewTreasuryRepository(db *gorm.DB) TreasuryRepository {
	return &treasuryRepository{db: db}
}

func (r *treasuryRepository) Create(ctx context.Context, payment *model.TreasuryPayment) error {
	return GetDB(ctx, r.db).Create(payment).Error
}

func (r *treasuryRepository) ExistsChallan(ctx context.Context, challanNo string) (bool, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.TreasuryPayment{}).Where("challan_no = ?", challanNo).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *treasuryRepository) ListByPeriod(ctx context.Context, year, month int) ([]model.TreasuryPayment, error) {
	var payments []model.TreasuryPayment
	if err := GetDB(ctx, r.db).Where("year = ? AND month = ?", year, month).Order("paid_at").Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *treasuryRepository) ListByYear(ctx context.Context, year int) ([]model.TreasuryPayment, error) {
	var payments []model.TreasuryPayment
	if err := GetDB(ctx, r.db).Where("year = ?", year).Order("month, paid_at").Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}
