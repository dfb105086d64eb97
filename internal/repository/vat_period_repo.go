package repository

import (
	"context"

	"github.com/tradeops/ledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type VATPeriodRepository interface {
	Save(ctx context.Context, period *model.VATPeriod) error
	FindByPeriod(ctx context.Context, year, month int) (*model.VATPeriod, error)
	FindByPeriodForUpdate(ctx context.Context, year, month int) (*model.VATPeriod, error)
	ListByYear(ctx context.Context, year int) ([]model.VATPeriod, error)
}

type vatPeriodRepository struct {
	db *gorm.DB
}

func NewVATPeriodRepository(db *gorm.DB) VATPeriodRepository {
	return &vatPeriodRepository{db: db}
}

// Save creates the row when ID is unset, otherwise updates every column
func (r *vatPeriodRepository) Save(ctx context.Context, period *model.VATPeriod) error {
	return GetDB(ctx, r.db).Save(period).Error
}

func (r *vatPeriodRepository) FindByPeriod(ctx context.Context, year, month int) (*model.VATPeriod, error) {
	var period model.VATPeriod
	if err := GetDB(ctx, r.db).Where("year = ? AND month = ?", year, month).First(&period).Error; err != nil {
		return nil, err
	}
	return &period, nil
}

func (r *vatPeriodRepository) FindByPeriodForUpdate(ctx context.Context, year, month int) (*model.VATPeriod, error) {
	var period model.VATPeriod
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("year = ? AND month = ?", year, month).
		First(&period).Error; err != nil {
		return nil, err
	}
	return &period, nil
}

func (r *vatPeriodRepository) ListByYear(ctx context.Context, year int) ([]model.VATPeriod, error) {
	var periods []model.VATPeriod
	if err := GetDB(ctx, r.db).Where("year = ?", year).Order("month").Find(&periods).Error; err != nil {
		return nil, err
	}
	return periods, nil
}
