package repository

import (
	"context"
	"time"

	"github.com/tradeops/ledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaxRuleRepository interface {
	Create(ctx context.Context, rule *model.TaxRule) error
	Update(ctx context.Context, rule *model.TaxRule) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.TaxRule, error)
	List(ctx context.Context, taxType string, page, limit int) ([]model.TaxRule, int64, error)
	// FindActive returns the rule of taxType in effect on date, latest effective_from first
	FindActive(ctx context.Context, taxType string, date time.Time) (*model.TaxRule, error)
	CountOverlapping(ctx context.Context, taxType string, from time.Time, to *time.Time, excludeID *uuid.UUID) (int64, error)
}

type taxRuleRepository struct {
	db *gorm.DB
}

func NewTaxRuleRepository(db *gorm.DB) TaxRuleRepository {
	return &taxRuleRepository{db: db}
}

func (r *taxRuleRepository) Create(ctx context.Context, rule *model.TaxRule) error {
	return GetDB(ctx, r.db).Create(rule).Error
}

func (r *taxRuleRepository) Update(ctx context.Context, rule *model.TaxRule) error {
	return GetDB(ctx, r.db).Save(rule).Error
}

func (r *taxRuleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Delete(&model.TaxRule{}, "id = ?", id).Error
}

func (r *taxRuleRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.TaxRule, error) {
	var rule model.TaxRule
	if err := GetDB(ctx, r.db).First(&rule, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *taxRuleRepository) List(ctx context.Context, taxType string, page, limit int) ([]model.TaxRule, int64, error) {
	var rules []model.TaxRule
	var total int64

	db := GetDB(ctx, r.db).Model(&model.TaxRule{})
	if taxType != "" {
		db = db.Where("tax_type = ?", taxType)
	}
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("effective_from desc").Offset(offset).Limit(limit).Find(&rules).Error; err != nil {
		return nil, 0, err
	}

	return rules, total, nil
}

func (r *taxRuleRepository) FindActive(ctx context.Context, taxType string, date time.Time) (*model.TaxRule, error) {
	var rule model.TaxRule
	if err := GetDB(ctx, r.db).
		Where("tax_type = ? AND effective_from <= ?", taxType, date).
		Where("effective_to IS NULL OR effective_to >= ?", date).
		Order("effective_from desc").
		First(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *taxRuleRepository) CountOverlapping(ctx context.Context, taxType string, from time.Time, to *time.Time, excludeID *uuid.UUID) (int64, error) {
	var count int64
	db := GetDB(ctx, r.db).Model(&model.TaxRule{}).Where("tax_type = ?", taxType)
	if excludeID != nil {
		db = db.Where("id <> ?", *excludeID)
	}

	// Two ranges overlap when each starts before the other ends; a nil end is open.
	db = db.Where("effective_to IS NULL OR effective_to >= ?", from)
	if to != nil {
		db = db.Where("effective_from <= ?", *to)
	}

	if err := db.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
