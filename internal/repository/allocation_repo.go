package repository

import (
	"context"
	"time"

	"github.com/tradeops/ledger/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PeriodAllocation is an allocation joined with its sale for period reports
type PeriodAllocation struct {
	ID                uuid.UUID       `json:"id"`
	SaleLineID        uuid.UUID       `json:"sale_line_id"`
	LotID             *uuid.UUID      `json:"lot_id"`
	ProductID         uuid.UUID       `json:"product_id"`
	Quantity          int             `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	OverrideBeforeBoe bool            `json:"override_before_boe"`
	ResolvedAt        *time.Time      `json:"resolved_at"`
	SaleID            uuid.UUID       `json:"sale_id"`
	InvoiceNo         string          `json:"invoice_no"`
	SaleDate          time.Time       `json:"sale_date"`
}

func (a PeriodAllocation) Cost() decimal.Decimal {
	return a.UnitCost.Mul(decimal.NewFromInt(int64(a.Quantity)))
}

type AllocationRepository interface {
	CreateBatch(ctx context.Context, allocations []model.LotAllocation) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.LotAllocation, error)
	ListBySaleLine(ctx context.Context, saleLineID uuid.UUID) ([]model.LotAllocation, error)
	ListByLot(ctx context.Context, lotID uuid.UUID) ([]model.LotAllocation, error)
	DeleteBySaleLine(ctx context.Context, saleLineID uuid.UUID) error
	Update(ctx context.Context, allocation *model.LotAllocation) error
	// CountOpenOverrides counts unresolved override allocations on active sales dated in [from, to)
	CountOpenOverrides(ctx context.Context, from, to time.Time) (int64, error)
	ListForPeriod(ctx context.Context, from, to time.Time, productID *uuid.UUID) ([]PeriodAllocation, error)
}

type allocationRepository struct {
	db *gorm.DB
}

func NewAllocationRepository(db *gorm.DB) AllocationRepository {
	return &allocationRepository{db: db}
}

func (r *allocationRepository) CreateBatch(ctx context.Context, allocations []model.LotAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	return GetDB(ctx, r.db).Create(&allocations).Error
}

func (r *allocationRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.LotAllocation, error) {
	var allocation model.LotAllocation
	if err := GetDB(ctx, r.db).First(&allocation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &allocation, nil
}

func (r *allocationRepository) ListBySaleLine(ctx context.Context, saleLineID uuid.UUID) ([]model.LotAllocation, error) {
	var allocations []model.LotAllocation
	if err := GetDB(ctx, r.db).
		Where("sale_line_id = ?", saleLineID).
		Order("created_at, id").
		Find(&allocations).Error; err != nil {
		return nil, err
	}
	return allocations, nil
}

func (r *allocationRepository) ListByLot(ctx context.Context, lotID uuid.UUID) ([]model.LotAllocation, error) {
	var allocations []model.LotAllocation
	if err := GetDB(ctx, r.db).Where("lot_id = ?", lotID).Find(&allocations).Error; err != nil {
		return nil, err
	}
	return allocations, nil
}

func (r *allocationRepository) DeleteBySaleLine(ctx context.Context, saleLineID uuid.UUID) error {
	return GetDB(ctx, r.db).Where("sale_line_id = ?", saleLineID).Delete(&model.LotAllocation{}).Error
}

func (r *allocationRepository) Update(ctx context.Context, allocation *model.LotAllocation) error {
	return GetDB(ctx, r.db).Save(allocation).Error
}

func (r *allocationRepository) CountOpenOverrides(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.LotAllocation{}).
		Joins("JOIN sale_lines ON sale_lines.id = lot_allocations.sale_line_id").
		Joins("JOIN sales ON sales.id = sale_lines.sale_id").
		Where("lot_allocations.override_before_boe = ? AND lot_allocations.resolved_at IS NULL", true).
		Where("sales.status = ? AND sales.sale_date >= ? AND sales.sale_date < ?", model.SaleStatusActive, from, to).
		Count(&count).Error
	return count, err
}

func (r *allocationRepository) ListForPeriod(ctx context.Context, from, to time.Time, productID *uuid.UUID) ([]PeriodAllocation, error) {
	var rows []PeriodAllocation
	db := GetDB(ctx, r.db).Model(&model.LotAllocation{}).
		Select("lot_allocations.id, lot_allocations.sale_line_id, lot_allocations.lot_id, lot_allocations.product_id, " +
			"lot_allocations.quantity, lot_allocations.unit_cost, lot_allocations.override_before_boe, lot_allocations.resolved_at, " +
			"sales.id AS sale_id, sales.invoice_no, sales.sale_date").
		Joins("JOIN sale_lines ON sale_lines.id = lot_allocations.sale_line_id").
		Joins("JOIN sales ON sales.id = sale_lines.sale_id").
		Where("sales.status = ? AND sales.sale_date >= ? AND sales.sale_date < ?", model.SaleStatusActive, from, to)
	if productID != nil {
		db = db.Where("lot_allocations.product_id = ?", *productID)
	}
	if err := db.Order("sales.sale_date, sales.invoice_no").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
