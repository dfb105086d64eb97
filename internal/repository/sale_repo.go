package repository

import (
	"context"
	"time"

	"github.com/tradeops/ledger/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaleTotals are the summed amounts of active sales in a date range
type SaleTotals struct {
	Count int
	Net   decimal.Decimal
	VAT   decimal.Decimal
	Gross decimal.Decimal
}

type SaleRepository interface {
	// Create inserts the header and its lines
	Create(ctx context.Context, sale *model.Sale) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Sale, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Sale, error)
	FindLineByID(ctx context.Context, id uuid.UUID) (*model.SaleLine, error)
	ExistsInvoiceNo(ctx context.Context, invoiceNo string) (bool, error)
	List(ctx context.Context, from, to *time.Time, status string, page, limit int) ([]model.Sale, int64, error)
	MarkVoided(ctx context.Context, id uuid.UUID, at time.Time) error
	ActiveTotals(ctx context.Context, from, to time.Time) (SaleTotals, error)
}

type saleRepository struct {
	db *gorm.DB
}

func NewSaleRepository(db *gorm.DB) SaleRepository {
	return &saleRepository{db: db}
}

func (r *saleRepository) Create(ctx context.Context, sale *model.Sale) error {
	return GetDB(ctx, r.db).Create(sale).Error
}

func (r *saleRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Sale, error) {
	var sale model.Sale
	err := GetDB(ctx, r.db).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_no") }).
		Preload("Lines.Allocations").
		First(&sale, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (r *saleRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Sale, error) {
	var sale model.Sale
	err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_no") }).
		First(&sale, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (r *saleRepository) FindLineByID(ctx context.Context, id uuid.UUID) (*model.SaleLine, error) {
	var line model.SaleLine
	if err := GetDB(ctx, r.db).First(&line, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &line, nil
}

func (r *saleRepository) ExistsInvoiceNo(ctx context.Context, invoiceNo string) (bool, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.Sale{}).Where("invoice_no = ?", invoiceNo).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *saleRepository) List(ctx context.Context, from, to *time.Time, status string, page, limit int) ([]model.Sale, int64, error) {
	var sales []model.Sale
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Sale{})
	if from != nil {
		db = db.Where("sale_date >= ?", *from)
	}
	if to != nil {
		db = db.Where("sale_date < ?", *to)
	}
	if status != "" {
		db = db.Where("status = ?", status)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("sale_date desc, invoice_no desc").Offset(offset).Limit(limit).Find(&sales).Error; err != nil {
		return nil, 0, err
	}
	return sales, total, nil
}

func (r *saleRepository) MarkVoided(ctx context.Context, id uuid.UUID, at time.Time) error {
	return GetDB(ctx, r.db).Model(&model.Sale{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": model.SaleStatusVoided, "voided_at": at}).Error
}

// ActiveTotals sums in decimal rather than SQL so amounts keep their exact scale on every driver.
func (r *saleRepository) ActiveTotals(ctx context.Context, from, to time.Time) (SaleTotals, error) {
	var sales []model.Sale
	totals := SaleTotals{Net: decimal.Zero, VAT: decimal.Zero, Gross: decimal.Zero}

	err := GetDB(ctx, r.db).
		Select("net_total", "vat_total", "gross_total").
		Where("status = ? AND sale_date >= ? AND sale_date < ?", model.SaleStatusActive, from, to).
		Find(&sales).Error
	if err != nil {
		return totals, err
	}

	for _, s := range sales {
		totals.Count++
		totals.Net = totals.Net.Add(s.NetTotal)
		totals.VAT = totals.VAT.Add(s.VATTotal)
		totals.Gross = totals.Gross.Add(s.GrossTotal)
	}
	return totals, nil
}
