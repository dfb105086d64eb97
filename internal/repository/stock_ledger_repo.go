package repository

import (
	"context"
	"time"

	"github.com/tradeops/ledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StockLedgerRepository is append-only; there is no update or delete.
type StockLedgerRepository interface {
	Append(ctx context.Context, entries ...*model.StockLedgerEntry) error
	// OnHand is Σ(in − out) over entries dated on or before asOf
	OnHand(ctx context.Context, productID uuid.UUID, asOf time.Time) (int, error)
	ListByProduct(ctx context.Context, productID uuid.UUID, from, to *time.Time) ([]model.StockLedgerEntry, error)
}

type stockLedgerRepository struct {
	db *gorm.DB
}

func NewStockLedgerRepository(db *gorm.DB) StockLedgerRepository {
	return &stockLedgerRepository{db: db}
}

func (r *stockLedgerRepository) Append(ctx context.Context, entries ...*model.StockLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return GetDB(ctx, r.db).Create(entries).Error
}

func (r *stockLedgerRepository) OnHand(ctx context.Context, productID uuid.UUID, asOf time.Time) (int, error) {
	var result struct {
		Total int64
	}
	err := GetDB(ctx, r.db).Model(&model.StockLedgerEntry{}).
		Select("COALESCE(SUM(qty_in - qty_out), 0) AS total").
		Where("product_id = ? AND entry_date <= ?", productID, asOf).
		Scan(&result).Error
	if err != nil {
		return 0, err
	}
	return int(result.Total), nil
}

func (r *stockLedgerRepository) ListByProduct(ctx context.Context, productID uuid.UUID, from, to *time.Time) ([]model.StockLedgerEntry, error) {
	var entries []model.StockLedgerEntry
	db := GetDB(ctx, r.db).Where("product_id = ?", productID)
	if from != nil {
		db = db.Where("entry_date >= ?", *from)
	}
	if to != nil {
		db = db.Where("entry_date <= ?", *to)
	}
	if err := db.Order("entry_date, id").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
