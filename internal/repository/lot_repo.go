package repository

import (
	"context"

	"github.com/tradeops/ledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LotRepository interface {
	Create(ctx context.Context, lot *model.ImportLot) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ImportLot, error)
	ExistsDocumentLine(ctx context.Context, documentNo string, lineNo int) (bool, error)
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]model.ImportLot, error)
	// ListByProductForUpdate row-locks every lot of the product for the rest of the transaction.
	ListByProductForUpdate(ctx context.Context, productID uuid.UUID) ([]model.ImportLot, error)
	FindByIDsForUpdate(ctx context.Context, ids []uuid.UUID) ([]model.ImportLot, error)
	UpdateClosing(ctx context.Context, id uuid.UUID, closing int) error
}

type lotRepository struct {
	db *gorm.DB
}

func NewLotRepository(db *gorm.DB) LotRepository {
	return &lotRepository{db: db}
}

func (r *lotRepository) Create(ctx context.Context, lot *model.ImportLot) error {
	return GetDB(ctx, r.db).Create(lot).Error
}

func (r *lotRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.ImportLot, error) {
	var lot model.ImportLot
	if err := GetDB(ctx, r.db).First(&lot, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

func (r *lotRepository) ExistsDocumentLine(ctx context.Context, documentNo string, lineNo int) (bool, error) {
	var count int64
	if err := GetDB(ctx, r.db).Model(&model.ImportLot{}).
		Where("document_no = ? AND line_no = ?", documentNo, lineNo).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *lotRepository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]model.ImportLot, error) {
	var lots []model.ImportLot
	if err := GetDB(ctx, r.db).
		Where("product_id = ?", productID).
		Order("received_at, document_no, line_no").
		Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

func (r *lotRepository) ListByProductForUpdate(ctx context.Context, productID uuid.UUID) ([]model.ImportLot, error) {
	var lots []model.ImportLot
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ?", productID).
		Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

func (r *lotRepository) FindByIDsForUpdate(ctx context.Context, ids []uuid.UUID) ([]model.ImportLot, error) {
	var lots []model.ImportLot
	if len(ids) == 0 {
		return lots, nil
	}
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

func (r *lotRepository) UpdateClosing(ctx context.Context, id uuid.UUID, closing int) error {
	return GetDB(ctx, r.db).Model(&model.ImportLot{}).Where("id = ?", id).Update("closing_qty", closing).Error
}
