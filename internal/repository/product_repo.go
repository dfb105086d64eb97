package repository

import (
	"context"
	"strings"

	"github.com/tradeops/ledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProductFilter narrows a product listing; empty fields match everything
type ProductFilter struct {
	Search   string // sku or name, case-insensitive
	Category string
}

type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	// UpdateDetails writes name, category and price. The SKU never changes once lots reference it.
	UpdateDetails(ctx context.Context, product *model.Product) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
	// FindByIDs returns the products found, keyed by id; missing ids are simply absent
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Product, error)
	SKUExists(ctx context.Context, sku string) (bool, error)
	List(ctx context.Context, filter ProductFilter, page, limit int) ([]model.Product, int64, error)
}

type productRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) Create(ctx context.Context, product *model.Product) error {
	return GetDB(ctx, r.db).Create(product).Error
}

func (r *productRepository) UpdateDetails(ctx context.Context, product *model.Product) error {
	return GetDB(ctx, r.db).Model(product).
		Select("name", "category", "price").
		Updates(product).Error
}

func (r *productRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	var product model.Product
	if err := GetDB(ctx, r.db).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Product, error) {
	found := make(map[uuid.UUID]model.Product, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var products []model.Product
	if err := GetDB(ctx, r.db).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	for _, p := range products {
		found[p.ID] = p
	}
	return found, nil
}

func (r *productRepository) SKUExists(ctx context.Context, sku string) (bool, error) {
	var count int64
	// Soft-deleted products still own their SKU
	if err := GetDB(ctx, r.db).Unscoped().Model(&model.Product{}).Where("sku = ?", sku).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *productRepository) List(ctx context.Context, filter ProductFilter, page, limit int) ([]model.Product, int64, error) {
	var products []model.Product
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Product{})
	if filter.Search != "" {
		term := "%" + strings.ToLower(filter.Search) + "%"
		db = db.Where("LOWER(sku) LIKE ? OR LOWER(name) LIKE ?", term, term)
	}
	if filter.Category != "" {
		db = db.Where("category = ?", filter.Category)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Order("sku").Offset((page - 1) * limit).Limit(limit).Find(&products).Error; err != nil {
		return nil, 0, err
	}
	return products, total, nil
}
