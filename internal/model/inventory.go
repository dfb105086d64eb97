package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product represents an item the company trades
type Product struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SKU       string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"sku"`
	Name      string          `gorm:"type:varchar(255);not null" json:"name"`
	Category  string          `gorm:"type:varchar(100)" json:"category"`
	Price     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (p *Product) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// ImportLot is one receipt line of a product under an import document (BoE).
// ClosingQty is the only mutable quantity: allocation decrements it, reversal restores it.
type ImportLot struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentNo   string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_lot_document_line" json:"document_no"`
	LineNo       int             `gorm:"type:int;not null;uniqueIndex:idx_lot_document_line" json:"line_no"`
	ProductID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"product_id"`
	ReceivedAt   time.Time       `gorm:"not null;index" json:"received_at"`
	OpeningQty   int             `gorm:"type:int;not null" json:"opening_qty"`
	ClosingQty   int             `gorm:"type:int;not null" json:"closing_qty"`
	UnitCost     decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_cost"`
	Category     string          `gorm:"type:varchar(100)" json:"category"`
	ReceiptMonth string          `gorm:"type:varchar(7);not null;index" json:"receipt_month"` // YYYY-MM
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (l *ImportLot) BeforeCreate(_ *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// LotAllocation links a sale line to the lot that supplied it.
// LotID is nil for an override allocation: units sold before any lot could cover them.
type LotAllocation struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SaleLineID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"sale_line_id"`
	LotID             *uuid.UUID      `gorm:"type:uuid;index" json:"lot_id"`
	Lot               *ImportLot      `gorm:"foreignKey:LotID" json:"lot,omitempty"`
	ProductID         uuid.UUID       `gorm:"type:uuid;not null;index" json:"product_id"`
	Quantity          int             `gorm:"type:int;not null" json:"quantity"`
	UnitCost          decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_cost"`
	OverrideBeforeBoe bool            `gorm:"not null;default:false;index" json:"override_before_boe"`
	ResolvedAt        *time.Time      `json:"resolved_at"`
	ResolutionNote    string          `gorm:"type:text" json:"resolution_note"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (a *LotAllocation) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Cost returns quantity × unit cost
func (a LotAllocation) Cost() decimal.Decimal {
	return a.UnitCost.Mul(decimal.NewFromInt(int64(a.Quantity)))
}

// StockMovementKind enum constants
const (
	MovementOpening      = "OPENING"
	MovementImport       = "IMPORT"
	MovementSale         = "SALE"
	MovementSaleReversal = "SALE_REVERSAL"
	MovementAdjustment   = "ADJUSTMENT"
)

// StockLedgerEntry (stock card) is an append-only quantity movement.
// ID is the append sequence; rows are never updated or deleted.
type StockLedgerEntry struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID  uuid.UUID       `gorm:"type:uuid;not null;index:idx_ledger_product_date" json:"product_id"`
	EntryDate  time.Time       `gorm:"not null;index:idx_ledger_product_date" json:"entry_date"`
	Kind       string          `gorm:"type:varchar(20);not null" json:"kind"`
	QtyIn      int             `gorm:"type:int;not null;default:0" json:"qty_in"`
	QtyOut     int             `gorm:"type:int;not null;default:0" json:"qty_out"`
	UnitCost   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"unit_cost"`
	LotID      *uuid.UUID      `gorm:"type:uuid;index" json:"lot_id"`
	SaleLineID *uuid.UUID      `gorm:"type:uuid;index" json:"sale_line_id"`
	Note       string          `gorm:"type:text" json:"note"`
	CreatedAt  time.Time       `json:"created_at"`
}
