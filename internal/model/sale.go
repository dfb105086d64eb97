package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SaleStatus enum constants
const (
	SaleStatusActive = "ACTIVE"
	SaleStatusVoided = "VOIDED"
)

// Sale is a sales invoice header. Only ACTIVE sales count toward VAT period totals.
type Sale struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceNo    string          `gorm:"type:varchar(30);uniqueIndex;not null" json:"invoice_no"`
	SaleDate     time.Time       `gorm:"not null;index" json:"sale_date"`
	CustomerName string          `gorm:"type:varchar(255)" json:"customer_name"`
	Status       string          `gorm:"type:varchar(20);not null;default:'ACTIVE';index" json:"status"`
	TaxRate      decimal.Decimal `gorm:"type:decimal(10,4);not null;default:0" json:"tax_rate"`
	NetTotal     decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"net_total"`   // ex-tax
	VATTotal     decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"vat_total"`   // net_total × tax_rate
	GrossTotal   decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"gross_total"` // net_total + vat_total
	Note         string          `gorm:"type:text" json:"note"`
	VoidedAt     *time.Time      `json:"voided_at"`
	Lines        []SaleLine      `gorm:"foreignKey:SaleID" json:"lines"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (s *Sale) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SaleLine is one product line of a sale; its quantity is fully covered by allocations.
type SaleLine struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SaleID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"sale_id"`
	LineNo        int             `gorm:"type:int;not null" json:"line_no"`
	ProductID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"product_id"`
	Quantity      int             `gorm:"type:int;not null" json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_price"`
	NetAmount     decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"net_amount"`
	AllowOverride bool            `gorm:"not null;default:false" json:"allow_override"`
	Allocations   []LotAllocation `gorm:"foreignKey:SaleLineID" json:"allocations,omitempty"`
}

func (l *SaleLine) BeforeCreate(_ *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
