package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ClosingBalance is one month of the carried-forward balance account.
// Closing = Opening + Addition - Used and Opening equals the previous month's Closing.
type ClosingBalance struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Year      int             `gorm:"not null;uniqueIndex:idx_closing_balance_period" json:"year"`
	Month     int             `gorm:"not null;uniqueIndex:idx_closing_balance_period" json:"month"`
	Opening   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"opening"`
	Addition  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"addition"`
	Used      decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"used"`
	Closing   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"closing"`
	Locked    bool            `gorm:"not null;default:false" json:"locked"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (c *ClosingBalance) BeforeCreate(_ *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Available is what the period can draw before overdraft
func (c ClosingBalance) Available() decimal.Decimal {
	return c.Opening.Add(c.Addition)
}

func (c ClosingBalance) Period() string {
	return PeriodLabel(c.Year, c.Month)
}

// VATPeriod is the monthly VAT computation. Once Locked, its figures are a frozen snapshot.
type VATPeriod struct {
	ID                     uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Year                   int             `gorm:"not null;uniqueIndex:idx_vat_period" json:"year"`
	Month                  int             `gorm:"not null;uniqueIndex:idx_vat_period" json:"month"`
	GrossSales             decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"gross_sales"`
	NetSales               decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"net_sales"`
	TaxRate                decimal.Decimal `gorm:"type:decimal(10,4);not null;default:0" json:"tax_rate"`
	VATPayable             decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"vat_payable"`
	UsedFromClosingBalance decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"used_from_closing_balance"`
	TreasuryNeeded         decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"treasury_needed"`
	ExceedsClosingBalance  bool            `gorm:"not null;default:false" json:"exceeds_closing_balance"`
	OpenOverrideCount      int             `gorm:"not null;default:0" json:"open_override_count"`
	Locked                 bool            `gorm:"not null;default:false;index" json:"locked"`
	LockedAt               *time.Time      `json:"locked_at"`
	LockedBy               *uuid.UUID      `gorm:"type:uuid" json:"locked_by"`
	ComputedAt             time.Time       `json:"computed_at"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

func (v *VATPeriod) BeforeCreate(_ *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

func (v VATPeriod) Period() string {
	return PeriodLabel(v.Year, v.Month)
}

// TreasuryPayment records a deposit (challan) made to the treasury for a period.
// It is informational and never changes a period's TreasuryNeeded.
type TreasuryPayment struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ChallanNo string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"challan_no"`
	Year      int             `gorm:"not null;index:idx_treasury_period" json:"year"`
	Month     int             `gorm:"not null;index:idx_treasury_period" json:"month"`
	Amount    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount"`
	PaidAt    time.Time       `gorm:"not null" json:"paid_at"`
	Note      string          `gorm:"type:text" json:"note"`
	CreatedAt time.Time       `json:"created_at"`
}

func (t *TreasuryPayment) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// PeriodLabel formats a period as YYYY-MM
func PeriodLabel(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}
