package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionCreateProduct    = "CREATE_PRODUCT"
	ActionUpdateProduct    = "UPDATE_PRODUCT"
	ActionReceiveGoods     = "RECEIVE_GOODS"
	ActionStockAdjustment  = "STOCK_ADJUSTMENT"
	ActionCreateSale       = "CREATE_SALE"
	ActionVoidSale         = "VOID_SALE"
	ActionOverrideAlloc    = "ALLOCATE_WITH_OVERRIDE"
	ActionAcknowledgeAlloc = "ACKNOWLEDGE_OVERRIDE"
	ActionApplyBalance     = "APPLY_CLOSING_BALANCE"
	ActionLockPeriod       = "LOCK_VAT_PERIOD"
	ActionUnlockPeriod     = "UNLOCK_VAT_PERIOD"
	ActionTreasuryPayment  = "RECORD_TREASURY_PAYMENT"
	ActionCreateTaxRule    = "CREATE_TAX_RULE"
	ActionUpdateTaxRule    = "UPDATE_TAX_RULE"
	ActionDeleteTaxRule    = "DELETE_TAX_RULE"
)

// Entity types recorded on audit rows
const (
	EntityProduct        = "product"
	EntityImportLot      = "import_lot"
	EntitySale           = "sale"
	EntityAllocation     = "lot_allocation"
	EntityStockLedger    = "stock_ledger"
	EntityClosingBalance = "closing_balance"
	EntityVATPeriod      = "vat_period"
	EntityTreasury       = "treasury_payment"
	EntityTaxRule        = "tax_rule"
)

// AuditLog tracks Who, What, and When for critical ledger changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // Nil for automated actions
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityType string     `gorm:"type:varchar(50);index" json:"entity_type"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Before     string     `gorm:"type:text" json:"before,omitempty"` // JSON snapshot before the change
	After      string     `gorm:"type:text" json:"after,omitempty"`  // JSON snapshot after the change
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
