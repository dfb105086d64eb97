package database

import (
	"fmt"
	"time"

	"github.com/tradeops/ledger/internal/config"
	"github.com/tradeops/ledger/internal/logger"
	"github.com/tradeops/ledger/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewConnection opens the configured database and migrates the ledger schema
func NewConnection(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.NewGormLogger(log, gormlogger.Warn)}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		db, err = OpenSQLite(cfg.SQLitePath, gormCfg)
	default:
		db, err = gorm.Open(postgres.Open(cfg.DSN()), gormCfg)
		if err == nil {
			err = configurePool(db)
		}
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens a file or ":memory:" database on a single connection.
// An in-memory database exists per connection, and sqlite serializes writers anyway.
func OpenSQLite(path string, gormCfg *gorm.Config) (*gorm.DB, error) {
	if gormCfg == nil {
		gormCfg = &gorm.Config{Logger: gormlogger.Discard}
	}
	db, err := gorm.Open(sqlite.Open(path), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Migrate creates or updates every ledger table
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Product{},
		&model.ImportLot{},
		&model.Sale{},
		&model.SaleLine{},
		&model.LotAllocation{},
		&model.StockLedgerEntry{},
		&model.ClosingBalance{},
		&model.VATPeriod{},
		&model.TreasuryPayment{},
		&model.TaxRule{},
		&model.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	return nil
}

func configurePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return nil
}
