package database

import (
	"fmt"
	"time"

	"github.com/wnt/sparechange/internal/config"
	"github.com/wnt/sparechange/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the postgres database described by cfg and migrates the schema
func Connect(cfg config.Config) (*gorm.DB, error) {
	if cfg.DBName == "" {
		return nil, fmt.Errorf("failed to connect to database: DB_NAME is not set")
	}

	db, err := Open(postgres.Open(cfg.DSN()))
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Open opens a gorm connection on the given dialector with the service defaults
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Silent),
		PrepareStmt: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.WalletBaseline{},
		&models.RoundupEntry{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Composite index for newest-first listing per wallet
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_roundup_entries_wallet_transfer_at ON roundup_entries(wallet_address, transfer_at)").Error; err != nil {
		return fmt.Errorf("failed to create roundup index: %w", err)
	}

	return nil
}
