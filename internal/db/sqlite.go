package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/sellerops/internal/db/models"
	"github.com/pysugar/sellerops/internal/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InitDB initializes the SQLite database connection and runs migrations.
// gorm logs through logger.
func InitDB(dbPath string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logging.NewGormLogger(logger),
	})
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer; one connection keeps the read-then-write
	// transactions in AccountStore from failing with SQLITE_BUSY.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables owned by this service.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Account{})
}
