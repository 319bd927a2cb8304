package database

import (
	"fmt"
	"log/slog"

	"github.com/oryxsec/scanhub/internal/database/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the embedded store. WAL journaling plus a short busy
// timeout keeps the worker goroutines, the sync loop, and the API handlers
// from tripping over each other on the single file.
func Connect(path string, log *slog.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying db: %w", err)
	}

	// SQLite serializes writers anyway; a small pool is enough.
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetMaxOpenConns(8)

	log.Info("database initialized", "path", path)

	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Scan{},
		&models.Target{},
	)
}
