// Package db opens the optional turn history database.
package db

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/minicodex/internal/config"
)

// Connect opens a GORM connection for the configured history driver. For
// sqlite the parent directory of the database file is created.
func Connect(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case config.HistorySQLite:
		if dsn != ":memory:" && !isURI(dsn) {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
				return nil, fmt.Errorf("db: create directory for %s: %w", dsn, err)
			}
		}
		dialector = sqlite.Open(dsn)
	case config.HistoryMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect %s: %w", driver, err)
	}
	if driver == config.HistorySQLite {
		// One connection: sqlite serialises writers, and each :memory:
		// connection would otherwise see its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: connect %s: %w", driver, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return sqlDB.Close()
}

func isURI(dsn string) bool {
	return len(dsn) > 5 && dsn[:5] == "file:"
}
