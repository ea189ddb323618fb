package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/zulandar/minicodex/internal/models"
)

// AllModels returns every GORM model owned by the history database.
func AllModels() []interface{} {
	return []interface{}{
		&models.Turn{},
	}
}

// AutoMigrate creates or updates the history tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
