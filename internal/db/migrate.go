package db

import (
	"fmt"

	"github.com/zulandar/siteyard/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model managed by Siteyard.
func AllModels() []interface{} {
	return []interface{}{
		&models.Site{},
		&models.SitePlanChange{},
		&models.Order{},
		&models.OrderItem{},
		&models.Subscription{},
		&models.CheckoutSession{},
		&models.Note{},
		&models.OrderMeta{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
