package models

import (
	"log"

	"github.com/mmdatafocus/kitchen_backend/config"
	"gorm.io/gorm"
)

func allModels() []interface{} {
	return []interface{}{
		&Item{}, &ItemCost{},
		&Recipe{}, &RecipeIngredient{},
		&CatalogMapping{},
		&OrderSyncRecord{},
		&StockMovement{},
		&IntegrationConnection{}, &IntegrationSyncRun{}, &IntegrationSyncError{},
	}
}

// AutoMigrate creates or updates every table owned by this service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(allModels()...)
}

func MigrateTable() {
	if err := AutoMigrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}
