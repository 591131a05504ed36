package models_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/mmdatafocus/kitchen_backend/config"
	"github.com/mmdatafocus/kitchen_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testBusinessId = "biz-test"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), config.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intPtr(v int) *int { return &v }

func seedItem(t *testing.T, db *gorm.DB, id int, fallback string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Item{
		ID:           id,
		BusinessId:   testBusinessId,
		Name:         fmt.Sprintf("item-%d", id),
		Unit:         "g",
		FallbackCost: dec(fallback),
	}).Error)
}

func seedRecipe(t *testing.T, db *gorm.DB, id int, yield string, ingredients ...models.RecipeIngredient) {
	t.Helper()
	for i := range ingredients {
		ingredients[i].BusinessId = testBusinessId
	}
	require.NoError(t, db.Create(&models.Recipe{
		ID:          id,
		BusinessId:  testBusinessId,
		Name:        fmt.Sprintf("recipe-%d", id),
		YieldQty:    dec(yield),
		Ingredients: ingredients,
	}).Error)
}
