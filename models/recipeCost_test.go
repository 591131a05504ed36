package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mmdatafocus/kitchen_backend/config"
	"github.com/mmdatafocus/kitchen_backend/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func useMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	config.UseRedis(client)
	t.Cleanup(func() {
		config.UseRedis(nil)
		_ = client.Close()
	})
	return mr
}

func TestGetRecipeCost_ServesCacheUntilPurchaseCostRecorded(t *testing.T) {
	mr := useMiniRedis(t)
	db := openTestDB(t)
	ctx := context.Background()
	seedItem(t, db, 1, "2")
	seedRecipe(t, db, 10, "1", models.RecipeIngredient{ItemId: intPtr(1), Qty: dec("3")})

	rc, err := models.GetRecipeCost(ctx, db, testBusinessId, 10)
	require.NoError(t, err)
	require.True(t, rc.Total.Equal(dec("6")), rc.Total.String())
	require.True(t, mr.Exists("RecipeCost:biz-test:10:0"))

	// edits outside the purchase path are served stale until the ttl runs out
	require.NoError(t, db.Model(&models.Item{}).Where("id = ?", 1).Update("fallback_cost", dec("5")).Error)
	rc, err = models.GetRecipeCost(ctx, db, testBusinessId, 10)
	require.NoError(t, err)
	require.True(t, rc.Total.Equal(dec("6")), rc.Total.String())

	require.NoError(t, models.RecordPurchaseCost(db, &models.StockMovement{
		BusinessId:   testBusinessId,
		ItemId:       1,
		Qty:          dec("10"),
		MovementType: models.MovementTypePurchase,
		UnitCost:     dec("4"),
		MovementDate: time.Now().UTC(),
	}))
	rc, err = models.GetRecipeCost(ctx, db, testBusinessId, 10)
	require.NoError(t, err)
	require.True(t, rc.Total.Equal(dec("12")), rc.Total.String())
}

func TestGetRecipeCost_ZeroTTLSkipsCache(t *testing.T) {
	t.Setenv("RECIPE_COST_CACHE_SECONDS", "0")
	mr := useMiniRedis(t)
	db := openTestDB(t)
	seedItem(t, db, 1, "2")
	seedRecipe(t, db, 10, "1", models.RecipeIngredient{ItemId: intPtr(1), Qty: dec("3")})

	_, err := models.GetRecipeCost(context.Background(), db, testBusinessId, 10)
	require.NoError(t, err)
	require.Empty(t, mr.Keys())
}

func TestRecordPurchaseCost_IgnoresOtherMovements(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedItem(t, db, 1, "2")

	for _, m := range []*models.StockMovement{
		{BusinessId: testBusinessId, ItemId: 1, Qty: dec("-1"), MovementType: models.MovementTypeWaste, UnitCost: dec("3")},
		{BusinessId: testBusinessId, ItemId: 1, Qty: dec("1"), MovementType: models.MovementTypePurchase},
	} {
		require.NoError(t, models.RecordPurchaseCost(db, m))
	}
	version, err := models.ItemCostVersion(ctx, db, testBusinessId)
	require.NoError(t, err)
	require.Equal(t, 0, version)

	require.NoError(t, models.RecordPurchaseCost(db, &models.StockMovement{
		BusinessId: testBusinessId, ItemId: 1, Qty: dec("1"), MovementType: models.MovementTypePurchase,
		UnitCost: dec("3"), MovementDate: time.Now().UTC(),
	}))
	version, err = models.ItemCostVersion(ctx, db, testBusinessId)
	require.NoError(t, err)
	require.Positive(t, version)
}
