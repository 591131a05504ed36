package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/kitchen_backend/config"
	"github.com/mmdatafocus/kitchen_backend/costing"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// recipeCostCacheKey includes the business's newest item cost id, so a
// recorded purchase cost moves every recipe of the business to a fresh key.
func recipeCostCacheKey(businessId string, recipeId int, costVersion int) string {
	return fmt.Sprintf("RecipeCost:%s:%d:%d", businessId, recipeId, costVersion)
}

// GetRecipeCost computes the cost of a recipe, serving from the redis cache
// when a fresh entry exists. Returns gorm.ErrRecordNotFound when the recipe
// does not exist for the business.
func GetRecipeCost(ctx context.Context, db *gorm.DB, businessId string, recipeId int) (*costing.RecipeCost, error) {
	ttl := config.RecipeCostCacheTTL()
	key := ""
	if ttl > 0 && config.GetRedisDB() != nil {
		version, err := ItemCostVersion(ctx, db, businessId)
		if err != nil {
			return nil, err
		}
		key = recipeCostCacheKey(businessId, recipeId, version)
		var cached costing.RecipeCost
		if ok, err := config.GetRedisObject(key, &cached); err == nil && ok {
			return &cached, nil
		}
	}

	g, err := LoadRecipeGraph(ctx, db, businessId, recipeId)
	if err != nil {
		return nil, err
	}
	if !g.HasRecipe(recipeId) {
		return nil, gorm.ErrRecordNotFound
	}
	rc, err := costing.NewCalculator(g).Cost(recipeId)
	if err != nil {
		return nil, err
	}
	if key != "" {
		_ = config.SetRedisObject(key, rc, ttl)
	}
	return rc, nil
}

// GetRecipeConsumption is the prep list for producing portions of a recipe.
func GetRecipeConsumption(ctx context.Context, db *gorm.DB, businessId string, recipeId int, portions decimal.Decimal) ([]costing.Consumption, error) {
	if portions.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("portions must be greater than zero")
	}
	g, err := LoadRecipeGraph(ctx, db, businessId, recipeId)
	if err != nil {
		return nil, err
	}
	if !g.HasRecipe(recipeId) {
		return nil, gorm.ErrRecordNotFound
	}
	return costing.Flatten(g, recipeId, portions)
}
