package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/kitchen_backend/config"
	"github.com/mmdatafocus/kitchen_backend/costing"
	"github.com/mmdatafocus/kitchen_backend/utils"
	"gorm.io/gorm"
)

var ErrRecipeGraphTooDeep = errors.New("recipe nesting exceeds maximum depth")

// LoadRecipeGraph loads the given recipes, every sub-recipe reachable from
// them, and all referenced items with their latest purchase cost. Recipes
// are fetched one nesting level per query. Ids that do not exist are left out
// of the graph; the costing package reports them when walked.
func LoadRecipeGraph(ctx context.Context, db *gorm.DB, businessId string, recipeIds ...int) (*costing.Graph, error) {
	g := costing.NewGraph()
	itemIds := make([]int, 0)
	requested := make(map[int]bool)
	frontier := utils.UniqueSlice(recipeIds)
	maxDepth := config.RecipeMaxDepth()

	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxDepth {
			return nil, fmt.Errorf("%w: %d", ErrRecipeGraphTooDeep, maxDepth)
		}
		for _, id := range frontier {
			requested[id] = true
		}

		var recipes []Recipe
		if err := db.WithContext(ctx).
			Preload("Ingredients", func(tx *gorm.DB) *gorm.DB {
				return tx.Where("business_id = ?", businessId).Order("id")
			}).
			Where("business_id = ? AND id IN ?", businessId, frontier).
			Find(&recipes).Error; err != nil {
			return nil, err
		}

		next := make([]int, 0)
		for i := range recipes {
			r, err := recipes[i].toCosting()
			if err != nil {
				return nil, err
			}
			g.AddRecipe(r)
			for _, ing := range r.Ingredients {
				switch in := ing.(type) {
				case costing.ItemIngredient:
					itemIds = append(itemIds, in.ItemId)
				case costing.SubRecipeIngredient:
					if !requested[in.RecipeId] {
						next = append(next, in.RecipeId)
					}
				}
			}
		}
		frontier = utils.UniqueSlice(next)
	}

	itemIds = utils.UniqueSlice(itemIds)
	items, err := GetItems(ctx, db, businessId, itemIds)
	if err != nil {
		return nil, err
	}
	latest, err := LatestItemCosts(ctx, db, businessId, itemIds)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		node := &costing.Item{
			ID:           item.ID,
			Name:         item.Name,
			Unit:         item.Unit,
			FallbackCost: item.FallbackCost,
		}
		if cost, ok := latest[item.ID]; ok {
			c := cost
			node.LatestPurchaseCost = &c
		}
		g.AddItem(node)
	}
	return g, nil
}
