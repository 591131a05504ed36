package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/kitchen_backend/costing"
	"github.com/shopspring/decimal"
)

var ErrInvalidIngredient = errors.New("ingredient references both an item and a sub-recipe")

type Recipe struct {
	ID          int                `gorm:"primary_key" json:"id"`
	BusinessId  string             `gorm:"index;not null" json:"business_id"`
	Name        string             `gorm:"size:255;not null" json:"name"`
	YieldQty    decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"yield_qty"`
	IsSubRecipe bool               `gorm:"not null;default:false" json:"is_sub_recipe"`
	IsActive    *bool              `gorm:"not null;default:true" json:"is_active"`
	Ingredients []RecipeIngredient `gorm:"foreignKey:RecipeId" json:"ingredients"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// RecipeIngredient is one edge of a recipe. Exactly one of ItemId and
// SubRecipeId is expected to be set. Qty is per one yield unit of the parent.
type RecipeIngredient struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"index;not null" json:"business_id"`
	RecipeId    int             `gorm:"index;not null" json:"recipe_id"`
	ItemId      *int            `gorm:"index" json:"item_id"`
	SubRecipeId *int            `gorm:"index" json:"sub_recipe_id"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	WasteFactor decimal.Decimal `gorm:"type:decimal(10,4)" json:"waste_factor"`
	Note        string          `gorm:"size:255" json:"note"`
}

// toIngredient converts the row into the costing sum type. ok is false for an
// edge with neither reference, which callers skip.
func (ri RecipeIngredient) toIngredient() (ing costing.Ingredient, ok bool, err error) {
	switch {
	case ri.ItemId != nil && ri.SubRecipeId != nil:
		return nil, false, fmt.Errorf("%w: recipe_ingredient id=%d", ErrInvalidIngredient, ri.ID)
	case ri.ItemId != nil:
		return costing.ItemIngredient{
			ItemId:      *ri.ItemId,
			Qty:         ri.Qty,
			WasteFactor: ri.WasteFactor,
			Note:        ri.Note,
		}, true, nil
	case ri.SubRecipeId != nil:
		return costing.SubRecipeIngredient{
			RecipeId:    *ri.SubRecipeId,
			Qty:         ri.Qty,
			WasteFactor: ri.WasteFactor,
			Note:        ri.Note,
		}, true, nil
	default:
		return nil, false, nil
	}
}

func (r *Recipe) toCosting() (*costing.Recipe, error) {
	out := &costing.Recipe{
		ID:          r.ID,
		Name:        r.Name,
		YieldQty:    r.YieldQty,
		IsSubRecipe: r.IsSubRecipe,
		IsActive:    r.IsActive == nil || *r.IsActive,
		Ingredients: make([]costing.Ingredient, 0, len(r.Ingredients)),
	}
	for _, row := range r.Ingredients {
		ing, ok, err := row.toIngredient()
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out.Ingredients = append(out.Ingredients, ing)
	}
	return out, nil
}
