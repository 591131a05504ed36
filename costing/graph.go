// Package costing rolls recipe costs up through nested sub-recipes and expands
// recipes into the raw items they consume. Everything here works on a Graph
// loaded up front and performs no I/O.
package costing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Ingredient is one edge of a recipe. It is either an ItemIngredient or a
// SubRecipeIngredient.
type Ingredient interface {
	Quantity() decimal.Decimal
	Waste() decimal.Decimal
	isIngredient()
}

// ItemIngredient consumes a raw inventory item. Qty is per one yield unit of
// the parent recipe.
type ItemIngredient struct {
	ItemId      int
	Qty         decimal.Decimal
	WasteFactor decimal.Decimal
	Note        string
}

func (i ItemIngredient) Quantity() decimal.Decimal { return i.Qty }
func (i ItemIngredient) Waste() decimal.Decimal    { return i.WasteFactor }
func (ItemIngredient) isIngredient()               {}

// SubRecipeIngredient consumes Qty yield units of another recipe.
type SubRecipeIngredient struct {
	RecipeId    int
	Qty         decimal.Decimal
	WasteFactor decimal.Decimal
	Note        string
}

func (s SubRecipeIngredient) Quantity() decimal.Decimal { return s.Qty }
func (s SubRecipeIngredient) Waste() decimal.Decimal    { return s.WasteFactor }
func (SubRecipeIngredient) isIngredient()               {}

type Item struct {
	ID                 int
	Name               string
	Unit               string
	FallbackCost       decimal.Decimal
	LatestPurchaseCost *decimal.Decimal
}

// UnitCost prefers the latest purchase cost, then the fallback cost. An item
// with neither costs zero.
func (i *Item) UnitCost() decimal.Decimal {
	if i == nil {
		return decimal.Zero
	}
	if i.LatestPurchaseCost != nil {
		return *i.LatestPurchaseCost
	}
	return i.FallbackCost
}

type Recipe struct {
	ID          int
	Name        string
	YieldQty    decimal.Decimal
	IsSubRecipe bool
	IsActive    bool
	Ingredients []Ingredient
}

// EffectiveYield is YieldQty, with anything at or below zero treated as 1.
func (r *Recipe) EffectiveYield() decimal.Decimal {
	if r.YieldQty.LessThanOrEqual(decimal.Zero) {
		return one
	}
	return r.YieldQty
}

// Graph holds recipes and items by id. Edges refer to nodes by id only, so a
// cyclic recipe definition can be represented and is rejected when walked.
type Graph struct {
	Recipes map[int]*Recipe
	Items   map[int]*Item
}

func NewGraph() *Graph {
	return &Graph{
		Recipes: make(map[int]*Recipe),
		Items:   make(map[int]*Item),
	}
}

func (g *Graph) AddRecipe(r *Recipe) {
	g.Recipes[r.ID] = r
}

func (g *Graph) AddItem(i *Item) {
	g.Items[i.ID] = i
}

func (g *Graph) HasRecipe(id int) bool {
	_, ok := g.Recipes[id]
	return ok
}

func (g *Graph) recipe(id int) (*Recipe, error) {
	r, ok := g.Recipes[id]
	if !ok || r == nil {
		return nil, fmt.Errorf("%w: id=%d", ErrRecipeNotFound, id)
	}
	return r, nil
}

func (g *Graph) item(id int) (*Item, error) {
	i, ok := g.Items[id]
	if !ok || i == nil {
		return nil, fmt.Errorf("%w: id=%d", ErrItemNotFound, id)
	}
	return i, nil
}

// path is the chain of recipe ids from the root down to the recipe being expanded.
type path []int

func (p path) contains(id int) bool {
	for _, v := range p {
		if v == id {
			return true
		}
	}
	return false
}

// with returns a copy extended by id so sibling branches never share a backing array.
func (p path) with(id int) path {
	out := make(path, len(p), len(p)+1)
	copy(out, p)
	return append(out, id)
}
