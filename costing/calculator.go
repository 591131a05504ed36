package costing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	LineKindItem   = "item"
	LineKindRecipe = "recipe"
)

// CostLine is one ingredient's contribution to a recipe's total cost.
type CostLine struct {
	Kind        string          `json:"kind"`
	RefId       int             `json:"ref_id"`
	Name        string          `json:"name"`
	Qty         decimal.Decimal `json:"qty"`
	WasteFactor decimal.Decimal `json:"waste_factor"`
	AdjustedQty decimal.Decimal `json:"adjusted_qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	LineCost    decimal.Decimal `json:"line_cost"`
}

type RecipeCost struct {
	RecipeId   int             `json:"recipe_id"`
	Total      decimal.Decimal `json:"total"`
	PerPortion decimal.Decimal `json:"per_portion"`
	Lines      []CostLine      `json:"lines"`
}

// Calculator computes recipe costs over a Graph. Results are memoised, so one
// Calculator should live no longer than the graph snapshot it was built from.
type Calculator struct {
	graph *Graph
	memo  map[int]*RecipeCost
}

func NewCalculator(g *Graph) *Calculator {
	return &Calculator{graph: g, memo: make(map[int]*RecipeCost)}
}

// Cost returns the total cost of one batch of the recipe (YieldQty portions)
// and the cost per portion.
func (c *Calculator) Cost(recipeId int) (*RecipeCost, error) {
	return c.cost(recipeId, nil)
}

func (c *Calculator) cost(id int, p path) (*RecipeCost, error) {
	if p.contains(id) {
		return nil, &CycleError{Path: p.with(id)}
	}
	if rc, ok := c.memo[id]; ok {
		return rc, nil
	}
	r, err := c.graph.recipe(id)
	if err != nil {
		return nil, err
	}
	p = p.with(id)

	total := decimal.Zero
	lines := make([]CostLine, 0, len(r.Ingredients))
	for _, ing := range r.Ingredients {
		line := CostLine{
			Qty:         ing.Quantity(),
			WasteFactor: ing.Waste(),
			AdjustedQty: ing.Quantity().Mul(one.Add(ing.Waste())),
		}
		switch in := ing.(type) {
		case ItemIngredient:
			item, err := c.graph.item(in.ItemId)
			if err != nil {
				return nil, fmt.Errorf("recipe %d: %w", id, err)
			}
			line.Kind, line.RefId, line.Name = LineKindItem, item.ID, item.Name
			line.UnitCost = item.UnitCost()
		case SubRecipeIngredient:
			sub, err := c.cost(in.RecipeId, p)
			if err != nil {
				return nil, err
			}
			subRecipe := c.graph.Recipes[in.RecipeId]
			line.Kind, line.RefId, line.Name = LineKindRecipe, subRecipe.ID, subRecipe.Name
			line.UnitCost = sub.Total.Div(subRecipe.EffectiveYield())
		default:
			continue
		}
		line.LineCost = line.AdjustedQty.Mul(line.UnitCost)
		total = total.Add(line.LineCost)
		lines = append(lines, line)
	}

	rc := &RecipeCost{
		RecipeId:   id,
		Total:      total,
		PerPortion: total.Div(r.EffectiveYield()),
		Lines:      lines,
	}
	c.memo[id] = rc
	return rc, nil
}
