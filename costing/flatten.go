package costing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Consumption is an absolute quantity of a raw item to take out of stock.
type Consumption struct {
	ItemId   int             `json:"item_id"`
	Qty      decimal.Decimal `json:"qty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Flatten expands portions of a recipe into raw item quantities, recursing
// through sub-recipes. Waste on an edge applies to everything beneath it.
// Each item id appears once in the result, which is ordered by item id.
func Flatten(g *Graph, recipeId int, portions decimal.Decimal) ([]Consumption, error) {
	acc := make(map[int]decimal.Decimal)
	if err := flattenInto(g, recipeId, portions, one, acc, nil); err != nil {
		return nil, err
	}
	out := make([]Consumption, 0, len(acc))
	for itemId, qty := range acc {
		out = append(out, Consumption{
			ItemId:   itemId,
			Qty:      qty,
			UnitCost: g.Items[itemId].UnitCost(),
		})
	}
	sortConsumption(out)
	return out, nil
}

func flattenInto(g *Graph, id int, portions decimal.Decimal, scale decimal.Decimal, acc map[int]decimal.Decimal, p path) error {
	if p.contains(id) {
		return &CycleError{Path: p.with(id)}
	}
	r, err := g.recipe(id)
	if err != nil {
		return err
	}
	p = p.with(id)
	yield := r.EffectiveYield()

	for _, ing := range r.Ingredients {
		// multiply before dividing so thirds and the like survive
		share := ing.Quantity().Mul(portions).Div(yield)
		waste := one.Add(ing.Waste())
		switch in := ing.(type) {
		case ItemIngredient:
			if _, err := g.item(in.ItemId); err != nil {
				return fmt.Errorf("recipe %d: %w", id, err)
			}
			acc[in.ItemId] = acc[in.ItemId].Add(share.Mul(waste).Mul(scale))
		case SubRecipeIngredient:
			if err := flattenInto(g, in.RecipeId, share, scale.Mul(waste), acc, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// MergeConsumption sums several consumption lists by item id.
func MergeConsumption(lists ...[]Consumption) []Consumption {
	byItem := make(map[int]*Consumption)
	for _, list := range lists {
		for _, c := range list {
			if existing, ok := byItem[c.ItemId]; ok {
				existing.Qty = existing.Qty.Add(c.Qty)
				continue
			}
			cp := c
			byItem[c.ItemId] = &cp
		}
	}
	out := make([]Consumption, 0, len(byItem))
	for _, c := range byItem {
		out = append(out, *c)
	}
	sortConsumption(out)
	return out
}

func sortConsumption(list []Consumption) {
	sort.Slice(list, func(i, j int) bool { return list[i].ItemId < list[j].ItemId })
}
