package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Item struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id"`
	Name         string          `gorm:"size:255;not null" json:"name"`
	Unit         string          `gorm:"size:50" json:"unit"`
	FallbackCost decimal.Decimal `gorm:"type:decimal(20,4)" json:"fallback_cost"`
	IsActive     *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ItemCost is one recorded purchase cost. The newest row per item wins.
type ItemCost struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"index;not null" json:"business_id"`
	ItemId      int             `gorm:"index:idx_item_cost_latest,priority:1;not null" json:"item_id"`
	UnitCost    decimal.Decimal `gorm:"type:decimal(20,4)" json:"unit_cost"`
	EffectiveAt time.Time       `gorm:"index:idx_item_cost_latest,priority:2;not null" json:"effective_at"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func GetItems(ctx context.Context, db *gorm.DB, businessId string, ids []int) ([]Item, error) {
	var items []Item
	if len(ids) == 0 {
		return items, nil
	}
	if err := db.WithContext(ctx).
		Where("business_id = ? AND id IN ?", businessId, ids).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// LatestItemCosts returns the most recent purchase cost per item. Items with
// no recorded purchase are absent from the map.
func LatestItemCosts(ctx context.Context, db *gorm.DB, businessId string, itemIds []int) (map[int]decimal.Decimal, error) {
	out := make(map[int]decimal.Decimal, len(itemIds))
	if len(itemIds) == 0 {
		return out, nil
	}
	var rows []ItemCost
	if err := db.WithContext(ctx).
		Where("business_id = ? AND item_id IN ?", businessId, itemIds).
		Order("item_id, effective_at desc, id desc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		if _, seen := out[row.ItemId]; seen {
			continue
		}
		out[row.ItemId] = row.UnitCost
	}
	return out, nil
}

// ItemCostVersion is the newest item cost id of the business, zero when none
// has been recorded.
func ItemCostVersion(ctx context.Context, db *gorm.DB, businessId string) (int, error) {
	var version int
	if err := db.WithContext(ctx).Model(&ItemCost{}).
		Where("business_id = ?", businessId).
		Select("COALESCE(MAX(id), 0)").
		Scan(&version).Error; err != nil {
		return 0, err
	}
	return version, nil
}

// RecordPurchaseCost stores the unit cost of a purchase movement as the
// item's latest cost. Movements of other types or without a cost are ignored.
func RecordPurchaseCost(tx *gorm.DB, m *StockMovement) error {
	if m.MovementType != MovementTypePurchase || !m.UnitCost.IsPositive() {
		return nil
	}
	return tx.Create(&ItemCost{
		BusinessId:  m.BusinessId,
		ItemId:      m.ItemId,
		UnitCost:    m.UnitCost,
		EffectiveAt: m.MovementDate,
	}).Error
}
