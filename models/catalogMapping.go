package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CatalogMapping links an external sellable item, optionally a specific
// variation of it, to the recipe it depletes. Item-level mappings store an
// empty ExternalVariationId.
type CatalogMapping struct {
	ID                  uint            `gorm:"primary_key" json:"id"`
	BusinessId          string          `gorm:"uniqueIndex:idx_catalog_mapping,priority:1;size:64;not null" json:"business_id"`
	ConnectionId        uint            `gorm:"uniqueIndex:idx_catalog_mapping,priority:2;not null" json:"connection_id"`
	ExternalItemId      string          `gorm:"uniqueIndex:idx_catalog_mapping,priority:3;size:128;not null" json:"external_item_id"`
	ExternalVariationId string          `gorm:"uniqueIndex:idx_catalog_mapping,priority:4;size:128;not null" json:"external_variation_id"`
	RecipeId            int             `gorm:"index;not null" json:"recipe_id"`
	Multiplier          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"multiplier"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// PortionsPerUnit is the multiplier, with anything at or below zero read as 1.
func (m *CatalogMapping) PortionsPerUnit() decimal.Decimal {
	if m.Multiplier.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromInt(1)
	}
	return m.Multiplier
}

// FindCatalogMapping prefers a mapping for the exact variation and falls back
// to the item-level mapping. It returns nil without error when neither exists.
func FindCatalogMapping(ctx context.Context, db *gorm.DB, businessId string, connectionId uint, itemId string, variationId string) (*CatalogMapping, error) {
	itemId = strings.TrimSpace(itemId)
	variationId = strings.TrimSpace(variationId)
	if itemId == "" {
		return nil, nil
	}

	if variationId != "" {
		m, err := takeCatalogMapping(ctx, db, businessId, connectionId, itemId, variationId)
		if err != nil || m != nil {
			return m, err
		}
	}
	return takeCatalogMapping(ctx, db, businessId, connectionId, itemId, "")
}

func takeCatalogMapping(ctx context.Context, db *gorm.DB, businessId string, connectionId uint, itemId string, variationId string) (*CatalogMapping, error) {
	var m CatalogMapping
	err := db.WithContext(ctx).
		Where("business_id = ? AND connection_id = ? AND external_item_id = ? AND external_variation_id = ?",
			businessId, connectionId, itemId, variationId).
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}
