package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrStockMovementImmutable = errors.New("stock movements are append-only")

// StockMovement is one signed change to an item's stock in a store.
// Balances are the sum of movements and are computed elsewhere.
type StockMovement struct {
	ID            string             `gorm:"primary_key;size:36" json:"id"`
	BusinessId    string             `gorm:"index;size:64;not null" json:"business_id"`
	ItemId        int                `gorm:"index;not null" json:"item_id"`
	StoreId       int                `gorm:"index;not null" json:"store_id"`
	Qty           decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"qty"`
	MovementType  MovementType       `gorm:"size:20;not null" json:"movement_type"`
	UnitCost      decimal.Decimal    `gorm:"type:decimal(20,4)" json:"unit_cost"`
	ReferenceType StockReferenceType `gorm:"index:idx_stock_movement_ref,priority:1;size:20" json:"reference_type"`
	ReferenceId   string             `gorm:"index:idx_stock_movement_ref,priority:2;size:128" json:"reference_id"`
	ConnectionId  *uint              `gorm:"index" json:"connection_id"`
	MovementDate  time.Time          `gorm:"not null" json:"movement_date"`
	CorrelationId string             `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeCreate assigns the id and enforces the sign/type rule on every insert path.
func (m *StockMovement) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return m.MovementType.CheckQty(m.Qty)
}

func (m *StockMovement) BeforeUpdate(tx *gorm.DB) error {
	return ErrStockMovementImmutable
}

func (m *StockMovement) BeforeDelete(tx *gorm.DB) error {
	return ErrStockMovementImmutable
}

// AppendStockMovement validates and inserts one ledger entry using tx, which is
// normally the caller's open transaction.
func AppendStockMovement(tx *gorm.DB, m *StockMovement) (*StockMovement, error) {
	if m == nil {
		return nil, errors.New("stock movement is nil")
	}
	if err := m.MovementType.CheckQty(m.Qty); err != nil {
		return nil, err
	}
	if m.MovementDate.IsZero() {
		m.MovementDate = time.Now().UTC()
	}
	if err := tx.Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

func ListStockMovementsByReference(ctx context.Context, db *gorm.DB, businessId string, refType StockReferenceType, refId string) ([]StockMovement, error) {
	var rows []StockMovement
	if err := db.WithContext(ctx).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?", businessId, refType, refId).
		Order("item_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
