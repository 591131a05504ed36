package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// OrderSyncRecord marks an external order as reconciled. The unique index on
// (connection_id, external_order_id) is what makes reconciliation exactly-once.
type OrderSyncRecord struct {
	ID              uint             `gorm:"primary_key" json:"id"`
	BusinessId      string           `gorm:"index;size:64;not null" json:"business_id"`
	ConnectionId    uint             `gorm:"uniqueIndex:idx_order_sync_record,priority:1;not null" json:"connection_id"`
	ExternalOrderId string           `gorm:"uniqueIndex:idx_order_sync_record,priority:2;size:128;not null" json:"external_order_id"`
	Outcome         OrderSyncOutcome `gorm:"size:20;not null" json:"outcome"`
	MovementCount   int              `json:"movement_count"`
	SyncRunId       *uint            `gorm:"index" json:"sync_run_id"`
	OrderCreatedAt  *time.Time       `json:"order_created_at"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func OrderSyncRecordExists(ctx context.Context, db *gorm.DB, businessId string, connectionId uint, externalOrderId string) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).
		Model(&OrderSyncRecord{}).
		Where("business_id = ? AND connection_id = ? AND external_order_id = ?", businessId, connectionId, externalOrderId).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateOrderSyncRecord must run inside the same transaction as the order's
// stock movements. A duplicate key error means another run got there first.
func CreateOrderSyncRecord(tx *gorm.DB, rec *OrderSyncRecord) error {
	return tx.Create(rec).Error
}

func GetOrderSyncRecord(ctx context.Context, db *gorm.DB, businessId string, connectionId uint, externalOrderId string) (*OrderSyncRecord, error) {
	var rec OrderSyncRecord
	if err := db.WithContext(ctx).
		Where("business_id = ? AND connection_id = ? AND external_order_id = ?", businessId, connectionId, externalOrderId).
		Take(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
