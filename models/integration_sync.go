package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	IntegrationProviderPos = "pos"
)

const (
	IntegrationStatusConnected    = "connected"
	IntegrationStatusDisconnected = "disconnected"
	IntegrationStatusError        = "error"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
	// SyncRunStatusSkipped: another run held the connection lock.
	SyncRunStatusSkipped = "skipped"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

type IntegrationConnection struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	BusinessId        string     `gorm:"index;size:64;not null" json:"business_id"`
	Provider          string     `gorm:"index;size:50;not null" json:"provider"`
	Status            string     `gorm:"size:20;not null" json:"status"`
	AuthType          string     `gorm:"size:20" json:"auth_type"`
	AuthSecretRef     string     `gorm:"type:text" json:"-"`
	StoreId           string     `gorm:"size:100" json:"store_id"`
	StoreName         string     `gorm:"size:255" json:"store_name"`
	WarehouseStoreId  int        `gorm:"not null;default:0" json:"warehouse_store_id"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *IntegrationConnection) IsConnected() bool {
	return c != nil && c.Status == IntegrationStatusConnected
}

type IntegrationSyncRun struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	BusinessId      string     `gorm:"index;size:64;not null" json:"business_id"`
	ConnectionId    uint       `gorm:"index;not null" json:"connection_id"`
	Provider        string     `gorm:"index;size:50;not null" json:"provider"`
	Status          string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy     string     `gorm:"size:20" json:"triggered_by"`
	StatsJSON       []byte     `gorm:"type:json" json:"stats"`
	CursorStateJSON []byte     `gorm:"type:json" json:"cursor_state"`
	OrdersSeen      int        `json:"orders_seen"`
	RecordsSynced   int        `json:"records_synced"`
	ErrorCount      int        `json:"error_count"`
	ParentRunId     *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	DurationMs      int64      `json:"duration_ms"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *IntegrationSyncRun) IsFinished() bool {
	switch r.Status {
	case SyncRunStatusSuccess, SyncRunStatusFailed, SyncRunStatusPartial, SyncRunStatusSkipped:
		return true
	}
	return false
}

type IntegrationSyncError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	BusinessId  string    `gorm:"index;size:64;not null" json:"business_id"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"not null;default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// GetPosConnection returns the business's POS connection, or nil when none exists.
func GetPosConnection(ctx context.Context, db *gorm.DB, businessId string) (*IntegrationConnection, error) {
	var conn IntegrationConnection
	err := db.WithContext(ctx).
		Where("business_id = ? AND provider = ?", businessId, IntegrationProviderPos).
		Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

// ListConnectedPosConnections returns connected POS connections, across all
// businesses when businessId is empty.
func ListConnectedPosConnections(ctx context.Context, db *gorm.DB, businessId string) ([]IntegrationConnection, error) {
	q := db.WithContext(ctx).Where("provider = ? AND status = ?", IntegrationProviderPos, IntegrationStatusConnected)
	if businessId != "" {
		q = q.Where("business_id = ?", businessId)
	}
	var conns []IntegrationConnection
	if err := q.Order("id").Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

func GetIntegrationConnection(ctx context.Context, db *gorm.DB, businessId string, id uint) (*IntegrationConnection, error) {
	var conn IntegrationConnection
	if err := db.WithContext(ctx).
		Where("id = ? AND business_id = ?", id, businessId).
		Take(&conn).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

func CreateSyncRun(ctx context.Context, db *gorm.DB, conn *IntegrationConnection, triggeredBy string, parentRunId *uint) (*IntegrationSyncRun, error) {
	run := IntegrationSyncRun{
		BusinessId:   conn.BusinessId,
		ConnectionId: conn.ID,
		Provider:     conn.Provider,
		Status:       SyncRunStatusQueued,
		TriggeredBy:  triggeredBy,
		ParentRunId:  parentRunId,
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func GetSyncRun(ctx context.Context, db *gorm.DB, businessId string, id uint) (*IntegrationSyncRun, error) {
	var run IntegrationSyncRun
	if err := db.WithContext(ctx).
		Where("id = ? AND business_id = ?", id, businessId).
		Take(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func ListSyncRuns(ctx context.Context, db *gorm.DB, businessId string, limit int) ([]IntegrationSyncRun, error) {
	var runs []IntegrationSyncRun
	if err := db.WithContext(ctx).
		Where("business_id = ? AND provider = ?", businessId, IntegrationProviderPos).
		Order("id desc").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func ListSyncErrors(ctx context.Context, db *gorm.DB, businessId string, runId uint) ([]IntegrationSyncError, error) {
	var errs []IntegrationSyncError
	if err := db.WithContext(ctx).
		Where("sync_run_id = ? AND business_id = ?", runId, businessId).
		Order("id desc").
		Find(&errs).Error; err != nil {
		return nil, err
	}
	return errs, nil
}
