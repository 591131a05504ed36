package config_test

import (
	"context"
	"testing"

	"github.com/mmdatafocus/kitchen_backend/appctx"
	"github.com/mmdatafocus/kitchen_backend/config"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type guardedRow struct {
	ID         uint
	BusinessId string
	Name       string
}

type globalRow struct {
	ID   uint
	Name string
}

func openGuardedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:tenant_guard?mode=memory&cache=shared"), config.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Use(config.NewTenantGuardPlugin()))
	require.NoError(t, db.AutoMigrate(&guardedRow{}, &globalRow{}))
	require.NoError(t, db.Create(&[]guardedRow{
		{BusinessId: "a", Name: "a1"},
		{BusinessId: "a", Name: "a2"},
		{BusinessId: "b", Name: "b1"},
	}).Error)
	require.NoError(t, db.Create(&[]globalRow{{Name: "g1"}, {Name: "g2"}}).Error)
	return db
}

func TestTenantGuard(t *testing.T) {
	db := openGuardedDB(t)
	tenantA := appctx.Set(context.Background(), appctx.ContextKeyBusinessId, "a")

	t.Run("scopes reads to the context tenant", func(t *testing.T) {
		var rows []guardedRow
		require.NoError(t, db.WithContext(tenantA).Find(&rows).Error)
		require.Len(t, rows, 2)
	})

	t.Run("explicit tenant filter is left alone", func(t *testing.T) {
		var rows []guardedRow
		require.NoError(t, db.WithContext(tenantA).Where("business_id = ?", "b").Find(&rows).Error)
		require.Len(t, rows, 1)
		require.Equal(t, "b1", rows[0].Name)
	})

	t.Run("skip flag disables the guard", func(t *testing.T) {
		ctx := appctx.Set(tenantA, appctx.ContextKeySkipTenantScope, true)
		var rows []guardedRow
		require.NoError(t, db.WithContext(ctx).Find(&rows).Error)
		require.Len(t, rows, 3)
	})

	t.Run("no tenant in context reads everything", func(t *testing.T) {
		var count int64
		require.NoError(t, db.Model(&guardedRow{}).Count(&count).Error)
		require.EqualValues(t, 3, count)
	})

	t.Run("tables without business_id are untouched", func(t *testing.T) {
		var rows []globalRow
		require.NoError(t, db.WithContext(tenantA).Find(&rows).Error)
		require.Len(t, rows, 2)
	})

	t.Run("updates are scoped", func(t *testing.T) {
		res := db.WithContext(tenantA).Model(&guardedRow{}).Where("name LIKE ?", "%1").Update("name", "renamed")
		require.NoError(t, res.Error)
		require.EqualValues(t, 1, res.RowsAffected)
	})
}
