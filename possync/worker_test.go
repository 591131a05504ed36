package possync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/mmdatafocus/kitchen_backend/config"
	"github.com/mmdatafocus/kitchen_backend/costing"
	"github.com/mmdatafocus/kitchen_backend/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testBusinessId = "biz-test"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), config.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeFeed struct {
	pages  map[string]FeedPage
	errs   map[string]error
	calls  []string
	sinces []time.Time
}

func (f *fakeFeed) ListCompletedOrders(ctx context.Context, since time.Time, cursor string) (FeedPage, error) {
	f.calls = append(f.calls, cursor)
	f.sinces = append(f.sinces, since)
	if err, ok := f.errs[cursor]; ok {
		return FeedPage{}, err
	}
	return f.pages[cursor], nil
}

func rawOrder(id string, itemId string, qty string) json.RawMessage {
	b, _ := json.Marshal(map[string]interface{}{
		"id":         id,
		"created_at": "2024-05-01T10:00:00Z",
		"line_items": []map[string]interface{}{{"item_id": itemId, "quantity": json.Number(qty)}},
	})
	return b
}

// seedConnection sets up a connected POS with "latte" mapped to a recipe
// using 2 units of item 1, and "loop" mapped to a self-referencing recipe.
func seedConnection(t *testing.T, db *gorm.DB) (*models.IntegrationConnection, *models.IntegrationSyncRun) {
	t.Helper()
	conn := &models.IntegrationConnection{
		BusinessId:       testBusinessId,
		Provider:         models.IntegrationProviderPos,
		Status:           models.IntegrationStatusConnected,
		AuthSecretRef:    "secret",
		StoreId:          "store-1",
		WarehouseStoreId: 3,
	}
	require.NoError(t, db.Create(conn).Error)

	itemId := 1
	loopId := 11
	require.NoError(t, db.Create(&models.Item{ID: 1, BusinessId: testBusinessId, Name: "milk", FallbackCost: dec("1.5")}).Error)
	require.NoError(t, db.Create(&models.Recipe{
		ID: 10, BusinessId: testBusinessId, Name: "latte", YieldQty: dec("1"),
		Ingredients: []models.RecipeIngredient{{BusinessId: testBusinessId, ItemId: &itemId, Qty: dec("2")}},
	}).Error)
	require.NoError(t, db.Create(&models.Recipe{
		ID: 11, BusinessId: testBusinessId, Name: "loop", YieldQty: dec("1"),
		Ingredients: []models.RecipeIngredient{{BusinessId: testBusinessId, SubRecipeId: &loopId, Qty: dec("1")}},
	}).Error)
	require.NoError(t, db.Create(&[]models.CatalogMapping{
		{BusinessId: testBusinessId, ConnectionId: conn.ID, ExternalItemId: "latte", RecipeId: 10, Multiplier: dec("1")},
		{BusinessId: testBusinessId, ConnectionId: conn.ID, ExternalItemId: "loop", RecipeId: 11, Multiplier: dec("1")},
	}).Error)

	run, err := models.CreateSyncRun(context.Background(), db, conn, models.SyncTriggeredManual, nil)
	require.NoError(t, err)
	return conn, run
}

func reloadRun(t *testing.T, db *gorm.DB, id uint) *models.IntegrationSyncRun {
	t.Helper()
	run, err := models.GetSyncRun(context.Background(), db, testBusinessId, id)
	require.NoError(t, err)
	return run
}

func reloadConn(t *testing.T, db *gorm.DB, id uint) *models.IntegrationConnection {
	t.Helper()
	conn, err := models.GetIntegrationConnection(context.Background(), db, testBusinessId, id)
	require.NoError(t, err)
	return conn
}

func TestRunReconciliation_FollowsCursorAcrossEmptyPages(t *testing.T) {
	db := openTestDB(t)
	conn, run := seedConnection(t, db)
	feed := &fakeFeed{pages: map[string]FeedPage{
		"":  {Orders: []json.RawMessage{rawOrder("o-1", "latte", "1")}, NextCursor: "a"},
		"a": {NextCursor: "b"},
		"b": {Orders: []json.RawMessage{rawOrder("o-2", "latte", "3"), rawOrder("o-1", "latte", "1")}},
	}}

	stats, err := RunReconciliation(context.Background(), db, quietLogger(), conn, run, feed)
	require.NoError(t, err)
	require.Equal(t, []string{"", "a", "b"}, feed.calls)
	require.Equal(t, 3, stats.OrdersSeen)
	require.Equal(t, 2, stats.Depleted)
	require.Equal(t, 1, stats.AlreadyProcessed)
	require.Equal(t, 3, stats.Pages)

	finished := reloadRun(t, db, run.ID)
	require.Equal(t, models.SyncRunStatusSuccess, finished.Status)
	require.Equal(t, 2, finished.RecordsSynced)
	require.Equal(t, 3, finished.OrdersSeen)
	require.NotNil(t, finished.FinishedAt)
	require.NotNil(t, reloadConn(t, db, conn.ID).LastSuccessSyncAt)

	rows, err := models.ListStockMovementsByReference(context.Background(), db, testBusinessId, models.StockReferenceTypePosOrder, "o-2")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Qty.Equal(dec("-6")))
	require.Equal(t, 3, rows[0].StoreId)
	require.NotNil(t, rows[0].ConnectionId)
	require.Equal(t, conn.ID, *rows[0].ConnectionId)
}

func TestRunReconciliation_FeedErrorKeepsCommittedOrders(t *testing.T) {
	db := openTestDB(t)
	conn, run := seedConnection(t, db)
	feed := &fakeFeed{
		pages: map[string]FeedPage{
			"": {Orders: []json.RawMessage{rawOrder("o-1", "latte", "1")}, NextCursor: "a"},
		},
		errs: map[string]error{"a": &FeedError{StatusCode: 401, Body: "bad key"}},
	}

	_, err := RunReconciliation(context.Background(), db, quietLogger(), conn, run, feed)
	require.ErrorIs(t, err, ErrFeedUnauthorized)

	exists, err := models.OrderSyncRecordExists(context.Background(), db, testBusinessId, conn.ID, "o-1")
	require.NoError(t, err)
	require.True(t, exists)

	finished := reloadRun(t, db, run.ID)
	require.Equal(t, models.SyncRunStatusPartial, finished.Status)
	require.Equal(t, 1, finished.ErrorCount)
	require.Nil(t, reloadConn(t, db, conn.ID).LastSuccessSyncAt)

	errs, err := models.ListSyncErrors(context.Background(), db, testBusinessId, run.ID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, "feed_error", errs[0].ErrorCode)
	require.True(t, errs[0].Retryable)
}

func TestRunReconciliation_StalledCursorAborts(t *testing.T) {
	db := openTestDB(t)
	conn, run := seedConnection(t, db)
	feed := &fakeFeed{pages: map[string]FeedPage{
		"":  {NextCursor: "a"},
		"a": {NextCursor: "a"},
	}}

	_, err := RunReconciliation(context.Background(), db, quietLogger(), conn, run, feed)
	require.ErrorIs(t, err, ErrStalledCursor)
	require.Equal(t, []string{"", "a"}, feed.calls)
	require.Equal(t, models.SyncRunStatusFailed, reloadRun(t, db, run.ID).Status)
}

func TestRunReconciliation_OrderFailuresDoNotStopRun(t *testing.T) {
	db := openTestDB(t)
	conn, run := seedConnection(t, db)
	feed := &fakeFeed{pages: map[string]FeedPage{
		"": {Orders: []json.RawMessage{
			json.RawMessage(`{"line_items":[]}`),
			rawOrder("o-loop", "loop", "1"),
			rawOrder("o-ok", "latte", "1"),
			rawOrder("o-gift", "gift-card", "1"),
		}},
	}}

	stats, err := RunReconciliation(context.Background(), db, quietLogger(), conn, run, feed)
	require.NoError(t, err)
	require.Equal(t, 4, stats.OrdersSeen)
	require.Equal(t, 2, stats.Failed)
	require.Equal(t, 1, stats.Depleted)
	require.Equal(t, 1, stats.Unmapped)

	finished := reloadRun(t, db, run.ID)
	require.Equal(t, models.SyncRunStatusPartial, finished.Status)
	require.Equal(t, 2, finished.ErrorCount)

	errs, err := models.ListSyncErrors(context.Background(), db, testBusinessId, run.ID)
	require.NoError(t, err)
	codes := map[string]bool{}
	for _, e := range errs {
		codes[e.ErrorCode] = e.Retryable
	}
	require.Contains(t, codes, "invalid_payload")
	require.Contains(t, codes, "recipe_integrity")
	require.False(t, codes["recipe_integrity"])

	exists, err := models.OrderSyncRecordExists(context.Background(), db, testBusinessId, conn.ID, "o-loop")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRunReconciliation_SinceFromLastSuccess(t *testing.T) {
	db := openTestDB(t)
	conn, run := seedConnection(t, db)
	last := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	conn.LastSuccessSyncAt = &last
	feed := &fakeFeed{pages: map[string]FeedPage{}}

	_, err := RunReconciliation(context.Background(), db, quietLogger(), conn, run, feed)
	require.NoError(t, err)
	require.Len(t, feed.sinces, 1)
	require.True(t, feed.sinces[0].Equal(last.Add(-sinceOverlap)))
}

func TestRunReconciliation_CancelledBetweenOrders(t *testing.T) {
	db := openTestDB(t)
	conn, run := seedConnection(t, db)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	feed := &fakeFeed{pages: map[string]FeedPage{
		"": {Orders: []json.RawMessage{rawOrder("o-1", "latte", "1")}},
	}}

	_, err := RunReconciliation(ctx, db, quietLogger(), conn, run, feed)
	require.True(t, errors.Is(err, context.Canceled))

	exists, err := models.OrderSyncRecordExists(context.Background(), db, testBusinessId, conn.ID, "o-1")
	require.NoError(t, err)
	require.False(t, exists)
	require.Equal(t, models.SyncRunStatusFailed, reloadRun(t, db, run.ID).Status)
}

func TestProcessSyncRun(t *testing.T) {
	db := openTestDB(t)
	conn, run := seedConnection(t, db)
	feed := &fakeFeed{pages: map[string]FeedPage{
		"": {Orders: []json.RawMessage{rawOrder("o-1", "latte", "1")}},
	}}
	original := newOrderFeed
	newOrderFeed = func(*models.IntegrationConnection) (OrderFeed, func(), error) {
		return feed, func() {}, nil
	}
	t.Cleanup(func() { newOrderFeed = original })

	payload := SyncPubSubPayload{RunId: run.ID, BusinessId: testBusinessId, ConnectionId: conn.ID}
	require.NoError(t, ProcessSyncRun(context.Background(), db, quietLogger(), payload))
	require.Equal(t, models.SyncRunStatusSuccess, reloadRun(t, db, run.ID).Status)

	// redelivery of a finished run is a no-op
	require.NoError(t, ProcessSyncRun(context.Background(), db, quietLogger(), payload))
	require.Len(t, feed.calls, 1)

	require.Error(t, ProcessSyncRun(context.Background(), db, quietLogger(), SyncPubSubPayload{}))
}

func TestProcessSyncRun_ConnectionLockedIsSkipped(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	config.UseRedis(client)
	t.Cleanup(func() {
		config.UseRedis(nil)
		_ = client.Close()
	})

	db := openTestDB(t)
	conn, run := seedConnection(t, db)
	feed := &fakeFeed{pages: map[string]FeedPage{
		"": {Orders: []json.RawMessage{rawOrder("o-1", "latte", "1")}},
	}}
	original := newOrderFeed
	newOrderFeed = func(*models.IntegrationConnection) (OrderFeed, func(), error) {
		return feed, func() {}, nil
	}
	t.Cleanup(func() { newOrderFeed = original })

	// another worker already holds the connection
	held, err := redislock.New(client).Obtain(context.Background(), fmt.Sprintf("PosSync:%d", conn.ID), time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = held.Release(context.Background()) })

	payload := SyncPubSubPayload{RunId: run.ID, BusinessId: testBusinessId, ConnectionId: conn.ID}
	require.NoError(t, ProcessSyncRun(context.Background(), db, quietLogger(), payload))
	require.Equal(t, models.SyncRunStatusSkipped, reloadRun(t, db, run.ID).Status)
	require.Empty(t, feed.calls)

	var movements int64
	require.NoError(t, db.Model(&models.StockMovement{}).Count(&movements).Error)
	require.Zero(t, movements)
}

func TestClassifyOrderError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"cycle", &costing.CycleError{Path: []int{1, 1}}, "recipe_integrity", false},
		{"negative consumption", fmt.Errorf("order o-1: %w", costing.ErrNegativeConsumption), "recipe_integrity", false},
		{"movement sign", fmt.Errorf("write: %w", models.ErrInvalidMovementSign), "recipe_integrity", false},
		{"too deep", models.ErrRecipeGraphTooDeep, "recipe_integrity", false},
		{"database", errors.New("connection reset"), "reconcile_failed", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, retryable := classifyOrderError(tc.err)
			require.Equal(t, tc.code, code)
			require.Equal(t, tc.retryable, retryable)
		})
	}
}

func TestProcessSyncRun_DisconnectedFailsRun(t *testing.T) {
	db := openTestDB(t)
	conn, run := seedConnection(t, db)
	require.NoError(t, db.Model(conn).Update("status", models.IntegrationStatusDisconnected).Error)

	err := ProcessSyncRun(context.Background(), db, quietLogger(), SyncPubSubPayload{RunId: run.ID, BusinessId: testBusinessId})
	require.ErrorIs(t, err, ErrNotConnected)

	finished := reloadRun(t, db, run.ID)
	require.Equal(t, models.SyncRunStatusFailed, finished.Status)
	require.Equal(t, 1, finished.ErrorCount)
}

func TestDecodeFeedOrder(t *testing.T) {
	order, err := decodeFeedOrder(json.RawMessage(`{"id":" o-9 ","created_at":"2024-05-01T10:00:00+06:30","line_items":[{"item_id":"latte","variation_id":"large","quantity":"2.5"}]}`))
	require.NoError(t, err)
	require.Equal(t, "o-9", order.ExternalId)
	require.Equal(t, time.Date(2024, 5, 1, 3, 30, 0, 0, time.UTC), order.CreatedAt.UTC())
	require.Len(t, order.Lines, 1)
	require.Equal(t, "large", order.Lines[0].ExternalVariationId)
	require.True(t, order.Lines[0].Quantity.Equal(dec("2.5")))

	_, err = decodeFeedOrder(json.RawMessage(`{"id":"o-10","created_at":"yesterday"}`))
	require.Error(t, err)

	_, err = decodeFeedOrder(json.RawMessage(`{"line_items":[]}`))
	require.Error(t, err)
}
