package possync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/kitchen_backend/config"
	"github.com/mmdatafocus/kitchen_backend/costing"
	"github.com/mmdatafocus/kitchen_backend/models"
	"github.com/mmdatafocus/kitchen_backend/utils"
	"github.com/mmdatafocus/kitchen_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// sinceOverlap re-reads a little before the last successful run so orders
// completed while it was running are not missed. Already-synced orders are
// recognised and skipped.
const sinceOverlap = 10 * time.Minute

var (
	ErrStalledCursor = errors.New("pos feed returned the same cursor twice")
	ErrNotConnected  = errors.New("pos is not connected")
)

var (
	tracer   = otel.Tracer("kitchen-backend/possync")
	validate = validator.New()
)

// newOrderFeed builds the feed for a connection.
var newOrderFeed = func(conn *models.IntegrationConnection) (OrderFeed, func(), error) {
	c, err := NewFeedClient(conn.AuthSecretRef, conn.StoreId)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

// ProcessSyncRun executes a queued run. Runs that already finished are
// ignored, so a redelivered push message is harmless.
func ProcessSyncRun(ctx context.Context, db *gorm.DB, logger *logrus.Logger, payload SyncPubSubPayload) error {
	if payload.RunId == 0 || payload.BusinessId == "" {
		return errors.New("invalid payload")
	}
	ctx = utils.SetBusinessIdInContext(ctx, payload.BusinessId)

	run, err := models.GetSyncRun(ctx, db, payload.BusinessId, payload.RunId)
	if err != nil {
		config.LogError(logger, "worker.go", "ProcessSyncRun", "GetSyncRun", payload, err)
		return err
	}
	if run.IsFinished() {
		return nil
	}

	conn, err := models.GetIntegrationConnection(ctx, db, payload.BusinessId, run.ConnectionId)
	if err != nil {
		config.LogError(logger, "worker.go", "ProcessSyncRun", "GetIntegrationConnection", payload, err)
		return err
	}
	if !conn.IsConnected() {
		finishWithoutRunning(ctx, db, run, models.SyncRunStatusFailed, "not_connected", ErrNotConnected)
		return ErrNotConnected
	}

	release, err := utils.ObtainLock(ctx, "PosSync", strconv.FormatUint(uint64(conn.ID), 10), config.SyncRunLockTTL())
	if errors.Is(err, utils.ErrLockNotObtained) {
		config.LogInfo(logger, "worker.go", "ProcessSyncRun", "connection busy, run skipped", logrus.Fields{"run_id": run.ID, "connection_id": conn.ID})
		finishWithoutRunning(ctx, db, run, models.SyncRunStatusSkipped, "", nil)
		return nil
	} else if err != nil {
		config.LogError(logger, "worker.go", "ProcessSyncRun", "ObtainLock", payload, err)
		return err
	}
	defer release()

	feed, closeFeed, err := newOrderFeed(conn)
	if err != nil {
		finishWithoutRunning(ctx, db, run, models.SyncRunStatusFailed, "feed_config", err)
		return err
	}
	defer closeFeed()

	_, err = RunReconciliation(ctx, db, logger, conn, run, feed)
	return err
}

// RunReconciliation follows the feed cursor from the connection's last
// successful sync and reconciles every order in feed order. A failing order
// is logged against the run and skipped; a feed failure or cancellation ends
// the run, keeping whatever was committed before it.
func RunReconciliation(ctx context.Context, db *gorm.DB, logger *logrus.Logger, conn *models.IntegrationConnection, run *models.IntegrationSyncRun, feed OrderFeed) (*RunStats, error) {
	ctx, span := tracer.Start(ctx, "RunReconciliation")
	defer span.End()
	span.SetAttributes(
		attribute.String("business_id", conn.BusinessId),
		attribute.Int64("connection_id", int64(conn.ID)),
		attribute.Int64("run_id", int64(run.ID)),
	)
	// bookkeeping must still land after ctx is cancelled
	bookCtx := context.WithoutCancel(ctx)

	startedAt := time.Now().UTC()
	if err := db.WithContext(bookCtx).Model(run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return nil, err
	}

	since := reconcileSince(conn, startedAt)
	oc := workflow.OrderContext{
		BusinessId:   conn.BusinessId,
		ConnectionId: conn.ID,
		StoreId:      conn.WarehouseStoreId,
		SyncRunId:    &run.ID,
	}
	stats := &RunStats{}
	cursor := ""
	var runErr error

pages:
	for {
		page, err := feed.ListCompletedOrders(ctx, since, cursor)
		if err != nil {
			runErr = fmt.Errorf("list completed orders: %w", err)
			_ = createSyncError(bookCtx, db, run.ID, conn.BusinessId, "orders", "", "feed_error", err.Error(), nil, true)
			break
		}
		stats.Pages++

		for _, raw := range page.Orders {
			if err := ctx.Err(); err != nil {
				runErr = err
				break pages
			}
			stats.OrdersSeen++

			order, err := decodeFeedOrder(raw)
			if err != nil {
				stats.Failed++
				ordersReconciled.WithLabelValues("failed").Inc()
				_ = createSyncError(bookCtx, db, run.ID, conn.BusinessId, "order", order.ExternalId, "invalid_payload", err.Error(), raw, false)
				continue
			}

			outcome, err := workflow.ReconcileOrder(ctx, db, logger, oc, order)
			if err != nil {
				stats.Failed++
				ordersReconciled.WithLabelValues("failed").Inc()
				code, retryable := classifyOrderError(err)
				span.AddEvent("order_failed", trace.WithAttributes(
					attribute.String("external_order_id", order.ExternalId),
					attribute.String("error_code", code),
				))
				_ = createSyncError(bookCtx, db, run.ID, conn.BusinessId, "order", order.ExternalId, code, err.Error(), raw, retryable)
				continue
			}
			stats.record(outcome)
			ordersReconciled.WithLabelValues(string(outcome)).Inc()
		}

		if page.NextCursor == "" {
			cursor = ""
			break
		}
		if page.NextCursor == cursor {
			runErr = fmt.Errorf("%w: %s", ErrStalledCursor, cursor)
			_ = createSyncError(bookCtx, db, run.ID, conn.BusinessId, "orders", "", "stalled_cursor", runErr.Error(), nil, true)
			break
		}
		cursor = page.NextCursor
	}

	status := runStatus(stats, runErr)
	finishedAt := time.Now().UTC()
	errorCount := stats.Failed
	if runErr != nil {
		errorCount++
		config.LogError(logger, "worker.go", "RunReconciliation", "feed loop", map[string]interface{}{"run_id": run.ID, "cursor": cursor}, runErr)
		span.RecordError(runErr)
	}
	syncRunDuration.WithLabelValues(status).Observe(finishedAt.Sub(startedAt).Seconds())
	span.SetAttributes(attribute.String("status", status), attribute.Int("orders_seen", stats.OrdersSeen))

	statsJSON, _ := json.Marshal(stats)
	cursorJSON, _ := json.Marshal(CursorState{Since: since.Format(time.RFC3339), Cursor: cursor})
	if err := db.WithContext(bookCtx).Model(run).Updates(map[string]interface{}{
		"status":            status,
		"finished_at":       finishedAt,
		"duration_ms":       finishedAt.Sub(startedAt).Milliseconds(),
		"orders_seen":       stats.OrdersSeen,
		"records_synced":    stats.Reconciled(),
		"error_count":       errorCount,
		"stats_json":        statsJSON,
		"cursor_state_json": cursorJSON,
	}).Error; err != nil {
		return stats, err
	}

	connUpdates := map[string]interface{}{
		"last_sync_at": finishedAt,
	}
	if status == models.SyncRunStatusSuccess {
		connUpdates["last_success_sync_at"] = startedAt
	}
	if err := db.WithContext(bookCtx).Model(&models.IntegrationConnection{}).
		Where("id = ? AND business_id = ?", conn.ID, conn.BusinessId).
		Updates(connUpdates).Error; err != nil {
		return stats, err
	}

	config.LogInfo(logger, "worker.go", "RunReconciliation", "run finished", logrus.Fields{
		"run_id": run.ID, "status": status, "orders_seen": stats.OrdersSeen, "failed": stats.Failed,
	})
	return stats, runErr
}

func reconcileSince(conn *models.IntegrationConnection, now time.Time) time.Time {
	if conn.LastSuccessSyncAt != nil {
		return conn.LastSuccessSyncAt.UTC().Add(-sinceOverlap)
	}
	return now.Add(-config.ReconcileLookback())
}

func runStatus(stats *RunStats, runErr error) string {
	progressed := stats.Reconciled()+stats.AlreadyProcessed > 0
	switch {
	case runErr == nil && stats.Failed == 0:
		return models.SyncRunStatusSuccess
	case progressed:
		return models.SyncRunStatusPartial
	default:
		return models.SyncRunStatusFailed
	}
}

// classifyOrderError tells recipe data problems, which need a fix before a
// retry can succeed, apart from transient failures.
func classifyOrderError(err error) (code string, retryable bool) {
	if costing.IsIntegrityError(err) ||
		errors.Is(err, models.ErrInvalidIngredient) ||
		errors.Is(err, models.ErrRecipeGraphTooDeep) ||
		errors.Is(err, models.ErrInvalidMovementSign) {
		return "recipe_integrity", false
	}
	return "reconcile_failed", true
}

func decodeFeedOrder(raw json.RawMessage) (workflow.SalesOrder, error) {
	var fo FeedOrder
	if err := json.Unmarshal(raw, &fo); err != nil {
		return workflow.SalesOrder{}, err
	}
	fo.ID = strings.TrimSpace(fo.ID)
	order := workflow.SalesOrder{ExternalId: fo.ID}
	if err := validate.Struct(fo); err != nil {
		msgs := make([]string, 0)
		for field, msg := range utils.ProcessValidationErrors(err) {
			msgs = append(msgs, field+": "+msg)
		}
		sort.Strings(msgs)
		return order, fmt.Errorf("invalid order: %s", strings.Join(msgs, "; "))
	}
	if v := strings.TrimSpace(fo.CreatedAt); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return order, fmt.Errorf("created_at: %w", err)
		}
		order.CreatedAt = t
	}
	order.Lines = make([]workflow.SalesOrderLine, 0, len(fo.Lines))
	for _, l := range fo.Lines {
		order.Lines = append(order.Lines, workflow.SalesOrderLine{
			ExternalItemId:      strings.TrimSpace(l.ItemId),
			ExternalVariationId: strings.TrimSpace(l.VariationId),
			Quantity:            utils.DecimalFromNumber(l.Quantity),
		})
	}
	return order, nil
}

func finishWithoutRunning(ctx context.Context, db *gorm.DB, run *models.IntegrationSyncRun, status string, code string, cause error) {
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":      status,
		"finished_at": now,
	}
	if cause != nil {
		updates["error_count"] = 1
		_ = createSyncError(ctx, db, run.ID, run.BusinessId, "run", "", code, cause.Error(), nil, true)
	}
	_ = db.WithContext(ctx).Model(run).Updates(updates).Error
}

func createSyncError(ctx context.Context, db *gorm.DB, runId uint, businessId string, entityType string, externalId string, code string, message string, payload []byte, retryable bool) error {
	if len(payload) > 0 && !json.Valid(payload) {
		payload = nil
	}
	errRec := models.IntegrationSyncError{
		SyncRunId:   runId,
		BusinessId:  businessId,
		EntityType:  entityType,
		ExternalId:  externalId,
		ErrorCode:   code,
		Message:     message,
		PayloadJSON: payload,
		Retryable:   retryable,
	}
	return db.WithContext(ctx).Create(&errRec).Error
}
