package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/kitchen_backend/config"
	"github.com/mmdatafocus/kitchen_backend/costing"
	"github.com/mmdatafocus/kitchen_backend/models"
	"github.com/mmdatafocus/kitchen_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("kitchen-backend/workflow")

type Outcome string

const (
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeDepleted         Outcome = Outcome(models.OrderSyncOutcomeDepleted)
	OutcomeNoEffect         Outcome = Outcome(models.OrderSyncOutcomeNoEffect)
	OutcomeUnmapped         Outcome = Outcome(models.OrderSyncOutcomeUnmapped)
)

// SalesOrder is a completed sale as read from the POS feed.
type SalesOrder struct {
	ExternalId string
	CreatedAt  time.Time
	Lines      []SalesOrderLine
}

type SalesOrderLine struct {
	ExternalItemId      string
	ExternalVariationId string
	Quantity            decimal.Decimal
}

// OrderContext identifies where an order came from and where its stock lives.
type OrderContext struct {
	BusinessId   string
	ConnectionId uint
	StoreId      int
	SyncRunId    *uint
}

// OrderConsumption is the result of expanding an order before anything is written.
type OrderConsumption struct {
	Items       []costing.Consumption
	MappedLines int
}

// ReconcileOrder turns one sales order into sale stock movements, at most once
// per (connection, order). The movements and the order sync record are written
// in a single transaction; losing a race to another run on the sync record
// rolls everything back and reports OutcomeAlreadyProcessed.
func ReconcileOrder(ctx context.Context, db *gorm.DB, logger *logrus.Logger, oc OrderContext, order SalesOrder) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "ReconcileOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("business_id", oc.BusinessId),
		attribute.Int64("connection_id", int64(oc.ConnectionId)),
		attribute.String("external_order_id", order.ExternalId),
	)

	if order.ExternalId == "" {
		return "", errors.New("order external id is required")
	}

	exists, err := models.OrderSyncRecordExists(ctx, db, oc.BusinessId, oc.ConnectionId, order.ExternalId)
	if err != nil {
		config.LogError(logger, "orderReconcile.go", "ReconcileOrder", "OrderSyncRecordExists", order.ExternalId, err)
		return "", err
	}
	if exists {
		span.SetAttributes(attribute.String("outcome", string(OutcomeAlreadyProcessed)))
		return OutcomeAlreadyProcessed, nil
	}

	consumption, err := BuildOrderConsumption(ctx, db, oc, order)
	if err != nil {
		config.LogError(logger, "orderReconcile.go", "ReconcileOrder", "BuildOrderConsumption", order.ExternalId, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	outcome, err := commitOrder(ctx, db, oc, order, consumption)
	if err != nil {
		config.LogError(logger, "orderReconcile.go", "ReconcileOrder", "commitOrder", order.ExternalId, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	return outcome, nil
}

// BuildOrderConsumption resolves every line to a recipe and sums the
// flattened raw item quantities over the whole order. Unmapped lines and
// lines with a non-positive quantity contribute nothing.
func BuildOrderConsumption(ctx context.Context, db *gorm.DB, oc OrderContext, order SalesOrder) (*OrderConsumption, error) {
	type mappedLine struct {
		recipeId int
		portions decimal.Decimal
	}
	lines := make([]mappedLine, 0, len(order.Lines))
	recipeIds := make([]int, 0, len(order.Lines))
	for _, line := range order.Lines {
		if !line.Quantity.IsPositive() {
			continue
		}
		mapping, err := models.FindCatalogMapping(ctx, db, oc.BusinessId, oc.ConnectionId, line.ExternalItemId, line.ExternalVariationId)
		if err != nil {
			return nil, err
		}
		if mapping == nil {
			continue
		}
		lines = append(lines, mappedLine{
			recipeId: mapping.RecipeId,
			portions: line.Quantity.Mul(mapping.PortionsPerUnit()),
		})
		recipeIds = append(recipeIds, mapping.RecipeId)
	}

	result := &OrderConsumption{MappedLines: len(lines)}
	if len(lines) == 0 {
		return result, nil
	}

	g, err := models.LoadRecipeGraph(ctx, db, oc.BusinessId, utils.UniqueSlice(recipeIds)...)
	if err != nil {
		return nil, err
	}
	parts := make([][]costing.Consumption, 0, len(lines))
	for _, l := range lines {
		part, err := costing.Flatten(g, l.recipeId, l.portions)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", order.ExternalId, err)
		}
		parts = append(parts, part)
	}

	for _, c := range costing.MergeConsumption(parts...) {
		if c.Qty.IsZero() {
			continue
		}
		// a sale can only take stock out
		if c.Qty.IsNegative() {
			return nil, fmt.Errorf("order %s: item %d qty %s: %w", order.ExternalId, c.ItemId, c.Qty, costing.ErrNegativeConsumption)
		}
		result.Items = append(result.Items, c)
	}
	return result, nil
}

func commitOrder(ctx context.Context, db *gorm.DB, oc OrderContext, order SalesOrder, consumption *OrderConsumption) (Outcome, error) {
	outcome := OutcomeDepleted
	switch {
	case consumption.MappedLines == 0:
		outcome = OutcomeUnmapped
	case len(consumption.Items) == 0:
		outcome = OutcomeNoEffect
	}

	movementDate := order.CreatedAt
	if movementDate.IsZero() {
		movementDate = time.Now()
	}
	movementDate = movementDate.UTC()
	var orderCreatedAt *time.Time
	if !order.CreatedAt.IsZero() {
		t := order.CreatedAt.UTC()
		orderCreatedAt = &t
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	connectionId := oc.ConnectionId

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the sync record goes first so a concurrent duplicate fails before any movement is written
		rec := models.OrderSyncRecord{
			BusinessId:      oc.BusinessId,
			ConnectionId:    oc.ConnectionId,
			ExternalOrderId: order.ExternalId,
			Outcome:         models.OrderSyncOutcome(outcome),
			MovementCount:   len(consumption.Items),
			SyncRunId:       oc.SyncRunId,
			OrderCreatedAt:  orderCreatedAt,
		}
		if err := models.CreateOrderSyncRecord(tx, &rec); err != nil {
			return err
		}
		for _, c := range consumption.Items {
			if _, err := models.AppendStockMovement(tx, &models.StockMovement{
				BusinessId:    oc.BusinessId,
				ItemId:        c.ItemId,
				StoreId:       oc.StoreId,
				Qty:           c.Qty.Neg(),
				MovementType:  models.MovementTypeSale,
				UnitCost:      c.UnitCost,
				ReferenceType: models.StockReferenceTypePosOrder,
				ReferenceId:   order.ExternalId,
				ConnectionId:  &connectionId,
				MovementDate:  movementDate,
				CorrelationId: correlationId,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isDuplicateKeyErr(err) {
			return OutcomeAlreadyProcessed, nil
		}
		return "", err
	}
	return outcome, nil
}
