package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/kitchen_backend/config"
	"github.com/mmdatafocus/kitchen_backend/models"
	"github.com/mmdatafocus/kitchen_backend/models/reports"
	"github.com/mmdatafocus/kitchen_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var validate = validator.New()

type stockMovementRequest struct {
	ItemId       int    `json:"itemId" validate:"required,gt=0"`
	StoreId      int    `json:"storeId" validate:"gte=0"`
	Qty          string `json:"qty" validate:"required"`
	MovementType string `json:"movementType" validate:"required,oneof=purchase waste transfer_in transfer_out adjustment"`
	UnitCost     string `json:"unitCost"`
	ReferenceId  string `json:"referenceId" validate:"max=128"`
	MovementDate string `json:"movementDate"`
}

const reportDateLayout = "2006-01-02"

// stockMovementCreateHandler records a manual ledger entry. Sales only come
// from order reconciliation.
func stockMovementCreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req stockMovementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		qty, err := utils.ParseDecimal(req.Qty)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": map[string]string{"Qty": "decimal"}})
			return
		}
		unitCost := decimal.Zero
		if strings.TrimSpace(req.UnitCost) != "" {
			if unitCost, err = utils.ParseDecimal(req.UnitCost); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": map[string]string{"UnitCost": "decimal"}})
				return
			}
		}
		var movementDate time.Time
		if strings.TrimSpace(req.MovementDate) != "" {
			if movementDate, err = time.Parse(time.RFC3339, req.MovementDate); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": map[string]string{"MovementDate": "rfc3339"}})
				return
			}
			movementDate = movementDate.UTC()
		}

		ctx := c.Request.Context()
		m := &models.StockMovement{
			BusinessId:    businessId,
			ItemId:        req.ItemId,
			StoreId:       req.StoreId,
			Qty:           qty,
			MovementType:  models.MovementType(req.MovementType),
			UnitCost:      unitCost,
			ReferenceType: models.StockReferenceTypeManual,
			ReferenceId:   strings.TrimSpace(req.ReferenceId),
			MovementDate:  movementDate,
		}
		m.CorrelationId, _ = utils.GetCorrelationIdFromContext(ctx)

		items, err := models.GetItems(ctx, config.GetDB(), businessId, []int{req.ItemId})
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if len(items) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
			return
		}

		err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := models.AppendStockMovement(tx, m); err != nil {
				return err
			}
			return models.RecordPurchaseCost(tx, m)
		})
		if err != nil {
			if errors.Is(err, models.ErrInvalidMovementSign) || errors.Is(err, models.ErrInvalidMovementType) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusCreated, m)
	}
}

func stockMovementListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		refType := models.StockReferenceType(strings.ToUpper(strings.TrimSpace(c.DefaultQuery("reference_type", string(models.StockReferenceTypePosOrder)))))
		refId := strings.TrimSpace(c.Query("reference_id"))
		if refId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reference_id is required"})
			return
		}
		rows, err := models.ListStockMovementsByReference(c.Request.Context(), config.GetDB(), businessId, refType, refId)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"movements": rows})
	}
}

// stockSummaryHandler serves opening/in/out/closing per item. from and to are
// UTC calendar days, both inclusive.
func stockSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if businessId, ok := utils.GetBusinessIdFromContext(ctx); !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		from, err := time.Parse(reportDateLayout, c.Query("from"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM-DD"})
			return
		}
		to, err := time.Parse(reportDateLayout, c.Query("to"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM-DD"})
			return
		}
		var storeId *int
		if raw := strings.TrimSpace(c.Query("store_id")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid store_id"})
				return
			}
			storeId = &n
		}

		rows, err := reports.GetStockSummaryReport(ctx, config.GetDB(), from, to.AddDate(0, 0, 1), storeId)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": rows})
	}
}
