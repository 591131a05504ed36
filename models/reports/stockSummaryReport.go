package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/kitchen_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type StockSummaryReportResponse struct {
	ItemId       int             `json:"itemId"`
	ItemName     string          `json:"itemName,omitempty"`
	Unit         string          `json:"unit,omitempty"`
	OpeningStock decimal.Decimal `json:"openingStock"`
	QtyIn        decimal.Decimal `json:"qtyIn"`
	QtyOut       decimal.Decimal `json:"qtyOut"`
	ClosingStock decimal.Decimal `json:"closingStock"`
}

// GetStockSummaryReport folds the stock movement ledger into opening, in, out
// and closing quantities per item for [fromDate, toDate). Items without any
// movement are listed with zeros.
func GetStockSummaryReport(ctx context.Context, db *gorm.DB, fromDate time.Time, toDate time.Time, storeId *int) ([]*StockSummaryReportResponse, error) {
	sqlT := `
WITH Ledger AS (
    SELECT
        sm.item_id,
        SUM(CASE WHEN sm.movement_date < @fromDate THEN sm.qty ELSE 0 END) AS opening_stock,
        SUM(CASE WHEN sm.movement_date >= @fromDate AND sm.movement_date < @toDate AND sm.qty > 0 THEN sm.qty ELSE 0 END) AS qty_in,
        SUM(CASE WHEN sm.movement_date >= @fromDate AND sm.movement_date < @toDate AND sm.qty < 0 THEN -sm.qty ELSE 0 END) AS qty_out
    FROM stock_movements sm
    WHERE sm.business_id = @businessId
      AND sm.movement_date < @toDate
      {{- if .storeId }} AND sm.store_id = @storeId {{- end }}
    GROUP BY sm.item_id
)
SELECT
    i.id AS item_id,
    i.name AS item_name,
    i.unit,
    COALESCE(l.opening_stock, 0) AS opening_stock,
    COALESCE(l.qty_in, 0) AS qty_in,
    COALESCE(l.qty_out, 0) AS qty_out,
    COALESCE(l.opening_stock, 0) + COALESCE(l.qty_in, 0) - COALESCE(l.qty_out, 0) AS closing_stock
FROM items i
LEFT JOIN Ledger l ON l.item_id = i.id
WHERE i.business_id = @businessId
ORDER BY i.name, i.id;
`
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !fromDate.Before(toDate) {
		return nil, errors.New("from date must be before to date")
	}
	fromDate, toDate = fromDate.UTC(), toDate.UTC()

	hasStore := storeId != nil && *storeId > 0
	cacheKey := fmt.Sprintf("StockSummary:%s:%d:%d:%d", businessId, fromDate.Unix(), toDate.Unix(), storeKey(storeId))
	var results []*StockSummaryReportResponse
	if reportCacheEnabled() {
		if ok, err := cacheGet(cacheKey, &results); err == nil && ok {
			return results, nil
		}
	}

	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{
		"storeId": hasStore,
	})
	if err != nil {
		return nil, err
	}

	// only pass storeId when the template kept its placeholder
	args := map[string]interface{}{
		"fromDate":   fromDate,
		"toDate":     toDate,
		"businessId": businessId,
	}
	if hasStore {
		args["storeId"] = *storeId
	}

	started := time.Now()
	if err := db.WithContext(ctx).Raw(sql, args).Scan(&results).Error; err != nil {
		return nil, err
	}
	logSlowReport(ctx, "stock_summary", started, map[string]any{"rows": len(results)})

	if reportCacheEnabled() {
		_ = cacheSet(cacheKey, results, reportCacheTTL())
	}
	return results, nil
}

func storeKey(storeId *int) int {
	if storeId == nil {
		return 0
	}
	return *storeId
}
