package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/kitchen_backend/config"
	"github.com/mmdatafocus/kitchen_backend/costing"
	"github.com/mmdatafocus/kitchen_backend/models"
	"github.com/mmdatafocus/kitchen_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type recipeCostLineResponse struct {
	Kind        string          `json:"kind"`
	RefId       int             `json:"refId"`
	Name        string          `json:"name"`
	Qty         decimal.Decimal `json:"qty"`
	WasteFactor decimal.Decimal `json:"wasteFactor"`
	AdjustedQty decimal.Decimal `json:"adjustedQty"`
	UnitCost    decimal.Decimal `json:"unitCost"`
	LineCost    decimal.Decimal `json:"lineCost"`
}

type recipeCostResponse struct {
	RecipeId   int                      `json:"recipeId"`
	Total      decimal.Decimal          `json:"total"`
	PerPortion decimal.Decimal          `json:"perPortion"`
	Lines      []recipeCostLineResponse `json:"lines"`
}

type consumptionLineResponse struct {
	ItemId   int             `json:"itemId"`
	Qty      decimal.Decimal `json:"qty"`
	UnitCost decimal.Decimal `json:"unitCost"`
}

type recipeConsumptionResponse struct {
	RecipeId int                       `json:"recipeId"`
	Portions decimal.Decimal           `json:"portions"`
	Items    []consumptionLineResponse `json:"items"`
}

func recipeCostHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, recipeId, ok := recipeRequest(c)
		if !ok {
			return
		}
		rc, err := models.GetRecipeCost(c.Request.Context(), config.GetDB(), businessId, recipeId)
		if err != nil {
			writeRecipeError(c, err)
			return
		}

		resp := recipeCostResponse{
			RecipeId:   rc.RecipeId,
			Total:      rc.Total,
			PerPortion: rc.PerPortion,
			Lines:      make([]recipeCostLineResponse, 0, len(rc.Lines)),
		}
		for _, l := range rc.Lines {
			resp.Lines = append(resp.Lines, recipeCostLineResponse{
				Kind:        string(l.Kind),
				RefId:       l.RefId,
				Name:        l.Name,
				Qty:         l.Qty,
				WasteFactor: l.WasteFactor,
				AdjustedQty: l.AdjustedQty,
				UnitCost:    l.UnitCost,
				LineCost:    l.LineCost,
			})
		}
		c.JSON(http.StatusOK, resp)
	}
}

func recipeConsumptionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, recipeId, ok := recipeRequest(c)
		if !ok {
			return
		}
		portions := decimal.NewFromInt(1)
		if raw := strings.TrimSpace(c.Query("portions")); raw != "" {
			p, err := utils.ParseDecimal(raw)
			if err != nil || !p.IsPositive() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "portions must be a positive number"})
				return
			}
			portions = p
		}

		items, err := models.GetRecipeConsumption(c.Request.Context(), config.GetDB(), businessId, recipeId, portions)
		if err != nil {
			writeRecipeError(c, err)
			return
		}

		resp := recipeConsumptionResponse{
			RecipeId: recipeId,
			Portions: portions,
			Items:    make([]consumptionLineResponse, 0, len(items)),
		}
		for _, it := range items {
			resp.Items = append(resp.Items, consumptionLineResponse{ItemId: it.ItemId, Qty: it.Qty, UnitCost: it.UnitCost})
		}
		c.JSON(http.StatusOK, resp)
	}
}

func recipeRequest(c *gin.Context) (string, int, bool) {
	businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
	if !ok || businessId == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", 0, false
	}
	recipeId, err := strconv.Atoi(c.Param("id"))
	if err != nil || recipeId <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipe id"})
		return "", 0, false
	}
	return businessId, recipeId, true
}

func writeRecipeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "recipe not found"})
	case costing.IsIntegrityError(err), errors.Is(err, models.ErrRecipeGraphTooDeep):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
