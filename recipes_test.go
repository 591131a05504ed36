package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/kitchen_backend/config"
	"github.com/mmdatafocus/kitchen_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testBusinessId = "biz-recipes"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intPtr(v int) *int { return &v }

func setupTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), config.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrate(db))

	prev := config.GetDB()
	config.UseDB(db)
	t.Cleanup(func() {
		config.UseDB(prev)
		_ = sqlDB.Close()
	})

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return newRouter(logger), db
}

func seedDough(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&[]models.Item{
		{ID: 1, BusinessId: testBusinessId, Name: "Flour", Unit: "g", FallbackCost: dec("2")},
		{ID: 2, BusinessId: testBusinessId, Name: "Butter", Unit: "g", FallbackCost: dec("3")},
	}).Error)
	require.NoError(t, db.Create(&models.Recipe{
		ID:         10,
		BusinessId: testBusinessId,
		Name:       "Dough",
		YieldQty:   dec("2"),
		Ingredients: []models.RecipeIngredient{
			{BusinessId: testBusinessId, ItemId: intPtr(1), Qty: dec("1")},
			{BusinessId: testBusinessId, ItemId: intPtr(2), Qty: dec("2"), WasteFactor: dec("0.5")},
		},
	}).Error)
}

func get(r http.Handler, path string, businessId string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if businessId != "" {
		req.Header.Set("x-business-id", businessId)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRecipeCostHandler(t *testing.T) {
	r, db := setupTestRouter(t)
	seedDough(t, db)

	w := get(r, "/api/recipes/10/cost", testBusinessId)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotEmpty(t, w.Header().Get("x-correlation-id"))

	var resp recipeCostResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 10, resp.RecipeId)
	require.True(t, resp.Total.Equal(dec("11")), resp.Total.String())
	require.True(t, resp.PerPortion.Equal(dec("5.5")), resp.PerPortion.String())
	require.Len(t, resp.Lines, 2)
	require.Equal(t, "Butter", resp.Lines[1].Name)
	require.True(t, resp.Lines[1].AdjustedQty.Equal(dec("3")))
}

func TestRecipeCostHandler_Errors(t *testing.T) {
	r, db := setupTestRouter(t)
	seedDough(t, db)

	require.Equal(t, http.StatusUnauthorized, get(r, "/api/recipes/10/cost", "").Code)
	require.Equal(t, http.StatusBadRequest, get(r, "/api/recipes/abc/cost", testBusinessId).Code)
	require.Equal(t, http.StatusNotFound, get(r, "/api/recipes/99/cost", testBusinessId).Code)
	// another tenant cannot see the recipe
	require.Equal(t, http.StatusNotFound, get(r, "/api/recipes/10/cost", "biz-other").Code)
}

func TestRecipeCostHandler_CycleIsUnprocessable(t *testing.T) {
	r, db := setupTestRouter(t)
	require.NoError(t, db.Create(&[]models.Recipe{
		{ID: 1, BusinessId: testBusinessId, Name: "A", YieldQty: dec("1"), Ingredients: []models.RecipeIngredient{
			{BusinessId: testBusinessId, SubRecipeId: intPtr(2), Qty: dec("1")},
		}},
		{ID: 2, BusinessId: testBusinessId, Name: "B", YieldQty: dec("1"), Ingredients: []models.RecipeIngredient{
			{BusinessId: testBusinessId, SubRecipeId: intPtr(1), Qty: dec("1")},
		}},
	}).Error)

	w := get(r, "/api/recipes/1/cost", testBusinessId)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), "recipe cycle detected")
}

func TestRecipeConsumptionHandler(t *testing.T) {
	r, db := setupTestRouter(t)
	seedDough(t, db)

	w := get(r, "/api/recipes/10/consumption?portions=4", testBusinessId)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp recipeConsumptionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	require.Equal(t, 1, resp.Items[0].ItemId)
	require.True(t, resp.Items[0].Qty.Equal(dec("2")), resp.Items[0].Qty.String())
	require.Equal(t, 2, resp.Items[1].ItemId)
	require.True(t, resp.Items[1].Qty.Equal(dec("6")), resp.Items[1].Qty.String())

	require.Equal(t, http.StatusBadRequest, get(r, "/api/recipes/10/consumption?portions=0", testBusinessId).Code)
	require.Equal(t, http.StatusBadRequest, get(r, "/api/recipes/10/consumption?portions=x", testBusinessId).Code)
}
