package config

import (
	"os"
	"strings"
	"time"
)

// ReconcileLookback is how far back a connection's first reconciliation run reads.
//
// Set via env:
// - RECONCILE_LOOKBACK_DAYS=30
func ReconcileLookback() time.Duration {
	days := intFromEnv("RECONCILE_LOOKBACK_DAYS", 30)
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// RecipeCostCacheTTL bounds how stale a cached recipe cost may be. Zero disables caching.
//
// Set via env:
// - RECIPE_COST_CACHE_SECONDS=300
func RecipeCostCacheTTL() time.Duration {
	secs := intFromEnv("RECIPE_COST_CACHE_SECONDS", 300)
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs) * time.Second
}

// SyncRunLockTTL is the redis lock lease for a single connection's reconciliation run.
func SyncRunLockTTL() time.Duration {
	mins := intFromEnv("POS_SYNC_LOCK_MINUTES", 10)
	if mins <= 0 {
		mins = 10
	}
	return time.Duration(mins) * time.Minute
}

// RecipeMaxDepth caps how many sub-recipe levels a recipe graph load follows.
//
// Set via env:
// - RECIPE_MAX_DEPTH=16
func RecipeMaxDepth() int {
	depth := intFromEnv("RECIPE_MAX_DEPTH", 16)
	if depth <= 0 {
		depth = 16
	}
	return depth
}

func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

func EnvIntDefault(key string, def int) int {
	return intFromEnv(key, def)
}
