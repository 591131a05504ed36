package reports

import (
	"context"
	"time"

	"github.com/mmdatafocus/kitchen_backend/config"
	"github.com/mmdatafocus/kitchen_backend/utils"
	"github.com/sirupsen/logrus"
)

// Env: ENABLE_REPORT_CACHE (default off)
func reportCacheEnabled() bool {
	return config.EnvBoolDefault("ENABLE_REPORT_CACHE", false)
}

// Env: REPORT_CACHE_TTL_SECONDS (default 120s)
func reportCacheTTL() time.Duration {
	return time.Duration(config.EnvIntDefault("REPORT_CACHE_TTL_SECONDS", 120)) * time.Second
}

// Env: REPORT_SLOW_MS (default 500ms)
func reportSlowMs() int64 {
	return int64(config.EnvIntDefault("REPORT_SLOW_MS", 500))
}

func logSlowReport(ctx context.Context, name string, started time.Time, extra map[string]any) {
	d := time.Since(started)
	if d.Milliseconds() < reportSlowMs() {
		return
	}
	biz, _ := utils.GetBusinessIdFromContext(ctx)
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	config.GetLogger().WithFields(logrus.Fields{
		"report":         name,
		"ms":             d.Milliseconds(),
		"business_id":    biz,
		"correlation_id": cid,
		"extra":          extra,
	}).Warn("slow_report")
}

func cacheGet[T any](key string, dest *T) (bool, error) {
	return config.GetRedisObject(key, dest)
}

func cacheSet(key string, obj any, ttl time.Duration) error {
	return config.SetRedisObject(key, obj, ttl)
}
