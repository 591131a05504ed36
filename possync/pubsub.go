package possync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/kitchen_backend/config"
	"github.com/mmdatafocus/kitchen_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func syncTopic() string {
	if topic := strings.TrimSpace(os.Getenv("POS_SYNC_TOPIC")); topic != "" {
		return topic
	}
	return "pos-sync"
}

func PublishSyncRun(ctx context.Context, runId uint, businessId string, connectionId uint) error {
	payload := SyncPubSubPayload{
		RunId:        runId,
		BusinessId:   businessId,
		ConnectionId: connectionId,
	}
	_, err := config.PublishJSON(ctx, syncTopic(), payload, config.EnvBoolDefault("POS_SYNC_CREATE_TOPIC", false))
	return err
}

// dispatchRun queues the run on Pub/Sub. When publishing fails the run is
// processed in the background of this instance instead.
func dispatchRun(ctx context.Context, db *gorm.DB, logger *logrus.Logger, run *models.IntegrationSyncRun) {
	err := PublishSyncRun(ctx, run.ID, run.BusinessId, run.ConnectionId)
	if err == nil {
		return
	}
	config.LogError(logger, "pubsub.go", "dispatchRun", "PublishSyncRun", run.ID, err)
	payload := SyncPubSubPayload{RunId: run.ID, BusinessId: run.BusinessId, ConnectionId: run.ConnectionId}
	go func() {
		_ = ProcessSyncRun(context.WithoutCancel(ctx), db, logger, payload)
	}()
}

// PubSubPushHandler always acknowledges; failures are recorded on the run
// and retried through the retry endpoint.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.EnvBoolDefault("ENABLE_POS_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		if payload.RunId == 0 || payload.BusinessId == "" {
			c.Status(http.StatusNoContent)
			return
		}

		_ = ProcessSyncRun(c.Request.Context(), config.GetDB(), config.GetLogger(), payload)
		c.Status(http.StatusNoContent)
	}
}
