package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mmdatafocus/kitchen_backend/config"
	"github.com/mmdatafocus/kitchen_backend/models"
	"github.com/mmdatafocus/kitchen_backend/possync"
	"github.com/mmdatafocus/kitchen_backend/utils"
	"github.com/sirupsen/logrus"
)

// pos-reconcile runs POS order reconciliation in the foreground, one run per
// connected POS connection. Scheduled jobs call it without --business-id.
func main() {
	businessID := flag.String("business-id", "", "Optional: only reconcile this business")
	connectionID := flag.Uint("connection-id", 0, "Optional: only reconcile this connection (requires --business-id)")
	continueOnError := flag.Bool("continue-on-error", true, "Keep going when a connection's run fails")
	flag.Parse()

	if *connectionID > 0 && strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--connection-id requires --business-id")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	if strings.TrimSpace(os.Getenv("REDIS_ADDRESS")) != "" {
		config.ConnectRedisWithRetry()
	}
	logger := config.GetLogger()

	listCtx := utils.SetSkipTenantScopeInContext(ctx, true)
	conns, err := models.ListConnectedPosConnections(listCtx, db, strings.TrimSpace(*businessID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "list connections: %v\n", err)
		os.Exit(1)
	}

	failed := 0
	for _, conn := range conns {
		if *connectionID > 0 && conn.ID != *connectionID {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		runCtx := utils.SetBusinessIdInContext(ctx, conn.BusinessId)
		run, err := models.CreateSyncRun(runCtx, db, &conn, models.SyncTriggeredSystem, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "business %s connection %d: create run: %v\n", conn.BusinessId, conn.ID, err)
			os.Exit(1)
		}
		err = possync.ProcessSyncRun(runCtx, db, logger, possync.SyncPubSubPayload{
			RunId:        run.ID,
			BusinessId:   conn.BusinessId,
			ConnectionId: conn.ID,
		})
		if err != nil {
			failed++
			logger.WithFields(logrus.Fields{
				"business_id":   conn.BusinessId,
				"connection_id": conn.ID,
				"run_id":        run.ID,
			}).Error("reconcile run failed: " + err.Error())
			if !*continueOnError {
				os.Exit(1)
			}
			continue
		}
		fmt.Printf("business %s connection %d: run %d done\n", conn.BusinessId, conn.ID, run.ID)
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d runs failed\n", failed, len(conns))
		os.Exit(1)
	}
}
