package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/models"
)

func listOutboxEvents(c *gin.Context) {
	sink := strings.ToUpper(strings.TrimSpace(c.Query("sink")))
	run(c, "ListOutboxEvents", http.StatusOK, func(ctx context.Context, actor appctx.Actor) ([]*models.OutboxEvent, error) {
		return models.ListOutboxEvents(ctx, actor, sink)
	})
}

type outboxReplayRequest struct {
	BusinessId string `json:"business_id"`
	RecordId   int    `json:"record_id"`
}

// replayOutboxEvent re-queues a DEAD or FAILED event. Admins may replay any tenant's events.
func replayOutboxEvent(c *gin.Context) {
	var req outboxReplayRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.BusinessId) == "" || req.RecordId <= 0 {
		badRequest(c, "business_id and record_id are required")
		return
	}
	run(c, "ReplayOutboxEvent", http.StatusOK, func(ctx context.Context, actor appctx.Actor) (*models.OutboxEvent, error) {
		return models.ReplayOutboxEvent(ctx, req.BusinessId, req.RecordId)
	})
}
