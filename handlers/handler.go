package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("factory-backend")

type errorBody struct {
	Kind    utils.ErrorKind `json:"kind"`
	Message string          `json:"message"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Allowed []string        `json:"allowed,omitempty"`
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind utils.ErrorKind) int {
	switch kind {
	case utils.KindValidation:
		return http.StatusBadRequest
	case utils.KindNotFound:
		return http.StatusNotFound
	case utils.KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case utils.KindResourceConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, op string, err error) {
	kind := utils.KindOf(err)
	body := errorBody{Kind: kind, Message: err.Error()}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		body.From, body.To, body.Allowed = appErr.From, appErr.To, appErr.Allowed
	}
	if kind == utils.KindFatal {
		config.LogError(config.GetLogger(), "handlers", op, c.Request.Method+" "+c.FullPath(), nil, err)
		body.Message = "internal error"
	}
	_ = c.Error(err)
	c.JSON(StatusForKind(kind), gin.H{"error": body})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{Kind: utils.KindValidation, Message: message}})
}

func actorFrom(c *gin.Context) appctx.Actor {
	actor, _ := appctx.ActorFrom(c.Request.Context())
	return actor
}

func paramId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		badRequest(c, "invalid id: "+c.Param("id"))
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func bindQuery(c *gin.Context, dest any) bool {
	if err := c.ShouldBindQuery(dest); err != nil {
		badRequest(c, "invalid query: "+err.Error())
		return false
	}
	return true
}

// run traces one operation and writes its result or its classified error.
func run[T any](c *gin.Context, op string, status int, fn func(ctx context.Context, actor appctx.Actor) (T, error)) {
	actor := actorFrom(c)
	ctx, span := tracer.Start(c.Request.Context(), op, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(
		attribute.String("business_id", actor.BusinessId),
		attribute.Int("user_id", actor.UserId),
	)
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		span.SetAttributes(attribute.String("correlation_id", cid))
	}

	result, err := fn(ctx, actor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(utils.KindOf(err)))
		respondError(c, op, err)
		return
	}
	c.JSON(status, result)
}
