package middlewares

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/utils"
)

// Identity is resolved by the upstream gateway and forwarded as headers.
const (
	HeaderBusinessId    = "X-Business-Id"
	HeaderUserId        = "X-User-Id"
	HeaderUserName      = "X-User-Name"
	HeaderUserRole      = "X-User-Role"
	HeaderCorrelationId = "X-Correlation-Id"
)

func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := strings.TrimSpace(c.Request.Header.Get(HeaderBusinessId))
		if businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		userId, err := strconv.Atoi(strings.TrimSpace(c.Request.Header.Get(HeaderUserId)))
		if err != nil || userId <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		actor := appctx.Actor{
			BusinessId: businessId,
			UserId:     userId,
			UserName:   strings.TrimSpace(c.Request.Header.Get(HeaderUserName)),
			Role:       strings.ToUpper(strings.TrimSpace(c.Request.Header.Get(HeaderUserRole))),
		}

		correlationId := strings.TrimSpace(c.Request.Header.Get(HeaderCorrelationId))
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		c.Header(HeaderCorrelationId, correlationId)

		ctx := appctx.WithActor(c.Request.Context(), actor)
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole aborts with 403 unless the session actor holds one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := appctx.ActorFrom(c.Request.Context())
		if !ok || !actor.HasRole(roles...) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}
