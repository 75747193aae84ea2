package middlewares

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mobilemart/pos_backend/utils"
)

// RequestContext propagates the correlation id and the acting user into
// the request context so model code can stamp audit rows without
// touching gin.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.GetHeader("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		c.Header("X-Correlation-Id", correlationId)

		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		if raw := c.GetHeader("X-User-Id"); raw != "" {
			if userId, err := strconv.Atoi(raw); err == nil {
				ctx = utils.SetUserIdInContext(ctx, userId)
			}
		}
		if name := c.GetHeader("X-User-Name"); name != "" {
			ctx = utils.SetUserNameInContext(ctx, name)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
