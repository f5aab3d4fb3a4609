package middlewares

import (
	"strconv"

	"bitbucket.org/fleetdatahub/parts_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestContext copies the identity headers set by the gateway into the
// request context and makes sure every request carries a correlation id.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if header := c.GetHeader("X-User-Id"); header != "" {
			if userId, err := strconv.Atoi(header); err == nil {
				ctx = utils.SetUserIdInContext(ctx, userId)
			}
		}
		if username := c.GetHeader("X-Username"); username != "" {
			ctx = utils.SetUsernameInContext(ctx, username)
		}

		correlationId := c.GetHeader("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
		c.Header("X-Correlation-Id", correlationId)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
