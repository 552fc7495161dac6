package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mzalendo-mfg/factory_backend/utils"
)

// RequestContextMiddleware attaches a correlation id and caller identity to
// every request context. The correlation id is taken from x-correlation-id
// when the caller supplies one, so a request can be traced across the ledger
// log rows it produced.
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		username := c.GetHeader("x-username")
		if username == "" {
			username = "System"
		}

		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), cid)
		ctx = utils.SetUsernameInContext(ctx, username)
		c.Request = c.Request.WithContext(ctx)

		c.Writer.Header().Set("x-correlation-id", cid)
		c.Next()
	}
}
