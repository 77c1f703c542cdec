package middleware

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/feedguard/pkg/logger"
	"github.com/charlesng35/feedguard/pkg/response"
)

// Recovery converts panics into a 500 response, logs the error and reports it to Sentry
// when a client is configured.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithModule("http").Error("panic",
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", r),
				)

				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(c.Request)
				if userID := c.GetString(CtxUserIDKey); userID != "" {
					hub.Scope().SetUser(sentry.User{ID: userID})
				}
				hub.RecoverWithContext(c.Request.Context(), r)

				// Avoid leaking internals to clients
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error": gin.H{
						"code":    "INTERNAL_SERVER_ERROR",
						"message": "Internal server error",
					},
				})
			}
		}()
		c.Next()
	}
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler(c *gin.Context) {
	response.Success(c, http.StatusNotFound, gin.H{"error": fmt.Sprintf("route %s not found", c.Request.URL.Path)})
}
