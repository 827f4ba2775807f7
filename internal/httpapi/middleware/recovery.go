package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codechat-app/backend/internal/logger"
)

// Recovery converts panics into 500s instead of killing the connection.
// Panics during an open event stream cannot be turned into an HTTP status
// anymore; the connection just ends.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered", "path", c.Request.URL.Path, "panic", r)
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"error": "Internal server error",
					})
				} else {
					c.Abort()
				}
			}
		}()
		c.Next()
	}
}
