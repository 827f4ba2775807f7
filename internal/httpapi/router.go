package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/codechat-app/backend/internal/httpapi/handlers"
	"github.com/codechat-app/backend/internal/httpapi/middleware"
	"github.com/codechat-app/backend/internal/logger"
)

func NewRouter(h *handlers.Handler, frontendURL string, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{frontendURL},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	r.GET("/health", h.Health)

	chatGroup := r.Group("/chat")
	chatGroup.POST("/message", h.SendChatMessage)
	chatGroup.GET("/history/:sessionId", h.GetChatHistory)
	chatGroup.DELETE("/session/:sessionId", h.ClearSession)

	filesGroup := r.Group("/files")
	filesGroup.GET("/:sessionId", h.ListFiles)
	filesGroup.DELETE("/:fileId", h.DeleteFile)

	return r
}
