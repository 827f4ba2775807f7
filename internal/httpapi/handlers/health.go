package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func connFlag(ok bool) string {
	if ok {
		return "connected"
	}
	return "disconnected"
}

// Health handles GET /health: liveness plus backing-store connectivity.
func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	dbOK := false
	if sqlDB, err := h.DB.DB(); err == nil {
		dbOK = sqlDB.PingContext(ctx) == nil
	}
	storageOK := h.Storage.Check(ctx) == nil

	resp := gin.H{
		"status":    "ok",
		"message":   "Server is running",
		"database":  connFlag(dbOK),
		"storage":   connFlag(storageOK),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.Cache != nil {
		resp["redis"] = connFlag(h.Cache.Ping(ctx) == nil)
	}

	c.JSON(http.StatusOK, resp)
}
