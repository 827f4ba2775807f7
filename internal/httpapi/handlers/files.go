package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ListFiles handles GET /files/:sessionId.
func (h *Handler) ListFiles(c *gin.Context) {
	sessionID := c.Param("sessionId")

	fileRows, err := h.Files.ListFiles(c.Request.Context(), sessionID)
	if err != nil {
		h.Log.Error("list files failed", "session_id", sessionID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to fetch files",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"files":   fileRows,
		"count":   len(fileRows),
	})
}

// DeleteFile handles DELETE /files/:fileId.
func (h *Handler) DeleteFile(c *gin.Context) {
	fileID := c.Param("fileId")

	if err := h.Files.Delete(c.Request.Context(), fileID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   "File not found",
			})
			return
		}
		h.Log.Error("delete file failed", "file_id", fileID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to delete file",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "File deleted successfully",
	})
}
