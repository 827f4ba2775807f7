package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codechat-app/backend/internal/chat"
	"github.com/codechat-app/backend/internal/common"
	"github.com/codechat-app/backend/internal/files"
)

// SendChatMessage handles POST /chat/message: multipart form in, SSE out.
// All validation happens before the stream opens; after the first byte of
// the stream, failures become terminal error events.
func (h *Handler) SendChatMessage(c *gin.Context) {
	message := c.PostForm("message")
	apiKey := c.PostForm("apiKey")
	sessionID := c.PostForm("sessionId")
	useExisting := c.PostForm("useExistingFiles") == "true"

	var fileHeaders []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil && form != nil {
		fileHeaders = form.File["files"]
	}

	if len(fileHeaders) > files.MaxFilesPerRequest {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Too many files: maximum %d per request", files.MaxFilesPerRequest),
		})
		return
	}
	for _, fh := range fileHeaders {
		if err := files.ValidateUpload(fh.Filename, fh.Size); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	uploads := make([]chat.Upload, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		data, err := readFileHeader(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("Failed to read file %q", fh.Filename),
			})
			return
		}
		uploads = append(uploads, chat.Upload{
			OriginalName: fh.Filename,
			ContentType:  fh.Header.Get("Content-Type"),
			Size:         fh.Size,
			Data:         data,
		})
	}

	ctx := c.Request.Context()
	events, err := h.ChatSvc.Stream(ctx, chat.StreamRequest{
		SessionID:        sessionID,
		Message:          message,
		APIKey:           apiKey,
		UseExistingFiles: useExisting,
		Uploads:          uploads,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "data: {\"type\":\"error\",\"message\":\"streaming unsupported\"}\n\n")
		return
	}

	writeEvent := func(ev chat.Event) {
		b, err := json.Marshal(eventPayload(ev))
		if err != nil {
			fmt.Fprintf(c.Writer, "data: {\"type\":\"error\",\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", b)
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeEvent(ev)

		case <-ctx.Done():
			// Client went away; the service notices the same cancellation.
			return
		}
	}
}

// eventPayload maps an event to its wire shape: a type field plus exactly
// one type-specific payload field.
func eventPayload(ev chat.Event) gin.H {
	switch ev.Type {
	case chat.EventChunk:
		return gin.H{"type": ev.Type, "content": ev.Content}
	case chat.EventDone:
		return gin.H{"type": ev.Type, "fullResponse": ev.FullResponse}
	default: // status, error
		return gin.H{"type": ev.Type, "message": ev.Message}
	}
}

// GetChatHistory handles GET /chat/history/:sessionId.
func (h *Handler) GetChatHistory(c *gin.Context) {
	sessionID := c.Param("sessionId")

	history, err := h.ChatSvc.History(c.Request.Context(), sessionID)
	if err != nil {
		h.Log.Error("fetch history failed", "session_id", sessionID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to fetch conversation history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"history": history,
	})
}

// ClearSession handles DELETE /chat/session/:sessionId. The deletion itself
// runs in the worker; this only records and enqueues the job. Without a
// queue the cleanup runs inline.
func (h *Handler) ClearSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	ctx := c.Request.Context()

	if h.Jobs == nil {
		if err := h.Files.ClearSession(ctx, sessionID); err != nil {
			h.Log.Error("session clear failed", "session_id", sessionID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "Failed to clear session",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Session cleared",
		})
		return
	}

	jobID, err := common.NewULID()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal error"})
		return
	}
	job := &chat.CleanupJob{ID: jobID, SessionID: sessionID, Status: chat.JobQueued}
	if err := h.Repo.CreateCleanupJob(ctx, job); err != nil {
		h.Log.Error("create cleanup job failed", "session_id", sessionID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal error"})
		return
	}
	if err := h.Jobs.PublishCleanup(ctx, jobID); err != nil {
		h.Log.Error("enqueue cleanup job failed", "session_id", sessionID, "job_id", jobID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to schedule cleanup"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Session cleanup scheduled",
		"job_id":  jobID,
	})
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, files.MaxFileSize+1))
}
