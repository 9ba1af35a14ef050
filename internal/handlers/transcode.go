package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yamabiko/tabiroku-backend/internal/platform/apierr"
	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
	"github.com/yamabiko/tabiroku-backend/internal/services"
	"github.com/yamabiko/tabiroku-backend/internal/types"
)

type TranscodeHandler struct {
	log       *logger.Logger
	transcode services.TranscodeService
}

func NewTranscodeHandler(log *logger.Logger, transcode services.TranscodeService) *TranscodeHandler {
	return &TranscodeHandler{
		log:       log.With("handler", "TranscodeHandler"),
		transcode: transcode,
	}
}

// POST /transcode
// Invoked by the task queue. Non-2xx responses make the queue redeliver per
// its own retry policy; the worker itself never retries.
func (h *TranscodeHandler) Transcode(c *gin.Context) {
	var job types.TranscodeJob
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing params"})
		return
	}

	if err := h.transcode.Handle(c.Request.Context(), job); err != nil {
		status := http.StatusInternalServerError
		var ae *apierr.Error
		if errors.As(err, &ae) && ae.Status != 0 {
			status = ae.Status
		}
		h.log.Error("Transcode job failed", "assetId", job.AssetID, "error", err)
		c.JSON(status, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
