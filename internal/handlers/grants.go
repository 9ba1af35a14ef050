package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
	"github.com/yamabiko/tabiroku-backend/internal/services"
)

type GrantHandler struct {
	log    *logger.Logger
	grants services.GrantService
}

func NewGrantHandler(log *logger.Logger, grants services.GrantService) *GrantHandler {
	return &GrantHandler{
		log:    log.With("handler", "GrantHandler"),
		grants: grants,
	}
}

// POST /upload-url
// Issues a V4 signed PUT grant for raw/{uid}/{assetId}.orig. The caller
// supplies only contentType and assetId; the object path is server-computed.
func (h *GrantHandler) IssueUploadURL(c *gin.Context) {
	var body struct {
		ContentType string `json:"contentType"`
		AssetID     string `json:"assetId"`
	}
	// Malformed JSON falls through as empty fields; the service rejects those.
	_ = c.ShouldBindJSON(&body)

	grant, err := h.grants.IssueUploadGrant(c.Request.Context(), bearerToken(c), body.AssetID, body.ContentType)
	if err != nil {
		h.log.Warn("Upload grant refused", "assetId", body.AssetID, "error", err)
		RespondServiceError(c, err)
		return
	}

	RespondOK(c, gin.H{
		"url":        grant.URL,
		"method":     grant.Method,
		"headers":    grant.Headers,
		"expiresAt":  grant.ExpiresAt.UnixMilli(),
		"objectPath": grant.ObjectPath,
		"assetId":    grant.AssetID,
	})
}

// POST /download-url
// Signs read URLs for a ready asset's output and thumbnail. Owner-only.
func (h *GrantHandler) IssueDownloadURL(c *gin.Context) {
	var body struct {
		AssetID string `json:"assetId"`
	}
	_ = c.ShouldBindJSON(&body)

	grant, err := h.grants.IssueDownloadGrant(c.Request.Context(), bearerToken(c), body.AssetID)
	if err != nil {
		h.log.Warn("Download grant refused", "assetId", body.AssetID, "error", err)
		RespondServiceError(c, err)
		return
	}

	resp := gin.H{
		"url":       grant.URL,
		"expiresAt": grant.ExpiresAt.UnixMilli(),
	}
	if grant.ThumbURL != "" {
		resp["thumbUrl"] = grant.ThumbURL
	} else {
		resp["thumbUrl"] = nil
	}
	RespondOK(c, resp)
}
