package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
	"github.com/yamabiko/tabiroku-backend/internal/services"
	"github.com/yamabiko/tabiroku-backend/internal/types"
)

// EventHandler receives pushed platform events: object-finalize notifications
// for the ingestion trigger and asset document writes for the reconciler.
// A 2xx acknowledges the event; anything else makes the platform redeliver.
type EventHandler struct {
	log       *logger.Logger
	ingest    services.IngestService
	reconcile services.ReconcileService
}

func NewEventHandler(log *logger.Logger, ingest services.IngestService, reconcile services.ReconcileService) *EventHandler {
	return &EventHandler{
		log:       log.With("handler", "EventHandler"),
		ingest:    ingest,
		reconcile: reconcile,
	}
}

// pubsubEnvelope is the Pub/Sub push wrapper; Data carries the notification
// payload base64-encoded. Direct (Eventarc-style) delivery posts the payload
// without the wrapper.
type pubsubEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
	} `json:"message"`
}

type storageObjectPayload struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// POST /events/storage
func (h *EventHandler) StorageFinalized(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ARGUMENT", err)
		return
	}

	payload, ok := decodeStoragePayload(raw)
	if !ok || payload.Name == "" {
		h.log.Warn("Unparseable storage event, acknowledging", "bytes", len(raw))
		c.Status(http.StatusNoContent)
		return
	}

	ev := services.ObjectEvent{
		Bucket:      payload.Bucket,
		Path:        payload.Name,
		ContentType: payload.ContentType,
	}
	if err := h.ingest.HandleFinalized(c.Request.Context(), ev); err != nil {
		h.log.Error("Ingestion trigger failed", "path", ev.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func decodeStoragePayload(raw []byte) (storageObjectPayload, bool) {
	var env pubsubEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Message.Data) > 0 {
		raw = env.Message.Data
	}
	var payload storageObjectPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return storageObjectPayload{}, false
	}
	return payload, true
}

// assetWrittenPayload accepts both the compact form {assetId, deleted} and the
// document-event form carrying value/oldValue resource names.
type assetWrittenPayload struct {
	AssetID string `json:"assetId"`
	Deleted bool   `json:"deleted"`
	Value   struct {
		Name string `json:"name"`
	} `json:"value"`
	OldValue struct {
		Name string `json:"name"`
	} `json:"oldValue"`
}

// POST /events/asset-written
func (h *EventHandler) AssetWritten(c *gin.Context) {
	var payload assetWrittenPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ARGUMENT", err)
		return
	}

	assetID := payload.AssetID
	deleted := payload.Deleted
	if assetID == "" {
		// Document event form: deletion has an oldValue but no value.
		if name := payload.Value.Name; name != "" {
			assetID = assetIDFromResourceName(name)
		} else if name := payload.OldValue.Name; name != "" {
			assetID = assetIDFromResourceName(name)
			deleted = true
		}
	}
	if assetID == "" {
		RespondError(c, http.StatusBadRequest, "INVALID_ARGUMENT", nil)
		return
	}

	if err := h.reconcile.OnAssetWritten(c.Request.Context(), assetID, deleted); err != nil {
		h.log.Error("Reconciliation failed", "assetId", assetID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func assetIDFromResourceName(name string) string {
	marker := "/documents/" + types.CollectionAssets + "/"
	i := strings.Index(name, marker)
	if i < 0 {
		return ""
	}
	id := name[i+len(marker):]
	if j := strings.IndexByte(id, '/'); j >= 0 {
		return ""
	}
	return id
}
