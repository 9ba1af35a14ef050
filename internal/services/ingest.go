package services

import (
	"context"
	"fmt"
	"time"

	"github.com/yamabiko/tabiroku-backend/internal/platform/gcp"
	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
	"github.com/yamabiko/tabiroku-backend/internal/types"
)

// ObjectEvent describes one finalized raw object.
type ObjectEvent struct {
	Bucket      string
	Path        string
	ContentType string
}

// IngestService classifies finalized raw uploads: images go ready immediately,
// videos go processing with a transcode job enqueued, anything else terminates
// as failed/unsupported. Every write is a merge keyed by assetId, so duplicate
// finalize events are harmless.
type IngestService interface {
	HandleFinalized(ctx context.Context, ev ObjectEvent) error
}

type ingestService struct {
	log   *logger.Logger
	docs  gcp.DocumentStore
	queue gcp.TaskQueue
}

func NewIngestService(log *logger.Logger, docs gcp.DocumentStore, queue gcp.TaskQueue) IngestService {
	return &ingestService{
		log:   log.With("service", "IngestService"),
		docs:  docs,
		queue: queue,
	}
}

func (is *ingestService) HandleFinalized(ctx context.Context, ev ObjectEvent) error {
	uid, assetID, ok := types.ParseRawPath(ev.Path)
	if !ok {
		// Unrelated object (or a path this service never generated): not an error.
		is.log.Debug("Ignoring non-raw object", "path", ev.Path)
		return nil
	}

	switch types.MediaTypeFor(ev.ContentType) {
	case types.MediaTypeImage:
		// Images pass through untouched; raw object doubles as the output.
		err := is.docs.Merge(ctx, types.CollectionAssets, assetID, map[string]any{
			"ownerUid":    uid,
			"status":      string(types.StatusReady),
			"contentType": ev.ContentType,
			"media": map[string]any{
				"srcPath":   ev.Path,
				"outPath":   ev.Path,
				"thumbPath": nil,
			},
			"updatedAt": time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("mark image asset %s ready: %w", assetID, err)
		}
		is.log.Info("Image asset ready", "assetId", assetID, "uid", uid)
		return nil

	case types.MediaTypeVideo:
		err := is.docs.Merge(ctx, types.CollectionAssets, assetID, map[string]any{
			"ownerUid":    uid,
			"status":      string(types.StatusProcessing),
			"contentType": ev.ContentType,
			"media":       map[string]any{"srcPath": ev.Path},
			"updatedAt":   time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("mark video asset %s processing: %w", assetID, err)
		}

		job := types.TranscodeJob{
			Bucket:    ev.Bucket,
			RawPath:   ev.Path,
			OutPath:   types.OutputPath(uid, assetID),
			ThumbPath: types.ThumbPath(uid, assetID),
			AssetID:   assetID,
		}
		if err := is.queue.EnqueueTranscode(ctx, job); err != nil {
			return fmt.Errorf("enqueue transcode for asset %s: %w", assetID, err)
		}
		return nil

	default:
		// Terminal, not silently dropped: the client sees failed + reason code
		// instead of an asset stuck in uploading.
		err := is.docs.Merge(ctx, types.CollectionAssets, assetID, map[string]any{
			"ownerUid":    uid,
			"status":      string(types.StatusFailed),
			"contentType": ev.ContentType,
			"media":       map[string]any{"srcPath": ev.Path},
			"error": map[string]any{
				"code":    types.ErrCodeUnsupported,
				"message": fmt.Sprintf("content type %q is not supported", ev.ContentType),
			},
			"updatedAt": time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("mark asset %s unsupported: %w", assetID, err)
		}
		is.log.Warn("Unsupported content type", "assetId", assetID, "contentType", ev.ContentType)
		return nil
	}
}
