package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yamabiko/tabiroku-backend/internal/platform/gcp"
	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
	"github.com/yamabiko/tabiroku-backend/internal/types"
)

// ReconcileService fans an asset's latest state out to every memory that
// references it. Runs on every asset write, including failure writes, so
// parent documents always reflect the most recent status. Zero referencing
// memories is the expected case for a fresh upload, not an error.
type ReconcileService interface {
	OnAssetWritten(ctx context.Context, assetID string, deleted bool) error
}

type reconcileService struct {
	log      *logger.Logger
	docs     gcp.DocumentStore
	bucket   gcp.BucketService
	pageSize int
}

func NewReconcileService(log *logger.Logger, docs gcp.DocumentStore, bucket gcp.BucketService, pageSize int) ReconcileService {
	if pageSize <= 0 {
		pageSize = 300
	}
	return &reconcileService{
		log:      log.With("service", "ReconcileService"),
		docs:     docs,
		bucket:   bucket,
		pageSize: pageSize,
	}
}

func (rs *reconcileService) OnAssetWritten(ctx context.Context, assetID string, deleted bool) error {
	if deleted {
		return nil
	}

	doc, err := rs.docs.Get(ctx, types.CollectionAssets, assetID)
	if errors.Is(err, gcp.ErrDocNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load asset %s: %w", assetID, err)
	}
	asset, err := types.AssetFromData(doc.ID, doc.Data)
	if err != nil {
		rs.log.Warn("Asset record not summarizable, skipping fan-out", "assetId", assetID, "error", err)
		return nil
	}
	summary := asset.Summary(rs.bucket.PublicURL)

	updated := 0
	cursor := ""
	for {
		page, err := rs.docs.QueryArrayContains(ctx, types.CollectionMemories, "assetIds", assetID, rs.pageSize, cursor)
		if err != nil {
			return fmt.Errorf("query memories for asset %s: %w", assetID, err)
		}
		if len(page.Docs) == 0 {
			break
		}

		ops := make([]gcp.MergeOp, 0, len(page.Docs))
		for _, memDoc := range page.Docs {
			mem := types.MemoryFromData(memDoc.ID, memDoc.Data)
			// Defense in depth: server-computed paths should make this
			// impossible, but never propagate across owners.
			if mem.OwnerUID != "" && asset.OwnerUID != "" && mem.OwnerUID != asset.OwnerUID {
				rs.log.Warn("Owner mismatch, skipping memory", "memoryId", mem.ID, "assetId", assetID)
				continue
			}
			ops = append(ops, gcp.MergeOp{
				Collection: types.CollectionMemories,
				ID:         mem.ID,
				Fields: map[string]any{
					"media":     types.MergeMediaEntry(mem.Media, summary),
					"updatedAt": time.Now().UTC(),
				},
			})
		}
		// One atomic commit per page; pages are independent.
		if err := rs.docs.BatchMerge(ctx, ops); err != nil {
			return fmt.Errorf("commit memory updates for asset %s: %w", assetID, err)
		}
		updated += len(ops)

		cursor = page.NextCursor
		if cursor == "" {
			break
		}
	}

	rs.log.Info("Asset fan-out complete", "assetId", assetID, "status", asset.Status, "updatedCount", updated)
	return nil
}
