package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yamabiko/tabiroku-backend/internal/platform/apierr"
	"github.com/yamabiko/tabiroku-backend/internal/platform/gcp"
	"github.com/yamabiko/tabiroku-backend/internal/platform/localmedia"
	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
	"github.com/yamabiko/tabiroku-backend/internal/types"
)

const outputCacheControl = "public, max-age=3600"

// TranscodeService executes one durable transcode job: download raw, re-encode
// to the delivery profile, extract a thumbnail, upload both, record the
// terminal state. Safe under redelivery: a job whose asset is already ready is
// a no-op, and a late duplicate overwrites with equivalent data since outputs
// are deterministic for the same input.
type TranscodeService interface {
	Handle(ctx context.Context, job types.TranscodeJob) error
}

type transcodeService struct {
	log    *logger.Logger
	docs   gcp.DocumentStore
	bucket gcp.BucketService
	tools  localmedia.Tools
}

func NewTranscodeService(log *logger.Logger, docs gcp.DocumentStore, bucket gcp.BucketService, tools localmedia.Tools) TranscodeService {
	return &transcodeService{
		log:    log.With("service", "TranscodeService"),
		docs:   docs,
		bucket: bucket,
		tools:  tools,
	}
}

func (ts *transcodeService) Handle(ctx context.Context, job types.TranscodeJob) error {
	if err := job.Validate(); err != nil {
		return apierr.New(http.StatusBadRequest, "INVALID_ARGUMENT", err)
	}

	if done, err := ts.alreadyReady(ctx, job.AssetID); err != nil {
		return err
	} else if done {
		ts.log.Info("Asset already ready, skipping redelivered job", "assetId", job.AssetID)
		return nil
	}

	if err := ts.run(ctx, job); err != nil {
		ts.markFailed(ctx, job.AssetID, err)
		return err
	}
	return nil
}

func (ts *transcodeService) alreadyReady(ctx context.Context, assetID string) (bool, error) {
	doc, err := ts.docs.Get(ctx, types.CollectionAssets, assetID)
	if errors.Is(err, gcp.ErrDocNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load asset %s: %w", assetID, err)
	}
	asset, err := types.AssetFromData(doc.ID, doc.Data)
	if err != nil {
		return false, nil
	}
	return asset.Status == types.StatusReady, nil
}

func (ts *transcodeService) run(ctx context.Context, job types.TranscodeJob) error {
	scratch, cleanup, err := ts.tools.WorkDir(job.AssetID)
	if err != nil {
		return err
	}
	defer cleanup()

	tmpIn := filepath.Join(scratch, "in"+types.RawSuffix)
	tmpOut := filepath.Join(scratch, "out.mp4")
	tmpThumb := filepath.Join(scratch, "thumb.jpg")

	if err := ts.download(ctx, job.RawPath, tmpIn); err != nil {
		return fmt.Errorf("download raw object: %w", err)
	}
	if err := ts.tools.TranscodeVideo(ctx, tmpIn, tmpOut); err != nil {
		return err
	}
	if err := ts.tools.ExtractThumbnail(ctx, tmpOut, tmpThumb); err != nil {
		return err
	}

	info, err := ts.tools.Probe(ctx, tmpOut)
	if err != nil {
		// Metadata is best-effort; the encoded output is still usable.
		ts.log.Warn("Probe failed, output metadata omitted", "assetId", job.AssetID, "error", err)
		info = localmedia.VideoInfo{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gcp.UploadFile(gctx, ts.bucket, tmpOut, job.OutPath, gcp.UploadOptions{
			ContentType:  "video/mp4",
			CacheControl: outputCacheControl,
			Metadata:     map[string]string{"transcoded": "true"},
		})
	})
	g.Go(func() error {
		return gcp.UploadFile(gctx, ts.bucket, tmpThumb, job.ThumbPath, gcp.UploadOptions{
			ContentType:  "image/jpeg",
			CacheControl: outputCacheControl,
		})
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("upload outputs: %w", err)
	}

	outBytes, err := ts.bucket.ObjectSize(ctx, job.OutPath)
	if err != nil {
		return fmt.Errorf("stat output object: %w", err)
	}

	fields := map[string]any{
		"status": string(types.StatusReady),
		"media": map[string]any{
			"outPath":   job.OutPath,
			"thumbPath": job.ThumbPath,
		},
		"bytes":     map[string]any{"out": outBytes},
		"updatedAt": time.Now().UTC(),
	}
	if info.Width > 0 {
		fields["width"] = info.Width
	}
	if info.Height > 0 {
		fields["height"] = info.Height
	}
	if info.DurationSec > 0 {
		fields["durationSec"] = info.DurationSec
	}
	if err := ts.docs.Merge(ctx, types.CollectionAssets, job.AssetID, fields); err != nil {
		return fmt.Errorf("mark asset %s ready: %w", job.AssetID, err)
	}

	ts.log.Info("Transcode complete", "assetId", job.AssetID, "outPath", job.OutPath, "bytes", outBytes)
	return nil
}

func (ts *transcodeService) download(ctx context.Context, objectPath, localPath string) error {
	r, err := ts.bucket.Download(ctx, objectPath)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", localPath, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("copy %q to %q: %w", objectPath, localPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %q: %w", localPath, err)
	}
	return nil
}

// markFailed records the terminal failure. The queue decides whether to retry
// or dead-letter based on the handler's non-success response; if a later
// attempt succeeds, its ready merge supersedes this write.
func (ts *transcodeService) markFailed(ctx context.Context, assetID string, cause error) {
	err := ts.docs.Merge(ctx, types.CollectionAssets, assetID, map[string]any{
		"status": string(types.StatusFailed),
		"error": map[string]any{
			"code":    types.ErrCodeTranscode,
			"message": cause.Error(),
		},
		"updatedAt": time.Now().UTC(),
	})
	if err != nil {
		ts.log.Error("Failed to record transcode failure", "assetId", assetID, "error", err)
	}
}
