package services

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/yamabiko/tabiroku-backend/internal/platform/localmedia"
	"github.com/yamabiko/tabiroku-backend/internal/types"
)

func newTranscodeFixture() (TranscodeService, *fakeDocStore, *fakeBucket, *fakeTools) {
	docs := newFakeDocStore()
	bucket := newFakeBucket()
	tools := &fakeTools{probeInfo: localmedia.VideoInfo{Width: 1280, Height: 720, DurationSec: 8.5}}
	ts := NewTranscodeService(testLogger(), docs, bucket, tools)
	return ts, docs, bucket, tools
}

func testJob() types.TranscodeJob {
	return types.TranscodeJob{
		Bucket:    "media-bucket",
		RawPath:   "raw/u1/a1.orig",
		OutPath:   "public/u1/a1.mp4",
		ThumbPath: "thumbs/u1/a1.jpg",
		AssetID:   "a1",
	}
}

func TestTranscodeHandleSuccess(t *testing.T) {
	ts, docs, bucket, _ := newTranscodeFixture()
	bucket.put("raw/u1/a1.orig", []byte("raw-bytes"))
	docs.seed(types.CollectionAssets, "a1", map[string]any{
		"ownerUid": "u1",
		"status":   "processing",
		"media":    map[string]any{"srcPath": "raw/u1/a1.orig"},
	})

	if err := ts.Handle(context.Background(), testJob()); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	rec := docs.get(types.CollectionAssets, "a1")
	if rec["status"] != "ready" {
		t.Fatalf("status: %v", rec["status"])
	}
	media := rec["media"].(map[string]any)
	if media["outPath"] != "public/u1/a1.mp4" || media["thumbPath"] != "thumbs/u1/a1.jpg" {
		t.Fatalf("media: %+v", media)
	}
	if media["srcPath"] != "raw/u1/a1.orig" {
		t.Fatalf("srcPath lost by merge: %+v", media)
	}
	sizes := rec["bytes"].(map[string]any)
	if sizes["out"].(int64) <= 0 {
		t.Fatalf("bytes.out: %v", sizes["out"])
	}
	if rec["width"] != 1280 || rec["height"] != 720 || rec["durationSec"] != 8.5 {
		t.Fatalf("metadata: %+v", rec)
	}

	if len(bucket.uploads) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(bucket.uploads))
	}
	for _, up := range bucket.uploads {
		if up.Opts.CacheControl != "public, max-age=3600" {
			t.Fatalf("cache control on %s: %q", up.Path, up.Opts.CacheControl)
		}
		switch up.Path {
		case "public/u1/a1.mp4":
			if up.Opts.ContentType != "video/mp4" || up.Opts.Metadata["transcoded"] != "true" {
				t.Fatalf("output upload opts: %+v", up.Opts)
			}
		case "thumbs/u1/a1.jpg":
			if up.Opts.ContentType != "image/jpeg" {
				t.Fatalf("thumb upload opts: %+v", up.Opts)
			}
		default:
			t.Fatalf("unexpected upload path %q", up.Path)
		}
	}
}

func TestTranscodeHandleRejectsInvalidJob(t *testing.T) {
	ts, _, _, _ := newTranscodeFixture()
	err := ts.Handle(context.Background(), types.TranscodeJob{Bucket: "b"})
	wantAPIErr(t, err, http.StatusBadRequest, "INVALID_ARGUMENT")
}

func TestTranscodeHandleSkipsReadyAsset(t *testing.T) {
	ts, docs, bucket, tools := newTranscodeFixture()
	docs.seed(types.CollectionAssets, "a1", map[string]any{
		"ownerUid": "u1",
		"status":   "ready",
		"media":    map[string]any{"outPath": "public/u1/a1.mp4"},
	})

	if err := ts.Handle(context.Background(), testJob()); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(tools.transcoded) != 0 || len(bucket.uploads) != 0 {
		t.Fatal("redelivered job for ready asset must be a no-op")
	}
}

func TestTranscodeHandleMarksFailedOnEncodeError(t *testing.T) {
	ts, docs, bucket, tools := newTranscodeFixture()
	bucket.put("raw/u1/a1.orig", []byte("raw-bytes"))
	docs.seed(types.CollectionAssets, "a1", map[string]any{
		"ownerUid": "u1",
		"status":   "processing",
	})
	tools.transcodeErr = errors.New("ffmpeg exited with code 1")

	err := ts.Handle(context.Background(), testJob())
	if err == nil {
		t.Fatal("expected encode error to propagate")
	}

	rec := docs.get(types.CollectionAssets, "a1")
	if rec["status"] != "failed" {
		t.Fatalf("status: %v", rec["status"])
	}
	errInfo := rec["error"].(map[string]any)
	if errInfo["code"] != types.ErrCodeTranscode {
		t.Fatalf("error code: %v", errInfo["code"])
	}
	if errInfo["message"] == "" {
		t.Fatal("error message empty")
	}
	if len(bucket.uploads) != 0 {
		t.Fatalf("no outputs should be uploaded on failure: %+v", bucket.uploads)
	}
}

func TestTranscodeHandleMarksFailedOnMissingRawObject(t *testing.T) {
	ts, docs, _, _ := newTranscodeFixture()
	docs.seed(types.CollectionAssets, "a1", map[string]any{
		"ownerUid": "u1",
		"status":   "processing",
	})

	if err := ts.Handle(context.Background(), testJob()); err == nil {
		t.Fatal("expected download error")
	}
	if docs.get(types.CollectionAssets, "a1")["status"] != "failed" {
		t.Fatal("asset not marked failed")
	}
}

func TestTranscodeHandleToleratesProbeFailure(t *testing.T) {
	ts, docs, bucket, tools := newTranscodeFixture()
	bucket.put("raw/u1/a1.orig", []byte("raw-bytes"))
	docs.seed(types.CollectionAssets, "a1", map[string]any{
		"ownerUid": "u1",
		"status":   "processing",
	})
	tools.probeErr = errors.New("ffprobe crashed")

	if err := ts.Handle(context.Background(), testJob()); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	rec := docs.get(types.CollectionAssets, "a1")
	if rec["status"] != "ready" {
		t.Fatalf("status: %v", rec["status"])
	}
	if _, ok := rec["width"]; ok {
		t.Fatalf("width must be omitted when probe fails: %+v", rec)
	}
}
