package gcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"

	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
)

// BucketService is the capability surface over object storage: time-limited
// read/write grants plus byte transfer. Paths are object keys within the single
// raw/public bucket; callers never see bucket internals.
type BucketService interface {
	SignedUploadURL(path, contentType string, ttl time.Duration) (string, error)
	SignedReadURL(path string, ttl time.Duration) (string, error)
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	Upload(ctx context.Context, path string, r io.Reader, opts UploadOptions) error
	ObjectSize(ctx context.Context, path string) (int64, error)
	PublicURL(path string) string
}

type UploadOptions struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
	cdnDomain     string
}

func NewBucketService(log *logger.Logger, bucketName, cdnDomain string) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	ctx := context.Background()
	opts := ClientOptionsFromEnv()
	stClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		bucketName:    bucketName,
		cdnDomain:     cdnDomain,
	}, nil
}

func (bs *bucketService) SignedUploadURL(path, contentType string, ttl time.Duration) (string, error) {
	url, err := bs.storageClient.Bucket(bs.bucketName).SignedURL(path, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      "PUT",
		Expires:     time.Now().Add(ttl),
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign upload URL for %q: %w", path, err)
	}
	return url, nil
}

func (bs *bucketService) SignedReadURL(path string, ttl time.Duration) (string, error) {
	url, err := bs.storageClient.Bucket(bs.bucketName).SignedURL(path, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign read URL for %q: %w", path, err)
	}
	return url, nil
}

// Cancel must not fire before the caller finishes reading, so it is attached to
// the reader's Close instead of deferred here.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (bs *bucketService) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Minute)
	r, err := bs.storageClient.Bucket(bs.bucketName).Object(path).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open GCS reader for %q: %w", path, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (bs *bucketService) Upload(ctx context.Context, path string, r io.Reader, opts UploadOptions) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	w := bs.storageClient.Bucket(bs.bucketName).Object(path).NewWriter(ctx)
	if opts.ContentType != "" {
		w.ContentType = opts.ContentType
	}
	if opts.CacheControl != "" {
		w.CacheControl = opts.CacheControl
	}
	if len(opts.Metadata) > 0 {
		w.Metadata = opts.Metadata
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

// UploadFile streams a local file into the bucket.
func UploadFile(ctx context.Context, bs BucketService, localPath, objectPath string, opts UploadOptions) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %q: %w", localPath, err)
	}
	defer f.Close()
	return bs.Upload(ctx, objectPath, f, opts)
}

func (bs *bucketService) ObjectSize(ctx context.Context, path string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	attrs, err := bs.storageClient.Bucket(bs.bucketName).Object(path).Attrs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to stat GCS object %q: %w", path, err)
	}
	return attrs.Size, nil
}

func (bs *bucketService) PublicURL(path string) string {
	if bs.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", bs.cdnDomain, path)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bs.bucketName, path)
}
