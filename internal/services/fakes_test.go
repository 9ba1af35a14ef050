package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/yamabiko/tabiroku-backend/internal/platform/gcp"
	"github.com/yamabiko/tabiroku-backend/internal/platform/localmedia"
	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
	"github.com/yamabiko/tabiroku-backend/internal/types"
)

func testLogger() *logger.Logger {
	log, err := logger.New("development")
	if err != nil {
		panic(err)
	}
	return log
}

// ---------- document store fake ----------

// fakeDocStore mirrors the merge semantics the reconciler and trigger rely on:
// nested maps merge leaf-by-leaf, everything else overwrites.
type fakeDocStore struct {
	mu   sync.Mutex
	cols map[string]map[string]map[string]any

	failMerge error
	failQuery error
	merges    int
	batches   int
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{cols: map[string]map[string]map[string]any{}}
}

func (f *fakeDocStore) collection(name string) map[string]map[string]any {
	col, ok := f.cols[name]
	if !ok {
		col = map[string]map[string]any{}
		f.cols[name] = col
	}
	return col
}

func (f *fakeDocStore) seed(collection, id string, data map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collection(collection)[id] = deepCopy(data)
}

func (f *fakeDocStore) get(collection, id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.collection(collection)[id]
	if !ok {
		return nil
	}
	return deepCopy(data)
}

func (f *fakeDocStore) Get(ctx context.Context, collection, id string) (*gcp.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.collection(collection)[id]
	if !ok {
		return nil, gcp.ErrDocNotFound
	}
	return &gcp.Document{ID: id, Data: deepCopy(data)}, nil
}

func (f *fakeDocStore) Create(ctx context.Context, collection, id string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	col := f.collection(collection)
	if _, ok := col[id]; ok {
		return gcp.ErrDocExists
	}
	col[id] = deepCopy(data)
	return nil
}

func (f *fakeDocStore) Merge(ctx context.Context, collection, id string, fields map[string]any) error {
	if f.failMerge != nil {
		return f.failMerge
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges++
	col := f.collection(collection)
	existing, ok := col[id]
	if !ok {
		existing = map[string]any{}
		col[id] = existing
	}
	deepMerge(existing, fields)
	return nil
}

func (f *fakeDocStore) QueryArrayContains(ctx context.Context, collection, field string, value any, pageSize int, cursor string) (*gcp.Page, error) {
	if f.failQuery != nil {
		return nil, f.failQuery
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	col := f.collection(collection)
	ids := make([]string, 0, len(col))
	for id, data := range col {
		if arr, ok := data[field].([]any); ok && containsValue(arr, value) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	page := &gcp.Page{}
	for _, id := range ids {
		if cursor != "" && id <= cursor {
			continue
		}
		page.Docs = append(page.Docs, gcp.Document{ID: id, Data: deepCopy(col[id])})
		if len(page.Docs) == pageSize {
			break
		}
	}
	if len(page.Docs) == pageSize {
		page.NextCursor = page.Docs[len(page.Docs)-1].ID
	}
	return page, nil
}

func (f *fakeDocStore) BatchMerge(ctx context.Context, ops []gcp.MergeOp) error {
	f.mu.Lock()
	f.batches++
	f.mu.Unlock()
	for _, op := range ops {
		if err := f.Merge(ctx, op.Collection, op.ID, op.Fields); err != nil {
			return err
		}
	}
	return nil
}

func containsValue(arr []any, value any) bool {
	for _, v := range arr {
		if v == value {
			return true
		}
	}
	return false
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = deepCopy(sub)
			continue
		}
		if arr, ok := v.([]any); ok {
			cp := make([]any, len(arr))
			for i, e := range arr {
				if sub, ok := e.(map[string]any); ok {
					cp[i] = deepCopy(sub)
				} else {
					cp[i] = e
				}
			}
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				deepMerge(dv, sv)
				continue
			}
			dst[k] = deepCopy(sv)
			continue
		}
		dst[k] = v
	}
}

// ---------- bucket fake ----------

type uploadRecord struct {
	Path string
	Opts gcp.UploadOptions
	Size int64
}

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads []uploadRecord

	downloadErr error
	uploadErr   error
	signErr     error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (f *fakeBucket) put(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = data
}

func (f *fakeBucket) SignedUploadURL(path, contentType string, ttl time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://signed.example/put/" + path, nil
}

func (f *fakeBucket) SignedReadURL(path string, ttl time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://signed.example/get/" + path, nil
}

func (f *fakeBucket) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %q not found", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBucket) Upload(ctx context.Context, path string, r io.Reader, opts gcp.UploadOptions) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = data
	f.uploads = append(f.uploads, uploadRecord{Path: path, Opts: opts, Size: int64(len(data))})
	return nil
}

func (f *fakeBucket) ObjectSize(ctx context.Context, path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[path]
	if !ok {
		return 0, fmt.Errorf("object %q not found", path)
	}
	return int64(len(data)), nil
}

func (f *fakeBucket) PublicURL(path string) string {
	return "https://storage.googleapis.com/test-bucket/" + path
}

// ---------- queue fake ----------

type fakeQueue struct {
	mu         sync.Mutex
	jobs       []types.TranscodeJob
	enqueueErr error
}

func (f *fakeQueue) EnqueueTranscode(ctx context.Context, job types.TranscodeJob) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

// ---------- verifier fake ----------

type fakeVerifier struct {
	uids map[string]string // token -> uid
}

func (f *fakeVerifier) VerifyIDToken(ctx context.Context, idToken string) (string, error) {
	if uid, ok := f.uids[idToken]; ok {
		return uid, nil
	}
	return "", fmt.Errorf("invalid id_token")
}

// ---------- media tools fake ----------

type fakeTools struct {
	transcodeErr error
	thumbErr     error
	probeErr     error
	probeInfo    localmedia.VideoInfo

	transcoded []string
}

func (f *fakeTools) AssertReady(ctx context.Context) error { return nil }

func (f *fakeTools) TranscodeVideo(ctx context.Context, inputPath, outputPath string) error {
	if f.transcodeErr != nil {
		return f.transcodeErr
	}
	if _, err := os.Stat(inputPath); err != nil {
		return fmt.Errorf("input missing: %w", err)
	}
	f.transcoded = append(f.transcoded, inputPath)
	return os.WriteFile(outputPath, []byte("encoded-video"), 0o644)
}

func (f *fakeTools) ExtractThumbnail(ctx context.Context, videoPath, outputPath string) error {
	if f.thumbErr != nil {
		return f.thumbErr
	}
	if _, err := os.Stat(videoPath); err != nil {
		return fmt.Errorf("video missing: %w", err)
	}
	return os.WriteFile(outputPath, []byte("jpeg"), 0o644)
}

func (f *fakeTools) Probe(ctx context.Context, path string) (localmedia.VideoInfo, error) {
	if f.probeErr != nil {
		return localmedia.VideoInfo{}, f.probeErr
	}
	return f.probeInfo, nil
}

func (f *fakeTools) WorkDir(assetID string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "tabiroku-test-"+assetID+"-")
	if err != nil {
		return "", func() {}, err
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}
