package types

import (
	"fmt"
	"strings"
	"time"
)

// Status is the asset lifecycle state. Progression is forward-only:
// uploading -> processing -> ready, or any state -> failed. A failed attempt is
// retried with a fresh asset id, never by resurrecting the old record.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Error codes recorded on failed assets.
const (
	ErrCodeTranscode   = "TRANSCODE_ERROR"
	ErrCodeUnsupported = "UNSUPPORTED_CONTENT_TYPE"
)

type MediaType string

const (
	MediaTypeImage   MediaType = "image"
	MediaTypeVideo   MediaType = "video"
	MediaTypeUnknown MediaType = "unknown"
)

// MediaTypeFor classifies by the declared MIME type prefix.
func MediaTypeFor(contentType string) MediaType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return MediaTypeImage
	case strings.HasPrefix(contentType, "video/"):
		return MediaTypeVideo
	default:
		return MediaTypeUnknown
	}
}

type MediaPaths struct {
	SrcPath   string
	OutPath   string
	ThumbPath string
}

type AssetError struct {
	Code    string
	Message string
}

// Asset tracks one uploaded media object's processing lifecycle.
type Asset struct {
	ID          string
	OwnerUID    string
	Status      Status
	ContentType string
	Media       MediaPaths
	OutBytes    int64
	Width       int
	Height      int
	DurationSec float64
	Error       *AssetError
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AssetFromData decodes a document-store payload. Unknown fields are ignored;
// a payload missing ownerUid or status is rejected as malformed.
func AssetFromData(id string, data map[string]any) (*Asset, error) {
	if id == "" {
		return nil, fmt.Errorf("asset id is empty")
	}
	if data == nil {
		return nil, fmt.Errorf("asset %s: no data", id)
	}
	owner := getString(data, "ownerUid")
	status := getString(data, "status")
	if owner == "" || status == "" {
		return nil, fmt.Errorf("asset %s: missing ownerUid or status", id)
	}

	a := &Asset{
		ID:          id,
		OwnerUID:    owner,
		Status:      Status(status),
		ContentType: getString(data, "contentType"),
		OutBytes:    getInt(getMap(data, "bytes"), "out"),
		Width:       int(getInt(data, "width")),
		Height:      int(getInt(data, "height")),
		DurationSec: getFloat(data, "durationSec"),
		CreatedAt:   getTime(data, "createdAt"),
		UpdatedAt:   getTime(data, "updatedAt"),
	}
	if media := getMap(data, "media"); media != nil {
		a.Media = MediaPaths{
			SrcPath:   getString(media, "srcPath"),
			OutPath:   getString(media, "outPath"),
			ThumbPath: getString(media, "thumbPath"),
		}
	}
	if e := getMap(data, "error"); e != nil {
		a.Error = &AssetError{Code: getString(e, "code"), Message: getString(e, "message")}
	}
	return a, nil
}

// MediaSummary is the denormalized per-asset entry kept on parent documents.
type MediaSummary struct {
	AssetID     string
	Type        MediaType
	URL         string
	ThumbURL    string
	Width       int
	Height      int
	DurationSec float64
	Status      Status
}

// Summary builds the denormalized view of the asset. publicURL composes a
// readable URL from an object path.
func (a *Asset) Summary(publicURL func(string) string) MediaSummary {
	s := MediaSummary{
		AssetID:     a.ID,
		Type:        MediaTypeFor(a.ContentType),
		Width:       a.Width,
		Height:      a.Height,
		DurationSec: a.DurationSec,
		Status:      a.Status,
	}
	if a.Media.OutPath != "" {
		s.URL = publicURL(a.Media.OutPath)
	}
	if a.Media.ThumbPath != "" {
		s.ThumbURL = publicURL(a.Media.ThumbPath)
	}
	return s
}

// Fields renders the summary as a document-store value. Nil stands in for
// absent URLs and metadata so readers can distinguish "unset" from zero.
func (s MediaSummary) Fields() map[string]any {
	m := map[string]any{
		"assetId":     s.AssetID,
		"type":        string(s.Type),
		"url":         nilIfEmpty(s.URL),
		"thumbUrl":    nilIfEmpty(s.ThumbURL),
		"width":       nilIfZeroInt(s.Width),
		"height":      nilIfZeroInt(s.Height),
		"durationSec": nilIfZeroFloat(s.DurationSec),
		"status":      string(s.Status),
	}
	return m
}

// SummaryFromValue decodes one element of a parent document's media array.
func SummaryFromValue(v any) (MediaSummary, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return MediaSummary{}, false
	}
	id := getString(m, "assetId")
	if id == "" {
		return MediaSummary{}, false
	}
	return MediaSummary{
		AssetID:     id,
		Type:        MediaType(getString(m, "type")),
		URL:         getString(m, "url"),
		ThumbURL:    getString(m, "thumbUrl"),
		Width:       int(getInt(m, "width")),
		Height:      int(getInt(m, "height")),
		DurationSec: getFloat(m, "durationSec"),
		Status:      Status(getString(m, "status")),
	}, true
}

// TranscodeJob is the durable queue message. Delivery is at-least-once; the
// worker keys its terminal write on AssetID.
type TranscodeJob struct {
	Bucket    string `json:"bucket"`
	RawPath   string `json:"rawPath"`
	OutPath   string `json:"outPath"`
	ThumbPath string `json:"thumbPath"`
	AssetID   string `json:"assetId"`
}

func (j TranscodeJob) Validate() error {
	if j.Bucket == "" || j.RawPath == "" || j.OutPath == "" || j.ThumbPath == "" || j.AssetID == "" {
		return fmt.Errorf("missing params")
	}
	return nil
}

// ---------- loose-payload helpers ----------

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]any)
	return sub
}

func getInt(m map[string]any, key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func getFloat(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func getTime(m map[string]any, key string) time.Time {
	if m == nil {
		return time.Time{}
	}
	t, _ := m[key].(time.Time)
	return t
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfZeroInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}

func nilIfZeroFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}
