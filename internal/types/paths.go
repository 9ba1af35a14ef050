package types

import (
	"fmt"
	"strings"
)

// Object path scheme. The server computes every path from (uid, assetId); the
// raw suffix is fixed so a client can never steer an upload outside its own
// prefix.
const (
	RawPrefix    = "raw/"
	PublicPrefix = "public/"
	ThumbsPrefix = "thumbs/"
	RawSuffix    = ".orig"
)

func RawObjectPath(uid, assetID string) string {
	return fmt.Sprintf("%s%s/%s%s", RawPrefix, uid, assetID, RawSuffix)
}

func OutputPath(uid, assetID string) string {
	return fmt.Sprintf("%s%s/%s.mp4", PublicPrefix, uid, assetID)
}

func ThumbPath(uid, assetID string) string {
	return fmt.Sprintf("%s%s/%s.jpg", ThumbsPrefix, uid, assetID)
}

// ParseRawPath extracts (uid, assetId) from a raw object path. The parse is
// trusted because raw paths are only ever server-generated. ok is false for
// anything outside the raw prefix or not shaped raw/{uid}/{file}.
func ParseRawPath(path string) (uid, assetID string, ok bool) {
	if !strings.HasPrefix(path, RawPrefix) {
		return "", "", false
	}
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	uid = parts[1]
	filename := parts[2]
	if i := strings.LastIndex(filename, "."); i > 0 {
		filename = filename[:i]
	}
	return uid, filename, true
}
