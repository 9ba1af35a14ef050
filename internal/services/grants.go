package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/yamabiko/tabiroku-backend/internal/platform/apierr"
	"github.com/yamabiko/tabiroku-backend/internal/platform/gcp"
	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
	"github.com/yamabiko/tabiroku-backend/internal/types"
)

// allowedContentTypes is the grant-time MIME allow-list. Extend as needed.
var allowedContentTypes = map[string]bool{
	"video/mp4":        true,
	"video/quicktime":  true,
	"video/x-matroska": true,
	"video/avi":        true,
	"video/webm":       true,
	"image/jpeg":       true,
	"image/png":        true,
	"image/gif":        true,
	"image/webp":       true,
}

type UploadGrant struct {
	URL        string
	Method     string
	Headers    map[string]string
	ExpiresAt  time.Time
	ObjectPath string
	AssetID    string
}

type DownloadGrant struct {
	URL       string
	ThumbURL  string
	ExpiresAt time.Time
}

// GrantService issues time-limited, path-scoped storage grants. The object
// path is always server-computed from (uid, assetId); nothing else the client
// sends can influence it.
type GrantService interface {
	IssueUploadGrant(ctx context.Context, idToken, assetID, contentType string) (*UploadGrant, error)
	IssueDownloadGrant(ctx context.Context, idToken, assetID string) (*DownloadGrant, error)
}

type grantService struct {
	log      *logger.Logger
	verifier TokenVerifier
	bucket   gcp.BucketService
	docs     gcp.DocumentStore
	signTTL  time.Duration
}

func NewGrantService(log *logger.Logger, verifier TokenVerifier, bucket gcp.BucketService, docs gcp.DocumentStore, signTTL time.Duration) GrantService {
	if signTTL <= 0 {
		signTTL = 10 * time.Minute
	}
	return &grantService{
		log:      log.With("service", "GrantService"),
		verifier: verifier,
		bucket:   bucket,
		docs:     docs,
		signTTL:  signTTL,
	}
}

func (gs *grantService) IssueUploadGrant(ctx context.Context, idToken, assetID, contentType string) (*UploadGrant, error) {
	uid, err := gs.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, apierr.New(http.StatusUnauthorized, "UNAUTHENTICATED", err)
	}
	if assetID == "" || contentType == "" {
		return nil, apierr.New(http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Errorf("contentType and assetId are required"))
	}
	if !allowedContentTypes[contentType] {
		return nil, apierr.New(http.StatusBadRequest, "UNSUPPORTED_CONTENT_TYPE", fmt.Errorf("content type %q not allowed", contentType))
	}

	// The final path is forced server-side; a forged assetId can at worst
	// collide inside the caller's own prefix.
	objectPath := types.RawObjectPath(uid, assetID)

	if err := gs.ensureAssetRecord(ctx, uid, assetID, contentType, objectPath); err != nil {
		return nil, err
	}

	expires := time.Now().Add(gs.signTTL)
	url, err := gs.bucket.SignedUploadURL(objectPath, contentType, gs.signTTL)
	if err != nil {
		return nil, fmt.Errorf("sign upload URL: %w", err)
	}

	gs.log.Info("Issued upload grant", "uid", uid, "assetId", assetID, "objectPath", objectPath)
	return &UploadGrant{
		URL:        url,
		Method:     http.MethodPut,
		Headers:    map[string]string{"Content-Type": contentType},
		ExpiresAt:  expires,
		ObjectPath: objectPath,
		AssetID:    assetID,
	}, nil
}

// ensureAssetRecord creates the asset in its initial uploading state, exactly
// once. ownerUid is immutable: an id already claimed by another user is
// rejected, and a same-owner re-request is treated as a fresh attempt over the
// same record.
func (gs *grantService) ensureAssetRecord(ctx context.Context, uid, assetID, contentType, objectPath string) error {
	doc, err := gs.docs.Get(ctx, types.CollectionAssets, assetID)
	if err != nil && !errors.Is(err, gcp.ErrDocNotFound) {
		return fmt.Errorf("load asset %s: %w", assetID, err)
	}
	if doc != nil {
		if owner := ownerOf(doc.Data); owner != "" && owner != uid {
			return apierr.New(http.StatusForbidden, "FORBIDDEN", fmt.Errorf("asset id already in use"))
		}
		return nil
	}

	now := time.Now().UTC()
	err = gs.docs.Create(ctx, types.CollectionAssets, assetID, map[string]any{
		"ownerUid":    uid,
		"status":      string(types.StatusUploading),
		"contentType": contentType,
		"media":       map[string]any{"srcPath": objectPath},
		"createdAt":   now,
		"updatedAt":   now,
	})
	if errors.Is(err, gcp.ErrDocExists) {
		// Lost a create race; re-check ownership.
		doc, err = gs.docs.Get(ctx, types.CollectionAssets, assetID)
		if err != nil {
			return fmt.Errorf("reload asset %s: %w", assetID, err)
		}
		if owner := ownerOf(doc.Data); owner != "" && owner != uid {
			return apierr.New(http.StatusForbidden, "FORBIDDEN", fmt.Errorf("asset id already in use"))
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("create asset %s: %w", assetID, err)
	}
	return nil
}

func (gs *grantService) IssueDownloadGrant(ctx context.Context, idToken, assetID string) (*DownloadGrant, error) {
	uid, err := gs.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, apierr.New(http.StatusUnauthorized, "UNAUTHENTICATED", err)
	}
	if assetID == "" {
		return nil, apierr.New(http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Errorf("assetId required"))
	}

	doc, err := gs.docs.Get(ctx, types.CollectionAssets, assetID)
	if errors.Is(err, gcp.ErrDocNotFound) {
		return nil, apierr.New(http.StatusNotFound, "NOT_FOUND", fmt.Errorf("asset not found"))
	}
	if err != nil {
		return nil, fmt.Errorf("load asset %s: %w", assetID, err)
	}

	asset, err := types.AssetFromData(doc.ID, doc.Data)
	if err != nil {
		return nil, apierr.New(http.StatusNotFound, "NOT_FOUND", fmt.Errorf("asset record malformed: %w", err))
	}
	if asset.OwnerUID != uid {
		return nil, apierr.New(http.StatusForbidden, "FORBIDDEN", fmt.Errorf("forbidden"))
	}
	if asset.Media.OutPath == "" {
		return nil, apierr.New(http.StatusConflict, "NOT_READY", fmt.Errorf("asset not ready"))
	}

	expires := time.Now().Add(gs.signTTL)
	url, err := gs.bucket.SignedReadURL(asset.Media.OutPath, gs.signTTL)
	if err != nil {
		return nil, fmt.Errorf("sign read URL: %w", err)
	}
	grant := &DownloadGrant{URL: url, ExpiresAt: expires}
	if asset.Media.ThumbPath != "" {
		thumbURL, err := gs.bucket.SignedReadURL(asset.Media.ThumbPath, gs.signTTL)
		if err != nil {
			return nil, fmt.Errorf("sign thumb read URL: %w", err)
		}
		grant.ThumbURL = thumbURL
	}
	return grant, nil
}

func ownerOf(data map[string]any) string {
	if data == nil {
		return ""
	}
	s, _ := data["ownerUid"].(string)
	return s
}
