package app

import (
	"time"

	"github.com/yamabiko/tabiroku-backend/internal/platform/envutil"
)

type Config struct {
	ListenAddr string

	ProjectID  string
	LocationID string
	RawBucket  string
	CDNDomain  string

	QueueID      string
	TranscodeURL string
	InvokerSA    string

	// AuthProjectID is the Firebase project whose ID tokens are accepted;
	// defaults to ProjectID.
	AuthProjectID string
	// ServiceAudience is the OIDC audience expected on push requests. Empty
	// leaves the push endpoints unauthenticated (local dev only).
	ServiceAudience string

	SignTTL           time.Duration
	EncodeTimeout     time.Duration
	ReconcilePageSize int

	AllowedOrigins []string
}

func LoadConfig() Config {
	cfg := Config{
		ListenAddr:        ":" + envutil.String("PORT", "8080"),
		ProjectID:         envutil.String("GCP_PROJECT_ID", ""),
		LocationID:        envutil.String("GCP_LOCATION", "asia-northeast1"),
		RawBucket:         envutil.String("RAW_BUCKET_NAME", ""),
		CDNDomain:         envutil.String("CDN_DOMAIN", ""),
		QueueID:           envutil.String("TRANSCODE_QUEUE_ID", "transcode-queue"),
		TranscodeURL:      envutil.String("TRANSCODE_URL", ""),
		InvokerSA:         envutil.String("INVOKER_SA", ""),
		AuthProjectID:     envutil.String("AUTH_PROJECT_ID", ""),
		ServiceAudience:   envutil.String("SERVICE_AUDIENCE", ""),
		SignTTL:           envutil.Duration("SIGN_TTL", 10*time.Minute),
		EncodeTimeout:     envutil.Duration("ENCODE_TIMEOUT", 10*time.Minute),
		ReconcilePageSize: envutil.Int("RECONCILE_PAGE_SIZE", 300),
		AllowedOrigins: envutil.List("ALLOWED_ORIGINS", []string{
			"http://localhost:5000",
		}),
	}
	if cfg.AuthProjectID == "" {
		cfg.AuthProjectID = cfg.ProjectID
	}
	return cfg
}
