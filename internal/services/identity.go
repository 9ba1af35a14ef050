package services

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier resolves an opaque end-user credential to a unique uid.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (uid string, err error)
}

// ServiceTokenVerifier checks the OIDC identity the task queue and event
// delivery attach to their push requests.
type ServiceTokenVerifier interface {
	VerifyServiceToken(ctx context.Context, idToken string) error
}

const (
	firebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken%40system.gserviceaccount.com"
	googleJWKSURL   = "https://www.googleapis.com/oauth2/v3/certs"
)

// idTokenVerifier validates Firebase Auth ID tokens: RS256 against the
// securetoken JWKS, iss https://securetoken.google.com/<project>, aud <project>.
type idTokenVerifier struct {
	projectID string
	jwks      *jwksCache
}

func NewIDTokenVerifier(httpClient *http.Client, projectID string) (TokenVerifier, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("auth project id is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &idTokenVerifier{
		projectID: projectID,
		jwks:      newJWKSCache(httpClient, firebaseJWKSURL),
	}, nil
}

func (v *idTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (string, error) {
	claims, err := verifyRS256(ctx, v.jwks, idToken)
	if err != nil {
		return "", err
	}
	iss, _ := claims["iss"].(string)
	if iss != "https://securetoken.google.com/"+v.projectID {
		return "", fmt.Errorf("issuer mismatch: %q", iss)
	}
	if !audContains(claims["aud"], v.projectID) {
		return "", fmt.Errorf("audience mismatch")
	}
	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return "", fmt.Errorf("missing sub")
	}
	return sub, nil
}

// serviceTokenVerifier validates Google-signed OIDC tokens minted by Cloud
// Tasks / Eventarc for push delivery: audience must be this service's URL and,
// when configured, the email claim must be the queue's invoker account.
type serviceTokenVerifier struct {
	audience     string
	invokerEmail string
	jwks         *jwksCache
}

func NewServiceTokenVerifier(httpClient *http.Client, audience, invokerEmail string) (ServiceTokenVerifier, error) {
	if strings.TrimSpace(audience) == "" {
		return nil, fmt.Errorf("service token audience is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &serviceTokenVerifier{
		audience:     audience,
		invokerEmail: invokerEmail,
		jwks:         newJWKSCache(httpClient, googleJWKSURL),
	}, nil
}

func (v *serviceTokenVerifier) VerifyServiceToken(ctx context.Context, idToken string) error {
	claims, err := verifyRS256(ctx, v.jwks, idToken)
	if err != nil {
		return err
	}
	iss, _ := claims["iss"].(string)
	if iss != "accounts.google.com" && iss != "https://accounts.google.com" {
		return fmt.Errorf("issuer mismatch: %q", iss)
	}
	if !audContains(claims["aud"], v.audience) {
		return fmt.Errorf("audience mismatch")
	}
	if v.invokerEmail != "" {
		email, _ := claims["email"].(string)
		if !strings.EqualFold(email, v.invokerEmail) {
			return fmt.Errorf("unexpected caller identity")
		}
	}
	return nil
}

// ---------- shared verification internals ----------

func verifyRS256(ctx context.Context, jwks *jwksCache, tokenString string) (jwt.MapClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("id_token is empty")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	claims := jwt.MapClaims{}

	tok, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if strings.TrimSpace(kid) == "" {
			return nil, fmt.Errorf("missing kid")
		}
		return jwks.getKey(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid id_token: %w", err)
	}
	if tok == nil || !tok.Valid {
		return nil, fmt.Errorf("invalid id_token")
	}
	if err := validateTimeClaims(claims, time.Now()); err != nil {
		return nil, err
	}
	return claims, nil
}

func validateTimeClaims(claims jwt.MapClaims, now time.Time) error {
	expAny, ok := claims["exp"]
	if !ok {
		return fmt.Errorf("missing exp")
	}
	exp, err := parseNumericTime(expAny)
	if err != nil {
		return fmt.Errorf("invalid exp: %w", err)
	}
	if now.After(exp) {
		return fmt.Errorf("token expired")
	}
	if iatAny, ok := claims["iat"]; ok {
		iat, err := parseNumericTime(iatAny)
		if err != nil {
			return fmt.Errorf("invalid iat: %w", err)
		}
		if iat.After(now.Add(5 * time.Minute)) {
			return fmt.Errorf("token issued in the future")
		}
	}
	return nil
}

func parseNumericTime(v any) (time.Time, error) {
	var sec int64
	switch x := v.(type) {
	case float64:
		sec = int64(x)
	case int64:
		sec = x
	case int:
		sec = int64(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return time.Time{}, err
		}
		sec = n
	default:
		return time.Time{}, fmt.Errorf("unexpected type %T", v)
	}
	if sec <= 0 {
		return time.Time{}, fmt.Errorf("non-positive numeric date")
	}
	return time.Unix(sec, 0).UTC(), nil
}

func audContains(aud any, required string) bool {
	switch v := aud.(type) {
	case string:
		return v == required
	case []any:
		for _, it := range v {
			if s, ok := it.(string); ok && s == required {
				return true
			}
		}
	}
	return false
}

// ---------- JWKS cache ----------

type jwksCache struct {
	httpClient *http.Client
	jwksURL    string

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	ttl       time.Duration
}

func newJWKSCache(httpClient *http.Client, url string) *jwksCache {
	return &jwksCache{
		httpClient: httpClient,
		jwksURL:    url,
		keys:       map[string]*rsa.PublicKey{},
		ttl:        6 * time.Hour,
	}
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (j *jwksCache) getKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	j.mu.RLock()
	key := j.keys[kid]
	stale := time.Since(j.fetchedAt) > j.ttl
	j.mu.RUnlock()

	if key != nil && !stale {
		return key, nil
	}

	if err := j.refresh(ctx); err != nil {
		// fallback to cached key if present
		j.mu.RLock()
		key = j.keys[kid]
		j.mu.RUnlock()
		if key != nil {
			return key, nil
		}
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	key = j.keys[kid]
	if key == nil {
		return nil, fmt.Errorf("kid not found in jwks: %s", kid)
	}
	return key, nil
}

func (j *jwksCache) refresh(ctx context.Context) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, j.jwksURL, nil)
	res, err := j.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("jwks fetch failed: %s", res.Status)
	}

	var set jwkSet
	if err := json.NewDecoder(res.Body).Decode(&set); err != nil {
		return err
	}

	next := map[string]*rsa.PublicKey{}
	for _, k := range set.Keys {
		if strings.TrimSpace(k.Kid) == "" || k.Kty != "RSA" {
			continue
		}
		pub, err := rsaFromModExp(k.N, k.E)
		if err == nil {
			next[k.Kid] = pub
		}
	}
	if len(next) == 0 {
		return errors.New("jwks contained no usable keys")
	}

	j.mu.Lock()
	j.keys = next
	j.fetchedAt = time.Now()
	j.mu.Unlock()
	return nil
}

func rsaFromModExp(nB64, eB64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nb)
	e := 0
	for _, b := range eb {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}
