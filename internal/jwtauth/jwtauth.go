package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultAudience is the audience the hosted auth service puts on access
// tokens issued to signed-in users.
const DefaultAudience = "authenticated"

// Claims represents the access-token claims issued by the hosted auth service.
type Claims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Role         string         `json:"role,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	IsAnonymous  bool           `json:"is_anonymous,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// UserID parses the subject as the auth user id.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Verifier validates access tokens against the auth service's JWKS, or
// against a shared HS256 secret when one is configured.
type Verifier struct {
	issuer   string
	audience string
	secret   []byte
	jwks     *JWKSCache
}

// Config holds access-token verification configuration.
type Config struct {
	AuthURL   string // e.g. "https://project.supabase.co/auth/v1", also the token issuer
	Audience  string // defaults to DefaultAudience
	JWTSecret string // optional legacy HS256 secret
	Logger    *zap.Logger
}

// NewVerifier creates a new JWT verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.AuthURL == "" {
		return nil, errors.New("auth URL is required")
	}
	if !strings.HasPrefix(cfg.AuthURL, "http://") && !strings.HasPrefix(cfg.AuthURL, "https://") {
		return nil, fmt.Errorf("auth URL must include a scheme, got %q", cfg.AuthURL)
	}

	audience := cfg.Audience
	if audience == "" {
		audience = DefaultAudience
	}

	issuer := strings.TrimSuffix(cfg.AuthURL, "/")
	jwks := NewJWKSCache(issuer + "/.well-known/jwks.json")
	if cfg.Logger != nil {
		jwks.logger = cfg.Logger
	}

	v := &Verifier{
		issuer:   issuer,
		audience: audience,
		jwks:     jwks,
	}
	if cfg.JWTSecret != "" {
		v.secret = []byte(cfg.JWTSecret)
	}
	return v, nil
}

// Verify verifies a JWT token and returns the claims.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if v.secret == nil {
				return nil, errors.New("HS256 tokens are not accepted without a configured secret")
			}
			return v.secret, nil
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("missing kid in token header")
		}
		return v.jwks.GetKey(ctx, kid)
	},
		jwt.WithAudience(v.audience),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// JWKSCache caches signing keys published by the auth service.
type JWKSCache struct {
	url        string
	mu         sync.RWMutex
	keys       map[string]any // kid -> public key
	lastFetch  time.Time
	cacheTTL   time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewJWKSCache creates a new JWKS cache.
func NewJWKSCache(jwksURL string) *JWKSCache {
	return &JWKSCache{
		url:      jwksURL,
		keys:     make(map[string]any),
		cacheTTL: 10 * time.Minute,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: zap.NewNop(),
	}
}

// GetKey returns the public key for the given key ID.
func (c *JWKSCache) GetKey(ctx context.Context, kid string) (any, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	needsRefresh := time.Since(c.lastFetch) > c.cacheTTL
	c.mu.RUnlock()

	if ok && !needsRefresh {
		return key, nil
	}

	// Rotated keys show up under a new kid before the TTL expires.
	if err := c.refresh(ctx, !ok); err != nil {
		if ok {
			c.logger.Warn("JWKS refresh failed, using cached key", zap.String("kid", kid), zap.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("key %s not found in JWKS", kid)
	}
	return key, nil
}

// JWKS represents a JSON Web Key Set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key. RSA keys carry N and E; EC keys carry
// Crv, X and Y.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

func (c *JWKSCache) refresh(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring lock
	if !force && time.Since(c.lastFetch) < c.cacheTTL && len(c.keys) > 0 {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := decodeJSON(resp.Body, &jwks); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	newKeys := make(map[string]any)
	for _, key := range jwks.Keys {
		if key.Use != "" && key.Use != "sig" {
			continue
		}

		publicKey, err := parsePublicKey(key)
		if err != nil {
			c.logger.Warn("skipping JWKS key", zap.String("kid", key.Kid), zap.String("kty", key.Kty), zap.Error(err))
			continue
		}
		newKeys[key.Kid] = publicKey
	}

	c.keys = newKeys
	c.lastFetch = time.Now()

	return nil
}

func parsePublicKey(key JWK) (any, error) {
	switch key.Kty {
	case "RSA":
		return parseRSAPublicKey(key.N, key.E)
	case "EC":
		return parseECPublicKey(key.Crv, key.X, key.Y)
	default:
		return nil, fmt.Errorf("unsupported key type %q", key.Kty)
	}
}
