// ABOUTME: Stable per-visitor identity resolution from HTTP requests
// ABOUTME: Uses HS256-signed JWT cookies, with a fixed shared identity fallback

package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SharedIdentity is the single identity every visitor shares when
// cookie-based identity is disabled.
const SharedIdentity = "default"

// Identity is an opaque stable key for one visitor. Exactly one identity is
// resolved per request; it is never deleted by the gateway (cookie expiry is
// the browser's concern).
type Identity string

// Tag returns the agent ownership tag for this identity.
func (id Identity) Tag() string {
	return "user:" + string(id)
}

// Marker errors. These are internal: a bad marker is treated as absent and a
// fresh identity is minted, never surfaced to the caller.
var (
	errInvalidMarker = errors.New("invalid identity marker")
	errMissingClaim  = errors.New("missing uid claim")
)

// Config holds resolver settings.
type Config struct {
	// Enabled turns cookie-based identity on. When false every request
	// resolves to SharedIdentity.
	Enabled bool

	// Secret signs the identity marker cookie.
	Secret []byte

	// CookieName is the marker cookie's name.
	CookieName string

	// MaxAge is the marker cookie's fixed expiry.
	MaxAge time.Duration

	// Secure marks the cookie as HTTPS-only.
	Secure bool
}

// Resolver derives a stable identity from inbound requests.
type Resolver struct {
	cfg    Config
	logger *slog.Logger
}

// NewResolver creates a resolver with the given configuration.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{
		cfg:    cfg,
		logger: slog.Default().With("component", "identity"),
	}
}

// Resolve returns the request's identity and, when a new identity was
// minted, a cookie the caller must set on the response. Resolve never
// fails: malformed or forged markers are treated as absent.
func (r *Resolver) Resolve(req *http.Request) (Identity, *http.Cookie) {
	if !r.cfg.Enabled {
		return SharedIdentity, nil
	}

	if cookie, err := req.Cookie(r.cfg.CookieName); err == nil {
		id, err := r.parseMarker(cookie.Value)
		if err == nil {
			return id, nil
		}
		r.logger.Debug("discarding invalid identity marker", "error", err)
	}

	id := Identity(uuid.NewString())
	cookie, err := r.mintCookie(id)
	if err != nil {
		// Signing can only fail on a broken secret; fall back to a
		// session-scoped identity rather than failing the request.
		r.logger.Error("minting identity cookie failed", "error", err)
		return id, nil
	}
	return id, cookie
}

// parseMarker validates a signed marker and extracts the identity.
func (r *Resolver) parseMarker(marker string) (Identity, error) {
	token, err := jwt.Parse(marker, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.cfg.Secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidMarker, err)
	}
	if !token.Valid {
		return "", errInvalidMarker
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidMarker
	}

	uid, ok := claims["uid"].(string)
	if !ok || uid == "" {
		return "", errMissingClaim
	}

	return Identity(uid), nil
}

// mintCookie signs a fresh marker for id and wraps it in a cookie with the
// configured fixed expiry.
func (r *Resolver) mintCookie(id Identity) (*http.Cookie, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"uid": string(id),
		"iat": now.Unix(),
		"exp": now.Add(r.cfg.MaxAge).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(r.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("signing identity marker: %w", err)
	}

	return &http.Cookie{
		Name:     r.cfg.CookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(r.cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   r.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}
