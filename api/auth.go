package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Roles carried in tokens.
const (
	RoleAdmin   = "admin"
	RoleBursar  = "bursar"
	RoleCashier = "cashier"
)

const authCookie = "billing_token"

var (
	errMissingToken = errors.New("authorization token required")
	errInvalidToken = errors.New("invalid or expired token")
	errForbidden    = errors.New("admin role required")
)

// Claims identify the actor behind a request.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager signs and validates HS256 tokens.
type TokenManager struct {
	secret   []byte
	lifetime time.Duration
}

func NewTokenManager(secret string, lifetime time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), lifetime: lifetime}
}

// Generate issues a token for userID with role.
func (m *TokenManager) Generate(userID, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// Validate parses a token and returns its claims.
func (m *TokenManager) Validate(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(errInvalidToken, err.Error())
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type claimsKey struct{}

// ClaimsFrom returns the authenticated claims, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// Authenticate requires a valid token in the Authorization header or the auth cookie.
func (m *TokenManager) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", errMissingToken)
			return
		}
		claims, err := m.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", errInvalidToken)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if c, err := r.Cookie(authCookie); err == nil {
		return c.Value
	}
	return ""
}

// actorFrom resolves who performs a request: the token subject when
// authenticated, otherwise the body field or the X-Actor header.
func actorFrom(r *http.Request, fromBody string) string {
	if c, ok := ClaimsFrom(r.Context()); ok {
		return c.UserID
	}
	if strings.TrimSpace(fromBody) != "" {
		return fromBody
	}
	return r.Header.Get("X-Actor")
}

// requireAdmin fails when auth is on and the caller is not an admin.
// Without authentication every caller is trusted.
func requireAdmin(r *http.Request) error {
	c, ok := ClaimsFrom(r.Context())
	if !ok || c.Role == RoleAdmin {
		return nil
	}
	return errForbidden
}
