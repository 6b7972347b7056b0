package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the bearer-token claims the kernel API accepts.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// TokenVerifier validates HMAC-signed bearer tokens. A nil verifier means
// auth is not configured; the middleware then rejects mutating requests.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier builds a verifier from the shared secret. An empty
// secret yields nil.
func NewTokenVerifier(secret string) *TokenVerifier {
	if secret == "" {
		return nil
	}
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates a token string.
func (v *TokenVerifier) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// RequireAuth gates mutating endpoints behind bearer-token auth. With a
// nil verifier every request is rejected (fail closed); set
// TEK_API_TOKEN_SECRET to enable access.
func RequireAuth(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteUnauthorized(w, "Missing Authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if verifier == nil {
				WriteUnauthorized(w, "Authentication not configured")
				return
			}
			claims, err := verifier.Verify(parts[1])
			if err != nil {
				WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				WriteUnauthorized(w, "Token subject is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
