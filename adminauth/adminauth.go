// Package adminauth issues and verifies the JWT bearer tokens that gate
// the /admin/* surface described in SPEC_FULL.md §4.6.
package adminauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when a request to a protected route carries
// no Authorization header at all.
var ErrMissingToken = errors.New("adminauth: missing bearer token")

// ErrInvalidToken is returned for a malformed, expired, or badly-signed
// token.
var ErrInvalidToken = errors.New("adminauth: invalid token")

// claims is the JWT payload issued for an admin session. It carries no
// identity beyond "this bearer may operate /admin" — there are no admin
// user accounts in SPEC_FULL.md's design.
type claims struct {
	jwt.RegisteredClaims
}

// Issuer signs and verifies admin bearer tokens with a single shared
// HMAC key, the simplest scheme that fits a single-operator deployment.
type Issuer struct {
	key []byte
	ttl time.Duration
}

// NewIssuer creates an Issuer using signingKey to sign and verify tokens
// that are valid for ttl after issuance.
func NewIssuer(signingKey []byte, ttl time.Duration) *Issuer {
	return &Issuer{key: signingKey, ttl: ttl}
}

// IssueToken mints a new bearer token, signed with HS256.
func (i *Issuer) IssueToken() (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "turnbridge",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("adminauth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a raw bearer token string.
func (i *Issuer) Verify(raw string) error {
	_, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("adminauth: unexpected signing method %v", t.Header["alg"])
		}
		return i.key, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}

// Middleware wraps next, requiring a valid "Authorization: Bearer <token>"
// header signed by i before allowing the request through. Intended to
// guard every /admin/* route.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeUnauthorized(w, ErrMissingToken)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeUnauthorized(w, ErrInvalidToken)
			return
		}
		if err := i.Verify(token); err != nil {
			writeUnauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="turnbridge-admin"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": err.Error(), "type": "unauthorized_error"},
	})
}
