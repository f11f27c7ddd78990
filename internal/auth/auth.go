// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// Package auth validates bearer credentials on API requests. Tokens are
// issued elsewhere; this package only verifies signature, expiry and
// issuer, and extracts the subject as the user id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Dharp02/timeharbor/internal/logging"
)

// Sentinel errors. An expired or otherwise invalid session always maps
// to 401 so clients know to clear their queued writes and re-auth.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type ctxKey struct{}

// Verifier checks HMAC-signed tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier builds a Verifier. An empty secret enables development
// mode: the bearer token is taken verbatim as the user id, with no
// cryptographic check. Config validation refuses an empty secret in
// production.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify validates a raw token and returns the subject.
func (v *Verifier) Verify(raw string) (string, error) {
	if raw == "" {
		return "", ErrMissingToken
	}

	if len(v.secret) == 0 {
		return raw, nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return sub, nil
}

// Middleware authenticates requests and stores the user id in the
// request context. Unauthenticated requests get a bare 401; the body
// shape is handled by the api package's error helper upstream of this
// when needed.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := v.Verify(bearerToken(r))
			if err != nil {
				logging.Debug().Err(err).Str("path", r.URL.Path).
					Msg("Request rejected: bad credentials")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"status":"error","error":{"code":"UNAUTHORIZED","message":"invalid or expired session"}}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID extracts the authenticated user id, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// bearerToken pulls the credential out of the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
