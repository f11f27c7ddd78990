// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return raw
}

func TestVerify(t *testing.T) {
	v := NewVerifier(testSecret, "timeharbor")

	tests := []struct {
		name    string
		token   string
		wantSub string
		wantErr error
	}{
		{
			name: "valid",
			token: signToken(t, jwt.MapClaims{
				"sub": "u1", "iss": "timeharbor",
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
			wantSub: "u1",
		},
		{
			name: "expired",
			token: signToken(t, jwt.MapClaims{
				"sub": "u1", "iss": "timeharbor",
				"exp": time.Now().Add(-time.Hour).Unix(),
			}),
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			token: signToken(t, jwt.MapClaims{
				"sub": "u1", "iss": "someone-else",
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
			wantErr: ErrInvalidToken,
		},
		{
			name: "no expiry",
			token: signToken(t, jwt.MapClaims{
				"sub": "u1", "iss": "timeharbor",
			}),
			wantErr: ErrInvalidToken,
		},
		{
			name: "missing subject",
			token: signToken(t, jwt.MapClaims{
				"iss": "timeharbor", "exp": time.Now().Add(time.Hour).Unix(),
			}),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "empty",
			token:   "",
			wantErr: ErrMissingToken,
		},
		{
			name:    "garbage",
			token:   "not.a.token",
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := v.Verify(tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if sub != tt.wantSub {
				t.Errorf("sub = %q, want %q", sub, tt.wantSub)
			}
		})
	}
}

func TestVerifyDevMode(t *testing.T) {
	v := NewVerifier("", "")
	sub, err := v.Verify("plain-user-id")
	if err != nil || sub != "plain-user-id" {
		t.Errorf("dev mode: sub=%q err=%v", sub, err)
	}
	if _, err := v.Verify(""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("dev mode empty token: %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier(testSecret, "")
	var gotUser string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(v)(next)

	t.Run("authenticated", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{
			"sub": "u1", "exp": time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || gotUser != "u1" {
			t.Errorf("code=%d user=%q", rec.Code, gotUser)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("code = %d, want 401", rec.Code)
		}
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("code = %d, want 401", rec.Code)
		}
	})
}
