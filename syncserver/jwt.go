// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fieldops/go-fieldsync/internal/auth"
)

// JWTAuth mints and validates the HS256 bearer tokens the sync endpoints
// require. The subject is the technician id; the did claim carries the device
// id, so one technician can sync from several devices.
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates an authenticator over the shared secret.
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{secret: []byte(secret)}
}

type deviceClaims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// GenerateToken mints a token for one technician on one device.
func (j *JWTAuth) GenerateToken(technicianID, deviceID string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &deviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "go-fieldsync",
			Subject:   technicianID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// identity validates a raw token and extracts the technician/device pair.
func (j *JWTAuth) identity(raw string) (auth.Identity, error) {
	var claims deviceClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return auth.Identity{}, err
	}
	if claims.Subject == "" || claims.DeviceID == "" {
		return auth.Identity{}, fmt.Errorf("token missing sub or did claim")
	}
	return auth.Identity{TechnicianID: claims.Subject, DeviceID: claims.DeviceID}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// token's identity in the request context.
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		ident, err := j.identity(raw)
		if err != nil {
			slog.Debug("token rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), ident)))
	})
}
