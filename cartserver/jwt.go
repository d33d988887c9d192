// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mobiletoly/go-cartsync/internal/auth"
)

const tokenIssuer = "go-cartsync"

// JWTAuth handles JWT authentication
type JWTAuth struct {
	secret []byte
	logger *slog.Logger
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string, logger *slog.Logger) *JWTAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTAuth{secret: []byte(secret), logger: logger}
}

// JWTClaims identifies the business account (sub) and the calling device (did)
type JWTClaims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for subject on deviceID
func (j *JWTAuth) GenerateToken(subject, deviceID string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   subject,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		if claims.DeviceID == "" {
			return nil, fmt.Errorf("missing did (device ID) in token")
		}
		if claims.Subject == "" {
			return nil, fmt.Errorf("missing sub in token")
		}
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// Middleware rejects requests without a valid bearer token and stores the
// caller identity in the request context.
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, j.logger, http.StatusUnauthorized, "authentication_failed", "authorization header required")
			return
		}
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			writeError(w, j.logger, http.StatusUnauthorized, "authentication_failed", "bearer token required")
			return
		}

		claims, err := j.ValidateToken(tokenString)
		if err != nil {
			// Safely log token prefix (max 20 chars)
			tokenPrefix := tokenString
			if len(tokenPrefix) > 20 {
				tokenPrefix = tokenPrefix[:20]
			}
			j.logger.Warn("JWT validation failed", "error", err, "token_prefix", tokenPrefix)
			writeError(w, j.logger, http.StatusUnauthorized, "authentication_failed", "invalid token")
			return
		}

		ctx := auth.WithIdentity(r.Context(), claims.Subject, claims.DeviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
