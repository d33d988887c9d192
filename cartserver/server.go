// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig holds configuration for the server. An empty DatabaseURL
// selects the in-memory backend.
type ServerConfig struct {
	DatabaseURL  string
	JWTSecret    string
	MaxBatchSize int
	MaxConns     int32
	Logger       *slog.Logger
}

// ServerComponents holds the initialized server components
type ServerComponents struct {
	Pool    *pgxpool.Pool
	Backend Backend
	JWTAuth *JWTAuth
	Handler http.Handler
	Logger  *slog.Logger
}

// SetupServer connects the backend and builds the HTTP handler.
func SetupServer(ctx context.Context, config *ServerConfig) (*ServerComponents, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if config.JWTSecret == "" {
		return nil, errors.New("JWT secret must be provided")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sc := &ServerComponents{Logger: logger}
	if config.DatabaseURL == "" {
		logger.Warn("No database URL configured; using in-memory backend")
		sc.Backend = NewMemoryBackend()
	} else {
		poolConfig, err := pgxpool.ParseConfig(config.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if config.MaxConns > 0 {
			poolConfig.MaxConns = config.MaxConns
		}
		poolConfig.MaxConnLifetime = time.Hour
		poolConfig.MaxConnIdleTime = 30 * time.Minute

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		store, err := NewPGStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		sc.Pool = pool
		sc.Backend = store
	}

	sc.JWTAuth = NewJWTAuth(config.JWTSecret, logger)
	sc.Handler = NewHandlers(sc.Backend, config.MaxBatchSize, logger).Routes(sc.JWTAuth)
	return sc, nil
}

func (sc *ServerComponents) Close() {
	if sc.Pool != nil {
		sc.Pool.Close()
	}
}

// TestServer represents a running test server instance
type TestServer struct {
	*ServerComponents
	HTTPServer *httptest.Server
}

// NewTestServer starts an httptest server over SetupServer.
func NewTestServer(ctx context.Context, config *ServerConfig) (*TestServer, error) {
	components, err := SetupServer(ctx, config)
	if err != nil {
		return nil, err
	}
	return &TestServer{
		ServerComponents: components,
		HTTPServer:       httptest.NewServer(components.Handler),
	}, nil
}

// Close shuts down the test server and cleans up resources
func (ts *TestServer) Close() {
	if ts.HTTPServer != nil {
		ts.HTTPServer.Close()
	}
	ts.ServerComponents.Close()
}

// URL returns the base URL of the test server
func (ts *TestServer) URL() string {
	return ts.HTTPServer.URL
}

// GenerateToken generates a JWT token for testing
func (ts *TestServer) GenerateToken(subject, deviceID string, duration time.Duration) (string, error) {
	return ts.JWTAuth.GenerateToken(subject, deviceID, duration)
}
