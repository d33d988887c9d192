// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CARTSYNC_CONFIG", "")
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "cartsync.db", c.Local.Path)
	require.Equal(t, 5*time.Second, c.Local.BusyTimeout)
	require.Empty(t, c.Remote.URL)
	require.Equal(t, 30*time.Second, c.Remote.RequestTimeout)
	require.Equal(t, 5*time.Minute, c.Sync.Interval)
	require.Equal(t, 2*time.Minute, c.Sync.CycleTimeout)
	require.Equal(t, "0000", c.Sync.FallbackPin)
	require.Equal(t, ":8080", c.Server.Addr)
	require.Equal(t, 1000, c.Server.MaxBatchSize)
	require.Equal(t, "info", c.Log.Level)
	require.Equal(t, "text", c.Log.Format)
}

func TestLoad_FileThenEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "cart.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
remote:
  url: https://carts.example.com
sync:
  interval: 1m
  fallback_pin: "4242"
log:
  format: json
`), 0o600))
	t.Setenv("CARTSYNC_SYNC_INTERVAL", "30s")
	t.Setenv("CARTSYNC_REMOTE_TOKEN", "device-token")

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://carts.example.com", c.Remote.URL)
	require.Equal(t, "device-token", c.Remote.Token)
	require.Equal(t, 30*time.Second, c.Sync.Interval)
	require.Equal(t, "4242", c.Sync.FallbackPin)
	require.Equal(t, "json", c.Log.Format)
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "cart.yaml")
	require.NoError(t, os.WriteFile(path, []byte("local:\n  path: /var/lib/cart/pos.db\n"), 0o600))
	t.Setenv("CARTSYNC_CONFIG", path)

	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/var/lib/cart/pos.db", c.Local.Path)
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	t.Setenv("CARTSYNC_LOG_FORMAT", "xml")
	_, err = Load("")
	require.ErrorContains(t, err, "log.format")
}

func TestValidate(t *testing.T) {
	isolate(t)
	c, err := Load("")
	require.NoError(t, err)

	bad := c
	bad.Log.Level = "chatty"
	require.Error(t, bad.Validate())

	bad = c
	bad.Remote.RequestTimeout = 0
	require.Error(t, bad.Validate())

	bad = c
	bad.Sync.CycleTimeout = -time.Second
	require.Error(t, bad.Validate())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("dropped")
	logger.Warn("kept", "table", "sales")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "kept", entry["msg"])
	require.Equal(t, "sales", entry["table"])

	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, lvl)
}
