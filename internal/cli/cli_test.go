// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-cartsync/cartserver"
	"github.com/mobiletoly/go-cartsync/cartsync"
	"github.com/mobiletoly/go-cartsync/config"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CARTSYNC_CONFIG", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "cartsync.yaml")
	body := fmt.Sprintf("local:\n  path: %s\nlog:\n  level: error\n%s", filepath.Join(dir, "pos.db"), extra)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, "server:\n  jwt_secret: cli-secret\n")

	out, err := run(t, "--config", path, "token", "--subject", "cart-42", "--device", "dev-1")
	require.NoError(t, err)

	claims, err := cartserver.NewJWTAuth("cli-secret", nil).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, "cart-42", claims.Subject)
	require.Equal(t, "dev-1", claims.DeviceID)

	_, err = run(t, "--config", path, "token")
	require.ErrorContains(t, err, "--subject")
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	path := writeConfig(t, "")
	_, err := run(t, "--config", path, "token", "--subject", "cart-42")
	require.ErrorContains(t, err, "jwt_secret")
}

func TestSyncCommand_UnconfiguredRemote(t *testing.T) {
	path := writeConfig(t, "")

	out, err := run(t, "--config", path, "sync", "--reason", "login")
	require.Error(t, err)
	require.Contains(t, out, "skipped (not_configured)")

	_, err = run(t, "--config", path, "sync", "--reason", "reboot")
	require.ErrorContains(t, err, "unknown sync reason")
}

func TestStatusCommand_JSON(t *testing.T) {
	path := writeConfig(t, "")

	out, err := run(t, "--config", path, "--json", "status")
	require.NoError(t, err)
	var st cartsync.State
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.Equal(t, cartsync.PhaseOffline, st.Status)
	require.Equal(t, 0, st.PendingCount)
	require.True(t, st.LastSyncTime.IsZero())
}

func TestWatch_LoginSyncRunsOnline(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts, err := cartserver.NewTestServer(ctx, &cartserver.ServerConfig{JWTSecret: "watch-secret", Logger: logger})
	require.NoError(t, err)
	t.Cleanup(ts.Close)
	token, err := ts.GenerateToken("cart-1", "dev-1", time.Hour)
	require.NoError(t, err)

	path := writeConfig(t, fmt.Sprintf("remote:\n  url: %s\n  token: %s\n", ts.URL(), token))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	d, err := openDevice(&RootOptions{Config: cfg, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.False(t, d.monitor.Connected())

	res := d.loginSync(ctx)
	require.Empty(t, res.Skipped)
	require.NoError(t, res.Err)
	require.True(t, res.OK)
	require.Equal(t, cartsync.ReasonLogin, res.Reason)
	require.True(t, d.monitor.Connected())
}
