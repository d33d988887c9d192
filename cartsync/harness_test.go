// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartsync_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-cartsync/cartsqlite"
	"github.com/mobiletoly/go-cartsync/cartsync"
	"github.com/mobiletoly/go-cartsync/connectivity"
	"github.com/mobiletoly/go-cartsync/internal/fakeremote"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type harness struct {
	ctx    context.Context
	store  *cartsqlite.Store
	remote *fakeremote.Remote
	conn   *connectivity.Monitor
	engine *cartsync.Engine
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, remote *fakeremote.Remote, tweak ...func(*cartsync.Config)) *harness {
	t.Helper()
	store, err := cartsqlite.Open(filepath.Join(t.TempDir(), "cart.db"), cartsqlite.Options{Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if remote == nil {
		remote = fakeremote.New()
	}
	conn := connectivity.NewMonitor(true)

	cfg := cartsync.DefaultConfig()
	cfg.Clock = func() time.Time { return t0 }
	for _, fn := range tweak {
		fn(cfg)
	}
	engine, err := cartsync.NewEngine(store, remote, conn, cfg, quietLogger())
	require.NoError(t, err)

	return &harness{ctx: context.Background(), store: store, remote: remote, conn: conn, engine: engine}
}

func ptr(s string) *string { return &s }

func (h *harness) saveUser(t *testing.T, u cartsync.User, status cartsync.SyncStatus) {
	t.Helper()
	require.NoError(t, h.store.Users().Save(h.ctx, u, status))
}

func (h *harness) saveCategory(t *testing.T, c cartsync.Category, status cartsync.SyncStatus) {
	t.Helper()
	require.NoError(t, h.store.Categories().Save(h.ctx, c, status))
}

func (h *harness) saveItem(t *testing.T, it cartsync.InventoryItem, status cartsync.SyncStatus) {
	t.Helper()
	require.NoError(t, h.store.Inventory().Save(h.ctx, it, status))
}

func (h *harness) saveSale(t *testing.T, s cartsync.Sale, status cartsync.SyncStatus) {
	t.Helper()
	require.NoError(t, h.store.Sales().Save(h.ctx, s, status))
}

func (h *harness) user(t *testing.T, id string) (cartsync.User, bool) {
	t.Helper()
	u, found, err := h.store.Users().Get(h.ctx, id)
	require.NoError(t, err)
	return u, found
}

func (h *harness) sale(t *testing.T, id string) cartsync.Sale {
	t.Helper()
	s, found, err := h.store.Sales().Get(h.ctx, id)
	require.NoError(t, err)
	require.True(t, found, "sale %s", id)
	return s
}

func (h *harness) item(t *testing.T, id string) cartsync.InventoryItem {
	t.Helper()
	it, found, err := h.store.Inventory().Get(h.ctx, id)
	require.NoError(t, err)
	require.True(t, found, "inventory item %s", id)
	return it
}

func (h *harness) categories(t *testing.T) []cartsync.Category {
	t.Helper()
	cats, err := h.store.Categories().List(h.ctx)
	require.NoError(t, err)
	return cats
}

// requireClosure checks that every reference resolves to a local row.
func (h *harness) requireClosure(t *testing.T) {
	t.Helper()
	users, err := h.store.Users().List(h.ctx)
	require.NoError(t, err)
	userIDs := map[string]bool{}
	for _, u := range users {
		userIDs[u.ID] = true
	}
	catIDs := map[string]bool{}
	for _, c := range h.categories(t) {
		catIDs[c.ID] = true
	}

	items, err := h.store.Inventory().List(h.ctx)
	require.NoError(t, err)
	for _, it := range items {
		require.True(t, userIDs[it.CreatedBy], "inventory %s created_by %q", it.ID, it.CreatedBy)
		if it.CategoryID != nil {
			require.True(t, catIDs[*it.CategoryID], "inventory %s category %q", it.ID, *it.CategoryID)
		}
	}
	sales, err := h.store.Sales().List(h.ctx)
	require.NoError(t, err)
	for _, s := range sales {
		require.True(t, userIDs[s.CreatedBy], "sale %s created_by %q", s.ID, s.CreatedBy)
	}
	expenses, err := h.store.Expenses().List(h.ctx)
	require.NoError(t, err)
	for _, x := range expenses {
		require.True(t, userIDs[x.CreatedBy], "expense %s created_by %q", x.ID, x.CreatedBy)
	}
	acts, err := h.store.Activities().List(h.ctx)
	require.NoError(t, err)
	for _, a := range acts {
		require.True(t, userIDs[a.UserID], "activity %s user_id %q", a.ID, a.UserID)
	}
}

func (h *harness) requireUniqueCategoryNames(t *testing.T) {
	t.Helper()
	seen := map[string]string{}
	for _, c := range h.categories(t) {
		key := cartsync.NormalizeName(c.Name)
		prev, dup := seen[key]
		require.False(t, dup, "categories %s and %s share name %q", prev, c.ID, key)
		seen[key] = c.ID
	}
}
