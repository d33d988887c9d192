// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartremote_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-cartsync/cartserver"
	"github.com/mobiletoly/go-cartsync/cartsqlite"
	"github.com/mobiletoly/go-cartsync/cartsync"
	"github.com/mobiletoly/go-cartsync/connectivity"
)

type device struct {
	store  *cartsqlite.Store
	engine *cartsync.Engine
}

func newDevice(t *testing.T, ts *cartserver.TestServer, id string) *device {
	t.Helper()
	store, err := cartsqlite.Open(filepath.Join(t.TempDir(), id+".db"), cartsqlite.Options{Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine, err := cartsync.NewEngine(store, newClient(t, ts, id), connectivity.NewMonitor(true), nil, quietLogger())
	require.NoError(t, err)
	return &device{store: store, engine: engine}
}

func TestTwoDevicesConverge(t *testing.T) {
	ts := startServer(t)
	ctx := context.Background()
	a := newDevice(t, ts, "device-a")
	b := newDevice(t, ts, "device-b")

	// both devices were seeded offline with the same operator and category
	require.NoError(t, a.store.Users().Save(ctx, cartsync.User{Meta: cartsync.Meta{ID: "a-user"}, Name: "Ana", Pin: "1234"}, cartsync.StatusPending))
	require.NoError(t, a.store.Categories().Save(ctx, cartsync.Category{Meta: cartsync.Meta{ID: "a-cat"}, Name: "Snacks"}, cartsync.StatusPending))
	require.NoError(t, a.store.Inventory().Save(ctx, cartsync.InventoryItem{
		Meta: cartsync.Meta{ID: "inv-a"}, Name: "Chips", CategoryID: strPtr("a-cat"),
		Price: decimal.RequireFromString("1.50"), Quantity: decimal.NewFromInt(30), CreatedBy: "a-user",
	}, cartsync.StatusPending))

	require.NoError(t, b.store.Users().Save(ctx, cartsync.User{Meta: cartsync.Meta{ID: "b-user"}, Name: "Ana B.", Pin: "1234"}, cartsync.StatusPending))
	require.NoError(t, b.store.Categories().Save(ctx, cartsync.Category{Meta: cartsync.Meta{ID: "b-cat"}, Name: "snacks "}, cartsync.StatusPending))
	require.NoError(t, b.store.Sales().Save(ctx, cartsync.Sale{
		Meta: cartsync.Meta{ID: "sale-b"}, Name: "Chips x2", Total: decimal.RequireFromString("3.00"), Date: "2025-03-14", CreatedBy: "b-user",
	}, cartsync.StatusPending))

	resA := a.engine.RunSync(ctx, cartsync.ReasonLogin)
	require.NoError(t, resA.Err)
	require.True(t, resA.OK)

	resB := b.engine.RunSync(ctx, cartsync.ReasonLogin)
	require.NoError(t, resB.Err)
	require.True(t, resB.OK)

	resA = a.engine.RunSync(ctx, cartsync.ReasonAuto)
	require.True(t, resA.OK)

	for name, d := range map[string]*device{"a": a, "b": b} {
		users, err := d.store.Users().List(ctx)
		require.NoError(t, err)
		require.Len(t, users, 1, "device %s", name)
		require.Equal(t, "a-user", users[0].ID, "device %s", name)

		cats, err := d.store.Categories().List(ctx)
		require.NoError(t, err)
		require.Len(t, cats, 1, "device %s", name)
		require.Equal(t, "a-cat", cats[0].ID, "device %s", name)

		sale, found, err := d.store.Sales().Get(ctx, "sale-b")
		require.NoError(t, err)
		require.True(t, found, "device %s", name)
		require.Equal(t, "a-user", sale.CreatedBy, "device %s", name)

		item, found, err := d.store.Inventory().Get(ctx, "inv-a")
		require.NoError(t, err)
		require.True(t, found, "device %s", name)
		require.Equal(t, "a-cat", *item.CategoryID, "device %s", name)

		n, err := d.engine.PendingCount(ctx)
		require.NoError(t, err)
		require.Equal(t, 0, n, "device %s", name)
	}

	raws, err := ts.Backend.List(ctx, cartsync.TableUsers)
	require.NoError(t, err)
	require.Len(t, raws, 1)
}

func strPtr(s string) *string { return &s }
