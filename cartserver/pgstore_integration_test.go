// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mobiletoly/go-cartsync/cartsync"
)

func newPGStore(t *testing.T) *PGStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("cartsync_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store, err := NewPGStore(ctx, pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	// schema setup is idempotent
	_, err = NewPGStore(ctx, pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return store
}

func TestPGStore_RoundTrip(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Upsert(ctx, cartsync.TableInventory, raws(
		`{"id":"inv-2","name":"Buns","price":"0.75"}`,
		`{"id":"inv-1","name":"Patties","price":"1.20"}`,
	)))
	require.NoError(t, store.Upsert(ctx, cartsync.TableInventory, raws(`{"id":"inv-1","name":"Patties","price":"1.25"}`)))

	list, err := store.List(ctx, cartsync.TableInventory)
	require.NoError(t, err)
	require.Len(t, list, 2)
	items, err := cartsync.DecodeRecords[cartsync.InventoryItem](list)
	require.NoError(t, err)
	require.Equal(t, "inv-1", items[0].ID)
	require.Equal(t, "1.25", items[0].Price.String())

	other, err := store.List(ctx, cartsync.TableSales)
	require.NoError(t, err)
	require.Empty(t, other)

	require.NoError(t, store.Delete(ctx, cartsync.TableInventory, "inv-1"))
	require.NoError(t, store.Delete(ctx, cartsync.TableInventory, "inv-1"))
	list, err = store.List(ctx, cartsync.TableInventory)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestPGStore_PinUniqueness(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, cartsync.TableUsers, raws(`{"id":"srv-9","name":"Ana","pin":"1234"}`)))
	err := store.Upsert(ctx, cartsync.TableUsers, raws(`{"id":"u-2","name":"Bo","pin":"5555"}`, `{"id":"local-1","name":"Ana","pin":"1234"}`))
	require.ErrorIs(t, err, ErrPinConflict)

	// the batch is atomic, so u-2 was not stored either
	list, err := store.List(ctx, cartsync.TableUsers)
	require.NoError(t, err)
	require.Len(t, list, 1)

	raw, err := store.FindUserByPin(ctx, "1234")
	require.NoError(t, err)
	var u cartsync.User
	require.NoError(t, json.Unmarshal(raw, &u))
	require.Equal(t, "srv-9", u.ID)

	_, err = store.FindUserByPin(ctx, "0000")
	require.ErrorIs(t, err, ErrNotFound)

	err = store.Upsert(ctx, cartsync.TableUsers, raws(`{"name":"no id"}`))
	require.ErrorIs(t, err, ErrInvalidRecord)
}
