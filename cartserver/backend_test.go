// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-cartsync/cartsync"
)

func raws(docs ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		out[i] = json.RawMessage(d)
	}
	return out
}

func TestMemoryBackend_UpsertListDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.Upsert(ctx, cartsync.TableSales, raws(`{"id":"s-2","name":"b"}`, `{"id":"s-1","name":"a"}`)))
	require.NoError(t, m.Upsert(ctx, cartsync.TableSales, raws(`{"id":"s-1","name":"a2"}`)))

	list, err := m.List(ctx, cartsync.TableSales)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.JSONEq(t, `{"id":"s-1","name":"a2"}`, string(list[0]))
	require.JSONEq(t, `{"id":"s-2","name":"b"}`, string(list[1]))

	require.NoError(t, m.Delete(ctx, cartsync.TableSales, "s-1"))
	require.NoError(t, m.Delete(ctx, cartsync.TableSales, "s-1"))
	list, err = m.List(ctx, cartsync.TableSales)
	require.NoError(t, err)
	require.Len(t, list, 1)

	empty, err := m.List(ctx, cartsync.TableExpenses)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestMemoryBackend_RejectsInvalidBatchAtomically(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	err := m.Upsert(ctx, cartsync.TableSales, raws(`{"id":"s-1"}`, `{"name":"no id"}`))
	require.ErrorIs(t, err, ErrInvalidRecord)
	err = m.Upsert(ctx, cartsync.TableSales, raws(`not json`))
	require.ErrorIs(t, err, ErrInvalidRecord)

	list, err := m.List(ctx, cartsync.TableSales)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestMemoryBackend_PinUniqueness(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	require.NoError(t, m.Upsert(ctx, cartsync.TableUsers, raws(`{"id":"srv-9","name":"Ana","pin":"1234"}`)))

	err := m.Upsert(ctx, cartsync.TableUsers, raws(`{"id":"local-1","name":"Ana","pin":"1234"}`))
	require.ErrorIs(t, err, ErrPinConflict)

	// same id keeps its pin
	require.NoError(t, m.Upsert(ctx, cartsync.TableUsers, raws(`{"id":"srv-9","name":"Ana B","pin":"1234"}`)))
	// moving a user off a pin frees it within the same batch
	require.NoError(t, m.Upsert(ctx, cartsync.TableUsers, raws(
		`{"id":"srv-9","name":"Ana B","pin":"9999"}`,
		`{"id":"u-2","name":"Cy","pin":"1234"}`,
	)))
	// empty pins never collide
	require.NoError(t, m.Upsert(ctx, cartsync.TableUsers, raws(`{"id":"u-3","pin":""}`, `{"id":"u-4","pin":""}`)))

	raw, err := m.FindUserByPin(ctx, "1234")
	require.NoError(t, err)
	var u cartsync.User
	require.NoError(t, json.Unmarshal(raw, &u))
	require.Equal(t, "u-2", u.ID)

	_, err = m.FindUserByPin(ctx, "0000")
	require.ErrorIs(t, err, ErrNotFound)
}
