// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartsync_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-cartsync/cartsync"
)

func TestRepairDuplicateCategories_PrefersSyncedRow(t *testing.T) {
	h := newHarness(t, nil)
	h.saveCategory(t, cartsync.Category{Meta: cartsync.Meta{ID: "cat-new", CreatedAt: t0}, Name: " drinks"}, cartsync.StatusPending)
	h.saveCategory(t, cartsync.Category{Meta: cartsync.Meta{ID: "cat-old", CreatedAt: t0.Add(time.Hour)}, Name: "Drinks"}, cartsync.StatusSynced)
	h.saveItem(t, cartsync.InventoryItem{Meta: cartsync.Meta{ID: "inv-1"}, Name: "Lemonade", CategoryID: ptr("cat-new"), CreatedBy: "u-1"}, cartsync.StatusSynced)

	removed, err := h.engine.RepairDuplicateCategories(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	cats := h.categories(t)
	require.Len(t, cats, 1)
	require.Equal(t, "cat-old", cats[0].ID)

	it := h.item(t, "inv-1")
	require.Equal(t, "cat-old", *it.CategoryID)
	require.Equal(t, cartsync.StatusPending, it.Status())

	// the pending duplicate never reached the remote
	dels, err := h.store.PendingDeletions(h.ctx)
	require.NoError(t, err)
	require.Empty(t, dels)
}

func TestRepairDuplicateCategories_QueuesRemoteDeleteOfSyncedDuplicate(t *testing.T) {
	h := newHarness(t, nil)
	h.saveCategory(t, cartsync.Category{Meta: cartsync.Meta{ID: "cat-b", CreatedAt: t0.Add(time.Minute)}, Name: "Snacks"}, cartsync.StatusSynced)
	h.saveCategory(t, cartsync.Category{Meta: cartsync.Meta{ID: "cat-a", CreatedAt: t0}, Name: "SNACKS"}, cartsync.StatusSynced)
	h.saveCategory(t, cartsync.Category{Meta: cartsync.Meta{ID: "cat-c", CreatedAt: t0}, Name: "Fruit"}, cartsync.StatusSynced)

	removed, err := h.engine.RepairDuplicateCategories(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	ids := map[string]bool{}
	for _, c := range h.categories(t) {
		ids[c.ID] = true
	}
	require.Equal(t, map[string]bool{"cat-a": true, "cat-c": true}, ids)

	dels, err := h.store.PendingDeletions(h.ctx)
	require.NoError(t, err)
	require.Len(t, dels, 1)
	require.Equal(t, cartsync.TableCategories, dels[0].Table)
	require.Equal(t, "cat-b", dels[0].ID)

	again, err := h.engine.RepairDuplicateCategories(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 0, again)
	h.requireUniqueCategoryNames(t)
}

func TestRepairDuplicateCategories_TieBrokenByID(t *testing.T) {
	h := newHarness(t, nil)
	h.saveCategory(t, cartsync.Category{Meta: cartsync.Meta{ID: "cat-2", CreatedAt: t0}, Name: "Ice"}, cartsync.StatusPending)
	h.saveCategory(t, cartsync.Category{Meta: cartsync.Meta{ID: "cat-1", CreatedAt: t0}, Name: "ice"}, cartsync.StatusPending)

	_, err := h.engine.RepairDuplicateCategories(h.ctx)
	require.NoError(t, err)
	cats := h.categories(t)
	require.Len(t, cats, 1)
	require.Equal(t, "cat-1", cats[0].ID)
}
