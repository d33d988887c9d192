// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartsync

import (
	"context"
	"fmt"
	"sort"
)

// RepairDuplicateCategories collapses categories whose normalized names
// collide onto one canonical row and returns how many rows were removed.
//
// The canonical row is the synced one if any, then the earliest created,
// then the lowest id. Inventory pointing at a duplicate is repointed to the
// canonical id before the duplicate is deleted. Duplicates that were synced
// also exist remotely, so their remote delete is queued.
func (e *Engine) RepairDuplicateCategories(ctx context.Context) (int, error) {
	cats, err := e.local.Categories().List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list categories: %w", err)
	}

	groups := make(map[string][]Category)
	var keys []string
	for _, c := range cats {
		key := NormalizeName(c.Name)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], c)
	}

	removed := 0
	for _, key := range keys {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		canonical := canonicalCategory(group)
		for _, dup := range group {
			if dup.ID == canonical.ID {
				continue
			}
			moved, err := e.local.RepointCategory(ctx, dup.ID, canonical.ID)
			if err != nil {
				return removed, fmt.Errorf("failed to repoint inventory from category %s: %w", dup.ID, err)
			}
			if err := e.local.Categories().Delete(ctx, dup.ID); err != nil {
				return removed, fmt.Errorf("failed to delete duplicate category %s: %w", dup.ID, err)
			}
			if dup.Status() == StatusSynced {
				if err := e.local.QueueDeletion(ctx, TableCategories, dup.ID); err != nil {
					return removed, fmt.Errorf("failed to queue remote delete of category %s: %w", dup.ID, err)
				}
			}
			e.logger.Info("Removed duplicate category",
				"name", canonical.Name, "duplicate_id", dup.ID, "canonical_id", canonical.ID,
				"inventory_repointed", moved)
			removed++
		}
	}
	return removed, nil
}

func canonicalCategory(group []Category) Category {
	sorted := append([]Category(nil), group...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if (a.SyncStatus == StatusSynced) != (b.SyncStatus == StatusSynced) {
			return a.SyncStatus == StatusSynced
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return sorted[0]
}

// absorbCollidingCategory makes an incoming server category win over local
// rows that share its normalized name under another id. Local rows whose id
// is also in the pulled snapshot are real remote duplicates and are left to
// RepairDuplicateCategories.
func (e *Engine) absorbCollidingCategory(ctx context.Context, incoming Category, snapshot map[string]struct{}) error {
	cats, err := e.local.Categories().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list categories: %w", err)
	}
	key := NormalizeName(incoming.Name)
	for _, local := range cats {
		if local.ID == incoming.ID || NormalizeName(local.Name) != key {
			continue
		}
		if _, remote := snapshot[local.ID]; remote {
			continue
		}
		moved, err := e.local.RepointCategory(ctx, local.ID, incoming.ID)
		if err != nil {
			return fmt.Errorf("failed to repoint inventory from category %s: %w", local.ID, err)
		}
		if err := e.local.Categories().Delete(ctx, local.ID); err != nil {
			return fmt.Errorf("failed to drop colliding category %s: %w", local.ID, err)
		}
		e.logger.Info("Server category replaced colliding local category",
			"name", incoming.Name, "local_id", local.ID, "server_id", incoming.ID,
			"inventory_repointed", moved)
	}
	return nil
}

// reconcileRemoteCategories applies the server-wins rule against a
// pre-fetched remote snapshot and stores each remote row, so inventory that
// was just repointed never references a category missing locally.
func (e *Engine) reconcileRemoteCategories(ctx context.Context, remote []Category) error {
	snapshot := make(map[string]struct{}, len(remote))
	for _, c := range remote {
		snapshot[c.ID] = struct{}{}
	}
	for _, c := range remote {
		if c.ID == "" {
			continue
		}
		if err := e.absorbCollidingCategory(ctx, c, snapshot); err != nil {
			return err
		}
		if _, err := MergeRecord(ctx, e.local.Categories(), c); err != nil {
			return fmt.Errorf("failed to store remote category %s: %w", c.ID, err)
		}
	}
	return nil
}

// clearDanglingCategoryRefs nulls inventory.category_id values that point at
// no local category.
func (e *Engine) clearDanglingCategoryRefs(ctx context.Context) (int64, error) {
	cats, err := e.local.Categories().List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list categories: %w", err)
	}
	known := make(map[string]struct{}, len(cats))
	for _, c := range cats {
		known[c.ID] = struct{}{}
	}
	items, err := e.local.Inventory().List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list inventory: %w", err)
	}

	var cleared int64
	seen := make(map[string]struct{})
	for _, item := range items {
		if item.CategoryID == nil {
			continue
		}
		id := *item.CategoryID
		if _, ok := known[id]; ok {
			continue
		}
		if _, done := seen[id]; done {
			continue
		}
		seen[id] = struct{}{}
		n, err := e.local.ClearCategory(ctx, id)
		if err != nil {
			return cleared, fmt.Errorf("failed to clear dangling category %s: %w", id, err)
		}
		e.logger.Warn("Cleared dangling category reference", "category_id", id, "inventory", n)
		cleared += n
	}
	return cleared, nil
}
