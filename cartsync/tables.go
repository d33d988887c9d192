// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Table names one of the six synced tables.
type Table string

const (
	TableUsers      Table = "users"
	TableCategories Table = "categories"
	TableInventory  Table = "inventory"
	TableSales      Table = "sales"
	TableExpenses   Table = "expenses"
	TableActivities Table = "activities"
)

// Tables lists the synced tables in push, pull and merge order.
var Tables = []Table{
	TableUsers,
	TableCategories,
	TableInventory,
	TableSales,
	TableExpenses,
	TableActivities,
}

var ErrUnknownTable = errors.New("unknown table")

// ParseTable validates a table name coming from outside the process.
func ParseTable(name string) (Table, error) {
	for _, t := range Tables {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTable, name)
}

// tableHandler is the type-erased face of a descriptor so the engine can
// loop over all tables while each descriptor keeps its record type.
type tableHandler interface {
	name() Table
	pendingCount(ctx context.Context, local LocalStore) (int, error)
	markAllSynced(ctx context.Context, local LocalStore) error
	remove(ctx context.Context, local LocalStore, id string) error
	collectPending(ctx context.Context, e *Engine) ([]json.RawMessage, error)
	merge(ctx context.Context, e *Engine, raws []json.RawMessage) (mergeStats, error)
}

type descriptor[T Record] struct {
	table Table
	store func(LocalStore) TableStore[T]
	// prePush may drop records from the batch after resolving conflicts
	prePush func(e *Engine, ctx context.Context, pending []T) ([]T, error)
	// preMerge runs before a pulled record is merged; snapshot holds the ids
	// present in the pulled table
	preMerge func(e *Engine, ctx context.Context, rec T, snapshot map[string]struct{}) error
}

func (d *descriptor[T]) name() Table { return d.table }

func (d *descriptor[T]) pendingCount(ctx context.Context, local LocalStore) (int, error) {
	return d.store(local).PendingCount(ctx)
}

func (d *descriptor[T]) markAllSynced(ctx context.Context, local LocalStore) error {
	return d.store(local).MarkAllSynced(ctx)
}

func (d *descriptor[T]) remove(ctx context.Context, local LocalStore, id string) error {
	return d.store(local).Delete(ctx, id)
}

func (d *descriptor[T]) collectPending(ctx context.Context, e *Engine) ([]json.RawMessage, error) {
	pending, err := d.store(e.local).ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending %s: %w", d.table, err)
	}
	if d.prePush != nil && len(pending) > 0 {
		pending, err = d.prePush(e, ctx, pending)
		if err != nil {
			return nil, err
		}
	}
	return encodeAll(pending)
}

func (d *descriptor[T]) merge(ctx context.Context, e *Engine, raws []json.RawMessage) (mergeStats, error) {
	var stats mergeStats
	records := decodeLenient[T](e.logger, d.table, raws, &stats)

	snapshot := make(map[string]struct{}, len(records))
	for _, rec := range records {
		snapshot[rec.Ident()] = struct{}{}
	}

	ts := d.store(e.local)
	for _, rec := range records {
		if d.preMerge != nil {
			if err := d.preMerge(e, ctx, rec, snapshot); err != nil {
				return stats, err
			}
		}
		outcome, err := MergeRecord(ctx, ts, rec)
		if err != nil {
			return stats, fmt.Errorf("failed to merge %s %s: %w", d.table, rec.Ident(), err)
		}
		stats.add(outcome)
	}
	return stats, nil
}

// handlers binds every table to its record type, store accessor and hooks.
func handlers() []tableHandler {
	return []tableHandler{
		&descriptor[User]{
			table:   TableUsers,
			store:   func(l LocalStore) TableStore[User] { return l.Users() },
			prePush: (*Engine).resolvePendingUserPins,
		},
		&descriptor[Category]{
			table:    TableCategories,
			store:    func(l LocalStore) TableStore[Category] { return l.Categories() },
			preMerge: (*Engine).absorbCollidingCategory,
		},
		&descriptor[InventoryItem]{
			table: TableInventory,
			store: func(l LocalStore) TableStore[InventoryItem] { return l.Inventory() },
		},
		&descriptor[Sale]{
			table: TableSales,
			store: func(l LocalStore) TableStore[Sale] { return l.Sales() },
		},
		&descriptor[Expense]{
			table: TableExpenses,
			store: func(l LocalStore) TableStore[Expense] { return l.Expenses() },
		},
		&descriptor[Activity]{
			table: TableActivities,
			store: func(l LocalStore) TableStore[Activity] { return l.Activities() },
		},
	}
}

func encodeAll[T Record](records []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record %s: %w", rec.Ident(), err)
		}
		out = append(out, b)
	}
	return out, nil
}

// decodeLenient drops records that fail to decode or carry no id.
func decodeLenient[T Record](logger *slog.Logger, table Table, raws []json.RawMessage, stats *mergeStats) []T {
	records := make([]T, 0, len(raws))
	for _, raw := range raws {
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			logger.Warn("Skipping undecodable remote record", "table", table, "error", err)
			stats.Skipped++
			continue
		}
		if rec.Ident() == "" {
			logger.Warn("Skipping remote record without id", "table", table)
			stats.Skipped++
			continue
		}
		records = append(records, rec)
	}
	return records
}

// DecodeRecords unmarshals a pulled table into typed records.
func DecodeRecords[T Record](raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
