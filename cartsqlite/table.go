// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mobiletoly/go-cartsync/cartsync"
)

// row is the pointer side of a record: stores stamp status and
// timestamps through it before writing.
type row[T any] interface {
	*T
	cartsync.Record
	SetStatus(cartsync.SyncStatus)
	Stamp(now time.Time)
}

// table is the generic per-table store; T is the record struct and P its pointer.
type table[T any, P row[T]] struct {
	s      *Store
	name   string
	upsert string
}

var metaColumns = []string{"id", "sync_status", "created_at", "updated_at"}

func newTable[T any, P row[T]](s *Store, name string, columns ...string) *table[T, P] {
	all := append(append([]string(nil), metaColumns...), columns...)
	named := make([]string, len(all))
	sets := make([]string, 0, len(all)-1)
	for i, c := range all {
		named[i] = ":" + c
		if c != "id" {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	upsert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		name, strings.Join(all, ", "), strings.Join(named, ", "), strings.Join(sets, ", "))
	return &table[T, P]{s: s, name: name, upsert: upsert}
}

func (t *table[T, P]) List(ctx context.Context) ([]T, error) {
	var out []T
	q := fmt.Sprintf(`SELECT * FROM %s ORDER BY created_at, id`, t.name)
	if err := t.s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.name, err)
	}
	return out, nil
}

func (t *table[T, P]) ListPending(ctx context.Context) ([]T, error) {
	var out []T
	q := fmt.Sprintf(`SELECT * FROM %s WHERE sync_status = 'pending' ORDER BY created_at, id`, t.name)
	if err := t.s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("failed to list pending %s: %w", t.name, err)
	}
	return out, nil
}

func (t *table[T, P]) Get(ctx context.Context, id string) (T, bool, error) {
	var rec T
	q := fmt.Sprintf(`SELECT * FROM %s WHERE id = ? LIMIT 1`, t.name)
	err := t.s.db.GetContext(ctx, &rec, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("failed to get %s %s: %w", t.name, id, err)
	}
	return rec, true, nil
}

// Save upserts rec with the given status. A missing id or timestamps are
// filled in, so callers can pass freshly built records.
func (t *table[T, P]) Save(ctx context.Context, rec T, status cartsync.SyncStatus) error {
	p := P(&rec)
	p.Stamp(t.s.now())
	p.SetStatus(status)
	if _, err := t.s.db.NamedExecContext(ctx, t.upsert, rec); err != nil {
		return fmt.Errorf("failed to save %s %s: %w", t.name, p.Ident(), err)
	}
	return nil
}

func (t *table[T, P]) Delete(ctx context.Context, id string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t.name)
	if _, err := t.s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", t.name, id, err)
	}
	return nil
}

func (t *table[T, P]) MarkAllSynced(ctx context.Context) error {
	q := fmt.Sprintf(`UPDATE %s SET sync_status = 'synced' WHERE sync_status = 'pending'`, t.name)
	if _, err := t.s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", t.name, err)
	}
	return nil
}

func (t *table[T, P]) PendingCount(ctx context.Context) (int, error) {
	var n int
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE sync_status = 'pending'`, t.name)
	if err := t.s.db.GetContext(ctx, &n, q); err != nil {
		return 0, fmt.Errorf("failed to count pending %s: %w", t.name, err)
	}
	return n, nil
}
