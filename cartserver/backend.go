// Package cartserver is the remote side of cartsync: an HTTP API over a
// per-table document store, with PostgreSQL and in-memory backends.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mobiletoly/go-cartsync/cartsync"
)

var (
	ErrUnknownTable  = cartsync.ErrUnknownTable
	ErrNotFound      = errors.New("record not found")
	ErrPinConflict   = errors.New("pin already belongs to another user")
	ErrInvalidRecord = errors.New("invalid record")
)

// Backend stores whole records per table, keyed by their "id" field.
type Backend interface {
	List(ctx context.Context, table cartsync.Table) ([]json.RawMessage, error)
	// Upsert applies the batch atomically: either every record is stored or none.
	Upsert(ctx context.Context, table cartsync.Table, records []json.RawMessage) error
	// Delete is idempotent; deleting a missing id succeeds.
	Delete(ctx context.Context, table cartsync.Table, id string) error
	// FindUserByPin returns ErrNotFound when no user holds pin.
	FindUserByPin(ctx context.Context, pin string) (json.RawMessage, error)
	Ping(ctx context.Context) error
}

// recordHead is the part of a record the server looks at.
type recordHead struct {
	ID  string `json:"id"`
	Pin string `json:"pin"`
}

func parseHeads(records []json.RawMessage) ([]recordHead, error) {
	heads := make([]recordHead, len(records))
	for i, raw := range records {
		if err := json.Unmarshal(raw, &heads[i]); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidRecord, i, err)
		}
		if heads[i].ID == "" {
			return nil, fmt.Errorf("%w: record %d has no id", ErrInvalidRecord, i)
		}
	}
	return heads, nil
}

// MemoryBackend keeps everything in process memory.
type MemoryBackend struct {
	mu   sync.RWMutex
	rows map[cartsync.Table]map[string]json.RawMessage
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rows: make(map[cartsync.Table]map[string]json.RawMessage)}
}

func (m *MemoryBackend) List(_ context.Context, table cartsync.Table) ([]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.rows[table]))
	for id := range m.rows[table] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, append(json.RawMessage(nil), m.rows[table][id]...))
	}
	return out, nil
}

func (m *MemoryBackend) Upsert(_ context.Context, table cartsync.Table, records []json.RawMessage) error {
	heads, err := parseHeads(records)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if table == cartsync.TableUsers {
		if err := m.checkPinsLocked(heads); err != nil {
			return err
		}
	}
	if m.rows[table] == nil {
		m.rows[table] = make(map[string]json.RawMessage)
	}
	for i, h := range heads {
		m.rows[table][h.ID] = append(json.RawMessage(nil), records[i]...)
	}
	return nil
}

// checkPinsLocked rejects a batch that would give one pin to two user ids.
func (m *MemoryBackend) checkPinsLocked(heads []recordHead) error {
	owner := make(map[string]string)
	for id, raw := range m.rows[cartsync.TableUsers] {
		var h recordHead
		if err := json.Unmarshal(raw, &h); err == nil && h.Pin != "" {
			owner[h.Pin] = id
		}
	}
	for _, h := range heads {
		// a record moving off its old pin frees it
		for pin, id := range owner {
			if id == h.ID && pin != h.Pin {
				delete(owner, pin)
			}
		}
	}
	for _, h := range heads {
		if h.Pin == "" {
			continue
		}
		if id, taken := owner[h.Pin]; taken && id != h.ID {
			return fmt.Errorf("%w: pin held by %s", ErrPinConflict, id)
		}
		owner[h.Pin] = h.ID
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, table cartsync.Table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows[table], id)
	return nil
}

func (m *MemoryBackend) FindUserByPin(_ context.Context, pin string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, raw := range m.rows[cartsync.TableUsers] {
		var h recordHead
		if err := json.Unmarshal(raw, &h); err == nil && h.Pin == pin {
			return append(json.RawMessage(nil), raw...), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }
