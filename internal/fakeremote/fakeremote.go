// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package fakeremote is an in-memory cartsync.RemoteStore for tests. It
// counts every call and can be told to fail per table. OnFetch and OnPush
// let a test hold a call in flight.
package fakeremote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mobiletoly/go-cartsync/cartsync"
)

var ErrInjected = errors.New("injected failure")

type Remote struct {
	mu sync.Mutex

	configured bool
	rows       map[cartsync.Table]map[string]json.RawMessage
	order      map[cartsync.Table][]string

	failFetch  map[cartsync.Table]bool
	failPush   map[cartsync.Table]bool
	failDelete map[cartsync.Table]bool
	failPin    bool

	calls map[string]int

	// OnFetch, when set, runs at the start of every FetchAll outside the lock.
	OnFetch func(ctx context.Context, table cartsync.Table)
	// OnPush, when set, runs at the start of every PushBatch outside the lock.
	OnPush func(ctx context.Context, table cartsync.Table, records []json.RawMessage)
}

var _ cartsync.RemoteStore = (*Remote)(nil)

func New() *Remote {
	return &Remote{
		configured: true,
		rows:       make(map[cartsync.Table]map[string]json.RawMessage),
		order:      make(map[cartsync.Table][]string),
		failFetch:  make(map[cartsync.Table]bool),
		failPush:   make(map[cartsync.Table]bool),
		failDelete: make(map[cartsync.Table]bool),
		calls:      make(map[string]int),
	}
}

// Unconfigured returns a remote whose IsConfigured reports false.
func Unconfigured() *Remote {
	r := New()
	r.configured = false
	return r
}

func (r *Remote) SetConfigured(v bool) {
	r.mu.Lock()
	r.configured = v
	r.mu.Unlock()
}

func (r *Remote) FailFetch(table cartsync.Table, fail bool) {
	r.mu.Lock()
	r.failFetch[table] = fail
	r.mu.Unlock()
}

func (r *Remote) FailPush(table cartsync.Table, fail bool) {
	r.mu.Lock()
	r.failPush[table] = fail
	r.mu.Unlock()
}

func (r *Remote) FailDelete(table cartsync.Table, fail bool) {
	r.mu.Lock()
	r.failDelete[table] = fail
	r.mu.Unlock()
}

func (r *Remote) FailPinLookup(fail bool) {
	r.mu.Lock()
	r.failPin = fail
	r.mu.Unlock()
}

// Seed stores records as if another device had pushed them.
func Seed[T cartsync.Record](r *Remote, table cartsync.Table, records ...T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			panic(fmt.Sprintf("fakeremote: marshal %T: %v", rec, err))
		}
		r.putLocked(table, rec.Ident(), b)
	}
}

// Rows returns the stored rows of table decoded as T, in insertion order.
func Rows[T cartsync.Record](r *Remote, table cartsync.Table) []T {
	r.mu.Lock()
	raws := r.snapshotLocked(table)
	r.mu.Unlock()
	out, err := cartsync.DecodeRecords[T](raws)
	if err != nil {
		panic(fmt.Sprintf("fakeremote: decode %s: %v", table, err))
	}
	return out
}

// Has reports whether a row with id exists in table.
func (r *Remote) Has(table cartsync.Table, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[table][id]
	return ok
}

// Calls returns how many times op was invoked; op is one of "fetch",
// "push", "delete", "pin" or "" for the total.
func (r *Remote) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op != "" {
		return r.calls[op]
	}
	total := 0
	for _, n := range r.calls {
		total += n
	}
	return total
}

func (r *Remote) ResetCalls() {
	r.mu.Lock()
	r.calls = make(map[string]int)
	r.mu.Unlock()
}

func (r *Remote) IsConfigured() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configured
}

func (r *Remote) FetchAll(ctx context.Context, table cartsync.Table) ([]json.RawMessage, error) {
	if hook := r.OnFetch; hook != nil {
		hook(ctx, table)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["fetch"]++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.failFetch[table] {
		return nil, fmt.Errorf("fetch %s: %w", table, ErrInjected)
	}
	return r.snapshotLocked(table), nil
}

func (r *Remote) PushBatch(ctx context.Context, table cartsync.Table, records []json.RawMessage) error {
	if hook := r.OnPush; hook != nil {
		hook(ctx, table, records)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["push"]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.failPush[table] {
		return fmt.Errorf("push %s: %w", table, ErrInjected)
	}
	for _, raw := range records {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || head.ID == "" {
			return fmt.Errorf("push %s: record without id", table)
		}
		r.putLocked(table, head.ID, append(json.RawMessage(nil), raw...))
	}
	return nil
}

func (r *Remote) DeleteByID(ctx context.Context, table cartsync.Table, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["delete"]++
	if r.failDelete[table] {
		return fmt.Errorf("delete %s/%s: %w", table, id, ErrInjected)
	}
	if _, ok := r.rows[table][id]; !ok {
		return nil
	}
	delete(r.rows[table], id)
	ids := r.order[table]
	for i, v := range ids {
		if v == id {
			r.order[table] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (r *Remote) FindUserByPin(ctx context.Context, pin string) (*cartsync.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["pin"]++
	if r.failPin {
		return nil, fmt.Errorf("pin lookup: %w", ErrInjected)
	}
	for _, id := range r.order[cartsync.TableUsers] {
		var u cartsync.User
		if err := json.Unmarshal(r.rows[cartsync.TableUsers][id], &u); err != nil {
			continue
		}
		if u.Pin == pin {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *Remote) putLocked(table cartsync.Table, id string, raw json.RawMessage) {
	if r.rows[table] == nil {
		r.rows[table] = make(map[string]json.RawMessage)
	}
	if _, exists := r.rows[table][id]; !exists {
		r.order[table] = append(r.order[table], id)
	}
	r.rows[table][id] = raw
}

func (r *Remote) snapshotLocked(table cartsync.Table) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(r.order[table]))
	for _, id := range r.order[table] {
		out = append(out, append(json.RawMessage(nil), r.rows[table][id]...))
	}
	return out
}
