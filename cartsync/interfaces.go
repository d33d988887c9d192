// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartsync

import (
	"context"
	"encoding/json"
	"time"
)

// TableStore is the per-table view of the local record store.
type TableStore[T Record] interface {
	List(ctx context.Context) ([]T, error)
	ListPending(ctx context.Context) ([]T, error)
	// Get returns found=false with a nil error when the row does not exist
	Get(ctx context.Context, id string) (rec T, found bool, err error)
	// Save inserts or replaces the row and stamps it with status
	Save(ctx context.Context, rec T, status SyncStatus) error
	Delete(ctx context.Context, id string) error
	MarkAllSynced(ctx context.Context) error
	PendingCount(ctx context.Context) (int, error)
}

// LocalStore is the embedded store the engine reconciles against.
// Repoint helpers rewrite references in place and mark every touched row pending.
type LocalStore interface {
	Users() TableStore[User]
	Categories() TableStore[Category]
	Inventory() TableStore[InventoryItem]
	Sales() TableStore[Sale]
	Expenses() TableStore[Expense]
	Activities() TableStore[Activity]

	// RepointUser rewrites inventory.created_by, sales.created_by,
	// expenses.created_by and activities.user_id from fromID to toID.
	RepointUser(ctx context.Context, fromID, toID string) (int64, error)
	// RepointCategory rewrites inventory.category_id from fromID to toID.
	RepointCategory(ctx context.Context, fromID, toID string) (int64, error)
	// ClearCategory sets inventory.category_id to NULL where it equals categoryID.
	ClearCategory(ctx context.Context, categoryID string) (int64, error)

	QueueDeletion(ctx context.Context, table Table, id string) error
	PendingDeletions(ctx context.Context) ([]Deletion, error)
	ClearDeletions(ctx context.Context, drained []Deletion) error

	LastSyncTime(ctx context.Context) (time.Time, error)
	SetLastSyncTime(ctx context.Context, t time.Time) error
}

// RemoteStore is the backend the engine pushes to and pulls from.
// Records cross this boundary as JSON documents in the same shape the
// local store uses.
type RemoteStore interface {
	IsConfigured() bool
	// FetchAll returns every remote row of table. A non-nil error means the
	// fetch failed, which is distinct from an empty table.
	FetchAll(ctx context.Context, table Table) ([]json.RawMessage, error)
	PushBatch(ctx context.Context, table Table, records []json.RawMessage) error
	DeleteByID(ctx context.Context, table Table, id string) error
	// FindUserByPin returns nil, nil when no remote user has pin.
	FindUserByPin(ctx context.Context, pin string) (*User, error)
}

// Connectivity reports network reachability.
type Connectivity interface {
	Connected() bool
	// Subscribe registers fn for online/offline transitions and returns a
	// function that removes the subscription.
	Subscribe(fn func(connected bool)) (unsubscribe func())
}
