// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartsync

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SyncStatus tracks whether the remote has acknowledged a local record
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
)

// Record is implemented by every entity stored in the six synced tables.
type Record interface {
	Ident() string
	Status() SyncStatus
	Created() time.Time
}

// Meta holds the columns shared by all synced tables.
// SyncStatus is local bookkeeping and never travels over the wire.
type Meta struct {
	ID         string     `json:"id" db:"id"`
	SyncStatus SyncStatus `json:"-" db:"sync_status"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

func (m Meta) Ident() string      { return m.ID }
func (m Meta) Status() SyncStatus { return m.SyncStatus }
func (m Meta) Created() time.Time { return m.CreatedAt }

// SetStatus lets stores stamp the sync state on a record before persisting it.
func (m *Meta) SetStatus(s SyncStatus) { m.SyncStatus = s }

// Stamp fills a missing id and missing timestamps before a row is first stored.
func (m *Meta) Stamp(now time.Time) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
}

// User is a cart operator. Pin is a business-unique key independent of ID.
type User struct {
	Meta
	Name           string `json:"name" db:"name"`
	Pin            string `json:"pin" db:"pin"`
	Role           string `json:"role" db:"role"`
	Bio            string `json:"bio" db:"bio"`
	ProfilePicture string `json:"profile_picture" db:"profile_picture"`
}

// Category groups inventory items. Names are unique after NormalizeName.
type Category struct {
	Meta
	Name string `json:"name" db:"name"`
}

// InventoryItem is a stocked product. CategoryID is a weak reference and may be nil.
type InventoryItem struct {
	Meta
	Name       string          `json:"name" db:"name"`
	CategoryID *string         `json:"category_id" db:"category_id"`
	Unit       string          `json:"unit" db:"unit"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	CreatedBy  string          `json:"created_by" db:"created_by"`
}

// Sale is a recorded sale for a business day.
type Sale struct {
	Meta
	Name      string          `json:"name" db:"name"`
	Total     decimal.Decimal `json:"total" db:"total"`
	Date      string          `json:"date" db:"date"` // day key, YYYY-MM-DD
	CreatedBy string          `json:"created_by" db:"created_by"`
}

// Expense is a recorded expense for a business day.
type Expense struct {
	Meta
	Name      string          `json:"name" db:"name"`
	Total     decimal.Decimal `json:"total" db:"total"`
	Date      string          `json:"date" db:"date"`
	CreatedBy string          `json:"created_by" db:"created_by"`
}

// Activity is an entry in the activity feed.
type Activity struct {
	Meta
	Type        string `json:"type" db:"type"`
	Description string `json:"description" db:"description"`
	UserID      string `json:"user_id" db:"user_id"`
}

// DayKey formats t as the day key used by sales and expenses.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// NormalizeName is the comparison key for category name uniqueness.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Deletion is a queued remote delete for a row already removed locally.
type Deletion struct {
	Seq      int64     `db:"seq"`
	Table    Table     `db:"table_name"`
	ID       string    `db:"record_id"`
	QueuedAt time.Time `db:"queued_at"`
}
