// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartsync

import "time"

// Phase is the user-visible sync status.
type Phase string

const (
	PhaseSynced  Phase = "synced"
	PhasePending Phase = "pending"
	PhaseSyncing Phase = "syncing"
	PhaseOffline Phase = "offline"
)

// State is a read-only projection of connectivity, the in-flight flag, the
// local pending count and the last full sync. It is never stored.
type State struct {
	Status       Phase     `json:"status"`
	PendingCount int       `json:"pending_count"`
	LastSyncTime time.Time `json:"last_sync_time"`
}

// Project derives the state from its inputs. Offline wins over everything,
// then an in-flight cycle, then outstanding local changes.
func Project(connected, syncing bool, pending int, lastSync time.Time) State {
	st := State{PendingCount: pending, LastSyncTime: lastSync}
	switch {
	case !connected:
		st.Status = PhaseOffline
	case syncing:
		st.Status = PhaseSyncing
	case pending > 0:
		st.Status = PhasePending
	default:
		st.Status = PhaseSynced
	}
	return st
}
