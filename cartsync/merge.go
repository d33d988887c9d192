// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartsync

import (
	"context"
	"fmt"
)

// MergeOutcome describes what MergeRecord did with a pulled record.
type MergeOutcome int

const (
	MergeInserted MergeOutcome = iota
	MergeUpdated
	// MergeKeptLocal means a pending local edit shadowed the remote row
	MergeKeptLocal
)

func (o MergeOutcome) String() string {
	switch o {
	case MergeInserted:
		return "inserted"
	case MergeUpdated:
		return "updated"
	case MergeKeptLocal:
		return "kept_local"
	default:
		return fmt.Sprintf("MergeOutcome(%d)", int(o))
	}
}

// MergeRecord applies one pulled remote record to the local table.
//
// Missing locally: inserted as synced. Local synced: replaced by the remote
// version. Local pending: left untouched until a push confirms it. Applying
// the same record twice yields the same stored state.
func MergeRecord[T Record](ctx context.Context, ts TableStore[T], remote T) (MergeOutcome, error) {
	local, found, err := ts.Get(ctx, remote.Ident())
	if err != nil {
		return 0, fmt.Errorf("failed to load local row: %w", err)
	}
	if !found {
		if err := ts.Save(ctx, remote, StatusSynced); err != nil {
			return 0, fmt.Errorf("failed to insert remote row: %w", err)
		}
		return MergeInserted, nil
	}
	if local.Status() == StatusPending {
		return MergeKeptLocal, nil
	}
	if err := ts.Save(ctx, remote, StatusSynced); err != nil {
		return 0, fmt.Errorf("failed to overwrite local row: %w", err)
	}
	return MergeUpdated, nil
}

type mergeStats struct {
	Inserted  int
	Updated   int
	KeptLocal int
	Skipped   int
}

func (s *mergeStats) add(o MergeOutcome) {
	switch o {
	case MergeInserted:
		s.Inserted++
	case MergeUpdated:
		s.Updated++
	case MergeKeptLocal:
		s.KeptLocal++
	}
}

func (s mergeStats) total() int {
	return s.Inserted + s.Updated + s.KeptLocal
}
