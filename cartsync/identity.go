// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartsync

import (
	"context"
	"fmt"
	"sort"
)

// DefaultRecoveryPin identifies the user that inherits orphaned references
// when no fallback pin is configured.
const DefaultRecoveryPin = "0000"

// MigrationReport summarizes one MigrateLocalUserIDs run.
type MigrationReport struct {
	Remapped         int
	Inserted         int
	OrphansRewritten int64
	FallbackUserID   string
}

// MigrateLocalUserIDs reconciles independently seeded local users with the
// server's users by pin.
//
// A local user whose pin belongs to a server user with another id is folded
// into the server id: references are rewritten, the local row is removed
// and the server row is stored with the local name, bio and picture. A local
// user the server knows under a different pin only has a stale pin and is
// left for the merge. A remote delete of the folded row is queued only when
// the server still holds it. Server
// users missing locally are inserted. References that still point at no
// known user are handed to the fallback user. Running it again once ids
// agree changes nothing.
func (e *Engine) MigrateLocalUserIDs(ctx context.Context, serverUsers []User, fallbackPin string) (MigrationReport, error) {
	var report MigrationReport

	locals, err := e.local.Users().List(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list local users: %w", err)
	}

	pinHolders := make(map[string][]User, len(serverUsers))
	serverByID := make(map[string]User, len(serverUsers))
	for _, su := range serverUsers {
		if su.ID == "" {
			continue
		}
		serverByID[su.ID] = su
		if su.Pin != "" {
			pinHolders[su.Pin] = append(pinHolders[su.Pin], su)
		}
	}

	remap := make(map[string]string)
	absorbed := make(map[string]User) // server id -> local user folded into it
	heldRemotely := make(map[string]bool)
	for _, lu := range locals {
		if lu.Pin == "" {
			continue
		}
		own, onServer := serverByID[lu.ID]
		if onServer && own.Pin != lu.Pin {
			// the server copy moved to another pin; the merge updates it
			continue
		}
		su, ok := otherPinHolder(pinHolders[lu.Pin], lu.ID)
		if !ok {
			continue
		}
		remap[lu.ID] = su.ID
		heldRemotely[lu.ID] = onServer
		if prev, seen := absorbed[su.ID]; !seen || lu.UpdatedAt.After(prev.UpdatedAt) {
			absorbed[su.ID] = lu
		}
	}

	fromIDs := make([]string, 0, len(remap))
	for from := range remap {
		fromIDs = append(fromIDs, from)
	}
	sort.Strings(fromIDs)

	localByID := make(map[string]User, len(locals))
	for _, lu := range locals {
		localByID[lu.ID] = lu
	}
	for _, from := range fromIDs {
		to := remap[from]
		moved, err := e.local.RepointUser(ctx, from, to)
		if err != nil {
			return report, fmt.Errorf("failed to repoint references from user %s: %w", from, err)
		}
		if err := e.local.Users().Delete(ctx, from); err != nil {
			return report, fmt.Errorf("failed to remove superseded user %s: %w", from, err)
		}
		if heldRemotely[from] {
			// the server still holds the superseded row under the same pin
			if err := e.local.QueueDeletion(ctx, TableUsers, from); err != nil {
				return report, fmt.Errorf("failed to queue remote delete of user %s: %w", from, err)
			}
		}
		delete(localByID, from)
		e.logger.Info("Migrated local user to server identity",
			"local_id", from, "server_id", to, "references_rewritten", moved)
		report.Remapped++
	}

	for _, su := range serverUsers {
		if su.ID == "" {
			continue
		}
		if _, present := localByID[su.ID]; present {
			continue
		}
		if _, superseded := remap[su.ID]; superseded {
			continue
		}
		rec, status := su, StatusSynced
		if lu, ok := absorbed[su.ID]; ok {
			rec = overlayLocalProfile(su, lu)
			status = lu.Status()
		}
		if err := e.local.Users().Save(ctx, rec, status); err != nil {
			return report, fmt.Errorf("failed to insert server user %s: %w", su.ID, err)
		}
		localByID[rec.ID] = rec
		report.Inserted++
	}

	present := make([]User, 0, len(localByID))
	known := make(map[string]struct{}, len(localByID)+len(serverByID))
	for id, u := range localByID {
		present = append(present, u)
		known[id] = struct{}{}
	}
	for id := range serverByID {
		known[id] = struct{}{}
	}

	report.FallbackUserID = resolveFallbackUserID(fallbackPin, serverUsers, present)
	report.OrphansRewritten, err = e.sweepOrphanUserRefs(ctx, known, report.FallbackUserID)
	if err != nil {
		return report, err
	}
	return report, nil
}

// otherPinHolder returns the first server user in holders whose id is not id.
func otherPinHolder(holders []User, id string) (User, bool) {
	for _, su := range holders {
		if su.ID != id {
			return su, true
		}
	}
	return User{}, false
}

// overlayLocalProfile keeps the server identity and prefers the locally
// known editable fields.
func overlayLocalProfile(server, local User) User {
	out := server
	if local.Name != "" {
		out.Name = local.Name
	}
	if local.Bio != "" {
		out.Bio = local.Bio
	}
	if local.ProfilePicture != "" {
		out.ProfilePicture = local.ProfilePicture
	}
	if local.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = local.UpdatedAt
	}
	return out
}

// resolveFallbackUserID picks the user that inherits orphaned references:
// the holder of fallbackPin (DefaultRecoveryPin when empty), else the first
// server user, else the oldest local user. This reassigns authorship on a
// best-effort basis and is logged by the caller.
func resolveFallbackUserID(fallbackPin string, serverUsers, locals []User) string {
	pin := fallbackPin
	if pin == "" {
		pin = DefaultRecoveryPin
	}
	for _, u := range serverUsers {
		if u.ID != "" && u.Pin == pin {
			return u.ID
		}
	}
	sorted := append([]User(nil), locals...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	for _, u := range sorted {
		if u.Pin == pin {
			return u.ID
		}
	}
	for _, u := range serverUsers {
		if u.ID != "" {
			return u.ID
		}
	}
	if len(sorted) > 0 {
		return sorted[0].ID
	}
	return ""
}

// sweepOrphanUserRefs hands every user reference outside known to fallbackID.
func (e *Engine) sweepOrphanUserRefs(ctx context.Context, known map[string]struct{}, fallbackID string) (int64, error) {
	refs, err := e.userRefs(ctx)
	if err != nil {
		return 0, err
	}

	var orphans []string
	for _, id := range refs {
		if _, ok := known[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	if fallbackID == "" {
		e.logger.Warn("Orphaned user references left in place: no fallback user available",
			"orphans", len(orphans))
		return 0, nil
	}

	var rewritten int64
	for _, id := range orphans {
		n, err := e.local.RepointUser(ctx, id, fallbackID)
		if err != nil {
			return rewritten, fmt.Errorf("failed to rewrite orphaned user reference %q: %w", id, err)
		}
		e.logger.Warn("Reassigned orphaned user reference to fallback user",
			"orphan_id", id, "fallback_id", fallbackID, "rows", n)
		rewritten += n
	}
	return rewritten, nil
}

// userRefs returns the distinct user ids referenced by inventory, sales,
// expenses and activities, in sorted order.
func (e *Engine) userRefs(ctx context.Context) ([]string, error) {
	set := make(map[string]struct{})

	items, err := e.local.Inventory().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	for _, r := range items {
		set[r.CreatedBy] = struct{}{}
	}
	sales, err := e.local.Sales().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	for _, r := range sales {
		set[r.CreatedBy] = struct{}{}
	}
	expenses, err := e.local.Expenses().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	for _, r := range expenses {
		set[r.CreatedBy] = struct{}{}
	}
	activities, err := e.local.Activities().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	for _, r := range activities {
		set[r.UserID] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ResolveUserPinConflict folds the pending local user localID into the
// remote identity serverID that already owns its pin. References are
// repointed, the local row is deleted, and a synced row is created at
// serverID from the local editable fields if none exists yet. A second call
// with the same arguments is a no-op.
func (e *Engine) ResolveUserPinConflict(ctx context.Context, localID, serverID string, localUser User) error {
	if localID == serverID || serverID == "" {
		return nil
	}
	moved, err := e.local.RepointUser(ctx, localID, serverID)
	if err != nil {
		return fmt.Errorf("failed to repoint references from user %s: %w", localID, err)
	}
	if err := e.local.Users().Delete(ctx, localID); err != nil {
		return fmt.Errorf("failed to delete conflicting user %s: %w", localID, err)
	}
	_, found, err := e.local.Users().Get(ctx, serverID)
	if err != nil {
		return fmt.Errorf("failed to look up user %s: %w", serverID, err)
	}
	if !found {
		rec := localUser
		rec.ID = serverID
		rec.UpdatedAt = e.now()
		if err := e.local.Users().Save(ctx, rec, StatusSynced); err != nil {
			return fmt.Errorf("failed to insert user %s: %w", serverID, err)
		}
	}
	e.logger.Info("Resolved user pin conflict",
		"local_id", localID, "server_id", serverID, "references_rewritten", moved, "inserted", !found)
	return nil
}

// resolvePendingUserPins checks each pending user's pin against the remote
// and drops users that were absorbed into an existing remote identity.
func (e *Engine) resolvePendingUserPins(ctx context.Context, pending []User) ([]User, error) {
	keep := make([]User, 0, len(pending))
	for _, u := range pending {
		if u.Pin == "" {
			keep = append(keep, u)
			continue
		}
		remoteUser, err := e.remote.FindUserByPin(ctx, u.Pin)
		if err != nil {
			e.logger.Warn("Remote pin lookup failed; pushing user as is", "id", u.ID, "error", err)
			keep = append(keep, u)
			continue
		}
		if remoteUser == nil || remoteUser.ID == u.ID {
			keep = append(keep, u)
			continue
		}
		if err := e.ResolveUserPinConflict(ctx, u.ID, remoteUser.ID, u); err != nil {
			return nil, err
		}
	}
	return keep, nil
}
