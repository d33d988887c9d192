// Package cartsync reconciles an offline-first local store with a remote
// store: it pushes pending local changes, pulls remote tables, merges them
// without clobbering unsynced edits, and repairs identity conflicts left by
// devices that were seeded independently.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Reason says what triggered a cycle. It is recorded in logs and metrics
// and does not change the cycle itself.
type Reason string

const (
	ReasonLogin  Reason = "login"
	ReasonLogout Reason = "logout"
	ReasonManual Reason = "manual"
	// ReasonAuto covers periodic cycles and connectivity regained
	ReasonAuto Reason = "auto"
)

// ParseReason validates a reason coming from the command line.
func ParseReason(s string) (Reason, error) {
	switch r := Reason(s); r {
	case ReasonLogin, ReasonLogout, ReasonManual, ReasonAuto:
		return r, nil
	}
	return "", fmt.Errorf("unknown sync reason %q", s)
}

// Skip reasons reported in Result.Skipped when a guard stops the cycle.
const (
	SkipInFlight      = "in_flight"
	SkipNotConfigured = "not_configured"
	SkipOffline       = "offline"
)

// Result reports one RunSync call. OK is true only when every push
// succeeded and nothing is left pending afterwards.
type Result struct {
	Reason       Reason
	OK           bool
	Skipped      string
	PushOK       bool
	PullOK       bool
	PendingCount int
	Deleted      int
	Pushed       int
	Merged       int
	// Err holds the failure that aborted the cycle, for diagnostics only
	Err      error
	Duration time.Duration
}

// Config holds engine tuning.
type Config struct {
	FallbackPin     string        // owner of orphaned references; DefaultRecoveryPin when empty
	Interval        time.Duration // period of auto cycles in Start; 0 disables the ticker
	CycleTimeout    time.Duration // upper bound for one cycle; 0 means none
	StageMetrics    StageMetricsRecorder
	LogStageTimings bool
	Clock           func() time.Time
}

// DefaultConfig returns the settings used by the CLI.
func DefaultConfig() *Config {
	return &Config{
		FallbackPin:  DefaultRecoveryPin,
		Interval:     5 * time.Minute,
		CycleTimeout: 2 * time.Minute,
	}
}

// Engine runs reconciliation cycles. At most one cycle is in flight.
type Engine struct {
	local  LocalStore
	remote RemoteStore
	conn   Connectivity
	config *Config
	logger *slog.Logger
	tables []tableHandler

	syncing atomic.Bool

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// NewEngine wires an engine to its three collaborators.
func NewEngine(local LocalStore, remote RemoteStore, conn Connectivity, config *Config, logger *slog.Logger) (*Engine, error) {
	if local == nil {
		return nil, errors.New("local store cannot be nil")
	}
	if remote == nil {
		return nil, errors.New("remote store cannot be nil")
	}
	if conn == nil {
		return nil, errors.New("connectivity cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		local:  local,
		remote: remote,
		conn:   conn,
		config: config,
		logger: logger,
		tables: handlers(),
		subs:   make(map[int]func(State)),
	}, nil
}

func (e *Engine) now() time.Time {
	if e.config.Clock != nil {
		return e.config.Clock()
	}
	return time.Now().UTC()
}

// Syncing reports whether a cycle is in flight.
func (e *Engine) Syncing() bool { return e.syncing.Load() }

// RunSync runs one reconciliation cycle. It never returns an error: guard
// rejections, remote failures and recovered panics all end up in Result.
func (e *Engine) RunSync(ctx context.Context, reason Reason) (res Result) {
	res.Reason = reason
	if !e.syncing.CompareAndSwap(false, true) {
		e.logger.Info("Sync already in progress; skipping", "reason", reason)
		res.Skipped = SkipInFlight
		return res
	}
	started := time.Now()
	defer func() {
		e.syncing.Store(false)
		e.notify(context.WithoutCancel(ctx))
	}()

	if !e.remote.IsConfigured() {
		res.Skipped = SkipNotConfigured
		res.PendingCount = e.pendingCountOrZero(ctx)
		e.logger.Info("Remote store not configured; skipping sync", "reason", reason, "pending", res.PendingCount)
		return res
	}
	if !e.conn.Connected() {
		res.Skipped = SkipOffline
		res.PendingCount = e.pendingCountOrZero(ctx)
		e.logger.Info("Offline; skipping sync", "reason", reason, "pending", res.PendingCount)
		return res
	}

	e.notify(ctx)

	cycleCtx := ctx
	if e.config.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, e.config.CycleTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			res.OK = false
			res.Err = fmt.Errorf("sync cycle panicked: %v", r)
			res.PendingCount = e.pendingCountOrZero(context.WithoutCancel(ctx))
			e.logger.Error("Sync cycle panicked", "reason", reason, "panic", r)
		}
		res.Duration = time.Since(started)
	}()

	e.logger.Info("Sync cycle started", "reason", reason)
	if err := e.runCycle(cycleCtx, &res); err != nil {
		res.OK = false
		res.Err = err
		res.PendingCount = e.pendingCountOrZero(context.WithoutCancel(ctx))
		e.logger.Error("Sync cycle failed", "reason", reason, "error", err, "pending", res.PendingCount)
		return res
	}
	e.logger.Info("Sync cycle finished",
		"reason", reason, "ok", res.OK, "push_ok", res.PushOK, "pull_ok", res.PullOK,
		"pushed", res.Pushed, "merged", res.Merged, "deleted", res.Deleted, "pending", res.PendingCount)
	return res
}

func (e *Engine) runCycle(ctx context.Context, res *Result) error {
	start := e.stageStart()
	err := e.preSync(ctx)
	e.observeStage(ctx, res.Reason, MetricsStagePreSync, start, 0, err != nil)
	if err != nil {
		return fmt.Errorf("pre-sync repair: %w", err)
	}

	start = e.stageStart()
	res.Deleted, err = e.drainDeletions(ctx)
	e.observeStage(ctx, res.Reason, MetricsStageDeletions, start, res.Deleted, err != nil)
	if err != nil {
		return fmt.Errorf("drain deletions: %w", err)
	}

	start = e.stageStart()
	res.PushOK, res.Pushed, err = e.push(ctx)
	e.observeStage(ctx, res.Reason, MetricsStagePush, start, res.Pushed, err != nil || !res.PushOK)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}

	start = e.stageStart()
	pulled, fetchErrs := e.pull(ctx)
	res.PullOK = true
	for _, ferr := range fetchErrs {
		if ferr != nil {
			res.PullOK = false
		}
	}
	e.observeStage(ctx, res.Reason, MetricsStagePull, start, len(pulled), !res.PullOK)

	start = e.stageStart()
	res.Merged, err = e.merge(ctx, pulled, fetchErrs)
	e.observeStage(ctx, res.Reason, MetricsStageMerge, start, res.Merged, err != nil)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	start = e.stageStart()
	res.PendingCount, err = e.finalize(ctx, res.PushOK)
	e.observeStage(ctx, res.Reason, MetricsStageFinalize, start, res.PendingCount, err != nil)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	res.OK = res.PushOK && res.PendingCount == 0
	return nil
}

// preSync repairs categories and migrates user identities against the
// current server snapshot before any pending data is touched. A failed
// fetch skips the part that depends on it.
func (e *Engine) preSync(ctx context.Context) error {
	if _, err := e.RepairDuplicateCategories(ctx); err != nil {
		return err
	}

	// rows deleted locally must not come back from the snapshot before
	// their remote delete is sent
	queued, err := e.queuedDeletions(ctx)
	if err != nil {
		return err
	}

	var stats mergeStats
	rawCats, err := e.remote.FetchAll(ctx, TableCategories)
	if err != nil {
		e.logger.Warn("Category fetch failed; skipping category reconciliation", "error", err)
	} else {
		cats := decodeLenient[Category](e.logger, TableCategories, rawCats, &stats)
		if err := e.reconcileRemoteCategories(ctx, withoutIDs(cats, queued[TableCategories])); err != nil {
			return err
		}
	}

	rawUsers, err := e.remote.FetchAll(ctx, TableUsers)
	if err != nil {
		e.logger.Warn("User fetch failed; skipping identity migration", "error", err)
		return nil
	}
	users := withoutIDs(decodeLenient[User](e.logger, TableUsers, rawUsers, &stats), queued[TableUsers])
	report, err := e.MigrateLocalUserIDs(ctx, users, e.config.FallbackPin)
	if err != nil {
		return err
	}
	if report.Remapped > 0 || report.OrphansRewritten > 0 {
		e.logger.Info("Identity migration applied",
			"remapped", report.Remapped, "inserted", report.Inserted,
			"orphans_rewritten", report.OrphansRewritten, "fallback_user", report.FallbackUserID)
	}
	return nil
}

func (e *Engine) queuedDeletions(ctx context.Context) (map[Table]map[string]struct{}, error) {
	dels, err := e.local.PendingDeletions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending deletions: %w", err)
	}
	out := make(map[Table]map[string]struct{})
	for _, d := range dels {
		if out[d.Table] == nil {
			out[d.Table] = make(map[string]struct{})
		}
		out[d.Table][d.ID] = struct{}{}
	}
	return out, nil
}

func withoutIDs[T Record](records []T, ids map[string]struct{}) []T {
	if len(ids) == 0 {
		return records
	}
	out := records[:0:0]
	for _, rec := range records {
		if _, skip := ids[rec.Ident()]; !skip {
			out = append(out, rec)
		}
	}
	return out
}

// drainDeletions sends every queued deletion once and clears exactly the
// drained entries, whatever the per-item outcome.
func (e *Engine) drainDeletions(ctx context.Context) (int, error) {
	dels, err := e.local.PendingDeletions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending deletions: %w", err)
	}
	if len(dels) == 0 {
		return 0, nil
	}
	deleted := 0
	for _, d := range dels {
		if err := e.remote.DeleteByID(ctx, d.Table, d.ID); err != nil {
			e.logger.Warn("Remote delete failed; dropping from queue", "table", d.Table, "id", d.ID, "error", err)
			continue
		}
		deleted++
	}
	if err := e.local.ClearDeletions(ctx, dels); err != nil {
		return deleted, fmt.Errorf("failed to clear pending deletions: %w", err)
	}
	return deleted, nil
}

// push collects pending rows table by table, then sends all batches
// concurrently. An empty batch counts as success.
func (e *Engine) push(ctx context.Context) (ok bool, pushed int, err error) {
	batches := make([][]json.RawMessage, len(e.tables))
	for i, h := range e.tables {
		batch, err := h.collectPending(ctx, e)
		if err != nil {
			return false, 0, err
		}
		batches[i] = batch
	}

	errs := make([]error, len(e.tables))
	var wg sync.WaitGroup
	for i, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		wg.Add(1)
		go func(i int, batch []json.RawMessage) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("push panicked: %v", r)
				}
			}()
			errs[i] = e.remote.PushBatch(ctx, e.tables[i].name(), batch)
		}(i, batch)
	}
	wg.Wait()

	ok = true
	for i, batch := range batches {
		if errs[i] != nil {
			ok = false
			e.logger.Warn("Push failed", "table", e.tables[i].name(), "records", len(batch), "error", errs[i])
			continue
		}
		pushed += len(batch)
	}
	return ok, pushed, nil
}

// pull fetches every table concurrently, regardless of the push outcome.
func (e *Engine) pull(ctx context.Context) ([][]json.RawMessage, []error) {
	raws := make([][]json.RawMessage, len(e.tables))
	errs := make([]error, len(e.tables))
	var wg sync.WaitGroup
	for i, h := range e.tables {
		wg.Add(1)
		go func(i int, table Table) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("fetch panicked: %v", r)
				}
			}()
			raws[i], errs[i] = e.remote.FetchAll(ctx, table)
		}(i, h.name())
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			e.logger.Warn("Pull failed; keeping local rows", "table", e.tables[i].name(), "error", err)
		}
	}
	return raws, errs
}

// merge applies pulled tables one at a time in table order.
func (e *Engine) merge(ctx context.Context, pulled [][]json.RawMessage, fetchErrs []error) (int, error) {
	merged := 0
	for i, h := range e.tables {
		if fetchErrs[i] != nil {
			continue
		}
		stats, err := h.merge(ctx, e, pulled[i])
		if err != nil {
			return merged, err
		}
		if stats.KeptLocal > 0 || stats.Skipped > 0 {
			e.logger.Debug("Merge kept local rows",
				"table", h.name(), "kept_local", stats.KeptLocal, "skipped", stats.Skipped)
		}
		merged += stats.total()
	}
	return merged, nil
}

// finalize acknowledges a successful push, re-runs the repairs so the
// merged state holds its invariants, and advances lastSyncTime when nothing
// is left pending. Rows touched by the repairs stay pending for the next
// cycle.
func (e *Engine) finalize(ctx context.Context, pushOK bool) (int, error) {
	if pushOK {
		for _, h := range e.tables {
			if err := h.markAllSynced(ctx, e.local); err != nil {
				return 0, fmt.Errorf("failed to mark %s synced: %w", h.name(), err)
			}
		}
	}

	if _, err := e.RepairDuplicateCategories(ctx); err != nil {
		return 0, err
	}
	if err := e.repairUserRefs(ctx); err != nil {
		return 0, err
	}
	if _, err := e.clearDanglingCategoryRefs(ctx); err != nil {
		return 0, err
	}

	pending, err := e.PendingCount(ctx)
	if err != nil {
		return 0, err
	}
	if pending == 0 {
		if err := e.advanceLastSyncTime(ctx, e.now()); err != nil {
			return 0, err
		}
	}
	return pending, nil
}

// repairUserRefs hands references to users missing locally to the fallback user.
func (e *Engine) repairUserRefs(ctx context.Context) error {
	users, err := e.local.Users().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	known := make(map[string]struct{}, len(users))
	for _, u := range users {
		known[u.ID] = struct{}{}
	}
	fallback := resolveFallbackUserID(e.config.FallbackPin, nil, users)
	_, err = e.sweepOrphanUserRefs(ctx, known, fallback)
	return err
}

func (e *Engine) advanceLastSyncTime(ctx context.Context, t time.Time) error {
	prev, err := e.local.LastSyncTime(ctx)
	if err != nil {
		return fmt.Errorf("failed to read last sync time: %w", err)
	}
	if !t.After(prev) {
		return nil
	}
	if err := e.local.SetLastSyncTime(ctx, t); err != nil {
		return fmt.Errorf("failed to store last sync time: %w", err)
	}
	return nil
}

// PendingCount sums pending rows over all tables plus queued deletions.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	total := 0
	for _, h := range e.tables {
		n, err := h.pendingCount(ctx, e.local)
		if err != nil {
			return 0, fmt.Errorf("failed to count pending %s: %w", h.name(), err)
		}
		total += n
	}
	dels, err := e.local.PendingDeletions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending deletions: %w", err)
	}
	return total + len(dels), nil
}

func (e *Engine) pendingCountOrZero(ctx context.Context) int {
	n, err := e.PendingCount(ctx)
	if err != nil {
		e.logger.Warn("Failed to recompute pending count", "error", err)
		return 0
	}
	return n
}

// QueueDeletion removes the local row and queues its remote delete for the
// next cycle.
func (e *Engine) QueueDeletion(ctx context.Context, table Table, id string) error {
	var target tableHandler
	for _, h := range e.tables {
		if h.name() == table {
			target = h
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if id == "" {
		return errors.New("record id cannot be empty")
	}
	if err := target.remove(ctx, e.local, id); err != nil {
		return fmt.Errorf("failed to delete %s %s locally: %w", table, id, err)
	}
	if err := e.local.QueueDeletion(ctx, table, id); err != nil {
		return fmt.Errorf("failed to queue deletion of %s %s: %w", table, id, err)
	}
	e.notify(ctx)
	return nil
}

// CurrentState projects the state from live inputs.
func (e *Engine) CurrentState(ctx context.Context) (State, error) {
	pending, err := e.PendingCount(ctx)
	if err != nil {
		return State{}, err
	}
	last, err := e.local.LastSyncTime(ctx)
	if err != nil {
		return State{}, fmt.Errorf("failed to read last sync time: %w", err)
	}
	return Project(e.conn.Connected(), e.syncing.Load(), pending, last), nil
}

// Subscribe registers fn for state changes: cycle start and end, queued
// deletions and connectivity transitions seen by Start.
func (e *Engine) Subscribe(fn func(State)) (unsubscribe func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()
	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) notify(ctx context.Context) {
	e.subMu.Lock()
	if len(e.subs) == 0 {
		e.subMu.Unlock()
		return
	}
	fns := make([]func(State), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()

	st, err := e.CurrentState(ctx)
	if err != nil {
		e.logger.Warn("Failed to project sync state", "error", err)
		return
	}
	for _, fn := range fns {
		fn(st)
	}
}

// Start runs auto cycles every Interval and whenever connectivity comes
// back, until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	reconnected := make(chan struct{}, 1)
	unsubscribe := e.conn.Subscribe(func(connected bool) {
		e.notify(ctx)
		if !connected {
			return
		}
		select {
		case reconnected <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	var tick <-chan time.Time
	if e.config.Interval > 0 {
		ticker := time.NewTicker(e.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	e.logger.Info("Sync loop started", "interval", e.config.Interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Sync loop stopped")
			return ctx.Err()
		case <-tick:
			e.RunSync(ctx, ReasonAuto)
		case <-reconnected:
			e.RunSync(ctx, ReasonAuto)
		}
	}
}
