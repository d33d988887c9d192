// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartsync

import (
	"context"
	"time"
)

const (
	MetricsOpCycle = "cycle"

	MetricsStagePreSync   = "pre_sync"
	MetricsStageDeletions = "deletions"
	MetricsStagePush      = "push"
	MetricsStagePull      = "pull"
	MetricsStageMerge     = "merge"
	MetricsStageFinalize  = "finalize"
)

type StageTiming struct {
	Operation string
	Stage     string
	Reason    Reason
	Duration  time.Duration
	Count     int
	Error     bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func (e *Engine) stageTimingEnabled() bool {
	if e == nil || e.config == nil {
		return false
	}
	return e.config.StageMetrics != nil || e.config.LogStageTimings
}

func (e *Engine) stageStart() time.Time {
	if !e.stageTimingEnabled() {
		return time.Time{}
	}
	return time.Now()
}

func (e *Engine) observeStage(ctx context.Context, reason Reason, stage string, start time.Time, count int, hadError bool) {
	if start.IsZero() || e == nil || e.config == nil {
		return
	}

	timing := StageTiming{
		Operation: MetricsOpCycle,
		Stage:     stage,
		Reason:    reason,
		Duration:  time.Since(start),
		Count:     count,
		Error:     hadError,
	}

	if e.config.StageMetrics != nil {
		e.config.StageMetrics.ObserveStage(ctx, timing)
	}
	if e.config.LogStageTimings {
		e.logger.Debug("Stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"reason", timing.Reason,
			"duration", timing.Duration,
			"count", timing.Count,
			"error", timing.Error,
		)
	}
}
