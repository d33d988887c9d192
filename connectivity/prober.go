// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package connectivity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Prober polls the remote health endpoint and feeds the result into a Monitor.
type Prober struct {
	URL      string
	Interval time.Duration
	HTTP     *http.Client
	Monitor  *Monitor
	logger   *slog.Logger
}

// NewProber returns a prober for baseURL + "/health".
func NewProber(baseURL string, interval time.Duration, monitor *Monitor, logger *slog.Logger) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		URL:      strings.TrimRight(baseURL, "/") + "/health",
		Interval: interval,
		HTTP:     &http.Client{Timeout: 5 * time.Second},
		Monitor:  monitor,
		logger:   logger,
	}
}

// Probe performs one health check and updates the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	err := p.check(ctx)
	online := err == nil
	if p.Monitor.Set(online) {
		if online {
			p.logger.Info("Remote reachable", "url", p.URL)
		} else {
			p.logger.Warn("Remote unreachable", "url", p.URL, "error", err)
		}
	}
	return online
}

func (p *Prober) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// Run probes immediately and then every Interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
