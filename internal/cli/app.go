// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/mobiletoly/go-cartsync/cartremote"
	"github.com/mobiletoly/go-cartsync/cartsqlite"
	"github.com/mobiletoly/go-cartsync/cartsync"
	"github.com/mobiletoly/go-cartsync/connectivity"
)

// device bundles what a device-side command needs.
type device struct {
	store   *cartsqlite.Store
	remote  *cartremote.Client
	monitor *connectivity.Monitor
	prober  *connectivity.Prober
	engine  *cartsync.Engine
}

func openDevice(opts *RootOptions) (*device, error) {
	cfg := opts.Config
	store, err := cartsqlite.Open(cfg.Local.Path, cartsqlite.Options{
		BusyTimeout: cfg.Local.BusyTimeout,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	remote := cartremote.NewClient(cfg.Remote.URL, cartremote.StaticToken(cfg.Remote.Token),
		cfg.Remote.RequestTimeout, opts.Logger)
	monitor := connectivity.NewMonitor(false)
	var prober *connectivity.Prober
	if remote.IsConfigured() {
		prober = connectivity.NewProber(cfg.Remote.URL, cfg.Sync.ProbeInterval, monitor, opts.Logger)
	}

	engine, err := cartsync.NewEngine(store, remote, monitor, &cartsync.Config{
		FallbackPin:     cfg.Sync.FallbackPin,
		Interval:        cfg.Sync.Interval,
		CycleTimeout:    cfg.Sync.CycleTimeout,
		LogStageTimings: cfg.Sync.LogTimings,
	}, opts.Logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &device{store: store, remote: remote, monitor: monitor, prober: prober, engine: engine}, nil
}

// probe refreshes connectivity once; without a remote there is nothing to reach.
func (d *device) probe(ctx context.Context) {
	if d.prober != nil {
		d.prober.Probe(ctx)
	}
}

func (d *device) Close() error {
	return d.store.Close()
}

func resultError(res cartsync.Result) error {
	if res.OK {
		return nil
	}
	if res.Err != nil {
		return fmt.Errorf("sync failed: %w", res.Err)
	}
	if res.Skipped != "" {
		return fmt.Errorf("sync skipped: %s", res.Skipped)
	}
	return errors.New("sync incomplete: changes remain pending")
}
