// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-cartsync/cartsync"
)

// NewWatchCommand keeps the device in sync until interrupted.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync periodically and whenever the remote becomes reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := openDevice(opts)
			if err != nil {
				return err
			}
			defer d.Close()

			unsubscribe := d.engine.Subscribe(func(st cartsync.State) {
				opts.Logger.Info("Sync state", "status", st.Status, "pending", st.PendingCount,
					"last_sync", st.LastSyncTime)
			})
			defer unsubscribe()

			d.loginSync(ctx)
			if d.prober != nil {
				go d.prober.Run(ctx)
			}

			err = d.engine.Start(ctx)
			if errors.Is(err, context.Canceled) {
				d.engine.RunSync(context.WithoutCancel(ctx), cartsync.ReasonLogout)
				return nil
			}
			return err
		},
	}
}

// loginSync learns connectivity first so the opening cycle is not skipped
// as offline.
func (d *device) loginSync(ctx context.Context) cartsync.Result {
	d.probe(ctx)
	return d.engine.RunSync(ctx, cartsync.ReasonLogin)
}
