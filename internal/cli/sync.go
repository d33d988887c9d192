// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-cartsync/cartsync"
)

// NewSyncCommand runs a single reconciliation cycle.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle against the configured remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := cartsync.ParseReason(reason)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := openDevice(opts)
			if err != nil {
				return err
			}
			defer d.Close()

			d.probe(ctx)
			res := d.engine.RunSync(ctx, r)
			if err := printResult(cmd.OutOrStdout(), opts.JSON, res); err != nil {
				return err
			}
			return resultError(res)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", string(cartsync.ReasonManual), "sync reason (login|logout|manual|auto)")
	return cmd
}

type resultView struct {
	Reason       cartsync.Reason `json:"reason"`
	OK           bool            `json:"ok"`
	Skipped      string          `json:"skipped,omitempty"`
	PushOK       bool            `json:"push_ok"`
	PullOK       bool            `json:"pull_ok"`
	PendingCount int             `json:"pending_count"`
	Deleted      int             `json:"deleted"`
	Pushed       int             `json:"pushed"`
	Merged       int             `json:"merged"`
	Error        string          `json:"error,omitempty"`
	Duration     string          `json:"duration"`
}

func printResult(w io.Writer, asJSON bool, res cartsync.Result) error {
	v := resultView{
		Reason:       res.Reason,
		OK:           res.OK,
		Skipped:      res.Skipped,
		PushOK:       res.PushOK,
		PullOK:       res.PullOK,
		PendingCount: res.PendingCount,
		Deleted:      res.Deleted,
		Pushed:       res.Pushed,
		Merged:       res.Merged,
		Duration:     res.Duration.String(),
	}
	if res.Err != nil {
		v.Error = res.Err.Error()
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	if v.Skipped != "" {
		_, err := fmt.Fprintf(w, "sync %s: skipped (%s), %d pending\n", v.Reason, v.Skipped, v.PendingCount)
		return err
	}
	_, err := fmt.Fprintf(w, "sync %s: ok=%t push_ok=%t pull_ok=%t pushed=%d merged=%d deleted=%d pending=%d (%s)\n",
		v.Reason, v.OK, v.PushOK, v.PullOK, v.Pushed, v.Merged, v.Deleted, v.PendingCount, v.Duration)
	return err
}
