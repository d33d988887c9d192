// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCommand prints the projected sync state.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status, pending count and last full sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := openDevice(opts)
			if err != nil {
				return err
			}
			defer d.Close()

			d.probe(ctx)
			st, err := d.engine.CurrentState(ctx)
			if err != nil {
				return err
			}
			if opts.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			last := "never"
			if !st.LastSyncTime.IsZero() {
				last = st.LastSyncTime.Local().Format("2006-01-02 15:04:05")
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "status: %s\npending: %d\nlast sync: %s\n",
				st.Status, st.PendingCount, last)
			return err
		},
	}
}
