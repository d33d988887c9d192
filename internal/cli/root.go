// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package cli wires the cartsync command line.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-cartsync/config"
)

// RootOptions holds global flags and the configuration loaded for every command.
type RootOptions struct {
	ConfigPath string
	JSON       bool

	Config config.Config
	Logger *slog.Logger
}

// NewRootCommand creates the cartsync root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cartsync",
		Short: "Offline-first sync for food-cart point-of-sale data",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			opts.Config = cfg
			opts.Logger = cfg.Log.NewLogger(os.Stderr)
			slog.SetDefault(opts.Logger)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: $CARTSYNC_CONFIG or ./cartsync.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print results as JSON")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}
