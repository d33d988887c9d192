// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-cartsync/cartserver"
)

// NewServeCommand runs cartserver until interrupted.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the remote record store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.Config.Server
			if addr != "" {
				cfg.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			components, err := cartserver.SetupServer(ctx, &cartserver.ServerConfig{
				DatabaseURL:  cfg.DatabaseURL,
				JWTSecret:    cfg.JWTSecret,
				MaxBatchSize: cfg.MaxBatchSize,
				Logger:       opts.Logger,
			})
			if err != nil {
				return err
			}
			defer components.Close()

			server := &http.Server{
				Addr:              cfg.Addr,
				Handler:           components.Handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				opts.Logger.Info("Server starting", "addr", cfg.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			opts.Logger.Info("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return err
			}
			opts.Logger.Info("Server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
