// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-cartsync/cartserver"
)

// NewTokenCommand mints a device token signed with server.jwt_secret.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		subject  string
		deviceID string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := opts.Config.Server.JWTSecret
			if secret == "" {
				return errors.New("server.jwt_secret is not set")
			}
			if subject == "" {
				return errors.New("--subject is required")
			}
			if deviceID == "" {
				deviceID = uuid.NewString()
			}
			if ttl <= 0 {
				ttl = opts.Config.Server.TokenTTL
			}
			token, err := cartserver.NewJWTAuth(secret, opts.Logger).GenerateToken(subject, deviceID, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "business or owner identifier")
	cmd.Flags().StringVar(&deviceID, "device", "", "device id (random when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to server.token_ttl)")
	return cmd
}
