/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/timelapse/internal/auth"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
	tokenControl bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token",
	Long: `Issue a bearer token signed with TIMELAPSE_JWT_SIGNING_KEY.

Examples:
  # A control token for the ops dashboard, valid for a day
  timelapse token --subject ops --ttl 24h

  # A read-only token
  timelapse token --subject kiosk --control=false
`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "Token lifetime")
	tokenCmd.Flags().BoolVar(&tokenControl, "control", true, "Grant the playback control scope")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.JWTSigningKey == "" {
		return errors.New("TIMELAPSE_JWT_SIGNING_KEY is not set")
	}
	if tokenTTL <= 0 {
		return fmt.Errorf("--ttl must be positive, got %s", tokenTTL)
	}

	var scopes []string
	if tokenControl {
		scopes = append(scopes, auth.ScopeControl)
	}
	token, err := auth.Issue([]byte(cfg.JWTSigningKey), tokenSubject, scopes, tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
