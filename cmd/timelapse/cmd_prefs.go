/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/timelapse/internal/config"
	"github.com/friendsincode/timelapse/internal/db"
	"github.com/friendsincode/timelapse/internal/prefs"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Read and write persisted playback preferences",
	Long: `Read and write preferences in the database selected by TIMELAPSE_PREFS_BACKEND.

Known keys:
  playback.commit_timeout   pre-commit rendezvous timeout
  playback.change_rate      default stepping interval for new plans

Examples:
  timelapse prefs set playback.commit_timeout 3s
  timelapse prefs get playback.change_rate
`,
}

var prefsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a preference value",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrefsGet,
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <duration>",
	Short: "Store a duration preference",
	Args:  cobra.ExactArgs(2),
	RunE:  runPrefsSet,
}

func init() {
	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd)
	rootCmd.AddCommand(prefsCmd)
}

func openPrefs() (*prefs.DBStore, func(), error) {
	if err := loadConfig(); err != nil {
		return nil, nil, err
	}
	if cfg.PrefsBackend == config.PrefsMemory {
		return nil, nil, fmt.Errorf("preference backend is %q; set TIMELAPSE_PREFS_BACKEND to a database", cfg.PrefsBackend)
	}

	database, err := db.Connect(cfg.PrefsBackend, cfg.PrefsDSN, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect preference database: %w", err)
	}
	store, err := prefs.NewDBStore(database, logger)
	if err != nil {
		_ = db.Close(database)
		return nil, nil, err
	}
	return store, func() { _ = db.Close(database) }, nil
}

func runPrefsGet(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openPrefs()
	if err != nil {
		return err
	}
	defer closeDB()

	value, ok, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("preference %s is not set", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runPrefsSet(cmd *cobra.Command, args []string) error {
	d, ok := prefs.ParseDuration(args[1])
	if !ok || d <= 0 {
		return fmt.Errorf("%q is not a positive duration", args[1])
	}

	store, closeDB, err := openPrefs()
	if err != nil {
		return err
	}
	defer closeDB()

	if err := store.SetDuration(cmd.Context(), args[0], d); err != nil {
		return err
	}
	logger.Info().Str("key", args[0]).Dur("value", d).Msg("preference stored")
	return nil
}
