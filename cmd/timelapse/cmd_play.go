/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/timelapse/internal/animation"
	"github.com/friendsincode/timelapse/internal/commit"
	"github.com/friendsincode/timelapse/internal/events"
	"github.com/friendsincode/timelapse/internal/planfile"
	"github.com/friendsincode/timelapse/internal/playback"
	"github.com/friendsincode/timelapse/internal/prefs"
)

var (
	playRate      time.Duration
	playSteps     int
	playDirection string
)

var playCmd = &cobra.Command{
	Use:   "play <plan.yaml>",
	Short: "Play a plan file headless",
	Long: `Load a plan definition and step through it, printing every committed step.

Playback ends when a STOP plan reaches its last frame, after --steps steps,
or on SIGINT/SIGTERM. WRAP and BOUNCE plans run until interrupted unless
--steps is set.

Examples:
  # Play a plan at the rate it declares
  timelapse play radar.yaml

  # Ten steps backward, twice a second
  timelapse play radar.yaml --direction backward --rate 500ms --steps 10
`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().DurationVar(&playRate, "rate", 0, "Step interval, overriding the plan file")
	playCmd.Flags().IntVar(&playSteps, "steps", 0, "Stop after this many committed steps (0 = no limit)")
	playCmd.Flags().StringVar(&playDirection, "direction", "", "forward or backward, overriding the plan file")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	def, err := planfile.Load(args[0])
	if err != nil {
		return err
	}
	compiled, err := def.Compile()
	if err != nil {
		return fmt.Errorf("compile %s: %w", args[0], err)
	}
	if playDirection != "" {
		if compiled.Direction, err = animation.ParseDirection(playDirection); err != nil {
			return err
		}
	}
	if playRate > 0 {
		compiled.ChangeRate = playRate
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return play(ctx, compiled, playSteps, cmd.OutOrStdout())
}

// play drives compiled until it stops, maxSteps is reached or ctx ends.
func play(ctx context.Context, compiled *planfile.Compiled, maxSteps int, out io.Writer) error {
	store := prefs.NewMemoryStore(nil)
	store.SetDuration(prefs.KeyCommitTimeout, cfg.CommitTimeout)

	coord := commit.NewCoordinator(store, cfg.CommitTimeout, logger)
	if cfg.PhasedCommit {
		coord.AddArbitrator(commit.ArbitratorFunc(func(commit.Transition) bool { return true }))
	}
	coord.Register(commit.NewLogListener(logger, zerolog.DebugLevel))

	bus := events.NewBus()
	steps := bus.Subscribe(events.EventStepChanged)
	stopped := bus.Subscribe(events.EventPlaybackStopped)

	ctrl := playback.NewController(coord, logger,
		playback.WithBus(bus),
		playback.WithPreferences(store),
		playback.WithDefaultChangeRate(cfg.ChangeRate),
	)
	defer ctrl.Close()

	opts := []playback.PlanOption{playback.WithDirection(compiled.Direction)}
	if compiled.ChangeRate > 0 {
		opts = append(opts, playback.WithChangeRate(compiled.ChangeRate))
	}
	if err := ctrl.SetPlan(compiled.Plan, opts...); err != nil {
		return err
	}

	if snap := ctrl.Snapshot(); snap.Step != nil {
		printStep(out, snap.Step.Index, snap.Step.Window.Start, snap.Step.Window.End)
	}
	if err := ctrl.Play(compiled.Plan, compiled.Direction); err != nil {
		return err
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-steps:
			printStepPayload(out, payload)
			count++
			if maxSteps > 0 && count >= maxSteps {
				return nil
			}
		case payload := <-stopped:
			// The final step is published before the stop.
			for drained := false; !drained; {
				select {
				case p := <-steps:
					printStepPayload(out, p)
					count++
				default:
					drained = true
				}
			}
			logger.Info().Interface("reason", payload["reason"]).Int("steps", count).Msg("playback finished")
			return nil
		}
	}
}

func printStepPayload(out io.Writer, payload events.Payload) {
	index, _ := payload["index"].(int)
	start, _ := payload["window_start"].(time.Time)
	end, _ := payload["window_end"].(time.Time)
	printStep(out, index, start, end)
}

func printStep(out io.Writer, index int, start, end time.Time) {
	fmt.Fprintf(out, "%d\t%s\t%s\n", index, start.Format(time.RFC3339), end.Format(time.RFC3339))
}
