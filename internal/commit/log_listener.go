/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package commit

import (
	"context"

	"github.com/rs/zerolog"
)

// LogListener participates in every phased transition and logs each phase.
// It arrives as soon as PreCommit is called.
type LogListener struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewLogListener logs at level.
func NewLogListener(logger zerolog.Logger, level zerolog.Level) *LogListener {
	return &LogListener{logger: logger.With().Str("component", "commit_log").Logger(), level: level}
}

func (l *LogListener) Prepare(_ context.Context, t Transition) bool {
	l.logger.WithLevel(l.level).Str("transition_id", t.ID).Str("transition", t.String()).Msg("prepare")
	return true
}

func (l *LogListener) PreCommit(_ context.Context, t Transition, arrival *Arrival) {
	l.logger.WithLevel(l.level).Str("transition_id", t.ID).Msg("pre-commit")
	arrival.Arrive()
}

func (l *LogListener) Commit(_ context.Context, t Transition) {
	l.logger.WithLevel(l.level).
		Str("transition_id", t.ID).
		Str("plan_id", t.PlanID).
		Int("index", t.To.Index).
		Time("window_start", t.To.Window.Start).
		Time("window_end", t.To.Window.End).
		Msg("commit")
}
