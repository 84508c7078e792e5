/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timespan provides the half-open time window value type shared by
// animation plans and their listeners.
package timespan

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvertedWindow is returned when a window ends before it starts.
var ErrInvertedWindow = errors.New("window end precedes start")

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// New constructs a window, rejecting End before Start.
func New(start, end time.Time) (Window, error) {
	if end.Before(start) {
		return Window{}, fmt.Errorf("%w: %s > %s", ErrInvertedWindow, start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	}
	return Window{Start: start, End: end}, nil
}

// MustNew is New for literals known to be valid.
func MustNew(start, end time.Time) Window {
	w, err := New(start, end)
	if err != nil {
		panic(err)
	}
	return w
}

// Starting returns the window of length d beginning at start.
func Starting(start time.Time, d time.Duration) Window {
	return Window{Start: start, End: start.Add(d)}
}

// Ending returns the window of length d finishing at end.
func Ending(end time.Time, d time.Duration) Window {
	return Window{Start: end.Add(-d), End: end}
}

// Duration is End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// IsZeroLength reports whether the window contains no instants.
func (w Window) IsZeroLength() bool {
	return !w.Start.Before(w.End)
}

// Contains reports Start <= t < End.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Covers reports whether other lies entirely inside w.
func (w Window) Covers(other Window) bool {
	return !other.Start.Before(w.Start) && !other.End.After(w.End)
}

// Overlaps reports whether the two windows share at least one instant.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Equal compares both bounds as instants, ignoring location.
func (w Window) Equal(other Window) bool {
	return w.Start.Equal(other.Start) && w.End.Equal(other.End)
}

// DistanceTo returns how far t lies outside the window. Instants inside the
// window are at distance zero, and so is End itself.
func (w Window) DistanceTo(t time.Time) time.Duration {
	if t.Before(w.Start) {
		return w.Start.Sub(t)
	}
	if t.After(w.End) {
		return t.Sub(w.End)
	}
	return 0
}

// Intersect returns the overlap of the two windows and whether one exists.
func (w Window) Intersect(other Window) (Window, bool) {
	start := w.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := w.End
	if other.End.Before(end) {
		end = other.End
	}
	if !start.Before(end) {
		return Window{}, false
	}
	return Window{Start: start, End: end}, true
}

// Shift moves both bounds by d.
func (w Window) Shift(d time.Duration) Window {
	return Window{Start: w.Start.Add(d), End: w.End.Add(d)}
}

// Clamp returns t limited to [Start, End].
func (w Window) Clamp(t time.Time) time.Time {
	if t.Before(w.Start) {
		return w.Start
	}
	if t.After(w.End) {
		return w.End
	}
	return t
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.UTC().Format(time.RFC3339Nano), w.End.UTC().Format(time.RFC3339Nano))
}
