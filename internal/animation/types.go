/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package animation walks ordered sequences of time windows. Everything here
// is pure: plans are immutable after construction and safe for concurrent use.
package animation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/friendsincode/timelapse/internal/timespan"
)

var (
	// ErrValidation indicates a plan or argument failed construction-time checks.
	ErrValidation = errors.New("validation failed")

	// ErrOutOfRange indicates a state index outside the plan's frame sequence.
	ErrOutOfRange = errors.New("state index out of range")
)

// Unreachable is the distance reported when the target state cannot be reached.
const Unreachable = math.MaxInt

// Direction is the direction of travel through a sequence.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == Forward {
		return Backward
	}
	return Forward
}

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "unknown"
	}
}

// ParseDirection accepts "forward" or "backward" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward", "fwd", "":
		return Forward, nil
	case "backward", "back", "bwd":
		return Backward, nil
	}
	return Forward, fmt.Errorf("%w: unknown direction %q", ErrValidation, s)
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// EndBehavior is what happens when traversal reaches either end of the sequence.
type EndBehavior int

const (
	// Stop halts at the boundary.
	Stop EndBehavior = iota
	// Bounce reverses direction and continues.
	Bounce
	// Wrap continues from the opposite end.
	Wrap
)

func (b EndBehavior) String() string {
	switch b {
	case Stop:
		return "stop"
	case Bounce:
		return "bounce"
	case Wrap:
		return "wrap"
	default:
		return fmt.Sprintf("EndBehavior(%d)", int(b))
	}
}

func (b EndBehavior) valid() bool {
	return b == Stop || b == Bounce || b == Wrap
}

// ParseEndBehavior accepts "stop", "bounce" or "wrap" in any case.
func ParseEndBehavior(s string) (EndBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stop":
		return Stop, nil
	case "bounce":
		return Bounce, nil
	case "wrap", "loop":
		return Wrap, nil
	}
	return Stop, fmt.Errorf("%w: unknown end behavior %q", ErrValidation, s)
}

// MarshalText implements encoding.TextMarshaler.
func (b EndBehavior) MarshalText() ([]byte, error) {
	if !b.valid() {
		return nil, fmt.Errorf("%w: unknown end behavior %d", ErrValidation, int(b))
	}
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *EndBehavior) UnmarshalText(text []byte) error {
	parsed, err := ParseEndBehavior(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// State is a position in a frame sequence plus the direction of travel.
type State struct {
	Index     int       `json:"index"`
	Direction Direction `json:"direction"`
}

func (s State) String() string {
	return fmt.Sprintf("{%d %s}", s.Index, s.Direction)
}

func (s State) flip() State {
	return State{Index: s.Index, Direction: s.Direction.Reverse()}
}

// ContinuousState is a State with the sliding sub-window currently in view.
type ContinuousState struct {
	State
	Window timespan.Window `json:"window"`
}

// Step is a state together with the window it makes visible. For a sequence
// plan the window is the whole frame.
type Step struct {
	State
	Window timespan.Window `json:"window"`
}

// Continuous converts the step to a ContinuousState.
func (s Step) Continuous() ContinuousState {
	return ContinuousState{State: s.State, Window: s.Window}
}

// Match describes how a lookup resolved to a frame.
type Match int

const (
	MatchNone Match = iota
	MatchExact
	MatchContained
	MatchNearest
)

// Found reports whether the lookup hit a frame directly rather than falling
// back to the nearest one.
func (m Match) Found() bool {
	return m == MatchExact || m == MatchContained
}

func (m Match) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchContained:
		return "contained"
	case MatchNearest:
		return "nearest"
	default:
		return "none"
	}
}

// Plan is the traversal surface the playback controller drives. Both
// *SequencePlan and *SlidingPlan implement it.
type Plan interface {
	ID() string
	Len() int
	Behavior() EndBehavior
	InitialStep() (Step, error)
	FinalStep() (Step, error)
	NextStep(Step) (Step, bool, error)
	PreviousStep(Step) (Step, bool, error)
	FindStep(window timespan.Window, direction Direction) (Step, Match)
	Resolve(Step) (Step, error)
}
