/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package animation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/timelapse/internal/timespan"
)

// SequencePlan steps through an ordered list of frames one frame at a time.
type SequencePlan struct {
	id       string
	frames   []timespan.Window
	behavior EndBehavior
}

// NewSequencePlan copies frames into a new plan.
func NewSequencePlan(frames []timespan.Window, behavior EndBehavior) (*SequencePlan, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: plan requires at least one frame", ErrValidation)
	}
	if !behavior.valid() {
		return nil, fmt.Errorf("%w: unknown end behavior %d", ErrValidation, int(behavior))
	}
	for i, f := range frames {
		if f.End.Before(f.Start) {
			return nil, fmt.Errorf("%w: frame %d ends before it starts", ErrValidation, i)
		}
	}

	copied := make([]timespan.Window, len(frames))
	copy(copied, frames)

	return &SequencePlan{
		id:       uuid.NewString(),
		frames:   copied,
		behavior: behavior,
	}, nil
}

// ID identifies this plan instance.
func (p *SequencePlan) ID() string { return p.id }

// Len returns the number of frames.
func (p *SequencePlan) Len() int { return len(p.frames) }

// Behavior returns the end behavior.
func (p *SequencePlan) Behavior() EndBehavior { return p.behavior }

// Frames returns a copy of the frame sequence.
func (p *SequencePlan) Frames() []timespan.Window {
	out := make([]timespan.Window, len(p.frames))
	copy(out, p.frames)
	return out
}

// InitialState returns {0, Forward}.
func (p *SequencePlan) InitialState() (State, error) {
	if len(p.frames) == 0 {
		return State{}, fmt.Errorf("%w: empty sequence has no initial state", ErrValidation)
	}
	return State{Index: 0, Direction: Forward}, nil
}

// FinalState returns {n-1, Forward}.
func (p *SequencePlan) FinalState() (State, error) {
	if len(p.frames) == 0 {
		return State{}, fmt.Errorf("%w: empty sequence has no final state", ErrValidation)
	}
	return State{Index: len(p.frames) - 1, Direction: Forward}, nil
}

// TimeWindowFor returns the frame at state.Index.
func (p *SequencePlan) TimeWindowFor(state State) (timespan.Window, error) {
	if err := p.check(state); err != nil {
		return timespan.Window{}, err
	}
	return p.frames[state.Index], nil
}

// NextState moves one frame in state.Direction. ok is false when a Stop plan
// is already at the boundary.
func (p *SequencePlan) NextState(state State) (State, bool, error) {
	if err := p.check(state); err != nil {
		return State{}, false, err
	}
	next, ok := advance(state, len(p.frames), p.behavior)
	return next, ok, nil
}

// PreviousState moves one frame against state.Direction.
func (p *SequencePlan) PreviousState(state State) (State, bool, error) {
	if err := p.check(state); err != nil {
		return State{}, false, err
	}
	prev, ok := retreat(state, len(p.frames), p.behavior)
	return prev, ok, nil
}

// CalculateDistance counts NextState applications from `from` until the index
// of `to` is reached. Only indices are compared.
func (p *SequencePlan) CalculateDistance(from, to State) (int, error) {
	if err := p.check(from); err != nil {
		return 0, err
	}
	if err := p.check(to); err != nil {
		return 0, err
	}
	if from.Index == to.Index {
		return 0, nil
	}

	// Bounce visits every index within 2n steps; anything longer is a cycle.
	limit := 2*len(p.frames) + 1
	cur := from
	for steps := 1; steps <= limit; steps++ {
		next, ok := advance(cur, len(p.frames), p.behavior)
		if !ok {
			return Unreachable, nil
		}
		if next.Index == to.Index {
			return steps, nil
		}
		cur = next
	}
	return Unreachable, nil
}

// FindState locates the frame containing instant. When no frame contains it
// the frame with the nearest boundary wins, ties going to the earlier frame.
func (p *SequencePlan) FindState(instant time.Time, direction Direction) (State, Match) {
	idx, match := findIndex(p.frames, instant)
	if match == MatchNone {
		return State{}, MatchNone
	}
	return State{Index: idx, Direction: direction}, match
}

// FindStateForWindow returns the first frame structurally equal to window,
// otherwise falls back to FindState anchored at window.Start.
func (p *SequencePlan) FindStateForWindow(window timespan.Window, direction Direction) (State, Match) {
	for i, f := range p.frames {
		if f.Equal(window) {
			return State{Index: i, Direction: direction}, MatchExact
		}
	}
	return p.FindState(window.Start, direction)
}

// AnimationSequence lists the windows visited from state, starting with the
// state's own window. At most count windows are returned; a Stop boundary
// ends the list early.
func (p *SequencePlan) AnimationSequence(state State, count int, direction Direction) ([]timespan.Window, error) {
	if err := p.check(state); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}

	step := p.NextState
	if direction == Backward {
		step = p.PreviousState
	}

	out := make([]timespan.Window, 0, count)
	out = append(out, p.frames[state.Index])
	cur := state
	for len(out) < count {
		next, ok, err := step(cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, p.frames[next.Index])
		cur = next
	}
	return out, nil
}

// InitialStep implements Plan.
func (p *SequencePlan) InitialStep() (Step, error) {
	s, err := p.InitialState()
	if err != nil {
		return Step{}, err
	}
	return p.step(s), nil
}

// FinalStep implements Plan.
func (p *SequencePlan) FinalStep() (Step, error) {
	s, err := p.FinalState()
	if err != nil {
		return Step{}, err
	}
	return p.step(s), nil
}

// NextStep implements Plan.
func (p *SequencePlan) NextStep(cur Step) (Step, bool, error) {
	s, ok, err := p.NextState(cur.State)
	if err != nil || !ok {
		return Step{}, false, err
	}
	return p.step(s), true, nil
}

// PreviousStep implements Plan.
func (p *SequencePlan) PreviousStep(cur Step) (Step, bool, error) {
	s, ok, err := p.PreviousState(cur.State)
	if err != nil || !ok {
		return Step{}, false, err
	}
	return p.step(s), true, nil
}

// FindStep implements Plan.
func (p *SequencePlan) FindStep(window timespan.Window, direction Direction) (Step, Match) {
	s, match := p.FindStateForWindow(window, direction)
	if match == MatchNone {
		return Step{}, MatchNone
	}
	return p.step(s), match
}

// Resolve validates s against the plan and returns it with its frame as the
// window.
func (p *SequencePlan) Resolve(s Step) (Step, error) {
	if err := p.check(s.State); err != nil {
		return Step{}, err
	}
	return p.step(s.State), nil
}

func (p *SequencePlan) step(s State) Step {
	return Step{State: s, Window: p.frames[s.Index]}
}

func (p *SequencePlan) check(s State) error {
	if !inRange(s.Index, len(p.frames)) {
		return fmt.Errorf("%w: index %d not in [0,%d)", ErrOutOfRange, s.Index, len(p.frames))
	}
	if s.Direction != Forward && s.Direction != Backward {
		return fmt.Errorf("%w: unknown direction %d", ErrValidation, int(s.Direction))
	}
	return nil
}

// findIndex is the shared frame lookup: containment first, then nearest
// boundary with ties to the lower index.
func findIndex(frames []timespan.Window, instant time.Time) (int, Match) {
	if len(frames) == 0 {
		return 0, MatchNone
	}
	for i, f := range frames {
		if f.Contains(instant) {
			return i, MatchContained
		}
	}

	best := 0
	bestDistance := frames[0].DistanceTo(instant)
	for i := 1; i < len(frames); i++ {
		if d := frames[i].DistanceTo(instant); d < bestDistance {
			best, bestDistance = i, d
		}
	}
	return best, MatchNearest
}
