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

// SlidingOptions configures a SlidingPlan.
type SlidingOptions struct {
	// Window is the length of the visible sub-window.
	Window time.Duration
	// Advance is how far the sub-window moves per step.
	Advance time.Duration
	// Limit optionally clips every frame.
	Limit *timespan.Window
}

// SlidingPlan moves a fixed-length sub-window through each frame, crossing
// frame boundaries with the same end behavior rules as SequencePlan.
type SlidingPlan struct {
	id      string
	seq     *SequencePlan
	window  time.Duration
	advance time.Duration
	limit   *timespan.Window
	bounds  []timespan.Window
	// live is false for frames the limit excludes entirely. Traversal and
	// lookups never land on them.
	live []bool
}

// NewSlidingPlan validates the options and builds a plan over frames.
func NewSlidingPlan(frames []timespan.Window, behavior EndBehavior, opts SlidingOptions) (*SlidingPlan, error) {
	if opts.Window <= 0 {
		return nil, fmt.Errorf("%w: window duration must be positive, got %s", ErrValidation, opts.Window)
	}
	if opts.Advance <= 0 {
		return nil, fmt.Errorf("%w: advance duration must be positive, got %s", ErrValidation, opts.Advance)
	}

	seq, err := NewSequencePlan(frames, behavior)
	if err != nil {
		return nil, err
	}

	p := &SlidingPlan{
		id:      uuid.NewString(),
		seq:     seq,
		window:  opts.Window,
		advance: opts.Advance,
		bounds:  make([]timespan.Window, len(seq.frames)),
		live:    make([]bool, len(seq.frames)),
	}

	usable := 0
	if opts.Limit != nil {
		limit := *opts.Limit
		if limit.End.Before(limit.Start) {
			return nil, fmt.Errorf("%w: limit window ends before it starts", ErrValidation)
		}
		p.limit = &limit
		for i, f := range seq.frames {
			if clipped, ok := f.Intersect(limit); ok {
				p.bounds[i] = clipped
				p.live[i] = true
				usable++
				continue
			}
			edge := limit.Clamp(f.Start)
			p.bounds[i] = timespan.Window{Start: edge, End: edge}
		}
		if usable == 0 {
			return nil, fmt.Errorf("%w: limit window %s overlaps no frame", ErrValidation, limit)
		}
	} else {
		copy(p.bounds, seq.frames)
		for i := range p.live {
			p.live[i] = true
		}
	}

	return p, nil
}

// ID identifies this plan instance.
func (p *SlidingPlan) ID() string { return p.id }

// Len returns the number of frames.
func (p *SlidingPlan) Len() int { return p.seq.Len() }

// Behavior returns the end behavior.
func (p *SlidingPlan) Behavior() EndBehavior { return p.seq.behavior }

// WindowDuration is the sub-window length.
func (p *SlidingPlan) WindowDuration() time.Duration { return p.window }

// AdvanceDuration is the per-step slide.
func (p *SlidingPlan) AdvanceDuration() time.Duration { return p.advance }

// Limit returns the overall limit window, if any.
func (p *SlidingPlan) Limit() (timespan.Window, bool) {
	if p.limit == nil {
		return timespan.Window{}, false
	}
	return *p.limit, true
}

// Frames returns a copy of the frame sequence.
func (p *SlidingPlan) Frames() []timespan.Window { return p.seq.Frames() }

// Bounds returns frame i clipped to the limit window. A frame outside the
// limit has zero-length bounds on the limit edge.
func (p *SlidingPlan) Bounds(i int) (timespan.Window, error) {
	if !inRange(i, len(p.bounds)) {
		return timespan.Window{}, fmt.Errorf("%w: index %d not in [0,%d)", ErrOutOfRange, i, len(p.bounds))
	}
	return p.bounds[i], nil
}

// InitialState is the leading sub-window of the first frame inside the limit.
func (p *SlidingPlan) InitialState() (ContinuousState, error) {
	for i, b := range p.bounds {
		if p.live[i] {
			return ContinuousState{State: State{Index: i, Direction: Forward}, Window: p.head(b)}, nil
		}
	}
	return ContinuousState{}, fmt.Errorf("%w: no frame inside the limit", ErrValidation)
}

// LastState is the trailing sub-window of the last frame inside the limit.
func (p *SlidingPlan) LastState() ContinuousState {
	for i := len(p.bounds) - 1; i >= 0; i-- {
		if p.live[i] {
			return ContinuousState{State: State{Index: i, Direction: Forward}, Window: p.tail(p.bounds[i])}
		}
	}
	// Unreachable: construction rejects a limit that overlaps no frame.
	return ContinuousState{}
}

// DetermineNextState slides the window one advance in the state's direction.
// A window already flush with the frame edge crosses into the next frame.
func (p *SlidingPlan) DetermineNextState(cs ContinuousState) (ContinuousState, bool, error) {
	return p.slide(cs, true)
}

// DeterminePreviousState slides against the state's direction.
func (p *SlidingPlan) DeterminePreviousState(cs ContinuousState) (ContinuousState, bool, error) {
	return p.slide(cs, false)
}

// FinalState projects forward from cs to the last window it would reach.
// Bounce and Wrap never terminate, so their final state is the flush edge
// window at the far end of travel.
func (p *SlidingPlan) FinalState(cs ContinuousState) (ContinuousState, error) {
	if err := p.check(cs); err != nil {
		return ContinuousState{}, err
	}

	if p.seq.behavior != Stop {
		if cs.Direction == Backward {
			first, err := p.InitialState()
			if err != nil {
				return ContinuousState{}, err
			}
			first.Direction = Backward
			return first, nil
		}
		return p.LastState(), nil
	}

	cur := cs
	for {
		next, ok, err := p.slide(cur, true)
		if err != nil {
			return ContinuousState{}, err
		}
		if !ok {
			return cur, nil
		}
		cur = next
	}
}

// FindState locates the frame for instant and anchors the window there. When
// the instant falls between frames the window starts at the chosen frame.
func (p *SlidingPlan) FindState(instant time.Time, direction Direction) (ContinuousState, Match) {
	s, match := p.seq.FindState(instant, direction)
	if match == MatchNone {
		return ContinuousState{}, MatchNone
	}
	if !p.live[s.Index] {
		s = p.nearestLive(s)
		match = MatchNearest
	}
	b := p.bounds[s.Index]
	if match != MatchContained || !b.Contains(instant) {
		return ContinuousState{State: s, Window: p.head(b)}, match
	}
	w := timespan.Starting(instant, p.window)
	if w.End.After(b.End) {
		w = p.tail(b)
	}
	return ContinuousState{State: s, Window: w}, match
}

// FindStateForWindow locates the frame for window and anchors the sub-window
// at that frame's leading edge.
func (p *SlidingPlan) FindStateForWindow(window timespan.Window, direction Direction) (ContinuousState, Match) {
	s, match := p.seq.FindStateForWindow(window, direction)
	if match == MatchNone {
		return ContinuousState{}, MatchNone
	}
	if !p.live[s.Index] {
		s = p.nearestLive(s)
		match = MatchNearest
	}
	return ContinuousState{State: s, Window: p.head(p.bounds[s.Index])}, match
}

// InitialStep implements Plan.
func (p *SlidingPlan) InitialStep() (Step, error) {
	cs, err := p.InitialState()
	if err != nil {
		return Step{}, err
	}
	return Step{State: cs.State, Window: cs.Window}, nil
}

// FinalStep implements Plan.
func (p *SlidingPlan) FinalStep() (Step, error) {
	cs := p.LastState()
	return Step{State: cs.State, Window: cs.Window}, nil
}

// NextStep implements Plan.
func (p *SlidingPlan) NextStep(cur Step) (Step, bool, error) {
	cs, ok, err := p.DetermineNextState(cur.Continuous())
	if err != nil || !ok {
		return Step{}, false, err
	}
	return Step{State: cs.State, Window: cs.Window}, true, nil
}

// PreviousStep implements Plan.
func (p *SlidingPlan) PreviousStep(cur Step) (Step, bool, error) {
	cs, ok, err := p.DeterminePreviousState(cur.Continuous())
	if err != nil || !ok {
		return Step{}, false, err
	}
	return Step{State: cs.State, Window: cs.Window}, true, nil
}

// FindStep implements Plan.
func (p *SlidingPlan) FindStep(window timespan.Window, direction Direction) (Step, Match) {
	cs, match := p.FindStateForWindow(window, direction)
	if match == MatchNone {
		return Step{}, MatchNone
	}
	return Step{State: cs.State, Window: cs.Window}, match
}

// Resolve validates s against the plan. A step without a window gets the
// leading sub-window of its frame.
func (p *SlidingPlan) Resolve(s Step) (Step, error) {
	if err := p.seq.check(s.State); err != nil {
		return Step{}, err
	}
	if s.Window.Start.IsZero() && s.Window.End.IsZero() {
		s.Window = p.head(p.bounds[s.Index])
	}
	if err := p.check(s.Continuous()); err != nil {
		return Step{}, err
	}
	return s, nil
}

func (p *SlidingPlan) slide(cs ContinuousState, next bool) (ContinuousState, bool, error) {
	if err := p.check(cs); err != nil {
		return ContinuousState{}, false, err
	}

	b := p.bounds[cs.Index]
	later := (cs.Direction == Forward) == next

	if later && cs.Window.End.Before(b.End) {
		w := timespan.Starting(cs.Window.Start.Add(p.advance), p.window)
		if w.End.After(b.End) {
			w = p.tail(b)
		}
		return ContinuousState{State: cs.State, Window: w}, true, nil
	}
	if !later && cs.Window.Start.After(b.Start) {
		w := timespan.Ending(cs.Window.End.Add(-p.advance), p.window)
		if w.Start.Before(b.Start) {
			w = p.head(b)
		}
		return ContinuousState{State: cs.State, Window: w}, true, nil
	}

	// Flush with the edge: cross frames.
	ns, ok := p.cross(cs.State, next)
	if !ok {
		return cs, false, nil
	}

	nb := p.bounds[ns.Index]
	if (ns.Direction == Forward) == next {
		return ContinuousState{State: ns, Window: p.head(nb)}, true, nil
	}
	return ContinuousState{State: ns, Window: p.tail(nb)}, true, nil
}

// cross moves from s to the next live frame. Frames outside the limit are
// passed over; under Stop a run of them before the boundary is terminal.
func (p *SlidingPlan) cross(s State, next bool) (State, bool) {
	n := len(p.bounds)
	cur := s
	// Bounce can pass every frame twice before turning back to a live one.
	for i := 0; i < 2*n+1; i++ {
		var ok bool
		if next {
			cur, ok = advance(cur, n, p.seq.behavior)
		} else {
			cur, ok = retreat(cur, n, p.seq.behavior)
		}
		if !ok {
			return s, false
		}
		if p.live[cur.Index] {
			return cur, true
		}
	}
	return s, false
}

// nearestLive returns the closest live frame to s, searching in s's
// direction first.
func (p *SlidingPlan) nearestLive(s State) State {
	d := delta(s.Direction)
	for dist := 1; dist < len(p.live); dist++ {
		for _, i := range []int{s.Index + d*dist, s.Index - d*dist} {
			if inRange(i, len(p.live)) && p.live[i] {
				return State{Index: i, Direction: s.Direction}
			}
		}
	}
	return s
}

func (p *SlidingPlan) head(b timespan.Window) timespan.Window {
	w := timespan.Starting(b.Start, p.window)
	if w.End.After(b.End) {
		w.End = b.End
	}
	return w
}

func (p *SlidingPlan) tail(b timespan.Window) timespan.Window {
	w := timespan.Ending(b.End, p.window)
	if w.Start.Before(b.Start) {
		w.Start = b.Start
	}
	return w
}

func (p *SlidingPlan) check(cs ContinuousState) error {
	if err := p.seq.check(cs.State); err != nil {
		return err
	}
	if !p.live[cs.Index] {
		return fmt.Errorf("%w: frame %d lies outside the limit window", ErrValidation, cs.Index)
	}
	if b := p.bounds[cs.Index]; !b.Covers(cs.Window) {
		return fmt.Errorf("%w: window %s outside frame %d bounds %s", ErrValidation, cs.Window, cs.Index, b)
	}
	return nil
}
