/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/timelapse/internal/animation"
	"github.com/friendsincode/timelapse/internal/commit"
	"github.com/friendsincode/timelapse/internal/events"
	"github.com/friendsincode/timelapse/internal/journal"
	"github.com/friendsincode/timelapse/internal/prefs"
	"github.com/friendsincode/timelapse/internal/timespan"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return epoch.Add(time.Duration(sec) * time.Second) }

func window(start, end int) timespan.Window { return timespan.MustNew(at(start), at(end)) }

func threeFrames() []timespan.Window {
	return []timespan.Window{window(0, 100), window(200, 300), window(300, 400)}
}

func newPlan(t *testing.T, behavior animation.EndBehavior) *animation.SequencePlan {
	t.Helper()
	p, err := animation.NewSequencePlan(threeFrames(), behavior)
	if err != nil {
		t.Fatalf("NewSequencePlan: %v", err)
	}
	return p
}

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	resets  []time.Duration
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Reset(d time.Duration) {
	f.mu.Lock()
	f.resets = append(f.resets, d)
	f.mu.Unlock()
}

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case f.ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("stepping loop did not accept tick")
	}
}

type harness struct {
	ctrl    *Controller
	coord   *commit.Coordinator
	bus     *events.Bus
	journal *journal.Journal
	ticker  *fakeTicker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		coord:   commit.NewCoordinator(nil, time.Second, zerolog.Nop()),
		bus:     events.NewBus(),
		journal: journal.New(64),
		ticker:  &fakeTicker{ch: make(chan time.Time)},
	}
	h.ctrl = NewController(h.coord, zerolog.Nop(),
		WithBus(h.bus),
		WithJournal(h.journal),
		WithTickerFactory(func(time.Duration) Ticker { return h.ticker }),
	)
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) index(t *testing.T) animation.State {
	t.Helper()
	snap := h.ctrl.Snapshot()
	if snap.Step == nil {
		t.Fatal("no current step")
	}
	return snap.Step.State
}

func waitEvent(t *testing.T, sub events.Subscriber) events.Payload {
	t.Helper()
	select {
	case p := <-sub:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSetPlanPublishesAndInstallsInitialStep(t *testing.T) {
	h := newHarness(t)
	sub := h.bus.Subscribe(events.EventPlanEstablished)
	plan := newPlan(t, animation.Stop)

	if err := h.ctrl.SetPlan(plan, WithChangeRate(250*time.Millisecond)); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}

	p := waitEvent(t, sub)
	if p["plan_id"] != plan.ID() || p["index"] != 0 {
		t.Fatalf("unexpected payload %v", p)
	}
	snap := h.ctrl.Snapshot()
	if snap.PlanID != plan.ID() || snap.ChangeRate != 250*time.Millisecond || snap.Frames != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if got := h.index(t); got != (animation.State{Index: 0, Direction: animation.Forward}) {
		t.Fatalf("initial state = %v", got)
	}
}

func TestSetPlanValidation(t *testing.T) {
	h := newHarness(t)
	plan := newPlan(t, animation.Stop)

	tests := []struct {
		name string
		opts []PlanOption
	}{
		{"zero rate", []PlanOption{WithChangeRate(0)}},
		{"bad direction", []PlanOption{WithDirection(animation.Direction(7))}},
		{"index out of range", []PlanOption{WithInitialStep(animation.Step{State: animation.State{Index: 3}})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.ctrl.SetPlan(plan, tt.opts...)
			if !errors.Is(err, animation.ErrValidation) && !errors.Is(err, animation.ErrOutOfRange) {
				t.Fatalf("SetPlan error = %v", err)
			}
		})
	}
	if err := h.ctrl.SetPlan(nil); !errors.Is(err, animation.ErrValidation) {
		t.Fatalf("nil plan error = %v", err)
	}
	if h.ctrl.Plan() != nil {
		t.Fatal("failed SetPlan must not install the plan")
	}
}

func TestSetPlanWithInitialStep(t *testing.T) {
	h := newHarness(t)
	plan := newPlan(t, animation.Wrap)
	start := animation.Step{State: animation.State{Index: 2, Direction: animation.Backward}}

	if err := h.ctrl.SetPlan(plan, WithInitialStep(start), WithDirection(animation.Backward)); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	snap := h.ctrl.Snapshot()
	if snap.Step.Index != 2 || !snap.Step.Window.Equal(window(300, 400)) {
		t.Fatalf("step = %+v", snap.Step)
	}
	if snap.Direction != animation.Backward {
		t.Fatalf("direction = %v", snap.Direction)
	}
}

func TestStepNextStopsAtTerminal(t *testing.T) {
	h := newHarness(t)
	plan := newPlan(t, animation.Stop)
	if err := h.ctrl.SetPlan(plan); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := h.ctrl.StepNext(ctx, plan, true); err != nil {
			t.Fatalf("StepNext %d: %v", i, err)
		}
	}
	if got := h.index(t); got.Index != 2 {
		t.Fatalf("index = %d, want 2", got.Index)
	}
	if got := len(h.journal.All()); got != 2 {
		t.Fatalf("journal entries = %d, want 2", got)
	}
}

func TestStepOperations(t *testing.T) {
	fwd := func(i int) animation.State { return animation.State{Index: i, Direction: animation.Forward} }
	bwd := func(i int) animation.State { return animation.State{Index: i, Direction: animation.Backward} }

	tests := []struct {
		name     string
		behavior animation.EndBehavior
		start    animation.State
		op       Op
		want     animation.State
	}{
		{"next wrap", animation.Wrap, fwd(2), OpNext, fwd(0)},
		{"next bounce", animation.Bounce, fwd(2), OpNext, bwd(1)},
		{"previous stop", animation.Stop, fwd(2), OpPrevious, fwd(1)},
		{"next follows backward state", animation.Stop, bwd(2), OpNext, bwd(1)},
		{"forward from backward state", animation.Stop, bwd(1), OpForward, fwd(2)},
		{"backward from forward state", animation.Stop, fwd(1), OpBackward, bwd(0)},
		{"first", animation.Wrap, fwd(2), OpFirst, fwd(0)},
		{"last", animation.Stop, fwd(0), OpLast, fwd(2)},
		{"stop terminal unchanged", animation.Stop, fwd(2), OpForward, fwd(2)},
		{"forward reflects at bounce edge", animation.Bounce, fwd(2), OpForward, bwd(1)},
		{"backward reflects at bounce edge", animation.Bounce, bwd(0), OpBackward, fwd(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			plan := newPlan(t, tt.behavior)
			if err := h.ctrl.SetPlan(plan, WithInitialStep(animation.Step{State: tt.start})); err != nil {
				t.Fatal(err)
			}
			if err := h.ctrl.Step(context.Background(), plan, tt.op, true); err != nil {
				t.Fatalf("Step(%s): %v", tt.op, err)
			}
			if got := h.index(t); got != tt.want {
				t.Fatalf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFencing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := newPlan(t, animation.Stop)
	other := newPlan(t, animation.Stop)

	if err := h.ctrl.StepNext(ctx, plan, true); !errors.Is(err, ErrNoPlan) {
		t.Fatalf("without plan: %v", err)
	}
	if err := h.ctrl.SetPlan(plan); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.StepNext(ctx, other, true); !errors.Is(err, ErrPlanMismatch) {
		t.Fatalf("other plan: %v", err)
	}
	if err := h.ctrl.SetChangeRate(other, time.Second); !errors.Is(err, ErrPlanMismatch) {
		t.Fatalf("SetChangeRate other plan: %v", err)
	}
	if err := h.ctrl.Play(other, animation.Forward); !errors.Is(err, ErrPlanMismatch) {
		t.Fatalf("Play other plan: %v", err)
	}

	h.ctrl.AbandonPlan()
	if err := h.ctrl.StepNext(ctx, plan, true); !errors.Is(err, ErrNoPlan) {
		t.Fatalf("after abandon: %v", err)
	}
	if err := h.ctrl.SetPlan(other); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.StepNext(ctx, plan, true); !errors.Is(err, ErrPlanMismatch) {
		t.Fatalf("stale plan: %v", err)
	}
}

// gate is a participating listener whose pre-commit blocks until released.
type gate struct {
	entered   chan struct{}
	release   chan struct{}
	mu        sync.Mutex
	committed []animation.State
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gate) Prepare(context.Context, commit.Transition) bool { return true }

func (g *gate) PreCommit(_ context.Context, _ commit.Transition, arrival *commit.Arrival) {
	g.entered <- struct{}{}
	<-g.release
	arrival.Arrive()
}

func (g *gate) Commit(_ context.Context, t commit.Transition) {
	g.mu.Lock()
	g.committed = append(g.committed, t.To.State)
	g.mu.Unlock()
}

func (g *gate) commits() []animation.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]animation.State(nil), g.committed...)
}

func TestTransitionInProgressRejected(t *testing.T) {
	h := newHarness(t)
	g := newGate()
	h.coord.Register(g)
	h.coord.AddArbitrator(commit.ArbitratorFunc(func(commit.Transition) bool { return true }))

	plan := newPlan(t, animation.Stop)
	if err := h.ctrl.SetPlan(plan); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := h.ctrl.StepNext(ctx, plan, false); err != nil {
		t.Fatalf("async StepNext: %v", err)
	}
	<-g.entered

	if err := h.ctrl.StepNext(ctx, plan, true); !errors.Is(err, ErrTransitionInProgress) {
		t.Fatalf("concurrent step: %v", err)
	}
	if got := h.index(t); got.Index != 0 {
		t.Fatalf("state changed before commit: %v", got)
	}
	if !h.ctrl.Snapshot().InFlight {
		t.Fatal("snapshot should report the transition in flight")
	}

	close(g.release)
	h.ctrl.Wait()

	if got := h.index(t); got.Index != 1 {
		t.Fatalf("index = %d, want 1", got.Index)
	}
	if err := h.ctrl.StepNext(ctx, plan, true); err != nil {
		t.Fatalf("step after commit: %v", err)
	}
}

func TestAbandonDuringTransition(t *testing.T) {
	h := newHarness(t)
	g := newGate()
	h.coord.Register(g)
	h.coord.AddArbitrator(commit.ArbitratorFunc(func(commit.Transition) bool { return true }))
	cancelled := h.bus.Subscribe(events.EventPlanCancelled)
	changed := h.bus.Subscribe(events.EventStepChanged)

	plan := newPlan(t, animation.Stop)
	if err := h.ctrl.SetPlan(plan); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.StepNext(context.Background(), plan, false); err != nil {
		t.Fatal(err)
	}
	<-g.entered

	h.ctrl.AbandonPlan()
	waitEvent(t, cancelled)
	close(g.release)
	h.ctrl.Wait()

	if got := g.commits(); len(got) != 1 || got[0].Index != 1 {
		t.Fatalf("listener commits = %v, want one commit of index 1", got)
	}
	if snap := h.ctrl.Snapshot(); snap.PlanID != "" || snap.Step != nil {
		t.Fatalf("abandoned plan still installed: %+v", snap)
	}
	select {
	case p := <-changed:
		t.Fatalf("step change published for abandoned plan: %v", p)
	default:
	}
	entries := h.journal.All()
	if len(entries) != 1 || entries[0].Installed {
		t.Fatalf("journal = %+v", entries)
	}
}

func TestJumpToStep(t *testing.T) {
	h := newHarness(t)
	plan := newPlan(t, animation.Stop)
	if err := h.ctrl.SetPlan(plan); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	found, err := h.ctrl.JumpToStep(ctx, plan, window(200, 300), true)
	if err != nil || !found {
		t.Fatalf("exact jump = %v, %v", found, err)
	}
	if got := h.index(t); got.Index != 1 {
		t.Fatalf("index = %d, want 1", got.Index)
	}

	found, err = h.ctrl.JumpToStep(ctx, plan, window(350, 360), true)
	if err != nil || !found {
		t.Fatalf("contained jump = %v, %v", found, err)
	}
	if got := h.index(t); got.Index != 2 {
		t.Fatalf("index = %d, want 2", got.Index)
	}

	found, err = h.ctrl.JumpToStep(ctx, plan, window(5000, 6000), true)
	if err != nil || found {
		t.Fatalf("missing jump = %v, %v", found, err)
	}
	if got := h.index(t); got.Index != 2 {
		t.Fatalf("unfound jump moved to %d", got.Index)
	}

	if _, err := h.ctrl.JumpToStep(ctx, newPlan(t, animation.Stop), window(0, 100), true); !errors.Is(err, ErrPlanMismatch) {
		t.Fatalf("stale jump: %v", err)
	}
}

func TestPlayLoopStopsAtEnd(t *testing.T) {
	h := newHarness(t)
	started := h.bus.Subscribe(events.EventPlaybackStarted)
	stopped := h.bus.Subscribe(events.EventPlaybackStopped)
	changed := h.bus.Subscribe(events.EventStepChanged)

	plan := newPlan(t, animation.Stop)
	if err := h.ctrl.SetPlan(plan); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Play(plan, animation.Forward); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitEvent(t, started)
	if !h.ctrl.Snapshot().Playing {
		t.Fatal("snapshot should report playing")
	}

	for want := 1; want <= 2; want++ {
		h.ticker.tick(t)
		p := waitEvent(t, changed)
		if p["index"] != want || p["op"] != string(OpNext) {
			t.Fatalf("step event = %v, want index %d", p, want)
		}
	}

	h.ticker.tick(t)
	p := waitEvent(t, stopped)
	if p["reason"] != "end_of_plan" {
		t.Fatalf("stop reason = %v", p["reason"])
	}
	if h.ctrl.Snapshot().Playing {
		t.Fatal("loop should have stopped at the STOP boundary")
	}
}

func TestPlayBackwardAndPause(t *testing.T) {
	h := newHarness(t)
	changed := h.bus.Subscribe(events.EventStepChanged)
	stopped := h.bus.Subscribe(events.EventPlaybackStopped)

	plan := newPlan(t, animation.Wrap)
	if err := h.ctrl.SetPlan(plan); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Play(plan, animation.Backward); err != nil {
		t.Fatal(err)
	}
	h.ticker.tick(t)
	if p := waitEvent(t, changed); p["index"] != 2 || p["op"] != string(OpPrevious) {
		t.Fatalf("step event = %v", p)
	}

	if err := h.ctrl.Pause(plan); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if p := waitEvent(t, stopped); p["reason"] != "paused" {
		t.Fatalf("stop reason = %v", p["reason"])
	}
	if h.ctrl.Snapshot().Playing {
		t.Fatal("still playing after Pause")
	}
}

func TestSetChangeRate(t *testing.T) {
	h := newHarness(t)
	rate := h.bus.Subscribe(events.EventRateChanged)
	plan := newPlan(t, animation.Wrap)
	if err := h.ctrl.SetPlan(plan); err != nil {
		t.Fatal(err)
	}

	if err := h.ctrl.SetChangeRate(plan, 0); !errors.Is(err, animation.ErrValidation) {
		t.Fatalf("zero rate: %v", err)
	}
	if err := h.ctrl.Play(plan, animation.Forward); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.SetChangeRate(plan, 40*time.Millisecond); err != nil {
		t.Fatalf("SetChangeRate: %v", err)
	}

	if p := waitEvent(t, rate); p["change_rate_ms"] != int64(40) {
		t.Fatalf("rate event = %v", p)
	}
	h.ticker.mu.Lock()
	resets := append([]time.Duration(nil), h.ticker.resets...)
	h.ticker.mu.Unlock()
	if len(resets) != 1 || resets[0] != 40*time.Millisecond {
		t.Fatalf("ticker resets = %v", resets)
	}
	if got := h.ctrl.Snapshot().ChangeRate; got != 40*time.Millisecond {
		t.Fatalf("ChangeRate = %v", got)
	}
}

func TestChangeRateFromPreferences(t *testing.T) {
	store := prefs.NewMemoryStore(map[string]string{prefs.KeyChangeRate: "125ms"})
	ctrl := NewController(commit.NewCoordinator(nil, time.Second, zerolog.Nop()), zerolog.Nop(),
		WithPreferences(store), WithDefaultChangeRate(time.Minute))
	defer ctrl.Close()

	if err := ctrl.SetPlan(newPlan(t, animation.Stop)); err != nil {
		t.Fatal(err)
	}
	if got := ctrl.Snapshot().ChangeRate; got != 125*time.Millisecond {
		t.Fatalf("ChangeRate = %v, want 125ms", got)
	}
}

func TestNonPositiveChangeRatePreferenceFallsBack(t *testing.T) {
	for _, raw := range []string{"0s", "-250ms"} {
		t.Run(raw, func(t *testing.T) {
			store := prefs.NewMemoryStore(map[string]string{prefs.KeyChangeRate: raw})
			ctrl := NewController(commit.NewCoordinator(nil, time.Second, zerolog.Nop()), zerolog.Nop(),
				WithPreferences(store), WithDefaultChangeRate(time.Minute))
			defer ctrl.Close()

			if err := ctrl.SetPlan(newPlan(t, animation.Stop)); err != nil {
				t.Fatalf("SetPlan: %v", err)
			}
			if got := ctrl.Snapshot().ChangeRate; got != time.Minute {
				t.Fatalf("ChangeRate = %v, want default 1m", got)
			}
		})
	}
}

func TestSlidingPlanSteps(t *testing.T) {
	h := newHarness(t)
	plan, err := animation.NewSlidingPlan([]timespan.Window{window(0, 100)}, animation.Stop, animation.SlidingOptions{
		Window:  30 * time.Second,
		Advance: 30 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.SetPlan(plan); err != nil {
		t.Fatal(err)
	}

	if err := h.ctrl.StepNext(context.Background(), plan, true); err != nil {
		t.Fatal(err)
	}
	snap := h.ctrl.Snapshot()
	if !snap.Step.Window.Equal(window(30, 60)) {
		t.Fatalf("window = %v, want [30s,60s)", snap.Step.Window)
	}
}

func TestParseOp(t *testing.T) {
	for _, s := range []string{"next", "previous", "forward", "backward", "first", "last"} {
		if _, err := ParseOp(s); err != nil {
			t.Fatalf("ParseOp(%q): %v", s, err)
		}
	}
	for _, s := range []string{"jump", "", "sideways"} {
		if _, err := ParseOp(s); !errors.Is(err, animation.ErrValidation) {
			t.Fatalf("ParseOp(%q) error = %v", s, err)
		}
	}
}
