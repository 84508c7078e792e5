/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package commit runs the three-phase protocol that lets independent
// listeners synchronize on a step before it becomes current.
package commit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/friendsincode/timelapse/internal/animation"
	"github.com/friendsincode/timelapse/internal/prefs"
	"github.com/friendsincode/timelapse/internal/telemetry"
)

const tracerName = "timelapse/commit"

// DefaultTimeout bounds the pre-commit rendezvous when neither the caller
// nor the preference store supplies a value.
const DefaultTimeout = 2 * time.Second

// Transition is a pending move from one step to another.
type Transition struct {
	ID     string
	PlanID string
	From   *animation.Step // nil when the plan has no current step yet
	To     animation.Step
}

func (t Transition) String() string {
	if t.From == nil {
		return fmt.Sprintf("-> %s", t.To.State)
	}
	return fmt.Sprintf("%s -> %s", t.From.State, t.To.State)
}

// Listener takes part in transitions.
//
// Prepare reports whether the listener wants a synchronized commit for t.
// PreCommit is only called on participants; it must call arrival.Arrive once
// its pre-commit work is done, possibly later and from another goroutine.
// Its ctx is cancelled when the rendezvous times out; a participant's Commit
// waits for its PreCommit to return, so PreCommit should give up on ctx.Done.
// Commit is called on every listener, participant or not, after the
// rendezvous. For a participant, Commit runs after its PreCommit returned.
type Listener interface {
	Prepare(ctx context.Context, t Transition) bool
	PreCommit(ctx context.Context, t Transition, arrival *Arrival)
	Commit(ctx context.Context, t Transition)
}

// ListenerFuncs adapts plain functions to Listener. Nil hooks are skipped;
// a nil PrepareFunc declines, a nil PreCommitFunc arrives immediately.
type ListenerFuncs struct {
	PrepareFunc   func(ctx context.Context, t Transition) bool
	PreCommitFunc func(ctx context.Context, t Transition, arrival *Arrival)
	CommitFunc    func(ctx context.Context, t Transition)
}

func (f ListenerFuncs) Prepare(ctx context.Context, t Transition) bool {
	if f.PrepareFunc == nil {
		return false
	}
	return f.PrepareFunc(ctx, t)
}

func (f ListenerFuncs) PreCommit(ctx context.Context, t Transition, arrival *Arrival) {
	if f.PreCommitFunc == nil {
		arrival.Arrive()
		return
	}
	f.PreCommitFunc(ctx, t, arrival)
}

func (f ListenerFuncs) Commit(ctx context.Context, t Transition) {
	if f.CommitFunc != nil {
		f.CommitFunc(ctx, t)
	}
}

// Arbitrator decides whether a transition needs the phased protocol.
type Arbitrator interface {
	RequiresPhasedCommit(t Transition) bool
}

// ArbitratorFunc adapts a function to Arbitrator.
type ArbitratorFunc func(t Transition) bool

func (f ArbitratorFunc) RequiresPhasedCommit(t Transition) bool { return f(t) }

// Phase tracks a transition through the protocol.
type Phase int

const (
	PhasePending Phase = iota
	PhasePrepared
	PhaseCommitting
	PhaseCommitted
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhasePrepared:
		return "prepared"
	case PhaseCommitting:
		return "committing"
	case PhaseCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// Result summarizes one Run.
type Result struct {
	TransitionID string
	Phased       bool
	Listeners    int
	Participants int
	Arrived      int // participants that reached the barrier before release
	TimedOut     bool
	Duration     time.Duration
	Phase        Phase
}

// Registration is the handle returned by Register and AddArbitrator.
type Registration struct {
	id     string
	remove func(id string)
	once   sync.Once
}

// ID returns the registration's identifier.
func (r *Registration) ID() string { return r.id }

// Unregister removes the listener or arbitrator. Calling it more than once
// is harmless.
func (r *Registration) Unregister() {
	r.once.Do(func() { r.remove(r.id) })
}

type listenerEntry struct {
	id       string
	listener Listener
}

type arbitratorEntry struct {
	id         string
	arbitrator Arbitrator
}

// Coordinator runs transitions against the registered listeners. Run is safe
// for concurrent use but callers are expected to serialize transitions.
type Coordinator struct {
	mu          sync.RWMutex
	listeners   []listenerEntry
	arbitrators []arbitratorEntry

	lookup         prefs.Lookup
	defaultTimeout time.Duration
	logger         zerolog.Logger
}

// NewCoordinator creates a coordinator. The rendezvous timeout is read from
// lookup under prefs.KeyCommitTimeout on every transition, falling back to
// defaultTimeout. lookup may be nil.
func NewCoordinator(lookup prefs.Lookup, defaultTimeout time.Duration, logger zerolog.Logger) *Coordinator {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Coordinator{
		lookup:         lookup,
		defaultTimeout: defaultTimeout,
		logger:         logger.With().Str("component", "commit").Logger(),
	}
}

// Register adds a listener.
func (c *Coordinator) Register(l Listener) *Registration {
	id := uuid.NewString()
	c.mu.Lock()
	c.listeners = append(c.listeners, listenerEntry{id: id, listener: l})
	c.mu.Unlock()
	return &Registration{id: id, remove: c.removeListener}
}

// AddArbitrator adds an arbitrator.
func (c *Coordinator) AddArbitrator(a Arbitrator) *Registration {
	id := uuid.NewString()
	c.mu.Lock()
	c.arbitrators = append(c.arbitrators, arbitratorEntry{id: id, arbitrator: a})
	c.mu.Unlock()
	return &Registration{id: id, remove: c.removeArbitrator}
}

func (c *Coordinator) removeListener(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.listeners {
		if e.id == id {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) removeArbitrator(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.arbitrators {
		if e.id == id {
			c.arbitrators = append(c.arbitrators[:i:i], c.arbitrators[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of registered listeners.
func (c *Coordinator) ListenerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners)
}

// Timeout returns the rendezvous timeout the next transition will use.
func (c *Coordinator) Timeout() time.Duration {
	if c.lookup == nil {
		return c.defaultTimeout
	}
	if d := c.lookup.Duration(prefs.KeyCommitTimeout, c.defaultTimeout); d > 0 {
		return d
	}
	return c.defaultTimeout
}

func (c *Coordinator) snapshot() ([]listenerEntry, []arbitratorEntry) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]listenerEntry(nil), c.listeners...), append([]arbitratorEntry(nil), c.arbitrators...)
}

func (c *Coordinator) requiresPhasedCommit(t Transition, arbitrators []arbitratorEntry) bool {
	for _, e := range arbitrators {
		if c.askArbitrator(e, t) {
			return true
		}
	}
	return false
}

func (c *Coordinator) askArbitrator(e arbitratorEntry, t Transition) (yes bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("arbitrator", e.id).Msg("arbitrator panicked, ignoring")
			yes = false
		}
	}()
	return e.arbitrator.RequiresPhasedCommit(t)
}

// Run drives t through the protocol and returns once every listener's
// Commit has returned. A rendezvous timeout is reported in the Result, not
// as an error. Cancelling ctx cuts the rendezvous short; commits still run.
func (c *Coordinator) Run(ctx context.Context, t Transition) Result {
	start := time.Now()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "commit.run",
		attribute.String("transition.id", t.ID),
		attribute.String("plan.id", t.PlanID),
		attribute.Int("to.index", t.To.Index),
		attribute.String("to.direction", t.To.Direction.String()),
	)
	defer span.End()

	listeners, arbitrators := c.snapshot()
	res := Result{TransitionID: t.ID, Listeners: len(listeners), Phase: PhasePending}
	logger := c.logger.With().Str("transition_id", t.ID).Str("transition", t.String()).Logger()

	switch {
	case len(listeners) == 0:
		telemetry.CommitTransitionsTotal.WithLabelValues("idle").Inc()
		logger.Debug().Msg("no listeners, transition committed")
	case !c.requiresPhasedCommit(t, arbitrators):
		telemetry.CommitTransitionsTotal.WithLabelValues("direct").Inc()
		res.Phase = PhaseCommitting
		c.commitDirect(ctx, t, listeners)
		logger.Debug().Int("listeners", len(listeners)).Msg("transition committed directly")
	default:
		telemetry.CommitTransitionsTotal.WithLabelValues("phased").Inc()
		res.Phased = true
		c.runPhased(ctx, t, listeners, &res, logger)
	}

	res.Phase = PhaseCommitted
	res.Duration = time.Since(start)

	telemetry.AddSpanAttributes(span, map[string]any{
		"commit.phased":       res.Phased,
		"commit.listeners":    res.Listeners,
		"commit.participants": res.Participants,
		"commit.arrived":      res.Arrived,
		"commit.timed_out":    res.TimedOut,
	})
	return res
}

func (c *Coordinator) commitDirect(ctx context.Context, t Transition, listeners []listenerEntry) {
	phaseStart := time.Now()
	var wg sync.WaitGroup
	for _, e := range listeners {
		wg.Add(1)
		go func(e listenerEntry) {
			defer wg.Done()
			c.safeCommit(ctx, t, e)
		}(e)
	}
	wg.Wait()
	telemetry.CommitPhaseDuration.WithLabelValues("commit").Observe(time.Since(phaseStart).Seconds())
}

func (c *Coordinator) runPhased(ctx context.Context, t Transition, listeners []listenerEntry, res *Result, logger zerolog.Logger) {
	// Phase 1: prepare.
	phaseStart := time.Now()
	prepCtx, prepSpan := telemetry.StartSpan(ctx, tracerName, "commit.prepare")
	participating := make([]bool, len(listeners))
	var prepWG sync.WaitGroup
	for i, e := range listeners {
		prepWG.Add(1)
		go func(i int, e listenerEntry) {
			defer prepWG.Done()
			participating[i] = c.safePrepare(prepCtx, t, e)
		}(i, e)
	}
	prepWG.Wait()
	prepSpan.End()
	telemetry.CommitPhaseDuration.WithLabelValues("prepare").Observe(time.Since(phaseStart).Seconds())

	for _, yes := range participating {
		if yes {
			res.Participants++
		}
	}
	res.Phase = PhasePrepared
	telemetry.CommitParticipants.Observe(float64(res.Participants))

	// Phase 2: pre-commit and rendezvous. Every listener gets its own
	// goroutine that parks until release, so a participant's Commit always
	// follows its own PreCommit.
	phaseStart = time.Now()
	preCtx, preSpan := telemetry.StartSpan(ctx, tracerName, "commit.precommit",
		attribute.Int("participants", res.Participants))
	preCtx, cancelPre := context.WithCancel(preCtx)
	defer cancelPre()
	barrier := NewBarrier(res.Participants + 1)
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i, e := range listeners {
		wg.Add(1)
		go func(participant bool, e listenerEntry) {
			defer wg.Done()
			if participant {
				c.safePreCommit(preCtx, t, e, newArrival(barrier))
			}
			<-release
			c.safeCommit(ctx, t, e)
		}(participating[i], e)
	}

	timeout := c.Timeout()
	released := barrier.ArriveAndWait(ctx, timeout)
	res.Arrived = barrier.Arrived() - 1
	if released {
		res.Arrived = res.Participants
	}
	res.TimedOut = !released
	preSpan.End()
	telemetry.CommitPhaseDuration.WithLabelValues("precommit").Observe(time.Since(phaseStart).Seconds())

	if res.TimedOut {
		cancelPre()
		telemetry.CommitBarrierTimeoutsTotal.Inc()
		logger.Warn().
			Int("participants", res.Participants).
			Int("arrived", res.Arrived).
			Dur("timeout", timeout).
			Msg("pre-commit rendezvous expired, committing anyway")
	}

	// Phase 3: commit, never skipped.
	res.Phase = PhaseCommitting
	phaseStart = time.Now()
	_, commitSpan := telemetry.StartSpan(ctx, tracerName, "commit.commit")
	close(release)
	wg.Wait()
	commitSpan.End()
	telemetry.CommitPhaseDuration.WithLabelValues("commit").Observe(time.Since(phaseStart).Seconds())

	logger.Debug().
		Int("listeners", res.Listeners).
		Int("participants", res.Participants).
		Bool("timed_out", res.TimedOut).
		Msg("phased transition committed")
}

func (c *Coordinator) listenerPanicked(ctx context.Context, e listenerEntry, phase string, r any) {
	c.logger.Error().Interface("panic", r).Str("listener", e.id).Str("phase", phase).Msg("listener panicked")
	telemetry.RecordError(trace.SpanFromContext(ctx), fmt.Errorf("listener %s panicked in %s: %v", e.id, phase, r))
}

func (c *Coordinator) safePrepare(ctx context.Context, t Transition, e listenerEntry) (yes bool) {
	defer func() {
		if r := recover(); r != nil {
			c.listenerPanicked(ctx, e, "prepare", r)
			yes = false
		}
	}()
	return e.listener.Prepare(ctx, t)
}

func (c *Coordinator) safePreCommit(ctx context.Context, t Transition, e listenerEntry, arrival *Arrival) {
	defer func() {
		if r := recover(); r != nil {
			c.listenerPanicked(ctx, e, "pre-commit", r)
			arrival.Arrive()
		}
	}()
	e.listener.PreCommit(ctx, t, arrival)
}

func (c *Coordinator) safeCommit(ctx context.Context, t Transition, e listenerEntry) {
	defer func() {
		if r := recover(); r != nil {
			c.listenerPanicked(ctx, e, "commit", r)
		}
	}()
	e.listener.Commit(ctx, t)
}
