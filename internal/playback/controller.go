/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback owns the current plan and step and moves between steps
// through the commit coordinator.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/timelapse/internal/animation"
	"github.com/friendsincode/timelapse/internal/commit"
	"github.com/friendsincode/timelapse/internal/events"
	"github.com/friendsincode/timelapse/internal/journal"
	"github.com/friendsincode/timelapse/internal/prefs"
	"github.com/friendsincode/timelapse/internal/telemetry"
	"github.com/friendsincode/timelapse/internal/timespan"
)

var (
	// ErrNoPlan is returned when an operation needs a plan and none is set.
	ErrNoPlan = errors.New("no current plan")
	// ErrPlanMismatch is returned when the caller's plan is not the current one.
	ErrPlanMismatch = errors.New("plan is not the current plan")
	// ErrTransitionInProgress is returned when a step is requested while
	// another transition is still committing.
	ErrTransitionInProgress = errors.New("transition in progress")
)

// DefaultChangeRate is the stepping interval used when none is configured.
const DefaultChangeRate = time.Second

// Op names a step operation.
type Op string

const (
	OpNext     Op = "next"
	OpPrevious Op = "previous"
	OpForward  Op = "forward"
	OpBackward Op = "backward"
	OpFirst    Op = "first"
	OpLast     Op = "last"
	OpJump     Op = "jump"
)

// ParseOp parses a step operation name. OpJump is not a step operation.
func ParseOp(s string) (Op, error) {
	switch op := Op(s); op {
	case OpNext, OpPrevious, OpForward, OpBackward, OpFirst, OpLast:
		return op, nil
	}
	return "", fmt.Errorf("%w: unknown step operation %q", animation.ErrValidation, s)
}

// Option configures a Controller.
type Option func(*Controller)

// WithBus publishes playback notifications on bus.
func WithBus(bus *events.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithJournal records every committed transition in j.
func WithJournal(j *journal.Journal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithTickerFactory replaces the ticker driving the stepping loop.
func WithTickerFactory(f TickerFactory) Option {
	return func(c *Controller) { c.newTicker = f }
}

// WithPreferences reads the default change rate from lookup.
func WithPreferences(lookup prefs.Lookup) Option {
	return func(c *Controller) { c.prefs = lookup }
}

// WithDefaultChangeRate sets the change rate used when a plan is set without
// one and the preferences have none.
func WithDefaultChangeRate(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.defaultRate = d
		}
	}
}

// PlanOption configures SetPlan.
type PlanOption func(*planSettings)

type planSettings struct {
	step      *animation.Step
	direction animation.Direction
	rate      time.Duration
}

// WithInitialStep starts the plan at step instead of its initial step.
func WithInitialStep(step animation.Step) PlanOption {
	return func(s *planSettings) { s.step = &step }
}

// WithDirection sets the playback direction.
func WithDirection(d animation.Direction) PlanOption {
	return func(s *planSettings) { s.direction = d }
}

// WithChangeRate sets the stepping interval.
func WithChangeRate(d time.Duration) PlanOption {
	return func(s *planSettings) { s.rate = d }
}

type stepLoop struct {
	cancel context.CancelFunc
	ticker Ticker
	done   chan struct{}
}

// Controller is the playback state machine. Every operation that acts on a
// plan takes the caller's idea of the current plan and fails with
// ErrPlanMismatch when it is stale. At most one transition is in flight.
type Controller struct {
	mu         sync.Mutex
	plan       animation.Plan
	current    animation.Step
	direction  animation.Direction
	changeRate time.Duration
	inFlight   bool
	loop       *stepLoop

	defaultRate time.Duration
	coord       *commit.Coordinator
	bus         *events.Bus
	journal     *journal.Journal
	prefs       prefs.Lookup
	newTicker   TickerFactory
	async       sync.WaitGroup
	logger      zerolog.Logger
}

// NewController creates a controller that commits transitions through coord.
func NewController(coord *commit.Coordinator, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		coord:       coord,
		defaultRate: DefaultChangeRate,
		newTicker:   NewTimeTicker,
		logger:      logger.With().Str("component", "playback").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.changeRate = c.defaultRate
	return c
}

// Plan returns the current plan, or nil.
func (c *Controller) Plan() animation.Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan
}

// Snapshot is a read-only view of the controller.
type Snapshot struct {
	PlanID       string              `json:"plan_id,omitempty"`
	Behavior     string              `json:"end_behavior,omitempty"`
	Frames       int                 `json:"frames"`
	Step         *animation.Step     `json:"step,omitempty"`
	Direction    animation.Direction `json:"direction"`
	ChangeRate   time.Duration       `json:"-"`
	ChangeRateMS int64               `json:"change_rate_ms"`
	Playing      bool                `json:"playing"`
	InFlight     bool                `json:"in_flight"`
}

// Snapshot returns the controller's current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Direction:    c.direction,
		ChangeRate:   c.changeRate,
		ChangeRateMS: c.changeRate.Milliseconds(),
		Playing:      c.loop != nil,
		InFlight:     c.inFlight,
	}
	if c.plan != nil {
		step := c.current
		snap.PlanID = c.plan.ID()
		snap.Behavior = c.plan.Behavior().String()
		snap.Frames = c.plan.Len()
		snap.Step = &step
	}
	return snap
}

// SetPlan replaces the current plan and step. A running stepping loop is
// stopped. An in-flight transition against the previous plan completes but
// is not installed.
func (c *Controller) SetPlan(plan animation.Plan, opts ...PlanOption) error {
	if plan == nil {
		return fmt.Errorf("%w: nil plan", animation.ErrValidation)
	}

	settings := planSettings{direction: animation.Forward, rate: c.defaultChangeRate()}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.direction != animation.Forward && settings.direction != animation.Backward {
		return fmt.Errorf("%w: unknown direction %d", animation.ErrValidation, int(settings.direction))
	}
	if settings.rate <= 0 {
		return fmt.Errorf("%w: change rate must be positive, got %s", animation.ErrValidation, settings.rate)
	}

	var (
		step animation.Step
		err  error
	)
	if settings.step != nil {
		step, err = plan.Resolve(*settings.step)
	} else {
		step, err = plan.InitialStep()
	}
	if err != nil {
		return fmt.Errorf("initial step: %w", err)
	}

	c.mu.Lock()
	stopped := c.stopLoopLocked()
	c.plan = plan
	c.current = step
	c.direction = settings.direction
	c.changeRate = settings.rate
	c.mu.Unlock()

	if stopped {
		c.publish(events.EventPlaybackStopped, events.Payload{"reason": "plan_replaced"})
	}

	payload := stepPayload(plan.ID(), step)
	payload["end_behavior"] = plan.Behavior().String()
	payload["frames"] = plan.Len()
	payload["change_rate_ms"] = settings.rate.Milliseconds()
	payload["play_direction"] = settings.direction.String()
	c.publish(events.EventPlanEstablished, payload)

	c.logger.Info().
		Str("plan_id", plan.ID()).
		Int("frames", plan.Len()).
		Str("end_behavior", plan.Behavior().String()).
		Stringer("step", step.State).
		Msg("plan established")
	return nil
}

// AbandonPlan clears the current plan. Further steps against it fail the
// fencing check. An in-flight transition still delivers its commits.
func (c *Controller) AbandonPlan() {
	c.mu.Lock()
	if c.plan == nil {
		c.mu.Unlock()
		return
	}
	planID := c.plan.ID()
	stopped := c.stopLoopLocked()
	c.plan = nil
	c.current = animation.Step{}
	c.mu.Unlock()

	if stopped {
		c.publish(events.EventPlaybackStopped, events.Payload{"plan_id": planID, "reason": "plan_cancelled"})
	}
	c.publish(events.EventPlanCancelled, events.Payload{"plan_id": planID})
	c.logger.Info().Str("plan_id", planID).Msg("plan cancelled")
}

// Play starts the stepping loop. Each tick steps next when direction is
// Forward and previous when it is Backward. Calling Play while playing only
// changes the direction.
func (c *Controller) Play(plan animation.Plan, direction animation.Direction) error {
	if direction != animation.Forward && direction != animation.Backward {
		return fmt.Errorf("%w: unknown direction %d", animation.ErrValidation, int(direction))
	}

	c.mu.Lock()
	if err := c.fenceLocked(plan); err != nil {
		c.mu.Unlock()
		return err
	}
	c.direction = direction
	if c.loop != nil {
		c.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &stepLoop{cancel: cancel, ticker: c.newTicker(c.changeRate), done: make(chan struct{})}
	c.loop = l
	rate := c.changeRate
	c.mu.Unlock()

	telemetry.PlaybackPlaying.Set(1)
	go c.runLoop(ctx, plan, l)

	c.publish(events.EventPlaybackStarted, events.Payload{
		"plan_id":        plan.ID(),
		"direction":      direction.String(),
		"change_rate_ms": rate.Milliseconds(),
	})
	c.logger.Info().Str("plan_id", plan.ID()).Stringer("direction", direction).Dur("change_rate", rate).Msg("playback started")
	return nil
}

// Pause stops the stepping loop. A tick already committing may still land.
func (c *Controller) Pause(plan animation.Plan) error {
	c.mu.Lock()
	if err := c.fenceLocked(plan); err != nil {
		c.mu.Unlock()
		return err
	}
	stopped := c.stopLoopLocked()
	c.mu.Unlock()

	if stopped {
		c.publish(events.EventPlaybackStopped, events.Payload{"plan_id": plan.ID(), "reason": "paused"})
		c.logger.Info().Str("plan_id", plan.ID()).Msg("playback paused")
	}
	return nil
}

// SetChangeRate updates the stepping interval, re-arming a running loop.
func (c *Controller) SetChangeRate(plan animation.Plan, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: change rate must be positive, got %s", animation.ErrValidation, d)
	}

	c.mu.Lock()
	if err := c.fenceLocked(plan); err != nil {
		c.mu.Unlock()
		return err
	}
	c.changeRate = d
	if c.loop != nil {
		c.loop.ticker.Reset(d)
	}
	c.mu.Unlock()

	c.publish(events.EventRateChanged, events.Payload{"plan_id": plan.ID(), "change_rate_ms": d.Milliseconds()})
	return nil
}

// StepNext moves to the plan's next step in the current step's direction.
func (c *Controller) StepNext(ctx context.Context, plan animation.Plan, wait bool) error {
	return c.Step(ctx, plan, OpNext, wait)
}

// StepPrevious moves against the current step's direction.
func (c *Controller) StepPrevious(ctx context.Context, plan animation.Plan, wait bool) error {
	return c.Step(ctx, plan, OpPrevious, wait)
}

// StepForward forces the current direction to Forward and applies the
// plan's next-step rule. Under BOUNCE at the last frame that reflects back
// to an earlier frame.
func (c *Controller) StepForward(ctx context.Context, plan animation.Plan, wait bool) error {
	return c.Step(ctx, plan, OpForward, wait)
}

// StepBackward forces the current direction to Backward and applies the
// plan's next-step rule.
func (c *Controller) StepBackward(ctx context.Context, plan animation.Plan, wait bool) error {
	return c.Step(ctx, plan, OpBackward, wait)
}

// StepFirst moves to the plan's initial step.
func (c *Controller) StepFirst(ctx context.Context, plan animation.Plan, wait bool) error {
	return c.Step(ctx, plan, OpFirst, wait)
}

// StepLast moves to the plan's final step.
func (c *Controller) StepLast(ctx context.Context, plan animation.Plan, wait bool) error {
	return c.Step(ctx, plan, OpLast, wait)
}

// Step runs op against plan. With wait set it returns after every listener
// committed; otherwise it returns once the transition is scheduled. Reaching
// a STOP boundary is not an error and leaves the state unchanged.
func (c *Controller) Step(ctx context.Context, plan animation.Plan, op Op, wait bool) error {
	target, err := targetFor(op)
	if err != nil {
		return err
	}
	_, err = c.step(ctx, plan, op, wait, target)
	return err
}

// JumpToStep moves to the step whose window matches window, looked up in the
// playback direction. It reports whether the window was found in the plan.
// A lookup that only resolves to a nearest frame does not move.
func (c *Controller) JumpToStep(ctx context.Context, plan animation.Plan, window timespan.Window, wait bool) (bool, error) {
	var found bool
	_, err := c.step(ctx, plan, OpJump, wait, func(p animation.Plan, cur animation.Step, dir animation.Direction) (animation.Step, bool, error) {
		step, match := p.FindStep(window, dir)
		found = match.Found()
		if !found {
			return cur, true, nil
		}
		return step, true, nil
	})
	return found, err
}

// Wait blocks until every scheduled transition has committed.
func (c *Controller) Wait() {
	c.async.Wait()
}

// Close stops the stepping loop and waits for scheduled transitions.
func (c *Controller) Close() {
	c.mu.Lock()
	l := c.loop
	c.stopLoopLocked()
	c.mu.Unlock()

	if l != nil {
		<-l.done
	}
	c.async.Wait()
}

type stepTarget func(p animation.Plan, cur animation.Step, playDirection animation.Direction) (animation.Step, bool, error)

func targetFor(op Op) (stepTarget, error) {
	switch op {
	case OpNext:
		return func(p animation.Plan, cur animation.Step, _ animation.Direction) (animation.Step, bool, error) {
			return p.NextStep(cur)
		}, nil
	case OpPrevious:
		return func(p animation.Plan, cur animation.Step, _ animation.Direction) (animation.Step, bool, error) {
			return p.PreviousStep(cur)
		}, nil
	case OpForward, OpBackward:
		d := animation.Forward
		if op == OpBackward {
			d = animation.Backward
		}
		return func(p animation.Plan, cur animation.Step, _ animation.Direction) (animation.Step, bool, error) {
			cur.Direction = d
			return p.NextStep(cur)
		}, nil
	case OpFirst:
		return func(p animation.Plan, _ animation.Step, _ animation.Direction) (animation.Step, bool, error) {
			s, err := p.InitialStep()
			return s, err == nil, err
		}, nil
	case OpLast:
		return func(p animation.Plan, _ animation.Step, _ animation.Direction) (animation.Step, bool, error) {
			s, err := p.FinalStep()
			return s, err == nil, err
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown step operation %q", animation.ErrValidation, op)
}

type outcome string

const (
	outcomeScheduled outcome = "committed"
	outcomeUnchanged outcome = "unchanged"
	outcomeTerminal  outcome = "terminal"
)

func (c *Controller) step(ctx context.Context, plan animation.Plan, op Op, wait bool, target stepTarget) (outcome, error) {
	c.mu.Lock()
	if err := c.fenceLocked(plan); err != nil {
		c.mu.Unlock()
		c.countStep(op, err)
		return "", err
	}
	if c.inFlight {
		c.mu.Unlock()
		c.countStep(op, ErrTransitionInProgress)
		return "", ErrTransitionInProgress
	}

	cur := c.current
	next, ok, err := target(plan, cur, c.direction)
	if err != nil {
		c.mu.Unlock()
		c.countStep(op, err)
		return "", fmt.Errorf("%s step: %w", op, err)
	}
	if !ok {
		c.mu.Unlock()
		telemetry.PlaybackStepsTotal.WithLabelValues(string(op), string(outcomeTerminal)).Inc()
		return outcomeTerminal, nil
	}
	if sameStep(cur, next) {
		c.mu.Unlock()
		telemetry.PlaybackStepsTotal.WithLabelValues(string(op), string(outcomeUnchanged)).Inc()
		return outcomeUnchanged, nil
	}
	c.inFlight = true
	c.mu.Unlock()

	t := commit.Transition{ID: uuid.NewString(), PlanID: plan.ID(), From: &cur, To: next}
	telemetry.PlaybackStepsTotal.WithLabelValues(string(op), string(outcomeScheduled)).Inc()

	if wait {
		c.transition(ctx, plan, op, t)
		return outcomeScheduled, nil
	}

	c.async.Add(1)
	go func() {
		defer c.async.Done()
		c.transition(context.WithoutCancel(ctx), plan, op, t)
	}()
	return outcomeScheduled, nil
}

// transition runs t through the coordinator and installs it if plan is still
// current once every listener has committed.
func (c *Controller) transition(ctx context.Context, plan animation.Plan, op Op, t commit.Transition) {
	res := c.coord.Run(ctx, t)

	c.mu.Lock()
	installed := c.plan == plan
	if installed {
		c.current = t.To
	}
	c.inFlight = false
	c.mu.Unlock()

	if c.journal != nil {
		var from *animation.State
		if t.From != nil {
			s := t.From.State
			from = &s
		}
		c.journal.Add(journal.Entry{
			TransitionID: res.TransitionID,
			PlanID:       t.PlanID,
			Op:           string(op),
			From:         from,
			To:           t.To.State,
			Window:       t.To.Window,
			Phased:       res.Phased,
			Participants: res.Participants,
			Arrived:      res.Arrived,
			TimedOut:     res.TimedOut,
			Duration:     res.Duration,
			Installed:    installed,
		})
	}

	if res.TimedOut {
		c.publish(events.EventCommitTimeout, events.Payload{
			"plan_id":       t.PlanID,
			"transition_id": res.TransitionID,
			"participants":  res.Participants,
			"arrived":       res.Arrived,
		})
	}

	if !installed {
		c.logger.Debug().Str("plan_id", t.PlanID).Str("transition_id", res.TransitionID).Msg("plan replaced during transition, step discarded")
		return
	}

	payload := stepPayload(t.PlanID, t.To)
	payload["op"] = string(op)
	payload["transition_id"] = res.TransitionID
	c.publish(events.EventStepChanged, payload)

	c.logger.Debug().
		Str("plan_id", t.PlanID).
		Str("op", string(op)).
		Str("transition", t.String()).
		Bool("phased", res.Phased).
		Dur("duration", res.Duration).
		Msg("step committed")
}

func (c *Controller) runLoop(ctx context.Context, plan animation.Plan, l *stepLoop) {
	defer close(l.done)
	defer l.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.ticker.C():
		}

		c.mu.Lock()
		op := OpNext
		if c.direction == animation.Backward {
			op = OpPrevious
		}
		c.mu.Unlock()

		target, _ := targetFor(op)
		result, err := c.step(context.Background(), plan, op, true, target)
		switch {
		case errors.Is(err, ErrTransitionInProgress):
			continue
		case err != nil:
			c.logger.Warn().Err(err).Str("plan_id", plan.ID()).Msg("stepping loop stopped")
			c.finishLoop(l, plan, "error")
			return
		case result == outcomeTerminal:
			c.finishLoop(l, plan, "end_of_plan")
			return
		}
	}
}

// finishLoop stops l from inside its own goroutine unless it was already
// replaced or stopped.
func (c *Controller) finishLoop(l *stepLoop, plan animation.Plan, reason string) {
	c.mu.Lock()
	if c.loop != l {
		c.mu.Unlock()
		return
	}
	c.loop = nil
	l.cancel()
	c.mu.Unlock()

	telemetry.PlaybackPlaying.Set(0)
	c.publish(events.EventPlaybackStopped, events.Payload{"plan_id": plan.ID(), "reason": reason})
	c.logger.Info().Str("plan_id", plan.ID()).Str("reason", reason).Msg("playback stopped")
}

func (c *Controller) stopLoopLocked() bool {
	if c.loop == nil {
		return false
	}
	c.loop.cancel()
	c.loop = nil
	telemetry.PlaybackPlaying.Set(0)
	return true
}

func (c *Controller) fenceLocked(plan animation.Plan) error {
	if c.plan == nil {
		return ErrNoPlan
	}
	if plan == nil || plan != c.plan {
		got := "<nil>"
		if plan != nil {
			got = plan.ID()
		}
		return fmt.Errorf("%w: current %s, got %s", ErrPlanMismatch, c.plan.ID(), got)
	}
	return nil
}

func (c *Controller) defaultChangeRate() time.Duration {
	if c.prefs == nil {
		return c.defaultRate
	}
	if d := c.prefs.Duration(prefs.KeyChangeRate, c.defaultRate); d > 0 {
		return d
	}
	return c.defaultRate
}

func (c *Controller) countStep(op Op, err error) {
	label := "error"
	switch {
	case errors.Is(err, ErrNoPlan):
		label = "no_plan"
	case errors.Is(err, ErrPlanMismatch):
		label = "mismatch"
	case errors.Is(err, ErrTransitionInProgress):
		label = "busy"
	}
	telemetry.PlaybackStepsTotal.WithLabelValues(string(op), label).Inc()
}

func (c *Controller) publish(t events.EventType, payload events.Payload) {
	if c.bus != nil {
		c.bus.Publish(t, payload)
	}
}

func sameStep(a, b animation.Step) bool {
	return a.State == b.State && a.Window.Equal(b.Window)
}

func stepPayload(planID string, step animation.Step) events.Payload {
	return events.Payload{
		"plan_id":      planID,
		"index":        step.Index,
		"direction":    step.Direction.String(),
		"window_start": step.Window.Start,
		"window_end":   step.Window.End,
	}
}
