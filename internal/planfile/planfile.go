/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package planfile decodes declarative plan definitions from YAML or JSON.
//
// A definition lists frames explicitly or generates them from a series:
//
//	end_behavior: bounce
//	direction: forward
//	change_rate: 500ms
//	series:
//	  start: 2026-01-01T00:00:00Z
//	  end: 2026-01-01T06:00:00Z
//	  interval: 1h
//	sliding:
//	  window: 15m
//	  advance: 5m
package planfile

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/timelapse/internal/animation"
	"github.com/friendsincode/timelapse/internal/prefs"
	"github.com/friendsincode/timelapse/internal/timespan"
)

// ErrInvalid wraps every definition error.
var ErrInvalid = errors.New("invalid plan definition")

// maxSeriesFrames caps generated frame counts.
const maxSeriesFrames = 100000

// Definition is the on-disk shape of a plan.
type Definition struct {
	EndBehavior string   `yaml:"end_behavior" json:"end_behavior"`
	Direction   string   `yaml:"direction,omitempty" json:"direction,omitempty"`
	ChangeRate  string   `yaml:"change_rate,omitempty" json:"change_rate,omitempty"`
	Frames      []Frame  `yaml:"frames,omitempty" json:"frames,omitempty"`
	Series      *Series  `yaml:"series,omitempty" json:"series,omitempty"`
	Sliding     *Sliding `yaml:"sliding,omitempty" json:"sliding,omitempty"`
}

// Frame is one window, timestamps in RFC 3339.
type Frame struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// Series generates back-to-back frames of Interval between Start and End.
// Length overrides the frame length, producing gaps or overlaps.
type Series struct {
	Start    string `yaml:"start" json:"start"`
	End      string `yaml:"end" json:"end"`
	Interval string `yaml:"interval" json:"interval"`
	Length   string `yaml:"length,omitempty" json:"length,omitempty"`
}

// Sliding turns the plan into a sliding-window plan.
type Sliding struct {
	Window  string `yaml:"window" json:"window"`
	Advance string `yaml:"advance" json:"advance"`
	Limit   *Frame `yaml:"limit,omitempty" json:"limit,omitempty"`
}

// Compiled is a ready-to-install plan plus its playback hints.
type Compiled struct {
	Plan       animation.Plan
	Direction  animation.Direction
	ChangeRate time.Duration
}

// Load reads and parses the file at path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML (or JSON, which is valid YAML) definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &def, nil
}

// Compile validates the definition and builds the plan.
func (d *Definition) Compile() (*Compiled, error) {
	behavior := animation.Stop
	if d.EndBehavior != "" {
		b, err := animation.ParseEndBehavior(d.EndBehavior)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		behavior = b
	}

	out := &Compiled{Direction: animation.Forward}
	if d.Direction != "" {
		dir, err := animation.ParseDirection(d.Direction)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		out.Direction = dir
	}
	if d.ChangeRate != "" {
		rate, err := parseDuration("change_rate", d.ChangeRate)
		if err != nil {
			return nil, err
		}
		out.ChangeRate = rate
	}

	frames, err := d.frames()
	if err != nil {
		return nil, err
	}

	if d.Sliding == nil {
		plan, err := animation.NewSequencePlan(frames, behavior)
		if err != nil {
			return nil, err
		}
		out.Plan = plan
		return out, nil
	}

	opts, err := d.Sliding.options()
	if err != nil {
		return nil, err
	}
	plan, err := animation.NewSlidingPlan(frames, behavior, opts)
	if err != nil {
		return nil, err
	}
	out.Plan = plan
	return out, nil
}

func (d *Definition) frames() ([]timespan.Window, error) {
	switch {
	case len(d.Frames) > 0 && d.Series != nil:
		return nil, fmt.Errorf("%w: frames and series are mutually exclusive", ErrInvalid)
	case d.Series != nil:
		return d.Series.expand()
	}

	frames := make([]timespan.Window, 0, len(d.Frames))
	for i, f := range d.Frames {
		w, err := f.window()
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		frames = append(frames, w)
	}
	return frames, nil
}

func (f Frame) window() (timespan.Window, error) {
	start, err := parseTime("start", f.Start)
	if err != nil {
		return timespan.Window{}, err
	}
	end, err := parseTime("end", f.End)
	if err != nil {
		return timespan.Window{}, err
	}
	w, err := timespan.New(start, end)
	if err != nil {
		return timespan.Window{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return w, nil
}

func (s *Series) expand() ([]timespan.Window, error) {
	bounds, err := Frame{Start: s.Start, End: s.End}.window()
	if err != nil {
		return nil, fmt.Errorf("series: %w", err)
	}
	interval, err := parseDuration("series.interval", s.Interval)
	if err != nil {
		return nil, err
	}
	length := interval
	if s.Length != "" {
		if length, err = parseDuration("series.length", s.Length); err != nil {
			return nil, err
		}
	}

	var frames []timespan.Window
	for t := bounds.Start; t.Before(bounds.End); t = t.Add(interval) {
		if len(frames) == maxSeriesFrames {
			return nil, fmt.Errorf("%w: series produces more than %d frames", ErrInvalid, maxSeriesFrames)
		}
		frames = append(frames, timespan.Starting(t, length))
	}
	return frames, nil
}

func (s *Sliding) options() (animation.SlidingOptions, error) {
	window, err := parseDuration("sliding.window", s.Window)
	if err != nil {
		return animation.SlidingOptions{}, err
	}
	advance, err := parseDuration("sliding.advance", s.Advance)
	if err != nil {
		return animation.SlidingOptions{}, err
	}
	opts := animation.SlidingOptions{Window: window, Advance: advance}
	if s.Limit != nil {
		limit, err := s.Limit.window()
		if err != nil {
			return animation.SlidingOptions{}, fmt.Errorf("sliding.limit: %w", err)
		}
		opts.Limit = &limit
	}
	return opts, nil
}

func parseTime(field, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q is not an RFC 3339 timestamp", ErrInvalid, field, raw)
	}
	return t, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	d, ok := prefs.ParseDuration(raw)
	if !ok || d <= 0 {
		return 0, fmt.Errorf("%w: %s %q must be a positive duration", ErrInvalid, field, raw)
	}
	return d, nil
}
