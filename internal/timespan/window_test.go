/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package timespan

import (
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int64) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func TestNewRejectsInvertedWindow(t *testing.T) {
	if _, err := New(at(10), at(5)); !errors.Is(err, ErrInvertedWindow) {
		t.Fatalf("New(10, 5) err = %v, want ErrInvertedWindow", err)
	}
	w, err := New(at(5), at(5))
	if err != nil {
		t.Fatalf("New(5, 5): %v", err)
	}
	if !w.IsZeroLength() {
		t.Fatal("expected zero length window")
	}
}

func TestContainsIsHalfOpen(t *testing.T) {
	w := MustNew(at(100), at(200))

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"before start", at(99), false},
		{"at start", at(100), true},
		{"inside", at(150), true},
		{"at end", at(200), false},
		{"after end", at(250), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Contains(tt.t); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestDistanceTo(t *testing.T) {
	w := MustNew(at(100), at(200))

	tests := []struct {
		name string
		t    time.Time
		want time.Duration
	}{
		{"before", at(40), 60 * time.Millisecond},
		{"inside", at(120), 0},
		{"end boundary", at(200), 0},
		{"after", at(230), 30 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.DistanceTo(tt.t); got != tt.want {
				t.Errorf("DistanceTo(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestIntersect(t *testing.T) {
	a := MustNew(at(0), at(100))

	got, ok := a.Intersect(MustNew(at(50), at(150)))
	if !ok || !got.Equal(MustNew(at(50), at(100))) {
		t.Fatalf("Intersect = %v, %v", got, ok)
	}

	if _, ok := a.Intersect(MustNew(at(100), at(200))); ok {
		t.Fatal("adjacent windows must not intersect")
	}
}

func TestEqualIgnoresLocation(t *testing.T) {
	loc := time.FixedZone("plus2", 2*60*60)
	a := MustNew(at(0), at(10))
	b := MustNew(at(0).In(loc), at(10).In(loc))
	if !a.Equal(b) {
		t.Fatal("expected windows in different zones to be equal")
	}
}

func TestShiftAndCovers(t *testing.T) {
	outer := MustNew(at(0), at(100))
	inner := Starting(at(10), 20*time.Millisecond)
	if !outer.Covers(inner) {
		t.Fatal("expected outer to cover inner")
	}
	if outer.Covers(inner.Shift(90 * time.Millisecond)) {
		t.Fatal("shifted window leaves outer")
	}
	if got := Ending(at(100), 30*time.Millisecond); !got.Equal(MustNew(at(70), at(100))) {
		t.Fatalf("Ending = %v", got)
	}
}
