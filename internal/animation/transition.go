/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package animation

// advance applies one step of travel in s.Direction over n frames. The
// result is a total function of (index, direction, n, behavior); ok is false
// only for a Stop boundary.
func advance(s State, n int, behavior EndBehavior) (State, bool) {
	switch behavior {
	case Wrap:
		return State{Index: wrapIndex(s.Index+delta(s.Direction), n), Direction: s.Direction}, true

	case Bounce:
		if next := s.Index + delta(s.Direction); inRange(next, n) {
			return State{Index: next, Direction: s.Direction}, true
		}
		reversed := s.Direction.Reverse()
		if next := s.Index + delta(reversed); inRange(next, n) {
			return State{Index: next, Direction: reversed}, true
		}
		// Singleton: only the direction changes.
		return State{Index: s.Index, Direction: reversed}, true

	default:
		next := s.Index + delta(s.Direction)
		if !inRange(next, n) {
			return s, false
		}
		return State{Index: next, Direction: s.Direction}, true
	}
}

// retreat is the mirror of advance.
func retreat(s State, n int, behavior EndBehavior) (State, bool) {
	prev, ok := advance(s.flip(), n, behavior)
	if !ok {
		return s, false
	}
	return prev.flip(), true
}

func delta(d Direction) int {
	if d == Backward {
		return -1
	}
	return 1
}

func inRange(i, n int) bool {
	return i >= 0 && i < n
}

func wrapIndex(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}
