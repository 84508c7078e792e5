/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package journal keeps a bounded in-memory record of committed transitions.
package journal

import (
	"sync"
	"time"

	"github.com/friendsincode/timelapse/internal/animation"
	"github.com/friendsincode/timelapse/internal/timespan"
)

// Entry records one committed transition.
type Entry struct {
	Timestamp    time.Time        `json:"timestamp"`
	TransitionID string           `json:"transition_id"`
	PlanID       string           `json:"plan_id"`
	Op           string           `json:"op"`
	From         *animation.State `json:"from,omitempty"`
	To           animation.State  `json:"to"`
	Window       timespan.Window  `json:"window"`
	Phased       bool             `json:"phased"`
	Participants int              `json:"participants"`
	Arrived      int              `json:"arrived"`
	TimedOut     bool             `json:"timed_out"`
	Duration     time.Duration    `json:"duration_ns"`
	Installed    bool             `json:"installed"`
}

// Journal is a thread-safe ring buffer of entries.
type Journal struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
}

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1024

// New creates a journal holding at most capacity entries.
func New(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Journal{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, evicting the oldest when full.
func (j *Journal) Add(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries[j.head] = entry
	j.head = (j.head + 1) % j.capacity
	if j.count < j.capacity {
		j.count++
	}
}

// All returns every entry in chronological order.
func (j *Journal) All() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	result := make([]Entry, j.count)
	start := 0
	if j.count == j.capacity {
		start = j.head
	}
	for i := 0; i < j.count; i++ {
		result[i] = j.entries[(start+i)%j.capacity]
	}
	return result
}

// QueryParams filters Query results. Zero values match everything.
type QueryParams struct {
	PlanID       string
	Op           string
	TimedOutOnly bool
	Since        time.Time
	Limit        int
	Descending   bool
}

// Query returns entries matching params.
func (j *Journal) Query(params QueryParams) []Entry {
	var filtered []Entry
	for _, entry := range j.All() {
		if params.PlanID != "" && entry.PlanID != params.PlanID {
			continue
		}
		if params.Op != "" && entry.Op != params.Op {
			continue
		}
		if params.TimedOutOnly && !entry.TimedOut {
			continue
		}
		if !params.Since.IsZero() && entry.Timestamp.Before(params.Since) {
			continue
		}
		filtered = append(filtered, entry)
	}

	if params.Descending {
		for i, k := 0, len(filtered)-1; i < k; i, k = i+1, k-1 {
			filtered[i], filtered[k] = filtered[k], filtered[i]
		}
	}

	if params.Limit > 0 && len(filtered) > params.Limit {
		filtered = filtered[:params.Limit]
	}
	return filtered
}

// Stats summarizes the journal.
type Stats struct {
	Capacity int            `json:"capacity"`
	Count    int            `json:"count"`
	Phased   int            `json:"phased"`
	TimedOut int            `json:"timed_out"`
	OpCount  map[string]int `json:"op_count"`
}

// Stats returns counts over the retained entries.
func (j *Journal) Stats() Stats {
	stats := Stats{Capacity: j.capacity, OpCount: make(map[string]int)}
	for _, entry := range j.All() {
		stats.Count++
		stats.OpCount[entry.Op]++
		if entry.Phased {
			stats.Phased++
		}
		if entry.TimedOut {
			stats.TimedOut++
		}
	}
	return stats
}

// Clear empties the journal.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.head = 0
	j.count = 0
}
