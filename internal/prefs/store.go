/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package prefs provides the preference lookups consumed by playback and the
// commit coordinator.
package prefs

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Preference keys.
const (
	KeyCommitTimeout = "playback.commit_timeout"
	KeyChangeRate    = "playback.change_rate"
)

// Lookup resolves a duration preference, returning def when the key is unset
// or unparsable.
type Lookup interface {
	Duration(key string, def time.Duration) time.Duration
}

// MemoryStore is an in-process Lookup, seeded from configuration.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates a store holding a copy of values.
func NewMemoryStore(values map[string]string) *MemoryStore {
	s := &MemoryStore{values: make(map[string]string, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Set stores a raw value.
func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// SetDuration stores d under key.
func (s *MemoryStore) SetDuration(key string, d time.Duration) {
	s.Set(key, d.String())
}

// Duration implements Lookup.
func (s *MemoryStore) Duration(key string, def time.Duration) time.Duration {
	s.mu.RLock()
	raw, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return def
	}
	if d, ok := ParseDuration(raw); ok {
		return d
	}
	return def
}

// ParseDuration accepts Go duration strings ("750ms") or bare integers,
// which are read as milliseconds.
func ParseDuration(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, true
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, true
	}
	return 0, false
}
