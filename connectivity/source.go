// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package connectivity

import "sync"

// Source is the operating-system connectivity primitive: a current flag plus change
// notifications. Implementations may deliver notifications from any goroutine and may
// miss some; the Monitor polls Online to catch up.
type Source interface {
	Online() bool
	// Watch registers fn for change notifications and returns a function that stops them.
	Watch(fn func(online bool)) (stop func())
}

// ManualSource is a Source whose state is set by the caller. The simulator and tests use
// it in place of a platform network API.
type ManualSource struct {
	mu       sync.Mutex
	online   bool
	silent   bool
	watchers map[int]func(bool)
	nextID   int
}

// NewManualSource creates a source with the given initial state.
func NewManualSource(online bool) *ManualSource {
	return &ManualSource{online: online, watchers: make(map[int]func(bool))}
}

func (s *ManualSource) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *ManualSource) Watch(fn func(bool)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// Set changes the flag and pushes a notification to watchers, unless push events have
// been suppressed with DropEvents.
func (s *ManualSource) Set(online bool) {
	s.mu.Lock()
	s.online = online
	if s.silent {
		s.mu.Unlock()
		return
	}
	fns := make([]func(bool), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// DropEvents makes Set update the flag without notifying watchers, simulating a platform
// that loses push events.
func (s *ManualSource) DropEvents(drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = drop
}
