// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package broadcast provides the publish-subscribe shapes used by the sync core:
// a Value that replays its last state to new subscribers and only notifies on change,
// a Pulse that fires once and falls back to its idle state on its own, and a Stream of
// one-off events.
package broadcast

import (
	"log/slog"
	"sync"
	"time"
)

type subscriber[T any] struct {
	id int
	fn func(T)
}

type hub[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber[T]
}

func (h *hub[T]) add(fn func(T)) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.subs = append(h.subs, subscriber[T]{id: h.nextID, fn: fn})
	return h.nextID
}

func (h *hub[T]) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return
		}
	}
}

func (h *hub[T]) snapshot() []subscriber[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]subscriber[T], len(h.subs))
	copy(out, h.subs)
	return out
}

func deliver[T any](fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("subscriber panicked", "panic", r)
		}
	}()
	fn(v)
}

// Value holds the latest state of T and broadcasts changes to subscribers.
// Setting a value equal to the current one does not notify anyone.
type Value[T any] struct {
	hub[T]

	mu    sync.Mutex
	cur   T
	equal func(a, b T) bool
	// pub serialises publications so subscribers observe changes in order
	pub sync.Mutex
}

// NewValue creates a Value with an initial state. equal decides whether two states are
// identical; nil means every Set is a change.
func NewValue[T any](initial T, equal func(a, b T) bool) *Value[T] {
	return &Value[T]{cur: initial, equal: equal}
}

// NewComparable creates a Value for comparable types using ==.
func NewComparable[T comparable](initial T) *Value[T] {
	return NewValue(initial, func(a, b T) bool { return a == b })
}

// Get returns the current state.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set stores next and notifies subscribers if it differs from the current state.
// It reports whether a change was published.
func (v *Value[T]) Set(next T) bool {
	v.pub.Lock()
	defer v.pub.Unlock()

	v.mu.Lock()
	if v.equal != nil && v.equal(v.cur, next) {
		v.mu.Unlock()
		return false
	}
	v.cur = next
	v.mu.Unlock()

	for _, s := range v.snapshot() {
		deliver(s.fn, next)
	}
	return true
}

// Subscribe registers fn, immediately replays the current state to it and returns a
// function that removes the subscription.
func (v *Value[T]) Subscribe(fn func(T)) (cancel func()) {
	v.pub.Lock()
	id := v.add(fn)
	cur := v.Get()
	deliver(fn, cur)
	v.pub.Unlock()

	var once sync.Once
	return func() { once.Do(func() { v.remove(id) }) }
}

// Pulse is an edge-triggered signal. Fire notifies subscribers with true and, after the
// reset delay, with false again. Firing while already signaled restarts the delay.
type Pulse struct {
	hub[bool]

	mu       sync.Mutex
	signaled bool
	reset    time.Duration
	timer    *time.Timer
	gen      uint64 // bumped by Fire and Stop; a reset only applies to its own generation
}

// NewPulse creates a Pulse that reverts to the idle state after reset.
func NewPulse(reset time.Duration) *Pulse {
	return &Pulse{reset: reset}
}

// Fire signals subscribers and schedules the automatic reset.
func (p *Pulse) Fire() {
	p.mu.Lock()
	p.signaled = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(p.reset, func() { p.clear(gen) })
	p.mu.Unlock()

	for _, s := range p.snapshot() {
		deliver(s.fn, true)
	}
}

func (p *Pulse) clear(gen uint64) {
	p.mu.Lock()
	if !p.signaled || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.signaled = false
	p.timer = nil
	p.mu.Unlock()

	for _, s := range p.snapshot() {
		deliver(s.fn, false)
	}
}

// Signaled reports whether the pulse is currently in its signaled state.
func (p *Pulse) Signaled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signaled
}

// Subscribe registers fn for both edges of the pulse. Nothing is replayed.
func (p *Pulse) Subscribe(fn func(signaled bool)) (cancel func()) {
	id := p.add(fn)
	var once sync.Once
	return func() { once.Do(func() { p.remove(id) }) }
}

// Stop cancels a pending reset. Subscribers are not notified.
func (p *Pulse) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
	p.signaled = false
}

// Stream delivers discrete events to the subscribers present at publication time.
// Nothing is replayed.
type Stream[T any] struct {
	hub[T]
}

// NewStream creates an empty stream.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{}
}

// Publish delivers ev to every current subscriber.
func (s *Stream[T]) Publish(ev T) {
	for _, sub := range s.snapshot() {
		deliver(sub.fn, ev)
	}
}

// Subscribe registers fn for future events.
func (s *Stream[T]) Subscribe(fn func(T)) (cancel func()) {
	id := s.add(fn)
	var once sync.Once
	return func() { once.Do(func() { s.remove(id) }) }
}
