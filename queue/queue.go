// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package queue is the durable, ordered store of pending mutation intents. It knows
// nothing about connectivity; the sync engine decides when to replay it.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markobbzbl/sportbuddy-mobile-1/internal/broadcast"
	"github.com/markobbzbl/sportbuddy-mobile-1/kvstore"
)

// StorageKey is the key the whole queue is persisted under.
const StorageKey = "offline_queue"

// MaxRetries is the number of failed replays after which an operation is dropped.
const MaxRetries = 5

// Kind is the mutation an operation performs.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Entity is the type of record an operation targets.
type Entity string

const (
	EntityActivityOffer Entity = "activity_offer"
	EntityProfile       Entity = "profile"
	EntityParticipation Entity = "participation"
)

// Operation is a persisted intent to mutate remote state.
type Operation struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"type"`
	Entity     Entity          `json:"entity"`
	Payload    json.RawMessage `json:"data"`
	EnqueuedAt time.Time       `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
}

// Decode unmarshals the payload into dest.
func (op Operation) Decode(dest any) error {
	if err := json.Unmarshal(op.Payload, dest); err != nil {
		return fmt.Errorf("malformed %s %s payload: %w", op.Kind, op.Entity, err)
	}
	return nil
}

// Queue is a FIFO of operations persisted to a kvstore.Store on every mutation.
// Reads hand out copies; writes are serialised.
type Queue struct {
	store  kvstore.Store
	logger *slog.Logger
	now    func() time.Time

	writeMu sync.Mutex // serialises mutations and their persistence
	mu      sync.RWMutex
	ops     []Operation

	changes *broadcast.Value[[]Operation]
}

// Option customises a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides the time source used for EnqueuedAt.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Open loads the persisted queue from store. A missing or unreadable value yields an
// empty queue; it is never a fatal error.
func Open(ctx context.Context, store kvstore.Store, opts ...Option) (*Queue, error) {
	q := &Queue{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}

	var ops []Operation
	found, err := store.Get(ctx, StorageKey, &ops)
	switch {
	case errors.Is(err, kvstore.ErrCorrupt):
		q.logger.Warn("persisted queue is corrupt, starting empty", "error", err)
		ops = nil
	case err != nil:
		q.logger.Warn("failed to read persisted queue, starting empty", "error", err)
		ops = nil
	case !found:
		ops = nil
	}

	q.ops = ops
	q.changes = broadcast.NewValue(cloneOps(ops), nil)
	if len(ops) > 0 {
		q.logger.Info("restored pending operations", "count", len(ops))
	}
	return q, nil
}

func cloneOps(ops []Operation) []Operation {
	out := make([]Operation, len(ops))
	for i, op := range ops {
		op.Payload = append(json.RawMessage(nil), op.Payload...)
		out[i] = op
	}
	return out
}

// mutate applies fn to a copy of the queue, persists the result and only then makes it
// visible. fn reports whether anything changed; unchanged queues are not persisted.
func (q *Queue) mutate(ctx context.Context, fn func(ops []Operation) ([]Operation, bool)) error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	q.mu.RLock()
	next, changed := fn(cloneOps(q.ops))
	q.mu.RUnlock()
	if !changed {
		return nil
	}

	if err := q.store.Set(ctx, StorageKey, next); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}

	q.mu.Lock()
	q.ops = next
	q.mu.Unlock()

	q.changes.Set(cloneOps(next))
	return nil
}

// Enqueue appends an intent and persists the queue before returning its id.
// The payload is stored as-is; it is not validated.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, entity Entity, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	op := Operation{
		ID:         uuid.New().String(),
		Kind:       kind,
		Entity:     entity,
		Payload:    raw,
		EnqueuedAt: q.now(),
		RetryCount: 0,
	}

	err = q.mutate(ctx, func(ops []Operation) ([]Operation, bool) {
		return append(ops, op), true
	})
	if err != nil {
		return "", err
	}

	q.logger.Info("operation queued", "id", op.ID, "kind", op.Kind, "entity", op.Entity)
	return op.ID, nil
}

// Snapshot returns a copy of the queue in FIFO order. Later mutations do not affect it.
func (q *Queue) Snapshot() []Operation {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return cloneOps(q.ops)
}

// Len returns the number of pending operations.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.ops)
}

// Get returns the operation with id, if queued.
func (q *Queue) Get(id string) (Operation, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, op := range q.ops {
		if op.ID == id {
			return cloneOps([]Operation{op})[0], true
		}
	}
	return Operation{}, false
}

// Remove deletes the operation with id. Removing an absent id is a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.mutate(ctx, func(ops []Operation) ([]Operation, bool) {
		for i, op := range ops {
			if op.ID == id {
				return append(ops[:i], ops[i+1:]...), true
			}
		}
		return ops, false
	})
}

// IncrementRetry bumps the retry counter of id and returns the new value. It returns 0
// without error when id is not queued.
func (q *Queue) IncrementRetry(ctx context.Context, id string) (int, error) {
	count := 0
	err := q.mutate(ctx, func(ops []Operation) ([]Operation, bool) {
		for i := range ops {
			if ops[i].ID == id {
				ops[i].RetryCount++
				count = ops[i].RetryCount
				return ops, true
			}
		}
		return ops, false
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Clear drops every queued operation.
func (q *Queue) Clear(ctx context.Context) error {
	return q.mutate(ctx, func(ops []Operation) ([]Operation, bool) {
		return nil, len(ops) > 0
	})
}

// Subscribe registers fn for structural changes. The current contents are delivered
// immediately. fn receives its own copy.
func (q *Queue) Subscribe(fn func(ops []Operation)) (cancel func()) {
	return q.changes.Subscribe(func(ops []Operation) { fn(slices.Clone(ops)) })
}

// RewriteReference replaces every occurrence of tempID in queued payloads with
// serverID and returns how many operations were changed. The temp_id marker of a
// create payload is left untouched.
func (q *Queue) RewriteReference(ctx context.Context, tempID, serverID string) (int, error) {
	if tempID == "" || tempID == serverID {
		return 0, nil
	}
	rewritten := 0
	err := q.mutate(ctx, func(ops []Operation) ([]Operation, bool) {
		for i := range ops {
			raw, ok := replaceInPayload(ops[i].Payload, tempID, serverID)
			if ok {
				ops[i].Payload = raw
				rewritten++
			}
		}
		return ops, rewritten > 0
	})
	if err != nil {
		return 0, err
	}
	if rewritten > 0 {
		q.logger.Debug("rewrote temporary reference", "temp_id", tempID, "server_id", serverID, "operations", rewritten)
	}
	return rewritten, nil
}

func replaceInPayload(payload json.RawMessage, from, to string) (json.RawMessage, bool) {
	if !bytes.Contains(payload, []byte(from)) {
		return payload, false
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return payload, false
	}
	doc, changed := replaceValue(doc, "", from, to)
	if !changed {
		return payload, false
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return payload, false
	}
	return raw, true
}

func replaceValue(v any, key, from, to string) (any, bool) {
	switch t := v.(type) {
	case string:
		if t == from && key != "temp_id" {
			return to, true
		}
	case map[string]any:
		changed := false
		for k, child := range t {
			if nv, ok := replaceValue(child, k, from, to); ok {
				t[k] = nv
				changed = true
			}
		}
		return t, changed
	case []any:
		changed := false
		for i, child := range t {
			if nv, ok := replaceValue(child, key, from, to); ok {
				t[i] = nv
				changed = true
			}
		}
		return t, changed
	}
	return v, false
}
