// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package syncengine replays the mutation queue against the remote data service whenever
// the device comes back online or a caller asks for it.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markobbzbl/sportbuddy-mobile-1/internal/broadcast"
	"github.com/markobbzbl/sportbuddy-mobile-1/model"
	"github.com/markobbzbl/sportbuddy-mobile-1/queue"
	"github.com/markobbzbl/sportbuddy-mobile-1/remote"
)

// DefaultPulseReset is how long the completion pulse stays signaled.
const DefaultPulseReset = 3 * time.Millisecond

var errNotSignedIn = errors.New("user not authenticated")

// Identity yields the user the queued operations are replayed for.
type Identity interface {
	UserID() (string, bool)
}

// Reachability is the connectivity view the engine needs. connectivity.Monitor satisfies it.
type Reachability interface {
	Current() bool
	Subscribe(func(online bool)) (cancel func())
}

// Resolver is told when a record created under a temporary id has been stored remotely.
type Resolver interface {
	ResolveTempID(ctx context.Context, tempID string, offer model.ActivityOffer) error
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, tempID string, offer model.ActivityOffer) error

// ResolveTempID calls f.
func (f ResolverFunc) ResolveTempID(ctx context.Context, tempID string, offer model.ActivityOffer) error {
	return f(ctx, tempID, offer)
}

// State of the engine.
type State int

const (
	Idle State = iota
	Draining
)

func (s State) String() string {
	if s == Draining {
		return "draining"
	}
	return "idle"
}

// Result summarises one drain pass.
type Result struct {
	Skipped   bool // remote unreachable at pass entry
	Attempted int
	Succeeded int
	Failed    int
	Deferred  int // waiting for the create they depend on
	Dropped   int
}

// DroppedOperation is an operation removed from the queue without reaching the service.
type DroppedOperation struct {
	Operation queue.Operation
	Reason    string
	At        time.Time
}

// Config configures an Engine.
type Config struct {
	PulseReset time.Duration // 0 means DefaultPulseReset
	Logger     *slog.Logger
}

// Engine drains the queue. At most one pass runs at a time; triggers that arrive while a
// pass is running are dropped, not queued.
type Engine struct {
	queue    *queue.Queue
	service  remote.Service
	net      Reachability
	identity Identity
	resolver Resolver
	logger   *slog.Logger

	draining  atomic.Bool
	completed *broadcast.Pulse
	drops     *broadcast.Stream[DroppedOperation]

	dropMu  sync.Mutex
	dropped []DroppedOperation

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	unsub   func()
	wg      sync.WaitGroup
}

// New creates an engine. resolver may be nil.
func New(q *queue.Queue, service remote.Service, net Reachability, identity Identity, resolver Resolver, config *Config) *Engine {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.PulseReset <= 0 {
		cfg.PulseReset = DefaultPulseReset
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		queue:     q,
		service:   service,
		net:       net,
		identity:  identity,
		resolver:  resolver,
		logger:    logger,
		completed: broadcast.NewPulse(cfg.PulseReset),
		drops:     broadcast.NewStream[DroppedOperation](),
	}
}

// Start drains the queue on every transition to online, including the current state if the
// device is online already.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.unsub = e.net.Subscribe(func(online bool) {
		if online {
			e.Trigger(runCtx)
		}
	})
	e.logger.Debug("sync engine started")
}

// Stop stops reacting to connectivity and waits for an in-flight pass to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.unsub()
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
	e.completed.Stop()
	e.logger.Debug("sync engine stopped")
}

// State returns Draining while a pass is running.
func (e *Engine) State() State {
	if e.draining.Load() {
		return Draining
	}
	return Idle
}

// Trigger starts a pass in the background. It returns false when a pass is already running.
func (e *Engine) Trigger(ctx context.Context) bool {
	if !e.draining.CompareAndSwap(false, true) {
		e.logger.Debug("drain already in progress, trigger dropped")
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.draining.Store(false)
		e.drain(ctx)
	}()
	return true
}

// Drain runs one pass and waits for it. ok is false when another pass was already running.
func (e *Engine) Drain(ctx context.Context) (res Result, ok bool) {
	if !e.draining.CompareAndSwap(false, true) {
		return Result{}, false
	}
	defer e.draining.Store(false)
	return e.drain(ctx), true
}

// Wait blocks until the pass started by Trigger, if any, has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// SubscribeCompleted registers fn for the completion pulse: true after every pass that was
// not skipped, then false again shortly after.
func (e *Engine) SubscribeCompleted(fn func(signaled bool)) (cancel func()) {
	return e.completed.Subscribe(fn)
}

// SubscribeDropped registers fn for operations given up on.
func (e *Engine) SubscribeDropped(fn func(DroppedOperation)) (cancel func()) {
	return e.drops.Subscribe(fn)
}

// Dropped returns every operation dropped since the engine was created.
func (e *Engine) Dropped() []DroppedOperation {
	e.dropMu.Lock()
	defer e.dropMu.Unlock()
	return append([]DroppedOperation(nil), e.dropped...)
}

func (e *Engine) drop(op queue.Operation, reason string) {
	d := DroppedOperation{Operation: op, Reason: reason, At: time.Now()}
	e.dropMu.Lock()
	e.dropped = append(e.dropped, d)
	e.dropMu.Unlock()

	e.logger.Warn("removing operation after too many retries",
		"id", op.ID, "kind", op.Kind, "entity", op.Entity, "retries", op.RetryCount, "reason", reason)
	e.drops.Publish(d)
}

// pass tracks temporary ids across the operations of one drain.
type pass struct {
	resolved map[string]string   // temp id -> server id
	pending  map[string]struct{} // temp ids whose create is still queued
}

func (e *Engine) drain(ctx context.Context) Result {
	if !e.net.Current() {
		e.logger.Debug("remote unreachable, drain skipped")
		return Result{Skipped: true}
	}

	ops := e.queue.Snapshot()
	e.logger.Debug("drain started", "pending", len(ops))

	p := &pass{resolved: make(map[string]string), pending: make(map[string]struct{})}
	for _, op := range ops {
		if op.Kind == queue.KindCreate && op.Entity == queue.EntityActivityOffer {
			var payload model.CreateOfferPayload
			if op.Decode(&payload) == nil && payload.TempID != "" {
				p.pending[payload.TempID] = struct{}{}
			}
		}
	}

	var res Result
	for _, op := range ops {
		e.process(ctx, p, op, &res)
	}

	e.logger.Info("drain finished",
		"attempted", res.Attempted, "succeeded", res.Succeeded, "failed", res.Failed,
		"deferred", res.Deferred, "dropped", res.Dropped)
	e.completed.Fire()
	return res
}

func (e *Engine) process(ctx context.Context, p *pass, op queue.Operation, res *Result) {
	logger := e.logger.With("id", op.ID, "kind", op.Kind, "entity", op.Entity)

	ref, err := p.reference(op)
	if err == nil && ref != "" && model.IsTempID(ref) {
		if _, waiting := p.pending[ref]; waiting {
			logger.Debug("waiting for create of referenced record", "temp_id", ref)
			res.Deferred++
			return
		}
	}

	res.Attempted++
	created, err := e.dispatch(ctx, p, op)
	if errors.Is(err, errUnsupported) {
		if rmErr := e.queue.Remove(ctx, op.ID); rmErr != nil {
			logger.Error("failed to remove operation", "error", rmErr)
		}
		res.Dropped++
		e.drop(op, err.Error())
		return
	}
	if err != nil {
		logger.Error("operation failed", "error", err, "retries", op.RetryCount)
		res.Failed++
		e.fail(ctx, p, op, res)
		return
	}

	logger.Debug("operation synced")
	res.Succeeded++
	if err := e.queue.Remove(ctx, op.ID); err != nil {
		logger.Error("failed to remove synced operation", "error", err)
	}
	if created != nil {
		e.resolve(ctx, p, op, *created)
	}
}

func (e *Engine) fail(ctx context.Context, p *pass, op queue.Operation, res *Result) {
	count, err := e.queue.IncrementRetry(ctx, op.ID)
	if err != nil {
		e.logger.Error("failed to record retry", "id", op.ID, "error", err)
		return
	}
	if count < queue.MaxRetries {
		return
	}
	if err := e.queue.Remove(ctx, op.ID); err != nil {
		e.logger.Error("failed to remove exhausted operation", "id", op.ID, "error", err)
		return
	}
	op.RetryCount = count
	res.Dropped++
	e.drop(op, fmt.Sprintf("failed %d times", count))

	// dependents of a dropped create can no longer be deferred
	if temp := createTempID(op); temp != "" {
		delete(p.pending, temp)
	}
}

func (e *Engine) resolve(ctx context.Context, p *pass, op queue.Operation, offer model.ActivityOffer) {
	temp := createTempID(op)
	if temp == "" {
		return
	}
	delete(p.pending, temp)
	p.resolved[temp] = offer.ID

	if _, err := e.queue.RewriteReference(ctx, temp, offer.ID); err != nil {
		e.logger.Error("failed to rewrite queued references", "temp_id", temp, "error", err)
	}
	if e.resolver != nil {
		if err := e.resolver.ResolveTempID(ctx, temp, offer); err != nil {
			e.logger.Error("failed to resolve temporary id", "temp_id", temp, "server_id", offer.ID, "error", err)
		}
	}
	e.logger.Info("temporary id resolved", "temp_id", temp, "server_id", offer.ID)
}

func createTempID(op queue.Operation) string {
	if op.Kind != queue.KindCreate || op.Entity != queue.EntityActivityOffer {
		return ""
	}
	var payload model.CreateOfferPayload
	if op.Decode(&payload) != nil {
		return ""
	}
	return payload.TempID
}

// reference returns the offer id op points at, or "" for operations that reference none.
func (p *pass) reference(op queue.Operation) (string, error) {
	switch {
	case op.Entity == queue.EntityActivityOffer && op.Kind == queue.KindUpdate:
		var payload model.UpdateOfferPayload
		if err := op.Decode(&payload); err != nil {
			return "", err
		}
		return payload.ReferencedID(), nil
	case op.Entity == queue.EntityActivityOffer && op.Kind == queue.KindDelete:
		var payload model.DeleteOfferPayload
		if err := op.Decode(&payload); err != nil {
			return "", err
		}
		return payload.ReferencedID(), nil
	case op.Entity == queue.EntityParticipation:
		var payload model.ParticipationPayload
		if err := op.Decode(&payload); err != nil {
			return "", err
		}
		return payload.ReferencedID(), nil
	}
	return "", nil
}

// rewrite maps an id resolved earlier in this pass to its server id.
func (p *pass) rewrite(id string) string {
	if server, ok := p.resolved[id]; ok {
		return server
	}
	return id
}
