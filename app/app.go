// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package app wires the offline-first core together and implements the user actions on top
// of it: every change is applied to the local view first, then written to the remote
// service directly or queued for the sync engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/markobbzbl/sportbuddy-mobile-1/connectivity"
	"github.com/markobbzbl/sportbuddy-mobile-1/internal/broadcast"
	"github.com/markobbzbl/sportbuddy-mobile-1/kvstore"
	"github.com/markobbzbl/sportbuddy-mobile-1/model"
	"github.com/markobbzbl/sportbuddy-mobile-1/queue"
	"github.com/markobbzbl/sportbuddy-mobile-1/reconcile"
	"github.com/markobbzbl/sportbuddy-mobile-1/remote"
	"github.com/markobbzbl/sportbuddy-mobile-1/session"
	"github.com/markobbzbl/sportbuddy-mobile-1/syncengine"
)

// Banner texts.
const (
	BannerOffline     = "Offline mode: showing saved offers"
	BannerUnreachable = "Server unreachable: showing saved offers"
)

// ErrNoSession is returned by user actions while nobody is signed in.
var ErrNoSession = session.ErrNoSession

// Options configures an App. Store, Service, Source and Session are required.
type Options struct {
	Store        kvstore.Store
	Service      remote.Service
	Source       connectivity.Source
	Session      *session.Session
	Connectivity *connectivity.Config
	PulseReset   time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// State is what the UI shows around the offer list.
type State struct {
	Online       bool
	Pending      int
	PendingBadge string // "" when nothing is queued
	Banner       string
	Warnings     []string
}

func (s State) clone() State {
	s.Warnings = slices.Clone(s.Warnings)
	return s
}

func stateEqual(a, b State) bool {
	return a.Online == b.Online && a.Pending == b.Pending && a.PendingBadge == b.PendingBadge &&
		a.Banner == b.Banner && slices.Equal(a.Warnings, b.Warnings)
}

// App is the device-side composition root.
type App struct {
	service    remote.Service
	session    *session.Session
	monitor    *connectivity.Monitor
	queue      *queue.Queue
	engine     *syncengine.Engine
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
	now        func() time.Time

	stateMu sync.Mutex
	st      State
	state   *broadcast.Value[State]
	stale   bool // last Load fell back to the cache while online

	tempMu   sync.Mutex
	lastTemp time.Time
	creating map[string]struct{} // temp ids with a direct create in flight

	mu      sync.Mutex
	life    context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	unsubs  []func()
}

// New builds every component from opts. Call Start to begin monitoring and syncing.
func New(ctx context.Context, opts Options) (*App, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("app: store is required")
	case opts.Service == nil:
		return nil, errors.New("app: remote service is required")
	case opts.Source == nil:
		return nil, errors.New("app: connectivity source is required")
	case opts.Session == nil:
		return nil, errors.New("app: session is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	q, err := queue.Open(ctx, opts.Store, queue.WithLogger(logger.With("component", "queue")), queue.WithClock(now))
	if err != nil {
		return nil, fmt.Errorf("failed to open mutation queue: %w", err)
	}

	monCfg := connectivity.DefaultConfig()
	if opts.Connectivity != nil {
		c := *opts.Connectivity
		monCfg = &c
	}
	if monCfg.Logger == nil {
		monCfg.Logger = logger.With("component", "connectivity")
	}
	monitor := connectivity.NewMonitor(opts.Source, monCfg)

	reconciler := reconcile.New(ctx, opts.Store, logger.With("component", "reconcile"))

	a := &App{
		service:    opts.Service,
		session:    opts.Session,
		monitor:    monitor,
		queue:      q,
		reconciler: reconciler,
		logger:     logger,
		now:        now,
		creating:   make(map[string]struct{}),
		life:       context.Background(),
	}
	engine := syncengine.New(q, opts.Service, monitor, opts.Session, syncengine.ResolverFunc(a.resolveCreated), &syncengine.Config{
		PulseReset: opts.PulseReset,
		Logger:     logger.With("component", "syncengine"),
	})
	a.engine = engine
	a.st = State{Online: monitor.Current(), Pending: q.Len(), PendingBadge: badge(q.Len())}
	a.st.Banner = a.banner()
	a.state = broadcast.NewValue(a.st.clone(), stateEqual)

	a.unsubs = append(a.unsubs,
		q.Subscribe(a.onQueueChanged),
		monitor.Subscribe(a.onConnectivity),
		engine.SubscribeCompleted(a.onSyncCompleted),
		engine.SubscribeDropped(a.onDropped),
	)
	return a, nil
}

// Start begins connectivity monitoring and queue draining. ctx bounds background passes.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started || a.closed {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.life, a.cancel = context.WithCancel(ctx)
	life := a.life
	a.mu.Unlock()

	a.monitor.Start()
	a.engine.Start(life)
	a.logger.Info("app started", "online", a.monitor.Current(), "pending", a.queue.Len())
}

// Close stops background work and releases subscriptions. The store is not closed and the
// App cannot be started again.
func (a *App) Close() {
	a.mu.Lock()
	cancel := a.cancel
	unsubs := a.unsubs
	a.unsubs = nil
	a.closed = true
	a.mu.Unlock()

	a.engine.Stop()
	a.monitor.Stop()
	for _, fn := range unsubs {
		fn()
	}
	if cancel != nil {
		cancel()
	}
}

func (a *App) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.life
}

func badge(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%d pending", n)
}

// banner derives the banner from st. Caller holds stateMu or is the constructor.
func (a *App) banner() string {
	switch {
	case !a.st.Online:
		return BannerOffline
	case a.stale:
		return BannerUnreachable
	}
	return ""
}

// update applies fn to the UI state and publishes the result.
// Subscribers must not call App methods synchronously.
func (a *App) update(fn func(*State)) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	fn(&a.st)
	a.st.Banner = a.banner()
	a.state.Set(a.st.clone())
}

func (a *App) onQueueChanged(ops []queue.Operation) {
	a.update(func(s *State) {
		s.Pending = len(ops)
		s.PendingBadge = badge(len(ops))
	})
}

func (a *App) onConnectivity(online bool) {
	a.update(func(s *State) { s.Online = online })
}

// onSyncCompleted runs on the engine's goroutine right after a pass. Every create the pass
// sent has resolved by now, so tombstones of unsynced offers are only kept while a create
// for them is still queued or being sent directly.
func (a *App) onSyncCompleted(signaled bool) {
	if !signaled {
		return
	}
	ctx := a.context()
	if err := a.reconciler.PruneTempTombstones(ctx, a.createPending); err != nil {
		a.logger.Error("failed to prune tombstones", "error", err)
	}
	a.Refresh(ctx)
}

func (a *App) onDropped(d syncengine.DroppedOperation) {
	ctx := a.context()
	op := d.Operation
	if op.Entity == queue.EntityActivityOffer {
		switch op.Kind {
		case queue.KindDelete:
			var p model.DeleteOfferPayload
			if op.Decode(&p) == nil {
				if err := a.reconciler.ClearTombstone(ctx, p.ID); err != nil {
					a.logger.Error("failed to restore offer after dropped delete", "offer_id", p.ID, "error", err)
				}
			}
		case queue.KindCreate:
			var p model.CreateOfferPayload
			if op.Decode(&p) == nil && p.TempID != "" {
				if err := a.reconciler.DiscardLocal(ctx, p.TempID); err != nil {
					a.logger.Error("failed to discard unsynced offer", "temp_id", p.TempID, "error", err)
				}
			}
		}
	}
	msg := fmt.Sprintf("Could not sync %s of %s, change discarded (%s)", op.Kind, op.Entity, d.Reason)
	a.update(func(s *State) { s.Warnings = append(s.Warnings, msg) })
}

// State returns the current UI state.
func (a *App) State() State {
	return a.state.Get().clone()
}

// SubscribeState registers fn for UI state changes; the current state is delivered first.
func (a *App) SubscribeState(fn func(State)) (cancel func()) {
	return a.state.Subscribe(func(s State) { fn(s.clone()) })
}

// DismissWarnings clears the dropped-operation warnings.
func (a *App) DismissWarnings() {
	a.update(func(s *State) { s.Warnings = nil })
}

// Offers returns the reconciled list without touching the network.
func (a *App) Offers() []model.ActivityOffer {
	return a.reconciler.View()
}

// SubscribeOffers registers fn for changes of the reconciled list.
func (a *App) SubscribeOffers(fn func([]model.ActivityOffer)) (cancel func()) {
	return a.reconciler.Subscribe(fn)
}

// Queue exposes the mutation queue for inspection.
func (a *App) Queue() *queue.Queue { return a.queue }

// Engine exposes the sync engine.
func (a *App) Engine() *syncengine.Engine { return a.engine }

// Monitor exposes the connectivity monitor.
func (a *App) Monitor() *connectivity.Monitor { return a.monitor }

// Refresh reloads the offer list from the remote service when online, falling back to the
// cached list otherwise.
func (a *App) Refresh(ctx context.Context) []model.ActivityOffer {
	userID, ok := a.session.UserID()
	online := a.monitor.Current() && ok
	offers, fresh := a.reconciler.Load(ctx, a.service, userID, online)
	a.update(func(*State) { a.stale = online && !fresh })
	return offers
}

// SyncNow drains the queue and waits for the pass. ok is false when a pass was already running.
func (a *App) SyncNow(ctx context.Context) (res syncengine.Result, ok bool) {
	return a.engine.Drain(ctx)
}

// Wait blocks until a background sync pass, if any, has finished.
func (a *App) Wait() {
	a.engine.Wait()
}

func (a *App) user() (string, error) {
	userID, ok := a.session.UserID()
	if !ok || userID == "" {
		return "", ErrNoSession
	}
	return userID, nil
}

// nextTempID returns a temporary id that is unique on this device even for creates within
// the same millisecond.
func (a *App) nextTempID() (string, time.Time) {
	a.tempMu.Lock()
	defer a.tempMu.Unlock()
	t := a.now().Truncate(time.Millisecond)
	if !t.After(a.lastTemp) {
		t = a.lastTemp.Add(time.Millisecond)
	}
	a.lastTemp = t
	return model.NewTempID(t), t
}

func (a *App) beginCreate(tempID string) (done func()) {
	a.tempMu.Lock()
	a.creating[tempID] = struct{}{}
	a.tempMu.Unlock()
	return func() {
		a.tempMu.Lock()
		delete(a.creating, tempID)
		a.tempMu.Unlock()
	}
}

// createPending reports whether a create for tempID is being sent directly or still queued.
func (a *App) createPending(tempID string) bool {
	a.tempMu.Lock()
	_, direct := a.creating[tempID]
	a.tempMu.Unlock()
	if direct {
		return true
	}
	for _, op := range a.queue.Snapshot() {
		if op.Kind == queue.KindCreate && referencedID(op) == tempID {
			return true
		}
	}
	return false
}

// resolveCreated moves a confirmed create into the view. When the user deleted the offer
// while its create was in flight, the server record is deleted instead.
func (a *App) resolveCreated(ctx context.Context, tempID string, offer model.ActivityOffer) error {
	deleted, err := a.reconciler.ResolveTempID(ctx, tempID, offer)
	if err != nil || !deleted {
		return err
	}
	a.logger.Info("offer deleted before its create was confirmed", "temp_id", tempID, "server_id", offer.ID)

	userID := offer.UserID
	if userID == "" {
		if userID, err = a.user(); err != nil {
			return err
		}
	}
	err = a.service.DeleteOffer(ctx, userID, offer.ID)
	switch {
	case err == nil, errors.Is(err, remote.ErrNotFound):
		return nil
	case remote.IsTransient(err):
		id, qErr := a.queue.Enqueue(ctx, queue.KindDelete, queue.EntityActivityOffer, model.DeleteOfferPayload{ID: offer.ID})
		if qErr != nil {
			return fmt.Errorf("failed to queue delete of %s: %w", offer.ID, qErr)
		}
		a.logger.Debug("change queued", "id", id, "kind", queue.KindDelete, "entity", queue.EntityActivityOffer)
		return nil
	default:
		if cErr := a.reconciler.ClearTombstone(ctx, offer.ID); cErr != nil {
			a.logger.Error("failed to restore offer", "offer_id", offer.ID, "error", cErr)
		}
		msg := fmt.Sprintf("Could not delete offer %s (%v)", offer.ID, err)
		a.update(func(s *State) { s.Warnings = append(s.Warnings, msg) })
		return err
	}
}

// write calls the service directly when the device is online and nothing is queued ahead
// of the change. Otherwise, or when the direct call fails transiently, the change is queued.
func (a *App) write(ctx context.Context, kind queue.Kind, entity queue.Entity, payload any, call func(context.Context) error) (queued bool, err error) {
	if a.monitor.Current() && a.queue.Len() == 0 {
		err := call(ctx)
		if err == nil {
			return false, nil
		}
		if !remote.IsTransient(err) {
			return false, err
		}
		a.logger.Warn("direct write failed, queueing", "kind", kind, "entity", entity, "error", err)
	}

	id, err := a.queue.Enqueue(ctx, kind, entity, payload)
	if err != nil {
		return false, fmt.Errorf("failed to queue %s %s: %w", kind, entity, err)
	}
	a.logger.Debug("change queued", "id", id, "kind", kind, "entity", entity)
	if a.monitor.Current() {
		a.mu.Lock()
		running, life := a.started && !a.closed, a.life
		a.mu.Unlock()
		if running {
			a.engine.Trigger(life)
		}
	}
	return true, nil
}
