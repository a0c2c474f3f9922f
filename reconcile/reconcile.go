// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package reconcile produces the list of activity offers the user sees by merging the
// remote service's answer with records that exist only on the device.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/markobbzbl/sportbuddy-mobile-1/internal/broadcast"
	"github.com/markobbzbl/sportbuddy-mobile-1/kvstore"
	"github.com/markobbzbl/sportbuddy-mobile-1/model"
	"github.com/markobbzbl/sportbuddy-mobile-1/remote"
)

// Storage keys.
const (
	ViewKey       = "offline_training_offers"
	LocalKey      = "offline_created_offers"
	TombstonesKey = "offline_tombstones"
	ProfileKey    = "offline_profile"
)

// ErrUnknownOffer is returned for ids that are not part of the current view.
var ErrUnknownOffer = errors.New("offer not found in local view")

// Reconciler owns the reconciled view and the device-only records feeding it.
// Subscribers must not call mutating methods synchronously.
type Reconciler struct {
	store  kvstore.Store
	logger *slog.Logger

	mu         sync.Mutex
	local      []model.ActivityOffer // created on the device, keyed by temp id
	tombstones map[string]struct{}
	view       *broadcast.Value[[]model.ActivityOffer]
}

// New loads the persisted view, local-only records and tombstones. Unreadable values are
// treated as empty.
func New(ctx context.Context, store kvstore.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{store: store, logger: logger, tombstones: make(map[string]struct{})}

	var cached []model.ActivityOffer
	if !r.read(ctx, ViewKey, &cached) {
		cached = nil
	}
	if !r.read(ctx, LocalKey, &r.local) {
		r.local = nil
	}
	var tombs []string
	if !r.read(ctx, TombstonesKey, &tombs) {
		tombs = nil
	}
	for _, id := range tombs {
		r.tombstones[id] = struct{}{}
	}

	r.view = broadcast.NewValue(r.merge(confirmedOnly(cached)), nil)
	return r
}

func (r *Reconciler) read(ctx context.Context, key string, dest any) bool {
	if _, err := r.store.Get(ctx, key, dest); err != nil {
		r.logger.Warn("cached value unreadable, starting empty", "key", key, "error", err)
		return false
	}
	return true
}

func (r *Reconciler) write(ctx context.Context, key string, value any) error {
	if err := r.store.Set(ctx, key, value); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}

func confirmedOnly(offers []model.ActivityOffer) []model.ActivityOffer {
	out := make([]model.ActivityOffer, 0, len(offers))
	for _, o := range offers {
		if !model.IsTempID(o.ID) {
			out = append(out, o)
		}
	}
	return out
}

func sortNewestFirst(offers []model.ActivityOffer) {
	slices.SortStableFunc(offers, func(a, b model.ActivityOffer) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// merge combines base (server records) with local-only records. Server records win on id
// collisions and tombstoned ids are hidden. Caller holds r.mu or is the constructor.
func (r *Reconciler) merge(base []model.ActivityOffer) []model.ActivityOffer {
	seen := make(map[string]struct{}, len(base))
	out := make([]model.ActivityOffer, 0, len(base)+len(r.local))
	for _, o := range base {
		if _, dup := seen[o.ID]; dup {
			continue
		}
		seen[o.ID] = struct{}{}
		if _, dead := r.tombstones[o.ID]; dead {
			continue
		}
		if o.State == "" {
			o.State = model.SyncConfirmed
		}
		out = append(out, o)
	}
	for _, o := range r.local {
		if _, ok := seen[o.ID]; ok {
			continue
		}
		if _, dead := r.tombstones[o.ID]; dead {
			continue
		}
		seen[o.ID] = struct{}{}
		o.State = model.SyncPending
		out = append(out, o)
	}
	sortNewestFirst(out)
	return out
}

// publish stores view as the current one and persists it. Caller holds r.mu.
func (r *Reconciler) publish(ctx context.Context, view []model.ActivityOffer) error {
	r.view.Set(view)
	return r.write(ctx, ViewKey, view)
}

// Load refreshes the view. When online and lister answers, its list is authoritative; in
// every other case the cached view is used. fresh reports which one happened. Errors are
// logged, never returned: the user always gets a list.
func (r *Reconciler) Load(ctx context.Context, lister remote.Lister, userID string, online bool) (offers []model.ActivityOffer, fresh bool) {
	var remoteList []model.ActivityOffer
	if online && lister != nil {
		list, err := lister.ListOffers(ctx, userID)
		if err != nil {
			r.logger.Warn("failed to load offers from remote, using cached list", "error", err)
		} else {
			remoteList, fresh = list, true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var view []model.ActivityOffer
	if fresh {
		for i := range remoteList {
			remoteList[i].State = ""
		}
		r.pruneTombstones(ctx, remoteList)
		view = r.merge(remoteList)
	} else {
		view = r.merge(confirmedOnly(r.view.Get()))
	}
	if err := r.publish(ctx, view); err != nil {
		r.logger.Error("failed to cache offers", "error", err)
	}
	return slices.Clone(view), fresh
}

// pruneTombstones forgets tombstones for ids the server no longer has. Tombstones of
// temporary ids are left to ResolveTempID and PruneTempTombstones. Caller holds r.mu.
func (r *Reconciler) pruneTombstones(ctx context.Context, remoteList []model.ActivityOffer) {
	present := make(map[string]struct{}, len(remoteList))
	for _, o := range remoteList {
		present[o.ID] = struct{}{}
	}
	changed := false
	for id := range r.tombstones {
		if model.IsTempID(id) {
			continue
		}
		if _, ok := present[id]; !ok {
			delete(r.tombstones, id)
			changed = true
		}
	}
	if changed {
		if err := r.writeTombstones(ctx); err != nil {
			r.logger.Error("failed to persist tombstones", "error", err)
		}
	}
}

func (r *Reconciler) writeTombstones(ctx context.Context) error {
	ids := make([]string, 0, len(r.tombstones))
	for id := range r.tombstones {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return r.write(ctx, TombstonesKey, ids)
}

// View returns the current reconciled list.
func (r *Reconciler) View() []model.ActivityOffer {
	return slices.Clone(r.view.Get())
}

// Subscribe registers fn for view changes; the current view is delivered immediately.
func (r *Reconciler) Subscribe(fn func([]model.ActivityOffer)) (cancel func()) {
	return r.view.Subscribe(func(v []model.ActivityOffer) { fn(slices.Clone(v)) })
}

// LocalOnly returns the records created on the device and not yet confirmed by the server.
func (r *Reconciler) LocalOnly() []model.ActivityOffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.local)
}

// AddLocal records an optimistic create. offer.ID must be a temporary id.
func (r *Reconciler) AddLocal(ctx context.Context, offer model.ActivityOffer) error {
	if !model.IsTempID(offer.ID) {
		return fmt.Errorf("local offer must carry a temporary id, got %q", offer.ID)
	}
	offer.State = model.SyncPending

	r.mu.Lock()
	defer r.mu.Unlock()

	r.local = append(slices.DeleteFunc(r.local, func(o model.ActivityOffer) bool { return o.ID == offer.ID }), offer)
	if err := r.write(ctx, LocalKey, r.local); err != nil {
		return err
	}
	return r.publish(ctx, r.merge(confirmedOnly(r.view.Get())))
}

// ApplyLocalUpdate shows edited fields before the server has confirmed them. A later
// successful Load replaces the edit with the server's record.
func (r *Reconciler) ApplyLocalUpdate(ctx context.Context, offerID string, fields model.OfferFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if model.IsTempID(offerID) {
		i := slices.IndexFunc(r.local, func(o model.ActivityOffer) bool { return o.ID == offerID })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownOffer, offerID)
		}
		r.local[i].OfferFields = fields
		if err := r.write(ctx, LocalKey, r.local); err != nil {
			return err
		}
		return r.publish(ctx, r.merge(confirmedOnly(r.view.Get())))
	}

	return r.editServerRecord(ctx, offerID, func(o *model.ActivityOffer) {
		o.OfferFields = fields
	})
}

// SetParticipation shows a join or leave before the server has confirmed it.
func (r *Reconciler) SetParticipation(ctx context.Context, offerID string, joined bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if model.IsTempID(offerID) {
		i := slices.IndexFunc(r.local, func(o model.ActivityOffer) bool { return o.ID == offerID })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownOffer, offerID)
		}
		setParticipation(&r.local[i], joined)
		if err := r.write(ctx, LocalKey, r.local); err != nil {
			return err
		}
		return r.publish(ctx, r.merge(confirmedOnly(r.view.Get())))
	}

	return r.editServerRecord(ctx, offerID, func(o *model.ActivityOffer) {
		setParticipation(o, joined)
	})
}

func setParticipation(o *model.ActivityOffer, joined bool) {
	if o.IsParticipating == joined {
		return
	}
	o.IsParticipating = joined
	if joined {
		o.ParticipantCount++
	} else if o.ParticipantCount > 0 {
		o.ParticipantCount--
	}
}

// editServerRecord applies fn to a copy of the view entry for offerID and marks it pending.
// Caller holds r.mu.
func (r *Reconciler) editServerRecord(ctx context.Context, offerID string, fn func(*model.ActivityOffer)) error {
	view := slices.Clone(r.view.Get())
	i := slices.IndexFunc(view, func(o model.ActivityOffer) bool { return o.ID == offerID })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownOffer, offerID)
	}
	fn(&view[i])
	view[i].State = model.SyncPending
	return r.publish(ctx, view)
}

// Tombstone hides offerID from every future view until the server stops returning it or
// ClearTombstone is called. A local-only record is discarded, and its temporary id stays
// tombstoned so that a create already on its way to the server is deleted once it resolves.
func (r *Reconciler) Tombstone(ctx context.Context, offerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if model.IsTempID(offerID) {
		if err := r.dropLocal(ctx, offerID); err != nil {
			return err
		}
	}
	r.tombstones[offerID] = struct{}{}
	if err := r.writeTombstones(ctx); err != nil {
		return err
	}
	return r.publish(ctx, r.merge(confirmedOnly(r.view.Get())))
}

// DiscardLocal forgets the local-only record tempID without tombstoning it. Used when its
// create has been rejected.
func (r *Reconciler) DiscardLocal(ctx context.Context, tempID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.dropLocal(ctx, tempID); err != nil {
		return err
	}
	if _, ok := r.tombstones[tempID]; ok {
		delete(r.tombstones, tempID)
		if err := r.writeTombstones(ctx); err != nil {
			return err
		}
	}
	return r.publish(ctx, r.merge(confirmedOnly(r.view.Get())))
}

// dropLocal removes tempID from the local-only records. Caller holds r.mu.
func (r *Reconciler) dropLocal(ctx context.Context, tempID string) error {
	n := len(r.local)
	r.local = slices.DeleteFunc(r.local, func(o model.ActivityOffer) bool { return o.ID == tempID })
	if len(r.local) == n {
		return nil
	}
	return r.write(ctx, LocalKey, r.local)
}

// PruneTempTombstones forgets tombstoned temporary ids for which keep reports false. Call it
// once no create for them can still be in flight.
func (r *Reconciler) PruneTempTombstones(ctx context.Context, keep func(tempID string) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for id := range r.tombstones {
		if model.IsTempID(id) && !keep(id) {
			delete(r.tombstones, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.writeTombstones(ctx)
}

// ClearTombstone makes offerID visible again on the next Load.
func (r *Reconciler) ClearTombstone(ctx context.Context, offerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tombstones[offerID]; !ok {
		return nil
	}
	delete(r.tombstones, offerID)
	return r.writeTombstones(ctx)
}

// Tombstoned reports whether offerID is hidden.
func (r *Reconciler) Tombstoned(offerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tombstones[offerID]
	return ok
}

// ResolveTempID replaces the local-only record tempID with the server's record. The view
// keeps the local payload fields until the next Load brings the authoritative copy.
// deleted is true when tempID was tombstoned while its create was in flight: the server
// record is then tombstoned instead of shown and the caller owes the remote delete.
func (r *Reconciler) ResolveTempID(ctx context.Context, tempID string, offer model.ActivityOffer) (deleted bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dead := r.tombstones[tempID]; dead {
		if err := r.dropLocal(ctx, tempID); err != nil {
			return true, err
		}
		delete(r.tombstones, tempID)
		r.tombstones[offer.ID] = struct{}{}
		if err := r.writeTombstones(ctx); err != nil {
			return true, err
		}
		return true, r.publish(ctx, r.merge(confirmedOnly(r.view.Get())))
	}

	i := slices.IndexFunc(r.local, func(o model.ActivityOffer) bool { return o.ID == tempID })
	if i >= 0 {
		local := r.local[i]
		if offer.Profile == nil {
			offer.Profile = local.Profile
		}
		if offer.CreatedAt.IsZero() {
			offer.CreatedAt = local.CreatedAt
		}
		r.local = slices.Delete(r.local, i, i+1)
		if err := r.write(ctx, LocalKey, r.local); err != nil {
			return false, err
		}
	}

	offer.State = model.SyncConfirmed
	base := slices.DeleteFunc(confirmedOnly(r.view.Get()), func(o model.ActivityOffer) bool { return o.ID == offer.ID })
	base = append(base, offer)
	return false, r.publish(ctx, r.merge(base))
}

// CacheProfile stores the user's profile for offline reads.
func (r *Reconciler) CacheProfile(ctx context.Context, profile model.Profile) error {
	return r.write(ctx, ProfileKey, profile)
}

// CachedProfile returns the profile stored by CacheProfile.
func (r *Reconciler) CachedProfile(ctx context.Context) (model.Profile, bool) {
	var p model.Profile
	found, err := r.store.Get(ctx, ProfileKey, &p)
	if err != nil {
		r.logger.Warn("cached profile unreadable", "error", err)
		return model.Profile{}, false
	}
	return p, found
}
