// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/markobbzbl/sportbuddy-mobile-1/model"
	"github.com/markobbzbl/sportbuddy-mobile-1/queue"
	"github.com/markobbzbl/sportbuddy-mobile-1/remote"
)

// CreateOffer publishes a new offer. The offer shows up in the list immediately under a
// temporary id; the returned record carries the server id when the direct write succeeded.
func (a *App) CreateOffer(ctx context.Context, fields model.OfferFields) (model.ActivityOffer, error) {
	userID, err := a.user()
	if err != nil {
		return model.ActivityOffer{}, err
	}
	if err := fields.Validate(); err != nil {
		return model.ActivityOffer{}, fmt.Errorf("%w: %v", remote.ErrInvalid, err)
	}

	tempID, at := a.nextTempID()
	local := model.ActivityOffer{
		ID:          tempID,
		UserID:      userID,
		OfferFields: fields,
		CreatedAt:   at,
		UpdatedAt:   at,
		State:       model.SyncPending,
	}
	if p, ok := a.reconciler.CachedProfile(ctx); ok {
		local.Profile = &p
	}
	if err := a.reconciler.AddLocal(ctx, local); err != nil {
		return model.ActivityOffer{}, err
	}

	done := a.beginCreate(tempID)
	defer done()

	var created model.ActivityOffer
	payload := model.CreateOfferPayload{TempID: tempID, Offer: fields}
	queued, err := a.write(ctx, queue.KindCreate, queue.EntityActivityOffer, payload, func(ctx context.Context) error {
		var err error
		created, err = a.service.CreateOffer(ctx, userID, fields)
		return err
	})
	if err != nil {
		if dErr := a.reconciler.DiscardLocal(ctx, tempID); dErr != nil {
			a.logger.Error("failed to discard rejected offer", "temp_id", tempID, "error", dErr)
		}
		return model.ActivityOffer{}, err
	}
	if queued {
		return local, nil
	}

	if err := a.resolveCreated(ctx, tempID, created); err != nil {
		a.logger.Error("failed to replace local offer", "temp_id", tempID, "server_id", created.ID, "error", err)
	}
	created.State = model.SyncConfirmed
	return created, nil
}

// UpdateOffer edits an offer. Edits to an offer still waiting for its create are queued
// behind it.
func (a *App) UpdateOffer(ctx context.Context, offerID string, fields model.OfferFields) error {
	userID, err := a.user()
	if err != nil {
		return err
	}
	if err := fields.Validate(); err != nil {
		return fmt.Errorf("%w: %v", remote.ErrInvalid, err)
	}
	if err := a.reconciler.ApplyLocalUpdate(ctx, offerID, fields); err != nil {
		return err
	}

	payload := model.UpdateOfferPayload{ID: offerID, Updates: fields}
	queued, err := a.write(ctx, queue.KindUpdate, queue.EntityActivityOffer, payload, func(ctx context.Context) error {
		_, err := a.service.UpdateOffer(ctx, userID, offerID, fields)
		return err
	})
	if !queued {
		a.Refresh(ctx)
	}
	return err
}

// DeleteOffer removes an offer from the list at once. For an offer that never reached the
// server, the queued changes for it are discarded instead of being replayed; if its create
// is already being sent, the server record is deleted as soon as the create resolves.
func (a *App) DeleteOffer(ctx context.Context, offerID string) error {
	userID, err := a.user()
	if err != nil {
		return err
	}

	if model.IsTempID(offerID) {
		n, err := a.discardQueued(ctx, offerID)
		if err != nil {
			return err
		}
		a.logger.Debug("discarded unsynced offer", "temp_id", offerID, "queued_changes", n)
		return a.reconciler.Tombstone(ctx, offerID)
	}

	if err := a.reconciler.Tombstone(ctx, offerID); err != nil {
		return err
	}
	payload := model.DeleteOfferPayload{ID: offerID}
	_, err = a.write(ctx, queue.KindDelete, queue.EntityActivityOffer, payload, func(ctx context.Context) error {
		return a.service.DeleteOffer(ctx, userID, offerID)
	})
	switch {
	case err == nil, errors.Is(err, remote.ErrNotFound):
		return nil
	default:
		if cErr := a.reconciler.ClearTombstone(ctx, offerID); cErr != nil {
			a.logger.Error("failed to restore offer", "offer_id", offerID, "error", cErr)
		}
		a.Refresh(ctx)
		return err
	}
}

// discardQueued removes every queued operation that creates or references tempID.
func (a *App) discardQueued(ctx context.Context, tempID string) (int, error) {
	removed := 0
	for _, op := range a.queue.Snapshot() {
		if referencedID(op) != tempID {
			continue
		}
		if err := a.queue.Remove(ctx, op.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// referencedID returns the offer id op creates or points at.
func referencedID(op queue.Operation) string {
	switch {
	case op.Entity == queue.EntityActivityOffer && op.Kind == queue.KindCreate:
		var p model.CreateOfferPayload
		if op.Decode(&p) == nil {
			return p.TempID
		}
	case op.Entity == queue.EntityActivityOffer && op.Kind == queue.KindUpdate:
		var p model.UpdateOfferPayload
		if op.Decode(&p) == nil {
			return p.ReferencedID()
		}
	case op.Entity == queue.EntityActivityOffer && op.Kind == queue.KindDelete:
		var p model.DeleteOfferPayload
		if op.Decode(&p) == nil {
			return p.ReferencedID()
		}
	case op.Entity == queue.EntityParticipation:
		var p model.ParticipationPayload
		if op.Decode(&p) == nil {
			return p.ReferencedID()
		}
	}
	return ""
}

// JoinOffer adds the signed-in user to an offer's participants.
func (a *App) JoinOffer(ctx context.Context, offerID string) error {
	return a.participate(ctx, offerID, true)
}

// LeaveOffer removes the signed-in user from an offer's participants.
func (a *App) LeaveOffer(ctx context.Context, offerID string) error {
	return a.participate(ctx, offerID, false)
}

func (a *App) participate(ctx context.Context, offerID string, join bool) error {
	userID, err := a.user()
	if err != nil {
		return err
	}
	if err := a.reconciler.SetParticipation(ctx, offerID, join); err != nil {
		return err
	}

	kind := queue.KindCreate
	call := a.service.JoinOffer
	if !join {
		kind = queue.KindDelete
		call = a.service.LeaveOffer
	}
	payload := model.ParticipationPayload{OfferID: offerID, UserID: userID}
	queued, err := a.write(ctx, kind, queue.EntityParticipation, payload, func(ctx context.Context) error {
		return call(ctx, userID, offerID)
	})
	if !queued {
		a.Refresh(ctx)
	}
	return err
}

// Profile returns the user's profile, from the service when reachable and from the local
// cache otherwise.
func (a *App) Profile(ctx context.Context) (model.Profile, error) {
	userID, err := a.user()
	if err != nil {
		return model.Profile{}, err
	}
	if a.monitor.Current() {
		p, err := a.service.GetProfile(ctx, userID)
		if err == nil {
			if cErr := a.reconciler.CacheProfile(ctx, p); cErr != nil {
				a.logger.Warn("failed to cache profile", "error", cErr)
			}
			return p, nil
		}
		a.logger.Warn("failed to load profile, using cached copy", "error", err)
	}
	if p, ok := a.reconciler.CachedProfile(ctx); ok {
		return p, nil
	}
	return model.Profile{}, fmt.Errorf("%w: profile not cached", remote.ErrNotFound)
}

// UpdateProfile changes the user's profile. The cached profile reflects the change at once.
func (a *App) UpdateProfile(ctx context.Context, update model.ProfileUpdate) (model.Profile, error) {
	userID, err := a.user()
	if err != nil {
		return model.Profile{}, err
	}

	previous, cached := a.reconciler.CachedProfile(ctx)
	local := previous
	if local.ID == "" {
		local.ID = userID
	}
	update.Apply(&local)
	local.UpdatedAt = a.now()
	if err := a.reconciler.CacheProfile(ctx, local); err != nil {
		return model.Profile{}, err
	}

	var stored model.Profile
	queued, err := a.write(ctx, queue.KindUpdate, queue.EntityProfile, model.ProfilePayload{ProfileUpdate: update}, func(ctx context.Context) error {
		var err error
		stored, err = a.service.UpdateProfile(ctx, userID, update)
		return err
	})
	switch {
	case err != nil:
		if cached {
			if rErr := a.reconciler.CacheProfile(ctx, previous); rErr != nil {
				a.logger.Warn("failed to restore cached profile", "error", rErr)
			}
		}
		return model.Profile{}, err
	case queued:
		return local, nil
	}
	if err := a.reconciler.CacheProfile(ctx, stored); err != nil {
		a.logger.Warn("failed to cache profile", "error", err)
	}
	return stored, nil
}
