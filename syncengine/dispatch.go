// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/markobbzbl/sportbuddy-mobile-1/model"
	"github.com/markobbzbl/sportbuddy-mobile-1/queue"
)

var errUnsupported = errors.New("unsupported operation")

// dispatch performs the remote call for op. For offer creates it returns the stored offer.
func (e *Engine) dispatch(ctx context.Context, p *pass, op queue.Operation) (*model.ActivityOffer, error) {
	userID, ok := e.identity.UserID()
	if !ok || userID == "" {
		return nil, errNotSignedIn
	}

	switch op.Entity {
	case queue.EntityActivityOffer:
		return e.dispatchOffer(ctx, p, userID, op)

	case queue.EntityProfile:
		// a queued profile create is replayed as an update; the service upserts
		if op.Kind != queue.KindCreate && op.Kind != queue.KindUpdate {
			break
		}
		var payload model.ProfilePayload
		if err := op.Decode(&payload); err != nil {
			return nil, err
		}
		_, err := e.service.UpdateProfile(ctx, userID, payload.ProfileUpdate)
		return nil, err

	case queue.EntityParticipation:
		var payload model.ParticipationPayload
		if err := op.Decode(&payload); err != nil {
			return nil, err
		}
		offerID := p.rewrite(payload.OfferID)
		switch op.Kind {
		case queue.KindCreate:
			return nil, e.service.JoinOffer(ctx, userID, offerID)
		case queue.KindDelete:
			return nil, e.service.LeaveOffer(ctx, userID, offerID)
		}
	}
	return nil, fmt.Errorf("%w: %s %s", errUnsupported, op.Kind, op.Entity)
}

func (e *Engine) dispatchOffer(ctx context.Context, p *pass, userID string, op queue.Operation) (*model.ActivityOffer, error) {
	switch op.Kind {
	case queue.KindCreate:
		var payload model.CreateOfferPayload
		if err := op.Decode(&payload); err != nil {
			return nil, err
		}
		offer, err := e.service.CreateOffer(ctx, userID, payload.Offer)
		if err != nil {
			return nil, err
		}
		return &offer, nil

	case queue.KindUpdate:
		var payload model.UpdateOfferPayload
		if err := op.Decode(&payload); err != nil {
			return nil, err
		}
		_, err := e.service.UpdateOffer(ctx, userID, p.rewrite(payload.ID), payload.Updates)
		return nil, err

	case queue.KindDelete:
		var payload model.DeleteOfferPayload
		if err := op.Decode(&payload); err != nil {
			return nil, err
		}
		return nil, e.service.DeleteOffer(ctx, userID, p.rewrite(payload.ID))
	}
	return nil, fmt.Errorf("%w: %s %s", errUnsupported, op.Kind, op.Entity)
}
