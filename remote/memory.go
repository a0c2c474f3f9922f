// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markobbzbl/sportbuddy-mobile-1/model"
)

// Hook runs before every Memory call with the method name. A non-nil error fails the call
// without touching state. Hooks may block to simulate a slow service.
type Hook func(ctx context.Context, method string) error

// Memory is an in-process Service. The simulator runs against it and the server package
// uses it when no database is configured.
type Memory struct {
	mu             sync.Mutex
	offers         map[string]model.ActivityOffer
	profiles       map[string]model.Profile
	participations map[string]model.Participation // keyed by offerID + "/" + userID
	calls          []string
	hook           Hook
	now            func() time.Time
	newID          func() string
}

// NewMemory creates an empty service.
func NewMemory() *Memory {
	return &Memory{
		offers:         make(map[string]model.ActivityOffer),
		profiles:       make(map[string]model.Profile),
		participations: make(map[string]model.Participation),
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
	}
}

// SetHook installs h, replacing any previous hook. nil removes it.
func (m *Memory) SetHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// SetClock overrides the time source for created_at/updated_at.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetIDGenerator overrides how ids of created offers are chosen.
func (m *Memory) SetIDGenerator(next func() string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newID = next
}

// FailAll makes every call fail with err until FailAll(nil).
func (m *Memory) FailAll(err error) {
	if err == nil {
		m.SetHook(nil)
		return
	}
	m.SetHook(func(context.Context, string) error { return err })
}

// Calls returns the methods invoked so far, in order, including failed ones.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Seed stores offer as-is, bypassing id generation.
func (m *Memory) Seed(offer model.ActivityOffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	offer.State = ""
	m.offers[offer.ID] = offer
}

func (m *Memory) enter(ctx context.Context, method string) error {
	m.mu.Lock()
	m.calls = append(m.calls, method)
	hook := m.hook
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if hook != nil {
		return hook(ctx, method)
	}
	return nil
}

func participationKey(offerID, userID string) string {
	return offerID + "/" + userID
}

// decorate fills the computed fields of offer for userID. Caller holds m.mu.
func (m *Memory) decorate(offer model.ActivityOffer, userID string) model.ActivityOffer {
	count := 0
	for _, p := range m.participations {
		if p.OfferID == offer.ID {
			count++
		}
	}
	offer.ParticipantCount = count
	_, offer.IsParticipating = m.participations[participationKey(offer.ID, userID)]
	if p, ok := m.profiles[offer.UserID]; ok {
		offer.Profile = &p
	} else {
		offer.Profile = nil
	}
	return offer
}

func (m *Memory) ListOffers(ctx context.Context, userID string) ([]model.ActivityOffer, error) {
	if err := m.enter(ctx, "ListOffers"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.ActivityOffer, 0, len(m.offers))
	for _, o := range m.offers {
		out = append(out, m.decorate(o, userID))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) CreateOffer(ctx context.Context, userID string, fields model.OfferFields) (model.ActivityOffer, error) {
	if err := m.enter(ctx, "CreateOffer"); err != nil {
		return model.ActivityOffer{}, err
	}
	if err := fields.Validate(); err != nil {
		return model.ActivityOffer{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	offer := model.ActivityOffer{
		ID:          m.newID(),
		UserID:      userID,
		OfferFields: fields,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.offers[offer.ID] = offer
	return m.decorate(offer, userID), nil
}

func (m *Memory) UpdateOffer(ctx context.Context, userID, offerID string, fields model.OfferFields) (model.ActivityOffer, error) {
	if err := m.enter(ctx, "UpdateOffer"); err != nil {
		return model.ActivityOffer{}, err
	}
	if err := fields.Validate(); err != nil {
		return model.ActivityOffer{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	offer, ok := m.offers[offerID]
	if !ok {
		return model.ActivityOffer{}, fmt.Errorf("offer %s: %w", offerID, ErrNotFound)
	}
	if offer.UserID != userID {
		return model.ActivityOffer{}, fmt.Errorf("offer %s: %w", offerID, ErrForbidden)
	}
	offer.OfferFields = fields
	offer.UpdatedAt = m.now()
	m.offers[offerID] = offer
	return m.decorate(offer, userID), nil
}

func (m *Memory) DeleteOffer(ctx context.Context, userID, offerID string) error {
	if err := m.enter(ctx, "DeleteOffer"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	offer, ok := m.offers[offerID]
	if !ok {
		return fmt.Errorf("offer %s: %w", offerID, ErrNotFound)
	}
	if offer.UserID != userID {
		return fmt.Errorf("offer %s: %w", offerID, ErrForbidden)
	}
	delete(m.offers, offerID)
	for k, p := range m.participations {
		if p.OfferID == offerID {
			delete(m.participations, k)
		}
	}
	return nil
}

func (m *Memory) GetProfile(ctx context.Context, userID string) (model.Profile, error) {
	if err := m.enter(ctx, "GetProfile"); err != nil {
		return model.Profile{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		return model.Profile{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return p, nil
}

func (m *Memory) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (model.Profile, error) {
	if err := m.enter(ctx, "UpdateProfile"); err != nil {
		return model.Profile{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	p, ok := m.profiles[userID]
	if !ok {
		p = model.Profile{ID: userID, CreatedAt: now}
	}
	update.Apply(&p)
	p.UpdatedAt = now
	m.profiles[userID] = p
	return p, nil
}

func (m *Memory) JoinOffer(ctx context.Context, userID, offerID string) error {
	if err := m.enter(ctx, "JoinOffer"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.offers[offerID]; !ok {
		return fmt.Errorf("offer %s: %w", offerID, ErrNotFound)
	}
	key := participationKey(offerID, userID)
	if _, ok := m.participations[key]; ok {
		return nil
	}
	m.participations[key] = model.Participation{
		ID:        uuid.New().String(),
		OfferID:   offerID,
		UserID:    userID,
		CreatedAt: m.now(),
	}
	return nil
}

func (m *Memory) LeaveOffer(ctx context.Context, userID, offerID string) error {
	if err := m.enter(ctx, "LeaveOffer"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.participations, participationKey(offerID, userID))
	return nil
}
