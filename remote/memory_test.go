package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markobbzbl/sportbuddy-mobile-1/model"
)

func fields(sport string) model.OfferFields {
	return model.OfferFields{SportType: sport, Location: "Park", DateTime: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func TestMemory_OfferLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	m.SetClock(func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) })

	first, err := m.CreateOffer(ctx, "u1", fields("Tennis"))
	require.NoError(t, err)
	second, err := m.CreateOffer(ctx, "u2", fields("Yoga"))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	assert.False(t, model.IsTempID(first.ID))

	list, err := m.ListOffers(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")

	updated, err := m.UpdateOffer(ctx, "u1", first.ID, fields("Squash"))
	require.NoError(t, err)
	assert.Equal(t, "Squash", updated.SportType)

	_, err = m.UpdateOffer(ctx, "u2", first.ID, fields("Golf"))
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = m.UpdateOffer(ctx, "u1", "missing", fields("Golf"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.CreateOffer(ctx, "u1", model.OfferFields{})
	assert.ErrorIs(t, err, ErrInvalid)

	require.NoError(t, m.DeleteOffer(ctx, "u1", first.ID))
	assert.ErrorIs(t, m.DeleteOffer(ctx, "u1", first.ID), ErrNotFound)
}

func TestMemory_ParticipationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	offer, err := m.CreateOffer(ctx, "owner", fields("Run"))
	require.NoError(t, err)

	require.NoError(t, m.JoinOffer(ctx, "u1", offer.ID))
	require.NoError(t, m.JoinOffer(ctx, "u1", offer.ID))
	require.NoError(t, m.JoinOffer(ctx, "u2", offer.ID))

	list, err := m.ListOffers(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].ParticipantCount)
	assert.True(t, list[0].IsParticipating)

	require.NoError(t, m.LeaveOffer(ctx, "u1", offer.ID))
	require.NoError(t, m.LeaveOffer(ctx, "u1", offer.ID))
	list, err = m.ListOffers(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, list[0].ParticipantCount)
	assert.False(t, list[0].IsParticipating)

	assert.ErrorIs(t, m.JoinOffer(ctx, "u1", "missing"), ErrNotFound)
}

func TestMemory_ProfileUpsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetProfile(ctx, "u1")
	require.ErrorIs(t, err, ErrNotFound)

	name := "Grace"
	p, err := m.UpdateProfile(ctx, "u1", model.ProfileUpdate{FirstName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Grace", p.FirstName)

	offer, err := m.CreateOffer(ctx, "u1", fields("Climb"))
	require.NoError(t, err)
	require.NotNil(t, offer.Profile)
	assert.Equal(t, "Grace", offer.Profile.FirstName)
}

func TestMemory_HookFailsCallsAndRecordsThem(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.FailAll(ErrUnavailable)

	_, err := m.CreateOffer(ctx, "u1", fields("Tennis"))
	require.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsTransient(err))

	m.FailAll(nil)
	list, err := m.ListOffers(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list, "failed call must not change state")

	boom := errors.New("boom")
	m.SetHook(func(_ context.Context, method string) error {
		if method == "JoinOffer" {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, m.JoinOffer(ctx, "u1", "x"), boom)
	assert.Equal(t, []string{"CreateOffer", "ListOffers", "JoinOffer"}, m.Calls())
}
