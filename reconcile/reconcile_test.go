package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markobbzbl/sportbuddy-mobile-1/kvstore"
	"github.com/markobbzbl/sportbuddy-mobile-1/model"
)

var base = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

type staticLister struct {
	offers []model.ActivityOffer
	err    error
}

func (s staticLister) ListOffers(context.Context, string) ([]model.ActivityOffer, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.ActivityOffer, len(s.offers))
	copy(out, s.offers)
	return out, nil
}

func offer(id string, minutes int, sport string) model.ActivityOffer {
	return model.ActivityOffer{
		ID:          id,
		UserID:      "u1",
		OfferFields: model.OfferFields{SportType: sport, Location: "Park", DateTime: base.Add(24 * time.Hour)},
		CreatedAt:   base.Add(time.Duration(minutes) * time.Minute),
	}
}

func ids(offers []model.ActivityOffer) []string {
	out := make([]string, len(offers))
	for i, o := range offers {
		out[i] = o.ID
	}
	return out
}

func TestLoad_MergesRemoteWithLocalOnly(t *testing.T) {
	ctx := context.Background()
	r := New(ctx, kvstore.NewMemory(), nil)

	require.NoError(t, r.AddLocal(ctx, offer("temp_1", 5, "Yoga")))

	lister := staticLister{offers: []model.ActivityOffer{offer("a", 1, "Run"), offer("b", 10, "Swim")}}
	view, fresh := r.Load(ctx, lister, "u1", true)
	require.True(t, fresh)

	assert.Equal(t, []string{"b", "temp_1", "a"}, ids(view))
	assert.Equal(t, model.SyncConfirmed, view[0].State)
	assert.Equal(t, model.SyncPending, view[1].State)
	assert.Equal(t, view, r.View())
}

func TestLoad_RemoteWinsOnDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	r := New(ctx, kvstore.NewMemory(), nil)

	remoteCopy := offer("temp_1", 5, "Server")
	require.NoError(t, r.AddLocal(ctx, offer("temp_1", 5, "Local")))

	view, _ := r.Load(ctx, staticLister{offers: []model.ActivityOffer{remoteCopy, offer("a", 1, "Run"), offer("a", 1, "Dup")}}, "u1", true)
	require.Equal(t, []string{"temp_1", "a"}, ids(view))
	assert.Equal(t, "Server", view[0].SportType)
	assert.Equal(t, "Run", view[1].SportType)
}

func TestLoad_FallsBackToCacheWhenOfflineOrFailing(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	r := New(ctx, store, nil)

	_, fresh := r.Load(ctx, staticLister{offers: []model.ActivityOffer{offer("a", 1, "Run")}}, "u1", true)
	require.True(t, fresh)

	view, fresh := r.Load(ctx, staticLister{err: errors.New("timeout")}, "u1", true)
	assert.False(t, fresh)
	assert.Equal(t, []string{"a"}, ids(view))

	require.NoError(t, r.AddLocal(ctx, offer("temp_2", 3, "Yoga")))
	view, fresh = r.Load(ctx, staticLister{offers: nil}, "u1", false)
	assert.False(t, fresh)
	assert.Equal(t, []string{"temp_2", "a"}, ids(view))

	reopened := New(ctx, store, nil)
	assert.Equal(t, []string{"temp_2", "a"}, ids(reopened.View()))
	assert.Len(t, reopened.LocalOnly(), 1)
}

func TestTombstone_HidesRecordUntilServerForgetsIt(t *testing.T) {
	ctx := context.Background()
	r := New(ctx, kvstore.NewMemory(), nil)
	lister := staticLister{offers: []model.ActivityOffer{offer("a", 1, "Run"), offer("b", 2, "Swim")}}
	r.Load(ctx, lister, "u1", true)

	require.NoError(t, r.Tombstone(ctx, "a"))
	assert.Equal(t, []string{"b"}, ids(r.View()))

	view, _ := r.Load(ctx, lister, "u1", true)
	assert.Equal(t, []string{"b"}, ids(view), "server has not processed the delete yet")
	assert.True(t, r.Tombstoned("a"))

	r.Load(ctx, staticLister{offers: []model.ActivityOffer{offer("b", 2, "Swim")}}, "u1", true)
	assert.False(t, r.Tombstoned("a"))
}

func TestTombstone_LocalOnlyRecordIsDiscarded(t *testing.T) {
	ctx := context.Background()
	r := New(ctx, kvstore.NewMemory(), nil)
	require.NoError(t, r.AddLocal(ctx, offer("temp_1", 1, "Yoga")))

	require.NoError(t, r.Tombstone(ctx, "temp_1"))
	assert.Empty(t, r.View())
	assert.Empty(t, r.LocalOnly())
	assert.True(t, r.Tombstoned("temp_1"))

	r.Load(ctx, staticLister{}, "u1", true)
	assert.True(t, r.Tombstoned("temp_1"), "fresh loads never prune temporary ids")

	require.NoError(t, r.PruneTempTombstones(ctx, func(string) bool { return true }))
	assert.True(t, r.Tombstoned("temp_1"))
	require.NoError(t, r.PruneTempTombstones(ctx, func(string) bool { return false }))
	assert.False(t, r.Tombstoned("temp_1"))
}

func TestDiscardLocal(t *testing.T) {
	ctx := context.Background()
	r := New(ctx, kvstore.NewMemory(), nil)
	require.NoError(t, r.AddLocal(ctx, offer("temp_1", 1, "Yoga")))
	require.NoError(t, r.AddLocal(ctx, offer("temp_2", 2, "Run")))
	require.NoError(t, r.Tombstone(ctx, "temp_2"))

	require.NoError(t, r.DiscardLocal(ctx, "temp_1"))
	require.NoError(t, r.DiscardLocal(ctx, "temp_2"))
	assert.Empty(t, r.View())
	assert.Empty(t, r.LocalOnly())
	assert.False(t, r.Tombstoned("temp_1"))
	assert.False(t, r.Tombstoned("temp_2"))
}

func TestClearTombstone_RestoresRecordOnNextLoad(t *testing.T) {
	ctx := context.Background()
	r := New(ctx, kvstore.NewMemory(), nil)
	lister := staticLister{offers: []model.ActivityOffer{offer("a", 1, "Run")}}
	r.Load(ctx, lister, "u1", true)

	require.NoError(t, r.Tombstone(ctx, "a"))
	require.NoError(t, r.ClearTombstone(ctx, "a"))
	require.NoError(t, r.ClearTombstone(ctx, "missing"))

	view, _ := r.Load(ctx, lister, "u1", true)
	assert.Equal(t, []string{"a"}, ids(view))
}

func TestResolveTempID_ReplacesLocalRecord(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	r := New(ctx, store, nil)

	local := offer("temp_1700000000000", 5, "Tennis")
	require.NoError(t, r.AddLocal(ctx, local))

	server := local
	server.ID = "abc123"
	server.State = ""
	deleted, err := r.ResolveTempID(ctx, "temp_1700000000000", server)
	require.NoError(t, err)
	assert.False(t, deleted)

	view := r.View()
	require.Equal(t, []string{"abc123"}, ids(view))
	assert.Equal(t, local.OfferFields, view[0].OfferFields)
	assert.Equal(t, model.SyncConfirmed, view[0].State)
	assert.Empty(t, r.LocalOnly())

	var cached []model.ActivityOffer
	found, err := store.Get(ctx, ViewKey, &cached)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"abc123"}, ids(cached))
}

func TestResolveTempID_DeletedWhileInFlight(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	r := New(ctx, store, nil)
	lister := staticLister{offers: []model.ActivityOffer{offer("a", 1, "Run")}}
	r.Load(ctx, lister, "u1", true)

	local := offer("temp_1700000000000", 5, "Tennis")
	require.NoError(t, r.AddLocal(ctx, local))
	require.NoError(t, r.Tombstone(ctx, local.ID))

	server := local
	server.ID = "abc123"
	deleted, err := r.ResolveTempID(ctx, local.ID, server)
	require.NoError(t, err)
	assert.True(t, deleted)

	assert.Equal(t, []string{"a"}, ids(r.View()))
	assert.False(t, r.Tombstoned(local.ID))
	assert.True(t, r.Tombstoned("abc123"))

	server.State = ""
	view, _ := r.Load(ctx, staticLister{offers: []model.ActivityOffer{offer("a", 1, "Run"), server}}, "u1", true)
	assert.Equal(t, []string{"a"}, ids(view), "server copy stays hidden until its delete lands")

	reopened := New(ctx, store, nil)
	assert.True(t, reopened.Tombstoned("abc123"))
}

func TestApplyLocalUpdate(t *testing.T) {
	ctx := context.Background()
	r := New(ctx, kvstore.NewMemory(), nil)
	require.NoError(t, r.AddLocal(ctx, offer("temp_1", 5, "Yoga")))
	lister := staticLister{offers: []model.ActivityOffer{offer("a", 1, "Run")}}
	r.Load(ctx, lister, "u1", true)

	edited := offer("x", 0, "Pilates").OfferFields
	require.NoError(t, r.ApplyLocalUpdate(ctx, "temp_1", edited))
	require.NoError(t, r.ApplyLocalUpdate(ctx, "a", edited))
	assert.ErrorIs(t, r.ApplyLocalUpdate(ctx, "zzz", edited), ErrUnknownOffer)
	assert.ErrorIs(t, r.ApplyLocalUpdate(ctx, "temp_9", edited), ErrUnknownOffer)

	view := r.View()
	require.Len(t, view, 2)
	for _, o := range view {
		assert.Equal(t, "Pilates", o.SportType)
		assert.Equal(t, model.SyncPending, o.State)
	}

	view, _ = r.Load(ctx, staticLister{err: errors.New("offline")}, "u1", true)
	assert.Equal(t, "Pilates", view[1].SportType, "offline reload keeps the edit")

	view, _ = r.Load(ctx, lister, "u1", true)
	assert.Equal(t, "Run", view[1].SportType, "server record wins once available")
	assert.Equal(t, model.SyncConfirmed, view[1].State)
}

func TestSetParticipation(t *testing.T) {
	ctx := context.Background()
	r := New(ctx, kvstore.NewMemory(), nil)
	o := offer("a", 1, "Run")
	o.ParticipantCount = 2
	r.Load(ctx, staticLister{offers: []model.ActivityOffer{o}}, "u1", true)

	require.NoError(t, r.SetParticipation(ctx, "a", true))
	require.NoError(t, r.SetParticipation(ctx, "a", true))
	assert.Equal(t, 3, r.View()[0].ParticipantCount)
	assert.True(t, r.View()[0].IsParticipating)

	require.NoError(t, r.SetParticipation(ctx, "a", false))
	assert.Equal(t, 2, r.View()[0].ParticipantCount)
	assert.ErrorIs(t, r.SetParticipation(ctx, "zzz", true), ErrUnknownOffer)
}

func TestSetParticipation_LocalOnlySurvivesMerge(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	r := New(ctx, store, nil)
	require.NoError(t, r.AddLocal(ctx, offer("temp_1", 1, "Yoga")))

	require.NoError(t, r.SetParticipation(ctx, "temp_1", true))
	require.NoError(t, r.AddLocal(ctx, offer("temp_2", 2, "Run")))

	view := r.View()
	require.Equal(t, []string{"temp_2", "temp_1"}, ids(view))
	assert.True(t, view[1].IsParticipating)
	assert.Equal(t, 1, view[1].ParticipantCount)

	view, fresh := r.Load(ctx, staticLister{err: errors.New("offline")}, "u1", true)
	require.False(t, fresh)
	assert.True(t, view[1].IsParticipating)

	reopened := New(ctx, store, nil)
	local := reopened.LocalOnly()
	require.Len(t, local, 2)
	assert.True(t, local[0].IsParticipating)

	assert.ErrorIs(t, r.SetParticipation(ctx, "temp_9", true), ErrUnknownOffer)
}

func TestNew_CorruptCacheStartsEmpty(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	store.SetRaw(ViewKey, []byte(`[{"id":`))
	store.SetRaw(LocalKey, []byte(`"nope"`))
	store.SetRaw(TombstonesKey, []byte(`{}`))

	r := New(ctx, store, nil)
	assert.Empty(t, r.View())
	assert.Empty(t, r.LocalOnly())

	view, fresh := r.Load(ctx, staticLister{offers: []model.ActivityOffer{offer("a", 1, "Run")}}, "u1", true)
	assert.True(t, fresh)
	assert.Equal(t, []string{"a"}, ids(view))
}

func TestSubscribe_ReceivesViewChanges(t *testing.T) {
	ctx := context.Background()
	r := New(ctx, kvstore.NewMemory(), nil)

	var lengths []int
	cancel := r.Subscribe(func(v []model.ActivityOffer) { lengths = append(lengths, len(v)) })
	defer cancel()

	require.NoError(t, r.AddLocal(ctx, offer("temp_1", 1, "Yoga")))
	r.Load(ctx, staticLister{offers: []model.ActivityOffer{offer("a", 1, "Run")}}, "u1", true)

	assert.Equal(t, []int{0, 1, 2}, lengths)
}

func TestProfileCache(t *testing.T) {
	ctx := context.Background()
	r := New(ctx, kvstore.NewMemory(), nil)

	_, ok := r.CachedProfile(ctx)
	assert.False(t, ok)

	require.NoError(t, r.CacheProfile(ctx, model.Profile{ID: "u1", FirstName: "Ada"}))
	p, ok := r.CachedProfile(ctx)
	require.True(t, ok)
	assert.Equal(t, "Ada", p.FirstName)
}
