package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markobbzbl/sportbuddy-mobile-1/model"
)

func TestHTTPClient_SendsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/offers":
			var f model.OfferFields
			require.NoError(t, json.NewDecoder(r.Body).Decode(&f))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(model.ActivityOffer{ID: "abc123", UserID: "u1", OfferFields: f})
		case r.Method == http.MethodDelete && r.URL.Path == "/offers/abc123/participants":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "not_found", Message: "no route"})
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", func(context.Context) (string, error) { return "tok-1", nil })
	ctx := context.Background()

	offer, err := c.CreateOffer(ctx, "ignored", fields("Tennis"))
	require.NoError(t, err)
	assert.Equal(t, "abc123", offer.ID)
	assert.Equal(t, "Tennis", offer.SportType)

	require.NoError(t, c.LeaveOffer(ctx, "ignored", "abc123"))

	err = c.DeleteOffer(ctx, "ignored", "zzz")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "not_found", se.Kind)
	assert.Equal(t, "no route", se.Message)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsTransient(err))
}

func TestHTTPClient_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, func(context.Context) (string, error) { return "t", nil })
	_, err := c.ListOffers(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "db down")
}

func TestHTTPClient_TokenFailureStopsTheCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, func(context.Context) (string, error) { return "", errors.New("signed out") })
	_, err := c.GetProfile(context.Background(), "")
	require.ErrorContains(t, err, "signed out")
	assert.False(t, called)
}
