// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package remote is the client-side view of the meetup data service: the operations the
// sync engine replays and the direct-write path calls.
package remote

import (
	"context"

	"github.com/markobbzbl/sportbuddy-mobile-1/model"
)

// Service is the remote data service. Every call acts on behalf of userID; transports that
// authenticate the caller themselves (HTTPClient) ignore it.
type Service interface {
	// ListOffers returns all offers, newest first, with participant counts computed for userID.
	ListOffers(ctx context.Context, userID string) ([]model.ActivityOffer, error)
	// CreateOffer stores a new offer owned by userID and returns it with its server id.
	CreateOffer(ctx context.Context, userID string, fields model.OfferFields) (model.ActivityOffer, error)
	// UpdateOffer replaces the editable fields of an offer owned by userID.
	UpdateOffer(ctx context.Context, userID, offerID string, fields model.OfferFields) (model.ActivityOffer, error)
	// DeleteOffer removes an offer owned by userID.
	DeleteOffer(ctx context.Context, userID, offerID string) error

	GetProfile(ctx context.Context, userID string) (model.Profile, error)
	// UpdateProfile applies update to the profile of userID, creating the profile if needed.
	UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (model.Profile, error)

	// JoinOffer records userID as a participant. Joining twice is not an error.
	JoinOffer(ctx context.Context, userID, offerID string) error
	// LeaveOffer removes userID from the participants. Leaving an offer not joined is not an error.
	LeaveOffer(ctx context.Context, userID, offerID string) error
}

// Lister is the read side of Service.
type Lister interface {
	ListOffers(ctx context.Context, userID string) ([]model.ActivityOffer, error)
}

// ErrorResponse is the JSON body of every non-2xx response of the REST API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SignInRequest is the body of POST /signin.
type SignInRequest struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	Password string `json:"password"`
}

// SignInResponse carries the bearer token for subsequent calls.
type SignInResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	UserID    string `json:"user_id"`
}
