// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package model

// CreateOfferPayload is queued for "create activity_offer". TempID is the identifier the
// optimistic local record was stored under; it is stripped before the server call.
type CreateOfferPayload struct {
	TempID string      `json:"temp_id,omitempty"`
	Offer  OfferFields `json:"offer"`
}

// UpdateOfferPayload is queued for "update activity_offer".
type UpdateOfferPayload struct {
	ID      string      `json:"id"`
	Updates OfferFields `json:"updates"`
}

// DeleteOfferPayload is queued for "delete activity_offer".
type DeleteOfferPayload struct {
	ID string `json:"id"`
}

// ParticipationPayload is queued for joining (create) or leaving (delete) an offer.
type ParticipationPayload struct {
	OfferID string `json:"training_offer_id"`
	UserID  string `json:"user_id"`
}

// ProfilePayload is queued for "update profile". A "create profile" operation carries the
// same payload and is replayed as an update.
type ProfilePayload struct {
	ProfileUpdate
}

// ReferencedID returns the offer identifier a payload points at, for payload kinds that
// reference an existing offer.
func (p UpdateOfferPayload) ReferencedID() string   { return p.ID }
func (p DeleteOfferPayload) ReferencedID() string   { return p.ID }
func (p ParticipationPayload) ReferencedID() string { return p.OfferID }
