// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package model defines the meetup entities exchanged with the remote data service and
// the payloads carried by queued operations.
package model

import (
	"fmt"
	"strings"
	"time"
)

// TempIDPrefix marks identifiers assigned on the device before the server has seen a record.
// Server identifiers never start with it.
const TempIDPrefix = "temp_"

// NewTempID returns a temporary identifier derived from t, e.g. "temp_1700000000000".
func NewTempID(t time.Time) string {
	return fmt.Sprintf("%s%d", TempIDPrefix, t.UnixMilli())
}

// IsTempID reports whether id was assigned locally and has not been resolved yet.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// SyncState tags a record as local-only or confirmed by the server.
type SyncState string

const (
	SyncPending   SyncState = "pending"
	SyncConfirmed SyncState = "confirmed"
)

// Profile is the public profile of a user.
type Profile struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName returns "First Last", or "" when neither is set.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ProfileUpdate carries the profile fields a user may change. Nil fields are left untouched.
type ProfileUpdate struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Apply copies the set fields of u onto p.
func (u ProfileUpdate) Apply(p *Profile) {
	if u.FirstName != nil {
		p.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		p.LastName = *u.LastName
	}
	if u.AvatarURL != nil {
		p.AvatarURL = *u.AvatarURL
	}
}

// OfferFields are the user-editable fields of an activity offer.
type OfferFields struct {
	SportType   string    `json:"sport_type"`
	Location    string    `json:"location"`
	Latitude    float64   `json:"latitude,omitempty"`
	Longitude   float64   `json:"longitude,omitempty"`
	DateTime    time.Time `json:"date_time"`
	Description string    `json:"description,omitempty"`
}

// Validate checks the fields required to publish an offer.
func (f OfferFields) Validate() error {
	if strings.TrimSpace(f.SportType) == "" {
		return fmt.Errorf("sport type is required")
	}
	if strings.TrimSpace(f.Location) == "" {
		return fmt.Errorf("location is required")
	}
	if f.DateTime.IsZero() {
		return fmt.Errorf("date and time are required")
	}
	return nil
}

// ActivityOffer is a sporting-activity meetup posted by a user.
type ActivityOffer struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	OfferFields
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Profile          *Profile `json:"profiles,omitempty"`
	ParticipantCount int      `json:"participant_count"`
	IsParticipating  bool     `json:"is_participating"`

	// State is set on the device only; the server never sends it.
	State SyncState `json:"sync_state,omitempty"`
}

// Participation records that a user joined an offer.
type Participation struct {
	ID        string    `json:"id"`
	OfferID   string    `json:"training_offer_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
