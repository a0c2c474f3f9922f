// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markobbzbl/sportbuddy-mobile-1/model"
	"github.com/markobbzbl/sportbuddy-mobile-1/remote"
)

// InitializeSchema creates the meetup tables if they do not exist.
func InitializeSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS sportbuddy`); err != nil {
			return fmt.Errorf("failed to create sportbuddy schema: %w", err)
		}

		createProfilesSQL :=
			/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS sportbuddy.profiles (
	id TEXT PRIMARY KEY,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)
`
		if _, err := tx.Exec(ctx, createProfilesSQL); err != nil {
			return fmt.Errorf("failed to create profiles table: %w", err)
		}

		createOffersSQL :=
			/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS sportbuddy.activity_offers (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	sport_type TEXT NOT NULL,
	location TEXT NOT NULL,
	latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
	date_time TIMESTAMPTZ NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)
`
		if _, err := tx.Exec(ctx, createOffersSQL); err != nil {
			return fmt.Errorf("failed to create activity_offers table: %w", err)
		}

		createParticipationsSQL :=
			/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS sportbuddy.participations (
	id TEXT PRIMARY KEY,
	offer_id TEXT NOT NULL REFERENCES sportbuddy.activity_offers(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (offer_id, user_id)
)
`
		if _, err := tx.Exec(ctx, createParticipationsSQL); err != nil {
			return fmt.Errorf("failed to create participations table: %w", err)
		}

		if _, err := tx.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_offers_created_at ON sportbuddy.activity_offers(created_at DESC)`); err != nil {
			return fmt.Errorf("failed to create offers index: %w", err)
		}

		logger.Info("sportbuddy tables initialized")
		return nil
	})
}

// PostgresService is the remote.Service backing the REST API in production.
type PostgresService struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresService wraps pool. Call InitializeSchema first.
func NewPostgresService(pool *pgxpool.Pool, logger *slog.Logger) *PostgresService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresService{pool: pool, logger: logger}
}

const selectOfferSQL = /*language=postgresql*/ `
SELECT o.id, o.user_id, o.sport_type, o.location, o.latitude, o.longitude, o.date_time, o.description,
	o.created_at, o.updated_at,
	p.id, p.first_name, p.last_name, p.avatar_url, p.created_at, p.updated_at,
	(SELECT count(*) FROM sportbuddy.participations pa WHERE pa.offer_id = o.id),
	EXISTS (SELECT 1 FROM sportbuddy.participations pa WHERE pa.offer_id = o.id AND pa.user_id = $1)
FROM sportbuddy.activity_offers o
LEFT JOIN sportbuddy.profiles p ON p.id = o.user_id
`

func scanOffer(row pgx.Row) (model.ActivityOffer, error) {
	var (
		o                        model.ActivityOffer
		pid, first, last, avatar *string
		pCreated, pUpdated       *time.Time
		count                    int64
	)
	err := row.Scan(&o.ID, &o.UserID, &o.SportType, &o.Location, &o.Latitude, &o.Longitude, &o.DateTime,
		&o.Description, &o.CreatedAt, &o.UpdatedAt,
		&pid, &first, &last, &avatar, &pCreated, &pUpdated,
		&count, &o.IsParticipating)
	if err != nil {
		return model.ActivityOffer{}, err
	}
	o.ParticipantCount = int(count)
	if pid != nil {
		o.Profile = &model.Profile{ID: *pid, FirstName: *first, LastName: *last, AvatarURL: *avatar,
			CreatedAt: *pCreated, UpdatedAt: *pUpdated}
	}
	return o, nil
}

func (s *PostgresService) getOffer(ctx context.Context, q pgx.Tx, userID, offerID string) (model.ActivityOffer, error) {
	o, err := scanOffer(q.QueryRow(ctx, selectOfferSQL+` WHERE o.id = $2`, userID, offerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ActivityOffer{}, fmt.Errorf("offer %s: %w", offerID, remote.ErrNotFound)
	}
	if err != nil {
		return model.ActivityOffer{}, fmt.Errorf("failed to load offer %s: %w", offerID, err)
	}
	return o, nil
}

// checkOwner locks the offer row and verifies userID owns it.
func checkOwner(ctx context.Context, tx pgx.Tx, userID, offerID string) error {
	var owner string
	err := tx.QueryRow(ctx, `SELECT user_id FROM sportbuddy.activity_offers WHERE id = $1 FOR UPDATE`, offerID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("offer %s: %w", offerID, remote.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock offer %s: %w", offerID, err)
	}
	if owner != userID {
		return fmt.Errorf("offer %s: %w", offerID, remote.ErrForbidden)
	}
	return nil
}

func (s *PostgresService) ListOffers(ctx context.Context, userID string) ([]model.ActivityOffer, error) {
	rows, err := s.pool.Query(ctx, selectOfferSQL+` ORDER BY o.created_at DESC, o.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer rows.Close()

	offers := make([]model.ActivityOffer, 0)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate offers: %w", err)
	}
	return offers, nil
}

func (s *PostgresService) CreateOffer(ctx context.Context, userID string, f model.OfferFields) (model.ActivityOffer, error) {
	if err := f.Validate(); err != nil {
		return model.ActivityOffer{}, fmt.Errorf("%w: %v", remote.ErrInvalid, err)
	}

	var offer model.ActivityOffer
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		id := uuid.New().String()
		_, err := tx.Exec(ctx, `
INSERT INTO sportbuddy.activity_offers (id, user_id, sport_type, location, latitude, longitude, date_time, description)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, userID, f.SportType, f.Location, f.Latitude, f.Longitude, f.DateTime, f.Description)
		if err != nil {
			return fmt.Errorf("failed to insert offer: %w", err)
		}
		offer, err = s.getOffer(ctx, tx, userID, id)
		return err
	})
	if err != nil {
		return model.ActivityOffer{}, err
	}
	s.logger.Debug("offer created", "id", offer.ID, "user_id", userID)
	return offer, nil
}

func (s *PostgresService) UpdateOffer(ctx context.Context, userID, offerID string, f model.OfferFields) (model.ActivityOffer, error) {
	if err := f.Validate(); err != nil {
		return model.ActivityOffer{}, fmt.Errorf("%w: %v", remote.ErrInvalid, err)
	}

	var offer model.ActivityOffer
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := checkOwner(ctx, tx, userID, offerID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
UPDATE sportbuddy.activity_offers
SET sport_type = $2, location = $3, latitude = $4, longitude = $5, date_time = $6, description = $7, updated_at = now()
WHERE id = $1`,
			offerID, f.SportType, f.Location, f.Latitude, f.Longitude, f.DateTime, f.Description)
		if err != nil {
			return fmt.Errorf("failed to update offer: %w", err)
		}
		offer, err = s.getOffer(ctx, tx, userID, offerID)
		return err
	})
	return offer, err
}

func (s *PostgresService) DeleteOffer(ctx context.Context, userID, offerID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := checkOwner(ctx, tx, userID, offerID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM sportbuddy.activity_offers WHERE id = $1`, offerID); err != nil {
			return fmt.Errorf("failed to delete offer: %w", err)
		}
		return nil
	})
}

func (s *PostgresService) GetProfile(ctx context.Context, userID string) (model.Profile, error) {
	var p model.Profile
	err := s.pool.QueryRow(ctx, `
SELECT id, first_name, last_name, avatar_url, created_at, updated_at FROM sportbuddy.profiles WHERE id = $1`,
		userID).Scan(&p.ID, &p.FirstName, &p.LastName, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Profile{}, fmt.Errorf("profile %s: %w", userID, remote.ErrNotFound)
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("failed to load profile: %w", err)
	}
	return p, nil
}

func (s *PostgresService) UpdateProfile(ctx context.Context, userID string, u model.ProfileUpdate) (model.Profile, error) {
	var p model.Profile
	err := s.pool.QueryRow(ctx, `
INSERT INTO sportbuddy.profiles (id, first_name, last_name, avatar_url)
VALUES ($1, COALESCE($2::text, ''), COALESCE($3::text, ''), COALESCE($4::text, ''))
ON CONFLICT (id) DO UPDATE SET
	first_name = COALESCE($2::text, sportbuddy.profiles.first_name),
	last_name = COALESCE($3::text, sportbuddy.profiles.last_name),
	avatar_url = COALESCE($4::text, sportbuddy.profiles.avatar_url),
	updated_at = now()
RETURNING id, first_name, last_name, avatar_url, created_at, updated_at`,
		userID, u.FirstName, u.LastName, u.AvatarURL).
		Scan(&p.ID, &p.FirstName, &p.LastName, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.Profile{}, fmt.Errorf("failed to upsert profile: %w", err)
	}
	return p, nil
}

func (s *PostgresService) JoinOffer(ctx context.Context, userID, offerID string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO sportbuddy.participations (id, offer_id, user_id) VALUES ($1, $2, $3)
ON CONFLICT (offer_id, user_id) DO NOTHING`,
		uuid.New().String(), offerID, userID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.SQLState() == "23503" { // foreign_key_violation
		return fmt.Errorf("offer %s: %w", offerID, remote.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to join offer: %w", err)
	}
	return nil
}

func (s *PostgresService) LeaveOffer(ctx context.Context, userID, offerID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sportbuddy.participations WHERE offer_id = $1 AND user_id = $2`, offerID, userID); err != nil {
		return fmt.Errorf("failed to leave offer: %w", err)
	}
	return nil
}
