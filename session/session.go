// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package session holds the signed-in user of the device and the bearer token used for
// remote calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/markobbzbl/sportbuddy-mobile-1/auth"
	"github.com/markobbzbl/sportbuddy-mobile-1/kvstore"
	"github.com/markobbzbl/sportbuddy-mobile-1/remote"
)

// StorageKey is where the identity of the last signed-in user is kept for Restore.
const StorageKey = "session"

// refreshWindow is how long before expiry a token is renewed.
const refreshWindow = 5 * time.Minute

var ErrNoSession = errors.New("no active session")

// Issuer obtains a token for a user on a device.
type Issuer interface {
	Issue(ctx context.Context, userID, deviceID string) (token string, ttl time.Duration, err error)
}

// LocalIssuer mints tokens with a shared secret. The simulator uses it in place of a sign-in
// round trip.
type LocalIssuer struct {
	Auth *auth.JWTAuth
	TTL  time.Duration
}

func (l LocalIssuer) Issue(_ context.Context, userID, deviceID string) (string, time.Duration, error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	token, err := l.Auth.GenerateToken(userID, deviceID, ttl)
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate token: %w", err)
	}
	return token, ttl, nil
}

// RemoteIssuer signs in against the REST API.
type RemoteIssuer struct {
	Client   *remote.HTTPClient
	Password string
}

func (r RemoteIssuer) Issue(ctx context.Context, userID, deviceID string) (string, time.Duration, error) {
	resp, err := r.Client.SignIn(ctx, remote.SignInRequest{UserID: userID, DeviceID: deviceID, Password: r.Password})
	if err != nil {
		return "", 0, fmt.Errorf("sign-in failed: %w", err)
	}
	return resp.Token, time.Duration(resp.ExpiresIn) * time.Second, nil
}

type persisted struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

// Session manages user authentication and JWT tokens
type Session struct {
	issuer Issuer
	store  kvstore.Store
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	userID    string
	deviceID  string
	token     string
	expiresAt time.Time
	active    bool
}

// New creates a signed-out session. store may be nil, in which case Restore always fails.
func New(issuer Issuer, store kvstore.Store, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{issuer: issuer, store: store, logger: logger, now: time.Now}
}

// SignIn obtains a token for userID on deviceID and remembers the identity for Restore.
func (s *Session) SignIn(ctx context.Context, userID, deviceID string) error {
	token, ttl, err := s.issuer.Issue(ctx, userID, deviceID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.userID = userID
	s.deviceID = deviceID
	s.token = token
	s.expiresAt = s.now().Add(ttl)
	s.active = true
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Set(ctx, StorageKey, persisted{UserID: userID, DeviceID: deviceID}); err != nil {
			s.logger.Warn("failed to persist session", "error", err)
		}
	}
	s.logger.Info("signed in", "user_id", userID, "device_id", deviceID)
	return nil
}

// SignOut clears the current session and forgets the persisted identity.
func (s *Session) SignOut(ctx context.Context) {
	s.mu.Lock()
	userID := s.userID
	s.userID, s.deviceID, s.token = "", "", ""
	s.expiresAt = time.Time{}
	s.active = false
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Remove(ctx, StorageKey); err != nil {
			s.logger.Warn("failed to clear persisted session", "error", err)
		}
	}
	s.logger.Info("signed out", "user_id", userID)
}

// Restore signs the last persisted identity in again.
func (s *Session) Restore(ctx context.Context) error {
	if s.store == nil {
		return ErrNoSession
	}
	var p persisted
	found, err := s.store.Get(ctx, StorageKey, &p)
	if err != nil {
		return fmt.Errorf("failed to read persisted session: %w", err)
	}
	if !found || p.UserID == "" {
		return ErrNoSession
	}
	return s.SignIn(ctx, p.UserID, p.DeviceID)
}

// IsActive reports whether a user is signed in with an unexpired token.
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active && s.now().Before(s.expiresAt)
}

// UserID returns the signed-in user. It keeps answering after the token expires; only
// SignOut ends the identity.
func (s *Session) UserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.active
}

// DeviceID returns the device the session was opened on.
func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// Token returns the bearer token, renewing it when it is about to expire.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	active, token, expiresAt := s.active, s.token, s.expiresAt
	userID, deviceID := s.userID, s.deviceID
	s.mu.RUnlock()

	if !active {
		return "", ErrNoSession
	}
	if s.now().Add(refreshWindow).Before(expiresAt) {
		return token, nil
	}

	s.logger.Info("refreshing token", "user_id", userID)
	fresh, ttl, err := s.issuer.Issue(ctx, userID, deviceID)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.userID != userID {
		return "", ErrNoSession
	}
	s.token = fresh
	s.expiresAt = s.now().Add(ttl)
	return fresh, nil
}
