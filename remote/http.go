// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/markobbzbl/sportbuddy-mobile-1/model"
)

// DefaultHTTPTimeout bounds every REST call. It is the only timeout the sync engine relies on.
const DefaultHTTPTimeout = 15 * time.Second

// HTTPClient talks to the REST API served by the server package. The caller is
// identified by the bearer token, so the userID arguments of Service are ignored.
type HTTPClient struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client
}

// NewHTTPClient creates a client for baseURL that authenticates with tok.
func NewHTTPClient(baseURL string, tok func(ctx context.Context) (string, error)) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{Timeout: DefaultHTTPTimeout},
	}
}

// SignIn exchanges credentials for a token. It needs no existing token.
func (c *HTTPClient) SignIn(ctx context.Context, req SignInRequest) (*SignInResponse, error) {
	var resp SignInResponse
	if err := c.send(ctx, http.MethodPost, "/signin", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) send(ctx context.Context, method, path string, body, out any, authenticate bool) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if authenticate {
		if c.Token == nil {
			return fmt.Errorf("no token source: %w", ErrUnauthorized)
		}
		token, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get JWT token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		se := &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var er ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			se.Kind, se.Message = er.Error, er.Message
		}
		return se
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func offerPath(offerID string) string {
	return "/offers/" + url.PathEscape(offerID)
}

func (c *HTTPClient) ListOffers(ctx context.Context, _ string) ([]model.ActivityOffer, error) {
	var offers []model.ActivityOffer
	if err := c.send(ctx, http.MethodGet, "/offers", nil, &offers, true); err != nil {
		return nil, err
	}
	return offers, nil
}

func (c *HTTPClient) CreateOffer(ctx context.Context, _ string, fields model.OfferFields) (model.ActivityOffer, error) {
	var offer model.ActivityOffer
	err := c.send(ctx, http.MethodPost, "/offers", fields, &offer, true)
	return offer, err
}

func (c *HTTPClient) UpdateOffer(ctx context.Context, _ string, offerID string, fields model.OfferFields) (model.ActivityOffer, error) {
	var offer model.ActivityOffer
	err := c.send(ctx, http.MethodPatch, offerPath(offerID), fields, &offer, true)
	return offer, err
}

func (c *HTTPClient) DeleteOffer(ctx context.Context, _ string, offerID string) error {
	return c.send(ctx, http.MethodDelete, offerPath(offerID), nil, nil, true)
}

func (c *HTTPClient) GetProfile(ctx context.Context, _ string) (model.Profile, error) {
	var p model.Profile
	err := c.send(ctx, http.MethodGet, "/profile", nil, &p, true)
	return p, err
}

func (c *HTTPClient) UpdateProfile(ctx context.Context, _ string, update model.ProfileUpdate) (model.Profile, error) {
	var p model.Profile
	err := c.send(ctx, http.MethodPatch, "/profile", update, &p, true)
	return p, err
}

func (c *HTTPClient) JoinOffer(ctx context.Context, _ string, offerID string) error {
	return c.send(ctx, http.MethodPost, offerPath(offerID)+"/participants", nil, nil, true)
}

func (c *HTTPClient) LeaveOffer(ctx context.Context, _ string, offerID string) error {
	return c.send(ctx, http.MethodDelete, offerPath(offerID)+"/participants", nil, nil, true)
}
