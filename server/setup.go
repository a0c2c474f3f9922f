// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package server exposes a remote.Service as the JWT-protected REST API the device talks to.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markobbzbl/sportbuddy-mobile-1/auth"
	"github.com/markobbzbl/sportbuddy-mobile-1/remote"
)

// DefaultTokenTTL is the lifetime of tokens issued by POST /signin.
const DefaultTokenTTL = 24 * time.Hour

// ServerConfig holds configuration for the server
type ServerConfig struct {
	// DatabaseURL selects the Postgres backend. Empty means an in-memory backend.
	DatabaseURL string
	JWTSecret   string
	Logger      *slog.Logger
	TokenTTL    time.Duration
	// LogRequests enables per-request logging.
	LogRequests bool
}

// ServerComponents holds the initialized server components
type ServerComponents struct {
	Pool    *pgxpool.Pool // nil for the in-memory backend
	Service remote.Service
	JWTAuth *auth.JWTAuth
	Handler http.Handler
	Logger  *slog.Logger
}

// TestServer represents a running test server instance
type TestServer struct {
	*ServerComponents
	HTTPServer *httptest.Server
}

// SetupServer connects the backend and builds the HTTP handler.
func SetupServer(ctx context.Context, config *ServerConfig) (*ServerComponents, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	components := &ServerComponents{Logger: logger}
	if config.DatabaseURL == "" {
		logger.Warn("no database configured, using in-memory backend")
		components.Service = remote.NewMemory()
	} else {
		pool, err := openPool(ctx, config.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := InitializeSchema(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
		components.Pool = pool
		components.Service = NewPostgresService(pool, logger)
	}

	jwtSecret := config.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "your-secret-key-change-in-production"
		logger.Warn("Using default JWT secret - change in production!")
	}
	components.JWTAuth = auth.NewJWTAuth(jwtSecret)

	ttl := config.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	components.Handler = NewHandler(components.Service, components.JWTAuth, ttl, config.LogRequests, logger)
	return components, nil
}

func openPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// NewHandler builds the route table for service.
func NewHandler(service remote.Service, jwtAuth *auth.JWTAuth, tokenTTL time.Duration, logRequests bool, logger *slog.Logger) http.Handler {
	h := NewHandlers(service, logger)
	protect := func(fn http.HandlerFunc) http.Handler {
		return LoggingMiddleware(logRequests, jwtAuth.Middleware(fn), logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HandleHealth)
	mux.Handle("POST /signin", LoggingMiddleware(logRequests, SignInHandler(jwtAuth, tokenTTL, logger), logger))

	mux.Handle("GET /offers", protect(h.HandleListOffers))
	mux.Handle("POST /offers", protect(h.HandleCreateOffer))
	mux.Handle("PATCH /offers/{id}", protect(h.HandleUpdateOffer))
	mux.Handle("DELETE /offers/{id}", protect(h.HandleDeleteOffer))
	mux.Handle("POST /offers/{id}/participants", protect(h.HandleJoin))
	mux.Handle("DELETE /offers/{id}/participants", protect(h.HandleLeave))
	mux.Handle("GET /profile", protect(h.HandleGetProfile))
	mux.Handle("PATCH /profile", protect(h.HandleUpdateProfile))
	return mux
}

// SignInHandler returns a JWT for the provided user and device. Any password is accepted;
// real credential checks live outside this service.
func SignInHandler(jwtAuth *auth.JWTAuth, ttl time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.SignInRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "user_id required")
			return
		}
		if req.DeviceID == "" {
			req.DeviceID = "device-" + strconv.FormatInt(time.Now().UnixNano(), 36)
		}
		tok, err := jwtAuth.GenerateToken(req.UserID, req.DeviceID, ttl)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, remote.SignInResponse{Token: tok, ExpiresIn: int64(ttl / time.Second), UserID: req.UserID})
		logger.Info("issued token", "user_id", req.UserID, "device_id", req.DeviceID)
	}
}

// Close shuts down the server components and cleans up resources
func (sc *ServerComponents) Close() {
	if sc.Pool != nil {
		sc.Pool.Close()
	}
}

// NewTestServer creates a new test server instance using the shared server setup
func NewTestServer(ctx context.Context, config *ServerConfig) (*TestServer, error) {
	components, err := SetupServer(ctx, config)
	if err != nil {
		return nil, err
	}
	return &TestServer{
		ServerComponents: components,
		HTTPServer:       httptest.NewServer(components.Handler),
	}, nil
}

// Close shuts down the test server and cleans up resources
func (ts *TestServer) Close() {
	if ts.HTTPServer != nil {
		ts.HTTPServer.Close()
	}
	ts.ServerComponents.Close()
}

// URL returns the base URL of the test server
func (ts *TestServer) URL() string {
	return ts.HTTPServer.URL
}

// GenerateToken generates a JWT token for testing
func (ts *TestServer) GenerateToken(userID, deviceID string, duration time.Duration) (string, error) {
	return ts.JWTAuth.GenerateToken(userID, deviceID, duration)
}

// LoggingMiddleware logs method, path, status and duration of every request when enabled.
func LoggingMiddleware(enableLogging bool, next http.Handler, logger *slog.Logger) http.Handler {
	if !enableLogging {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("HTTP Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"remote_addr", r.RemoteAddr,
			"duration", time.Since(start).String(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
