// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package connectivity tracks whether the remote data service is reachable.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/markobbzbl/sportbuddy-mobile-1/internal/broadcast"
)

const (
	// DefaultPollInterval is how often the OS flag is re-read to catch missed push events.
	DefaultPollInterval = 2 * time.Second
	// DefaultProbeTimeout bounds a single reachability probe.
	DefaultProbeTimeout = 3 * time.Second
	// DefaultProbeURL is a small, always-available resource.
	DefaultProbeURL = "https://www.google.com/favicon.ico"
)

// Config configures a Monitor.
type Config struct {
	PollInterval time.Duration // 0 means DefaultPollInterval
	ProbeURL     string        // empty disables the active probe
	ProbeTimeout time.Duration // 0 means DefaultProbeTimeout
	HTTP         *http.Client
	Logger       *slog.Logger
}

// DefaultConfig returns the configuration used on devices.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: DefaultPollInterval,
		ProbeURL:     DefaultProbeURL,
		ProbeTimeout: DefaultProbeTimeout,
	}
}

// Monitor is the single source of truth for reachability. Push notifications from the
// Source and a fixed-interval poll both feed one de-duplicating state holder.
type Monitor struct {
	src    Source
	state  *broadcast.Value[bool]
	config Config
	logger *slog.Logger

	mu        sync.Mutex
	running   bool
	stopWatch func()
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor creates a monitor initialised from the source's current flag.
// Call Start to begin listening and polling.
func NewMonitor(src Source, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		src:    src,
		state:  broadcast.NewComparable(src.Online()),
		config: cfg,
		logger: logger,
	}
}

// Start subscribes to push notifications and starts the poll loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.stopWatch = m.src.Watch(m.update)

	m.wg.Add(1)
	go m.pollLoop(m.stopCh)

	m.logger.Debug("connectivity monitor started", "online", m.state.Get(), "poll_interval", m.config.PollInterval)
}

// Stop stops the poll loop and push notifications. Subscribers are kept.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Debug("connectivity monitor stopped")
}

func (m *Monitor) pollLoop(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.update(m.src.Online())
		}
	}
}

func (m *Monitor) update(online bool) {
	if m.state.Set(online) {
		status := "offline"
		if online {
			status = "online"
		}
		m.logger.Info("network status changed", "status", status)
	}
}

// Current returns the last known state without doing any I/O.
func (m *Monitor) Current() bool {
	return m.state.Get()
}

// Subscribe registers handler for state changes. The current state is delivered once
// immediately; afterwards handler runs only when the state flips.
func (m *Monitor) Subscribe(handler func(online bool)) (cancel func()) {
	return m.state.Subscribe(handler)
}

// Refresh re-reads the source flag immediately, as one poll tick would.
func (m *Monitor) Refresh() bool {
	m.update(m.src.Online())
	return m.Current()
}

// Probe actively checks reachability with a short HEAD request. Any HTTP response,
// whatever its status, counts as reachable; a transport failure counts as unreachable.
// When no probe can be attempted the OS flag is returned. The result does not change
// the monitor state.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.config.ProbeURL == "" {
		return m.src.Online()
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.config.ProbeURL, nil)
	if err != nil {
		m.logger.Debug("probe request could not be built", "url", m.config.ProbeURL, "error", err)
		return m.src.Online()
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.config.HTTP.Do(req)
	if err != nil {
		m.logger.Debug("probe failed", "url", m.config.ProbeURL, "error", err)
		return false
	}
	resp.Body.Close()
	return true
}
