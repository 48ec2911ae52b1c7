// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package netcheck

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sync"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrOffline is returned when a send is attempted without connectivity.
var ErrOffline = errors.New("network unreachable")

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultInterval is how often the endpoint is probed.
	DefaultInterval = 10 * time.Second

	// probeTimeout bounds a single reachability probe.
	probeTimeout = 5 * time.Second
)

// =============================================================================
// MONITOR
// =============================================================================

// ProbeFunc tests reachability. A nil return means reachable.
type ProbeFunc func(ctx context.Context) error

// Monitor tracks whether the completions endpoint is reachable.
// The zero value is not usable; construct with NewMonitor.
type Monitor struct {
	mu        sync.RWMutex
	connected bool
	onChange  []func(connected bool)

	probe    ProbeFunc
	interval time.Duration
}

// NewMonitor builds a monitor that TCP-dials the endpoint host. The
// monitor starts optimistic (connected) so the first send is not
// blocked while the initial probe is still in flight.
func NewMonitor(endpointURL string, interval time.Duration) (*Monitor, error) {
	addr, err := hostPort(endpointURL)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		connected: true,
		interval:  interval,
		probe: func(ctx context.Context) error {
			d := net.Dialer{Timeout: probeTimeout}
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return err
			}
			return conn.Close()
		},
	}, nil
}

// NewMonitorWithProbe builds a monitor with a custom probe.
func NewMonitorWithProbe(probe ProbeFunc, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		connected: true,
		interval:  interval,
		probe:     probe,
	}
}

// hostPort derives the dial address from an endpoint URL, defaulting
// the port from the scheme.
func hostPort(endpointURL string) (string, error) {
	u, err := url.Parse(endpointURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errors.New("endpoint URL has no host")
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	switch u.Scheme {
	case "http":
		return net.JoinHostPort(u.Hostname(), "80"), nil
	default:
		return net.JoinHostPort(u.Hostname(), "443"), nil
	}
}

// Run probes on the configured interval until ctx is cancelled. It
// performs one immediate probe before waiting. Usually run on its own
// goroutine.
func (m *Monitor) Run(ctx context.Context) {
	m.probeOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	m.SetConnected(m.probe(ctx) == nil)
}

// IsConnected returns the last observed reachability.
func (m *Monitor) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// SetConnected records reachability and fires change callbacks on a
// transition. Callbacks run on the calling goroutine.
func (m *Monitor) SetConnected(connected bool) {
	m.mu.Lock()
	changed := m.connected != connected
	m.connected = connected
	var cbs []func(bool)
	if changed {
		cbs = append(cbs, m.onChange...)
	}
	m.mu.Unlock()

	for _, cb := range cbs {
		cb(connected)
	}
}

// OnChange registers a callback fired on every connectivity
// transition.
func (m *Monitor) OnChange(fn func(connected bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// CheckSendAllowed returns ErrOffline when the endpoint is known to be
// unreachable.
func (m *Monitor) CheckSendAllowed() error {
	if !m.IsConnected() {
		return ErrOffline
	}
	return nil
}
