// Timeharbor - Offline-First Time Tracking and Sync
// Copyright 2026 Dharp02
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Dharp02/timeharbor

// Package connectivity decides whether the agent is online. Reachability
// means the Timeharbor server answers a cheap probe, not merely that an
// interface is up. While unreachable the monitor probes actively with
// capped exponential backoff for a bounded number of attempts, then goes
// passive until the OS reports a network change or the app foregrounds.
package connectivity

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/Dharp02/timeharbor/internal/config"
	"github.com/Dharp02/timeharbor/internal/logging"
)

// Status is the monitor's current belief about reachability.
type Status int32

const (
	StatusOffline Status = iota
	StatusChecking
	StatusOnline
)

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusChecking:
		return "checking"
	default:
		return "offline"
	}
}

// Prober performs one reachability check.
type Prober interface {
	Probe(ctx context.Context) error
}

// Monitor tracks reachability and invokes a callback on each
// offline-to-online transition.
type Monitor struct {
	prober Prober
	cfg    config.AgentConfig

	status atomic.Int32

	// kicks coalesces wake-up requests: OS network events, app
	// foregrounding, reported request failures.
	kicks chan struct{}

	onOnline func()
}

// New builds a Monitor. onOnline runs on the monitor goroutine each time
// reachability is regained; keep it cheap (typically a sync trigger).
func New(prober Prober, cfg config.AgentConfig, onOnline func()) *Monitor {
	m := &Monitor{
		prober:   prober,
		cfg:      cfg,
		kicks:    make(chan struct{}, 1),
		onOnline: onOnline,
	}
	m.status.Store(int32(StatusOffline))
	return m
}

// Status returns the current reachability belief.
func (m *Monitor) Status() Status {
	return Status(m.status.Load())
}

// NotifyNetworkChange signals an OS-level network event (interface up,
// wifi association, route change). Safe from any goroutine; never blocks.
func (m *Monitor) NotifyNetworkChange() {
	m.kick()
}

// Foreground signals that the application returned to the foreground,
// warranting an immediate re-check.
func (m *Monitor) Foreground() {
	m.kick()
}

// ReportFailure tells the monitor a real request just failed in a way
// that suggests lost connectivity. The monitor drops to offline and
// resumes probing.
func (m *Monitor) ReportFailure() {
	if m.Status() == StatusOnline {
		logging.Info().Msg("Request failure reported, going offline")
		m.status.Store(int32(StatusOffline))
	}
	m.kick()
}

func (m *Monitor) kick() {
	select {
	case m.kicks <- struct{}{}:
	default:
	}
}

// Serve runs the monitor loop until ctx is canceled. It satisfies
// suture.Service.
func (m *Monitor) Serve(ctx context.Context) error {
	// Initial state is unknown; check immediately.
	m.kick()

	for {
		switch m.Status() {
		case StatusOnline:
			if err := m.serveOnline(ctx); err != nil {
				return err
			}
		default:
			if err := m.serveOffline(ctx); err != nil {
				return err
			}
		}
	}
}

// serveOnline waits for the next scheduled re-check or an external kick,
// then verifies the server is still there.
func (m *Monitor) serveOnline(ctx context.Context) error {
	timer := time.NewTimer(m.cfg.SyncInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case <-m.kicks:
	}

	if err := m.probeOnce(ctx); err != nil {
		logging.Info().Err(err).Msg("Server unreachable, going offline")
		m.status.Store(int32(StatusOffline))
	}
	return ctx.Err()
}

// serveOffline runs the bounded active-probe loop, then waits passively
// for a kick.
func (m *Monitor) serveOffline(ctx context.Context) error {
	m.status.Store(int32(StatusChecking))

	for attempt := 0; attempt < m.cfg.MaxProbeAttempts; attempt++ {
		if err := m.probeOnce(ctx); err == nil {
			m.status.Store(int32(StatusOnline))
			logging.Info().Int("attempts", attempt+1).Msg("Server reachable, back online")
			if m.onOnline != nil {
				m.onOnline()
			}
			return ctx.Err()
		}

		delay := backoffDelay(m.cfg.BackoffBase, m.cfg.BackoffCap, attempt)
		logging.Debug().Int("attempt", attempt+1).Dur("next_in", delay).
			Msg("Probe failed, backing off")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-m.kicks:
			// External signal restarts the schedule from the base delay.
			timer.Stop()
			attempt = -1
		case <-timer.C:
		}
	}

	// Active polling exhausted. Hold offline until something changes.
	m.status.Store(int32(StatusOffline))
	logging.Info().Int("attempts", m.cfg.MaxProbeAttempts).
		Msg("Probe attempts exhausted, waiting for network event")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.kicks:
		return nil
	}
}

func (m *Monitor) probeOnce(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	return m.prober.Probe(pctx)
}

// backoffDelay computes min(base*2^attempt, limit) with up to 20%
// additive jitter so a fleet of agents does not probe in lockstep.
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := base << uint(attempt)
	if d > limit || d <= 0 {
		d = limit
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}
