/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package swarm

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const eventPublishTimeout = 5 * time.Second

// healthLoop demotes connected devices whose telemetry has gone quiet. The
// loop never dies; a panicking pass is logged and the next tick runs.
func (s *Swarm) healthLoop() {
	defer s.wg.Done()

	interval := time.Duration(s.config.Monitor.HealthInterval)
	ticker := s.clock.Ticker(interval)

	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("Starting health monitor")

	for {
		select {
		case <-s.done:
			return
		case <-ticker.Chan():
			s.checkHealth()
		}
	}
}

func (s *Swarm) checkHealth() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Health check panicked, monitor continues")
		}
	}()

	staleAfter := time.Duration(s.config.Monitor.StaleAfter)
	now := s.clock.Now()

	type candidate struct {
		m           *member
		connectedAt time.Time
		seen        bool
	}

	s.membershipMu.RLock()

	candidates := make([]candidate, 0, len(s.members))

	for _, m := range s.members {
		if s.states[m.drone.ID()] == StateConnected {
			candidates = append(candidates, candidate{m: m, connectedAt: m.connectedAt, seen: m.seen})
		}
	}

	s.membershipMu.RUnlock()

	for _, c := range candidates {
		if !c.seen && !c.m.drone.IsUnreachable() {
			s.markSeen(c.m)
			c.seen = true
		}

		// A device gets one full staleness window after joining before
		// the checks apply, so a freshly recovered device has time to
		// resume its telemetry broadcast.
		if now.Sub(c.connectedAt) <= staleAfter {
			continue
		}

		stale := now.Sub(c.m.drone.LastStateAt()) > staleAfter
		if !stale && !c.m.drone.IsUnreachable() {
			continue
		}

		s.markUnreachable(c.m)
	}
}

// reconnectLoop periodically retries the SDK handshake on unreachable
// devices and moves responders back into the connected set.
func (s *Swarm) reconnectLoop() {
	defer s.wg.Done()

	interval := time.Duration(s.config.Monitor.ReconnectInterval)
	ticker := s.clock.Ticker(interval)

	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("Starting reconnect supervisor")

	for {
		select {
		case <-s.done:
			return
		case <-ticker.Chan():
			s.sweepUnreachable()
		}
	}
}

func (s *Swarm) sweepUnreachable() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Reconnect sweep panicked, supervisor continues")
		}
	}()

	candidates := s.unreachableMembers()
	if len(candidates) == 0 {
		return
	}

	timeout := time.Duration(s.config.Monitor.ReconnectTimeout)

	var g errgroup.Group

	g.SetLimit(s.config.Monitor.MaxConcurrentReconnects)

	for _, m := range candidates {
		g.Go(func() error {
			// One handshake attempt per sweep; the engine's retry budget
			// would only delay the next pass.
			reply := m.drone.SendCommandWithReturn("command", timeout)
			if !strings.Contains(strings.ToLower(reply), "ok") {
				s.logger.Debug().
					Str("device_id", m.drone.ID()).
					Str("reply", reply).
					Msg("Reconnect attempt failed")

				return nil
			}

			s.markConnected(m)

			return nil
		})
	}

	_ = g.Wait()
}

func (s *Swarm) markUnreachable(m *member) {
	s.membershipMu.Lock()

	if s.states[m.drone.ID()] != StateConnected {
		s.membershipMu.Unlock()
		return
	}

	s.states[m.drone.ID()] = StateUnreachable

	s.membershipMu.Unlock()

	s.logger.Warn().
		Str("device_id", m.drone.ID()).
		Str("device_ip", m.drone.Addr().IP.String()).
		Time("last_telemetry", m.drone.LastStateAt()).
		Msg("Device unreachable")

	s.notify(m, StateUnreachable)
}

func (s *Swarm) markConnected(m *member) {
	s.membershipMu.Lock()

	if s.states[m.drone.ID()] != StateUnreachable {
		s.membershipMu.Unlock()
		return
	}

	s.states[m.drone.ID()] = StateConnected
	m.connectedAt = s.clock.Now()
	m.seen = true

	s.membershipMu.Unlock()

	s.logger.Info().
		Str("device_id", m.drone.ID()).
		Str("device_ip", m.drone.Addr().IP.String()).
		Msg("Device recovered")

	s.notify(m, StateConnected)
}

// markSeen records the first proof of life from a device and publishes the
// first-seen event. Not a membership transition; the callback does not fire.
func (s *Swarm) markSeen(m *member) {
	s.membershipMu.Lock()

	if m.seen {
		s.membershipMu.Unlock()
		return
	}

	m.seen = true

	s.membershipMu.Unlock()

	s.logger.Info().
		Str("device_id", m.drone.ID()).
		Str("device_ip", m.drone.Addr().IP.String()).
		Msg("Device first seen")

	if s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
	defer cancel()

	err := s.publisher.PublishDeviceFirstSeenEvent(ctx, m.drone.ID(), m.drone.Addr().IP.String(), m.drone.LastStateAt())
	if err != nil {
		s.logger.Error().Err(err).Str("device_id", m.drone.ID()).Msg("Failed to publish first-seen event")
	}
}

func (s *Swarm) notify(m *member, state DeviceState) {
	if s.onMembershipChange != nil {
		s.onMembershipChange(m.drone, state)
	}

	if s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
	defer cancel()

	var err error

	switch state {
	case StateUnreachable:
		err = s.publisher.PublishDeviceOfflineEvent(ctx, m.drone.ID(), m.drone.Addr().IP.String(), m.drone.LastStateAt())
	case StateConnected:
		err = s.publisher.PublishDeviceRecoveredEvent(ctx, m.drone.ID(), m.drone.Addr().IP.String(), m.drone.LastStateAt())
	}

	if err != nil {
		s.logger.Error().
			Err(err).
			Str("device_id", m.drone.ID()).
			Str("state", state.String()).
			Msg("Failed to publish device health event")
	}
}
