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
	"time"

	"github.com/carverauto/flightdeck/pkg/comms"
	"github.com/carverauto/flightdeck/pkg/drone"
	"github.com/carverauto/flightdeck/pkg/models"
)

const (
	// DefaultHealthInterval is how often the health monitor scans the
	// connected set.
	DefaultHealthInterval = 3 * time.Second

	// DefaultReconnectInterval is how often the reconnect supervisor
	// sweeps the unreachable set.
	DefaultReconnectInterval = 5 * time.Second

	// DefaultStaleAfter marks a device unreachable when its telemetry has
	// been silent for this long: three health passes at the default rate.
	DefaultStaleAfter = 9 * time.Second

	// DefaultReconnectTimeout bounds one reconnect handshake.
	DefaultReconnectTimeout = 3 * time.Second

	// DefaultMaxConcurrentReconnects bounds how many handshakes one sweep
	// runs at once.
	DefaultMaxConcurrentReconnects = 4
)

// MonitorConfig tunes the health monitor and the reconnect supervisor.
type MonitorConfig struct {
	HealthInterval          models.Duration `json:"health_interval,omitempty"`
	ReconnectInterval       models.Duration `json:"reconnect_interval,omitempty"`
	StaleAfter              models.Duration `json:"stale_after,omitempty"`
	ReconnectTimeout        models.Duration `json:"reconnect_timeout,omitempty"`
	MaxConcurrentReconnects int             `json:"max_concurrent_reconnects,omitempty"`
}

// ApplyDefaults fills every zero field with its package default.
func (c *MonitorConfig) ApplyDefaults() {
	if c.HealthInterval == 0 {
		c.HealthInterval = models.Duration(DefaultHealthInterval)
	}

	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = models.Duration(DefaultReconnectInterval)
	}

	if c.StaleAfter == 0 {
		c.StaleAfter = models.Duration(DefaultStaleAfter)
	}

	if c.ReconnectTimeout == 0 {
		c.ReconnectTimeout = models.Duration(DefaultReconnectTimeout)
	}

	if c.MaxConcurrentReconnects <= 0 {
		c.MaxConcurrentReconnects = DefaultMaxConcurrentReconnects
	}
}

// Config assembles a fleet: the shared socket hub, the per-device defaults
// every drone starts from, supervision intervals, and optional event
// publishing. Events require a NATS config; both may be nil.
type Config struct {
	Hub     comms.Config         `json:"hub"`
	Drone   drone.Config         `json:"drone"`
	Monitor MonitorConfig        `json:"monitor"`
	Events  *models.EventsConfig `json:"events,omitempty"`
	NATS    *models.NATSConfig   `json:"nats,omitempty"`
}

// DefaultConfig returns a Config with every tunable at its default.
func DefaultConfig() Config {
	cfg := Config{
		Hub:   comms.DefaultConfig(),
		Drone: drone.DefaultConfig(),
	}
	cfg.Monitor.ApplyDefaults()

	return cfg
}
