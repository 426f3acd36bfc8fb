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

package comms

import "fmt"

const (
	// DefaultControlPort is the shared command/response port for the fleet.
	DefaultControlPort = 8889

	// DefaultStatePort is the shared telemetry port for the fleet.
	DefaultStatePort = 8890

	// DefaultReadBufferSize bounds a single inbound datagram. Command
	// replies and telemetry lines are short ASCII strings, well under 1 KiB.
	DefaultReadBufferSize = 1024

	// relayBufferSize bounds a single video datagram. Video senders emit
	// MTU-sized packets, so 2 KiB leaves headroom.
	relayBufferSize = 2048
)

// Config holds the socket configuration for a Hub. Ports are explicit
// per-instance settings so tests can bind ephemeral ports.
type Config struct {
	// BindAddr is the local address the shared sockets bind to.
	// Empty means all interfaces.
	BindAddr string `json:"bind_addr,omitempty"`

	// ControlPort is the local port for command/response traffic.
	// Zero selects an ephemeral port.
	ControlPort int `json:"control_port"`

	// StatePort is the local port for telemetry traffic.
	// Zero selects an ephemeral port.
	StatePort int `json:"state_port"`

	// ReadBufferSize is the per-datagram read buffer for the control and
	// state sockets.
	ReadBufferSize int `json:"read_buffer_size,omitempty"`
}

// DefaultConfig returns the fleet-standard socket configuration.
func DefaultConfig() Config {
	return Config{
		ControlPort:    DefaultControlPort,
		StatePort:      DefaultStatePort,
		ReadBufferSize: DefaultReadBufferSize,
	}
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.ControlPort < 0 || c.ControlPort > 65535 {
		return fmt.Errorf("%w: %d", errInvalidControlPort, c.ControlPort)
	}

	if c.StatePort < 0 || c.StatePort > 65535 {
		return fmt.Errorf("%w: %d", errInvalidStatePort, c.StatePort)
	}

	if c.ControlPort != 0 && c.ControlPort == c.StatePort {
		return fmt.Errorf("%w: %d", errSamePort, c.ControlPort)
	}

	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}

	return nil
}
