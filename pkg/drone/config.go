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

package drone

import (
	"time"

	"github.com/carverauto/flightdeck/pkg/comms"
	"github.com/carverauto/flightdeck/pkg/models"
)

const (
	// DefaultHost is the device address in direct (AP) mode.
	DefaultHost = "192.168.10.1"

	// DefaultVideoPort is the port the device streams video to unless
	// re-pointed with SetVideoPort.
	DefaultVideoPort = 11111

	// DefaultRetryCount is the number of retries after a failed command.
	DefaultRetryCount = 3

	// DefaultResponseTimeout bounds one command round trip.
	DefaultResponseTimeout = 7 * time.Second

	// DefaultTakeoffTimeout bounds the takeoff round trip. The firmware can
	// take far longer to acknowledge takeoff than any other command.
	DefaultTakeoffTimeout = 20 * time.Second

	// DefaultCommandInterval is the minimum spacing between command round
	// trips. Firmware drops commands sent closer together than this.
	DefaultCommandInterval = 100 * time.Millisecond

	// DefaultRCInterval is the minimum spacing between rc stick packets;
	// faster calls are dropped, not queued.
	DefaultRCInterval = time.Millisecond

	// DefaultPollInterval is how often the send path re-checks the mailbox
	// while waiting for a reply.
	DefaultPollInterval = 100 * time.Millisecond
)

// Video stream settings accepted by the set* commands.
const (
	BitrateAuto  = 0
	Bitrate1Mbps = 1
	Bitrate2Mbps = 2
	Bitrate3Mbps = 3
	Bitrate4Mbps = 4
	Bitrate5Mbps = 5

	Resolution480P = "low"
	Resolution720P = "high"

	FPS5  = "low"
	FPS15 = "middle"
	FPS30 = "high"

	CameraForward  = 0
	CameraDownward = 1
)

// Mission pad detection directions for SetMissionPadDetectionDirection.
const (
	DetectionDownward = 0
	DetectionForward  = 1
	DetectionBoth     = 2
)

// Config holds per-device settings. Zero fields take the package defaults,
// so an empty Config describes a single device in direct mode.
type Config struct {
	// ID names the device in logs, events, and swarm lookups.
	ID string `json:"id"`

	// Host is the device IP.
	Host string `json:"host,omitempty"`

	// ControlPort is the device's command port. The fleet shares one hub
	// socket, so this normally mirrors the hub's control port.
	ControlPort int `json:"control_port,omitempty"`

	// VideoPort is where this device should send its video stream.
	VideoPort int `json:"video_port,omitempty"`

	// RetryCount is the retry budget for state-changing commands; the
	// total attempt count is RetryCount+1. Zero or negative uses the
	// default.
	RetryCount int `json:"retry_count,omitempty"`

	ResponseTimeout models.Duration `json:"response_timeout,omitempty"`
	TakeoffTimeout  models.Duration `json:"takeoff_timeout,omitempty"`
	CommandInterval models.Duration `json:"command_interval,omitempty"`
	RCInterval      models.Duration `json:"rc_interval,omitempty"`
	PollInterval    models.Duration `json:"poll_interval,omitempty"`
}

// DefaultConfig returns a Config for one device in direct mode.
func DefaultConfig() Config {
	c := Config{}
	c.ApplyDefaults()

	return c
}

// ApplyDefaults fills every zero field with its package default.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}

	if c.ControlPort == 0 {
		c.ControlPort = comms.DefaultControlPort
	}

	if c.VideoPort == 0 {
		c.VideoPort = DefaultVideoPort
	}

	if c.RetryCount <= 0 {
		c.RetryCount = DefaultRetryCount
	}

	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = models.Duration(DefaultResponseTimeout)
	}

	if c.TakeoffTimeout == 0 {
		c.TakeoffTimeout = models.Duration(DefaultTakeoffTimeout)
	}

	if c.CommandInterval == 0 {
		c.CommandInterval = models.Duration(DefaultCommandInterval)
	}

	if c.RCInterval == 0 {
		c.RCInterval = models.Duration(DefaultRCInterval)
	}

	if c.PollInterval == 0 {
		c.PollInterval = models.Duration(DefaultPollInterval)
	}
}
