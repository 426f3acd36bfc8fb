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

package models

import (
	"errors"
	"fmt"
	"net"
)

var (
	ErrNoDevices       = errors.New("fleet requires at least one device")
	ErrInvalidDeviceIP = errors.New("invalid device ip")
	ErrDuplicateDevice = errors.New("duplicate device ip")
)

// DeviceSpec identifies one vehicle in the fleet definition. ID is optional;
// the orchestrator generates one when it is empty. Zero ports mean the fleet
// defaults.
type DeviceSpec struct {
	ID          string `json:"id,omitempty"`
	IP          string `json:"ip"`
	ControlPort int    `json:"control_port,omitempty"`
	VideoPort   int    `json:"video_port,omitempty"`
}

// FleetConfig is the on-disk fleet definition. Device order is preserved and
// becomes the fleet iteration order.
type FleetConfig struct {
	Devices []DeviceSpec `json:"devices"`
}

// Validate ensures every device record is addressable and unique by IP.
func (c *FleetConfig) Validate() error {
	if len(c.Devices) == 0 {
		return ErrNoDevices
	}

	seen := make(map[string]struct{}, len(c.Devices))

	for i := range c.Devices {
		d := &c.Devices[i]

		if net.ParseIP(d.IP) == nil {
			return fmt.Errorf("%w: %q", ErrInvalidDeviceIP, d.IP)
		}

		if _, ok := seen[d.IP]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateDevice, d.IP)
		}

		seen[d.IP] = struct{}{}
	}

	return nil
}
