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
	"fmt"
	"strconv"
	"strings"

	"github.com/carverauto/flightdeck/pkg/telemetry"
)

// The barometer reports meters; callers work in cm.
const barometerScale = 100

// State accessors read the latest telemetry snapshot without any network
// round trip and fail when the field is absent. The Query* commands below
// ask the device directly and are much slower.

// MissionPadID returns the detected mission pad (1-8), or -1 for none.
// Requires EnableMissionPads.
func (d *Drone) MissionPadID() (int, error) { return d.stateInt("mid") }

// MissionPadDistanceX returns the X distance in cm to the current pad.
func (d *Drone) MissionPadDistanceX() (int, error) { return d.stateInt("x") }

// MissionPadDistanceY returns the Y distance in cm to the current pad.
func (d *Drone) MissionPadDistanceY() (int, error) { return d.stateInt("y") }

// MissionPadDistanceZ returns the Z distance in cm to the current pad.
func (d *Drone) MissionPadDistanceZ() (int, error) { return d.stateInt("z") }

// Pitch returns the pitch in degrees.
func (d *Drone) Pitch() (int, error) { return d.stateInt("pitch") }

// Roll returns the roll in degrees.
func (d *Drone) Roll() (int, error) { return d.stateInt("roll") }

// Yaw returns the yaw in degrees.
func (d *Drone) Yaw() (int, error) { return d.stateInt("yaw") }

// SpeedX returns the X axis speed.
func (d *Drone) SpeedX() (int, error) { return d.stateInt("vgx") }

// SpeedY returns the Y axis speed.
func (d *Drone) SpeedY() (int, error) { return d.stateInt("vgy") }

// SpeedZ returns the Z axis speed.
func (d *Drone) SpeedZ() (int, error) { return d.stateInt("vgz") }

// AccelerationX returns the X axis acceleration.
func (d *Drone) AccelerationX() (float64, error) { return d.stateFloat("agx") }

// AccelerationY returns the Y axis acceleration.
func (d *Drone) AccelerationY() (float64, error) { return d.stateFloat("agy") }

// AccelerationZ returns the Z axis acceleration.
func (d *Drone) AccelerationZ() (float64, error) { return d.stateFloat("agz") }

// LowestTemperature returns the lowest onboard temperature in °C.
func (d *Drone) LowestTemperature() (int, error) { return d.stateInt("templ") }

// HighestTemperature returns the highest onboard temperature in °C.
func (d *Drone) HighestTemperature() (int, error) { return d.stateInt("temph") }

// Temperature returns the average onboard temperature in °C.
func (d *Drone) Temperature() (float64, error) {
	low, err := d.LowestTemperature()
	if err != nil {
		return 0, err
	}

	high, err := d.HighestTemperature()
	if err != nil {
		return 0, err
	}

	return float64(low+high) / 2, nil
}

// Height returns the height above the takeoff point in cm.
func (d *Drone) Height() (int, error) { return d.stateInt("h") }

// DistanceTOF returns the time-of-flight sensor distance in cm.
func (d *Drone) DistanceTOF() (int, error) { return d.stateInt("tof") }

// Barometer returns the barometric altitude in cm. This resembles absolute
// height.
func (d *Drone) Barometer() (float64, error) {
	baro, err := d.stateFloat("baro")
	if err != nil {
		return 0, err
	}

	return baro * barometerScale, nil
}

// FlightTime returns how long the motors have been active, in seconds.
func (d *Drone) FlightTime() (int, error) { return d.stateInt("time") }

// Battery returns the battery percentage (0-100).
func (d *Drone) Battery() (int, error) { return d.stateInt("bat") }

func (d *Drone) stateInt(key string) (int, error) {
	return d.state.Current().Int(key)
}

func (d *Drone) stateFloat(key string) (float64, error) {
	return d.state.Current().Float(key)
}

// QuerySpeed queries the speed setting in cm/s (1-100).
func (d *Drone) QuerySpeed() (int, error) { return d.readInt("speed?") }

// QueryBattery queries the battery percentage. Battery is usually faster.
func (d *Drone) QueryBattery() (int, error) { return d.readInt("battery?") }

// QueryFlightTime queries the flight time in seconds. FlightTime is usually
// faster.
func (d *Drone) QueryFlightTime() (int, error) { return d.readInt("time?") }

// QueryHeight queries the height in cm. Height is usually faster.
func (d *Drone) QueryHeight() (int, error) { return d.readInt("height?") }

// QueryTemperature queries the temperature in °C. Temperature is usually
// faster.
func (d *Drone) QueryTemperature() (int, error) { return d.readInt("temp?") }

// QueryAttitude queries IMU attitude data as a pitch/roll/yaw snapshot.
// The reply uses the state line format.
func (d *Drone) QueryAttitude() (telemetry.Snapshot, error) {
	response, err := d.SendReadCommand("attitude?")
	if err != nil {
		return nil, err
	}

	return telemetry.Parse(response, d.logger), nil
}

// QueryBarometer queries the barometric altitude in cm. Barometer is
// usually faster.
func (d *Drone) QueryBarometer() (int, error) {
	baro, err := d.readInt("baro?")
	if err != nil {
		return 0, err
	}

	return baro * barometerScale, nil
}

// QueryDistanceTOF queries the time-of-flight distance in cm. The device
// replies in millimeters, e.g. "801mm". DistanceTOF is usually faster.
func (d *Drone) QueryDistanceTOF() (float64, error) {
	response, err := d.SendReadCommand("tof?")
	if err != nil {
		return 0, err
	}

	mm, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(response), "mm"))
	if err != nil {
		return 0, fmt.Errorf("failed to parse \"tof?\" reply %q: %w", response, err)
	}

	return float64(mm) / 10, nil
}

// QueryWiFiSignalNoiseRatio queries the Wi-Fi SNR.
func (d *Drone) QueryWiFiSignalNoiseRatio() (string, error) {
	return d.SendReadCommand("wifi?")
}

// QuerySDKVersion queries the SDK version.
func (d *Drone) QuerySDKVersion() (string, error) {
	return d.SendReadCommand("sdk?")
}

// QuerySerialNumber queries the serial number.
func (d *Drone) QuerySerialNumber() (string, error) {
	return d.SendReadCommand("sn?")
}

// QueryActive queries the active status.
func (d *Drone) QueryActive() (string, error) {
	return d.SendReadCommand("active?")
}
