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
	"time"

	"github.com/carverauto/flightdeck/pkg/comms"
)

const (
	connectStateTimeout = time.Second
	connectStatePoll    = 50 * time.Millisecond
)

// Connect enters SDK mode. Call this before any of the control functions.
// With waitForState it also waits up to a second for the first telemetry
// packet and fails with ErrNoStatePacket if none arrives.
func (d *Drone) Connect(waitForState bool) error {
	if err := d.SendControlCommand("command", d.responseTimeout); err != nil {
		return err
	}

	if !waitForState {
		return nil
	}

	deadline := time.Now().Add(connectStateTimeout)

	for time.Now().Before(deadline) {
		if !d.state.Empty() {
			return nil
		}

		time.Sleep(connectStatePoll)
	}

	if d.state.Empty() {
		return ErrNoStatePacket
	}

	return nil
}

// Keepalive prevents the device from auto-landing after 15s of inactivity.
func (d *Drone) Keepalive() error {
	return d.SendControlCommand("keepalive", d.responseTimeout)
}

// TurnMotorOn spins the motors without flying, mainly for cooling.
func (d *Drone) TurnMotorOn() error {
	return d.SendControlCommand("motoron", d.responseTimeout)
}

// TurnMotorOff leaves motor cooling mode.
func (d *Drone) TurnMotorOff() error {
	return d.SendControlCommand("motoroff", d.responseTimeout)
}

// InitiateThrowTakeoff arms throw takeoff: toss the device within 5s.
func (d *Drone) InitiateThrowTakeoff() error {
	if err := d.SendControlCommand("throwfly", d.responseTimeout); err != nil {
		return err
	}

	d.flying.Store(true)

	return nil
}

// Takeoff performs an automatic takeoff. The firmware can take much longer
// to acknowledge this than any other command, hence the dedicated timeout.
func (d *Drone) Takeoff() error {
	if err := d.SendControlCommand("takeoff", d.takeoffTimeout); err != nil {
		return err
	}

	d.flying.Store(true)

	return nil
}

// Land performs an automatic landing.
func (d *Drone) Land() error {
	if err := d.SendControlCommand("land", d.responseTimeout); err != nil {
		return err
	}

	d.flying.Store(false)

	return nil
}

// Emergency stops all motors immediately. Fire-and-forget: the device does
// not reliably reply once the motors cut out.
func (d *Drone) Emergency() {
	d.SendCommandWithoutReturn("emergency")
	d.flying.Store(false)
}

// Reboot reboots the device. Fire-and-forget.
func (d *Drone) Reboot() {
	d.SendCommandWithoutReturn("reboot")
}

// Move flies in direction (up, down, left, right, forward, back) by cm
// (20-500). Users normally call one of the Move* wrappers instead.
func (d *Drone) Move(direction string, cm int) error {
	return d.SendControlCommand(fmt.Sprintf("%s %d", direction, cm), d.responseTimeout)
}

// MoveUp flies cm up (20-500).
func (d *Drone) MoveUp(cm int) error { return d.Move("up", cm) }

// MoveDown flies cm down (20-500).
func (d *Drone) MoveDown(cm int) error { return d.Move("down", cm) }

// MoveLeft flies cm left (20-500).
func (d *Drone) MoveLeft(cm int) error { return d.Move("left", cm) }

// MoveRight flies cm right (20-500).
func (d *Drone) MoveRight(cm int) error { return d.Move("right", cm) }

// MoveForward flies cm forward (20-500).
func (d *Drone) MoveForward(cm int) error { return d.Move("forward", cm) }

// MoveBack flies cm backwards (20-500).
func (d *Drone) MoveBack(cm int) error { return d.Move("back", cm) }

// RotateClockwise rotates degrees clockwise (1-360).
func (d *Drone) RotateClockwise(degrees int) error {
	return d.SendControlCommand(fmt.Sprintf("cw %d", degrees), d.responseTimeout)
}

// RotateCounterClockwise rotates degrees counter-clockwise (1-360).
func (d *Drone) RotateCounterClockwise(degrees int) error {
	return d.SendControlCommand(fmt.Sprintf("ccw %d", degrees), d.responseTimeout)
}

// Flip performs a flip maneuver in direction l, r, f, or b. Users normally
// call one of the Flip* wrappers instead.
func (d *Drone) Flip(direction string) error {
	return d.SendControlCommand(fmt.Sprintf("flip %s", direction), d.responseTimeout)
}

// FlipLeft flips to the left.
func (d *Drone) FlipLeft() error { return d.Flip("l") }

// FlipRight flips to the right.
func (d *Drone) FlipRight() error { return d.Flip("r") }

// FlipForward flips forward.
func (d *Drone) FlipForward() error { return d.Flip("f") }

// FlipBack flips backwards.
func (d *Drone) FlipBack() error { return d.Flip("b") }

// GoXYZSpeed flies to x y z (each -500-500) relative to the current
// position at speed cm/s (10-100).
func (d *Drone) GoXYZSpeed(x, y, z, speed int) error {
	return d.SendControlCommand(fmt.Sprintf("go %d %d %d %d", x, y, z, speed), d.responseTimeout)
}

// CurveXYZSpeed flies to x2 y2 z2 in a curve via x1 y1 z1 at speed cm/s
// (10-60). Both points are relative to the current position and must form a
// circle arc with it; the arc radius must stay within 0.5-10m.
func (d *Drone) CurveXYZSpeed(x1, y1, z1, x2, y2, z2, speed int) error {
	cmd := fmt.Sprintf("curve %d %d %d %d %d %d %d", x1, y1, z1, x2, y2, z2, speed)
	return d.SendControlCommand(cmd, d.responseTimeout)
}

// GoXYZSpeedMid flies to x y z relative to mission pad mid (1-8).
func (d *Drone) GoXYZSpeedMid(x, y, z, speed, mid int) error {
	cmd := fmt.Sprintf("go %d %d %d %d m%d", x, y, z, speed, mid)
	return d.SendControlCommand(cmd, d.responseTimeout)
}

// CurveXYZSpeedMid flies a curve with both points relative to mission pad
// mid (1-8).
func (d *Drone) CurveXYZSpeedMid(x1, y1, z1, x2, y2, z2, speed, mid int) error {
	cmd := fmt.Sprintf("curve %d %d %d %d %d %d %d m%d", x1, y1, z1, x2, y2, z2, speed, mid)
	return d.SendControlCommand(cmd, d.responseTimeout)
}

// GoXYZSpeedYawMid flies to x y z relative to mission pad mid1, then to
// 0 0 z over mission pad mid2, rotating to yaw relative to mid2's rotation.
func (d *Drone) GoXYZSpeedYawMid(x, y, z, speed, yaw, mid1, mid2 int) error {
	cmd := fmt.Sprintf("jump %d %d %d %d %d m%d m%d", x, y, z, speed, yaw, mid1, mid2)
	return d.SendControlCommand(cmd, d.responseTimeout)
}

// EnableMissionPads turns on mission pad detection.
func (d *Drone) EnableMissionPads() error {
	return d.SendControlCommand("mon", d.responseTimeout)
}

// DisableMissionPads turns off mission pad detection.
func (d *Drone) DisableMissionPads() error {
	return d.SendControlCommand("moff", d.responseTimeout)
}

// SetMissionPadDetectionDirection selects the detection cameras; see the
// Detection* constants. Detection runs at 20Hz for a single direction and
// 10Hz for both.
func (d *Drone) SetMissionPadDetectionDirection(direction int) error {
	return d.SendControlCommand(fmt.Sprintf("mdirection %d", direction), d.responseTimeout)
}

// SetSpeed sets the cruise speed to cm/s (10-100).
func (d *Drone) SetSpeed(speed int) error {
	return d.SendControlCommand(fmt.Sprintf("speed %d", speed), d.responseTimeout)
}

// SendRCControl sends stick input on four channels, each clamped to
// [-100, 100]. Calls arriving faster than RCInterval are dropped, not
// queued; stale stick input is worse than none.
func (d *Drone) SendRCControl(leftRight, forwardBackward, upDown, yaw int) {
	if !d.rcLimiter.Allow() {
		return
	}

	cmd := fmt.Sprintf("rc %d %d %d %d",
		clamp100(leftRight), clamp100(forwardBackward), clamp100(upDown), clamp100(yaw))
	d.SendCommandWithoutReturn(cmd)
}

func clamp100(v int) int {
	if v < -100 {
		return -100
	}

	if v > 100 {
		return 100
	}

	return v
}

// SetWiFiCredentials sets the device's own access point SSID and password.
// The device reboots afterwards.
func (d *Drone) SetWiFiCredentials(ssid, password string) error {
	return d.SendControlCommand(fmt.Sprintf("wifi %s %s", ssid, password), d.responseTimeout)
}

// ConnectToWiFi joins an existing network (station mode). The device
// reboots afterwards.
func (d *Drone) ConnectToWiFi(ssid, password string) error {
	return d.SendControlCommand(fmt.Sprintf("ap %s %s", ssid, password), d.responseTimeout)
}

// SetNetworkPorts reconfigures the device's state and video stream ports.
func (d *Drone) SetNetworkPorts(statePort, videoPort int) error {
	return d.SendControlCommand(fmt.Sprintf("port %d %d", statePort, videoPort), d.responseTimeout)
}

// SetVideoPort re-points only the video stream, keeping the state port at
// the fleet default. Swarms give every device its own video port this way.
func (d *Drone) SetVideoPort(port int) error {
	cmd := fmt.Sprintf("port %d %d", comms.DefaultStatePort, port)
	if err := d.SendControlCommand(cmd, d.responseTimeout); err != nil {
		return err
	}

	d.videoPort.Store(int32(port))

	return nil
}

// VideoPort returns the port this device currently streams video to.
func (d *Drone) VideoPort() int {
	return int(d.videoPort.Load())
}

// SetVideoBitrate sets the video bitrate; see the Bitrate* constants.
func (d *Drone) SetVideoBitrate(bitrate int) error {
	return d.SendControlCommand(fmt.Sprintf("setbitrate %d", bitrate), d.responseTimeout)
}

// SetVideoResolution sets the video resolution; see the Resolution*
// constants.
func (d *Drone) SetVideoResolution(resolution string) error {
	return d.SendControlCommand(fmt.Sprintf("setresolution %s", resolution), d.responseTimeout)
}

// SetVideoFPS sets the video frame rate; see the FPS* constants.
func (d *Drone) SetVideoFPS(fps string) error {
	return d.SendControlCommand(fmt.Sprintf("setfps %s", fps), d.responseTimeout)
}

// SetVideoDirection selects the forward color camera or the downward
// IR-sensitive camera; see the Camera* constants.
func (d *Drone) SetVideoDirection(direction int) error {
	return d.SendControlCommand(fmt.Sprintf("downvision %d", direction), d.responseTimeout)
}

// SendExpansionCommand addresses the ESP32 expansion board on a Talent,
// e.g. SendExpansionCommand("led 255 0 0").
func (d *Drone) SendExpansionCommand(cmd string) error {
	return d.SendControlCommand(fmt.Sprintf("EXT %s", cmd), d.responseTimeout)
}

// StreamOn turns on video streaming, re-pointing the stream first when this
// device's video port differs from the default.
func (d *Drone) StreamOn() error {
	if port := d.VideoPort(); port != DefaultVideoPort {
		if err := d.SetVideoPort(port); err != nil {
			return err
		}
	}

	if err := d.SendControlCommand("streamon", d.responseTimeout); err != nil {
		return err
	}

	d.streaming.Store(true)

	return nil
}

// StreamOff turns off video streaming.
func (d *Drone) StreamOff() error {
	if err := d.SendControlCommand("streamoff", d.responseTimeout); err != nil {
		return err
	}

	d.streaming.Store(false)

	return nil
}
