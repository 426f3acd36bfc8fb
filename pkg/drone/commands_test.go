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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/flightdeck/pkg/models"
)

func TestCommandWireFormats(t *testing.T) {
	tests := []struct {
		name string
		call func(d *Drone) error
		want []string
	}{
		{"keepalive", func(d *Drone) error { return d.Keepalive() }, []string{"keepalive"}},
		{"motor on", func(d *Drone) error { return d.TurnMotorOn() }, []string{"motoron"}},
		{"motor off", func(d *Drone) error { return d.TurnMotorOff() }, []string{"motoroff"}},
		{"throw takeoff", func(d *Drone) error { return d.InitiateThrowTakeoff() }, []string{"throwfly"}},
		{"move up", func(d *Drone) error { return d.MoveUp(50) }, []string{"up 50"}},
		{"move back", func(d *Drone) error { return d.MoveBack(120) }, []string{"back 120"}},
		{"rotate cw", func(d *Drone) error { return d.RotateClockwise(90) }, []string{"cw 90"}},
		{"rotate ccw", func(d *Drone) error { return d.RotateCounterClockwise(45) }, []string{"ccw 45"}},
		{"flip left", func(d *Drone) error { return d.FlipLeft() }, []string{"flip l"}},
		{"flip forward", func(d *Drone) error { return d.FlipForward() }, []string{"flip f"}},
		{"go", func(d *Drone) error { return d.GoXYZSpeed(10, -20, 30, 40) }, []string{"go 10 -20 30 40"}},
		{
			"curve",
			func(d *Drone) error { return d.CurveXYZSpeed(10, 20, 30, 40, 50, 60, 30) },
			[]string{"curve 10 20 30 40 50 60 30"},
		},
		{
			"go relative to pad",
			func(d *Drone) error { return d.GoXYZSpeedMid(0, 0, 80, 40, 3) },
			[]string{"go 0 0 80 40 m3"},
		},
		{
			"curve relative to pad",
			func(d *Drone) error { return d.CurveXYZSpeedMid(10, 20, 30, 40, 50, 60, 30, 5) },
			[]string{"curve 10 20 30 40 50 60 30 m5"},
		},
		{
			"jump between pads",
			func(d *Drone) error { return d.GoXYZSpeedYawMid(0, 0, 100, 40, 90, 1, 2) },
			[]string{"jump 0 0 100 40 90 m1 m2"},
		},
		{"enable pads", func(d *Drone) error { return d.EnableMissionPads() }, []string{"mon"}},
		{"disable pads", func(d *Drone) error { return d.DisableMissionPads() }, []string{"moff"}},
		{
			"pad detection direction",
			func(d *Drone) error { return d.SetMissionPadDetectionDirection(DetectionBoth) },
			[]string{"mdirection 2"},
		},
		{"set speed", func(d *Drone) error { return d.SetSpeed(60) }, []string{"speed 60"}},
		{
			"wifi credentials",
			func(d *Drone) error { return d.SetWiFiCredentials("fleet", "secret") },
			[]string{"wifi fleet secret"},
		},
		{
			"join wifi",
			func(d *Drone) error { return d.ConnectToWiFi("hangar", "secret") },
			[]string{"ap hangar secret"},
		},
		{
			"network ports",
			func(d *Drone) error { return d.SetNetworkPorts(8890, 12000) },
			[]string{"port 8890 12000"},
		},
		{
			"video bitrate",
			func(d *Drone) error { return d.SetVideoBitrate(BitrateAuto) },
			[]string{"setbitrate 0"},
		},
		{
			"video resolution",
			func(d *Drone) error { return d.SetVideoResolution(Resolution720P) },
			[]string{"setresolution high"},
		},
		{"video fps", func(d *Drone) error { return d.SetVideoFPS(FPS30) }, []string{"setfps high"}},
		{
			"video direction",
			func(d *Drone) error { return d.SetVideoDirection(CameraDownward) },
			[]string{"downvision 1"},
		},
		{
			"expansion board",
			func(d *Drone) error { return d.SendExpansionCommand("led 255 0 0") },
			[]string{"EXT led 255 0 0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, fake := newTestDrone(t, replyOK)

			require.NoError(t, tt.call(d))
			assert.Equal(t, tt.want, fake.commands())
		})
	}
}

func TestTakeoffAndLandTrackFlying(t *testing.T) {
	d, fake := newTestDrone(t, replyOK)

	assert.False(t, d.Flying())

	require.NoError(t, d.Takeoff())
	assert.True(t, d.Flying())
	assert.Equal(t, []string{"takeoff"}, fake.commands())

	require.NoError(t, d.Land())
	assert.False(t, d.Flying())
}

func TestEmergencyCutsMotors(t *testing.T) {
	d, fake := newTestDrone(t, replyOK)

	require.NoError(t, d.Takeoff())

	d.Emergency()

	assert.False(t, d.Flying())
	assert.Equal(t, []string{"takeoff", "emergency"}, fake.commands())
}

func TestStreamOnDefaultPort(t *testing.T) {
	d, fake := newTestDrone(t, replyOK)

	require.NoError(t, d.StreamOn())
	assert.True(t, d.Streaming())
	assert.Equal(t, []string{"streamon"}, fake.commands())

	require.NoError(t, d.StreamOff())
	assert.False(t, d.Streaming())
}

func TestStreamOnRepointsCustomVideoPort(t *testing.T) {
	cfg := testConfig()
	cfg.VideoPort = 12345

	d, fake := newTestDroneWithConfig(t, cfg, replyOK)

	require.NoError(t, d.StreamOn())

	assert.Equal(t, []string{"port 8890 12345", "streamon"}, fake.commands())
	assert.Equal(t, 12345, d.VideoPort())
}

func TestSendRCControlClampsChannels(t *testing.T) {
	d, fake := newTestDrone(t, nil)

	d.SendRCControl(150, -150, 200, -101)

	assert.Equal(t, []string{"rc 100 -100 100 -100"}, fake.commands())
}

func TestSendRCControlDropsWithinInterval(t *testing.T) {
	cfg := testConfig()
	cfg.RCInterval = models.Duration(time.Hour)

	d, fake := newTestDroneWithConfig(t, cfg, nil)

	d.SendRCControl(0, 0, 0, 0)
	d.SendRCControl(10, 10, 10, 10)

	assert.Equal(t, []string{"rc 0 0 0 0"}, fake.commands(),
		"calls inside the rc interval are dropped, not queued")
}
