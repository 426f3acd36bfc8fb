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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/flightdeck/pkg/telemetry"
)

const realStateLine = "mid:-1;x:-100;y:-100;z:-100;mpry:0,0,0;pitch:0;roll:-1;yaw:-45;" +
	"vgx:0;vgy:0;vgz:0;templ:69;temph:72;tof:10;h:0;bat:88;baro:-42.06;" +
	"time:0;agx:-14.00;agy:7.00;agz:-1000.00;"

func TestStateAccessors(t *testing.T) {
	d, fake := newTestDrone(t, nil)

	d.StateHandler()([]byte(realStateLine), fake.addr)

	pitch, err := d.Pitch()
	require.NoError(t, err)
	assert.Equal(t, 0, pitch)

	yaw, err := d.Yaw()
	require.NoError(t, err)
	assert.Equal(t, -45, yaw)

	bat, err := d.Battery()
	require.NoError(t, err)
	assert.Equal(t, 88, bat)

	pad, err := d.MissionPadID()
	require.NoError(t, err)
	assert.Equal(t, -1, pad)

	baro, err := d.Barometer()
	require.NoError(t, err)
	assert.InDelta(t, -4206.0, baro, 0.001)

	temp, err := d.Temperature()
	require.NoError(t, err)
	assert.InDelta(t, 70.5, temp, 0.001)

	agz, err := d.AccelerationZ()
	require.NoError(t, err)
	assert.InDelta(t, -1000.0, agz, 0.001)

	tof, err := d.DistanceTOF()
	require.NoError(t, err)
	assert.Equal(t, 10, tof)
}

func TestStateAccessorsMissingField(t *testing.T) {
	d, fake := newTestDrone(t, nil)

	d.StateHandler()([]byte("bat:88;"), fake.addr)

	_, err := d.Pitch()
	require.ErrorIs(t, err, telemetry.ErrFieldMissing)
}

func TestQueryCommands(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		call     func(d *Drone) (interface{}, error)
		want     interface{}
		wantSent string
	}{
		{
			name:  "speed",
			reply: "100",
			call: func(d *Drone) (interface{}, error) {
				return d.QuerySpeed()
			},
			want:     100,
			wantSent: "speed?",
		},
		{
			name:  "battery",
			reply: "87",
			call: func(d *Drone) (interface{}, error) {
				return d.QueryBattery()
			},
			want:     87,
			wantSent: "battery?",
		},
		{
			name:  "flight time",
			reply: "42",
			call: func(d *Drone) (interface{}, error) {
				return d.QueryFlightTime()
			},
			want:     42,
			wantSent: "time?",
		},
		{
			name:  "height",
			reply: "110",
			call: func(d *Drone) (interface{}, error) {
				return d.QueryHeight()
			},
			want:     110,
			wantSent: "height?",
		},
		{
			name:  "temperature",
			reply: "65",
			call: func(d *Drone) (interface{}, error) {
				return d.QueryTemperature()
			},
			want:     65,
			wantSent: "temp?",
		},
		{
			name:  "barometer scales to cm",
			reply: "32",
			call: func(d *Drone) (interface{}, error) {
				return d.QueryBarometer()
			},
			want:     3200,
			wantSent: "baro?",
		},
		{
			name:  "tof strips unit",
			reply: "801mm",
			call: func(d *Drone) (interface{}, error) {
				return d.QueryDistanceTOF()
			},
			want:     80.1,
			wantSent: "tof?",
		},
		{
			name:  "wifi snr",
			reply: "90",
			call: func(d *Drone) (interface{}, error) {
				return d.QueryWiFiSignalNoiseRatio()
			},
			want:     "90",
			wantSent: "wifi?",
		},
		{
			name:  "sdk version",
			reply: "30",
			call: func(d *Drone) (interface{}, error) {
				return d.QuerySDKVersion()
			},
			want:     "30",
			wantSent: "sdk?",
		},
		{
			name:  "serial number",
			reply: "0TQZK5RED00F42",
			call: func(d *Drone) (interface{}, error) {
				return d.QuerySerialNumber()
			},
			want:     "0TQZK5RED00F42",
			wantSent: "sn?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, fake := newTestDrone(t, func(string) []string { return []string{tt.reply} })

			got, err := tt.call(d)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []string{tt.wantSent}, fake.commands())
		})
	}
}

func TestQueryAttitudeParsesStateLine(t *testing.T) {
	d, _ := newTestDrone(t, func(string) []string { return []string{"pitch:1;roll:-2;yaw:30;"} })

	attitude, err := d.QueryAttitude()
	require.NoError(t, err)

	pitch, err := attitude.Int("pitch")
	require.NoError(t, err)
	assert.Equal(t, 1, pitch)

	roll, err := attitude.Int("roll")
	require.NoError(t, err)
	assert.Equal(t, -2, roll)

	yaw, err := attitude.Int("yaw")
	require.NoError(t, err)
	assert.Equal(t, 30, yaw)
}

func TestQueryIntParseFailure(t *testing.T) {
	d, _ := newTestDrone(t, func(string) []string { return []string{"unknown command"} })

	_, err := d.QueryBattery()
	require.Error(t, err)

	var readErr *ReadError

	assert.False(t, errors.As(err, &readErr),
		"a malformed numeric reply is a parse failure, not a device error")
}
