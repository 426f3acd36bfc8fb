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

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/flightdeck/pkg/logger"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()

	cfg := Config{
		BindAddr:       "127.0.0.1",
		ControlPort:    0,
		StatePort:      0,
		ReadBufferSize: DefaultReadBufferSize,
	}

	hub, err := NewHub(cfg, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = hub.Stop(stopCtx)
	})

	return hub
}

// dialFrom opens a client socket bound to a specific loopback source IP so
// the hub sees distinct devices.
func dialFrom(t *testing.T, sourceIP string, dst *net.UDPAddr) *net.UDPConn {
	t.Helper()

	conn, err := net.DialUDP("udp4", &net.UDPAddr{IP: net.ParseIP(sourceIP)}, dst)
	if err != nil && sourceIP != "127.0.0.1" {
		t.Skipf("loopback alias %s not available: %v", sourceIP, err)
	}

	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func writeString(t *testing.T, conn *net.UDPConn, payload string) {
	t.Helper()

	_, err := conn.Write([]byte(payload))
	require.NoError(t, err)
}

type recordingHandler struct {
	mu       sync.Mutex
	payloads []string
	sources  []string
}

func (r *recordingHandler) handle(payload []byte, src *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.payloads = append(r.payloads, string(payload))
	r.sources = append(r.sources, src.IP.String())
}

func (r *recordingHandler) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.payloads...)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			config: DefaultConfig(),
		},
		{
			name:   "ephemeral ports for tests",
			config: Config{ControlPort: 0, StatePort: 0},
		},
		{
			name:    "control and state ports collide",
			config:  Config{ControlPort: 8889, StatePort: 8889},
			wantErr: true,
		},
		{
			name:    "control port out of range",
			config:  Config{ControlPort: 70000, StatePort: 8890},
			wantErr: true,
		},
		{
			name:    "negative state port",
			config:  Config{ControlPort: 8889, StatePort: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.NotZero(t, tt.config.ReadBufferSize)
		})
	}
}

func TestHubDemultiplexesBySourceIP(t *testing.T) {
	hub := newTestHub(t)

	one := &recordingHandler{}
	two := &recordingHandler{}

	hub.RegisterControlHandler("127.0.0.1", one.handle)
	hub.RegisterControlHandler("127.0.0.2", two.handle)

	require.NoError(t, hub.Start())

	connTwo := dialFrom(t, "127.0.0.2", hub.ControlLocalAddr())
	connOne := dialFrom(t, "127.0.0.1", hub.ControlLocalAddr())

	writeString(t, connOne, "ok")
	writeString(t, connTwo, "error Not joystick")
	writeString(t, connOne, "100")

	require.Eventually(t, func() bool {
		return len(one.snapshot()) == 2 && len(two.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond, "expected each handler to receive only its own datagrams")

	assert.Equal(t, []string{"ok", "100"}, one.snapshot())
	assert.Equal(t, []string{"error Not joystick"}, two.snapshot())
}

func TestHubDropsUnregisteredSource(t *testing.T) {
	hub := newTestHub(t)

	rec := &recordingHandler{}
	hub.RegisterControlHandler("127.0.0.1", rec.handle)

	require.NoError(t, hub.Start())

	stranger := dialFrom(t, "127.0.0.3", hub.ControlLocalAddr())
	known := dialFrom(t, "127.0.0.1", hub.ControlLocalAddr())

	// Both datagrams hit the same socket; the loop is serial, so once the
	// known payload arrives the unregistered one has already been dropped.
	writeString(t, stranger, "should be dropped")
	writeString(t, known, "ok")

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"ok"}, rec.snapshot())
}

func TestHubSurvivesPanickingHandler(t *testing.T) {
	hub := newTestHub(t)

	rec := &recordingHandler{}

	var poisoned atomic.Bool

	hub.RegisterControlHandler("127.0.0.1", func(payload []byte, src *net.UDPAddr) {
		if poisoned.CompareAndSwap(false, true) {
			panic("poisoned payload")
		}

		rec.handle(payload, src)
	})

	require.NoError(t, hub.Start())

	conn := dialFrom(t, "127.0.0.1", hub.ControlLocalAddr())

	writeString(t, conn, "first")
	writeString(t, conn, "second")

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond, "loop should survive the panic and deliver the next datagram")

	assert.Equal(t, []string{"second"}, rec.snapshot())
}

func TestHubStateSocketDelivery(t *testing.T) {
	hub := newTestHub(t)

	rec := &recordingHandler{}
	hub.RegisterStateHandler("127.0.0.1", rec.handle)

	require.NoError(t, hub.Start())

	conn := dialFrom(t, "127.0.0.1", hub.StateLocalAddr())
	writeString(t, conn, "pitch:10;roll:-3;bat:88;")

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"pitch:10;roll:-3;bat:88;"}, rec.snapshot())
}

func TestHubLastRegistrationWins(t *testing.T) {
	hub := newTestHub(t)

	stale := &recordingHandler{}
	fresh := &recordingHandler{}

	hub.RegisterControlHandler("127.0.0.1", stale.handle)
	hub.RegisterControlHandler("127.0.0.1", fresh.handle)

	require.NoError(t, hub.Start())

	conn := dialFrom(t, "127.0.0.1", hub.ControlLocalAddr())
	writeString(t, conn, "ok")

	require.Eventually(t, func() bool {
		return len(fresh.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, stale.snapshot())
}

func TestHubSendCommand(t *testing.T) {
	hub := newTestHub(t)

	device, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	defer func() { _ = device.Close() }()

	dst, ok := device.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)

	require.NoError(t, hub.SendCommand("takeoff", dst))

	buf := make([]byte, 64)
	require.NoError(t, device.SetReadDeadline(time.Now().Add(2*time.Second)))

	n, src, err := device.ReadFromUDP(buf)
	require.NoError(t, err)

	assert.Equal(t, "takeoff", string(buf[:n]))
	assert.Equal(t, hub.ControlLocalAddr().Port, src.Port, "replies must target the shared control socket")
}

func TestHubStartTwice(t *testing.T) {
	hub := newTestHub(t)

	require.NoError(t, hub.Start())
	require.ErrorIs(t, hub.Start(), ErrHubStarted)
}

func TestHubStopIsIdempotent(t *testing.T) {
	hub := newTestHub(t)

	require.NoError(t, hub.Start())

	ctx := context.Background()
	require.NoError(t, hub.Stop(ctx))
	require.NoError(t, hub.Stop(ctx))

	require.ErrorIs(t, hub.AddVideoRelay(0), ErrHubStopped)
}
