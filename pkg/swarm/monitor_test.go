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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/flightdeck/pkg/comms"
	"github.com/carverauto/flightdeck/pkg/drone"
	"github.com/carverauto/flightdeck/pkg/models"
)

// fakeClock hands out manually fired tickers keyed by interval. Now is real
// time: staleness math compares against telemetry timestamps, which the
// state cache stamps with the wall clock.
type fakeClock struct {
	mu      sync.Mutex
	tickers map[time.Duration]chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{tickers: make(map[time.Duration]chan time.Time)}
}

func (c *fakeClock) Now() time.Time {
	return time.Now()
}

func (c *fakeClock) Ticker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.tickers[d]
	if !ok {
		ch = make(chan time.Time, 1)
		c.tickers[d] = ch
	}

	return &fakeTicker{ch: ch}
}

// fire delivers one tick to the loop whose ticker runs on interval, waiting
// for the loop to register it first.
func (c *fakeClock) fire(t *testing.T, interval time.Duration) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for {
		c.mu.Lock()
		ch, ok := c.tickers[interval]
		c.mu.Unlock()

		if ok {
			ch <- time.Now()
			return
		}

		if time.Now().After(deadline) {
			t.Fatalf("no ticker registered for interval %s", interval)
		}

		time.Sleep(5 * time.Millisecond)
	}
}

type fakeTicker struct {
	ch chan time.Time
}

func (f *fakeTicker) Chan() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {}

type fakePublisher struct {
	mu        sync.Mutex
	offline   []string
	recovered []string
	firstSeen []string
}

func (p *fakePublisher) PublishDeviceOfflineEvent(_ context.Context, deviceID, _ string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.offline = append(p.offline, deviceID)

	return nil
}

func (p *fakePublisher) PublishDeviceRecoveredEvent(_ context.Context, deviceID, _ string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recovered = append(p.recovered, deviceID)

	return nil
}

func (p *fakePublisher) PublishDeviceFirstSeenEvent(_ context.Context, deviceID, _ string, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.firstSeen = append(p.firstSeen, deviceID)

	return nil
}

func (p *fakePublisher) offlineIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.offline...)
}

func (p *fakePublisher) recoveredIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.recovered...)
}

func (p *fakePublisher) firstSeenIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.firstSeen...)
}

type transitionRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *transitionRecorder) record(d *drone.Drone, state DeviceState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, d.ID()+":"+state.String())
}

func (r *transitionRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.events...)
}

// monitorTestConfig uses the documented supervisor intervals; ticks come
// from the fake clock, so the absolute values never elapse for real.
func monitorTestConfig() Config {
	return Config{
		Hub: comms.Config{BindAddr: "127.0.0.1"},
		Drone: drone.Config{
			RetryCount:      1,
			ResponseTimeout: models.Duration(250 * time.Millisecond),
			CommandInterval: models.Duration(time.Millisecond),
			RCInterval:      models.Duration(time.Millisecond),
			PollInterval:    models.Duration(2 * time.Millisecond),
		},
		Monitor: MonitorConfig{
			HealthInterval:    models.Duration(3 * time.Second),
			ReconnectInterval: models.Duration(5 * time.Second),
			StaleAfter:        models.Duration(500 * time.Millisecond),
			ReconnectTimeout:  models.Duration(250 * time.Millisecond),
		},
	}
}

func TestHealthMonitorDemotesSilentDevice(t *testing.T) {
	clock := newFakeClock()
	rec := &transitionRecorder{}
	pub := &fakePublisher{}

	sw, devices := startSwarm(t, monitorTestConfig(),
		WithClock(clock),
		WithMembershipCallback(rec.record),
		WithEventPublisher(pub),
	)

	stateAddr := sw.Hub().StateLocalAddr()

	// bravo streams telemetry; alpha stays silent.
	devices[1].sendState(stateAddr, "pitch:0;roll:0;yaw:0;bat:77;")

	require.Eventually(t, func() bool {
		d, _ := sw.ByID("bravo")
		return !d.IsUnreachable()
	}, 2*time.Second, 10*time.Millisecond)

	// Let the join grace window lapse, keep bravo fresh, then run a pass.
	time.Sleep(600 * time.Millisecond)

	devices[1].sendState(stateAddr, "pitch:0;roll:0;yaw:0;bat:76;")

	require.Eventually(t, func() bool {
		d, _ := sw.ByID("bravo")
		return time.Since(d.LastStateAt()) < 100*time.Millisecond
	}, 2*time.Second, 5*time.Millisecond)

	clock.fire(t, 3*time.Second)

	require.Eventually(t, func() bool {
		return sw.Size() == 1
	}, 2*time.Second, 10*time.Millisecond)

	unreachable := sw.Unreachable()
	require.Len(t, unreachable, 1)
	assert.Equal(t, "alpha", unreachable[0].ID())

	connected := sw.Connected()
	require.Len(t, connected, 1)
	assert.Equal(t, "bravo", connected[0].ID())

	assert.Equal(t, []string{"alpha:unreachable"}, rec.snapshot())
	assert.Equal(t, []string{"alpha"}, pub.offlineIDs())
	assert.Equal(t, []string{"bravo"}, pub.firstSeenIDs())
}

func TestReconnectSupervisorRecoversDevice(t *testing.T) {
	clock := newFakeClock()
	rec := &transitionRecorder{}
	pub := &fakePublisher{}

	sw, devices := startSwarm(t, monitorTestConfig(),
		WithClock(clock),
		WithMembershipCallback(rec.record),
		WithEventPublisher(pub),
	)

	sw.markUnreachable(sw.byID["alpha"])
	require.Equal(t, 1, sw.Size())

	clock.fire(t, 5*time.Second)

	require.Eventually(t, func() bool {
		return sw.Size() == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, devices[0].sawCommand("command"))

	assert.Equal(t, []string{"alpha:unreachable", "alpha:connected"}, rec.snapshot())
	assert.Equal(t, []string{"alpha"}, pub.offlineIDs())
	assert.Equal(t, []string{"alpha"}, pub.recoveredIDs())

	// Freshly recovered devices get a staleness grace window: an immediate
	// health pass leaves alpha connected even with no telemetry flowing.
	clock.fire(t, 3*time.Second)
	time.Sleep(50 * time.Millisecond)

	stillConnected := false

	for _, d := range sw.Connected() {
		if d.ID() == "alpha" {
			stillConnected = true
		}
	}

	assert.True(t, stillConnected, "grace window should keep alpha connected")
}

func TestReconnectSweepLeavesDeadDeviceUnreachable(t *testing.T) {
	clock := newFakeClock()

	sw, devices := startSwarm(t, monitorTestConfig(), WithClock(clock))

	// alpha drops every datagram from now on.
	devices[0].setRespond(func(string) string { return "" })

	sw.markUnreachable(sw.byID["alpha"])

	clock.fire(t, 5*time.Second)

	// The handshake times out and alpha waits for the next sweep.
	time.Sleep(400 * time.Millisecond)

	assert.Equal(t, 1, sw.Size())
	require.Len(t, sw.Unreachable(), 1)
	assert.Equal(t, "alpha", sw.Unreachable()[0].ID())
}
