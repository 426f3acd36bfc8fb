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

// Package swarm coordinates a fleet of drones over one shared socket hub.
// It owns fan-out dispatch with barrier joins, fleet-ordered iteration, and
// the supervision that moves devices between connected and unreachable.
package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/carverauto/flightdeck/pkg/comms"
	"github.com/carverauto/flightdeck/pkg/config"
	"github.com/carverauto/flightdeck/pkg/drone"
	"github.com/carverauto/flightdeck/pkg/logger"
	"github.com/carverauto/flightdeck/pkg/models"
	"github.com/carverauto/flightdeck/pkg/natsutil"
)

// DeviceState is a device's membership state within the fleet.
type DeviceState int

const (
	StateConnected DeviceState = iota
	StateUnreachable
)

func (s DeviceState) String() string {
	switch s {
	case StateConnected:
		return models.DeviceStateConnected
	case StateUnreachable:
		return models.DeviceStateUnreachable
	default:
		return models.DeviceStateUnknown
	}
}

// TaskFunc runs against one device. i is the device's fleet position, stable
// across dispatches regardless of membership.
type TaskFunc func(i int, d *drone.Drone)

// HealthPublisher receives device health transitions. Satisfied by
// *natsutil.EventPublisher; a nil publisher disables event publishing.
type HealthPublisher interface {
	PublishDeviceOfflineEvent(ctx context.Context, deviceID, ip string, lastTelemetry time.Time) error
	PublishDeviceRecoveredEvent(ctx context.Context, deviceID, ip string, lastTelemetry time.Time) error
	PublishDeviceFirstSeenEvent(ctx context.Context, deviceID, ip string, timestamp time.Time) error
}

// dispatch is one parallel fan-out. fanout joins the dispatcher with every
// cohort worker at entry and exit; rendezvous is the worker-only barrier
// behind Sync.
type dispatch struct {
	fn         TaskFunc
	fanout     *barrier
	rendezvous *barrier
}

// member binds a drone to its worker and its supervision bookkeeping.
// connectedAt and seen are guarded by the swarm's membership mutex.
type member struct {
	drone       *drone.Drone
	tasks       chan *dispatch
	index       int
	connectedAt time.Time
	seen        bool
}

// Option customizes a Swarm at construction time.
type Option func(*Swarm)

// WithClock replaces the supervisor time source.
func WithClock(c Clock) Option {
	return func(s *Swarm) {
		s.clock = c
	}
}

// WithEventPublisher injects a health event publisher, overriding the one
// Start would build from the events config.
func WithEventPublisher(p HealthPublisher) Option {
	return func(s *Swarm) {
		s.publisher = p
	}
}

// WithMembershipCallback registers a callback fired after every membership
// transition. It runs on a supervisor goroutine; keep it short.
func WithMembershipCallback(fn func(d *drone.Drone, state DeviceState)) Option {
	return func(s *Swarm) {
		s.onMembershipChange = fn
	}
}

// Swarm is a fleet of drones sharing one hub. All exported methods are safe
// for concurrent use; dispatches serialize against each other.
type Swarm struct {
	config Config
	logger logger.Logger

	hub     *comms.Hub
	members []*member
	byIP    map[string]*member
	byID    map[string]*member

	membershipMu sync.RWMutex
	states       map[string]DeviceState

	dispatchMu sync.Mutex
	activeMu   sync.RWMutex
	active     *dispatch

	publisher          HealthPublisher
	onMembershipChange func(d *drone.Drone, state DeviceState)

	clock Clock
	nc    *nats.Conn

	stateMu   sync.Mutex
	started   bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New assembles a swarm: one hub, one drone per record wired to the hub's
// sockets by source IP, and a video relay for every distinct video port.
// Record order becomes the fleet order. Every device starts out connected;
// the health monitor demotes the ones that stay silent.
func New(specs []models.DeviceSpec, cfg Config, log logger.Logger, opts ...Option) (*Swarm, error) {
	fleet := models.FleetConfig{Devices: specs}
	if err := fleet.Validate(); err != nil {
		return nil, err
	}

	cfg.Monitor.ApplyDefaults()

	hub, err := comms.NewHub(cfg.Hub, log)
	if err != nil {
		return nil, err
	}

	s := &Swarm{
		config: cfg,
		logger: log,
		hub:    hub,
		byIP:   make(map[string]*member, len(specs)),
		byID:   make(map[string]*member, len(specs)),
		states: make(map[string]DeviceState, len(specs)),
		clock:  realClock{},
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	now := s.clock.Now()
	videoPorts := make(map[int]struct{})

	for i, spec := range specs {
		dcfg := cfg.Drone
		dcfg.ID = spec.ID

		if dcfg.ID == "" {
			dcfg.ID = uuid.New().String()
		}

		dcfg.Host = spec.IP

		if spec.ControlPort != 0 {
			dcfg.ControlPort = spec.ControlPort
		}

		if spec.VideoPort != 0 {
			dcfg.VideoPort = spec.VideoPort
		}

		d, err := drone.New(dcfg, hub.SendCommand, log)
		if err != nil {
			_ = hub.Stop(context.Background())
			return nil, err
		}

		if _, ok := s.byID[d.ID()]; ok {
			_ = hub.Stop(context.Background())
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, d.ID())
		}

		hub.RegisterControlHandler(spec.IP, d.ResponseHandler())
		hub.RegisterStateHandler(spec.IP, d.StateHandler())

		m := &member{
			drone:       d,
			tasks:       make(chan *dispatch, 1),
			index:       i,
			connectedAt: now,
		}

		s.members = append(s.members, m)
		s.byIP[spec.IP] = m
		s.byID[d.ID()] = m
		s.states[d.ID()] = StateConnected

		videoPorts[d.VideoPort()] = struct{}{}
	}

	for port := range videoPorts {
		if err := hub.AddVideoRelay(port); err != nil {
			_ = hub.Stop(context.Background())
			return nil, err
		}
	}

	return s, nil
}

// FromFile loads the fleet definition at path and assembles a swarm from it.
// The file is JSON, {"devices": [{"id", "ip", "control_port", "video_port"},
// ...]}, with record order giving the fleet order.
func FromFile(ctx context.Context, path string, cfg Config, log logger.Logger, opts ...Option) (*Swarm, error) {
	var fleet models.FleetConfig

	loader := config.NewConfig(log)
	if err := loader.LoadAndValidate(ctx, path, &fleet); err != nil {
		return nil, fmt.Errorf("failed to load fleet definition: %w", err)
	}

	return New(fleet.Devices, cfg, log, opts...)
}

// Start brings up the hub loops, one worker per device, and both
// supervisors. When events are enabled and no publisher was injected, it
// also connects to NATS and builds one.
func (s *Swarm) Start(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.started {
		return ErrSwarmStarted
	}

	select {
	case <-s.done:
		return ErrSwarmStopped
	default:
	}

	if err := s.connectEvents(ctx); err != nil {
		return err
	}

	if err := s.hub.Start(); err != nil {
		return err
	}

	for _, m := range s.members {
		s.wg.Add(1)
		go s.worker(m)
	}

	s.wg.Add(2)
	go s.healthLoop()
	go s.reconnectLoop()

	s.started = true

	s.logger.Info().
		Int("devices", len(s.members)).
		Str("control_addr", s.hub.ControlLocalAddr().String()).
		Msg("Swarm started")

	return nil
}

func (s *Swarm) connectEvents(ctx context.Context) error {
	if s.publisher != nil || s.config.Events == nil || !s.config.Events.Enabled {
		return nil
	}

	if s.config.NATS == nil {
		return errEventsWithoutNATS
	}

	if err := s.config.Events.Validate(); err != nil {
		return err
	}

	nc, err := natsutil.ConnectWithSecurity(ctx, s.config.NATS.URL, s.config.NATS.Security, s.logger)
	if err != nil {
		return err
	}

	pub, err := natsutil.CreateEventPublisherWithDomain(
		ctx, nc, s.config.NATS.Domain, s.config.Events.StreamName, s.config.Events.Subjects, s.logger)
	if err != nil {
		nc.Close()
		return err
	}

	s.nc = nc
	s.publisher = pub

	return nil
}

// Stop winds down the supervisors and workers, closes each drone, and stops
// the hub. Safe to call more than once. If ctx expires before the workers
// drain, the polite per-device teardown is skipped and the sockets are
// simply dropped.
func (s *Swarm) Stop(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	waitCh := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-ctx.Done():
		err := s.hub.Stop(ctx)
		s.closeNATS()

		if err != nil {
			return err
		}

		return ctx.Err()
	}

	for _, m := range s.members {
		_ = m.drone.Close()
	}

	err := s.hub.Stop(ctx)
	s.closeNATS()

	return err
}

func (s *Swarm) closeNATS() {
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
}

func (s *Swarm) running() bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	return s.started
}

// Hub exposes the shared socket hub, e.g. to add video relay destinations.
func (s *Swarm) Hub() *comms.Hub {
	return s.hub
}

// Drones returns every device in fleet order regardless of state.
func (s *Swarm) Drones() []*drone.Drone {
	out := make([]*drone.Drone, len(s.members))
	for i, m := range s.members {
		out[i] = m.drone
	}

	return out
}

// Connected returns the connected devices in fleet order.
func (s *Swarm) Connected() []*drone.Drone {
	return s.dronesInState(StateConnected)
}

// Unreachable returns the unreachable devices in fleet order.
func (s *Swarm) Unreachable() []*drone.Drone {
	return s.dronesInState(StateUnreachable)
}

func (s *Swarm) dronesInState(state DeviceState) []*drone.Drone {
	s.membershipMu.RLock()
	defer s.membershipMu.RUnlock()

	var out []*drone.Drone

	for _, m := range s.members {
		if s.states[m.drone.ID()] == state {
			out = append(out, m.drone)
		}
	}

	return out
}

// Size is the number of connected devices.
func (s *Swarm) Size() int {
	s.membershipMu.RLock()
	defer s.membershipMu.RUnlock()

	n := 0

	for _, state := range s.states {
		if state == StateConnected {
			n++
		}
	}

	return n
}

// ByIP looks a device up by its IP.
func (s *Swarm) ByIP(ip string) (*drone.Drone, bool) {
	m, ok := s.byIP[ip]
	if !ok {
		return nil, false
	}

	return m.drone, true
}

// ByID looks a device up by its id.
func (s *Swarm) ByID(id string) (*drone.Drone, bool) {
	m, ok := s.byID[id]
	if !ok {
		return nil, false
	}

	return m.drone, true
}

func (s *Swarm) connectedMembers() []*member {
	s.membershipMu.RLock()
	defer s.membershipMu.RUnlock()

	var out []*member

	for _, m := range s.members {
		if s.states[m.drone.ID()] == StateConnected {
			out = append(out, m)
		}
	}

	return out
}

func (s *Swarm) unreachableMembers() []*member {
	s.membershipMu.RLock()
	defer s.membershipMu.RUnlock()

	var out []*member

	for _, m := range s.members {
		if s.states[m.drone.ID()] == StateUnreachable {
			out = append(out, m)
		}
	}

	return out
}

func (s *Swarm) worker(m *member) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			// Serve a dispatch enqueued just before shutdown so the
			// dispatcher is not stranded at the barrier.
			select {
			case disp := <-m.tasks:
				s.runTask(m, disp)
			default:
			}

			return
		case disp := <-m.tasks:
			s.runTask(m, disp)
		}
	}
}

func (s *Swarm) runTask(m *member, disp *dispatch) {
	_ = disp.fanout.wait(0)

	defer func() {
		_ = disp.fanout.wait(0)
	}()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("device_id", m.drone.ID()).
				Interface("panic", r).
				Msg("Fleet task panicked, joining exit barrier")
		}
	}()

	disp.fn(m.index, m.drone)
}
