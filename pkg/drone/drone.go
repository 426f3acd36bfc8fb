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

// Package drone implements the per-device protocol engine: a synchronous
// command API over the hub's asynchronous datagram delivery, with
// inter-command pacing, bounded retry, and timeout.
//
// The wire protocol has no request identifiers. Replies correlate to
// commands only by FIFO order, so a mutex serializes every round trip and
// the mailbox is popped oldest first.
package drone

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/carverauto/flightdeck/pkg/comms"
	"github.com/carverauto/flightdeck/pkg/logger"
	"github.com/carverauto/flightdeck/pkg/telemetry"
)

// Sender transmits one datagram to the device. The hub's SendCommand
// satisfies it; engines never touch sockets directly.
type Sender func(cmd string, dst *net.UDPAddr) error

// readErrorMarkers flag a read reply as failed. The firmware reports errors
// in several spellings.
//
//nolint:gochecknoglobals // protocol constant table
var readErrorMarkers = []string{"error", "ERROR", "False"}

// mailbox is the ordered buffer of unclaimed reply payloads for one device.
// The hub's receive callback appends; the send path pops oldest first.
type mailbox struct {
	mu      sync.Mutex
	entries [][]byte
}

func (m *mailbox) push(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, payload)
}

func (m *mailbox) pop() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) == 0 {
		return nil, false
	}

	oldest := m.entries[0]
	m.entries = m.entries[1:]

	return oldest, true
}

func (m *mailbox) empty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries) == 0
}

// Drone is one device protocol engine. All round-trip calls serialize on an
// internal mutex: one in-flight command per device is an invariant of the
// protocol, not a convenience.
type Drone struct {
	id     string
	addr   *net.UDPAddr
	config Config
	logger logger.Logger

	sender Sender

	retryCount      int
	responseTimeout time.Duration
	takeoffTimeout  time.Duration
	commandInterval time.Duration
	pollInterval    time.Duration

	// roundTripMu is held for the whole duration of any round-trip call,
	// including all retries of one logical command.
	roundTripMu   sync.Mutex
	lastCommandAt time.Time

	mail  *mailbox
	state *telemetry.Cache

	rcLimiter *rate.Limiter

	flying    atomic.Bool
	streaming atomic.Bool
	videoPort atomic.Int32
}

// New builds an engine for one device. send is required; the zero Config
// describes a single device in direct mode.
func New(config Config, send Sender, log logger.Logger) (*Drone, error) {
	if send == nil {
		return nil, ErrNilSender
	}

	config.ApplyDefaults()

	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(config.Host, strconv.Itoa(config.ControlPort)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device address %s:%d: %w", config.Host, config.ControlPort, err)
	}

	d := &Drone{
		id:              config.ID,
		addr:            addr,
		config:          config,
		sender:          send,
		retryCount:      config.RetryCount,
		responseTimeout: time.Duration(config.ResponseTimeout),
		takeoffTimeout:  time.Duration(config.TakeoffTimeout),
		commandInterval: time.Duration(config.CommandInterval),
		pollInterval:    time.Duration(config.PollInterval),
		mail:            &mailbox{},
		state:           telemetry.NewCache(),
		rcLimiter:       rate.NewLimiter(rate.Every(time.Duration(config.RCInterval)), 1),
		logger: &loggerWrapper{logger: log.WithFields(map[string]interface{}{
			"device_id": config.ID,
			"device_ip": config.Host,
		})},
	}
	d.videoPort.Store(int32(config.VideoPort))

	d.logger.Info().Int("control_port", config.ControlPort).Msg("Device engine initialized")

	return d, nil
}

// ID returns the device identifier.
func (d *Drone) ID() string { return d.id }

// Addr returns the device's control address.
func (d *Drone) Addr() *net.UDPAddr { return d.addr }

// Flying reports whether the last takeoff-style command succeeded without a
// subsequent land.
func (d *Drone) Flying() bool { return d.flying.Load() }

// Streaming reports whether video streaming is on.
func (d *Drone) Streaming() bool { return d.streaming.Load() }

// State returns the current telemetry snapshot.
func (d *Drone) State() telemetry.Snapshot { return d.state.Current() }

// ResponseTimeout returns the configured per-attempt reply timeout.
func (d *Drone) ResponseTimeout() time.Duration { return d.responseTimeout }

// LastStateAt returns when the snapshot was last replaced.
func (d *Drone) LastStateAt() time.Time { return d.state.LastUpdated() }

// IsUnreachable reports liveness for the swarm monitor: true while the
// telemetry snapshot is empty, meaning no state has ever been received or
// the last line carried no fields.
func (d *Drone) IsUnreachable() bool { return d.state.Empty() }

// ResponseHandler returns the hub callback feeding this device's mailbox.
func (d *Drone) ResponseHandler() comms.Handler {
	return func(payload []byte, src *net.UDPAddr) {
		d.logger.Debug().Str("source_ip", src.IP.String()).Msg("Response received")
		d.mail.push(payload)
	}
}

// StateHandler returns the hub callback feeding this device's telemetry
// cache. Each datagram fully replaces the snapshot; an undecodable payload
// is substituted with an empty line, which empties the snapshot.
func (d *Drone) StateHandler() comms.Handler {
	return func(payload []byte, src *net.UDPAddr) {
		line := ""
		if utf8.Valid(payload) {
			line = string(payload)
		} else {
			d.logger.Warn().Str("source_ip", src.IP.String()).Msg("Undecodable state payload")
		}

		d.state.Replace(telemetry.Parse(line, d.logger))
	}
}

// SendCommandWithReturn transmits cmd and waits for the oldest mailbox entry
// or the timeout. A timeout returns the abort message, never an error; the
// retrying wrappers decide what a failed attempt means.
func (d *Drone) SendCommandWithReturn(cmd string, timeout time.Duration) string {
	d.roundTripMu.Lock()
	defer d.roundTripMu.Unlock()

	return d.sendAndAwait(cmd, timeout)
}

// sendAndAwait is the single-attempt round trip. Callers hold roundTripMu.
func (d *Drone) sendAndAwait(cmd string, timeout time.Duration) string {
	d.pace(cmd)

	d.logger.Info().Str("command", cmd).Msg("Sending command")

	if err := d.sender(cmd, d.addr); err != nil {
		d.logger.Error().Err(err).Str("command", cmd).Msg("Failed to transmit command")
		return fmt.Sprintf("Aborting command '%s'. Transmit failed: %v", cmd, err)
	}

	deadline := time.Now().Add(timeout)

	for {
		if payload, ok := d.mail.pop(); ok {
			d.lastCommandAt = time.Now()

			response := d.decodeResponse(payload)
			d.logger.Info().Str("command", cmd).Str("response", response).Msg("Response")

			return response
		}

		if time.Now().After(deadline) {
			message := fmt.Sprintf("Aborting command '%s'. Did not receive a response after %s", cmd, timeout)
			d.logger.Warn().Msg(message)

			return message
		}

		time.Sleep(d.pollInterval)
	}
}

// pace sleeps out the remainder of the inter-command interval. The firmware
// stops responding to commands spaced closer than the interval.
func (d *Drone) pace(cmd string) {
	if wait := d.commandInterval - time.Since(d.lastCommandAt); wait > 0 {
		d.logger.Debug().Dur("wait", wait).Str("command", cmd).Msg("Pacing before command")
		time.Sleep(wait)
	}
}

func (d *Drone) decodeResponse(payload []byte) string {
	if !utf8.Valid(payload) {
		d.logger.Error().Msg("Undecodable response payload")
		return ""
	}

	return strings.TrimRight(string(payload), "\r\n")
}

// SendCommandWithoutReturn transmits cmd without waiting for a reply; the
// mailbox is never touched. Used for rate-sensitive control like rc sticks.
func (d *Drone) SendCommandWithoutReturn(cmd string) {
	d.logger.Info().Str("command", cmd).Msg("Sending command (no response expected)")

	if err := d.sender(cmd, d.addr); err != nil {
		d.logger.Error().Err(err).Str("command", cmd).Msg("Failed to transmit command")
	}
}

// SendControlCommand runs cmd with up to RetryCount+1 attempts, succeeding
// on the first reply containing "ok" (case-insensitive). Exhausting the
// budget returns a *CommandError carrying the last raw response.
func (d *Drone) SendControlCommand(cmd string, timeout time.Duration) error {
	d.roundTripMu.Lock()
	defer d.roundTripMu.Unlock()

	attempts := d.retryCount + 1
	response := "max retries exceeded"

	for attempt := 1; attempt <= attempts; attempt++ {
		response = d.sendAndAwait(cmd, timeout)

		if strings.Contains(strings.ToLower(response), "ok") {
			return nil
		}

		d.logger.Debug().Int("attempt", attempt).Str("command", cmd).Msg("Command attempt failed")
	}

	return &CommandError{Command: cmd, Attempts: attempts, LastResponse: response}
}

// SendReadCommand runs cmd once and returns the raw reply text. A reply
// containing an error marker returns a *ReadError immediately; read
// commands are never retried.
func (d *Drone) SendReadCommand(cmd string) (string, error) {
	d.roundTripMu.Lock()
	defer d.roundTripMu.Unlock()

	response := d.sendAndAwait(cmd, d.responseTimeout)

	for _, marker := range readErrorMarkers {
		if strings.Contains(response, marker) {
			return "", &ReadError{Command: cmd, Response: response}
		}
	}

	return response, nil
}

func (d *Drone) readInt(cmd string) (int, error) {
	response, err := d.SendReadCommand(cmd)
	if err != nil {
		return 0, err
	}

	value, err := strconv.Atoi(strings.TrimSpace(response))
	if err != nil {
		return 0, fmt.Errorf("failed to parse %q reply %q: %w", cmd, response, err)
	}

	return value, nil
}

func (d *Drone) readFloat(cmd string) (float64, error) {
	response, err := d.SendReadCommand(cmd)
	if err != nil {
		return 0, err
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(response), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %q reply %q: %w", cmd, response, err)
	}

	return value, nil
}

// loggerWrapper adapts the zerolog.Logger returned by Logger.WithFields back
// into the logger.Logger interface: the engine stores the interface so the
// device-scoped fields travel with it into helpers like telemetry.Parse.
type loggerWrapper struct {
	logger zerolog.Logger
}

func (l *loggerWrapper) Trace() *zerolog.Event { return l.logger.Trace() }
func (l *loggerWrapper) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *loggerWrapper) Info() *zerolog.Event  { return l.logger.Info() }
func (l *loggerWrapper) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *loggerWrapper) Error() *zerolog.Event { return l.logger.Error() }
func (l *loggerWrapper) Fatal() *zerolog.Event { return l.logger.Fatal() }
func (l *loggerWrapper) Panic() *zerolog.Event { return l.logger.Panic() }
func (l *loggerWrapper) With() zerolog.Context { return l.logger.With() }

func (l *loggerWrapper) WithComponent(component string) zerolog.Logger {
	return l.logger.With().Str("component", component).Logger()
}

func (l *loggerWrapper) WithFields(fields map[string]interface{}) zerolog.Logger {
	ctx := l.logger.With()
	for key, value := range fields {
		ctx = ctx.Interface(key, value)
	}

	return ctx.Logger()
}

func (l *loggerWrapper) SetLevel(level zerolog.Level) {
	l.logger = l.logger.Level(level)
}

func (l *loggerWrapper) SetDebug(debug bool) {
	if debug {
		l.SetLevel(zerolog.DebugLevel)
	} else {
		l.SetLevel(zerolog.InfoLevel)
	}
}

// Close is the best-effort teardown: land if flying, stop streaming if
// streaming. Failures are logged and swallowed; teardown never surfaces an
// error. The error return exists for io.Closer symmetry and is always nil.
func (d *Drone) Close() error {
	if d.Flying() {
		if err := d.Land(); err != nil {
			d.logger.Warn().Err(err).Msg("Best-effort land failed during teardown")
		}
	}

	if d.Streaming() {
		if err := d.StreamOff(); err != nil {
			d.logger.Warn().Err(err).Msg("Best-effort stream off failed during teardown")
		}
	}

	return nil
}
