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

// Package comms owns the shared fleet sockets. Every device replies from its
// own source IP on the same two fixed ports, so inbound datagrams carry no
// session or request identifiers and the hub demultiplexes purely by source
// IP to a registered per-device handler.
package comms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/carverauto/flightdeck/pkg/logger"
)

const (
	socketControl = "control"
	socketState   = "state"
)

// Handler consumes one inbound datagram. The payload is owned by the handler;
// the hub never reuses it after dispatch.
type Handler func(payload []byte, src *net.UDPAddr)

// Hub owns one control socket and one state socket shared by the whole fleet,
// plus zero or more video relay sockets. Handlers are registered per source
// IP; the last registration for an IP wins.
type Hub struct {
	config Config
	logger logger.Logger

	controlConn *net.UDPConn
	stateConn   *net.UDPConn

	mu              sync.RWMutex
	controlHandlers map[string]Handler
	stateHandlers   map[string]Handler
	relays          map[int]*videoRelay
	started         bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHub binds the control and state sockets. Bind failure is returned
// immediately; the ports are fixed protocol constants, so there is nothing
// to retry.
func NewHub(config Config, log logger.Logger) (*Hub, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	controlConn, err := bindUDP(config.BindAddr, config.ControlPort)
	if err != nil {
		return nil, err
	}

	stateConn, err := bindUDP(config.BindAddr, config.StatePort)
	if err != nil {
		_ = controlConn.Close()
		return nil, err
	}

	return &Hub{
		config:          config,
		logger:          log,
		controlConn:     controlConn,
		stateConn:       stateConn,
		controlHandlers: make(map[string]Handler),
		stateHandlers:   make(map[string]Handler),
		relays:          make(map[int]*videoRelay),
		done:            make(chan struct{}),
	}, nil
}

func bindUDP(bindAddr string, port int) (*net.UDPConn, error) {
	var ip net.IP

	if bindAddr != "" {
		ip = net.ParseIP(bindAddr)
		if ip == nil {
			return nil, fmt.Errorf("%w: %s", errInvalidBindAddr, bindAddr)
		}
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to bind udp port %d: %w", port, err)
	}

	return conn, nil
}

// RegisterControlHandler routes command replies from ip to handler.
// Registration normally happens before Start; the table is locked anyway.
func (h *Hub) RegisterControlHandler(ip string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.controlHandlers[ip] = handler
}

// RegisterStateHandler routes telemetry datagrams from ip to handler.
func (h *Hub) RegisterStateHandler(ip string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stateHandlers[ip] = handler
}

// SendCommand transmits one datagram to dst on the shared control socket.
// Fire only: no response correlation happens here. Safe for concurrent use
// from different device engines; datagram sends are atomic.
func (h *Hub) SendCommand(cmd string, dst *net.UDPAddr) error {
	if _, err := h.controlConn.WriteToUDP([]byte(cmd), dst); err != nil {
		return fmt.Errorf("failed to send command to %s: %w", dst, err)
	}

	return nil
}

// ControlLocalAddr returns the bound address of the control socket.
func (h *Hub) ControlLocalAddr() *net.UDPAddr {
	addr, _ := h.controlConn.LocalAddr().(*net.UDPAddr)
	return addr
}

// StateLocalAddr returns the bound address of the state socket.
func (h *Hub) StateLocalAddr() *net.UDPAddr {
	addr, _ := h.stateConn.LocalAddr().(*net.UDPAddr)
	return addr
}

// Start launches one receive loop per bound socket. Each loop runs until its
// socket is closed by Stop.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrHubStarted
	}

	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	h.started = true

	h.wg.Add(2)
	go h.readLoop(h.controlConn, socketControl)
	go h.readLoop(h.stateConn, socketState)

	for _, relay := range h.relays {
		h.startRelayLocked(relay)
	}

	h.logger.Info().
		Str("control", h.controlConn.LocalAddr().String()).
		Str("state", h.stateConn.LocalAddr().String()).
		Msg("Communication hub started")

	return nil
}

// Stop closes every socket and waits for the receive loops to drain, bounded
// by ctx.
func (h *Hub) Stop(ctx context.Context) error {
	h.closeOnce.Do(func() {
		close(h.done)

		if err := h.controlConn.Close(); err != nil {
			h.logger.Debug().Err(err).Msg("Error closing control socket")
		}

		if err := h.stateConn.Close(); err != nil {
			h.logger.Debug().Err(err).Msg("Error closing state socket")
		}

		h.mu.Lock()
		for _, relay := range h.relays {
			relay.close(h.logger)
		}
		h.mu.Unlock()
	})

	waitCh := make(chan struct{})

	go func() {
		h.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLoop receives datagrams on one shared socket and dispatches them by
// source IP. A bad packet or a panicking handler never terminates the loop;
// only closing the socket does.
func (h *Hub) readLoop(conn *net.UDPConn, socket string) {
	defer h.wg.Done()

	buf := make([]byte, h.config.ReadBufferSize)

	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			select {
			case <-h.done:
				return
			default:
			}

			h.logger.Warn().Err(err).Str("socket", socket).Msg("Read failed on shared socket")

			continue
		}

		recordReceived(context.Background(), socket)

		handler, ok := h.lookupHandler(socket, src.IP.String())
		if !ok {
			recordDropped(context.Background(), socket)
			h.logger.Debug().
				Str("socket", socket).
				Str("source_ip", src.IP.String()).
				Msg("Dropping datagram from unregistered source")

			continue
		}

		// The handler owns the payload; the read buffer is reused.
		payload := make([]byte, n)
		copy(payload, buf[:n])

		h.dispatch(handler, payload, src, socket)
	}
}

func (h *Hub) lookupHandler(socket, ip string) (Handler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var (
		handler Handler
		ok      bool
	)

	switch socket {
	case socketControl:
		handler, ok = h.controlHandlers[ip]
	case socketState:
		handler, ok = h.stateHandlers[ip]
	}

	return handler, ok
}

func (h *Hub) dispatch(handler Handler, payload []byte, src *net.UDPAddr, socket string) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Str("socket", socket).
				Str("source_ip", src.IP.String()).
				Interface("panic", r).
				Msg("Handler panicked, receive loop continues")
		}
	}()

	handler(payload, src)
}
