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
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/carverauto/flightdeck/pkg/logger"
)

// RelayDestination is one unicast forwarding target for a video relay port.
type RelayDestination struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// MulticastConfig tunes the outbound multicast leg of a relay.
type MulticastConfig struct {
	// TTL is the outbound multicast TTL. Zero keeps the system default.
	TTL int `json:"ttl,omitempty"`

	// Interface names the outbound interface. Empty keeps the system
	// default route.
	Interface string `json:"interface,omitempty"`
}

// videoRelay forwards datagrams received on one port verbatim to the
// currently registered destinations. Best effort: unordered, no
// retransmission.
type videoRelay struct {
	port int
	conn *net.UDPConn

	mu        sync.RWMutex
	unicast   map[string]*net.UDPAddr
	multicast *multicastSender
}

// AddVideoRelay binds a listening socket for raw video datagrams on port and,
// if the hub is already started, launches its receive loop. Idempotent per
// port.
func (h *Hub) AddVideoRelay(port int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	if _, ok := h.relays[port]; ok {
		return nil
	}

	conn, err := bindUDP(h.config.BindAddr, port)
	if err != nil {
		return err
	}

	relay := &videoRelay{
		port:    port,
		conn:    conn,
		unicast: make(map[string]*net.UDPAddr),
	}
	h.relays[port] = relay

	if h.started {
		h.startRelayLocked(relay)
	}

	return nil
}

// AddRelayDestination registers a unicast forwarding target for the relay
// bound on port. Adding the same destination twice is a no-op.
func (h *Hub) AddRelayDestination(port int, dst RelayDestination) error {
	relay, err := h.relayFor(port)
	if err != nil {
		return err
	}

	addr, err := resolveDestination(dst)
	if err != nil {
		return err
	}

	relay.mu.Lock()
	defer relay.mu.Unlock()

	relay.unicast[addr.String()] = addr

	return nil
}

// RemoveRelayDestination drops a unicast forwarding target. Removing a
// destination that was never added is a no-op.
func (h *Hub) RemoveRelayDestination(port int, dst RelayDestination) error {
	relay, err := h.relayFor(port)
	if err != nil {
		return err
	}

	addr, err := resolveDestination(dst)
	if err != nil {
		return err
	}

	relay.mu.Lock()
	defer relay.mu.Unlock()

	delete(relay.unicast, addr.String())

	return nil
}

// AddRelayMulticast attaches a multicast group (host:port form) to the relay
// bound on port, replacing any previous group.
func (h *Hub) AddRelayMulticast(port int, group string, mcfg MulticastConfig) error {
	relay, err := h.relayFor(port)
	if err != nil {
		return err
	}

	sender, err := newMulticastSender(group, mcfg)
	if err != nil {
		return err
	}

	relay.mu.Lock()
	defer relay.mu.Unlock()

	if relay.multicast != nil {
		relay.multicast.close()
	}

	relay.multicast = sender

	return nil
}

// RelayLocalAddr returns the bound address of the relay socket for port.
func (h *Hub) RelayLocalAddr(port int) (*net.UDPAddr, error) {
	relay, err := h.relayFor(port)
	if err != nil {
		return nil, err
	}

	addr, _ := relay.conn.LocalAddr().(*net.UDPAddr)

	return addr, nil
}

func (h *Hub) relayFor(port int) (*videoRelay, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	relay, ok := h.relays[port]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRelay, port)
	}

	return relay, nil
}

func (h *Hub) startRelayLocked(relay *videoRelay) {
	h.wg.Add(1)
	go h.relayLoop(relay)

	h.logger.Info().
		Str("addr", relay.conn.LocalAddr().String()).
		Msg("Video relay started")
}

// relayLoop forwards each datagram to every destination registered at the
// moment of arrival. Send failures are counted and logged, never fatal.
func (h *Hub) relayLoop(relay *videoRelay) {
	defer h.wg.Done()

	buf := make([]byte, relayBufferSize)

	for {
		n, _, err := relay.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			select {
			case <-h.done:
				return
			default:
			}

			h.logger.Warn().Err(err).Int("port", relay.port).Msg("Read failed on video relay socket")

			continue
		}

		h.forward(relay, buf[:n])
	}
}

func (h *Hub) forward(relay *videoRelay, payload []byte) {
	relay.mu.RLock()
	defer relay.mu.RUnlock()

	sent := 0

	for _, dst := range relay.unicast {
		if _, err := relay.conn.WriteToUDP(payload, dst); err != nil {
			recordRelayError(context.Background(), relay.port)
			h.logger.Debug().
				Err(err).
				Int("port", relay.port).
				Str("destination", dst.String()).
				Msg("Relay forward failed")

			continue
		}

		sent++
	}

	if relay.multicast != nil {
		if err := relay.multicast.send(payload); err != nil {
			recordRelayError(context.Background(), relay.port)
			h.logger.Debug().Err(err).Int("port", relay.port).Msg("Multicast relay forward failed")
		} else {
			sent++
		}
	}

	recordRelayed(context.Background(), relay.port, sent)
}

func (r *videoRelay) close(log logger.Logger) {
	if err := r.conn.Close(); err != nil {
		log.Debug().Err(err).Int("port", r.port).Msg("Error closing video relay socket")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.multicast != nil {
		r.multicast.close()
		r.multicast = nil
	}
}

func resolveDestination(dst RelayDestination) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(dst.Host, strconv.Itoa(dst.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve relay destination %s:%d: %w", dst.Host, dst.Port, err)
	}

	return addr, nil
}

// multicastSender owns a dedicated send socket with per-relay multicast TTL
// and interface options applied.
type multicastSender struct {
	conn  *net.UDPConn
	pconn *ipv4.PacketConn
	group *net.UDPAddr
}

func newMulticastSender(group string, cfg MulticastConfig) (*multicastSender, error) {
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve multicast group %s: %w", group, err)
	}

	if !addr.IP.IsMulticast() {
		return nil, fmt.Errorf("%w: %s", ErrNotMulticast, group)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("failed to open multicast send socket: %w", err)
	}

	pconn := ipv4.NewPacketConn(conn)

	if cfg.TTL > 0 {
		if err := pconn.SetMulticastTTL(cfg.TTL); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set multicast TTL: %w", err)
		}
	}

	if cfg.Interface != "" {
		ifi, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to resolve multicast interface %s: %w", cfg.Interface, err)
		}

		if err := pconn.SetMulticastInterface(ifi); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set multicast interface: %w", err)
		}
	}

	return &multicastSender{conn: conn, pconn: pconn, group: addr}, nil
}

func (m *multicastSender) send(payload []byte) error {
	_, err := m.pconn.WriteTo(payload, nil, m.group)
	return err
}

func (m *multicastSender) close() {
	_ = m.conn.Close()
}
