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
	"fmt"
	"net"

	"github.com/carverauto/flightdeck/pkg/comms"
	"github.com/carverauto/flightdeck/pkg/video"
)

const relayLoopbackHost = "127.0.0.1"

// VideoStreams builds a per-device stream set over the currently connected
// members. Each device's relay gets a fresh loopback forwarding destination
// and the reader opens on that address, so decoders never contend for the
// shared device ports. Readers come back stopped; start them through the set.
func (s *Swarm) VideoStreams(dec video.Decoder, opts ...video.ReaderOption) (*video.StreamSet, error) {
	if !s.running() {
		return nil, ErrSwarmStopped
	}

	members := s.connectedMembers()
	streams := make([]video.Stream, 0, len(members))

	for _, m := range members {
		port, err := freeLoopbackPort()
		if err != nil {
			return nil, err
		}

		// The fleet definition may not have declared this port if the
		// device was re-pointed after startup.
		devicePort := m.drone.VideoPort()
		if err := s.hub.AddVideoRelay(devicePort); err != nil {
			return nil, err
		}

		dst := comms.RelayDestination{Host: relayLoopbackHost, Port: port}
		if err := s.hub.AddRelayDestination(devicePort, dst); err != nil {
			return nil, err
		}

		reader := video.NewBackgroundReader(
			dec, video.StreamAddress(relayLoopbackHost, port), s.logger, opts...)

		streams = append(streams, video.Stream{
			DeviceID: m.drone.ID(),
			Host:     m.drone.Addr().IP.String(),
			Reader:   reader,
		})
	}

	return video.NewStreamSet(streams), nil
}

// freeLoopbackPort reserves an ephemeral UDP port by binding and immediately
// releasing it.
func freeLoopbackPort() (int, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate a local video port: %w", err)
	}

	addr, _ := conn.LocalAddr().(*net.UDPAddr)
	port := addr.Port

	_ = conn.Close()

	return port, nil
}
