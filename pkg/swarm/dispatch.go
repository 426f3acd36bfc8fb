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
	"sync"
	"time"

	"github.com/carverauto/flightdeck/pkg/drone"
)

// Parallel runs fn against every connected device at once and returns when
// all of them have finished. The cohort is selected when the call starts;
// membership changes during the dispatch do not affect it. A panicking task
// is logged and the join still completes. Dispatches serialize against each
// other; on a stopped swarm Parallel runs nothing.
func (s *Swarm) Parallel(fn TaskFunc) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if !s.running() {
		return
	}

	cohort := s.connectedMembers()
	if len(cohort) == 0 {
		return
	}

	disp := &dispatch{
		fn:         fn,
		fanout:     newBarrier(len(cohort) + 1),
		rendezvous: newBarrier(len(cohort)),
	}

	s.activeMu.Lock()
	s.active = disp
	s.activeMu.Unlock()

	defer func() {
		s.activeMu.Lock()
		s.active = nil
		s.activeMu.Unlock()
	}()

	for _, m := range cohort {
		m.tasks <- disp
	}

	// Entry: every worker has picked the task up. Exit: every task returned.
	_ = disp.fanout.wait(0)
	_ = disp.fanout.wait(0)
}

// Sequential runs fn against every connected device one at a time in fleet
// order, on the caller's goroutine. Sync has no meaning here; tasks that
// call it get ErrNoParallel.
func (s *Swarm) Sequential(fn TaskFunc) {
	for _, m := range s.connectedMembers() {
		fn(m.index, m.drone)
	}
}

// Sync blocks until every task of the active parallel dispatch has called
// Sync the same number of times, rendezvousing the cohort mid-task. Tasks
// that disagree on how often they call Sync block each other until the
// timeout; a timeout of zero or less waits forever. When a wait times out
// the dispatch's rendezvous is broken: the timed-out call and every other
// Sync of this dispatch, blocked or still to come, return ErrBarrierBroken.
// The dispatch itself still joins normally. Calling Sync outside a parallel
// dispatch returns ErrNoParallel.
func (s *Swarm) Sync(timeout time.Duration) error {
	s.activeMu.RLock()
	disp := s.active
	s.activeMu.RUnlock()

	if disp == nil {
		return ErrNoParallel
	}

	return disp.rendezvous.wait(timeout)
}

// fanOut runs op against every connected device through Parallel and
// aggregates per-device failures into a BroadcastError.
func (s *Swarm) fanOut(op func(d *drone.Drone) error) error {
	if !s.running() {
		return ErrSwarmStopped
	}

	var mu sync.Mutex

	failures := make(map[string]error)

	s.Parallel(func(_ int, d *drone.Drone) {
		if err := op(d); err != nil {
			mu.Lock()
			failures[d.ID()] = err
			mu.Unlock()
		}
	})

	if len(failures) == 0 {
		return nil
	}

	return &BroadcastError{Failures: failures}
}

// Broadcast sends one control command to every connected device in parallel.
func (s *Swarm) Broadcast(cmd string) error {
	return s.fanOut(func(d *drone.Drone) error {
		return d.SendControlCommand(cmd, d.ResponseTimeout())
	})
}

// Connect puts every connected device into SDK mode and waits for its first
// telemetry packet.
func (s *Swarm) Connect() error {
	return s.fanOut(func(d *drone.Drone) error {
		return d.Connect(true)
	})
}

// Keepalive pings every connected device to hold its command channel open.
func (s *Swarm) Keepalive() error {
	return s.fanOut((*drone.Drone).Keepalive)
}

// Takeoff launches every connected device.
func (s *Swarm) Takeoff() error {
	return s.fanOut((*drone.Drone).Takeoff)
}

// Land lands every connected device.
func (s *Swarm) Land() error {
	return s.fanOut((*drone.Drone).Land)
}

// StreamOn starts the video stream on every connected device.
func (s *Swarm) StreamOn() error {
	return s.fanOut((*drone.Drone).StreamOn)
}

// StreamOff stops the video stream on every connected device.
func (s *Swarm) StreamOff() error {
	return s.fanOut((*drone.Drone).StreamOff)
}

// Emergency cuts the motors on every connected device immediately. Fire and
// forget, like the underlying command.
func (s *Swarm) Emergency() {
	s.Parallel(func(_ int, d *drone.Drone) {
		d.Emergency()
	})
}

// MoveUp moves every connected device up by cm centimeters.
func (s *Swarm) MoveUp(cm int) error {
	return s.fanOut(func(d *drone.Drone) error {
		return d.MoveUp(cm)
	})
}

// MoveDown moves every connected device down by cm centimeters.
func (s *Swarm) MoveDown(cm int) error {
	return s.fanOut(func(d *drone.Drone) error {
		return d.MoveDown(cm)
	})
}

// MoveLeft moves every connected device left by cm centimeters.
func (s *Swarm) MoveLeft(cm int) error {
	return s.fanOut(func(d *drone.Drone) error {
		return d.MoveLeft(cm)
	})
}

// MoveRight moves every connected device right by cm centimeters.
func (s *Swarm) MoveRight(cm int) error {
	return s.fanOut(func(d *drone.Drone) error {
		return d.MoveRight(cm)
	})
}

// MoveForward moves every connected device forward by cm centimeters.
func (s *Swarm) MoveForward(cm int) error {
	return s.fanOut(func(d *drone.Drone) error {
		return d.MoveForward(cm)
	})
}

// MoveBack moves every connected device back by cm centimeters.
func (s *Swarm) MoveBack(cm int) error {
	return s.fanOut(func(d *drone.Drone) error {
		return d.MoveBack(cm)
	})
}

// RotateClockwise rotates every connected device clockwise.
func (s *Swarm) RotateClockwise(degrees int) error {
	return s.fanOut(func(d *drone.Drone) error {
		return d.RotateClockwise(degrees)
	})
}

// RotateCounterClockwise rotates every connected device counter-clockwise.
func (s *Swarm) RotateCounterClockwise(degrees int) error {
	return s.fanOut(func(d *drone.Drone) error {
		return d.RotateCounterClockwise(degrees)
	})
}
