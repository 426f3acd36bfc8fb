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
)

// generation is one release cycle of a barrier. broken is written before
// release is closed and read only after it is closed.
type generation struct {
	release chan struct{}
	broken  bool
}

// barrier is a reusable rendezvous for a fixed number of parties. Each wait
// blocks until all parties have arrived, then releases them together and
// resets for the next cycle. A timed wait that expires breaks the barrier
// for good: every blocked waiter and every later arrival gets
// ErrBarrierBroken.
type barrier struct {
	mu      sync.Mutex
	parties int
	count   int
	gen     *generation
	broken  bool
}

func newBarrier(parties int) *barrier {
	return &barrier{
		parties: parties,
		gen:     &generation{release: make(chan struct{})},
	}
}

// wait blocks until the remaining parties arrive. A timeout of zero or less
// waits forever.
func (b *barrier) wait(timeout time.Duration) error {
	b.mu.Lock()

	if b.broken {
		b.mu.Unlock()
		return ErrBarrierBroken
	}

	g := b.gen

	b.count++
	if b.count == b.parties {
		b.count = 0
		b.gen = &generation{release: make(chan struct{})}
		close(g.release)
		b.mu.Unlock()

		return nil
	}
	b.mu.Unlock()

	if timeout <= 0 {
		<-g.release

		if g.broken {
			return ErrBarrierBroken
		}

		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.release:
		if g.broken {
			return ErrBarrierBroken
		}

		return nil
	case <-timer.C:
		// The last party may have tripped the barrier at the wire.
		select {
		case <-g.release:
			if g.broken {
				return ErrBarrierBroken
			}

			return nil
		default:
		}

		b.breakBarrier(g)

		return ErrBarrierBroken
	}
}

// breakBarrier poisons the barrier and releases every blocked waiter, both
// in the breaker's own generation and in any generation started after it.
func (b *barrier) breakBarrier(g *generation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.broken = true

	for _, gen := range []*generation{g, b.gen} {
		select {
		case <-gen.release:
		default:
			gen.broken = true
			close(gen.release)
		}
	}
}
