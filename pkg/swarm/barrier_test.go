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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrierReleasesAllParties(t *testing.T) {
	b := newBarrier(3)

	var wg sync.WaitGroup

	errs := make([]error, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			errs[i] = b.wait(0)
		}()
	}

	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "party %d", i)
	}
}

func TestBarrierIsCyclic(t *testing.T) {
	b := newBarrier(2)

	done := make(chan error, 1)

	for cycle := 0; cycle < 3; cycle++ {
		go func() {
			done <- b.wait(0)
		}()

		require.NoError(t, b.wait(time.Second), "cycle %d", cycle)
		require.NoError(t, <-done, "cycle %d", cycle)
	}
}

func TestBarrierTimeoutBreaks(t *testing.T) {
	b := newBarrier(2)

	start := time.Now()
	err := b.wait(50 * time.Millisecond)

	require.ErrorIs(t, err, ErrBarrierBroken)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// Broken is permanent: later arrivals fail immediately.
	start = time.Now()
	require.ErrorIs(t, b.wait(0), ErrBarrierBroken)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBarrierBreakReleasesBlockedWaiters(t *testing.T) {
	b := newBarrier(3)

	blocked := make(chan error, 2)

	for i := 0; i < 2; i++ {
		go func() {
			blocked <- b.wait(0)
		}()
	}

	// Third party times out; the two untimed waiters must come back too.
	require.ErrorIs(t, b.wait(50*time.Millisecond), ErrBarrierBroken)

	for i := 0; i < 2; i++ {
		select {
		case err := <-blocked:
			require.ErrorIs(t, err, ErrBarrierBroken)
		case <-time.After(2 * time.Second):
			t.Fatal("blocked waiter was not released by the break")
		}
	}
}

func TestBarrierBreakReachesLaterGeneration(t *testing.T) {
	b := newBarrier(2)

	// First generation trips normally.
	done := make(chan error, 1)

	go func() {
		done <- b.wait(0)
	}()

	require.NoError(t, b.wait(time.Second))
	require.NoError(t, <-done)

	// Second generation breaks.
	require.ErrorIs(t, b.wait(30*time.Millisecond), ErrBarrierBroken)
	require.ErrorIs(t, b.wait(0), ErrBarrierBroken)
}
