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

package telemetry

import (
	"sync"
	"time"
)

// Cache holds the latest snapshot for one device. A single writer (the state
// handler) replaces it; any goroutine may read.
type Cache struct {
	mu      sync.RWMutex
	snap    Snapshot
	updated time.Time
}

func NewCache() *Cache {
	return &Cache{snap: Snapshot{}}
}

// Replace swaps in a new snapshot wholesale. Fields absent from the new
// snapshot are gone; there is no merging.
func (c *Cache) Replace(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snap = snap
	c.updated = time.Now()
}

// Current returns the latest snapshot.
func (c *Cache) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.snap
}

// LastUpdated reports when Replace last ran. Zero until the first replace.
func (c *Cache) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.updated
}

// Empty reports whether the cache holds no fields, either because no state
// line arrived yet or because the last one was the literal "ok".
func (c *Cache) Empty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.snap) == 0
}
