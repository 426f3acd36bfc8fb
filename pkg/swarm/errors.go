package swarm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNoParallel is returned by Sync when no parallel dispatch is active.
	ErrNoParallel = errors.New("no parallel dispatch active")

	// ErrBarrierBroken reports a rendezvous abandoned by timeout. Once a
	// dispatch's barrier breaks, every later Sync of that dispatch fails
	// with it too.
	ErrBarrierBroken = errors.New("rendezvous barrier broken")

	// ErrSwarmStarted is returned when starting an already started swarm.
	ErrSwarmStarted = errors.New("swarm already started")

	// ErrSwarmStopped is returned by operations that need a running swarm.
	ErrSwarmStopped = errors.New("swarm is not running")

	// ErrDuplicateID is returned when two fleet records carry the same id.
	ErrDuplicateID = errors.New("duplicate device id")

	errEventsWithoutNATS = errors.New("events are enabled but no nats config is set")
)

// BroadcastError aggregates the per-device failures of a fan-out operation,
// keyed by device id. Devices that succeeded do not appear.
type BroadcastError struct {
	Failures map[string]error
}

func (e *BroadcastError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	var b strings.Builder

	fmt.Fprintf(&b, "%d device(s) failed", len(ids))

	for i, id := range ids {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}

		fmt.Fprintf(&b, "%s: %v", id, e.Failures[id])
	}

	return b.String()
}

// Unwrap exposes the per-device errors to errors.Is and errors.As.
func (e *BroadcastError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}

	return errs
}
