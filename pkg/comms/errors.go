package comms

import "errors"

var (
	// ErrHubStarted is returned when a configuration-time operation is
	// attempted after Start.
	ErrHubStarted = errors.New("hub already started")

	// ErrHubStopped is returned when an operation is attempted on a hub
	// that has been stopped.
	ErrHubStopped = errors.New("hub stopped")

	// ErrUnknownRelay is returned when a relay destination is added to or
	// removed from a port with no bound relay socket.
	ErrUnknownRelay = errors.New("no video relay bound on port")

	// ErrNotMulticast is returned when a multicast relay group does not
	// resolve to a multicast address.
	ErrNotMulticast = errors.New("relay group is not a multicast address")

	errInvalidControlPort = errors.New("invalid control port")
	errInvalidStatePort   = errors.New("invalid state port")
	errSamePort           = errors.New("control and state ports must differ")
	errInvalidBindAddr    = errors.New("invalid bind address")
)
