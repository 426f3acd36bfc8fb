package drone

import (
	"errors"
	"fmt"
)

var (
	// ErrNilSender is returned by New when no send function is supplied.
	// Engines never touch sockets directly; the hub owns them.
	ErrNilSender = errors.New("drone requires a send function")

	// ErrNoStatePacket is returned by Connect when the device entered SDK
	// mode but no telemetry arrived within the state wait window.
	ErrNoStatePacket = errors.New("did not receive a state packet from the device")
)

// CommandError is the sole error-raising path for state-changing commands:
// every retry attempt ran out without an ok-bearing reply.
type CommandError struct {
	Command      string
	Attempts     int
	LastResponse string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q was unsuccessful after %d attempts, last response %q",
		e.Command, e.Attempts, e.LastResponse)
}

// ReadError reports a read-style command whose reply carried an explicit
// error marker. Read commands are not retried.
type ReadError struct {
	Command  string
	Response string
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read command %q returned an error response %q", e.Command, e.Response)
}
