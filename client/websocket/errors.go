package websocket

import (
	"fmt"

	"github.com/juju/errors"
)

// The following errors are returned from StreamClient methods.
var (
	// ErrNotConnected means the connection is not established when the client
	// tried to e.g. send a message, or close the connection.
	ErrNotConnected = errors.New("not connected")

	// ErrConnLoopActive means the client tried to connect when the session is
	// already connecting.
	ErrConnLoopActive = errors.New("connection loop is already active")

	// ErrConnectionFailure means the underlying transport could not be
	// established. Surfaced from Open; the session ends up Closed.
	ErrConnectionFailure = errors.New("connection failure")

	// ErrLoginRejected means the streamer rejected the login request with the
	// fatal content code. The session ends up Closed and no further sends are
	// permitted. The error is annotated with the server-provided message.
	ErrLoginRejected = errors.New("login rejected")

	// ErrNotActive means the operation requires an active (logged-in) session;
	// e.g. Unsubscribe before Open completes.
	ErrNotActive = errors.New("session is not active")

	// ErrStreamClosed is the end-of-stream signal: the session is Closed and
	// no more records will be delivered.
	ErrStreamClosed = errors.New("stream closed")

	// ErrInvalidEnumValue means a request parameter is not one of its
	// permitted values (e.g. a chart-history frequency code). Raised before
	// any network activity; fix the inputs and retry.
	ErrInvalidEnumValue = errors.New("invalid enum value")

	// ErrInvalidParameterCombination means mutually exclusive request
	// parameters were supplied together (e.g. a chart-history period and an
	// explicit time range). Raised before any network activity.
	ErrInvalidParameterCombination = errors.New("invalid parameter combination")
)

// MalformedRecordError is reported when a service payload does not match the
// shape its decoder expects (missing arrays, wrong nesting, inconsistent
// packed counts). It carries the raw payload so nothing is silently dropped.
// A malformed record never terminates the session; sibling records and
// subsequent frames are unaffected.
type MalformedRecordError struct {
	Service string
	Payload []byte
	Reason  string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record: %s: %s", e.Service, e.Reason, e.Payload)
}

// OnErrorCB is a signature of an error listener. If disconnecting is true,
// the session is being torn down because of this error, and the error
// listeners are called before the state listeners.
type OnErrorCB func(err error, disconnecting bool)
