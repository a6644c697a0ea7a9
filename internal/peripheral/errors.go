package peripheral

import "errors"

var (
	// ErrNotConnected is returned by SendMessage when the session is not connected.
	ErrNotConnected = errors.New("peripheral session is not connected")

	// ErrPINUnresolvable is reported when a peripheral name does not follow the
	// supported naming convention and no PIN override was given.
	ErrPINUnresolvable = errors.New("pairing secret cannot be derived from peripheral name")

	// ErrConnectionClosed is the cause reported when the bridge socket closes.
	ErrConnectionClosed = errors.New("bridge connection closed")

	// ErrMissingPeripheralID is returned when a discovery record has no id.
	ErrMissingPeripheralID = errors.New("peripheral record has no id")
)
