package bridge

import (
	"errors"

	"github.com/nextlevelbuilder/blelink/pkg/protocol"
)

var (
	// ErrUnhandled is returned by a notification handler (or the Router) for a
	// method it does not know. Requests carrying an id are answered with
	// "method not found".
	ErrUnhandled = errors.New("notification not handled")

	// ErrInvalidParams marks a notification whose params could not be decoded.
	ErrInvalidParams = errors.New("invalid params")

	// ErrClosed is returned for calls on a socket that is not open, and for
	// calls still pending when it goes away.
	ErrClosed = errors.New("bridge connection closed")

	// ErrAlreadyOpened is returned when Open is called on a Conn twice.
	ErrAlreadyOpened = errors.New("bridge connection already opened")

	// ErrSendBufferFull is returned when the outbound queue cannot take a frame.
	ErrSendBufferFull = errors.New("bridge send buffer full")
)

// errorCode maps a handler error to the JSON-RPC code sent back to the bridge.
func errorCode(err error) int {
	switch {
	case errors.Is(err, ErrUnhandled):
		return protocol.ErrCodeMethodNotFound
	case errors.Is(err, ErrInvalidParams):
		return protocol.ErrCodeInvalidParams
	default:
		return protocol.ErrCodeInternal
	}
}
