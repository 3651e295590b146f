package core

import "errors"

var (
	// ErrCallInProgress rejects a second call attempt while a
	// non-terminal session exists.
	ErrCallInProgress = errors.New("call already in progress")

	// ErrNoActiveCall rejects commands that need a live session.
	ErrNoActiveCall = errors.New("no active call")

	// ErrBadCallState rejects a command the current status does not permit.
	ErrBadCallState = errors.New("command not valid in current call state")

	// ErrDeviceUnavailable wraps capture acquisition failures
	// (permission denied, device busy or missing).
	ErrDeviceUnavailable = errors.New("media device unavailable")

	// ErrNegotiation wraps description/candidate application failures.
	ErrNegotiation = errors.New("negotiation failed")

	// ErrBackpressure reports a send that would block a slow connection.
	ErrBackpressure = errors.New("backpressure")
)
