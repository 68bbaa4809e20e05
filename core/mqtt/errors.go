package mqtt

import "errors"

var (
	// ErrReplyTimeout is returned when no reply arrives before the timeout.
	ErrReplyTimeout = errors.New("timeout waiting for reply")
	// ErrUnknownCommand is returned when waiting on a command never sent.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrRemote wraps an error reported by the worker.
	ErrRemote = errors.New("worker error")
)
