package realtime

import "errors"

// Connection-level errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidFrame     = errors.New("frame could not be encoded")
	ErrPollSessionGone  = errors.New("polling session expired on the server")
)

// Channel-level errors
var (
	ErrNotConnected    = errors.New("realtime channel is not connected")
	ErrNoTransports    = errors.New("no realtime transports configured")
	ErrEmptyIdentity   = errors.New("connect requires a user identity")
	ErrQueueFull       = errors.New("outbound queue is full")
	ErrHandleReleased  = errors.New("channel handle already released")
	ErrAllTransports   = errors.New("all realtime transports failed")
	ErrInvalidEndpoint = errors.New("realtime endpoint must be an absolute http(s) URL")
)
