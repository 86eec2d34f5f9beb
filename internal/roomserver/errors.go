package roomserver

import "errors"

var (
	ErrServerAlreadyRunning = errors.New("room server is already running")
	ErrServerNotRunning     = errors.New("room server is not running")
	ErrPeerClosed           = errors.New("peer closed")
	ErrPeerBacklogged       = errors.New("peer outbound buffer is full")
	ErrInvalidJoin          = errors.New("join frame must carry a valid id")
)
