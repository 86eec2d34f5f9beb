package interfaces

import (
	"context"
	"net/http"
	"net/url"

	"doubtdesk/pkg/types"
)

// Conn is one live realtime connection, whatever carries it
// ARCHITECTURAL DISCOVERY: websocket and long-polling connections expose the
// same frame-in/frame-out surface so the channel never branches on transport
type Conn interface {
	// Send queues a frame for delivery (thread-safe)
	Send(frame types.Frame) error

	// Frames delivers inbound frames in arrival order; closed when the
	// connection ends
	Frames() <-chan types.Frame

	// Err reports why the connection ended; nil after a local Close
	Err() error

	// Close tears the connection down; safe to call more than once
	Close() error
}

// DialRequest carries everything a transport needs to open a connection
type DialRequest struct {
	Endpoint *url.URL
	Identity string
	Header   http.Header
	Jar      http.CookieJar
}

// Transport opens realtime connections of one kind
type Transport interface {
	// Name identifies the transport ("websocket", "polling")
	Name() string

	// Dial opens a connection; it must honour ctx cancellation
	Dial(ctx context.Context, req DialRequest) (Conn, error)
}
