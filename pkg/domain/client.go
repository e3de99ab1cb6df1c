package domain

import (
	"context"
)

// Client represents one live connection as seen by the hub. Implementations
// must make Send safe for concurrent use and Close idempotent.
type Client interface {
	// ID returns the unique identifier of the connection
	ID() string

	// Send queues a message for delivery to the remote peer
	Send(ctx context.Context, message []byte) error

	// Receive sets up a message handler for incoming frames
	Receive(handler MessageHandler) error

	// Close closes the connection
	Close() error

	// Context returns a context that is cancelled when the connection closes
	Context() context.Context
}

// MessageHandler is a function that handles incoming frames. Frames from a
// single connection are delivered sequentially, in arrival order.
type MessageHandler func(message []byte) error
