// Package chat holds the client-side chat domain: identities, messages and the
// per-connection bookkeeping driven by relay frames.
package chat

import "context"

// Conn abstracts a bidirectional message channel to the relay.
type Conn interface {
	// Read reads a single frame (JSON bytes).
	// Returns io.EOF when the connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame (JSON bytes).
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
