package ports

import (
	"context"
	"io"
)

// Dialer opens stream connections to the remote host.
type Dialer interface {
	// Dial connects to addr ("host:port"). Resolution happens inside the
	// dialer. The returned error means the peer is unavailable right now.
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Conn is an open stream connection.
// Write may accept fewer bytes than given; the caller loops.
type Conn interface {
	io.WriteCloser

	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string
}
