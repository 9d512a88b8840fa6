// Package tcp implements the pipeline's transport over plain TCP.
package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/bft-labs/spiship/internal/ports"
)

// Config bounds connection setup and individual writes.
type Config struct {
	// DialTimeout bounds name resolution plus the TCP handshake.
	DialTimeout time.Duration

	// WriteTimeout bounds each Write. Zero means writes may block forever.
	WriteTimeout time.Duration

	// NoDelay disables Nagle's algorithm. Batches are large so the default
	// is false.
	NoDelay bool
}

// Dialer opens TCP connections.
type Dialer struct {
	cfg Config
	net net.Dialer
}

var _ ports.Dialer = (*Dialer)(nil)

// NewDialer creates a TCP dialer.
func NewDialer(cfg Config) *Dialer {
	return &Dialer{
		cfg: cfg,
		net: net.Dialer{Timeout: cfg.DialTimeout},
	}
}

// Dial connects to addr.
func (d *Dialer) Dial(ctx context.Context, addr string) (ports.Conn, error) {
	c, err := d.net.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(d.cfg.NoDelay); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("tcp: set nodelay: %w", err)
		}
	}
	return &conn{Conn: c, writeTimeout: d.cfg.WriteTimeout}, nil
}

type conn struct {
	net.Conn
	writeTimeout time.Duration
}

func (c *conn) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}

func (c *conn) RemoteAddr() string {
	return c.Conn.RemoteAddr().String()
}
