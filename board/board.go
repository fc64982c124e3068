// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package board holds the stream transport to the AD4134 FMC acquisition
// board.
package board // import "github.com/plegaspi/ad4134-fmcz/board"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultAddr is the default network address of the acquisition board.
const DefaultAddr = "192.168.1.10:7"

var (
	// ErrConnection reports an unreachable or refusing board endpoint.
	ErrConnection = errors.New("board: connection error")
)

// Dialer connects to a board endpoint.
// *net.Dialer implements Dialer.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

var (
	defaultDialer Dialer = &net.Dialer{Timeout: 5 * time.Second}
)

// Conn is a stream connection to a board.
// Conn delivers whole frames, regardless of how the underlying stream
// splits them.
type Conn struct {
	addr string
	conn net.Conn
}

// Dial connects to the board at addr.
// A nil dialer uses a net.Dialer with a 5s connection timeout.
func Dial(ctx context.Context, addr string, dialer Dialer) (*Conn, error) {
	if dialer == nil {
		dialer = defaultDialer
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: could not dial board %q: %w", ErrConnection, addr, err)
	}

	return &Conn{addr: addr, conn: conn}, nil
}

// NewConn wraps an already established stream connection.
func NewConn(conn net.Conn) *Conn {
	addr := ""
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &Conn{addr: addr, conn: conn}
}

// Addr returns the address of the board.
func (c *Conn) Addr() string { return c.addr }

// ReadFrame reads exactly len(p) bytes into p, accumulating partial reads.
//
// ReadFrame returns io.EOF when the board closes the stream before p
// could be filled, n then holds the number of bytes of the dropped,
// incomplete, frame.
// Cancelling ctx aborts a blocked read: ReadFrame then returns ctx.Err().
func (c *Conn) ReadFrame(ctx context.Context, p []byte) (int, error) {
	if c == nil || c.conn == nil {
		return 0, fmt.Errorf("board: read on closed connection: %w", net.ErrClosed)
	}

	err := ctx.Err()
	if err != nil {
		return 0, err
	}

	conn := c.conn
	_ = conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n := 0
	for n < len(p) {
		nn, err := conn.Read(p[n:])
		n += nn
		switch {
		case err == nil:
			if nn == 0 {
				return n, io.EOF
			}
		case errors.Is(err, io.EOF):
			if n == len(p) {
				return n, nil
			}
			return n, io.EOF
		default:
			if ctx.Err() != nil {
				return n, ctx.Err()
			}
			return n, fmt.Errorf("board: could not read frame from %q (%d/%d bytes): %w",
				c.addr, n, len(p), err,
			)
		}
	}

	return n, nil
}

// Close closes the connection to the board.
// Close is a no-op on a nil or already closed connection.
func (c *Conn) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return fmt.Errorf("board: could not close connection to %q: %w", c.addr, err)
	}
	return nil
}
