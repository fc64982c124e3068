// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakeboard provides a TCP server that streams frames the way the
// AD4134 FMC board does.
package fakeboard // import "github.com/plegaspi/ad4134-fmcz/internal/fakeboard"

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plegaspi/ad4134-fmcz/frame"
	"golang.org/x/sync/errgroup"
)

// Source returns the frames to stream on the i-th accepted connection.
type Source func(i int) []frame.Frame

// Frames returns a source streaming the same frames on every connection.
func Frames(fs ...frame.Frame) Source {
	return func(int) []frame.Frame { return fs }
}

// Option configures a fake board.
type Option func(*Server)

// WithChunkSize sets the size of the writes on the stream.
// The default is to write each frame at once.
func WithChunkSize(n int) Option {
	return func(srv *Server) {
		srv.chunk = n
	}
}

// WithDelay sets a delay between two consecutive writes.
func WithDelay(d time.Duration) Option {
	return func(srv *Server) {
		srv.delay = d
	}
}

// WithTrailer sets bytes written after the last frame, before closing the
// stream, to emulate a truncated frame.
func WithTrailer(p []byte) Option {
	return func(srv *Server) {
		srv.trailer = p
	}
}

// WithHold keeps the streams open after the last frame until the server
// is closed.
func WithHold() Option {
	return func(srv *Server) {
		srv.hold = true
	}
}

// Server streams frames to the clients connecting to it.
type Server struct {
	lis net.Listener
	lay frame.Layout
	src Source

	chunk   int
	delay   time.Duration
	trailer []byte
	hold    bool

	n     atomic.Int64
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	quit  chan struct{}
	once  sync.Once
	grp   errgroup.Group
}

// New creates a fake board listening on addr.
func New(addr string, lay frame.Layout, src Source, opts ...Option) (*Server, error) {
	err := lay.Validate()
	if err != nil {
		return nil, fmt.Errorf("fakeboard: invalid layout: %w", err)
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("fakeboard: could not listen on %q: %w", addr, err)
	}

	srv := &Server{
		lis:   lis,
		lay:   lay,
		src:   src,
		conns: make(map[net.Conn]struct{}),
		quit:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.grp.Go(srv.serve)
	return srv, nil
}

// Addr returns the address the board listens on.
func (srv *Server) Addr() string {
	return srv.lis.Addr().String()
}

// Conns returns the number of accepted connections.
func (srv *Server) Conns() int {
	return int(srv.n.Load())
}

func (srv *Server) serve() error {
	for {
		conn, err := srv.lis.Accept()
		if err != nil {
			select {
			case <-srv.quit:
				return nil
			default:
				return fmt.Errorf("fakeboard: could not accept connection: %w", err)
			}
		}
		i := int(srv.n.Add(1)) - 1
		srv.mu.Lock()
		srv.conns[conn] = struct{}{}
		srv.mu.Unlock()
		srv.grp.Go(func() error {
			return srv.stream(conn, i)
		})
	}
}

func (srv *Server) stream(conn net.Conn, i int) error {
	defer func() {
		srv.mu.Lock()
		delete(srv.conns, conn)
		srv.mu.Unlock()
		_ = conn.Close()
	}()

	buf := new(bytes.Buffer)
	enc, err := frame.NewEncoder(buf, srv.lay)
	if err != nil {
		return err
	}
	for _, f := range srv.src(i) {
		err = enc.Encode(f)
		if err != nil {
			return fmt.Errorf("fakeboard: could not encode frame: %w", err)
		}
	}
	buf.Write(srv.trailer)

	chunk := srv.chunk
	if chunk <= 0 {
		chunk = srv.lay.Size()
	}

	p := buf.Bytes()
	for len(p) > 0 {
		n := chunk
		if n > len(p) {
			n = len(p)
		}
		_, err = conn.Write(p[:n])
		if err != nil {
			// client went away.
			return nil
		}
		p = p[n:]
		if srv.delay > 0 {
			select {
			case <-srv.quit:
				return nil
			case <-time.After(srv.delay):
			}
		}
	}

	if srv.hold {
		<-srv.quit
	}
	return nil
}

// Close stops the board and closes all its streams.
func (srv *Server) Close() error {
	var err error
	srv.once.Do(func() {
		close(srv.quit)
		err = srv.lis.Close()
		srv.mu.Lock()
		for conn := range srv.conns {
			_ = conn.Close()
		}
		srv.mu.Unlock()
	})
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	werr := srv.grp.Wait()
	if err != nil {
		return fmt.Errorf("fakeboard: could not close listener: %w", err)
	}
	return werr
}
