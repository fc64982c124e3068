// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"
)

type failingDialer struct {
	err error
}

func (d failingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return nil, d.err
}

func TestDialRefused(t *testing.T) {
	_, err := Dial(context.Background(), "192.168.1.10:7", failingDialer{err: syscall.ECONNREFUSED})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("error does not wrap ErrConnection: %+v", err)
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Fatalf("error does not wrap the dial error: %+v", err)
	}
}

func TestDial(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not create listener: %+v", err)
	}
	defer lis.Close()

	want := []byte("0123456789abcdef")
	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write(want)
	}()

	c, err := Dial(context.Background(), lis.Addr().String(), nil)
	if err != nil {
		t.Fatalf("could not dial: %+v", err)
	}
	defer c.Close()

	got := make([]byte, len(want))
	n, err := c.ReadFrame(context.Background(), got)
	if err != nil {
		t.Fatalf("could not read frame: %+v", err)
	}
	if n != len(want) || !bytes.Equal(got, want) {
		t.Fatalf("invalid frame: got=%q, want=%q", got[:n], want)
	}

	n, err = c.ReadFrame(context.Background(), got)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got=%+v", err)
	}
	if n != 0 {
		t.Fatalf("invalid partial size: got=%d, want=0", n)
	}
}

// writeChunks writes p to w in chunks of the provided size.
func writeChunks(w io.Writer, p []byte, chunk int) error {
	for len(p) > 0 {
		n := chunk
		if n > len(p) {
			n = len(p)
		}
		_, err := w.Write(p[:n])
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func TestReadFrameChunks(t *testing.T) {
	const (
		size    = 64
		nframes = 3
	)

	raw := make([]byte, size*nframes)
	for i := range raw {
		raw[i] = byte(i)
	}

	for _, chunk := range []int{1, 3, 7, size, size + 5, len(raw)} {
		t.Run(fmt.Sprintf("chunk=%d", chunk), func(t *testing.T) {
			cli, srv := net.Pipe()
			c := NewConn(cli)
			defer c.Close()

			errc := make(chan error, 1)
			go func() {
				defer srv.Close()
				errc <- writeChunks(srv, raw, chunk)
			}()

			buf := make([]byte, size)
			for i := 0; i < nframes; i++ {
				n, err := c.ReadFrame(context.Background(), buf)
				if err != nil {
					t.Fatalf("could not read frame %d: %+v", i, err)
				}
				if n != size {
					t.Fatalf("invalid frame size: got=%d, want=%d", n, size)
				}
				if want := raw[i*size : (i+1)*size]; !bytes.Equal(buf, want) {
					t.Fatalf("invalid frame %d content", i)
				}
			}

			_, err := c.ReadFrame(context.Background(), buf)
			if !errors.Is(err, io.EOF) {
				t.Fatalf("expected io.EOF, got=%+v", err)
			}

			err = <-errc
			if err != nil {
				t.Fatalf("could not write chunks: %+v", err)
			}
		})
	}
}

func TestReadFramePartialEOF(t *testing.T) {
	cli, srv := net.Pipe()
	c := NewConn(cli)
	defer c.Close()

	go func() {
		defer srv.Close()
		_ = writeChunks(srv, []byte("0123456789"), 3)
	}()

	buf := make([]byte, 16)
	n, err := c.ReadFrame(context.Background(), buf)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got=%+v", err)
	}
	if n != 10 {
		t.Fatalf("invalid partial size: got=%d, want=10", n)
	}
}

func TestReadFrameCancel(t *testing.T) {
	cli, srv := net.Pipe()
	defer srv.Close()

	c := NewConn(cli)
	defer c.Close()

	go func() {
		_, _ = srv.Write([]byte("012"))
	}()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	buf := make([]byte, 16)
	n, err := c.ReadFrame(ctx, buf)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got=%+v", err)
	}
	if n != 3 {
		t.Fatalf("invalid partial size: got=%d, want=3", n)
	}

	// a cancelled read leaves the connection usable.
	go func() {
		_, _ = srv.Write([]byte("abcd"))
	}()
	n, err = c.ReadFrame(context.Background(), buf[:4])
	if err != nil {
		t.Fatalf("could not read after cancel: %+v", err)
	}
	if got, want := string(buf[:n]), "abcd"; got != want {
		t.Fatalf("invalid frame: got=%q, want=%q", got, want)
	}

	_, err = c.ReadFrame(ctx, buf)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got=%+v", err)
	}
}

func TestClose(t *testing.T) {
	var nilConn *Conn
	err := nilConn.Close()
	if err != nil {
		t.Fatalf("could not close nil conn: %+v", err)
	}

	_, err = Dial(context.Background(), "localhost:0", failingDialer{err: syscall.ECONNREFUSED})
	if err == nil {
		t.Fatalf("expected an error")
	}

	cli, srv := net.Pipe()
	defer srv.Close()

	c := NewConn(cli)
	for i := 0; i < 2; i++ {
		err = c.Close()
		if err != nil {
			t.Fatalf("could not close conn (iter=%d): %+v", i, err)
		}
	}

	_, err = c.ReadFrame(context.Background(), make([]byte, 4))
	if !errors.Is(err, net.ErrClosed) {
		t.Fatalf("expected net.ErrClosed, got=%+v", err)
	}
}
