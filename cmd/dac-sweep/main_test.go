// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/plegaspi/ad4134-fmcz/dac"
	"github.com/plegaspi/ad4134-fmcz/frame"
	"github.com/plegaspi/ad4134-fmcz/internal/fakeboard"
	"github.com/plegaspi/ad4134-fmcz/store"
	"github.com/plegaspi/ad4134-fmcz/sweep"
)

type fakeSource struct {
	cfg dac.Config
}

func (src fakeSource) Set(code uint32) (float64, error) {
	err := src.cfg.Validate(code)
	if err != nil {
		return 0, err
	}
	return src.cfg.Voltage(code), nil
}

func TestRun(t *testing.T) {
	lay := frame.Layout{Samples: 2, Channels: 2}
	f := frame.Frame{Words: []uint32{
		frame.EncodeWord(0, true, true), frame.EncodeWord(4, true, true),
		frame.EncodeWord(0, true, true), frame.EncodeWord(6, true, true),
	}}

	srv, err := fakeboard.New("127.0.0.1:0", lay, fakeboard.Frames(f))
	if err != nil {
		t.Fatalf("could not create fake board: %+v", err)
	}
	defer srv.Close()

	cfg := sweep.DefaultConfig()
	cfg.Start = 0
	cfg.Stop = 20
	cfg.Step = 10
	cfg.Settle = 0
	cfg.Addr = srv.Addr()
	cfg.Layout = lay
	cfg.Output = filepath.Join(t.TempDir(), "sweep.dat")

	out := new(bytes.Buffer)
	err = run(context.Background(), out, cfg, fakeSource{cfg: dac.DefaultConfig()})
	if err != nil {
		t.Fatalf("could not run sweep: %+v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if got, want := len(lines), 1+2; got != want {
		t.Fatalf("invalid number of lines: got=%d, want=%d\n%s", got, want, out.String())
	}
	if !strings.HasPrefix(lines[1], "0x00000 ") || !strings.HasPrefix(lines[2], "0x0000a ") {
		t.Fatalf("invalid sweep output:\n%s", out.String())
	}

	r, err := store.Open(cfg.Output)
	if err != nil {
		t.Fatalf("could not open sweep store: %+v", err)
	}
	defer r.Close()

	if got, want := r.Len(), int64(2); got != want {
		t.Fatalf("invalid number of rows: got=%d, want=%d", got, want)
	}
	if got, want := r.Channels(), sweep.Columns; got != want {
		t.Fatalf("invalid number of columns: got=%d, want=%d", got, want)
	}
}
