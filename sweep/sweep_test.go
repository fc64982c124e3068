// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sweep

import (
	"context"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/go-daq/tdaq/log"
	"github.com/plegaspi/ad4134-fmcz/dac"
	"github.com/plegaspi/ad4134-fmcz/frame"
	"github.com/plegaspi/ad4134-fmcz/internal/fakeboard"
	"github.com/plegaspi/ad4134-fmcz/store"
)

type fakeSource struct {
	cfg   dac.Config
	codes []uint32
	fail  error
}

func (src *fakeSource) Set(code uint32) (float64, error) {
	if src.fail != nil {
		return 0, src.fail
	}
	err := src.cfg.Validate(code)
	if err != nil {
		return 0, err
	}
	src.codes = append(src.codes, code)
	return src.cfg.Voltage(code), nil
}

func newTestMsg() log.MsgStream {
	return log.NewMsgStream("sweep-test", log.LvlError, io.Discard)
}

func TestSweep(t *testing.T) {
	lay := frame.Layout{Samples: 4, Channels: 2}

	// channel 1 holds codes 10, 12, 14, 16.
	clean := frame.Frame{Words: []uint32{
		frame.EncodeWord(0, false, true), frame.EncodeWord(10, true, true),
		frame.EncodeWord(0, true, true), frame.EncodeWord(12, true, true),
		frame.EncodeWord(0, true, false), frame.EncodeWord(14, true, true),
		frame.EncodeWord(0, true, true), frame.EncodeWord(16, true, true),
	}}
	flagged := frame.Frame{Words: append([]uint32(nil), clean.Words...)}
	flagged.Words[3] = frame.EncodeWord(12, false, true)

	srv, err := fakeboard.New("127.0.0.1:0", lay, func(i int) []frame.Frame {
		if i == 0 {
			return []frame.Frame{flagged}
		}
		return []frame.Frame{clean}
	})
	if err != nil {
		t.Fatalf("could not create fake board: %+v", err)
	}
	defer srv.Close()

	dcfg := dac.DefaultConfig()
	dcfg.Max = 0.01
	src := &fakeSource{cfg: dcfg}

	fname := filepath.Join(t.TempDir(), "sweep.dat")
	cfg := DefaultConfig()
	cfg.Start = 0
	cfg.Stop = 3000
	cfg.Step = 1000
	cfg.Settle = 0
	cfg.Addr = srv.Addr()
	cfg.Layout = lay
	cfg.Output = fname

	sw, err := New(cfg, src, WithMsgStream(newTestMsg()))
	if err != nil {
		t.Fatalf("could not create sweep: %+v", err)
	}

	pts, err := sw.Run(context.Background())
	if err != nil {
		t.Fatalf("could not run sweep: %+v", err)
	}

	// code 2000 (0.019 V) is out of range.
	if got, want := src.codes, []uint32{0, 1000}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid DAC codes: got=%v, want=%v", got, want)
	}
	if got, want := srv.Conns(), 3; got != want {
		t.Fatalf("invalid number of board connections: got=%d, want=%d", got, want)
	}

	var (
		mean = 13 * frame.LSB
		se   = math.Sqrt(20.0/3) * frame.LSB / 2
	)
	if len(pts) != 2 {
		t.Fatalf("invalid number of points: %d", len(pts))
	}
	for i, pt := range pts {
		code := uint32(1000 * i)
		if pt.Code != code || pt.DAC != dcfg.Voltage(code) || pt.N != 4 {
			t.Fatalf("invalid point %d: %+v", i, pt)
		}
		if math.Abs(pt.Mean-mean) > 1e-12 {
			t.Fatalf("invalid mean %d: got=%v, want=%v", i, pt.Mean, mean)
		}
		if math.Abs(pt.StdErr-se) > 1e-12 {
			t.Fatalf("invalid stderr %d: got=%v, want=%v", i, pt.StdErr, se)
		}
	}
	if pts[0].Retries != 1 || pts[1].Retries != 0 {
		t.Fatalf("invalid retries: %d, %d", pts[0].Retries, pts[1].Retries)
	}

	r, err := store.Open(fname)
	if err != nil {
		t.Fatalf("could not open store: %+v", err)
	}
	defer r.Close()

	if got, want := r.Channels(), Columns; got != want {
		t.Fatalf("invalid number of columns: got=%d, want=%d", got, want)
	}
	rows, err := r.ReadRows(nil, 0, r.Len())
	if err != nil {
		t.Fatalf("could not read rows: %+v", err)
	}
	var want []float32
	for _, pt := range pts {
		want = append(want, float32(pt.DAC), float32(pt.Mean), float32(pt.StdErr))
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("invalid rows:\ngot= %v\nwant=%v", rows, want)
	}
}

func TestSweepRetries(t *testing.T) {
	lay := frame.Layout{Samples: 2, Channels: 1}
	flagged := frame.Frame{Words: []uint32{
		frame.EncodeWord(1, true, false), frame.EncodeWord(2, true, true),
	}}

	srv, err := fakeboard.New("127.0.0.1:0", lay, fakeboard.Frames(flagged))
	if err != nil {
		t.Fatalf("could not create fake board: %+v", err)
	}
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Stop = 1
	cfg.Settle = 0
	cfg.Channel = 0
	cfg.MaxRetries = 2
	cfg.Addr = srv.Addr()
	cfg.Layout = lay
	cfg.Output = filepath.Join(t.TempDir(), "sweep.dat")

	sw, err := New(cfg, &fakeSource{cfg: dac.DefaultConfig()}, WithMsgStream(newTestMsg()))
	if err != nil {
		t.Fatalf("could not create sweep: %+v", err)
	}

	_, err = sw.Run(context.Background())
	if got, want := fmt.Sprint(err), "sweep: could not acquire a clean frame for DAC code 0x0 after 2 retries"; got != want {
		t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
	}
	if got, want := srv.Conns(), 3; got != want {
		t.Fatalf("invalid number of board connections: got=%d, want=%d", got, want)
	}
}

func TestSweepSourceError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settle = 0
	cfg.Output = filepath.Join(t.TempDir(), "sweep.dat")

	sw, err := New(cfg, &fakeSource{fail: fmt.Errorf("serial link down")}, WithMsgStream(newTestMsg()))
	if err != nil {
		t.Fatalf("could not create sweep: %+v", err)
	}

	pts, err := sw.Run(context.Background())
	if got, want := fmt.Sprint(err), "sweep: could not set DAC code 0x0: serial link down"; got != want {
		t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
	}
	if len(pts) != 0 {
		t.Fatalf("invalid points: %+v", pts)
	}
}

func TestSweepCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = filepath.Join(t.TempDir(), "sweep.dat")

	sw, err := New(cfg, &fakeSource{cfg: dac.DefaultConfig()}, WithMsgStream(newTestMsg()))
	if err != nil {
		t.Fatalf("could not create sweep: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pts, err := sw.Run(ctx)
	if err != nil {
		t.Fatalf("could not run sweep: %+v", err)
	}
	if len(pts) != 0 {
		t.Fatalf("invalid points: %+v", pts)
	}
}

func TestConfig(t *testing.T) {
	for _, tc := range []struct {
		name string
		mod  func(*Config)
		want string
	}{
		{"step", func(c *Config) { c.Step = 0 }, "sweep: invalid step (0)"},
		{"range", func(c *Config) { c.Start, c.Stop = 2, 1 }, "sweep: invalid code range [0x2, 0x1)"},
		{"channel", func(c *Config) { c.Channel = 4 }, "sweep: invalid channel 4 (channels=4)"},
		{"retries", func(c *Config) { c.MaxRetries = -1 }, "sweep: invalid number of retries (-1)"},
		{"output", func(c *Config) { c.Output = "" }, "sweep: missing output store"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Output = "out.dat"
			tc.mod(&cfg)
			_, err := New(cfg, nil)
			if got := fmt.Sprint(err); got != tc.want {
				t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, tc.want)
			}
		})
	}
}
