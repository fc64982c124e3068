// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"bytes"
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/plegaspi/ad4134-fmcz/frame"
	"github.com/plegaspi/ad4134-fmcz/internal/fakeboard"
)

func TestConfigCodec(t *testing.T) {
	want := Config{
		Addr:      "127.0.0.1:7",
		Layout:    frame.Layout{Samples: 16, Channels: 2, TimestampWords: 2},
		Policy:    PolicyDiscard,
		MaxFrames: 10,
	}

	raw, err := EncodeConfig(want)
	if err != nil {
		t.Fatalf("could not encode config: %+v", err)
	}

	got, err := decodeConfig(raw)
	if err != nil {
		t.Fatalf("could not decode config: %+v", err)
	}
	if got != want {
		t.Fatalf("invalid config:\ngot= %+v\nwant=%+v", got, want)
	}

	_, err = decodeConfig(raw[:5])
	if err == nil {
		t.Fatalf("expected an error decoding a truncated payload")
	}
}

func TestBlockCodec(t *testing.T) {
	for _, tc := range []struct {
		name  string
		blk   frame.Block
		flags []frame.Flag // expected row flags
		ok    bool
	}{
		{
			name: "clean",
			blk: frame.Block{
				Channels: 2,
				Values:   []float32{1, 2, 3, 4, 5, 6},
				Flags:    make([]frame.Flag, 6),
			},
			flags: []frame.Flag{0, 0, 0},
			ok:    true,
		},
		{
			name: "flagged",
			blk: frame.Block{
				Channels:  2,
				Values:    []float32{1, 2, 3, 4, 5, 6},
				Flags:     []frame.Flag{0, frame.FlagUnlocked, 0, 0, frame.FlagChipError, frame.FlagUnlocked},
				Unlocked:  2,
				ChipError: 1,
			},
			flags: []frame.Flag{frame.FlagUnlocked, 0, frame.FlagUnlocked | frame.FlagChipError},
			ok:    false,
		},
		{
			name: "no-flags",
			blk: frame.Block{
				Channels: 2,
				Values:   []float32{1, 2, 3, 4},
			},
			flags: []frame.Flag{0, 0},
			ok:    true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := EncodeBlock(42, &tc.blk, 1.5)
			if err != nil {
				t.Fatalf("could not encode block: %+v", err)
			}

			id, got, ts, err := DecodeBlock(raw)
			if err != nil {
				t.Fatalf("could not decode block: %+v", err)
			}
			if id != 42 || ts != 1.5 {
				t.Fatalf("invalid block header: id=%d, ts=%v", id, ts)
			}
			if got.Channels != tc.blk.Channels || !reflect.DeepEqual(got.Values, tc.blk.Values) {
				t.Fatalf("invalid block:\ngot= %+v\nwant=%+v", got, tc.blk)
			}
			if got.Unlocked != tc.blk.Unlocked || got.ChipError != tc.blk.ChipError {
				t.Fatalf("invalid flag counts: got=(%d, %d), want=(%d, %d)",
					got.Unlocked, got.ChipError, tc.blk.Unlocked, tc.blk.ChipError,
				)
			}
			if got, want := got.OK(), tc.ok; got != want {
				t.Fatalf("invalid block status: got=%v, want=%v", got, want)
			}
			if got, want := got.Rows(), len(tc.flags); got != want {
				t.Fatalf("invalid number of rows: got=%d, want=%d", got, want)
			}
			for i, want := range tc.flags {
				if got := got.RowFlags(i); got != want {
					t.Fatalf("invalid flags for row %d: got=%v, want=%v", i, got, want)
				}
			}
		})
	}

	_, _, _, err := DecodeBlock([]byte{1, 2, 3})
	if err == nil {
		t.Fatalf("expected an error decoding a truncated block")
	}
}

func TestServer(t *testing.T) {
	lay := frame.Layout{Samples: 2, Channels: 2}
	fs := []frame.Frame{genFrame(lay, 0, 0), genFrame(lay, 4, 0)}

	fb, err := fakeboard.New("127.0.0.1:0", lay, fakeboard.Frames(fs...))
	if err != nil {
		t.Fatalf("could not create fake board: %+v", err)
	}
	defer fb.Close()

	var (
		odir = t.TempDir()
		srv  = NewServer(odir)
		ctx  = tdaq.Context{Ctx: context.Background(), Msg: newTestMsg()}
		resp tdaq.Frame
	)

	cfg, err := EncodeConfig(Config{Addr: fb.Addr(), Layout: lay, Policy: PolicyLog})
	if err != nil {
		t.Fatalf("could not encode config: %+v", err)
	}

	for _, tc := range []struct {
		name string
		h    func(tdaq.Context, *tdaq.Frame, tdaq.Frame) error
		req  []byte
	}{
		{"/config", srv.OnConfig, cfg},
		{"/init", srv.OnInit, nil},
		{"/reset", srv.OnReset, nil},
		{"/start", srv.OnStart, nil},
	} {
		err := tc.h(ctx, &resp, tdaq.Frame{Body: tc.req})
		if err != nil {
			t.Fatalf("could not run %s: %+v", tc.name, err)
		}
	}

	sess := srv.Session()
	if sess == nil {
		t.Fatalf("no session after /start")
	}
	if got, want := sess.Config().Output, filepath.Join(odir, "ad4134_run001.dat"); got != want {
		t.Fatalf("invalid output: got=%q, want=%q", got, want)
	}

	err = srv.loop(ctx)
	if err != nil {
		t.Fatalf("could not run session: %+v", err)
	}

	for i := range fs {
		var dst tdaq.Frame
		octx, cancel := context.WithTimeout(context.Background(), time.Second)
		err = srv.adc(tdaq.Context{Ctx: octx, Msg: ctx.Msg}, &dst)
		cancel()
		if err != nil {
			t.Fatalf("could not read /adc output: %+v", err)
		}
		id, blk, _, err := DecodeBlock(dst.Body)
		if err != nil {
			t.Fatalf("could not decode /adc output: %+v", err)
		}
		if id != int64(i) {
			t.Fatalf("invalid frame id: got=%d, want=%d", id, i)
		}
		if want := wantRows(fs[i : i+1]); !reflect.DeepEqual(blk.Values, want) {
			t.Fatalf("invalid frame values:\ngot= %v\nwant=%v", blk.Values, want)
		}
	}

	for _, tc := range []struct {
		name string
		h    func(tdaq.Context, *tdaq.Frame, tdaq.Frame) error
	}{
		{"/stop", srv.OnStop},
		{"/quit", srv.OnQuit},
	} {
		err := tc.h(ctx, &resp, tdaq.Frame{})
		if err != nil {
			t.Fatalf("could not run %s: %+v", tc.name, err)
		}
	}

	// explicit run number.
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(42)
	err = srv.OnStart(ctx, &resp, tdaq.Frame{Body: buf.Bytes()})
	if err != nil {
		t.Fatalf("could not run /start: %+v", err)
	}
	if got, want := srv.Session().Config().Output, filepath.Join(odir, "ad4134_run042.dat"); got != want {
		t.Fatalf("invalid output: got=%q, want=%q", got, want)
	}
}

func TestServerBadConfig(t *testing.T) {
	var (
		srv  = NewServer(t.TempDir())
		ctx  = tdaq.Context{Ctx: context.Background(), Msg: newTestMsg()}
		resp tdaq.Frame
	)

	raw, err := EncodeConfig(Config{Addr: "localhost:7", Layout: frame.Layout{Samples: 1, Channels: 0}})
	if err != nil {
		t.Fatalf("could not encode config: %+v", err)
	}
	err = srv.OnConfig(ctx, &resp, tdaq.Frame{Body: raw})
	if err == nil {
		t.Fatalf("expected an error")
	}

	err = srv.loop(ctx)
	if err == nil {
		t.Fatalf("expected an error running without session")
	}
}
