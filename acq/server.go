// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/go-daq/tdaq"
	"github.com/plegaspi/ad4134-fmcz/frame"
)

// Server is a run-control node driving acquisition sessions.
//
// Each /start command creates a new session, writing to a new store in the
// output directory, that runs until the /stop command.
// Converted frames are published on the /adc output.
type Server struct {
	odir string
	opts []Option

	mu   sync.Mutex
	cfg  Config
	run  uint32
	sess *Session
	data chan []byte
}

// NewServer creates a run-control node writing its stores under odir.
func NewServer(odir string, opts ...Option) *Server {
	cfg := DefaultConfig()
	return &Server{
		odir: odir,
		opts: opts,
		cfg:  cfg,
		data: make(chan []byte, 64),
	}
}

// Register registers the command, output and run handlers of the node.
func (srv *Server) Register(node *tdaq.Server) {
	node.CmdHandle("/config", srv.OnConfig)
	node.CmdHandle("/init", srv.OnInit)
	node.CmdHandle("/reset", srv.OnReset)
	node.CmdHandle("/start", srv.OnStart)
	node.CmdHandle("/stop", srv.OnStop)
	node.CmdHandle("/quit", srv.OnQuit)

	node.OutputHandle("/adc", srv.adc)

	node.RunHandle(srv.loop)
}

// EncodeConfig encodes the payload of a /config command.
func EncodeConfig(cfg Config) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteStr(cfg.Addr)
	enc.WriteU32(uint32(cfg.Layout.Samples))
	enc.WriteU32(uint32(cfg.Layout.Channels))
	enc.WriteU32(uint32(cfg.Layout.TimestampWords))
	enc.WriteStr(cfg.Policy.String())
	enc.WriteU32(uint32(cfg.MaxFrames))
	err := enc.Err()
	if err != nil {
		return nil, fmt.Errorf("acq: could not encode configuration: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeConfig(p []byte) (Config, error) {
	var (
		cfg = DefaultConfig()
		dec = tdaq.NewDecoder(bytes.NewReader(p))
	)
	cfg.Addr = dec.ReadStr()
	cfg.Layout.Samples = int(dec.ReadU32())
	cfg.Layout.Channels = int(dec.ReadU32())
	cfg.Layout.TimestampWords = int(dec.ReadU32())
	policy := dec.ReadStr()
	cfg.MaxFrames = int(dec.ReadU32())
	err := dec.Err()
	if err != nil {
		return cfg, fmt.Errorf("acq: could not decode configuration: %w", err)
	}

	cfg.Policy, err = ParsePolicy(policy)
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	cfg, err := decodeConfig(req.Body)
	if err != nil {
		ctx.Msg.Errorf("could not decode /config payload: %+v", err)
		return err
	}

	// the output is only known at /start.
	cfg.Output = "n/a"
	err = cfg.validate()
	if err != nil {
		ctx.Msg.Errorf("invalid configuration: %+v", err)
		return err
	}

	srv.mu.Lock()
	srv.cfg = cfg
	srv.mu.Unlock()

	ctx.Msg.Infof("board=%q samples=%d channels=%d ts-words=%d policy=%v",
		cfg.Addr, cfg.Layout.Samples, cfg.Layout.Channels, cfg.Layout.TimestampWords, cfg.Policy,
	)
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	srv.reset()
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	srv.reset()
	return nil
}

func (srv *Server) reset() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.sess = nil
	srv.data = make(chan []byte, 64)
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	srv.run++
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		run := dec.ReadU32()
		if err := dec.Err(); err != nil {
			return fmt.Errorf("acq: could not decode run number: %w", err)
		}
		srv.run = run
	}

	cfg := srv.cfg
	cfg.Output = filepath.Join(srv.odir, fmt.Sprintf("ad4134_run%03d.dat", srv.run))

	opts := append([]Option{WithMsgStream(ctx.Msg)}, srv.opts...)
	opts = append(opts, WithFrameHook(srv.publish(srv.data)))
	sess, err := New(cfg, opts...)
	if err != nil {
		ctx.Msg.Errorf("could not create session for run %d: %+v", srv.run, err)
		return fmt.Errorf("acq: could not create session for run %d: %w", srv.run, err)
	}
	srv.sess = sess
	ctx.Msg.Infof("run %d: output=%q", srv.run, cfg.Output)

	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	srv.mu.Lock()
	sess := srv.sess
	srv.mu.Unlock()

	if sess == nil {
		return nil
	}
	st := sess.Stats()
	ctx.Msg.Infof("run %d: state=%v frames=%d rows=%d", srv.run, sess.State(), st.Frames, st.Rows)
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return nil
}

// Session returns the session of the current run, if any.
func (srv *Server) Session() *Session {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.sess
}

func (srv *Server) loop(ctx tdaq.Context) error {
	sess := srv.Session()
	if sess == nil {
		return fmt.Errorf("acq: no session to run")
	}

	err := sess.Run(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("session failed: %+v", err)
		return err
	}
	return nil
}

func (srv *Server) adc(ctx tdaq.Context, dst *tdaq.Frame) error {
	srv.mu.Lock()
	data := srv.data
	srv.mu.Unlock()

	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case raw := <-data:
		dst.Body = raw
	}
	return nil
}

// publish returns a frame hook sending the converted frames to ch.
// Frames are dropped when nobody consumes them.
func (srv *Server) publish(ch chan []byte) FrameHook {
	return func(id int64, blk *frame.Block, ts float64) {
		raw, err := EncodeBlock(id, blk, ts)
		if err != nil {
			return
		}
		select {
		case ch <- raw:
		default:
		}
	}
}

// EncodeBlock encodes a converted frame for the /adc output.
// Samples are followed by their flags, one byte per sample.
func EncodeBlock(id int64, blk *frame.Block, ts float64) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU64(uint64(id))
	enc.WriteF64(ts)
	enc.WriteU32(uint32(blk.Rows()))
	enc.WriteU32(uint32(blk.Channels))
	for _, v := range blk.Values {
		enc.WriteF32(v)
	}
	for i := range blk.Values {
		var f frame.Flag
		if i < len(blk.Flags) {
			f = blk.Flags[i]
		}
		enc.WriteU8(uint8(f))
	}
	err := enc.Err()
	if err != nil {
		return nil, fmt.Errorf("acq: could not encode frame %d: %w", id, err)
	}
	return buf.Bytes(), nil
}

// DecodeBlock decodes a converted frame published on the /adc output.
func DecodeBlock(p []byte) (id int64, blk frame.Block, ts float64, err error) {
	dec := tdaq.NewDecoder(bytes.NewReader(p))
	id = int64(dec.ReadU64())
	ts = dec.ReadF64()
	rows := int(dec.ReadU32())
	blk.Channels = int(dec.ReadU32())
	if err = dec.Err(); err != nil {
		return id, blk, ts, fmt.Errorf("acq: could not decode frame header: %w", err)
	}
	blk.Values = make([]float32, rows*blk.Channels)
	for i := range blk.Values {
		blk.Values[i] = dec.ReadF32()
	}
	blk.Flags = make([]frame.Flag, len(blk.Values))
	for i := range blk.Flags {
		f := frame.Flag(dec.ReadU8())
		if f&frame.FlagUnlocked != 0 {
			blk.Unlocked++
		}
		if f&frame.FlagChipError != 0 {
			blk.ChipError++
		}
		blk.Flags[i] = f
	}
	if err = dec.Err(); err != nil {
		return id, blk, ts, fmt.Errorf("acq: could not decode frame %d: %w", id, err)
	}
	return id, blk, ts, nil
}
