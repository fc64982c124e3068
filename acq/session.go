// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-daq/tdaq/log"
	"github.com/plegaspi/ad4134-fmcz/board"
	"github.com/plegaspi/ad4134-fmcz/frame"
	"github.com/plegaspi/ad4134-fmcz/store"
)

// Session is a single acquisition session.
//
// A session goes through the Idle, Connected, Streaming, ShuttingDown and
// Closed states. Whatever ends the streaming (end of stream, stop request,
// error), the board connection and the store are released before Run
// returns. A session can not be restarted: create a new one.
type Session struct {
	cfg    Config
	msg    log.MsgStream
	dialer board.Dialer
	hook   FrameHook

	state atomic.Int32
	ran   atomic.Bool

	mu    sync.Mutex
	stats Stats
}

// New creates a new acquisition session.
func New(cfg Config, opts ...Option) (*Session, error) {
	err := cfg.validate()
	if err != nil {
		return nil, err
	}

	s := &Session{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.msg == nil {
		s.msg = newMsgStream()
	}
	return s, nil
}

// Config returns the configuration of the session.
func (s *Session) Config() Config { return s.cfg }

// State returns the current state of the session.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.msg.Debugf("session: %v", st)
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Session) update(f func(*Stats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}

// Run runs the session until the board closes the stream, ctx is
// cancelled or the configured number of frames has been stored.
// These three ends are not errors: Run then returns nil.
func (s *Session) Run(ctx context.Context) (err error) {
	if !s.ran.CompareAndSwap(false, true) {
		return fmt.Errorf("acq: session already ran")
	}

	lay := s.cfg.Layout
	dec, err := frame.NewDecoder(lay)
	if err != nil {
		s.setState(StateClosed)
		return fmt.Errorf("acq: could not create frame decoder: %w", err)
	}

	if ctx.Err() != nil {
		s.setState(StateClosed)
		return nil
	}

	conn, err := board.Dial(ctx, s.cfg.Addr, s.dialer)
	if err != nil {
		s.setState(StateClosed)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("acq: could not connect to board: %w", err)
	}

	w, err := store.Create(s.cfg.Output, store.Options{
		Channels:   lay.Channels,
		ChunkRows:  lay.Samples,
		Timestamps: lay.TimestampWords > 0,
		Overwrite:  s.cfg.Overwrite,
	})
	if err != nil {
		s.setState(StateClosed)
		return errors.Join(
			fmt.Errorf("acq: could not create output store: %w", err),
			conn.Close(),
		)
	}
	s.setState(StateConnected)
	s.msg.Infof("connected to board %q (frame=%d bytes)", conn.Addr(), lay.Size())

	defer func() {
		s.setState(StateShuttingDown)
		err = errors.Join(err, conn.Close(), w.Close())
		s.setState(StateClosed)

		st := s.Stats()
		s.msg.Infof(
			"session closed: frames=%d rows=%d discarded=%d unlocked=%d chip-errors=%d",
			st.Frames, st.Rows, st.Discarded, st.Unlocked, st.ChipError,
		)
	}()

	s.setState(StateStreaming)
	return s.stream(ctx, conn, dec, w)
}

func (s *Session) stream(ctx context.Context, conn *board.Conn, dec *frame.Decoder, w *store.Writer) error {
	var (
		lay = s.cfg.Layout
		raw = make([]byte, lay.Size())
		f   frame.Frame
		blk frame.Block

		rows  []float32
		times []float32
	)

	for id := int64(0); ; id++ {
		select {
		case <-ctx.Done():
			s.msg.Infof("stop requested")
			return nil
		default:
		}

		if s.cfg.MaxFrames > 0 && id >= int64(s.cfg.MaxFrames) {
			s.msg.Infof("acquired %d frames", id)
			return nil
		}

		n, err := conn.ReadFrame(ctx, raw)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			if n > 0 {
				s.msg.Warnf("end of stream: dropping incomplete frame (%d/%d bytes)", n, len(raw))
				s.update(func(st *Stats) { st.Dropped += int64(n) })
			} else {
				s.msg.Infof("end of stream")
			}
			return nil
		case ctx.Err() != nil:
			s.msg.Infof("stop requested: dropping incomplete frame (%d/%d bytes)", n, len(raw))
			s.update(func(st *Stats) { st.Dropped += int64(n) })
			return nil
		default:
			return fmt.Errorf("acq: could not read frame %d: %w", id, err)
		}

		err = dec.Decode(raw, &f)
		if err != nil {
			return fmt.Errorf("acq: could not decode frame %d: %w", id, err)
		}

		err = frame.ConvertWords(&blk, f.Words, lay.Channels)
		if err != nil {
			return fmt.Errorf("acq: could not convert frame %d: %w", id, err)
		}

		ts, _ := frame.Timestamp(f.Header)

		rows, times, err = s.filter(id, &blk, ts, rows[:0], times[:0])
		if err != nil {
			return err
		}

		err = w.Append(rows, times)
		if err != nil {
			return fmt.Errorf("acq: could not store frame %d: %w", id, err)
		}

		nrows := int64(len(rows) / lay.Channels)
		s.update(func(st *Stats) {
			st.Frames++
			st.Rows += nrows
		})

		if s.hook != nil {
			s.hook(id, &blk, ts)
		}
	}
}

// filter applies the data quality policy to the rows of blk and returns
// the rows and timestamps to store.
func (s *Session) filter(id int64, blk *frame.Block, ts float64, rows, times []float32) ([]float32, []float32, error) {
	withTime := s.cfg.Layout.TimestampWords > 0
	if blk.OK() {
		rows = append(rows, blk.Values...)
		if withTime {
			for i := 0; i < blk.Rows(); i++ {
				times = append(times, float32(ts))
			}
		}
		return rows, times, nil
	}

	s.update(func(st *Stats) {
		st.Unlocked += int64(blk.Unlocked)
		st.ChipError += int64(blk.ChipError)
	})

	switch s.cfg.Policy {
	case PolicyAbort:
		s.msg.Errorf("frame %d: unlocked=%d chip-errors=%d", id, blk.Unlocked, blk.ChipError)
		return nil, nil, fmt.Errorf(
			"%w: frame %d (unlocked=%d, chip-errors=%d)",
			ErrDataQuality, id, blk.Unlocked, blk.ChipError,
		)

	case PolicyDiscard:
		discarded := 0
		for i := 0; i < blk.Rows(); i++ {
			if blk.RowFlags(i) != 0 {
				discarded++
				continue
			}
			rows = append(rows, blk.Row(i)...)
			if withTime {
				times = append(times, float32(ts))
			}
		}
		s.update(func(st *Stats) { st.Discarded += int64(discarded) })
		s.msg.Warnf(
			"frame %d: unlocked=%d chip-errors=%d, discarded %d/%d rows",
			id, blk.Unlocked, blk.ChipError, discarded, blk.Rows(),
		)

	default:
		rows = append(rows, blk.Values...)
		if withTime {
			for i := 0; i < blk.Rows(); i++ {
				times = append(times, float32(ts))
			}
		}
		s.msg.Warnf("frame %d: unlocked=%d chip-errors=%d", id, blk.Unlocked, blk.ChipError)
	}

	return rows, times, nil
}
