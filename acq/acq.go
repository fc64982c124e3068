// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package acq runs acquisition sessions: frames are read from an AD4134
// FMC board, decoded, converted to voltages and appended to a store.
package acq // import "github.com/plegaspi/ad4134-fmcz/acq"

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-daq/tdaq/log"
	"github.com/plegaspi/ad4134-fmcz/board"
	"github.com/plegaspi/ad4134-fmcz/frame"
)

var (
	// ErrDataQuality reports a flagged sample under the PolicyAbort policy.
	ErrDataQuality = errors.New("acq: data quality error")
)

// State is the state of an acquisition session.
type State int32

const (
	StateIdle State = iota
	StateConnected
	StateStreaming
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateShuttingDown:
		return "shutting-down"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Policy is the disposition of rows holding flagged samples.
type Policy int

const (
	PolicyLog     Policy = iota // keep flagged rows, log them
	PolicyDiscard               // drop flagged rows
	PolicyAbort                 // end the session with ErrDataQuality
)

func (p Policy) String() string {
	switch p {
	case PolicyLog:
		return "log"
	case PolicyDiscard:
		return "discard"
	case PolicyAbort:
		return "abort"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy parses the name of a data quality policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "log", "":
		return PolicyLog, nil
	case "discard":
		return PolicyDiscard, nil
	case "abort":
		return PolicyAbort, nil
	}
	return 0, fmt.Errorf("acq: unknown data quality policy %q", name)
}

// Config describes an acquisition session.
type Config struct {
	Addr      string       // network address of the board
	Layout    frame.Layout // frame layout
	Output    string       // path of the output store
	Overwrite bool         // whether an existing output may be replaced
	Policy    Policy       // disposition of flagged rows
	MaxFrames int          // number of frames to acquire, 0 for no limit
}

// DefaultConfig returns the configuration of the board as shipped.
func DefaultConfig() Config {
	return Config{
		Addr: board.DefaultAddr,
		Layout: frame.Layout{
			Samples:  20480,
			Channels: 4,
		},
		Policy: PolicyLog,
	}
}

func (cfg Config) validate() error {
	err := cfg.Layout.Validate()
	if err != nil {
		return fmt.Errorf("acq: invalid frame layout: %w", err)
	}
	switch {
	case cfg.Addr == "":
		return fmt.Errorf("acq: missing board address")
	case cfg.Output == "":
		return fmt.Errorf("acq: missing output store")
	case cfg.MaxFrames < 0:
		return fmt.Errorf("acq: invalid maximum number of frames (%d)", cfg.MaxFrames)
	}
	switch cfg.Policy {
	case PolicyLog, PolicyDiscard, PolicyAbort:
	default:
		return fmt.Errorf("acq: invalid data quality policy %v", cfg.Policy)
	}
	return nil
}

// Stats holds the counters of an acquisition session.
type Stats struct {
	Frames    int64 // frames read
	Rows      int64 // rows appended to the store
	Discarded int64 // flagged rows dropped
	Unlocked  int64 // samples with the lock bit cleared
	ChipError int64 // samples with the integrity bit cleared
	Dropped   int64 // bytes of the incomplete frame dropped at end of stream
}

// FrameHook is called after each frame has been appended to the store.
// The block and its values are only valid during the call.
type FrameHook func(id int64, blk *frame.Block, ts float64)

// Option configures a session.
type Option func(*Session)

// WithMsgStream sets the message stream a session logs to.
func WithMsgStream(msg log.MsgStream) Option {
	return func(s *Session) {
		s.msg = msg
	}
}

// WithDialer sets the dialer used to connect to the board.
func WithDialer(dialer board.Dialer) Option {
	return func(s *Session) {
		s.dialer = dialer
	}
}

// WithFrameHook sets a function called after each stored frame.
func WithFrameHook(hook FrameHook) Option {
	return func(s *Session) {
		s.hook = hook
	}
}

func newMsgStream() log.MsgStream {
	return log.NewMsgStream("acq", log.LvlInfo, os.Stdout)
}
