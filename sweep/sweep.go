// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sweep runs calibration sweeps: the reference DAC output is
// stepped over a range of codes and, for each step, one frame is acquired
// from the AD4134 FMC board and the mean and standard error of the
// watched channel are stored.
package sweep // import "github.com/plegaspi/ad4134-fmcz/sweep"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/plegaspi/ad4134-fmcz/board"
	"github.com/plegaspi/ad4134-fmcz/dac"
	"github.com/plegaspi/ad4134-fmcz/frame"
	"github.com/plegaspi/ad4134-fmcz/store"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Columns is the number of columns of a sweep store:
// DAC voltage, ADC mean and ADC standard error.
const Columns = 3

// Source is a DAC output that can be set to a code.
// *dac.Device implements Source.
type Source interface {
	// Set sets the output code and returns the read back voltage.
	Set(code uint32) (float64, error)
}

// Config describes a calibration sweep.
type Config struct {
	Start, Stop, Step uint32        // DAC codes [Start, Stop) by Step
	Settle            time.Duration // delay between a DAC step and the acquisition
	Channel           int           // watched ADC channel
	MaxRetries        int           // frames with flagged samples re-acquired per step

	Addr      string       // network address of the board
	Layout    frame.Layout // frame layout
	Output    string       // path of the output store
	Overwrite bool         // whether an existing output may be replaced
}

// DefaultConfig returns the configuration of the standard 20-bit DAC sweep.
func DefaultConfig() Config {
	return Config{
		Start:      0,
		Stop:       1 << 20,
		Step:       10000,
		Settle:     1 * time.Second,
		Channel:    1,
		MaxRetries: 10,
		Addr:       board.DefaultAddr,
		Layout:     frame.Layout{Samples: 20480, Channels: 4},
	}
}

func (cfg Config) validate() error {
	err := cfg.Layout.Validate()
	if err != nil {
		return fmt.Errorf("sweep: invalid frame layout: %w", err)
	}
	switch {
	case cfg.Step == 0:
		return fmt.Errorf("sweep: invalid step (0)")
	case cfg.Stop < cfg.Start:
		return fmt.Errorf("sweep: invalid code range [0x%x, 0x%x)", cfg.Start, cfg.Stop)
	case cfg.Channel < 0 || cfg.Channel >= cfg.Layout.Channels:
		return fmt.Errorf("sweep: invalid channel %d (channels=%d)", cfg.Channel, cfg.Layout.Channels)
	case cfg.MaxRetries < 0:
		return fmt.Errorf("sweep: invalid number of retries (%d)", cfg.MaxRetries)
	case cfg.Output == "":
		return fmt.Errorf("sweep: missing output store")
	}
	return nil
}

// Point is the measurement of one sweep step.
type Point struct {
	Code    uint32  // DAC output code
	DAC     float64 // DAC read back voltage
	Mean    float64 // mean of the watched channel
	StdErr  float64 // standard error of the mean
	N       int     // number of samples
	Retries int     // number of rejected frames
}

// Option configures a sweep.
type Option func(*Sweeper)

// WithMsgStream sets the message stream a sweep logs to.
func WithMsgStream(msg log.MsgStream) Option {
	return func(sw *Sweeper) {
		sw.msg = msg
	}
}

// WithDialer sets the dialer used to connect to the board.
func WithDialer(dialer board.Dialer) Option {
	return func(sw *Sweeper) {
		sw.dialer = dialer
	}
}

// Sweeper runs a calibration sweep.
type Sweeper struct {
	cfg    Config
	src    Source
	msg    log.MsgStream
	dialer board.Dialer
}

// New creates a new calibration sweep driving src.
func New(cfg Config, src Source, opts ...Option) (*Sweeper, error) {
	err := cfg.validate()
	if err != nil {
		return nil, err
	}

	sw := &Sweeper{cfg: cfg, src: src}
	for _, opt := range opts {
		opt(sw)
	}
	if sw.msg == nil {
		sw.msg = log.NewMsgStream("sweep", log.LvlInfo, os.Stdout)
	}
	return sw, nil
}

// Run runs the sweep and returns the measured points.
// Steps whose code is out of the DAC range are skipped.
// Cancelling ctx stops the sweep after the current step; the points
// measured so far are stored and returned.
func (sw *Sweeper) Run(ctx context.Context) ([]Point, error) {
	w, err := store.Create(sw.cfg.Output, store.Options{
		Channels:  Columns,
		ChunkRows: 1,
		Overwrite: sw.cfg.Overwrite,
	})
	if err != nil {
		return nil, fmt.Errorf("sweep: could not create output store: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		pts []Point
		ch  = make(chan Point)
		grp errgroup.Group
	)

	grp.Go(func() error {
		defer close(ch)
		return sw.steps(ctx, ch)
	})
	grp.Go(func() error {
		for pt := range ch {
			err := w.Append([]float32{float32(pt.DAC), float32(pt.Mean), float32(pt.StdErr)}, nil)
			if err != nil {
				cancel()
				for range ch {
				}
				return fmt.Errorf("sweep: could not store point 0x%x: %w", pt.Code, err)
			}
			pts = append(pts, pt)
		}
		return nil
	})

	err = grp.Wait()
	return pts, errors.Join(err, w.Close())
}

func (sw *Sweeper) steps(ctx context.Context, ch chan<- Point) error {
	for code := uint64(sw.cfg.Start); code < uint64(sw.cfg.Stop); code += uint64(sw.cfg.Step) {
		if ctx.Err() != nil {
			sw.msg.Infof("sweep interrupted at code 0x%x", code)
			return nil
		}

		v, err := sw.src.Set(uint32(code))
		if err != nil {
			if errors.Is(err, dac.ErrRange) {
				sw.msg.Warnf("could not set DAC code 0x%x: %+v", code, err)
				continue
			}
			return fmt.Errorf("sweep: could not set DAC code 0x%x: %w", code, err)
		}
		sw.msg.Infof("DAC code 0x%x: %v V", code, v)

		select {
		case <-ctx.Done():
			sw.msg.Infof("sweep interrupted at code 0x%x", code)
			return nil
		case <-time.After(sw.cfg.Settle):
		}

		pt, err := sw.measure(ctx, uint32(code), v)
		if err != nil {
			if ctx.Err() != nil {
				sw.msg.Infof("sweep interrupted at code 0x%x", code)
				return nil
			}
			return err
		}
		sw.msg.Infof("DAC=%v V: ADC mean=%v V, stderr=%v V (retries=%d)", pt.DAC, pt.Mean, pt.StdErr, pt.Retries)
		ch <- pt
	}
	return nil
}

// measure acquires frames, each on a new connection, until the watched
// channel holds no flagged sample.
func (sw *Sweeper) measure(ctx context.Context, code uint32, volts float64) (Point, error) {
	var (
		lay = sw.cfg.Layout
		raw = make([]byte, lay.Size())
		f   frame.Frame
		xs  = make([]float64, lay.Samples)
	)

	dec, err := frame.NewDecoder(lay)
	if err != nil {
		return Point{}, fmt.Errorf("sweep: could not create frame decoder: %w", err)
	}

	for try := 0; try <= sw.cfg.MaxRetries; try++ {
		err = sw.fetch(ctx, raw)
		if err != nil {
			return Point{}, fmt.Errorf("sweep: could not acquire frame for DAC code 0x%x: %w", code, err)
		}

		err = dec.Decode(raw, &f)
		if err != nil {
			return Point{}, fmt.Errorf("sweep: could not decode frame for DAC code 0x%x: %w", code, err)
		}

		flag := frame.Flag(0)
		for i := range xs {
			w := f.Words[i*lay.Channels+sw.cfg.Channel]
			flag |= frame.Status(w)
			xs[i] = frame.Voltage(w)
		}
		if flag != 0 {
			sw.msg.Warnf("DAC code 0x%x: channel %d %v, re-acquiring", code, sw.cfg.Channel, flag)
			continue
		}

		mean, std := stat.MeanStdDev(xs, nil)
		return Point{
			Code:    code,
			DAC:     volts,
			Mean:    mean,
			StdErr:  stat.StdErr(std, float64(len(xs))),
			N:       len(xs),
			Retries: try,
		}, nil
	}

	return Point{}, fmt.Errorf(
		"sweep: could not acquire a clean frame for DAC code 0x%x after %d retries",
		code, sw.cfg.MaxRetries,
	)
}

func (sw *Sweeper) fetch(ctx context.Context, raw []byte) error {
	conn, err := board.Dial(ctx, sw.cfg.Addr, sw.dialer)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ReadFrame(ctx, raw)
	if err != nil {
		return err
	}
	return conn.Close()
}
