// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command daq-run drives an AD4134 acquisition in stand-alone mode.
//
// Usage: daq-run [OPTIONS] -o out.dat
//
// Example:
//
//	$> daq-run -addr 192.168.1.10:7 -ch 4 -samples 20480 -o run.dat
//	$> daq-run -n 100 -policy=discard -ts -o run.dat
//	$> daq-run -db "daq:pwd@tcp(localhost:3306)/runbook" -alert 30s -o run.dat
package main // import "github.com/plegaspi/ad4134-fmcz/cmd/daq-run"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	ad4134 "github.com/plegaspi/ad4134-fmcz"
	"github.com/plegaspi/ad4134-fmcz/acq"
	"github.com/plegaspi/ad4134-fmcz/frame"
	"github.com/plegaspi/ad4134-fmcz/internal/alert"
	"github.com/plegaspi/ad4134-fmcz/rundb"
	"github.com/sbinet/pmon"
)

func main() {
	def := acq.DefaultConfig()

	var (
		addr    = flag.String("addr", def.Addr, "[ip]:port of the AD4134 board")
		samples = flag.Int("samples", def.Layout.Samples, "number of samples per frame")
		chans   = flag.Int("ch", def.Layout.Channels, "number of channels")
		ts      = flag.Bool("ts", false, "enable the frame timestamp header")
		oname   = flag.String("o", "", "path to output store")
		over    = flag.Bool("f", false, "overwrite output store")
		policy  = flag.String("policy", def.Policy.String(), "data quality policy (log, discard, abort)")
		nframes = flag.Int("n", 0, "number of frames to acquire (0: no limit)")

		doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq = flag.Duration("freq", 1*time.Second, "pmon frequency")
		alerts = flag.Duration("alert", 0, "probing interval of the stalled output alert (0: disabled)")
		dsn    = flag.String("db", "", "run-book database DSN")
		runnbr = flag.Int("run", -1, "run number (default: last run in run-book + 1)")
	)

	log.SetPrefix("daq-run: ")
	log.SetFlags(0)

	flag.Parse()

	if vers, _ := ad4134.Version(); vers != "" {
		log.Printf("version: %s", vers)
	}

	if *oname == "" {
		flag.Usage()
		log.Fatalf("missing path to output store")
	}

	pol, err := acq.ParsePolicy(*policy)
	if err != nil {
		log.Fatalf("invalid policy: %+v", err)
	}

	cfg := acq.Config{
		Addr: *addr,
		Layout: frame.Layout{
			Samples:  *samples,
			Channels: *chans,
		},
		Output:    *oname,
		Overwrite: *over,
		Policy:    pol,
		MaxFrames: *nframes,
	}
	if *ts {
		cfg.Layout.TimestampWords = frame.TimestampWords
	}

	err = run(context.Background(), cfg, options{
		pmon:  *doMon,
		freq:  *doFreq,
		alert: *alerts,
		dsn:   *dsn,
		run:   *runnbr,
	})
	if err != nil {
		log.Fatalf("could not run acquisition: %+v", err)
	}
}

type options struct {
	pmon  bool
	freq  time.Duration
	alert time.Duration
	dsn   string
	run   int

	notify alert.Notifier
}

func run(ctx context.Context, cfg acq.Config, opts options) (err error) {
	if opts.pmon {
		stop, err := monitor(cfg.Output+"-pmon.log", opts.freq)
		if err != nil {
			return err
		}
		defer stop()
	}

	var (
		db     *rundb.DB
		runnbr = uint32(opts.run)
	)
	if opts.dsn != "" {
		db, err = rundb.Open(opts.dsn)
		if err != nil {
			return fmt.Errorf("could not open run-book: %w", err)
		}
		defer db.Close()

		if opts.run < 0 {
			last, err := db.LastRun(ctx)
			if err != nil {
				return fmt.Errorf("could not retrieve last run: %w", err)
			}
			runnbr = last + 1
		}

		err = db.BeginRun(ctx, rundb.RunInfo{
			Run:      runnbr,
			Start:    time.Now(),
			Addr:     cfg.Addr,
			Samples:  uint32(cfg.Layout.Samples),
			Channels: uint32(cfg.Layout.Channels),
			Policy:   cfg.Policy.String(),
			Output:   cfg.Output,
		})
		if err != nil {
			return fmt.Errorf("could not record run %d: %w", runnbr, err)
		}
		log.Printf("run: %d", runnbr)
	}

	if opts.alert > 0 && opts.notify == nil {
		opts.notify = alert.MailerFromEnv()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if opts.alert > 0 {
		w := alert.Watcher{
			Name:   cfg.Output,
			Freq:   opts.alert,
			Notify: opts.notify,
			Msg:    log.Default(),
		}
		go func() { _ = w.Run(ctx) }()
	}

	st, err := acq.RunStandalone(ctx, cfg)
	log.Printf("frames=%d rows=%d discarded=%d unlocked=%d chip-error=%d dropped=%d",
		st.Frames, st.Rows, st.Discarded, st.Unlocked, st.ChipError, st.Dropped,
	)

	if err != nil && opts.notify != nil {
		nerr := opts.notify.Notify(
			fmt.Sprintf("[ad4134] acquisition failed: %q", cfg.Output),
			fmt.Sprintf("output: %q\nrows: %d\nerror: %+v", cfg.Output, st.Rows, err),
		)
		if nerr != nil {
			log.Printf("could not send alert: %+v", nerr)
		}
	}

	if db != nil {
		status := rundb.StatusDone
		if err != nil {
			status = rundb.StatusFailed
		}
		err = errors.Join(err, db.EndRun(context.Background(), runnbr, st.Rows, status))
	}

	return err
}

func monitor(fname string, freq time.Duration) (func(), error) {
	pid := os.Getpid()
	p, err := pmon.Monitor(pid)
	if err != nil {
		return nil, fmt.Errorf("could not start monitoring (pid=%d): %w", pid, err)
	}

	f, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	w := &monWriter{w: f}
	p.W = w
	p.Freq = freq

	go func() {
		log.Printf("run pmon (pid=%d)...", pid)
		err := p.Run()
		if err != nil {
			log.Printf("could not monitor: %+v", err)
		}
	}()

	// the monitored process is daq-run itself: stop detaches the log file
	// instead of killing it.
	return func() {
		err := w.detach()
		if err != nil {
			log.Printf("could not stop monitoring (pid=%d): %+v", pid, err)
		}
	}, nil
}

// monWriter forwards process monitor records to a file until detached.
type monWriter struct {
	mu sync.Mutex
	w  io.WriteCloser
}

func (mw *monWriter) Write(p []byte) (int, error) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.w == nil {
		return len(p), nil
	}
	return mw.w.Write(p)
}

// detach closes the underlying file. Later records are discarded.
func (mw *monWriter) detach() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.w == nil {
		return nil
	}
	err := mw.w.Close()
	mw.w = nil
	return err
}
