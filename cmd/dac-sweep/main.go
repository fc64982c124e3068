// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dac-sweep runs a calibration sweep of the AD4134 board against
// the reference DAC board.
//
// For each DAC code, the mean and standard error of the watched ADC channel
// are stored as a [dac_volts, mean, stderr] row of the output store, and
// displayed on the standard output.
//
// Example:
//
//	$> dac-sweep -port /dev/ttyACM0 -start 0 -stop 0x100000 -step 10000 -o sweep.dat
package main // import "github.com/plegaspi/ad4134-fmcz/cmd/dac-sweep"

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/plegaspi/ad4134-fmcz/dac"
	"github.com/plegaspi/ad4134-fmcz/frame"
	"github.com/plegaspi/ad4134-fmcz/sweep"
)

func main() {
	var (
		def = sweep.DefaultConfig()
		dcf = dac.DefaultConfig()

		port    = flag.String("port", dcf.Port, "serial port of the DAC board")
		addr    = flag.String("addr", def.Addr, "[ip]:port of the AD4134 board")
		samples = flag.Int("samples", def.Layout.Samples, "number of samples per frame")
		chans   = flag.Int("ch", def.Layout.Channels, "number of channels")
		channel = flag.Int("watch", def.Channel, "watched ADC channel")
		start   = flag.Uint("start", uint(def.Start), "first DAC code")
		stop    = flag.Uint("stop", uint(def.Stop), "last DAC code (excluded)")
		step    = flag.Uint("step", uint(def.Step), "DAC code step")
		settle  = flag.Duration("settle", def.Settle, "settling delay after each DAC step")
		retries = flag.Int("retries", def.MaxRetries, "maximum number of re-acquired frames per step")
		oname   = flag.String("o", "sweep.dat", "path to output store")
		over    = flag.Bool("f", false, "overwrite output store")
	)

	log.SetPrefix("dac-sweep: ")
	log.SetFlags(0)

	flag.Parse()

	cfg := sweep.Config{
		Start:      uint32(*start),
		Stop:       uint32(*stop),
		Step:       uint32(*step),
		Settle:     *settle,
		Channel:    *channel,
		MaxRetries: *retries,
		Addr:       *addr,
		Layout:     frame.Layout{Samples: *samples, Channels: *chans},
		Output:     *oname,
		Overwrite:  *over,
	}

	dcf.Port = *port
	dev, err := dac.Open(dcf)
	if err != nil {
		log.Fatalf("could not open DAC: %+v", err)
	}
	defer dev.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = run(ctx, os.Stdout, cfg, dev)
	if err != nil {
		_ = dev.Close()
		log.Fatalf("could not run sweep: %+v", err)
	}

	err = dev.Close()
	if err != nil {
		log.Fatalf("could not close DAC: %+v", err)
	}
}

func run(ctx context.Context, w io.Writer, cfg sweep.Config, src sweep.Source) error {
	sw, err := sweep.New(cfg, src)
	if err != nil {
		return fmt.Errorf("could not create sweep: %w", err)
	}

	pts, err := sw.Run(ctx)

	o := bufio.NewWriter(w)
	defer o.Flush()

	fmt.Fprintf(o, "# code dac_v mean stderr n retries\n")
	for _, pt := range pts {
		fmt.Fprintf(o, "0x%05x %+.6f %+.9f %.3e %d %d\n",
			pt.Code, pt.DAC, pt.Mean, pt.StdErr, pt.N, pt.Retries,
		)
	}

	if err != nil {
		return err
	}
	return o.Flush()
}
