// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command daq-sim emulates an AD4134 board streaming frames over TCP.
//
// Each connection receives the configured number of frames of a ramp of
// codes, then the stream is closed.
//
// Example:
//
//	$> daq-sim -addr :7 -n 10 -ch 4 -samples 20480 -ts
package main // import "github.com/plegaspi/ad4134-fmcz/cmd/daq-sim"

import (
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/plegaspi/ad4134-fmcz/frame"
	"github.com/plegaspi/ad4134-fmcz/internal/fakeboard"
)

func main() {
	var (
		addr    = flag.String("addr", ":7", "[ip]:port to listen on")
		samples = flag.Int("samples", 20480, "number of samples per frame")
		chans   = flag.Int("ch", 4, "number of channels")
		ts      = flag.Bool("ts", false, "enable the frame timestamp header")
		nframes = flag.Int("n", 10, "number of frames per connection")
		chunk   = flag.Int("chunk", 0, "size of the writes on the stream (0: whole frames)")
		delay   = flag.Duration("delay", 0, "delay between two writes")
		flagged = flag.Int("bad", 0, "every bad-th frame has unlocked samples (0: none)")
	)

	log.SetPrefix("daq-sim: ")
	log.SetFlags(0)

	flag.Parse()

	lay := frame.Layout{Samples: *samples, Channels: *chans}
	if *ts {
		lay.TimestampWords = frame.TimestampWords
	}

	err := lay.Validate()
	if err != nil {
		log.Fatalf("invalid frame layout: %+v", err)
	}

	opts := []fakeboard.Option{fakeboard.WithDelay(*delay)}
	if *chunk > 0 {
		opts = append(opts, fakeboard.WithChunkSize(*chunk))
	}

	srv, err := fakeboard.New(*addr, lay, ramp(lay, *nframes, *flagged), opts...)
	if err != nil {
		log.Fatalf("could not start simulator: %+v", err)
	}
	defer srv.Close()

	log.Printf("streaming %d frames of %d bytes on %q...", *nframes, lay.Size(), srv.Addr())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	log.Printf("served %d connections", srv.Conns())
}

// ramp returns a source of n frames whose codes increase by one per sample.
func ramp(lay frame.Layout, n, bad int) fakeboard.Source {
	return func(int) []frame.Frame {
		var (
			fs   = make([]frame.Frame, n)
			code = int32(0)
		)
		for i := range fs {
			f := &fs[i]
			if lay.TimestampWords > 0 {
				// one frame per second.
				f.Header = frame.TimestampHeader(uint64(i) * frame.TickRate)
			}
			locked := bad <= 0 || (i+1)%bad != 0
			f.Words = make([]uint32, lay.Words())
			for j := range f.Words {
				f.Words[j] = frame.EncodeWord(code, locked, true)
				code++
				if code > frame.MaxCode {
					code = frame.MinCode
				}
			}
		}
		return fs
	}
}
