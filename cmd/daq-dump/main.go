// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// daq-dump displays the content of acquisition store files.
//
// Usage: daq-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> daq-dump -n 2 ./run.dat
//	=== store "./run.dat" ===
//	Created:   2020-09-01 12:00:00 +0000 UTC
//	Channels:           4
//	Chunk rows:     20480
//	Time column:     true
//	Rows:          204800
//	       0 t=0.000000 -0.000125 1.250001 0.000000 -2.047999
//	       1 t=0.000000 -0.000125 1.250000 0.000000 -2.048000
//	[...]
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/plegaspi/ad4134-fmcz/store"
)

func main() {
	log.SetPrefix("daq-dump: ")
	log.SetFlags(0)

	var (
		nrows  = flag.Int64("n", -1, "number of rows to display (-1: all)")
		follow = flag.Bool("follow", false, "keep displaying rows appended to the store")
		freq   = flag.Duration("freq", 1*time.Second, "polling interval in follow mode")
	)

	flag.Usage = func() {
		fmt.Printf(`daq-dump displays the content of acquisition store files.

Usage: daq-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> daq-dump -n 2 ./run.dat
 $> daq-dump -follow ./run.dat

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing path to input store file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	for _, fname := range flag.Args() {
		err := process(ctx, os.Stdout, fname, *nrows, *follow, *freq)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(ctx context.Context, w io.Writer, fname string, nrows int64, follow bool, freq time.Duration) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	r, err := store.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer r.Close()

	fmt.Fprintf(wbuf, "=== store %q ===\n", fname)
	fmt.Fprintf(wbuf, "Created:    %v\n", r.Created())
	fmt.Fprintf(wbuf, "Channels:   % 10d\n", r.Channels())
	fmt.Fprintf(wbuf, "Chunk rows: % 10d\n", r.ChunkRows())
	fmt.Fprintf(wbuf, "Time column: % 9v\n", r.Timestamps())
	fmt.Fprintf(wbuf, "Rows:       % 10d\n", r.Len())

	d := dumper{w: wbuf, r: r, max: nrows}
	err = d.dump()
	if err != nil {
		return err
	}

	if !follow {
		return nil
	}

	tick := time.NewTicker(freq)
	defer tick.Stop()

	for !d.done() {
		err = wbuf.Flush()
		if err != nil {
			return fmt.Errorf("could not flush output: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			err = r.Refresh()
			if err != nil {
				return fmt.Errorf("could not refresh %q: %w", fname, err)
			}
			err = d.dump()
			if err != nil {
				return err
			}
		}
	}

	return nil
}

type dumper struct {
	w   io.Writer
	r   *store.Reader
	max int64 // maximum number of rows to display, -1 for all
	cur int64 // next row to display

	rows  []float32
	times []float32
}

func (d *dumper) done() bool {
	return d.max >= 0 && d.cur >= d.max
}

// dump displays the committed rows not yet displayed.
func (d *dumper) dump() error {
	end := d.r.Len()
	if d.max >= 0 && end > d.max {
		end = d.max
	}
	if end <= d.cur {
		return nil
	}

	var err error
	d.rows, err = d.r.ReadRows(d.rows, d.cur, end)
	if err != nil {
		return fmt.Errorf("could not read rows [%d, %d): %w", d.cur, end, err)
	}
	if d.r.Timestamps() {
		d.times, err = d.r.ReadTimes(d.times, d.cur, end)
		if err != nil {
			return fmt.Errorf("could not read timestamps [%d, %d): %w", d.cur, end, err)
		}
	}

	nch := d.r.Channels()
	for i := int64(0); i < end-d.cur; i++ {
		fmt.Fprintf(d.w, "% 8d", d.cur+i)
		if d.times != nil {
			fmt.Fprintf(d.w, " t=%f", d.times[i])
		}
		for _, v := range d.rows[int(i)*nch : int(i+1)*nch] {
			fmt.Fprintf(d.w, " %f", v)
		}
		fmt.Fprintf(d.w, "\n")
	}
	d.cur = end

	return nil
}
