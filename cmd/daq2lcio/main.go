// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command daq2lcio converts an acquisition store file to an LCIO one,
// and back.
package main // import "github.com/plegaspi/ad4134-fmcz/cmd/daq2lcio"

import (
	"compress/flate"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/plegaspi/ad4134-fmcz/internal/xcnv"
	"github.com/plegaspi/ad4134-fmcz/store"
	"go-hep.org/x/hep/lcio"
)

var (
	msg = log.New(os.Stdout, "daq2lcio: ", 0)
)

func main() {
	var (
		oname = flag.String("o", "out.lcio", "path to output file")
		compr = flag.Int("lvl", flate.DefaultCompression, "compression level for output LCIO file")
		runnb = flag.Int("run", -1, "run number (default: inferred from input file name)")
		inv   = flag.Bool("inv", false, "convert an LCIO file back to a store file")
		over  = flag.Bool("f", false, "overwrite output store file")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: daq2lcio [OPTIONS] file

ex:
 $> daq2lcio -o out.lcio -lvl=9 ./ad4134_run042.dat
 $> daq2lcio -inv -o run042.dat ./out.lcio

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		msg.Fatalf("missing input file")
	}

	if *oname == "" {
		flag.Usage()
		msg.Fatalf("invalid output file name")
	}

	var err error
	switch {
	case *inv:
		err = restore(*oname, flag.Arg(0), *over)
	default:
		err = process(*oname, *compr, flag.Arg(0), *runnb)
	}
	if err != nil {
		msg.Fatalf("could not convert file: %+v", err)
	}
}

func process(oname string, lvl int, fname string, run int) error {
	r, err := store.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open store file: %w", err)
	}
	defer r.Close()

	if run < 0 {
		nbr, err := runNbrFrom(fname)
		if err != nil {
			return fmt.Errorf("could not infer run from %q: %w", fname, err)
		}
		run = int(nbr)
	}

	w, err := lcio.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output LCIO file: %w", err)
	}
	defer w.Close()

	w.SetCompressionLevel(lvl)

	err = xcnv.Store2LCIO(w, r, int32(run), msg)
	if err != nil {
		return fmt.Errorf("could not convert store to LCIO: %w", err)
	}

	err = w.Close()
	if err != nil {
		return fmt.Errorf("could not close output LCIO file: %w", err)
	}

	return nil
}

func restore(oname, fname string, overwrite bool) error {
	r, err := lcio.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open LCIO file: %w", err)
	}
	defer r.Close()

	err = xcnv.LCIO2Store(oname, r, overwrite, 100, msg)
	if err != nil {
		return fmt.Errorf("could not convert LCIO to store: %w", err)
	}

	return nil
}

func runNbrFrom(fname string) (int32, error) {
	var (
		name = filepath.Base(fname)
		run  int32
	)
	_, err := fmt.Sscanf(name, "ad4134_run%d.dat", &run)
	return run, err
}
