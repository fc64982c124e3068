// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command daq-srv starts a TDAQ run-control node driving the AD4134 board.
//
// The acquisition configuration is sent by the run-control in the /config
// command. Each run is written to a new store under the output directory.
package main // import "github.com/plegaspi/ad4134-fmcz/cmd/daq-srv"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/plegaspi/ad4134-fmcz/acq"
)

func main() {
	cmd := flags.New()

	odir := os.Getenv("AD4134_OUTDIR")
	if odir == "" {
		odir = "."
	}

	dev := acq.NewServer(odir)

	srv := tdaq.New(cmd, os.Stdout)
	dev.Register(srv)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
