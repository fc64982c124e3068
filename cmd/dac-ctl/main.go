// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dac-ctl controls the reference DAC board over its serial link.
//
// Without the -v or -code flags, dac-ctl starts an interactive shell:
//
//	$> dac-ctl -port /dev/ttyACM0
//	dac> set 1.25
//	1.250000 V
//	dac> code 0x20000
//	1.250000 V
//	dac> read
//	1.250000 V
//	dac> quit
package main // import "github.com/plegaspi/ad4134-fmcz/cmd/dac-ctl"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/plegaspi/ad4134-fmcz/dac"
)

func main() {
	def := dac.DefaultConfig()

	var (
		port  = flag.String("port", def.Port, "serial port of the DAC board")
		baud  = flag.Int("baud", def.Baud, "serial link baud rate")
		volts = flag.Float64("v", math.NaN(), "output voltage to set, then exit")
		code  = flag.String("code", "", "output code to set, then exit")
	)

	log.SetPrefix("dac-ctl: ")
	log.SetFlags(0)

	flag.Parse()

	cfg := def
	cfg.Port = *port
	cfg.Baud = *baud

	dev, err := dac.Open(cfg)
	if err != nil {
		log.Fatalf("could not open DAC: %+v", err)
	}
	defer dev.Close()

	sh := &shell{dev: dev, w: os.Stdout}
	switch {
	case !math.IsNaN(*volts):
		_, err = sh.exec(fmt.Sprintf("set %v", *volts))
	case *code != "":
		_, err = sh.exec("code " + *code)
	default:
		err = sh.run()
	}
	if err != nil {
		_ = dev.Close()
		log.Fatalf("%+v", err)
	}

	err = dev.Close()
	if err != nil {
		log.Fatalf("could not close DAC: %+v", err)
	}
}

type device interface {
	Config() dac.Config
	Set(code uint32) (float64, error)
	SetVoltage(volts float64) (float64, error)
	Read() (float64, error)
}

type shell struct {
	dev device
	w   io.Writer
}

var cmds = []string{"set", "code", "read", "info", "help", "quit"}

func (sh *shell) run() error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) []string {
		var out []string
		for _, cmd := range cmds {
			if strings.HasPrefix(cmd, strings.ToLower(line)) {
				out = append(out, cmd)
			}
		}
		return out
	})

	hist := filepath.Join(os.TempDir(), ".dac-ctl.history")
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("dac> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := sh.exec(line)
		if err != nil {
			fmt.Fprintf(sh.w, "error: %+v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// exec executes a single shell command.
func (sh *shell) exec(line string) (quit bool, err error) {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return false, nil
	}

	var v float64
	switch cmd, args := toks[0], toks[1:]; cmd {
	case "set":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: set <volts>")
		}
		volts, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return false, fmt.Errorf("invalid voltage %q: %w", args[0], err)
		}
		v, err = sh.dev.SetVoltage(volts)
		if err != nil {
			return false, fmt.Errorf("could not set voltage: %w", err)
		}

	case "code":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: code <code>")
		}
		code, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return false, fmt.Errorf("invalid code %q: %w", args[0], err)
		}
		v, err = sh.dev.Set(uint32(code))
		if err != nil {
			return false, fmt.Errorf("could not set code: %w", err)
		}

	case "read":
		v, err = sh.dev.Read()
		if err != nil {
			return false, fmt.Errorf("could not read output: %w", err)
		}

	case "info":
		cfg := sh.dev.Config()
		fmt.Fprintf(sh.w, "port=%s baud=%d resolution=%d-bit ref=%v V range=[%v, %v] V lsb=%g V\n",
			cfg.Port, cfg.Baud, cfg.Resolution, cfg.Reference, cfg.Min, cfg.Max, cfg.LSB(),
		)
		return false, nil

	case "help":
		fmt.Fprintf(sh.w, "commands: %s\n", strings.Join(cmds, ", "))
		return false, nil

	case "quit", "exit":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}

	fmt.Fprintf(sh.w, "%f V\n", v)
	return false, nil
}
