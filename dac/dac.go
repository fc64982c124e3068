// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dac controls the reference DAC board used as a signal source for
// the AD4134 FMC acquisition board.
//
// The DAC board is driven over a serial line with a text protocol:
//
//	drw 1 0x<code>\n   write the output register
//	drr 1\n            read the output register back
//
// The board answers with lines such as "Register 0x1 = <hex>", followed by
// a ">" prompt.
package dac // import "github.com/plegaspi/ad4134-fmcz/dac"

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrRange reports a value outside of the configured output range.
	ErrRange = errors.New("dac: value out of range")
)

// Config describes a DAC board and its serial link.
type Config struct {
	Port       string        // serial port device
	Baud       int           // serial link baud rate
	Timeout    time.Duration // read timeout of the serial link
	Resolution int           // number of bits of the output code
	Reference  float64       // reference voltage, in volts
	Min, Max   float64       // allowed output range, in volts (inclusive)
}

// DefaultConfig returns the configuration of the DAC board as shipped.
func DefaultConfig() Config {
	return Config{
		Port:       "/dev/ttyACM0",
		Baud:       115200,
		Timeout:    1 * time.Second,
		Resolution: 20,
		Reference:  5,
		Min:        -4,
		Max:        +4,
	}
}

func (cfg Config) validate() error {
	switch {
	case cfg.Resolution <= 1 || cfg.Resolution > 31:
		return fmt.Errorf("dac: invalid resolution (%d bits)", cfg.Resolution)
	case cfg.Reference <= 0:
		return fmt.Errorf("dac: invalid reference voltage (%v V)", cfg.Reference)
	case cfg.Min > cfg.Max:
		return fmt.Errorf("dac: invalid voltage range [%v, %v]", cfg.Min, cfg.Max)
	}
	return nil
}

// LSB returns the voltage step of one code unit.
func (cfg Config) LSB() float64 {
	return 2 * cfg.Reference / float64(uint64(1)<<cfg.Resolution)
}

// MaxCode returns the largest output code.
func (cfg Config) MaxCode() uint32 {
	return uint32(1)<<cfg.Resolution - 1
}

// Voltage converts an output code to volts.
// Codes are two's complement numbers of Resolution bits.
func (cfg Config) Voltage(code uint32) float64 {
	code &= cfg.MaxCode()
	v := int64(code)
	if code>>(cfg.Resolution-1)&1 == 1 {
		v -= 1 << cfg.Resolution
	}
	return float64(v) * cfg.LSB()
}

// Code converts a voltage to the nearest output code whose voltage lies in
// [Min, Max]. Code fails with ErrRange when volts is outside [Min, Max].
func (cfg Config) Code(volts float64) (uint32, error) {
	if !cfg.inRange(volts) {
		return 0, fmt.Errorf("%w: %v V not in [%v, %v]", ErrRange, volts, cfg.Min, cfg.Max)
	}

	var (
		hi = int64(1)<<(cfg.Resolution-1) - 1
		lo = -int64(1) << (cfg.Resolution - 1)
		v  = int64(math.Round(volts / cfg.LSB()))
	)
	switch {
	case v > hi:
		v = hi
	case v < lo:
		v = lo
	}

	// rounding may step one LSB past a boundary that is not on the code grid.
	lsb := cfg.LSB()
	for v > lo && float64(v)*lsb > cfg.Max {
		v--
	}
	for v < hi && float64(v)*lsb < cfg.Min {
		v++
	}
	if !cfg.inRange(float64(v) * lsb) {
		return 0, fmt.Errorf("%w: no code in [%v, %v]", ErrRange, cfg.Min, cfg.Max)
	}
	return uint32(v) & cfg.MaxCode(), nil
}

// Validate checks the output code is valid and its voltage lies in the
// [Min, Max] range.
func (cfg Config) Validate(code uint32) error {
	if code > cfg.MaxCode() {
		return fmt.Errorf("%w: code 0x%x exceeds %d bits", ErrRange, code, cfg.Resolution)
	}
	if v := cfg.Voltage(code); !cfg.inRange(v) {
		return fmt.Errorf("%w: code 0x%x (%v V) not in [%v, %v]", ErrRange, code, v, cfg.Min, cfg.Max)
	}
	return nil
}

func (cfg Config) inRange(v float64) bool {
	return cfg.Min <= v && v <= cfg.Max
}
