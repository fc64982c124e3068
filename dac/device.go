// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dac

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/tarm/serial"
)

const (
	prompt   = ">"
	register = "Register 0x1 = "
)

// Port is a serial link to a DAC board.
type Port interface {
	io.ReadWriteCloser
	Flush() error // discard pending input and output
}

var (
	serialOpen = serialOpenImpl
)

func serialOpenImpl(cfg Config) (Port, error) {
	return serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.Timeout,
	})
}

// Device is a DAC board connected through a serial link.
// Device is safe for concurrent use.
type Device struct {
	cfg Config

	mu   sync.Mutex
	port Port
	r    *bufio.Reader
	last float64 // last read back voltage
}

// Open opens the serial link to the DAC board described by cfg and sets
// its output to 0 V.
func Open(cfg Config) (*Device, error) {
	err := cfg.validate()
	if err != nil {
		return nil, err
	}

	port, err := serialOpen(cfg)
	if err != nil {
		return nil, fmt.Errorf("dac: could not open serial port %q: %w", cfg.Port, err)
	}

	dev, err := New(port, cfg)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return dev, nil
}

// New creates a DAC device from an already opened serial link and sets
// its output to 0 V.
func New(port Port, cfg Config) (*Device, error) {
	err := cfg.validate()
	if err != nil {
		return nil, err
	}

	dev := &Device{
		cfg:  cfg,
		port: port,
		r:    bufio.NewReader(port),
	}

	err = port.Flush()
	if err != nil {
		return nil, fmt.Errorf("dac: could not flush serial port: %w", err)
	}

	_, err = dev.Set(0)
	if err != nil {
		return nil, fmt.Errorf("dac: could not initialize output: %w", err)
	}

	return dev, nil
}

// Config returns the configuration of the device.
func (dev *Device) Config() Config { return dev.cfg }

// Set writes the output code and returns the voltage read back from the
// board. Set fails with ErrRange, without sending anything, when the code
// is out of range.
func (dev *Device) Set(code uint32) (float64, error) {
	err := dev.cfg.Validate(code)
	if err != nil {
		return 0, err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	_, err = dev.send(fmt.Sprintf("drw 1 0x%x\n", code))
	if err != nil {
		return 0, fmt.Errorf("dac: could not write output code 0x%x: %w", code, err)
	}

	return dev.read()
}

// SetVoltage sets the output to the code nearest to volts and returns the
// voltage read back from the board.
func (dev *Device) SetVoltage(volts float64) (float64, error) {
	code, err := dev.cfg.Code(volts)
	if err != nil {
		return 0, err
	}
	return dev.Set(code)
}

// Read reads the output register back and returns its voltage.
func (dev *Device) Read() (float64, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.read()
}

// Last returns the voltage last read back from the board.
func (dev *Device) Last() float64 {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.last
}

func (dev *Device) read() (float64, error) {
	resp, err := dev.send("drr 1\n")
	if err != nil {
		return 0, fmt.Errorf("dac: could not read output register: %w", err)
	}

	code, err := parseRegister(resp)
	if err != nil {
		return 0, err
	}

	dev.last = dev.cfg.Voltage(code)
	return dev.last, nil
}

// send sends a command and returns the last non-empty line of the
// response, read until the prompt or a read timeout.
func (dev *Device) send(cmd string) (string, error) {
	if dev.port == nil {
		return "", fmt.Errorf("dac: serial port closed")
	}

	_, err := io.WriteString(dev.port, cmd)
	if err != nil {
		return "", fmt.Errorf("could not send %q: %w", strings.TrimSpace(cmd), err)
	}

	var resp string
	for {
		line, err := dev.r.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == prompt {
			break
		}
		if line != "" {
			resp = line
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("could not read response to %q: %w", strings.TrimSpace(cmd), err)
		}
	}
	return resp, nil
}

func parseRegister(resp string) (uint32, error) {
	if !strings.HasPrefix(resp, register) {
		return 0, fmt.Errorf("dac: invalid register response %q", resp)
	}
	v := strings.TrimPrefix(resp, register)
	v = strings.TrimPrefix(strings.ToLower(v), "0x")
	code, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("dac: could not parse register value %q: %w", resp, err)
	}
	return uint32(code), nil
}

// Close closes the serial link.
// Close is a no-op on an already closed device.
func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.port == nil {
		return nil
	}
	err := dev.port.Close()
	dev.port = nil
	if err != nil {
		return fmt.Errorf("dac: could not close serial port: %w", err)
	}
	return nil
}
