// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frame decodes and encodes the fixed-size binary frames streamed
// by the AD4134 FMC acquisition board.
//
// A frame is a sequence of little-endian 32-bit words: an optional
// timestamp header (high, low tick counter words) followed by
// samples*channels sample words, channel-interleaved.
// There is no delimiter, length prefix nor checksum: frame boundaries are
// implied by the configured Layout.
package frame // import "github.com/plegaspi/ad4134-fmcz/frame"

import (
	"errors"
	"fmt"
)

const (
	WordSize = 4 // size in bytes of a single frame word

	// TimestampWords is the only supported non-zero timestamp header size.
	TimestampWords = 2
)

var (
	// ErrProtocol reports a frame that does not match the configured layout.
	// The stream carries no resynchronization marker: a protocol error
	// means the stream can not be trusted anymore.
	ErrProtocol = errors.New("frame: protocol error")
)

// Layout describes the shape of the frames of an acquisition session.
type Layout struct {
	Samples        int // number of time slices per frame
	Channels       int // number of channels per time slice
	TimestampWords int // number of header words (0 or 2)
}

// Size returns the size in bytes of a frame.
func (lay Layout) Size() int {
	return (lay.Samples*lay.Channels + lay.TimestampWords) * WordSize
}

// Words returns the number of sample words in a frame.
func (lay Layout) Words() int {
	return lay.Samples * lay.Channels
}

// Validate checks the layout is usable.
func (lay Layout) Validate() error {
	switch {
	case lay.Samples <= 0:
		return fmt.Errorf("%w: invalid number of samples (%d)", ErrProtocol, lay.Samples)
	case lay.Channels <= 0:
		return fmt.Errorf("%w: invalid number of channels (%d)", ErrProtocol, lay.Channels)
	case lay.TimestampWords != 0 && lay.TimestampWords != TimestampWords:
		return fmt.Errorf(
			"%w: invalid number of timestamp words (got=%d, want=0 or %d)",
			ErrProtocol, lay.TimestampWords, TimestampWords,
		)
	}
	return nil
}

// Frame is a decoded, not yet interpreted, frame.
type Frame struct {
	Header []uint32 // timestamp header words (high, low)
	Words  []uint32 // sample words
}
