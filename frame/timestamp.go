// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

// TickRate is the frequency, in Hz, of the board tick counter.
const TickRate = 666_666_687

// Ticks combines the high and low header words into the tick counter.
func Ticks(hi, lo uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}

// Seconds returns the elapsed time, in seconds, of the tick counter
// made of the high and low header words.
func Seconds(hi, lo uint32) float64 {
	return float64(Ticks(hi, lo)) / TickRate
}

// Timestamp returns the elapsed time carried by a frame header.
// Timestamp returns false when the header holds no timestamp.
func Timestamp(hdr []uint32) (float64, bool) {
	if len(hdr) != TimestampWords {
		return 0, false
	}
	return Seconds(hdr[0], hdr[1]), true
}
