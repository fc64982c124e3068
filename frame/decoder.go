// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// Decoder splits raw frames into header and sample words.
// Decoder does not interpret the words.
type Decoder struct {
	lay Layout
}

// NewDecoder creates a decoder for frames with the provided layout.
func NewDecoder(lay Layout) (*Decoder, error) {
	err := lay.Validate()
	if err != nil {
		return nil, xerrors.Errorf("frame: invalid decoder layout: %w", err)
	}
	return &Decoder{lay: lay}, nil
}

// Layout returns the frame layout of the decoder.
func (dec *Decoder) Layout() Layout { return dec.lay }

// Decode decodes the raw frame p into f.
// The header and word slices of f are reused when large enough.
func (dec *Decoder) Decode(p []byte, f *Frame) error {
	if n, want := len(p), dec.lay.Size(); n != want {
		return xerrors.Errorf(
			"frame: invalid frame size (got=%d, want=%d): %w",
			n, want, ErrProtocol,
		)
	}

	var (
		nhdr = dec.lay.TimestampWords
		nwrd = dec.lay.Words()
	)
	f.Header = resize(f.Header, nhdr)
	f.Words = resize(f.Words, nwrd)

	for i := range f.Header {
		f.Header[i] = binary.LittleEndian.Uint32(p[i*WordSize:])
	}

	p = p[nhdr*WordSize:]
	for i := range f.Words {
		f.Words[i] = binary.LittleEndian.Uint32(p[i*WordSize:])
	}

	return nil
}

// Decode decodes a single raw frame with the provided layout.
func Decode(p []byte, lay Layout) (Frame, error) {
	var f Frame
	dec, err := NewDecoder(lay)
	if err != nil {
		return f, err
	}
	err = dec.Decode(p, &f)
	return f, err
}

func resize(p []uint32, n int) []uint32 {
	if cap(p) < n {
		return make([]uint32, n)
	}
	return p[:n]
}
