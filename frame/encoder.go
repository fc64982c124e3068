// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Encoder writes frames to an output stream, the way the board does.
type Encoder struct {
	w   io.Writer
	lay Layout
	buf []byte
	err error
}

// NewEncoder returns a new Encoder that writes frames with the provided
// layout to w.
func NewEncoder(w io.Writer, lay Layout) (*Encoder, error) {
	err := lay.Validate()
	if err != nil {
		return nil, fmt.Errorf("frame: invalid encoder layout: %w", err)
	}
	return &Encoder{
		w:   w,
		lay: lay,
		buf: make([]byte, lay.Size()),
	}, nil
}

// Encode writes the frame f to the stream.
// The number of header and sample words of f must match the layout.
func (enc *Encoder) Encode(f Frame) error {
	if enc.err != nil {
		return enc.err
	}

	if len(f.Header) != enc.lay.TimestampWords {
		return fmt.Errorf(
			"frame: invalid number of header words (got=%d, want=%d): %w",
			len(f.Header), enc.lay.TimestampWords, ErrProtocol,
		)
	}
	if len(f.Words) != enc.lay.Words() {
		return fmt.Errorf(
			"frame: invalid number of sample words (got=%d, want=%d): %w",
			len(f.Words), enc.lay.Words(), ErrProtocol,
		)
	}

	p := enc.buf
	for _, w := range f.Header {
		binary.LittleEndian.PutUint32(p, w)
		p = p[WordSize:]
	}
	for _, w := range f.Words {
		binary.LittleEndian.PutUint32(p, w)
		p = p[WordSize:]
	}

	_, enc.err = enc.w.Write(enc.buf)
	if enc.err != nil {
		return fmt.Errorf("frame: could not write frame: %w", enc.err)
	}
	return nil
}

// Marshal returns the raw bytes of the frame f with the provided layout.
func Marshal(f Frame, lay Layout) ([]byte, error) {
	w := new(bytes.Buffer)
	enc, err := NewEncoder(w, lay)
	if err != nil {
		return nil, err
	}
	err = enc.Encode(f)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// TimestampHeader returns the header words for the tick counter.
func TimestampHeader(ticks uint64) []uint32 {
	return []uint32{uint32(ticks >> 32), uint32(ticks)}
}
