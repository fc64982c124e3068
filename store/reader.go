// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/plegaspi/ad4134-fmcz/internal/mmap"
)

// Reader reads the committed rows of a store file.
// Reader takes no lock and may be used while a writer appends to the file.
type Reader struct {
	f   *os.File
	h   *mmap.Handle
	hdr header
	geo geometry
}

// Open opens the store file at path for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: could not open %q: %w", path, err)
	}

	r := &Reader{f: f}
	err = r.init()
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("store: could not open %q: %w", path, err)
	}

	return r, nil
}

func (r *Reader) init() error {
	p := make([]byte, hdrUsed)
	_, err := r.f.ReadAt(p, 0)
	if err != nil {
		return fmt.Errorf("%w: could not read header: %w", ErrFormat, err)
	}

	err = r.hdr.unmarshal(p)
	if err != nil {
		return err
	}
	r.geo = geometry{
		channels:  r.hdr.channels,
		chunkRows: r.hdr.chunkRows,
		time:      r.hdr.time,
	}

	fi, err := r.f.Stat()
	if err != nil {
		return fmt.Errorf("could not stat file: %w", err)
	}

	r.h, err = mmap.Map(r.f, int(fi.Size()))
	if err != nil {
		return err
	}

	return r.Refresh()
}

// Channels returns the number of channels per row.
func (r *Reader) Channels() int { return r.hdr.channels }

// ChunkRows returns the number of rows per chunk.
func (r *Reader) ChunkRows() int { return r.hdr.chunkRows }

// Timestamps reports whether rows carry a timestamp.
func (r *Reader) Timestamps() bool { return r.hdr.time }

// Created returns the creation time of the store.
func (r *Reader) Created() time.Time { return r.hdr.created }

// Len returns the number of committed rows, as of the last Refresh.
func (r *Reader) Len() int64 { return r.hdr.rows }

// Refresh reloads the committed row count from the file.
// Rows appended by the writer after the previous Refresh become readable.
func (r *Reader) Refresh() error {
	if r.f == nil {
		return ErrClosed
	}

	var p [8]byte
	_, err := r.f.ReadAt(p[:], offRows)
	if err != nil {
		return fmt.Errorf("store: could not read committed rows: %w", err)
	}
	rows := int64(binary.LittleEndian.Uint64(p[:]))
	if rows < r.hdr.rows {
		return fmt.Errorf("%w: committed rows decreased (%d -> %d)", ErrFormat, r.hdr.rows, rows)
	}

	if rows > 0 {
		end := r.geo.dataOffset(rows-1) + int64(r.hdr.channels)*wordSize
		if r.hdr.time {
			if t := r.geo.timeOffset(rows-1) + wordSize; t > end {
				end = t
			}
		}
		err = r.h.Grow(int(end))
		if err != nil {
			return fmt.Errorf("store: could not map committed rows: %w", err)
		}
	}

	r.hdr.rows = rows
	return nil
}

// ReadRows reads the committed rows [beg, end) into dst and returns it.
// Values are row-major. dst is reallocated when too small.
func (r *Reader) ReadRows(dst []float32, beg, end int64) ([]float32, error) {
	err := r.check(beg, end)
	if err != nil {
		return nil, err
	}

	nch := int64(r.hdr.channels)
	dst = resize(dst, int((end-beg)*nch))
	for i := beg; i < end; {
		m := r.geo.span(i, end-i)
		err = r.load(dst[(i-beg)*nch:(i-beg+m)*nch], r.geo.dataOffset(i))
		if err != nil {
			return nil, fmt.Errorf("store: could not read rows [%d, %d): %w", i, i+m, err)
		}
		i += m
	}
	return dst, nil
}

// ReadTimes reads the timestamps of the committed rows [beg, end) into
// dst and returns it.
func (r *Reader) ReadTimes(dst []float32, beg, end int64) ([]float32, error) {
	if !r.hdr.time {
		return nil, fmt.Errorf("store: no time column")
	}
	err := r.check(beg, end)
	if err != nil {
		return nil, err
	}

	dst = resize(dst, int(end-beg))
	for i := beg; i < end; {
		m := r.geo.span(i, end-i)
		err = r.load(dst[i-beg:i-beg+m], r.geo.timeOffset(i))
		if err != nil {
			return nil, fmt.Errorf("store: could not read timestamps [%d, %d): %w", i, i+m, err)
		}
		i += m
	}
	return dst, nil
}

func (r *Reader) check(beg, end int64) error {
	switch {
	case r.f == nil:
		return ErrClosed
	case beg < 0 || end < beg || end > r.hdr.rows:
		return fmt.Errorf("store: invalid row range [%d, %d) (committed=%d)", beg, end, r.hdr.rows)
	}
	return nil
}

func (r *Reader) load(dst []float32, off int64) error {
	p, err := r.h.Bytes(int(off), len(dst)*wordSize)
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[i*wordSize:]))
	}
	return nil
}

// Close closes the store file.
// Close is a no-op on an already closed reader.
func (r *Reader) Close() error {
	if r == nil || r.f == nil {
		return nil
	}
	f := r.f
	r.f = nil

	if r.h != nil {
		_ = r.h.Close()
		r.h = nil
	}

	err := f.Close()
	if err != nil {
		return fmt.Errorf("store: could not close %q: %w", f.Name(), err)
	}
	return nil
}

func resize(p []float32, n int) []float32 {
	if cap(p) < n {
		return make([]float32, n)
	}
	return p[:n]
}
