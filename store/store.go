// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store implements an append-only, chunked, on-disk store of
// acquisition rows.
//
// A store file holds a 2D float32 array data[row][channel] and an optional
// parallel float32 array time[row]. Both grow along the row axis.
// A single writer appends rows while any number of reader processes may
// read the committed rows, without taking any lock.
//
// File layout (little-endian):
//
//	header: 4096 bytes
//	  [ 0, 8) magic "AD4134S\x00"
//	  [ 8,12) version
//	  [12,16) number of channels
//	  [16,20) number of rows per chunk
//	  [20,24) flags (bit 0: time column)
//	  [24,32) number of committed rows
//	  [32,40) creation time, in ns since the Unix epoch
//	chunk k: at 4096 + k*chunkRows*(channels+t)*4, t=1 with a time column
//	  [chunkRows][channels]float32 data
//	  [chunkRows]float32 time (if any)
//
// The committed row count is only updated once the rows it covers have
// been flushed to disk, so readers only ever see whole rows.
package store // import "github.com/plegaspi/ad4134-fmcz/store"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	Magic   = "AD4134S\x00"
	Version = 1

	headerSize = 4096
	wordSize   = 4

	offVersion   = 8
	offChannels  = 12
	offChunkRows = 16
	offFlags     = 20
	offRows      = 24
	offCreated   = 32
	hdrUsed      = 40

	flagTime = 1 << 0
)

var (
	ErrExist  = errors.New("store: file already exists")
	ErrLocked = errors.New("store: file locked by another writer")
	ErrClosed = errors.New("store: closed")
	ErrFormat = errors.New("store: invalid file format")
)

// Options describes the shape of a new store.
type Options struct {
	Channels   int  // number of channels per row
	ChunkRows  int  // number of rows per chunk, usually one frame worth of rows
	Timestamps bool // whether rows carry a timestamp
	Overwrite  bool // whether an existing file may be replaced
}

func (opts Options) validate() error {
	switch {
	case opts.Channels <= 0:
		return fmt.Errorf("store: invalid number of channels (%d)", opts.Channels)
	case opts.ChunkRows <= 0:
		return fmt.Errorf("store: invalid number of rows per chunk (%d)", opts.ChunkRows)
	}
	return nil
}

// header is the decoded store file header.
type header struct {
	version   uint32
	channels  int
	chunkRows int
	time      bool
	rows      int64
	created   time.Time
}

func (hdr *header) marshal() []byte {
	p := make([]byte, headerSize)
	copy(p, Magic)
	binary.LittleEndian.PutUint32(p[offVersion:], hdr.version)
	binary.LittleEndian.PutUint32(p[offChannels:], uint32(hdr.channels))
	binary.LittleEndian.PutUint32(p[offChunkRows:], uint32(hdr.chunkRows))
	var flags uint32
	if hdr.time {
		flags |= flagTime
	}
	binary.LittleEndian.PutUint32(p[offFlags:], flags)
	binary.LittleEndian.PutUint64(p[offRows:], uint64(hdr.rows))
	binary.LittleEndian.PutUint64(p[offCreated:], uint64(hdr.created.UnixNano()))
	return p
}

func (hdr *header) unmarshal(p []byte) error {
	if len(p) < hdrUsed {
		return fmt.Errorf("%w: short header (%d bytes)", ErrFormat, len(p))
	}
	if string(p[:len(Magic)]) != Magic {
		return fmt.Errorf("%w: invalid magic %q", ErrFormat, p[:len(Magic)])
	}
	hdr.version = binary.LittleEndian.Uint32(p[offVersion:])
	if hdr.version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrFormat, hdr.version)
	}
	hdr.channels = int(binary.LittleEndian.Uint32(p[offChannels:]))
	hdr.chunkRows = int(binary.LittleEndian.Uint32(p[offChunkRows:]))
	if hdr.channels <= 0 || hdr.chunkRows <= 0 {
		return fmt.Errorf("%w: invalid shape (channels=%d, chunk-rows=%d)",
			ErrFormat, hdr.channels, hdr.chunkRows,
		)
	}
	hdr.time = binary.LittleEndian.Uint32(p[offFlags:])&flagTime != 0
	hdr.rows = int64(binary.LittleEndian.Uint64(p[offRows:]))
	hdr.created = time.Unix(0, int64(binary.LittleEndian.Uint64(p[offCreated:]))).UTC()
	return nil
}

// geometry computes the positions of rows inside a store file.
type geometry struct {
	channels  int
	chunkRows int
	time      bool
}

func (g geometry) chunkSize() int64 {
	cols := g.channels
	if g.time {
		cols++
	}
	return int64(g.chunkRows) * int64(cols) * wordSize
}

// dataOffset returns the file offset of the first value of row.
func (g geometry) dataOffset(row int64) int64 {
	k, j := row/int64(g.chunkRows), row%int64(g.chunkRows)
	return headerSize + k*g.chunkSize() + j*int64(g.channels)*wordSize
}

// timeOffset returns the file offset of the timestamp of row.
func (g geometry) timeOffset(row int64) int64 {
	k, j := row/int64(g.chunkRows), row%int64(g.chunkRows)
	return headerSize + k*g.chunkSize() + int64(g.chunkRows*g.channels)*wordSize + j*wordSize
}

// span returns the number of rows, starting at row, that are contiguous
// in the file, bounded by n.
func (g geometry) span(row, n int64) int64 {
	left := int64(g.chunkRows) - row%int64(g.chunkRows)
	if n < left {
		return n
	}
	return left
}
