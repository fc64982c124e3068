// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Writer appends rows to a store file.
// Writer holds an exclusive advisory lock on the file until it is closed.
type Writer struct {
	f    *os.File
	hdr  header
	geo  geometry
	buf  []byte
	rows [8]byte
}

// Create creates a new store file at path.
// Create fails with ErrExist when path exists and opts.Overwrite is false,
// and with ErrLocked when another writer holds the file.
func Create(path string, opts Options) (*Writer, error) {
	err := opts.validate()
	if err != nil {
		return nil, err
	}

	flags := os.O_RDWR | os.O_CREATE
	if !opts.Overwrite {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %q: %w", ErrExist, path, err)
		}
		return nil, fmt.Errorf("store: could not create %q: %w", path, err)
	}

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %q", ErrLocked, path)
		}
		return nil, fmt.Errorf("store: could not lock %q: %w", path, err)
	}

	w := &Writer{
		f: f,
		hdr: header{
			version:   Version,
			channels:  opts.Channels,
			chunkRows: opts.ChunkRows,
			time:      opts.Timestamps,
			created:   time.Now().UTC(),
		},
		geo: geometry{
			channels:  opts.Channels,
			chunkRows: opts.ChunkRows,
			time:      opts.Timestamps,
		},
	}

	err = w.init()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("store: could not initialize %q: %w", path, err)
	}

	return w, nil
}

func (w *Writer) init() error {
	err := w.f.Truncate(0)
	if err != nil {
		return fmt.Errorf("could not truncate file: %w", err)
	}

	_, err = w.f.WriteAt(w.hdr.marshal(), 0)
	if err != nil {
		return fmt.Errorf("could not write header: %w", err)
	}

	return w.sync()
}

// Name returns the name of the underlying file.
func (w *Writer) Name() string { return w.f.Name() }

// Channels returns the number of channels per row.
func (w *Writer) Channels() int { return w.hdr.channels }

// Timestamps reports whether rows carry a timestamp.
func (w *Writer) Timestamps() bool { return w.hdr.time }

// Len returns the number of committed rows.
func (w *Writer) Len() int64 { return w.hdr.rows }

// Append appends the rows to the store and flushes them to disk.
//
// rows holds len(rows)/channels row-major rows. When the store has a time
// column, times must hold one value per row, otherwise it must be empty.
// Once Append returns, the new rows are visible to readers.
func (w *Writer) Append(rows []float32, times []float32) error {
	if w.f == nil {
		return ErrClosed
	}

	if len(rows)%w.hdr.channels != 0 {
		return fmt.Errorf(
			"store: invalid number of values (%d) for %d channels",
			len(rows), w.hdr.channels,
		)
	}
	n := int64(len(rows) / w.hdr.channels)

	switch {
	case w.hdr.time && int64(len(times)) != n:
		return fmt.Errorf("store: invalid number of timestamps (got=%d, want=%d)", len(times), n)
	case !w.hdr.time && len(times) != 0:
		return fmt.Errorf("store: timestamps provided for a store without a time column")
	}

	if n == 0 {
		return nil
	}

	beg := w.hdr.rows
	for i := int64(0); i < n; {
		row := beg + i
		m := w.geo.span(row, n-i)

		err := w.writeAt(rows[i*int64(w.hdr.channels):(i+m)*int64(w.hdr.channels)], w.geo.dataOffset(row))
		if err != nil {
			return fmt.Errorf("store: could not write rows [%d, %d): %w", row, row+m, err)
		}

		if w.hdr.time {
			err = w.writeAt(times[i:i+m], w.geo.timeOffset(row))
			if err != nil {
				return fmt.Errorf("store: could not write timestamps [%d, %d): %w", row, row+m, err)
			}
		}
		i += m
	}

	err := w.sync()
	if err != nil {
		return fmt.Errorf("store: could not flush rows: %w", err)
	}

	err = w.commit(beg + n)
	if err != nil {
		return fmt.Errorf("store: could not commit %d rows: %w", beg+n, err)
	}

	return nil
}

func (w *Writer) writeAt(vs []float32, off int64) error {
	n := len(vs) * wordSize
	if cap(w.buf) < n {
		w.buf = make([]byte, n)
	}
	p := w.buf[:n]
	for i, v := range vs {
		binary.LittleEndian.PutUint32(p[i*wordSize:], math.Float32bits(v))
	}
	_, err := w.f.WriteAt(p, off)
	return err
}

func (w *Writer) commit(rows int64) error {
	binary.LittleEndian.PutUint64(w.rows[:], uint64(rows))
	_, err := w.f.WriteAt(w.rows[:], offRows)
	if err != nil {
		return err
	}
	err = w.sync()
	if err != nil {
		return err
	}
	w.hdr.rows = rows
	return nil
}

func (w *Writer) sync() error {
	return unix.Fdatasync(int(w.f.Fd()))
}

// Close releases the lock and closes the store file.
// Close is a no-op on an already closed writer.
func (w *Writer) Close() error {
	if w == nil || w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil

	err := unix.Fdatasync(int(f.Fd()))
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("store: could not flush %q: %w", f.Name(), err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("store: could not close %q: %w", f.Name(), err)
	}
	return nil
}
