// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides read-only memory mapped views of files that may
// grow while being mapped.
package mmap // import "github.com/plegaspi/ad4134-fmcz/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is a read-only shared mapping of the first Len bytes of a file.
type Handle struct {
	f    *os.File
	data []byte
}

// Map maps the first size bytes of f.
// The mapping sees the writes other processes make to that region.
func Map(f *os.File, size int) (*Handle, error) {
	h := &Handle{f: f}
	err := h.remap(size)
	if err != nil {
		return nil, err
	}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h, nil
}

func (h *Handle) remap(size int) error {
	if size <= 0 {
		return fmt.Errorf("mmap: invalid mapping size %d", size)
	}
	data, err := unix.Mmap(int(h.f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: could not map %q (size=%d): %w", h.f.Name(), size, err)
	}
	if h.data != nil {
		_ = unix.Munmap(h.data)
	}
	h.data = data
	return nil
}

// Grow extends the mapping to the first size bytes of the file.
// Grow is a no-op when the mapping is already large enough.
func (h *Handle) Grow(size int) error {
	if h == nil {
		return os.ErrInvalid
	}
	if h.data == nil {
		return errClosed
	}
	if size <= len(h.data) {
		return nil
	}
	return h.remap(size)
}

// Close unmaps the file. The file itself is left open.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	runtime.SetFinalizer(h, nil)

	return unix.Munmap(data)
}

// Len returns the length of the mapped region.
func (h *Handle) Len() int {
	return len(h.data)
}

// Bytes returns the n bytes of the mapping starting at off.
// The returned slice is only valid until the next Grow or Close.
func (h *Handle) Bytes(off, n int) ([]byte, error) {
	switch {
	case h == nil:
		return nil, os.ErrInvalid
	case h.data == nil:
		return nil, errClosed
	case off < 0 || n < 0 || off+n > len(h.data):
		return nil, fmt.Errorf("mmap: invalid region [%d, %d) (len=%d)", off, off+n, len(h.data))
	}
	return h.data[off : off+n], nil
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
