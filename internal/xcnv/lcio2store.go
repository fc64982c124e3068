// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/plegaspi/ad4134-fmcz/store"
	"go-hep.org/x/hep/lcio"
)

// LCIO2Store appends the rows held by the LCIO events of r to a new store
// created at fname. Events are stored as chunks.
func LCIO2Store(fname string, r *lcio.Reader, overwrite bool, freq int, msg *log.Logger) (err error) {
	var (
		w *store.Writer
		i int
	)
	defer func() {
		if w != nil {
			err = errors.Join(err, w.Close())
		}
	}()

	for r.Next() {
		if i%freq == 0 {
			msg.Printf("processing evt %d...", i)
		}
		evt := r.Event()

		vs, err := f32sFrom(&evt, VoltagesCollection)
		if err != nil {
			return fmt.Errorf("xcnv: event %d: %w", i, err)
		}

		var ts []float32
		if evt.Has(TimeCollection) {
			ts, err = f32sFrom(&evt, TimeCollection)
			if err != nil {
				return fmt.Errorf("xcnv: event %d: %w", i, err)
			}
		}

		if w == nil {
			nch := evt.Params.Ints[paramChannels]
			if len(nch) != 1 || nch[0] <= 0 {
				return fmt.Errorf("xcnv: event %d: missing number of channels", i)
			}
			chunk := len(vs) / int(nch[0])
			if chunk == 0 {
				chunk = 1
			}
			w, err = store.Create(fname, store.Options{
				Channels:   int(nch[0]),
				ChunkRows:  chunk,
				Timestamps: ts != nil,
				Overwrite:  overwrite,
			})
			if err != nil {
				return fmt.Errorf("xcnv: could not create store: %w", err)
			}
		}

		err = w.Append(vs, ts)
		if err != nil {
			return fmt.Errorf("xcnv: could not append event %d: %w", i, err)
		}
		i++
	}

	if err := r.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("xcnv: could not read LCIO events: %w", err)
	}

	if w == nil {
		return fmt.Errorf("xcnv: no LCIO event")
	}

	return nil
}

func f32sFrom(evt *lcio.Event, name string) ([]float32, error) {
	obj, ok := evt.Get(name).(*lcio.GenericObject)
	if !ok || len(obj.Data) != 1 {
		return nil, fmt.Errorf("invalid %s collection", name)
	}
	return obj.Data[0].F32s, nil
}
