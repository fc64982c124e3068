// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"fmt"
	"log"

	"github.com/plegaspi/ad4134-fmcz/store"
	"go-hep.org/x/hep/lcio"
)

// Store2LCIO writes the committed rows of the store r as LCIO events.
func Store2LCIO(w *lcio.Writer, r *store.Reader, run int32, msg *log.Logger) error {
	var (
		nch   = r.Channels()
		chunk = int64(r.ChunkRows())
		nrows = r.Len()
		times = r.Timestamps()

		vs  []float32
		ts  []float32
		err error
	)

	err = w.WriteRunHeader(&lcio.RunHeader{
		RunNumber: run,
		Detector:  Detector,
		Descr:     fmt.Sprintf("created %v", r.Created()),
		Params: lcio.Params{
			Ints: map[string][]int32{
				paramChannels:  {int32(nch)},
				paramChunkRows: {int32(chunk)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("xcnv: could not write run header: %w", err)
	}

	for i, beg := 0, int64(0); beg < nrows; i, beg = i+1, beg+chunk {
		if i%100 == 0 {
			msg.Printf("processing evt %d...", i)
		}

		end := beg + chunk
		if end > nrows {
			end = nrows
		}

		vs, err = r.ReadRows(vs, beg, end)
		if err != nil {
			return fmt.Errorf("xcnv: could not read rows [%d, %d): %w", beg, end, err)
		}

		evt := lcio.Event{
			RunNumber:   run,
			EventNumber: int32(i),
			Detector:    Detector,
			Params: lcio.Params{
				Ints: map[string][]int32{
					paramChannels: {int32(nch)},
					paramFirstRow: {int32(beg)},
				},
			},
		}
		evt.Add(VoltagesCollection, &lcio.GenericObject{
			Data: []lcio.GenericObjectData{{F32s: vs}},
		})

		if times {
			ts, err = r.ReadTimes(ts, beg, end)
			if err != nil {
				return fmt.Errorf("xcnv: could not read timestamps [%d, %d): %w", beg, end, err)
			}
			evt.TimeStamp = int64(float64(ts[0]) * 1e9)
			evt.Add(TimeCollection, &lcio.GenericObject{
				Data: []lcio.GenericObjectData{{F32s: ts}},
			})
		}

		err = w.WriteEvent(&evt)
		if err != nil {
			return fmt.Errorf("xcnv: could not write event %d: %w", i, err)
		}
	}

	return nil
}
