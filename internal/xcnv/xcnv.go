// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcnv provides tools to convert acquisition stores to/from LCIO.
//
// Each chunk of a store becomes one LCIO event holding an ADC_VOLTAGES
// generic object (row-major float32 voltages) and, when the store has a
// time column, an ADC_TIME generic object.
package xcnv // import "github.com/plegaspi/ad4134-fmcz/internal/xcnv"

const (
	Detector = "AD4134-FMCZ"

	VoltagesCollection = "ADC_VOLTAGES"
	TimeCollection     = "ADC_TIME"

	paramChannels  = "Channels"
	paramChunkRows = "ChunkRows"
	paramFirstRow  = "FirstRow"
)
