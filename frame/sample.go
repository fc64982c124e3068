// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import "fmt"

const (
	Resolution = 24    // bits of the signed measurement code
	FullScale  = 4.096 // full-scale reference, in volts

	// LSB is the voltage step of one code unit.
	LSB = FullScale / (1 << (Resolution - 1))

	MaxCode = 1<<(Resolution-1) - 1
	MinCode = -1 << (Resolution - 1)

	lockBit      = 6
	integrityBit = 7
	codeShift    = 8
	codeMask     = 0xffffff
	signBit      = 0x800000
)

// Flag is a bit set of data-quality problems of a sample.
type Flag uint8

const (
	FlagUnlocked  Flag = 1 << iota // front-end clock not settled
	FlagChipError                  // sampling chip reported a fault
)

func (f Flag) String() string {
	switch f {
	case 0:
		return "ok"
	case FlagUnlocked:
		return "unlocked"
	case FlagChipError:
		return "chip-error"
	case FlagUnlocked | FlagChipError:
		return "unlocked|chip-error"
	}
	return fmt.Sprintf("Flag(0x%x)", uint8(f))
}

// LockOK reports whether the lock-status bit of w is set.
func LockOK(w uint32) bool { return (w>>lockBit)&1 == 1 }

// IntegrityOK reports whether the integrity bit of w is set.
func IntegrityOK(w uint32) bool { return (w>>integrityBit)&1 == 1 }

// Code returns the signed 24-bit measurement code carried by w.
func Code(w uint32) int32 {
	raw := int32((w >> codeShift) & codeMask)
	if raw&signBit != 0 {
		raw -= 1 << Resolution
	}
	return raw
}

// Voltage returns the calibrated voltage carried by w.
func Voltage(w uint32) float64 {
	return float64(Code(w)) * LSB
}

// Status returns the data-quality flags of w.
func Status(w uint32) Flag {
	var f Flag
	if !LockOK(w) {
		f |= FlagUnlocked
	}
	if !IntegrityOK(w) {
		f |= FlagChipError
	}
	return f
}

// EncodeWord packs a signed measurement code and its status bits into a
// sample word. Codes are truncated to 24 bits.
func EncodeWord(code int32, locked, integrity bool) uint32 {
	w := (uint32(code) & codeMask) << codeShift
	if locked {
		w |= 1 << lockBit
	}
	if integrity {
		w |= 1 << integrityBit
	}
	return w
}

// Sample is a converted sample word, tagged with its status bits.
type Sample struct {
	Value       float64 // volts
	LockOK      bool
	IntegrityOK bool
}

// Convert converts a single sample word.
func Convert(w uint32) Sample {
	return Sample{
		Value:       Voltage(w),
		LockOK:      LockOK(w),
		IntegrityOK: IntegrityOK(w),
	}
}

// Block holds the rows converted from the sample words of one frame.
// Values are row-major: Values[i*Channels+c] is channel c of row i.
type Block struct {
	Channels int
	Values   []float32
	Flags    []Flag // one per sample, same indexing as Values

	Unlocked  int // number of samples with the lock bit cleared
	ChipError int // number of samples with the integrity bit cleared
}

// Rows returns the number of rows in the block.
func (blk *Block) Rows() int {
	if blk.Channels == 0 {
		return 0
	}
	return len(blk.Values) / blk.Channels
}

// Row returns the values of row i.
func (blk *Block) Row(i int) []float32 {
	return blk.Values[i*blk.Channels : (i+1)*blk.Channels]
}

// RowFlags returns the union of the flags of the samples of row i.
func (blk *Block) RowFlags(i int) Flag {
	var f Flag
	for _, v := range blk.Flags[i*blk.Channels : (i+1)*blk.Channels] {
		f |= v
	}
	return f
}

// OK reports whether no sample of the block was flagged.
func (blk *Block) OK() bool {
	return blk.Unlocked == 0 && blk.ChipError == 0
}

// ConvertWords converts the sample words into blk, grouping them in rows of
// channels consecutive words. Flagged words are converted too.
func ConvertWords(blk *Block, words []uint32, channels int) error {
	if channels <= 0 || len(words)%channels != 0 {
		return fmt.Errorf(
			"%w: %d words can not be split in rows of %d channels",
			ErrProtocol, len(words), channels,
		)
	}

	blk.Channels = channels
	blk.Unlocked = 0
	blk.ChipError = 0
	if cap(blk.Values) < len(words) {
		blk.Values = make([]float32, len(words))
	}
	if cap(blk.Flags) < len(words) {
		blk.Flags = make([]Flag, len(words))
	}
	blk.Values = blk.Values[:len(words)]
	blk.Flags = blk.Flags[:len(words)]

	for i, w := range words {
		f := Status(w)
		if f&FlagUnlocked != 0 {
			blk.Unlocked++
		}
		if f&FlagChipError != 0 {
			blk.ChipError++
		}
		blk.Flags[i] = f
		blk.Values[i] = float32(Voltage(w))
	}
	return nil
}
