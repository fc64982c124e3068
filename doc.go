// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ad4134 holds code for the data acquisition of the AD4134 FMC
// evaluation board.
//
// The frame package decodes the raw stream of the board, the board package
// connects to it, the store package persists the converted samples and the
// acq package runs acquisition sessions, stand-alone or under run control.
// The dac and sweep packages drive the reference DAC used to calibrate the
// board.
package ad4134 // import "github.com/plegaspi/ad4134-fmcz"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of ad4134 and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/plegaspi/ad4134-fmcz"
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
