// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ad4134

import (
	"runtime/debug"
	"testing"
)

func TestVersionOf(t *testing.T) {
	const root = "github.com/plegaspi/ad4134-fmcz"
	for _, tc := range []struct {
		name string
		b    *debug.BuildInfo
		vers string
		sum  string
	}{
		{
			name: "nil",
		},
		{
			name: "not-a-dep",
			b: &debug.BuildInfo{Deps: []*debug.Module{
				{Path: "golang.org/x/sys", Version: "v0.7.0", Sum: "h1:sys"},
			}},
		},
		{
			name: "dep",
			b: &debug.BuildInfo{Deps: []*debug.Module{
				{Path: "golang.org/x/sys", Version: "v0.7.0", Sum: "h1:sys"},
				{Path: root, Version: "v0.3.0", Sum: "h1:ad4134"},
			}},
			vers: "v0.3.0",
			sum:  "h1:ad4134",
		},
		{
			name: "replace-version",
			b: &debug.BuildInfo{Deps: []*debug.Module{
				{
					Path: root, Version: "v0.3.0",
					Replace: &debug.Module{Version: "v0.3.1", Sum: "h1:repl"},
				},
			}},
			vers: "v0.3.1",
			sum:  "h1:repl",
		},
		{
			name: "replace-path",
			b: &debug.BuildInfo{Deps: []*debug.Module{
				{
					Path: root, Version: "v0.3.0",
					Replace: &debug.Module{Path: "../ad4134"},
				},
			}},
			vers: "../ad4134",
		},
		{
			name: "replace-path-version",
			b: &debug.BuildInfo{Deps: []*debug.Module{
				{
					Path: root, Version: "v0.3.0",
					Replace: &debug.Module{Path: "example.org/fork", Version: "v0.4.0", Sum: "h1:fork"},
				},
			}},
			vers: "example.org/fork v0.4.0",
			sum:  "h1:fork",
		},
		{
			name: "replace-empty",
			b: &debug.BuildInfo{Deps: []*debug.Module{
				{Path: root, Version: "v0.3.0", Replace: &debug.Module{}},
			}},
			vers: "v0.3.0*",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			vers, sum := versionOf(tc.b)
			if vers != tc.vers || sum != tc.sum {
				t.Fatalf("invalid version: got=(%q, %q), want=(%q, %q)", vers, sum, tc.vers, tc.sum)
			}
		})
	}
}
