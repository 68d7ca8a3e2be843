// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"

	"github.com/dtregion/fdtgrep/internal/fuzzdata"
)

func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"fdtgrep": fdtgrepMain,
	}))
}

func TestScript(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata/script",
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			"mkdtb": cmdMkdtb,
		},
	})
}

// cmdMkdtb writes a small, fixed sample tree to args[0]:
//
//	/ { a { b = <1>; c = <2>; }; d { }; }
//
// It exists so script fixtures can exercise the CLI against a real binary
// FDT blob without checking one into testdata (txtar files are text).
func cmdMkdtb(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! mkdtb")
	}
	if len(args) != 1 {
		ts.Fatalf("usage: mkdtb file.dtb")
	}

	raw := fuzzdata.New(17).
		BeginNode("").
		BeginNode("a").
		Prop("b", fuzzdata.Cells(1)).
		Prop("c", fuzzdata.Cells(2)).
		EndNode().
		BeginNode("d").
		EndNode().
		EndNode().
		Build()

	if err := os.WriteFile(ts.MkAbs(args[0]), raw, 0o644); err != nil {
		ts.Fatalf("writing %s: %v", args[0], err)
	}
}
