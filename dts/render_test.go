// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package dts_test

import (
	"strings"
	"testing"

	"github.com/dtregion/fdtgrep/dts"
	"github.com/dtregion/fdtgrep/fdt"
	"github.com/dtregion/fdtgrep/internal/fuzzdata"
	"github.com/dtregion/fdtgrep/region"
)

func TestRenderEmptyRootNameIsSlash(t *testing.T) {
	t.Parallel()

	raw := fuzzdata.New(17).BeginNode("").EndNode().Build()
	blob, err := fdt.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	off, size := blob.StructBlock()
	regions := []region.Region{{Offset: off, Size: size}}

	var sb strings.Builder
	if err := dts.Render(&sb, blob, regions, dts.Config{}); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	want := "/ {\n};\n"
	if got := sb.String(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRenderNopLine(t *testing.T) {
	t.Parallel()

	raw := fuzzdata.New(17).BeginNode("").Nop().EndNode().Build()
	blob, err := fdt.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	off, size := blob.StructBlock()
	regions := []region.Region{{Offset: off, Size: size}}

	var sb strings.Builder
	if err := dts.Render(&sb, blob, regions, dts.Config{}); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(sb.String(), "// [NOP]") {
		t.Errorf("Render() missing NOP line: %q", sb.String())
	}
}

func TestFormatValueVariants(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   []byte
		want string
	}{
		{"empty", nil, `""`},
		{"string", []byte("hello\x00"), `"hello"`},
		{"cells", fuzzdata.Cells(0x100, 0x10), "<0x100 0x10>"},
		{"bytes", []byte{0x01, 0x02, 0x03}, "[0x01 0x02 0x03]"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			if got := dts.FormatValue(c.in); got != c.want {
				t.Errorf("FormatValue(%v) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestRenderDiffMarkers(t *testing.T) {
	t.Parallel()

	raw := fuzzdata.New(17).
		BeginNode("").
		BeginNode("a").
		EndNode().
		EndNode().
		Build()
	blob, err := fdt.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// select only the root's BeginNode; every later tag lies outside the region.
	structOff, _ := blob.StructBlock()
	rootTok, err := fdt.NextTag(blob.Raw, blob.Header, structOff)
	if err != nil {
		t.Fatalf("NextTag() error = %v", err)
	}
	regions := []region.Region{{Offset: rootTok.Offset, Size: 4}}

	var sb strings.Builder
	if err := dts.Render(&sb, blob, regions, dts.Config{Diff: true}); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "+ ") {
		t.Errorf("first line should carry a + marker: %q", lines)
	}
	foundMinus := false
	for _, l := range lines[1:] {
		if strings.HasPrefix(l, "- ") {
			foundMinus = true
		}
	}
	if !foundMinus {
		t.Errorf("expected at least one - marked line: %v", lines)
	}
}
