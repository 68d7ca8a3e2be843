// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package dts renders a region list as device-tree source text: it
// re-walks the structure block tag by tag (the region package never
// hands back tags, only byte ranges) and emits a line for any tag whose
// offset falls inside the sorted region list.
//
// This mirrors the teacher's (gaissmai/bart) dumper.go/stringify.go: a
// recursive-descent-shaped walk carrying an accumulated depth and an
// indentation pad, formatting one line per visited element and writing
// through a single io.Writer rather than building intermediate strings.
package dts

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/dtregion/fdtgrep/fdt"
	"github.com/dtregion/fdtgrep/region"
)

// Config toggles the optional adornments of spec.md §4.3/§6. All are off
// by default, matching plain `dtc`-style output.
type Config struct {
	Address bool // prefix each line with the tag's absolute blob offset
	Offset  bool // alias of Address kept distinct for -a/-f flag parity
	Diff    bool // prefix "+"/"-" for in/out of region
	Colour  bool // ANSI colour for diff markers
}

const indentUnit = "    "

// Render re-walks blob's structure block and writes one line per tag whose
// offset lies within regions to w. With cfg.Diff set it writes a line for
// every tag instead, marked "+" inside regions and "-" outside. regions must
// be sorted ascending and pairwise disjoint, the contract region.Iterator
// guarantees.
func Render(w io.Writer, blob fdt.Blob, regions []region.Region, cfg Config) error {
	ri := 0 // cursor into regions
	depth := 0

	off, size := blob.StructBlock()
	end := off + size

	inRegion := func(o uint32) bool {
		for ri < len(regions) && o >= regions[ri].Offset+regions[ri].Size {
			ri++
		}
		return ri < len(regions) && o >= regions[ri].Offset && o < regions[ri].Offset+regions[ri].Size
	}

	for off < end {
		tok, err := fdt.NextTag(blob.Raw, blob.Header, off)
		if err != nil {
			return err
		}

		selected := inRegion(tok.Offset)
		show := selected || cfg.Diff

		switch tok.Tag {
		case fdt.BeginNode:
			if show {
				name := tok.Name
				if name == "" {
					name = "/"
				}
				writeLine(w, cfg, tok.Offset, selected, depth, "%s {", name)
			}
			depth++

		case fdt.EndNode:
			depth--
			if show {
				writeLine(w, cfg, tok.Offset, selected, depth, "};")
			}

		case fdt.Prop:
			if show {
				val := fdt.PropertyValue(blob.Raw, tok)
				writeLine(w, cfg, tok.Offset, selected, depth, "%s = %s;", tok.PropName, FormatValue(val))
			}

		case fdt.Nop:
			if show {
				writeLine(w, cfg, tok.Offset, selected, depth, "// [NOP]")
			}

		case fdt.End:
			// always logically included; the driver decides whether to
			// surface it as a region, nothing to render here.
		}

		off = tok.NextOffset
	}

	return nil
}

func writeLine(w io.Writer, cfg Config, off uint32, selected bool, depth int, format string, args ...any) {
	var b strings.Builder

	if cfg.Diff {
		marker := "+"
		if !selected {
			marker = "-"
		}
		if cfg.Colour {
			colourStart, colourEnd := "\x1b[32m", "\x1b[0m"
			if marker == "-" {
				colourStart = "\x1b[31m"
			}
			fmt.Fprintf(&b, "%s%s%s ", colourStart, marker, colourEnd)
		} else {
			fmt.Fprintf(&b, "%s ", marker)
		}
	}
	if cfg.Address || cfg.Offset {
		fmt.Fprintf(&b, "0x%08x: ", off)
	}
	b.WriteString(strings.Repeat(indentUnit, depth))
	fmt.Fprintf(&b, format, args...)
	b.WriteByte('\n')

	io.WriteString(w, b.String())
}

// FormatValue renders a raw property value the way dtc's source form does:
// an empty value as "", a clean nul-terminated printable string as a quoted
// string, a length that's a multiple of 4 as a <0x... 0x...> cell list,
// and anything else as a [0x.. 0x..] byte list.
func FormatValue(v []byte) string {
	switch {
	case len(v) == 0:
		return "\"\""
	case isPrintableString(v):
		return fmt.Sprintf("%q", strings.TrimRight(string(v), "\x00"))
	case len(v)%4 == 0:
		cells := make([]string, len(v)/4)
		for i := range cells {
			o := i * 4
			u := uint32(v[o])<<24 | uint32(v[o+1])<<16 | uint32(v[o+2])<<8 | uint32(v[o+3])
			cells[i] = fmt.Sprintf("0x%x", u)
		}
		return "<" + strings.Join(cells, " ") + ">"
	default:
		bytes := make([]string, len(v))
		for i, b := range v {
			bytes[i] = fmt.Sprintf("0x%02x", b)
		}
		return "[" + strings.Join(bytes, " ") + "]"
	}
}

func isPrintableString(v []byte) bool {
	if v[len(v)-1] != 0 {
		return false
	}
	for i, b := range v {
		if b == 0 {
			// only the final byte may be nul; embedded nuls are fine for
			// nul-separated string lists, but keep this formatter to the
			// single-string case and fall through to the cell/byte forms
			// for anything with an interior terminator beyond the last.
			if i != len(v)-1 {
				return false
			}
			continue
		}
		r := rune(b)
		if b >= 0x80 || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
