// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package pack assembles a region list back into bytes: either a raw
// concatenation ("bin") or a reconstructed, independently valid FDT
// ("dtb") with recomputed header offsets.
//
// Grounded on the teacher's (gaissmai/bart) serialize.go, which builds a
// []byte via bytes.Buffer and a handful of small Marshal* entry points
// rather than a generic streaming writer interface.
package pack

import (
	"bytes"
	"fmt"

	"github.com/dtregion/fdtgrep/fdt"
	"github.com/dtregion/fdtgrep/region"
)

// ErrMissingSections is returned by BuildDTB when the region list lacks the
// reserve-map or string-table regions it needs to reconstruct a valid FDT.
var ErrMissingSections = fmt.Errorf("pack: dtb reconstruction requires AddMemRsvmap and AddStringTab regions")

// Bin concatenates the bytes named by regions verbatim, in order. The
// result is byte-exact to the concatenation the driver consumed, per
// spec.md §8 property 2; it is not necessarily a valid FDT.
func Bin(blob fdt.Blob, regions []region.Region) []byte {
	var total int
	for _, r := range regions {
		total += int(r.Size)
	}
	out := make([]byte, 0, total)
	for _, r := range regions {
		out = append(out, blob.Raw[r.Offset:r.Offset+r.Size]...)
	}
	return out
}

// BuildDTB reconstructs an independently valid FDT from regions selected
// with both FlagAddMemRsvmap and FlagAddStringTab set: a fresh header with
// offsets recomputed from the actual section sizes, per spec.md §6's dtb
// output format.
//
// The reserve-map region is identified as the leading region whose offset
// equals blob.Header.OffMemRsvmap; any region starting at or after
// blob.Header.OffDtStrings is treated as string-table content. Regions
// inside the struct block are struct-block content, in the order given.
func BuildDTB(blob fdt.Blob, regions []region.Region) ([]byte, error) {
	if len(regions) == 0 {
		return nil, ErrMissingSections
	}

	structOff, structSize := blob.StructBlock()
	structEnd := structOff + structSize
	stringOff, _ := blob.StringBlock()

	var reserveBytes []byte
	var stringBytes []byte
	var structParts [][]byte

	for i, r := range regions {
		switch {
		case i == 0 && r.Offset == blob.Header.OffMemRsvmap && r.Offset < structOff:
			reserveBytes = blob.Raw[r.Offset : r.Offset+r.Size]
		case r.Offset >= stringOff:
			stringBytes = append(stringBytes, blob.Raw[r.Offset:r.Offset+r.Size]...)
		case r.Offset >= structOff && r.Offset < structEnd:
			structParts = append(structParts, blob.Raw[r.Offset:r.Offset+r.Size])
		default:
			return nil, fmt.Errorf("pack: region at offset %d fits none of reserve/struct/string", r.Offset)
		}
	}

	if reserveBytes == nil || stringBytes == nil {
		return nil, ErrMissingSections
	}

	var structBytes bytes.Buffer
	for _, p := range structParts {
		structBytes.Write(p)
	}
	for structBytes.Len()%4 != 0 {
		structBytes.WriteByte(0)
	}

	offMemRsvmap := fdt.Align8(fdt.HeaderSize)
	offDtStruct := offMemRsvmap + uint32(len(reserveBytes))
	sizeDtStruct := uint32(structBytes.Len())
	offDtStrings := offDtStruct + sizeDtStruct
	sizeDtStrings := uint32(len(stringBytes))
	totalSize := offDtStrings + sizeDtStrings

	h := fdt.Header{
		Magic:           fdt.Magic,
		TotalSize:       totalSize,
		OffDtStruct:     offDtStruct,
		OffDtStrings:    offDtStrings,
		OffMemRsvmap:    offMemRsvmap,
		Version:         blob.Header.Version,
		LastCompVersion: blob.Header.LastCompVersion,
		BootCpuidPhys:   blob.Header.BootCpuidPhys,
		SizeDtStrings:   sizeDtStrings,
		SizeDtStruct:    sizeDtStruct,
	}

	out := make([]byte, totalSize)
	fdt.PutHeader(out, h)
	copy(out[offMemRsvmap:], reserveBytes)
	copy(out[offDtStruct:], structBytes.Bytes())
	copy(out[offDtStrings:], stringBytes)

	return out, nil
}
