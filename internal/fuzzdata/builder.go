// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package fuzzdata builds synthetic, in-memory FDT blobs for tests across
// fdt, region, dts, and pack. It plays the role the teacher's
// (gaissmai/bart) internal/golden package plays for routing-table tests:
// a small builder that produces realistic fixtures without needing actual
// firmware blobs checked into the repository.
package fuzzdata

import (
	"encoding/binary"

	"github.com/dtregion/fdtgrep/fdt"
)

// Builder accumulates a structure block and a string table, then emits a
// complete FDT blob.
type Builder struct {
	structBuf []byte
	strings   []byte
	strOff    map[string]uint32
	reserves  []fdt.ReserveEntry
	version   uint32
}

// New returns an empty Builder. version defaults to 17 if zero.
func New(version uint32) *Builder {
	if version == 0 {
		version = 17
	}
	return &Builder{strOff: make(map[string]uint32), version: version}
}

// Reserve adds one memory-reserve entry.
func (b *Builder) Reserve(addr, size uint64) *Builder {
	b.reserves = append(b.reserves, fdt.ReserveEntry{Address: addr, Size: size})
	return b
}

// BeginNode appends a BeginNode tag with the given name (use "" for root).
func (b *Builder) BeginNode(name string) *Builder {
	b.putTag(fdt.BeginNode)
	b.structBuf = append(b.structBuf, name...)
	b.structBuf = append(b.structBuf, 0)
	b.pad4()
	return b
}

// EndNode appends an EndNode tag.
func (b *Builder) EndNode() *Builder {
	b.putTag(fdt.EndNode)
	return b
}

// Prop appends a property with the given name and raw value bytes.
func (b *Builder) Prop(name string, value []byte) *Builder {
	b.putTag(fdt.Prop)
	var lenBuf, offBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
	binary.BigEndian.PutUint32(offBuf[:], b.internString(name))
	b.structBuf = append(b.structBuf, lenBuf[:]...)
	b.structBuf = append(b.structBuf, offBuf[:]...)
	b.structBuf = append(b.structBuf, value...)
	b.pad4()
	return b
}

// Compatible appends a "compatible" property whose value is the
// nul-separated concatenation of names.
func (b *Builder) Compatible(names ...string) *Builder {
	var v []byte
	for _, n := range names {
		v = append(v, n...)
		v = append(v, 0)
	}
	return b.Prop("compatible", v)
}

// Nop appends a Nop tag.
func (b *Builder) Nop() *Builder {
	b.putTag(fdt.Nop)
	return b
}

// Cells encodes a list of u32 cells big-endian, for use as a Prop value.
func Cells(vs ...uint32) []byte {
	out := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint32(out[i*4:], v)
	}
	return out
}

// Build finalizes the tag stream with an End tag and assembles a complete
// blob: header, reserve map (double-word aligned), struct block, string
// block.
func (b *Builder) Build() []byte {
	b.putTag(fdt.End)

	offMemRsvmap := fdt.Align8(fdt.HeaderSize)
	reserveBuf := make([]byte, (len(b.reserves)+1)*fdt.ReserveEntrySize)
	n := fdt.PutReserveMap(reserveBuf, b.reserves)
	reserveBuf = reserveBuf[:n]

	offDtStruct := offMemRsvmap + uint32(len(reserveBuf))
	offDtStrings := offDtStruct + uint32(len(b.structBuf))
	totalSize := offDtStrings + uint32(len(b.strings))

	h := fdt.Header{
		Magic:           fdt.Magic,
		TotalSize:       totalSize,
		OffDtStruct:     offDtStruct,
		OffDtStrings:    offDtStrings,
		OffMemRsvmap:    offMemRsvmap,
		Version:         b.version,
		LastCompVersion: 16,
		SizeDtStrings:   uint32(len(b.strings)),
		SizeDtStruct:    uint32(len(b.structBuf)),
	}

	out := make([]byte, totalSize)
	fdt.PutHeader(out, h)
	copy(out[offMemRsvmap:], reserveBuf)
	copy(out[offDtStruct:], b.structBuf)
	copy(out[offDtStrings:], b.strings)
	return out
}

func (b *Builder) putTag(t fdt.Tag) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(t))
	b.structBuf = append(b.structBuf, buf[:]...)
}

func (b *Builder) pad4() {
	for len(b.structBuf)%4 != 0 {
		b.structBuf = append(b.structBuf, 0)
	}
}

func (b *Builder) internString(s string) uint32 {
	if off, ok := b.strOff[s]; ok {
		return off
	}
	off := uint32(len(b.strings))
	b.strings = append(b.strings, s...)
	b.strings = append(b.strings, 0)
	b.strOff[s] = off
	return off
}
