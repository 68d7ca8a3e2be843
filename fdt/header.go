// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package fdt reads a Flattened Device Tree blob: the header, the
// memory-reserve map, and the tag stream of the structure block. It is
// the boundary layer the region and pack packages build on; it does not
// know about filters, regions, or selection.
package fdt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the fixed FDT header magic number.
const Magic = 0xd00dfeed

// HeaderSize is the on-disk size of Header, ten big-endian uint32 fields.
const HeaderSize = 40

// Minimum supported versions, per spec.md §6.
const (
	MinVersion        = 16 // fields below off_mem_rsvmap are reliable
	MinVersionForSize = 17 // size_dt_struct is reliable
)

// ErrNotFDT is returned when the blob does not start with Magic.
var ErrNotFDT = errors.New("fdt: bad magic")

// Header is the fixed 40-byte FDT header, big-endian on the wire.
type Header struct {
	Magic           uint32
	TotalSize       uint32
	OffDtStruct     uint32
	OffDtStrings    uint32
	OffMemRsvmap    uint32
	Version         uint32
	LastCompVersion uint32
	BootCpuidPhys   uint32
	SizeDtStrings   uint32
	SizeDtStruct    uint32
}

// ParseHeader decodes the fixed header from the start of buf.
func ParseHeader(buf []byte) (Header, error) {
	var h Header

	if len(buf) < HeaderSize {
		return h, fmt.Errorf("fdt: header truncated: have %d bytes, need %d", len(buf), HeaderSize)
	}

	words := [10]*uint32{
		&h.Magic, &h.TotalSize, &h.OffDtStruct, &h.OffDtStrings, &h.OffMemRsvmap,
		&h.Version, &h.LastCompVersion, &h.BootCpuidPhys, &h.SizeDtStrings, &h.SizeDtStruct,
	}
	for i, w := range words {
		*w = binary.BigEndian.Uint32(buf[i*4 : i*4+4])
	}

	if h.Magic != Magic {
		return h, ErrNotFDT
	}
	if int(h.TotalSize) > len(buf) {
		return h, fmt.Errorf("fdt: totalsize %d exceeds blob length %d", h.TotalSize, len(buf))
	}
	if h.Version < MinVersion {
		return h, fmt.Errorf("fdt: version %d unsupported, need >= %d", h.Version, MinVersion)
	}

	return h, nil
}

// StructSize returns the size of the structure block. On version >= 17 this
// is the reliable size_dt_struct field; on version 16 blobs it falls back to
// the distance between off_dt_struct and off_dt_strings, the only bound
// available.
func (h Header) StructSize() uint32 {
	if h.Version >= MinVersionForSize && h.SizeDtStruct != 0 {
		return h.SizeDtStruct
	}
	if h.OffDtStrings > h.OffDtStruct {
		return h.OffDtStrings - h.OffDtStruct
	}
	return h.TotalSize - h.OffDtStruct
}

// PutHeader encodes h into buf[:HeaderSize] big-endian. buf must be at least
// HeaderSize bytes.
func PutHeader(buf []byte, h Header) {
	words := [10]uint32{
		h.Magic, h.TotalSize, h.OffDtStruct, h.OffDtStrings, h.OffMemRsvmap,
		h.Version, h.LastCompVersion, h.BootCpuidPhys, h.SizeDtStrings, h.SizeDtStruct,
	}
	for i, w := range words {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], w)
	}
}

// ReserveEntrySize is the on-disk size of one memory-reserve record.
const ReserveEntrySize = 16

// ReserveEntry is one (address, size) record of the memory-reserve map,
// terminated in the blob by an all-zero record.
type ReserveEntry struct {
	Address uint64
	Size    uint64
}

// ReserveMap decodes the memory-reserve map starting at h.OffMemRsvmap,
// stopping at the terminating all-zero record. The returned size is the
// number of bytes consumed from the blob, including the terminator.
func ReserveMap(buf []byte, h Header) (entries []ReserveEntry, byteLen uint32, err error) {
	off := h.OffMemRsvmap
	for {
		if int(off)+ReserveEntrySize > len(buf) {
			return entries, off - h.OffMemRsvmap, fmt.Errorf("fdt: reserve map runs past end of blob at offset %d", off)
		}
		addr := binary.BigEndian.Uint64(buf[off : off+8])
		size := binary.BigEndian.Uint64(buf[off+8 : off+16])
		off += ReserveEntrySize
		if addr == 0 && size == 0 {
			return entries, off - h.OffMemRsvmap, nil
		}
		entries = append(entries, ReserveEntry{Address: addr, Size: size})
	}
}

// PutReserveMap encodes entries plus the terminating zero record into buf,
// returning the number of bytes written. buf must have room for
// (len(entries)+1)*ReserveEntrySize bytes.
func PutReserveMap(buf []byte, entries []ReserveEntry) int {
	off := 0
	for _, e := range entries {
		binary.BigEndian.PutUint64(buf[off:off+8], e.Address)
		binary.BigEndian.PutUint64(buf[off+8:off+16], e.Size)
		off += ReserveEntrySize
	}
	// terminator
	binary.BigEndian.PutUint64(buf[off:off+8], 0)
	binary.BigEndian.PutUint64(buf[off+8:off+16], 0)
	return off + ReserveEntrySize
}

// Align4 rounds n up to the next multiple of 4, the padding unit used
// throughout the structure block.
func Align4(n uint32) uint32 {
	return (n + 3) &^ 3
}

// Align8 rounds n up to the next multiple of 8, used for off_mem_rsvmap.
func Align8(n uint32) uint32 {
	return (n + 7) &^ 7
}
