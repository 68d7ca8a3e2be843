// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package fdt

import "fmt"

// Blob is a parsed, read-only view over an FDT byte slice: the header plus
// the derived extents of its three sections. It owns no copy of buf.
type Blob struct {
	Raw    []byte
	Header Header
}

// Parse validates buf as an FDT blob and returns a read-only Blob view.
// Concurrent readers of distinct Blob values over the same underlying buf
// are safe, per spec.md §5.
func Parse(buf []byte) (Blob, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return Blob{}, err
	}
	return Blob{Raw: buf, Header: h}, nil
}

// StructBlock returns the byte range of the structure block.
func (b Blob) StructBlock() (offset, size uint32) {
	return b.Header.OffDtStruct, b.Header.StructSize()
}

// StringBlock returns the byte range of the string block.
func (b Blob) StringBlock() (offset, size uint32) {
	return b.Header.OffDtStrings, b.Header.SizeDtStrings
}

// ReserveEntries decodes the memory-reserve map.
func (b Blob) ReserveEntries() ([]ReserveEntry, error) {
	entries, _, err := ReserveMap(b.Raw, b.Header)
	return entries, err
}

// ReserveMapByteLen returns the byte length of the reserve map, including
// its terminating zero record.
func (b Blob) ReserveMapByteLen() (uint32, error) {
	_, n, err := ReserveMap(b.Raw, b.Header)
	return n, err
}

// CheckStructTermination verifies that walking NextTag from the start of
// the structure block lands exactly on an End tag at the declared struct
// end, per spec.md §4.2's BadStructure condition. It is intentionally not
// called by the region walker itself (which discovers the same fact as a
// side effect of the walk) but is useful for blob sanity checks at load
// time and is exercised directly by fdt's own tests.
func (b Blob) CheckStructTermination() error {
	off, size := b.StructBlock()
	end := off + size

	for off < end {
		tok, err := NextTag(b.Raw, b.Header, off)
		if err != nil {
			return err
		}
		if tok.Tag == End {
			if tok.NextOffset != end {
				return fmt.Errorf("fdt: %w: End tag at %d, struct end at %d", ErrBadStructure, tok.Offset, end)
			}
			return nil
		}
		off = tok.NextOffset
	}
	return fmt.Errorf("fdt: %w: struct block ended without an End tag", ErrBadStructure)
}

// ErrBadStructure indicates the tag stream is internally inconsistent.
var ErrBadStructure = fmt.Errorf("inconsistent structure block")
