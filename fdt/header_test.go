// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package fdt

import (
	"errors"
	"testing"
)

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	t.Parallel()
	buf := make([]byte, HeaderSize)
	if _, err := ParseHeader(buf); !errors.Is(err, ErrNotFDT) {
		t.Errorf("ParseHeader() error = %v, want ErrNotFDT", err)
	}
}

func TestParseHeaderRejectsTruncated(t *testing.T) {
	t.Parallel()
	if _, err := ParseHeader(make([]byte, 10)); err == nil {
		t.Errorf("ParseHeader() on truncated buf: got nil error")
	}
}

func TestPutHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	h := Header{
		Magic: Magic, TotalSize: 200, OffDtStruct: 56, OffDtStrings: 180,
		OffMemRsvmap: 40, Version: 17, LastCompVersion: 16,
		SizeDtStrings: 20, SizeDtStruct: 124,
	}
	buf := make([]byte, h.TotalSize)
	PutHeader(buf, h)

	got, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if got != h {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestStructSizeFallsBackOnOldVersion(t *testing.T) {
	t.Parallel()
	h := Header{Version: 16, OffDtStruct: 56, OffDtStrings: 200, SizeDtStruct: 0}
	if got, want := h.StructSize(), uint32(144); got != want {
		t.Errorf("StructSize() = %d, want %d", got, want)
	}
}

func TestReserveMapRoundTrip(t *testing.T) {
	t.Parallel()
	entries := []ReserveEntry{{Address: 0x1000, Size: 0x2000}, {Address: 0x5000, Size: 0x10}}
	buf := make([]byte, (len(entries)+1)*ReserveEntrySize)
	n := PutReserveMap(buf, entries)

	h := Header{OffMemRsvmap: 0}
	got, byteLen, err := ReserveMap(buf[:n], h)
	if err != nil {
		t.Fatalf("ReserveMap() error = %v", err)
	}
	if int(byteLen) != n {
		t.Errorf("byteLen = %d, want %d", byteLen, n)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i] != entries[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], entries[i])
		}
	}
}

func TestAlign4And8(t *testing.T) {
	t.Parallel()
	cases := []struct{ in, want4, want8 uint32 }{
		{0, 0, 0}, {1, 4, 8}, {4, 4, 8}, {5, 8, 8}, {8, 8, 8}, {9, 12, 16},
	}
	for _, c := range cases {
		if got := Align4(c.in); got != c.want4 {
			t.Errorf("Align4(%d) = %d, want %d", c.in, got, c.want4)
		}
		if got := Align8(c.in); got != c.want8 {
			t.Errorf("Align8(%d) = %d, want %d", c.in, got, c.want8)
		}
	}
}
