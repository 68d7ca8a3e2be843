// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package pack_test

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dtregion/fdtgrep/fdt"
	"github.com/dtregion/fdtgrep/internal/fuzzdata"
	"github.com/dtregion/fdtgrep/pack"
	"github.com/dtregion/fdtgrep/region"
)

func buildSimpleBlob() []byte {
	return fuzzdata.New(17).
		Reserve(0x1000, 0x2000).
		BeginNode("").
		Prop("a", fuzzdata.Cells(1)).
		EndNode().
		Build()
}

func TestBinIsByteExactConcatenation(t *testing.T) {
	t.Parallel()

	raw := buildSimpleBlob()
	blob, err := fdt.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	regions := []region.Region{{Offset: 0, Size: 10}, {Offset: 20, Size: 5}}
	got := pack.Bin(blob, regions)

	var want []byte
	want = append(want, raw[0:10]...)
	want = append(want, raw[20:25]...)

	if !bytes.Equal(got, want) {
		t.Errorf("Bin() = %x, want %x", got, want)
	}
}

func TestBuildDTBRoundTrip(t *testing.T) {
	t.Parallel()

	raw := buildSimpleBlob()
	blob, err := fdt.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	filter, err := region.NewFilterSet([]region.Rule{
		{Kind: region.KindAny, Include: true, Literal: "/"},
	}, false)
	if err != nil {
		t.Fatalf("NewFilterSet() error = %v", err)
	}

	it, err := region.First(blob, filter, region.FlagSupernodes|region.FlagAllSubnodes|region.FlagAddMemRsvmap|region.FlagAddStringTab)
	if err != nil {
		t.Fatalf("First() error = %v", err)
	}

	buf := make([]region.Region, 100)
	n, status, err := it.Next(buf)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if status != region.StatusDone {
		t.Fatalf("status = %v, want StatusDone", status)
	}

	rebuilt, err := pack.BuildDTB(blob, buf[:n])
	if err != nil {
		t.Fatalf("BuildDTB() error = %v", err)
	}

	rebuiltBlob, err := fdt.Parse(rebuilt)
	if err != nil {
		t.Fatalf("Parse(rebuilt) error = %v", err)
	}

	origEntries, err := blob.ReserveEntries()
	if err != nil {
		t.Fatalf("ReserveEntries(orig) error = %v", err)
	}
	newEntries, err := rebuiltBlob.ReserveEntries()
	if err != nil {
		t.Fatalf("ReserveEntries(rebuilt) error = %v", err)
	}
	if diff := cmp.Diff(origEntries, newEntries); diff != "" {
		t.Errorf("reserve entries mismatch after rebuild (-orig +rebuilt):\n%s", diff)
	}

	if err := rebuiltBlob.CheckStructTermination(); err != nil {
		t.Errorf("rebuilt struct block malformed: %v", err)
	}

	_, origStrSize := blob.StringBlock()
	_, newStrSize := rebuiltBlob.StringBlock()
	if origStrSize != newStrSize {
		t.Errorf("string table size mismatch: orig=%d new=%d", origStrSize, newStrSize)
	}
}

func TestBuildDTBRequiresSections(t *testing.T) {
	t.Parallel()

	raw := buildSimpleBlob()
	blob, err := fdt.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	structOff, _ := blob.StructBlock()
	if _, err := pack.BuildDTB(blob, []region.Region{{Offset: structOff, Size: 4}}); err == nil {
		t.Error("BuildDTB() without mem-rsvmap/string-table regions: got nil error")
	}
}
