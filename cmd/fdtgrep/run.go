// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dtregion/fdtgrep/dts"
	"github.com/dtregion/fdtgrep/fdt"
	"github.com/dtregion/fdtgrep/pack"
	"github.com/dtregion/fdtgrep/region"
)

// driverChunk is the per-Next() array size of spec.md §4.4's driver. A walk
// that yields more than driverChunk regions pauses and resumes; smaller
// walks finish in a single Next call.
const driverChunk = 256

func run(cmd *cobra.Command, fl flagSet, args []string) error {
	blobPath := args[0]
	literals := args[1:]

	// Filter setup is validated before the blob is even opened, so a
	// rejected flag combination (e.g. -v with an exclude rule) is reported
	// the same way regardless of whether the input file exists or parses.
	filter, err := buildFilter(fl, literals)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(blobPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", blobPath, err)
	}

	blob, err := fdt.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", blobPath, err)
	}

	flags := buildFlags(fl)

	regions, err := collectRegions(blob, filter, flags)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if fl.outPath != "" {
		f, err := os.Create(fl.outPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", fl.outPath, err)
		}
		defer f.Close()
		out = f
	}

	if fl.listOnly {
		return printRegionList(out, regions)
	}

	return emit(out, blob, regions, fl)
}

func buildFilter(fl flagSet, literals []string) (*region.FilterSet, error) {
	var rules []region.Rule

	add := func(kind region.Kind, include bool, literals []string) {
		for _, lit := range literals {
			rules = append(rules, region.Rule{Kind: kind, Include: include, Literal: lit})
		}
	}

	add(region.KindNode, true, fl.includeNode)
	add(region.KindNode, false, fl.excludeNode)
	add(region.KindProp, true, fl.includeProp)
	add(region.KindProp, false, fl.excludeProp)
	add(region.KindCompat, true, fl.includeCompat)
	add(region.KindCompat, false, fl.excludeCompat)
	add(region.KindAny, true, fl.includeAny)
	add(region.KindAny, false, fl.excludeAny)
	add(region.KindAny, true, literals)

	return region.NewFilterSet(rules, fl.invert)
}

func buildFlags(fl flagSet) region.Flags {
	var flags region.Flags
	if !fl.noSupernodes {
		flags |= region.FlagSupernodes
	}
	if fl.directSubnodes {
		flags |= region.FlagDirectSubnodes
	}
	if fl.allSubnodes {
		flags |= region.FlagAllSubnodes
	}
	if fl.memRsvmap || fl.format == "dtb" {
		flags |= region.FlagAddMemRsvmap
	}
	if fl.stringTab || fl.format == "dtb" {
		flags |= region.FlagAddStringTab
	}
	return flags
}

// collectRegions drains the selection state machine through a fixed-size
// chunk buffer, per spec.md §4.4's driver: calling Next repeatedly and
// appending whatever it wrote is a direct, true-resumption reading of the
// same contract the spec's capacity-doubling restart achieves by other
// means, since the underlying Iterator never discards progress on a
// partial write (region/iterator.go's commit-on-success rule).
func collectRegions(blob fdt.Blob, filter *region.FilterSet, flags region.Flags) ([]region.Region, error) {
	it, err := region.First(blob, filter, flags)
	if err != nil {
		return nil, err
	}

	var all []region.Region
	chunk := make([]region.Region, driverChunk)

	for {
		n, status, err := it.Next(chunk)
		if err != nil {
			return nil, err
		}
		all = append(all, chunk[:n]...)
		if status == region.StatusDone {
			return all, nil
		}
		if n == 0 {
			return nil, fmt.Errorf("fdtgrep: internal error: no progress with chunk size %d", driverChunk)
		}
	}
}

func printRegionList(w io.Writer, regions []region.Region) error {
	for _, r := range regions {
		if _, err := fmt.Fprintf(w, "0x%x 0x%x\n", r.Offset, r.Size); err != nil {
			return err
		}
	}
	return nil
}

func emit(w io.Writer, blob fdt.Blob, regions []region.Region, fl flagSet) error {
	switch fl.format {
	case "dts":
		cfg := dts.Config{
			Address: fl.address || fl.offset,
			Diff:    fl.diff,
		}
		return dts.Render(w, blob, regions, cfg)

	case "bin":
		data := pack.Bin(blob, regions)
		if fl.header {
			data = append(append([]byte(nil), blob.Raw[:fdt.HeaderSize]...), data...)
		}
		_, err := w.Write(data)
		return err

	case "dtb":
		data, err := pack.BuildDTB(blob, regions)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err

	default:
		return fmt.Errorf("fdtgrep: unknown output format %q", fl.format)
	}
}
