// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped by the release build; left at "dev" otherwise, as the
// teacher's cmd/main.go leaves demo constants inline rather than routing
// them through a build-info package.
var version = "dev"

type flagSet struct {
	includeNode    []string
	excludeNode    []string
	includeProp    []string
	excludeProp    []string
	includeCompat  []string
	excludeCompat  []string
	includeAny     []string
	excludeAny     []string
	invert         bool
	directSubnodes bool
	allSubnodes    bool
	noSupernodes   bool
	memRsvmap      bool
	stringTab      bool
	header         bool
	format         string
	outPath        string
	address        bool
	offset         bool
	diff           bool
	listOnly       bool
}

func newRootCmd() *cobra.Command {
	var fl flagSet
	var showVersion bool

	cmd := &cobra.Command{
		Use:   "fdtgrep [flags] <blob> [literal...]",
		Short: "extract and reassemble regions of a flattened device tree",
		Long: `fdtgrep selects node, property, and compatible-string fragments out of a
Flattened Device Tree blob and re-emits them as device-tree source text or
as a binary assembly, optionally reconstructed into a standalone FDT.

Examples:
	# print every property "reg", with its ancestor nodes kept
	fdtgrep -p reg input.dtb

	# select nodes by compatible string, together with their whole subtree
	fdtgrep -c vendor,soc -s input.dtb

	# reconstruct a standalone dtb containing only the chosen nodes
	fdtgrep -g / -m -t -H -O dtb -o out.dtb input.dtb
`,
		Args: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				return nil
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), version)
				return nil
			}
			return run(cmd, fl, args)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&fl.includeNode, "include-node", "n", nil, "include nodes matching path")
	f.StringArrayVarP(&fl.excludeNode, "exclude-node", "N", nil, "exclude nodes matching path")
	f.StringArrayVarP(&fl.includeProp, "include-prop", "p", nil, "include properties matching name")
	f.StringArrayVarP(&fl.excludeProp, "exclude-prop", "P", nil, "exclude properties matching name")
	f.StringArrayVarP(&fl.includeCompat, "include-compatible", "c", nil, "include nodes whose compatible string matches")
	f.StringArrayVarP(&fl.excludeCompat, "exclude-compatible", "C", nil, "exclude nodes whose compatible string matches")
	f.StringArrayVarP(&fl.includeAny, "include-any", "g", nil, "include nodes, props, or compatible strings matching")
	f.StringArrayVarP(&fl.excludeAny, "exclude-any", "G", nil, "exclude nodes, props, or compatible strings matching")
	f.BoolVarP(&fl.invert, "invert", "v", false, "invert the match result")
	f.BoolVarP(&fl.directSubnodes, "direct-subnodes", "e", false, "include immediate children of a matched node")
	f.BoolVarP(&fl.allSubnodes, "all-subnodes", "s", false, "include the entire subtree of a matched node")
	f.BoolVarP(&fl.noSupernodes, "no-supernodes", "S", false, "do not pull in ancestor nodes (default: pulled in)")
	f.BoolVarP(&fl.memRsvmap, "mem-rsvmap", "m", false, "include the memory reserve map as a leading region")
	f.BoolVarP(&fl.stringTab, "string-table", "t", false, "include the string table as a trailing region")
	f.BoolVarP(&fl.header, "header", "H", false, "include the blob header in bin output (dtb output always carries a rebuilt header)")
	f.StringVarP(&fl.format, "output-format", "O", "dts", "output format: dts, dtb, or bin")
	f.StringVarP(&fl.outPath, "output", "o", "", "output file (default stdout)")
	f.BoolVarP(&fl.address, "address", "a", false, "prefix each dts line with its blob offset")
	f.BoolVarP(&fl.offset, "offset", "f", false, "alias of --address")
	f.BoolVarP(&fl.diff, "diff", "d", false, "prefix each dts line with a +/- selection marker")
	f.BoolVarP(&fl.listOnly, "list", "l", false, "print the selected region list instead of content")
	f.BoolVarP(&showVersion, "version", "V", false, "print the version and exit")

	return cmd
}
