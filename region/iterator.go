// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package region implements the resumable, bounded-memory selection state
// machine described in spec.md §4.2: it walks an FDT's structure block tag
// by tag, consults a Predicate built from a FilterSet at each node, property,
// and compatible-string decision point, and produces a merged, ascending,
// disjoint list of byte Regions a caller can hand to the dts or pack
// packages.
//
// The walk never blocks: Iterator.Next writes as many Regions as fit in the
// caller-owned out slice and returns; the caller drains and calls again. The
// walk is not allocation-free: each BeginNode builds its candidate path in a
// new slice, and each tag returns its finished Regions in a new slice. This
// mirrors the teacher's
// (gaissmai/bart) Table.Lookup, which walks a bounded-depth trie with a
// fixed-size stack array and an explicit depth variable that survives the
// loop, committing nothing until a step fully succeeds.
package region

import (
	"errors"
	"fmt"

	"github.com/dtregion/fdtgrep/fdt"
)

// Want is the inheritance scalar controlling whether tags are included
// absent an explicit predicate decision. The ordering is load-bearing: the
// core algorithm compares with >=.
type Want uint8

const (
	WantNothing Want = iota
	WantNodesOnly
	WantNodesAndProps
	WantAllNodesAndProps
)

// Flags enumerates the selection knobs of spec.md §4.2.
type Flags uint8

const (
	FlagSupernodes Flags = 1 << iota
	FlagDirectSubnodes
	FlagAllSubnodes
	FlagAddStringTab
	FlagAddMemRsvmap
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// maxDepth bounds the ancestor stack, per spec.md §3.
const maxDepth = 64

// maxPathLen bounds the path buffer, per spec.md §3/§8.
const maxPathLen = 4096

// Region is a contiguous, absolute byte range of the blob selected for
// output. Regions a caller receives across a full walk are in strictly
// ascending, pairwise-disjoint order.
type Region struct {
	Offset uint32
	Size   uint32
}

func (r Region) end() uint32 { return r.Offset + r.Size }

// Status is returned by Iterator.Next alongside the regions written this
// call.
type Status int

const (
	// StatusMore indicates the caller's out slice filled up before the walk
	// reached its terminal state; call Next again to resume.
	StatusMore Status = iota
	// StatusDone indicates the walk has reached its terminal state (the
	// spec's NotFound sentinel): no further regions remain.
	StatusDone
)

// ErrorKind classifies a RegionError, per spec.md §7.
type ErrorKind int

const (
	ErrBadBlob ErrorKind = iota
	ErrBadStructureKind
	ErrNoSpace
	ErrTooDeep
	ErrBadLayout
)

func (k ErrorKind) String() string {
	switch k {
	case ErrBadBlob:
		return "BadBlob"
	case ErrBadStructureKind:
		return "BadStructure"
	case ErrNoSpace:
		return "NoSpace"
	case ErrTooDeep:
		return "TooDeep"
	case ErrBadLayout:
		return "BadLayout"
	default:
		return "Unknown"
	}
}

// RegionError is the error type returned by the selection state machine.
// All RegionErrors are immediate and fatal: the machine makes no attempt to
// recover and skip malformed tags.
type RegionError struct {
	Kind ErrorKind
	Msg  string
}

func (e *RegionError) Error() string { return fmt.Sprintf("region: %s: %s", e.Kind, e.Msg) }

func regionErr(kind ErrorKind, format string, args ...any) error {
	return &RegionError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Frame is one entry of the ancestor stack, pushed on BeginNode and popped
// on EndNode.
type Frame struct {
	TagOffset     uint32 // offset of this node's BeginNode tag
	WantAtEntry   Want   // the parent's want, restored on EndNode
	Included      bool   // a region has already been opened to cover this node's BeginNode
	pathLenBefore int    // path buffer length before this node's name was appended
}

// phase is the done-phase marker of spec.md §4.2.
type phase int

const (
	phaseMemRsvmap phase = iota
	phaseStruct
	phaseStructFlush
	phaseStrings
	phaseDone
)

// Iterator is the resumable state block of spec.md §3: the path buffer, the
// ancestor stack, the iterator pointers (next offset, depth, want), and the
// current open-region start all live here and are copied at the start of
// each tag, written back only if that tag's processing succeeds in full
// (spec.md §4.2, "Pause/resume"). A naive implementation that mutated live
// state and then failed mid-tag would duplicate or skip tags on
// resumption — the one pattern this package exists to get right.
type Iterator struct {
	blob   fdt.Blob
	filter *FilterSet
	flags  Flags

	path []byte

	stack [maxDepth]Frame
	depth int // number of active frames; 0 before the root BeginNode

	next  uint32 // next tag offset, absolute in the blob
	want  Want
	phase phase

	openStart int64 // -1 if no region is currently open in the tag walk

	// held is the most recently closed-but-not-yet-emitted region: it may
	// still grow by merging with the next region the walk produces. It is
	// only handed to the caller once something non-adjacent arrives or a
	// phase boundary forces a flush (spec.md §4.2, "Region merging").
	held    Region
	haveHeld bool

	structEnd uint32
}

// First builds a fresh Iterator over blob using filter and flags. It
// performs no I/O and no allocation beyond the Iterator itself and its
// path buffer; the first call to Next begins the walk.
func First(blob fdt.Blob, filter *FilterSet, flags Flags) (*Iterator, error) {
	if filter == nil {
		return nil, errors.New("region: filter must not be nil")
	}

	structOff, structSize := blob.StructBlock()
	if uint64(structOff)+uint64(structSize) > uint64(len(blob.Raw)) {
		return nil, regionErr(ErrBadBlob, "declared struct block [%d, %d) runs past blob length %d", structOff, structOff+structSize, len(blob.Raw))
	}

	it := &Iterator{
		blob:      blob,
		filter:    filter,
		flags:     flags,
		path:      make([]byte, 0, 256),
		next:      structOff,
		want:      WantNothing,
		phase:     phaseMemRsvmap,
		openStart: -1,
		structEnd: structOff + structSize,
	}
	return it, nil
}

// snapshot captures every field step() may mutate, so a tag whose regions
// do not fit the caller's budget can be undone in full and retried later.
type snapshot struct {
	stack     [maxDepth]Frame
	depth     int
	next      uint32
	want      Want
	pathLen   int
	openStart int64
	held      Region
	haveHeld  bool
}

func (it *Iterator) snapshot() snapshot {
	return snapshot{
		stack:     it.stack,
		depth:     it.depth,
		next:      it.next,
		want:      it.want,
		pathLen:   len(it.path),
		openStart: it.openStart,
		held:      it.held,
		haveHeld:  it.haveHeld,
	}
}

func (it *Iterator) restore(s snapshot) {
	it.stack = s.stack
	it.depth = s.depth
	it.next = s.next
	it.want = s.want
	it.path = it.path[:s.pathLen]
	it.openStart = s.openStart
	it.held = s.held
	it.haveHeld = s.haveHeld
}

// Next writes as many Regions as fit into out and reports whether the walk
// is done or more remain. On StatusMore, the caller should drain out and
// call Next again; the Iterator resumes at the exact tag that would not
// fit, re-deriving it rather than replaying a partial write.
func (it *Iterator) Next(out []Region) (n int, status Status, err error) {
	for {
		switch it.phase {
		case phaseMemRsvmap:
			if !it.flags.has(FlagAddMemRsvmap) {
				it.phase = phaseStruct
				continue
			}
			_, byteLen, err := fdt.ReserveMap(it.blob.Raw, it.blob.Header)
			if err != nil {
				return n, StatusMore, err
			}
			if n >= len(out) {
				return n, StatusMore, nil
			}
			out[n] = Region{Offset: it.blob.Header.OffMemRsvmap, Size: byteLen}
			n++
			it.phase = phaseStruct
			continue

		case phaseStruct:
			if it.next >= it.structEnd {
				// an End tag moves straight to phaseStructFlush, so
				// reaching the struct end here means there was none.
				return n, StatusMore, regionErr(ErrBadStructureKind, "struct block ended at %d without an End tag", it.next)
			}

			snap := it.snapshot()
			ready, terminal, stepErr := it.step()
			if stepErr != nil {
				return n, StatusMore, stepErr
			}
			if n+len(ready) > len(out) {
				it.restore(snap)
				return n, StatusMore, nil
			}
			n += copy(out[n:], ready)
			if terminal {
				it.phase = phaseStructFlush
			}
			continue

		case phaseStructFlush:
			if it.haveHeld {
				if n >= len(out) {
					return n, StatusMore, nil
				}
				out[n] = it.held
				n++
				it.haveHeld = false
			}
			it.phase = phaseStrings
			continue

		case phaseStrings:
			if !it.flags.has(FlagAddStringTab) {
				it.phase = phaseDone
				continue
			}
			off, size := it.blob.StringBlock()
			if off < it.blob.Header.OffDtStruct+it.blob.Header.StructSize() {
				return n, StatusMore, regionErr(ErrBadLayout, "string table at %d precedes struct end", off)
			}
			if n >= len(out) {
				return n, StatusMore, nil
			}
			out[n] = Region{Offset: off, Size: size}
			n++
			it.phase = phaseDone
			continue

		case phaseDone:
			return n, StatusDone, nil
		}
	}
}

// offer merges r into the held region if adjacent, otherwise flushes the
// previously held region (if any) into ready and holds r instead.
func (it *Iterator) offer(ready []Region, r Region) []Region {
	if it.haveHeld && r.Offset <= it.held.end() {
		if r.end() > it.held.end() {
			it.held.Size = r.end() - it.held.Offset
		}
		return ready
	}
	if it.haveHeld {
		ready = append(ready, it.held)
	}
	it.held = r
	it.haveHeld = true
	return ready
}

// step processes exactly one tag at it.next. It returns the Regions that
// are now final (flushed out of the held/merge buffer), whether the struct
// phase is now terminal (an End tag was processed), and any fatal error.
// On success it fully commits (advances it.next/it.depth/it.want/it.path);
// on a fatal error the Iterator is left exactly as it was, since no write
// actually occurred before the error was detected.
func (it *Iterator) step() (ready []Region, terminal bool, err error) {
	tok, err := fdt.NextTag(it.blob.Raw, it.blob.Header, it.next)
	if err != nil {
		return nil, false, regionErr(ErrBadStructureKind, "%v", err)
	}

	switch tok.Tag {
	case fdt.BeginNode:
		return it.stepBeginNode(tok)
	case fdt.EndNode:
		return it.stepEndNode(tok)
	case fdt.Prop:
		return it.stepProp(tok)
	case fdt.Nop:
		return it.stepNop(tok)
	case fdt.End:
		return it.stepEnd(tok)
	default:
		return nil, false, regionErr(ErrBadStructureKind, "unexpected tag %v at offset %d", tok.Tag, tok.Offset)
	}
}

func (it *Iterator) stepBeginNode(tok fdt.Token) ([]Region, bool, error) {
	if it.depth >= maxDepth-1 {
		return nil, false, regionErr(ErrTooDeep, "ancestor stack depth would reach %d", maxDepth)
	}

	pathLenBefore := len(it.path)
	newLen := pathLenBefore + 1 + len(tok.Name)
	if newLen >= maxPathLen {
		// spec.md §8: a path whose full string *equals* the buffer's capacity
		// is already a NoSpace condition, not a one-byte-short success, since
		// nothing would be left to append a further "/" at the next depth.
		return nil, false, regionErr(ErrNoSpace, "path buffer would reach or exceed %d bytes", maxPathLen)
	}

	candidatePath := make([]byte, 0, newLen)
	candidatePath = append(candidatePath, it.path...)
	candidatePath = append(candidatePath, '/')
	candidatePath = append(candidatePath, tok.Name...)

	parentWant := it.want

	nodeResult := it.filter.Classify(KindNode, string(candidatePath))
	if nodeResult == DontKnow {
		if compat, ok := it.lookaheadCompatible(tok.NextOffset); ok {
			nodeResult = it.filter.Classify(KindCompat, compat)
		}
	}

	included := nodeResult == Include

	var newWant Want
	switch {
	case included:
		if it.flags.has(FlagAllSubnodes) {
			newWant = WantAllNodesAndProps
		} else {
			newWant = WantNodesAndProps
		}
	case parentWant == WantAllNodesAndProps:
		newWant = WantAllNodesAndProps
	case parentWant == WantNodesAndProps && it.flags.has(FlagDirectSubnodes):
		newWant = WantNodesOnly
	default:
		newWant = WantNothing
	}

	frame := Frame{TagOffset: tok.Offset, WantAtEntry: parentWant, pathLenBefore: pathLenBefore}

	var ready []Region

	if newWant != WantNothing {
		if it.openStart == -1 && it.flags.has(FlagSupernodes) {
			ready = it.emitBackfill(ready)
			// emitBackfill may have raised the parent's live want; this
			// frame is what restores it at our EndNode.
			frame.WantAtEntry = it.want
		}
		if it.openStart == -1 {
			it.openStart = int64(tok.Offset)
		}
		frame.Included = true
	} else {
		ready = it.closeOpenRegion(tok.Offset, ready)
	}

	// commit. The root node's own candidate path is "/" (used above to
	// classify it), but the committed path buffer stays empty for it, so
	// that the next level down appends "/name" without doubling the slash.
	if pathLenBefore == 0 && tok.Name == "" {
		it.path = it.path[:0]
	} else {
		it.path = append(it.path[:pathLenBefore], candidatePath[pathLenBefore:]...)
	}
	it.stack[it.depth] = frame
	it.depth++
	it.want = newWant
	it.next = tok.NextOffset

	return ready, false, nil
}

func (it *Iterator) stepEndNode(tok fdt.Token) ([]Region, bool, error) {
	if it.depth == 0 {
		return nil, false, regionErr(ErrBadStructureKind, "EndNode at negative depth, offset %d", tok.Offset)
	}

	var ready []Region

	if it.want != WantNothing {
		if it.openStart == -1 {
			it.openStart = int64(tok.Offset)
		}
	} else {
		ready = it.closeOpenRegion(tok.Offset, ready)
	}

	frame := it.stack[it.depth-1]

	// commit
	it.depth--
	it.want = frame.WantAtEntry
	it.path = it.path[:frame.pathLenBefore]
	it.next = tok.NextOffset

	return ready, false, nil
}

func (it *Iterator) stepProp(tok fdt.Token) ([]Region, bool, error) {
	result := it.filter.Classify(KindProp, tok.PropName)
	included := result == Include || (result == DontKnow && it.want >= WantNodesAndProps)

	var ready []Region

	if included {
		if it.openStart == -1 {
			// emitBackfill raises the innermost frame's want to at least
			// NodesOnly as part of covering its BeginNode, which is exactly
			// the "opportunistically raise want so the EndNode is emitted"
			// rule for a bare included prop with no want active yet; it is
			// a no-op when want is already adequate.
			if it.flags.has(FlagSupernodes) {
				ready = it.emitBackfill(ready)
			}
			it.openStart = int64(tok.Offset)
		}
	} else {
		ready = it.closeOpenRegion(tok.Offset, ready)
	}

	it.next = tok.NextOffset
	return ready, false, nil
}

func (it *Iterator) stepNop(tok fdt.Token) ([]Region, bool, error) {
	included := it.want >= WantNodesAndProps

	var ready []Region
	if included {
		if it.openStart == -1 {
			if it.flags.has(FlagSupernodes) {
				ready = it.emitBackfill(ready)
			}
			it.openStart = int64(tok.Offset)
		}
	} else {
		ready = it.closeOpenRegion(tok.Offset, ready)
	}

	it.next = tok.NextOffset
	return ready, false, nil
}

func (it *Iterator) stepEnd(tok fdt.Token) ([]Region, bool, error) {
	if tok.NextOffset != it.structEnd {
		return nil, false, regionErr(ErrBadStructureKind, "End tag at %d ends at %d, declared struct end is %d", tok.Offset, tok.NextOffset, it.structEnd)
	}

	var ready []Region
	if it.openStart == -1 {
		it.openStart = int64(tok.Offset)
	}
	ready = it.closeOpenRegion(tok.NextOffset, ready)
	it.next = tok.NextOffset
	return ready, true, nil
}

// closeOpenRegion closes the currently open tag-run (if any) at stopAt and
// offers it to the merge buffer, appending anything that was flushed as a
// result to ready.
func (it *Iterator) closeOpenRegion(stopAt uint32, ready []Region) []Region {
	if it.openStart == -1 {
		return ready
	}
	size := stopAt - uint32(it.openStart)
	start := uint32(it.openStart)
	it.openStart = -1
	if size == 0 {
		return ready
	}
	return it.offer(ready, Region{Offset: start, Size: size})
}

// emitBackfill synthesizes a one-tag region for every ancestor frame not
// yet marked Included, from the root downward, offering each to the merge
// buffer, and forces that frame's effective want up to at least
// WantNodesOnly so its EndNode is emitted later.
//
// A frame's own "live" want is it.want while it is the innermost active
// frame, and becomes the WantAtEntry recorded on its immediate child once a
// child is pushed (that child's EndNode restores it.want from exactly that
// field). Raising an outer ancestor's want therefore means raising it.want
// directly for the innermost frame, or patching the next-deeper frame's
// WantAtEntry for anything further up the stack.
func (it *Iterator) emitBackfill(ready []Region) []Region {
	for d := 0; d < it.depth; d++ {
		f := &it.stack[d]
		if f.Included {
			continue
		}
		tok, err := fdt.NextTag(it.blob.Raw, it.blob.Header, f.TagOffset)
		if err != nil {
			continue // unreachable in a well-formed blob; skip defensively
		}
		ready = it.offer(ready, Region{Offset: f.TagOffset, Size: tok.NextOffset - f.TagOffset})
		f.Included = true

		if d == it.depth-1 {
			if it.want < WantNodesOnly {
				it.want = WantNodesOnly
			}
		} else if it.stack[d+1].WantAtEntry < WantNodesOnly {
			it.stack[d+1].WantAtEntry = WantNodesOnly
		}
	}
	return ready
}

// lookaheadCompatible scans forward from a node's first child tag for an
// immediate "compatible" property, without mutating Iterator state. It
// returns the raw nul-separated value string and true if found; it stops at
// the first tag that is not itself a Prop or Nop (i.e. the first nested
// BeginNode, EndNode, or the property it was looking for).
func (it *Iterator) lookaheadCompatible(off uint32) (string, bool) {
	for off < it.structEnd {
		tok, err := fdt.NextTag(it.blob.Raw, it.blob.Header, off)
		if err != nil {
			return "", false
		}
		switch tok.Tag {
		case fdt.Prop:
			if tok.PropName == "compatible" {
				return string(fdt.PropertyValue(it.blob.Raw, tok)), true
			}
			off = tok.NextOffset
		case fdt.Nop:
			off = tok.NextOffset
		default:
			return "", false
		}
	}
	return "", false
}
