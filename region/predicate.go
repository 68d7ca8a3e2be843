// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package region

import (
	"fmt"
	"strings"
)

// Kind identifies what a Rule or a classification call is about.
type Kind uint8

const (
	KindNode Kind = iota
	KindProp
	KindCompat
	KindAny
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindProp:
		return "prop"
	case KindCompat:
		return "compat"
	case KindAny:
		return "any"
	default:
		return "unknown"
	}
}

// Result is the outcome of classifying a candidate against a FilterSet.
type Result uint8

const (
	DontKnow Result = iota
	Include
	Exclude
)

// Rule is one (kind, polarity, literal) entry of a FilterSet, built from a
// single -n/-N/-p/-P/-c/-C/-g/-G flag.
type Rule struct {
	Kind    Kind
	Include bool // true: Include polarity, false: Exclude polarity
	Literal string
}

// FilterSet is an immutable, pre-validated sequence of Rules plus a global
// invert flag. It is stateless from the selection state machine's
// perspective: the same FilterSet may be shared across concurrently running
// Iterators over distinct blobs.
type FilterSet struct {
	rules  []Rule
	invert bool
}

// NewFilterSet validates rules and builds a FilterSet. It rejects:
//   - Include and Exclude polarity declared for the same effective kind
//     (a rule with Kind == KindAny is effective for every kind)
//   - invert combined with any Exclude-polarity rule
func NewFilterSet(rules []Rule, invert bool) (*FilterSet, error) {
	if invert {
		for _, r := range rules {
			if !r.Include {
				return nil, fmt.Errorf("region: -v/invert cannot be combined with an exclude rule (kind %s, %q)", r.Kind, r.Literal)
			}
		}
	}

	for _, k := range []Kind{KindNode, KindProp, KindCompat} {
		sawInclude, sawExclude := false, false
		for _, r := range rules {
			if r.Kind != k && r.Kind != KindAny {
				continue
			}
			if r.Include {
				sawInclude = true
			} else {
				sawExclude = true
			}
		}
		if sawInclude && sawExclude {
			return nil, fmt.Errorf("region: conflicting include and exclude rules for kind %s", k)
		}
	}

	return &FilterSet{rules: append([]Rule(nil), rules...), invert: invert}, nil
}

// Classify maps a candidate string for the given kind to Include, Exclude,
// or DontKnow, per spec.md §4.1.
//
// For kind == KindCompat, candidate is the raw "compatible" property value:
// possibly several nul-separated strings. A rule matches if any member of
// that list equals the rule's literal. For every other kind, candidate is
// compared to the rule's literal by plain equality.
func (f *FilterSet) Classify(kind Kind, candidate string) Result {
	applicable := 0
	matchedExclude := false

	for _, r := range f.rules {
		if r.Kind != kind && r.Kind != KindAny {
			continue
		}
		applicable++

		if !matches(kind, candidate, r.Literal) {
			continue
		}

		if r.Include {
			return f.resolve(Include)
		}
		matchedExclude = true
	}

	if applicable == 0 {
		return DontKnow
	}

	hasExcludeRule := false
	for _, r := range f.rules {
		if (r.Kind == kind || r.Kind == KindAny) && !r.Include {
			hasExcludeRule = true
			break
		}
	}

	if hasExcludeRule && !matchedExclude {
		// exclusion means "include everything unmentioned"
		return f.resolve(Include)
	}

	return f.resolve(Exclude)
}

func (f *FilterSet) resolve(r Result) Result {
	if !f.invert {
		return r
	}
	switch r {
	case Include:
		return Exclude
	case Exclude:
		return Include
	default:
		return r
	}
}

func matches(kind Kind, candidate, literal string) bool {
	if kind == KindCompat {
		for _, member := range strings.Split(strings.TrimRight(candidate, "\x00"), "\x00") {
			if member == literal {
				return true
			}
		}
		return false
	}
	return candidate == literal
}
