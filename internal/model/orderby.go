package model

import (
	"cmp"
	"slices"
	"strings"
)

// SortKey selects the presentation order of search results.
type SortKey string

const (
	MostRecent    SortKey = "MOST_RECENT"
	LongestFirst  SortKey = "LONGEST_FIRST"
	ShortestFirst SortKey = "SHORTEST_FIRST"
	MostSpans     SortKey = "MOST_SPANS"
	LeastSpans    SortKey = "LEAST_SPANS"
)

// DefaultSortKey is used for empty and unrecognized keys.
const DefaultSortKey = MostRecent

// SortKeys lists the recognized keys in menu order.
var SortKeys = []SortKey{MostRecent, LongestFirst, ShortestFirst, MostSpans, LeastSpans}

var comparators = map[SortKey]func(a, b *TraceData) int{
	MostRecent: func(a, b *TraceData) int {
		return b.StartTime.Compare(a.StartTime)
	},
	LongestFirst: func(a, b *TraceData) int {
		return cmp.Compare(b.Duration, a.Duration)
	},
	ShortestFirst: func(a, b *TraceData) int {
		return cmp.Compare(a.Duration, b.Duration)
	},
	MostSpans: func(a, b *TraceData) int {
		return cmp.Compare(len(b.Spans), len(a.Spans))
	},
	LeastSpans: func(a, b *TraceData) int {
		return cmp.Compare(len(a.Spans), len(b.Spans))
	},
}

// ParseSortKey maps user input to a recognized key, falling back to
// DefaultSortKey. Matching is case-insensitive.
func ParseSortKey(s string) SortKey {
	key := SortKey(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := comparators[key]; ok {
		return key
	}
	return DefaultSortKey
}

// Valid reports whether k is one of SortKeys.
func (k SortKey) Valid() bool {
	_, ok := comparators[k]
	return ok
}

// SortTraces orders traces in place by key. Ties are broken by trace id so
// the result does not depend on input order.
func SortTraces(traces []*TraceData, key SortKey) {
	compare, ok := comparators[key]
	if !ok {
		compare = comparators[DefaultSortKey]
	}
	slices.SortStableFunc(traces, func(a, b *TraceData) int {
		if c := compare(a, b); c != 0 {
			return c
		}
		return strings.Compare(a.TraceID, b.TraceID)
	})
}
