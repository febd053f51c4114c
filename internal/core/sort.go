package core

import (
	"cmp"
	"slices"
	"sort"
	"strings"
)

// SortRecords returns a new slice ordered by keys. The input is not
// modified.
//
// Keys are applied in ascending Priority order, ties between equal
// priorities keeping their given order. Number fields compare numerically
// when both values parse and fall back to string comparison otherwise; all
// other fields compare as case-sensitive strings. Empty values sort first in
// ascending order. The sort is stable: records equal on every key keep their
// input order.
func SortRecords(records []Record, keys []SortKey, fields []Field) []Record {
	out := slices.Clone(records)
	if len(keys) == 0 || len(out) < 2 {
		return out
	}

	ordered := orderedKeys(keys)
	types := IndexFields(fields)
	sort.SliceStable(out, func(i, j int) bool {
		return compareRecords(out[i], out[j], ordered, types) < 0
	})
	return out
}

// orderedKeys returns keys by ascending priority.
func orderedKeys(keys []SortKey) []SortKey {
	ordered := slices.Clone(keys)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	return ordered
}

func compareRecords(a, b Record, keys []SortKey, fields map[string]Field) int {
	for _, k := range keys {
		c := compareValues(a[k.Field], b[k.Field], fields[k.Field].Type)
		if c == 0 {
			continue
		}
		if k.Direction == SortDesc {
			return -c
		}
		return c
	}
	return 0
}

func compareValues(a, b any, t FieldType) int {
	aEmpty, bEmpty := IsEmpty(a), IsEmpty(b)
	switch {
	case aEmpty && bEmpty:
		return 0
	case aEmpty:
		return -1
	case bEmpty:
		return 1
	}

	if t == FieldNumber {
		fa, okA := ToFloat(a)
		fb, okB := ToFloat(b)
		if okA && okB {
			return cmp.Compare(fa, fb)
		}
	}
	return strings.Compare(Stringify(a), Stringify(b))
}
