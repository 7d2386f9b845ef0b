package common

import "bytes"

// RID is a row identifier: a stable, monotonically-assigned address for a
// tuple inside a table's clustering B+ tree. RIDs are never reused within
// a table's lifetime (spec §3).
type RID uint64

// NullOrder controls where NULL values sort relative to non-null values
// of the same column in a comparator (spec §4.1: "NULL sorts either first
// or last per config").
type NullOrder int

const (
	NullsFirst NullOrder = iota
	NullsLast
)

// Value is a single column value carried inside a Key tuple. Exactly one
// of the typed fields is meaningful, selected by Kind; IsNull marks a SQL
// NULL regardless of Kind.
type ValueKind int

const (
	KindInt ValueKind = iota
	KindString
	KindBool
	KindFloat
)

type Value struct {
	Kind    ValueKind
	IsNull  bool
	Int     int64
	Str     string
	Bool    bool
	Float64 float64
}

func IntValue(v int64) Value    { return Value{Kind: KindInt, Int: v} }
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }
func BoolValue(v bool) Value    { return Value{Kind: KindBool, Bool: v} }
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float64: v} }
func NullValue(kind ValueKind) Value { return Value{Kind: kind, IsNull: true} }

// Key is an ordered tuple of column values — the unit a B+ tree comparator
// orders on. A single-column key has len(Key) == 1; a compound key has
// one Value per indexed column, in declared order (spec §3).
type Key []Value

// Comparator orders two Key tuples. It is fixed at tree creation (spec
// §4.1) and its identity is persisted in the tree file header so a
// reopened tree refuses to be read with a different comparator.
type Comparator interface {
	// Compare returns <0, 0, >0 as a<b, a==b, a>b.
	Compare(a, b Key) int
	// Identity is a short stable string persisted in the tree header
	// (e.g. "int-asc", "composite(int,string)-nulls-last").
	Identity() string
}

// CompositeComparator compares Key tuples column-by-column using the
// per-column NullOrder, stopping at the first unequal column (the
// standard tuple/lexicographic order used for compound indexes, spec §3
// "key tuple (values of one or more columns in declared order)").
type CompositeComparator struct {
	Nulls NullOrder
	name  string
}

func NewCompositeComparator(name string, nulls NullOrder) *CompositeComparator {
	return &CompositeComparator{Nulls: nulls, name: name}
}

func (c *CompositeComparator) Identity() string { return c.name }

func (c *CompositeComparator) Compare(a, b Key) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if cmp := c.compareValue(a[i], b[i]); cmp != 0 {
			return cmp
		}
	}
	return len(a) - len(b)
}

func (c *CompositeComparator) compareValue(a, b Value) int {
	if a.IsNull || b.IsNull {
		if a.IsNull && b.IsNull {
			return 0
		}
		// NullsFirst: null < anything. NullsLast: null > anything.
		if a.IsNull {
			if c.Nulls == NullsFirst {
				return -1
			}
			return 1
		}
		if c.Nulls == NullsFirst {
			return 1
		}
		return -1
	}

	switch a.Kind {
	case KindInt:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		default:
			return 0
		}
	case KindFloat:
		switch {
		case a.Float64 < b.Float64:
			return -1
		case a.Float64 > b.Float64:
			return 1
		default:
			return 0
		}
	case KindBool:
		if a.Bool == b.Bool {
			return 0
		}
		if !a.Bool {
			return -1
		}
		return 1
	default: // KindString
		return bytes.Compare([]byte(a.Str), []byte(b.Str))
	}
}

// DefaultComparator is the comparator used when a tree is created without
// an explicit one: single-column composite comparator, NULLs sort last.
func DefaultComparator() Comparator {
	return NewCompositeComparator("composite-nulls-last", NullsLast)
}
