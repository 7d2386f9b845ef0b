package planner

import (
	"github.com/relational/dbcore/catalog"
)

// Default selectivity fallbacks when a column has no recorded statistics
// (spec §4.7: "missing stats fall back to fixed defaults").
const (
	defaultEqualitySelectivity = 0.1
	defaultRangeSelectivity    = 0.3
	defaultUnknownSelectivity  = 0.5
)

// CostModel is the planner's per-operator cost function (spec §4.7:
// "cost = cpu_cost * tuples + io_cost * pages").
type CostModel struct {
	CPUCostPerTuple float64
	IOCostPerPage   float64
	RowsPerPage     int64 // used to convert an estimated row count into a page count
}

// DefaultCostModel mirrors common textbook constants: CPU-bound work is
// cheap relative to a page fetch.
func DefaultCostModel() CostModel {
	return CostModel{CPUCostPerTuple: 0.01, IOCostPerPage: 1.0, RowsPerPage: 100}
}

// Cost applies the cost formula to an estimated row/page count.
func (m CostModel) Cost(tuples int64) float64 {
	pages := tuples / m.RowsPerPage
	if tuples%m.RowsPerPage != 0 {
		pages++
	}
	return m.CPUCostPerTuple*float64(tuples) + m.IOCostPerPage*float64(pages)
}

// Selectivity estimates the fraction of rows a single-table predicate
// keeps, using column statistics when available and spec §4.7's fixed
// defaults otherwise.
//
// Scope note: range predicates over a histogrammed column fall back to
// the fixed default (0.3) rather than locating the literal within the
// histogram's buckets — Histogram.Bounds are stored as opaque strings
// (see catalog.Histogram) for TOML round-tripping, and comparing an
// arbitrary literal against them would require re-deriving the column's
// declared comparator here. Equality gets the precise 1/NDV estimate
// since that only needs the distinct-value count, not the bucket
// boundaries themselves.
func Selectivity(pred Expr, stats map[string]catalog.ColumnStats) float64 {
	switch x := pred.(type) {
	case *BinaryOp:
		col, _, ok := columnAndLiteral(x)
		if !ok {
			return defaultUnknownSelectivity
		}
		cs, known := stats[col]
		switch x.Kind {
		case OpEq:
			if known && cs.DistinctValues > 0 {
				return 1.0 / float64(cs.DistinctValues)
			}
			return defaultEqualitySelectivity
		case OpNeq:
			if known && cs.DistinctValues > 0 {
				return 1.0 - 1.0/float64(cs.DistinctValues)
			}
			return 1.0 - defaultEqualitySelectivity
		case OpLt, OpLte, OpGt, OpGte:
			return defaultRangeSelectivity
		default:
			return defaultUnknownSelectivity
		}
	case *Between:
		return defaultRangeSelectivity
	case *IsNull:
		// NullFraction needs the table's row count, which this
		// function doesn't have; callers with a row count on hand
		// should call NullFraction directly instead.
		return defaultUnknownSelectivity
	default:
		return defaultUnknownSelectivity
	}
}

// NullFraction returns the fraction of rows known to be NULL in col, or
// the unknown default if no statistics are recorded.
func NullFraction(col string, rowCount int64, stats map[string]catalog.ColumnStats) float64 {
	cs, ok := stats[col]
	if !ok || rowCount == 0 {
		return defaultUnknownSelectivity
	}
	return float64(cs.NullCount) / float64(rowCount)
}

func columnAndLiteral(b *BinaryOp) (col string, lit *Literal, ok bool) {
	if c, isCol := b.Left.(*ColumnRef); isCol {
		if l, isLit := b.Right.(*Literal); isLit {
			return c.Column, l, true
		}
	}
	if c, isCol := b.Right.(*ColumnRef); isCol {
		if l, isLit := b.Left.(*Literal); isLit {
			return c.Column, l, true
		}
	}
	return "", nil, false
}

// EstimateScanRows applies every per-table predicate's selectivity
// (assuming independence) to a table's recorded row count.
func EstimateScanRows(tbl *catalog.TableDef, predicates []Expr) int64 {
	rows := tbl.Stats.RowCount
	if rows == 0 {
		rows = 1000 // spec gives no default cardinality for an unanalyzed table; avoid a zero-row plan dominating every comparison
	}
	sel := 1.0
	for _, p := range predicates {
		sel *= Selectivity(p, tbl.Stats.ColumnStats)
	}
	est := float64(rows) * sel
	if est < 1 {
		est = 1
	}
	return int64(est)
}

// JoinCardinality estimates |R join S| under the containment assumption
// (spec §4.7: "Join cardinality uses the containment assumption"): the
// smaller side's distinct join-key values are assumed to be a subset of
// the larger side's, so selectivity is 1/max(NDV_R, NDV_S).
func JoinCardinality(leftRows, rightRows int64, leftNDV, rightNDV int64) int64 {
	ndv := leftNDV
	if rightNDV > ndv {
		ndv = rightNDV
	}
	if ndv <= 0 {
		ndv = 1
	}
	est := float64(leftRows) * float64(rightRows) / float64(ndv)
	if est < 1 {
		est = 1
	}
	return int64(est)
}
