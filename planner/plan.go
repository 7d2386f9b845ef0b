package planner

import "github.com/relational/dbcore/catalog"

// OpKind tags a PlanNode's operator (spec §4.8's operator list). The
// planner only ever produces these tags plus their parameters; the
// executor is the layer that knows how to actually open/next/close one.
type OpKind int

const (
	OpSeqScan OpKind = iota
	OpIndexScan
	OpIndexOnlyScan
	OpFilter
	OpProject
	OpSort
	OpHashAggregate
	OpSortAggregate
	OpHashJoin
	OpSortMergeJoin
	OpIndexNestedLoopJoin
	OpCrossJoin
	OpUnion
	OpIntersect
	OpExcept
	OpTopN
	OpLimit
	OpDistinct
	OpInsert
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	names := [...]string{
		"SeqScan", "IndexScan", "IndexOnlyScan", "Filter", "Project",
		"Sort", "HashAggregate", "SortAggregate", "HashJoin",
		"SortMergeJoin", "IndexNestedLoopJoin", "CrossJoin", "Union",
		"Intersect", "Except", "TopN", "Limit", "Distinct", "Insert",
		"Update", "Delete",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "?"
}

// PlanNode is one node of the executable plan tree (spec §4.7 "Output.
// An executable plan tree of operators"). Fields not meaningful for a
// given Kind are left zero; the executor only reads the fields its Kind
// defines.
type PlanNode struct {
	Kind     OpKind
	Children []*PlanNode

	// Scan operators.
	Table      string
	Alias      string // FROM-clause alias, defaults to Table when unaliased
	Index      catalog.IndexDef // valid for OpIndexScan/OpIndexOnlyScan
	ScanLow    Expr
	ScanHigh   Expr
	CoveredBy  []string // columns an index-only scan can serve without a heap fetch

	// Filter/Project.
	Predicate Expr
	Exprs     []Expr

	// Sort / TopN / Distinct / Aggregate.
	OrderBy          []OrderTerm
	N                int64 // TopN's heap size, or Limit's count
	GroupBy          []Expr
	Aggregates       []Aggregate
	SpillBudgetBytes int64

	// Joins.
	JoinPredicate Expr
	BuildOnLeft   bool // hash join: which child is the estimated-smaller build side
	Outer         bool // left outer join: preserve every Children[0] row, padding Children[1]'s columns with NULL on no match. Never combined with BuildOnLeft — the preserved side must stay the probe side.

	// Insert/Update/Delete.
	Assignments []Assignment
	Columns     []string
	Values      [][]Expr // OpInsert literal rows; nil when Children holds a source query instead

	// Cost model outputs (spec §4.7 "cost = cpu_cost*tuples + io_cost*pages").
	EstRows int64
	EstCost float64
}

// Plan is one planned statement: its root operator plus the metadata the
// plan cache keys and invalidates on.
type Plan struct {
	Root        *PlanNode
	Fingerprint uint64
	TablesUsed  []string
	Cost        float64
}
