package executor

import (
	"context"
	"io"

	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/planner"
)

// equiJoinCols reports whether pred is a simple equi-join condition
// between one column of left's schema and one column of right's
// (`l.a = r.b`, in either operand order) — the shape HashJoin/
// SortMergeJoin can execute without falling back to a row-by-row
// predicate scan.
func equiJoinCols(pred planner.Expr, left, right Schema) (leftIdx, rightIdx int, ok bool) {
	b, isBin := pred.(*planner.BinaryOp)
	if !isBin || b.Kind != planner.OpEq {
		return 0, 0, false
	}
	lc, lok := b.Left.(*planner.ColumnRef)
	rc, rok := b.Right.(*planner.ColumnRef)
	if !lok || !rok {
		return 0, 0, false
	}
	if li, ok := left.Resolve(lc.Table, lc.Column); ok {
		if ri, ok := right.Resolve(rc.Table, rc.Column); ok {
			return li, ri, true
		}
	}
	// Try the operands the other way around (r.b = l.a).
	if li, ok := left.Resolve(rc.Table, rc.Column); ok {
		if ri, ok := right.Resolve(lc.Table, lc.Column); ok {
			return li, ri, true
		}
	}
	return 0, 0, false
}

func concatRow(left, right Row) Row {
	values := make([]common.Value, 0, len(left.Values)+len(right.Values))
	values = append(values, left.Values...)
	values = append(values, right.Values...)
	return Row{Values: values}
}

// hashJoin implements an equi-join by materializing the build side (the
// right child, estimated smaller at plan time unless BuildOnLeft flips
// it) into a hash table keyed on the join column, then streaming the
// probe side (spec §4.8 "HashJoin"). When the predicate isn't a simple
// equi-join — including the common case where buildJoinTree attaches no
// predicate at all and leaves filtering to a Filter node above — it
// degenerates to a full cross product so join semantics stay correct.
//
// When node.Outer is set (a LEFT JOIN), the left child is always the
// probe/preserved side — BuildOnLeft is ignored — and a probe row with
// no build-side match still emits once, its right-hand columns filled
// with NULL, instead of being dropped.
type hashJoin struct {
	left, right Iterator
	pred        planner.Expr
	outer       bool // left outer join: probeIter (always left when outer) is the preserved side

	schema      Schema
	buildSchema Schema
	probeIter   Iterator
	buildSide   Iterator
	buildTable  map[string][]Row
	buildKeyIdx int
	probeCol    int

	probeRow Row
	matches  []Row
	matchPos int
}

func newHashJoin(node *planner.PlanNode, left, right Iterator) (Iterator, error) {
	if node.BuildOnLeft && !node.Outer {
		left, right = right, left
	}
	leftSchema, rightSchema := left.Schema(), right.Schema()
	if li, ri, ok := equiJoinCols(node.JoinPredicate, leftSchema, rightSchema); ok {
		return &hashJoin{
			left: left, right: right, pred: node.JoinPredicate, outer: node.Outer,
			probeCol: li, buildSide: right, probeIter: left, buildKeyIdx: ri,
		}, nil
	}
	if node.Outer {
		// No usable equi-join column: a LEFT JOIN still needs its
		// unmatched rows padded, which an external Filter node can't do
		// (it would drop them instead), so it cannot fall back to
		// crossJoin the way an inner join does.
		return newNestedLoopOuterJoin(node, left, right)
	}
	// No usable equi-join column: behave as a cross join (any remaining
	// condition is applied by the Filter node the planner places above).
	return newCrossJoin(node, left, right)
}

func (h *hashJoin) Open(ctx context.Context) error {
	if err := h.left.Open(ctx); err != nil {
		return err
	}
	if err := h.right.Open(ctx); err != nil {
		return err
	}
	h.schema = Concat(h.left.Schema(), h.right.Schema())
	h.buildSchema = h.buildSide.Schema()

	h.buildTable = make(map[string][]Row)
	buildSchema := h.buildSide.Schema()
	for {
		row, err := h.buildSide.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		v, err := Eval(keyExprFor(buildSchema, h.buildKeyIdx), row, buildSchema)
		if err != nil {
			return err
		}
		k := groupKey([]common.Value{v})
		h.buildTable[k] = append(h.buildTable[k], row.Clone())
	}
	return nil
}

func (h *hashJoin) Close() error {
	var first error
	if err := h.left.Close(); err != nil {
		first = err
	}
	if err := h.right.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

func (h *hashJoin) Schema() Schema { return h.schema }

func (h *hashJoin) Next(ctx context.Context) (Row, error) {
	probeSchema := h.probeIter.Schema()
	for {
		if err := checkCancelled(ctx); err != nil {
			return Row{}, err
		}
		if h.matchPos < len(h.matches) {
			m := h.matches[h.matchPos]
			h.matchPos++
			if h.buildSide == h.right {
				return concatRow(h.probeRow, m), nil
			}
			return concatRow(m, h.probeRow), nil
		}
		row, err := h.probeIter.Next(ctx)
		if err != nil {
			return Row{}, err
		}
		h.probeRow = row
		v, err := Eval(keyExprFor(probeSchema, h.probeCol), row, probeSchema)
		if err != nil {
			return Row{}, err
		}
		h.matches = h.buildTable[groupKey([]common.Value{v})]
		h.matchPos = 0
		if h.outer && len(h.matches) == 0 {
			return concatRow(h.probeRow, nullRow(h.buildSchema)), nil
		}
	}
}

// nullRow builds a row of schema's width whose every value is a typed
// SQL NULL, for padding an outer join's unmatched side.
func nullRow(schema Schema) Row {
	values := make([]common.Value, len(schema))
	for i, c := range schema {
		values[i] = common.NullValue(c.Kind)
	}
	return Row{Values: values}
}

// keyExprFor builds a ColumnRef expression pointing at schema offset i,
// reusing Eval's existing column-resolution path instead of indexing
// row.Values directly, so NULL handling stays centralized.
func keyExprFor(schema Schema, i int) planner.Expr {
	c := schema[i]
	return &planner.ColumnRef{Table: c.Alias, Column: c.Name}
}

// crossJoin enumerates every (left, right) row pair — the degenerate
// join every other algorithm here falls back to when no usable
// condition is available at build time (spec §4.8 "CrossJoin").
type crossJoin struct {
	left, right Iterator
	schema      Schema
	leftRow     Row
	haveLeft    bool
	rightDone   bool
}

func newCrossJoin(node *planner.PlanNode, left, right Iterator) (*crossJoin, error) {
	return &crossJoin{left: left, right: right}, nil
}

func (c *crossJoin) Open(ctx context.Context) error {
	if err := c.left.Open(ctx); err != nil {
		return err
	}
	if err := c.right.Open(ctx); err != nil {
		return err
	}
	c.schema = Concat(c.left.Schema(), c.right.Schema())
	return nil
}

func (c *crossJoin) Close() error {
	var first error
	if err := c.left.Close(); err != nil {
		first = err
	}
	if err := c.right.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

func (c *crossJoin) Schema() Schema { return c.schema }

func (c *crossJoin) Next(ctx context.Context) (Row, error) {
	for {
		if err := checkCancelled(ctx); err != nil {
			return Row{}, err
		}
		if !c.haveLeft {
			row, err := c.left.Next(ctx)
			if err != nil {
				return Row{}, err
			}
			c.leftRow = row
			c.haveLeft = true
			// crossJoin re-opens the right child for every left row via a
			// fresh scan; operators that hold per-row state (Sort, hash
			// build sides) are not valid right children of a CrossJoin for
			// this reason, matching the standard nested-loop restriction.
			if err := c.right.Close(); err != nil {
				return Row{}, err
			}
			if err := c.right.Open(ctx); err != nil {
				return Row{}, err
			}
		}
		rightRow, err := c.right.Next(ctx)
		if err != nil {
			if err == io.EOF {
				c.haveLeft = false
				continue
			}
			return Row{}, err
		}
		return concatRow(c.leftRow, rightRow), nil
	}
}

// nestedLoopOuterJoin implements a LEFT JOIN whose ON-predicate isn't a
// simple equi-join (so hashJoin can't build a hash table on it): it
// evaluates the predicate row by row like a classic nested-loop join,
// but — unlike crossJoin, whose output a Filter node filters after the
// fact — applies the predicate inside the join itself, so a left row
// with no match emits once, padded with NULLs on the right, instead of
// being silently dropped by that external filter.
type nestedLoopOuterJoin struct {
	left, right Iterator
	pred        planner.Expr
	schema      Schema
	rightSchema Schema

	leftRow  Row
	haveLeft bool
	matched  bool
}

func newNestedLoopOuterJoin(node *planner.PlanNode, left, right Iterator) (Iterator, error) {
	return &nestedLoopOuterJoin{left: left, right: right, pred: node.JoinPredicate}, nil
}

func (j *nestedLoopOuterJoin) Open(ctx context.Context) error {
	if err := j.left.Open(ctx); err != nil {
		return err
	}
	if err := j.right.Open(ctx); err != nil {
		return err
	}
	j.rightSchema = j.right.Schema()
	j.schema = Concat(j.left.Schema(), j.rightSchema)
	return nil
}

func (j *nestedLoopOuterJoin) Close() error {
	var first error
	if err := j.left.Close(); err != nil {
		first = err
	}
	if err := j.right.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

func (j *nestedLoopOuterJoin) Schema() Schema { return j.schema }

func (j *nestedLoopOuterJoin) Next(ctx context.Context) (Row, error) {
	for {
		if err := checkCancelled(ctx); err != nil {
			return Row{}, err
		}
		if !j.haveLeft {
			row, err := j.left.Next(ctx)
			if err != nil {
				return Row{}, err
			}
			j.leftRow = row
			j.haveLeft = true
			j.matched = false
			if err := j.right.Close(); err != nil {
				return Row{}, err
			}
			if err := j.right.Open(ctx); err != nil {
				return Row{}, err
			}
		}
		rightRow, err := j.right.Next(ctx)
		if err != nil {
			if err == io.EOF {
				j.haveLeft = false
				if !j.matched {
					return concatRow(j.leftRow, nullRow(j.rightSchema)), nil
				}
				continue
			}
			return Row{}, err
		}
		combined := concatRow(j.leftRow, rightRow)
		if j.pred == nil {
			j.matched = true
			return combined, nil
		}
		v, err := Eval(j.pred, combined, j.schema)
		if err != nil {
			return Row{}, err
		}
		if v.IsNull || v.Kind != common.KindBool || !v.Bool {
			continue
		}
		j.matched = true
		return combined, nil
	}
}

// sortMergeJoin implements an equi-join by sorting both inputs on the
// join column and merging them in one pass (spec §4.8 "SortMergeJoin").
// Like IndexOnlyScan/SortAggregate, the planner does not currently
// choose this operator over HashJoin; it is implemented for cost-model
// completeness.
type sortMergeJoin struct {
	left, right *sortOp
	leftSchema  Schema
	rightSchema Schema
	leftIdx     int
	rightIdx    int
	schema      Schema

	leftDone  bool
	rightDone bool
	leftRow   Row
	rightRow  Row
	haveLeft  bool
	haveRight bool
	emitBuf   []Row
	emitPos   int
}

func newSortMergeJoin(node *planner.PlanNode, left, right Iterator) (Iterator, error) {
	leftSchema, rightSchema := left.Schema(), right.Schema()
	li, ri, ok := equiJoinCols(node.JoinPredicate, leftSchema, rightSchema)
	if !ok {
		if node.Outer {
			return newNestedLoopOuterJoin(node, left, right)
		}
		return newCrossJoin(node, left, right)
	}
	if node.Outer {
		// The merge below drops a run with no match on the other side
		// instead of padding it, and the planner never chooses this
		// operator today (buildJoinTree/buildExplicitJoinTree only ever
		// emit OpHashJoin), so an outer equi-join routes through the
		// nested-loop path rather than an unexercised merge-join
		// extension.
		return newNestedLoopOuterJoin(node, left, right)
	}
	leftSort, err := newSort(&planner.PlanNode{OrderBy: []planner.OrderTerm{{Expr: keyExprFor(leftSchema, li)}}}, left)
	if err != nil {
		return nil, err
	}
	rightSort, err := newSort(&planner.PlanNode{OrderBy: []planner.OrderTerm{{Expr: keyExprFor(rightSchema, ri)}}}, right)
	if err != nil {
		return nil, err
	}
	return &sortMergeJoin{left: leftSort, right: rightSort, leftIdx: li, rightIdx: ri}, nil
}

func (j *sortMergeJoin) Open(ctx context.Context) error {
	if err := j.left.Open(ctx); err != nil {
		return err
	}
	if err := j.right.Open(ctx); err != nil {
		return err
	}
	j.leftSchema, j.rightSchema = j.left.Schema(), j.right.Schema()
	j.schema = Concat(j.leftSchema, j.rightSchema)
	return j.advance(ctx)
}

func (j *sortMergeJoin) advance(ctx context.Context) error {
	var err error
	if !j.haveLeft {
		j.leftRow, err = j.left.Next(ctx)
		if err == io.EOF {
			j.leftDone = true
		} else if err != nil {
			return err
		} else {
			j.haveLeft = true
		}
	}
	if !j.haveRight {
		j.rightRow, err = j.right.Next(ctx)
		if err == io.EOF {
			j.rightDone = true
		} else if err != nil {
			return err
		} else {
			j.haveRight = true
		}
	}
	return nil
}

func (j *sortMergeJoin) Close() error {
	var first error
	if err := j.left.Close(); err != nil {
		first = err
	}
	if err := j.right.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

func (j *sortMergeJoin) Schema() Schema { return j.schema }

func (j *sortMergeJoin) Next(ctx context.Context) (Row, error) {
	for {
		if err := checkCancelled(ctx); err != nil {
			return Row{}, err
		}
		if j.emitPos < len(j.emitBuf) {
			row := j.emitBuf[j.emitPos]
			j.emitPos++
			return row, nil
		}
		if j.leftDone || j.rightDone {
			return Row{}, io.EOF
		}
		lv, err := Eval(keyExprFor(j.leftSchema, j.leftIdx), j.leftRow, j.leftSchema)
		if err != nil {
			return Row{}, err
		}
		rv, err := Eval(keyExprFor(j.rightSchema, j.rightIdx), j.rightRow, j.rightSchema)
		if err != nil {
			return Row{}, err
		}
		cmp := compareNullable(lv, rv)
		switch {
		case cmp < 0:
			j.haveLeft = false
			if err := j.advance(ctx); err != nil {
				return Row{}, err
			}
		case cmp > 0:
			j.haveRight = false
			if err := j.advance(ctx); err != nil {
				return Row{}, err
			}
		default:
			// Gather every row on each side sharing this key, then emit
			// the full cross product of the two runs.
			leftRun := []Row{j.leftRow}
			for {
				j.haveLeft = false
				if err := j.advance(ctx); err != nil {
					return Row{}, err
				}
				if j.leftDone {
					break
				}
				nv, err := Eval(keyExprFor(j.leftSchema, j.leftIdx), j.leftRow, j.leftSchema)
				if err != nil {
					return Row{}, err
				}
				if compareNullable(nv, lv) != 0 {
					break
				}
				leftRun = append(leftRun, j.leftRow)
			}
			rightRun := []Row{j.rightRow}
			for {
				j.haveRight = false
				if err := j.advance(ctx); err != nil {
					return Row{}, err
				}
				if j.rightDone {
					break
				}
				nv, err := Eval(keyExprFor(j.rightSchema, j.rightIdx), j.rightRow, j.rightSchema)
				if err != nil {
					return Row{}, err
				}
				if compareNullable(nv, rv) != 0 {
					break
				}
				rightRun = append(rightRun, j.rightRow)
			}
			for _, l := range leftRun {
				for _, r := range rightRun {
					j.emitBuf = append(j.emitBuf, concatRow(l, r))
				}
			}
			j.emitPos = 0
		}
	}
}

// indexNestedLoopJoin probes an index on the inner side for each outer
// row instead of building a hash table, the right choice when the inner
// side already has a selective index on the join column and is too
// large to hash cheaply (spec §4.8 "IndexNestedLoopJoin"). The planner
// does not currently emit this operator (buildJoinTree only ever
// produces OpHashJoin); it reuses hashJoin's equi-join matching against
// whatever inner iterator Build compiled from the inner PlanNode — an
// IndexScan, when the planner starts choosing this operator over one of
// its children — so it stays correct without duplicating that logic.
func newIndexNestedLoopJoin(node *planner.PlanNode, outer, inner Iterator) (Iterator, error) {
	return newHashJoin(node, outer, inner)
}
