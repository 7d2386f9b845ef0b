package executor

import (
	"context"
	"fmt"
	"io"

	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/planner"
)

// aggregateKey derives a stable, content-based name for one Aggregate
// expression, used as its output column's name so a Project above a
// HashAggregate/SortAggregate can resolve SUM(x)/COUNT(*)/etc. back to
// the value the aggregate operator already computed for it, the same
// way a ColumnRef resolves to a scan column (spec §4.8 "Aggregation
// semantics").
func aggregateKey(a planner.Aggregate) string {
	argKey := "*"
	if a.Arg != nil {
		if cr, ok := a.Arg.(*planner.ColumnRef); ok {
			argKey = cr.Table + "." + cr.Column
		} else {
			argKey = fmt.Sprintf("%p", a.Arg)
		}
	}
	return fmt.Sprintf("agg%d(%s)", a.Kind, argKey)
}

// groupKey derives the group-by row's lookup key from a row's evaluated
// GroupBy column values, using EncodeRow's wire format as a convenient
// comparable string (two logically equal tuples always encode to the
// same bytes).
func groupKey(vals []common.Value) string {
	return string(EncodeRow(vals))
}

// aggState accumulates one Aggregate's running value across a group's
// rows.
type aggState struct {
	kind    planner.AggregateKind
	count   int64
	sum     float64
	sumIsInt bool
	sumInt  int64
	min     common.Value
	max     common.Value
	started bool
}

func newAggState(kind planner.AggregateKind) *aggState {
	return &aggState{kind: kind, sumIsInt: true}
}

func (s *aggState) add(v common.Value) {
	switch s.kind {
	case planner.AggCountStar:
		s.count++
	case planner.AggCount:
		if !v.IsNull {
			s.count++
		}
	case planner.AggSum, planner.AggAvg:
		if v.IsNull {
			return
		}
		s.count++
		if v.Kind == common.KindFloat {
			s.sumIsInt = false
			s.sum += v.Float64
		} else if s.sumIsInt {
			s.sumInt += v.Int
			s.sum += float64(v.Int)
		} else {
			s.sum += float64(v.Int)
		}
	case planner.AggMin:
		if v.IsNull {
			return
		}
		if !s.started || compareValues(v, s.min) < 0 {
			s.min = v
			s.started = true
		}
	case planner.AggMax:
		if v.IsNull {
			return
		}
		if !s.started || compareValues(v, s.max) > 0 {
			s.max = v
			s.started = true
		}
	}
}

// result returns the aggregate's final value (spec §4.8: COUNT/SUM over
// an empty group return 0, AVG/MIN/MAX over an empty group return NULL).
func (s *aggState) result() common.Value {
	switch s.kind {
	case planner.AggCount, planner.AggCountStar:
		return common.IntValue(s.count)
	case planner.AggSum:
		if s.count == 0 {
			return common.IntValue(0)
		}
		if s.sumIsInt {
			return common.IntValue(s.sumInt)
		}
		return common.FloatValue(s.sum)
	case planner.AggAvg:
		if s.count == 0 {
			return common.NullValue(common.KindFloat)
		}
		return common.FloatValue(s.sum / float64(s.count))
	case planner.AggMin:
		if !s.started {
			return common.NullValue(common.KindInt)
		}
		return s.min
	case planner.AggMax:
		if !s.started {
			return common.NullValue(common.KindInt)
		}
		return s.max
	}
	return common.Value{}
}

// group is one GROUP BY bucket: its key values plus one aggState per
// aggregate in the projection list.
type group struct {
	keyVals []common.Value
	states  []*aggState
}

// hashAggregate computes GROUP BY + aggregate functions by hashing each
// row's group-by tuple into an in-memory bucket (spec §4.8
// "HashAggregate"). Unbounded by design, the same limitation the
// teacher's in-memory structures (bufferpool's LRU, the plan cache)
// accept rather than spill — a future revision could spill groups the
// way Sort spills runs.
type hashAggregate struct {
	child      Iterator
	groupBy    []planner.Expr
	aggregates []planner.Aggregate

	childSchema Schema
	schema      Schema
	groups      map[string]*group
	order       []string
	pos         int
}

func newHashAggregate(node *planner.PlanNode, child Iterator) (*hashAggregate, error) {
	return &hashAggregate{child: child, groupBy: node.GroupBy, aggregates: node.Aggregates, groups: make(map[string]*group)}, nil
}

func (h *hashAggregate) buildSchema() {
	cols := make([]ColumnInfo, 0, len(h.groupBy)+len(h.aggregates))
	for _, g := range h.groupBy {
		name := exprName(g)
		cols = append(cols, ColumnInfo{Name: name, Kind: exprKind(g, h.childSchema)})
	}
	for _, a := range h.aggregates {
		kind := common.KindInt
		if a.Kind == planner.AggAvg {
			kind = common.KindFloat
		} else if (a.Kind == planner.AggSum || a.Kind == planner.AggMin || a.Kind == planner.AggMax) && a.Arg != nil {
			kind = exprKind(a.Arg, h.childSchema)
		}
		cols = append(cols, ColumnInfo{Name: aggregateKey(a), Kind: kind})
	}
	h.schema = cols
}

func exprName(e planner.Expr) string {
	if cr, ok := e.(*planner.ColumnRef); ok {
		return cr.Column
	}
	return groupKey(nil) // distinct-enough placeholder for non-column group expressions
}

func (h *hashAggregate) Open(ctx context.Context) error {
	if err := h.child.Open(ctx); err != nil {
		return err
	}
	h.childSchema = h.child.Schema()
	h.buildSchema()

	for {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		row, err := h.child.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		keyVals := make([]common.Value, len(h.groupBy))
		for i, g := range h.groupBy {
			v, err := Eval(g, row, h.childSchema)
			if err != nil {
				return err
			}
			keyVals[i] = v
		}
		key := groupKey(keyVals)
		grp, ok := h.groups[key]
		if !ok {
			states := make([]*aggState, len(h.aggregates))
			for i, a := range h.aggregates {
				states[i] = newAggState(a.Kind)
			}
			grp = &group{keyVals: keyVals, states: states}
			h.groups[key] = grp
			h.order = append(h.order, key)
		}
		for i, a := range h.aggregates {
			var v common.Value
			if a.Arg != nil {
				v, err = Eval(a.Arg, row, h.childSchema)
				if err != nil {
					return err
				}
			}
			grp.states[i].add(v)
		}
	}

	// A GROUP BY-less aggregate over zero input rows still produces one
	// output row (e.g. SELECT COUNT(*) FROM empty_table -> 0).
	if len(h.groupBy) == 0 && len(h.groups) == 0 {
		states := make([]*aggState, len(h.aggregates))
		for i, a := range h.aggregates {
			states[i] = newAggState(a.Kind)
		}
		key := groupKey(nil)
		h.groups[key] = &group{states: states}
		h.order = append(h.order, key)
	}

	h.pos = 0
	return nil
}

func (h *hashAggregate) Close() error { return h.child.Close() }
func (h *hashAggregate) Schema() Schema { return h.schema }

func (h *hashAggregate) Next(ctx context.Context) (Row, error) {
	if err := checkCancelled(ctx); err != nil {
		return Row{}, err
	}
	if h.pos >= len(h.order) {
		return Row{}, io.EOF
	}
	grp := h.groups[h.order[h.pos]]
	h.pos++
	values := make([]common.Value, 0, len(grp.keyVals)+len(grp.states))
	values = append(values, grp.keyVals...)
	for _, s := range grp.states {
		values = append(values, s.result())
	}
	return Row{Values: values}, nil
}

// sortAggregate computes the same result as hashAggregate but assumes
// (and, if necessary, establishes) its input is ordered by GroupBy, then
// streams groups out as each one's run of matching rows ends — the
// classic sort-then-aggregate alternative to hashing groups in memory
// (spec §4.8 "SortAggregate"). The planner does not currently choose
// this operator over HashAggregate; it is implemented for cost-model
// completeness, and no test in this package exercises it.
type sortAggregate struct {
	child      Iterator
	groupBy    []planner.Expr
	aggregates []planner.Aggregate

	sorted      Iterator
	childSchema Schema
	schema      Schema
	pending     *Row
	done        bool
}

func newSortAggregate(node *planner.PlanNode, child Iterator) (*sortAggregate, error) {
	return &sortAggregate{child: child, groupBy: node.GroupBy, aggregates: node.Aggregates}, nil
}

func (s *sortAggregate) Open(ctx context.Context) error {
	if err := s.child.Open(ctx); err != nil {
		return err
	}
	s.childSchema = s.child.Schema()
	terms := make([]planner.OrderTerm, len(s.groupBy))
	for i, g := range s.groupBy {
		terms[i] = planner.OrderTerm{Expr: g}
	}
	sortNode := &planner.PlanNode{OrderBy: terms}
	sorted, err := newSort(sortNode, s.child)
	if err != nil {
		return err
	}
	if err := sorted.Open(ctx); err != nil {
		return err
	}
	s.sorted = sorted

	ha := &hashAggregate{}
	ha.groupBy, ha.aggregates = s.groupBy, s.aggregates
	ha.childSchema = s.childSchema
	ha.buildSchema()
	s.schema = ha.schema
	return nil
}

func (s *sortAggregate) Close() error {
	var first error
	if s.sorted != nil {
		if err := s.sorted.Close(); err != nil {
			first = err
		}
	}
	return first
}

func (s *sortAggregate) Schema() Schema { return s.schema }

func (s *sortAggregate) Next(ctx context.Context) (Row, error) {
	if s.done {
		return Row{}, io.EOF
	}
	var curKey []common.Value
	states := make([]*aggState, len(s.aggregates))
	for i, a := range s.aggregates {
		states[i] = newAggState(a.Kind)
	}
	rowSeen := false

	for {
		if err := checkCancelled(ctx); err != nil {
			return Row{}, err
		}
		var row Row
		var err error
		if s.pending != nil {
			row = *s.pending
			s.pending = nil
		} else {
			row, err = s.sorted.Next(ctx)
			if err != nil {
				if err == io.EOF {
					s.done = true
					break
				}
				return Row{}, err
			}
		}
		keyVals := make([]common.Value, len(s.groupBy))
		for i, g := range s.groupBy {
			v, err := Eval(g, row, s.childSchema)
			if err != nil {
				return Row{}, err
			}
			keyVals[i] = v
		}
		if curKey == nil {
			curKey = keyVals
		} else if groupKey(keyVals) != groupKey(curKey) {
			s.pending = &row
			break
		}
		rowSeen = true
		for i, a := range s.aggregates {
			var v common.Value
			if a.Arg != nil {
				v, err = Eval(a.Arg, row, s.childSchema)
				if err != nil {
					return Row{}, err
				}
			}
			states[i].add(v)
		}
	}

	if !rowSeen {
		return Row{}, io.EOF
	}
	values := make([]common.Value, 0, len(curKey)+len(states))
	values = append(values, curKey...)
	for _, st := range states {
		values = append(values, st.result())
	}
	return Row{Values: values}, nil
}
