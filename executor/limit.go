package executor

import (
	"container/heap"
	"context"
	"io"

	"github.com/relational/dbcore/planner"
)

// limitOp passes through the first N rows of its child and then stops,
// without requiring the child to be fully drained.
type limitOp struct {
	child Iterator
	n     int64
	seen  int64
}

func newLimit(node *planner.PlanNode, child Iterator) (*limitOp, error) {
	return &limitOp{child: child, n: node.N}, nil
}

func (l *limitOp) Open(ctx context.Context) error { return l.child.Open(ctx) }
func (l *limitOp) Close() error                   { return l.child.Close() }
func (l *limitOp) Schema() Schema                 { return l.child.Schema() }

func (l *limitOp) Next(ctx context.Context) (Row, error) {
	if l.seen >= l.n {
		return Row{}, io.EOF
	}
	if err := checkCancelled(ctx); err != nil {
		return Row{}, err
	}
	row, err := l.child.Next(ctx)
	if err != nil {
		return Row{}, err
	}
	l.seen++
	return row, nil
}

// topNHeap is a bounded max-heap over rows ordered by a less-than
// comparator, keeping the N logically smallest rows seen so far — the
// standard top-N-without-a-full-sort technique (spec §4.8 "TopN: bounded
// heap of size N, avoiding a full sort when only the top rows matter").
type topNHeap struct {
	rows []Row
	less func(a, b Row) bool
}

func (h *topNHeap) Len() int            { return len(h.rows) }
func (h *topNHeap) Less(i, j int) bool  { return h.less(h.rows[j], h.rows[i]) } // max-heap: invert
func (h *topNHeap) Swap(i, j int)       { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }
func (h *topNHeap) Push(x interface{})  { h.rows = append(h.rows, x.(Row)) }
func (h *topNHeap) Pop() interface{} {
	old := h.rows
	n := len(old)
	item := old[n-1]
	h.rows = old[:n-1]
	return item
}

type topN struct {
	child    Iterator
	n        int64
	orderBy  []planner.OrderTerm
	schema   Schema
	result   []Row
	pos      int
}

func newTopN(node *planner.PlanNode, child Iterator) (*topN, error) {
	return &topN{child: child, n: node.N, orderBy: node.OrderBy}, nil
}

func (t *topN) Open(ctx context.Context) error {
	if err := t.child.Open(ctx); err != nil {
		return err
	}
	t.schema = t.child.Schema()
	less := orderLess(t.orderBy, t.schema)
	h := &topNHeap{less: less}
	for {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		row, err := t.child.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		heap.Push(h, row.Clone())
		if int64(h.Len()) > t.n {
			heap.Pop(h)
		}
	}
	// h.rows is in max-heap order (worst-first); sort ascending by the
	// same comparator to produce the final top-N order.
	out := make([]Row, h.Len())
	copy(out, h.rows)
	sortRows(out, less)
	t.result = out
	t.pos = 0
	return nil
}

func (t *topN) Close() error { return t.child.Close() }
func (t *topN) Schema() Schema { return t.schema }

func (t *topN) Next(ctx context.Context) (Row, error) {
	if err := checkCancelled(ctx); err != nil {
		return Row{}, err
	}
	if t.pos >= len(t.result) {
		return Row{}, io.EOF
	}
	row := t.result[t.pos]
	t.pos++
	return row, nil
}
