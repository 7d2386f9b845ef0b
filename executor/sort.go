package executor

import (
	"container/heap"
	"context"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/planner"
)

// orderLess builds a row comparator from an ORDER BY term list, resolved
// against schema — the same comparator TopN's bounded heap and Sort's
// in-memory/external sort both use.
func orderLess(terms []planner.OrderTerm, schema Schema) func(a, b Row) bool {
	return func(a, b Row) bool {
		for _, t := range terms {
			av, err := Eval(t.Expr, a, schema)
			if err != nil {
				return false
			}
			bv, err := Eval(t.Expr, b, schema)
			if err != nil {
				return false
			}
			cmp := compareNullable(av, bv)
			if cmp == 0 {
				continue
			}
			if t.Desc && !av.IsNull && !bv.IsNull {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	}
}

// compareNullable orders NULL last regardless of direction (spec §4.8
// "ORDER BY... NULLs sort last"), then falls back to compareValues.
func compareNullable(a, b common.Value) int {
	if a.IsNull && b.IsNull {
		return 0
	}
	if a.IsNull {
		return 1
	}
	if b.IsNull {
		return -1
	}
	return compareValues(a, b)
}

func sortRows(rows []Row, less func(a, b Row) bool) {
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
}

// sortRun is one spilled, already-sorted batch of rows, readable back in
// order from a temp file.
type sortRun struct {
	f     *os.File
	kinds []common.ValueKind
}

func writeSortRun(rows []Row) (*os.File, error) {
	f, err := os.CreateTemp("", "dbcore-sort-*.run")
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		enc := EncodeRow(r.Values)
		var lb [4]byte
		binary.BigEndian.PutUint32(lb[:], uint32(len(enc)))
		if _, err := f.Write(lb[:]); err != nil {
			f.Close()
			return nil, err
		}
		if _, err := f.Write(enc); err != nil {
			f.Close()
			return nil, err
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (s *sortRun) next() (Row, error) {
	var lb [4]byte
	if _, err := io.ReadFull(s.f, lb[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Row{}, io.EOF
		}
		return Row{}, err
	}
	n := binary.BigEndian.Uint32(lb[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.f, buf); err != nil {
		return Row{}, err
	}
	values, err := DecodeRow(buf, s.kinds)
	if err != nil {
		return Row{}, err
	}
	return Row{Values: values}, nil
}

func (s *sortRun) close() error {
	name := s.f.Name()
	err := s.f.Close()
	os.Remove(name)
	return err
}

// mergeItem is one run's current head, tracked by the merge heap.
type mergeItem struct {
	row Row
	run int
}

type mergeHeap struct {
	items []mergeItem
	less  func(a, b Row) bool
}

func (h *mergeHeap) Len() int           { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool { return h.less(h.items[i].row, h.items[j].row) }
func (h *mergeHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(mergeItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// sortOp implements ORDER BY (spec §4.8 "Sort"). Rows accumulate in
// memory until SpillBudgetBytes worth of encoded row data has been
// buffered; once exceeded, the buffered batch is sorted and spilled to a
// temp file as one run, and buffering starts over. Open finishes by
// k-way merging every run (plus any final in-memory batch) via a min
// (or max, for DESC) heap over each run's current head — the standard
// external merge sort shape, sized to the operator's own memory budget
// rather than the whole dataset.
type sortOp struct {
	child   Iterator
	orderBy []planner.OrderTerm
	budget  int64

	schema Schema
	runs   []*sortRun
	memory []Row // used when nothing ever spilled
	pos    int
	mh     *mergeHeap
}

func newSort(node *planner.PlanNode, child Iterator) (*sortOp, error) {
	return &sortOp{child: child, orderBy: node.OrderBy, budget: node.SpillBudgetBytes}, nil
}

func (s *sortOp) Open(ctx context.Context) error {
	if err := s.child.Open(ctx); err != nil {
		return err
	}
	s.schema = s.child.Schema()
	kinds := schemaKinds(s.schema)
	less := orderLess(s.orderBy, s.schema)

	var batch []Row
	var batchBytes int64
	spilled := false

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		sortRows(batch, less)
		if s.budget <= 0 && !spilled {
			s.memory = batch
			return nil
		}
		f, err := writeSortRun(batch)
		if err != nil {
			return err
		}
		s.runs = append(s.runs, &sortRun{f: f, kinds: kinds})
		spilled = true
		return nil
	}

	for {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		row, err := s.child.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		row = row.Clone()
		batch = append(batch, row)
		batchBytes += int64(len(EncodeRow(row.Values)))
		if s.budget > 0 && batchBytes >= s.budget {
			if err := flush(); err != nil {
				return err
			}
			batch = nil
			batchBytes = 0
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if s.memory != nil || len(s.runs) == 0 {
		if s.memory == nil {
			s.memory = []Row{}
		}
		s.pos = 0
		return nil
	}

	// Seed the merge heap with each run's first row.
	mh := &mergeHeap{less: less}
	for i, r := range s.runs {
		row, err := r.next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return err
		}
		heap.Push(mh, mergeItem{row: row, run: i})
	}
	s.mh = mh
	return nil
}

func schemaKinds(schema Schema) []common.ValueKind {
	kinds := make([]common.ValueKind, len(schema))
	for i, c := range schema {
		kinds[i] = c.Kind
	}
	return kinds
}

func (s *sortOp) Close() error {
	var first error
	for _, r := range s.runs {
		if err := r.close(); err != nil && first == nil {
			first = err
		}
	}
	if err := s.child.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

func (s *sortOp) Schema() Schema { return s.schema }

func (s *sortOp) Next(ctx context.Context) (Row, error) {
	if err := checkCancelled(ctx); err != nil {
		return Row{}, err
	}
	if s.mh == nil {
		if s.pos >= len(s.memory) {
			return Row{}, io.EOF
		}
		row := s.memory[s.pos]
		s.pos++
		return row, nil
	}
	if s.mh.Len() == 0 {
		return Row{}, io.EOF
	}
	item := heap.Pop(s.mh).(mergeItem)
	next, err := s.runs[item.run].next()
	if err == nil {
		heap.Push(s.mh, mergeItem{row: next, run: item.run})
	} else if err != io.EOF {
		return Row{}, err
	}
	return item.row, nil
}
