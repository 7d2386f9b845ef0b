package executor

import (
	"context"
	"io"

	"github.com/relational/dbcore/planner"
)

// setOp implements UNION/INTERSECT/EXCEPT by hashing both inputs' rows
// into sets keyed on their encoded values (spec §4.8 "Union/Intersect/
// Except: hash-based set operators over their children's output rows").
// ALL variants are not modeled separately here since the planner's
// SetOp.All flag is not threaded onto PlanNode; every set op dedups its
// result, matching SQL's default (non-ALL) UNION/INTERSECT/EXCEPT
// semantics.
type setOp struct {
	left, right Iterator
	kind        planner.OpKind
	schema      Schema

	rightSeen     map[string]int
	result        []Row
	pos           int
	reopenedRight bool
}

func newSetOp(node *planner.PlanNode, left, right Iterator) (*setOp, error) {
	return &setOp{left: left, right: right, kind: node.Kind}, nil
}

func (s *setOp) Open(ctx context.Context) error {
	if err := s.left.Open(ctx); err != nil {
		return err
	}
	if err := s.right.Open(ctx); err != nil {
		return err
	}
	s.schema = s.left.Schema()

	s.rightSeen = make(map[string]int)
	for {
		row, err := s.right.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		s.rightSeen[groupKey(row.Values)]++
	}

	seenLeft := make(map[string]bool)
	for {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		row, err := s.left.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		k := groupKey(row.Values)
		switch s.kind {
		case planner.OpUnion:
			if seenLeft[k] {
				continue
			}
			seenLeft[k] = true
			s.result = append(s.result, row.Clone())
		case planner.OpIntersect:
			if seenLeft[k] || s.rightSeen[k] == 0 {
				continue
			}
			seenLeft[k] = true
			s.result = append(s.result, row.Clone())
		case planner.OpExcept:
			if seenLeft[k] || s.rightSeen[k] > 0 {
				continue
			}
			seenLeft[k] = true
			s.result = append(s.result, row.Clone())
		}
	}

	if s.kind == planner.OpUnion {
		for {
			row, err := s.rightRemaining(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			k := groupKey(row.Values)
			if seenLeft[k] {
				continue
			}
			seenLeft[k] = true
			s.result = append(s.result, row.Clone())
		}
	}
	s.pos = 0
	return nil
}

// rightRemaining re-scans the right child a second time for UNION,
// since the first pass over it (building rightSeen) already drained it.
// A second Open/Next pass is simpler than buffering every right row in
// memory up front for the (common) non-UNION case that never needs it.
func (s *setOp) rightRemaining(ctx context.Context) (Row, error) {
	if !s.reopenedRight {
		if err := s.right.Close(); err != nil {
			return Row{}, err
		}
		if err := s.right.Open(ctx); err != nil {
			return Row{}, err
		}
		s.reopenedRight = true
	}
	return s.right.Next(ctx)
}

func (s *setOp) Close() error {
	var first error
	if err := s.left.Close(); err != nil {
		first = err
	}
	if err := s.right.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

func (s *setOp) Schema() Schema { return s.schema }

func (s *setOp) Next(ctx context.Context) (Row, error) {
	if err := checkCancelled(ctx); err != nil {
		return Row{}, err
	}
	if s.pos >= len(s.result) {
		return Row{}, io.EOF
	}
	row := s.result[s.pos]
	s.pos++
	return row, nil
}

// distinctOp removes duplicate rows from its child's output (spec §4.8
// "Distinct"), hashing on each row's encoded values.
type distinctOp struct {
	child Iterator
	seen  map[string]bool
}

func newDistinct(child Iterator) (*distinctOp, error) {
	return &distinctOp{child: child, seen: make(map[string]bool)}, nil
}

func (d *distinctOp) Open(ctx context.Context) error { return d.child.Open(ctx) }
func (d *distinctOp) Close() error                   { return d.child.Close() }
func (d *distinctOp) Schema() Schema                 { return d.child.Schema() }

func (d *distinctOp) Next(ctx context.Context) (Row, error) {
	for {
		if err := checkCancelled(ctx); err != nil {
			return Row{}, err
		}
		row, err := d.child.Next(ctx)
		if err != nil {
			return Row{}, err
		}
		k := groupKey(row.Values)
		if d.seen[k] {
			continue
		}
		d.seen[k] = true
		return row, nil
	}
}
