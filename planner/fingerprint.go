package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint computes a structural hash of a normalized query, stable
// across process restarts, for keying the plan cache (spec §9 design
// note: "fingerprints must be stable across process restarts... use
// structural hashing of the normalized AST with literal values replaced
// by placeholders, so that two queries differing only in a literal
// share a cache entry").
func Fingerprint(s *SelectStmt) uint64 {
	var b strings.Builder
	writeSelect(&b, s)
	return xxhash.Sum64String(b.String())
}

func writeSelect(b *strings.Builder, s *SelectStmt) {
	if s == nil {
		b.WriteString("<nil>")
		return
	}
	b.WriteString("SELECT")
	if s.Distinct {
		b.WriteString(" DISTINCT")
	}
	for _, p := range s.Projections {
		b.WriteByte(' ')
		writeExpr(b, p)
	}
	b.WriteString(" FROM")
	refs := make([]TableRef, len(s.From))
	copy(refs, s.From)
	if !hasExplicitJoin(s.From) {
		// Comma-joined FROM order is reorderable by the cost-based
		// enumerator and carries no ON-predicate, so two queries naming
		// the same tables in a different order still share a
		// fingerprint — sort by table/alias for that identity.
		sort.Slice(refs, func(i, j int) bool { return refKey(refs[i]) < refKey(refs[j]) })
	}
	for _, r := range refs {
		b.WriteByte(' ')
		if r.Subquery != nil {
			b.WriteByte('(')
			writeSelect(b, r.Subquery)
			b.WriteByte(')')
		} else {
			b.WriteString(r.Table)
		}
		if r.Alias != "" {
			b.WriteString(" AS ")
			b.WriteString(r.Alias)
		}
		if r.On != nil {
			switch r.Join {
			case JoinLeft:
				b.WriteString(" LEFT JOIN ON ")
			default:
				b.WriteString(" JOIN ON ")
			}
			writeExpr(b, r.On)
		}
	}
	if s.Where != nil {
		b.WriteString(" WHERE ")
		writeExpr(b, s.Where)
	}
	if len(s.GroupBy) > 0 {
		b.WriteString(" GROUP BY")
		for _, g := range s.GroupBy {
			b.WriteByte(' ')
			writeExpr(b, g)
		}
	}
	if s.Having != nil {
		b.WriteString(" HAVING ")
		writeExpr(b, s.Having)
	}
	if len(s.OrderBy) > 0 {
		b.WriteString(" ORDER BY")
		for _, o := range s.OrderBy {
			b.WriteByte(' ')
			writeExpr(b, o.Expr)
			if o.Desc {
				b.WriteString(" DESC")
			}
		}
	}
	if s.Limit != nil {
		b.WriteString(" LIMIT ?")
	}
	if s.SetOp != nil {
		switch s.SetOp.Kind {
		case SetOpUnion:
			b.WriteString(" UNION")
		case SetOpIntersect:
			b.WriteString(" INTERSECT")
		case SetOpExcept:
			b.WriteString(" EXCEPT")
		}
		if s.SetOp.All {
			b.WriteString(" ALL")
		}
		writeSelect(b, s.SetOp.Right)
	}
}

// hasExplicitJoin reports whether any FROM entry beyond the first pins
// its own join step (an ON-clause, and in particular a LEFT JOIN, whose
// order relative to its neighbors is not safe for the enumerator to
// change).
func hasExplicitJoin(refs []TableRef) bool {
	for _, r := range refs {
		if r.On != nil {
			return true
		}
	}
	return false
}

func refKey(r TableRef) string {
	if r.Alias != "" {
		return r.Table + "#" + r.Alias
	}
	return r.Table
}

// writeExpr serializes e into a structural, literal-erased form: every
// Literal becomes the placeholder "?" regardless of its value, so plans
// differing only in a bound constant fingerprint identically.
func writeExpr(b *strings.Builder, e Expr) {
	switch x := e.(type) {
	case nil:
		b.WriteString("<nil>")
	case *Literal:
		b.WriteByte('?')
	case *ColumnRef:
		if x.Table != "" {
			b.WriteString(x.Table)
			b.WriteByte('.')
		}
		b.WriteString(x.Column)
	case *BinaryOp:
		b.WriteByte('(')
		writeExpr(b, x.Left)
		fmt.Fprintf(b, " %d ", x.Kind)
		writeExpr(b, x.Right)
		b.WriteByte(')')
	case *UnaryOp:
		fmt.Fprintf(b, "(%d ", x.Kind)
		writeExpr(b, x.Expr)
		b.WriteByte(')')
	case *FunctionCall:
		b.WriteString(x.Name)
		b.WriteByte('(')
		for i, a := range x.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			writeExpr(b, a)
		}
		b.WriteByte(')')
	case *Aggregate:
		fmt.Fprintf(b, "agg%d(", x.Kind)
		if x.Arg != nil {
			writeExpr(b, x.Arg)
		}
		b.WriteByte(')')
	case *Subquery:
		b.WriteByte('(')
		writeSelect(b, x.Query)
		b.WriteByte(')')
	case *In:
		writeExpr(b, x.Expr)
		if x.Negate {
			b.WriteString(" NOT")
		}
		b.WriteString(" IN(")
		if x.Subquery != nil {
			writeSelect(b, x.Subquery)
		} else {
			for i, item := range x.List {
				if i > 0 {
					b.WriteByte(',')
				}
				writeExpr(b, item)
			}
		}
		b.WriteByte(')')
	case *Between:
		writeExpr(b, x.Expr)
		if x.Negate {
			b.WriteString(" NOT")
		}
		b.WriteString(" BETWEEN ")
		writeExpr(b, x.Low)
		b.WriteString(" AND ")
		writeExpr(b, x.High)
	case *Like:
		writeExpr(b, x.Expr)
		if x.Negate {
			b.WriteString(" NOT")
		}
		b.WriteString(" LIKE ")
		writeExpr(b, x.Pattern)
	case *IsNull:
		writeExpr(b, x.Expr)
		b.WriteString(" IS")
		if x.Negate {
			b.WriteString(" NOT")
		}
		b.WriteString(" NULL")
	case *Case:
		b.WriteString("CASE ")
		if x.Operand != nil {
			writeExpr(b, x.Operand)
		}
		for _, w := range x.Whens {
			b.WriteString(" WHEN ")
			writeExpr(b, w.When)
			b.WriteString(" THEN ")
			writeExpr(b, w.Then)
		}
		if x.Else != nil {
			b.WriteString(" ELSE ")
			writeExpr(b, x.Else)
		}
	default:
		b.WriteString("?")
	}
}
