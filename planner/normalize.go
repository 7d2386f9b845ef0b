package planner

import "github.com/relational/dbcore/common"

// NormalizedQuery is the result of normalizing a bound SelectStmt (spec
// §4.7 stage 2): the WHERE clause flattened into an AND-list with
// trivial predicates removed, split into single-table predicates (for
// pushdown onto a scan) and multi-table predicates (join conditions),
// plus any `IN (subquery)` rewritten into a semi-join.
type NormalizedQuery struct {
	Stmt *SelectStmt

	// PerTablePredicates maps a FROM-clause alias to predicates
	// referencing only that table — these can be pushed down onto its
	// scan instead of applied after a join (spec §4.7 "push filters
	// down").
	PerTablePredicates map[string][]Expr
	// JoinPredicates reference two or more tables and can only be
	// applied at or above the join that brings those tables together.
	JoinPredicates []Expr
	// SemiJoins holds `expr IN (subquery)` conjuncts rewritten out of
	// the predicate list (spec §4.7 "rewrite IN (subquery) to semi-join
	// where legal").
	SemiJoins []SemiJoin
	// AlwaysFalse is set when a conjunct normalized to the literal
	// false, short-circuiting the whole query to an empty result (spec
	// §4.7 "eliminate trivially-true/false predicates").
	AlwaysFalse bool
}

// SemiJoin is one `expr IN (subquery)` predicate pulled out of the
// WHERE clause's AND-list for the planner to implement as a semi-join
// rather than a per-row subquery re-execution.
type SemiJoin struct {
	Expr     Expr
	Subquery *SelectStmt
	Negate   bool
}

// Normalize runs stage 2 of planning against an already-bound
// SelectStmt. It does not mutate s; the returned NormalizedQuery
// references s's expression nodes directly.
func Normalize(s *SelectStmt) *NormalizedQuery {
	nq := &NormalizedQuery{
		Stmt:               s,
		PerTablePredicates: make(map[string][]Expr),
	}

	for _, conjunct := range flattenAnd(s.Where) {
		switch lit := asBoolLiteral(conjunct); {
		case lit != nil && *lit:
			continue // trivially true: drop, contributes nothing
		case lit != nil && !*lit:
			nq.AlwaysFalse = true
			continue
		}

		if in, ok := conjunct.(*In); ok && in.Subquery != nil {
			nq.SemiJoins = append(nq.SemiJoins, SemiJoin{Expr: in.Expr, Subquery: in.Subquery, Negate: in.Negate})
			continue
		}

		tables := referencedTables(conjunct)
		switch len(tables) {
		case 0:
			// A predicate over literals/functions alone with no
			// column reference — treat as a join-level predicate so
			// it still gets applied exactly once.
			nq.JoinPredicates = append(nq.JoinPredicates, conjunct)
		case 1:
			for t := range tables {
				nq.PerTablePredicates[t] = append(nq.PerTablePredicates[t], conjunct)
			}
		default:
			nq.JoinPredicates = append(nq.JoinPredicates, conjunct)
		}
	}

	return nq
}

// flattenAnd splits a WHERE tree into its top-level AND conjuncts (spec
// §4.7 "flatten AND chains"). A nil predicate (no WHERE clause) yields
// no conjuncts.
func flattenAnd(e Expr) []Expr {
	if e == nil {
		return nil
	}
	if b, ok := e.(*BinaryOp); ok && b.Kind == OpAnd {
		return append(flattenAnd(b.Left), flattenAnd(b.Right)...)
	}
	return []Expr{e}
}

// asBoolLiteral reports whether e is a non-null boolean literal, for
// spotting trivially-true/false predicates (spec §4.7).
func asBoolLiteral(e Expr) *bool {
	lit, ok := e.(*Literal)
	if !ok || lit.Value.IsNull || lit.Value.Kind != common.KindBool {
		return nil
	}
	b := lit.Value.Bool
	return &b
}

// referencedTables collects every FROM-alias a (post-Bind) expression
// tree references, for deciding whether a predicate is pushable to a
// single scan or belongs at a join.
func referencedTables(e Expr) map[string]bool {
	out := make(map[string]bool)
	var walk func(Expr)
	walk = func(e Expr) {
		switch x := e.(type) {
		case nil, *Literal:
		case *ColumnRef:
			if x.Table != "" {
				out[x.Table] = true
			}
		case *BinaryOp:
			walk(x.Left)
			walk(x.Right)
		case *UnaryOp:
			walk(x.Expr)
		case *FunctionCall:
			for _, a := range x.Args {
				walk(a)
			}
		case *Aggregate:
			walk(x.Arg)
		case *In:
			walk(x.Expr)
			for _, item := range x.List {
				walk(item)
			}
		case *Between:
			walk(x.Expr)
			walk(x.Low)
			walk(x.High)
		case *Like:
			walk(x.Expr)
			walk(x.Pattern)
		case *IsNull:
			walk(x.Expr)
		case *Case:
			if x.Operand != nil {
				walk(x.Operand)
			}
			for _, w := range x.Whens {
				walk(w.When)
				walk(w.Then)
			}
			if x.Else != nil {
				walk(x.Else)
			}
		}
	}
	walk(e)
	return out
}
