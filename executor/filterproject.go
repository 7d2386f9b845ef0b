package executor

import (
	"context"
	"fmt"

	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/planner"
)

// filter re-applies a predicate above a child operator — used for
// predicates a join or aggregate introduces above its input, as opposed
// to a scan's own pushed-down predicate (which scan.go evaluates
// inline without a separate operator).
type filter struct {
	child Iterator
	pred  planner.Expr
}

func newFilter(node *planner.PlanNode, child Iterator) (*filter, error) {
	return &filter{child: child, pred: node.Predicate}, nil
}

func (f *filter) Open(ctx context.Context) error { return f.child.Open(ctx) }
func (f *filter) Close() error                   { return f.child.Close() }
func (f *filter) Schema() Schema                 { return f.child.Schema() }

func (f *filter) Next(ctx context.Context) (Row, error) {
	schema := f.child.Schema()
	for {
		if err := checkCancelled(ctx); err != nil {
			return Row{}, err
		}
		row, err := f.child.Next(ctx)
		if err != nil {
			return Row{}, err
		}
		v, err := Eval(f.pred, row, schema)
		if err != nil {
			return Row{}, err
		}
		if Truthy(v) {
			return row, nil
		}
	}
}

// project evaluates an output expression list against each input row,
// producing the query's final (or an intermediate subquery's) column
// list. Output rows lose their RID once projected, since they may no
// longer correspond to exactly one base table row.
type project struct {
	child  Iterator
	exprs  []planner.Expr
	schema Schema
}

func newProject(node *planner.PlanNode, child Iterator) (*project, error) {
	childSchema := child.Schema()
	out := make(Schema, len(node.Exprs))
	for i, e := range node.Exprs {
		out[i] = ColumnInfo{Name: projectedName(e, i), Kind: exprKind(e, childSchema)}
	}
	return &project{child: child, exprs: node.Exprs, schema: out}, nil
}

func projectedName(e planner.Expr, i int) string {
	if cr, ok := e.(*planner.ColumnRef); ok {
		return cr.Column
	}
	return fmt.Sprintf("col%d", i)
}

// exprKind estimates an expression's output type for Schema purposes.
// Aggregates and arithmetic default to the types SQL normally produces
// for them; anything unresolvable falls back to string, since Schema's
// Kind is advisory (Eval re-derives the actual runtime Kind from the
// values it produces).
func exprKind(e planner.Expr, schema Schema) common.ValueKind {
	switch x := e.(type) {
	case *planner.ColumnRef:
		if i, ok := schema.Resolve(x.Table, x.Column); ok {
			return schema[i].Kind
		}
		return x.ResolvedType
	case *planner.Literal:
		return x.Value.Kind
	case *planner.Aggregate:
		switch x.Kind {
		case planner.AggCount, planner.AggCountStar:
			return common.KindInt
		case planner.AggSum, planner.AggAvg, planner.AggMin, planner.AggMax:
			if x.Arg != nil {
				return exprKind(x.Arg, schema)
			}
			return common.KindFloat
		}
	case *planner.BinaryOp:
		switch x.Kind {
		case planner.OpAdd, planner.OpSub, planner.OpMul, planner.OpDiv:
			return exprKind(x.Left, schema)
		default:
			return common.KindBool
		}
	case *planner.UnaryOp:
		if x.Kind == planner.OpNot {
			return common.KindBool
		}
		return exprKind(x.Expr, schema)
	case *planner.FunctionCall:
		switch x.Name {
		case "LENGTH":
			return common.KindInt
		}
		return common.KindString
	case *planner.Case:
		if len(x.Whens) > 0 {
			return exprKind(x.Whens[0].Then, schema)
		}
	}
	return common.KindString
}

func (p *project) Open(ctx context.Context) error { return p.child.Open(ctx) }
func (p *project) Close() error                   { return p.child.Close() }
func (p *project) Schema() Schema                 { return p.schema }

func (p *project) Next(ctx context.Context) (Row, error) {
	if err := checkCancelled(ctx); err != nil {
		return Row{}, err
	}
	row, err := p.child.Next(ctx)
	if err != nil {
		return Row{}, err
	}
	childSchema := p.child.Schema()
	values := make([]common.Value, len(p.exprs))
	for i, e := range p.exprs {
		v, err := Eval(e, row, childSchema)
		if err != nil {
			return Row{}, err
		}
		values[i] = v
	}
	return Row{Values: values}, nil
}
