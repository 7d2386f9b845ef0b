package executor

import (
	"fmt"
	"strings"

	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/planner"
)

// Eval evaluates a scalar expression against row under schema. Aggregate
// nodes are not evaluated here — HashAggregate/SortAggregate strip them
// out of a projection list and compute them incrementally instead (spec
// §4.8 "Aggregation semantics").
func Eval(e planner.Expr, row Row, schema Schema) (common.Value, error) {
	switch x := e.(type) {
	case nil:
		return common.Value{}, fmt.Errorf("executor: nil expression")

	case *planner.Literal:
		return x.Value, nil

	case *planner.ColumnRef:
		idx, ok := schema.Resolve(x.Table, x.Column)
		if !ok {
			return common.Value{}, fmt.Errorf("executor: column %s.%s not found in row", x.Table, x.Column)
		}
		return row.Values[idx], nil

	case *planner.BinaryOp:
		return evalBinary(x, row, schema)

	case *planner.UnaryOp:
		v, err := Eval(x.Expr, row, schema)
		if err != nil {
			return common.Value{}, err
		}
		switch x.Kind {
		case planner.OpNot:
			if v.IsNull {
				return common.NullValue(common.KindBool), nil
			}
			return common.BoolValue(!v.Bool), nil
		case planner.OpNeg:
			if v.IsNull {
				return v, nil
			}
			if v.Kind == common.KindFloat {
				return common.FloatValue(-v.Float64), nil
			}
			return common.IntValue(-v.Int), nil
		}
		return common.Value{}, fmt.Errorf("executor: unknown unary op %v", x.Kind)

	case *planner.FunctionCall:
		return evalFunction(x, row, schema)

	case *planner.In:
		return evalIn(x, row, schema)

	case *planner.Between:
		return evalBetween(x, row, schema)

	case *planner.Like:
		return evalLike(x, row, schema)

	case *planner.IsNull:
		v, err := Eval(x.Expr, row, schema)
		if err != nil {
			return common.Value{}, err
		}
		result := v.IsNull
		if x.Negate {
			result = !result
		}
		return common.BoolValue(result), nil

	case *planner.Case:
		return evalCase(x, row, schema)

	case *planner.Subquery:
		// Scalar/correlated subquery expressions are out of scope: the
		// planner only plans FROM-clause subqueries and rewrites
		// `IN (subquery)` into a semi-join (planner/normalize.go); no
		// plan shape reaches here with a bare *Subquery node.
		return common.Value{}, fmt.Errorf("executor: scalar subquery expressions are not supported")

	case *planner.Aggregate:
		idx, ok := schema.Resolve("", aggregateKey(*x))
		if !ok {
			return common.Value{}, fmt.Errorf("executor: aggregate %v not found in row — must be evaluated by a HashAggregate/SortAggregate below this operator", x.Kind)
		}
		return row.Values[idx], nil

	default:
		return common.Value{}, fmt.Errorf("executor: unknown expression type %T", e)
	}
}

func evalBinary(b *planner.BinaryOp, row Row, schema Schema) (common.Value, error) {
	if b.Kind == planner.OpAnd || b.Kind == planner.OpOr {
		return evalLogical(b, row, schema)
	}

	l, err := Eval(b.Left, row, schema)
	if err != nil {
		return common.Value{}, err
	}
	r, err := Eval(b.Right, row, schema)
	if err != nil {
		return common.Value{}, err
	}

	switch b.Kind {
	case planner.OpEq, planner.OpNeq, planner.OpLt, planner.OpLte, planner.OpGt, planner.OpGte:
		if l.IsNull || r.IsNull {
			return common.NullValue(common.KindBool), nil
		}
		cmp := compareValues(l, r)
		var result bool
		switch b.Kind {
		case planner.OpEq:
			result = cmp == 0
		case planner.OpNeq:
			result = cmp != 0
		case planner.OpLt:
			result = cmp < 0
		case planner.OpLte:
			result = cmp <= 0
		case planner.OpGt:
			result = cmp > 0
		case planner.OpGte:
			result = cmp >= 0
		}
		return common.BoolValue(result), nil

	case planner.OpAdd, planner.OpSub, planner.OpMul, planner.OpDiv:
		return evalArith(b.Kind, l, r)
	}
	return common.Value{}, fmt.Errorf("executor: unknown binary op %v", b.Kind)
}

// evalLogical implements SQL three-valued AND/OR short-circuiting: a
// false AND anything is false even if the other side is NULL, and
// symmetrically for true OR.
func evalLogical(b *planner.BinaryOp, row Row, schema Schema) (common.Value, error) {
	l, err := Eval(b.Left, row, schema)
	if err != nil {
		return common.Value{}, err
	}
	if b.Kind == planner.OpAnd && !l.IsNull && !l.Bool {
		return common.BoolValue(false), nil
	}
	if b.Kind == planner.OpOr && !l.IsNull && l.Bool {
		return common.BoolValue(true), nil
	}
	r, err := Eval(b.Right, row, schema)
	if err != nil {
		return common.Value{}, err
	}
	if l.IsNull || r.IsNull {
		if b.Kind == planner.OpAnd && ((!r.IsNull && !r.Bool) || (!l.IsNull && !l.Bool)) {
			return common.BoolValue(false), nil
		}
		if b.Kind == planner.OpOr && ((!r.IsNull && r.Bool) || (!l.IsNull && l.Bool)) {
			return common.BoolValue(true), nil
		}
		return common.NullValue(common.KindBool), nil
	}
	if b.Kind == planner.OpAnd {
		return common.BoolValue(l.Bool && r.Bool), nil
	}
	return common.BoolValue(l.Bool || r.Bool), nil
}

func asFloat(v common.Value) float64 {
	if v.Kind == common.KindFloat {
		return v.Float64
	}
	return float64(v.Int)
}

func evalArith(kind planner.BinaryOpKind, l, r common.Value) (common.Value, error) {
	if l.IsNull || r.IsNull {
		return common.NullValue(common.KindFloat), nil
	}
	useFloat := l.Kind == common.KindFloat || r.Kind == common.KindFloat
	if useFloat {
		lf, rf := asFloat(l), asFloat(r)
		switch kind {
		case planner.OpAdd:
			return common.FloatValue(lf + rf), nil
		case planner.OpSub:
			return common.FloatValue(lf - rf), nil
		case planner.OpMul:
			return common.FloatValue(lf * rf), nil
		case planner.OpDiv:
			if rf == 0 {
				return common.Value{}, fmt.Errorf("executor: division by zero")
			}
			return common.FloatValue(lf / rf), nil
		}
	}
	switch kind {
	case planner.OpAdd:
		return common.IntValue(l.Int + r.Int), nil
	case planner.OpSub:
		return common.IntValue(l.Int - r.Int), nil
	case planner.OpMul:
		return common.IntValue(l.Int * r.Int), nil
	case planner.OpDiv:
		if r.Int == 0 {
			return common.Value{}, fmt.Errorf("executor: division by zero")
		}
		return common.IntValue(l.Int / r.Int), nil
	}
	return common.Value{}, fmt.Errorf("executor: unknown arithmetic op %v", kind)
}

// compareValues orders two non-null values of (assumed) comparable
// kinds, mirroring common.CompositeComparator's per-value comparison.
func compareValues(a, b common.Value) int {
	switch a.Kind {
	case common.KindInt:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		default:
			return 0
		}
	case common.KindFloat:
		af, bf := asFloat(a), asFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case common.KindBool:
		if a.Bool == b.Bool {
			return 0
		}
		if !a.Bool {
			return -1
		}
		return 1
	default:
		return strings.Compare(a.Str, b.Str)
	}
}

func evalFunction(f *planner.FunctionCall, row Row, schema Schema) (common.Value, error) {
	args := make([]common.Value, len(f.Args))
	for i, a := range f.Args {
		v, err := Eval(a, row, schema)
		if err != nil {
			return common.Value{}, err
		}
		args[i] = v
	}
	switch strings.ToUpper(f.Name) {
	case "UPPER":
		if len(args) != 1 {
			return common.Value{}, fmt.Errorf("executor: UPPER takes one argument")
		}
		if args[0].IsNull {
			return common.NullValue(common.KindString), nil
		}
		return common.StringValue(strings.ToUpper(args[0].Str)), nil
	case "LOWER":
		if len(args) != 1 {
			return common.Value{}, fmt.Errorf("executor: LOWER takes one argument")
		}
		if args[0].IsNull {
			return common.NullValue(common.KindString), nil
		}
		return common.StringValue(strings.ToLower(args[0].Str)), nil
	case "LENGTH":
		if len(args) != 1 {
			return common.Value{}, fmt.Errorf("executor: LENGTH takes one argument")
		}
		if args[0].IsNull {
			return common.NullValue(common.KindInt), nil
		}
		return common.IntValue(int64(len(args[0].Str))), nil
	case "COALESCE":
		for _, a := range args {
			if !a.IsNull {
				return a, nil
			}
		}
		if len(args) == 0 {
			return common.Value{}, fmt.Errorf("executor: COALESCE takes at least one argument")
		}
		return args[len(args)-1], nil
	}
	return common.Value{}, fmt.Errorf("executor: unknown function %q", f.Name)
}

func evalIn(in *planner.In, row Row, schema Schema) (common.Value, error) {
	if in.Subquery != nil {
		return common.Value{}, fmt.Errorf("executor: IN (subquery) should have been rewritten to a semi-join by the planner")
	}
	v, err := Eval(in.Expr, row, schema)
	if err != nil {
		return common.Value{}, err
	}
	if v.IsNull {
		return common.NullValue(common.KindBool), nil
	}
	sawNull := false
	for _, item := range in.List {
		iv, err := Eval(item, row, schema)
		if err != nil {
			return common.Value{}, err
		}
		if iv.IsNull {
			sawNull = true
			continue
		}
		if compareValues(v, iv) == 0 {
			return common.BoolValue(!in.Negate), nil
		}
	}
	if sawNull {
		return common.NullValue(common.KindBool), nil
	}
	return common.BoolValue(in.Negate), nil
}

func evalBetween(b *planner.Between, row Row, schema Schema) (common.Value, error) {
	v, err := Eval(b.Expr, row, schema)
	if err != nil {
		return common.Value{}, err
	}
	lo, err := Eval(b.Low, row, schema)
	if err != nil {
		return common.Value{}, err
	}
	hi, err := Eval(b.High, row, schema)
	if err != nil {
		return common.Value{}, err
	}
	if v.IsNull || lo.IsNull || hi.IsNull {
		return common.NullValue(common.KindBool), nil
	}
	result := compareValues(v, lo) >= 0 && compareValues(v, hi) <= 0
	if b.Negate {
		result = !result
	}
	return common.BoolValue(result), nil
}

// evalLike implements SQL LIKE with % (any run) and _ (single char)
// wildcards, translated to a simple greedy matcher rather than pulling
// in a regex dependency for two wildcard characters.
func evalLike(l *planner.Like, row Row, schema Schema) (common.Value, error) {
	v, err := Eval(l.Expr, row, schema)
	if err != nil {
		return common.Value{}, err
	}
	p, err := Eval(l.Pattern, row, schema)
	if err != nil {
		return common.Value{}, err
	}
	if v.IsNull || p.IsNull {
		return common.NullValue(common.KindBool), nil
	}
	result := likeMatch(v.Str, p.Str)
	if l.Negate {
		result = !result
	}
	return common.BoolValue(result), nil
}

func likeMatch(s, pattern string) bool {
	var match func(si, pi int) bool
	match = func(si, pi int) bool {
		for pi < len(pattern) {
			switch pattern[pi] {
			case '%':
				for pi < len(pattern) && pattern[pi] == '%' {
					pi++
				}
				if pi == len(pattern) {
					return true
				}
				for ; si <= len(s); si++ {
					if match(si, pi) {
						return true
					}
				}
				return false
			case '_':
				if si >= len(s) {
					return false
				}
				si++
				pi++
			default:
				if si >= len(s) || s[si] != pattern[pi] {
					return false
				}
				si++
				pi++
			}
		}
		return si == len(s)
	}
	return match(0, 0)
}

func evalCase(c *planner.Case, row Row, schema Schema) (common.Value, error) {
	var operand *common.Value
	if c.Operand != nil {
		v, err := Eval(c.Operand, row, schema)
		if err != nil {
			return common.Value{}, err
		}
		operand = &v
	}
	for _, w := range c.Whens {
		if operand != nil {
			wv, err := Eval(w.When, row, schema)
			if err != nil {
				return common.Value{}, err
			}
			if wv.IsNull || operand.IsNull {
				continue
			}
			if compareValues(*operand, wv) == 0 {
				return Eval(w.Then, row, schema)
			}
			continue
		}
		cond, err := Eval(w.When, row, schema)
		if err != nil {
			return common.Value{}, err
		}
		if !cond.IsNull && cond.Bool {
			return Eval(w.Then, row, schema)
		}
	}
	if c.Else != nil {
		return Eval(c.Else, row, schema)
	}
	return common.Value{}, nil
}

// Truthy reports whether a filter predicate's result admits the row:
// SQL WHERE/HAVING/JoinPredicate treat NULL the same as false.
func Truthy(v common.Value) bool {
	return !v.IsNull && v.Kind == common.KindBool && v.Bool
}
