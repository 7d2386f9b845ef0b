package planner

import (
	"fmt"

	"github.com/relational/dbcore/catalog"
	"github.com/relational/dbcore/common"
)

// bindScope maps a FROM-clause alias (or bare table name when no alias
// was given) to its resolved schema, for ColumnRef lookup (spec §4.7
// stage 1 "Binding: resolve identifiers to tables/columns via the
// catalog; attach types; reject unknowns with SemanticError").
type bindScope struct {
	tables map[string]*catalog.TableDef
	order  []string // for the unqualified-reference ambiguity check, in FROM order
}

func newBindScope() *bindScope {
	return &bindScope{tables: make(map[string]*catalog.TableDef)}
}

func semanticErr(op string, format string, args ...any) error {
	return common.NewError(common.KindSemantic, op, fmt.Errorf(format, args...))
}

// Bind resolves every identifier in stmt against cat, attaching column
// types to ColumnRef nodes in place. It mutates stmt's expression tree
// (Resolved/Ordinal/ResolvedType) rather than building a parallel typed
// tree, matching the spec's description of binding as annotation rather
// than translation.
func Bind(cat *catalog.Catalog, dbName string, stmt Stmt) (Stmt, error) {
	switch s := stmt.(type) {
	case *SelectStmt:
		if err := bindSelect(cat, dbName, s); err != nil {
			return nil, err
		}
	case *InsertStmt:
		if _, err := cat.Table(dbName, s.Table); err != nil {
			return nil, semanticErr("planner.Bind", "unknown table %q", s.Table)
		}
		if s.Subquery != nil {
			if err := bindSelect(cat, dbName, s.Subquery); err != nil {
				return nil, err
			}
		}
		for _, row := range s.Values {
			for _, e := range row {
				scope := newBindScope()
				if err := bindExpr(cat, dbName, scope, e); err != nil {
					return nil, err
				}
			}
		}
	case *UpdateStmt:
		tbl, err := cat.Table(dbName, s.Table)
		if err != nil {
			return nil, semanticErr("planner.Bind", "unknown table %q", s.Table)
		}
		scope := newBindScope()
		scope.tables[s.Table] = tbl
		scope.order = append(scope.order, s.Table)
		for _, a := range s.Assignments {
			if _, ok := tbl.Column(a.Column); !ok {
				return nil, semanticErr("planner.Bind", "unknown column %q on table %q", a.Column, s.Table)
			}
			if err := bindExpr(cat, dbName, scope, a.Value); err != nil {
				return nil, err
			}
		}
		if s.Where != nil {
			if err := bindExpr(cat, dbName, scope, s.Where); err != nil {
				return nil, err
			}
		}
	case *DeleteStmt:
		tbl, err := cat.Table(dbName, s.Table)
		if err != nil {
			return nil, semanticErr("planner.Bind", "unknown table %q", s.Table)
		}
		scope := newBindScope()
		scope.tables[s.Table] = tbl
		scope.order = append(scope.order, s.Table)
		if s.Where != nil {
			if err := bindExpr(cat, dbName, scope, s.Where); err != nil {
				return nil, err
			}
		}
	case *CreateTableStmt, *DropTableStmt, *CreateIndexStmt, *DropIndexStmt, *TxnStmt:
		// DDL and transaction control carry no identifiers the catalog
		// needs to resolve ahead of execution.
	default:
		return nil, semanticErr("planner.Bind", "unsupported statement type %T", stmt)
	}
	return stmt, nil
}

func bindSelect(cat *catalog.Catalog, dbName string, s *SelectStmt) error {
	scope := newBindScope()
	for i := range s.From {
		ref := &s.From[i]
		if ref.Subquery != nil {
			if err := bindSelect(cat, dbName, ref.Subquery); err != nil {
				return err
			}
			if ref.Alias == "" {
				return semanticErr("planner.Bind", "derived table requires an alias")
			}
			continue // a subquery's column types are recovered from its own projections by the executor, not re-bound here
		}
		tbl, err := cat.Table(dbName, ref.Table)
		if err != nil {
			return semanticErr("planner.Bind", "unknown table %q", ref.Table)
		}
		key := ref.AliasOrTable()
		if _, exists := scope.tables[key]; exists {
			return semanticErr("planner.Bind", "duplicate table/alias %q in FROM", key)
		}
		scope.tables[key] = tbl
		scope.order = append(scope.order, key)
	}

	// On clauses are bound once every FROM entry is in scope, since a
	// join condition may reference any table brought in so far.
	for i := range s.From {
		if s.From[i].On != nil {
			if err := bindExpr(cat, dbName, scope, s.From[i].On); err != nil {
				return err
			}
		}
	}

	for _, p := range s.Projections {
		if err := bindExpr(cat, dbName, scope, p); err != nil {
			return err
		}
	}
	if s.Where != nil {
		if err := bindExpr(cat, dbName, scope, s.Where); err != nil {
			return err
		}
	}
	for _, g := range s.GroupBy {
		if err := bindExpr(cat, dbName, scope, g); err != nil {
			return err
		}
	}
	if s.Having != nil {
		if err := bindExpr(cat, dbName, scope, s.Having); err != nil {
			return err
		}
	}
	for _, o := range s.OrderBy {
		if err := bindExpr(cat, dbName, scope, o.Expr); err != nil {
			return err
		}
	}
	if s.SetOp != nil && s.SetOp.Right != nil {
		if err := bindSelect(cat, dbName, s.SetOp.Right); err != nil {
			return err
		}
	}
	return nil
}

func bindExpr(cat *catalog.Catalog, dbName string, scope *bindScope, e Expr) error {
	switch x := e.(type) {
	case nil, *Literal:
		return nil
	case *ColumnRef:
		return bindColumnRef(scope, x)
	case *BinaryOp:
		if err := bindExpr(cat, dbName, scope, x.Left); err != nil {
			return err
		}
		return bindExpr(cat, dbName, scope, x.Right)
	case *UnaryOp:
		return bindExpr(cat, dbName, scope, x.Expr)
	case *FunctionCall:
		for _, a := range x.Args {
			if err := bindExpr(cat, dbName, scope, a); err != nil {
				return err
			}
		}
		return nil
	case *Aggregate:
		if x.Arg == nil {
			return nil
		}
		return bindExpr(cat, dbName, scope, x.Arg)
	case *Subquery:
		return bindSelect(cat, dbName, x.Query)
	case *In:
		if err := bindExpr(cat, dbName, scope, x.Expr); err != nil {
			return err
		}
		if x.Subquery != nil {
			return bindSelect(cat, dbName, x.Subquery)
		}
		for _, item := range x.List {
			if err := bindExpr(cat, dbName, scope, item); err != nil {
				return err
			}
		}
		return nil
	case *Between:
		if err := bindExpr(cat, dbName, scope, x.Expr); err != nil {
			return err
		}
		if err := bindExpr(cat, dbName, scope, x.Low); err != nil {
			return err
		}
		return bindExpr(cat, dbName, scope, x.High)
	case *Like:
		if err := bindExpr(cat, dbName, scope, x.Expr); err != nil {
			return err
		}
		return bindExpr(cat, dbName, scope, x.Pattern)
	case *IsNull:
		return bindExpr(cat, dbName, scope, x.Expr)
	case *Case:
		if x.Operand != nil {
			if err := bindExpr(cat, dbName, scope, x.Operand); err != nil {
				return err
			}
		}
		for _, w := range x.Whens {
			if err := bindExpr(cat, dbName, scope, w.When); err != nil {
				return err
			}
			if err := bindExpr(cat, dbName, scope, w.Then); err != nil {
				return err
			}
		}
		if x.Else != nil {
			return bindExpr(cat, dbName, scope, x.Else)
		}
		return nil
	default:
		return semanticErr("planner.Bind", "unsupported expression type %T", e)
	}
}

func bindColumnRef(scope *bindScope, ref *ColumnRef) error {
	if ref.Table != "" {
		tbl, ok := scope.tables[ref.Table]
		if !ok {
			return semanticErr("planner.Bind", "unknown table/alias %q", ref.Table)
		}
		return resolveAgainst(ref, ref.Table, tbl)
	}

	var found bool
	for _, alias := range scope.order {
		tbl := scope.tables[alias]
		if _, ok := tbl.Column(ref.Column); ok {
			if found {
				return semanticErr("planner.Bind", "ambiguous column reference %q", ref.Column)
			}
			found = true
			if err := resolveAgainst(ref, alias, tbl); err != nil {
				return err
			}
		}
	}
	if !found {
		return semanticErr("planner.Bind", "unknown column %q", ref.Column)
	}
	return nil
}

func resolveAgainst(ref *ColumnRef, alias string, tbl *catalog.TableDef) error {
	for i, c := range tbl.Columns {
		if c.Name == ref.Column {
			ref.Table = alias
			ref.Ordinal = i
			ref.ResolvedType = c.Type
			ref.Resolved = true
			return nil
		}
	}
	return semanticErr("planner.Bind", "unknown column %q on table %q", ref.Column, alias)
}
