package executor

import (
	"context"
	"fmt"
	"io"

	"github.com/relational/dbcore/catalog"
	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/lockmgr"
	"github.com/relational/dbcore/planner"
	"github.com/relational/dbcore/txn"
)

// columnValues resolves an insert row's Values list (positional, or
// Columns-ordered) into a full row in table-schema order, filling
// unmentioned columns with NULL.
func columnValues(def *catalog.TableDef, columns []string, exprs []planner.Expr) ([]common.Value, error) {
	out := make([]common.Value, len(def.Columns))
	for i, c := range def.Columns {
		out[i] = common.NullValue(c.Type)
	}
	names := columns
	if len(names) == 0 {
		for _, c := range def.Columns {
			names = append(names, c.Name)
		}
	}
	if len(names) != len(exprs) {
		return nil, fmt.Errorf("executor: insert has %d columns but %d values", len(names), len(exprs))
	}
	for i, name := range names {
		col, ok := def.Column(name)
		if !ok {
			return nil, fmt.Errorf("executor: insert references unknown column %q", name)
		}
		v, err := Eval(exprs[i], Row{}, nil)
		if err != nil {
			return nil, err
		}
		if v.IsNull && !col.Nullable {
			return nil, fmt.Errorf("executor: column %q is not nullable", name)
		}
		for j, c := range def.Columns {
			if c.Name == name {
				out[j] = v
				break
			}
		}
	}
	return out, nil
}

// indexKeyFor builds the encoded key for one index entry from a row's
// full value list.
func indexKeyFor(def *catalog.TableDef, idx catalog.IndexDef, values []common.Value) (common.Key, error) {
	key := make(common.Key, len(idx.Columns))
	for i, col := range idx.Columns {
		found := false
		for j, c := range def.Columns {
			if c.Name == col {
				key[i] = values[j]
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("executor: index %q references unknown column %q", idx.Name, col)
		}
	}
	return key, nil
}

func indexOps(def *catalog.TableDef, values []common.Value, rid common.RID, kind txn.IndexOpKind) ([]txn.IndexOp, error) {
	ops := make([]txn.IndexOp, 0, len(def.Indexes))
	for _, idx := range def.Indexes {
		key, err := indexKeyFor(def, idx, values)
		if err != nil {
			return nil, err
		}
		ops = append(ops, txn.IndexOp{
			Index: idx.Name,
			Key:   common.EncodeKey(key, common.NullsLast),
			RID:   rid,
			Kind:  kind,
		})
	}
	return ops, nil
}

// checkUnique rejects an insert/update that would duplicate an existing
// key in any unique index (the primary key's index included, since
// OpenTableHandle builds it the same way as any other unique index).
func checkUnique(th *TableHandle, def *catalog.TableDef, values []common.Value, skip common.RID, hasSkip bool) error {
	for _, idx := range def.Indexes {
		if !idx.Unique {
			continue
		}
		tree, ok := th.Indexes[idx.Name]
		if !ok {
			continue
		}
		key, err := indexKeyFor(def, idx, values)
		if err != nil {
			return err
		}
		rid, err := tree.Lookup(key)
		if err == nil && (!hasSkip || rid != skip) {
			return fmt.Errorf("executor: unique constraint %q violated", idx.Name)
		}
	}
	return nil
}

// checkForeignKeys rejects an insert/update whose new row references a
// parent key that doesn't exist (spec §4.6 FK enforcement). A FK column
// that is NULL is never checked (SQL's MATCH SIMPLE semantics).
func checkForeignKeys(ec *ExecContext, def *catalog.TableDef, values []common.Value) error {
	probes, err := ec.Catalog.ParentProbesFor(ec.DBName, def.Name)
	if err != nil {
		return err
	}
	for _, probe := range probes {
		key := make(common.Key, len(probe.Constraint.Columns))
		anyNull := false
		for i, col := range probe.Constraint.Columns {
			for j, c := range def.Columns {
				if c.Name == col {
					key[i] = values[j]
					if values[j].IsNull {
						anyNull = true
					}
					break
				}
			}
		}
		if anyNull {
			continue
		}
		if err := ec.Tables.OpenTable(probe.Constraint.RefTable); err != nil {
			return err
		}
		tree, _, err := ec.Tables.IndexTree(probe.ParentIndex.Name)
		if err != nil {
			return err
		}
		it, err := tree.RangeScanEqual(key)
		if err != nil {
			return err
		}
		found := it.Next()
		it.Close()
		if !found {
			return fmt.Errorf("executor: foreign key %q violated: no matching row in %q", probe.Constraint.Name, probe.Constraint.RefTable)
		}
	}
	return nil
}

// checkDependentChildren enforces (or cascades) the RESTRICT/CASCADE
// behavior of a deleted parent row. Only deleteOp calls it: updateOp
// neither checks nor cascades to dependent child rows. Cascade
// deletes only one level deep — a child row that is itself a parent of
// further cascades is outside this pass's scope (see DESIGN.md).
func checkDependentChildren(ec *ExecContext, def *catalog.TableDef, values []common.Value) error {
	deps, err := ec.Catalog.ChildDependenciesOf(ec.DBName, def.Name)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		key := make(common.Key, len(dep.Constraint.RefColumns))
		for i, col := range dep.Constraint.RefColumns {
			for j, c := range def.Columns {
				if c.Name == col {
					key[i] = values[j]
					break
				}
			}
		}
		if err := ec.Tables.OpenTable(dep.ChildTable); err != nil {
			return err
		}
		tree, _, err := ec.Tables.IndexTree(dep.ChildIndex.Name)
		if err != nil {
			return err
		}
		it, err := tree.RangeScanEqual(key)
		if err != nil {
			return err
		}
		var matches []common.RID
		for it.Next() {
			matches = append(matches, it.RID())
		}
		it.Close()
		if len(matches) == 0 {
			continue
		}
		if !dep.Constraint.OnDeleteCascade {
			return fmt.Errorf("executor: foreign key %q on %q restricts delete/update of referenced row", dep.Constraint.Name, dep.ChildTable)
		}
		childTh, err := ec.Tables.Table(dep.ChildTable)
		if err != nil {
			return err
		}
		for _, rid := range matches {
			if err := deleteRow(ec, dep.ChildTable, childTh, rid); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteRow performs one row's physical delete plus index maintenance
// and WAL logging — the operation insertOp/updateOp/deleteOp and
// checkDependentChildren's cascade all funnel through.
func deleteRow(ec *ExecContext, table string, th *TableHandle, rid common.RID) error {
	if ec.Txn != nil {
		if err := ec.Txn.LockRow(table, rid, lockmgr.X); err != nil {
			return err
		}
	}
	preImage, err := th.Heap.Get(rid)
	if err != nil {
		return err
	}
	preValues, err := DecodeRow(preImage, th.RowKinds())
	if err != nil {
		return err
	}
	ops, err := indexOps(th.Def, preValues, rid, txn.IndexDelete)
	if err != nil {
		return err
	}
	if ec.Txn != nil {
		if err := ec.Txn.RecordWrite(table, rid, preImage, nil, ops); err != nil {
			return err
		}
	}
	if err := ec.App.ApplyRedo(table, rid, nil); err != nil {
		return err
	}
	for _, op := range ops {
		if err := ec.App.ApplyIndexRedo(op); err != nil {
			return err
		}
	}
	if ec.Cache != nil {
		ec.Cache.Invalidate(table)
	}
	return nil
}

// insertOp evaluates each VALUES row (or pulls rows from an INSERT ...
// SELECT child), allocates a RID, and writes the row through the WAL
// and into the table's heap and indexes (spec §4.8 "Insert").
type insertOp struct {
	ec     *ExecContext
	table  string
	cols   []string
	values [][]planner.Expr
	source Iterator

	th      *TableHandle
	done    bool
	applied int64
}

func newInsert(node *planner.PlanNode, source Iterator, ec *ExecContext) (*insertOp, error) {
	return &insertOp{ec: ec, table: node.Table, cols: node.Columns, values: node.Values, source: source}, nil
}

func (op *insertOp) Open(ctx context.Context) error {
	if op.ec.Txn != nil {
		if err := op.ec.Txn.LockTable(op.table, lockmgr.IX); err != nil {
			return err
		}
	}
	if err := op.ec.Tables.OpenTable(op.table); err != nil {
		return err
	}
	th, err := op.ec.Tables.Table(op.table)
	if err != nil {
		return err
	}
	op.th = th
	if op.source != nil {
		return op.source.Open(ctx)
	}
	return nil
}

func (op *insertOp) Close() error {
	if op.source != nil {
		return op.source.Close()
	}
	return nil
}

func (op *insertOp) Schema() Schema {
	return Schema{{Name: "rows_affected", Kind: common.KindInt}}
}

func (op *insertOp) insertValues(ctx context.Context, values []common.Value) error {
	if err := checkUnique(op.th, op.th.Def, values, 0, false); err != nil {
		return err
	}
	if err := checkForeignKeys(op.ec, op.th.Def, values); err != nil {
		return err
	}
	rid, err := op.th.Heap.Allocate()
	if err != nil {
		return err
	}
	if op.ec.Txn != nil {
		if err := op.ec.Txn.LockRow(op.table, rid, lockmgr.X); err != nil {
			return err
		}
	}
	postImage := EncodeRow(values)
	ops, err := indexOps(op.th.Def, values, rid, txn.IndexInsert)
	if err != nil {
		return err
	}
	if op.ec.Txn != nil {
		if err := op.ec.Txn.RecordWrite(op.table, rid, nil, postImage, ops); err != nil {
			return err
		}
	}
	if err := op.ec.App.ApplyRedo(op.table, rid, postImage); err != nil {
		return err
	}
	for _, o := range ops {
		if err := op.ec.App.ApplyIndexRedo(o); err != nil {
			return err
		}
	}
	if op.ec.Cache != nil {
		op.ec.Cache.Invalidate(op.table)
	}
	op.applied++
	return nil
}

// Next runs the whole insert to completion on its first call and
// returns one summary row, matching the teacher's demo CLI's pattern of
// reporting a statement's row count rather than streaming DML rows.
func (op *insertOp) Next(ctx context.Context) (Row, error) {
	if op.done {
		return Row{}, io.EOF
	}
	op.done = true

	if op.source != nil {
		for {
			if err := checkCancelled(ctx); err != nil {
				return Row{}, err
			}
			row, err := op.source.Next(ctx)
			if err != nil {
				if err == io.EOF {
					break
				}
				return Row{}, err
			}
			if err := op.insertValues(ctx, row.Values); err != nil {
				return Row{}, err
			}
		}
	} else {
		for _, exprs := range op.values {
			if err := checkCancelled(ctx); err != nil {
				return Row{}, err
			}
			values, err := columnValues(op.th.Def, op.cols, exprs)
			if err != nil {
				return Row{}, err
			}
			if err := op.insertValues(ctx, values); err != nil {
				return Row{}, err
			}
		}
	}
	return Row{Values: []common.Value{common.IntValue(op.applied)}}, nil
}

// updateOp re-evaluates each assignment against the scanned row, checks
// constraints against the new values, and writes the change through the
// same WAL + physical-apply path insertOp uses (spec §4.8 "Update").
type updateOp struct {
	ec          *ExecContext
	table       string
	assignments []planner.Assignment
	child       Iterator

	th      *TableHandle
	done    bool
	applied int64
}

func newUpdate(node *planner.PlanNode, child Iterator, ec *ExecContext) (*updateOp, error) {
	return &updateOp{ec: ec, table: node.Table, assignments: node.Assignments, child: child}, nil
}

func (op *updateOp) Open(ctx context.Context) error {
	if op.ec.Txn != nil {
		if err := op.ec.Txn.LockTable(op.table, lockmgr.IX); err != nil {
			return err
		}
	}
	th, err := op.ec.Tables.Table(op.table)
	if err != nil {
		return err
	}
	op.th = th
	return op.child.Open(ctx)
}

func (op *updateOp) Close() error { return op.child.Close() }

func (op *updateOp) Schema() Schema {
	return Schema{{Name: "rows_affected", Kind: common.KindInt}}
}

func (op *updateOp) Next(ctx context.Context) (Row, error) {
	if op.done {
		return Row{}, io.EOF
	}
	op.done = true
	childSchema := op.child.Schema()

	for {
		if err := checkCancelled(ctx); err != nil {
			return Row{}, err
		}
		row, err := op.child.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return Row{}, err
		}
		if op.ec.Txn != nil {
			if err := op.ec.Txn.LockRow(op.table, row.RID, lockmgr.X); err != nil {
				return Row{}, err
			}
		}
		newValues := append([]common.Value(nil), row.Values...)
		for _, a := range op.assignments {
			v, err := Eval(a.Value, row, childSchema)
			if err != nil {
				return Row{}, err
			}
			for j, c := range op.th.Def.Columns {
				if c.Name == a.Column {
					newValues[j] = v
					break
				}
			}
		}
		if err := checkUnique(op.th, op.th.Def, newValues, row.RID, true); err != nil {
			return Row{}, err
		}
		if err := checkForeignKeys(op.ec, op.th.Def, newValues); err != nil {
			return Row{}, err
		}
		preImage := EncodeRow(row.Values)
		postImage := EncodeRow(newValues)
		delOps, err := indexOps(op.th.Def, row.Values, row.RID, txn.IndexDelete)
		if err != nil {
			return Row{}, err
		}
		insOps, err := indexOps(op.th.Def, newValues, row.RID, txn.IndexInsert)
		if err != nil {
			return Row{}, err
		}
		ops := append(delOps, insOps...)
		if op.ec.Txn != nil {
			if err := op.ec.Txn.RecordWrite(op.table, row.RID, preImage, postImage, ops); err != nil {
				return Row{}, err
			}
		}
		if err := op.ec.App.ApplyRedo(op.table, row.RID, postImage); err != nil {
			return Row{}, err
		}
		for _, o := range ops {
			if err := op.ec.App.ApplyIndexRedo(o); err != nil {
				return Row{}, err
			}
		}
		if op.ec.Cache != nil {
			op.ec.Cache.Invalidate(op.table)
		}
		op.applied++
	}
	return Row{Values: []common.Value{common.IntValue(op.applied)}}, nil
}

// deleteOp removes every row its child scan produces, after checking
// for dependent child rows that restrict or cascade the delete (spec
// §4.8 "Delete").
type deleteOp struct {
	ec    *ExecContext
	table string
	child Iterator

	th      *TableHandle
	done    bool
	applied int64
}

func newDelete(node *planner.PlanNode, child Iterator, ec *ExecContext) (*deleteOp, error) {
	return &deleteOp{ec: ec, table: node.Table, child: child}, nil
}

func (op *deleteOp) Open(ctx context.Context) error {
	if op.ec.Txn != nil {
		if err := op.ec.Txn.LockTable(op.table, lockmgr.IX); err != nil {
			return err
		}
	}
	th, err := op.ec.Tables.Table(op.table)
	if err != nil {
		return err
	}
	op.th = th
	return op.child.Open(ctx)
}

func (op *deleteOp) Close() error { return op.child.Close() }

func (op *deleteOp) Schema() Schema {
	return Schema{{Name: "rows_affected", Kind: common.KindInt}}
}

func (op *deleteOp) Next(ctx context.Context) (Row, error) {
	if op.done {
		return Row{}, io.EOF
	}
	op.done = true

	for {
		if err := checkCancelled(ctx); err != nil {
			return Row{}, err
		}
		row, err := op.child.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return Row{}, err
		}
		if err := checkDependentChildren(op.ec, op.th.Def, row.Values); err != nil {
			return Row{}, err
		}
		if err := deleteRow(op.ec, op.table, op.th, row.RID); err != nil {
			return Row{}, err
		}
		op.applied++
	}
	return Row{Values: []common.Value{common.IntValue(op.applied)}}, nil
}
