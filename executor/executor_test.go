package executor

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relational/dbcore/catalog"
	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/internal/dblog"
	"github.com/relational/dbcore/internal/metrics"
	"github.com/relational/dbcore/planner"
	"github.com/relational/dbcore/txn"
	"github.com/relational/dbcore/wal"
)

// testEngine wires a catalog, table registry, applier and txn manager
// against a fresh temp directory, mirroring the bootstrap order
// engine.Open follows (catalog -> registry -> applier -> WAL ->
// txn manager), without the engine package's planner, result cache or
// session plumbing.
type testEngine struct {
	t       *testing.T
	dir     string
	cat     *catalog.Catalog
	reg     *TableRegistry
	app     *Applier
	wal     *wal.WAL
	mgr     *txn.Manager
	planner *planner.Planner
	cache   *ResultCache
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	dir := t.TempDir()
	cat, err := catalog.Open(dir)
	require.NoError(t, err)
	require.NoError(t, cat.CreateDatabase("shop"))

	reg, err := executorOpenEmptyRegistry(dir, cat, "shop")
	require.NoError(t, err)

	app := NewApplier(reg)

	w, err := wal.Open(wal.Config{Dir: dir}, dblog.Nop(), metrics.Noop())
	require.NoError(t, err)

	mgr, err := txn.OpenWithLogging(w, txn.Config{Applier: app}, dblog.Nop(), metrics.Noop())
	require.NoError(t, err)

	pl, err := planner.New(cat, 16)
	require.NoError(t, err)

	cache, err := NewResultCache(16)
	require.NoError(t, err)

	return &testEngine{t: t, dir: dir, cat: cat, reg: reg, app: app, wal: w, mgr: mgr, planner: pl, cache: cache}
}

// executorOpenEmptyRegistry is OpenTableRegistry under a more honest
// name for this file's purposes — no tables exist yet at construction,
// since CreateTable/CreateIndex run against the catalog only and a
// table's heap/index files are opened lazily via TableRegistry.OpenTable.
func executorOpenEmptyRegistry(dir string, cat *catalog.Catalog, dbName string) (*TableRegistry, error) {
	return OpenTableRegistry(dir, cat, dbName)
}

func (e *testEngine) createCustomers() {
	e.t.Helper()
	require.NoError(e.t, e.cat.CreateTable("shop", "customers",
		[]catalog.Column{
			{Name: "id", Type: common.KindInt},
			{Name: "name", Type: common.KindString},
			{Name: "balance", Type: common.KindInt},
		},
		[]catalog.Constraint{
			{Name: "pk_customers", Kind: catalog.ConstraintPrimaryKey, Columns: []string{"id"}},
		}))
	require.NoError(e.t, e.cat.CreateIndex("shop", "customers", "pk_customers_idx", []string{"id"}, true,
		e.dir+"/customers_id.tree"))
	require.NoError(e.t, e.reg.OpenTable("customers"))
}

func (e *testEngine) execContext(tx *txn.Transaction) *ExecContext {
	return &ExecContext{
		Catalog: e.cat,
		DBName:  "shop",
		Tables:  e.reg,
		App:     e.app,
		Txn:     tx,
		Cache:   e.cache,
		Log:     dblog.Nop(),
		Metrics: metrics.Noop(),
	}
}

func (e *testEngine) run(stmt planner.Stmt) []Row {
	e.t.Helper()
	tx, err := e.mgr.Begin()
	require.NoError(e.t, err)

	plan, err := e.planner.Plan("shop", stmt)
	require.NoError(e.t, err)

	it, err := Build(plan.Root, e.execContext(tx))
	require.NoError(e.t, err)
	require.NoError(e.t, it.Open(context.Background()))

	var rows []Row
	for {
		row, err := it.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(e.t, err)
		rows = append(rows, row.Clone())
	}
	require.NoError(e.t, it.Close())
	require.NoError(e.t, tx.Commit())
	return rows
}

func intLit(v int64) planner.Expr    { return &planner.Literal{Value: common.IntValue(v)} }
func strLit(v string) planner.Expr   { return &planner.Literal{Value: common.StringValue(v)} }
func col(table, name string) planner.Expr {
	return &planner.ColumnRef{Table: table, Column: name}
}

func insertCustomer(id int64, name string, balance int64) *planner.InsertStmt {
	return &planner.InsertStmt{
		Table:   "customers",
		Columns: []string{"id", "name", "balance"},
		Values:  [][]planner.Expr{{intLit(id), strLit(name), intLit(balance)}},
	}
}

func TestInsertThenSeqScan(t *testing.T) {
	e := newTestEngine(t)
	e.createCustomers()

	result := e.run(insertCustomer(1, "ada", 100))
	require.Len(t, result, 1)
	require.Equal(t, int64(1), result[0].Values[0].Int)

	rows := e.run(&planner.SelectStmt{
		Projections: []planner.Expr{col("customers", "id"), col("customers", "name"), col("customers", "balance")},
		From:        []planner.TableRef{{Table: "customers"}},
	})
	require.Len(t, rows, 1)
	require.Equal(t, int64(1), rows[0].Values[0].Int)
	require.Equal(t, "ada", rows[0].Values[1].Str)
	require.Equal(t, int64(100), rows[0].Values[2].Int)
}

func TestInsertRejectsDuplicatePrimaryKey(t *testing.T) {
	e := newTestEngine(t)
	e.createCustomers()
	e.run(insertCustomer(1, "ada", 100))

	tx, err := e.mgr.Begin()
	require.NoError(t, err)
	plan, err := e.planner.Plan("shop", insertCustomer(1, "grace", 50))
	require.NoError(t, err)
	it, err := Build(plan.Root, e.execContext(tx))
	require.NoError(t, err)
	require.NoError(t, it.Open(context.Background()))
	_, err = it.Next(context.Background())
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
}

func TestUpdateChangesRowAndInvalidatesResultCache(t *testing.T) {
	e := newTestEngine(t)
	e.createCustomers()
	e.run(insertCustomer(1, "ada", 100))
	e.run(insertCustomer(2, "grace", 200))

	e.cache.Put(42, Schema{{Name: "n", Kind: common.KindInt}}, []Row{{Values: []common.Value{common.IntValue(1)}}}, []string{"customers"})
	_, _, hit := e.cache.Get(42)
	require.True(t, hit)

	result := e.run(&planner.UpdateStmt{
		Table:       "customers",
		Assignments: []planner.Assignment{{Column: "balance", Value: intLit(500)}},
		Where:       &planner.BinaryOp{Kind: planner.OpEq, Left: col("customers", "id"), Right: intLit(1)},
	})
	require.Len(t, result, 1)
	require.Equal(t, int64(1), result[0].Values[0].Int)

	_, _, hit = e.cache.Get(42)
	require.False(t, hit, "an update against customers must invalidate cached results depending on it")

	rows := e.run(&planner.SelectStmt{
		Projections: []planner.Expr{col("customers", "balance")},
		From:        []planner.TableRef{{Table: "customers"}},
		Where:       &planner.BinaryOp{Kind: planner.OpEq, Left: col("customers", "id"), Right: intLit(1)},
	})
	require.Len(t, rows, 1)
	require.Equal(t, int64(500), rows[0].Values[0].Int)
}

func TestDeleteRemovesRow(t *testing.T) {
	e := newTestEngine(t)
	e.createCustomers()
	e.run(insertCustomer(1, "ada", 100))
	e.run(insertCustomer(2, "grace", 200))

	result := e.run(&planner.DeleteStmt{
		Table: "customers",
		Where: &planner.BinaryOp{Kind: planner.OpEq, Left: col("customers", "id"), Right: intLit(1)},
	})
	require.Len(t, result, 1)
	require.Equal(t, int64(1), result[0].Values[0].Int)

	rows := e.run(&planner.SelectStmt{
		Projections: []planner.Expr{col("customers", "id")},
		From:        []planner.TableRef{{Table: "customers"}},
	})
	require.Len(t, rows, 1)
	require.Equal(t, int64(2), rows[0].Values[0].Int)
}

func TestForeignKeyRestrictsInsertAndCascadesDelete(t *testing.T) {
	e := newTestEngine(t)
	e.createCustomers()
	e.run(insertCustomer(1, "ada", 100))

	require.NoError(t, e.cat.CreateTable("shop", "orders",
		[]catalog.Column{
			{Name: "id", Type: common.KindInt},
			{Name: "customer_id", Type: common.KindInt},
		},
		[]catalog.Constraint{
			{Name: "pk_orders", Kind: catalog.ConstraintPrimaryKey, Columns: []string{"id"}},
			{Name: "fk_orders_customer", Kind: catalog.ConstraintForeignKey, Columns: []string{"customer_id"}, RefTable: "customers", RefColumns: []string{"id"}, OnDeleteCascade: true},
		}))
	require.NoError(t, e.cat.CreateIndex("shop", "orders", "pk_orders_idx", []string{"id"}, true, e.dir+"/orders_id.tree"))
	require.NoError(t, e.cat.CreateIndex("shop", "orders", "idx_orders_customer", []string{"customer_id"}, false, e.dir+"/orders_customer.tree"))
	require.NoError(t, e.reg.OpenTable("orders"))

	// A foreign key referencing a non-existent customer must be rejected.
	tx, err := e.mgr.Begin()
	require.NoError(t, err)
	badInsert := &planner.InsertStmt{Table: "orders", Columns: []string{"id", "customer_id"}, Values: [][]planner.Expr{{intLit(1), intLit(99)}}}
	plan, err := e.planner.Plan("shop", badInsert)
	require.NoError(t, err)
	it, err := Build(plan.Root, e.execContext(tx))
	require.NoError(t, err)
	require.NoError(t, it.Open(context.Background()))
	_, err = it.Next(context.Background())
	require.Error(t, err)
	require.NoError(t, tx.Rollback())

	// A valid order referencing customer 1 is accepted.
	result := e.run(&planner.InsertStmt{Table: "orders", Columns: []string{"id", "customer_id"}, Values: [][]planner.Expr{{intLit(1), intLit(1)}}})
	require.Len(t, result, 1)
	require.Equal(t, int64(1), result[0].Values[0].Int)

	// Deleting the customer cascades into deleting its order.
	e.run(&planner.DeleteStmt{Table: "customers", Where: &planner.BinaryOp{Kind: planner.OpEq, Left: col("customers", "id"), Right: intLit(1)}})

	rows := e.run(&planner.SelectStmt{Projections: []planner.Expr{col("orders", "id")}, From: []planner.TableRef{{Table: "orders"}}})
	require.Len(t, rows, 0)
}

func TestHashAggregateCountAndSum(t *testing.T) {
	child := &fakeIterator{
		schema: Schema{{Name: "amount", Kind: common.KindInt}},
		rows: []Row{
			{Values: []common.Value{common.IntValue(10)}},
			{Values: []common.Value{common.IntValue(20)}},
			{Values: []common.Value{common.IntValue(5)}},
		},
	}
	node := &planner.PlanNode{
		Aggregates: []planner.Aggregate{
			{Kind: planner.AggCountStar},
			{Kind: planner.AggSum, Arg: &planner.ColumnRef{Column: "amount"}},
		},
	}
	agg, err := newHashAggregate(node, child)
	require.NoError(t, err)
	require.NoError(t, agg.Open(context.Background()))
	row, err := agg.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), row.Values[0].Int)
	require.Equal(t, int64(35), row.Values[1].Int)
	_, err = agg.Next(context.Background())
	require.Equal(t, io.EOF, err)
}

func TestHashAggregateEmptyInputStillEmitsOneRow(t *testing.T) {
	child := &fakeIterator{schema: Schema{{Name: "amount", Kind: common.KindInt}}}
	node := &planner.PlanNode{Aggregates: []planner.Aggregate{{Kind: planner.AggCountStar}}}
	agg, err := newHashAggregate(node, child)
	require.NoError(t, err)
	require.NoError(t, agg.Open(context.Background()))
	row, err := agg.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), row.Values[0].Int)
}

func TestSortOrdersAscendingWithNullsLast(t *testing.T) {
	child := &fakeIterator{
		schema: Schema{{Name: "n", Kind: common.KindInt}},
		rows: []Row{
			{Values: []common.Value{common.IntValue(3)}},
			{Values: []common.Value{common.NullValue(common.KindInt)}},
			{Values: []common.Value{common.IntValue(1)}},
		},
	}
	node := &planner.PlanNode{OrderBy: []planner.OrderTerm{{Expr: &planner.ColumnRef{Column: "n"}}}}
	s, err := newSort(node, child)
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))

	var got []common.Value
	for {
		row, err := s.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, row.Values[0])
	}
	require.Len(t, got, 3)
	require.Equal(t, int64(1), got[0].Int)
	require.Equal(t, int64(3), got[1].Int)
	require.True(t, got[2].IsNull)
}

func TestDistinctDropsDuplicates(t *testing.T) {
	child := &fakeIterator{
		schema: Schema{{Name: "n", Kind: common.KindInt}},
		rows: []Row{
			{Values: []common.Value{common.IntValue(1)}},
			{Values: []common.Value{common.IntValue(1)}},
			{Values: []common.Value{common.IntValue(2)}},
		},
	}
	d, err := newDistinct(child)
	require.NoError(t, err)
	require.NoError(t, d.Open(context.Background()))
	var got []int64
	for {
		row, err := d.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, row.Values[0].Int)
	}
	require.Equal(t, []int64{1, 2}, got)
}

func TestHashJoinOuterPadsUnmatchedProbeRows(t *testing.T) {
	leftSchema := Schema{{Alias: "c", Name: "id", Kind: common.KindInt}}
	rightSchema := Schema{
		{Alias: "o", Name: "customer_id", Kind: common.KindInt},
		{Alias: "o", Name: "total", Kind: common.KindFloat},
	}

	left := &fakeIterator{schema: leftSchema, rows: []Row{
		{Values: []common.Value{common.IntValue(1)}},
		{Values: []common.Value{common.IntValue(2)}},
	}}
	right := &fakeIterator{schema: rightSchema, rows: []Row{
		{Values: []common.Value{common.IntValue(1), common.FloatValue(9.5)}},
	}}

	node := &planner.PlanNode{
		Kind:  planner.OpHashJoin,
		Outer: true,
		JoinPredicate: &planner.BinaryOp{
			Kind:  planner.OpEq,
			Left:  col("c", "id"),
			Right: col("o", "customer_id"),
		},
	}
	it, err := newHashJoin(node, left, right)
	require.NoError(t, err)
	require.NoError(t, it.Open(context.Background()))

	var rows []Row
	for {
		row, err := it.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		rows = append(rows, row.Clone())
	}
	require.NoError(t, it.Close())
	require.Len(t, rows, 2)

	require.Equal(t, int64(1), rows[0].Values[0].Int)
	require.False(t, rows[0].Values[1].IsNull)
	require.Equal(t, int64(1), rows[0].Values[1].Int)

	require.Equal(t, int64(2), rows[1].Values[0].Int)
	require.True(t, rows[1].Values[1].IsNull)
	require.True(t, rows[1].Values[2].IsNull)
	require.Equal(t, common.KindFloat, rows[1].Values[2].Kind)
}

func TestLeftJoinEndToEndPreservesUnmatchedCustomer(t *testing.T) {
	e := newTestEngine(t)
	e.createCustomers()
	e.run(insertCustomer(1, "ada", 100))
	e.run(insertCustomer(2, "grace", 50))

	require.NoError(t, e.cat.CreateTable("shop", "orders",
		[]catalog.Column{
			{Name: "id", Type: common.KindInt},
			{Name: "customer_id", Type: common.KindInt},
		},
		[]catalog.Constraint{
			{Name: "pk_orders", Kind: catalog.ConstraintPrimaryKey, Columns: []string{"id"}},
		}))
	require.NoError(t, e.cat.CreateIndex("shop", "orders", "pk_orders_idx", []string{"id"}, true, e.dir+"/orders_id.tree"))
	require.NoError(t, e.reg.OpenTable("orders"))
	e.run(&planner.InsertStmt{Table: "orders", Columns: []string{"id", "customer_id"}, Values: [][]planner.Expr{{intLit(1), intLit(1)}}})

	rows := e.run(&planner.SelectStmt{
		Projections: []planner.Expr{col("customers", "name"), col("orders", "id")},
		From: []planner.TableRef{
			{Table: "customers"},
			{
				Table: "orders",
				Join:  planner.JoinLeft,
				On: &planner.BinaryOp{
					Kind:  planner.OpEq,
					Left:  col("customers", "id"),
					Right: col("orders", "customer_id"),
				},
			},
		},
	})

	require.Len(t, rows, 2)
	byName := make(map[string]Row, len(rows))
	for _, r := range rows {
		byName[r.Values[0].Str] = r
	}
	require.False(t, byName["ada"].Values[1].IsNull)
	require.Equal(t, int64(1), byName["ada"].Values[1].Int)
	require.True(t, byName["grace"].Values[1].IsNull)
}

// fakeIterator is a fixed slice of rows standing in for a scan,
// matching txn/manager_test.go's fakeApplier pattern of a package-local
// test double rather than a mocking library.
type fakeIterator struct {
	schema Schema
	rows   []Row
	pos    int
}

func (f *fakeIterator) Open(ctx context.Context) error { f.pos = 0; return nil }
func (f *fakeIterator) Close() error                   { return nil }
func (f *fakeIterator) Schema() Schema                 { return f.schema }
func (f *fakeIterator) Next(ctx context.Context) (Row, error) {
	if f.pos >= len(f.rows) {
		return Row{}, io.EOF
	}
	row := f.rows[f.pos]
	f.pos++
	return row, nil
}
