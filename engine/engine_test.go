package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/internal/config"
	"github.com/relational/dbcore/internal/dblog"
	"github.com/relational/dbcore/internal/metrics"
	"github.com/relational/dbcore/planner"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults(dir)
	e, err := Open(cfg, "shop", dblog.Nop(), metrics.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func createCustomers(t *testing.T, s *Session) {
	t.Helper()
	_, err := s.Execute(context.Background(), &planner.CreateTableStmt{
		Name: "customers",
		Columns: []planner.ColumnDef{
			{Name: "id", Type: common.KindInt},
			{Name: "name", Type: common.KindString},
			{Name: "balance", Type: common.KindInt},
		},
		Constraints: []planner.ConstraintDef{
			{Name: "pk_customers", Kind: int(0), Columns: []string{"id"}},
		},
	}, "")
	require.NoError(t, err)
}

func intLit(v int64) planner.Expr  { return &planner.Literal{Value: common.IntValue(v)} }
func strLit(v string) planner.Expr { return &planner.Literal{Value: common.StringValue(v)} }
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

func TestCreateTableAutoCreatesPrimaryKeyIndex(t *testing.T) {
	e := newTestEngine(t)
	s := e.NewSession()
	createCustomers(t, s)

	def, err := e.Catalog().Table("shop", "customers")
	require.NoError(t, err)
	require.Len(t, def.Indexes, 1)
	require.Equal(t, []string{"id"}, def.Indexes[0].Columns)
	require.True(t, def.Indexes[0].Unique)
}

func TestAutoCommitInsertThenSelect(t *testing.T) {
	e := newTestEngine(t)
	s := e.NewSession()
	createCustomers(t, s)

	res, err := s.Execute(context.Background(), insertCustomer(1, "ada", 100), "")
	require.NoError(t, err)
	require.Equal(t, int64(1), res.RowsAffected)

	res, err = s.Execute(context.Background(), &planner.SelectStmt{
		Projections: []planner.Expr{col("customers", "name"), col("customers", "balance")},
		From:        []planner.TableRef{{Table: "customers"}},
	}, "select name, balance from customers")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "ada", res.Rows[0].Values[0].Str)
	require.Equal(t, int64(100), res.Rows[0].Values[1].Int)
}

func TestResultCacheServesRepeatedSelectAndInvalidatesOnWrite(t *testing.T) {
	e := newTestEngine(t)
	s := e.NewSession()
	createCustomers(t, s)
	_, err := s.Execute(context.Background(), insertCustomer(1, "ada", 100), "")
	require.NoError(t, err)

	stmtText := "select balance from customers"
	selectStmt := func() *planner.SelectStmt {
		return &planner.SelectStmt{
			Projections: []planner.Expr{col("customers", "balance")},
			From:        []planner.TableRef{{Table: "customers"}},
		}
	}

	first, err := s.Execute(context.Background(), selectStmt(), stmtText)
	require.NoError(t, err)
	require.Equal(t, int64(100), first.Rows[0].Values[0].Int)
	require.Equal(t, 1, e.Stats().ResultCacheLen)

	_, err = s.Execute(context.Background(), &planner.UpdateStmt{
		Table:       "customers",
		Assignments: []planner.Assignment{{Column: "balance", Value: intLit(500)}},
		Where:       &planner.BinaryOp{Kind: planner.OpEq, Left: col("customers", "id"), Right: intLit(1)},
	}, "")
	require.NoError(t, err)

	second, err := s.Execute(context.Background(), selectStmt(), stmtText)
	require.NoError(t, err)
	require.Equal(t, int64(500), second.Rows[0].Values[0].Int,
		"the cached select must have been invalidated by the update")
}

func TestExplicitTransactionCommit(t *testing.T) {
	e := newTestEngine(t)
	s := e.NewSession()
	createCustomers(t, s)

	_, err := s.Execute(context.Background(), &planner.TxnStmt{Kind: planner.TxnBegin}, "")
	require.NoError(t, err)
	require.True(t, s.InTransaction())

	_, err = s.Execute(context.Background(), insertCustomer(1, "ada", 100), "")
	require.NoError(t, err)

	_, err = s.Execute(context.Background(), &planner.TxnStmt{Kind: planner.TxnCommit}, "")
	require.NoError(t, err)
	require.False(t, s.InTransaction())

	res, err := s.Execute(context.Background(), &planner.SelectStmt{
		Projections: []planner.Expr{col("customers", "id")},
		From:        []planner.TableRef{{Table: "customers"}},
	}, "")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

func TestExplicitTransactionRollbackDiscardsWrites(t *testing.T) {
	e := newTestEngine(t)
	s := e.NewSession()
	createCustomers(t, s)

	_, err := s.Execute(context.Background(), &planner.TxnStmt{Kind: planner.TxnBegin}, "")
	require.NoError(t, err)
	_, err = s.Execute(context.Background(), insertCustomer(1, "ada", 100), "")
	require.NoError(t, err)
	_, err = s.Execute(context.Background(), &planner.TxnStmt{Kind: planner.TxnRollback}, "")
	require.NoError(t, err)

	res, err := s.Execute(context.Background(), &planner.SelectStmt{
		Projections: []planner.Expr{col("customers", "id")},
		From:        []planner.TableRef{{Table: "customers"}},
	}, "")
	require.NoError(t, err)
	require.Len(t, res.Rows, 0)
}

func TestForeignKeyIndexAutoCreatedForCascadeDelete(t *testing.T) {
	e := newTestEngine(t)
	s := e.NewSession()
	createCustomers(t, s)
	_, err := s.Execute(context.Background(), insertCustomer(1, "ada", 100), "")
	require.NoError(t, err)

	_, err = s.Execute(context.Background(), &planner.CreateTableStmt{
		Name: "orders",
		Columns: []planner.ColumnDef{
			{Name: "id", Type: common.KindInt},
			{Name: "customer_id", Type: common.KindInt},
		},
		Constraints: []planner.ConstraintDef{
			{Name: "pk_orders", Kind: int(0), Columns: []string{"id"}},
			{Name: "fk_orders_customer", Kind: int(2), Columns: []string{"customer_id"}, RefTable: "customers", RefColumns: []string{"id"}, OnDeleteCascade: true},
		},
	}, "")
	require.NoError(t, err)

	def, err := e.Catalog().Table("shop", "orders")
	require.NoError(t, err)
	require.Len(t, def.Indexes, 2, "pk_orders and the fk_orders_customer probe index")

	_, err = s.Execute(context.Background(), &planner.InsertStmt{
		Table:   "orders",
		Columns: []string{"id", "customer_id"},
		Values:  [][]planner.Expr{{intLit(1), intLit(1)}},
	}, "")
	require.NoError(t, err)

	_, err = s.Execute(context.Background(), &planner.DeleteStmt{
		Table: "customers",
		Where: &planner.BinaryOp{Kind: planner.OpEq, Left: col("customers", "id"), Right: intLit(1)},
	}, "")
	require.NoError(t, err)

	res, err := s.Execute(context.Background(), &planner.SelectStmt{
		Projections: []planner.Expr{col("orders", "id")},
		From:        []planner.TableRef{{Table: "orders"}},
	}, "")
	require.NoError(t, err)
	require.Len(t, res.Rows, 0, "the cascade delete must have removed the dependent order")
}
