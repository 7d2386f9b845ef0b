package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/engine"
	"github.com/relational/dbcore/planner"
)

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Plan a canned statement fixture and print the chosen plan tree",
	Long: `explain has no SQL parser to work from (out of scope for this
module), so it plans one of a small set of built-in AST fixtures
against --data-dir, seeding a demo schema first if the fixture's tables
don't already exist. Use --query to pick a fixture; --list shows the
available ones.`,
	RunE: runExplain,
}

func init() {
	explainCmd.Flags().String("query", "customers-by-balance", "Fixture to plan (see --list)")
	explainCmd.Flags().Bool("list", false, "List available fixtures and exit")
}

var explainFixtures = map[string]func() planner.Stmt{
	"customers-by-balance": func() planner.Stmt {
		return &planner.SelectStmt{
			Projections: []planner.Expr{col("customers", "name"), col("customers", "balance")},
			From:        []planner.TableRef{{Table: "customers"}},
			Where: &planner.BinaryOp{
				Kind:  planner.OpGt,
				Left:  col("customers", "balance"),
				Right: intLit(100),
			},
			OrderBy: []planner.OrderTerm{{Expr: col("customers", "balance"), Desc: true}},
		}
	},
	"customers-orders-join": func() planner.Stmt {
		return &planner.SelectStmt{
			Projections: []planner.Expr{col("customers", "name"), col("orders", "id")},
			From: []planner.TableRef{
				{Table: "customers"},
				{Table: "orders"},
			},
			Where: &planner.BinaryOp{
				Kind:  planner.OpEq,
				Left:  col("customers", "id"),
				Right: col("orders", "customer_id"),
			},
		}
	},
	"customers-orders-left-join": func() planner.Stmt {
		return &planner.SelectStmt{
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
		}
	},
}

func col(table, name string) planner.Expr { return &planner.ColumnRef{Table: table, Column: name} }
func intLit(v int64) planner.Expr         { return &planner.Literal{Value: common.IntValue(v)} }
func strLit(v string) planner.Expr        { return &planner.Literal{Value: common.StringValue(v)} }

func runExplain(cmd *cobra.Command, args []string) error {
	if list, _ := cmd.Flags().GetBool("list"); list {
		for name := range explainFixtures {
			fmt.Println(" ", name)
		}
		return nil
	}

	name, _ := cmd.Flags().GetString("query")
	build, ok := explainFixtures[name]
	if !ok {
		return fmt.Errorf("explain: unknown fixture %q (use --list)", name)
	}

	eng, err := openEngine(cmd)
	if err != nil {
		return fmt.Errorf("explain: %w", err)
	}
	defer eng.Close()

	if err := seedDemoSchema(eng); err != nil {
		return fmt.Errorf("explain: seeding demo schema: %w", err)
	}

	plan, err := eng.Planner().Plan(eng.DBName(), build())
	if err != nil {
		return fmt.Errorf("explain: %w", err)
	}

	fmt.Printf("Fingerprint: %016x\n", plan.Fingerprint)
	fmt.Printf("Tables used: %s\n", strings.Join(plan.TablesUsed, ", "))
	fmt.Printf("Total cost:  %.2f\n\n", plan.Cost)
	printPlanNode(plan.Root, 0)
	return nil
}

func printPlanNode(n *planner.PlanNode, depth int) {
	if n == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	detail := ""
	switch {
	case n.Table != "":
		detail = fmt.Sprintf(" table=%s", n.Table)
	case len(n.CoveredBy) > 0:
		detail = fmt.Sprintf(" covered=%v", n.CoveredBy)
	}
	if n.Outer {
		detail += " outer=left"
	}
	fmt.Printf("%s%s%s  (rows=%d cost=%.2f)\n", indent, n.Kind, detail, n.EstRows, n.EstCost)
	for _, c := range n.Children {
		printPlanNode(c, depth+1)
	}
}

// seedDemoSchema creates the customers/orders tables the built-in
// fixtures reference and inserts a handful of rows, if they are not
// already present (a repeat `explain` against the same --data-dir is a
// no-op here).
func seedDemoSchema(eng *engine.Engine) error {
	ctx := context.Background()
	s := eng.NewSession()
	defer s.Close()

	if _, err := eng.Catalog().Table(eng.DBName(), "customers"); err != nil {
		_, err := s.Execute(ctx, &planner.CreateTableStmt{
			Name: "customers",
			Columns: []planner.ColumnDef{
				{Name: "id", Type: common.KindInt},
				{Name: "name", Type: common.KindString},
				{Name: "balance", Type: common.KindInt},
			},
			Constraints: []planner.ConstraintDef{
				{Name: "pk_customers", Kind: 0, Columns: []string{"id"}},
			},
		}, "")
		if err != nil {
			return err
		}
		rows := []struct {
			id      int64
			name    string
			balance int64
		}{
			{1, "ada", 250}, {2, "grace", 50}, {3, "alan", 900},
		}
		for _, r := range rows {
			_, err := s.Execute(ctx, &planner.InsertStmt{
				Table:   "customers",
				Columns: []string{"id", "name", "balance"},
				Values:  [][]planner.Expr{{intLit(r.id), strLit(r.name), intLit(r.balance)}},
			}, "")
			if err != nil {
				return err
			}
		}
	}

	if _, err := eng.Catalog().Table(eng.DBName(), "orders"); err != nil {
		_, err := s.Execute(ctx, &planner.CreateTableStmt{
			Name: "orders",
			Columns: []planner.ColumnDef{
				{Name: "id", Type: common.KindInt},
				{Name: "customer_id", Type: common.KindInt},
			},
			Constraints: []planner.ConstraintDef{
				{Name: "pk_orders", Kind: 0, Columns: []string{"id"}},
				{Name: "fk_orders_customer", Kind: 2, Columns: []string{"customer_id"}, RefTable: "customers", RefColumns: []string{"id"}},
			},
		}, "")
		if err != nil {
			return err
		}
		rows := []struct{ id, customerID int64 }{{1, 1}, {2, 1}, {3, 3}}
		for _, r := range rows {
			_, err := s.Execute(ctx, &planner.InsertStmt{
				Table:   "orders",
				Columns: []string{"id", "customer_id"},
				Values:  [][]planner.Expr{{intLit(r.id), intLit(r.customerID)}},
			}, "")
			if err != nil {
				return err
			}
		}
	}
	return nil
}
