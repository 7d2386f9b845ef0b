package planner

import (
	"testing"

	"github.com/relational/dbcore/catalog"
	"github.com/relational/dbcore/common"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.CreateDatabase("shop"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	customers := []catalog.Column{
		{Name: "id", Type: common.KindInt},
		{Name: "name", Type: common.KindString},
	}
	if err := c.CreateTable("shop", "customers", customers, []catalog.Constraint{
		{Name: "pk_customers", Kind: catalog.ConstraintPrimaryKey, Columns: []string{"id"}},
	}); err != nil {
		t.Fatalf("CreateTable customers: %v", err)
	}
	orders := []catalog.Column{
		{Name: "id", Type: common.KindInt},
		{Name: "customer_id", Type: common.KindInt},
		{Name: "total", Type: common.KindFloat},
	}
	if err := c.CreateTable("shop", "orders", orders, []catalog.Constraint{
		{Name: "pk_orders", Kind: catalog.ConstraintPrimaryKey, Columns: []string{"id"}},
	}); err != nil {
		t.Fatalf("CreateTable orders: %v", err)
	}
	if err := c.RecordStats("shop", "customers", catalog.TableStats{RowCount: 1000}); err != nil {
		t.Fatalf("RecordStats customers: %v", err)
	}
	if err := c.RecordStats("shop", "orders", catalog.TableStats{RowCount: 5000}); err != nil {
		t.Fatalf("RecordStats orders: %v", err)
	}
	return c
}

func TestBindRejectsUnknownTable(t *testing.T) {
	cat := testCatalog(t)
	stmt := &SelectStmt{
		Projections: []Expr{&ColumnRef{Column: "id"}},
		From:        []TableRef{{Table: "nonexistent"}},
	}
	if _, err := Bind(cat, "shop", stmt); err == nil {
		t.Fatal("expected error binding unknown table")
	}
}

func TestBindRejectsUnknownColumn(t *testing.T) {
	cat := testCatalog(t)
	stmt := &SelectStmt{
		Projections: []Expr{&ColumnRef{Column: "nope"}},
		From:        []TableRef{{Table: "customers"}},
	}
	if _, err := Bind(cat, "shop", stmt); err == nil {
		t.Fatal("expected error binding unknown column")
	}
}

func TestBindRejectsAmbiguousColumn(t *testing.T) {
	cat := testCatalog(t)
	stmt := &SelectStmt{
		Projections: []Expr{&ColumnRef{Column: "id"}},
		From: []TableRef{
			{Table: "customers", Alias: "c"},
			{Table: "orders", Alias: "o"},
		},
	}
	if _, err := Bind(cat, "shop", stmt); err == nil {
		t.Fatal("expected error binding ambiguous unqualified column")
	}
}

func TestBindResolvesQualifiedColumn(t *testing.T) {
	cat := testCatalog(t)
	ref := &ColumnRef{Table: "o", Column: "total"}
	stmt := &SelectStmt{
		Projections: []Expr{ref},
		From:        []TableRef{{Table: "orders", Alias: "o"}},
	}
	if _, err := Bind(cat, "shop", stmt); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if !ref.Resolved || ref.ResolvedType != common.KindFloat || ref.Ordinal != 2 {
		t.Fatalf("expected total resolved to ordinal 2/KindFloat, got %+v", ref)
	}
}

func TestNormalizeFlattensAndPushesPerTablePredicates(t *testing.T) {
	cat := testCatalog(t)
	cID := &ColumnRef{Table: "c", Column: "id"}
	oCustID := &ColumnRef{Table: "o", Column: "customer_id"}
	cName := &ColumnRef{Table: "c", Column: "name"}

	where := &BinaryOp{
		Kind: OpAnd,
		Left: &BinaryOp{Kind: OpEq, Left: cID, Right: oCustID}, // join predicate
		Right: &BinaryOp{
			Kind:  OpEq,
			Left:  cName,
			Right: &Literal{Value: common.StringValue("acme")},
		},
	}
	stmt := &SelectStmt{
		Projections: []Expr{cID},
		From: []TableRef{
			{Table: "customers", Alias: "c"},
			{Table: "orders", Alias: "o"},
		},
		Where: where,
	}
	if _, err := Bind(cat, "shop", stmt); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	nq := Normalize(stmt)
	if nq.AlwaysFalse {
		t.Fatal("expected a satisfiable query")
	}
	if len(nq.JoinPredicates) != 1 {
		t.Fatalf("expected 1 join predicate, got %d", len(nq.JoinPredicates))
	}
	if len(nq.PerTablePredicates["c"]) != 1 {
		t.Fatalf("expected 1 per-table predicate on c, got %d", len(nq.PerTablePredicates["c"]))
	}
	if len(nq.PerTablePredicates["o"]) != 0 {
		t.Fatalf("expected no per-table predicate on o, got %d", len(nq.PerTablePredicates["o"]))
	}
}

func TestNormalizeDropsTriviallyTrueAndShortCircuitsFalse(t *testing.T) {
	trueLit := &Literal{Value: common.BoolValue(true)}
	falseLit := &Literal{Value: common.BoolValue(false)}

	s1 := &SelectStmt{Where: trueLit}
	nq1 := Normalize(s1)
	if nq1.AlwaysFalse {
		t.Fatal("a trivially-true predicate must not mark AlwaysFalse")
	}
	if len(nq1.JoinPredicates)+len(nq1.PerTablePredicates) != 0 {
		t.Fatal("a trivially-true predicate must contribute nothing")
	}

	s2 := &SelectStmt{Where: falseLit}
	nq2 := Normalize(s2)
	if !nq2.AlwaysFalse {
		t.Fatal("a trivially-false predicate must set AlwaysFalse")
	}
}

func TestNormalizeRewritesNonNegatedInSubqueryToSemiJoin(t *testing.T) {
	cat := testCatalog(t)
	cID := &ColumnRef{Table: "c", Column: "id"}
	sub := &SelectStmt{
		Projections: []Expr{&ColumnRef{Table: "o", Column: "customer_id"}},
		From:        []TableRef{{Table: "orders", Alias: "o"}},
	}
	stmt := &SelectStmt{
		Projections: []Expr{cID},
		From:        []TableRef{{Table: "customers", Alias: "c"}},
		Where:       &In{Expr: cID, Subquery: sub},
	}
	if _, err := Bind(cat, "shop", stmt); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	nq := Normalize(stmt)
	if len(nq.SemiJoins) != 1 {
		t.Fatalf("expected 1 semi-join, got %d", len(nq.SemiJoins))
	}
	if len(nq.JoinPredicates) != 0 {
		t.Fatalf("expected the IN predicate removed from JoinPredicates, got %d", len(nq.JoinPredicates))
	}
}

func TestFingerprintStableAcrossLiteralValues(t *testing.T) {
	mk := func(name string) *SelectStmt {
		return &SelectStmt{
			Projections: []Expr{&ColumnRef{Table: "c", Column: "id"}},
			From:        []TableRef{{Table: "customers", Alias: "c"}},
			Where: &BinaryOp{
				Kind:  OpEq,
				Left:  &ColumnRef{Table: "c", Column: "name"},
				Right: &Literal{Value: common.StringValue(name)},
			},
		}
	}
	fp1 := Fingerprint(mk("acme"))
	fp2 := Fingerprint(mk("widgets"))
	if fp1 != fp2 {
		t.Fatalf("expected identical fingerprints for queries differing only in a literal, got %d vs %d", fp1, fp2)
	}
}

func TestFingerprintDiffersOnShape(t *testing.T) {
	s1 := &SelectStmt{
		Projections: []Expr{&ColumnRef{Table: "c", Column: "id"}},
		From:        []TableRef{{Table: "customers", Alias: "c"}},
	}
	s2 := &SelectStmt{
		Projections: []Expr{&ColumnRef{Table: "c", Column: "name"}},
		From:        []TableRef{{Table: "customers", Alias: "c"}},
	}
	if Fingerprint(s1) == Fingerprint(s2) {
		t.Fatal("expected different fingerprints for different projections")
	}
}

func TestEnumerateJoinOrderPicksSmallerBuildSide(t *testing.T) {
	rels := []Relation{
		{Alias: "c", Rows: 1000},
		{Alias: "o", Rows: 5000},
	}
	preds := []Expr{
		&BinaryOp{Kind: OpEq, Left: &ColumnRef{Table: "c", Column: "id"}, Right: &ColumnRef{Table: "o", Column: "customer_id"}},
	}
	ndv := func(alias, column string) int64 {
		if alias == "c" && column == "id" {
			return 1000
		}
		return 1
	}
	plan := EnumerateJoinOrder(rels, preds, DefaultCostModel(), ndv)
	if plan == nil {
		t.Fatal("expected a plan")
	}
	if plan.Mask != 0b11 {
		t.Fatalf("expected both relations covered, got mask %b", plan.Mask)
	}
	if plan.Rows <= 0 {
		t.Fatalf("expected a positive row estimate, got %d", plan.Rows)
	}
	if plan.Right == nil || plan.Left == nil || plan.Right.Rows > plan.Left.Rows {
		t.Fatalf("expected the smaller relation on the build (right) side, got left=%v right=%v", plan.Left, plan.Right)
	}
}

func TestEnumerateJoinOrderGreedyBeyondThreshold(t *testing.T) {
	n := JoinEnumThreshold + 2
	rels := make([]Relation, n)
	for i := range rels {
		rels[i] = Relation{Alias: string(rune('a' + i)), Rows: int64(100 * (i + 1))}
	}
	plan := EnumerateJoinOrder(rels, nil, DefaultCostModel(), func(string, string) int64 { return 1 })
	if plan == nil {
		t.Fatal("expected a plan from the greedy fallback")
	}
	if popcount(plan.Mask) != n {
		t.Fatalf("expected all %d relations covered, got mask with %d bits", n, popcount(plan.Mask))
	}
}

func TestPlanCacheHitAndVersionInvalidation(t *testing.T) {
	cache, err := NewPlanCache(8)
	if err != nil {
		t.Fatalf("NewPlanCache: %v", err)
	}
	plan := &Plan{Cost: 1.0}
	cache.Put(42, 1, plan)

	if got, ok := cache.Get(42, 1); !ok || got != plan {
		t.Fatal("expected a cache hit at the original catalog version")
	}
	if _, ok := cache.Get(42, 2); ok {
		t.Fatal("expected a cache miss after the catalog version changed")
	}
}

func TestPlannerEndToEndSelectWithJoinAndCache(t *testing.T) {
	cat := testCatalog(t)
	p, err := New(cat, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stmt := &SelectStmt{
		Projections: []Expr{&ColumnRef{Table: "c", Column: "name"}},
		From: []TableRef{
			{Table: "customers", Alias: "c"},
			{Table: "orders", Alias: "o"},
		},
		Where: &BinaryOp{
			Kind: OpEq,
			Left: &ColumnRef{Table: "c", Column: "id"},
			Right: &ColumnRef{Table: "o", Column: "customer_id"},
		},
	}

	plan1, err := p.Plan("shop", stmt)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan1.Root == nil {
		t.Fatal("expected a non-nil plan tree")
	}
	if p.Cache.Len() != 1 {
		t.Fatalf("expected 1 cached plan, got %d", p.Cache.Len())
	}

	// Re-planning the identical statement must hit the cache and return
	// the same *Plan instance.
	stmt2 := &SelectStmt{
		Projections: []Expr{&ColumnRef{Table: "c", Column: "name"}},
		From: []TableRef{
			{Table: "customers", Alias: "c"},
			{Table: "orders", Alias: "o"},
		},
		Where: &BinaryOp{
			Kind: OpEq,
			Left: &ColumnRef{Table: "c", Column: "id"},
			Right: &ColumnRef{Table: "o", Column: "customer_id"},
		},
	}
	plan2, err := p.Plan("shop", stmt2)
	if err != nil {
		t.Fatalf("Plan (second): %v", err)
	}
	if plan2 != plan1 {
		t.Fatal("expected the second identical plan request to hit the cache")
	}

	// A DDL change bumps the catalog version, so the next identical
	// request must miss and replan rather than returning a stale plan.
	if err := cat.CreateIndex("shop", "customers", "idx_name", []string{"name"}, false, "customers_name.idx"); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	stmt3 := &SelectStmt{
		Projections: []Expr{&ColumnRef{Table: "c", Column: "name"}},
		From: []TableRef{
			{Table: "customers", Alias: "c"},
			{Table: "orders", Alias: "o"},
		},
		Where: &BinaryOp{
			Kind: OpEq,
			Left: &ColumnRef{Table: "c", Column: "id"},
			Right: &ColumnRef{Table: "o", Column: "customer_id"},
		},
	}
	plan3, err := p.Plan("shop", stmt3)
	if err != nil {
		t.Fatalf("Plan (third): %v", err)
	}
	if plan3 == plan1 {
		t.Fatal("expected a fresh plan after the catalog version changed")
	}
}

func TestPlannerInsertUpdateDeleteBypassCache(t *testing.T) {
	cat := testCatalog(t)
	p, err := New(cat, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ins := &InsertStmt{Table: "customers", Columns: []string{"id", "name"}, Values: [][]Expr{
		{&Literal{Value: common.IntValue(1)}, &Literal{Value: common.StringValue("acme")}},
	}}
	plan, err := p.Plan("shop", ins)
	if err != nil {
		t.Fatalf("Plan insert: %v", err)
	}
	if plan.Root.Kind != OpInsert {
		t.Fatalf("expected OpInsert root, got %v", plan.Root.Kind)
	}
	if p.Cache.Len() != 0 {
		t.Fatalf("expected INSERT planning not to populate the plan cache, got %d entries", p.Cache.Len())
	}

	del := &DeleteStmt{Table: "orders", Where: &BinaryOp{
		Kind:  OpEq,
		Left:  &ColumnRef{Column: "customer_id"},
		Right: &Literal{Value: common.IntValue(1)},
	}}
	plan, err = p.Plan("shop", del)
	if err != nil {
		t.Fatalf("Plan delete: %v", err)
	}
	if plan.Root.Kind != OpDelete {
		t.Fatalf("expected OpDelete root, got %v", plan.Root.Kind)
	}
}

func TestPlannerLeftJoinBuildsOuterHashJoinInFromOrder(t *testing.T) {
	cat := testCatalog(t)
	p, err := New(cat, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stmt := &SelectStmt{
		Projections: []Expr{
			&ColumnRef{Table: "c", Column: "name"},
			&ColumnRef{Table: "o", Column: "id"},
		},
		From: []TableRef{
			{Table: "customers", Alias: "c"},
			{
				Table: "orders", Alias: "o",
				Join: JoinLeft,
				On: &BinaryOp{
					Kind: OpEq,
					Left: &ColumnRef{Table: "c", Column: "id"},
					Right: &ColumnRef{Table: "o", Column: "customer_id"},
				},
			},
		},
	}

	plan, err := p.Plan("shop", stmt)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	join := plan.Root.Children[0]
	if join.Kind != OpHashJoin {
		t.Fatalf("expected OpHashJoin under the Project, got %v", join.Kind)
	}
	if !join.Outer {
		t.Fatal("expected the join node to carry Outer=true for a LEFT JOIN")
	}
	if join.JoinPredicate == nil {
		t.Fatal("expected the ON-clause to land on JoinPredicate, not a WHERE-style Filter above")
	}
	if join.Children[0].Table != "customers" || join.Children[1].Table != "orders" {
		t.Fatalf("expected FROM order preserved (customers preserved, orders outer), got %s/%s",
			join.Children[0].Table, join.Children[1].Table)
	}

	// An explicit ON-clause join must not be reordered or replanned by
	// EnumerateJoinOrder even when planned again — the fingerprint must
	// also distinguish it from the equivalent inner join.
	inner := &SelectStmt{
		Projections: stmt.Projections,
		From: []TableRef{
			{Table: "customers", Alias: "c"},
			{Table: "orders", Alias: "o"},
		},
		Where: &BinaryOp{
			Kind: OpEq,
			Left: &ColumnRef{Table: "c", Column: "id"},
			Right: &ColumnRef{Table: "o", Column: "customer_id"},
		},
	}
	innerPlan, err := p.Plan("shop", inner)
	if err != nil {
		t.Fatalf("Plan inner: %v", err)
	}
	if innerPlan.Fingerprint == plan.Fingerprint {
		t.Fatal("expected a LEFT JOIN and the equivalent inner join to fingerprint differently")
	}
}
