package catalog

import (
	"testing"

	"github.com/relational/dbcore/common"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

func TestCreateAndListDatabase(t *testing.T) {
	c := openTestCatalog(t)
	if err := c.CreateDatabase("shop"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := c.CreateDatabase("shop"); err == nil {
		t.Fatal("expected error creating duplicate database")
	}
	names := c.ListDatabases()
	if len(names) != 1 || names[0] != "shop" {
		t.Fatalf("expected [shop], got %v", names)
	}
}

func TestCreateTableAndReopenCatalog(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.CreateDatabase("shop"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	columns := []Column{
		{Name: "id", Type: common.KindInt},
		{Name: "name", Type: common.KindString, Nullable: true},
	}
	constraints := []Constraint{
		{Name: "pk_customers", Kind: ConstraintPrimaryKey, Columns: []string{"id"}},
	}
	if err := c.CreateTable("shop", "customers", columns, constraints); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	// Catalog files are atomically written — reopening against the same
	// directory must see the table without any extra step.
	c2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	tbl, err := c2.Table("shop", "customers")
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if len(tbl.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(tbl.Columns))
	}
	pk, ok := tbl.PrimaryKey()
	if !ok || pk.Name != "pk_customers" {
		t.Fatalf("expected primary key pk_customers, got %+v ok=%v", pk, ok)
	}
}

func TestCreateTableRejectsUnknownConstraintColumn(t *testing.T) {
	c := openTestCatalog(t)
	c.CreateDatabase("shop")
	columns := []Column{{Name: "id", Type: common.KindInt}}
	constraints := []Constraint{
		{Name: "pk_bad", Kind: ConstraintPrimaryKey, Columns: []string{"nope"}},
	}
	if err := c.CreateTable("shop", "t", columns, constraints); err == nil {
		t.Fatal("expected error for constraint referencing unknown column")
	}
}

func TestCreateIndexAndLookupByColumn(t *testing.T) {
	c := openTestCatalog(t)
	c.CreateDatabase("shop")
	columns := []Column{{Name: "id", Type: common.KindInt}, {Name: "email", Type: common.KindString}}
	c.CreateTable("shop", "customers", columns, nil)

	if err := c.CreateIndex("shop", "customers", "idx_email", []string{"email"}, true, "/data/customers_email.tree"); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	tbl, _ := c.Table("shop", "customers")
	matches := tbl.IndexesOn("email")
	if len(matches) != 1 || matches[0].FilePath != "/data/customers_email.tree" {
		t.Fatalf("expected one index on email, got %+v", matches)
	}

	if err := c.DropIndex("shop", "customers", "idx_email"); err != nil {
		t.Fatalf("DropIndex: %v", err)
	}
	tbl, _ = c.Table("shop", "customers")
	if len(tbl.IndexesOn("email")) != 0 {
		t.Fatal("expected index removed")
	}
}

func TestForeignKeyParentAndChildEnumeration(t *testing.T) {
	c := openTestCatalog(t)
	c.CreateDatabase("shop")

	c.CreateTable("shop", "customers",
		[]Column{{Name: "id", Type: common.KindInt}},
		[]Constraint{{Name: "pk_customers", Kind: ConstraintPrimaryKey, Columns: []string{"id"}}})
	c.CreateIndex("shop", "customers", "pk_customers_idx", []string{"id"}, true, "/data/customers_id.tree")

	c.CreateTable("shop", "orders",
		[]Column{{Name: "id", Type: common.KindInt}, {Name: "customer_id", Type: common.KindInt}},
		[]Constraint{
			{Name: "fk_orders_customer", Kind: ConstraintForeignKey, Columns: []string{"customer_id"}, RefTable: "customers", RefColumns: []string{"id"}, OnDeleteCascade: true},
		})
	c.CreateIndex("shop", "orders", "idx_orders_customer", []string{"customer_id"}, false, "/data/orders_customer.tree")

	probes, err := c.ParentProbesFor("shop", "orders")
	if err != nil {
		t.Fatalf("ParentProbesFor: %v", err)
	}
	if len(probes) != 1 || probes[0].ParentIndex.Name != "pk_customers_idx" {
		t.Fatalf("expected one probe against pk_customers_idx, got %+v", probes)
	}

	deps, err := c.ChildDependenciesOf("shop", "customers")
	if err != nil {
		t.Fatalf("ChildDependenciesOf: %v", err)
	}
	if len(deps) != 1 || deps[0].ChildTable != "orders" || deps[0].ChildIndex.Name != "idx_orders_customer" {
		t.Fatalf("expected one dependency on orders.idx_orders_customer, got %+v", deps)
	}
	if !deps[0].Constraint.OnDeleteCascade {
		t.Fatal("expected cascade flag preserved")
	}
}

func TestDropTableRefusesDependentsWithoutCascade(t *testing.T) {
	c := openTestCatalog(t)
	c.CreateDatabase("shop")
	c.CreateTable("shop", "customers", []Column{{Name: "id", Type: common.KindInt}}, nil)
	c.CreateTable("shop", "orders",
		[]Column{{Name: "id", Type: common.KindInt}, {Name: "customer_id", Type: common.KindInt}},
		[]Constraint{{Name: "fk", Kind: ConstraintForeignKey, Columns: []string{"customer_id"}, RefTable: "customers", RefColumns: []string{"id"}}})

	if err := c.DropTable("shop", "customers", false); err == nil {
		t.Fatal("expected error dropping table with live dependents")
	}
	if err := c.DropTable("shop", "customers", true); err != nil {
		t.Fatalf("cascade drop: %v", err)
	}
	orders, _ := c.Table("shop", "orders")
	if len(orders.ForeignKeys()) != 0 {
		t.Fatal("expected dangling foreign key removed by cascade drop")
	}
}

func TestRecordStatsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, _ := Open(dir)
	c.CreateDatabase("shop")
	c.CreateTable("shop", "customers", []Column{{Name: "id", Type: common.KindInt}}, nil)

	stats := TableStats{
		RowCount: 1000,
		ColumnStats: map[string]ColumnStats{
			"id": {
				DistinctValues: 1000,
				Histogram:      &Histogram{Bounds: []string{"10", "20", "30"}, Counts: []int64{100, 100, 100}},
			},
		},
	}
	if err := c.RecordStats("shop", "customers", stats); err != nil {
		t.Fatalf("RecordStats: %v", err)
	}

	c2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	tbl, _ := c2.Table("shop", "customers")
	if tbl.Stats.RowCount != 1000 {
		t.Fatalf("expected row count 1000, got %d", tbl.Stats.RowCount)
	}
	cs, ok := tbl.Stats.ColumnStats["id"]
	if !ok || cs.DistinctValues != 1000 {
		t.Fatalf("expected id column stats with 1000 distinct values, got %+v ok=%v", cs, ok)
	}
	if cs.Histogram == nil || len(cs.Histogram.Bounds) != 3 {
		t.Fatalf("expected 3-bucket histogram to survive round trip, got %+v", cs.Histogram)
	}
}

func TestListTablesAlphabetical(t *testing.T) {
	c := openTestCatalog(t)
	c.CreateDatabase("shop")
	c.CreateTable("shop", "zebras", []Column{{Name: "id", Type: common.KindInt}}, nil)
	c.CreateTable("shop", "apples", []Column{{Name: "id", Type: common.KindInt}}, nil)
	c.CreateTable("shop", "mangoes", []Column{{Name: "id", Type: common.KindInt}}, nil)

	names, err := c.ListTables("shop")
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	want := []string{"apples", "mangoes", "zebras"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}
