// Package catalog implements the engine's schema catalog (spec §4.6):
// database/table/column/index/constraint definitions, durable files on
// disk outside the storage core's hot path, an in-memory cache the core
// may read from without hitting disk, and foreign-key graph enumeration
// for cascade actions. DDL always goes through Catalog so the cache is
// invalidated as part of the same call that changes the durable file.
package catalog

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/relational/dbcore/common"
)

// Column is one column of a table definition.
type Column struct {
	Name     string
	Type     common.ValueKind
	Nullable bool
}

// ConstraintKind is the kind of a table constraint (spec §4.6 FK
// enforcement, §6 CreateTable "constraints").
type ConstraintKind int

const (
	ConstraintPrimaryKey ConstraintKind = iota
	ConstraintUnique
	ConstraintForeignKey
	ConstraintCheck
	ConstraintNotNull
)

func (k ConstraintKind) String() string {
	switch k {
	case ConstraintPrimaryKey:
		return "PrimaryKey"
	case ConstraintUnique:
		return "Unique"
	case ConstraintForeignKey:
		return "ForeignKey"
	case ConstraintCheck:
		return "Check"
	case ConstraintNotNull:
		return "NotNull"
	default:
		return "?"
	}
}

// Constraint is one table constraint. RefTable/RefColumns and the
// cascade flags are only meaningful for ConstraintForeignKey; CheckExpr
// is only meaningful for ConstraintCheck (the expression is opaque to
// the catalog — it is the planner/executor's job to evaluate it, per
// spec §4.6/§4.8's split of responsibility).
type Constraint struct {
	Name            string
	Kind            ConstraintKind
	Columns         []string
	RefTable        string
	RefColumns      []string
	OnDeleteCascade bool
	OnUpdateCascade bool
	CheckExpr       string
}

// IndexDef describes one index, including the on-disk B+ tree file
// backing it (spec §4.6: "register a new index (including its B+ tree
// file path)").
type IndexDef struct {
	Name     string
	Table    string
	Columns  []string
	Unique   bool
	FilePath string
}

// Histogram is an equi-depth histogram over one column's values, used by
// the planner's cost model for selectivity estimation (spec §4.7).
// Bounds holds the upper boundary of each bucket as a plain string
// rendering of the value; len(Bounds) == len(Counts).
type Histogram struct {
	Bounds []string // boundary values rendered as strings for TOML round-tripping
	Counts []int64
}

// ColumnStats is per-column statistics the planner's cost model consumes
// (spec §4.7 "Selectivity comes from histograms... and distinct-value
// counts").
type ColumnStats struct {
	DistinctValues int64
	NullCount      int64
	Histogram      *Histogram
}

// TableStats is per-table statistics.
type TableStats struct {
	RowCount    int64
	ColumnStats map[string]ColumnStats
}

// TableDef is a table's full schema: columns, constraints, and the
// indexes registered on it. ID is a surrogate identifier distinct from
// Name so a table can be renamed without invalidating index file paths;
// foreign-key constraints reference their parent by name (RefTable),
// not by ID.
type TableDef struct {
	ID          string
	Name        string
	Columns     []Column
	Constraints []Constraint
	Indexes     []IndexDef
	Stats       TableStats
}

// Column looks up a column definition by name.
func (t *TableDef) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// PrimaryKey returns the table's primary key constraint, if declared.
func (t *TableDef) PrimaryKey() (Constraint, bool) {
	for _, c := range t.Constraints {
		if c.Kind == ConstraintPrimaryKey {
			return c, true
		}
	}
	return Constraint{}, false
}

// ForeignKeys returns every foreign-key constraint declared on t.
func (t *TableDef) ForeignKeys() []Constraint {
	var out []Constraint
	for _, c := range t.Constraints {
		if c.Kind == ConstraintForeignKey {
			out = append(out, c)
		}
	}
	return out
}

// Index looks up an index definition by name.
func (t *TableDef) Index(name string) (IndexDef, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDef{}, false
}

// IndexesOn returns every index whose leading column is col — the set a
// planner can use for an access path on col (spec §4.7 "access-method
// selection").
func (t *TableDef) IndexesOn(col string) []IndexDef {
	var out []IndexDef
	for _, idx := range t.Indexes {
		if len(idx.Columns) > 0 && idx.Columns[0] == col {
			out = append(out, idx)
		}
	}
	return out
}

// DatabaseDef is one database: a named collection of tables.
type DatabaseDef struct {
	ID     string
	Name   string
	Tables map[string]*TableDef
}

func newDatabaseDef(name string) *DatabaseDef {
	return &DatabaseDef{ID: uuid.New().String(), Name: name, Tables: make(map[string]*TableDef)}
}

func newTableDef(name string, columns []Column, constraints []Constraint) *TableDef {
	return &TableDef{ID: uuid.New().String(), Name: name, Columns: columns, Constraints: constraints}
}

// validateColumns rejects a table definition that references unknown
// columns from a constraint or index — checked once at CreateTable time
// rather than on every later lookup.
func validateColumns(columns []Column, names []string) error {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[c.Name] = true
	}
	for _, n := range names {
		if !known[n] {
			return fmt.Errorf("catalog: unknown column %q", n)
		}
	}
	return nil
}
