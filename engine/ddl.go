package engine

import (
	"fmt"
	"path/filepath"

	"github.com/relational/dbcore/catalog"
	"github.com/relational/dbcore/planner"
)

// execCreateTable registers s in the catalog, then auto-creates the
// indexes the executor's DML path requires but catalog.CreateTable does
// not build itself: a unique index backing the primary key (dml.go's
// checkUnique and the RID-bearing point lookups every write path does),
// one per UNIQUE constraint, and a non-unique index on each foreign
// key's own columns (catalog.ChildDependenciesOf requires one to
// enumerate dependent child rows on a parent delete/update).
func (e *Engine) execCreateTable(s *planner.CreateTableStmt) error {
	columns := make([]catalog.Column, len(s.Columns))
	for i, c := range s.Columns {
		columns[i] = catalog.Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	}
	constraints := make([]catalog.Constraint, len(s.Constraints))
	for i, c := range s.Constraints {
		constraints[i] = catalog.Constraint{
			Name:            c.Name,
			Kind:            catalog.ConstraintKind(c.Kind),
			Columns:         c.Columns,
			RefTable:        c.RefTable,
			RefColumns:      c.RefColumns,
			OnDeleteCascade: c.OnDeleteCascade,
			OnUpdateCascade: c.OnUpdateCascade,
			CheckExpr:       c.CheckExpr,
		}
	}

	if err := e.cat.CreateTable(e.dbName, s.Name, columns, constraints); err != nil {
		return err
	}

	def, err := e.cat.Table(e.dbName, s.Name)
	if err != nil {
		return err
	}
	if err := e.ensureIndexes(def); err != nil {
		return err
	}
	return e.tables.OpenTable(s.Name)
}

// ensureIndexes creates the backing indexes described on execCreateTable,
// skipping any constraint already covered by an index with the same
// leading columns (e.g. a single-column UNIQUE that duplicates the
// primary key never happens in practice, but a later ALTER-equivalent
// call must stay idempotent).
func (e *Engine) ensureIndexes(def *catalog.TableDef) error {
	have := func(cols []string) bool {
		for _, idx := range def.Indexes {
			if coveredBy(idx.Columns, cols) {
				return true
			}
		}
		return false
	}
	create := func(suffix string, cols []string, unique bool) error {
		if have(cols) {
			return nil
		}
		name := def.Name + "_" + suffix
		path := filepath.Join(e.dir, name+".idx")
		// CreateIndex appends to the very *TableDef def points to (the
		// catalog hands out the same cached pointer on every Table call
		// for a table's lifetime), so def.Indexes already reflects the
		// new entry for the next have() check without re-fetching.
		return e.cat.CreateIndex(e.dbName, def.Name, name, cols, unique, path)
	}

	if pk, ok := def.PrimaryKey(); ok {
		if err := create("pkey", pk.Columns, true); err != nil {
			return err
		}
	}
	for _, con := range def.Constraints {
		if con.Kind == catalog.ConstraintUnique {
			if err := create(con.Name+"_key", con.Columns, true); err != nil {
				return err
			}
		}
	}
	for _, con := range def.ForeignKeys() {
		if err := create(con.Name+"_fkey", con.Columns, false); err != nil {
			return err
		}
	}
	return nil
}

// coveredBy reports whether idxCols' leading columns are exactly cols,
// the same prefix match catalog.indexCoveringPrefix performs internally
// (unexported there, so the engine's own index-creation policy repeats
// the shape rather than reaching across the package boundary).
func coveredBy(idxCols, cols []string) bool {
	if len(idxCols) < len(cols) {
		return false
	}
	for i, c := range cols {
		if idxCols[i] != c {
			return false
		}
	}
	return true
}

func (e *Engine) execDropTable(s *planner.DropTableStmt) error {
	return e.cat.DropTable(e.dbName, s.Name, s.Cascade)
}

func (e *Engine) execCreateIndex(s *planner.CreateIndexStmt) error {
	path := filepath.Join(e.dir, s.Name+".idx")
	if err := e.cat.CreateIndex(e.dbName, s.Table, s.Name, s.Columns, s.Unique, path); err != nil {
		return err
	}
	return e.tables.OpenIndex(s.Table, s.Name)
}

func (e *Engine) execDropIndex(s *planner.DropIndexStmt) error {
	return e.cat.DropIndex(e.dbName, s.Table, s.Name)
}

func (e *Engine) execDDL(stmt planner.Stmt) error {
	switch s := stmt.(type) {
	case *planner.CreateTableStmt:
		return e.execCreateTable(s)
	case *planner.DropTableStmt:
		return e.execDropTable(s)
	case *planner.CreateIndexStmt:
		return e.execCreateIndex(s)
	case *planner.DropIndexStmt:
		return e.execDropIndex(s)
	default:
		return fmt.Errorf("engine: %T is not a DDL statement", stmt)
	}
}
