package catalog

import "fmt"

// ParentProbe tells the executor which parent index to check before
// accepting an insert or update on a child row (spec §4.6: "on
// insert/update of a child row, the catalog tells the core which parent
// index to probe").
type ParentProbe struct {
	Constraint Constraint
	ParentIndex IndexDef
}

// ParentProbesFor returns one ParentProbe per foreign key declared on
// table, naming the parent table's index the executor must look up
// before admitting the new/changed child row. An error names the first
// foreign key with no matching index on its referenced columns — schema
// creation should have been rejected earlier, so this only fires if an
// index was dropped out from under a live foreign key.
func (c *Catalog) ParentProbesFor(dbName, table string) ([]ParentProbe, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, err := c.database(dbName)
	if err != nil {
		return nil, err
	}
	t, ok := db.Tables[table]
	if !ok {
		return nil, fmt.Errorf("catalog: table %q does not exist in %q", table, dbName)
	}

	var probes []ParentProbe
	for _, con := range t.ForeignKeys() {
		parent, ok := db.Tables[con.RefTable]
		if !ok {
			return nil, fmt.Errorf("catalog: foreign key %q references unknown table %q", con.Name, con.RefTable)
		}
		idx := indexCoveringPrefix(parent, con.RefColumns)
		if idx == nil {
			return nil, fmt.Errorf("catalog: no index on %s%v to probe for foreign key %q", con.RefTable, con.RefColumns, con.Name)
		}
		probes = append(probes, ParentProbe{Constraint: con, ParentIndex: *idx})
	}
	return probes, nil
}

// ChildDependency is one child table/index the executor must check or
// cascade into when a parent row is deleted or its key columns are
// updated (spec §4.6: "on delete/update of a parent row, the catalog
// enumerates dependent child indexes").
type ChildDependency struct {
	ChildTable string
	Constraint Constraint
	ChildIndex IndexDef
}

// ChildDependenciesOf enumerates every foreign key elsewhere in the
// database that references table, with the child-side index the
// executor should scan to find dependent rows. Scanned under the
// catalog's read lock in one pass: a read-locked, non-mutating walk
// over every table definition.
func (c *Catalog) ChildDependenciesOf(dbName, table string) ([]ChildDependency, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, err := c.database(dbName)
	if err != nil {
		return nil, err
	}
	if _, ok := db.Tables[table]; !ok {
		return nil, fmt.Errorf("catalog: table %q does not exist in %q", table, dbName)
	}

	var deps []ChildDependency
	for childName, child := range db.Tables {
		for _, con := range child.Constraints {
			if con.Kind != ConstraintForeignKey || con.RefTable != table {
				continue
			}
			idx := indexCoveringPrefix(child, con.Columns)
			if idx == nil {
				return nil, fmt.Errorf("catalog: no index on %s%v to enumerate foreign key %q", childName, con.Columns, con.Name)
			}
			deps = append(deps, ChildDependency{ChildTable: childName, Constraint: con, ChildIndex: *idx})
		}
	}
	return deps, nil
}

// indexCoveringPrefix returns the first index on t whose leading columns
// are exactly cols, in order — the shape a foreign key's probe or
// enumeration needs (an equality lookup on the full key prefix).
func indexCoveringPrefix(t *TableDef, cols []string) *IndexDef {
	for i := range t.Indexes {
		idx := &t.Indexes[i]
		if len(idx.Columns) < len(cols) {
			continue
		}
		match := true
		for j, c := range cols {
			if idx.Columns[j] != c {
				match = false
				break
			}
		}
		if match {
			return idx
		}
	}
	return nil
}
