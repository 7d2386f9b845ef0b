package catalog

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/relational/dbcore/internal/dblog"
	"github.com/rs/zerolog"
)

// Catalog is the engine's schema cache and the only writer of durable
// catalog files. DDL (CreateTable, CreateIndex, ...) updates the durable
// file and the in-memory cache atomically under one lock, so a reader
// calling Table right after a DDL call never observes the pre-DDL
// schema (spec §4.6: "the core is allowed to cache schemas in memory
// but must invalidate caches on DDL").
//
// Table/column name listings are kept in a google/btree ordered set
// alongside the map that actually owns each *DatabaseDef/*TableDef, so
// ListDatabases/ListTables return deterministic, sorted results without
// re-sorting a map's keys on every call (spec SPEC_FULL.md §11 domain
// stack).
type Catalog struct {
	store *Store
	log   zerolog.Logger

	mu      sync.RWMutex
	dbs     map[string]*DatabaseDef
	dbNames *btree.BTreeG[string]
	version uint64
}

// Version returns a counter bumped on every DDL or statistics change.
// The planner's plan cache keys entries on (fingerprint, Version) so a
// schema or stats change invalidates every cached plan touching it
// without the cache needing to know which plans those were (spec §4.7
// "Plan cache... invalidated on DDL or stats refresh affecting a
// referenced table").
func (c *Catalog) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Open loads every database file already in dir into the cache.
func Open(dir string) (*Catalog, error) {
	return OpenWithLogging(dir, dblog.Nop())
}

// OpenWithLogging is Open with an explicit logger.
func OpenWithLogging(dir string, log zerolog.Logger) (*Catalog, error) {
	log = dblog.Component(log, "catalog")

	store, err := NewStore(dir)
	if err != nil {
		return nil, err
	}
	c := &Catalog{
		store:   store,
		log:     log,
		dbs:     make(map[string]*DatabaseDef),
		dbNames: btree.NewOrderedG[string](32),
	}

	names, err := store.List()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		db, err := store.Load(name)
		if err != nil {
			return nil, err
		}
		c.dbs[name] = db
		c.dbNames.ReplaceOrInsert(name)
	}
	return c, nil
}

// CreateDatabase registers a new, empty database.
func (c *Catalog) CreateDatabase(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.dbs[name]; exists {
		return fmt.Errorf("catalog: database %q already exists", name)
	}
	db := newDatabaseDef(name)
	if err := c.store.Save(db); err != nil {
		return err
	}
	c.dbs[name] = db
	c.dbNames.ReplaceOrInsert(name)
	c.version++
	c.log.Info().Str("database", name).Msg("database created")
	return nil
}

// DropDatabase removes a database and its catalog file.
func (c *Catalog) DropDatabase(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.dbs[name]; !exists {
		return fmt.Errorf("catalog: database %q does not exist", name)
	}
	if err := c.store.Drop(name); err != nil {
		return err
	}
	delete(c.dbs, name)
	c.dbNames.Delete(name)
	c.version++
	c.log.Info().Str("database", name).Msg("database dropped")
	return nil
}

// ListDatabases returns every known database name, alphabetically.
func (c *Catalog) ListDatabases() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, c.dbNames.Len())
	c.dbNames.Ascend(func(n string) bool {
		names = append(names, n)
		return true
	})
	return names
}

func (c *Catalog) database(name string) (*DatabaseDef, error) {
	db, ok := c.dbs[name]
	if !ok {
		return nil, fmt.Errorf("catalog: database %q does not exist", name)
	}
	return db, nil
}

// CreateTable adds a table to db, validating that every constraint and
// index column reference is known (spec §4.6).
func (c *Catalog) CreateTable(dbName string, name string, columns []Column, constraints []Constraint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, err := c.database(dbName)
	if err != nil {
		return err
	}
	if _, exists := db.Tables[name]; exists {
		return fmt.Errorf("catalog: table %q already exists in %q", name, dbName)
	}
	for _, con := range constraints {
		if err := validateColumns(columns, con.Columns); err != nil {
			return fmt.Errorf("catalog: constraint %q: %w", con.Name, err)
		}
		if con.Kind == ConstraintForeignKey {
			ref, ok := db.Tables[con.RefTable]
			if !ok {
				return fmt.Errorf("catalog: foreign key %q references unknown table %q", con.Name, con.RefTable)
			}
			if err := validateColumns(ref.Columns, con.RefColumns); err != nil {
				return fmt.Errorf("catalog: foreign key %q: %w", con.Name, err)
			}
		}
	}

	db.Tables[name] = newTableDef(name, columns, constraints)
	c.version++
	c.log.Info().Str("database", dbName).Str("table", name).Msg("table created")
	return c.store.Save(db)
}

// DropTable removes a table, refusing if another table's foreign key
// still references it (spec §4.6's cascade model only applies to rows,
// not to dropping the parent table itself; an explicit DropIndex/
// DropTable on the child is required first). cascade allows dropping
// despite dependents, removing their referencing constraint as well.
func (c *Catalog) DropTable(dbName, name string, cascade bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, err := c.database(dbName)
	if err != nil {
		return err
	}
	if _, exists := db.Tables[name]; !exists {
		return fmt.Errorf("catalog: table %q does not exist in %q", name, dbName)
	}

	dependents := childTablesOf(db, name)
	if len(dependents) > 0 && !cascade {
		return fmt.Errorf("catalog: table %q has dependent foreign keys from %v, use cascade", name, dependents)
	}
	for _, childName := range dependents {
		child := db.Tables[childName]
		kept := child.Constraints[:0]
		for _, con := range child.Constraints {
			if con.Kind == ConstraintForeignKey && con.RefTable == name {
				continue
			}
			kept = append(kept, con)
		}
		child.Constraints = kept
	}

	delete(db.Tables, name)
	c.version++
	return c.store.Save(db)
}

// Table returns the cache's live *TableDef, not a copy. Callers must not
// mutate it; later DDL on the table (CreateIndex, DropIndex,
// RecordStats) updates this same object in place.
func (c *Catalog) Table(dbName, name string) (*TableDef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, err := c.database(dbName)
	if err != nil {
		return nil, err
	}
	t, ok := db.Tables[name]
	if !ok {
		return nil, fmt.Errorf("catalog: table %q does not exist in %q", name, dbName)
	}
	return t, nil
}

// ListTables returns every table name in db, alphabetically.
func (c *Catalog) ListTables(dbName string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, err := c.database(dbName)
	if err != nil {
		return nil, err
	}
	names := btree.NewOrderedG[string](32)
	for n := range db.Tables {
		names.ReplaceOrInsert(n)
	}
	out := make([]string, 0, names.Len())
	names.Ascend(func(n string) bool {
		out = append(out, n)
		return true
	})
	return out, nil
}

// CreateIndex registers a new index on table, including the B+ tree
// file path that will back it (spec §4.6). The caller (executor) is
// responsible for actually creating that file; the catalog only records
// the mapping.
func (c *Catalog) CreateIndex(dbName, table, indexName string, columns []string, unique bool, filePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, err := c.database(dbName)
	if err != nil {
		return err
	}
	t, ok := db.Tables[table]
	if !ok {
		return fmt.Errorf("catalog: table %q does not exist in %q", table, dbName)
	}
	if _, exists := t.Index(indexName); exists {
		return fmt.Errorf("catalog: index %q already exists on %q", indexName, table)
	}
	if err := validateColumns(t.Columns, columns); err != nil {
		return fmt.Errorf("catalog: index %q: %w", indexName, err)
	}
	t.Indexes = append(t.Indexes, IndexDef{
		Name: indexName, Table: table, Columns: columns, Unique: unique, FilePath: filePath,
	})
	c.version++
	return c.store.Save(db)
}

// DropIndex removes an index definition from the catalog. It does not
// delete the backing file; the executor does that once the catalog
// update (and the WAL record describing it) is durable.
func (c *Catalog) DropIndex(dbName, table, indexName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, err := c.database(dbName)
	if err != nil {
		return err
	}
	t, ok := db.Tables[table]
	if !ok {
		return fmt.Errorf("catalog: table %q does not exist in %q", table, dbName)
	}
	kept := t.Indexes[:0]
	found := false
	for _, idx := range t.Indexes {
		if idx.Name == indexName {
			found = true
			continue
		}
		kept = append(kept, idx)
	}
	if !found {
		return fmt.Errorf("catalog: index %q does not exist on %q", indexName, table)
	}
	t.Indexes = kept
	c.version++
	return c.store.Save(db)
}

// RecordStats overwrites a table's statistics (row count and per-column
// distinct-value/null/histogram data), as produced by an ANALYZE-style
// pass over the table's tree (spec §4.7 "Selectivity comes from
// histograms... and distinct-value counts").
func (c *Catalog) RecordStats(dbName, table string, stats TableStats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, err := c.database(dbName)
	if err != nil {
		return err
	}
	t, ok := db.Tables[table]
	if !ok {
		return fmt.Errorf("catalog: table %q does not exist in %q", table, dbName)
	}
	t.Stats = stats
	c.version++
	return c.store.Save(db)
}

// childTablesOf returns every table in db with a foreign key referencing
// parent, scanned under the caller's lock rather than a separate one —
// a read-locked, non-mutating walk, the same discipline ChildDependenciesOf
// uses one layer up.
func childTablesOf(db *DatabaseDef, parent string) []string {
	var out []string
	for name, t := range db.Tables {
		if name == parent {
			continue
		}
		for _, con := range t.Constraints {
			if con.Kind == ConstraintForeignKey && con.RefTable == parent {
				out = append(out, name)
				break
			}
		}
	}
	return out
}
