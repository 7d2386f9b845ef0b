package executor

import (
	"fmt"
	"sync"

	"github.com/relational/dbcore/btree"
	"github.com/relational/dbcore/catalog"
	"github.com/relational/dbcore/common"
)

// indexRef is one entry of TableRegistry's flat index-name lookup,
// which ApplyIndexRedo/ApplyIndexUndo need: a txn.IndexOp carries only
// an index name, never its owning table (txn/txn.go's IndexOp doc:
// "txn treats it as opaque... only the Applier that owns the index's
// btree.Tree knows its column kinds").
type indexRef struct {
	table string
	tree  *btree.Tree
	kinds []common.ValueKind
}

// TableRegistry is the set of a database's tables currently open for
// physical access: each table's heap and index trees, keyed by name,
// plus a flat index-name -> tree map for the Applier. One registry is
// shared by every statement executing against a given database; the
// engine package (engine.Open / Engine.Close) owns its lifetime.
type TableRegistry struct {
	dir    string
	cat    *catalog.Catalog
	dbName string

	mu      sync.RWMutex
	tables  map[string]*TableHandle
	indexes map[string]indexRef
}

// OpenTableRegistry opens every table already registered in the catalog
// for dbName, so recovery (which may redo/undo a write against any
// table) always finds its target open.
func OpenTableRegistry(dir string, cat *catalog.Catalog, dbName string) (*TableRegistry, error) {
	r := &TableRegistry{
		dir:     dir,
		cat:     cat,
		dbName:  dbName,
		tables:  make(map[string]*TableHandle),
		indexes: make(map[string]indexRef),
	}
	names, err := cat.ListTables(dbName)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := r.openTable(name); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *TableRegistry) openTable(name string) error {
	def, err := r.cat.Table(r.dbName, name)
	if err != nil {
		return err
	}
	th, err := OpenTableHandle(r.dir, def)
	if err != nil {
		return err
	}
	r.tables[name] = th
	for _, idx := range def.Indexes {
		kinds, err := indexKinds(def, idx)
		if err != nil {
			return err
		}
		r.indexes[idx.Name] = indexRef{table: name, tree: th.Indexes[idx.Name], kinds: kinds}
	}
	return nil
}

// OpenTable registers a table created after the registry's initial
// scan (e.g. by a CREATE TABLE the engine just committed).
func (r *TableRegistry) OpenTable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[name]; ok {
		return nil
	}
	return r.openTable(name)
}

// OpenIndex registers an index created after its table was opened (a
// CREATE INDEX against an already-open table).
func (r *TableRegistry) OpenIndex(table, indexName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	th, ok := r.tables[table]
	if !ok {
		return fmt.Errorf("executor: table %q is not open", table)
	}
	def, err := r.cat.Table(r.dbName, table)
	if err != nil {
		return err
	}
	idx, ok := def.Index(indexName)
	if !ok {
		return fmt.Errorf("executor: index %q does not exist on %q", indexName, table)
	}
	kinds, err := indexKinds(def, idx)
	if err != nil {
		return err
	}
	tree, err := btree.OpenTree(btree.TreeConfig{
		Config:   btree.Config{DataDir: idx.FilePath},
		KeyKinds: kinds,
		Nulls:    common.NullsLast,
		Unique:   idx.Unique,
	})
	if err != nil {
		return err
	}
	th.Def = def
	th.Indexes[indexName] = tree
	r.indexes[indexName] = indexRef{table: table, tree: tree, kinds: kinds}
	return nil
}

// Table returns the open handle for name.
func (r *TableRegistry) Table(name string) (*TableHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	th, ok := r.tables[name]
	if !ok {
		return nil, fmt.Errorf("executor: table %q is not open", name)
	}
	return th, nil
}

// IndexTree resolves an index by name to its tree and key-column kinds.
func (r *TableRegistry) IndexTree(name string) (*btree.Tree, []common.ValueKind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.indexes[name]
	if !ok {
		return nil, nil, fmt.Errorf("executor: index %q is not open", name)
	}
	return ref.tree, ref.kinds, nil
}

// Close closes every open table, returning the first error encountered.
func (r *TableRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, th := range r.tables {
		if err := th.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
