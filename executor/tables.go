package executor

import (
	"fmt"
	"path/filepath"

	"github.com/relational/dbcore/btree"
	"github.com/relational/dbcore/catalog"
	"github.com/relational/dbcore/common"
)

// TableHandle is the open physical storage behind one catalog table:
// its row heap plus every index declared on it (spec §3 "the table's
// tuples live in the primary-key B+ tree"). The clustering index
// (PrimaryIndex) stays a Key -> RID mapping like every secondary index,
// but the RID itself is the row heap's own clustering key (RowHeap,
// heap.go), so a PK lookup is still exactly two single-page descents —
// one through the index to the RID, one through the heap to the row —
// and a full scan walks the heap's leaves directly in RID order with
// no second store to keep in sync.
type TableHandle struct {
	Def     *catalog.TableDef
	Heap    *RowHeap
	Indexes map[string]*btree.Tree
}

// OpenTableHandle opens a table's row heap (under dir/<table>.heap) and
// every index file the catalog already has a registered path for.
func OpenTableHandle(dir string, def *catalog.TableDef) (*TableHandle, error) {
	heap, err := OpenRowHeap(filepath.Join(dir, def.Name+".heap"))
	if err != nil {
		return nil, fmt.Errorf("executor: open heap for %q: %w", def.Name, err)
	}

	th := &TableHandle{Def: def, Heap: heap, Indexes: make(map[string]*btree.Tree, len(def.Indexes))}
	for _, idx := range def.Indexes {
		kinds, err := indexKinds(def, idx)
		if err != nil {
			th.Close()
			return nil, err
		}
		tree, err := btree.OpenTree(btree.TreeConfig{
			Config:   btree.Config{DataDir: idx.FilePath},
			KeyKinds: kinds,
			Nulls:    common.NullsLast,
			Unique:   idx.Unique,
		})
		if err != nil {
			th.Close()
			return nil, fmt.Errorf("executor: open index %q: %w", idx.Name, err)
		}
		th.Indexes[idx.Name] = tree
	}
	return th, nil
}

func indexKinds(def *catalog.TableDef, idx catalog.IndexDef) ([]common.ValueKind, error) {
	kinds := make([]common.ValueKind, len(idx.Columns))
	for i, col := range idx.Columns {
		c, ok := def.Column(col)
		if !ok {
			return nil, fmt.Errorf("executor: index %q references unknown column %q", idx.Name, col)
		}
		kinds[i] = c.Type
	}
	return kinds, nil
}

// Close closes the heap and every open index tree, returning the first
// error encountered but still attempting to close every handle.
func (th *TableHandle) Close() error {
	var first error
	for _, t := range th.Indexes {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	if th.Heap != nil {
		if err := th.Heap.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RowKinds returns each column's declared type in schema order, the
// argument DecodeRow needs to parse a heap payload back into values.
func (th *TableHandle) RowKinds() []common.ValueKind {
	kinds := make([]common.ValueKind, len(th.Def.Columns))
	for i, c := range th.Def.Columns {
		kinds[i] = c.Type
	}
	return kinds
}

// Schema returns the table's output schema under alias (its own name
// when alias is empty).
func (th *TableHandle) Schema(alias string) Schema {
	if alias == "" {
		alias = th.Def.Name
	}
	cols := make([]ColumnInfo, len(th.Def.Columns))
	for i, c := range th.Def.Columns {
		cols[i] = ColumnInfo{Name: c.Name, Kind: c.Type}
	}
	return TableSchema(alias, cols)
}

// PrimaryIndex returns the index backing the table's declared primary
// key, if any.
func (th *TableHandle) PrimaryIndex() (*btree.Tree, *catalog.IndexDef, bool) {
	pk, ok := th.Def.PrimaryKey()
	if !ok {
		return nil, nil, false
	}
	for i := range th.Def.Indexes {
		idx := &th.Def.Indexes[i]
		if sameColumns(idx.Columns, pk.Columns) {
			return th.Indexes[idx.Name], idx, true
		}
	}
	return nil, nil, false
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
