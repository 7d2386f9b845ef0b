package executor

import (
	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/txn"
)

// Applier wires txn.Manager's redo/undo hooks to a TableRegistry's real
// row heaps and index trees, replacing the fake in-memory applier the
// txn package's own tests use (txn/manager_test.go's fakeApplier).
type Applier struct {
	reg *TableRegistry
}

// NewApplier builds an Applier over reg.
func NewApplier(reg *TableRegistry) *Applier {
	return &Applier{reg: reg}
}

// ApplyRedo reapplies a row change's post-image. A nil postImage means
// the change was a delete (txn/manager.go's appendRowRecord records
// KindDelete exactly when PostImage is nil), so the row is removed
// rather than written.
func (a *Applier) ApplyRedo(table string, rid common.RID, postImage []byte) error {
	th, err := a.reg.Table(table)
	if err != nil {
		return err
	}
	if postImage == nil {
		return th.Heap.Delete(rid)
	}
	return th.Heap.Put(rid, postImage)
}

func (a *Applier) ApplyUndo(table string, rid common.RID, preImage []byte) error {
	th, err := a.reg.Table(table)
	if err != nil {
		return err
	}
	if preImage == nil {
		return th.Heap.Delete(rid)
	}
	return th.Heap.Put(rid, preImage)
}

func (a *Applier) ApplyIndexRedo(op txn.IndexOp) error {
	tree, kinds, err := a.reg.IndexTree(op.Index)
	if err != nil {
		return err
	}
	if op.Kind == txn.IndexInsert {
		return insertIndexEntry(tree, kinds, op)
	}
	return deleteIndexEntry(tree, kinds, op)
}

// ApplyIndexUndo applies the inverse of the recorded operation: undoing
// an insert deletes the entry, undoing a delete reinserts it.
func (a *Applier) ApplyIndexUndo(op txn.IndexOp) error {
	tree, kinds, err := a.reg.IndexTree(op.Index)
	if err != nil {
		return err
	}
	if op.Kind == txn.IndexInsert {
		return deleteIndexEntry(tree, kinds, op)
	}
	return insertIndexEntry(tree, kinds, op)
}

func decodeIndexKey(op txn.IndexOp, kinds []common.ValueKind) (common.Key, error) {
	return common.DecodeKey(op.Key, kinds, common.NullsLast)
}

func insertIndexEntry(tree treeInserter, kinds []common.ValueKind, op txn.IndexOp) error {
	key, err := decodeIndexKey(op, kinds)
	if err != nil {
		return err
	}
	return tree.Insert(key, op.RID)
}

func deleteIndexEntry(tree treeDeleter, kinds []common.ValueKind, op txn.IndexOp) error {
	key, err := decodeIndexKey(op, kinds)
	if err != nil {
		return err
	}
	return tree.Delete(key, op.RID)
}

// treeInserter/treeDeleter narrow *btree.Tree to the two calls
// insertIndexEntry/deleteIndexEntry need, so the tests in this package
// can exercise them against a fake without pulling in a real tree file.
type treeInserter interface {
	Insert(key common.Key, rid common.RID) error
}

type treeDeleter interface {
	Delete(key common.Key, rid common.RID) error
}
