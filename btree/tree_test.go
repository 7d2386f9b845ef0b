package btree

import (
	"testing"

	"github.com/relational/dbcore/common"
)

func setupTestTree(t *testing.T, kinds []common.ValueKind, unique bool) *Tree {
	t.Helper()
	config := DefaultConfig(t.TempDir())
	tree, err := OpenTree(TreeConfig{
		Config:   config,
		KeyKinds: kinds,
		Nulls:    common.NullsLast,
		Unique:   unique,
	})
	if err != nil {
		t.Fatalf("OpenTree: %v", err)
	}
	t.Cleanup(func() { tree.Close() })
	return tree
}

func TestTreeInsertLookupUnique(t *testing.T) {
	tree := setupTestTree(t, []common.ValueKind{common.KindInt}, true)

	if err := tree.Insert(common.Key{common.IntValue(42)}, common.RID(100)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rid, err := tree.Lookup(common.Key{common.IntValue(42)})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rid != common.RID(100) {
		t.Fatalf("expected RID 100, got %d", rid)
	}

	if tree.NumKeys() != 1 {
		t.Fatalf("expected 1 key, got %d", tree.NumKeys())
	}
}

func TestTreeLookupMissing(t *testing.T) {
	tree := setupTestTree(t, []common.ValueKind{common.KindInt}, true)

	_, err := tree.Lookup(common.Key{common.IntValue(7)})
	if err != common.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestTreeDeleteUnique(t *testing.T) {
	tree := setupTestTree(t, []common.ValueKind{common.KindInt}, true)

	tree.Insert(common.Key{common.IntValue(1)}, common.RID(1))
	if err := tree.Delete(common.Key{common.IntValue(1)}, 0); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := tree.Lookup(common.Key{common.IntValue(1)}); err != common.ErrKeyNotFound {
		t.Fatalf("expected key gone after delete, got %v", err)
	}
}

func TestTreeNonUniqueDuplicateKeys(t *testing.T) {
	tree := setupTestTree(t, []common.ValueKind{common.KindInt}, false)

	key := common.Key{common.IntValue(5)}
	tree.Insert(key, common.RID(1))
	tree.Insert(key, common.RID(2))
	tree.Insert(key, common.RID(3))

	it, err := tree.RangeScanEqual(key)
	if err != nil {
		t.Fatalf("RangeScanEqual: %v", err)
	}
	defer it.Close()

	var rids []common.RID
	for it.Next() {
		rids = append(rids, it.RID())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration error: %v", err)
	}
	if len(rids) != 3 {
		t.Fatalf("expected 3 RIDs for duplicate key, got %d", len(rids))
	}
}

func TestTreeRangeScanAscendingAndDescending(t *testing.T) {
	tree := setupTestTree(t, []common.ValueKind{common.KindInt}, true)

	for i := int64(0); i < 10; i++ {
		tree.Insert(common.Key{common.IntValue(i)}, common.RID(i))
	}

	it, err := tree.RangeScan(common.Key{common.IntValue(2)}, common.Key{common.IntValue(7)}, true)
	if err != nil {
		t.Fatalf("RangeScan ascending: %v", err)
	}
	defer it.Close()

	var got []int64
	for it.Next() {
		k, err := it.Key()
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		got = append(got, k[0].Int)
	}
	want := []int64{2, 3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	itDesc, err := tree.RangeScan(common.Key{common.IntValue(2)}, common.Key{common.IntValue(7)}, false)
	if err != nil {
		t.Fatalf("RangeScan descending: %v", err)
	}
	defer itDesc.Close()

	var gotDesc []int64
	for itDesc.Next() {
		k, err := itDesc.Key()
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		gotDesc = append(gotDesc, k[0].Int)
	}
	wantDesc := []int64{7, 6, 5, 4, 3}
	if len(gotDesc) != len(wantDesc) {
		t.Fatalf("expected %v, got %v", wantDesc, gotDesc)
	}
	for i := range wantDesc {
		if gotDesc[i] != wantDesc[i] {
			t.Fatalf("expected %v, got %v", wantDesc, gotDesc)
		}
	}
}

func TestTreeRejectsMismatchedComparatorOnReopen(t *testing.T) {
	dir := t.TempDir()
	config := DefaultConfig(dir)

	tree, err := OpenTree(TreeConfig{
		Config:   config,
		KeyKinds: []common.ValueKind{common.KindInt},
		Nulls:    common.NullsLast,
		Unique:   true,
	})
	if err != nil {
		t.Fatalf("OpenTree: %v", err)
	}
	tree.Insert(common.Key{common.IntValue(1)}, common.RID(1))
	if err := tree.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = OpenTree(TreeConfig{
		Config:   config,
		KeyKinds: []common.ValueKind{common.KindString},
		Nulls:    common.NullsLast,
		Unique:   true,
	})
	if err == nil {
		t.Fatal("expected reopen with mismatched key kind to fail")
	}
}

func TestTreePersistsNumKeysAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	config := DefaultConfig(dir)
	kinds := []common.ValueKind{common.KindInt}

	tree, err := OpenTree(TreeConfig{Config: config, KeyKinds: kinds, Nulls: common.NullsLast, Unique: true})
	if err != nil {
		t.Fatalf("OpenTree: %v", err)
	}
	for i := int64(0); i < 5; i++ {
		tree.Insert(common.Key{common.IntValue(i)}, common.RID(i))
	}
	if err := tree.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenTree(TreeConfig{Config: config, KeyKinds: kinds, Nulls: common.NullsLast, Unique: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.NumKeys() != 5 {
		t.Fatalf("expected 5 keys to survive reopen, got %d", reopened.NumKeys())
	}
}
