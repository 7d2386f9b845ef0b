package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/relational/dbcore/common"
)

// TreeConfig configures a typed Tree on top of the byte-oriented BTree.
type TreeConfig struct {
	Config
	KeyKinds []common.ValueKind // declared type of each key column, in order
	Nulls    common.NullOrder
	Unique   bool // false: duplicate keys are disambiguated by RID suffix
	Identity string // persisted comparator identity; derived if empty
}

// Tree is the spec-level typed B+ tree index: common.Key tuples mapping
// to common.RID row addresses, built by encoding keys through
// common.EncodeKey/DecodeKey so the byte-oriented BTree beneath it never
// has to know about types, NULL ordering, or composite columns (spec
// §3, §4.1).
type Tree struct {
	bt       *BTree
	keyKinds []common.ValueKind
	nulls    common.NullOrder
	unique   bool
	identity string
	numKeys  int64
}

func defaultIdentity(kinds []common.ValueKind, unique bool, nulls common.NullOrder) string {
	s := "tree("
	for i, k := range kinds {
		if i > 0 {
			s += ","
		}
		switch k {
		case common.KindInt:
			s += "int"
		case common.KindString:
			s += "string"
		case common.KindBool:
			s += "bool"
		case common.KindFloat:
			s += "float"
		default:
			s += "?"
		}
	}
	s += ")"
	if unique {
		s += "-unique"
	} else {
		s += "-dup"
	}
	if nulls == common.NullsFirst {
		s += "-nulls-first"
	} else {
		s += "-nulls-last"
	}
	return s
}

func kindsEqual(raw []byte, kinds []common.ValueKind) bool {
	if len(raw) != len(kinds) {
		return false
	}
	for i, k := range kinds {
		if common.ValueKind(raw[i]) != k {
			return false
		}
	}
	return true
}

// OpenTree creates or reopens a typed tree. Reopening with a different
// KeyKinds/Unique/Nulls than the tree was created with fails: the
// comparator is fixed at creation (spec §4.1).
func OpenTree(cfg TreeConfig) (*Tree, error) {
	identity := cfg.Identity
	if identity == "" {
		identity = defaultIdentity(cfg.KeyKinds, cfg.Unique, cfg.Nulls)
	}

	bt, err := New(cfg.Config)
	if err != nil {
		return nil, err
	}

	existingUnique, existingNulls, existingIdentity, existingKinds := bt.pager.KeyHeader()
	if existingIdentity == "" {
		kindBytes := make([]byte, len(cfg.KeyKinds))
		for i, k := range cfg.KeyKinds {
			kindBytes[i] = byte(k)
		}
		if err := bt.pager.SetKeyHeader(cfg.Unique, byte(cfg.Nulls), identity, kindBytes); err != nil {
			bt.Close()
			return nil, err
		}
	} else if existingIdentity != identity ||
		existingUnique != cfg.Unique ||
		common.NullOrder(existingNulls) != cfg.Nulls ||
		!kindsEqual(existingKinds, cfg.KeyKinds) {
		bt.Close()
		return nil, fmt.Errorf("btree: tree was created with comparator %q, cannot reopen as %q", existingIdentity, identity)
	}

	t := &Tree{
		bt:       bt,
		keyKinds: cfg.KeyKinds,
		nulls:    cfg.Nulls,
		unique:   cfg.Unique,
		identity: identity,
		numKeys:  bt.pager.NumKeysHeader(),
	}
	return t, nil
}

func encodeRID(rid common.RID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(rid))
	return b[:]
}

func decodeRID(b []byte) common.RID {
	if len(b) < 8 {
		return 0
	}
	return common.RID(binary.BigEndian.Uint64(b))
}

// storageKey returns the byte key actually stored in the underlying
// BTree: the encoded tuple, with a big-endian RID suffix appended for
// non-unique trees so distinct rows sharing a key sort by RID after it
// (the encoded tuple is self-delimiting, so appending bytes after it
// never changes the relative order of two different key tuples).
func (t *Tree) storageKey(encKey []byte, rid common.RID) []byte {
	if t.unique {
		return encKey
	}
	out := make([]byte, 0, len(encKey)+8)
	out = append(out, encKey...)
	out = append(out, encodeRID(rid)...)
	return out
}

// Insert adds key -> rid. For a non-unique tree, multiple rids may be
// inserted under logically equal keys.
func (t *Tree) Insert(key common.Key, rid common.RID) error {
	encKey := common.EncodeKey(key, t.nulls)
	if err := t.bt.Put(t.storageKey(encKey, rid), encodeRID(rid)); err != nil {
		return err
	}
	t.numKeys++
	return nil
}

// Lookup returns the RID for key. Only valid on a unique tree; a
// non-unique tree may hold more than one RID per key, so callers use
// RangeScanEqual instead.
func (t *Tree) Lookup(key common.Key) (common.RID, error) {
	if !t.unique {
		return 0, fmt.Errorf("btree: Lookup requires a unique tree; use RangeScanEqual on a non-unique tree")
	}
	val, err := t.bt.Get(common.EncodeKey(key, t.nulls))
	if err != nil {
		return 0, err
	}
	return decodeRID(val), nil
}

// Delete removes the entry for key and rid. rid is ignored on a unique
// tree (the key alone identifies the entry).
func (t *Tree) Delete(key common.Key, rid common.RID) error {
	encKey := common.EncodeKey(key, t.nulls)
	if err := t.bt.Delete(t.storageKey(encKey, rid)); err != nil {
		return err
	}
	t.numKeys--
	return nil
}

// TreeIterator decodes the byte-level BTree iterator back into typed
// Key/RID pairs.
type TreeIterator struct {
	it   common.Iterator
	tree *Tree
}

func (ti *TreeIterator) Next() bool { return ti.it.Next() }

func (ti *TreeIterator) Key() (common.Key, error) {
	return common.DecodeKey(ti.it.Key(), ti.tree.keyKinds, ti.tree.nulls)
}

func (ti *TreeIterator) RID() common.RID {
	return decodeRID(ti.it.Value())
}

func (ti *TreeIterator) Err() error   { return ti.it.Error() }
func (ti *TreeIterator) Close() error { return ti.it.Close() }

// RangeScan iterates keys in [lo, hi) in ascending order, or keys in
// (lo, hi] from hi down when ascending is false. A nil bound means
// unbounded on that side.
func (t *Tree) RangeScan(lo, hi common.Key, ascending bool) (*TreeIterator, error) {
	var loBytes, hiBytes []byte
	if lo != nil {
		loBytes = common.EncodeKey(lo, t.nulls)
	}
	if hi != nil {
		hiBytes = common.EncodeKey(hi, t.nulls)
	}

	var it common.Iterator
	var err error
	if ascending {
		it, err = t.bt.Scan(loBytes, hiBytes)
	} else {
		it, err = t.bt.ScanDescending(hiBytes, loBytes)
	}
	if err != nil {
		return nil, err
	}
	return &TreeIterator{it: it, tree: t}, nil
}

// prefixUpperBound returns the smallest byte string that sorts after
// every string with the given prefix, or nil if prefix is all 0xFF
// bytes (no finite upper bound; the caller should scan unbounded).
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// RangeScanEqual iterates every RID stored under a logically equal key
// on a non-unique tree (spec §3 "duplicate keys"), in RID order.
func (t *Tree) RangeScanEqual(key common.Key) (*TreeIterator, error) {
	encKey := common.EncodeKey(key, t.nulls)
	upper := prefixUpperBound(encKey)

	it, err := t.bt.Scan(encKey, upper)
	if err != nil {
		return nil, err
	}
	return &TreeIterator{it: it, tree: t}, nil
}

// BulkLoadEntry is one row of a BulkLoad batch.
type BulkLoadEntry struct {
	Key common.Key
	RID common.RID
}

// BulkLoad inserts a batch of entries. It is a straightforward loop over
// Insert rather than a dedicated sorted bottom-up page build: the
// teacher's btree package has no bulk construction path to generalize,
// and building one is out of scope for this pass (see DESIGN.md).
func (t *Tree) BulkLoad(entries []BulkLoadEntry) error {
	for _, e := range entries {
		if err := t.Insert(e.Key, e.RID); err != nil {
			return err
		}
	}
	return nil
}

// NumKeys returns the tree's persisted key count.
func (t *Tree) NumKeys() int64 { return t.numKeys }

// Sync flushes the tree and persists its key count header.
func (t *Tree) Sync() error {
	if err := t.bt.Sync(); err != nil {
		return err
	}
	return t.bt.pager.SetNumKeysHeader(t.numKeys)
}

// Close flushes and closes the underlying BTree.
func (t *Tree) Close() error {
	if err := t.bt.pager.SetNumKeysHeader(t.numKeys); err != nil {
		t.bt.Close()
		return err
	}
	return t.bt.Close()
}

// Stats proxies the underlying BTree's statistics.
func (t *Tree) Stats() common.Stats { return t.bt.Stats() }
