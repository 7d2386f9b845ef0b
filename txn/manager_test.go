package txn

import (
	"errors"
	"sync"
	"testing"

	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/internal/dblog"
	"github.com/relational/dbcore/internal/metrics"
	"github.com/relational/dbcore/lockmgr"
	"github.com/relational/dbcore/wal"
)

// fakeApplier is an in-memory row store standing in for the executor's
// real btree.Tree-backed applier, used to verify redo/undo without a
// catalog or planner.
type fakeApplier struct {
	mu    sync.Mutex
	rows  map[string]map[common.RID][]byte // table -> rid -> image (nil entry means "deleted")
	index map[string]map[string]common.RID // index name -> encoded key -> rid
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{
		rows:  make(map[string]map[common.RID][]byte),
		index: make(map[string]map[string]common.RID),
	}
}

func (f *fakeApplier) ApplyRedo(table string, rid common.RID, postImage []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[table] == nil {
		f.rows[table] = make(map[common.RID][]byte)
	}
	if postImage == nil {
		delete(f.rows[table], rid)
	} else {
		f.rows[table][rid] = postImage
	}
	return nil
}

func (f *fakeApplier) ApplyUndo(table string, rid common.RID, preImage []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[table] == nil {
		f.rows[table] = make(map[common.RID][]byte)
	}
	if preImage == nil {
		delete(f.rows[table], rid)
	} else {
		f.rows[table][rid] = preImage
	}
	return nil
}

func (f *fakeApplier) ApplyIndexRedo(op IndexOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index[op.Index] == nil {
		f.index[op.Index] = make(map[string]common.RID)
	}
	if op.Kind == IndexDelete {
		delete(f.index[op.Index], string(op.Key))
	} else {
		f.index[op.Index][string(op.Key)] = op.RID
	}
	return nil
}

func (f *fakeApplier) ApplyIndexUndo(op IndexOp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index[op.Index] == nil {
		f.index[op.Index] = make(map[string]common.RID)
	}
	if op.Kind == IndexInsert {
		delete(f.index[op.Index], string(op.Key))
	} else {
		f.index[op.Index][string(op.Key)] = op.RID
	}
	return nil
}

func (f *fakeApplier) row(table string, rid common.RID) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.rows[table][rid]
	return v, ok
}

func openTestManager(t *testing.T, dir string, applier Applier) (*Manager, *wal.WAL) {
	t.Helper()
	w, err := wal.Open(wal.Config{Dir: dir}, dblog.Nop(), metrics.Noop())
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	mgr, err := Open(w, Config{Applier: applier})
	if err != nil {
		t.Fatalf("txn.Open: %v", err)
	}
	t.Cleanup(mgr.Close)
	return mgr, w
}

func TestCommitAppliesNothingMoreThanWriteSet(t *testing.T) {
	applier := newFakeApplier()
	mgr, _ := openTestManager(t, t.TempDir(), applier)

	tx, err := mgr.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.RecordWrite("employees", 1, nil, []byte("alice"), nil); err != nil {
		t.Fatalf("RecordWrite: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if tx.State() != StateTerminated {
		t.Fatalf("expected Terminated after commit, got %v", tx.State())
	}

	if err := tx.Commit(); err != common.ErrTxnNotActive {
		t.Fatalf("second commit should fail with TxnNotActive, got %v", err)
	}
}

func TestRollbackUndoesWriteSet(t *testing.T) {
	applier := newFakeApplier()
	mgr, _ := openTestManager(t, t.TempDir(), applier)

	tx, err := mgr.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.RecordWrite("employees", 1, nil, []byte("alice"), []IndexOp{
		{Index: "employees_name", Key: []byte("alice"), RID: 1, Kind: IndexInsert},
	}); err != nil {
		t.Fatalf("RecordWrite: %v", err)
	}
	// Not yet applied to the fake store by RecordWrite itself — that's
	// the caller's job in the real engine (RecordWrite only logs).
	// Apply it here to mirror what the executor would have done before
	// calling RecordWrite, then roll back and confirm undo reverses it.
	applier.ApplyRedo("employees", 1, []byte("alice"))
	applier.ApplyIndexRedo(IndexOp{Index: "employees_name", Key: []byte("alice"), RID: 1, Kind: IndexInsert})

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, ok := applier.row("employees", 1); ok {
		t.Fatal("expected row removed after rollback of an insert")
	}
	if _, ok := applier.index["employees_name"]["alice"]; ok {
		t.Fatal("expected index entry removed after rollback")
	}

	// Idempotent: rolling back an already-terminated transaction is a
	// no-op, not an error (spec §8).
	if err := tx.Rollback(); err != nil {
		t.Fatalf("second Rollback should be a no-op, got %v", err)
	}
}

func TestDoubleCommitFailsTxnNotActive(t *testing.T) {
	applier := newFakeApplier()
	mgr, _ := openTestManager(t, t.TempDir(), applier)

	tx, _ := mgr.Begin()
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := tx.Commit(); err != common.ErrTxnNotActive {
		t.Fatalf("expected TxnNotActive, got %v", err)
	}
}

func TestAutoCommitRollsBackOnError(t *testing.T) {
	applier := newFakeApplier()
	mgr, _ := openTestManager(t, t.TempDir(), applier)

	sentinel := common.NewError(common.KindConstraintViolation, "test", errors.New("duplicate key"))
	err := mgr.AutoCommit(func(tx *Transaction) error {
		if err := tx.RecordWrite("t", 1, nil, []byte("x"), nil); err != nil {
			return err
		}
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("expected sentinel error from AutoCommit, got %v", err)
	}
}

func TestTableAndRowLocking(t *testing.T) {
	applier := newFakeApplier()
	mgr, _ := openTestManager(t, t.TempDir(), applier)

	tx, _ := mgr.Begin()
	if err := tx.LockTable("employees", lockmgr.IX); err != nil {
		t.Fatalf("LockTable: %v", err)
	}
	if err := tx.LockRow("employees", 1, lockmgr.X); err != nil {
		t.Fatalf("LockRow: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestRecoveryRedoesCommittedAndUndoesIncomplete(t *testing.T) {
	dir := t.TempDir()
	applier := newFakeApplier()

	w, err := wal.Open(wal.Config{Dir: dir}, dblog.Nop(), metrics.Noop())
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	mgr, err := Open(w, Config{Applier: applier})
	if err != nil {
		t.Fatalf("txn.Open: %v", err)
	}

	committed, err := mgr.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := committed.RecordWrite("t", 1, nil, []byte("committed-row"), nil); err != nil {
		t.Fatalf("RecordWrite: %v", err)
	}
	if err := committed.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Simulate a crash mid-transaction: write a row change but never
	// append Commit/Abort, then close without rolling back.
	incomplete, err := mgr.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := incomplete.RecordWrite("t", 2, nil, []byte("incomplete-row"), nil); err != nil {
		t.Fatalf("RecordWrite: %v", err)
	}
	mgr.Close()
	w.Close()

	// Reopen: a fresh applier simulates post-crash state (the on-disk
	// side-effects of the incomplete write are assumed to have never
	// made it to the tree files under WAL-before-data; only the WAL
	// itself is durable and replayed here).
	freshApplier := newFakeApplier()
	w2, err := wal.Open(wal.Config{Dir: dir}, dblog.Nop(), metrics.Noop())
	if err != nil {
		t.Fatalf("wal.Open (reopen): %v", err)
	}
	defer w2.Close()
	mgr2, err := Open(w2, Config{Applier: freshApplier})
	if err != nil {
		t.Fatalf("txn.Open (recovery): %v", err)
	}
	defer mgr2.Close()

	if v, ok := freshApplier.row("t", 1); !ok || string(v) != "committed-row" {
		t.Fatalf("expected committed row redone, got %q ok=%v", v, ok)
	}
	if _, ok := freshApplier.row("t", 2); ok {
		t.Fatal("expected incomplete transaction's row undone, not present")
	}
}
