// Package txn implements the engine's transaction manager: the
// Active -> (Committing | Aborting) -> Terminated state machine, the
// per-transaction write set (pre/post images plus secondary index
// operations, for undo and WAL forward-propagation), auto-commit, and
// three-phase crash recovery (spec §4.3 "Recovery", §4.5).
package txn

import (
	"fmt"
	"sync"

	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/lockmgr"
)

// State is a transaction's position in its state machine (spec §4.5).
// Nested transactions are not supported; every Transaction moves
// through this machine exactly once.
type State int

const (
	StateActive State = iota
	StateCommitting
	StateAborting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StateCommitting:
		return "Committing"
	case StateAborting:
		return "Aborting"
	case StateTerminated:
		return "Terminated"
	default:
		return "?"
	}
}

// IndexOpKind distinguishes inserting vs removing a secondary index
// entry as part of a row change's write set.
type IndexOpKind uint8

const (
	IndexInsert IndexOpKind = iota
	IndexDelete
)

// IndexOp is one secondary-index side effect of a row change, recorded
// so rollback can restore index entries along with the row itself
// (spec §4.5 "including secondary index entries"). Key is the index's
// already-encoded key bytes (common.EncodeKey output) — txn treats it
// as opaque, the same way it treats row pre/post images; only the
// Applier that owns the index's btree.Tree knows its column kinds.
type IndexOp struct {
	Index string
	Key   []byte
	RID   common.RID
	Kind  IndexOpKind
}

// RowChange is one write-set entry: a single row mutation, its
// pre-image (nil on insert) and post-image (nil on delete), and any
// secondary index operations it implies. PreImage/PostImage are
// caller-defined encodings (typically the row's tuple encoding); txn
// never interprets them, only hands them back to an Applier.
type RowChange struct {
	LSN       uint64
	Table     string
	RID       common.RID
	PreImage  []byte
	PostImage []byte
	IndexOps  []IndexOp
}

// Transaction is one unit of work. Obtained from Manager.Begin; every
// operation checks State and fails with common.ErrTxnNotActive once
// the transaction has left StateActive (spec §4.5).
type Transaction struct {
	id      lockmgr.TxnID
	mgr     *Manager
	mu      sync.Mutex
	state   State
	lastLSN uint64 // most recent WAL record this txn wrote; chains via PrevLSN
	writes  []RowChange
}

// ID returns the transaction's identifier.
func (t *Transaction) ID() lockmgr.TxnID {
	return t.id
}

// State returns the transaction's current state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// WriteSetSize returns the number of row changes recorded so far. It is
// wired into lockmgr.Config.WriteSetSize as the deadlock detector's
// tie-break metric (spec §4.4).
func (t *Transaction) WriteSetSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.writes)
}

func (t *Transaction) checkActive() error {
	if t.state != StateActive {
		return common.ErrTxnNotActive
	}
	return nil
}

// LockTable acquires a table-granularity lock for this transaction,
// held until commit or rollback (strict 2PL, spec §4.4).
func (t *Transaction) LockTable(table string, mode lockmgr.Mode) error {
	t.mu.Lock()
	if err := t.checkActive(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()
	return t.mgr.locks.Acquire(t.mgr.ctx(), t.id, lockmgr.TableResource(table), mode)
}

// LockRow acquires a row-granularity lock for this transaction.
// Callers are expected to have already taken the corresponding
// intent lock (IS/IX) on the table.
func (t *Transaction) LockRow(table string, rid common.RID, mode lockmgr.Mode) error {
	t.mu.Lock()
	if err := t.checkActive(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()
	return t.mgr.locks.Acquire(t.mgr.ctx(), t.id, lockmgr.RowResource(table, rid), mode)
}

// RecordWrite appends a row change to the WAL (Insert/Update/Delete
// depending on which images are present) and to the in-memory write
// set used for rollback (spec §4.5 "recorded in the transaction
// context and in the WAL").
func (t *Transaction) RecordWrite(table string, rid common.RID, preImage, postImage []byte, indexOps []IndexOp) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkActive(); err != nil {
		return err
	}

	change := RowChange{Table: table, RID: rid, PreImage: preImage, PostImage: postImage, IndexOps: indexOps}
	lsn, err := t.mgr.appendRowRecord(t.id, t.lastLSN, &change)
	if err != nil {
		return err
	}
	change.LSN = lsn
	t.lastLSN = lsn
	t.writes = append(t.writes, change)
	return nil
}

// Commit durably commits the transaction: appends a Commit record,
// flushes the WAL up to its LSN, releases every lock, and moves to
// StateTerminated (spec §4.5).
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if err := t.checkActive(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.state = StateCommitting
	t.mu.Unlock()

	lsn, err := t.mgr.appendControlRecord(t.id, t.lastLSN, true)
	if err != nil {
		return fmt.Errorf("txn: commit record: %w", err)
	}
	if err := t.mgr.wal.FlushTo(lsn); err != nil {
		return fmt.Errorf("txn: flush commit: %w", err)
	}

	t.mgr.locks.ReleaseAll(t.id)
	t.mgr.forget(t.id)

	t.mu.Lock()
	t.state = StateTerminated
	t.mu.Unlock()
	return nil
}

// Rollback undoes every recorded write in reverse order via the
// Manager's Applier, appends an Abort record, releases locks, and
// moves to StateTerminated. Rollback on an already-terminated
// transaction is a no-op, not an error (spec §8 idempotence property).
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	if t.state == StateTerminated {
		t.mu.Unlock()
		return nil
	}
	if err := t.checkActive(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.state = StateAborting
	writes := t.writes
	t.mu.Unlock()

	if t.mgr.applier != nil {
		for i := len(writes) - 1; i >= 0; i-- {
			if err := t.mgr.undoChange(writes[i]); err != nil {
				return fmt.Errorf("txn: undo %s rid %d: %w", writes[i].Table, writes[i].RID, err)
			}
		}
	}

	if _, err := t.mgr.appendControlRecord(t.id, t.lastLSN, false); err != nil {
		return fmt.Errorf("txn: abort record: %w", err)
	}

	t.mgr.locks.ReleaseAll(t.id)
	t.mgr.forget(t.id)

	t.mu.Lock()
	t.state = StateTerminated
	t.mu.Unlock()
	return nil
}
