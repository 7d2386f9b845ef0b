// Package lockmgr implements the engine's transactional lock manager:
// table and row granularity locking under the standard S/X/IS/IX
// multi-granularity matrix, strict two-phase locking (locks released
// only at transaction end), and background deadlock detection over an
// incrementally maintained wait-for graph (spec §4.4).
package lockmgr

import (
	"fmt"

	"github.com/relational/dbcore/common"
)

// Mode is a lock mode in the standard multi-granularity lattice.
type Mode int

const (
	IS Mode = iota // intent-shared
	IX             // intent-exclusive
	S              // shared
	X              // exclusive
)

func (m Mode) String() string {
	switch m {
	case IS:
		return "IS"
	case IX:
		return "IX"
	case S:
		return "S"
	case X:
		return "X"
	default:
		return "?"
	}
}

// compat[held][requested] is the standard 2PL compatibility matrix.
var compat = [4][4]bool{
	IS: {IS: true, IX: true, S: true, X: false},
	IX: {IS: true, IX: true, S: false, X: false},
	S:  {IS: true, IX: false, S: true, X: false},
	X:  {IS: false, IX: false, S: false, X: false},
}

// Compatible reports whether a requested mode can be granted alongside
// an already-held mode on the same resource.
func Compatible(held, requested Mode) bool {
	return compat[held][requested]
}

// subsumes reports whether a grant already held in mode held gives the
// holder at least as much access as requested, so a second Acquire call
// by the same transaction can be satisfied without queuing. This does
// not implement full lock upgrade (e.g. S -> X in place ahead of other
// waiters); a transaction that holds S and requests X queues like any
// other waiter, which is sufficient for the strict-2PL discipline here.
func subsumes(held, requested Mode) bool {
	if held == requested {
		return true
	}
	switch held {
	case X:
		return true
	case S:
		return requested == IS
	case IX:
		return requested == IS
	default:
		return false
	}
}

// Granularity is the resource level a lock is acquired at.
type Granularity int

const (
	GranularityTable Granularity = iota
	GranularityRow
)

// ResourceID names a lockable resource: a table, or a row within one.
type ResourceID struct {
	Table       string
	Row         common.RID
	Granularity Granularity
}

// TableResource names a whole-table resource.
func TableResource(table string) ResourceID {
	return ResourceID{Table: table, Granularity: GranularityTable}
}

// RowResource names a single row within a table.
func RowResource(table string, row common.RID) ResourceID {
	return ResourceID{Table: table, Row: row, Granularity: GranularityRow}
}

func (r ResourceID) String() string {
	if r.Granularity == GranularityTable {
		return fmt.Sprintf("table(%s)", r.Table)
	}
	return fmt.Sprintf("row(%s,%d)", r.Table, r.Row)
}

// TxnID identifies a transaction to the lock manager. Callers are
// expected to hand out increasing IDs (txn.Manager does, via an atomic
// counter) since the deadlock detector's victim selection treats a
// larger ID as "younger" (spec §4.4).
type TxnID uint64

func errLockTimeout(resource ResourceID) error {
	return common.NewError(common.KindTxnConflict, "lockmgr.Acquire",
		fmt.Errorf("lock wait on %s timed out", resource))
}

func errDeadlockVictim(resource ResourceID) error {
	return common.NewError(common.KindTxnConflict, "lockmgr.Acquire",
		fmt.Errorf("aborted as deadlock victim waiting on %s", resource))
}
