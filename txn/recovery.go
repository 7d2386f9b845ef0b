package txn

import (
	"github.com/relational/dbcore/wal"
	"github.com/rs/zerolog"
)

// Recover runs the three-phase ARIES-style recovery spec §4.3
// describes against w, calling back into applier for every row and
// index effect. It is invoked once, at startup, before a Manager
// accepts new transactions.
//
// Phase boundaries follow the spec directly:
//  1. Analysis — scan the whole log (we keep no checkpoint record yet,
//     see the scope note below) to find every transaction that never
//     reached Commit or Abort.
//  2. Redo — reapply every row/index record in LSN order,
//     unconditionally.
//  3. Undo — for each transaction still active at "crash", walk its
//     PrevLSN chain backward applying ApplyUndo/ApplyIndexUndo.
//
// Scope note: our WAL carries no per-page LSN, so redo cannot skip
// records already reflected on disk the way textbook ARIES does —
// every record since the start of the log is reapplied. This is safe
// because RowChange redo is idempotent (post-image overwrite, or a
// delete that tolerates "already gone") and checkpoints are not yet
// implemented (see DESIGN.md); Analysis therefore always starts from
// LSN 0 rather than the last checkpoint.
func Recover(w *wal.WAL, applier Applier, log zerolog.Logger) error {
	chains := make(map[uint64][]wal.Record) // txn id -> records in LSN order
	terminated := make(map[uint64]bool)
	var redo []wal.Record // every row/index record, in log (LSN) order

	if err := w.Replay(0, func(r wal.Record) error {
		switch r.Kind {
		case wal.KindCommit, wal.KindAbort:
			terminated[r.TxnID] = true
		case wal.KindInsert, wal.KindUpdate, wal.KindDelete, wal.KindIndexOp:
			chains[r.TxnID] = append(chains[r.TxnID], r)
			redo = append(redo, r)
		}
		return nil
	}); err != nil {
		return err
	}

	// Redo: reapply every row/index record regardless of outcome —
	// committed transactions must be fully reflected, and undo (next
	// phase) will unwind the ones that turn out not to have committed.
	for _, r := range redo {
		if err := redoRecord(applier, r); err != nil {
			return err
		}
	}

	// Undo: any transaction without a Commit/Abort record was active
	// at crash time and must be rolled back.
	for txnID, records := range chains {
		if terminated[txnID] {
			continue
		}
		log.Info().Uint64("txn", txnID).Msg("recovering: rolling back incomplete transaction")
		for i := len(records) - 1; i >= 0; i-- {
			if err := undoRecord(applier, records[i]); err != nil {
				return err
			}
		}
	}

	return nil
}

func redoRecord(applier Applier, r wal.Record) error {
	if r.Kind == wal.KindIndexOp {
		op, _, err := decodeIndexOpPrefix(r.Payload)
		if err != nil {
			return err
		}
		return applier.ApplyIndexRedo(op)
	}

	change, err := decodeRowChange(r.Payload)
	if err != nil {
		return err
	}
	return applier.ApplyRedo(change.Table, change.RID, change.PostImage)
}

func undoRecord(applier Applier, r wal.Record) error {
	if r.Kind == wal.KindIndexOp {
		op, _, err := decodeIndexOpPrefix(r.Payload)
		if err != nil {
			return err
		}
		return applier.ApplyIndexUndo(op)
	}

	change, err := decodeRowChange(r.Payload)
	if err != nil {
		return err
	}
	return applier.ApplyUndo(change.Table, change.RID, change.PreImage)
}
