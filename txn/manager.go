package txn

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/internal/dblog"
	"github.com/relational/dbcore/internal/metrics"
	"github.com/relational/dbcore/lockmgr"
	"github.com/relational/dbcore/wal"
	"github.com/rs/zerolog"
)

var errShortPayload = errors.New("txn: short WAL payload")

// Applier is the engine-side hook the txn package calls to actually
// mutate (or unmutate) storage. It is implemented above this package,
// by whatever owns the btree.Tree instances for each table and index
// (the executor, in later layers) — txn itself never touches a
// btree.Tree directly, so it stays usable under recovery before the
// rest of the engine has finished booting.
type Applier interface {
	// ApplyRedo reapplies a committed row change's post-image. Called
	// in LSN order during crash recovery's redo phase. Must be safe to
	// call more than once for the same record (idempotent redo: our
	// WAL has no per-page LSN stamp to skip already-applied records,
	// see txn/recovery.go).
	ApplyRedo(table string, rid common.RID, postImage []byte) error
	// ApplyUndo restores a row change's pre-image (nil preImage means
	// the row did not exist before the change, i.e. undo an insert by
	// deleting it). Called during rollback and crash recovery's undo
	// phase.
	ApplyUndo(table string, rid common.RID, preImage []byte) error
	// ApplyIndexRedo/ApplyIndexUndo mirror ApplyRedo/ApplyUndo for a
	// row change's secondary index effects.
	ApplyIndexRedo(op IndexOp) error
	ApplyIndexUndo(op IndexOp) error
}

// Config configures a Manager.
type Config struct {
	Locks   lockmgr.Config
	Applier Applier
}

// Manager owns the WAL and lock manager and hands out Transactions. One
// instance per open database (spec §4.5).
type Manager struct {
	wal     *wal.WAL
	locks   *lockmgr.Manager
	applier Applier
	log     zerolog.Logger
	met     *metrics.Registry

	nextID atomic.Uint64

	mu     sync.Mutex
	active map[lockmgr.TxnID]*Transaction
}

// Open opens a Manager against an already-open WAL, running crash
// recovery (spec §4.3) before accepting new transactions. w and
// cfg.Applier must be ready to receive ApplyRedo/ApplyUndo calls
// against every table and index the engine will touch.
func Open(w *wal.WAL, cfg Config) (*Manager, error) {
	return OpenWithLogging(w, cfg, dblog.Nop(), metrics.Noop())
}

// OpenWithLogging is Open with an explicit logger/metrics registry.
func OpenWithLogging(w *wal.WAL, cfg Config, log zerolog.Logger, met *metrics.Registry) (*Manager, error) {
	log = dblog.Component(log, "txn")

	writeSetSize := func(id lockmgr.TxnID) int { return 0 }
	m := &Manager{
		wal:     w,
		applier: cfg.Applier,
		log:     log,
		met:     met,
		active:  make(map[lockmgr.TxnID]*Transaction),
	}
	lockCfg := cfg.Locks
	lockCfg.WriteSetSize = func(id lockmgr.TxnID) int {
		m.mu.Lock()
		t, ok := m.active[id]
		m.mu.Unlock()
		if !ok {
			return writeSetSize(id)
		}
		return t.WriteSetSize()
	}
	m.locks = lockmgr.NewWithLogging(lockCfg, log, met)

	if cfg.Applier != nil {
		if err := Recover(w, cfg.Applier, log); err != nil {
			m.locks.Close()
			return nil, err
		}
	}

	var maxSeen uint64
	_ = w.Replay(0, func(r wal.Record) error {
		if r.TxnID > maxSeen {
			maxSeen = r.TxnID
		}
		return nil
	})
	m.nextID.Store(maxSeen)

	return m, nil
}

func (m *Manager) ctx() context.Context { return context.Background() }

// Begin starts a new transaction in StateActive.
func (m *Manager) Begin() (*Transaction, error) {
	id := lockmgr.TxnID(m.nextID.Add(1))

	lsn, err := m.wal.Append(wal.Record{TxnID: uint64(id), Kind: wal.KindBegin})
	if err != nil {
		return nil, err
	}

	t := &Transaction{id: id, mgr: m, state: StateActive, lastLSN: lsn}
	m.mu.Lock()
	m.active[id] = t
	m.mu.Unlock()
	return t, nil
}

func (m *Manager) forget(id lockmgr.TxnID) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// AutoCommit runs fn inside a single-statement transaction: commits on
// success, rolls back on error or panic (spec §4.5 "Auto-commit").
func (m *Manager) AutoCommit(fn func(tx *Transaction) error) (err error) {
	tx, err := m.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return rbErr
		}
		return err
	}
	return tx.Commit()
}

// Close stops the lock manager's deadlock detector. The WAL is owned
// by the caller and is not closed here.
func (m *Manager) Close() {
	m.locks.Close()
}

func (m *Manager) appendRowRecord(id lockmgr.TxnID, prevLSN uint64, change *RowChange) (uint64, error) {
	kind := wal.KindUpdate
	switch {
	case change.PreImage == nil:
		kind = wal.KindInsert
	case change.PostImage == nil:
		kind = wal.KindDelete
	}

	lsn, err := m.wal.Append(wal.Record{
		TxnID:   uint64(id),
		PrevLSN: prevLSN,
		Kind:    kind,
		Payload: encodeRowChange(change),
	})
	if err != nil {
		return 0, err
	}

	for _, op := range change.IndexOps {
		if _, err := m.wal.Append(wal.Record{
			TxnID:   uint64(id),
			PrevLSN: lsn,
			Kind:    wal.KindIndexOp,
			Payload: encodeIndexOp(op),
		}); err != nil {
			return 0, err
		}
	}
	return lsn, nil
}

func (m *Manager) appendControlRecord(id lockmgr.TxnID, prevLSN uint64, commit bool) (uint64, error) {
	kind := wal.KindAbort
	if commit {
		kind = wal.KindCommit
	}
	return m.wal.Append(wal.Record{TxnID: uint64(id), PrevLSN: prevLSN, Kind: kind})
}

func (m *Manager) undoChange(change RowChange) error {
	for i := len(change.IndexOps) - 1; i >= 0; i-- {
		if err := m.applier.ApplyIndexUndo(change.IndexOps[i]); err != nil {
			return err
		}
	}
	return m.applier.ApplyUndo(change.Table, change.RID, change.PreImage)
}

// encodeRowChange is a hand-rolled binary encoding (length-prefixed
// strings/byte slices, big-endian fixed fields), matching the style of
// wal/record.go and common/enckey.go rather than a reflection-based
// codec.
func encodeRowChange(c *RowChange) []byte {
	buf := make([]byte, 0, 32+len(c.Table)+len(c.PreImage)+len(c.PostImage))
	buf = appendString(buf, c.Table)
	buf = appendUint64(buf, uint64(c.RID))
	buf = appendBytes(buf, c.PreImage)
	buf = appendBytes(buf, c.PostImage)
	buf = appendUint32(buf, uint32(len(c.IndexOps)))
	for _, op := range c.IndexOps {
		buf = append(buf, encodeIndexOp(op)...)
	}
	return buf
}

func decodeRowChange(b []byte) (RowChange, error) {
	var c RowChange
	var ok bool
	if c.Table, b, ok = readString(b); !ok {
		return c, errShortPayload
	}
	var rid uint64
	if rid, b, ok = readUint64(b); !ok {
		return c, errShortPayload
	}
	c.RID = common.RID(rid)
	if c.PreImage, b, ok = readBytes(b); !ok {
		return c, errShortPayload
	}
	if c.PostImage, b, ok = readBytes(b); !ok {
		return c, errShortPayload
	}
	var n uint32
	if n, b, ok = readUint32(b); !ok {
		return c, errShortPayload
	}
	for i := uint32(0); i < n; i++ {
		var op IndexOp
		var err error
		op, b, err = decodeIndexOpPrefix(b)
		if err != nil {
			return c, err
		}
		c.IndexOps = append(c.IndexOps, op)
	}
	return c, nil
}

func encodeIndexOp(op IndexOp) []byte {
	var buf []byte
	buf = appendString(buf, op.Index)
	buf = appendUint64(buf, uint64(op.RID))
	buf = append(buf, byte(op.Kind))
	buf = appendBytes(buf, op.Key)
	return buf
}

func decodeIndexOpPrefix(b []byte) (IndexOp, []byte, error) {
	var op IndexOp
	var ok bool
	if op.Index, b, ok = readString(b); !ok {
		return op, b, errShortPayload
	}
	var rid uint64
	if rid, b, ok = readUint64(b); !ok {
		return op, b, errShortPayload
	}
	op.RID = common.RID(rid)
	if len(b) < 1 {
		return op, b, errShortPayload
	}
	op.Kind = IndexOpKind(b[0])
	b = b[1:]
	if op.Key, b, ok = readBytes(b); !ok {
		return op, b, errShortPayload
	}
	return op, b, nil
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendBytes(b, v []byte) []byte {
	b = appendUint32(b, uint32(len(v)))
	return append(b, v...)
}

func appendString(b []byte, s string) []byte {
	return appendBytes(b, []byte(s))
}

func readUint32(b []byte) (uint32, []byte, bool) {
	if len(b) < 4 {
		return 0, b, false
	}
	return binary.BigEndian.Uint32(b[:4]), b[4:], true
}

func readUint64(b []byte) (uint64, []byte, bool) {
	if len(b) < 8 {
		return 0, b, false
	}
	return binary.BigEndian.Uint64(b[:8]), b[8:], true
}

func readBytes(b []byte) ([]byte, []byte, bool) {
	n, rest, ok := readUint32(b)
	if !ok || uint32(len(rest)) < n {
		return nil, b, false
	}
	return rest[:n:n], rest[n:], true
}

func readString(b []byte) (string, []byte, bool) {
	v, rest, ok := readBytes(b)
	if !ok {
		return "", b, false
	}
	return string(v), rest, true
}
