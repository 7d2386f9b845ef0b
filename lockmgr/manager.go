package lockmgr

import (
	"context"
	"sync"
	"time"

	"github.com/relational/dbcore/internal/dblog"
	"github.com/relational/dbcore/internal/metrics"
	"github.com/rs/zerolog"
)

// Config configures a Manager.
type Config struct {
	// DetectInterval is how often the deadlock detector scans the
	// wait-for graph for cycles. Spec §4.4 default: 1s.
	DetectInterval time.Duration
	// LockTimeout bounds how long a single Acquire call blocks before
	// giving up, as a secondary safeguard independent of deadlock
	// detection. Spec §4.4 default: 10s.
	LockTimeout time.Duration
	// WriteSetSize, given a TxnID, returns the size of that
	// transaction's current write set. The detector uses it to break
	// ties between equally-young cycle members (spec §4.4). A nil
	// func treats every write set as size 0 (ties broken by TxnID
	// only).
	WriteSetSize func(TxnID) int
}

func (c Config) withDefaults() Config {
	if c.DetectInterval <= 0 {
		c.DetectInterval = time.Second
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 10 * time.Second
	}
	if c.WriteSetSize == nil {
		c.WriteSetSize = func(TxnID) int { return 0 }
	}
	return c
}

// grant is one holder of a resource's lock.
type grant struct {
	txn  TxnID
	mode Mode
}

// waiter is a blocked Acquire call, parked on resourceState.queue.
type waiter struct {
	txn      TxnID
	mode     Mode
	resource ResourceID
	done     chan error // receives nil on grant, an error on timeout/victim
}

// resourceState is the per-resource lock table entry.
type resourceState struct {
	mu      sync.Mutex
	granted []grant
	queue   []*waiter
}

// Manager is the engine's lock manager: one instance per open database,
// shared by every transaction (spec §4.4/§4.5).
type Manager struct {
	cfg Config
	log zerolog.Logger
	met *metrics.Registry

	mu        sync.Mutex // protects resources and heldBy
	resources map[ResourceID]*resourceState
	heldBy    map[TxnID]map[ResourceID]Mode

	graph *waitForGraph

	pendingMu sync.Mutex
	pending   map[TxnID]*waiter // txn -> the resource it's currently blocked on

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Manager and starts its background deadlock detector.
func New(cfg Config) *Manager {
	return NewWithLogging(cfg, dblog.Nop(), metrics.Noop())
}

// NewWithLogging is New with an explicit logger/metrics registry,
// matching the engine-context construction pattern used throughout
// this module (bufferpool.New, btree.NewPagerWithLogging).
func NewWithLogging(cfg Config, log zerolog.Logger, met *metrics.Registry) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:       cfg,
		log:       dblog.Component(log, "lockmgr"),
		met:       met,
		resources: make(map[ResourceID]*resourceState),
		heldBy:    make(map[TxnID]map[ResourceID]Mode),
		graph:     newWaitForGraph(),
		pending:   make(map[TxnID]*waiter),
		stopCh:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.detectLoop()
	return m
}

func (m *Manager) resourceFor(r ResourceID) *resourceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.resources[r]
	if !ok {
		rs = &resourceState{}
		m.resources[r] = rs
	}
	return rs
}

// Acquire blocks until txn holds mode on resource, or until ctx is
// cancelled, the per-request timeout elapses, or the deadlock detector
// picks txn as a victim. Locks acquired this way are held until
// ReleaseAll (strict 2PL, spec §4.4).
func (m *Manager) Acquire(ctx context.Context, txn TxnID, resource ResourceID, mode Mode) error {
	rs := m.resourceFor(resource)

	rs.mu.Lock()
	for _, g := range rs.granted {
		if g.txn == txn && subsumes(g.mode, mode) {
			rs.mu.Unlock()
			return nil
		}
	}

	canGrant := len(rs.queue) == 0
	if canGrant {
		for _, g := range rs.granted {
			if g.txn != txn && !Compatible(g.mode, mode) {
				canGrant = false
				break
			}
		}
	}

	if canGrant {
		rs.granted = append(rs.granted, grant{txn: txn, mode: mode})
		rs.mu.Unlock()
		m.recordHeld(txn, resource, mode)
		return nil
	}

	w := &waiter{txn: txn, mode: mode, resource: resource, done: make(chan error, 1)}
	rs.queue = append(rs.queue, w)

	blockers := make(map[TxnID]struct{})
	for _, g := range rs.granted {
		if g.txn != txn {
			blockers[g.txn] = struct{}{}
		}
	}
	for _, qw := range rs.queue {
		if qw.txn != txn && qw != w {
			blockers[qw.txn] = struct{}{}
		}
	}
	rs.mu.Unlock()

	for b := range blockers {
		m.graph.addEdge(txn, b)
	}
	m.setPending(txn, w)
	m.log.Debug().Uint64("txn", uint64(txn)).Str("resource", resource.String()).
		Str("mode", mode.String()).Msg("lock wait")

	timer := time.NewTimer(m.cfg.LockTimeout)
	defer timer.Stop()

	select {
	case err := <-w.done:
		m.clearPending(txn)
		m.graph.removeWaiter(txn)
		if err == nil {
			m.recordHeld(txn, resource, mode)
		}
		return err
	case <-timer.C:
		m.abandonWait(rs, w)
		m.clearPending(txn)
		m.graph.removeWaiter(txn)
		return errLockTimeout(resource)
	case <-ctx.Done():
		m.abandonWait(rs, w)
		m.clearPending(txn)
		m.graph.removeWaiter(txn)
		return ctx.Err()
	case <-m.stopCh:
		m.abandonWait(rs, w)
		m.clearPending(txn)
		m.graph.removeWaiter(txn)
		return errLockTimeout(resource)
	}
}

func (m *Manager) setPending(txn TxnID, w *waiter) {
	m.pendingMu.Lock()
	m.pending[txn] = w
	m.pendingMu.Unlock()
}

func (m *Manager) clearPending(txn TxnID) {
	m.pendingMu.Lock()
	delete(m.pending, txn)
	m.pendingMu.Unlock()
}

// abandonWait removes w from rs.queue if it is still there (it may
// already have been granted and removed concurrently by Release).
func (m *Manager) abandonWait(rs *resourceState, w *waiter) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for i, qw := range rs.queue {
		if qw == w {
			rs.queue = append(rs.queue[:i], rs.queue[i+1:]...)
			return
		}
	}
}

func (m *Manager) recordHeld(txn TxnID, resource ResourceID, mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.heldBy[txn]
	if !ok {
		set = make(map[ResourceID]Mode)
		m.heldBy[txn] = set
	}
	set[resource] = mode
}

// Release drops txn's lock on a single resource and wakes any waiters
// it now unblocks. Most callers want ReleaseAll at transaction end;
// Release exists for lock degrading within a still-active transaction
// (not required by strict 2PL, but harmless to expose).
func (m *Manager) Release(txn TxnID, resource ResourceID) {
	rs := m.resourceFor(resource)
	m.releaseFrom(rs, txn, resource)

	m.mu.Lock()
	if set, ok := m.heldBy[txn]; ok {
		delete(set, resource)
		if len(set) == 0 {
			delete(m.heldBy, txn)
		}
	}
	m.mu.Unlock()
}

// ReleaseAll releases every lock txn holds, run at commit or rollback
// (spec §4.5). It also clears txn from the wait-for graph: a committed
// or aborted transaction can no longer be a cycle participant.
func (m *Manager) ReleaseAll(txn TxnID) {
	m.mu.Lock()
	set := m.heldBy[txn]
	delete(m.heldBy, txn)
	m.mu.Unlock()

	for resource := range set {
		rs := m.resourceFor(resource)
		m.releaseFrom(rs, txn, resource)
	}
	m.graph.removeTxn(txn)
}

func (m *Manager) releaseFrom(rs *resourceState, txn TxnID, _ ResourceID) {
	rs.mu.Lock()
	for i, g := range rs.granted {
		if g.txn == txn {
			rs.granted = append(rs.granted[:i], rs.granted[i+1:]...)
			break
		}
	}
	m.promote(rs)
	rs.mu.Unlock()
}

// promote grants as many leading waiters as are jointly compatible
// with the current grant set and with each other, in FIFO order. Must
// be called with rs.mu held.
func (m *Manager) promote(rs *resourceState) {
	for len(rs.queue) > 0 {
		w := rs.queue[0]
		ok := true
		for _, g := range rs.granted {
			if g.txn != w.txn && !Compatible(g.mode, w.mode) {
				ok = false
				break
			}
		}
		if !ok {
			break
		}
		rs.queue = rs.queue[1:]
		rs.granted = append(rs.granted, grant{txn: w.txn, mode: w.mode})
		w.done <- nil
	}
}

// abortVictim wakes txn's blocked Acquire call with a deadlock error.
// It is a no-op if txn is not currently waiting (it may have been
// granted or have timed out between the detector's snapshot and now).
func (m *Manager) abortVictim(txn TxnID) bool {
	m.pendingMu.Lock()
	w, ok := m.pending[txn]
	m.pendingMu.Unlock()
	if !ok {
		return false
	}

	rs := m.resourceFor(w.resource)
	rs.mu.Lock()
	found := false
	for i, qw := range rs.queue {
		if qw == w {
			rs.queue = append(rs.queue[:i], rs.queue[i+1:]...)
			found = true
			break
		}
	}
	rs.mu.Unlock()
	if !found {
		return false
	}

	m.log.Warn().Uint64("txn", uint64(txn)).Str("resource", w.resource.String()).
		Msg("aborting deadlock victim")
	w.done <- errDeadlockVictim(w.resource)
	return true
}

// detectLoop periodically scans the wait-for graph for cycles and
// aborts the youngest member of each one found (spec §4.4).
func (m *Manager) detectLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.DetectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			for {
				cycle := m.graph.findCycle()
				if cycle == nil {
					break
				}
				victim := selectVictim(cycle, m.cfg.WriteSetSize)
				if !m.abortVictim(victim) {
					// Already resolved itself; drop the edge set for
					// this txn so the next scan doesn't loop forever
					// on stale state and re-check.
					m.graph.removeWaiter(victim)
				}
			}
		}
	}
}

// Close stops the deadlock detector goroutine.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}
