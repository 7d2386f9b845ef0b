package lockmgr

import (
	"sync"

	"github.com/google/btree"
)

// waitForGraph is the incrementally maintained waiter -> blocker
// adjacency used for deadlock detection (spec §4.4). Each waiting
// transaction's blocker set is kept in a google/btree ordered tree
// rather than a plain map so cycle detection walks blockers in a
// deterministic order — needed for victim selection to be
// reproducible given the same set of concurrent waits.
type waitForGraph struct {
	mu    sync.Mutex
	edges map[TxnID]*btree.BTreeG[TxnID]
}

func newWaitForGraph() *waitForGraph {
	return &waitForGraph{edges: make(map[TxnID]*btree.BTreeG[TxnID])}
}

func (g *waitForGraph) addEdge(waiter, blocker TxnID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	tr, ok := g.edges[waiter]
	if !ok {
		tr = btree.NewOrderedG[TxnID](32)
		g.edges[waiter] = tr
	}
	tr.ReplaceOrInsert(blocker)
}

// removeWaiter drops every edge naming txn as a waiter (called once txn
// is granted its lock, times out, or is aborted).
func (g *waitForGraph) removeWaiter(txn TxnID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, txn)
}

// removeTxn drops txn entirely: as a waiter, and as a blocker in every
// other transaction's wait set (called from ReleaseAll, since a
// terminated transaction can block no one).
func (g *waitForGraph) removeTxn(txn TxnID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, txn)
	for _, tr := range g.edges {
		tr.Delete(txn)
	}
}

// findCycle returns the transactions forming one cycle in the wait-for
// graph, or nil if the graph is currently acyclic. Walks edges in
// ascending TxnID order via the btree adjacency sets so the result is
// deterministic for a given graph snapshot.
func (g *waitForGraph) findCycle() []TxnID {
	g.mu.Lock()
	defer g.mu.Unlock()

	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)
	state := make(map[TxnID]int, len(g.edges))
	var stack []TxnID
	var cycle []TxnID

	var visit func(n TxnID) bool
	visit = func(n TxnID) bool {
		state[n] = onStack
		stack = append(stack, n)

		if tr, ok := g.edges[n]; ok {
			var found bool
			tr.Ascend(func(next TxnID) bool {
				switch state[next] {
				case onStack:
					// Closed a cycle: next is already on the stack.
					for i, s := range stack {
						if s == next {
							cycle = append([]TxnID(nil), stack[i:]...)
							break
						}
					}
					found = true
					return false
				case unvisited:
					if visit(next) {
						found = true
						return false
					}
				}
				return true
			})
			if found {
				return true
			}
		}

		stack = stack[:len(stack)-1]
		state[n] = done
		return false
	}

	for n := range g.edges {
		if state[n] == unvisited {
			if visit(n) {
				return cycle
			}
		}
	}
	return nil
}

// selectVictim picks the transaction to abort out of a detected cycle:
// the youngest (largest TxnID — IDs are handed out in increasing order
// by txn.Manager, spec §4.4), ties broken by the smallest write-set
// size.
func selectVictim(cycle []TxnID, writeSetSize func(TxnID) int) TxnID {
	victim := cycle[0]
	victimSize := writeSetSize(victim)
	for _, txn := range cycle[1:] {
		size := writeSetSize(txn)
		switch {
		case txn > victim:
			victim, victimSize = txn, size
		case txn == victim && size < victimSize:
			victimSize = size
		}
	}
	return victim
}
