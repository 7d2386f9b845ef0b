package planner

import "github.com/relational/dbcore/catalog"

// Relation is one FROM-clause entry reduced to what join-order
// enumeration needs: its alias, its filtered row estimate, and the
// distinct-value counts of any columns it joins on.
type Relation struct {
	Alias string
	Table *catalog.TableDef
	Rows  int64
}

// joinPlan is one candidate access path over a subset of relations,
// memoized by the bitmask of relations it covers (classic Selinger-style
// dynamic programming state).
type joinPlan struct {
	Mask  uint32
	Rows  int64
	Cost  float64
	Left  *joinPlan // nil for a base relation
	Right *joinPlan
	Rel   int // valid when Left == nil: index into the Relation slice
}

// JoinEnumThreshold is the relation count above which EnumerateJoinOrder
// switches from exhaustive DP to a greedy heuristic (spec §4.7 "exhaustive
// DP for small joins (<=12 relations, configurable), falling back to a
// greedy heuristic with limited lookahead beyond that").
const JoinEnumThreshold = 12

// ndvLookup resolves the distinct-value count backing a join predicate's
// column, falling back to a relation's row count when no stats are
// recorded (an unanalyzed column is assumed fully distinct).
type ndvLookup func(alias, column string) int64

// EnumerateJoinOrder picks a join order and shape for rels connected by
// preds, the normalized query's join-level predicates. It returns the
// root joinPlan; callers turn it into PlanNode trees via buildJoinTree.
func EnumerateJoinOrder(rels []Relation, preds []Expr, cost CostModel, ndv ndvLookup) *joinPlan {
	n := len(rels)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return &joinPlan{Mask: 1, Rows: rels[0].Rows, Cost: cost.Cost(rels[0].Rows), Rel: 0}
	}
	if n <= JoinEnumThreshold {
		return enumerateDP(rels, preds, cost, ndv)
	}
	return enumerateGreedy(rels, preds, cost, ndv)
}

// joinCost estimates the row count and cumulative cost of joining left
// and right, using an equality predicate connecting the two sides (when
// one exists) to drive the containment-assumption cardinality estimate,
// and treating the join as a Cartesian product otherwise.
func joinCost(rels []Relation, preds []Expr, cost CostModel, ndv ndvLookup, left, right *joinPlan) (rows int64, c float64) {
	leftNDV, rightNDV, connected := connectingNDV(rels, preds, ndv, left.Mask, right.Mask)
	if !connected {
		rows = left.Rows * right.Rows
	} else {
		rows = JoinCardinality(left.Rows, right.Rows, leftNDV, rightNDV)
	}
	if rows < 1 {
		rows = 1
	}
	c = left.Cost + right.Cost + cost.Cost(rows)
	return rows, c
}

// connectingNDV scans preds for an equality predicate joining a column
// in leftMask's relations to a column in rightMask's relations, and
// returns the NDV of each side's join column. Absent such a predicate,
// connected is false (a Cartesian product).
func connectingNDV(rels []Relation, preds []Expr, ndv ndvLookup, leftMask, rightMask uint32) (leftNDV, rightNDV int64, connected bool) {
	aliasMask := func(alias string) uint32 {
		for i, r := range rels {
			if r.Alias == alias {
				return uint32(1) << uint(i)
			}
		}
		return 0
	}
	for _, p := range preds {
		bo, ok := p.(*BinaryOp)
		if !ok || bo.Kind != OpEq {
			continue
		}
		lc, lok := bo.Left.(*ColumnRef)
		rc, rok := bo.Right.(*ColumnRef)
		if !lok || !rok {
			continue
		}
		lm, rm := aliasMask(lc.Table), aliasMask(rc.Table)
		switch {
		case lm&leftMask != 0 && rm&rightMask != 0:
			return ndv(lc.Table, lc.Column), ndv(rc.Table, rc.Column), true
		case lm&rightMask != 0 && rm&leftMask != 0:
			return ndv(rc.Table, rc.Column), ndv(lc.Table, lc.Column), true
		}
	}
	return 1, 1, false
}

func enumerateDP(rels []Relation, preds []Expr, cost CostModel, ndv ndvLookup) *joinPlan {
	n := len(rels)
	best := make(map[uint32]*joinPlan, 1<<uint(n))

	for i, r := range rels {
		mask := uint32(1) << uint(i)
		best[mask] = &joinPlan{Mask: mask, Rows: r.Rows, Cost: cost.Cost(r.Rows), Rel: i}
	}

	full := uint32(1)<<uint(n) - 1
	for size := 2; size <= n; size++ {
		for mask := uint32(1); mask <= full; mask++ {
			if popcount(mask) != size {
				continue
			}
			var candidate *joinPlan
			// Enumerate every way to split mask into two non-empty,
			// disjoint subsets already solved by a smaller DP step.
			for sub := (mask - 1) & mask; sub != 0; sub = (sub - 1) & mask {
				other := mask &^ sub
				if sub < other {
					continue // each split considered once
				}
				left, leftOK := best[sub]
				right, rightOK := best[other]
				if !leftOK || !rightOK {
					continue
				}
				rows, c := joinCost(rels, preds, cost, ndv, left, right)
				if candidate == nil || c < candidate.Cost {
					candidate = &joinPlan{Mask: mask, Rows: rows, Cost: c, Left: left, Right: right}
				}
			}
			if candidate != nil {
				best[mask] = candidate
			}
		}
	}
	return best[full]
}

// enumerateGreedy builds a left-deep tree by repeatedly adding the
// relation whose join to the current plan has the lowest incremental
// cost, looking one relation further ahead to break ties between
// otherwise-equal candidates (spec's "limited lookahead").
func enumerateGreedy(rels []Relation, preds []Expr, cost CostModel, ndv ndvLookup) *joinPlan {
	n := len(rels)
	used := make([]bool, n)

	// Seed with the single smallest relation.
	start := 0
	for i := 1; i < n; i++ {
		if rels[i].Rows < rels[start].Rows {
			start = i
		}
	}
	used[start] = true
	plan := &joinPlan{Mask: uint32(1) << uint(start), Rows: rels[start].Rows, Cost: cost.Cost(rels[start].Rows), Rel: start}

	for remaining := n - 1; remaining > 0; remaining-- {
		bestIdx := -1
		var bestPlan *joinPlan
		var bestLook float64
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			candMask := uint32(1) << uint(i)
			candBase := &joinPlan{Mask: candMask, Rows: rels[i].Rows, Cost: cost.Cost(rels[i].Rows), Rel: i}
			rows, c := joinCost(rels, preds, cost, ndv, plan, candBase)
			look := lookahead(rels, preds, cost, ndv, used, i, plan.Mask|candMask)
			if bestPlan == nil || c < bestPlan.Cost || (c == bestPlan.Cost && look < bestLook) {
				bestPlan = &joinPlan{Mask: plan.Mask | candMask, Rows: rows, Cost: c, Left: plan, Right: candBase}
				bestIdx = i
				bestLook = look
			}
		}
		used[bestIdx] = true
		plan = bestPlan
	}
	return plan
}

// lookahead estimates the best next-step cost after tentatively adding
// candidate i to mask, used only to break ties between join choices that
// cost the same this step.
func lookahead(rels []Relation, preds []Expr, cost CostModel, ndv ndvLookup, used []bool, candidate int, mask uint32) float64 {
	best := 0.0
	first := true
	for i, r := range rels {
		if used[i] || i == candidate {
			continue
		}
		c := cost.Cost(r.Rows)
		if first || c < best {
			best = c
			first = false
		}
	}
	return best
}

func popcount(x uint32) int {
	n := 0
	for x != 0 {
		n += int(x & 1)
		x >>= 1
	}
	return n
}

// buildJoinTree turns a joinPlan into an executable PlanNode tree,
// wrapping each pairwise join in OpHashJoin. No later step rewrites
// these nodes: the planner emits no merge or nested-loop join for an
// enumerated join pair.
// preds is nq.JoinPredicates, the same WHERE-derived equi-join list
// EnumerateJoinOrder used to pick this shape; connectingPredicate pulls
// out whichever one actually connects p.Left's relations to p.Right's so
// the resulting node carries a real JoinPredicate instead of relying on
// the Filter node the caller stacks above the whole tree for every
// predicate in preds regardless — that Filter still runs redundantly on
// an already-true join condition, which is harmless, but without a
// JoinPredicate here newHashJoin has no equi-join column to hash on and
// silently degrades every cost-based join into a cross join.
func buildJoinTree(p *joinPlan, rels []Relation, preds []Expr, scans map[string]*PlanNode) *PlanNode {
	if p.Left == nil {
		return scans[rels[p.Rel].Alias]
	}
	left := buildJoinTree(p.Left, rels, preds, scans)
	right := buildJoinTree(p.Right, rels, preds, scans)
	return &PlanNode{
		Kind:          OpHashJoin,
		Children:      []*PlanNode{left, right},
		JoinPredicate: connectingPredicate(rels, preds, p.Left.Mask, p.Right.Mask),
		EstRows:       p.Rows,
		EstCost:       p.Cost,
	}
}

// connectingPredicate returns the first equality predicate in preds that
// joins a column among leftMask's relations to a column among
// rightMask's, or nil if none does (a Cartesian product with no
// WHERE-clause join condition at all).
func connectingPredicate(rels []Relation, preds []Expr, leftMask, rightMask uint32) Expr {
	aliasMask := func(alias string) uint32 {
		for i, r := range rels {
			if r.Alias == alias {
				return uint32(1) << uint(i)
			}
		}
		return 0
	}
	for _, p := range preds {
		bo, ok := p.(*BinaryOp)
		if !ok || bo.Kind != OpEq {
			continue
		}
		lc, lok := bo.Left.(*ColumnRef)
		rc, rok := bo.Right.(*ColumnRef)
		if !lok || !rok {
			continue
		}
		lm, rm := aliasMask(lc.Table), aliasMask(rc.Table)
		if (lm&leftMask != 0 && rm&rightMask != 0) || (lm&rightMask != 0 && rm&leftMask != 0) {
			return p
		}
	}
	return nil
}

// buildExplicitJoinTree builds a strictly left-deep join tree in FROM
// order instead of consulting EnumerateJoinOrder, for queries carrying
// an explicit ON-clause join: a LEFT JOIN's result depends on which
// side is preserved, so the cost-based enumerator — free to reorder and
// flip build/probe sides for an inner equi-join — must not be allowed
// to touch it. Every ref's own On predicate becomes its join node's
// JoinPredicate; WHERE-clause join predicates (nq.JoinPredicates) are
// still wrapped as Filter nodes above the whole tree by the caller,
// exactly as for the cost-based path.
func buildExplicitJoinTree(refs []TableRef, rels []Relation, scans map[string]*PlanNode) *PlanNode {
	root := scans[refs[0].AliasOrTable()]
	rows := rels[0].Rows
	for i := 1; i < len(refs); i++ {
		ref := refs[i]
		node := scans[ref.AliasOrTable()]
		rows = estimateJoinRows(rows, rels[i].Rows, ref.Outer())
		root = &PlanNode{
			Kind:          OpHashJoin,
			Children:      []*PlanNode{root, node},
			JoinPredicate: ref.On,
			Outer:         ref.Outer(),
			EstRows:       rows,
		}
	}
	return root
}

// estimateJoinRows is a deliberately crude cardinality estimate for the
// explicit-join path (EnumerateJoinOrder's containment-assumption model
// does not apply once join order is pinned): an inner join is assumed
// as selective as the smaller side, an outer join at least as large as
// the preserved side.
func estimateJoinRows(leftRows, rightRows int64, outer bool) int64 {
	rows := leftRows
	if rightRows < rows && !outer {
		rows = rightRows
	}
	if rows < 1 {
		rows = 1
	}
	return rows
}
