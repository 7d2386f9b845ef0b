package planner

import (
	"github.com/relational/dbcore/catalog"
	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/internal/dblog"
	"github.com/relational/dbcore/internal/metrics"
	"github.com/rs/zerolog"
)

// Planner ties binding, normalization, join-order enumeration, and
// costing together behind a plan cache (spec §4.7's full pipeline:
// "parse tree -> bind -> normalize -> enumerate join orders -> choose
// access methods and join algorithms -> cost -> cache").
type Planner struct {
	Catalog   *catalog.Catalog
	CostModel CostModel
	Cache     *PlanCache

	log zerolog.Logger
	met *metrics.Registry
}

// New builds a Planner with the default cost model and a plan cache
// holding cacheSize entries.
func New(cat *catalog.Catalog, cacheSize int) (*Planner, error) {
	return NewWithLogging(cat, cacheSize, dblog.Nop(), metrics.Noop())
}

// NewWithLogging is New with an explicit logger/metrics registry, so
// plan cache hit/miss counters (dbcore_plan_cache_hits_total /
// dbcore_plan_cache_misses_total) land on the engine's shared registry
// instead of a private one.
func NewWithLogging(cat *catalog.Catalog, cacheSize int, log zerolog.Logger, met *metrics.Registry) (*Planner, error) {
	cache, err := NewPlanCache(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Planner{
		Catalog:   cat,
		CostModel: DefaultCostModel(),
		Cache:     cache,
		log:       dblog.Component(log, "planner"),
		met:       met,
	}, nil
}

// Plan turns stmt into an executable plan tree. For SELECT statements it
// runs the full bind/normalize/join-order/cost pipeline and consults the
// plan cache first; DDL, INSERT/UPDATE/DELETE, and transaction-control
// statements are bound and translated directly, since they have no join
// order to choose and no benefit from caching a single-use plan.
func (p *Planner) Plan(dbName string, stmt Stmt) (*Plan, error) {
	bound, err := Bind(p.Catalog, dbName, stmt)
	if err != nil {
		return nil, err
	}

	sel, ok := bound.(*SelectStmt)
	if !ok {
		return p.planNonSelect(dbName, bound)
	}

	fp := Fingerprint(sel)
	version := p.Catalog.Version()
	if cached, hit := p.Cache.Get(fp, version); hit {
		p.met.PlanCacheHits.Inc()
		return cached, nil
	}
	p.met.PlanCacheMisses.Inc()

	plan, err := p.planSelect(dbName, sel)
	if err != nil {
		return nil, err
	}
	plan.Fingerprint = fp
	p.Cache.Put(fp, version, plan)
	p.log.Debug().Uint64("fingerprint", fp).Float64("cost", plan.Cost).Msg("planned query")
	return plan, nil
}

func (p *Planner) planSelect(dbName string, s *SelectStmt) (*Plan, error) {
	nq := Normalize(s)

	if nq.AlwaysFalse {
		return &Plan{Root: &PlanNode{Kind: OpLimit, N: 0}, TablesUsed: nil}, nil
	}

	rels, scans, err := p.buildScans(dbName, s, nq)
	if err != nil {
		return nil, err
	}

	var root *PlanNode
	tablesUsed := make([]string, 0, len(rels))
	for _, r := range rels {
		if r.Table != nil {
			tablesUsed = append(tablesUsed, r.Table.Name)
		}
	}

	// A FROM-less SELECT (e.g. "SELECT 1+1") has no scan to root the
	// tree on; the final Project below becomes a leaf, evaluating its
	// expressions against one implicit row.
	switch len(rels) {
	case 0:
		root = nil
	case 1:
		root = scans[rels[0].Alias]
	default:
		if hasExplicitJoin(s.From) {
			root = buildExplicitJoinTree(s.From, rels, scans)
		} else {
			jp := EnumerateJoinOrder(rels, nq.JoinPredicates, p.CostModel, ndvByAlias(rels))
			root = buildJoinTree(jp, rels, nq.JoinPredicates, scans)
		}
	}

	for _, jp := range nq.JoinPredicates {
		root = &PlanNode{Kind: OpFilter, Children: []*PlanNode{root}, Predicate: jp}
	}

	for _, sj := range nq.SemiJoins {
		root = &PlanNode{Kind: OpFilter, Children: []*PlanNode{root}, Predicate: sj.Expr}
	}

	if len(s.GroupBy) > 0 || hasAggregate(s.Projections) {
		root = &PlanNode{
			Kind:       OpHashAggregate,
			Children:   []*PlanNode{root},
			GroupBy:    s.GroupBy,
			Aggregates: collectAggregates(s.Projections),
		}
		if s.Having != nil {
			root = &PlanNode{Kind: OpFilter, Children: []*PlanNode{root}, Predicate: s.Having}
		}
	}

	if root != nil {
		root = &PlanNode{Kind: OpProject, Children: []*PlanNode{root}, Exprs: s.Projections}
	} else {
		root = &PlanNode{Kind: OpProject, Exprs: s.Projections}
	}

	if s.Distinct {
		root = &PlanNode{Kind: OpDistinct, Children: []*PlanNode{root}}
	}

	if len(s.OrderBy) > 0 {
		if s.Limit != nil {
			root = &PlanNode{Kind: OpTopN, Children: []*PlanNode{root}, OrderBy: s.OrderBy, N: *s.Limit}
		} else {
			root = &PlanNode{Kind: OpSort, Children: []*PlanNode{root}, OrderBy: s.OrderBy}
		}
	} else if s.Limit != nil {
		root = &PlanNode{Kind: OpLimit, Children: []*PlanNode{root}, N: *s.Limit}
	}

	if s.SetOp != nil {
		rightPlan, err := p.planSelect(dbName, s.SetOp.Right)
		if err != nil {
			return nil, err
		}
		kind := OpUnion
		switch s.SetOp.Kind {
		case SetOpIntersect:
			kind = OpIntersect
		case SetOpExcept:
			kind = OpExcept
		}
		root = &PlanNode{Kind: kind, Children: []*PlanNode{root, rightPlan.Root}}
		tablesUsed = append(tablesUsed, rightPlan.TablesUsed...)
	}

	annotateCost(root, p.CostModel)
	return &Plan{Root: root, TablesUsed: tablesUsed, Cost: root.EstCost}, nil
}

// buildScans picks an access method per relation: an index scan when an
// index covers a per-table equality predicate, a sequential scan
// otherwise (spec §4.7 "choose access methods... using available
// indexes").
func (p *Planner) buildScans(dbName string, s *SelectStmt, nq *NormalizedQuery) ([]Relation, map[string]*PlanNode, error) {
	var rels []Relation
	scans := make(map[string]*PlanNode)

	for _, ref := range s.From {
		if ref.Subquery != nil {
			sub, err := p.planSelect(dbName, ref.Subquery)
			if err != nil {
				return nil, nil, err
			}
			alias := ref.Alias
			scans[alias] = sub.Root
			rels = append(rels, Relation{Alias: alias, Rows: sub.Root.EstRows})
			continue
		}
		alias := ref.AliasOrTable()
		tbl, err := p.Catalog.Table(dbName, ref.Table)
		if err != nil {
			return nil, nil, common.NewError(common.KindSemantic, "planner.Plan", err)
		}
		preds := nq.PerTablePredicates[alias]
		node := p.chooseScan(tbl, alias, preds)
		node.Alias = alias
		scans[alias] = node
		rels = append(rels, Relation{Alias: alias, Table: tbl, Rows: node.EstRows})
	}
	return rels, scans, nil
}

func (p *Planner) chooseScan(tbl *catalog.TableDef, alias string, preds []Expr) *PlanNode {
	rows := EstimateScanRows(tbl, preds)
	for _, pred := range preds {
		bo, ok := pred.(*BinaryOp)
		if !ok || bo.Kind != OpEq {
			continue
		}
		col, lit, ok := columnAndLiteral(bo)
		if !ok {
			continue
		}
		if idx := tbl.IndexesOn(col); len(idx) > 0 {
			return &PlanNode{
				Kind:      OpIndexScan,
				Table:     tbl.Name,
				Index:     idx[0],
				ScanLow:   lit,
				ScanHigh:  lit,
				Predicate: andAll(removePredicate(preds, pred)),
				EstRows:   rows,
			}
		}
	}
	return &PlanNode{Kind: OpSeqScan, Table: tbl.Name, Predicate: andAll(preds), EstRows: rows}
}

func removePredicate(preds []Expr, target Expr) []Expr {
	out := make([]Expr, 0, len(preds))
	for _, p := range preds {
		if p != target {
			out = append(out, p)
		}
	}
	return out
}

func andAll(preds []Expr) Expr {
	if len(preds) == 0 {
		return nil
	}
	out := preds[0]
	for _, p := range preds[1:] {
		out = &BinaryOp{Kind: OpAnd, Left: out, Right: p}
	}
	return out
}

func hasAggregate(exprs []Expr) bool {
	for _, e := range exprs {
		if _, ok := e.(*Aggregate); ok {
			return true
		}
	}
	return false
}

func collectAggregates(exprs []Expr) []Aggregate {
	var out []Aggregate
	for _, e := range exprs {
		if a, ok := e.(*Aggregate); ok {
			out = append(out, *a)
		}
	}
	return out
}

// ndvByAlias resolves a join column's distinct-value count by FROM-clause
// alias (not the underlying table name, which a query may not even use
// directly), falling back to the relation's row count — and then to 1 —
// when no statistics are recorded for that column.
func ndvByAlias(rels []Relation) ndvLookup {
	byAlias := make(map[string]*catalog.TableDef, len(rels))
	for _, r := range rels {
		if r.Table != nil {
			byAlias[r.Alias] = r.Table
		}
	}
	return func(alias, column string) int64 {
		tbl, ok := byAlias[alias]
		if !ok {
			return 1
		}
		if cs, ok := tbl.Stats.ColumnStats[column]; ok && cs.DistinctValues > 0 {
			return cs.DistinctValues
		}
		if tbl.Stats.RowCount > 0 {
			return tbl.Stats.RowCount
		}
		return 1
	}
}

func annotateCost(node *PlanNode, cost CostModel) {
	if node == nil {
		return
	}
	for _, c := range node.Children {
		annotateCost(c, cost)
	}
	if node.EstRows == 0 {
		node.EstRows = maxChildRows(node)
	}
	if node.EstCost == 0 {
		node.EstCost = cost.Cost(node.EstRows)
		for _, c := range node.Children {
			if c != nil {
				node.EstCost += c.EstCost
			}
		}
	}
}

// maxChildRows estimates a node's row count from its largest child. A
// nil child represents the implicit single-row source of a FROM-less
// SELECT and always contributes exactly one row.
func maxChildRows(node *PlanNode) int64 {
	var max int64
	for _, c := range node.Children {
		rows := int64(1)
		if c != nil {
			rows = c.EstRows
		}
		if rows > max {
			max = rows
		}
	}
	if max == 0 {
		max = 1
	}
	return max
}

func (p *Planner) planNonSelect(dbName string, stmt Stmt) (*Plan, error) {
	switch s := stmt.(type) {
	case *InsertStmt:
		root := &PlanNode{Kind: OpInsert, Table: s.Table, Columns: s.Columns, Values: s.Values}
		if s.Subquery != nil {
			sub, err := p.planSelect(dbName, s.Subquery)
			if err != nil {
				return nil, err
			}
			root.Children = []*PlanNode{sub.Root}
		}
		annotateCost(root, p.CostModel)
		return &Plan{Root: root, TablesUsed: []string{s.Table}, Cost: root.EstCost}, nil
	case *UpdateStmt:
		tbl, err := p.Catalog.Table(dbName, s.Table)
		if err != nil {
			return nil, common.NewError(common.KindSemantic, "planner.Plan", err)
		}
		scan := &PlanNode{Kind: OpSeqScan, Table: s.Table, Alias: s.Table, Predicate: s.Where, EstRows: EstimateScanRows(tbl, flattenAnd(s.Where))}
		root := &PlanNode{Kind: OpUpdate, Children: []*PlanNode{scan}, Table: s.Table, Assignments: s.Assignments}
		annotateCost(root, p.CostModel)
		return &Plan{Root: root, TablesUsed: []string{s.Table}, Cost: root.EstCost}, nil
	case *DeleteStmt:
		tbl, err := p.Catalog.Table(dbName, s.Table)
		if err != nil {
			return nil, common.NewError(common.KindSemantic, "planner.Plan", err)
		}
		scan := &PlanNode{Kind: OpSeqScan, Table: s.Table, Alias: s.Table, Predicate: s.Where, EstRows: EstimateScanRows(tbl, flattenAnd(s.Where))}
		root := &PlanNode{Kind: OpDelete, Children: []*PlanNode{scan}, Table: s.Table}
		annotateCost(root, p.CostModel)
		return &Plan{Root: root, TablesUsed: []string{s.Table}, Cost: root.EstCost}, nil
	default:
		// DDL and transaction control have no operator tree; the engine
		// dispatches them straight to the catalog/txn manager.
		return &Plan{Root: nil}, nil
	}
}
