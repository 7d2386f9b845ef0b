package executor

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/relational/dbcore/catalog"
	"github.com/relational/dbcore/internal/metrics"
	"github.com/relational/dbcore/planner"
	"github.com/relational/dbcore/txn"
)

// ExecContext bundles everything a statement's operator tree needs that
// isn't carried on the PlanNode itself: the open catalog and physical
// storage, the transaction whose locks and write set the DML operators
// record into, and the ambient logging/metrics/result-cache handles
// (spec §9 "engine ties these together via an explicit context object,
// never package-level globals").
type ExecContext struct {
	Catalog *catalog.Catalog
	DBName  string
	Tables  *TableRegistry
	App     *Applier
	Txn     *txn.Transaction
	Cache   *ResultCache
	Log     zerolog.Logger
	Metrics *metrics.Registry
}

// Build compiles a planned operator tree into a runnable Iterator (spec
// §4.8 "the executor turns a plan tree into a tree of iterators"). It
// recurses depth-first, compiling every child before the node that
// consumes it.
func Build(node *planner.PlanNode, ec *ExecContext) (Iterator, error) {
	if node == nil {
		return nil, fmt.Errorf("executor: nil plan node")
	}

	children, err := buildChildren(node.Children, ec)
	if err != nil {
		return nil, err
	}

	switch node.Kind {
	case planner.OpSeqScan:
		return newSeqScan(node, ec)
	case planner.OpIndexScan:
		return newIndexScan(node, ec)
	case planner.OpIndexOnlyScan:
		return newIndexOnlyScan(node, ec)
	case planner.OpFilter:
		return newFilter(node, children[0])
	case planner.OpProject:
		return newProject(node, children[0])
	case planner.OpSort:
		return newSort(node, children[0])
	case planner.OpHashAggregate:
		return newHashAggregate(node, children[0])
	case planner.OpSortAggregate:
		return newSortAggregate(node, children[0])
	case planner.OpHashJoin:
		return newHashJoin(node, children[0], children[1])
	case planner.OpSortMergeJoin:
		return newSortMergeJoin(node, children[0], children[1])
	case planner.OpIndexNestedLoopJoin:
		return newIndexNestedLoopJoin(node, children[0], children[1])
	case planner.OpCrossJoin:
		return newCrossJoin(node, children[0], children[1])
	case planner.OpUnion, planner.OpIntersect, planner.OpExcept:
		return newSetOp(node, children[0], children[1])
	case planner.OpDistinct:
		return newDistinct(children[0])
	case planner.OpTopN:
		return newTopN(node, children[0])
	case planner.OpLimit:
		return newLimit(node, children[0])
	case planner.OpInsert:
		var source Iterator
		if len(children) > 0 {
			source = children[0]
		}
		return newInsert(node, source, ec)
	case planner.OpUpdate:
		return newUpdate(node, children[0], ec)
	case planner.OpDelete:
		return newDelete(node, children[0], ec)
	}
	return nil, fmt.Errorf("executor: unknown plan operator %v", node.Kind)
}

func buildChildren(nodes []*planner.PlanNode, ec *ExecContext) ([]Iterator, error) {
	out := make([]Iterator, len(nodes))
	for i, n := range nodes {
		it, err := Build(n, ec)
		if err != nil {
			return nil, err
		}
		out[i] = it
	}
	return out, nil
}
