package executor

import (
	"context"
	"errors"
	"io"

	"github.com/relational/dbcore/btree"
	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/lockmgr"
	"github.com/relational/dbcore/planner"
)

// seqScan walks every live row of a table in RowHeap.Scan order,
// filtering by the leftover predicate buildScans/chooseScan couldn't
// push into an index lookup (spec §4.8 "SeqScan").
type seqScan struct {
	ec    *ExecContext
	table string
	alias string
	pred  planner.Expr

	th     *TableHandle
	schema Schema
	it     common.Iterator
}

func newSeqScan(node *planner.PlanNode, ec *ExecContext) (*seqScan, error) {
	alias := node.Alias
	if alias == "" {
		alias = node.Table
	}
	return &seqScan{ec: ec, table: node.Table, alias: alias, pred: node.Predicate}, nil
}

// Open acquires an intent-shared table lock (strict 2PL, spec §4.4),
// opens the table's row heap if it isn't already, and starts the scan.
func (s *seqScan) Open(ctx context.Context) error {
	if s.ec.Txn != nil {
		if err := s.ec.Txn.LockTable(s.table, lockmgr.IS); err != nil {
			return err
		}
	}
	if err := s.ec.Tables.OpenTable(s.table); err != nil {
		return err
	}
	th, err := s.ec.Tables.Table(s.table)
	if err != nil {
		return err
	}
	s.th = th
	s.schema = th.Schema(s.alias)
	it, err := th.Heap.Scan()
	if err != nil {
		return err
	}
	s.it = it
	return nil
}

func (s *seqScan) Close() error {
	if s.it != nil {
		return s.it.Close()
	}
	return nil
}

func (s *seqScan) Schema() Schema { return s.schema }

func (s *seqScan) Next(ctx context.Context) (Row, error) {
	for {
		if err := checkCancelled(ctx); err != nil {
			return Row{}, err
		}
		if !s.it.Next() {
			if err := s.it.Error(); err != nil {
				return Row{}, err
			}
			return Row{}, io.EOF
		}
		rid := ridFromKey(s.it.Key())
		values, err := DecodeRow(s.it.Value(), s.th.RowKinds())
		if err != nil {
			return Row{}, err
		}
		row := Row{Values: values, RID: rid}
		if s.pred != nil {
			v, err := Eval(s.pred, row, s.schema)
			if err != nil {
				return Row{}, err
			}
			if !Truthy(v) {
				continue
			}
		}
		return row, nil
	}
}

// indexScan probes a single index for every RID whose leading key
// column equals a bound literal (buildScans/chooseScan only ever
// produces an equality bound, ScanLow == ScanHigh), then fetches each
// matching row from the heap (spec §4.8 "IndexScan").
type indexScan struct {
	ec    *ExecContext
	table string
	alias string
	index string
	bound planner.Expr
	pred  planner.Expr

	th     *TableHandle
	schema Schema
	it     *btree.TreeIterator
}

func newIndexScan(node *planner.PlanNode, ec *ExecContext) (*indexScan, error) {
	alias := node.Alias
	if alias == "" {
		alias = node.Table
	}
	return &indexScan{
		ec:    ec,
		table: node.Table,
		alias: alias,
		index: node.Index.Name,
		bound: node.ScanLow,
		pred:  node.Predicate,
	}, nil
}

func (s *indexScan) Open(ctx context.Context) error {
	if s.ec.Txn != nil {
		if err := s.ec.Txn.LockTable(s.table, lockmgr.IS); err != nil {
			return err
		}
	}
	if err := s.ec.Tables.OpenTable(s.table); err != nil {
		return err
	}
	th, err := s.ec.Tables.Table(s.table)
	if err != nil {
		return err
	}
	s.th = th
	s.schema = th.Schema(s.alias)

	boundVal, err := Eval(s.bound, Row{}, nil)
	if err != nil {
		return err
	}
	tree, ok := th.Indexes[s.index]
	if !ok {
		return errors.New("executor: index " + s.index + " is not open on table " + s.table)
	}
	// RangeScanEqual matches on the encoded prefix, so this also serves
	// a composite index whose leading column alone is bound.
	it, err := tree.RangeScanEqual(common.Key{boundVal})
	if err != nil {
		return err
	}
	s.it = it
	return nil
}

func (s *indexScan) Close() error {
	if s.it != nil {
		return s.it.Close()
	}
	return nil
}

func (s *indexScan) Schema() Schema { return s.schema }

func (s *indexScan) Next(ctx context.Context) (Row, error) {
	for {
		if err := checkCancelled(ctx); err != nil {
			return Row{}, err
		}
		if !s.it.Next() {
			if err := s.it.Err(); err != nil {
				return Row{}, err
			}
			return Row{}, io.EOF
		}
		rid := s.it.RID()
		data, err := s.th.Heap.Get(rid)
		if err != nil {
			if errors.Is(err, common.ErrKeyNotFound) {
				continue
			}
			return Row{}, err
		}
		values, err := DecodeRow(data, s.th.RowKinds())
		if err != nil {
			return Row{}, err
		}
		row := Row{Values: values, RID: rid}
		if s.pred != nil {
			v, err := Eval(s.pred, row, s.schema)
			if err != nil {
				return Row{}, err
			}
			if !Truthy(v) {
				continue
			}
		}
		return row, nil
	}
}

// indexOnlyScan serves a query entirely from an index's key columns,
// never touching the row heap (spec §4.8 "IndexOnlyScan, when every
// referenced column is covered"). The planner does not currently emit
// OpIndexOnlyScan (chooseScan only ever returns OpSeqScan/OpIndexScan),
// so this operator exists for a future cost-model extension and is
// exercised directly by this package's tests in the meantime.
type indexOnlyScan struct {
	ec     *ExecContext
	table  string
	alias  string
	index  string
	bound  planner.Expr
	pred   planner.Expr
	covers []string

	tree   *btree.Tree
	kinds  []common.ValueKind
	schema Schema
	it     *btree.TreeIterator
}

func newIndexOnlyScan(node *planner.PlanNode, ec *ExecContext) (*indexOnlyScan, error) {
	alias := node.Alias
	if alias == "" {
		alias = node.Table
	}
	return &indexOnlyScan{
		ec:     ec,
		table:  node.Table,
		alias:  alias,
		index:  node.Index.Name,
		bound:  node.ScanLow,
		pred:   node.Predicate,
		covers: node.CoveredBy,
	}, nil
}

func (s *indexOnlyScan) Open(ctx context.Context) error {
	if s.ec.Txn != nil {
		if err := s.ec.Txn.LockTable(s.table, lockmgr.IS); err != nil {
			return err
		}
	}
	if err := s.ec.Tables.OpenTable(s.table); err != nil {
		return err
	}
	tree, kinds, err := s.ec.Tables.IndexTree(s.index)
	if err != nil {
		return err
	}
	s.tree = tree
	s.kinds = kinds

	cols := make([]ColumnInfo, len(s.covers))
	for i, c := range s.covers {
		kind := common.KindString
		if i < len(kinds) {
			kind = kinds[i]
		}
		cols[i] = ColumnInfo{Name: c, Kind: kind}
	}
	s.schema = TableSchema(s.alias, cols)

	var it *btree.TreeIterator
	if s.bound != nil {
		boundVal, err := Eval(s.bound, Row{}, nil)
		if err != nil {
			return err
		}
		it, err = tree.RangeScanEqual(common.Key{boundVal})
		if err != nil {
			return err
		}
	} else {
		it, err = tree.RangeScan(nil, nil, true)
		if err != nil {
			return err
		}
	}
	s.it = it
	return nil
}

func (s *indexOnlyScan) Close() error {
	if s.it != nil {
		return s.it.Close()
	}
	return nil
}

func (s *indexOnlyScan) Schema() Schema { return s.schema }

func (s *indexOnlyScan) Next(ctx context.Context) (Row, error) {
	for {
		if err := checkCancelled(ctx); err != nil {
			return Row{}, err
		}
		if !s.it.Next() {
			if err := s.it.Err(); err != nil {
				return Row{}, err
			}
			return Row{}, io.EOF
		}
		key, err := s.it.Key()
		if err != nil {
			return Row{}, err
		}
		row := Row{Values: key, RID: s.it.RID()}
		if s.pred != nil {
			v, err := Eval(s.pred, row, s.schema)
			if err != nil {
				return Row{}, err
			}
			if !Truthy(v) {
				continue
			}
		}
		return row, nil
	}
}
