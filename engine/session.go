package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/relational/dbcore/executor"
	"github.com/relational/dbcore/planner"
	"github.com/relational/dbcore/txn"
)

// Result is a statement's outcome: a read statement's rows, or a DML
// statement's affected row count (spec §4.8 "Insert/Update/Delete... a
// summary row, not a stream").
type Result struct {
	Schema       executor.Schema
	Rows         []executor.Row
	RowsAffected int64
}

// Session is one client's sequence of statements: auto-commit by
// default (spec §4.5 "statements executed outside BEGIN run as a single-
// statement transaction that commits on success, aborts on error"), or
// a single multi-statement transaction once BEGIN has been seen.
type Session struct {
	eng *Engine
	tx  *txn.Transaction
}

// NewSession opens a session against e. Sessions share the engine's
// catalog, planner, and result cache, but never share an in-flight
// transaction with each other.
func (e *Engine) NewSession() *Session {
	return &Session{eng: e}
}

// InTransaction reports whether an explicit BEGIN is active.
func (s *Session) InTransaction() bool { return s.tx != nil }

// Close rolls back any transaction left open by a client that
// disconnected without an explicit COMMIT/ROLLBACK.
func (s *Session) Close() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Rollback()
}

// Execute runs one statement. statementText is the literal source text,
// used only to key the result cache (executor.Fingerprint) — callers
// with no text available (e.g. a programmatically built AST) may pass
// an empty string, which simply disables caching for that call.
func (s *Session) Execute(ctx context.Context, stmt planner.Stmt, statementText string) (Result, error) {
	switch st := stmt.(type) {
	case *planner.TxnStmt:
		return Result{}, s.execTxnStmt(st)
	case *planner.CreateTableStmt, *planner.DropTableStmt, *planner.CreateIndexStmt, *planner.DropIndexStmt:
		return Result{}, s.eng.execDDL(stmt)
	}

	plan, err := s.eng.planner.Plan(s.eng.dbName, stmt)
	if err != nil {
		return Result{}, err
	}

	tx := s.tx
	autoCommit := tx == nil
	if autoCommit {
		tx, err = s.eng.txns.Begin()
		if err != nil {
			return Result{}, err
		}
	}

	if s.eng.cfg.StatementTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.eng.cfg.StatementTimeoutMS)*time.Millisecond)
		defer cancel()
	}

	ec := &executor.ExecContext{
		Catalog: s.eng.cat,
		DBName:  s.eng.dbName,
		Tables:  s.eng.tables,
		App:     s.eng.applier,
		Txn:     tx,
		Cache:   s.eng.cache,
		Log:     s.eng.log,
		Metrics: s.eng.met,
	}

	res, runErr := s.run(ctx, plan, ec, statementText)

	if autoCommit {
		if runErr != nil {
			tx.Rollback()
			return Result{}, runErr
		}
		if err := tx.Commit(); err != nil {
			return Result{}, err
		}
		return res, nil
	}
	return res, runErr
}

func (s *Session) execTxnStmt(st *planner.TxnStmt) error {
	switch st.Kind {
	case planner.TxnBegin:
		if s.tx != nil {
			return fmt.Errorf("engine: a transaction is already active on this session")
		}
		tx, err := s.eng.txns.Begin()
		if err != nil {
			return err
		}
		s.tx = tx
		return nil
	case planner.TxnCommit:
		if s.tx == nil {
			return fmt.Errorf("engine: no active transaction to commit")
		}
		tx := s.tx
		s.tx = nil
		return tx.Commit()
	case planner.TxnRollback:
		if s.tx == nil {
			return fmt.Errorf("engine: no active transaction to roll back")
		}
		tx := s.tx
		s.tx = nil
		return tx.Rollback()
	default:
		return fmt.Errorf("engine: unknown transaction statement kind %v", st.Kind)
	}
}

// run builds and drains the plan's operator tree, consulting the result
// cache for read-only statements before building anything.
func (s *Session) run(ctx context.Context, plan *planner.Plan, ec *executor.ExecContext, statementText string) (Result, error) {
	isRead := true
	switch plan.Root.Kind {
	case planner.OpInsert, planner.OpUpdate, planner.OpDelete:
		isRead = false
	}

	var fp uint64
	cacheable := isRead && statementText != ""
	if cacheable {
		fp = executor.Fingerprint(statementText)
		if schema, rows, ok := s.eng.cache.Get(fp); ok {
			return Result{Schema: schema, Rows: rows}, nil
		}
	}

	it, err := executor.Build(plan.Root, ec)
	if err != nil {
		return Result{}, err
	}
	defer it.Close()
	if err := it.Open(ctx); err != nil {
		return Result{}, err
	}

	rows, err := executor.Materialize(ctx, it)
	if err != nil {
		return Result{}, err
	}
	schema := it.Schema()

	if cacheable {
		s.eng.cache.Put(fp, schema, rows, plan.TablesUsed)
	}
	if isRead {
		return Result{Schema: schema, Rows: rows}, nil
	}

	var affected int64
	if len(rows) == 1 && len(rows[0].Values) == 1 {
		affected = rows[0].Values[0].Int
	}
	return Result{Schema: schema, Rows: rows, RowsAffected: affected}, nil
}
