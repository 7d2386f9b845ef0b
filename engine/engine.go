// Package engine ties the catalog, WAL, transaction manager, planner,
// and executor together behind a single entry point (spec §9 "the
// engine ties these together via an explicit context object, never
// package-level globals"). It owns DDL coordination: catalog.CreateTable
// itself does not register a backing index for a table's primary key,
// unique constraints, or foreign keys, so the engine creates those and
// opens the resulting physical files before a statement can touch them.
package engine

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/relational/dbcore/catalog"
	"github.com/relational/dbcore/executor"
	"github.com/relational/dbcore/internal/config"
	"github.com/relational/dbcore/internal/dblog"
	"github.com/relational/dbcore/internal/metrics"
	"github.com/relational/dbcore/lockmgr"
	"github.com/relational/dbcore/planner"
	"github.com/relational/dbcore/txn"
	"github.com/relational/dbcore/wal"
)

// Engine is one open database: its catalog, physical storage, write-ahead
// log and transaction manager, planner, and result cache. One process may
// open several Engines (one per database), each with its own data
// subdirectory, the way the teacher's demo opens one storage engine per
// data directory (cmd/demo/main.go).
type Engine struct {
	cfg    config.Config
	dbName string
	dir    string

	cat     *catalog.Catalog
	tables  *executor.TableRegistry
	applier *executor.Applier
	wal     *wal.WAL
	txns    *txn.Manager
	planner *planner.Planner
	cache   *executor.ResultCache

	log zerolog.Logger
	met *metrics.Registry
}

// Open boots every subsystem against cfg.DataDir, creating dbName if it
// does not already exist, and runs crash recovery (via txn.OpenWithLogging)
// before returning. The bootstrap order mirrors executor_test.go's
// testEngine harness: catalog, then the table registry, then the applier
// that closes the loop back into the registry's physical storage, then
// the WAL and transaction manager (which replay the WAL against that
// applier), then the planner and result cache.
func Open(cfg config.Config, dbName string, log zerolog.Logger, met *metrics.Registry) (*Engine, error) {
	if met == nil {
		met = metrics.Noop()
	}
	log = dblog.Component(log, "engine")

	catDir := filepath.Join(cfg.DataDir, "catalog")
	cat, err := catalog.OpenWithLogging(catDir, log)
	if err != nil {
		return nil, fmt.Errorf("engine: open catalog: %w", err)
	}

	dataDir := filepath.Join(cfg.DataDir, dbName)
	if err := ensureDatabase(cat, dbName); err != nil {
		return nil, err
	}

	tables, err := executor.OpenTableRegistry(dataDir, cat, dbName)
	if err != nil {
		return nil, fmt.Errorf("engine: open table registry: %w", err)
	}

	applier := executor.NewApplier(tables)

	walDir := filepath.Join(cfg.DataDir, dbName+"-wal")
	w, err := wal.Open(wal.Config{Dir: walDir, SegmentSize: cfg.WALSegmentSize}, log, met)
	if err != nil {
		tables.Close()
		return nil, fmt.Errorf("engine: open wal: %w", err)
	}

	locksCfg := lockmgr.Config{
		DetectInterval: time.Duration(cfg.DeadlockCheckIntervalMS) * time.Millisecond,
		LockTimeout:    time.Duration(cfg.LockTimeoutMS) * time.Millisecond,
	}
	txnMgr, err := txn.OpenWithLogging(w, txn.Config{Locks: locksCfg, Applier: applier}, log, met)
	if err != nil {
		tables.Close()
		return nil, fmt.Errorf("engine: open transaction manager: %w", err)
	}

	pl, err := planner.NewWithLogging(cat, cfg.PlanCacheSize, log, met)
	if err != nil {
		tables.Close()
		return nil, fmt.Errorf("engine: open planner: %w", err)
	}

	cache, err := executor.NewResultCache(cfg.ResultCacheSize)
	if err != nil {
		tables.Close()
		return nil, fmt.Errorf("engine: open result cache: %w", err)
	}

	return &Engine{
		cfg:     cfg,
		dbName:  dbName,
		dir:     dataDir,
		cat:     cat,
		tables:  tables,
		applier: applier,
		wal:     w,
		txns:    txnMgr,
		planner: pl,
		cache:   cache,
		log:     log,
		met:     met,
	}, nil
}

func ensureDatabase(cat *catalog.Catalog, dbName string) error {
	for _, name := range cat.ListDatabases() {
		if name == dbName {
			return nil
		}
	}
	return cat.CreateDatabase(dbName)
}

// Close stops the transaction manager's deadlock detector, releases
// every open table and index file, and syncs and closes the WAL's
// segment files. The catalog has no separate close step. The first
// error met is returned.
func (e *Engine) Close() error {
	e.txns.Close()
	err := e.tables.Close()
	if werr := e.wal.Close(); werr != nil && err == nil {
		err = werr
	}
	return err
}

// Stats reports a point-in-time snapshot of the planner's plan cache and
// the result cache, for `dbcore stats` (spec SPEC_FULL.md §10.6).
type Stats struct {
	PlanCacheLen   int
	ResultCacheLen int
}

func (e *Engine) Stats() Stats {
	return Stats{
		PlanCacheLen:   e.planner.Cache.Len(),
		ResultCacheLen: e.cache.Len(),
	}
}

// Catalog exposes the engine's catalog for callers that need direct
// read access (e.g. `dbcore explain`'s plan printer looking up a table's
// estimated row count).
func (e *Engine) Catalog() *catalog.Catalog { return e.cat }

// Planner exposes the engine's planner, for `dbcore explain`.
func (e *Engine) Planner() *planner.Planner { return e.planner }

// DBName returns the database this engine was opened against.
func (e *Engine) DBName() string { return e.dbName }
