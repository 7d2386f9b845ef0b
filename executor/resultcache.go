package executor

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ResultCache holds the materialized rows of read-only statements, keyed
// by a fingerprint of the statement text and the versions of every table
// it reads (spec §4.8 "Result cache: for read-only statements, the
// result is fingerprinted and cached (bounded LRU), invalidated on any
// write to a referenced table"). Grounded on planner.PlanCache's shape
// (planner/cache.go), which this mirrors closely — a bounded LRU keyed
// by a hash plus a version — but versioned per-table rather than per-
// catalog, since a result (unlike a plan) is invalidated by row writes,
// not just DDL.
type ResultCache struct {
	lru *lru.Cache[uint64, *cachedResult]

	mu       sync.RWMutex
	versions map[string]*atomic.Uint64
}

type cachedResult struct {
	schema Schema
	rows   []Row
	// tables maps each table the statement read to the version it was
	// read at; a hit requires every one still matches.
	tables map[string]uint64
}

// NewResultCache builds a result cache holding up to size entries.
func NewResultCache(size int) (*ResultCache, error) {
	c, err := lru.New[uint64, *cachedResult](size)
	if err != nil {
		return nil, err
	}
	return &ResultCache{lru: c, versions: make(map[string]*atomic.Uint64)}, nil
}

func (rc *ResultCache) versionFor(table string) *atomic.Uint64 {
	rc.mu.RLock()
	v, ok := rc.versions[table]
	rc.mu.RUnlock()
	if ok {
		return v
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if v, ok := rc.versions[table]; ok {
		return v
	}
	v = &atomic.Uint64{}
	rc.versions[table] = v
	return v
}

// Fingerprint hashes a statement's literal text, unlike planner.Fingerprint
// which erases literals — two results differ when their bound values do,
// so the result cache's key must not collapse them together.
func Fingerprint(statementText string) uint64 {
	return xxhash.Sum64String(statementText)
}

// Get returns the cached rows for fingerprint if present and every table
// it depends on is still at the version it was cached under.
func (rc *ResultCache) Get(fingerprint uint64) (Schema, []Row, bool) {
	entry, ok := rc.lru.Get(fingerprint)
	if !ok {
		return nil, nil, false
	}
	for table, v := range entry.tables {
		if rc.versionFor(table).Load() != v {
			rc.lru.Remove(fingerprint)
			return nil, nil, false
		}
	}
	return entry.schema, entry.rows, true
}

// Put stores rows under fingerprint, stamped with the current version of
// every table in tables.
func (rc *ResultCache) Put(fingerprint uint64, schema Schema, rows []Row, tables []string) {
	versions := make(map[string]uint64, len(tables))
	for _, t := range tables {
		versions[t] = rc.versionFor(t).Load()
	}
	rc.lru.Add(fingerprint, &cachedResult{schema: schema, rows: rows, tables: versions})
}

// Invalidate bumps table's version, so every cached result depending on
// it misses on its next lookup. DML operators call this after a
// successful write (insert/update/delete all funnel through it via
// ExecContext.Cache).
func (rc *ResultCache) Invalidate(table string) {
	rc.versionFor(table).Add(1)
}

// Len reports the number of entries currently cached.
func (rc *ResultCache) Len() int {
	return rc.lru.Len()
}

// Purge empties the cache.
func (rc *ResultCache) Purge() {
	rc.lru.Purge()
}

// Materialize drains it into a slice of rows, cloned so a later cache hit
// can't be corrupted by an iterator reusing its own row buffer.
func Materialize(ctx context.Context, it Iterator) ([]Row, error) {
	var rows []Row
	for {
		row, err := it.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		rows = append(rows, row.Clone())
	}
	return rows, nil
}
