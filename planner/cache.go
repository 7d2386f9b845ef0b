package planner

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheKey pairs a query's structural fingerprint with the catalog
// version it was planned against, so any DDL or stats change on a
// referenced table invalidates every plan keyed to the old version
// without the cache tracking per-plan table dependencies (spec §4.7
// "Plan cache... keyed on plan fingerprint; invalidated on DDL or stats
// refresh affecting a referenced table").
type cacheKey struct {
	fingerprint uint64
	version     uint64
}

// PlanCache is a bounded LRU cache of previously-costed plans.
type PlanCache struct {
	lru *lru.Cache[cacheKey, *Plan]
}

// NewPlanCache builds a plan cache holding up to size entries.
func NewPlanCache(size int) (*PlanCache, error) {
	c, err := lru.New[cacheKey, *Plan](size)
	if err != nil {
		return nil, err
	}
	return &PlanCache{lru: c}, nil
}

// Get returns a cached plan for (fingerprint, catalogVersion), if any.
func (pc *PlanCache) Get(fingerprint, catalogVersion uint64) (*Plan, bool) {
	return pc.lru.Get(cacheKey{fingerprint, catalogVersion})
}

// Put stores a plan under (fingerprint, catalogVersion).
func (pc *PlanCache) Put(fingerprint, catalogVersion uint64, plan *Plan) {
	pc.lru.Add(cacheKey{fingerprint, catalogVersion}, plan)
}

// Len reports the number of entries currently cached.
func (pc *PlanCache) Len() int {
	return pc.lru.Len()
}

// Purge empties the cache. Since cache entries are already scoped by
// catalog version, a plain version bump makes old entries unreachable
// without needing an explicit purge — this exists for tests and for an
// operator-triggered cache reset.
func (pc *PlanCache) Purge() {
	pc.lru.Purge()
}
