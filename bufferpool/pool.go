// Package bufferpool implements the hybrid LRU/LFU page cache of spec
// §4.2. It generalizes the teacher's btree/pager.go cache (a single
// container/list LRU with a dirty set) into two eviction segments: a
// pure-LRU segment sized by Config.LRURatio and an LFU segment for the
// rest of the budget, with pages promoted from the LRU to the LFU segment
// on access frequency (no page is demoted back). A page can never be evicted while pinned (spec §4.2); WAL
// durability is enforced before a dirty page leaves the pool (WAL-
// before-data, spec §4.2/§4.3) via the WALBeforeEvict hook.
package bufferpool

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/internal/metrics"
	"github.com/rs/zerolog"
)

// Backend is the durable storage a Pool fronts — the file system, in
// practice, via a *btree.Pager-owned file (spec §4.2: "A bounded number
// of frames" sits "atop the file system").
type Backend interface {
	ReadPage(id uint32) ([]byte, error)
	WritePage(id uint32, data []byte) error
	// AllocatePage reserves and returns a fresh page id, its content
	// zero-valued until first write.
	AllocatePage() (uint32, error)
}

// Config configures a Pool.
type Config struct {
	Capacity int     // total frames (spec §6 buffer_pool_frames)
	LRURatio float64 // α: fraction of Capacity in the LRU segment (spec §6 buffer_pool_lru_ratio, default 0.7)
	PageSize int

	// PromoteThreshold is the hit count above which a page migrates from
	// the LRU segment to the LFU segment (spec §4.2: "pages with
	// hit-count above a threshold migrate to the LFU segment").
	PromoteThreshold int64
	// DemoteIdleTicks is defaulted by withDefaults but read nowhere else:
	// the pool never demotes an LFU-segment page back to the LRU segment;
	// a page leaves the LFU segment only by eviction.
	DemoteIdleTicks int64
}

func (c Config) withDefaults() Config {
	if c.PromoteThreshold <= 0 {
		c.PromoteThreshold = 4
	}
	if c.DemoteIdleTicks <= 0 {
		c.DemoteIdleTicks = 64
	}
	return c
}

type segmentClass int

const (
	segmentLRU segmentClass = iota
	segmentLFU
)

// frame is one cached page.
type frame struct {
	id       uint32
	data     []byte
	dirty    bool
	pinCount int
	hits     int64
	class    segmentClass
	lastSeen int64 // logical clock value at last access (recorded only; nothing reads it)
}

// Pool is the hybrid buffer pool.
type Pool struct {
	cfg     Config
	backend Backend
	log     zerolog.Logger
	met     *metrics.Registry

	// WALBeforeEvict, if set, is invoked with the page's bytes before a
	// dirty frame is written back or evicted, satisfying spec §4.2's
	// "Dirty pages may be evicted only after their WAL records are
	// durable (WAL-before-data)". It returns only an error; a non-nil
	// error stops the write-back and is returned to the caller.
	WALBeforeEvict func(pageID uint32, data []byte) error

	mu     sync.Mutex
	frames map[uint32]*frame
	clock  int64

	lru    *simplelru.LRU[uint32, struct{}] // recency bookkeeping for the LRU segment
	lruCap int

	lfuBuckets map[int64]*list.List // frequency -> list of page ids at that frequency
	lfuElems   map[uint32]*list.Element
	lfuCap     int
	minFreq    int64

	hits, misses int64
}

// New constructs a Pool with the given capacity split between LRU and
// LFU segments per cfg.LRURatio.
func New(cfg Config, backend Backend, log zerolog.Logger, met *metrics.Registry) (*Pool, error) {
	cfg = cfg.withDefaults()
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("bufferpool: capacity must be > 0")
	}
	if met == nil {
		met = metrics.Noop()
	}

	lruCap := int(float64(cfg.Capacity) * cfg.LRURatio)
	if lruCap < 1 {
		lruCap = 1
	}
	if lruCap >= cfg.Capacity {
		lruCap = cfg.Capacity - 1
		if lruCap < 1 {
			lruCap = cfg.Capacity
		}
	}
	lfuCap := cfg.Capacity - lruCap

	// Unbounded underlying LRU: Pool, not simplelru, enforces capacity so
	// it can skip pinned victims; OnEvict is unused because we evict
	// manually (see evictFromLRU).
	lru, err := simplelru.NewLRU[uint32, struct{}](cfg.Capacity+1, nil)
	if err != nil {
		return nil, err
	}

	return &Pool{
		cfg:        cfg,
		backend:    backend,
		log:        log,
		met:        met,
		frames:     make(map[uint32]*frame),
		lru:        lru,
		lruCap:     lruCap,
		lfuBuckets: make(map[int64]*list.List),
		lfuElems:   make(map[uint32]*list.Element),
		lfuCap:     lfuCap,
	}, nil
}

// Frame is the handle returned by Pin. Callers must call Unpin exactly
// once per Pin when done accessing Data.
type Frame struct {
	ID   uint32
	Data []byte
}

// Pin loads pageID into the pool (from backend if not cached), pins it
// against eviction, and returns its frame. Concurrent pins of the same
// page share the same backing frame.
func (p *Pool) Pin(pageID uint32) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fr, ok := p.frames[pageID]; ok {
		p.hits++
		p.met.BufferPoolHits.Inc()
		fr.pinCount++
		p.recordAccessLocked(fr)
		return &Frame{ID: pageID, Data: fr.data}, nil
	}

	p.misses++
	p.met.BufferPoolMisses.Inc()

	if len(p.frames) >= p.cfg.Capacity {
		if err := p.evictOneLocked(); err != nil {
			return nil, err
		}
	}

	data, err := p.backend.ReadPage(pageID)
	if err != nil {
		return nil, err
	}

	fr := &frame{id: pageID, data: data, pinCount: 1, class: segmentLRU}
	p.frames[pageID] = fr
	p.lru.Add(pageID, struct{}{})
	p.met.BufferPoolPinned.Inc()

	return &Frame{ID: pageID, Data: fr.data}, nil
}

// Allocate reserves a brand-new page via the backend and pins it.
func (p *Pool) Allocate() (*Frame, error) {
	id, err := p.backend.AllocatePage()
	if err != nil {
		return nil, err
	}
	return p.Pin(id)
}

// Unpin releases a pin taken by Pin/Allocate. dirty marks the page as
// modified since it was pinned; dirty state is sticky until flushed.
func (p *Pool) Unpin(pageID uint32, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fr, ok := p.frames[pageID]
	if !ok {
		return fmt.Errorf("bufferpool: unpin of untracked page %d", pageID)
	}
	if fr.pinCount == 0 {
		return fmt.Errorf("bufferpool: unbalanced unpin of page %d", pageID)
	}
	fr.pinCount--
	if dirty {
		fr.dirty = true
	}
	if fr.pinCount == 0 {
		p.met.BufferPoolPinned.Dec()
	}
	return nil
}

// recordAccessLocked updates hit/frequency bookkeeping and migrates the
// frame between segments per spec §4.2's migration rule. Caller holds mu.
func (p *Pool) recordAccessLocked(fr *frame) {
	p.clock++
	fr.hits++
	fr.lastSeen = p.clock

	switch fr.class {
	case segmentLRU:
		p.lru.Get(fr.id) // refresh recency
		if fr.hits >= p.cfg.PromoteThreshold {
			p.promoteToLFULocked(fr)
		}
	case segmentLFU:
		p.bumpFrequencyLocked(fr)
	}
}

func (p *Pool) promoteToLFULocked(fr *frame) {
	p.lru.Remove(fr.id)
	fr.class = segmentLFU
	p.insertIntoLFULocked(fr, 1)
}

func (p *Pool) insertIntoLFULocked(fr *frame, freq int64) {
	lst, ok := p.lfuBuckets[freq]
	if !ok {
		lst = list.New()
		p.lfuBuckets[freq] = lst
	}
	p.lfuElems[fr.id] = lst.PushFront(fr.id)
	if p.minFreq == 0 || freq < p.minFreq {
		p.minFreq = freq
	}
}

func (p *Pool) bumpFrequencyLocked(fr *frame) {
	curFreq := p.frequencyOfLocked(fr.id)
	if elem, ok := p.lfuElems[fr.id]; ok {
		p.lfuBuckets[curFreq].Remove(elem)
		if p.lfuBuckets[curFreq].Len() == 0 {
			delete(p.lfuBuckets, curFreq)
			if p.minFreq == curFreq {
				p.minFreq = curFreq + 1
			}
		}
	}
	p.insertIntoLFULocked(fr, curFreq+1)
}

func (p *Pool) frequencyOfLocked(id uint32) int64 {
	for freq, lst := range p.lfuBuckets {
		for e := lst.Front(); e != nil; e = e.Next() {
			if e.Value.(uint32) == id {
				return freq
			}
		}
	}
	return 1
}

// evictOneLocked picks a victim per the hybrid policy and removes it
// from the pool, flushing it first if dirty. Caller holds mu.
func (p *Pool) evictOneLocked() error {
	// Prefer evicting from whichever segment is currently over its share
	// of the budget; fall back to the other if the first has no
	// unpinned victim.
	lruCount, lfuCount := p.segmentCountsLocked()

	order := []segmentClass{segmentLRU, segmentLFU}
	if lfuCount > p.lfuCap {
		order = []segmentClass{segmentLFU, segmentLRU}
	} else if lruCount <= p.lruCap {
		order = []segmentClass{segmentLFU, segmentLRU}
	}

	for _, class := range order {
		if victim, ok := p.pickVictimLocked(class); ok {
			return p.evictLocked(victim)
		}
	}
	return common.NewError(common.KindCapacity, "bufferpool.evict", fmt.Errorf("no unpinned page available to evict (capacity=%d)", p.cfg.Capacity))
}

func (p *Pool) segmentCountsLocked() (lru, lfu int) {
	for _, fr := range p.frames {
		if fr.class == segmentLRU {
			lru++
		} else {
			lfu++
		}
	}
	return
}

// pickVictimLocked scans a segment for the lowest-priority unpinned
// frame: in the LRU segment the least recently used one; in the LFU
// segment the frames at the minimum frequency are tied, and the tie
// breaks by lower pin count then lower page id (spec §4.2: "Ties break
// by lower pin count, then lower page id for determinism").
func (p *Pool) pickVictimLocked(class segmentClass) (uint32, bool) {
	var candidates []uint32
	switch class {
	case segmentLRU:
		for _, id := range p.lru.Keys() { // oldest first
			if fr := p.frames[id]; fr != nil && fr.class == segmentLRU {
				candidates = append(candidates, id)
			}
		}
	case segmentLFU:
		if len(p.lfuBuckets) == 0 {
			return 0, false
		}
		if lst, ok := p.lfuBuckets[p.minFreq]; ok {
			for e := lst.Back(); e != nil; e = e.Prev() {
				candidates = append(candidates, e.Value.(uint32))
			}
		}
	}

	var best uint32
	found := false
	for _, id := range candidates {
		fr := p.frames[id]
		if fr.pinCount > 0 {
			continue
		}
		if !found {
			best, found = id, true
			if class == segmentLRU {
				break // candidates are oldest first; recency has no ties
			}
			continue
		}
		bf := p.frames[best]
		if fr.pinCount < bf.pinCount || (fr.pinCount == bf.pinCount && fr.id < bf.id) {
			best = id
		}
	}
	return best, found
}

func (p *Pool) evictLocked(id uint32) error {
	fr := p.frames[id]
	if fr.dirty {
		if p.WALBeforeEvict != nil {
			if err := p.WALBeforeEvict(id, fr.data); err != nil {
				return err
			}
		}
		if err := p.backend.WritePage(id, fr.data); err != nil {
			return err
		}
	}

	switch fr.class {
	case segmentLRU:
		p.lru.Remove(id)
		p.met.BufferPoolEvictions.WithLabelValues("lru").Inc()
	case segmentLFU:
		freq := p.frequencyOfLocked(id)
		if elem, ok := p.lfuElems[id]; ok {
			if lst, ok := p.lfuBuckets[freq]; ok {
				lst.Remove(elem)
				if lst.Len() == 0 {
					delete(p.lfuBuckets, freq)
				}
			}
			delete(p.lfuElems, id)
		}
		p.met.BufferPoolEvictions.WithLabelValues("lfu").Inc()
	}
	delete(p.frames, id)
	return nil
}

// Flush writes pageID back to the backend if dirty.
func (p *Pool) Flush(pageID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fr, ok := p.frames[pageID]
	if !ok || !fr.dirty {
		return nil
	}
	if p.WALBeforeEvict != nil {
		if err := p.WALBeforeEvict(pageID, fr.data); err != nil {
			return err
		}
	}
	if err := p.backend.WritePage(pageID, fr.data); err != nil {
		return err
	}
	fr.dirty = false
	return nil
}

// FlushAll writes back every dirty frame (spec §4.2: must complete
// before a clean-shutdown marker is recorded).
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	ids := make([]uint32, 0, len(p.frames))
	for id, fr := range p.frames {
		if fr.dirty {
			ids = append(ids, id)
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		if err := p.Flush(id); err != nil {
			return err
		}
	}
	return nil
}

// Stats reports buffer pool hit/miss counters.
type Stats struct {
	Hits, Misses int64
	Frames       int
	LRUCapacity  int
	LFUCapacity  int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Hits: p.hits, Misses: p.misses, Frames: len(p.frames), LRUCapacity: p.lruCap, LFUCapacity: p.lfuCap}
}
