package bufferpool

import (
	"fmt"
	"testing"

	"github.com/relational/dbcore/common"
)

// memBackend is an in-memory Backend for tests, grounded on the
// teacher's fake-disk pattern in btree/btree_test.go.
type memBackend struct {
	pages  map[uint32][]byte
	nextID uint32
	writes int
	reads  int
}

func newMemBackend() *memBackend {
	return &memBackend{pages: make(map[uint32][]byte)}
}

func (b *memBackend) ReadPage(id uint32) ([]byte, error) {
	b.reads++
	data, ok := b.pages[id]
	if !ok {
		return nil, fmt.Errorf("page %d not found", id)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (b *memBackend) WritePage(id uint32, data []byte) error {
	b.writes++
	cp := make([]byte, len(data))
	copy(cp, data)
	b.pages[id] = cp
	return nil
}

func (b *memBackend) AllocatePage() (uint32, error) {
	b.nextID++
	b.pages[b.nextID] = make([]byte, 64)
	return b.nextID, nil
}

func newTestPool(t *testing.T, capacity int, ratio float64) (*Pool, *memBackend) {
	t.Helper()
	backend := newMemBackend()
	p, err := New(Config{Capacity: capacity, LRURatio: ratio, PageSize: 64}, backend, testLogger(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, backend
}

func TestPinLoadsFromBackendOnMiss(t *testing.T) {
	p, backend := newTestPool(t, 4, 0.5)
	id, _ := backend.AllocatePage()

	fr, err := p.Pin(id)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if fr.ID != id {
		t.Errorf("expected frame id %d, got %d", id, fr.ID)
	}
	if backend.reads != 1 {
		t.Errorf("expected 1 backend read, got %d", backend.reads)
	}

	if _, err := p.Pin(id); err != nil {
		t.Fatalf("second Pin: %v", err)
	}
	if backend.reads != 1 {
		t.Errorf("expected second pin to hit cache, reads=%d", backend.reads)
	}
	stats := p.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit 1 miss, got %+v", stats)
	}
}

func TestUnpinAllowsEviction(t *testing.T) {
	p, backend := newTestPool(t, 2, 0.5)
	id1, _ := backend.AllocatePage()
	id2, _ := backend.AllocatePage()
	id3, _ := backend.AllocatePage()

	if _, err := p.Pin(id1); err != nil {
		t.Fatal(err)
	}
	if err := p.Unpin(id1, false); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Pin(id2); err != nil {
		t.Fatal(err)
	}
	if err := p.Unpin(id2, false); err != nil {
		t.Fatal(err)
	}

	// Pool is at capacity (2 unpinned frames); pinning a third page must
	// evict one of them rather than error.
	if _, err := p.Pin(id3); err != nil {
		t.Fatalf("Pin with eviction: %v", err)
	}
}

func TestPinnedPageCannotBeEvicted(t *testing.T) {
	p, backend := newTestPool(t, 1, 0.5)
	id1, _ := backend.AllocatePage()
	id2, _ := backend.AllocatePage()

	if _, err := p.Pin(id1); err != nil {
		t.Fatal(err)
	}
	// id1 stays pinned; pool has capacity 1 so pinning id2 must fail with
	// a capacity error rather than silently evicting a pinned frame.
	_, err := p.Pin(id2)
	if err == nil {
		t.Fatal("expected capacity error, got nil")
	}
	if !common.IsKind(err, common.KindCapacity) {
		t.Errorf("expected KindCapacity, got %v", err)
	}
}

func TestDirtyPageFlushedOnEviction(t *testing.T) {
	p, backend := newTestPool(t, 1, 0.5)
	id1, _ := backend.AllocatePage()
	id2, _ := backend.AllocatePage()

	fr, err := p.Pin(id1)
	if err != nil {
		t.Fatal(err)
	}
	fr.Data[0] = 0xAB
	if err := p.Unpin(id1, true); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Pin(id2); err != nil {
		t.Fatalf("Pin triggering eviction: %v", err)
	}

	persisted, err := backend.ReadPage(id1)
	if err != nil {
		t.Fatal(err)
	}
	if persisted[0] != 0xAB {
		t.Errorf("expected dirty page flushed before eviction, got %v", persisted[0])
	}
}

func TestWALBeforeEvictCalledForDirtyPage(t *testing.T) {
	p, backend := newTestPool(t, 1, 0.5)
	id1, _ := backend.AllocatePage()
	id2, _ := backend.AllocatePage()

	var walCalled bool
	p.WALBeforeEvict = func(pageID uint32, data []byte) error {
		walCalled = true
		return nil
	}

	fr, err := p.Pin(id1)
	if err != nil {
		t.Fatal(err)
	}
	fr.Data[0] = 1
	if err := p.Unpin(id1, true); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Pin(id2); err != nil {
		t.Fatal(err)
	}
	if !walCalled {
		t.Error("expected WALBeforeEvict to be called before flushing dirty page")
	}
}

func TestPromotionToLFUSegment(t *testing.T) {
	p, backend := newTestPool(t, 4, 0.5)
	p.cfg.PromoteThreshold = 2
	id, _ := backend.AllocatePage()

	for i := 0; i < 3; i++ {
		if _, err := p.Pin(id); err != nil {
			t.Fatal(err)
		}
		if err := p.Unpin(id, false); err != nil {
			t.Fatal(err)
		}
	}

	p.mu.Lock()
	class := p.frames[id].class
	p.mu.Unlock()
	if class != segmentLFU {
		t.Errorf("expected page to be promoted to LFU segment after repeated access")
	}
}

func TestFlushAllWritesBackDirtyFrames(t *testing.T) {
	p, backend := newTestPool(t, 4, 0.5)
	id, _ := backend.AllocatePage()

	fr, err := p.Pin(id)
	if err != nil {
		t.Fatal(err)
	}
	fr.Data[0] = 0xFF
	if err := p.Unpin(id, true); err != nil {
		t.Fatal(err)
	}

	if err := p.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	persisted, err := backend.ReadPage(id)
	if err != nil {
		t.Fatal(err)
	}
	if persisted[0] != 0xFF {
		t.Error("expected FlushAll to persist dirty frame")
	}
}

func TestUnbalancedUnpinErrors(t *testing.T) {
	p, backend := newTestPool(t, 4, 0.5)
	id, _ := backend.AllocatePage()
	if _, err := p.Pin(id); err != nil {
		t.Fatal(err)
	}
	if err := p.Unpin(id, false); err != nil {
		t.Fatal(err)
	}
	if err := p.Unpin(id, false); err == nil {
		t.Fatal("expected error unpinning an already-unpinned frame")
	}
}
