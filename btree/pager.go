package btree

import (
	"encoding/binary"
	"errors"
	"os"
	"sync"

	"github.com/relational/dbcore/bufferpool"
	"github.com/relational/dbcore/internal/dblog"
	"github.com/relational/dbcore/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// Metadata page (page 0) layout
	MetadataPageID         = 0
	MetadataOffsetMagic    = 0  // 4 bytes
	MetadataOffsetRoot     = 4  // 4 bytes
	MetadataOffsetNumPage  = 8  // 4 bytes
	MetadataOffsetFreeList = 12 // 4 bytes

	// Typed-key header, appended by the tree.go facade so a reopened tree
	// refuses a mismatched comparator (spec §4.1 "comparator ... fixed at
	// creation"). Unused by raw BTree.Put/Get/Delete callers.
	MetadataOffsetUnique     = 16 // 1 byte, 0/1
	MetadataOffsetNullOrder  = 17 // 1 byte
	MetadataOffsetNumKeyCols = 18 // 1 byte
	MetadataOffsetNumKeys    = 19 // 8 bytes
	MetadataOffsetKindsBuf   = 27 // up to MaxKeyColumns bytes
	MaxKeyColumns            = 32
	MetadataOffsetIdentLen   = MetadataOffsetKindsBuf + MaxKeyColumns // 2 bytes
	MetadataOffsetIdent      = MetadataOffsetIdentLen + 2
	MaxIdentityLen           = 64

	MetadataMagic = 0x42545245 // "BTRE" in hex
)

var (
	ErrInvalidDatabase = errors.New("invalid database file")
	ErrDatabaseClosed  = errors.New("database is closed")
)

// Metadata stores database metadata
type Metadata struct {
	Magic       uint32
	RootPageID  uint32
	NumPages    uint32
	FreeListPtr uint32

	// Typed-key header (written/read only through tree.go)
	Unique        bool
	NullOrder     byte
	KeyColumnKind []byte // one ValueKind byte per key column
	NumKeys       int64
	Identity      string
}

// Pager owns the backing file and fronts it with a bufferpool.Pool. It
// implements bufferpool.Backend itself so the pool can read/write/
// allocate pages without knowing about the file format.
type Pager struct {
	file *os.File
	mu   sync.RWMutex

	pool *bufferpool.Pool

	metadata *Metadata
	closed   bool

	// WALBeforeEvict, set via SetWALHook, is wired into the pool so a
	// dirty page can't be evicted before its WAL record is durable
	// (spec §4.2/§4.3 WAL-before-data). The btree package itself holds
	// no WAL instance; the txn layer supplies the hook.
	walHook func(pageID uint32, data []byte) error

	stats struct {
		pageWrites   int64
		pageReads    int64
		bytesWritten int64
	}
}

// NewPager creates or opens a database file backed by a hybrid LRU/LFU
// buffer pool of the given frame capacity.
func NewPager(filename string, cacheSize int) (*Pager, error) {
	return NewPagerWithLogging(filename, cacheSize, dblog.Nop(), metrics.Noop())
}

// NewPagerWithLogging is NewPager with an explicit logger and metrics
// registry, matching spec §9's "explicit engine context" construction
// pattern (no package-level loggers/registries).
func NewPagerWithLogging(filename string, cacheSize int, log zerolog.Logger, met *metrics.Registry) (*Pager, error) {
	file, err := os.OpenFile(filename, os.O_RDWR, 0644)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		return createPager(filename, cacheSize, log, met)
	}
	return loadPager(file, cacheSize, log, met)
}

func (p *Pager) initPool(cacheSize int, log zerolog.Logger, met *metrics.Registry) error {
	cfg := bufferpool.Config{
		Capacity: cacheSize,
		LRURatio: 0.7,
		PageSize: PageSize,
	}
	pool, err := bufferpool.New(cfg, p, dblog.Component(log, "bufferpool"), met)
	if err != nil {
		return err
	}
	pool.WALBeforeEvict = func(pageID uint32, data []byte) error {
		if p.walHook == nil {
			return nil
		}
		return p.walHook(pageID, data)
	}
	p.pool = pool
	return nil
}

// SetWALHook registers the callback invoked before a dirty page leaves
// the buffer pool (write-back or eviction). The txn/recovery layer sets
// this so no page is written to the data file ahead of its WAL record.
func (p *Pager) SetWALHook(hook func(pageID uint32, data []byte) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.walHook = hook
}

// createPager creates a new pager with a fresh database
func createPager(filename string, cacheSize int, log zerolog.Logger, met *metrics.Registry) (*Pager, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	pager := &Pager{
		file: file,
		metadata: &Metadata{
			Magic:       MetadataMagic,
			RootPageID:  1, // Root starts at page 1
			NumPages:    2, // Page 0 (metadata) + Page 1 (root)
			FreeListPtr: 0, // No free pages initially
		},
	}

	if err := pager.initPool(cacheSize, log, met); err != nil {
		file.Close()
		os.Remove(filename)
		return nil, err
	}

	if err := pager.writeMetadata(); err != nil {
		file.Close()
		os.Remove(filename)
		return nil, err
	}

	rootPage := NewPage(1, PageTypeLeaf)
	if err := pager.WritePage(1, rootPage.Data()); err != nil {
		file.Close()
		os.Remove(filename)
		return nil, err
	}

	return pager, nil
}

// loadPager loads an existing database
func loadPager(file *os.File, cacheSize int, log zerolog.Logger, met *metrics.Registry) (*Pager, error) {
	pager := &Pager{file: file}

	metadata, err := pager.readMetadata()
	if err != nil {
		file.Close()
		return nil, err
	}
	pager.metadata = metadata

	if err := pager.initPool(cacheSize, log, met); err != nil {
		file.Close()
		return nil, err
	}

	return pager, nil
}

// readMetadata reads the metadata from page 0
func (p *Pager) readMetadata() (*Metadata, error) {
	data := make([]byte, PageSize)
	n, err := p.file.ReadAt(data, 0)
	if err != nil {
		return nil, err
	}
	if n != PageSize {
		return nil, ErrInvalidDatabase
	}

	meta := &Metadata{
		Magic:       binary.BigEndian.Uint32(data[MetadataOffsetMagic:]),
		RootPageID:  binary.BigEndian.Uint32(data[MetadataOffsetRoot:]),
		NumPages:    binary.BigEndian.Uint32(data[MetadataOffsetNumPage:]),
		FreeListPtr: binary.BigEndian.Uint32(data[MetadataOffsetFreeList:]),
	}

	if meta.Magic != MetadataMagic {
		return nil, ErrInvalidDatabase
	}

	meta.Unique = data[MetadataOffsetUnique] != 0
	meta.NullOrder = data[MetadataOffsetNullOrder]
	numCols := int(data[MetadataOffsetNumKeyCols])
	if numCols > MaxKeyColumns {
		numCols = MaxKeyColumns
	}
	meta.KeyColumnKind = append([]byte(nil), data[MetadataOffsetKindsBuf:MetadataOffsetKindsBuf+numCols]...)
	meta.NumKeys = int64(binary.BigEndian.Uint64(data[MetadataOffsetNumKeys:]))

	identLen := int(binary.BigEndian.Uint16(data[MetadataOffsetIdentLen:]))
	if identLen > MaxIdentityLen {
		identLen = MaxIdentityLen
	}
	meta.Identity = string(data[MetadataOffsetIdent : MetadataOffsetIdent+identLen])

	return meta, nil
}

// writeMetadata writes the metadata to page 0
func (p *Pager) writeMetadata() error {
	data := make([]byte, PageSize)
	binary.BigEndian.PutUint32(data[MetadataOffsetMagic:], p.metadata.Magic)
	binary.BigEndian.PutUint32(data[MetadataOffsetRoot:], p.metadata.RootPageID)
	binary.BigEndian.PutUint32(data[MetadataOffsetNumPage:], p.metadata.NumPages)
	binary.BigEndian.PutUint32(data[MetadataOffsetFreeList:], p.metadata.FreeListPtr)

	if p.metadata.Unique {
		data[MetadataOffsetUnique] = 1
	}
	data[MetadataOffsetNullOrder] = p.metadata.NullOrder
	numCols := len(p.metadata.KeyColumnKind)
	if numCols > MaxKeyColumns {
		numCols = MaxKeyColumns
	}
	data[MetadataOffsetNumKeyCols] = byte(numCols)
	copy(data[MetadataOffsetKindsBuf:], p.metadata.KeyColumnKind[:numCols])
	binary.BigEndian.PutUint64(data[MetadataOffsetNumKeys:], uint64(p.metadata.NumKeys))

	identity := p.metadata.Identity
	if len(identity) > MaxIdentityLen {
		identity = identity[:MaxIdentityLen]
	}
	binary.BigEndian.PutUint16(data[MetadataOffsetIdentLen:], uint16(len(identity)))
	copy(data[MetadataOffsetIdent:], identity)

	_, err := p.file.WriteAt(data, 0)
	if err == nil {
		p.stats.pageWrites++
		p.stats.bytesWritten += int64(PageSize)
	}
	return err
}

// ReadPage implements bufferpool.Backend by reading a page's raw bytes
// directly off the file, bypassing the pool (the pool calls this only
// on a miss).
func (p *Pager) ReadPage(id uint32) ([]byte, error) {
	p.mu.RLock()
	numPages := p.metadata.NumPages
	p.mu.RUnlock()

	if id >= numPages {
		return nil, errors.New("page ID out of bounds")
	}

	offset := int64(id) * PageSize
	data := make([]byte, PageSize)
	n, err := p.file.ReadAt(data, offset)
	if err != nil {
		return nil, err
	}
	if n != PageSize {
		return nil, errors.New("incomplete page read")
	}

	p.mu.Lock()
	p.stats.pageReads++
	p.mu.Unlock()

	return data, nil
}

// WritePage implements bufferpool.Backend.
func (p *Pager) WritePage(id uint32, data []byte) error {
	offset := int64(id) * PageSize
	_, err := p.file.WriteAt(data, offset)
	if err == nil {
		p.mu.Lock()
		p.stats.pageWrites++
		p.stats.bytesWritten += int64(PageSize)
		p.mu.Unlock()
	}
	return err
}

// AllocatePage implements bufferpool.Backend: reserves the next page id
// and extends the file with a zeroed page so a subsequent ReadPage (the
// pool pins every page it hands out, including freshly allocated ones)
// finds real bytes instead of hitting EOF. A free-list head is kept in
// metadata, but nothing ever pushes onto FreeListPtr (FreePage below
// does nothing), so freed page ids are never reused.
func (p *Pager) AllocatePage() (uint32, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrDatabaseClosed
	}
	id := p.metadata.NumPages
	p.metadata.NumPages++
	p.mu.Unlock()

	var zero [PageSize]byte
	if _, err := p.file.WriteAt(zero[:], int64(id)*PageSize); err != nil {
		return 0, err
	}
	return id, nil
}

// GetPage loads a page from the buffer pool, copies it into an
// independently-owned *Page, and releases the pin immediately. The copy
// is safe because Page never aliases pool-frame memory, so a later
// eviction of the frame can't corrupt a Page a caller still holds.
func (p *Pager) GetPage(pageID uint32) (*Page, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrDatabaseClosed
	}

	fr, err := p.pool.Pin(pageID)
	if err != nil {
		return nil, err
	}
	page, err := LoadPage(pageID, fr.Data)
	if uerr := p.pool.Unpin(pageID, false); uerr != nil && err == nil {
		err = uerr
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

// NewPage allocates a new page via the buffer pool and returns it
// dirty.
func (p *Pager) NewPage(pageType byte) (*Page, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrDatabaseClosed
	}

	fr, err := p.pool.Allocate()
	if err != nil {
		return nil, err
	}

	page := NewPage(fr.ID, pageType)
	copy(fr.Data, page.Data())

	if err := p.pool.Unpin(fr.ID, true); err != nil {
		return nil, err
	}
	return page, nil
}

// MarkDirty writes page's current bytes back into its buffer pool frame
// and marks it dirty, pinning only for the duration of the copy.
func (p *Pager) MarkDirty(page *Page) error {
	fr, err := p.pool.Pin(page.ID())
	if err != nil {
		return err
	}
	copy(fr.Data, page.Data())
	return p.pool.Unpin(page.ID(), true)
}

// KeyHeader returns the persisted typed-key header (comparator identity,
// null order, unique flag, key column kinds), set once by tree.go at
// creation and checked on every reopen.
func (p *Pager) KeyHeader() (unique bool, nullOrder byte, identity string, kinds []byte) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metadata.Unique, p.metadata.NullOrder, p.metadata.Identity, append([]byte(nil), p.metadata.KeyColumnKind...)
}

// SetKeyHeader persists the typed-key header. Only meaningful the first
// time a tree is created; tree.go verifies it matches on reopen rather
// than calling this again.
func (p *Pager) SetKeyHeader(unique bool, nullOrder byte, identity string, kinds []byte) error {
	p.mu.Lock()
	p.metadata.Unique = unique
	p.metadata.NullOrder = nullOrder
	p.metadata.Identity = identity
	p.metadata.KeyColumnKind = append([]byte(nil), kinds...)
	p.mu.Unlock()
	return p.writeMetadata()
}

// NumKeysHeader returns the persisted key count.
func (p *Pager) NumKeysHeader() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metadata.NumKeys
}

// SetNumKeysHeader persists the key count. Called on Sync/Close by
// tree.go, not on every Insert/Delete (matches the teacher's metadata-
// write-amplification avoidance: metadata is flushed on Sync/Close, not
// per-operation).
func (p *Pager) SetNumKeysHeader(n int64) error {
	p.mu.Lock()
	p.metadata.NumKeys = n
	p.mu.Unlock()
	return p.writeMetadata()
}

// FreePage does nothing: the page's frame stays in the buffer pool and
// the page id is not put on a free list (see AllocatePage).
func (p *Pager) FreePage(pageID uint32) {
	// Dropping the pin-free frame here would require a pool API to evict
	// without flushing; since callers only free pages whose cells were
	// already merged elsewhere, leaving the stale frame in the pool
	// (it will be overwritten on next read of a reused id, once free-list
	// reuse lands) is harmless.
}

// Flush writes a single page's frame back to disk if dirty.
func (p *Pager) Flush(pageID uint32) error {
	return p.pool.Flush(pageID)
}

// Sync flushes dirty pages and metadata, then fsyncs the file.
func (p *Pager) Sync() error {
	if err := p.pool.FlushAll(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrDatabaseClosed
	}

	if err := p.writeMetadata(); err != nil {
		return err
	}

	return p.file.Sync()
}

// RootPageID returns the current root page ID
func (p *Pager) RootPageID() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metadata.RootPageID
}

// SetRootPageID sets the root page ID
func (p *Pager) SetRootPageID(pageID uint32) error {
	p.mu.Lock()
	p.metadata.RootPageID = pageID
	p.mu.Unlock()
	return p.writeMetadata()
}

// NumPages returns the total number of pages
func (p *Pager) NumPages() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metadata.NumPages
}

// Close flushes all dirty pages and closes the database
func (p *Pager) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.pool.FlushAll(); err != nil {
		return err
	}

	if err := p.writeMetadata(); err != nil {
		return err
	}

	if err := p.file.Sync(); err != nil {
		return err
	}

	return p.file.Close()
}
