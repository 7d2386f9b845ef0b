package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/relational/dbcore/internal/metrics"
	"github.com/rs/zerolog"
)

var (
	errShortBuffer      = errors.New("wal: short buffer")
	errChecksumMismatch = errors.New("wal: checksum mismatch")

	magic   = [4]byte{'D', 'W', 'A', 'L'}
	version = uint32(1)
)

const headerSize = 8 // magic(4) + version(4)

// segment is one rotated WAL file. Segments roll over at Config size
// (spec §6: "Segments roll over at a configurable size").
type segment struct {
	id     uint64
	path   string
	file   *os.File
	minLSN uint64 // LSN of the first record in this segment
	maxLSN uint64 // LSN of the last record appended so far
	size   int64
}

// Config configures a WAL instance.
type Config struct {
	Dir         string
	SegmentSize int64 // bytes; spec §6 wal_segment_size
}

// WAL is the engine-level write-ahead log described by spec §4.3.
// Append is monotonic and single-writer (protected by mu, spec §5:
// "single append-mutex for WAL"); FlushTo fsyncs the segments holding
// up to the requested LSN; Truncate deletes segments that are entirely
// below a checkpoint's minimum active LSN.
type WAL struct {
	cfg Config
	log zerolog.Logger
	met *metrics.Registry

	mu       sync.Mutex
	segments []*segment
	active   *segment
	nextLSN  uint64 // next LSN to assign
	flushed  atomic.Uint64
}

// Open creates or reopens a WAL directory, picking up the highest
// existing LSN so Append continues the sequence monotonically.
func Open(cfg Config, log zerolog.Logger, met *metrics.Registry) (*WAL, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 * 1024 * 1024
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: mkdir %s: %w", cfg.Dir, err)
	}
	if met == nil {
		met = metrics.Noop()
	}

	w := &WAL{cfg: cfg, log: log, met: met, nextLSN: 1}

	existing, err := discoverSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	w.segments = existing

	if len(w.segments) == 0 {
		seg, err := w.createSegment(1)
		if err != nil {
			return nil, err
		}
		w.segments = append(w.segments, seg)
		w.active = seg
		return w, nil
	}

	w.active = w.segments[len(w.segments)-1]
	if err := w.rebuildLSNState(); err != nil {
		return nil, err
	}
	return w, nil
}

func discoverSegments(dir string) ([]*segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("wal: read dir %s: %w", dir, err)
	}
	var segs []*segment
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var id uint64
		if _, err := fmt.Sscanf(e.Name(), "wal-%d.log", &id); err != nil {
			continue
		}
		path := filepath.Join(dir, e.Name())
		f, err := os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("wal: open segment %s: %w", path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		segs = append(segs, &segment{id: id, path: path, file: f, size: info.Size()})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })
	return segs, nil
}

func (w *WAL) createSegment(id uint64) (*segment, error) {
	path := filepath.Join(w.cfg.Dir, fmt.Sprintf("wal-%d.log", id))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: create segment %s: %w", path, err)
	}
	hdr := make([]byte, headerSize)
	copy(hdr[0:4], magic[:])
	leUint32(hdr[4:8], version)
	if _, err := f.WriteAt(hdr, 0); err != nil {
		f.Close()
		return nil, err
	}
	return &segment{id: id, path: path, file: f, size: headerSize}, nil
}

func leUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// rebuildLSNState scans every segment to recover nextLSN and each
// segment's [minLSN, maxLSN] bookkeeping after a reopen.
func (w *WAL) rebuildLSNState() error {
	var maxSeen uint64
	for _, seg := range w.segments {
		recs, err := readSegment(seg.path)
		if err != nil {
			return err
		}
		if len(recs) > 0 {
			seg.minLSN = recs[0].LSN
			seg.maxLSN = recs[len(recs)-1].LSN
			if seg.maxLSN > maxSeen {
				maxSeen = seg.maxLSN
			}
		}
		info, err := seg.file.Stat()
		if err != nil {
			return err
		}
		seg.size = info.Size()
	}
	w.nextLSN = maxSeen + 1
	w.flushed.Store(maxSeen)
	return nil
}

// Append assigns the next LSN to rec, writes it to the active segment
// and returns the assigned LSN. It does not fsync — callers decide
// flush cadence via FlushTo according to the configured fsync mode
// (spec §6 wal_fsync_mode).
func (w *WAL) Append(rec Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec.LSN = w.nextLSN
	w.nextLSN++

	encoded := rec.encode()
	if w.active.size+int64(len(encoded)) > w.cfg.SegmentSize && w.active.maxLSN != 0 {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}

	if _, err := w.active.file.WriteAt(encoded, w.active.size); err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}
	w.active.size += int64(len(encoded))
	if w.active.minLSN == 0 {
		w.active.minLSN = rec.LSN
	}
	w.active.maxLSN = rec.LSN

	w.met.WALAppends.Inc()
	w.met.WALBytes.Add(float64(len(encoded)))
	w.log.Debug().Uint64("lsn", rec.LSN).Uint64("txn_id", rec.TxnID).Str("kind", rec.Kind.String()).Msg("wal append")

	return rec.LSN, nil
}

func (w *WAL) rotateLocked() error {
	seg, err := w.createSegment(w.active.id + 1)
	if err != nil {
		return err
	}
	w.segments = append(w.segments, seg)
	w.active = seg
	return nil
}

// FlushTo fsyncs every segment holding an LSN <= upTo. A commit is
// durable only once its LSN is within the flushed prefix (spec §4.3,
// §5: "A commit is visible only after its WAL record is durable").
func (w *WAL) FlushTo(upTo uint64) error {
	w.mu.Lock()
	segs := append([]*segment(nil), w.segments...)
	w.mu.Unlock()

	for _, seg := range segs {
		if seg.maxLSN == 0 || seg.minLSN > upTo {
			continue
		}
		if err := seg.file.Sync(); err != nil {
			return fmt.Errorf("wal: fsync segment %d: %w", seg.id, err)
		}
	}
	if cur := w.flushed.Load(); upTo > cur {
		w.flushed.Store(upTo)
	}
	w.met.WALFlushes.Inc()
	return nil
}

// Flushed returns the highest LSN known to be durable.
func (w *WAL) Flushed() uint64 { return w.flushed.Load() }

// NextLSN previews the LSN the next Append will assign.
func (w *WAL) NextLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextLSN
}

// Truncate deletes every fully-covered segment below upTo — safe only
// once a checkpoint has recorded upTo as the oldest LSN any active
// transaction or dirty page still needs (spec §4.3: "checkpoints
// record the min active LSN enabling earlier segments to be truncated").
func (w *WAL) Truncate(upTo uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.segments[:0:0]
	for _, seg := range w.segments {
		if seg == w.active || seg.maxLSN == 0 || seg.maxLSN > upTo {
			kept = append(kept, seg)
			continue
		}
		if err := seg.file.Close(); err != nil {
			return err
		}
		if err := os.Remove(seg.path); err != nil {
			return err
		}
		w.log.Debug().Uint64("segment", seg.id).Msg("wal segment truncated")
	}
	w.segments = kept
	return nil
}

// Replay invokes apply, in LSN order, for every record with LSN >= from.
// Used by recovery's Analysis and Redo phases (spec §4.3).
func (w *WAL) Replay(from uint64, apply func(Record) error) error {
	w.mu.Lock()
	segs := append([]*segment(nil), w.segments...)
	w.mu.Unlock()

	for _, seg := range segs {
		recs, err := readSegment(seg.path)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if r.LSN < from {
				continue
			}
			if err := apply(*r); err != nil {
				return err
			}
		}
	}
	return nil
}

// readSegment parses every record out of a segment file, stopping (but
// not failing) at the first truncated trailing record — the shape a
// torn write during a crash leaves behind.
func readSegment(path string) ([]*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wal: read segment %s: %w", path, err)
	}
	if len(data) < headerSize || string(data[0:4]) != string(magic[:]) {
		return nil, fmt.Errorf("wal: segment %s: %w", path, errShortBuffer)
	}

	var records []*Record
	off := headerSize
	for off < len(data) {
		rec, n, err := decodeRecord(data[off:])
		if err != nil {
			// Torn trailing write from a crash mid-append; everything
			// before it is still valid committed-to-disk history.
			break
		}
		records = append(records, rec)
		off += n
	}
	return records, nil
}

// Close fsyncs and closes every open segment file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for _, seg := range w.segments {
		if err := seg.file.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := seg.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
