package wal

import (
	"os"
	"testing"

	"github.com/relational/dbcore/internal/dblog"
)

func newTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "dbcore-wal-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	w, err := Open(Config{Dir: dir, SegmentSize: 4096}, dblog.Nop(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return w, dir
}

func TestAppendAssignsMonotonicLSNs(t *testing.T) {
	w, _ := newTestWAL(t)
	defer w.Close()

	var last uint64
	for i := 0; i < 10; i++ {
		lsn, err := w.Append(Record{TxnID: 1, Kind: KindInsert, Payload: []byte("row")})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if lsn <= last {
			t.Fatalf("LSN not monotonic: %d after %d", lsn, last)
		}
		last = lsn
	}
}

func TestReplayReturnsRecordsInOrder(t *testing.T) {
	w, _ := newTestWAL(t)
	defer w.Close()

	var lsns []uint64
	for i := 0; i < 5; i++ {
		lsn, err := w.Append(Record{TxnID: 7, Kind: KindUpdate, Payload: []byte{byte(i)}})
		if err != nil {
			t.Fatal(err)
		}
		lsns = append(lsns, lsn)
	}

	var seen []uint64
	err := w.Replay(0, func(r Record) error {
		seen = append(seen, r.LSN)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(seen) != len(lsns) {
		t.Fatalf("expected %d records, got %d", len(lsns), len(seen))
	}
	for i, l := range lsns {
		if seen[i] != l {
			t.Errorf("record %d: expected lsn %d, got %d", i, l, seen[i])
		}
	}
}

func TestFlushToAdvancesFlushed(t *testing.T) {
	w, _ := newTestWAL(t)
	defer w.Close()

	lsn, err := w.Append(Record{TxnID: 1, Kind: KindCommit})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.FlushTo(lsn); err != nil {
		t.Fatalf("FlushTo: %v", err)
	}
	if w.Flushed() < lsn {
		t.Errorf("expected flushed >= %d, got %d", lsn, w.Flushed())
	}
}

func TestSegmentRollover(t *testing.T) {
	w, dir := newTestWAL(t)
	defer w.Close()

	big := make([]byte, 512)
	for i := 0; i < 64; i++ {
		if _, err := w.Append(Record{TxnID: 1, Kind: KindInsert, Payload: big}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected segment rollover to produce >1 files, got %d", len(entries))
	}
}

func TestTruncateRemovesFullyCoveredSegments(t *testing.T) {
	w, dir := newTestWAL(t)
	defer w.Close()

	big := make([]byte, 512)
	var lastLSN uint64
	for i := 0; i < 64; i++ {
		lsn, err := w.Append(Record{TxnID: 1, Kind: KindInsert, Payload: big})
		if err != nil {
			t.Fatal(err)
		}
		lastLSN = lsn
	}

	before, _ := os.ReadDir(dir)
	if err := w.Truncate(lastLSN); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	after, _ := os.ReadDir(dir)
	if len(after) >= len(before) {
		t.Fatalf("expected truncate to remove segments: before=%d after=%d", len(before), len(after))
	}
}

func TestReopenContinuesLSNSequence(t *testing.T) {
	dir, err := os.MkdirTemp("", "dbcore-wal-reopen-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	w, err := Open(Config{Dir: dir, SegmentSize: 4096}, dblog.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	lsn1, err := w.Append(Record{TxnID: 1, Kind: KindBegin})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	w2, err := Open(Config{Dir: dir, SegmentSize: 4096}, dblog.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w2.Close()
	lsn2, err := w2.Append(Record{TxnID: 1, Kind: KindCommit})
	if err != nil {
		t.Fatal(err)
	}
	if lsn2 <= lsn1 {
		t.Fatalf("expected lsn2 > lsn1, got lsn1=%d lsn2=%d", lsn1, lsn2)
	}
}
