// Package wal implements the engine-level write-ahead log (spec §4.3,
// §6). It generalizes the teacher's btree/wal.go — a physical,
// CRC32-protected, header-plus-records file — from single-page byte
// patches to the logical record kinds a transaction manager needs:
// Begin, Insert, Update, Delete, IndexOp, StructuralMod, Commit, Abort
// and Checkpoint. Every durable mutation in dbcore (row changes, B+
// tree structural modifications) is logged here before it touches a
// data page, the WAL-before-data rule spec §4.2 and §4.3 both require.
package wal

import (
	"encoding/binary"
	"hash/crc32"
)

// Kind identifies the logical meaning of a WAL record (spec §4.3).
type Kind uint8

const (
	KindBegin Kind = iota + 1
	KindInsert
	KindUpdate
	KindDelete
	KindIndexOp
	KindStructuralMod
	KindCommit
	KindAbort
	KindCheckpoint
)

func (k Kind) String() string {
	switch k {
	case KindBegin:
		return "Begin"
	case KindInsert:
		return "Insert"
	case KindUpdate:
		return "Update"
	case KindDelete:
		return "Delete"
	case KindIndexOp:
		return "IndexOp"
	case KindStructuralMod:
		return "StructuralMod"
	case KindCommit:
		return "Commit"
	case KindAbort:
		return "Abort"
	case KindCheckpoint:
		return "Checkpoint"
	default:
		return "Unknown"
	}
}

// Record is a single WAL entry, matching the wire layout in spec §6:
// {lsn:u64, prev_lsn:u64, txn_id:u64, kind:u8, len:u32, payload:bytes, crc32:u32}.
// PrevLSN chains a transaction's records for undo (spec §4.3 phase 3),
// lowest-first; it is 0 for a transaction's Begin record.
type Record struct {
	LSN     uint64
	PrevLSN uint64
	TxnID   uint64
	Kind    Kind
	Payload []byte
}

const recordHeaderSize = 8 + 8 + 8 + 1 + 4 // lsn + prev_lsn + txn_id + kind + len
const recordTrailerSize = 4                // crc32

// encodedSize returns the number of bytes Record occupies on disk.
func (r *Record) encodedSize() int {
	return recordHeaderSize + len(r.Payload) + recordTrailerSize
}

func (r *Record) encode() []byte {
	buf := make([]byte, r.encodedSize())
	binary.LittleEndian.PutUint64(buf[0:8], r.LSN)
	binary.LittleEndian.PutUint64(buf[8:16], r.PrevLSN)
	binary.LittleEndian.PutUint64(buf[16:24], r.TxnID)
	buf[24] = byte(r.Kind)
	binary.LittleEndian.PutUint32(buf[25:29], uint32(len(r.Payload)))
	copy(buf[29:29+len(r.Payload)], r.Payload)

	crc := crc32.ChecksumIEEE(buf[:29+len(r.Payload)])
	binary.LittleEndian.PutUint32(buf[29+len(r.Payload):], crc)
	return buf
}

// decodeRecord parses a record out of buf, which must contain at least
// the header. It returns the record and the number of bytes consumed.
func decodeRecord(buf []byte) (*Record, int, error) {
	if len(buf) < recordHeaderSize {
		return nil, 0, errShortBuffer
	}
	length := binary.LittleEndian.Uint32(buf[25:29])
	total := recordHeaderSize + int(length) + recordTrailerSize
	if len(buf) < total {
		return nil, 0, errShortBuffer
	}

	r := &Record{
		LSN:     binary.LittleEndian.Uint64(buf[0:8]),
		PrevLSN: binary.LittleEndian.Uint64(buf[8:16]),
		TxnID:   binary.LittleEndian.Uint64(buf[16:24]),
		Kind:    Kind(buf[24]),
	}
	if length > 0 {
		r.Payload = make([]byte, length)
		copy(r.Payload, buf[29:29+length])
	}

	wantCRC := binary.LittleEndian.Uint32(buf[recordHeaderSize+int(length):total])
	gotCRC := crc32.ChecksumIEEE(buf[:recordHeaderSize+int(length)])
	if wantCRC != gotCRC {
		return nil, 0, errChecksumMismatch
	}

	return r, total, nil
}
