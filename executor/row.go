// Package executor implements the pull-based operator tree the planner's
// plan trees run against: operator iterators (spec §4.8 "open/next/close"),
// the row heap and index storage each table's operators read and write,
// and the bounded result cache for read-only statements.
package executor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/relational/dbcore/common"
)

// Row tag bytes for the heap's tuple codec. common.EncodeKey/DecodeKey
// (common/enckey.go) already have a byte encoding for column values, but
// it is order-preserving and meant for index keys compared against each
// other; a heap row is addressed by RID, never compared, so this codec
// trades that property away for a simpler, non-escaping layout.
const (
	rowTagNull = iota
	rowTagInt
	rowTagString
	rowTagBool
	rowTagFloat
)

// EncodeRow serializes one row's column values, in table schema order,
// to the bytes stored under its RID in a RowHeap.
func EncodeRow(values []common.Value) []byte {
	var buf []byte
	for _, v := range values {
		if v.IsNull {
			buf = append(buf, rowTagNull)
			continue
		}
		switch v.Kind {
		case common.KindInt:
			buf = append(buf, rowTagInt)
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], uint64(v.Int))
			buf = append(buf, b[:]...)
		case common.KindFloat:
			buf = append(buf, rowTagFloat)
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], math.Float64bits(v.Float64))
			buf = append(buf, b[:]...)
		case common.KindBool:
			buf = append(buf, rowTagBool)
			if v.Bool {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case common.KindString:
			buf = append(buf, rowTagString)
			var lb [4]byte
			binary.BigEndian.PutUint32(lb[:], uint32(len(v.Str)))
			buf = append(buf, lb[:]...)
			buf = append(buf, v.Str...)
		}
	}
	return buf
}

// DecodeRow parses bytes produced by EncodeRow. kinds is the owning
// table's declared column types, in schema order — the same role
// common.DecodeKey's kinds argument plays for index keys.
func DecodeRow(data []byte, kinds []common.ValueKind) ([]common.Value, error) {
	out := make([]common.Value, len(kinds))
	pos := 0
	for i, kind := range kinds {
		if pos >= len(data) {
			return nil, fmt.Errorf("executor: row data truncated before column %d", i)
		}
		tag := data[pos]
		pos++
		if tag == rowTagNull {
			out[i] = common.NullValue(kind)
			continue
		}
		switch tag {
		case rowTagInt:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("executor: row data truncated reading int column %d", i)
			}
			out[i] = common.IntValue(int64(binary.BigEndian.Uint64(data[pos : pos+8])))
			pos += 8
		case rowTagFloat:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("executor: row data truncated reading float column %d", i)
			}
			out[i] = common.FloatValue(math.Float64frombits(binary.BigEndian.Uint64(data[pos : pos+8])))
			pos += 8
		case rowTagBool:
			out[i] = common.BoolValue(data[pos] != 0)
			pos++
		case rowTagString:
			if pos+4 > len(data) {
				return nil, fmt.Errorf("executor: row data truncated reading string length at column %d", i)
			}
			n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
			pos += 4
			if pos+n > len(data) {
				return nil, fmt.Errorf("executor: row data truncated reading string column %d", i)
			}
			out[i] = common.StringValue(string(data[pos : pos+n]))
			pos += n
		default:
			return nil, fmt.Errorf("executor: unknown row tag %d at column %d", tag, i)
		}
	}
	return out, nil
}

// Row is one tuple flowing through the operator tree, tagged with the
// RID it came from when it is still attached to a single base table
// (zero once it has passed through a join, aggregate, or projection).
type Row struct {
	Values []common.Value
	RID    common.RID
}

// Clone returns a Row whose Values slice is safe to mutate without
// aliasing the original — needed by Sort/HashAggregate/Distinct, which
// hold onto rows across Next calls while an upstream operator may be
// reusing its own row buffer.
func (r Row) Clone() Row {
	v := make([]common.Value, len(r.Values))
	copy(v, r.Values)
	return Row{Values: v, RID: r.RID}
}
