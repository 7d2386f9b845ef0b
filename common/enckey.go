package common

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Order-preserving tag bytes: cross-kind comparisons fall back to this
// fixed relative order (Null, Bool, Int, Float, String), which only
// matters if a column's declared type changes between releases — real
// schemas keep one type per column.
const (
	tagNullFirst byte = 0x00
	tagBool      byte = 0x10
	tagInt       byte = 0x20
	tagFloat     byte = 0x30
	tagString    byte = 0x40
	tagNullLast  byte = 0xFF
)

// EncodeKey renders a Key tuple into a byte string whose lexicographic
// (bytes.Compare) order matches the tuple's logical order under nulls.
// The teacher's btree package never compared anything but raw bytes
// (page.go's searchCell uses bytes.Compare directly); this lets it keep
// doing exactly that while the engine layer works with typed, composite,
// NULL-aware keys (spec §3, §4.1).
func EncodeKey(k Key, nulls NullOrder) []byte {
	var buf bytes.Buffer
	for _, v := range k {
		encodeValue(&buf, v, nulls)
	}
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v Value, nulls NullOrder) {
	if v.IsNull {
		if nulls == NullsFirst {
			buf.WriteByte(tagNullFirst)
		} else {
			buf.WriteByte(tagNullLast)
		}
		return
	}

	switch v.Kind {
	case KindBool:
		buf.WriteByte(tagBool)
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindInt:
		buf.WriteByte(tagInt)
		var b [8]byte
		// Flipping the sign bit makes two's-complement big-endian bytes
		// order the same as signed integer order.
		binary.BigEndian.PutUint64(b[:], uint64(v.Int)^(1<<63))
		buf.Write(b[:])
	case KindFloat:
		buf.WriteByte(tagFloat)
		bits := math.Float64bits(v.Float64)
		if v.Float64 >= 0 {
			bits |= 1 << 63
		} else {
			bits = ^bits
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], bits)
		buf.Write(b[:])
	default: // KindString
		buf.WriteByte(tagString)
		escapeStringInto(buf, v.Str)
		buf.WriteByte(0x00)
		buf.WriteByte(0x00) // terminator: a real 0x00 byte is always escaped to 0x00 0xFF, so 0x00 0x00 is unambiguous
	}
}

func escapeStringInto(buf *bytes.Buffer, s string) {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b == 0x00 {
			buf.WriteByte(0x00)
			buf.WriteByte(0xFF)
			continue
		}
		buf.WriteByte(b)
	}
}

// DecodeKey reverses EncodeKey. kinds gives the declared type of each
// column in order, since NULL and boolean-true/false tags alone don't
// distinguish a column's type from its neighbor's.
func DecodeKey(enc []byte, kinds []ValueKind, nulls NullOrder) (Key, error) {
	k := make(Key, 0, len(kinds))
	off := 0
	for _, kind := range kinds {
		if off >= len(enc) {
			return nil, fmt.Errorf("common: truncated encoded key at column %d", len(k))
		}
		tag := enc[off]
		off++

		if tag == tagNullFirst || tag == tagNullLast {
			k = append(k, NullValue(kind))
			continue
		}

		switch tag {
		case tagBool:
			if off >= len(enc) {
				return nil, fmt.Errorf("common: truncated bool at column %d", len(k))
			}
			k = append(k, BoolValue(enc[off] != 0))
			off++
		case tagInt:
			if off+8 > len(enc) {
				return nil, fmt.Errorf("common: truncated int at column %d", len(k))
			}
			u := binary.BigEndian.Uint64(enc[off : off+8])
			k = append(k, IntValue(int64(u^(1<<63))))
			off += 8
		case tagFloat:
			if off+8 > len(enc) {
				return nil, fmt.Errorf("common: truncated float at column %d", len(k))
			}
			bits := binary.BigEndian.Uint64(enc[off : off+8])
			if bits&(1<<63) != 0 {
				bits &^= 1 << 63
			} else {
				bits = ^bits
			}
			k = append(k, FloatValue(math.Float64frombits(bits)))
			off += 8
		case tagString:
			start := off
			var raw []byte
			for {
				if off+1 >= len(enc) {
					return nil, fmt.Errorf("common: unterminated string at column %d", len(k))
				}
				if enc[off] == 0x00 {
					if enc[off+1] == 0x00 {
						raw = append(raw, enc[start:off]...)
						off += 2
						break
					}
					if enc[off+1] == 0xFF {
						raw = append(raw, enc[start:off]...)
						raw = append(raw, 0x00)
						off += 2
						start = off
						continue
					}
				}
				off++
			}
			k = append(k, StringValue(string(raw)))
		default:
			return nil, fmt.Errorf("common: unknown tag byte 0x%02x at column %d", tag, len(k))
		}
	}
	return k, nil
}
