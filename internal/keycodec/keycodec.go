// Package keycodec packs and unpacks the order-preserving tuple encoding
// every persisted key uses: a per-object prefix followed by a sequence of
// typed segments, optionally terminated by a BEFORE/AFTER edge byte, plus
// strinc for forming right-exclusive whole-object upper bounds.
//
// Byte layout per segment, chosen so that lexicographic byte order of the
// whole encoded tuple matches the intended logical order of the decoded
// segments (spec.md §4.1, invariant 2):
//
//	tag byte | payload
//	0x00       null segment, no payload
//	0x01       int64 segment: 8 bytes, big-endian, with the sign bit
//	           flipped so negative values sort before positive ones
//	0x02       string segment: escaped bytes terminated by 0x00 0x00
//	0x03       bytes segment: escaped bytes terminated by 0x00 0x00
//
// String/bytes segments use the classic 0x00 -> 0x00 0xFF escape so the
// 0x00 0x00 terminator cannot appear inside a payload and ordering is
// preserved.
package keycodec

import (
	"bytes"
	"encoding/binary"

	"github.com/relionsql/kvadapter/internal/errors"
	"github.com/relionsql/kvadapter/internal/model"
)

const (
	tagNull   byte = 0x00
	tagInt    byte = 0x01
	tagString byte = 0x02
	tagBytes  byte = 0x03

	edgeBefore byte = 0x00
	edgeAfter  byte = 0xff
)

// Pack encodes prefix followed by the tuple-encoded key, optionally
// appending an edge byte (model.BEFORE/model.AFTER).
func Pack(prefix []byte, key *model.Key, edge model.Edge) []byte {
	var buf bytes.Buffer
	buf.Write(prefix)
	for _, seg := range key.Segments {
		writeSegment(&buf, seg)
	}
	switch edge {
	case model.BEFORE:
		buf.WriteByte(edgeBefore)
	case model.AFTER:
		buf.WriteByte(edgeAfter)
	}
	return buf.Bytes()
}

// PackPrefix encodes just the object prefix, i.e. Pack(prefix, emptyKey,
// NoEdge) — the whole-object scan's lower bound.
func PackPrefix(prefix []byte) []byte {
	return append([]byte{}, prefix...)
}

func writeSegment(buf *bytes.Buffer, seg model.Segment) {
	switch seg.Kind {
	case model.SegmentNull:
		buf.WriteByte(tagNull)
	case model.SegmentInt:
		buf.WriteByte(tagInt)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(seg.Int)^(1<<63))
		buf.Write(b[:])
	case model.SegmentString:
		buf.WriteByte(tagString)
		writeEscaped(buf, []byte(seg.Str))
	case model.SegmentBytes:
		buf.WriteByte(tagBytes)
		writeEscaped(buf, seg.Bytes)
	}
}

func writeEscaped(buf *bytes.Buffer, payload []byte) {
	for _, b := range payload {
		if b == 0x00 {
			buf.WriteByte(0x00)
			buf.WriteByte(0xff)
		} else {
			buf.WriteByte(b)
		}
	}
	buf.WriteByte(0x00)
	buf.WriteByte(0x00)
}

func readEscaped(data []byte, pos int) ([]byte, int, error) {
	var out []byte
	for {
		if pos >= len(data) {
			return nil, 0, errors.CorruptKey("truncated string/bytes segment", nil)
		}
		if data[pos] == 0x00 {
			if pos+1 >= len(data) {
				return nil, 0, errors.CorruptKey("truncated escape sequence", nil)
			}
			switch data[pos+1] {
			case 0x00:
				return out, pos + 2, nil
			case 0xff:
				out = append(out, 0x00)
				pos += 2
				continue
			default:
				return nil, 0, errors.CorruptKey("invalid escape sequence", nil)
			}
		}
		out = append(out, data[pos])
		pos++
	}
}

// Unpack strips prefix from data, decodes the tuple, and materializes a
// fresh Key at depth = number of decoded segments. Returns CorruptKey if
// the prefix doesn't match or a segment is malformed.
func Unpack(prefix, data []byte) (*model.Key, error) {
	if len(data) < len(prefix) || !bytes.Equal(data[:len(prefix)], prefix) {
		return nil, errors.CorruptKey("key does not start with expected prefix", nil)
	}
	rest := data[len(prefix):]

	key := model.NewKey()
	pos := 0
	for pos < len(rest) {
		tag := rest[pos]
		pos++
		switch tag {
		case tagNull:
			key.Append(model.NullSegment())
		case tagInt:
			if pos+8 > len(rest) {
				return nil, errors.CorruptKey("truncated int segment", nil)
			}
			raw := binary.BigEndian.Uint64(rest[pos : pos+8])
			key.Append(model.IntSegment(int64(raw ^ (1 << 63))))
			pos += 8
		case tagString:
			s, next, err := readEscaped(rest, pos)
			if err != nil {
				return nil, err
			}
			key.Append(model.StringSegment(string(s)))
			pos = next
		case tagBytes:
			b, next, err := readEscaped(rest, pos)
			if err != nil {
				return nil, err
			}
			key.Append(model.BytesSegment(b))
			pos = next
		default:
			return nil, errors.CorruptKey("unrecognized segment tag", nil)
		}
	}
	return key, nil
}

// Strinc returns the smallest byte string strictly greater than every
// string with the given prefix: the last non-0xff byte incremented by
// one, with all trailing 0xff bytes dropped. Panics (an
// InternalInvariantViolation condition) only if prefix is all 0xff bytes,
// which cannot happen for a directory-allocated prefix.
func Strinc(prefix []byte) []byte {
	out := append([]byte{}, prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	panic(errors.InternalInvariantViolation("strinc: prefix is all 0xFF bytes"))
}
