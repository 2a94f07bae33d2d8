package field

import (
	"encoding/binary"
	"fmt"
	"math"
)

// The binary layout is one tag byte followed by a type dependent payload.
// All multi-byte values are big endian. TEXT and BLOB payloads are a 4 byte
// unsigned length followed by the raw bytes; they may contain any byte value
// and carry no terminator. Persisted index nodes depend on this layout being
// byte exact, so Encode and Decode must be exact inverses for every variant.

// Size returns the number of bytes Encode will append for f.
func (f Field) Size() int {
	switch f.typ {
	case NoType, Null:
		return 1
	case SmallInt:
		return 1 + 2
	case Int:
		return 1 + 4
	case BigInt:
		return 1 + 8
	case Float:
		return 1 + 4
	case Double:
		return 1 + 8
	case Text, Blob:
		return 1 + 4 + len(f.buf)
	}
	panic(fmt.Sprintf("field: unexpected type: %d", byte(f.typ)))
}

// Encode appends the binary form of f to buf.
func (f Field) Encode(buf []byte) []byte {
	buf = append(buf, byte(f.typ))
	switch f.typ {
	case NoType, Null:
	case SmallInt:
		u := uint16(int16(f.i64))
		buf = append(buf, byte(u>>8), byte(u))
	case Int:
		u := uint32(int32(f.i64))
		buf = append(buf, byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
	case BigInt:
		buf = encodeUint64(buf, uint64(f.i64))
	case Float:
		u := math.Float32bits(float32(f.f64))
		buf = append(buf, byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
	case Double:
		buf = encodeUint64(buf, math.Float64bits(f.f64))
	case Text, Blob:
		sz := uint32(len(f.buf))
		buf = append(buf, byte(sz>>24), byte(sz>>16), byte(sz>>8), byte(sz))
		buf = append(buf, f.buf...)
	default:
		panic(fmt.Sprintf("field: unexpected type: %d", byte(f.typ)))
	}
	return buf
}

// Decode parses one field from the front of buf and returns it along with
// the remaining bytes.
func Decode(buf []byte) (Field, []byte, bool) {
	if len(buf) < 1 {
		return Field{}, nil, false
	}
	typ := Type(buf[0])
	buf = buf[1:]

	switch typ {
	case NoType:
		return Field{}, buf, true
	case Null:
		return NewNull(), buf, true
	case SmallInt:
		if len(buf) < 2 {
			return Field{}, nil, false
		}
		return NewSmallInt(int16(binary.BigEndian.Uint16(buf))), buf[2:], true
	case Int:
		if len(buf) < 4 {
			return Field{}, nil, false
		}
		return NewInt(int32(binary.BigEndian.Uint32(buf))), buf[4:], true
	case BigInt:
		if len(buf) < 8 {
			return Field{}, nil, false
		}
		return NewBigInt(int64(binary.BigEndian.Uint64(buf))), buf[8:], true
	case Float:
		if len(buf) < 4 {
			return Field{}, nil, false
		}
		return NewFloat(math.Float32frombits(binary.BigEndian.Uint32(buf))), buf[4:], true
	case Double:
		if len(buf) < 8 {
			return Field{}, nil, false
		}
		return NewDouble(math.Float64frombits(binary.BigEndian.Uint64(buf))), buf[8:], true
	case Text, Blob:
		if len(buf) < 4 {
			return Field{}, nil, false
		}
		sz := binary.BigEndian.Uint32(buf)
		buf = buf[4:]
		if uint32(len(buf)) < sz {
			return Field{}, nil, false
		}
		b := append([]byte(nil), buf[:sz]...)
		if typ == Text {
			return Field{typ: Text, buf: b}, buf[sz:], true
		}
		return Field{typ: Blob, buf: b}, buf[sz:], true
	}

	return Field{}, nil, false
}

func encodeUint64(buf []byte, u uint64) []byte {
	return append(buf, byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
		byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}
