package index

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/leftmike/kvtx/field"
)

// Op tags a pending index mutation. A staged operation is always paired
// with the row's primary key, never the tuple itself.
type Op byte

const (
	Insert Op = 1
	Delete Op = 2
)

func (op Op) String() string {
	switch op {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("Op(%d)", byte(op))
}

// Key is the composite ordered key of a secondary index: the projected
// field values of the indexed columns, the version of the writer, and a
// tie-breaker. Staged (not yet persisted) entries carry MaxVersion so they
// order after any persisted entry with the same projection.
type Key struct {
	Fields   []field.Field
	Version  uint64
	TieBreak uint32
}

const MaxVersion = uint64(math.MaxUint64)

// SentinelKey is the reserved maximal key: it compares greater than every
// real key and bounds iteration from above.
func SentinelKey() Key {
	return Key{Version: MaxVersion}
}

func (k Key) IsSentinel() bool {
	return len(k.Fields) == 0 && k.Version == MaxVersion && k.TieBreak == 0
}

// Value is what an index stores per key: the operation and the row's
// primary key.
type Value struct {
	Op     Op
	RowKey uint64
}

// CompareFields orders two projections lexicographically.
func CompareFields(f1, f2 []field.Field) int {
	for i := 0; i < len(f1) && i < len(f2); i++ {
		if cmp := field.Compare(f1[i], f2[i]); cmp != 0 {
			return cmp
		}
	}
	if len(f1) < len(f2) {
		return -1
	} else if len(f1) > len(f2) {
		return 1
	}
	return 0
}

// Compare orders keys by projection, then version ascending, then
// tie-breaker. The sentinel key orders after everything else.
func Compare(k1, k2 Key) int {
	s1 := k1.IsSentinel()
	s2 := k2.IsSentinel()
	if s1 || s2 {
		if s1 && s2 {
			return 0
		} else if s1 {
			return 1
		}
		return -1
	}

	if cmp := CompareFields(k1.Fields, k2.Fields); cmp != 0 {
		return cmp
	}
	if k1.Version < k2.Version {
		return -1
	} else if k1.Version > k2.Version {
		return 1
	}
	if k1.TieBreak < k2.TieBreak {
		return -1
	} else if k1.TieBreak > k2.TieBreak {
		return 1
	}
	return 0
}

func (k Key) Encode(buf []byte) []byte {
	buf = encodeUint32(buf, uint32(len(k.Fields)))
	for _, f := range k.Fields {
		buf = f.Encode(buf)
	}
	buf = encodeUint64(buf, k.Version)
	return encodeUint32(buf, k.TieBreak)
}

func DecodeKey(buf []byte) (Key, []byte, bool) {
	n, buf, ok := decodeUint32(buf)
	if !ok {
		return Key{}, nil, false
	}

	var k Key
	for i := uint32(0); i < n; i++ {
		var f field.Field
		f, buf, ok = field.Decode(buf)
		if !ok {
			return Key{}, nil, false
		}
		k.Fields = append(k.Fields, f)
	}

	if len(buf) < 12 {
		return Key{}, nil, false
	}
	k.Version = binary.BigEndian.Uint64(buf)
	k.TieBreak = binary.BigEndian.Uint32(buf[8:])
	return k, buf[12:], true
}

func (v Value) Encode(buf []byte) []byte {
	buf = append(buf, byte(v.Op))
	return encodeUint64(buf, v.RowKey)
}

func DecodeValue(buf []byte) (Value, []byte, bool) {
	if len(buf) < 9 {
		return Value{}, nil, false
	}
	v := Value{
		Op:     Op(buf[0]),
		RowKey: binary.BigEndian.Uint64(buf[1:]),
	}
	if v.Op != Insert && v.Op != Delete {
		return Value{}, nil, false
	}
	return v, buf[9:], true
}

func encodeUint32(buf []byte, u uint32) []byte {
	return append(buf, byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

func decodeUint32(buf []byte) (uint32, []byte, bool) {
	if len(buf) < 4 {
		return 0, nil, false
	}
	return binary.BigEndian.Uint32(buf), buf[4:], true
}

func encodeUint64(buf []byte, u uint64) []byte {
	return append(buf, byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
		byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}
