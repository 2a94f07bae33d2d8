package field

import (
	"bytes"
	"fmt"
	"math"
)

type Type byte

// Wire tags. The tag byte is the first byte of every encoded field and
// determines the payload layout.
const (
	NoType   Type = 0
	Null     Type = 1
	SmallInt Type = 2 // 2 bytes, signed
	Int      Type = 3 // 4 bytes, signed
	BigInt   Type = 4 // 8 bytes, signed
	Float    Type = 5 // 4 bytes, IEEE-754
	Double   Type = 6 // 8 bytes, IEEE-754
	Text     Type = 7 // 4 byte length followed by raw bytes
	Blob     Type = 8 // 4 byte length followed by raw bytes
)

func (t Type) String() string {
	switch t {
	case NoType:
		return "NOTYPE"
	case Null:
		return "NULL"
	case SmallInt:
		return "SMALLINT"
	case Int:
		return "INT"
	case BigInt:
		return "BIGINT"
	case Float:
		return "FLOAT"
	case Double:
		return "DOUBLE"
	case Text:
		return "TEXT"
	case Blob:
		return "BLOB"
	}
	return fmt.Sprintf("Type(%d)", byte(t))
}

// Field is one typed cell value. The zero Field has NoType.
type Field struct {
	typ Type
	i64 int64
	f64 float64
	buf []byte
}

func NewNull() Field {
	return Field{typ: Null}
}

func NewSmallInt(i int16) Field {
	return Field{typ: SmallInt, i64: int64(i)}
}

func NewInt(i int32) Field {
	return Field{typ: Int, i64: int64(i)}
}

func NewBigInt(i int64) Field {
	return Field{typ: BigInt, i64: i}
}

func NewFloat(f float32) Field {
	return Field{typ: Float, f64: float64(f)}
}

func NewDouble(f float64) Field {
	return Field{typ: Double, f64: f}
}

func NewText(s string) Field {
	return Field{typ: Text, buf: []byte(s)}
}

func NewBlob(b []byte) Field {
	return Field{typ: Blob, buf: append([]byte(nil), b...)}
}

func (f Field) Type() Type {
	return f.typ
}

func (f Field) IsNull() bool {
	return f.typ == Null || f.typ == NoType
}

func (f Field) SmallInt() int16 {
	f.mustBe(SmallInt)
	return int16(f.i64)
}

func (f Field) Int() int32 {
	f.mustBe(Int)
	return int32(f.i64)
}

func (f Field) BigInt() int64 {
	f.mustBe(BigInt)
	return f.i64
}

func (f Field) Float() float32 {
	f.mustBe(Float)
	return float32(f.f64)
}

func (f Field) Double() float64 {
	f.mustBe(Double)
	return f.f64
}

func (f Field) Text() string {
	f.mustBe(Text)
	return string(f.buf)
}

// Blob returns a copy; mutating it does not change the field.
func (f Field) Blob() []byte {
	f.mustBe(Blob)
	return append([]byte(nil), f.buf...)
}

func (f Field) mustBe(t Type) {
	if f.typ != t {
		panic(fmt.Sprintf("field: want %s got %s", t, f.typ))
	}
}

func (f Field) String() string {
	switch f.typ {
	case NoType:
		return "<none>"
	case Null:
		return "NULL"
	case SmallInt, Int, BigInt:
		return fmt.Sprintf("%d", f.i64)
	case Float:
		return fmt.Sprintf("%v", float32(f.f64))
	case Double:
		return fmt.Sprintf("%v", f.f64)
	case Text:
		return fmt.Sprintf("'%s'", string(f.buf))
	case Blob:
		return fmt.Sprintf("x'%x'", f.buf)
	}
	panic(fmt.Sprintf("field: unexpected type: %d", byte(f.typ)))
}

func (f Field) Equal(f2 Field) bool {
	if f.typ != f2.typ {
		return false
	}
	switch f.typ {
	case NoType, Null:
		return true
	case SmallInt, Int, BigInt:
		return f.i64 == f2.i64
	case Float, Double:
		return math.Float64bits(f.f64) == math.Float64bits(f2.f64)
	case Text, Blob:
		return bytes.Equal(f.buf, f2.buf)
	}
	panic(fmt.Sprintf("field: unexpected type: %d", byte(f.typ)))
}

func typeClass(t Type) int {
	switch t {
	case NoType, Null:
		return 0
	case SmallInt, Int, BigInt:
		return 1
	case Float, Double:
		return 2
	case Text:
		return 3
	case Blob:
		return 4
	}
	panic(fmt.Sprintf("field: unexpected type: %d", byte(t)))
}

// Compare is the total order used for index keys: nulls first, integers
// numerically across widths, floats numerically across widths, text and
// blob bytewise. Fields of different classes order by class.
func Compare(f1, f2 Field) int {
	c1 := typeClass(f1.typ)
	c2 := typeClass(f2.typ)
	if c1 != c2 {
		if c1 < c2 {
			return -1
		}
		return 1
	}

	switch c1 {
	case 0:
		return 0
	case 1:
		if f1.i64 < f2.i64 {
			return -1
		} else if f1.i64 > f2.i64 {
			return 1
		}
		return 0
	case 2:
		if f1.f64 < f2.f64 {
			return -1
		} else if f1.f64 > f2.f64 {
			return 1
		}
		return 0
	}
	return bytes.Compare(f1.buf, f2.buf)
}
