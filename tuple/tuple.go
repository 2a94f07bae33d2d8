package tuple

import (
	"fmt"

	"github.com/leftmike/kvtx/field"
)

// Tuple is one row's ordered field values together with the shared schema of
// its table. Access by id is O(1); access by name resolves through the
// schema first.
type Tuple struct {
	sch    *Schema
	fields []field.Field
}

func NewTuple(sch *Schema) *Tuple {
	return &Tuple{
		sch:    sch,
		fields: make([]field.Field, sch.NumFields()),
	}
}

func (t *Tuple) Schema() *Schema {
	return t.sch
}

func (t *Tuple) Field(id int) field.Field {
	return t.fields[id]
}

func (t *Tuple) SetField(id int, f field.Field) {
	t.fields[id] = f
}

func (t *Tuple) FieldByName(name string) (field.Field, bool) {
	id, ok := t.sch.FieldID(name)
	if !ok {
		return field.Field{}, false
	}
	return t.fields[id], true
}

func (t *Tuple) SetFieldByName(name string, f field.Field) error {
	id, ok := t.sch.FieldID(name)
	if !ok {
		return fmt.Errorf("tuple: no such field: %s", name)
	}
	t.fields[id] = f
	return nil
}

// Clone returns a copy sharing the schema; the field values are copied so
// the clone is unaffected by later SetField calls on t.
func (t *Tuple) Clone() *Tuple {
	return &Tuple{
		sch:    t.sch,
		fields: append(make([]field.Field, 0, len(t.fields)), t.fields...),
	}
}

func (t *Tuple) Equal(t2 *Tuple) bool {
	if len(t.fields) != len(t2.fields) {
		return false
	}
	for id := range t.fields {
		if !t.fields[id].Equal(t2.fields[id]) {
			return false
		}
	}
	return true
}

// Encode serializes the tuple's field values through the field codec.
func (t *Tuple) Encode() []byte {
	buf := encodeUint32(nil, uint32(len(t.fields)))
	for _, f := range t.fields {
		buf = f.Encode(buf)
	}
	return buf
}

func DecodeTuple(sch *Schema, buf []byte) (*Tuple, error) {
	n, buf, ok := decodeUint32(buf)
	if !ok || int(n) != sch.NumFields() {
		return nil, fmt.Errorf("tuple: unable to decode tuple: %v", buf)
	}

	t := NewTuple(sch)
	for id := 0; id < int(n); id++ {
		var f field.Field
		f, buf, ok = field.Decode(buf)
		if !ok {
			return nil, fmt.Errorf("tuple: unable to decode field %d", id)
		}
		t.fields[id] = f
	}
	if len(buf) != 0 {
		return nil, fmt.Errorf("tuple: %d trailing bytes decoding tuple", len(buf))
	}
	return t, nil
}
