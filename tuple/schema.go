package tuple

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/leftmike/kvtx/field"
)

// Schema describes the fields of a table: ordered names and types, not null
// flags, and the declared secondary indexes. A Schema is shared by every
// Tuple built for the table and is never mutated after construction.
type Schema struct {
	names   []string
	types   []field.Type
	notNull []bool
	ids     map[string]int
	indexes map[string][]int
}

type SchemaField struct {
	Name    string
	Type    field.Type
	NotNull bool
}

func NewSchema(fields []SchemaField) (*Schema, error) {
	sch := Schema{
		ids:     map[string]int{},
		indexes: map[string][]int{},
	}
	for _, sf := range fields {
		if sf.Type == field.NoType || sf.Type == field.Null {
			return nil, fmt.Errorf("tuple: field %s: bad type: %s", sf.Name, sf.Type)
		}
		if _, ok := sch.ids[sf.Name]; ok {
			return nil, fmt.Errorf("tuple: duplicate field: %s", sf.Name)
		}
		sch.ids[sf.Name] = len(sch.names)
		sch.names = append(sch.names, sf.Name)
		sch.types = append(sch.types, sf.Type)
		sch.notNull = append(sch.notNull, sf.NotNull)
	}
	return &sch, nil
}

// AddIndex declares a secondary index over the named fields, in order.
func (sch *Schema) AddIndex(name string, fields []string) error {
	if _, ok := sch.indexes[name]; ok {
		return fmt.Errorf("tuple: duplicate index: %s", name)
	}
	var ids []int
	for _, fn := range fields {
		id, ok := sch.ids[fn]
		if !ok {
			return fmt.Errorf("tuple: index %s: no such field: %s", name, fn)
		}
		ids = append(ids, id)
	}
	sch.indexes[name] = ids
	return nil
}

func (sch *Schema) NumFields() int {
	return len(sch.names)
}

func (sch *Schema) FieldName(id int) string {
	return sch.names[id]
}

func (sch *Schema) FieldType(id int) field.Type {
	return sch.types[id]
}

// FieldID resolves a field name to its numeric id.
func (sch *Schema) FieldID(name string) (int, bool) {
	id, ok := sch.ids[name]
	return id, ok
}

// Index returns the ordered field ids of the named index.
func (sch *Schema) Index(name string) ([]int, bool) {
	ids, ok := sch.indexes[name]
	return ids, ok
}

// IndexNames returns the declared index names in a stable order.
func (sch *Schema) IndexNames() []string {
	names := make([]string, 0, len(sch.indexes))
	for name := range sch.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type FieldNotSetError struct {
	Name string
}

func (err *FieldNotSetError) Error() string {
	return fmt.Sprintf("tuple: field %s is not set", err.Name)
}

type WrongFieldTypeError struct {
	Name string
	Want field.Type
	Got  field.Type
}

func (err *WrongFieldTypeError) Error() string {
	return fmt.Sprintf("tuple: field %s: want %s got %s", err.Name, err.Want, err.Got)
}

// Validate checks t against the schema. It is called before any mutation is
// staged, so a failure has no partial effects to clean up.
func (sch *Schema) Validate(t *Tuple) error {
	for id := range sch.names {
		f := t.Field(id)
		switch f.Type() {
		case field.NoType:
			if sch.notNull[id] {
				return &FieldNotSetError{Name: sch.names[id]}
			}
		case field.Null:
			if sch.notNull[id] {
				return &WrongFieldTypeError{Name: sch.names[id], Want: sch.types[id],
					Got: field.Null}
			}
		default:
			if f.Type() != sch.types[id] {
				return &WrongFieldTypeError{Name: sch.names[id], Want: sch.types[id],
					Got: f.Type()}
			}
		}
	}
	return nil
}

// Encode serializes the schema so the store can persist it as table
// metadata.
func (sch *Schema) Encode() []byte {
	buf := encodeUint32(nil, uint32(len(sch.names)))
	for id, name := range sch.names {
		buf = encodeString(buf, name)
		buf = append(buf, byte(sch.types[id]))
		if sch.notNull[id] {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}

	names := sch.IndexNames()
	buf = encodeUint32(buf, uint32(len(names)))
	for _, name := range names {
		buf = encodeString(buf, name)
		ids := sch.indexes[name]
		buf = encodeUint32(buf, uint32(len(ids)))
		for _, id := range ids {
			buf = encodeUint32(buf, uint32(id))
		}
	}
	return buf
}

func DecodeSchema(buf []byte) (*Schema, error) {
	n, buf, ok := decodeUint32(buf)
	if !ok {
		return nil, fmt.Errorf("tuple: unable to decode schema")
	}

	var fields []SchemaField
	for i := uint32(0); i < n; i++ {
		var sf SchemaField
		sf.Name, buf, ok = decodeString(buf)
		if !ok || len(buf) < 2 {
			return nil, fmt.Errorf("tuple: unable to decode schema")
		}
		sf.Type = field.Type(buf[0])
		sf.NotNull = buf[1] != 0
		buf = buf[2:]
		fields = append(fields, sf)
	}

	sch, err := NewSchema(fields)
	if err != nil {
		return nil, err
	}

	n, buf, ok = decodeUint32(buf)
	if !ok {
		return nil, fmt.Errorf("tuple: unable to decode schema")
	}
	for i := uint32(0); i < n; i++ {
		var name string
		name, buf, ok = decodeString(buf)
		if !ok {
			return nil, fmt.Errorf("tuple: unable to decode schema")
		}
		var cnt uint32
		cnt, buf, ok = decodeUint32(buf)
		if !ok {
			return nil, fmt.Errorf("tuple: unable to decode schema")
		}
		var fns []string
		for j := uint32(0); j < cnt; j++ {
			var id uint32
			id, buf, ok = decodeUint32(buf)
			if !ok || int(id) >= len(sch.names) {
				return nil, fmt.Errorf("tuple: unable to decode schema")
			}
			fns = append(fns, sch.names[id])
		}
		err = sch.AddIndex(name, fns)
		if err != nil {
			return nil, err
		}
	}
	return sch, nil
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

func encodeString(buf []byte, s string) []byte {
	buf = encodeUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func decodeString(buf []byte) (string, []byte, bool) {
	sz, buf, ok := decodeUint32(buf)
	if !ok || uint32(len(buf)) < sz {
		return "", nil, false
	}
	return string(buf[:sz]), buf[sz:], true
}
