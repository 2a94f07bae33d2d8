package tuple_test

import (
	"testing"

	"github.com/leftmike/kvtx/field"
	"github.com/leftmike/kvtx/tuple"
)

func testSchema(t *testing.T) *tuple.Schema {
	t.Helper()

	sch, err := tuple.NewSchema([]tuple.SchemaField{
		{Name: "id", Type: field.BigInt, NotNull: true},
		{Name: "name", Type: field.Text, NotNull: true},
		{Name: "balance", Type: field.Double},
		{Name: "data", Type: field.Blob},
	})
	if err != nil {
		t.Fatalf("NewSchema() failed with %s", err)
	}
	err = sch.AddIndex("by_name", []string{"name"})
	if err != nil {
		t.Fatalf("AddIndex(by_name) failed with %s", err)
	}
	return sch
}

func TestSchema(t *testing.T) {
	sch := testSchema(t)

	if sch.NumFields() != 4 {
		t.Errorf("NumFields() got %d want 4", sch.NumFields())
	}
	id, ok := sch.FieldID("balance")
	if !ok || id != 2 {
		t.Errorf("FieldID(balance) got %d, %v want 2, true", id, ok)
	}
	if _, ok = sch.FieldID("nope"); ok {
		t.Errorf("FieldID(nope) did not fail")
	}
	ids, ok := sch.Index("by_name")
	if !ok || len(ids) != 1 || ids[0] != 1 {
		t.Errorf("Index(by_name) got %v, %v want [1], true", ids, ok)
	}

	if err := sch.AddIndex("by_name", []string{"id"}); err == nil {
		t.Errorf("AddIndex(by_name) again did not fail")
	}
	if err := sch.AddIndex("bad", []string{"nope"}); err == nil {
		t.Errorf("AddIndex(bad) did not fail")
	}
}

func TestTupleAccess(t *testing.T) {
	sch := testSchema(t)

	tpl := tuple.NewTuple(sch)
	tpl.SetField(0, field.NewBigInt(7))
	if err := tpl.SetFieldByName("name", field.NewText("seven")); err != nil {
		t.Fatalf("SetFieldByName(name) failed with %s", err)
	}

	if f := tpl.Field(0); f.BigInt() != 7 {
		t.Errorf("Field(0) got %s want 7", f)
	}
	f, ok := tpl.FieldByName("name")
	if !ok || f.Text() != "seven" {
		t.Errorf("FieldByName(name) got %s want 'seven'", f)
	}
	if _, ok = tpl.FieldByName("nope"); ok {
		t.Errorf("FieldByName(nope) did not fail")
	}

	cl := tpl.Clone()
	cl.SetField(0, field.NewBigInt(8))
	if tpl.Field(0).BigInt() != 7 {
		t.Errorf("Clone() shares field values")
	}
}

func TestValidate(t *testing.T) {
	sch := testSchema(t)

	tpl := tuple.NewTuple(sch)
	tpl.SetField(0, field.NewBigInt(1))
	tpl.SetField(1, field.NewText("one"))
	tpl.SetField(2, field.NewDouble(1.5))
	if err := sch.Validate(tpl); err != nil {
		t.Errorf("Validate() failed with %s", err)
	}

	missing := tuple.NewTuple(sch)
	missing.SetField(0, field.NewBigInt(1))
	err := sch.Validate(missing)
	if _, ok := err.(*tuple.FieldNotSetError); !ok {
		t.Errorf("Validate() got %v want FieldNotSetError", err)
	}

	wrong := tuple.NewTuple(sch)
	wrong.SetField(0, field.NewBigInt(1))
	wrong.SetField(1, field.NewInt(2))
	err = sch.Validate(wrong)
	if _, ok := err.(*tuple.WrongFieldTypeError); !ok {
		t.Errorf("Validate() got %v want WrongFieldTypeError", err)
	}

	nullNotNull := tuple.NewTuple(sch)
	nullNotNull.SetField(0, field.NewBigInt(1))
	nullNotNull.SetField(1, field.NewNull())
	err = sch.Validate(nullNotNull)
	if _, ok := err.(*tuple.WrongFieldTypeError); !ok {
		t.Errorf("Validate() got %v want WrongFieldTypeError", err)
	}
}

func TestTupleEncodeDecode(t *testing.T) {
	sch := testSchema(t)

	tpl := tuple.NewTuple(sch)
	tpl.SetField(0, field.NewBigInt(-42))
	tpl.SetField(1, field.NewText("forty\x00two"))
	tpl.SetField(2, field.NewNull())
	tpl.SetField(3, field.NewBlob([]byte{0, 255, 0}))

	buf := tpl.Encode()
	tpl2, err := tuple.DecodeTuple(sch, buf)
	if err != nil {
		t.Fatalf("DecodeTuple() failed with %s", err)
	}
	if !tpl.Equal(tpl2) {
		t.Errorf("DecodeTuple(Encode()) tuples not equal")
	}

	if _, err = tuple.DecodeTuple(sch, buf[:len(buf)-1]); err == nil {
		t.Errorf("DecodeTuple(short) did not fail")
	}
}

func TestSchemaEncodeDecode(t *testing.T) {
	sch := testSchema(t)

	sch2, err := tuple.DecodeSchema(sch.Encode())
	if err != nil {
		t.Fatalf("DecodeSchema() failed with %s", err)
	}

	if sch2.NumFields() != sch.NumFields() {
		t.Fatalf("DecodeSchema() got %d fields want %d", sch2.NumFields(), sch.NumFields())
	}
	for id := 0; id < sch.NumFields(); id++ {
		if sch2.FieldName(id) != sch.FieldName(id) ||
			sch2.FieldType(id) != sch.FieldType(id) {
			t.Errorf("DecodeSchema() field %d: got %s %s want %s %s", id,
				sch2.FieldName(id), sch2.FieldType(id), sch.FieldName(id), sch.FieldType(id))
		}
	}
	ids, ok := sch2.Index("by_name")
	if !ok || len(ids) != 1 || ids[0] != 1 {
		t.Errorf("DecodeSchema() Index(by_name) got %v, %v", ids, ok)
	}
}
