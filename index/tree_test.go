package index_test

import (
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/leftmike/kvtx/field"
	"github.com/leftmike/kvtx/index"
)

type memBackend struct {
	root  uint64
	nodes map[uint64][]byte
	last  uint64
}

func makeMemBackend() *memBackend {
	return &memBackend{
		nodes: map[uint64][]byte{},
	}
}

func (mb *memBackend) FetchRoot() (uint64, error) {
	return mb.root, nil
}

func (mb *memBackend) StoreRoot(id uint64) error {
	mb.root = id
	return nil
}

func (mb *memBackend) FetchNode(id uint64) ([]byte, error) {
	data, ok := mb.nodes[id]
	if !ok {
		return nil, fmt.Errorf("no node %d", id)
	}
	return data, nil
}

func (mb *memBackend) StoreNode(id uint64, data []byte) error {
	mb.nodes[id] = append([]byte(nil), data...)
	return nil
}

func (mb *memBackend) AllocateNode() (uint64, error) {
	mb.last += 1
	return mb.last, nil
}

func intKey(i int64, ver uint64) index.Key {
	return index.Key{
		Fields:  []field.Field{field.NewBigInt(i)},
		Version: ver,
	}
}

func TestKeyCompare(t *testing.T) {
	cases := []struct {
		k1, k2 index.Key
		cmp    int
	}{
		{intKey(1, 5), intKey(2, 5), -1},
		{intKey(2, 5), intKey(1, 5), 1},
		{intKey(1, 5), intKey(1, 5), 0},
		{intKey(1, 5), intKey(1, 6), -1},
		{intKey(1, index.MaxVersion), intKey(1, 6), 1},
		{
			index.Key{Fields: []field.Field{field.NewBigInt(1)}, Version: 5, TieBreak: 1},
			index.Key{Fields: []field.Field{field.NewBigInt(1)}, Version: 5, TieBreak: 2},
			-1,
		},
		{
			index.Key{Fields: []field.Field{field.NewText("a"), field.NewBigInt(1)}},
			index.Key{Fields: []field.Field{field.NewText("a"), field.NewBigInt(2)}},
			-1,
		},
		// A shorter projection orders before a longer one with the same prefix.
		{
			index.Key{Fields: []field.Field{field.NewText("a")}},
			index.Key{Fields: []field.Field{field.NewText("a"), field.NewBigInt(1)}},
			-1,
		},
		{index.SentinelKey(), intKey(1<<62, index.MaxVersion), 1},
		{intKey(1<<62, index.MaxVersion), index.SentinelKey(), -1},
		{index.SentinelKey(), index.SentinelKey(), 0},
	}

	for i, c := range cases {
		if cmp := index.Compare(c.k1, c.k2); cmp != c.cmp {
			t.Errorf("Compare(%d) got %d want %d", i, cmp, c.cmp)
		}
	}
}

func TestKeyEncode(t *testing.T) {
	keys := []index.Key{
		{},
		intKey(42, 7),
		{
			Fields: []field.Field{field.NewText("abc"), field.NewNull(),
				field.NewDouble(1.5)},
			Version:  index.MaxVersion,
			TieBreak: 3,
		},
		index.SentinelKey(),
	}

	for i, k := range keys {
		buf := k.Encode(nil)
		k2, rest, ok := index.DecodeKey(buf)
		if !ok {
			t.Errorf("DecodeKey(%d) failed", i)
			continue
		}
		if len(rest) != 0 {
			t.Errorf("DecodeKey(%d) left %d bytes", i, len(rest))
		}
		if index.Compare(k, k2) != 0 {
			t.Errorf("DecodeKey(%d) got %v want %v", i, k2, k)
		}
	}

	v := index.Value{Op: index.Insert, RowKey: 99}
	v2, rest, ok := index.DecodeValue(v.Encode(nil))
	if !ok || len(rest) != 0 || v2 != v {
		t.Errorf("DecodeValue() got %v want %v", v2, v)
	}
}

func treeEntries(t *testing.T, it *index.TreeIterator) []index.Entry {
	t.Helper()

	var entries []index.Entry
	for !it.Done() {
		entries = append(entries, it.Entry())
		if err := it.Advance(); err != nil {
			t.Fatalf("Advance() failed with %s", err)
		}
	}
	return entries
}

func TestTreeOrdering(t *testing.T) {
	tr := index.NewTree(makeMemBackend())

	// Enough entries to force several node splits.
	const cnt = 200
	r := rand.New(rand.NewSource(1))
	perm := r.Perm(cnt)
	for _, i := range perm {
		err := tr.Insert(intKey(int64(i), 1), index.Value{Op: index.Insert,
			RowKey: uint64(i)})
		if err != nil {
			t.Fatalf("Insert(%d) failed with %s", i, err)
		}
	}

	it, err := tr.LowerBound(index.Key{})
	if err != nil {
		t.Fatalf("LowerBound() failed with %s", err)
	}
	entries := treeEntries(t, it)
	if len(entries) != cnt {
		t.Fatalf("LowerBound() got %d entries want %d", len(entries), cnt)
	}
	for i, e := range entries {
		if e.Key.Fields[0].BigInt() != int64(i) {
			t.Errorf("entry %d got %s want %d", i, e.Key.Fields[0], i)
		}
		if e.Value.RowKey != uint64(i) {
			t.Errorf("entry %d got row %d want %d", i, e.Value.RowKey, i)
		}
	}

	it, err = tr.LowerBound(intKey(150, 0))
	if err != nil {
		t.Fatalf("LowerBound() failed with %s", err)
	}
	entries = treeEntries(t, it)
	if len(entries) != cnt-150 {
		t.Errorf("LowerBound(150) got %d entries want %d", len(entries), cnt-150)
	}
	if entries[0].Key.Fields[0].BigInt() != 150 {
		t.Errorf("LowerBound(150) starts at %s want 150", entries[0].Key.Fields[0])
	}

	it, err = tr.ReverseLowerBound(intKey(10, index.MaxVersion))
	if err != nil {
		t.Fatalf("ReverseLowerBound() failed with %s", err)
	}
	entries = treeEntries(t, it)
	if len(entries) != 11 {
		t.Fatalf("ReverseLowerBound(10) got %d entries want 11", len(entries))
	}
	for i, e := range entries {
		if e.Key.Fields[0].BigInt() != int64(10-i) {
			t.Errorf("entry %d got %s want %d", i, e.Key.Fields[0], 10-i)
		}
	}
}

func TestTreeErase(t *testing.T) {
	tr := index.NewTree(makeMemBackend())

	// Row 7 indexed under projection 2 at two versions, row 8 sharing the
	// projection, plus neighbors.
	for _, e := range []struct {
		key index.Key
		row uint64
	}{
		{intKey(1, 1), 6}, {intKey(2, 1), 7}, {intKey(2, 2), 8},
		{intKey(2, 9), 7}, {intKey(3, 1), 9},
	} {
		err := tr.Insert(e.key, index.Value{Op: index.Insert, RowKey: e.row})
		if err != nil {
			t.Fatalf("Insert() failed with %s", err)
		}
	}

	// Only row 7's entries go; row 8 keeps its entry for the same projection.
	cnt, err := tr.EraseFields([]field.Field{field.NewBigInt(2)}, 7)
	if err != nil {
		t.Fatalf("EraseFields() failed with %s", err)
	}
	if cnt != 2 {
		t.Errorf("EraseFields() got %d want 2", cnt)
	}

	it, err := tr.LowerBound(index.Key{})
	if err != nil {
		t.Fatalf("LowerBound() failed with %s", err)
	}
	entries := treeEntries(t, it)
	if len(entries) != 3 {
		t.Fatalf("LowerBound() got %d entries want 3", len(entries))
	}
	if entries[1].Key.Fields[0].BigInt() != 2 || entries[1].Value.RowKey != 8 {
		t.Errorf("LowerBound() got %s row %d want 2 row 8", entries[1].Key.Fields[0],
			entries[1].Value.RowKey)
	}

	cnt, err = tr.EraseFields([]field.Field{field.NewBigInt(2)}, 99)
	if err != nil {
		t.Fatalf("EraseFields() failed with %s", err)
	}
	if cnt != 0 {
		t.Errorf("EraseFields(2, 99) got %d want 0", cnt)
	}

	cnt, err = tr.EraseFields([]field.Field{field.NewBigInt(9)}, 7)
	if err != nil {
		t.Fatalf("EraseFields() failed with %s", err)
	}
	if cnt != 0 {
		t.Errorf("EraseFields(9) got %d want 0", cnt)
	}
}

func TestTreeEmpty(t *testing.T) {
	tr := index.NewTree(makeMemBackend())

	it, err := tr.LowerBound(index.Key{})
	if err != nil {
		t.Fatalf("LowerBound() failed with %s", err)
	}
	if !it.Done() {
		t.Errorf("LowerBound() on empty tree not done")
	}

	it, err = tr.ReverseLowerBound(index.SentinelKey())
	if err != nil {
		t.Fatalf("ReverseLowerBound() failed with %s", err)
	}
	if !it.Done() {
		t.Errorf("ReverseLowerBound() on empty tree not done")
	}
}

func scanAll(t *testing.T, it *index.Iterator) []index.ScanEntry {
	t.Helper()

	var entries []index.ScanEntry
	for {
		se, err := it.Next()
		if err == io.EOF {
			return entries
		} else if err != nil {
			t.Fatalf("Next() failed with %s", err)
		}
		entries = append(entries, se)
	}
}
