package index

import (
	"io"

	"github.com/google/btree"

	"github.com/leftmike/kvtx/field"
	"github.com/leftmike/kvtx/store"
	"github.com/leftmike/kvtx/tuple"
)

// Wrapper is the per-transaction view of one secondary index: staged
// operations in a pending cache merged over the persisted tree. Staged
// entries carry MaxVersion so they sort after persisted entries with the
// same projection.
type Wrapper struct {
	client  store.Client
	snap    store.Snapshot
	fields  []int
	backend *storeBackend
	tree    *Tree
	pending *btree.BTree
}

type pendingItem struct {
	key Key
	val Value
}

// Two staged operations are the same item when projection and row agree;
// staging the second replaces the first.
func (pi pendingItem) Less(item btree.Item) bool {
	pi2 := item.(pendingItem)
	if cmp := Compare(pi.key, pi2.key); cmp != 0 {
		return cmp < 0
	}
	return pi.val.RowKey < pi2.val.RowKey
}

func newWrapper(client store.Client, counter store.Table, snap store.Snapshot,
	it *indexTables) *Wrapper {

	backend := newStoreBackend(client, counter, snap, it)
	return &Wrapper{
		client:  client,
		snap:    snap,
		fields:  it.fields,
		backend: backend,
		tree:    NewTree(backend),
		pending: btree.New(16),
	}
}

// KeyOf projects the indexed fields out of a row.
func (w *Wrapper) KeyOf(row *tuple.Tuple) []field.Field {
	fields := make([]field.Field, 0, len(w.fields))
	for _, id := range w.fields {
		fields = append(fields, row.Field(id))
	}
	return fields
}

func (w *Wrapper) stage(op Op, rowKey uint64, fields []field.Field) {
	w.pending.ReplaceOrInsert(pendingItem{
		key: Key{Fields: fields, Version: MaxVersion, TieBreak: 0},
		val: Value{Op: op, RowKey: rowKey},
	})
}

func (w *Wrapper) Insert(rowKey uint64, row *tuple.Tuple) {
	w.stage(Insert, rowKey, w.KeyOf(row))
}

func (w *Wrapper) Remove(rowKey uint64, row *tuple.Tuple) {
	w.stage(Delete, rowKey, w.KeyOf(row))
}

// Update stages nothing when the update does not change the projection.
func (w *Wrapper) Update(rowKey uint64, old, next *tuple.Tuple) {
	oldFields := w.KeyOf(old)
	nextFields := w.KeyOf(next)
	if CompareFields(oldFields, nextFields) == 0 {
		return
	}
	w.stage(Delete, rowKey, oldFields)
	w.stage(Insert, rowKey, nextFields)
}

func (w *Wrapper) HasPending() bool {
	return w.pending.Len() > 0
}

// Flush applies the pending cache to the persisted tree. Inserts are
// written at the transaction's own version; deletes erase the persisted
// entries for their projection and row, leaving other rows that share the
// projection intact. The tree writes are staged under the transaction's
// snapshot, so they commit or abort with it.
func (w *Wrapper) Flush() error {
	// Deletes first, then inserts at the transaction's own version.
	var err error
	w.pending.Ascend(
		func(item btree.Item) bool {
			pi := item.(pendingItem)
			if pi.val.Op == Delete {
				_, err = w.tree.EraseFields(pi.key.Fields, pi.val.RowKey)
			}
			return err == nil
		})
	if err != nil {
		return err
	}
	w.pending.Ascend(
		func(item btree.Item) bool {
			pi := item.(pendingItem)
			if pi.val.Op == Insert {
				err = w.tree.Insert(
					Key{Fields: pi.key.Fields, Version: w.snap.Version()}, pi.val)
			}
			return err == nil
		})
	if err != nil {
		return err
	}
	w.pending = btree.New(16)
	return nil
}

// RowRef names a row by table and key.
type RowRef struct {
	Table store.TableID
	Key   uint64
}

// TouchedRows predicts the rows Flush will write: the root pointer row and
// the existing nodes the staged operations land in. Splits may allocate
// nodes beyond these.
func (w *Wrapper) TouchedRows() ([]RowRef, error) {
	if w.pending.Len() == 0 {
		return nil, nil
	}

	var keys []Key
	w.pending.Ascend(
		func(item btree.Item) bool {
			pi := item.(pendingItem)
			switch pi.val.Op {
			case Insert:
				keys = append(keys, Key{Fields: pi.key.Fields, Version: w.snap.Version()})
			case Delete:
				keys = append(keys, Key{Fields: pi.key.Fields})
				keys = append(keys, Key{Fields: pi.key.Fields, Version: MaxVersion,
					TieBreak: ^uint32(0)})
			}
			return true
		})

	ids, err := w.tree.NodesFor(keys)
	if err != nil {
		return nil, err
	}

	refs := []RowRef{{Table: w.backend.ptrs.ID(), Key: rootRow}}
	for _, id := range ids {
		refs = append(refs, RowRef{Table: w.backend.nodes.ID(), Key: id})
	}
	return refs, nil
}

// RevertWritten issues a revert for every row Flush wrote, including nodes
// allocated by splits that TouchedRows could not predict, and returns the
// futures for the caller to wait on.
func (w *Wrapper) RevertWritten() []store.Future {
	var futures []store.Future
	if w.backend.rootSet {
		futures = append(futures, w.client.Revert(w.backend.ptrs, w.snap, rootRow))
	}
	for id := range w.backend.staged {
		futures = append(futures, w.client.Revert(w.backend.nodes, w.snap, id))
	}
	return futures
}

// ScanEntry is one visible index entry: the projection and the row it
// points at.
type ScanEntry struct {
	Fields []field.Field
	RowKey uint64
}

// Iterator merges the pending cache with the persisted tree. Within one
// projection the pending cache is authoritative: a pending delete hides the
// persisted entry for the same row, a pending insert is visible before it
// is flushed. Next reports io.EOF when both cursors are exhausted.
type Iterator struct {
	reverse bool
	queue   []ScanEntry
	pend    []pendingItem
	pidx    int
	tree    *TreeIterator
}

// LowerBound scans visible entries with projection >= fields, ascending.
func (w *Wrapper) LowerBound(fields []field.Field) (*Iterator, error) {
	pivot := Key{Fields: fields}

	var pend []pendingItem
	w.pending.AscendGreaterOrEqual(pendingItem{key: pivot},
		func(item btree.Item) bool {
			pend = append(pend, item.(pendingItem))
			return true
		})

	tit, err := w.tree.LowerBound(pivot)
	if err != nil {
		return nil, err
	}
	return &Iterator{pend: pend, tree: tit}, nil
}

// ReverseLowerBound scans visible entries with projection <= fields,
// descending.
func (w *Wrapper) ReverseLowerBound(fields []field.Field) (*Iterator, error) {
	pivot := Key{Fields: fields, Version: MaxVersion, TieBreak: ^uint32(0)}

	var pend []pendingItem
	w.pending.DescendLessOrEqual(pendingItem{key: pivot, val: Value{RowKey: ^uint64(0)}},
		func(item btree.Item) bool {
			pend = append(pend, item.(pendingItem))
			return true
		})

	tit, err := w.tree.ReverseLowerBound(pivot)
	if err != nil {
		return nil, err
	}
	return &Iterator{reverse: true, pend: pend, tree: tit}, nil
}

func (it *Iterator) treeDone() bool {
	if it.tree.Done() {
		return true
	}
	return it.tree.Entry().Key.IsSentinel()
}

// fillQueue gathers the next projection from both cursors and merges it
// into visible entries. It may produce nothing when every entry of the
// projection is hidden.
func (it *Iterator) fillQueue() error {
	pendDone := it.pidx >= len(it.pend)
	treeDone := it.treeDone()
	if pendDone && treeDone {
		return io.EOF
	}

	var fields []field.Field
	if pendDone {
		fields = it.tree.Entry().Key.Fields
	} else if treeDone {
		fields = it.pend[it.pidx].key.Fields
	} else {
		cmp := CompareFields(it.pend[it.pidx].key.Fields, it.tree.Entry().Key.Fields)
		if it.reverse {
			cmp = -cmp
		}
		if cmp <= 0 {
			fields = it.pend[it.pidx].key.Fields
		} else {
			fields = it.tree.Entry().Key.Fields
		}
	}

	var pendGroup []pendingItem
	for it.pidx < len(it.pend) &&
		CompareFields(it.pend[it.pidx].key.Fields, fields) == 0 {
		pendGroup = append(pendGroup, it.pend[it.pidx])
		it.pidx += 1
	}

	var treeGroup []Entry
	for !it.treeDone() && CompareFields(it.tree.Entry().Key.Fields, fields) == 0 {
		treeGroup = append(treeGroup, it.tree.Entry())
		err := it.tree.Advance()
		if err != nil {
			return err
		}
	}

	deleted := map[uint64]bool{}
	inserted := map[uint64]bool{}
	for _, pi := range pendGroup {
		if pi.val.Op == Delete {
			deleted[pi.val.RowKey] = true
		} else {
			inserted[pi.val.RowKey] = true
		}
	}

	emitted := map[uint64]bool{}
	for _, e := range treeGroup {
		if e.Value.Op != Insert {
			continue
		}
		if deleted[e.Value.RowKey] || emitted[e.Value.RowKey] {
			continue
		}
		emitted[e.Value.RowKey] = true
		it.queue = append(it.queue, ScanEntry{Fields: e.Key.Fields, RowKey: e.Value.RowKey})
	}
	for _, pi := range pendGroup {
		if pi.val.Op != Insert || emitted[pi.val.RowKey] {
			continue
		}
		emitted[pi.val.RowKey] = true
		it.queue = append(it.queue, ScanEntry{Fields: pi.key.Fields, RowKey: pi.val.RowKey})
	}
	return nil
}

// Next returns the next visible entry, or io.EOF when both the pending
// cache and the persisted tree are exhausted.
func (it *Iterator) Next() (ScanEntry, error) {
	for len(it.queue) == 0 {
		err := it.fillQueue()
		if err != nil {
			return ScanEntry{}, err
		}
	}

	se := it.queue[0]
	it.queue = it.queue[1:]
	return se, nil
}
