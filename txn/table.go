package txn

import (
	"fmt"

	"github.com/leftmike/kvtx/field"
	"github.com/leftmike/kvtx/index"
	"github.com/leftmike/kvtx/store"
	"github.com/leftmike/kvtx/tuple"
)

// Table is a transaction's handle on one table: the stable table id and
// schema, plus this transaction's index wrappers. Handles are memoized per
// transaction so every access to a table shares the same staged state.
type Table struct {
	tx       *Transaction
	tbl      store.Table
	wrappers map[string]*index.Wrapper
}

func (tx *Transaction) table(tbl store.Table,
	wrappers map[string]*index.Wrapper) *Table {

	if tt, ok := tx.tables[tbl.ID()]; ok {
		return tt
	}
	tt := &Table{
		tx:       tx,
		tbl:      tbl,
		wrappers: wrappers,
	}
	tx.tables[tbl.ID()] = tt
	return tt
}

// OpenTable opens an existing table and its indexes.
func (tx *Transaction) OpenTable(name string) (*Table, error) {
	st, err := tx.store()
	if err != nil {
		return nil, err
	}

	if tt := tx.tableByName(name); tt != nil {
		return tt, nil
	}

	tbl, err := st.client.GetTable(name).Table()
	if err != nil {
		return nil, err
	}
	wrappers, err := st.idxs.OpenIndexes(tx.snap, tbl)
	if err != nil {
		return nil, err
	}
	return tx.table(tbl, wrappers), nil
}

func (tx *Transaction) tableByName(name string) *Table {
	for _, tt := range tx.tables {
		if tt.tbl.Name() == name {
			return tt
		}
	}
	return nil
}

// CreateTable registers the schema and eagerly creates the backing tables
// of its declared indexes. Table creation is not transactional: the table
// exists whether or not this transaction commits.
func (tx *Transaction) CreateTable(name string, sch *tuple.Schema) (*Table, error) {
	st, err := tx.store()
	if err != nil {
		return nil, err
	}

	tbl, err := st.client.CreateTable(name, sch).Table()
	if err != nil {
		return nil, err
	}
	wrappers, err := st.idxs.CreateIndexes(tx.snap, tbl)
	if err != nil {
		return nil, err
	}
	return tx.table(tbl, wrappers), nil
}

func (tt *Table) ID() store.TableID {
	return tt.tbl.ID()
}

func (tt *Table) Name() string {
	return tt.tbl.Name()
}

func (tt *Table) Schema() *tuple.Schema {
	return tt.tbl.Schema()
}

func (tt *Table) mutable() error {
	if tt.tx.st == nil {
		return ErrTransactionComplete
	}
	if tt.tx.snap.ReadOnly() {
		return ErrReadOnly
	}
	return nil
}

// Get returns the row as this transaction sees it: its own pending write if
// it has one, otherwise the snapshot's version.
func (tt *Table) Get(key uint64) (*tuple.Tuple, error) {
	if tt.tx.st == nil {
		return nil, ErrTransactionComplete
	}
	return tt.tx.cache.get(tt.tbl, key)
}

// Insert stages a new row. The row must validate against the schema and the
// key must not exist.
func (tt *Table) Insert(key uint64, row *tuple.Tuple) error {
	if err := tt.mutable(); err != nil {
		return err
	}
	if err := tt.tbl.Schema().Validate(row); err != nil {
		return err
	}

	_, err := tt.tx.cache.get(tt.tbl, key)
	if err == nil {
		return ErrKeyExists
	} else if err != store.ErrKeyNotFound {
		return err
	}

	tt.tx.cache.stage(tt.tbl, key, row, false)
	for _, w := range tt.wrappers {
		w.Insert(key, row)
	}
	return nil
}

// Update stages a replacement for an existing row. old must be the tuple
// the caller read; it determines which index entries change.
func (tt *Table) Update(key uint64, old, row *tuple.Tuple) error {
	if err := tt.mutable(); err != nil {
		return err
	}
	if err := tt.tbl.Schema().Validate(row); err != nil {
		return err
	}

	_, err := tt.tx.cache.get(tt.tbl, key)
	if err != nil {
		return err
	}

	tt.tx.cache.stage(tt.tbl, key, row, true)
	for _, w := range tt.wrappers {
		w.Update(key, old, row)
	}
	return nil
}

// Remove stages a removal of an existing row. old must be the tuple the
// caller read.
func (tt *Table) Remove(key uint64, old *tuple.Tuple) error {
	if err := tt.mutable(); err != nil {
		return err
	}

	_, err := tt.tx.cache.get(tt.tbl, key)
	if err != nil {
		return err
	}

	tt.tx.cache.stage(tt.tbl, key, nil, true)
	for _, w := range tt.wrappers {
		w.Remove(key, old)
	}
	return nil
}

func (tt *Table) wrapper(idx string) (*index.Wrapper, error) {
	w, ok := tt.wrappers[idx]
	if !ok {
		return nil, fmt.Errorf("txn: table %s: no index %s", tt.tbl.Name(), idx)
	}
	return w, nil
}

// Rows iterates rows selected by an index scan, resolving each entry to the
// row through the transaction cache. Next reports io.EOF when the scan is
// exhausted.
type Rows struct {
	tt *Table
	it *index.Iterator
}

func (r *Rows) Next() (uint64, *tuple.Tuple, error) {
	for {
		se, err := r.it.Next()
		if err != nil {
			return 0, nil, err
		}
		row, err := r.tt.Get(se.RowKey)
		if err == store.ErrKeyNotFound {
			continue // removed since the entry was flushed
		} else if err != nil {
			return 0, nil, err
		}
		return se.RowKey, row, nil
	}
}

// LowerBound scans the named index ascending from the first entry whose
// projection is >= fields.
func (tt *Table) LowerBound(idx string, fields []field.Field) (*Rows, error) {
	if tt.tx.st == nil {
		return nil, ErrTransactionComplete
	}
	w, err := tt.wrapper(idx)
	if err != nil {
		return nil, err
	}
	it, err := w.LowerBound(fields)
	if err != nil {
		return nil, err
	}
	return &Rows{tt: tt, it: it}, nil
}

// ReverseLowerBound scans the named index descending from the last entry
// whose projection is <= fields.
func (tt *Table) ReverseLowerBound(idx string, fields []field.Field) (*Rows, error) {
	if tt.tx.st == nil {
		return nil, ErrTransactionComplete
	}
	w, err := tt.wrapper(idx)
	if err != nil {
		return nil, err
	}
	it, err := w.ReverseLowerBound(fields)
	if err != nil {
		return nil, err
	}
	return &Rows{tt: tt, it: it}, nil
}
