package index

import (
	"fmt"
	"sync"

	"github.com/leftmike/kvtx/field"
	"github.com/leftmike/kvtx/store"
	"github.com/leftmike/kvtx/tuple"
)

const (
	counterTableName = "__counter"
	counterRow       = uint64(0)
	rootRow          = uint64(0)
)

func nodesTableName(tbl, idx string) string {
	return fmt.Sprintf("__index_nodes_%s_%s", tbl, idx)
}

func ptrsTableName(tbl, idx string) string {
	return fmt.Sprintf("__index_ptrs_%s_%s", tbl, idx)
}

func nodesSchema() *tuple.Schema {
	sch, err := tuple.NewSchema([]tuple.SchemaField{
		{Name: "data", Type: field.Blob, NotNull: true},
	})
	if err != nil {
		panic(err)
	}
	return sch
}

func ptrsSchema() *tuple.Schema {
	sch, err := tuple.NewSchema([]tuple.SchemaField{
		{Name: "node", Type: field.BigInt, NotNull: true},
	})
	if err != nil {
		panic(err)
	}
	return sch
}

func counterSchema() *tuple.Schema {
	sch, err := tuple.NewSchema([]tuple.SchemaField{
		{Name: "value", Type: field.BigInt, NotNull: true},
	})
	if err != nil {
		panic(err)
	}
	return sch
}

// OpenTableError reports which backing table of an index could not be
// opened or created.
type OpenTableError struct {
	Name string
	Err  error
}

func (ote *OpenTableError) Error() string {
	return fmt.Sprintf("index: table %s: %s", ote.Name, ote.Err)
}

func (ote *OpenTableError) Unwrap() error {
	return ote.Err
}

// indexTables are the backing tables of one secondary index, shared across
// transactions once resolved.
type indexTables struct {
	fields []int
	nodes  store.Table
	ptrs   store.Table
}

// Indexes resolves the backing tables of secondary indexes and hands out
// per-transaction wrappers. Resolved tables are memoized per table id.
type Indexes struct {
	client  store.Client
	counter store.Table

	mutex  sync.Mutex
	tables map[store.TableID]map[string]*indexTables
}

// NewIndexes makes an index registry over client, creating the shared node
// id counter table if this store has never had one.
func NewIndexes(client store.Client) (*Indexes, error) {
	counter, err := client.GetTable(counterTableName).Table()
	if err == store.ErrTableNotFound {
		counter, err = client.CreateTable(counterTableName, counterSchema()).Table()
		if err == store.ErrTableExists {
			counter, err = client.GetTable(counterTableName).Table()
		}
	}
	if err != nil {
		return nil, err
	}

	return &Indexes{
		client:  client,
		counter: counter,
		tables:  map[store.TableID]map[string]*indexTables{},
	}, nil
}

// OpenIndexes opens every index of tbl and returns wrappers bound to snap.
// All table lookups are issued before any response is consumed; responses
// are consumed in reverse order of issue.
func (idxs *Indexes) OpenIndexes(snap store.Snapshot, tbl store.Table) (
	map[string]*Wrapper, error) {

	idxs.mutex.Lock()
	defer idxs.mutex.Unlock()

	resolved, ok := idxs.tables[tbl.ID()]
	if !ok {
		sch := tbl.Schema()
		names := sch.IndexNames()

		type pendingOpen struct {
			idx   string
			table string
			tf    store.TableFuture
		}
		var opens []pendingOpen
		for _, idx := range names {
			nn := nodesTableName(tbl.Name(), idx)
			opens = append(opens, pendingOpen{idx: idx, table: nn,
				tf: idxs.client.GetTable(nn)})
			pn := ptrsTableName(tbl.Name(), idx)
			opens = append(opens, pendingOpen{idx: idx, table: pn,
				tf: idxs.client.GetTable(pn)})
		}

		opened := map[string]store.Table{}
		var firstErr error
		for i := len(opens) - 1; i >= 0; i-- {
			t, err := opens[i].tf.Table()
			if err != nil {
				firstErr = &OpenTableError{Name: opens[i].table, Err: err}
			} else {
				opened[opens[i].table] = t
			}
		}
		if firstErr != nil {
			return nil, firstErr
		}

		resolved = map[string]*indexTables{}
		for _, idx := range names {
			fields, _ := sch.Index(idx)
			resolved[idx] = &indexTables{
				fields: fields,
				nodes:  opened[nodesTableName(tbl.Name(), idx)],
				ptrs:   opened[ptrsTableName(tbl.Name(), idx)],
			}
		}
		idxs.tables[tbl.ID()] = resolved
	}

	return idxs.wrap(snap, resolved), nil
}

// CreateIndexes eagerly creates the backing tables of every index of tbl
// and returns wrappers bound to snap. It is called once, when the table
// itself is created.
func (idxs *Indexes) CreateIndexes(snap store.Snapshot, tbl store.Table) (
	map[string]*Wrapper, error) {

	idxs.mutex.Lock()
	defer idxs.mutex.Unlock()

	sch := tbl.Schema()
	resolved := map[string]*indexTables{}
	for _, idx := range sch.IndexNames() {
		nn := nodesTableName(tbl.Name(), idx)
		nodes, err := idxs.client.CreateTable(nn, nodesSchema()).Table()
		if err != nil {
			return nil, &OpenTableError{Name: nn, Err: err}
		}
		pn := ptrsTableName(tbl.Name(), idx)
		ptrs, err := idxs.client.CreateTable(pn, ptrsSchema()).Table()
		if err != nil {
			return nil, &OpenTableError{Name: pn, Err: err}
		}

		fields, _ := sch.Index(idx)
		resolved[idx] = &indexTables{
			fields: fields,
			nodes:  nodes,
			ptrs:   ptrs,
		}
	}
	idxs.tables[tbl.ID()] = resolved

	return idxs.wrap(snap, resolved), nil
}

func (idxs *Indexes) wrap(snap store.Snapshot,
	resolved map[string]*indexTables) map[string]*Wrapper {

	wrappers := map[string]*Wrapper{}
	for idx, it := range resolved {
		wrappers[idx] = newWrapper(idxs.client, idxs.counter, snap, it)
	}
	return wrappers
}

// storeBackend persists tree nodes as rows staged under the transaction's
// snapshot, so a flushed index commits or aborts with the transaction. It
// reads through its own staged writes; the store snapshot alone would not
// show them.
type storeBackend struct {
	client  store.Client
	snap    store.Snapshot
	counter store.Table
	nodes   store.Table
	ptrs    store.Table

	staged  map[uint64][]byte
	root    uint64
	rootSet bool
}

func newStoreBackend(client store.Client, counter store.Table,
	snap store.Snapshot, it *indexTables) *storeBackend {

	return &storeBackend{
		client:  client,
		snap:    snap,
		counter: counter,
		nodes:   it.nodes,
		ptrs:    it.ptrs,
		staged:  map[uint64][]byte{},
	}
}

func (sb *storeBackend) FetchRoot() (uint64, error) {
	if sb.rootSet {
		return sb.root, nil
	}

	row, err := sb.client.Get(sb.ptrs, sb.snap, rootRow).Row()
	if err == store.ErrKeyNotFound {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return uint64(row.Field(0).BigInt()), nil
}

func (sb *storeBackend) StoreRoot(id uint64) error {
	row := tuple.NewTuple(sb.ptrs.Schema())
	row.SetField(0, field.NewBigInt(int64(id)))
	err := sb.client.Insert(sb.ptrs, sb.snap, rootRow, row).Wait()
	if err != nil {
		return err
	}
	sb.root = id
	sb.rootSet = true
	return nil
}

func (sb *storeBackend) FetchNode(id uint64) ([]byte, error) {
	if data, ok := sb.staged[id]; ok {
		return data, nil
	}

	row, err := sb.client.Get(sb.nodes, sb.snap, id).Row()
	if err != nil {
		return nil, err
	}
	return row.Field(0).Blob(), nil
}

func (sb *storeBackend) StoreNode(id uint64, data []byte) error {
	row := tuple.NewTuple(sb.nodes.Schema())
	row.SetField(0, field.NewBlob(data))
	err := sb.client.Insert(sb.nodes, sb.snap, id, row).Wait()
	if err != nil {
		return err
	}
	sb.staged[id] = append([]byte(nil), data...)
	return nil
}

func (sb *storeBackend) AllocateNode() (uint64, error) {
	return sb.client.Increment(sb.counter, counterRow, 1).Value()
}
