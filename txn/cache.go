package txn

import (
	"github.com/leftmike/kvtx/store"
	"github.com/leftmike/kvtx/tuple"
)

// cachedRow is the buffered state of one row. A clean entry records what a
// read observed, present or absent; a dirty entry is a pending write that
// has not been written back.
type cachedRow struct {
	dirty   bool
	existed bool         // the row was in the store before this transaction wrote it
	row     *tuple.Tuple // nil means the row is absent (or removed, if dirty)
}

type mutation struct {
	tbl store.Table
	key uint64
}

type mutationKey struct {
	tid store.TableID
	key uint64
}

// transactionCache buffers reads and pending writes for one transaction.
// Reads are deterministic: once a row has been observed or written, every
// later access resolves from the cache. Pending writes overwrite prior
// pending writes of the same row; the mutation order log records each
// mutated row once, in first-mutation order.
type transactionCache struct {
	client store.Client
	snap   store.Snapshot
	rows   map[mutationKey]*cachedRow
	order  []mutation
}

func newCache(client store.Client, snap store.Snapshot) *transactionCache {
	return &transactionCache{
		client: client,
		snap:   snap,
		rows:   map[mutationKey]*cachedRow{},
	}
}

// get returns the row, reading through to the store on first access.
// Absent rows report store.ErrKeyNotFound.
func (tc *transactionCache) get(tbl store.Table, key uint64) (*tuple.Tuple, error) {
	mk := mutationKey{tid: tbl.ID(), key: key}
	if cr, ok := tc.rows[mk]; ok {
		if cr.row == nil {
			return nil, store.ErrKeyNotFound
		}
		return cr.row, nil
	}

	row, err := tc.client.Get(tbl, tc.snap, key).Row()
	if err == store.ErrKeyNotFound {
		tc.rows[mk] = &cachedRow{}
		return nil, err
	} else if err != nil {
		return nil, err
	}
	tc.rows[mk] = &cachedRow{row: row}
	return row, nil
}

// stage buffers a write; row nil removes. The first write of a row appends
// it to the mutation order and fixes whether the row already existed; later
// writes of the same row replace the buffered value.
func (tc *transactionCache) stage(tbl store.Table, key uint64, row *tuple.Tuple,
	existed bool) {

	mk := mutationKey{tid: tbl.ID(), key: key}
	cr, ok := tc.rows[mk]
	if ok && cr.dirty {
		cr.row = row
		return
	}

	tc.rows[mk] = &cachedRow{dirty: true, existed: existed, row: row}
	tc.order = append(tc.order, mutation{tbl: tbl, key: key})
}

func (tc *transactionCache) hasChanges() bool {
	return len(tc.order) > 0
}

// writeBack issues every pending write against the snapshot and waits for
// all of them.
func (tc *transactionCache) writeBack() error {
	futures := make([]store.Future, 0, len(tc.order))
	for _, m := range tc.order {
		cr := tc.rows[mutationKey{tid: m.tbl.ID(), key: m.key}]
		switch {
		case cr.row == nil:
			futures = append(futures, tc.client.Remove(m.tbl, tc.snap, m.key))
		case cr.existed:
			futures = append(futures, tc.client.Update(m.tbl, tc.snap, m.key, cr.row))
		default:
			futures = append(futures, tc.client.Insert(m.tbl, tc.snap, m.key, cr.row))
		}
	}

	var firstErr error
	for _, f := range futures {
		if err := f.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// revertWritten withdraws every written-back row, concurrently, and waits
// for all of the reverts.
func (tc *transactionCache) revertWritten() error {
	futures := make([]store.Future, 0, len(tc.order))
	for _, m := range tc.order {
		futures = append(futures, tc.client.Revert(m.tbl, tc.snap, m.key))
	}

	var firstErr error
	for _, f := range futures {
		if err := f.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// logRecords lists the rows this transaction will write, in mutation order,
// for the undo log.
func (tc *transactionCache) logRecords() []LogRecord {
	recs := make([]LogRecord, 0, len(tc.order))
	for _, m := range tc.order {
		recs = append(recs, LogRecord{Table: m.tbl.ID(), Key: m.key})
	}
	return recs
}
