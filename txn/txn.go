// Package txn layers snapshot-isolated multi-row transactions over a store
// that only guarantees single-row atomicity. Writes are buffered in a
// transaction cache, made recoverable through a durable undo log, written
// back, and then published atomically by finalizing the snapshot.
package txn

import (
	"errors"

	"github.com/leftmike/kvtx/index"
	"github.com/leftmike/kvtx/store"
)

var (
	ErrTransactionComplete = errors.New("txn: transaction already completed")
	ErrKeyExists           = errors.New("txn: key already exists")
	ErrReadOnly            = errors.New("txn: read-only transaction")
)

// Store is the session-scoped entry point: it owns the store client and the
// index registry shared by all transactions.
type Store struct {
	client  store.Client
	idxs    *index.Indexes
	undoTbl store.Table
}

func NewStore(client store.Client) (*Store, error) {
	idxs, err := index.NewIndexes(client)
	if err != nil {
		return nil, err
	}
	undoTbl, err := openUndoLog(client)
	if err != nil {
		return nil, err
	}

	return &Store{
		client:  client,
		idxs:    idxs,
		undoTbl: undoTbl,
	}, nil
}

// Transaction is a single-goroutine unit of work. Once committed or rolled
// back it is complete: every later operation fails with
// ErrTransactionComplete.
type Transaction struct {
	st     *Store // nil means the transaction is complete
	snap   store.Snapshot
	cache  *transactionCache
	tables map[store.TableID]*Table
}

func (st *Store) Begin(readOnly bool) (*Transaction, error) {
	snap, err := st.client.Begin(readOnly)
	if err != nil {
		return nil, err
	}

	return &Transaction{
		st:     st,
		snap:   snap,
		cache:  newCache(st.client, snap),
		tables: map[store.TableID]*Table{},
	}, nil
}

// Version is the transaction's snapshot version; it keys the undo log.
func (tx *Transaction) Version() uint64 {
	return tx.snap.Version()
}

func (tx *Transaction) store() (*Store, error) {
	if tx.st == nil {
		return nil, ErrTransactionComplete
	}
	return tx.st, nil
}

// complete drops the transaction-scoped state; everything the transaction
// allocated becomes garbage at once.
func (tx *Transaction) complete() {
	tx.st = nil
	tx.cache = nil
	tx.tables = nil
}

// wrappers collects the index wrappers of every table this transaction
// touched.
func (tx *Transaction) wrappers() []*index.Wrapper {
	var ws []*index.Wrapper
	for _, tt := range tx.tables {
		for _, w := range tt.wrappers {
			ws = append(ws, w)
		}
	}
	return ws
}

// Commit publishes the transaction. The protocol: serialize the undo log
// and persist it durably, write the buffered rows back, flush the index
// deltas, then finalize the snapshot. Only the finalize is atomic; the undo
// log is what makes the written-back rows recoverable if this process dies
// in between. On a write-write conflict the written rows are reverted, the
// snapshot is released, and store.ErrConflict is returned for the caller to
// retry with a fresh transaction.
func (tx *Transaction) Commit() error {
	st, err := tx.store()
	if err != nil {
		return err
	}

	if !tx.cache.hasChanges() {
		tx.complete()
		return st.client.Commit(tx.snap).Wait()
	}
	if tx.snap.ReadOnly() {
		return ErrReadOnly
	}

	recs := tx.cache.logRecords()
	ws := tx.wrappers()
	for _, w := range ws {
		refs, err := w.TouchedRows()
		if err != nil {
			return err
		}
		for _, ref := range refs {
			recs = append(recs, LogRecord{Table: ref.Table, Key: ref.Key})
		}
	}
	writeUndoLog(st.client, st.undoTbl, tx.snap.Version(), encodeLog(recs))

	err = tx.cache.writeBack()
	if err == nil {
		for _, w := range ws {
			if err = w.Flush(); err != nil {
				break
			}
		}
	}
	if err != nil {
		tx.abortWritten(st, ws)
		return err
	}

	err = st.client.Commit(tx.snap).Wait()
	if err == store.ErrConflict {
		tx.abortWritten(st, ws)
		return store.ErrConflict
	}
	tx.complete()
	return err
}

// abortWritten reverts everything written back under the snapshot, waits
// for all of the reverts, and releases the snapshot.
func (tx *Transaction) abortWritten(st *Store, ws []*index.Wrapper) {
	tx.cache.revertWritten()

	var futures []store.Future
	for _, w := range ws {
		futures = append(futures, w.RevertWritten()...)
	}
	for _, f := range futures {
		f.Wait()
	}

	st.client.Commit(tx.snap).Wait()
	tx.complete()
}

// Rollback discards the buffered state and releases the snapshot. Nothing
// was written back, so there is nothing to compensate.
func (tx *Transaction) Rollback() error {
	st, err := tx.store()
	if err != nil {
		return err
	}

	tx.complete()
	return st.client.Commit(tx.snap).Wait()
}

// Close rolls back a transaction that was never finalized. It is safe to
// defer unconditionally.
func (tx *Transaction) Close() error {
	if tx.st == nil {
		return nil
	}
	return tx.Rollback()
}
