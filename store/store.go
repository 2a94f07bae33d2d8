package store

import (
	"errors"

	"github.com/leftmike/kvtx/tuple"
)

var (
	ErrTableNotFound = errors.New("store: table not found")
	ErrTableExists   = errors.New("store: table already exists")
	ErrKeyNotFound   = errors.New("store: key not found")

	// ErrConflict is reported by Commit when another transaction committed a
	// newer version of a row this snapshot wrote. The snapshot stays open so
	// the caller can revert its writes and release it.
	ErrConflict = errors.New("store: write conflict committing snapshot")
)

type TableID uint64

type Table interface {
	ID() TableID
	Name() string
	Schema() *tuple.Schema
}

// Snapshot is the consistency view of one transaction. Version is assigned
// at Begin, is unique across snapshots, and never changes.
type Snapshot interface {
	Version() uint64
	ReadOnly() bool
}

// Futures are asynchronous request/response handles. The store may complete
// them in any order; the caller that issued an operation always eventually
// waits on it. There is no cancellation.
type Future interface {
	// Wait blocks until the operation completes and returns its error.
	Wait() error
}

type TableFuture interface {
	Future
	// Table waits and returns the table handle.
	Table() (Table, error)
}

type TupleFuture interface {
	Future
	// Row waits and returns the fetched row.
	Row() (*tuple.Tuple, error)
}

type ValueFuture interface {
	Future
	// Value waits and returns the resulting value.
	Value() (uint64, error)
}

// Client is the interface consumed from the underlying key-value store. The
// store guarantees single-row atomicity; everything transactional is built
// above it. Row operations with a nil snapshot are applied immediately as
// single-row auto-committed writes.
type Client interface {
	GetTable(name string) TableFuture
	CreateTable(name string, sch *tuple.Schema) TableFuture

	Begin(readOnly bool) (Snapshot, error)

	Get(tbl Table, snap Snapshot, key uint64) TupleFuture
	Insert(tbl Table, snap Snapshot, key uint64, row *tuple.Tuple) Future
	Update(tbl Table, snap Snapshot, key uint64, row *tuple.Tuple) Future
	Remove(tbl Table, snap Snapshot, key uint64) Future

	// Revert withdraws this snapshot's write of key, compensating a row
	// recorded in an undo log.
	Revert(tbl Table, snap Snapshot, key uint64) Future

	// Commit finalizes the snapshot: it validates the snapshot's writes,
	// publishes them at a new version, and releases the snapshot. A
	// snapshot without writes is only released. Commit is also how a
	// rolled back snapshot is released after its writes were reverted.
	Commit(snap Snapshot) Future

	// Increment atomically adds delta to the row's counter value and
	// returns the result. It is not snapshot-scoped.
	Increment(tbl Table, key uint64, delta uint64) ValueFuture
}
