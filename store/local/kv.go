package local

// KV is the byte-level storage the local store is layered over. Missing
// keys are reported as io.EOF, and iterators report io.EOF when exhausted.
type KV interface {
	Iterate(minKey []byte) (Iterator, error)
	Get(key []byte, fn func(val []byte) error) error
	Updater() (Updater, error)
}

// Updater is a single pending batch of writes; only one is open at a time.
type Updater interface {
	Get(key []byte, fn func(val []byte) error) error
	Set(key, val []byte) error
	Commit(sync bool) error
	Rollback()
}

type Iterator interface {
	Item(fn func(key, val []byte) error) error
	Close()
}
