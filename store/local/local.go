// Package local is an in-process implementation of the store client over a
// pluggable byte-level KV. Rows are multi-versioned: every commit publishes
// its writes under a new commit sequence number, reads under a snapshot see
// the newest version published no later than the snapshot began, and commit
// validation rejects write-write conflicts.
package local

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/leftmike/kvtx/store"
	"github.com/leftmike/kvtx/tuple"
)

var (
	lastTableIDKey = []byte{'m'}
	lastSeqKey     = []byte{'c'}
	lastVerKey     = []byte{'v'}

	errSnapshotFinalized = fmt.Errorf("local: snapshot already finalized")
	errReadOnlySnapshot  = fmt.Errorf("local: write to read-only snapshot")
)

type client struct {
	kv          KV
	mutex       sync.Mutex // guards lastVer and table creation
	commitMutex sync.Mutex // guards lastSeq and commit validation
	lastVer     uint64
	lastSeq     uint64
}

type table struct {
	id   store.TableID
	name string
	sch  *tuple.Schema
}

type writeKey struct {
	tid store.TableID
	key uint64
}

type write struct {
	tbl store.Table
	key uint64
	row *tuple.Tuple // nil removes the row
}

type snapshot struct {
	ver      uint64
	baseSeq  uint64
	readOnly bool

	mutex     sync.Mutex
	writes    []writeKey
	byKey     map[writeKey]*write
	finalized bool
}

// MakeStore layers a store client over kv.
func MakeStore(kv KV) (store.Client, error) {
	lastSeq, err := getUint64(kv, lastSeqKey)
	if err != nil && err != io.EOF {
		return nil, err
	}
	lastVer, err := getUint64(kv, lastVerKey)
	if err != nil && err != io.EOF {
		return nil, err
	}

	return &client{
		kv:      kv,
		lastSeq: lastSeq,
		lastVer: lastVer,
	}, nil
}

func (tbl *table) ID() store.TableID {
	return tbl.id
}

func (tbl *table) Name() string {
	return tbl.name
}

func (tbl *table) Schema() *tuple.Schema {
	return tbl.sch
}

func (snap *snapshot) Version() uint64 {
	return snap.ver
}

func (snap *snapshot) ReadOnly() bool {
	return snap.readOnly
}

func getUint64(kv KV, key []byte) (uint64, error) {
	var u64 uint64
	err := kv.Get(key,
		func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("local: key %v: len(val) != 8: %d", key, len(val))
			}
			u64 = binary.BigEndian.Uint64(val)
			return nil
		})
	return u64, err
}

func encodeUint64(buf []byte, u uint64) []byte {
	return append(buf, byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
		byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

func tableKey(name string) []byte {
	return append([]byte{'t'}, name...)
}

func rowPrefix(tid store.TableID, key uint64) []byte {
	buf := encodeUint64(append(make([]byte, 0, 17), 'r'), uint64(tid))
	return encodeUint64(buf, key)
}

// Row versions are keyed newest first: the commit sequence is complemented
// so iterating forward from the prefix visits the most recent commit first.
func rowKey(tid store.TableID, key uint64, seq uint64) []byte {
	return encodeUint64(rowPrefix(tid, key), ^seq)
}

func counterKey(tid store.TableID, key uint64) []byte {
	buf := encodeUint64(append(make([]byte, 0, 17), 'n'), uint64(tid))
	return encodeUint64(buf, key)
}

func (c *client) GetTable(name string) store.TableFuture {
	r := store.NewResult()

	var tbl *table
	err := c.kv.Get(tableKey(name),
		func(val []byte) error {
			var err error
			tbl, err = decodeTable(name, val)
			return err
		})
	if err == io.EOF {
		r.CompleteTable(nil, store.ErrTableNotFound)
	} else if err != nil {
		r.CompleteTable(nil, err)
	} else {
		r.CompleteTable(tbl, nil)
	}
	return r
}

func decodeTable(name string, val []byte) (*table, error) {
	if len(val) < 8 {
		return nil, fmt.Errorf("local: table %s: metadata too short: %v", name, val)
	}
	sch, err := tuple.DecodeSchema(val[8:])
	if err != nil {
		return nil, err
	}
	return &table{
		id:   store.TableID(binary.BigEndian.Uint64(val)),
		name: name,
		sch:  sch,
	}, nil
}

func (c *client) CreateTable(name string, sch *tuple.Schema) store.TableFuture {
	r := store.NewResult()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	upd, err := c.kv.Updater()
	if err != nil {
		r.CompleteTable(nil, err)
		return r
	}

	err = upd.Get(tableKey(name), func([]byte) error { return nil })
	if err == nil {
		upd.Rollback()
		r.CompleteTable(nil, store.ErrTableExists)
		return r
	} else if err != io.EOF {
		upd.Rollback()
		r.CompleteTable(nil, err)
		return r
	}

	tid, err := getUint64(c.kv, lastTableIDKey)
	if err != nil && err != io.EOF {
		upd.Rollback()
		r.CompleteTable(nil, err)
		return r
	}
	tid += 1

	err = upd.Set(lastTableIDKey, encodeUint64(nil, tid))
	if err == nil {
		err = upd.Set(tableKey(name), append(encodeUint64(nil, tid), sch.Encode()...))
	}
	if err != nil {
		upd.Rollback()
		r.CompleteTable(nil, err)
		return r
	}
	err = upd.Commit(true)
	if err != nil {
		r.CompleteTable(nil, err)
		return r
	}

	r.CompleteTable(&table{id: store.TableID(tid), name: name, sch: sch}, nil)
	return r
}

func (c *client) Begin(readOnly bool) (store.Snapshot, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	ver := c.lastVer + 1
	upd, err := c.kv.Updater()
	if err != nil {
		return nil, err
	}
	err = upd.Set(lastVerKey, encodeUint64(nil, ver))
	if err != nil {
		upd.Rollback()
		return nil, err
	}
	err = upd.Commit(false)
	if err != nil {
		return nil, err
	}
	c.lastVer = ver

	c.commitMutex.Lock()
	baseSeq := c.lastSeq
	c.commitMutex.Unlock()

	return &snapshot{
		ver:      ver,
		baseSeq:  baseSeq,
		readOnly: readOnly,
		byKey:    map[writeKey]*write{},
	}, nil
}

// newestRow finds the most recent version of the row at or before seqBound.
func (c *client) newestRow(tid store.TableID, key uint64, seqBound uint64,
	fn func(ver uint64, val []byte) error) error {

	prefix := rowPrefix(tid, key)
	it, err := c.kv.Iterate(prefix)
	if err != nil {
		return err
	}
	defer it.Close()

	for {
		var done bool
		err = it.Item(
			func(kvKey, val []byte) error {
				if len(kvKey) != len(prefix)+8 || !bytesHasPrefix(kvKey, prefix) {
					return io.EOF
				}
				seq := ^binary.BigEndian.Uint64(kvKey[len(prefix):])
				if seq > seqBound {
					return nil // newer than the snapshot; keep looking
				}
				if len(val) < 8 {
					return fmt.Errorf("local: row value too short: %v", val)
				}
				done = true
				return fn(binary.BigEndian.Uint64(val), val[8:])
			})
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// newestSeq returns the newest commit sequence that wrote the row, or zero
// if the row has never been written.
func (c *client) newestSeq(tid store.TableID, key uint64) (uint64, error) {
	prefix := rowPrefix(tid, key)
	it, err := c.kv.Iterate(prefix)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var newest uint64
	err = it.Item(
		func(kvKey, val []byte) error {
			if len(kvKey) == len(prefix)+8 && bytesHasPrefix(kvKey, prefix) {
				newest = ^binary.BigEndian.Uint64(kvKey[len(prefix):])
			}
			return nil
		})
	if err != nil && err != io.EOF {
		return 0, err
	}
	return newest, nil
}

func bytesHasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (c *client) Get(tbl store.Table, snap store.Snapshot, key uint64) store.TupleFuture {
	r := store.NewResult()

	seqBound := uint64(math.MaxUint64)
	if snap != nil {
		seqBound = snap.(*snapshot).baseSeq
	}

	var row *tuple.Tuple
	err := c.newestRow(tbl.ID(), key, seqBound,
		func(ver uint64, val []byte) error {
			if len(val) == 0 {
				return store.ErrKeyNotFound // tombstone
			}
			var err error
			row, err = tuple.DecodeTuple(tbl.Schema(), val)
			return err
		})
	if err == io.EOF {
		err = store.ErrKeyNotFound
	}
	r.CompleteRow(row, err)
	return r
}

func (c *client) stage(tbl store.Table, snap store.Snapshot, key uint64,
	row *tuple.Tuple) store.Future {

	r := store.NewResult()
	if snap == nil {
		r.Complete(c.applyDirect(tbl, key, row))
		return r
	}

	s := snap.(*snapshot)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.finalized {
		r.Complete(errSnapshotFinalized)
		return r
	}
	if s.readOnly {
		r.Complete(errReadOnlySnapshot)
		return r
	}

	wk := writeKey{tid: tbl.ID(), key: key}
	if w, ok := s.byKey[wk]; ok {
		w.row = row // later write of the same row replaces the earlier one
	} else {
		s.byKey[wk] = &write{tbl: tbl, key: key, row: row}
		s.writes = append(s.writes, wk)
	}
	r.Complete(nil)
	return r
}

// applyDirect publishes a single-row auto-committed write.
func (c *client) applyDirect(tbl store.Table, key uint64, row *tuple.Tuple) error {
	c.commitMutex.Lock()
	defer c.commitMutex.Unlock()

	seq := c.lastSeq + 1
	upd, err := c.kv.Updater()
	if err != nil {
		return err
	}

	val := encodeUint64(nil, 0)
	if row != nil {
		val = append(val, row.Encode()...)
	}
	err = upd.Set(rowKey(tbl.ID(), key, seq), val)
	if err == nil {
		err = upd.Set(lastSeqKey, encodeUint64(nil, seq))
	}
	if err != nil {
		upd.Rollback()
		return err
	}
	err = upd.Commit(true)
	if err != nil {
		return err
	}
	c.lastSeq = seq
	return nil
}

func (c *client) Insert(tbl store.Table, snap store.Snapshot, key uint64,
	row *tuple.Tuple) store.Future {

	return c.stage(tbl, snap, key, row)
}

func (c *client) Update(tbl store.Table, snap store.Snapshot, key uint64,
	row *tuple.Tuple) store.Future {

	return c.stage(tbl, snap, key, row)
}

func (c *client) Remove(tbl store.Table, snap store.Snapshot, key uint64) store.Future {
	return c.stage(tbl, snap, key, nil)
}

func (c *client) Revert(tbl store.Table, snap store.Snapshot, key uint64) store.Future {
	r := store.NewResult()

	s := snap.(*snapshot)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.finalized {
		r.Complete(errSnapshotFinalized)
		return r
	}

	delete(s.byKey, writeKey{tid: tbl.ID(), key: key})
	r.Complete(nil)
	return r
}

func (c *client) Commit(snap store.Snapshot) store.Future {
	r := store.NewResult()

	s := snap.(*snapshot)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.finalized {
		r.Complete(errSnapshotFinalized)
		return r
	}

	c.commitMutex.Lock()
	defer c.commitMutex.Unlock()

	// First committer wins: any row this snapshot wrote that was published
	// after the snapshot began is a conflict. The snapshot stays open so the
	// caller can revert and release it.
	for _, wk := range s.writes {
		w, ok := s.byKey[wk]
		if !ok {
			continue // reverted
		}
		newest, err := c.newestSeq(wk.tid, w.key)
		if err != nil {
			r.Complete(err)
			return r
		}
		if newest > s.baseSeq {
			r.Complete(store.ErrConflict)
			return r
		}
	}

	seq := c.lastSeq + 1
	upd, err := c.kv.Updater()
	if err != nil {
		r.Complete(err)
		return r
	}
	for _, wk := range s.writes {
		w, ok := s.byKey[wk]
		if !ok {
			continue
		}
		val := encodeUint64(nil, s.ver)
		if w.row != nil {
			val = append(val, w.row.Encode()...)
		}
		err = upd.Set(rowKey(wk.tid, w.key, seq), val)
		if err != nil {
			upd.Rollback()
			r.Complete(err)
			return r
		}
	}
	err = upd.Set(lastSeqKey, encodeUint64(nil, seq))
	if err != nil {
		upd.Rollback()
		r.Complete(err)
		return r
	}
	err = upd.Commit(true)
	if err != nil {
		r.Complete(err)
		return r
	}

	c.lastSeq = seq
	s.finalized = true
	r.Complete(nil)
	return r
}

func (c *client) Increment(tbl store.Table, key uint64, delta uint64) store.ValueFuture {
	r := store.NewResult()

	upd, err := c.kv.Updater()
	if err != nil {
		r.CompleteValue(0, err)
		return r
	}

	var cur uint64
	ck := counterKey(tbl.ID(), key)
	err = upd.Get(ck,
		func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("local: counter %v: len(val) != 8: %d", ck, len(val))
			}
			cur = binary.BigEndian.Uint64(val)
			return nil
		})
	if err != nil && err != io.EOF {
		upd.Rollback()
		r.CompleteValue(0, err)
		return r
	}

	cur += delta
	err = upd.Set(ck, encodeUint64(nil, cur))
	if err != nil {
		upd.Rollback()
		r.CompleteValue(0, err)
		return r
	}
	err = upd.Commit(true)
	if err != nil {
		r.CompleteValue(0, err)
		return r
	}

	r.CompleteValue(cur, nil)
	return r
}
