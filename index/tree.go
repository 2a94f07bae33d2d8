package index

import (
	"encoding/binary"
	"fmt"

	"github.com/leftmike/kvtx/field"
)

// TreeBackend persists the nodes of an index tree. Node zero is reserved;
// FetchRoot returns zero for an empty tree.
type TreeBackend interface {
	FetchRoot() (uint64, error)
	StoreRoot(id uint64) error
	FetchNode(id uint64) ([]byte, error)
	StoreNode(id uint64, data []byte) error
	AllocateNode() (uint64, error)
}

// Entry is one persisted index entry.
type Entry struct {
	Key   Key
	Value Value
}

// Tree is an ordered map of index entries persisted as a chain of sorted
// nodes, each node a single row in the backing store. Nodes split when
// they grow past maxNodeEntries; they are never merged or rebalanced.
type Tree struct {
	backend TreeBackend
}

const maxNodeEntries = 32

type node struct {
	next    uint64
	entries []Entry
}

func NewTree(backend TreeBackend) *Tree {
	return &Tree{
		backend: backend,
	}
}

func encodeNode(nd *node) []byte {
	buf := make([]byte, 0, 64)
	buf = encodeUint64(buf, nd.next)
	buf = encodeUint32(buf, uint32(len(nd.entries)))
	for _, e := range nd.entries {
		buf = e.Key.Encode(buf)
		buf = e.Value.Encode(buf)
	}
	return buf
}

func decodeNode(buf []byte) (*node, error) {
	if len(buf) < 12 {
		return nil, fmt.Errorf("index: node too short: %d bytes", len(buf))
	}
	nd := node{
		next: binary.BigEndian.Uint64(buf),
	}
	cnt := binary.BigEndian.Uint32(buf[8:])
	buf = buf[12:]

	for i := uint32(0); i < cnt; i++ {
		var e Entry
		var ok bool
		e.Key, buf, ok = DecodeKey(buf)
		if !ok {
			return nil, fmt.Errorf("index: bad entry key in node")
		}
		e.Value, buf, ok = DecodeValue(buf)
		if !ok {
			return nil, fmt.Errorf("index: bad entry value in node")
		}
		nd.entries = append(nd.entries, e)
	}
	if len(buf) > 0 {
		return nil, fmt.Errorf("index: %d trailing bytes in node", len(buf))
	}
	return &nd, nil
}

func (tr *Tree) fetchNode(id uint64) (*node, error) {
	buf, err := tr.backend.FetchNode(id)
	if err != nil {
		return nil, err
	}
	return decodeNode(buf)
}

func (tr *Tree) storeNode(id uint64, nd *node) error {
	return tr.backend.StoreNode(id, encodeNode(nd))
}

// holds reports whether key k belongs in this node: either it sorts at or
// before the node's last entry, or the node is the tail of the chain.
func (nd *node) holds(k Key) bool {
	if nd.next == 0 {
		return true
	}
	if len(nd.entries) == 0 {
		return false
	}
	return Compare(k, nd.entries[len(nd.entries)-1].Key) <= 0
}

// locate walks the chain to the node that holds k. It requires a non-empty
// tree.
func (tr *Tree) locate(rootID uint64, k Key) (uint64, *node, error) {
	id := rootID
	for {
		nd, err := tr.fetchNode(id)
		if err != nil {
			return 0, nil, err
		}
		if nd.holds(k) {
			return id, nd, nil
		}
		id = nd.next
	}
}

func (tr *Tree) Insert(k Key, v Value) error {
	rootID, err := tr.backend.FetchRoot()
	if err != nil {
		return err
	}

	if rootID == 0 {
		id, err := tr.backend.AllocateNode()
		if err != nil {
			return err
		}
		err = tr.storeNode(id, &node{entries: []Entry{{Key: k, Value: v}}})
		if err != nil {
			return err
		}
		return tr.backend.StoreRoot(id)
	}

	id, nd, err := tr.locate(rootID, k)
	if err != nil {
		return err
	}

	idx := len(nd.entries)
	for i, e := range nd.entries {
		if Compare(e.Key, k) > 0 {
			idx = i
			break
		}
	}
	nd.entries = append(nd.entries, Entry{})
	copy(nd.entries[idx+1:], nd.entries[idx:])
	nd.entries[idx] = Entry{Key: k, Value: v}

	if len(nd.entries) > maxNodeEntries {
		half := len(nd.entries) / 2
		newID, err := tr.backend.AllocateNode()
		if err != nil {
			return err
		}
		upper := node{
			next:    nd.next,
			entries: append([]Entry(nil), nd.entries[half:]...),
		}
		err = tr.storeNode(newID, &upper)
		if err != nil {
			return err
		}
		nd.next = newID
		nd.entries = nd.entries[:half]
	}
	return tr.storeNode(id, nd)
}

// EraseFields removes every entry whose projection equals fields and whose
// value points at rowKey, whatever its version, and returns how many were
// removed. Entries with the same projection but a different row are left
// alone; the projection is not required to be unique.
func (tr *Tree) EraseFields(fields []field.Field, rowKey uint64) (int, error) {
	rootID, err := tr.backend.FetchRoot()
	if err != nil {
		return 0, err
	}
	if rootID == 0 {
		return 0, nil
	}

	removed := 0
	id := rootID
	for id != 0 {
		nd, err := tr.fetchNode(id)
		if err != nil {
			return removed, err
		}

		kept := nd.entries[:0]
		past := false
		for _, e := range nd.entries {
			cmp := CompareFields(e.Key.Fields, fields)
			if cmp == 0 && e.Value.RowKey == rowKey {
				removed += 1
				continue
			}
			if cmp > 0 {
				past = true
			}
			kept = append(kept, e)
		}
		if len(kept) < len(nd.entries) {
			nd.entries = kept
			err = tr.storeNode(id, nd)
			if err != nil {
				return removed, err
			}
		}
		if past {
			break
		}
		id = nd.next
	}
	return removed, nil
}

// NodesFor returns the ids of the existing nodes that inserting or erasing
// the given keys would modify. It is a prediction: splits may allocate
// nodes beyond these.
func (tr *Tree) NodesFor(keys []Key) ([]uint64, error) {
	rootID, err := tr.backend.FetchRoot()
	if err != nil {
		return nil, err
	}
	if rootID == 0 {
		return nil, nil
	}

	seen := map[uint64]bool{}
	var ids []uint64
	for _, k := range keys {
		id, _, err := tr.locate(rootID, k)
		if err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// TreeIterator walks persisted entries in key order, forward or reverse.
// It is positioned on an entry until Done reports true.
type TreeIterator struct {
	tr      *Tree
	done    bool
	nd      *node
	idx     int
	reverse bool
	rev     []Entry
}

func (it *TreeIterator) Done() bool {
	return it.done
}

func (it *TreeIterator) Entry() Entry {
	if it.done {
		panic("index: Entry on exhausted iterator")
	}
	if it.reverse {
		return it.rev[it.idx]
	}
	return it.nd.entries[it.idx]
}

func (it *TreeIterator) Advance() error {
	if it.done {
		return nil
	}
	if it.reverse {
		it.idx -= 1
		if it.idx < 0 {
			it.done = true
		}
		return nil
	}

	it.idx += 1
	for it.idx >= len(it.nd.entries) {
		if it.nd.next == 0 {
			it.done = true
			return nil
		}
		nd, err := it.tr.fetchNode(it.nd.next)
		if err != nil {
			return err
		}
		it.nd = nd
		it.idx = 0
	}
	return nil
}

// LowerBound positions an iterator on the first entry with key >= k.
func (tr *Tree) LowerBound(k Key) (*TreeIterator, error) {
	rootID, err := tr.backend.FetchRoot()
	if err != nil {
		return nil, err
	}
	if rootID == 0 {
		return &TreeIterator{done: true}, nil
	}

	id := rootID
	for {
		nd, err := tr.fetchNode(id)
		if err != nil {
			return nil, err
		}
		for i, e := range nd.entries {
			if Compare(e.Key, k) >= 0 {
				return &TreeIterator{tr: tr, nd: nd, idx: i}, nil
			}
		}
		if nd.next == 0 {
			return &TreeIterator{done: true}, nil
		}
		id = nd.next
	}
}

// ReverseLowerBound positions an iterator on the last entry with key <= k;
// advancing moves toward smaller keys.
func (tr *Tree) ReverseLowerBound(k Key) (*TreeIterator, error) {
	rootID, err := tr.backend.FetchRoot()
	if err != nil {
		return nil, err
	}
	if rootID == 0 {
		return &TreeIterator{done: true}, nil
	}

	var rev []Entry
	id := rootID
	for id != 0 {
		nd, err := tr.fetchNode(id)
		if err != nil {
			return nil, err
		}
		past := false
		for _, e := range nd.entries {
			if Compare(e.Key, k) > 0 {
				past = true
				break
			}
			rev = append(rev, e)
		}
		if past {
			break
		}
		id = nd.next
	}

	if len(rev) == 0 {
		return &TreeIterator{done: true}, nil
	}
	return &TreeIterator{tr: tr, reverse: true, rev: rev, idx: len(rev) - 1}, nil
}
