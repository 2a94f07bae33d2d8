package txn_test

import (
	"testing"

	"github.com/leftmike/kvtx/store"
	"github.com/leftmike/kvtx/testutil"
	"github.com/leftmike/kvtx/txn"
)

func commitAccounts(t *testing.T, st *txn.Store, keys []uint64) uint64 {
	t.Helper()

	sch := accountSchema(t, false)
	tx := begin(t, st, false)
	tt, err := tx.OpenTable("accounts")
	if err == store.ErrTableNotFound {
		tt, err = tx.CreateTable("accounts", sch)
	}
	if err != nil {
		t.Fatalf("open accounts failed with %s", err)
	}

	for _, key := range keys {
		err = tt.Insert(key, accountRow(sch, int64(key), "owner", 0))
		if err != nil {
			t.Fatalf("Insert(%d) failed with %s", key, err)
		}
	}

	ver := tx.Version()
	if err = tx.Commit(); err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}
	return ver
}

func TestUndoLogOrder(t *testing.T) {
	c, st := makeStore(t)

	// Keys deliberately out of order: the log preserves mutation order, not
	// key order.
	keys := []uint64{7, 3, 9, 1, 4}
	ver := commitAccounts(t, st, keys)

	recs, err := txn.ReadUndoLog(c, ver)
	if err != nil {
		t.Fatalf("ReadUndoLog() failed with %s", err)
	}
	if len(recs) == 0 {
		t.Fatalf("ReadUndoLog() got no records")
	}
	want := make([]txn.LogRecord, 0, len(keys))
	for _, key := range keys {
		want = append(want, txn.LogRecord{Table: recs[0].Table, Key: key})
	}
	if eq, trc := testutil.DeepEqual(recs, want); !eq {
		t.Errorf("ReadUndoLog() got %v want %v: %s", recs, want, trc)
	}
}

func TestUndoLogOverwrite(t *testing.T) {
	c, st := makeStore(t)
	sch := accountSchema(t, false)

	tx := begin(t, st, false)
	tt, err := tx.CreateTable("accounts", sch)
	if err != nil {
		t.Fatalf("CreateTable() failed with %s", err)
	}

	// Writing the same row twice logs it once.
	old := accountRow(sch, 1, "alice", 10)
	if err = tt.Insert(1, old); err != nil {
		t.Fatalf("Insert() failed with %s", err)
	}
	if err = tt.Update(1, old, accountRow(sch, 1, "alice", 20)); err != nil {
		t.Fatalf("Update() failed with %s", err)
	}

	ver := tx.Version()
	if err = tx.Commit(); err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}

	recs, err := txn.ReadUndoLog(c, ver)
	if err != nil {
		t.Fatalf("ReadUndoLog() failed with %s", err)
	}
	if len(recs) != 1 {
		t.Errorf("ReadUndoLog() got %d records want 1", len(recs))
	}
}

// Each record is 16 bytes and a chunk is 1024, so 64 records exactly fill
// one chunk and 65 force the multi-chunk layout.
func TestUndoLogChunks(t *testing.T) {
	cases := []int{1, 63, 64, 65, 130}

	for _, cnt := range cases {
		c, st := makeStore(t)

		keys := make([]uint64, cnt)
		for i := range keys {
			keys[i] = uint64(i + 1)
		}
		ver := commitAccounts(t, st, keys)

		recs, err := txn.ReadUndoLog(c, ver)
		if err != nil {
			t.Fatalf("ReadUndoLog(%d) failed with %s", cnt, err)
		}
		if len(recs) != cnt {
			t.Fatalf("ReadUndoLog(%d) got %d records", cnt, len(recs))
		}
		for i, rec := range recs {
			if rec.Key != keys[i] {
				t.Errorf("ReadUndoLog(%d) record %d got key %d want %d", cnt, i,
					rec.Key, keys[i])
			}
		}
	}
}

func TestUndoLogAbsent(t *testing.T) {
	c, st := makeStore(t)
	commitAccounts(t, st, []uint64{1})

	// A version that never logged has no records.
	recs, err := txn.ReadUndoLog(c, 999999)
	if err != nil {
		t.Fatalf("ReadUndoLog() failed with %s", err)
	}
	if len(recs) != 0 {
		t.Errorf("ReadUndoLog() got %d records want 0", len(recs))
	}
}
