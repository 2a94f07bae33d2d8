package local_test

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/leftmike/kvtx/store/local"
	"github.com/leftmike/kvtx/testutil"
)

func testKV(t *testing.T, kv local.KV) {
	t.Helper()

	pairs := []struct {
		key, val string
	}{
		{"aaa", "one"},
		{"abc", "two"},
		{"abd", "three"},
		{"b", "four"},
	}

	upd, err := kv.Updater()
	if err != nil {
		t.Fatalf("Updater() failed with %s", err)
	}
	for _, p := range pairs {
		if err = upd.Set([]byte(p.key), []byte(p.val)); err != nil {
			t.Fatalf("Set(%s) failed with %s", p.key, err)
		}
	}

	// Staged writes are visible to the updater before commit.
	err = upd.Get([]byte("abc"),
		func(val []byte) error {
			if string(val) != "two" {
				t.Errorf("Get(abc) got %s want two", val)
			}
			return nil
		})
	if err != nil {
		t.Errorf("Get(abc) failed with %s", err)
	}
	if err = upd.Commit(true); err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}

	for _, p := range pairs {
		err = kv.Get([]byte(p.key),
			func(val []byte) error {
				if string(val) != p.val {
					t.Errorf("Get(%s) got %s want %s", p.key, val, p.val)
				}
				return nil
			})
		if err != nil {
			t.Errorf("Get(%s) failed with %s", p.key, err)
		}
	}
	err = kv.Get([]byte("missing"), func([]byte) error { return nil })
	if err != io.EOF {
		t.Errorf("Get(missing) got %v want io.EOF", err)
	}

	// Iterate from a prefix, in key order.
	it, err := kv.Iterate([]byte("ab"))
	if err != nil {
		t.Fatalf("Iterate() failed with %s", err)
	}
	var keys []string
	for {
		err = it.Item(
			func(key, val []byte) error {
				keys = append(keys, string(key))
				return nil
			})
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Item() failed with %s", err)
		}
	}
	it.Close()
	want := []string{"abc", "abd", "b"}
	if eq, trc := testutil.DeepEqual(keys, want); !eq {
		t.Errorf("Iterate(ab) got %v want %v: %s", keys, want, trc)
	}

	// A rolled back updater leaves nothing behind.
	upd, err = kv.Updater()
	if err != nil {
		t.Fatalf("Updater() failed with %s", err)
	}
	if err = upd.Set([]byte("zzz"), []byte("discard")); err != nil {
		t.Fatalf("Set(zzz) failed with %s", err)
	}
	upd.Rollback()

	err = kv.Get([]byte("zzz"), func([]byte) error { return nil })
	if err != io.EOF {
		t.Errorf("Get(zzz) after rollback got %v want io.EOF", err)
	}

	// Overwrites replace.
	upd, err = kv.Updater()
	if err != nil {
		t.Fatalf("Updater() failed with %s", err)
	}
	if err = upd.Set([]byte("aaa"), []byte("replaced")); err != nil {
		t.Fatalf("Set(aaa) failed with %s", err)
	}
	if err = upd.Commit(false); err != nil {
		t.Fatalf("Commit() failed with %s", err)
	}
	err = kv.Get([]byte("aaa"),
		func(val []byte) error {
			if !bytes.Equal(val, []byte("replaced")) {
				t.Errorf("Get(aaa) got %s want replaced", val)
			}
			return nil
		})
	if err != nil {
		t.Errorf("Get(aaa) failed with %s", err)
	}
}

func TestBTreeKV(t *testing.T) {
	testKV(t, local.MakeBTreeKV())
}

func TestBadgerKV(t *testing.T) {
	dataDir := filepath.Join("testdata", "badger")
	if err := testutil.CleanDir(dataDir); err != nil {
		t.Fatalf("CleanDir() failed with %s", err)
	}

	kv, err := local.MakeBadgerKV(dataDir, testutil.SetupLogger(
		filepath.Join("testdata", "badger.log")))
	if err != nil {
		t.Fatalf("MakeBadgerKV() failed with %s", err)
	}
	testKV(t, kv)
}

func TestBBoltKV(t *testing.T) {
	dataDir := filepath.Join("testdata", "bbolt")
	if err := testutil.CleanDir(dataDir); err != nil {
		t.Fatalf("CleanDir() failed with %s", err)
	}

	kv, err := local.MakeBBoltKV(dataDir)
	if err != nil {
		t.Fatalf("MakeBBoltKV() failed with %s", err)
	}
	testKV(t, kv)
}

func TestPebbleKV(t *testing.T) {
	dataDir := filepath.Join("testdata", "pebble")
	if err := testutil.CleanDir(dataDir); err != nil {
		t.Fatalf("CleanDir() failed with %s", err)
	}

	kv, err := local.MakePebbleKV(dataDir, testutil.SetupLogger(
		filepath.Join("testdata", "pebble.log")))
	if err != nil {
		t.Fatalf("MakePebbleKV() failed with %s", err)
	}
	testKV(t, kv)
}
