package localstore

import (
	"path/filepath"
	"reflect"
	"testing"
)

func openTestDB(t *testing.T) (*SQLiteStorage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestSQLiteStorage_CRUD(t *testing.T) {
	db, _ := openTestDB(t)

	if _, ok, err := db.GetItem("missing"); err != nil || ok {
		t.Fatalf("GetItem(missing) = ok %v err %v", ok, err)
	}
	if err := db.SetItem("k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.SetItem("k", "v2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := db.GetItem("k")
	if err != nil || !ok || v != "v2" {
		t.Fatalf("GetItem = %q %v %v", v, ok, err)
	}
	if err := db.RemoveItem("k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := db.GetItem("k"); ok {
		t.Error("item still present after remove")
	}
}

func TestSQLiteStorage_Keys(t *testing.T) {
	db, _ := openTestDB(t)
	for _, k := range []string{"ledger.v1.data.2025-09", "ledger.v1.data.2025-01", "ledger.v1.syncId", "other"} {
		if err := db.SetItem(k, "1"); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	got, err := db.Keys("ledger.v1.data.")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []string{"ledger.v1.data.2025-01", "ledger.v1.data.2025-09"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("keys = %v, want %v", got, want)
	}
}

func TestSQLiteStorage_PersistsAcrossReopen(t *testing.T) {
	db, path := openTestDB(t)
	s := New(db, Options{})
	if err := s.SaveLocal("2025-09", map[string]int{"x": 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.SetSyncID("abc")
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	s2 := New(reopened, Options{})
	if got := s2.LoadLocal("2025-09"); string(got) != `{"x":1}` {
		t.Errorf("LoadLocal = %s", got)
	}
	if got := s2.GetSyncID(); got != "abc" {
		t.Errorf("sync id = %q", got)
	}
}

func TestSQLiteStorage_Closed(t *testing.T) {
	db, _ := openTestDB(t)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := db.SetItem("k", "v"); err == nil {
		t.Error("expected error on closed storage")
	}
	// A closed cache degrades to misses.
	if got := New(db, Options{}).LoadLocal("2025-09"); got != nil {
		t.Errorf("LoadLocal = %s", got)
	}
}
