package database

import (
	"testing"

	"github.com/keeldb/keel/record"
)

func TestLocalCacheLifecycle(t *testing.T) {
	lc := NewLocalCache(4)

	rid := record.NewRID(1, 1)
	rec := record.NewRecord(record.TypeDocument)
	rec.Fill(rid, record.TrackedVersion(0), []byte(`{}`), false)

	// stopped cache ignores everything
	lc.UpdateRecord(rec)
	if lc.FindRecord(rid) != nil {
		t.Error("stopped cache returned a record")
	}

	lc.Startup()
	lc.UpdateRecord(rec)
	if lc.FindRecord(rid) != rec {
		t.Error("cache miss after update")
	}

	lc.DeleteRecord(rid)
	if lc.FindRecord(rid) != nil {
		t.Error("record survived the delete")
	}

	lc.UpdateRecord(rec)
	lc.Clear()
	if lc.Size() != 0 {
		t.Errorf("size after clear = %d", lc.Size())
	}

	lc.UpdateRecord(rec)
	lc.Shutdown()
	if lc.FindRecord(rid) != nil {
		t.Error("shutdown cache returned a record")
	}
}

func TestLocalCacheIgnoresNewRecords(t *testing.T) {
	lc := NewLocalCache(4)
	lc.Startup()

	rec := record.NewRecord(record.TypeDocument)
	lc.UpdateRecord(rec)
	if lc.Size() != 0 {
		t.Error("cache stored a record without identity")
	}
}

func TestLocalCacheBounded(t *testing.T) {
	lc := NewLocalCache(2)
	lc.Startup()

	for i := int64(0); i < 5; i++ {
		rec := record.NewRecord(record.TypeDocument)
		rec.Fill(record.NewRID(1, i), record.TrackedVersion(0), []byte(`{}`), false)
		lc.UpdateRecord(rec)
	}
	if lc.Size() > 2 {
		t.Errorf("cache grew past its bound: %d", lc.Size())
	}
}
