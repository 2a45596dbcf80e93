package database

import (
	"testing"

	"github.com/gofrs/uuid"

	"github.com/keeldb/keel/record"
)

func TestCommitAssignsServerIdentities(t *testing.T) {
	db := newTestDatabase(t)

	tx, err := db.Begin(7)
	if err != nil {
		t.Fatal(err)
	}

	clientRID := record.NewRID(1, -2)
	rec := record.NewRecord(record.TypeDocument)
	rec.Fill(clientRID, record.TrackedVersion(0), []byte(`{"k":1}`), true)
	tx.AddCreate(rec)

	result, err := db.Commit()
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Created) != 1 {
		t.Fatalf("created pairs: %+v", result.Created)
	}
	pair := result.Created[0]
	if pair.ClientRID != clientRID {
		t.Errorf("client rid = %s", pair.ClientRID)
	}
	if !pair.Record.RID().IsPersistent() {
		t.Errorf("server rid = %s", pair.Record.RID())
	}

	// the stored record matches the returned identity and version
	loaded, err := db.Load(pair.Record.RID(), "", true, false, LockDefault)
	if err != nil || loaded == nil {
		t.Fatal(err)
	}
	if loaded.Version() != pair.Record.Version() {
		t.Errorf("version mismatch: %s vs %s", loaded.Version(), pair.Record.Version())
	}
}

func TestCommitCreatedThenUpdatedSameTx(t *testing.T) {
	db := newTestDatabase(t)

	tx, err := db.Begin(9)
	if err != nil {
		t.Fatal(err)
	}

	clientRID := record.NewRID(1, -2)
	created := record.NewRecord(record.TypeDocument)
	created.Fill(clientRID, record.TrackedVersion(0), []byte(`{"k":1}`), true)
	tx.AddCreate(created)

	update := record.NewRecord(record.TypeDocument)
	update.Fill(clientRID, record.TrackedVersion(0), []byte(`{"k":2}`), true)
	tx.AddUpdate(update)

	result, err := db.Commit()
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Created) != 1 {
		t.Fatalf("created pairs: %+v", result.Created)
	}
	if len(result.Updated) != 1 {
		t.Fatalf("updated pairs: %+v", result.Updated)
	}
	if result.Updated[0].RID != result.Created[0].Record.RID() {
		t.Errorf("updated rid %s does not match created server rid %s",
			result.Updated[0].RID, result.Created[0].Record.RID())
	}
	if result.Updated[0].Version.Counter != 1 {
		t.Errorf("final version = %s", result.Updated[0].Version)
	}

	loaded, err := db.Load(result.Created[0].Record.RID(), "", true, false, LockDefault)
	if err != nil || loaded == nil {
		t.Fatal(err)
	}
	if string(loaded.Bytes()) != `{"k":2}` {
		t.Errorf("final content: %s", loaded.Bytes())
	}
}

func TestCommitReportsCollectionChanges(t *testing.T) {
	db := newTestDatabase(t)

	ptr, err := db.CollectionManager().CreateCollection(1)
	if err != nil {
		t.Fatal(err)
	}
	id := uuid.Must(uuid.NewV4())
	db.CollectionManager().TrackChange(id, ptr)

	if _, err := db.Begin(1); err != nil {
		t.Fatal(err)
	}
	result, err := db.Commit()
	if err != nil {
		t.Fatal(err)
	}
	if len(result.CollectionChanges) != 1 {
		t.Fatalf("collection changes: %+v", result.CollectionChanges)
	}
	if result.CollectionChanges[0].ID != id || result.CollectionChanges[0].Pointer != ptr {
		t.Errorf("change = %+v", result.CollectionChanges[0])
	}
	// tracking is cleared after commit
	if len(db.CollectionManager().ChangedIDs()) != 0 {
		t.Error("changed ids survived the commit")
	}
}

func TestCommitFailureRollsBack(t *testing.T) {
	db := newTestDatabase(t)

	rec := newDocument(`{"k":1}`)
	if _, err := db.Save(rec, "", ModeSynchronous, false, nil, nil); err != nil {
		t.Fatal(err)
	}

	tx, err := db.Begin(2)
	if err != nil {
		t.Fatal(err)
	}
	// stale delete triggers an MVCC conflict at commit
	tx.AddDelete(rec.RID(), record.TrackedVersion(41))

	if _, err := db.Commit(); err == nil {
		t.Fatal("commit of a stale delete succeeded")
	}
	if db.Transaction() != nil {
		t.Error("transaction still active after failed commit")
	}

	loaded, err := db.Load(rec.RID(), "", true, false, LockDefault)
	if err != nil || loaded == nil {
		t.Error("record vanished despite the rollback")
	}
}

func TestRollbackRevertsIdentity(t *testing.T) {
	db := newTestDatabase(t)

	tx, err := db.Begin(3)
	if err != nil {
		t.Fatal(err)
	}
	clientRID := record.NewRID(1, -2)
	rec := record.NewRecord(record.TypeDocument)
	rec.Fill(clientRID, record.TrackedVersion(0), []byte(`{"k":1}`), true)
	tx.AddCreate(rec)

	// simulate an in-flight identity change before the rollback
	rec.SetRID(record.NewRID(1, 99))
	db.Rollback()

	if rec.RID() != clientRID {
		t.Errorf("identity not reverted: %s", rec.RID())
	}
	if tx.IsActive() {
		t.Error("transaction still active after rollback")
	}
}

func TestTxLookupSentinels(t *testing.T) {
	tx := NewTransaction(1)

	rid := record.NewRID(1, 4)
	if tx.GetRecord(rid) != nil {
		t.Error("empty tx returned a record")
	}

	rec := record.NewRecord(record.TypeDocument)
	rec.Fill(rid, record.TrackedVersion(0), []byte(`{}`), true)
	tx.AddUpdate(rec)
	if tx.GetRecord(rid) != rec {
		t.Error("updated record not returned")
	}

	tx.AddDelete(rid, record.TrackedVersion(0))
	if tx.GetRecord(rid) != DeletedRecord {
		t.Error("deleted rid did not yield the sentinel")
	}
}

func TestDeleteCancelsInTxCreate(t *testing.T) {
	db := newTestDatabase(t)

	tx, err := db.Begin(4)
	if err != nil {
		t.Fatal(err)
	}
	clientRID := record.NewRID(1, -2)
	rec := record.NewRecord(record.TypeDocument)
	rec.Fill(clientRID, record.TrackedVersion(0), []byte(`{"k":1}`), true)
	tx.AddCreate(rec)
	tx.AddDelete(clientRID, record.TrackedVersion(0))

	result, err := db.Commit()
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Created) != 0 {
		t.Errorf("cancelled create still committed: %+v", result.Created)
	}
	if count, _ := db.Storage().CountRecords(); count != 0 {
		t.Errorf("storage holds %d records", count)
	}
}
