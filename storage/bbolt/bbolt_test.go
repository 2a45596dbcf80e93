package bbolt

import (
	"errors"
	"testing"

	"github.com/keeldb/keel/record"
	"github.com/keeldb/keel/storage"
)

func newTestStorage(t *testing.T) storage.Interface {
	t.Helper()
	st, err := NewBBolt("testing", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Create(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCreateOpenCycle(t *testing.T) {
	dir := t.TempDir()
	st, err := NewBBolt("cycle", dir)
	if err != nil {
		t.Fatal(err)
	}
	if st.Exists() {
		t.Fatal("storage exists before create")
	}
	if err := st.Create(); err != nil {
		t.Fatal(err)
	}
	rid, _, err := st.SaveRecord(record.NewRecordRID(1), []byte("persisted"), record.TrackedVersion(0), record.TypeBytes)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBBolt("cycle", dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := reopened.Open(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reopened.Close() }()

	read, err := reopened.ReadRecord(rid, false)
	if err != nil || read.Buffer == nil {
		t.Fatalf("record lost across reopen: %+v, %v", read, err)
	}
	if string(read.Buffer.Bytes) != "persisted" {
		t.Errorf("content mismatch: %s", read.Buffer.Bytes)
	}
}

func TestSaveUpdateDelete(t *testing.T) {
	st := newTestStorage(t)

	rid, result, err := st.SaveRecord(record.NewRecordRID(1), []byte("v0"), record.TrackedVersion(0), record.TypeBytes)
	if err != nil || result.Version.Counter != 0 {
		t.Fatalf("create = %+v, %v", result, err)
	}

	_, result, err = st.SaveRecord(rid, []byte("v1"), record.TrackedVersion(0), record.TypeBytes)
	if err != nil || result.Version.Counter != 1 {
		t.Fatalf("update = %+v, %v", result, err)
	}

	_, _, err = st.SaveRecord(rid, []byte("v2"), record.TrackedVersion(0), record.TypeBytes)
	var conflict *storage.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if _, err := st.DeleteRecord(rid, record.TrackedVersion(1)); err != nil {
		t.Fatal(err)
	}
	read, err := st.ReadRecord(rid, true)
	if err != nil || read.Buffer == nil || !read.Buffer.Version.IsTombstone() {
		t.Errorf("tombstone missing: %+v, %v", read, err)
	}
}

func TestPositionsCursor(t *testing.T) {
	st := newTestStorage(t)

	var positions []int64
	for i := 0; i < 4; i++ {
		rid, _, err := st.SaveRecord(record.NewRecordRID(1), []byte{byte(i)}, record.TrackedVersion(0), record.TypeBytes)
		if err != nil {
			t.Fatal(err)
		}
		positions = append(positions, rid.ClusterPosition)
	}

	higher, err := st.HigherPositions(1, positions[0], 10)
	if err != nil || len(higher) != 3 {
		t.Fatalf("higher = %+v, %v", higher, err)
	}
	floor, err := st.FloorPositions(1, positions[2], 10)
	if err != nil || len(floor) != 3 || floor[0].Position != positions[2] {
		t.Fatalf("floor = %+v, %v", floor, err)
	}
	lower, err := st.LowerPositions(1, positions[0], 10)
	if err != nil || len(lower) != 0 {
		t.Fatalf("lower below first = %+v, %v", lower, err)
	}

	min, max, err := st.ClusterDataRange(1)
	if err != nil || min != positions[0] || max != positions[3] {
		t.Errorf("range = %d..%d, %v", min, max, err)
	}
}

func TestClusterManagement(t *testing.T) {
	st := newTestStorage(t)

	id, err := st.AddCluster("People", -1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.AddCluster("people", -1); !errors.Is(err, storage.ErrClusterExists) {
		t.Errorf("duplicate error = %v", err)
	}
	c, err := st.ClusterByID(id)
	if err != nil || c.Name != "people" {
		t.Errorf("ClusterByID = %+v, %v", c, err)
	}

	dropped, err := st.DropCluster(id)
	if err != nil || !dropped {
		t.Errorf("drop = %v, %v", dropped, err)
	}
	dropped, err = st.DropCluster(id)
	if err != nil || dropped {
		t.Errorf("second drop = %v, %v", dropped, err)
	}
}

func TestSerializerConfigPersists(t *testing.T) {
	st := newTestStorage(t)
	if err := st.SetConfiguredSerializer("cbor"); err != nil {
		t.Fatal(err)
	}
	if st.ConfiguredSerializer() != "cbor" {
		t.Error("serializer config lost")
	}
}
