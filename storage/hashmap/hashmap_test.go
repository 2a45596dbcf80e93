package hashmap

import (
	"errors"
	"testing"

	"github.com/keeldb/keel/record"
	"github.com/keeldb/keel/storage"
)

func newTestStorage(t *testing.T) storage.Interface {
	t.Helper()
	st, err := NewHashMap("testing", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Create(); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestCreateAssignsClusters(t *testing.T) {
	st := newTestStorage(t)

	clusters := st.Clusters()
	if len(clusters) != 2 {
		t.Fatalf("expected internal and default clusters, got %v", clusters)
	}
	if clusters[0].Name != "internal" || clusters[1].Name != "default" {
		t.Errorf("unexpected cluster names: %v", clusters)
	}

	id, err := st.AddCluster("People", -1)
	if err != nil {
		t.Fatal(err)
	}
	c, err := st.ClusterByName("people")
	if err != nil || c.ID != id {
		t.Errorf("ClusterByName = %v, %v", c, err)
	}
	if _, err := st.AddCluster("people", -1); !errors.Is(err, storage.ErrClusterExists) {
		t.Errorf("duplicate cluster error = %v", err)
	}

	requested, err := st.AddCluster("edges", 40)
	if err != nil || requested != 40 {
		t.Errorf("AddCluster with requested id = %d, %v", requested, err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	st := newTestStorage(t)

	content := []byte(`{"k":1}`)
	rid, result, err := st.SaveRecord(record.NewRecordRID(1), content, record.TrackedVersion(0), record.TypeDocument)
	if err != nil {
		t.Fatal(err)
	}
	if !rid.IsPersistent() {
		t.Fatalf("save did not assign a position: %s", rid)
	}
	if result.Version.Counter != 0 {
		t.Errorf("fresh record version = %s", result.Version)
	}

	read, err := st.ReadRecord(rid, false)
	if err != nil {
		t.Fatal(err)
	}
	if read.Buffer == nil {
		t.Fatal("record not found after save")
	}
	if string(read.Buffer.Bytes) != string(content) {
		t.Errorf("content mismatch: %s", read.Buffer.Bytes)
	}
	if read.Buffer.Version != result.Version {
		t.Errorf("version mismatch: %s vs %s", read.Buffer.Version, result.Version)
	}
}

func TestMVCCConflict(t *testing.T) {
	st := newTestStorage(t)

	rid, _, err := st.SaveRecord(record.NewRecordRID(1), []byte("a"), record.TrackedVersion(0), record.TypeBytes)
	if err != nil {
		t.Fatal(err)
	}

	// bump to v1
	if _, _, err := st.SaveRecord(rid, []byte("b"), record.TrackedVersion(0), record.TypeBytes); err != nil {
		t.Fatal(err)
	}

	// stale writer carrying v0
	_, _, err = st.SaveRecord(rid, []byte("c"), record.TrackedVersion(0), record.TypeBytes)
	var conflict *storage.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if conflict.StoredVersion.Counter != 1 || conflict.ProposedVersion.Counter != 0 {
		t.Errorf("conflict versions: %+v", conflict)
	}

	// untracked bypasses the check
	if _, _, err := st.SaveRecord(rid, []byte("d"), record.UntrackedVersion(), record.TypeBytes); err != nil {
		t.Errorf("untracked save failed: %v", err)
	}
}

func TestDeleteLeavesTombstone(t *testing.T) {
	st := newTestStorage(t)

	rid, _, err := st.SaveRecord(record.NewRecordRID(1), []byte("a"), record.TrackedVersion(0), record.TypeBytes)
	if err != nil {
		t.Fatal(err)
	}

	result, err := st.DeleteRecord(rid, record.TrackedVersion(0))
	if err != nil || !result.Deleted {
		t.Fatalf("delete = %+v, %v", result, err)
	}

	// invisible without tombstones
	read, err := st.ReadRecord(rid, false)
	if err != nil || read.Buffer != nil {
		t.Errorf("tombstoned record visible: %+v, %v", read, err)
	}

	// visible with tombstones
	read, err = st.ReadRecord(rid, true)
	if err != nil || read.Buffer == nil || !read.Buffer.Version.IsTombstone() {
		t.Errorf("tombstone not loadable: %+v, %v", read, err)
	}

	// counted only when asked
	if n, _ := st.CountCluster([]int16{1}, false); n != 0 {
		t.Errorf("live count = %d", n)
	}
	if n, _ := st.CountCluster([]int16{1}, true); n != 1 {
		t.Errorf("tombstone count = %d", n)
	}

	if _, err := st.DeleteRecord(rid, record.TrackedVersion(0)); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("double delete error = %v", err)
	}
}

func TestCleanOutFreesSlot(t *testing.T) {
	st := newTestStorage(t)

	rid, _, err := st.SaveRecord(record.NewRecordRID(1), []byte("a"), record.TrackedVersion(0), record.TypeBytes)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.CleanOutRecord(rid, record.TrackedVersion(0)); err != nil {
		t.Fatal(err)
	}
	read, err := st.ReadRecord(rid, true)
	if err != nil || read.Buffer != nil {
		t.Errorf("cleaned-out record still present: %+v, %v", read, err)
	}
}

func TestHideRecord(t *testing.T) {
	st := newTestStorage(t)

	rid, _, err := st.SaveRecord(record.NewRecordRID(1), []byte("a"), record.TrackedVersion(0), record.TypeBytes)
	if err != nil {
		t.Fatal(err)
	}
	result, err := st.HideRecord(rid)
	if err != nil || !result.Deleted {
		t.Fatalf("hide = %+v, %v", result, err)
	}
	read, err := st.ReadRecord(rid, true)
	if err != nil || read.Buffer != nil {
		t.Errorf("hidden record visible: %+v, %v", read, err)
	}
	if _, err := st.HideRecord(rid); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("double hide error = %v", err)
	}
}

func TestPositions(t *testing.T) {
	st := newTestStorage(t)

	var rids []record.RID
	for i := 0; i < 5; i++ {
		rid, _, err := st.SaveRecord(record.NewRecordRID(1), []byte{byte(i)}, record.TrackedVersion(0), record.TypeBytes)
		if err != nil {
			t.Fatal(err)
		}
		rids = append(rids, rid)
	}

	higher, err := st.HigherPositions(1, rids[1].ClusterPosition, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(higher) != 3 || higher[0].Position != rids[2].ClusterPosition {
		t.Errorf("higher positions: %+v", higher)
	}

	ceiling, err := st.CeilingPositions(1, rids[1].ClusterPosition, 10)
	if err != nil || len(ceiling) != 4 || ceiling[0].Position != rids[1].ClusterPosition {
		t.Errorf("ceiling positions: %+v, %v", ceiling, err)
	}

	lower, err := st.LowerPositions(1, rids[2].ClusterPosition, 10)
	if err != nil || len(lower) != 2 || lower[0].Position != rids[1].ClusterPosition {
		t.Errorf("lower positions: %+v, %v", lower, err)
	}

	floor, err := st.FloorPositions(1, rids[2].ClusterPosition, 10)
	if err != nil || len(floor) != 3 || floor[0].Position != rids[2].ClusterPosition {
		t.Errorf("floor positions: %+v, %v", floor, err)
	}

	min, max, err := st.ClusterDataRange(1)
	if err != nil || min != rids[0].ClusterPosition || max != rids[4].ClusterPosition {
		t.Errorf("data range = %d..%d, %v", min, max, err)
	}
}

func TestFreeze(t *testing.T) {
	st := newTestStorage(t)

	if err := st.Freeze(); err != nil {
		t.Fatal(err)
	}
	_, _, err := st.SaveRecord(record.NewRecordRID(1), []byte("a"), record.TrackedVersion(0), record.TypeBytes)
	if !errors.Is(err, storage.ErrFrozen) {
		t.Errorf("write on frozen storage = %v", err)
	}
	if err := st.Release(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := st.SaveRecord(record.NewRecordRID(1), []byte("a"), record.TrackedVersion(0), record.TypeBytes); err != nil {
		t.Errorf("write after release = %v", err)
	}
}

func TestSerializerConfig(t *testing.T) {
	st := newTestStorage(t)

	if st.ConfiguredSerializer() != "" {
		t.Error("fresh storage has a serializer configured")
	}
	if err := st.SetConfiguredSerializer("mp"); err != nil {
		t.Fatal(err)
	}
	if st.ConfiguredSerializer() != "mp" {
		t.Error("serializer config lost")
	}
}
