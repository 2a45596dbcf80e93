package storage

import (
	"sync"

	"github.com/keeldb/keel/record"
)

// InjectBase reduces boilerplate for partial storage implementations:
// the shared resource registry works out of the box; the other methods
// fail with ErrNotImplemented or ErrClusterNotFound, or return zero
// values and nil. Tests and proxies embed it.
type InjectBase struct {
	resources     map[string]interface{}
	resourcesLock sync.Mutex
}

// Resource returns the shared resource registered under key, building
// it on first use.
func (b *InjectBase) Resource(key string, factory ResourceFactory) (interface{}, error) {
	b.resourcesLock.Lock()
	defer b.resourcesLock.Unlock()

	if b.resources == nil {
		b.resources = make(map[string]interface{})
	}
	if res, ok := b.resources[key]; ok {
		return res, nil
	}
	res, err := factory()
	if err != nil {
		return nil, err
	}
	b.resources[key] = res
	return res, nil
}

// Name implements Interface.
func (b *InjectBase) Name() string { return "" }

// Exists implements Interface.
func (b *InjectBase) Exists() bool { return false }

// Create implements Interface.
func (b *InjectBase) Create() error { return ErrNotImplemented }

// Open implements Interface.
func (b *InjectBase) Open() error { return ErrNotImplemented }

// Close implements Interface.
func (b *InjectBase) Close() error { return nil }

// Delete implements Interface.
func (b *InjectBase) Delete() error { return ErrNotImplemented }

// Clusters implements Interface.
func (b *InjectBase) Clusters() []Cluster { return nil }

// AddCluster implements Interface.
func (b *InjectBase) AddCluster(name string, requestedID int16) (int16, error) {
	return -1, ErrNotImplemented
}

// DropCluster implements Interface.
func (b *InjectBase) DropCluster(id int16) (bool, error) { return false, ErrNotImplemented }

// ClusterByID implements Interface.
func (b *InjectBase) ClusterByID(id int16) (Cluster, error) { return Cluster{}, ErrClusterNotFound }

// ClusterByName implements Interface.
func (b *InjectBase) ClusterByName(name string) (Cluster, error) {
	return Cluster{}, ErrClusterNotFound
}

// CountCluster implements Interface.
func (b *InjectBase) CountCluster(ids []int16, countTombstones bool) (int64, error) {
	return 0, ErrNotImplemented
}

// ClusterDataRange implements Interface.
func (b *InjectBase) ClusterDataRange(id int16) (int64, int64, error) {
	return 0, 0, ErrNotImplemented
}

// ReadRecord implements Interface.
func (b *InjectBase) ReadRecord(rid record.RID, loadTombstones bool) (ReadResult, error) {
	return ReadResult{}, ErrNotImplemented
}

// SaveRecord implements Interface.
func (b *InjectBase) SaveRecord(rid record.RID, content []byte, version record.Version, recordType byte) (record.RID, SaveResult, error) {
	return rid, SaveResult{}, ErrNotImplemented
}

// DeleteRecord implements Interface.
func (b *InjectBase) DeleteRecord(rid record.RID, version record.Version) (DeleteResult, error) {
	return DeleteResult{}, ErrNotImplemented
}

// CleanOutRecord implements Interface.
func (b *InjectBase) CleanOutRecord(rid record.RID, version record.Version) (DeleteResult, error) {
	return DeleteResult{}, ErrNotImplemented
}

// HideRecord implements Interface.
func (b *InjectBase) HideRecord(rid record.RID) (DeleteResult, error) {
	return DeleteResult{}, ErrNotImplemented
}

// RecordMetadata implements Interface.
func (b *InjectBase) RecordMetadata(rid record.RID) (RecordMetadata, error) {
	return RecordMetadata{}, ErrNotImplemented
}

// HigherPositions implements Interface.
func (b *InjectBase) HigherPositions(clusterID int16, position int64, limit int) ([]PhysicalPosition, error) {
	return nil, ErrNotImplemented
}

// CeilingPositions implements Interface.
func (b *InjectBase) CeilingPositions(clusterID int16, position int64, limit int) ([]PhysicalPosition, error) {
	return nil, ErrNotImplemented
}

// LowerPositions implements Interface.
func (b *InjectBase) LowerPositions(clusterID int16, position int64, limit int) ([]PhysicalPosition, error) {
	return nil, ErrNotImplemented
}

// FloorPositions implements Interface.
func (b *InjectBase) FloorPositions(clusterID int16, position int64, limit int) ([]PhysicalPosition, error) {
	return nil, ErrNotImplemented
}

// CountRecords implements Interface.
func (b *InjectBase) CountRecords() (int64, error) { return 0, ErrNotImplemented }

// Size implements Interface.
func (b *InjectBase) Size() (int64, error) { return 0, ErrNotImplemented }

// Freeze implements Interface.
func (b *InjectBase) Freeze() error { return ErrNotImplemented }

// Release implements Interface.
func (b *InjectBase) Release() error { return ErrNotImplemented }

// FreezeCluster implements Interface.
func (b *InjectBase) FreezeCluster(id int16) error { return ErrNotImplemented }

// ReleaseCluster implements Interface.
func (b *InjectBase) ReleaseCluster(id int16) error { return ErrNotImplemented }

// ConfiguredSerializer implements Interface.
func (b *InjectBase) ConfiguredSerializer() string { return "" }

// SetConfiguredSerializer implements Interface.
func (b *InjectBase) SetConfiguredSerializer(name string) error { return nil }

// IsRemote implements Interface.
func (b *InjectBase) IsRemote() bool { return false }

// IsDistributed implements Interface.
func (b *InjectBase) IsDistributed() bool { return false }

// ClassesByClusterID implements Interface.
func (b *InjectBase) ClassesByClusterID() bool { return false }
