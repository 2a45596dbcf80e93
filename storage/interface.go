// Package storage defines the contract between the database façade and
// the engines that persist records. Engines register a factory under a
// scheme name; the database layer never sees past this interface.
package storage

import (
	"github.com/keeldb/keel/record"
)

// A Cluster is a partition of records addressable by id or name.
type Cluster struct {
	ID   int16
	Name string
}

// A RecordBuffer is the raw form of a stored record.
type RecordBuffer struct {
	Bytes   []byte
	Version record.Version
	Type    byte
}

// A PhysicalPosition locates a record slot inside a cluster.
type PhysicalPosition struct {
	Position int64
	Size     int32
	Version  record.Version
}

// RecordMetadata is the identity and version of a record without its
// content.
type RecordMetadata struct {
	RID     record.RID
	Version record.Version
}

// A ReadResult carries a read buffer plus the moved flag set when the
// operation was rerouted to another node.
type ReadResult struct {
	Buffer *RecordBuffer
	Moved  bool
}

// A SaveResult carries the version assigned by the engine, optionally
// rewritten content, and the moved flag.
type SaveResult struct {
	Version       record.Version
	ModifiedBytes []byte
	Moved         bool
}

// A DeleteResult reports whether a record was removed and whether the
// operation was rerouted.
type DeleteResult struct {
	Deleted bool
	Moved   bool
}

// A ResourceFactory builds a shared per-storage resource on first use.
type ResourceFactory func() (interface{}, error)

// Interface is the storage engine contract consumed by the database
// façade.
type Interface interface {
	// Name returns the database name this storage belongs to.
	Name() string
	// Exists reports whether the underlying data exists.
	Exists() bool
	// Create initializes empty storage.
	Create() error
	// Open makes existing storage ready for use.
	Open() error
	// Close releases the storage handle.
	Close() error
	// Delete drops the underlying data entirely.
	Delete() error

	// Clusters lists all clusters in id order.
	Clusters() []Cluster
	// AddCluster creates a cluster, honoring a requested id when it is
	// non-negative.
	AddCluster(name string, requestedID int16) (int16, error)
	// DropCluster removes a cluster by id.
	DropCluster(id int16) (bool, error)
	// ClusterByID resolves a cluster.
	ClusterByID(id int16) (Cluster, error)
	// ClusterByName resolves a cluster by its case-insensitive name.
	ClusterByName(name string) (Cluster, error)
	// CountCluster counts records over the given clusters.
	CountCluster(ids []int16, countTombstones bool) (int64, error)
	// ClusterDataRange returns the lowest and highest used positions.
	ClusterDataRange(id int16) (min, max int64, err error)

	// ReadRecord loads a record buffer. Tombstoned slots surface only
	// when loadTombstones is set.
	ReadRecord(rid record.RID, loadTombstones bool) (ReadResult, error)
	// SaveRecord creates (position < 0, engine assigns one via the
	// returned RID) or updates a record under MVCC.
	SaveRecord(rid record.RID, content []byte, version record.Version, recordType byte) (record.RID, SaveResult, error)
	// DeleteRecord removes a record under MVCC, leaving a tombstone.
	DeleteRecord(rid record.RID, version record.Version) (DeleteResult, error)
	// CleanOutRecord removes a record and its tombstone slot.
	CleanOutRecord(rid record.RID, version record.Version) (DeleteResult, error)
	// HideRecord makes a record invisible without version checks.
	HideRecord(rid record.RID) (DeleteResult, error)
	// RecordMetadata returns identity and version without content.
	RecordMetadata(rid record.RID) (RecordMetadata, error)

	// HigherPositions returns positions strictly above the given one.
	HigherPositions(clusterID int16, position int64, limit int) ([]PhysicalPosition, error)
	// CeilingPositions returns positions at or above the given one.
	CeilingPositions(clusterID int16, position int64, limit int) ([]PhysicalPosition, error)
	// LowerPositions returns positions strictly below the given one.
	LowerPositions(clusterID int16, position int64, limit int) ([]PhysicalPosition, error)
	// FloorPositions returns positions at or below the given one.
	FloorPositions(clusterID int16, position int64, limit int) ([]PhysicalPosition, error)

	// CountRecords counts live records across all clusters.
	CountRecords() (int64, error)
	// Size returns the storage footprint in bytes.
	Size() (int64, error)

	// Freeze blocks writes until Release.
	Freeze() error
	// Release lifts a freeze.
	Release() error
	// FreezeCluster blocks writes to one cluster.
	FreezeCluster(id int16) error
	// ReleaseCluster lifts a cluster freeze.
	ReleaseCluster(id int16) error

	// Resource returns the shared resource registered under key,
	// building it with the factory on first use. The bonsai collection
	// manager attaches here.
	Resource(key string, factory ResourceFactory) (interface{}, error)

	// ConfiguredSerializer returns the record serializer name persisted
	// in the storage configuration, empty when unset.
	ConfiguredSerializer() string
	// SetConfiguredSerializer persists the record serializer name.
	SetConfiguredSerializer(name string) error

	// IsRemote reports whether this storage proxies another server.
	// Remote storages bypass schema-based authentication.
	IsRemote() bool
	// IsDistributed reports whether the storage participates in a
	// cluster; it filters hook execution.
	IsDistributed() bool
	// ClassesByClusterID reports whether record classes are bound to
	// clusters, enabling the class check on new records.
	ClassesByClusterID() bool
}
