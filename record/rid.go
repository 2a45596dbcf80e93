package record

import (
	"fmt"
)

// Cluster id and position sentinels.
const (
	ClusterIDInvalid  int16 = -2
	ClusterIDNew      int16 = -1
	ClusterPosInvalid int64 = -2
	ClusterPosNew     int64 = -1

	// ClusterPosSize is the fixed serialized width of a cluster
	// position on the wire and in index payloads.
	ClusterPosSize = 8

	// RIDSize is the serialized width of a full record id.
	RIDSize = 2 + ClusterPosSize
)

// A RID identifies a record by the cluster holding it and its position
// inside that cluster. A RID with a non-negative cluster id and
// position is persistent; freshly allocated records carry the "new"
// position until storage assigns one.
type RID struct {
	ClusterID       int16
	ClusterPosition int64
}

// NewRID returns the RID for the given cluster and position.
func NewRID(clusterID int16, position int64) RID {
	return RID{ClusterID: clusterID, ClusterPosition: position}
}

// NewRecordRID returns a "new record" RID bound to a cluster but
// without a position yet.
func NewRecordRID(clusterID int16) RID {
	return RID{ClusterID: clusterID, ClusterPosition: ClusterPosNew}
}

// IsPersistent reports whether the RID addresses a stored record.
func (r RID) IsPersistent() bool {
	return r.ClusterID >= 0 && r.ClusterPosition >= 0
}

// IsNew reports whether the RID belongs to a record that was never
// saved.
func (r RID) IsNew() bool {
	return r.ClusterPosition < 0
}

// IsValid reports whether the RID can ever address a record.
func (r RID) IsValid() bool {
	return r.ClusterID != ClusterIDInvalid && r.ClusterPosition != ClusterPosInvalid
}

// String renders the RID in the #cluster:position notation.
func (r RID) String() string {
	return fmt.Sprintf("#%d:%d", r.ClusterID, r.ClusterPosition)
}
