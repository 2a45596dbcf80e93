// Package hashmap implements the in-memory storage engine. It backs
// `memory:` databases and most of the test suite.
package hashmap

import (
	"sort"
	"strings"
	"sync"

	"github.com/tevino/abool"

	"github.com/keeldb/keel/record"
	"github.com/keeldb/keel/storage"
)

func init() {
	_ = storage.Register("memory", NewHashMap)
}

type entry struct {
	bytes      []byte
	version    record.Version
	recordType byte
	hidden     bool
}

type cluster struct {
	meta    storage.Cluster
	entries map[int64]*entry
	nextPos int64
	frozen  *abool.AtomicBool
}

// HashMap storage.
type HashMap struct {
	name       string
	serializer string
	clusters   map[int16]*cluster
	byName     map[string]*cluster
	nextID     int16
	created    bool
	open       bool
	frozen     *abool.AtomicBool
	lock       sync.RWMutex

	storage.InjectBase
}

// NewHashMap creates an in-memory storage engine.
func NewHashMap(name, location string) (storage.Interface, error) {
	return &HashMap{
		name:     name,
		clusters: make(map[int16]*cluster),
		byName:   make(map[string]*cluster),
		frozen:   abool.New(),
	}, nil
}

// Name implements storage.Interface.
func (hm *HashMap) Name() string { return hm.name }

// Exists implements storage.Interface.
func (hm *HashMap) Exists() bool {
	hm.lock.RLock()
	defer hm.lock.RUnlock()
	return hm.created
}

// Create implements storage.Interface.
func (hm *HashMap) Create() error {
	hm.lock.Lock()
	defer hm.lock.Unlock()

	if hm.created {
		return storage.ErrExists
	}
	hm.created = true
	hm.open = true
	// cluster 0 is reserved for internal metadata, 1 is the default
	// record cluster
	hm.addClusterLocked("internal", -1)
	hm.addClusterLocked("default", -1)
	return nil
}

// Open implements storage.Interface.
func (hm *HashMap) Open() error {
	hm.lock.Lock()
	defer hm.lock.Unlock()

	if !hm.created {
		return storage.ErrNotExists
	}
	hm.open = true
	return nil
}

// Close implements storage.Interface.
func (hm *HashMap) Close() error {
	hm.lock.Lock()
	defer hm.lock.Unlock()
	hm.open = false
	return nil
}

// Delete implements storage.Interface.
func (hm *HashMap) Delete() error {
	hm.lock.Lock()
	defer hm.lock.Unlock()

	hm.clusters = make(map[int16]*cluster)
	hm.byName = make(map[string]*cluster)
	hm.nextID = 0
	hm.created = false
	hm.open = false
	return nil
}

// Clusters implements storage.Interface.
func (hm *HashMap) Clusters() []storage.Cluster {
	hm.lock.RLock()
	defer hm.lock.RUnlock()

	all := make([]storage.Cluster, 0, len(hm.clusters))
	for _, c := range hm.clusters {
		all = append(all, c.meta)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

func (hm *HashMap) addClusterLocked(name string, requestedID int16) int16 {
	id := requestedID
	if id < 0 {
		id = hm.nextID
	}
	if id >= hm.nextID {
		hm.nextID = id + 1
	}
	c := &cluster{
		meta:    storage.Cluster{ID: id, Name: strings.ToLower(name)},
		entries: make(map[int64]*entry),
		frozen:  abool.New(),
	}
	hm.clusters[id] = c
	hm.byName[c.meta.Name] = c
	return id
}

// AddCluster implements storage.Interface.
func (hm *HashMap) AddCluster(name string, requestedID int16) (int16, error) {
	hm.lock.Lock()
	defer hm.lock.Unlock()

	key := strings.ToLower(name)
	if _, ok := hm.byName[key]; ok {
		return -1, storage.ErrClusterExists
	}
	if requestedID >= 0 {
		if _, ok := hm.clusters[requestedID]; ok {
			return -1, storage.ErrClusterExists
		}
	}
	return hm.addClusterLocked(name, requestedID), nil
}

// DropCluster implements storage.Interface.
func (hm *HashMap) DropCluster(id int16) (bool, error) {
	hm.lock.Lock()
	defer hm.lock.Unlock()

	c, ok := hm.clusters[id]
	if !ok {
		return false, nil
	}
	delete(hm.clusters, id)
	delete(hm.byName, c.meta.Name)
	return true, nil
}

// ClusterByID implements storage.Interface.
func (hm *HashMap) ClusterByID(id int16) (storage.Cluster, error) {
	hm.lock.RLock()
	defer hm.lock.RUnlock()

	c, ok := hm.clusters[id]
	if !ok {
		return storage.Cluster{}, storage.ErrClusterNotFound
	}
	return c.meta, nil
}

// ClusterByName implements storage.Interface.
func (hm *HashMap) ClusterByName(name string) (storage.Cluster, error) {
	hm.lock.RLock()
	defer hm.lock.RUnlock()

	c, ok := hm.byName[strings.ToLower(name)]
	if !ok {
		return storage.Cluster{}, storage.ErrClusterNotFound
	}
	return c.meta, nil
}

// CountCluster implements storage.Interface.
func (hm *HashMap) CountCluster(ids []int16, countTombstones bool) (int64, error) {
	hm.lock.RLock()
	defer hm.lock.RUnlock()

	var count int64
	for _, id := range ids {
		c, ok := hm.clusters[id]
		if !ok {
			return 0, storage.ErrClusterNotFound
		}
		for _, e := range c.entries {
			if e.hidden {
				continue
			}
			if e.version.IsTombstone() && !countTombstones {
				continue
			}
			count++
		}
	}
	return count, nil
}

// ClusterDataRange implements storage.Interface.
func (hm *HashMap) ClusterDataRange(id int16) (int64, int64, error) {
	hm.lock.RLock()
	defer hm.lock.RUnlock()

	c, ok := hm.clusters[id]
	if !ok {
		return 0, 0, storage.ErrClusterNotFound
	}
	if len(c.entries) == 0 {
		return 0, -1, nil
	}
	min, max := int64(-1), int64(-1)
	for pos := range c.entries {
		if min < 0 || pos < min {
			min = pos
		}
		if pos > max {
			max = pos
		}
	}
	return min, max, nil
}

// ReadRecord implements storage.Interface.
func (hm *HashMap) ReadRecord(rid record.RID, loadTombstones bool) (storage.ReadResult, error) {
	hm.lock.RLock()
	defer hm.lock.RUnlock()

	e, err := hm.entryLocked(rid)
	if err != nil {
		return storage.ReadResult{}, err
	}
	if e == nil || e.hidden {
		return storage.ReadResult{}, nil
	}
	if e.version.IsTombstone() && !loadTombstones {
		return storage.ReadResult{}, nil
	}
	buf := &storage.RecordBuffer{
		Bytes:   append([]byte(nil), e.bytes...),
		Version: e.version,
		Type:    e.recordType,
	}
	return storage.ReadResult{Buffer: buf}, nil
}

func (hm *HashMap) entryLocked(rid record.RID) (*entry, error) {
	c, ok := hm.clusters[rid.ClusterID]
	if !ok {
		return nil, storage.ErrClusterNotFound
	}
	return c.entries[rid.ClusterPosition], nil
}

// SaveRecord implements storage.Interface.
func (hm *HashMap) SaveRecord(rid record.RID, content []byte, version record.Version, recordType byte) (record.RID, storage.SaveResult, error) {
	hm.lock.Lock()
	defer hm.lock.Unlock()

	c, ok := hm.clusters[rid.ClusterID]
	if !ok {
		return rid, storage.SaveResult{}, storage.ErrClusterNotFound
	}
	if hm.frozen.IsSet() || c.frozen.IsSet() {
		return rid, storage.SaveResult{}, storage.ErrFrozen
	}

	if rid.IsNew() {
		rid.ClusterPosition = c.nextPos
		c.nextPos++
		stored := record.TrackedVersion(0)
		if version.Kind == record.Tracked && version.Counter > 0 {
			stored = version
		}
		c.entries[rid.ClusterPosition] = &entry{
			bytes:      append([]byte(nil), content...),
			version:    stored,
			recordType: recordType,
		}
		return rid, storage.SaveResult{Version: stored}, nil
	}

	e := c.entries[rid.ClusterPosition]
	if e == nil || e.version.IsTombstone() {
		return rid, storage.SaveResult{}, storage.ErrRecordNotFound
	}
	if !version.IsUntracked() && version != e.version {
		return rid, storage.SaveResult{}, &storage.ConflictError{
			RID:             rid,
			StoredVersion:   e.version,
			ProposedVersion: version,
		}
	}
	e.bytes = append([]byte(nil), content...)
	e.version = e.version.Next()
	e.recordType = recordType
	return rid, storage.SaveResult{Version: e.version}, nil
}

// DeleteRecord implements storage.Interface.
func (hm *HashMap) DeleteRecord(rid record.RID, version record.Version) (storage.DeleteResult, error) {
	return hm.removeRecord(rid, version, false)
}

// CleanOutRecord implements storage.Interface.
func (hm *HashMap) CleanOutRecord(rid record.RID, version record.Version) (storage.DeleteResult, error) {
	return hm.removeRecord(rid, version, true)
}

func (hm *HashMap) removeRecord(rid record.RID, version record.Version, cleanOut bool) (storage.DeleteResult, error) {
	hm.lock.Lock()
	defer hm.lock.Unlock()

	c, ok := hm.clusters[rid.ClusterID]
	if !ok {
		return storage.DeleteResult{}, storage.ErrClusterNotFound
	}
	if hm.frozen.IsSet() || c.frozen.IsSet() {
		return storage.DeleteResult{}, storage.ErrFrozen
	}
	e := c.entries[rid.ClusterPosition]
	if e == nil || e.version.IsTombstone() {
		return storage.DeleteResult{}, storage.ErrRecordNotFound
	}
	if !version.IsUntracked() && version != e.version {
		return storage.DeleteResult{}, &storage.ConflictError{
			RID:             rid,
			StoredVersion:   e.version,
			ProposedVersion: version,
		}
	}
	if cleanOut {
		delete(c.entries, rid.ClusterPosition)
	} else {
		e.bytes = nil
		e.version = record.TombstoneVersion(e.version.Counter)
	}
	return storage.DeleteResult{Deleted: true}, nil
}

// HideRecord implements storage.Interface.
func (hm *HashMap) HideRecord(rid record.RID) (storage.DeleteResult, error) {
	hm.lock.Lock()
	defer hm.lock.Unlock()

	e, err := hm.entryLocked(rid)
	if err != nil {
		return storage.DeleteResult{}, err
	}
	if e == nil || e.hidden {
		return storage.DeleteResult{}, storage.ErrRecordNotFound
	}
	e.hidden = true
	return storage.DeleteResult{Deleted: true}, nil
}

// RecordMetadata implements storage.Interface.
func (hm *HashMap) RecordMetadata(rid record.RID) (storage.RecordMetadata, error) {
	hm.lock.RLock()
	defer hm.lock.RUnlock()

	e, err := hm.entryLocked(rid)
	if err != nil {
		return storage.RecordMetadata{}, err
	}
	if e == nil || e.hidden {
		return storage.RecordMetadata{}, storage.ErrRecordNotFound
	}
	return storage.RecordMetadata{RID: rid, Version: e.version}, nil
}

func (hm *HashMap) positions(clusterID int16, match func(int64) bool, ascending bool, limit int) ([]storage.PhysicalPosition, error) {
	hm.lock.RLock()
	defer hm.lock.RUnlock()

	c, ok := hm.clusters[clusterID]
	if !ok {
		return nil, storage.ErrClusterNotFound
	}
	selected := make([]int64, 0, len(c.entries))
	for pos, e := range c.entries {
		if e.hidden || e.version.IsTombstone() {
			continue
		}
		if match(pos) {
			selected = append(selected, pos)
		}
	}
	sort.Slice(selected, func(i, j int) bool {
		if ascending {
			return selected[i] < selected[j]
		}
		return selected[i] > selected[j]
	})
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	result := make([]storage.PhysicalPosition, 0, len(selected))
	for _, pos := range selected {
		e := c.entries[pos]
		result = append(result, storage.PhysicalPosition{
			Position: pos,
			Size:     int32(len(e.bytes)),
			Version:  e.version,
		})
	}
	return result, nil
}

// HigherPositions implements storage.Interface.
func (hm *HashMap) HigherPositions(clusterID int16, position int64, limit int) ([]storage.PhysicalPosition, error) {
	return hm.positions(clusterID, func(p int64) bool { return p > position }, true, limit)
}

// CeilingPositions implements storage.Interface.
func (hm *HashMap) CeilingPositions(clusterID int16, position int64, limit int) ([]storage.PhysicalPosition, error) {
	return hm.positions(clusterID, func(p int64) bool { return p >= position }, true, limit)
}

// LowerPositions implements storage.Interface.
func (hm *HashMap) LowerPositions(clusterID int16, position int64, limit int) ([]storage.PhysicalPosition, error) {
	return hm.positions(clusterID, func(p int64) bool { return p < position }, false, limit)
}

// FloorPositions implements storage.Interface.
func (hm *HashMap) FloorPositions(clusterID int16, position int64, limit int) ([]storage.PhysicalPosition, error) {
	return hm.positions(clusterID, func(p int64) bool { return p <= position }, false, limit)
}

// CountRecords implements storage.Interface.
func (hm *HashMap) CountRecords() (int64, error) {
	hm.lock.RLock()
	defer hm.lock.RUnlock()

	var count int64
	for _, c := range hm.clusters {
		for _, e := range c.entries {
			if e.hidden || e.version.IsTombstone() {
				continue
			}
			count++
		}
	}
	return count, nil
}

// Size implements storage.Interface.
func (hm *HashMap) Size() (int64, error) {
	hm.lock.RLock()
	defer hm.lock.RUnlock()

	var size int64
	for _, c := range hm.clusters {
		for _, e := range c.entries {
			size += int64(len(e.bytes))
		}
	}
	return size, nil
}

// Freeze implements storage.Interface.
func (hm *HashMap) Freeze() error {
	hm.frozen.Set()
	return nil
}

// Release implements storage.Interface.
func (hm *HashMap) Release() error {
	hm.frozen.UnSet()
	return nil
}

// FreezeCluster implements storage.Interface.
func (hm *HashMap) FreezeCluster(id int16) error {
	hm.lock.RLock()
	defer hm.lock.RUnlock()

	c, ok := hm.clusters[id]
	if !ok {
		return storage.ErrClusterNotFound
	}
	c.frozen.Set()
	return nil
}

// ReleaseCluster implements storage.Interface.
func (hm *HashMap) ReleaseCluster(id int16) error {
	hm.lock.RLock()
	defer hm.lock.RUnlock()

	c, ok := hm.clusters[id]
	if !ok {
		return storage.ErrClusterNotFound
	}
	c.frozen.UnSet()
	return nil
}

// ConfiguredSerializer implements storage.Interface.
func (hm *HashMap) ConfiguredSerializer() string {
	hm.lock.RLock()
	defer hm.lock.RUnlock()
	return hm.serializer
}

// SetConfiguredSerializer implements storage.Interface.
func (hm *HashMap) SetConfiguredSerializer(name string) error {
	hm.lock.Lock()
	defer hm.lock.Unlock()
	hm.serializer = name
	return nil
}

// IsRemote implements storage.Interface.
func (hm *HashMap) IsRemote() bool { return false }

// IsDistributed implements storage.Interface.
func (hm *HashMap) IsDistributed() bool { return false }

// ClassesByClusterID implements storage.Interface.
func (hm *HashMap) ClassesByClusterID() bool { return false }
