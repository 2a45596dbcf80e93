package database

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gofrs/uuid"

	"github.com/keeldb/keel/record"
)

// collectionManagerResource is the storage resource key the collection
// manager attaches under.
const collectionManagerResource = "CollectionManager"

// A CollectionPointer is the opaque handle to a disk-backed RID
// collection used for large edge bags.
type CollectionPointer struct {
	FileID     int64
	PageIndex  int64
	PageOffset int32
}

// IsValid reports whether the pointer addresses a collection.
func (p CollectionPointer) IsValid() bool {
	return p.FileID >= 0
}

// A CollectionChange pairs a client-generated collection id with the
// pointer storage assigned to it during a write.
type CollectionChange struct {
	ID      uuid.UUID
	Pointer CollectionPointer
}

// A CollectionTree is the read surface of one bonsai collection.
type CollectionTree interface {
	// Get returns the counter stored under the key.
	Get(key record.RID) (int32, bool)
	// FirstKey returns the smallest key.
	FirstKey() (record.RID, bool)
	// EntriesMajor returns up to pageSize entries with keys at or above
	// (inclusive) or above (exclusive) the given key, in key order.
	EntriesMajor(key record.RID, inclusive bool, pageSize int) []CollectionEntry
	// RealSize returns the entry count after applying in-flight
	// changes.
	RealSize(changes map[record.RID]int32) int
}

// A CollectionEntry is one key/value pair of a collection tree.
type CollectionEntry struct {
	Key   record.RID
	Value int32
}

// A CollectionManager creates and resolves bonsai collections and
// tracks pointer assignments made during the current request, to be
// flushed into write responses.
type CollectionManager interface {
	// CreateCollection allocates a collection in the given cluster.
	CreateCollection(clusterID int32) (CollectionPointer, error)
	// LoadCollection resolves a pointer to its tree.
	LoadCollection(ptr CollectionPointer) (CollectionTree, error)
	// ReleaseCollection returns a loaded tree.
	ReleaseCollection(ptr CollectionPointer)
	// TrackChange records a pointer assignment for the response.
	TrackChange(id uuid.UUID, ptr CollectionPointer)
	// ChangedIDs returns the tracked assignments in id order.
	ChangedIDs() []CollectionChange
	// ClearChangedIDs drops the tracked assignments.
	ClearChangedIDs()
}

// memoryCollectionManager implements CollectionManager for the
// reference engines.
type memoryCollectionManager struct {
	lock    sync.Mutex
	nextFID int64
	trees   map[CollectionPointer]*memoryCollectionTree
	changed map[uuid.UUID]CollectionPointer
}

// NewMemoryCollectionManager returns an empty in-memory collection
// manager. Storage engines without their own manager hand it out via
// the resource factory.
func NewMemoryCollectionManager() CollectionManager {
	return &memoryCollectionManager{
		trees:   make(map[CollectionPointer]*memoryCollectionTree),
		changed: make(map[uuid.UUID]CollectionPointer),
	}
}

func (m *memoryCollectionManager) CreateCollection(clusterID int32) (CollectionPointer, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	ptr := CollectionPointer{
		FileID:    m.nextFID,
		PageIndex: int64(clusterID),
	}
	m.nextFID++
	m.trees[ptr] = &memoryCollectionTree{entries: make(map[record.RID]int32)}
	return ptr, nil
}

func (m *memoryCollectionManager) LoadCollection(ptr CollectionPointer) (CollectionTree, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	tree, ok := m.trees[ptr]
	if !ok {
		return nil, fmt.Errorf("collection %+v not found", ptr)
	}
	return tree, nil
}

func (m *memoryCollectionManager) ReleaseCollection(ptr CollectionPointer) {}

func (m *memoryCollectionManager) TrackChange(id uuid.UUID, ptr CollectionPointer) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.changed[id] = ptr
}

func (m *memoryCollectionManager) ChangedIDs() []CollectionChange {
	m.lock.Lock()
	defer m.lock.Unlock()

	changes := make([]CollectionChange, 0, len(m.changed))
	for id, ptr := range m.changed {
		changes = append(changes, CollectionChange{ID: id, Pointer: ptr})
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].ID.String() < changes[j].ID.String()
	})
	return changes
}

func (m *memoryCollectionManager) ClearChangedIDs() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.changed = make(map[uuid.UUID]CollectionPointer)
}

type memoryCollectionTree struct {
	lock    sync.Mutex
	entries map[record.RID]int32
}

// Put stores a counter. Exposed for tests and the ridbag write path.
func (t *memoryCollectionTree) Put(key record.RID, value int32) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.entries[key] = value
}

func (t *memoryCollectionTree) Get(key record.RID) (int32, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	v, ok := t.entries[key]
	return v, ok
}

func (t *memoryCollectionTree) sortedKeys() []record.RID {
	keys := make([]record.RID, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ClusterID != keys[j].ClusterID {
			return keys[i].ClusterID < keys[j].ClusterID
		}
		return keys[i].ClusterPosition < keys[j].ClusterPosition
	})
	return keys
}

func (t *memoryCollectionTree) FirstKey() (record.RID, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	keys := t.sortedKeys()
	if len(keys) == 0 {
		return record.RID{}, false
	}
	return keys[0], true
}

func (t *memoryCollectionTree) EntriesMajor(key record.RID, inclusive bool, pageSize int) []CollectionEntry {
	t.lock.Lock()
	defer t.lock.Unlock()

	var result []CollectionEntry
	for _, k := range t.sortedKeys() {
		if pageSize > 0 && len(result) >= pageSize {
			break
		}
		less := k.ClusterID < key.ClusterID ||
			(k.ClusterID == key.ClusterID && k.ClusterPosition < key.ClusterPosition)
		if less || (!inclusive && k == key) {
			continue
		}
		result = append(result, CollectionEntry{Key: k, Value: t.entries[k]})
	}
	return result
}

func (t *memoryCollectionTree) RealSize(changes map[record.RID]int32) int {
	t.lock.Lock()
	defer t.lock.Unlock()

	size := 0
	for k, v := range t.entries {
		if delta, ok := changes[k]; ok {
			v += delta
		}
		if v > 0 {
			size++
		}
	}
	for k, delta := range changes {
		if _, known := t.entries[k]; !known && delta > 0 {
			size++
		}
	}
	return size
}
