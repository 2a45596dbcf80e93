package database

import (
	"sort"
	"sync"
)

// An Index is the slice of the index-manager surface the façade needs:
// a stable name and the modification lock taken around record writes.
type Index interface {
	Name() string
	AcquireModificationLock()
	ReleaseModificationLock()
}

// An IndexManager resolves the indexes bound to a document class. The
// index internals are an external collaborator.
type IndexManager interface {
	// IndexesOf returns the indexes defined on the class.
	IndexesOf(className string) []Index
}

// A Schema maps clusters to document classes. External collaborator,
// consumed through this minimal surface.
type Schema interface {
	// ClassByClusterID returns the class bound to a cluster, empty when
	// none.
	ClassByClusterID(clusterID int16) string
}

// Metadata bundles the schema, security and index manager of an open
// database.
type Metadata struct {
	Schema   Schema
	Security *SecurityStore
	Indexes  IndexManager
}

// Load populates the metadata from its backing stores.
func (m *Metadata) Load() error {
	if m.Security == nil {
		m.Security = NewSecurityStore()
	}
	if m.Schema == nil {
		m.Schema = &memorySchema{classes: make(map[int16]string)}
	}
	if m.Indexes == nil {
		m.Indexes = &memoryIndexManager{}
	}
	return nil
}

// memorySchema is the in-memory schema used by the reference engines.
type memorySchema struct {
	lock    sync.Mutex
	classes map[int16]string
}

func (s *memorySchema) ClassByClusterID(clusterID int16) string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.classes[clusterID]
}

// BindClass binds a class to a cluster.
func (s *memorySchema) BindClass(clusterID int16, className string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.classes[clusterID] = className
}

// memoryIndexManager is the in-memory index manager used by the
// reference engines.
type memoryIndexManager struct {
	lock    sync.Mutex
	byClass map[string][]Index
}

func (m *memoryIndexManager) IndexesOf(className string) []Index {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.byClass[className]
}

// AddIndex registers an index under a class.
func (m *memoryIndexManager) AddIndex(className string, idx Index) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.byClass == nil {
		m.byClass = make(map[string][]Index)
	}
	m.byClass[className] = append(m.byClass[className], idx)
}

// sortIndexesByName orders indexes lexicographically so modification
// locks are always taken in the same order.
func sortIndexesByName(indexes []Index) []Index {
	sorted := append([]Index(nil), indexes...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name() < sorted[j].Name()
	})
	return sorted
}
