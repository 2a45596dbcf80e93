package database

import (
	"github.com/bluele/gcache"

	"github.com/keeldb/keel/record"
)

const defaultCacheSize = 1024

// LocalCache keeps the most recent image of loaded records by RID. It
// is a hint only: it is never consulted as authoritative and is cleared
// after every served request.
type LocalCache struct {
	size  int
	cache gcache.Cache
}

// NewLocalCache returns a stopped cache with the given capacity.
func NewLocalCache(size int) *LocalCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &LocalCache{size: size}
}

// Startup makes the cache operational.
func (lc *LocalCache) Startup() {
	lc.cache = gcache.New(lc.size).LRU().Build()
}

// Shutdown drops all entries and disables the cache.
func (lc *LocalCache) Shutdown() {
	if lc.cache != nil {
		lc.cache.Purge()
		lc.cache = nil
	}
}

// FindRecord returns the cached record image for the RID, nil on miss.
func (lc *LocalCache) FindRecord(rid record.RID) *record.Record {
	if lc.cache == nil {
		return nil
	}
	value, err := lc.cache.Get(rid)
	if err != nil {
		return nil
	}
	rec, ok := value.(*record.Record)
	if !ok {
		return nil
	}
	return rec
}

// UpdateRecord stores the latest image of a record.
func (lc *LocalCache) UpdateRecord(rec *record.Record) {
	if lc.cache == nil || rec == nil || !rec.RID().IsPersistent() {
		return
	}
	_ = lc.cache.Set(rec.RID(), rec)
}

// DeleteRecord evicts the image for the RID.
func (lc *LocalCache) DeleteRecord(rid record.RID) {
	if lc.cache == nil {
		return
	}
	lc.cache.Remove(rid)
}

// Clear evicts everything.
func (lc *LocalCache) Clear() {
	if lc.cache != nil {
		lc.cache.Purge()
	}
}

// Size returns the number of cached images.
func (lc *LocalCache) Size() int {
	if lc.cache == nil {
		return 0
	}
	return lc.cache.Len(false)
}
