package record

import (
	"sync"
)

// Record type bytes as used on the wire.
const (
	TypeDocument byte = 'd'
	TypeBytes    byte = 'b'
	TypeFlat     byte = 'f'
)

// Status describes the load state of a record.
type Status uint8

// Record statuses.
const (
	StatusNotLoaded Status = iota
	StatusLoaded
	StatusMarshalling
)

// An IdentityListener is notified when a record's identity is about to
// change and after it changed. Storage assigns identities on first
// save.
type IdentityListener interface {
	OnBeforeIdentityChange(r *Record)
	OnAfterIdentityChange(r *Record)
}

// A Record is the unit of storage: raw bytes plus identity, version and
// a type byte. Records are shared between the local cache, the
// transaction buffer and the caller; mutation goes through the setters
// so the dirty flag stays truthful.
type Record struct {
	lock sync.Mutex

	rid            RID
	version        Version
	recordType     byte
	bytes          []byte
	className      string
	dirty          bool
	contentChanged bool
	status         Status

	identityListeners []IdentityListener
}

// NewRecord returns an empty, dirty record of the given type bound to
// no cluster yet.
func NewRecord(recordType byte) *Record {
	return &Record{
		rid:        RID{ClusterID: ClusterIDNew, ClusterPosition: ClusterPosNew},
		version:    TrackedVersion(0),
		recordType: recordType,
		dirty:      true,
		status:     StatusLoaded,
	}
}

// NewDocument returns a dirty document record carrying the given
// serialized content and declared class.
func NewDocument(className string, content []byte) *Record {
	r := NewRecord(TypeDocument)
	r.className = className
	r.bytes = content
	r.contentChanged = true
	return r
}

// Fill resets the record from storage data. The dirty argument sets the
// dirty and content-changed flags; a clean fill marks the record loaded.
func (r *Record) Fill(rid RID, version Version, content []byte, dirty bool) {
	r.rid = rid
	r.version = version
	r.bytes = content
	r.dirty = dirty
	r.contentChanged = dirty
	if !dirty {
		r.status = StatusLoaded
	}
}

// RID returns the record identity.
func (r *Record) RID() RID { return r.rid }

// SetRID rebinds the record identity, notifying identity listeners.
func (r *Record) SetRID(rid RID) {
	for _, l := range r.identityListeners {
		l.OnBeforeIdentityChange(r)
	}
	r.rid = rid
	for _, l := range r.identityListeners {
		l.OnAfterIdentityChange(r)
	}
}

// Version returns the MVCC version.
func (r *Record) Version() Version { return r.version }

// SetVersion sets the MVCC version.
func (r *Record) SetVersion(v Version) { r.version = v }

// Type returns the record type byte.
func (r *Record) Type() byte { return r.recordType }

// Bytes returns the serialized content.
func (r *Record) Bytes() []byte { return r.bytes }

// SetBytes replaces the content and marks the record dirty.
func (r *Record) SetBytes(b []byte) {
	r.bytes = b
	r.dirty = true
	r.contentChanged = true
}

// ClassName returns the declared document class, empty for raw records.
func (r *Record) ClassName() string { return r.className }

// SetClassName declares the document class.
func (r *Record) SetClassName(name string) { r.className = name }

// IsDirty reports whether the record has unsaved changes.
func (r *Record) IsDirty() bool { return r.dirty }

// SetDirty forces the dirty flag.
func (r *Record) SetDirty() { r.dirty = true }

// UnsetDirty clears the dirty flag without touching the content.
func (r *Record) UnsetDirty() {
	r.dirty = false
	r.contentChanged = false
}

// IsContentChanged reports whether the content itself changed since the
// last fill, as opposed to a version-only touch.
func (r *Record) IsContentChanged() bool { return r.contentChanged }

// SetContentChanged forces the content-changed flag.
func (r *Record) SetContentChanged(changed bool) { r.contentChanged = changed }

// Status returns the load status.
func (r *Record) Status() Status { return r.status }

// SetStatus sets the load status.
func (r *Record) SetStatus(s Status) { r.status = s }

// AddIdentityListener subscribes to identity changes.
func (r *Record) AddIdentityListener(l IdentityListener) {
	r.identityListeners = append(r.identityListeners, l)
}

// RemoveIdentityListener unsubscribes from identity changes.
func (r *Record) RemoveIdentityListener(l IdentityListener) {
	for i, known := range r.identityListeners {
		if known == l {
			r.identityListeners = append(r.identityListeners[:i], r.identityListeners[i+1:]...)
			return
		}
	}
}

// Lock acquires the record mutex. Used when a load escalates to a kept
// record lock.
func (r *Record) Lock() { r.lock.Lock() }

// TryLock attempts to acquire the record mutex without blocking.
func (r *Record) TryLock() bool { return r.lock.TryLock() }

// Unlock releases the record mutex.
func (r *Record) Unlock() { r.lock.Unlock() }

// Copy returns a detached copy sharing no mutable state with r.
func (r *Record) Copy() *Record {
	dup := &Record{
		rid:            r.rid,
		version:        r.version,
		recordType:     r.recordType,
		className:      r.className,
		dirty:          r.dirty,
		contentChanged: r.contentChanged,
		status:         r.status,
	}
	if r.bytes != nil {
		dup.bytes = append([]byte(nil), r.bytes...)
	}
	return dup
}
