// Package database implements the record database façade: open and
// lifecycle, record CRUD under MVCC, the hook pipeline, the local
// record cache, transactions and security checks. Persistence goes
// through the storage contract; queries go through the command
// executor contract.
package database

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/keeldb/keel/record"
	"github.com/keeldb/keel/serializer"
	"github.com/keeldb/keel/storage"
)

// OperationMode selects how a write is acknowledged.
type OperationMode byte

// Operation modes.
const (
	ModeSynchronous OperationMode = iota
	ModeAsynchronous
	ModeNoResponse
)

// LockingStrategy selects the record lock kept after a load.
type LockingStrategy byte

// Locking strategies.
const (
	LockDefault LockingStrategy = iota
	LockNone
	LockKeepShared
	LockKeepExclusive
)

// A Listener observes database lifecycle events. The corruption-repair
// callback decides whether broken security metadata may be reinstalled.
type Listener interface {
	OnOpen(db *Database)
	OnClose(db *Database)
	// OnCorruptionRepair is asked whether the given remedy may be
	// applied; returning true applies it.
	OnCorruptionRepair(db *Database, message, remedy string) bool
}

// ListenerBase implements Listener with no-op defaults.
type ListenerBase struct{}

// OnOpen implements the Listener interface.
func (ListenerBase) OnOpen(db *Database) {}

// OnClose implements the Listener interface.
func (ListenerBase) OnClose(db *Database) {}

// OnCorruptionRepair implements the Listener interface.
func (ListenerBase) OnCorruptionRepair(db *Database, message, remedy string) bool { return false }

// A Database composes a storage engine with the hook pipeline, the
// local record cache and the transaction buffer. A handle belongs to
// one session; the storage behind it is shared between all handles of
// the same database.
type Database struct {
	name    string
	storage storage.Interface

	serializer  serializer.Serializer
	metadata    *Metadata
	user        *User
	cache       *LocalCache
	collections CollectionManager
	tx          *Transaction
	executor    CommandExecutor

	hooks         hookRegistry
	hookGuard     map[record.RID]struct{}
	hookGuardLock sync.Mutex

	listeners []Listener

	mvcc    bool
	runMode RunMode
	open    bool
}

// New returns a closed database handle over the given storage.
func New(st storage.Interface) *Database {
	return &Database{
		name:      st.Name(),
		storage:   st,
		metadata:  &Metadata{},
		cache:     NewLocalCache(0),
		hookGuard: make(map[record.RID]struct{}),
		mvcc:      true,
	}
}

// Name returns the database name.
func (db *Database) Name() string { return db.name }

// Storage returns the storage engine behind the handle.
func (db *Database) Storage() storage.Interface { return db.storage }

// User returns the authenticated user, nil before open.
func (db *Database) User() *User { return db.user }

// SetUser overrides the bound user.
func (db *Database) SetUser(u *User) { db.user = u }

// Serializer returns the record serializer in effect.
func (db *Database) Serializer() serializer.Serializer { return db.serializer }

// SetSerializer overrides the record serializer.
func (db *Database) SetSerializer(s serializer.Serializer) { db.serializer = s }

// LocalCache returns the per-handle record cache.
func (db *Database) LocalCache() *LocalCache { return db.cache }

// CollectionManager returns the bonsai collection manager.
func (db *Database) CollectionManager() CollectionManager { return db.collections }

// Metadata returns the schema/security/index metadata.
func (db *Database) Metadata() *Metadata { return db.metadata }

// IsClosed reports whether the handle is closed.
func (db *Database) IsClosed() bool { return !db.open }

// IsMVCC reports whether version checks are enforced.
func (db *Database) IsMVCC() bool { return db.mvcc }

// SetMVCC toggles version checks.
func (db *Database) SetMVCC(enabled bool) { db.mvcc = enabled }

// SetRunMode switches the execution scenario used by the hook filter.
func (db *Database) SetRunMode(mode RunMode) { db.runMode = mode }

// AddListener subscribes a lifecycle listener.
func (db *Database) AddListener(l Listener) {
	db.listeners = append(db.listeners, l)
}

// SetCommandExecutor plugs in the command compiler collaborator.
func (db *Database) SetCommandExecutor(ex CommandExecutor) { db.executor = ex }

func (db *Database) checkOpen() error {
	if !db.open {
		return fmt.Errorf("database %q: %w", db.name, ErrClosed)
	}
	return nil
}

// Open makes the database ready for the given credentials: storage,
// serializer, collection manager, cache, metadata, default hooks and
// authentication. A failed open leaves the handle closed.
func (db *Database) Open(userName, password string) error {
	if db.open {
		return ErrOpen
	}

	err := db.doOpen(userName, password)
	if err != nil {
		db.shutdownComponents()
		return err
	}
	for _, l := range db.listeners {
		l.OnOpen(db)
	}
	return nil
}

func (db *Database) doOpen(userName, password string) error {
	if err := db.storage.Open(); err != nil {
		return fmt.Errorf("cannot open database: %w", err)
	}

	if err := db.bindComponents(); err != nil {
		return err
	}

	if !db.storage.IsRemote() {
		db.installDefaultHooks()

		user, err := db.metadata.Security.Authenticate(userName, password)
		if err != nil {
			return err
		}
		if len(user.Roles) == 0 {
			user, err = db.repairUser(user)
			if err != nil {
				return err
			}
		}
		db.user = user
	} else {
		// remote storage authenticates on the other side; mint a
		// passthrough user
		user, err := NewUser(userName, password, PassthroughRole())
		if err != nil {
			return err
		}
		db.user = user
	}

	db.open = true
	if err := db.CheckSecurity(ResourceDatabase, PermissionRead); err != nil {
		db.open = false
		return err
	}
	return nil
}

// repairUser runs the corruption-repair dialog through the registered
// listeners. A listener accepting the remedy reinstalls the admin user
// with the default role and password.
func (db *Database) repairUser(user *User) (*User, error) {
	message := fmt.Sprintf("security metadata is broken: current user %q has no roles defined", user.Name)
	remedy := "the 'admin' user will be reinstalled with default role ('admin') and password 'admin'"
	for _, l := range db.listeners {
		if l.OnCorruptionRepair(db, message, remedy) {
			logrus.Warnf("database: %s: repairing, %s", db.name, remedy)
			return db.metadata.Security.Repair()
		}
	}
	return nil, fmt.Errorf("%w: user %q", ErrNoRoles, user.Name)
}

func (db *Database) bindComponents() error {
	name := db.storage.ConfiguredSerializer()
	if name == "" {
		name = serializer.DefaultName
	}
	ser, err := serializer.Get(name)
	if err != nil {
		return err
	}
	db.serializer = ser

	res, err := db.storage.Resource(collectionManagerResource, func() (interface{}, error) {
		return NewMemoryCollectionManager(), nil
	})
	if err != nil {
		return err
	}
	manager, ok := res.(CollectionManager)
	if !ok {
		return errors.New("storage resource is not a collection manager")
	}
	db.collections = manager

	db.cache.Startup()
	return db.metadata.Load()
}

// Create initializes empty storage and opens it as the admin user.
func (db *Database) Create() error {
	if db.open {
		return ErrOpen
	}
	if err := db.storage.Create(); err != nil {
		return fmt.Errorf("cannot create database: %w", err)
	}

	if err := db.bindComponents(); err != nil {
		db.shutdownComponents()
		return err
	}
	if err := db.storage.SetConfiguredSerializer(db.serializer.Name()); err != nil {
		db.shutdownComponents()
		return err
	}

	if !db.storage.IsRemote() {
		db.installDefaultHooks()
	}
	db.user = db.metadata.Security.GetUser(AdminUser)
	db.open = true
	return nil
}

// Close releases the handle: listeners, hooks, cache. The storage stays
// open for other handles; its owner closes it.
func (db *Database) Close() {
	if !db.open {
		return
	}
	for _, l := range db.listeners {
		l.OnClose(db)
	}
	db.Rollback()
	db.shutdownComponents()
}

func (db *Database) shutdownComponents() {
	db.hooks.clear()
	db.cache.Shutdown()
	db.user = nil
	db.open = false
}

// Drop deletes the underlying data. Requires database DELETE
// permission.
func (db *Database) Drop() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if err := db.CheckSecurity(ResourceDatabase, PermissionDelete); err != nil {
		return err
	}
	for _, l := range db.listeners {
		l.OnClose(db)
	}
	db.shutdownComponents()
	return db.storage.Delete()
}

// Reload re-reads the metadata from storage.
func (db *Database) Reload() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.metadata.Load()
}

// Freeze blocks writes on the whole database.
func (db *Database) Freeze() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.storage.Freeze()
}

// Release lifts a database freeze.
func (db *Database) Release() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.storage.Release()
}

// CheckSecurity evaluates the user's rule set for the operation on the
// generic resource, preferring specific rules. Every supplied specific
// with a defined rule is checked; any defined specific suppresses the
// generic fallback.
func (db *Database) CheckSecurity(resourceGeneric string, operation byte, specifics ...string) error {
	if db.user == nil {
		return nil
	}

	ruleFound := false
	for _, target := range specifics {
		if target == "" {
			continue
		}
		key := resourceGeneric + "." + target
		if db.user.IsRuleDefined(key) {
			ruleFound = true
			if err := db.user.Allow(key, operation); err != nil {
				logrus.Debugf("database: user %q denied on resource %q", db.user.Name, key)
				return err
			}
		}
	}
	if ruleFound {
		return nil
	}

	key := resourceGeneric
	if len(specifics) > 0 {
		key = resourceGeneric + "." + ResourceAll
	}
	if err := db.user.Allow(key, operation); err != nil {
		logrus.Debugf("database: user %q denied on resource %q", db.user.Name, key)
		return err
	}
	return nil
}

// ClusterNameByID resolves a cluster name, empty when unknown.
func (db *Database) ClusterNameByID(id int16) string {
	c, err := db.storage.ClusterByID(id)
	if err != nil {
		return ""
	}
	return c.Name
}

// ClusterIDByName resolves a cluster id, -1 when unknown.
func (db *Database) ClusterIDByName(name string) int16 {
	c, err := db.storage.ClusterByName(name)
	if err != nil {
		return -1
	}
	return c.ID
}

// DefaultClusterID returns the cluster new records land in when none
// is requested.
func (db *Database) DefaultClusterID() int16 {
	if c, err := db.storage.ClusterByName("default"); err == nil {
		return c.ID
	}
	return 1
}

// AddCluster creates a cluster. Requires database UPDATE permission.
func (db *Database) AddCluster(name string, requestedID int16) (int16, error) {
	if err := db.checkOpen(); err != nil {
		return -1, err
	}
	if err := db.CheckSecurity(ResourceDatabase, PermissionUpdate); err != nil {
		return -1, err
	}
	return db.storage.AddCluster(name, requestedID)
}

// DropCluster removes a cluster by id.
func (db *Database) DropCluster(id int16) (bool, error) {
	if err := db.checkOpen(); err != nil {
		return false, err
	}
	if err := db.CheckSecurity(ResourceDatabase, PermissionUpdate); err != nil {
		return false, err
	}
	return db.storage.DropCluster(id)
}

// CountClusterRecords counts records over clusters after READ checks on
// each.
func (db *Database) CountClusterRecords(ids []int16, countTombstones bool) (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	for _, id := range ids {
		name := db.ClusterNameByID(id)
		if name == "" {
			return 0, fmt.Errorf("%w: cluster %d", storage.ErrClusterNotFound, id)
		}
		if err := db.CheckSecurity(ResourceCluster, PermissionRead, name); err != nil {
			return 0, err
		}
	}
	return db.storage.CountCluster(ids, countTombstones)
}

// Load reads a record: transaction buffer first (a delete in the
// current tx yields nil), then the cache unless ignored, then storage.
// BEFORE_READ may skip the load, tombstones short-circuit
// materialisation, and the kept lock escalates per strategy.
func (db *Database) Load(rid record.RID, fetchPlan string, ignoreCache, loadTombstones bool, locking LockingStrategy) (*record.Record, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if err := db.CheckSecurity(ResourceCluster, PermissionRead, db.ClusterNameByID(rid.ClusterID)); err != nil {
		return nil, err
	}
	if _, err := ParseFetchPlan(fetchPlan); err != nil {
		return nil, err
	}

	rec := db.tx.GetRecord(rid)
	if rec == DeletedRecord {
		return nil, nil
	}

	if rec == nil && !ignoreCache {
		rec = db.cache.FindRecord(rid)
	}

	if rec != nil {
		result, _, err := db.CallbackHooks(HookBeforeRead, rec)
		if err != nil {
			return nil, err
		}
		if result == Skip {
			return nil, nil
		}
		db.lockRecord(rec, locking)
		if _, _, err := db.CallbackHooks(HookAfterRead, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}

	readResult, err := db.storage.ReadRecord(rid, loadTombstones)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error on retrieving record %s: %w", rid, err)
	}
	buffer := readResult.Buffer
	if buffer == nil {
		return nil, nil
	}

	rec = record.NewRecord(buffer.Type)
	rec.Fill(rid, buffer.Version, buffer.Bytes, false)
	if buffer.Type == record.TypeDocument {
		rec.SetClassName(record.DocumentClass(buffer.Bytes))
	}

	if rec.Version().IsTombstone() {
		return rec, nil
	}

	result, _, err := db.CallbackHooks(HookBeforeRead, rec)
	if err != nil {
		return nil, err
	}
	if result == Skip {
		return nil, nil
	}

	db.lockRecord(rec, locking)

	if _, _, err := db.CallbackHooks(HookAfterRead, rec); err != nil {
		return nil, err
	}

	if !ignoreCache {
		db.cache.UpdateRecord(rec)
	}
	return rec, nil
}

func (db *Database) lockRecord(rec *record.Record, locking LockingStrategy) {
	switch locking {
	case LockKeepShared, LockKeepExclusive:
		rec.Lock()
	}
}

// RecordMetadata returns identity and version without loading content.
func (db *Database) RecordMetadata(rid record.RID) (storage.RecordMetadata, error) {
	if err := db.checkOpen(); err != nil {
		return storage.RecordMetadata{}, err
	}
	return db.storage.RecordMetadata(rid)
}

// Save persists a dirty record: assigns a cluster when new, runs the
// BEFORE hooks (which may change, skip or replace it), picks the MVCC
// version, writes through storage, fills the record with the stored
// identity/version and fires the success or failure hooks. Index
// modification locks are taken in name order and always released.
func (db *Database) Save(rec *record.Record, clusterName string, mode OperationMode, forceCreate bool, createdCb func(record.RID), updatedCb func(record.Version)) (*record.Record, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if !rec.IsDirty() {
		return rec, nil
	}
	rid := rec.RID()
	if !rid.IsValid() {
		return nil, fmt.Errorf("cannot save record %s: %w", rid, ErrNoIdentity)
	}

	if db.tx.IsActive() {
		if forceCreate || rid.IsNew() {
			db.tx.AddCreate(rec)
		} else {
			db.tx.AddUpdate(rec)
		}
		return rec, nil
	}

	lockedIndexes := db.acquireIndexLocks(rec)
	rec.SetStatus(record.StatusMarshalling)
	defer func() {
		db.releaseIndexLocks(lockedIndexes)
		rec.SetStatus(record.StatusLoaded)
	}()

	wasNew := forceCreate || rid.IsNew()
	if !wasNew && len(rec.Bytes()) == 0 {
		// already created and waiting for the right content
		return rec, nil
	}
	if wasNew && rid.ClusterID < 0 {
		rid.ClusterID = db.clusterForSave(clusterName)
		rec.SetRID(rid)
	}
	if rid.ClusterID >= 0 && clusterName == "" {
		clusterName = db.ClusterNameByID(rid.ClusterID)
	}

	if err := db.checkRecordClass(rec, clusterName, rid, wasNew); err != nil {
		return nil, err
	}

	operation := PermissionUpdate
	if wasNew {
		operation = PermissionCreate
	}
	if err := db.CheckSecurity(ResourceCluster, operation, clusterName); err != nil {
		return nil, err
	}

	stream := rec.Bytes()
	if len(stream) > 0 {
		event := HookBeforeUpdate
		if wasNew {
			event = HookBeforeCreate
		}
		result, replacement, err := db.CallbackHooks(event, rec)
		if err != nil {
			return nil, err
		}
		switch result {
		case RecordChanged:
			stream = rec.Bytes()
		case SkipIO:
			return rec, nil
		case RecordReplaced:
			return replacement, nil
		}
	}

	if !rec.IsDirty() {
		return rec, nil
	}

	// pick the version: MVCC uses the caller's tracked version, else
	// the untracked marker bypasses the check
	realVersion := record.UntrackedVersion()
	if db.mvcc && !rec.Version().IsUntracked() {
		realVersion = rec.Version()
	}

	storedRID, saveResult, err := db.storage.SaveRecord(rid, stream, realVersion, rec.Type())
	if err != nil {
		db.callbackHookFailure(rec, wasNew, stream)
		if !rec.RID().IsPersistent() {
			return nil, fmt.Errorf("error on saving record in cluster #%d: %w", rec.RID().ClusterID, err)
		}
		return nil, fmt.Errorf("error on saving record %s: %w", rec.RID(), err)
	}

	if saveResult.ModifiedBytes != nil {
		stream = saveResult.ModifiedBytes
	}
	if wasNew {
		rec.SetRID(storedRID)
		if createdCb != nil {
			createdCb(storedRID)
		}
	} else if updatedCb != nil {
		updatedCb(saveResult.Version)
	}
	rec.Fill(storedRID, saveResult.Version, stream, false)

	db.callbackHookSuccess(rec, wasNew, stream, saveResult.Moved)

	if len(stream) > 0 && !saveResult.Moved {
		db.cache.UpdateRecord(rec)
	}
	return rec, nil
}

func (db *Database) clusterForSave(clusterName string) int16 {
	if clusterName != "" {
		if id := db.ClusterIDByName(clusterName); id >= 0 {
			return id
		}
	}
	return db.DefaultClusterID()
}

func (db *Database) callbackHookSuccess(rec *record.Record, wasNew bool, stream []byte, moved bool) {
	if len(stream) == 0 {
		return
	}
	var event HookType
	if !moved {
		if wasNew {
			event = HookAfterCreate
		} else {
			event = HookAfterUpdate
		}
	} else {
		if wasNew {
			event = HookCreateReplicated
		} else {
			event = HookUpdateReplicated
		}
	}
	if _, _, err := db.CallbackHooks(event, rec); err != nil {
		logrus.Warnf("database: %s: after-write hook failed: %s", db.name, err)
	}
}

func (db *Database) callbackHookFailure(rec *record.Record, wasNew bool, stream []byte) {
	if len(stream) == 0 {
		return
	}
	event := HookUpdateFailed
	if wasNew {
		event = HookCreateFailed
	}
	if _, _, err := db.CallbackHooks(event, rec); err != nil {
		logrus.Warnf("database: %s: failure hook failed: %s", db.name, err)
	}
}

// checkRecordClass verifies that a new document lands in the cluster
// bound to its declared class, when the storage detects classes by
// cluster id.
func (db *Database) checkRecordClass(rec *record.Record, clusterName string, rid record.RID, isNew bool) error {
	if rid.ClusterID < 0 || !db.storage.ClassesByClusterID() || !isNew || rec.Type() != record.TypeDocument {
		return nil
	}
	recordClass := rec.ClassName()
	clusterClass := db.metadata.Schema.ClassByClusterID(rid.ClusterID)
	if recordClass != clusterClass {
		return fmt.Errorf("record saved into cluster %q should be saved with class %q but has been created with class %q",
			clusterName, clusterClass, recordClass)
	}
	return nil
}

func (db *Database) acquireIndexLocks(rec *record.Record) []Index {
	if db.storage.IsRemote() || rec.Type() != record.TypeDocument || rec.ClassName() == "" {
		return nil
	}
	indexes := db.metadata.Indexes.IndexesOf(rec.ClassName())
	if len(indexes) == 0 {
		return nil
	}
	locked := make([]Index, 0, len(indexes))
	for _, idx := range sortIndexesByName(indexes) {
		idx.AcquireModificationLock()
		locked = append(locked, idx)
	}
	return locked
}

func (db *Database) releaseIndexLocks(locked []Index) {
	for _, idx := range locked {
		idx.ReleaseModificationLock()
	}
}

// Delete removes a record under MVCC. prohibitTombstone routes to the
// clean-out path which also frees the slot. The cache entry is evicted
// unless the operation moved.
func (db *Database) Delete(rid record.RID, version record.Version, requireExists, callHooks bool, mode OperationMode, prohibitTombstone bool) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if !rid.IsValid() {
		return nil
	}
	if err := db.CheckSecurity(ResourceCluster, PermissionDelete, db.ClusterNameByID(rid.ClusterID)); err != nil {
		return err
	}

	if db.tx.IsActive() {
		db.tx.AddDelete(rid, version)
		return nil
	}

	// without the cache the record is unreachable after the delete;
	// fetch it first for the hooks
	var rec *record.Record
	if callHooks {
		rec = db.cache.FindRecord(rid)
		if rec == nil {
			if loaded, err := db.Load(rid, "", true, false, LockDefault); err == nil {
				rec = loaded
			}
		}
		if rec != nil {
			if _, _, err := db.CallbackHooks(HookBeforeDelete, rec); err != nil {
				return err
			}
		}
	}

	realVersion := record.UntrackedVersion()
	if db.mvcc {
		realVersion = version
	}

	var result storage.DeleteResult
	var err error
	if prohibitTombstone {
		result, err = db.storage.CleanOutRecord(rid, realVersion)
	} else {
		result, err = db.storage.DeleteRecord(rid, realVersion)
	}
	if err != nil {
		if !requireExists && errors.Is(err, storage.ErrRecordNotFound) {
			return nil
		}
		if callHooks && rec != nil {
			if _, _, herr := db.CallbackHooks(HookDeleteFailed, rec); herr != nil {
				logrus.Warnf("database: %s: failure hook failed: %s", db.name, herr)
			}
		}
		return fmt.Errorf("error on deleting record %s: %w", rid, err)
	}

	if callHooks && rec != nil {
		event := HookAfterDelete
		if result.Moved {
			event = HookDeleteReplicated
		}
		if _, _, herr := db.CallbackHooks(event, rec); herr != nil {
			logrus.Warnf("database: %s: after-delete hook failed: %s", db.name, herr)
		}
	}

	if !result.Moved {
		db.cache.DeleteRecord(rid)
	}
	return nil
}

// Hide makes a record invisible without firing hooks or checking
// versions.
func (db *Database) Hide(rid record.RID, mode OperationMode) (bool, error) {
	if err := db.checkOpen(); err != nil {
		return false, err
	}
	if !rid.IsValid() {
		return false, nil
	}
	if err := db.CheckSecurity(ResourceCluster, PermissionDelete, db.ClusterNameByID(rid.ClusterID)); err != nil {
		return false, err
	}

	result, err := db.storage.HideRecord(rid)
	if err != nil {
		return false, err
	}
	if !result.Moved {
		db.cache.DeleteRecord(rid)
	}
	return result.Deleted, nil
}

// BrowseCluster iterates a cluster in ascending position order after a
// READ check. The callback stops the walk by returning false.
func (db *Database) BrowseCluster(clusterName string, loadTombstones bool, fn func(*record.Record) bool) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if err := db.CheckSecurity(ResourceCluster, PermissionRead, strings.ToLower(clusterName)); err != nil {
		return err
	}
	cluster, err := db.storage.ClusterByName(clusterName)
	if err != nil {
		return err
	}

	const pageSize = 64
	position := int64(-1)
	for {
		positions, err := db.storage.HigherPositions(cluster.ID, position, pageSize)
		if err != nil {
			return err
		}
		if len(positions) == 0 {
			return nil
		}
		for _, pos := range positions {
			position = pos.Position
			rec, err := db.Load(record.NewRID(cluster.ID, pos.Position), "", false, loadTombstones, LockDefault)
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}
			if !fn(rec) {
				return nil
			}
		}
	}
}

// installDefaultHooks registers the hooks every non-remote database
// starts with.
func (db *Database) installDefaultHooks() {
	db.RegisterHook(newRestrictedAccessHook(db), PositionFirst)
	db.RegisterHook(newRIDBagDeleteHook(db), PositionLast)
}
