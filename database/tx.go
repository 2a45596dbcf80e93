package database

import (
	"github.com/keeldb/keel/record"
)

// DeletedRecord is the sentinel returned by transaction lookups for
// RIDs deleted in the current transaction.
var DeletedRecord = &record.Record{}

// A Transaction buffers created, updated and deleted records until
// commit replays them against storage.
type Transaction struct {
	id     int32
	active bool

	createdOrder []record.RID
	created      map[record.RID]*record.Record
	updatedOrder []record.RID
	updated      map[record.RID]*record.Record
	deletedOrder []record.RID
	deleted      map[record.RID]record.Version

	// original client identities, for rollback of in-flight changes
	originalRIDs map[*record.Record]record.RID
}

// NewTransaction returns an active transaction with the given client
// id.
func NewTransaction(id int32) *Transaction {
	return &Transaction{
		id:           id,
		active:       true,
		created:      make(map[record.RID]*record.Record),
		updated:      make(map[record.RID]*record.Record),
		deleted:      make(map[record.RID]record.Version),
		originalRIDs: make(map[*record.Record]record.RID),
	}
}

// ID returns the client-assigned transaction id.
func (tx *Transaction) ID() int32 { return tx.id }

// IsActive reports whether the transaction still accepts operations.
func (tx *Transaction) IsActive() bool { return tx != nil && tx.active }

// AddCreate enqueues a record creation. The record keeps its client
// (temporary) identity until commit.
func (tx *Transaction) AddCreate(rec *record.Record) {
	rid := rec.RID()
	if _, known := tx.created[rid]; !known {
		tx.createdOrder = append(tx.createdOrder, rid)
	}
	tx.created[rid] = rec
	tx.originalRIDs[rec] = rid
}

// AddUpdate enqueues a record update. The RID may be a client-temporary
// identity created earlier in the same transaction; commit resolves it.
func (tx *Transaction) AddUpdate(rec *record.Record) {
	rid := rec.RID()
	if _, known := tx.updated[rid]; !known {
		tx.updatedOrder = append(tx.updatedOrder, rid)
	}
	tx.updated[rid] = rec
}

// AddDelete enqueues a record deletion carrying the version the client
// saw.
func (tx *Transaction) AddDelete(rid record.RID, version record.Version) {
	// deleting an in-tx create cancels both
	if _, ok := tx.created[rid]; ok {
		delete(tx.created, rid)
		for i, r := range tx.createdOrder {
			if r == rid {
				tx.createdOrder = append(tx.createdOrder[:i], tx.createdOrder[i+1:]...)
				break
			}
		}
		return
	}
	if _, ok := tx.updated[rid]; ok {
		delete(tx.updated, rid)
		for i, r := range tx.updatedOrder {
			if r == rid {
				tx.updatedOrder = append(tx.updatedOrder[:i], tx.updatedOrder[i+1:]...)
				break
			}
		}
	}
	if _, known := tx.deleted[rid]; !known {
		tx.deletedOrder = append(tx.deletedOrder, rid)
	}
	tx.deleted[rid] = version
}

// GetRecord returns the buffered record for a RID: the DeletedRecord
// sentinel when it was deleted in this transaction, the buffered image
// when created or updated, nil otherwise.
func (tx *Transaction) GetRecord(rid record.RID) *record.Record {
	if tx == nil || !tx.active {
		return nil
	}
	if _, ok := tx.deleted[rid]; ok {
		return DeletedRecord
	}
	if rec, ok := tx.updated[rid]; ok {
		return rec
	}
	if rec, ok := tx.created[rid]; ok {
		return rec
	}
	return nil
}

// Rollback clears the buffers and reverts in-flight identity changes.
func (tx *Transaction) Rollback() {
	if tx == nil || !tx.active {
		return
	}
	for rec, rid := range tx.originalRIDs {
		if rec.RID() != rid {
			rec.SetRID(rid)
		}
	}
	tx.active = false
	tx.created = make(map[record.RID]*record.Record)
	tx.updated = make(map[record.RID]*record.Record)
	tx.deleted = make(map[record.RID]record.Version)
	tx.createdOrder = nil
	tx.updatedOrder = nil
	tx.deletedOrder = nil
}

// A CreatedPair maps the client identity of a created record to its
// stored form.
type CreatedPair struct {
	ClientRID record.RID
	Record    *record.Record
}

// An UpdatedPair carries the new version of an updated record.
type UpdatedPair struct {
	RID     record.RID
	Version record.Version
}

// A CommitResult is what a committed transaction reports back to the
// client.
type CommitResult struct {
	Created           []CreatedPair
	Updated           []UpdatedPair
	CollectionChanges []CollectionChange
}

// Begin opens a transaction on the database. Only one transaction may
// be active per database handle.
func (db *Database) Begin(id int32) (*Transaction, error) {
	if db.tx.IsActive() {
		return nil, ErrTxActive
	}
	db.tx = NewTransaction(id)
	return db.tx, nil
}

// Transaction returns the active transaction, nil when none.
func (db *Database) Transaction() *Transaction {
	if db.tx.IsActive() {
		return db.tx
	}
	return nil
}

// Commit replays the buffered operations against storage: creates
// first (storage assigns identities), then updates, then deletes. On
// any failure the transaction is rolled back, collection change
// tracking is cleared and the error surfaces.
func (db *Database) Commit() (*CommitResult, error) {
	tx := db.tx
	if !tx.IsActive() {
		return nil, ErrNoTx
	}

	// operations below consult the tx buffer through Load; detach it so
	// committed saves hit storage
	db.tx = nil

	result, err := db.commitTx(tx)
	if err != nil {
		if tx.IsActive() {
			tx.Rollback()
		}
		if db.collections != nil {
			db.collections.ClearChangedIDs()
		}
		return nil, err
	}
	tx.active = false
	return result, nil
}

func (db *Database) commitTx(tx *Transaction) (*CommitResult, error) {
	result := &CommitResult{}

	for _, clientRID := range tx.createdOrder {
		rec, ok := tx.created[clientRID]
		if !ok {
			continue
		}
		// a client-temporary position (which may be the invalid sentinel)
		// is replaced by a new identity in the same cluster before storage
		// assigns the server one; Rollback restores the client identity
		rec.SetRID(record.NewRID(clientRID.ClusterID, record.ClusterPosNew))
		if _, err := db.Save(rec, "", ModeSynchronous, true, nil, nil); err != nil {
			return nil, err
		}
		result.Created = append(result.Created, CreatedPair{ClientRID: clientRID, Record: rec})
	}

	updatedVersions := make(map[record.RID]record.Version)
	var updatedOrder []record.RID
	for _, clientRID := range tx.updatedOrder {
		rec, ok := tx.updated[clientRID]
		if !ok {
			continue
		}
		// an update of a record created in this transaction applies to
		// the stored record under its server identity
		if created, wasCreated := tx.created[clientRID]; wasCreated {
			created.SetBytes(rec.Bytes())
			rec = created
		}
		if _, err := db.Save(rec, "", ModeSynchronous, false, nil, nil); err != nil {
			return nil, err
		}
		if _, seen := updatedVersions[rec.RID()]; !seen {
			updatedOrder = append(updatedOrder, rec.RID())
		}
		updatedVersions[rec.RID()] = rec.Version()
	}

	for _, rid := range tx.deletedOrder {
		version, ok := tx.deleted[rid]
		if !ok {
			continue
		}
		if err := db.Delete(rid, version, false, true, ModeSynchronous, false); err != nil {
			return nil, err
		}
	}

	// a created record with a bumped counter was updated inside the
	// same transaction; the client needs its final version too
	for _, pair := range result.Created {
		v := pair.Record.Version()
		if v.Kind == record.Tracked && v.Counter > 0 {
			if _, seen := updatedVersions[pair.Record.RID()]; !seen {
				updatedOrder = append(updatedOrder, pair.Record.RID())
				updatedVersions[pair.Record.RID()] = v
			}
		}
	}
	for _, rid := range updatedOrder {
		result.Updated = append(result.Updated, UpdatedPair{RID: rid, Version: updatedVersions[rid]})
	}

	if db.collections != nil {
		result.CollectionChanges = db.collections.ChangedIDs()
		db.collections.ClearChangedIDs()
	}
	return result, nil
}

// Rollback aborts the active transaction, if any.
func (db *Database) Rollback() {
	if db.tx.IsActive() {
		db.tx.Rollback()
	}
	db.tx = nil
}
