// Package bbolt implements the disk storage engine on top of bbolt.
// Each cluster maps to one bucket keyed by big-endian position; record
// envelopes persist version, type and content. It backs `plocal:`
// databases.
package bbolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tevino/abool"
	"go.etcd.io/bbolt"

	"github.com/keeldb/keel/record"
	"github.com/keeldb/keel/storage"
)

var (
	metaBucket     = []byte("m")
	clustersBucket = []byte("c")
	dataPrefix     = "d"

	serializerKey = []byte("serializer")
)

func init() {
	_ = storage.Register("plocal", NewBBolt)
}

// BBolt is the bbolt-backed storage engine.
type BBolt struct {
	name   string
	path   string
	db     *bbolt.DB
	frozen *abool.AtomicBool

	storage.InjectBase
}

// NewBBolt returns an unopened bbolt storage engine rooted at
// location/name.
func NewBBolt(name, location string) (storage.Interface, error) {
	return &BBolt{
		name:   name,
		path:   filepath.Join(location, name, "keel.db"),
		frozen: abool.New(),
	}, nil
}

// Name implements storage.Interface.
func (b *BBolt) Name() string { return b.name }

// Exists implements storage.Interface.
func (b *BBolt) Exists() bool {
	_, err := os.Stat(b.path)
	return err == nil
}

// Create implements storage.Interface.
func (b *BBolt) Create() error {
	if b.Exists() {
		return storage.ErrExists
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return err
	}
	if err := b.openDB(); err != nil {
		return err
	}
	_, err := b.AddCluster("internal", -1)
	if err != nil {
		return err
	}
	_, err = b.AddCluster("default", -1)
	return err
}

// Open implements storage.Interface.
func (b *BBolt) Open() error {
	if !b.Exists() {
		return fmt.Errorf("database %q does not exist at %s", b.name, b.path)
	}
	return b.openDB()
}

func (b *BBolt) openDB() error {
	if b.db != nil {
		return nil
	}
	db, err := bbolt.Open(b.path, 0o600, nil)
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(clustersBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return err
	}
	b.db = db
	return nil
}

// Close implements storage.Interface.
func (b *BBolt) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// Delete implements storage.Interface.
func (b *BBolt) Delete() error {
	if err := b.Close(); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Dir(b.path))
}

func clusterKey(id int16) []byte {
	var key [2]byte
	binary.BigEndian.PutUint16(key[:], uint16(id))
	return key[:]
}

func dataBucketName(id int16) []byte {
	return append([]byte(dataPrefix), clusterKey(id)...)
}

func positionKey(pos int64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(pos))
	return key[:]
}

// envelope layout: version(i32) type(1) flags(1) content.
const envelopeHeader = 6

const flagHidden = 0x1

func encodeEnvelope(version record.Version, recordType byte, hidden bool, content []byte) []byte {
	buf := make([]byte, envelopeHeader+len(content))
	binary.BigEndian.PutUint32(buf[:4], uint32(version.Encode()))
	buf[4] = recordType
	if hidden {
		buf[5] = flagHidden
	}
	copy(buf[envelopeHeader:], content)
	return buf
}

func decodeEnvelope(data []byte) (version record.Version, recordType byte, hidden bool, content []byte, err error) {
	if len(data) < envelopeHeader {
		return record.Version{}, 0, false, nil, errors.New("corrupt record envelope")
	}
	version, err = record.DecodeVersion(int32(binary.BigEndian.Uint32(data[:4])))
	if err != nil {
		return record.Version{}, 0, false, nil, err
	}
	recordType = data[4]
	hidden = data[5]&flagHidden != 0
	content = append([]byte(nil), data[envelopeHeader:]...)
	return version, recordType, hidden, content, nil
}

// Clusters implements storage.Interface.
func (b *BBolt) Clusters() []storage.Cluster {
	var all []storage.Cluster
	_ = b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(clustersBucket).ForEach(func(k, v []byte) error {
			all = append(all, storage.Cluster{
				ID:   int16(binary.BigEndian.Uint16(k)),
				Name: string(v),
			})
			return nil
		})
	})
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// AddCluster implements storage.Interface.
func (b *BBolt) AddCluster(name string, requestedID int16) (int16, error) {
	key := strings.ToLower(name)
	var assigned int16
	err := b.db.Update(func(tx *bbolt.Tx) error {
		clusters := tx.Bucket(clustersBucket)

		var maxID int16 = -1
		err := clusters.ForEach(func(k, v []byte) error {
			id := int16(binary.BigEndian.Uint16(k))
			if string(v) == key {
				return storage.ErrClusterExists
			}
			if id > maxID {
				maxID = id
			}
			return nil
		})
		if err != nil {
			return err
		}

		assigned = requestedID
		if assigned < 0 {
			assigned = maxID + 1
		} else if clusters.Get(clusterKey(assigned)) != nil {
			return storage.ErrClusterExists
		}

		if err := clusters.Put(clusterKey(assigned), []byte(key)); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists(dataBucketName(assigned))
		return err
	})
	if err != nil {
		return -1, err
	}
	return assigned, nil
}

// DropCluster implements storage.Interface.
func (b *BBolt) DropCluster(id int16) (bool, error) {
	dropped := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		clusters := tx.Bucket(clustersBucket)
		if clusters.Get(clusterKey(id)) == nil {
			return nil
		}
		if err := clusters.Delete(clusterKey(id)); err != nil {
			return err
		}
		if err := tx.DeleteBucket(dataBucketName(id)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		dropped = true
		return nil
	})
	return dropped, err
}

// ClusterByID implements storage.Interface.
func (b *BBolt) ClusterByID(id int16) (storage.Cluster, error) {
	var c storage.Cluster
	err := b.db.View(func(tx *bbolt.Tx) error {
		name := tx.Bucket(clustersBucket).Get(clusterKey(id))
		if name == nil {
			return storage.ErrClusterNotFound
		}
		c = storage.Cluster{ID: id, Name: string(name)}
		return nil
	})
	return c, err
}

// ClusterByName implements storage.Interface.
func (b *BBolt) ClusterByName(name string) (storage.Cluster, error) {
	key := strings.ToLower(name)
	var c storage.Cluster
	found := false
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(clustersBucket).ForEach(func(k, v []byte) error {
			if string(v) == key {
				c = storage.Cluster{ID: int16(binary.BigEndian.Uint16(k)), Name: key}
				found = true
			}
			return nil
		})
	})
	if err != nil {
		return storage.Cluster{}, err
	}
	if !found {
		return storage.Cluster{}, storage.ErrClusterNotFound
	}
	return c, nil
}

// CountCluster implements storage.Interface.
func (b *BBolt) CountCluster(ids []int16, countTombstones bool) (int64, error) {
	var count int64
	err := b.db.View(func(tx *bbolt.Tx) error {
		for _, id := range ids {
			data := tx.Bucket(dataBucketName(id))
			if data == nil {
				return storage.ErrClusterNotFound
			}
			err := data.ForEach(func(k, v []byte) error {
				version, _, hidden, _, err := decodeEnvelope(v)
				if err != nil {
					return err
				}
				if hidden {
					return nil
				}
				if version.IsTombstone() && !countTombstones {
					return nil
				}
				count++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return count, err
}

// ClusterDataRange implements storage.Interface.
func (b *BBolt) ClusterDataRange(id int16) (int64, int64, error) {
	min, max := int64(0), int64(-1)
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(dataBucketName(id))
		if data == nil {
			return storage.ErrClusterNotFound
		}
		c := data.Cursor()
		first, _ := c.First()
		if first == nil {
			return nil
		}
		last, _ := c.Last()
		min = int64(binary.BigEndian.Uint64(first))
		max = int64(binary.BigEndian.Uint64(last))
		return nil
	})
	return min, max, err
}

// ReadRecord implements storage.Interface.
func (b *BBolt) ReadRecord(rid record.RID, loadTombstones bool) (storage.ReadResult, error) {
	var result storage.ReadResult
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(dataBucketName(rid.ClusterID))
		if data == nil {
			return storage.ErrClusterNotFound
		}
		value := data.Get(positionKey(rid.ClusterPosition))
		if value == nil {
			return nil
		}
		version, recordType, hidden, content, err := decodeEnvelope(value)
		if err != nil {
			return err
		}
		if hidden {
			return nil
		}
		if version.IsTombstone() && !loadTombstones {
			return nil
		}
		result.Buffer = &storage.RecordBuffer{
			Bytes:   content,
			Version: version,
			Type:    recordType,
		}
		return nil
	})
	return result, err
}

// SaveRecord implements storage.Interface.
func (b *BBolt) SaveRecord(rid record.RID, content []byte, version record.Version, recordType byte) (record.RID, storage.SaveResult, error) {
	if b.frozen.IsSet() {
		return rid, storage.SaveResult{}, storage.ErrFrozen
	}
	var result storage.SaveResult
	err := b.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(dataBucketName(rid.ClusterID))
		if data == nil {
			return storage.ErrClusterNotFound
		}

		if rid.IsNew() {
			next, err := data.NextSequence()
			if err != nil {
				return err
			}
			rid.ClusterPosition = int64(next - 1)
			stored := record.TrackedVersion(0)
			if version.Kind == record.Tracked && version.Counter > 0 {
				stored = version
			}
			result.Version = stored
			return data.Put(positionKey(rid.ClusterPosition), encodeEnvelope(stored, recordType, false, content))
		}

		value := data.Get(positionKey(rid.ClusterPosition))
		if value == nil {
			return storage.ErrRecordNotFound
		}
		stored, _, _, _, err := decodeEnvelope(value)
		if err != nil {
			return err
		}
		if stored.IsTombstone() {
			return storage.ErrRecordNotFound
		}
		if !version.IsUntracked() && version != stored {
			return &storage.ConflictError{RID: rid, StoredVersion: stored, ProposedVersion: version}
		}
		result.Version = stored.Next()
		return data.Put(positionKey(rid.ClusterPosition), encodeEnvelope(result.Version, recordType, false, content))
	})
	return rid, result, err
}

// DeleteRecord implements storage.Interface.
func (b *BBolt) DeleteRecord(rid record.RID, version record.Version) (storage.DeleteResult, error) {
	return b.removeRecord(rid, version, false)
}

// CleanOutRecord implements storage.Interface.
func (b *BBolt) CleanOutRecord(rid record.RID, version record.Version) (storage.DeleteResult, error) {
	return b.removeRecord(rid, version, true)
}

func (b *BBolt) removeRecord(rid record.RID, version record.Version, cleanOut bool) (storage.DeleteResult, error) {
	if b.frozen.IsSet() {
		return storage.DeleteResult{}, storage.ErrFrozen
	}
	var result storage.DeleteResult
	err := b.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(dataBucketName(rid.ClusterID))
		if data == nil {
			return storage.ErrClusterNotFound
		}
		key := positionKey(rid.ClusterPosition)
		value := data.Get(key)
		if value == nil {
			return storage.ErrRecordNotFound
		}
		stored, recordType, _, _, err := decodeEnvelope(value)
		if err != nil {
			return err
		}
		if stored.IsTombstone() {
			return storage.ErrRecordNotFound
		}
		if !version.IsUntracked() && version != stored {
			return &storage.ConflictError{RID: rid, StoredVersion: stored, ProposedVersion: version}
		}
		result.Deleted = true
		if cleanOut {
			return data.Delete(key)
		}
		return data.Put(key, encodeEnvelope(record.TombstoneVersion(stored.Counter), recordType, false, nil))
	})
	return result, err
}

// HideRecord implements storage.Interface.
func (b *BBolt) HideRecord(rid record.RID) (storage.DeleteResult, error) {
	if b.frozen.IsSet() {
		return storage.DeleteResult{}, storage.ErrFrozen
	}
	var result storage.DeleteResult
	err := b.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(dataBucketName(rid.ClusterID))
		if data == nil {
			return storage.ErrClusterNotFound
		}
		key := positionKey(rid.ClusterPosition)
		value := data.Get(key)
		if value == nil {
			return storage.ErrRecordNotFound
		}
		version, recordType, hidden, content, err := decodeEnvelope(value)
		if err != nil {
			return err
		}
		if hidden {
			return storage.ErrRecordNotFound
		}
		result.Deleted = true
		return data.Put(key, encodeEnvelope(version, recordType, true, content))
	})
	return result, err
}

// RecordMetadata implements storage.Interface.
func (b *BBolt) RecordMetadata(rid record.RID) (storage.RecordMetadata, error) {
	var meta storage.RecordMetadata
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(dataBucketName(rid.ClusterID))
		if data == nil {
			return storage.ErrClusterNotFound
		}
		value := data.Get(positionKey(rid.ClusterPosition))
		if value == nil {
			return storage.ErrRecordNotFound
		}
		version, _, hidden, _, err := decodeEnvelope(value)
		if err != nil {
			return err
		}
		if hidden {
			return storage.ErrRecordNotFound
		}
		meta = storage.RecordMetadata{RID: rid, Version: version}
		return nil
	})
	return meta, err
}

func (b *BBolt) positions(clusterID int16, start int64, inclusive, ascending bool, limit int) ([]storage.PhysicalPosition, error) {
	var result []storage.PhysicalPosition
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(dataBucketName(clusterID))
		if data == nil {
			return storage.ErrClusterNotFound
		}
		cursor := data.Cursor()

		step := cursor.Next
		if !ascending {
			step = cursor.Prev
		}

		k, v := cursor.Seek(positionKey(start))
		if ascending {
			if k != nil && !inclusive && int64(binary.BigEndian.Uint64(k)) == start {
				k, v = cursor.Next()
			}
		} else {
			// Seek lands at or after start; walk back to the first key
			// at or below it.
			if k == nil {
				k, v = cursor.Last()
			}
			for k != nil {
				pos := int64(binary.BigEndian.Uint64(k))
				if pos < start || (inclusive && pos == start) {
					break
				}
				k, v = cursor.Prev()
			}
		}

		for k != nil {
			if limit > 0 && len(result) >= limit {
				break
			}
			version, _, hidden, content, err := decodeEnvelope(v)
			if err != nil {
				return err
			}
			if !hidden && !version.IsTombstone() {
				result = append(result, storage.PhysicalPosition{
					Position: int64(binary.BigEndian.Uint64(k)),
					Size:     int32(len(content)),
					Version:  version,
				})
			}
			k, v = step()
		}
		return nil
	})
	return result, err
}

// HigherPositions implements storage.Interface.
func (b *BBolt) HigherPositions(clusterID int16, position int64, limit int) ([]storage.PhysicalPosition, error) {
	return b.positions(clusterID, position, false, true, limit)
}

// CeilingPositions implements storage.Interface.
func (b *BBolt) CeilingPositions(clusterID int16, position int64, limit int) ([]storage.PhysicalPosition, error) {
	return b.positions(clusterID, position, true, true, limit)
}

// LowerPositions implements storage.Interface.
func (b *BBolt) LowerPositions(clusterID int16, position int64, limit int) ([]storage.PhysicalPosition, error) {
	return b.positions(clusterID, position, false, false, limit)
}

// FloorPositions implements storage.Interface.
func (b *BBolt) FloorPositions(clusterID int16, position int64, limit int) ([]storage.PhysicalPosition, error) {
	return b.positions(clusterID, position, true, false, limit)
}

// CountRecords implements storage.Interface.
func (b *BBolt) CountRecords() (int64, error) {
	clusters := b.Clusters()
	ids := make([]int16, 0, len(clusters))
	for _, c := range clusters {
		ids = append(ids, c.ID)
	}
	return b.CountCluster(ids, false)
}

// Size implements storage.Interface.
func (b *BBolt) Size() (int64, error) {
	info, err := os.Stat(b.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Freeze implements storage.Interface.
func (b *BBolt) Freeze() error {
	b.frozen.Set()
	return b.db.Sync()
}

// Release implements storage.Interface.
func (b *BBolt) Release() error {
	b.frozen.UnSet()
	return nil
}

// FreezeCluster implements storage.Interface.
func (b *BBolt) FreezeCluster(id int16) error {
	// bbolt writes go through a single update transaction; a cluster
	// freeze degrades to a full freeze.
	return b.Freeze()
}

// ReleaseCluster implements storage.Interface.
func (b *BBolt) ReleaseCluster(id int16) error {
	return b.Release()
}

// ConfiguredSerializer implements storage.Interface.
func (b *BBolt) ConfiguredSerializer() string {
	var name string
	_ = b.db.View(func(tx *bbolt.Tx) error {
		name = string(tx.Bucket(metaBucket).Get(serializerKey))
		return nil
	})
	return name
}

// SetConfiguredSerializer implements storage.Interface.
func (b *BBolt) SetConfiguredSerializer(name string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).Put(serializerKey, []byte(name))
	})
}

// IsRemote implements storage.Interface.
func (b *BBolt) IsRemote() bool { return false }

// IsDistributed implements storage.Interface.
func (b *BBolt) IsDistributed() bool { return false }

// ClassesByClusterID implements storage.Interface.
func (b *BBolt) ClassesByClusterID() bool { return false }
