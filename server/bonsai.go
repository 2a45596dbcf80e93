package server

import (
	"encoding/binary"
	"errors"

	"github.com/keeldb/keel/database"
	"github.com/keeldb/keel/record"
	"github.com/keeldb/keel/wire"
)

// Bonsai stream serializer ids.
const (
	nullSerializerID byte = 0
	linkSerializerID byte = 9
	intSerializerID  byte = 8
)

// treeKeySize is the serialized width of a collection tree key (a
// link: cluster id + cluster position).
const treeKeySize = record.RIDSize

func encodeTreeKey(rid record.RID) []byte {
	buf := make([]byte, treeKeySize)
	binary.BigEndian.PutUint16(buf[:2], uint16(rid.ClusterID))
	binary.BigEndian.PutUint64(buf[2:], uint64(rid.ClusterPosition))
	return buf
}

func decodeTreeKey(data []byte) (record.RID, error) {
	if len(data) < treeKeySize {
		return record.RID{}, errors.New("truncated collection tree key")
	}
	return record.NewRID(
		int16(binary.BigEndian.Uint16(data[:2])),
		int64(binary.BigEndian.Uint64(data[2:treeKeySize])),
	), nil
}

func writeCollectionPointer(ch *wire.Channel, ptr database.CollectionPointer) error {
	if err := ch.WriteLong(ptr.FileID); err != nil {
		return err
	}
	if err := ch.WriteLong(ptr.PageIndex); err != nil {
		return err
	}
	return ch.WriteInt(ptr.PageOffset)
}

func readCollectionPointer(ch *wire.Channel) (database.CollectionPointer, error) {
	fileID, err := ch.ReadLong()
	if err != nil {
		return database.CollectionPointer{}, err
	}
	pageIndex, err := ch.ReadLong()
	if err != nil {
		return database.CollectionPointer{}, err
	}
	pageOffset, err := ch.ReadInt()
	if err != nil {
		return database.CollectionPointer{}, err
	}
	return database.CollectionPointer{
		FileID:     fileID,
		PageIndex:  pageIndex,
		PageOffset: pageOffset,
	}, nil
}

// decodeBagChanges parses the in-flight ridbag change stream: entry
// count, then (key, change kind, delta) triplets.
func decodeBagChanges(data []byte) (map[record.RID]int32, error) {
	if len(data) < 4 {
		return nil, nil
	}
	count := int(int32(binary.BigEndian.Uint32(data[:4])))
	changes := make(map[record.RID]int32, count)
	offset := 4
	for i := 0; i < count; i++ {
		if len(data) < offset+treeKeySize+1+4 {
			return nil, errors.New("truncated ridbag change stream")
		}
		key, err := decodeTreeKey(data[offset:])
		if err != nil {
			return nil, err
		}
		offset += treeKeySize
		kind := data[offset]
		offset++
		value := int32(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
		switch kind {
		case 0: // absolute
			changes[key] = value
		case 1: // diff
			changes[key] += value
		default:
			return nil, errors.New("unknown ridbag change kind")
		}
	}
	return changes, nil
}

// encodeTreeEntries renders a page of collection entries: count, then
// fixed-width key/value pairs.
func encodeTreeEntries(entries []database.CollectionEntry) []byte {
	buf := make([]byte, 4, 4+len(entries)*(treeKeySize+4))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(entries)))
	for _, e := range entries {
		buf = append(buf, encodeTreeKey(e.Key)...)
		var value [4]byte
		binary.BigEndian.PutUint32(value[:], uint32(e.Value))
		buf = append(buf, value[:]...)
	}
	return buf
}
