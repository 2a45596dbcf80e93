// Package wire implements the binary protocol framing: fixed-endian
// primitives over a duplex byte stream, the per-channel write lock, and
// the error-frame codec. Opcode numbers are stable across releases.
package wire

// Request opcodes.
const (
	RequestShutdown           byte = 1
	RequestConnect            byte = 2
	RequestDBOpen             byte = 3
	RequestDBCreate           byte = 4
	RequestDBClose            byte = 5
	RequestDBExist            byte = 6
	RequestDBDrop             byte = 7
	RequestDBSize             byte = 8
	RequestDBCountRecords     byte = 9
	RequestClusterAdd         byte = 10
	RequestClusterDrop        byte = 11
	RequestClusterCount       byte = 12
	RequestClusterDataRange   byte = 13
	RequestRecordMetadata     byte = 29
	RequestRecordLoad         byte = 30
	RequestRecordCreate       byte = 31
	RequestRecordUpdate       byte = 32
	RequestRecordDelete       byte = 33
	RequestPositionsHigher    byte = 36
	RequestPositionsLower     byte = 37
	RequestRecordCleanOut     byte = 38
	RequestPositionsFloor     byte = 39
	RequestCommand            byte = 41
	RequestPositionsCeiling   byte = 42
	RequestRecordHide         byte = 43
	RequestTxCommit           byte = 60
	RequestConfigGet          byte = 70
	RequestConfigSet          byte = 71
	RequestConfigList         byte = 72
	RequestDBReload           byte = 73
	RequestDBList             byte = 74
	RequestDBCopy             byte = 90
	RequestReplication        byte = 91
	RequestCluster            byte = 92
	RequestDBFreeze           byte = 94
	RequestDBRelease          byte = 95
	RequestClusterFreeze      byte = 96
	RequestClusterRelease     byte = 97
	RequestCreateSBTree       byte = 110
	RequestSBTreeGet          byte = 111
	RequestSBTreeFirstKey     byte = 112
	RequestSBTreeEntriesMajor byte = 113
	RequestRIDBagGetSize      byte = 114
)

// Response statuses.
const (
	ResponseStatusOK    byte = 0
	ResponseStatusError byte = 1
	PushData            byte = 3
)

// Protocol versions at which wire-visible behaviors changed. Every
// guard is mandatory for bytewise compatibility on both the encode and
// decode side.
const (
	// ProtocolVersion9 added the ignore-cache flag to record loads.
	ProtocolVersion9 int16 = 9
	// ProtocolVersion11 added the version to create-record responses.
	ProtocolVersion11 int16 = 11
	// ProtocolVersion13 added tombstone flags to loads and counts.
	ProtocolVersion13 int16 = 13
	// ProtocolVersion14 added the server version string to DB_OPEN.
	ProtocolVersion14 int16 = 14
	// ProtocolVersion16 added the storage type to drop/freeze/release.
	ProtocolVersion16 int16 = 16
	// ProtocolVersion18 added the requested id to cluster adds.
	ProtocolVersion18 int16 = 18
	// ProtocolVersion19 appended the serialized exception blob to
	// error frames.
	ProtocolVersion19 int16 = 19
	// ProtocolVersion20 added collection changes to write responses.
	ProtocolVersion20 int16 = 20
	// ProtocolVersion21 added the page size to bonsai range reads.
	ProtocolVersion21 int16 = 21
	// ProtocolVersion23 added the update-content flag to updates.
	ProtocolVersion23 int16 = 23
	// ProtocolVersion24 dropped data-segment and cluster type/location
	// fields.
	ProtocolVersion24 int16 = 24

	// CurrentProtocolVersion is what the server announces on accept.
	CurrentProtocolVersion int16 = 24
	// MinProtocolVersion is the oldest version still negotiable.
	MinProtocolVersion int16 = 7
)

// Synchronization modes carried by write requests.
const (
	ModeSynchronous  byte = 0
	ModeAsynchronous byte = 1
	ModeNoResponse   byte = 2
)
