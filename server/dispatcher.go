package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keeldb/keel/database"
	"github.com/keeldb/keel/record"
	"github.com/keeldb/keel/serializer"
	"github.com/keeldb/keel/storage"
	"github.com/keeldb/keel/wire"
)

// Transaction entry operation types on the wire.
const (
	txOpUpdated byte = 1
	txOpDeleted byte = 2
	txOpCreated byte = 3
)

// positionsBatch bounds one positions response.
const positionsBatch = 32

var errUnknownSession = wire.NewClassedError(wire.ClassIO, errors.New("found unknown session"))

// A handler serves the binary protocol over one connection.
type handler struct {
	srv  *Server
	ch   *wire.Channel
	conn *Connection

	clientTxID  int32
	requestType byte
	stop        bool
}

func newHandler(s *Server, conn net.Conn) *handler {
	return &handler{srv: s, ch: wire.NewChannel(conn)}
}

// run speaks the protocol until the peer goes away: the server's
// protocol version first, then request/response pairs.
func (h *handler) run() {
	defer h.teardown()

	if err := h.ch.WriteShort(wire.CurrentProtocolVersion); err != nil {
		return
	}
	if err := h.ch.Flush(); err != nil {
		return
	}

	for !h.stop {
		op, err := h.ch.ReadByte()
		if err != nil {
			h.dropConnection(err)
			return
		}
		h.requestType = op

		h.clientTxID, err = h.ch.ReadInt()
		if err != nil {
			h.dropConnection(err)
			return
		}

		if err := h.onBeforeRequest(); err != nil {
			h.sendError(err)
			return
		}

		handled, err := h.executeRequest(op)
		if err != nil {
			h.clearRequestResidue()
			if isTransportError(err) {
				h.dropConnection(err)
				return
			}
			h.sendError(err)
		} else if !handled {
			h.setCommandInfo("Command not supported")
			h.sendError(wire.NewClassedError("Command not supported",
				fmt.Errorf("request not supported: %d", op)))
		}

		h.onAfterRequest()
	}
}

func (h *handler) teardown() {
	h.clearRequestResidue()
	_ = h.ch.Close()
}

func (h *handler) dropConnection(err error) {
	if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		logrus.Debugf("server: connection dropped: %s", err)
	}
	connectionsDropped.Inc()
	h.clearRequestResidue()
	h.stop = true
}

// clearRequestResidue rolls back an in-flight transaction and clears
// collection change tracking.
func (h *handler) clearRequestResidue() {
	if h.conn == nil || h.conn.DB == nil {
		return
	}
	h.conn.DB.Rollback()
	if manager := h.conn.DB.CollectionManager(); manager != nil {
		manager.ClearChangedIDs()
	}
}

func isTransportError(err error) bool {
	var netErr net.Error
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.As(err, &netErr)
}

func (h *handler) onBeforeRequest() error {
	h.srv.waitNodeOnline()
	if h.srv.shuttingDown.IsSet() && h.requestType != wire.RequestShutdown {
		return database.ErrShuttingDown
	}

	h.conn = h.srv.sessions.Get(h.clientTxID)

	if h.clientTxID < 0 {
		// fresh session for CONNECT / DB_OPEN; keep an already
		// negotiated protocol version if any
		var protocolID int16
		if h.conn != nil {
			protocolID = h.conn.Data.ProtocolVersion
		}
		h.conn = h.srv.sessions.Connect()
		h.conn.Data.ProtocolVersion = protocolID
	}

	if h.conn == nil {
		if h.requestType != wire.RequestDBClose && h.requestType != wire.RequestShutdown {
			logrus.Debugf("server: found unknown session %d, shutting down connection", h.clientTxID)
			h.stop = true
			return errUnknownSession
		}
		return nil
	}

	h.conn.Data.TotalRequests++
	h.conn.Data.CommandInfo = "Listening"
	h.conn.Data.CommandDetail = "-"
	h.conn.Data.LastCommandReceived = time.Now()
	return nil
}

func (h *handler) onAfterRequest() {
	if h.conn == nil {
		return
	}
	if h.conn.DB != nil && !h.conn.DB.IsClosed() {
		// commands are stateless: clear the per-request cache scope and
		// any transaction residue before the channel is reused
		h.conn.DB.LocalCache().Clear()
		h.conn.DB.Rollback()
	}
	h.conn.Data.LastCommandExecutionTime = time.Since(h.conn.Data.LastCommandReceived)
	h.conn.Data.TotalCommandExecutionTime += h.conn.Data.LastCommandExecutionTime
	h.conn.Data.LastCommandInfo = h.conn.Data.CommandInfo
	h.conn.Data.LastCommandDetail = h.conn.Data.CommandDetail
	h.conn.Data.CommandInfo = "Listening"
	h.conn.Data.CommandDetail = "-"
}

func (h *handler) setCommandInfo(info string) {
	if h.conn != nil {
		h.conn.Data.CommandInfo = info
	}
	countRequest(info)
}

func (h *handler) setCommandDetail(detail string) {
	if h.conn != nil {
		h.conn.Data.CommandDetail = detail
	}
}

func (h *handler) protocolVersion() int16 {
	if h.conn == nil {
		return wire.CurrentProtocolVersion
	}
	return h.conn.Data.ProtocolVersion
}

// executeRequest routes one opcode. Returning false means "not
// handled" and yields the command-not-supported error frame.
func (h *handler) executeRequest(op byte) (bool, error) {
	var err error
	switch op {
	case wire.RequestShutdown:
		err = h.shutdownServer()
	case wire.RequestConnect:
		err = h.connect()
	case wire.RequestDBList:
		err = h.listDatabases()
	case wire.RequestDBOpen:
		err = h.openDatabase()
	case wire.RequestDBReload:
		err = h.reloadDatabase()
	case wire.RequestDBCreate:
		err = h.createDatabase()
	case wire.RequestDBClose:
		err = h.closeDatabase()
	case wire.RequestDBExist:
		err = h.existsDatabase()
	case wire.RequestDBDrop:
		err = h.dropDatabase()
	case wire.RequestDBSize:
		err = h.sizeDatabase()
	case wire.RequestDBCountRecords:
		err = h.countDatabaseRecords()
	case wire.RequestDBCopy:
		err = h.copyDatabase()
	case wire.RequestReplication:
		err = h.replicationDatabase()
	case wire.RequestCluster:
		err = h.distributedCluster()
	case wire.RequestClusterCount:
		err = h.countClusters()
	case wire.RequestClusterDataRange:
		err = h.rangeCluster()
	case wire.RequestClusterAdd:
		err = h.addCluster()
	case wire.RequestClusterDrop:
		err = h.removeCluster()
	case wire.RequestRecordMetadata:
		err = h.readRecordMetadata()
	case wire.RequestRecordLoad:
		err = h.readRecord()
	case wire.RequestRecordCreate:
		err = h.createRecord()
	case wire.RequestRecordUpdate:
		err = h.updateRecord()
	case wire.RequestRecordDelete:
		err = h.deleteRecord()
	case wire.RequestRecordHide:
		err = h.hideRecord()
	case wire.RequestRecordCleanOut:
		err = h.cleanOutRecord()
	case wire.RequestPositionsHigher:
		err = h.positions("Retrieve higher positions", h.srv.positionsHigher)
	case wire.RequestPositionsCeiling:
		err = h.positions("Retrieve ceiling positions", h.srv.positionsCeiling)
	case wire.RequestPositionsLower:
		err = h.positions("Retrieve lower positions", h.srv.positionsLower)
	case wire.RequestPositionsFloor:
		err = h.positions("Retrieve floor positions", h.srv.positionsFloor)
	case wire.RequestCommand:
		err = h.command()
	case wire.RequestTxCommit:
		err = h.commit()
	case wire.RequestConfigGet:
		err = h.configGet()
	case wire.RequestConfigSet:
		err = h.configSet()
	case wire.RequestConfigList:
		err = h.configList()
	case wire.RequestDBFreeze:
		err = h.freezeDatabase()
	case wire.RequestDBRelease:
		err = h.releaseDatabase()
	case wire.RequestClusterFreeze:
		err = h.freezeCluster()
	case wire.RequestClusterRelease:
		err = h.releaseCluster()
	case wire.RequestCreateSBTree:
		err = h.createSBTree()
	case wire.RequestSBTreeGet:
		err = h.sbtreeGet()
	case wire.RequestSBTreeFirstKey:
		err = h.sbtreeFirstKey()
	case wire.RequestSBTreeEntriesMajor:
		err = h.sbtreeEntriesMajor()
	case wire.RequestRIDBagGetSize:
		err = h.ridBagSize()
	default:
		return false, nil
	}
	return true, err
}

// response framing

func (h *handler) beginResponse() {
	h.ch.AcquireWriteLock()
}

func (h *handler) endResponse() error {
	err := h.ch.Flush()
	h.ch.ReleaseWriteLock()
	return err
}

func (h *handler) sendOk() error {
	if err := h.ch.WriteByte(wire.ResponseStatusOK); err != nil {
		return err
	}
	return h.ch.WriteInt(h.clientTxID)
}

// respond frames an OK response, running body under the write lock.
func (h *handler) respond(body func() error) error {
	h.beginResponse()
	err := h.sendOk()
	if err == nil && body != nil {
		err = body()
	}
	if ferr := h.endResponse(); err == nil {
		err = ferr
	}
	return err
}

// sendError frames an error response: the exception chain, then the
// serialized exception blob on protocol 19 and above.
func (h *handler) sendError(err error) {
	countError(wire.ExceptionClass(h.classify(err)))

	h.ch.AcquireWriteLock()
	defer h.ch.ReleaseWriteLock()

	classified := h.classify(err)
	if werr := h.ch.WriteByte(wire.ResponseStatusError); werr != nil {
		h.dropConnection(werr)
		return
	}
	if werr := h.ch.WriteInt(h.clientTxID); werr != nil {
		h.dropConnection(werr)
		return
	}
	if werr := h.ch.WriteErrorChain(classified); werr != nil {
		h.dropConnection(werr)
		return
	}
	if h.conn != nil && h.conn.Data.ProtocolVersion >= wire.ProtocolVersion19 {
		blob, merr := h.serializerFor().Marshal(classified.Error())
		if merr != nil {
			logrus.Warnf("server: cannot serialize exception object: %s", merr)
			blob = []byte{}
		}
		if werr := h.ch.WriteBytes(blob); werr != nil {
			h.dropConnection(werr)
			return
		}
	}
	if werr := h.ch.Flush(); werr != nil {
		h.dropConnection(werr)
	}
}

func (h *handler) serializerFor() serializer.Serializer {
	if h.conn != nil {
		return h.conn.Serializer()
	}
	return serializer.Default()
}

// classify pins the exception class clients key their retry logic off.
func (h *handler) classify(err error) error {
	var classed *wire.ClassedError
	if errors.As(err, &classed) {
		return err
	}
	var conflict *storage.ConflictError
	switch {
	case errors.As(err, &conflict):
		return wire.NewClassedError(wire.ClassConcurrentModification, err)
	case errors.Is(err, storage.ErrRecordNotFound):
		return wire.NewClassedError(wire.ClassRecordNotFound, err)
	case errors.Is(err, storage.ErrClusterNotFound):
		return wire.NewClassedError(wire.ClassClusterNotFound, err)
	case errors.Is(err, database.ErrAccessDenied), errors.Is(err, database.ErrInvalidUser), errors.Is(err, database.ErrNoRoles):
		return wire.NewClassedError(wire.ClassSecurityAccess, err)
	case errors.Is(err, database.ErrNoCommandSupport):
		return wire.NewClassedError(wire.ClassCommandNotSupported, err)
	case errors.Is(err, database.ErrTxAborted):
		return wire.NewClassedError(wire.ClassTransactionAborted, err)
	default:
		return wire.NewClassedError(wire.ClassDatabase, err)
	}
}

// isConnectionAlive kills sessions whose database went away.
func (h *handler) isConnectionAlive() bool {
	if h.conn == nil || h.conn.DB == nil {
		h.srv.sessions.Kill(h.conn)
		h.stop = true
		return false
	}
	return true
}

func (h *handler) checkServerAccess(resource string) error {
	if h.conn == nil || h.conn.ServerUser == nil {
		return wire.NewClassedError(wire.ClassSecurityAccess,
			errors.New("server user not authenticated"))
	}
	if !h.srv.authenticateServerUser(h.conn.ServerUser.Name, "", resource) {
		return wire.NewClassedError(wire.ClassSecurityAccess,
			fmt.Errorf("user %q cannot access the resource %q", h.conn.ServerUser.Name, resource))
	}
	return nil
}

func (h *handler) readConnectionData() error {
	data := &h.conn.Data
	var err error
	if data.DriverName, err = h.ch.ReadString(); err != nil {
		return err
	}
	if data.DriverVersion, err = h.ch.ReadString(); err != nil {
		return err
	}
	if data.ProtocolVersion, err = h.ch.ReadShort(); err != nil {
		return err
	}
	if data.ClientID, err = h.ch.ReadString(); err != nil {
		return err
	}
	if data.ProtocolVersion > wire.ProtocolVersion21 {
		if data.SerializerName, err = h.ch.ReadString(); err != nil {
			return err
		}
	} else {
		data.SerializerName = serializer.DefaultName
	}
	return nil
}

func (h *handler) sendDatabaseInformation() error {
	clusters := h.conn.DB.Storage().Clusters()
	version := h.protocolVersion()

	if version >= 7 {
		if err := h.ch.WriteShort(int16(len(clusters))); err != nil {
			return err
		}
	} else {
		if err := h.ch.WriteInt(int32(len(clusters))); err != nil {
			return err
		}
	}
	for _, c := range clusters {
		if err := h.ch.WriteString(c.Name); err != nil {
			return err
		}
		if err := h.ch.WriteShort(c.ID); err != nil {
			return err
		}
		if version >= 12 && version < wire.ProtocolVersion24 {
			// data segment name and id, gone in 24
			if err := h.ch.WriteString("none"); err != nil {
				return err
			}
			if err := h.ch.WriteShort(-1); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeIdentifiable streams a record (or its absence) in the
// identifiable envelope.
func (h *handler) writeIdentifiable(rec *record.Record) error {
	if rec == nil {
		return h.ch.WriteShort(-2)
	}
	if err := h.ch.WriteShort(0); err != nil {
		return err
	}
	if err := h.ch.WriteByte(rec.Type()); err != nil {
		return err
	}
	if err := h.ch.WriteRID(rec.RID()); err != nil {
		return err
	}
	if err := h.ch.WriteVersion(rec.Version()); err != nil {
		return err
	}
	return h.ch.WriteBytes(rec.Bytes())
}

func (h *handler) sendCollectionChanges() error {
	manager := h.conn.DB.CollectionManager()
	if manager == nil {
		return h.ch.WriteInt(0)
	}
	changes := manager.ChangedIDs()
	if err := h.ch.WriteInt(int32(len(changes))); err != nil {
		return err
	}
	for _, change := range changes {
		uuidBytes := change.ID.Bytes()
		// most significant and least significant halves
		if err := h.ch.WriteLong(int64(beUint64(uuidBytes[:8]))); err != nil {
			return err
		}
		if err := h.ch.WriteLong(int64(beUint64(uuidBytes[8:]))); err != nil {
			return err
		}
		if err := writeCollectionPointer(h.ch, change.Pointer); err != nil {
			return err
		}
	}
	manager.ClearChangedIDs()
	return nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// request handlers

func (h *handler) shutdownServer() error {
	h.setCommandInfo("Shutdowning")

	user, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	password, err := h.ch.ReadString()
	if err != nil {
		return err
	}

	remote := h.ch.RemoteAddr()
	logrus.Infof("server: received shutdown command from the remote client %s", remote)

	if h.srv.cfg.ShutdownUser != "" && user == h.srv.cfg.ShutdownUser && password == h.srv.cfg.ShutdownPassword {
		logrus.Infof("server: remote client %s authenticated, starting shutdown of server", remote)
		if err := h.respond(nil); err != nil {
			return err
		}
		h.stop = true
		go func() {
			if err := h.srv.Shutdown(); err != nil {
				logrus.Errorf("server: shutdown failed: %s", err)
			}
		}()
		return nil
	}

	logrus.Errorf("server: authentication error of remote client %s: shutdown is aborted", remote)
	return wire.NewClassedError(wire.ClassSecurityAccess,
		errors.New("invalid user/password to shutdown the server"))
}

func (h *handler) connect() error {
	h.setCommandInfo("Connect")

	if err := h.readConnectionData(); err != nil {
		return err
	}
	user, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	password, err := h.ch.ReadString()
	if err != nil {
		return err
	}

	serverUser, err := h.srv.serverLogin(user, password, "connect")
	if err != nil {
		return err
	}
	h.conn.ServerUser = serverUser

	return h.respond(func() error {
		return h.ch.WriteInt(h.conn.ID)
	})
}

func (h *handler) listDatabases() error {
	if err := h.checkServerAccess("server.dblist"); err != nil {
		return err
	}
	h.setCommandInfo("List databases")

	jsonSer, err := serializer.Get(serializer.JSONName)
	if err != nil {
		return err
	}
	doc, err := jsonSer.Marshal(map[string]interface{}{
		"databases": h.srv.registry.ListDatabases(),
	})
	if err != nil {
		return err
	}
	return h.respond(func() error {
		return h.ch.WriteBytes(doc)
	})
}

func (h *handler) openDatabase() error {
	h.setCommandInfo("Open database")

	if err := h.readConnectionData(); err != nil {
		return err
	}
	dbName, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	dbType := "document"
	if h.conn.Data.ProtocolVersion >= 8 {
		if dbType, err = h.ch.ReadString(); err != nil {
			return err
		}
	}
	_ = dbType
	user, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	password, err := h.ch.ReadString()
	if err != nil {
		return err
	}

	db, err := h.srv.registry.OpenDatabase(dbName, h.srv.cfg.DefaultStorageType, user, password)
	if err != nil {
		return err
	}
	db.SetCommandExecutor(h.srv.executor)
	if name := h.conn.Data.SerializerName; name != "" {
		if ser, serr := serializer.Get(name); serr == nil {
			db.SetSerializer(ser)
		}
	}
	h.conn.DB = db

	return h.respond(func() error {
		if err := h.ch.WriteInt(h.conn.ID); err != nil {
			return err
		}
		if err := h.sendDatabaseInformation(); err != nil {
			return err
		}
		// distributed configuration, none without the cluster plugin
		if err := h.ch.WriteBytes(nil); err != nil {
			return err
		}
		if h.conn.Data.ProtocolVersion >= wire.ProtocolVersion14 {
			return h.ch.WriteString(serverVersion)
		}
		return nil
	})
}

func (h *handler) reloadDatabase() error {
	h.setCommandInfo("Reload database information")
	if !h.isConnectionAlive() {
		return nil
	}
	if err := h.conn.DB.Reload(); err != nil {
		return err
	}
	return h.respond(h.sendDatabaseInformation)
}

func (h *handler) createDatabase() error {
	h.setCommandInfo("Create database")

	dbName, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	if h.protocolVersion() >= 8 {
		if _, err = h.ch.ReadString(); err != nil { // database type
			return err
		}
	}
	storageType, err := h.ch.ReadString()
	if err != nil {
		return err
	}

	if err := h.checkServerAccess("database.create"); err != nil {
		return err
	}

	db, err := h.srv.registry.CreateDatabase(dbName, storageType)
	if err != nil {
		return err
	}
	db.SetCommandExecutor(h.srv.executor)
	h.conn.DB = db

	return h.respond(nil)
}

func (h *handler) closeDatabase() error {
	h.setCommandInfo("Close Database")

	if h.conn != nil {
		if v := h.conn.Data.ProtocolVersion; v > 0 && v < 9 {
			// old clients wait for an ok
			h.beginResponse()
			err := h.sendOk()
			if ferr := h.endResponse(); err == nil {
				err = ferr
			}
			if err != nil {
				return err
			}
		}
		if h.srv.sessions.Disconnect(h.conn.ID) {
			h.stop = true
		}
	}
	return nil
}

func (h *handler) existsDatabase() error {
	h.setCommandInfo("Exists database")

	dbName, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	storageType := h.srv.cfg.DefaultStorageType
	if h.protocolVersion() >= wire.ProtocolVersion16 {
		if storageType, err = h.ch.ReadString(); err != nil {
			return err
		}
	}

	if err := h.checkServerAccess("database.exists"); err != nil {
		return err
	}

	exists, err := h.srv.registry.ExistsDatabase(dbName, storageType)
	if err != nil {
		return err
	}
	return h.respond(func() error {
		return h.ch.WriteBool(exists)
	})
}

func (h *handler) dropDatabase() error {
	h.setCommandInfo("Drop database")

	dbName, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	storageType := h.srv.cfg.DefaultStorageType
	if h.protocolVersion() >= wire.ProtocolVersion16 {
		if storageType, err = h.ch.ReadString(); err != nil {
			return err
		}
	}

	if err := h.checkServerAccess("database.delete"); err != nil {
		return err
	}

	if err := h.srv.registry.DropDatabase(dbName, storageType); err != nil {
		return err
	}
	logrus.Infof("server: dropped database %q", dbName)

	if h.conn.DB != nil && h.conn.DB.Name() == dbName {
		h.conn.DB = nil
	}
	return h.respond(nil)
}

func (h *handler) sizeDatabase() error {
	h.setCommandInfo("Database size")
	if !h.isConnectionAlive() {
		return nil
	}
	size, err := h.conn.DB.Storage().Size()
	if err != nil {
		return err
	}
	return h.respond(func() error {
		return h.ch.WriteLong(size)
	})
}

func (h *handler) countDatabaseRecords() error {
	h.setCommandInfo("Database count records")
	if !h.isConnectionAlive() {
		return nil
	}
	count, err := h.conn.DB.Storage().CountRecords()
	if err != nil {
		return err
	}
	return h.respond(func() error {
		return h.ch.WriteLong(count)
	})
}

// copyDatabase authenticates against the source database and
// acknowledges; the transfer itself is left to the replication layer.
func (h *handler) copyDatabase() error {
	h.setCommandInfo("Copy the database to a remote server")

	dbName, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	dbUser, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	dbPassword, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	if _, err = h.ch.ReadString(); err != nil { // remote server name
		return err
	}
	if _, err = h.ch.ReadString(); err != nil { // remote server engine
		return err
	}

	if err := h.checkServerAccess("database.copy"); err != nil {
		return err
	}

	db, err := h.srv.registry.OpenDatabase(dbName, h.srv.cfg.DefaultStorageType, dbUser, dbPassword)
	if err != nil {
		return err
	}
	db.Close()

	return h.respond(nil)
}

func (h *handler) replicationDatabase() error {
	h.setCommandInfo("Replication command")

	request, err := h.ch.ReadBytes()
	if err != nil {
		return err
	}
	acc := record.NewDocumentAccessor(&request)
	operation, _ := acc.GetString("operation")

	return wire.NewClassedError(wire.ClassConfiguration,
		fmt.Errorf("no distributed manager configured for replication operation %q", operation))
}

func (h *handler) distributedCluster() error {
	h.setCommandInfo("Cluster status")

	request, err := h.ch.ReadBytes()
	if err != nil {
		return err
	}
	acc := record.NewDocumentAccessor(&request)
	operation, ok := acc.GetString("operation")
	if !ok {
		return errors.New("cluster operation is null")
	}
	if operation != "status" {
		return fmt.Errorf("cluster operation %q is not supported", operation)
	}

	// no cluster plugin: null response document
	return h.respond(func() error {
		return h.ch.WriteBytes(nil)
	})
}

func (h *handler) countClusters() error {
	h.setCommandInfo("Count cluster elements")
	if !h.isConnectionAlive() {
		return nil
	}

	n, err := h.ch.ReadShort()
	if err != nil {
		return err
	}
	ids := make([]int16, n)
	for i := range ids {
		if ids[i], err = h.ch.ReadShort(); err != nil {
			return err
		}
	}
	countTombstones := false
	if h.protocolVersion() >= wire.ProtocolVersion13 {
		if countTombstones, err = h.ch.ReadBool(); err != nil {
			return err
		}
	}

	count, err := h.conn.DB.CountClusterRecords(ids, countTombstones)
	if err != nil {
		return err
	}
	return h.respond(func() error {
		return h.ch.WriteLong(count)
	})
}

func (h *handler) rangeCluster() error {
	h.setCommandInfo("Get the begin/end range of data in cluster")
	if !h.isConnectionAlive() {
		return nil
	}

	id, err := h.ch.ReadShort()
	if err != nil {
		return err
	}
	min, max, err := h.conn.DB.Storage().ClusterDataRange(id)
	if err != nil {
		return err
	}
	return h.respond(func() error {
		if err := h.ch.WriteClusterPosition(min); err != nil {
			return err
		}
		return h.ch.WriteClusterPosition(max)
	})
}

func (h *handler) addCluster() error {
	h.setCommandInfo("Add cluster")
	if !h.isConnectionAlive() {
		return nil
	}

	version := h.protocolVersion()
	var err error

	clusterType := ""
	if version < wire.ProtocolVersion24 {
		if clusterType, err = h.ch.ReadString(); err != nil {
			return err
		}
	}
	name, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	if (version >= 10 && version < wire.ProtocolVersion24) || clusterType == "PHYSICAL" {
		if _, err = h.ch.ReadString(); err != nil { // location
			return err
		}
	}
	if version < wire.ProtocolVersion24 {
		if version >= 10 {
			if _, err = h.ch.ReadString(); err != nil { // data segment name
				return err
			}
		} else {
			if _, err = h.ch.ReadInt(); err != nil { // old init size
				return err
			}
		}
	}
	requestedID := int16(-1)
	if version >= wire.ProtocolVersion18 {
		if requestedID, err = h.ch.ReadShort(); err != nil {
			return err
		}
	}

	id, err := h.conn.DB.AddCluster(name, requestedID)
	if err != nil {
		return err
	}
	return h.respond(func() error {
		return h.ch.WriteShort(id)
	})
}

func (h *handler) removeCluster() error {
	h.setCommandInfo("Remove cluster")
	if !h.isConnectionAlive() {
		return nil
	}

	id, err := h.ch.ReadShort()
	if err != nil {
		return err
	}
	if h.conn.DB.ClusterNameByID(id) == "" {
		return fmt.Errorf("cluster %d does not exist anymore; refresh the db structure or just reconnect to the database", id)
	}

	dropped, err := h.conn.DB.DropCluster(id)
	if err != nil {
		return err
	}
	return h.respond(func() error {
		return h.ch.WriteBool(dropped)
	})
}

func (h *handler) readRecordMetadata() error {
	h.setCommandInfo("Record metadata")

	rid, err := h.ch.ReadRID()
	if err != nil {
		return err
	}
	meta, err := h.conn.DB.RecordMetadata(rid)
	if err != nil {
		return err
	}
	return h.respond(func() error {
		if err := h.ch.WriteRID(meta.RID); err != nil {
			return err
		}
		return h.ch.WriteVersion(meta.Version)
	})
}

func (h *handler) readRecord() error {
	h.setCommandInfo("Load record")
	if !h.isConnectionAlive() {
		return nil
	}

	rid, err := h.ch.ReadRID()
	if err != nil {
		return err
	}
	fetchPlan, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	ignoreCache := false
	if h.protocolVersion() >= wire.ProtocolVersion9 {
		if ignoreCache, err = h.ch.ReadBool(); err != nil {
			return err
		}
	}
	loadTombstones := false
	if h.protocolVersion() >= wire.ProtocolVersion13 {
		if loadTombstones, err = h.ch.ReadBool(); err != nil {
			return err
		}
	}

	if rid.ClusterID == 0 && rid.ClusterPosition == 0 {
		// the database configuration lived on record 0:0 once; old
		// clients still ask for it there
		if _, err := database.ParseFetchPlan(fetchPlan); err != nil {
			return err
		}
		cfg, err := h.databaseConfiguration()
		if err != nil {
			return err
		}
		return h.respond(func() error {
			if err := h.ch.WriteByte(1); err != nil {
				return err
			}
			if err := h.ch.WriteBytes(cfg); err != nil {
				return err
			}
			if err := h.ch.WriteVersion(record.TrackedVersion(0)); err != nil {
				return err
			}
			if err := h.ch.WriteByte(record.TypeBytes); err != nil {
				return err
			}
			return h.ch.WriteByte(0)
		})
	}

	rec, err := h.conn.DB.Load(rid, fetchPlan, ignoreCache, loadTombstones, database.LockDefault)
	if err != nil {
		return err
	}

	return h.respond(func() error {
		if rec != nil {
			if err := h.ch.WriteByte(1); err != nil {
				return err
			}
			if err := h.ch.WriteBytes(rec.Bytes()); err != nil {
				return err
			}
			if err := h.ch.WriteVersion(rec.Version()); err != nil {
				return err
			}
			if err := h.ch.WriteByte(rec.Type()); err != nil {
				return err
			}
			if fetchPlan != "" && rec.Type() == record.TypeDocument {
				if err := h.sendFetchedRecords(rec, fetchPlan); err != nil {
					return err
				}
			}
		}
		return h.ch.WriteByte(0)
	})
}

// sendFetchedRecords pushes the records linked from rec, per the fetch
// plan, as client-cache side records.
func (h *handler) sendFetchedRecords(rec *record.Record, fetchPlan string) error {
	plan, err := database.ParseFetchPlan(fetchPlan)
	if err != nil {
		return err
	}
	if plan.Depth("*") == 0 {
		return nil
	}
	for _, link := range record.ExtractLinks(rec.Bytes()) {
		linked, err := h.conn.DB.Load(link, "", false, false, database.LockDefault)
		if err != nil || linked == nil {
			continue
		}
		if err := h.ch.WriteByte(2); err != nil {
			return err
		}
		if err := h.writeIdentifiable(linked); err != nil {
			return err
		}
	}
	return nil
}

func (h *handler) databaseConfiguration() ([]byte, error) {
	jsonSer, err := serializer.Get(serializer.JSONName)
	if err != nil {
		return nil, err
	}
	return jsonSer.Marshal(map[string]interface{}{
		"name":       h.conn.DB.Name(),
		"serializer": h.conn.DB.Serializer().Name(),
	})
}

func (h *handler) createRecord() error {
	h.setCommandInfo("Create record")
	if !h.isConnectionAlive() {
		return nil
	}

	version := h.protocolVersion()
	var err error
	if version >= 10 && version < wire.ProtocolVersion24 {
		if _, err = h.ch.ReadInt(); err != nil { // data segment id
			return err
		}
	}
	clusterID, err := h.ch.ReadShort()
	if err != nil {
		return err
	}
	content, err := h.ch.ReadBytes()
	if err != nil {
		return err
	}
	recordType, err := h.ch.ReadByte()
	if err != nil {
		return err
	}
	mode, err := h.ch.ReadByte()
	if err != nil {
		return err
	}

	rec := record.NewRecord(recordType)
	rec.Fill(record.NewRecordRID(clusterID), record.TrackedVersion(0), content, true)
	if recordType == record.TypeDocument {
		rec.SetClassName(record.DocumentClass(content))
	}

	if _, err := h.conn.DB.Save(rec, "", database.ModeSynchronous, false, nil, nil); err != nil {
		return err
	}

	if mode >= wire.ModeNoResponse {
		return nil
	}
	return h.respond(func() error {
		if err := h.ch.WriteClusterPosition(rec.RID().ClusterPosition); err != nil {
			return err
		}
		if version >= wire.ProtocolVersion11 {
			if err := h.ch.WriteVersion(rec.Version()); err != nil {
				return err
			}
		}
		if version >= wire.ProtocolVersion20 {
			return h.sendCollectionChanges()
		}
		return nil
	})
}

func (h *handler) updateRecord() error {
	h.setCommandInfo("Update record")
	if !h.isConnectionAlive() {
		return nil
	}

	rid, err := h.ch.ReadRID()
	if err != nil {
		return err
	}
	updateContent := true
	if h.protocolVersion() >= wire.ProtocolVersion23 {
		if updateContent, err = h.ch.ReadBool(); err != nil {
			return err
		}
	}
	content, err := h.ch.ReadBytes()
	if err != nil {
		return err
	}
	version, err := h.ch.ReadVersion()
	if err != nil {
		return err
	}
	recordType, err := h.ch.ReadByte()
	if err != nil {
		return err
	}
	mode, err := h.ch.ReadByte()
	if err != nil {
		return err
	}

	rec := record.NewRecord(recordType)
	rec.Fill(rid, version, content, true)
	rec.SetContentChanged(updateContent)
	if recordType == record.TypeDocument {
		rec.SetClassName(record.DocumentClass(content))
	}

	if _, err := h.conn.DB.Save(rec, "", database.ModeSynchronous, false, nil, nil); err != nil {
		return err
	}

	if mode >= wire.ModeNoResponse {
		return nil
	}
	return h.respond(func() error {
		if err := h.ch.WriteVersion(rec.Version()); err != nil {
			return err
		}
		if h.protocolVersion() >= wire.ProtocolVersion20 {
			return h.sendCollectionChanges()
		}
		return nil
	})
}

func (h *handler) deleteRecord() error {
	h.setCommandInfo("Delete record")
	if !h.isConnectionAlive() {
		return nil
	}

	rid, err := h.ch.ReadRID()
	if err != nil {
		return err
	}
	version, err := h.ch.ReadVersion()
	if err != nil {
		return err
	}
	mode, err := h.ch.ReadByte()
	if err != nil {
		return err
	}

	result := byte(1)
	if err := h.conn.DB.Delete(rid, version, true, true, database.ModeSynchronous, false); err != nil {
		if !errors.Is(err, storage.ErrRecordNotFound) {
			return err
		}
		result = 0
	}

	if mode >= wire.ModeNoResponse {
		return nil
	}
	return h.respond(func() error {
		return h.ch.WriteByte(result)
	})
}

func (h *handler) hideRecord() error {
	h.setCommandInfo("Hide record")
	if !h.isConnectionAlive() {
		return nil
	}

	rid, err := h.ch.ReadRID()
	if err != nil {
		return err
	}
	mode, err := h.ch.ReadByte()
	if err != nil {
		return err
	}

	hidden, err := h.conn.DB.Hide(rid, database.ModeSynchronous)
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		return err
	}

	if mode >= wire.ModeNoResponse {
		return nil
	}
	return h.respond(func() error {
		return h.ch.WriteBool(hidden)
	})
}

func (h *handler) cleanOutRecord() error {
	h.setCommandInfo("Clean out record")
	if !h.isConnectionAlive() {
		return nil
	}

	rid, err := h.ch.ReadRID()
	if err != nil {
		return err
	}
	version, err := h.ch.ReadVersion()
	if err != nil {
		return err
	}
	mode, err := h.ch.ReadByte()
	if err != nil {
		return err
	}

	result := byte(1)
	if err := h.conn.DB.Delete(rid, version, true, true, database.ModeSynchronous, true); err != nil {
		if !errors.Is(err, storage.ErrRecordNotFound) {
			return err
		}
		result = 0
	}

	if mode >= wire.ModeNoResponse {
		return nil
	}
	return h.respond(func() error {
		return h.ch.WriteByte(result)
	})
}

type positionsFunc func(db *database.Database, clusterID int16, position int64) ([]storage.PhysicalPosition, error)

func (h *handler) positions(info string, fetch positionsFunc) error {
	h.setCommandInfo(info)

	clusterID, err := h.ch.ReadInt()
	if err != nil {
		return err
	}
	position, err := h.ch.ReadClusterPosition()
	if err != nil {
		return err
	}

	found, err := fetch(h.conn.DB, int16(clusterID), position)
	if err != nil {
		return err
	}
	return h.respond(func() error {
		if err := h.ch.WriteInt(int32(len(found))); err != nil {
			return err
		}
		for _, pos := range found {
			if err := h.ch.WriteClusterPosition(pos.Position); err != nil {
				return err
			}
			if err := h.ch.WriteInt(pos.Size); err != nil {
				return err
			}
			if err := h.ch.WriteVersion(pos.Version); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Server) positionsHigher(db *database.Database, clusterID int16, position int64) ([]storage.PhysicalPosition, error) {
	return db.Storage().HigherPositions(clusterID, position, positionsBatch)
}

func (s *Server) positionsCeiling(db *database.Database, clusterID int16, position int64) ([]storage.PhysicalPosition, error) {
	return db.Storage().CeilingPositions(clusterID, position, positionsBatch)
}

func (s *Server) positionsLower(db *database.Database, clusterID int16, position int64) ([]storage.PhysicalPosition, error) {
	return db.Storage().LowerPositions(clusterID, position, positionsBatch)
}

func (s *Server) positionsFloor(db *database.Database, clusterID int16, position int64) ([]storage.PhysicalPosition, error) {
	return db.Storage().FloorPositions(clusterID, position, positionsBatch)
}

func (h *handler) command() error {
	h.setCommandInfo("Execute remote command")
	if !h.isConnectionAlive() {
		return nil
	}

	modeByte, err := h.ch.ReadByte()
	if err != nil {
		return err
	}
	async := modeByte == 'a'

	payload, err := h.ch.ReadBytes()
	if err != nil {
		return err
	}
	acc := record.NewDocumentAccessor(&payload)
	text, _ := acc.GetString("text")
	fetchPlan, _ := acc.GetString("fetchPlan")
	timeoutMs, _ := acc.GetInt("timeoutMs")

	req := &database.CommandRequest{
		Text:      text,
		FetchPlan: fetchPlan,
		Timeout:   time.Duration(timeoutMs) * time.Millisecond,
		Async:     async,
	}
	// force the server's timeout on greedy clients
	if max := h.srv.cfg.MaxCommandTimeout; max > 0 && (req.Timeout == 0 || req.Timeout > max) {
		req.Timeout = max
	}

	h.setCommandDetail(text)

	result, err := h.conn.DB.Command(req)
	if err != nil {
		return err
	}

	return h.respond(func() error {
		if async {
			for _, rec := range result.Records {
				if err := h.ch.WriteByte(1); err != nil {
					return err
				}
				if err := h.writeIdentifiable(rec); err != nil {
					return err
				}
			}
			return h.ch.WriteByte(0)
		}

		switch result.Kind {
		case database.ResultNull:
			if err := h.ch.WriteByte(byte(database.ResultNull)); err != nil {
				return err
			}
		case database.ResultRecord:
			if err := h.ch.WriteByte(byte(database.ResultRecord)); err != nil {
				return err
			}
			var rec *record.Record
			if len(result.Records) > 0 {
				rec = result.Records[0]
			}
			if err := h.writeIdentifiable(rec); err != nil {
				return err
			}
		case database.ResultList:
			if err := h.ch.WriteByte(byte(database.ResultList)); err != nil {
				return err
			}
			if err := h.ch.WriteInt(int32(len(result.Records))); err != nil {
				return err
			}
			for _, rec := range result.Records {
				if err := h.writeIdentifiable(rec); err != nil {
					return err
				}
			}
		default:
			if err := h.ch.WriteByte(byte(database.ResultLiteral)); err != nil {
				return err
			}
			if err := h.ch.WriteString(result.Literal); err != nil {
				return err
			}
		}

		if h.protocolVersion() >= 17 {
			for _, rec := range result.FetchedRecords {
				// client cache record, not part of the result set
				if err := h.ch.WriteByte(2); err != nil {
					return err
				}
				if err := h.writeIdentifiable(rec); err != nil {
					return err
				}
			}
			return h.ch.WriteByte(0)
		}
		return nil
	})
}

func (h *handler) commit() error {
	h.setCommandInfo("Transaction commit")
	if !h.isConnectionAlive() {
		return nil
	}

	txID, err := h.ch.ReadInt()
	if err != nil {
		return err
	}
	if _, err = h.ch.ReadBool(); err != nil { // using log
		return err
	}

	tx, err := h.conn.DB.Begin(txID)
	if err != nil {
		return err
	}

	for {
		more, err := h.ch.ReadByte()
		if err != nil {
			return err
		}
		if more == 0 {
			break
		}
		if err := h.readTxEntry(tx); err != nil {
			return err
		}
	}
	if _, err = h.ch.ReadBytes(); err != nil { // index changes document
		return err
	}

	result, err := h.conn.DB.Commit()
	if err != nil {
		return err
	}

	return h.respond(func() error {
		if err := h.ch.WriteInt(int32(len(result.Created))); err != nil {
			return err
		}
		for _, pair := range result.Created {
			if err := h.ch.WriteRID(pair.ClientRID); err != nil {
				return err
			}
			if err := h.ch.WriteRID(pair.Record.RID()); err != nil {
				return err
			}
		}
		if err := h.ch.WriteInt(int32(len(result.Updated))); err != nil {
			return err
		}
		for _, pair := range result.Updated {
			if err := h.ch.WriteRID(pair.RID); err != nil {
				return err
			}
			if err := h.ch.WriteVersion(pair.Version); err != nil {
				return err
			}
		}
		if h.protocolVersion() >= wire.ProtocolVersion20 {
			if err := h.ch.WriteInt(int32(len(result.CollectionChanges))); err != nil {
				return err
			}
			for _, change := range result.CollectionChanges {
				uuidBytes := change.ID.Bytes()
				if err := h.ch.WriteLong(int64(beUint64(uuidBytes[:8]))); err != nil {
					return err
				}
				if err := h.ch.WriteLong(int64(beUint64(uuidBytes[8:]))); err != nil {
					return err
				}
				if err := writeCollectionPointer(h.ch, change.Pointer); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (h *handler) readTxEntry(tx *database.Transaction) error {
	opType, err := h.ch.ReadByte()
	if err != nil {
		return err
	}
	rid, err := h.ch.ReadRID()
	if err != nil {
		return err
	}
	recordType, err := h.ch.ReadByte()
	if err != nil {
		return err
	}

	switch opType {
	case txOpCreated:
		content, err := h.ch.ReadBytes()
		if err != nil {
			return err
		}
		rec := record.NewRecord(recordType)
		rec.Fill(rid, record.TrackedVersion(0), content, true)
		if recordType == record.TypeDocument {
			rec.SetClassName(record.DocumentClass(content))
		}
		tx.AddCreate(rec)

	case txOpUpdated:
		version, err := h.ch.ReadVersion()
		if err != nil {
			return err
		}
		if h.protocolVersion() >= wire.ProtocolVersion23 {
			if _, err = h.ch.ReadBool(); err != nil { // update content
				return err
			}
		}
		content, err := h.ch.ReadBytes()
		if err != nil {
			return err
		}
		rec := record.NewRecord(recordType)
		rec.Fill(rid, version, content, true)
		if recordType == record.TypeDocument {
			rec.SetClassName(record.DocumentClass(content))
		}
		tx.AddUpdate(rec)

	case txOpDeleted:
		version, err := h.ch.ReadVersion()
		if err != nil {
			return err
		}
		tx.AddDelete(rid, version)

	default:
		return fmt.Errorf("unknown transaction entry type %d", opType)
	}
	return nil
}

func (h *handler) configGet() error {
	h.setCommandInfo("Get config")

	if err := h.checkServerAccess("server.config.get"); err != nil {
		return err
	}
	key, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	value, _ := h.srv.configs.Load(key)
	return h.respond(func() error {
		return h.ch.WriteString(value)
	})
}

func (h *handler) configSet() error {
	h.setCommandInfo("Set config")

	if err := h.checkServerAccess("server.config.set"); err != nil {
		return err
	}
	key, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	value, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	if _, known := h.srv.configs.Load(key); known {
		h.srv.configs.Store(key, value)
	}
	return h.respond(nil)
}

func (h *handler) configList() error {
	h.setCommandInfo("List config")

	if err := h.checkServerAccess("server.config.get"); err != nil {
		return err
	}

	type kv struct{ key, value string }
	var all []kv
	h.srv.configs.Range(func(key, value string) bool {
		all = append(all, kv{key, value})
		return true
	})

	return h.respond(func() error {
		if err := h.ch.WriteShort(int16(len(all))); err != nil {
			return err
		}
		for _, entry := range all {
			if err := h.ch.WriteString(entry.key); err != nil {
				return err
			}
			if err := h.ch.WriteString(entry.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *handler) freezeDatabase() error {
	h.setCommandInfo("Freeze database")
	return h.databaseFreezeOp("database.freeze", func(name, storageType string) error {
		logrus.Infof("server: freezing database %q", name)
		return h.srv.registry.FreezeDatabase(name, storageType)
	})
}

func (h *handler) releaseDatabase() error {
	h.setCommandInfo("Release database")
	return h.databaseFreezeOp("database.release", func(name, storageType string) error {
		logrus.Infof("server: releasing database %q", name)
		return h.srv.registry.ReleaseDatabase(name, storageType)
	})
}

func (h *handler) databaseFreezeOp(resource string, op func(name, storageType string) error) error {
	dbName, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	if err := h.checkServerAccess(resource); err != nil {
		return err
	}
	storageType := h.srv.cfg.DefaultStorageType
	if h.protocolVersion() >= wire.ProtocolVersion16 {
		if storageType, err = h.ch.ReadString(); err != nil {
			return err
		}
	}
	if err := op(dbName, storageType); err != nil {
		return err
	}
	return h.respond(nil)
}

func (h *handler) freezeCluster() error {
	h.setCommandInfo("Freeze cluster")
	return h.clusterFreezeOp("database.freeze", func(name, storageType string, clusterID int16) error {
		logrus.Infof("server: freezing database %q cluster %d", name, clusterID)
		return h.srv.registry.FreezeCluster(name, storageType, clusterID)
	})
}

func (h *handler) releaseCluster() error {
	h.setCommandInfo("Release cluster")
	return h.clusterFreezeOp("database.release", func(name, storageType string, clusterID int16) error {
		logrus.Infof("server: releasing database %q cluster %d", name, clusterID)
		return h.srv.registry.ReleaseCluster(name, storageType, clusterID)
	})
}

func (h *handler) clusterFreezeOp(resource string, op func(name, storageType string, clusterID int16) error) error {
	dbName, err := h.ch.ReadString()
	if err != nil {
		return err
	}
	clusterID, err := h.ch.ReadShort()
	if err != nil {
		return err
	}
	if err := h.checkServerAccess(resource); err != nil {
		return err
	}
	storageType := h.srv.cfg.DefaultStorageType
	if h.protocolVersion() >= wire.ProtocolVersion16 {
		if storageType, err = h.ch.ReadString(); err != nil {
			return err
		}
	}
	if err := op(dbName, storageType, clusterID); err != nil {
		return err
	}
	return h.respond(nil)
}

func (h *handler) createSBTree() error {
	h.setCommandInfo("Create SB-Tree bonsai instance")
	if !h.isConnectionAlive() {
		return nil
	}

	clusterID, err := h.ch.ReadInt()
	if err != nil {
		return err
	}
	ptr, err := h.conn.DB.CollectionManager().CreateCollection(clusterID)
	if err != nil {
		return err
	}
	return h.respond(func() error {
		return writeCollectionPointer(h.ch, ptr)
	})
}

func (h *handler) sbtreeGet() error {
	h.setCommandInfo("SB-Tree bonsai get")
	if !h.isConnectionAlive() {
		return nil
	}

	ptr, err := readCollectionPointer(h.ch)
	if err != nil {
		return err
	}
	keyStream, err := h.ch.ReadBytes()
	if err != nil {
		return err
	}

	manager := h.conn.DB.CollectionManager()
	tree, err := manager.LoadCollection(ptr)
	if err != nil {
		return err
	}
	defer manager.ReleaseCollection(ptr)

	key, err := decodeTreeKey(keyStream)
	if err != nil {
		return err
	}

	var stream []byte
	if value, ok := tree.Get(key); ok {
		stream = make([]byte, 5)
		stream[0] = intSerializerID
		stream[1] = byte(value >> 24)
		stream[2] = byte(value >> 16)
		stream[3] = byte(value >> 8)
		stream[4] = byte(value)
	} else {
		stream = []byte{nullSerializerID}
	}
	return h.respond(func() error {
		return h.ch.WriteBytes(stream)
	})
}

func (h *handler) sbtreeFirstKey() error {
	h.setCommandInfo("SB-Tree bonsai get first key")
	if !h.isConnectionAlive() {
		return nil
	}

	ptr, err := readCollectionPointer(h.ch)
	if err != nil {
		return err
	}
	manager := h.conn.DB.CollectionManager()
	tree, err := manager.LoadCollection(ptr)
	if err != nil {
		return err
	}
	defer manager.ReleaseCollection(ptr)

	var stream []byte
	if first, ok := tree.FirstKey(); ok {
		stream = append([]byte{linkSerializerID}, encodeTreeKey(first)...)
	} else {
		stream = []byte{nullSerializerID}
	}
	return h.respond(func() error {
		return h.ch.WriteBytes(stream)
	})
}

func (h *handler) sbtreeEntriesMajor() error {
	h.setCommandInfo("SB-Tree bonsai get values major")
	if !h.isConnectionAlive() {
		return nil
	}

	ptr, err := readCollectionPointer(h.ch)
	if err != nil {
		return err
	}
	keyStream, err := h.ch.ReadBytes()
	if err != nil {
		return err
	}
	inclusive, err := h.ch.ReadBool()
	if err != nil {
		return err
	}
	pageSize := int32(128)
	if h.protocolVersion() >= wire.ProtocolVersion21 {
		if pageSize, err = h.ch.ReadInt(); err != nil {
			return err
		}
	}

	manager := h.conn.DB.CollectionManager()
	tree, err := manager.LoadCollection(ptr)
	if err != nil {
		return err
	}
	defer manager.ReleaseCollection(ptr)

	key, err := decodeTreeKey(keyStream)
	if err != nil {
		return err
	}
	entries := tree.EntriesMajor(key, inclusive, int(pageSize))

	return h.respond(func() error {
		return h.ch.WriteBytes(encodeTreeEntries(entries))
	})
}

func (h *handler) ridBagSize() error {
	h.setCommandInfo("RidBag get size")
	if !h.isConnectionAlive() {
		return nil
	}

	ptr, err := readCollectionPointer(h.ch)
	if err != nil {
		return err
	}
	changeStream, err := h.ch.ReadBytes()
	if err != nil {
		return err
	}

	manager := h.conn.DB.CollectionManager()
	tree, err := manager.LoadCollection(ptr)
	if err != nil {
		return err
	}
	defer manager.ReleaseCollection(ptr)

	changes, err := decodeBagChanges(changeStream)
	if err != nil {
		return err
	}
	size := tree.RealSize(changes)

	return h.respond(func() error {
		return h.ch.WriteInt(int32(size))
	})
}
