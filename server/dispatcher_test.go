package server

import (
	"errors"
	"testing"
	"time"

	"github.com/keeldb/keel/client"
	"github.com/keeldb/keel/record"
	"github.com/keeldb/keel/serializer"
	_ "github.com/keeldb/keel/storage/hashmap"
	"github.com/keeldb/keel/wire"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	srv := New(Config{
		Addr:               "127.0.0.1:0",
		DefaultStorageType: "memory",
		MaxCommandTimeout:  5 * time.Second,
		ShutdownUser:       "root",
		ShutdownPassword:   "secret",
		ServerUsers:        map[string]string{"root": "secret"},
	})
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	db, err := srv.Registry().CreateDatabase("demo", "memory")
	if err != nil {
		t.Fatal(err)
	}
	db.Close()
	return srv
}

func dialServer(t *testing.T, srv *Server) *client.Channel {
	t.Helper()
	ch, err := client.Dial(srv.Addr().String(), client.Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func writeConnectionData(t *testing.T, ch *client.Channel) {
	t.Helper()
	for _, s := range []string{"keel-test", "1.0"} {
		if err := ch.WriteString(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := ch.WriteShort(wire.CurrentProtocolVersion); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteString(""); err != nil { // client id
		t.Fatal(err)
	}
	if err := ch.WriteString(serializer.MsgPackName); err != nil {
		t.Fatal(err)
	}
}

// openDemo opens the demo database and returns the cluster ids by
// name.
func openDemo(t *testing.T, ch *client.Channel) map[string]int16 {
	t.Helper()
	if err := ch.BeginRequest(wire.RequestDBOpen); err != nil {
		t.Fatal(err)
	}
	writeConnectionData(t, ch)
	for _, s := range []string{"demo", "document", "admin", "admin"} {
		if err := ch.WriteString(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}

	if err := ch.BeginResponse(); err != nil {
		t.Fatal(err)
	}
	sessionID, err := ch.ReadInt()
	if err != nil {
		t.Fatal(err)
	}
	ch.SetSessionID(sessionID)

	count, err := ch.ReadShort()
	if err != nil {
		t.Fatal(err)
	}
	clusters := make(map[string]int16, count)
	for i := int16(0); i < count; i++ {
		name, err := ch.ReadString()
		if err != nil {
			t.Fatal(err)
		}
		id, err := ch.ReadShort()
		if err != nil {
			t.Fatal(err)
		}
		clusters[name] = id
	}
	if _, err := ch.ReadBytes(); err != nil { // distributed config
		t.Fatal(err)
	}
	if _, err := ch.ReadString(); err != nil { // server version
		t.Fatal(err)
	}
	return clusters
}

func createRecord(t *testing.T, ch *client.Channel, clusterID int16, content []byte) (record.RID, record.Version) {
	t.Helper()
	if err := ch.BeginRequest(wire.RequestRecordCreate); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteShort(clusterID); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteBytes(content); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteByte(record.TypeDocument); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteByte(wire.ModeSynchronous); err != nil {
		t.Fatal(err)
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}

	if err := ch.BeginResponse(); err != nil {
		t.Fatal(err)
	}
	position, err := ch.ReadClusterPosition()
	if err != nil {
		t.Fatal(err)
	}
	version, err := ch.ReadVersion()
	if err != nil {
		t.Fatal(err)
	}
	changes, err := ch.ReadInt()
	if err != nil {
		t.Fatal(err)
	}
	if changes != 0 {
		t.Fatalf("unexpected collection changes: %d", changes)
	}
	return record.NewRID(clusterID, position), version
}

func loadRecord(t *testing.T, ch *client.Channel, rid record.RID) ([]byte, record.Version, bool) {
	t.Helper()
	if err := ch.BeginRequest(wire.RequestRecordLoad); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteRID(rid); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteString(""); err != nil { // fetch plan
		t.Fatal(err)
	}
	if err := ch.WriteBool(false); err != nil { // ignore cache
		t.Fatal(err)
	}
	if err := ch.WriteBool(false); err != nil { // load tombstones
		t.Fatal(err)
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}

	if err := ch.BeginResponse(); err != nil {
		t.Fatal(err)
	}
	marker, err := ch.ReadByte()
	if err != nil {
		t.Fatal(err)
	}
	if marker == 0 {
		return nil, record.Version{}, false
	}
	content, err := ch.ReadBytes()
	if err != nil {
		t.Fatal(err)
	}
	version, err := ch.ReadVersion()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ch.ReadByte(); err != nil { // record type
		t.Fatal(err)
	}
	for {
		next, err := ch.ReadByte()
		if err != nil {
			t.Fatal(err)
		}
		if next == 0 {
			break
		}
		t.Fatalf("unexpected side record marker %d", next)
	}
	return content, version, true
}

func updateRecord(t *testing.T, ch *client.Channel, rid record.RID, content []byte, version record.Version) (record.Version, error) {
	t.Helper()
	if err := ch.BeginRequest(wire.RequestRecordUpdate); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteRID(rid); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteBool(true); err != nil { // update content
		t.Fatal(err)
	}
	if err := ch.WriteBytes(content); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteVersion(version); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteByte(record.TypeDocument); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteByte(wire.ModeSynchronous); err != nil {
		t.Fatal(err)
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}

	if err := ch.BeginResponse(); err != nil {
		return record.Version{}, err
	}
	newVersion, err := ch.ReadVersion()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ch.ReadInt(); err != nil { // collection changes
		t.Fatal(err)
	}
	return newVersion, nil
}

func TestOpenCreateLoad(t *testing.T) {
	srv := startServer(t)
	ch := dialServer(t, srv)

	clusters := openDemo(t, ch)
	if ch.SessionID() < 0 {
		t.Fatalf("session id = %d", ch.SessionID())
	}
	clusterID, ok := clusters["default"]
	if !ok {
		t.Fatalf("no default cluster in %v", clusters)
	}

	content := []byte(`{"k":1}`)
	rid, version := createRecord(t, ch, clusterID, content)
	if !rid.IsPersistent() {
		t.Fatalf("assigned rid = %s", rid)
	}
	if version.Counter != 0 {
		t.Errorf("created version = %s", version)
	}

	loaded, loadedVersion, found := loadRecord(t, ch, rid)
	if !found {
		t.Fatal("record not found after create")
	}
	if string(loaded) != string(content) {
		t.Errorf("content = %s", loaded)
	}
	if loadedVersion != version {
		t.Errorf("version = %s, want %s", loadedVersion, version)
	}
}

func TestMVCCConflictOverWire(t *testing.T) {
	srv := startServer(t)
	ch := dialServer(t, srv)
	clusters := openDemo(t, ch)

	rid, v0 := createRecord(t, ch, clusters["default"], []byte(`{"v":0}`))

	v1, err := updateRecord(t, ch, rid, []byte(`{"v":1}`), v0)
	if err != nil {
		t.Fatal(err)
	}
	if v1.Counter != 1 {
		t.Errorf("first update version = %s", v1)
	}

	// second writer still carries v0
	_, err = updateRecord(t, ch, rid, []byte(`{"v":"stale"}`), v0)
	var remote *wire.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if remote.Chain[0].Class != wire.ClassConcurrentModification {
		t.Errorf("error class = %q", remote.Chain[0].Class)
	}

	// the connection survives the error and no cache reflects the
	// loser's bytes
	loaded, _, found := loadRecord(t, ch, rid)
	if !found || string(loaded) != `{"v":1}` {
		t.Errorf("loaded after conflict: %s, %v", loaded, found)
	}
}

func TestUnknownOpcodePreservesSession(t *testing.T) {
	srv := startServer(t)
	ch := dialServer(t, srv)
	clusters := openDemo(t, ch)

	if err := ch.BeginRequest(200); err != nil {
		t.Fatal(err)
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}

	err := ch.BeginResponse()
	var remote *wire.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if remote.Chain[0].Class != "Command not supported" {
		t.Errorf("error class = %q", remote.Chain[0].Class)
	}

	// the session is preserved
	rid, _ := createRecord(t, ch, clusters["default"], []byte(`{"k":1}`))
	if _, _, found := loadRecord(t, ch, rid); !found {
		t.Error("session unusable after unknown opcode")
	}
}

func TestUnknownSessionKillsConnection(t *testing.T) {
	srv := startServer(t)
	ch := dialServer(t, srv)
	ch.SetSessionID(9999)

	if err := ch.BeginRequest(wire.RequestRecordLoad); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteRID(record.NewRID(1, 0)); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteString(""); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteBool(false); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteBool(false); err != nil {
		t.Fatal(err)
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}

	// the error frame carries no exception blob for a session-less
	// connection, so read the envelope by hand
	status, err := ch.ReadByte()
	if err != nil {
		t.Fatal(err)
	}
	if status != wire.ResponseStatusError {
		t.Fatalf("status = %d", status)
	}
	if _, err := ch.ReadInt(); err != nil {
		t.Fatal(err)
	}
	remote, err := ch.ReadErrorChain()
	if err != nil {
		t.Fatal(err)
	}
	if remote.Chain[0].Class != wire.ClassIO {
		t.Errorf("error class = %q", remote.Chain[0].Class)
	}

	// the server dropped the connection
	if _, err := ch.ReadByte(); err == nil {
		t.Error("connection still alive after unknown session")
	}
}

func TestTxCommitOverWire(t *testing.T) {
	srv := startServer(t)
	ch := dialServer(t, srv)
	clusters := openDemo(t, ch)
	clusterID := clusters["default"]

	clientRID := record.NewRID(clusterID, -2)

	if err := ch.BeginRequest(wire.RequestTxCommit); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteInt(11); err != nil { // tx id
		t.Fatal(err)
	}
	if err := ch.WriteBool(true); err != nil { // using log
		t.Fatal(err)
	}

	// created entry
	if err := ch.WriteByte(1); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteByte(txOpCreated); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteRID(clientRID); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteByte(record.TypeDocument); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteBytes([]byte(`{"k":1}`)); err != nil {
		t.Fatal(err)
	}

	// update of the same temporary rid inside the same tx
	if err := ch.WriteByte(1); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteByte(txOpUpdated); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteRID(clientRID); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteByte(record.TypeDocument); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteVersion(record.TrackedVersion(0)); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteBool(true); err != nil { // update content
		t.Fatal(err)
	}
	if err := ch.WriteBytes([]byte(`{"k":2}`)); err != nil {
		t.Fatal(err)
	}

	if err := ch.WriteByte(0); err != nil { // no more entries
		t.Fatal(err)
	}
	if err := ch.WriteBytes(nil); err != nil { // index changes
		t.Fatal(err)
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}

	if err := ch.BeginResponse(); err != nil {
		t.Fatal(err)
	}
	createdCount, err := ch.ReadInt()
	if err != nil {
		t.Fatal(err)
	}
	if createdCount != 1 {
		t.Fatalf("created count = %d", createdCount)
	}
	gotClient, err := ch.ReadRID()
	if err != nil {
		t.Fatal(err)
	}
	serverRID, err := ch.ReadRID()
	if err != nil {
		t.Fatal(err)
	}
	if gotClient != clientRID {
		t.Errorf("client rid = %s", gotClient)
	}
	if !serverRID.IsPersistent() {
		t.Errorf("server rid = %s", serverRID)
	}

	updatedCount, err := ch.ReadInt()
	if err != nil {
		t.Fatal(err)
	}
	if updatedCount != 1 {
		t.Fatalf("updated count = %d", updatedCount)
	}
	updatedRID, err := ch.ReadRID()
	if err != nil {
		t.Fatal(err)
	}
	updatedVersion, err := ch.ReadVersion()
	if err != nil {
		t.Fatal(err)
	}
	if updatedRID != serverRID {
		t.Errorf("updated rid %s != created server rid %s", updatedRID, serverRID)
	}
	if updatedVersion.Counter != 1 {
		t.Errorf("updated version = %s", updatedVersion)
	}

	if _, err := ch.ReadInt(); err != nil { // collection changes
		t.Fatal(err)
	}

	loaded, loadedVersion, found := loadRecord(t, ch, serverRID)
	if !found || string(loaded) != `{"k":2}` {
		t.Errorf("committed record: %s, %v", loaded, found)
	}
	if loadedVersion != updatedVersion {
		t.Errorf("committed version %s != reported %s", loadedVersion, updatedVersion)
	}
}

func TestConnectAndConfig(t *testing.T) {
	srv := startServer(t)
	ch := dialServer(t, srv)

	if err := ch.BeginRequest(wire.RequestConnect); err != nil {
		t.Fatal(err)
	}
	writeConnectionData(t, ch)
	for _, s := range []string{"root", "secret"} {
		if err := ch.WriteString(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}
	if err := ch.BeginResponse(); err != nil {
		t.Fatal(err)
	}
	sessionID, err := ch.ReadInt()
	if err != nil {
		t.Fatal(err)
	}
	ch.SetSessionID(sessionID)

	// set a known config key
	if err := ch.BeginRequest(wire.RequestConfigSet); err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"db.mvcc", "false"} {
		if err := ch.WriteString(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}
	if err := ch.BeginResponse(); err != nil {
		t.Fatal(err)
	}

	// read it back
	if err := ch.BeginRequest(wire.RequestConfigGet); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteString("db.mvcc"); err != nil {
		t.Fatal(err)
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}
	if err := ch.BeginResponse(); err != nil {
		t.Fatal(err)
	}
	value, err := ch.ReadString()
	if err != nil {
		t.Fatal(err)
	}
	if value != "false" {
		t.Errorf("config value = %q", value)
	}

	// database existence check through the server session
	if err := ch.BeginRequest(wire.RequestDBExist); err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"demo", "memory"} {
		if err := ch.WriteString(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}
	if err := ch.BeginResponse(); err != nil {
		t.Fatal(err)
	}
	exists, err := ch.ReadBool()
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("demo database reported missing")
	}
}

func TestConnectBadCredentials(t *testing.T) {
	srv := startServer(t)
	ch := dialServer(t, srv)

	if err := ch.BeginRequest(wire.RequestConnect); err != nil {
		t.Fatal(err)
	}
	writeConnectionData(t, ch)
	for _, s := range []string{"root", "wrong"} {
		if err := ch.WriteString(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}

	err := ch.BeginResponse()
	var remote *wire.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if remote.Chain[0].Class != wire.ClassSecurityAccess {
		t.Errorf("error class = %q", remote.Chain[0].Class)
	}
}

func TestClusterRoundTrips(t *testing.T) {
	srv := startServer(t)
	ch := dialServer(t, srv)
	clusters := openDemo(t, ch)

	// add a cluster with a requested id
	if err := ch.BeginRequest(wire.RequestClusterAdd); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteString("edges"); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteShort(30); err != nil { // requested id
		t.Fatal(err)
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}
	if err := ch.BeginResponse(); err != nil {
		t.Fatal(err)
	}
	id, err := ch.ReadShort()
	if err != nil {
		t.Fatal(err)
	}
	if id != 30 {
		t.Errorf("assigned cluster id = %d", id)
	}

	// count records over the default cluster
	if err := ch.BeginRequest(wire.RequestClusterCount); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteShort(1); err != nil { // one cluster id follows
		t.Fatal(err)
	}
	if err := ch.WriteShort(clusters["default"]); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteBool(false); err != nil { // count tombstones
		t.Fatal(err)
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}
	if err := ch.BeginResponse(); err != nil {
		t.Fatal(err)
	}
	count, err := ch.ReadLong()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("record count = %d", count)
	}

	// drop it again
	if err := ch.BeginRequest(wire.RequestClusterDrop); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteShort(30); err != nil {
		t.Fatal(err)
	}
	if err := ch.EndRequest(); err != nil {
		t.Fatal(err)
	}
	if err := ch.BeginResponse(); err != nil {
		t.Fatal(err)
	}
	dropped, err := ch.ReadBool()
	if err != nil {
		t.Fatal(err)
	}
	if !dropped {
		t.Error("cluster not dropped")
	}
}
