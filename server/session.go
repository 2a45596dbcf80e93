package server

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/keeldb/keel/database"
	"github.com/keeldb/keel/serializer"
)

// ConnectionData is the per-session book-keeping: negotiated protocol,
// client identity and command statistics.
type ConnectionData struct {
	DriverName      string
	DriverVersion   string
	ProtocolVersion int16
	ClientID        string
	SerializerName  string

	TotalRequests             int64
	CommandInfo               string
	CommandDetail             string
	LastCommandInfo           string
	LastCommandDetail         string
	LastCommandReceived       time.Time
	LastCommandExecutionTime  time.Duration
	TotalCommandExecutionTime time.Duration
}

// A Connection is one client session: the socket-side state plus the
// bound database handle.
type Connection struct {
	ID   int32
	Data ConnectionData

	DB         *database.Database
	ServerUser *database.User
}

// Serializer resolves the session serializer, falling back to the
// default.
func (c *Connection) Serializer() serializer.Serializer {
	if c.Data.SerializerName != "" {
		if s, err := serializer.Get(c.Data.SerializerName); err == nil {
			return s
		}
	}
	return serializer.Default()
}

// A ConnectionManager tracks the live sessions of a server.
type ConnectionManager struct {
	nextID      atomic.Int32
	connections *xsync.MapOf[int32, *Connection]
}

// NewConnectionManager returns an empty session registry.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: xsync.NewMapOf[int32, *Connection](),
	}
}

// Connect registers a fresh session.
func (m *ConnectionManager) Connect() *Connection {
	conn := &Connection{ID: m.nextID.Add(1)}
	m.connections.Store(conn.ID, conn)
	return conn
}

// Get returns the session with the given id, nil when unknown.
func (m *ConnectionManager) Get(id int32) *Connection {
	conn, ok := m.connections.Load(id)
	if !ok {
		return nil
	}
	return conn
}

// Disconnect closes and removes a session, reporting whether it
// existed.
func (m *ConnectionManager) Disconnect(id int32) bool {
	conn, ok := m.connections.LoadAndDelete(id)
	if !ok {
		return false
	}
	if conn.DB != nil {
		conn.DB.Close()
		conn.DB = nil
	}
	return true
}

// Kill forcefully drops a session.
func (m *ConnectionManager) Kill(conn *Connection) {
	if conn == nil {
		return
	}
	m.Disconnect(conn.ID)
}

// Count returns the number of live sessions.
func (m *ConnectionManager) Count() int {
	return m.connections.Size()
}
